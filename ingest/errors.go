package ingest

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedRecord is returned when a required field is missing or has the wrong type
	ErrMalformedRecord = errors.New("malformed record")
	// ErrUnsupportedInput is returned when the input is neither a post nor a comment
	ErrUnsupportedInput = errors.New("unsupported input")
)

// RecordError describes why a record was rejected. Field is a dotted path
// such as "comments[0].replies[2].body"; it is empty for whole-record errors.
type RecordError struct {
	Kind   error
	Field  string
	Reason string
}

func (e *RecordError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("%s: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("%s: field %q %s", e.Kind, e.Field, e.Reason)
}

func (e *RecordError) Unwrap() error {
	return e.Kind
}

func malformed(field, reason string, args ...any) error {
	return &RecordError{Kind: ErrMalformedRecord, Field: field, Reason: fmt.Sprintf(reason, args...)}
}

func unsupported(reason string, args ...any) error {
	return &RecordError{Kind: ErrUnsupportedInput, Reason: fmt.Sprintf(reason, args...)}
}
