package render

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/brettboylen/thread2text/models"
)

const permalinkBase = "https://reddit.com/comments/"

// ErrInvalidOptions is returned when a record cannot be rendered with the given options
var ErrInvalidOptions = errors.New("invalid render options")

// Metadata builds the bracketed metadata line of a post or comment:
//
//	[ score | author | date | N comments | id ]   (post)
//	[ score | author | date | id ]                (comment)
func Metadata(rec models.Record, opts models.Options, now time.Time) string {
	switch r := rec.(type) {
	case *models.Post:
		date := formatDate(r.CreatedUTC, opts, now)
		id := r.ID
		if opts.AddURLs {
			id = permalinkBase + r.ID
		}
		return fmt.Sprintf("[ %d | %s | %s | %d comments | %s ]", r.Score, r.Author, date, r.NumComments, id)
	case *models.Comment:
		date := formatDate(r.CreatedUTC, opts, now)
		id := r.ID
		if opts.AddURLs {
			id = permalinkBase + r.Submission + "//" + r.ID
		}
		return fmt.Sprintf("[ %d | %s | %s | %s ]", r.Score, r.Author, date, id)
	}
	return ""
}

func formatDate(created int64, opts models.Options, now time.Time) string {
	if opts.AddTimestamps {
		return strconv.FormatInt(created, 10)
	}
	return FormatAge(float64(created), unixSeconds(now))
}

// Body returns the text body of a post or comment. Link posts have no
// selftext, so their URL is used instead.
func Body(rec models.Record, parsable bool) string {
	var body string
	switch r := rec.(type) {
	case *models.Post:
		if r.SelfText != "" {
			body = strings.TrimSpace(r.SelfText)
		} else {
			body = r.URL
		}
	case *models.Comment:
		body = strings.TrimSpace(r.Body)
	}
	if parsable {
		body = Escape(body)
	}
	return body
}

// Render converts a post (with its comment tree) or a standalone comment
// into indented text. now is the reference time for ages.
func Render(rec models.Record, opts models.Options, now time.Time) (string, error) {
	if opts.IndentWidth < 0 {
		return "", fmt.Errorf("%w: indent width %d is negative", ErrInvalidOptions, opts.IndentWidth)
	}
	if opts.IndentWidth > models.MaxIndentWidth {
		return "", fmt.Errorf("%w: indent width %d is above %d", ErrInvalidOptions, opts.IndentWidth, models.MaxIndentWidth)
	}

	switch r := rec.(type) {
	case *models.Post:
		if r == nil {
			break
		}
		return RenderPost(r, opts, now), nil
	case *models.Comment:
		if r == nil {
			break
		}
		var out strings.Builder
		writeComments(&out, []models.Comment{*r}, opts, now)
		return out.String(), nil
	}
	return "", fmt.Errorf("%w: nothing to render", ErrInvalidOptions)
}

// RenderPost renders a post block followed by its comment tree
func RenderPost(post *models.Post, opts models.Options, now time.Time) string {
	var out strings.Builder

	title := post.Title
	if opts.Parsable {
		title = Escape(title)
	}

	out.WriteString(Metadata(post, opts, now))
	out.WriteString("\n\n")
	out.WriteString(title)
	out.WriteString("\n")
	out.WriteString(Body(post, opts.Parsable))
	out.WriteString("\n" + Separator + "\n\n")

	writeComments(&out, post.Comments, opts, now)
	return out.String()
}

type stackEntry struct {
	comment *models.Comment
	depth   int
}

// writeComments walks the reply tree depth first (pre-order, siblings in
// input order) with an explicit stack, so deep trees cannot exhaust the
// call stack.
func writeComments(out *strings.Builder, comments []models.Comment, opts models.Options, now time.Time) {
	stack := make([]stackEntry, 0, len(comments))
	stack = pushReversed(stack, comments, 0)

	for len(stack) > 0 {
		entry := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		out.WriteString(commentBlock(entry.comment, entry.depth, opts, now))

		stack = pushReversed(stack, entry.comment.Replies, entry.depth+1)
	}
}

func pushReversed(stack []stackEntry, comments []models.Comment, depth int) []stackEntry {
	for i := len(comments) - 1; i >= 0; i-- {
		stack = append(stack, stackEntry{comment: &comments[i], depth: depth})
	}
	return stack
}

// commentBlock pads every line of the block, including each line of a
// multi-line body, so nested replies stay readable as a flat file.
func commentBlock(c *models.Comment, depth int, opts models.Options, now time.Time) string {
	padding := strings.Repeat(" ", opts.IndentWidth*depth)

	block := padding + Metadata(c, opts, now) + "\n\n" + Body(c, opts.Parsable) + "\n" + Separator
	if padding != "" {
		block = strings.ReplaceAll(block, "\n", "\n"+padding)
	}
	return block + "\n\n"
}
