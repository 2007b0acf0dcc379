package models

import (
	"time"
)

// Record is either a *Post or a *Comment
type Record interface {
	RecordID() string
}

// Post represents a Reddit submission with its comment tree
type Post struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Author      string    `json:"author"`
	URL         string    `json:"url"`
	SelfText    string    `json:"selftext"`
	Score       int       `json:"score"`
	NumComments int       `json:"num_comments"`
	CreatedUTC  int64     `json:"created_utc"`
	Comments    []Comment `json:"comments"`
}

// Comment represents a Reddit comment and its replies
type Comment struct {
	ID         string    `json:"id"`
	Author     string    `json:"author"`
	Body       string    `json:"body"`
	Score      int       `json:"score"`
	CreatedUTC int64     `json:"created_utc"`
	Submission string    `json:"submission"`
	Replies    []Comment `json:"replies"`
}

func (p *Post) RecordID() string { return p.ID }

func (c *Comment) RecordID() string { return c.ID }

// Options controls how a record is rendered to text
type Options struct {
	IndentWidth   int  `json:"indent_width"`
	AddURLs       bool `json:"add_urls"`
	AddTimestamps bool `json:"add_timestamps"`
	Parsable      bool `json:"parsable"`
}

// MaxIndentWidth is the widest indent per depth level a record can be rendered with
const MaxIndentWidth = 64

// DefaultOptions returns the default render options
func DefaultOptions() Options {
	return Options{
		IndentWidth:   6,
		AddURLs:       true,
		AddTimestamps: false,
		Parsable:      false,
	}
}

// conversion statuses
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Conversion is one converted (or failed) input file
type Conversion struct {
	SourcePath   string    `json:"source_path"`
	RecordID     string    `json:"record_id"`
	Kind         string    `json:"kind"`
	Title        string    `json:"title"`
	Author       string    `json:"author"`
	CommentCount int       `json:"comment_count"`
	OutputPath   string    `json:"output_path"`
	Status       string    `json:"status"`
	Error        string    `json:"error,omitempty"`
	ConvertedAt  time.Time `json:"converted_at"`
}

// Summary holds ledger totals
type Summary struct {
	TotalConversions int            `json:"total_conversions"`
	Succeeded        int            `json:"succeeded"`
	Failed           int            `json:"failed"`
	TopAuthors       map[string]int `json:"top_authors"`
	LastConverted    time.Time      `json:"last_converted"`
}

// RunSummary describes a single conversion run
type RunSummary struct {
	InDir     string        `json:"in_dir"`
	OutDir    string        `json:"out_dir"`
	Found     int           `json:"found"`
	Converted int           `json:"converted"`
	Failed    int           `json:"failed"`
	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"duration"`
}

// CountComments returns the number of comments in a reply tree
func CountComments(comments []Comment) int {
	count := 0
	stack := make([][]Comment, 0, 16)
	stack = append(stack, comments)
	for len(stack) > 0 {
		level := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		count += len(level)
		for i := range level {
			if len(level[i].Replies) > 0 {
				stack = append(stack, level[i].Replies)
			}
		}
	}
	return count
}
