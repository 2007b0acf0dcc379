package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/brettboylen/thread2text/models"
)

// Format is the serialization format of an archived record
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

func (f Format) String() string {
	switch f {
	case FormatJSON:
		return "json"
	case FormatYAML:
		return "yaml"
	}
	return fmt.Sprintf("Format(%d)", int(f))
}

// FormatFromPath picks the format from a file extension
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON, nil
	case ".yaml", ".yml":
		return FormatYAML, nil
	}
	return 0, unsupported("unrecognized file extension %q", filepath.Ext(path))
}

// Decode parses one archived post or comment and validates every field the
// renderer reads. The result is either a *models.Post or a *models.Comment.
func Decode(data []byte, format Format) (models.Record, error) {
	var raw any

	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.UseNumber()
		if err := dec.Decode(&raw); err != nil {
			return nil, fmt.Errorf("failed to decode json: %w", err)
		}
		end := dec.InputOffset()
		if _, err := dec.Token(); !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to decode json: extra data after offset %d", end)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return nil, fmt.Errorf("failed to decode yaml: %w", err)
		}
	default:
		return nil, unsupported("unknown format %s", format)
	}

	m, ok := asMap(raw)
	if !ok {
		return nil, unsupported("top level is %s, expected a mapping", typeName(raw))
	}
	return FromMap(m)
}

// FromMap converts an already decoded record. A mapping with a "title" key
// is a post; one with "body" or "replies" is a comment.
func FromMap(m map[string]any) (models.Record, error) {
	if _, ok := m["title"]; ok {
		post, err := decodePost(m)
		if err != nil {
			return nil, err
		}
		return post, nil
	}

	_, hasBody := m["body"]
	_, hasReplies := m["replies"]
	if !hasBody && !hasReplies {
		return nil, unsupported("record has no \"title\" and is missing the comment fields \"body\" and \"replies\"")
	}

	comment := &models.Comment{}
	if err := decodeCommentTree(m, comment, ""); err != nil {
		return nil, err
	}
	return comment, nil
}

func decodePost(m map[string]any) (*models.Post, error) {
	var (
		post = &models.Post{}
		err  error
	)

	if post.Title, err = requireString(m, "", "title"); err != nil {
		return nil, err
	}
	if post.ID, err = requireString(m, "", "id"); err != nil {
		return nil, err
	}
	if post.Author, err = requireString(m, "", "author"); err != nil {
		return nil, err
	}
	if post.Score, err = requireInt(m, "", "score"); err != nil {
		return nil, err
	}
	if post.CreatedUTC, err = requireTimestamp(m, "", "created_utc"); err != nil {
		return nil, err
	}
	if post.NumComments, err = requireInt(m, "", "num_comments"); err != nil {
		return nil, err
	}
	if post.SelfText, err = requireString(m, "", "selftext"); err != nil {
		return nil, err
	}
	// url is only read for link posts
	if post.SelfText == "" {
		if post.URL, err = requireString(m, "", "url"); err != nil {
			return nil, err
		}
	} else if v, ok := m["url"].(string); ok {
		post.URL = v
	}

	comments, err := requireList(m, "", "comments")
	if err != nil {
		return nil, err
	}
	post.Comments = make([]models.Comment, len(comments))

	tasks := make([]commentTask, 0, len(comments))
	tasks = pushTasks(tasks, comments, post.Comments, "comments")
	if err := runTasks(tasks); err != nil {
		return nil, err
	}
	return post, nil
}

type commentTask struct {
	raw  any
	dst  *models.Comment
	path string
}

// pushTasks queues raw comments in reverse so they are decoded in input order
func pushTasks(tasks []commentTask, raw []any, dst []models.Comment, path string) []commentTask {
	for i := len(raw) - 1; i >= 0; i-- {
		tasks = append(tasks, commentTask{
			raw:  raw[i],
			dst:  &dst[i],
			path: fmt.Sprintf("%s[%d]", path, i),
		})
	}
	return tasks
}

func decodeCommentTree(m map[string]any, root *models.Comment, path string) error {
	return runTasks([]commentTask{{raw: m, dst: root, path: path}})
}

// runTasks decodes a reply tree with an explicit stack
func runTasks(tasks []commentTask) error {
	for len(tasks) > 0 {
		task := tasks[len(tasks)-1]
		tasks = tasks[:len(tasks)-1]

		m, ok := asMap(task.raw)
		if !ok {
			return malformed(task.path, "is %s, expected a comment mapping", typeName(task.raw))
		}

		replies, err := decodeComment(m, task.dst, task.path)
		if err != nil {
			return err
		}

		task.dst.Replies = make([]models.Comment, len(replies))
		tasks = pushTasks(tasks, replies, task.dst.Replies, join(task.path, "replies"))
	}
	return nil
}

// decodeComment fills c from m and returns its raw replies
func decodeComment(m map[string]any, c *models.Comment, path string) ([]any, error) {
	var err error

	if c.ID, err = requireString(m, path, "id"); err != nil {
		return nil, err
	}
	if c.Author, err = requireString(m, path, "author"); err != nil {
		return nil, err
	}
	if c.Body, err = requireString(m, path, "body"); err != nil {
		return nil, err
	}
	if c.Score, err = requireInt(m, path, "score"); err != nil {
		return nil, err
	}
	if c.CreatedUTC, err = requireTimestamp(m, path, "created_utc"); err != nil {
		return nil, err
	}
	if c.Submission, err = requireString(m, path, "submission"); err != nil {
		return nil, err
	}
	return requireList(m, path, "replies")
}

func join(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

func lookup(m map[string]any, path, key string) (any, error) {
	v, ok := m[key]
	if !ok {
		return nil, malformed(join(path, key), "is missing")
	}
	return v, nil
}

func requireString(m map[string]any, path, key string) (string, error) {
	v, err := lookup(m, path, key)
	if err != nil {
		return "", err
	}
	s, ok := v.(string)
	if !ok {
		return "", malformed(join(path, key), "is %s, expected a string", typeName(v))
	}
	return s, nil
}

func requireList(m map[string]any, path, key string) ([]any, error) {
	v, err := lookup(m, path, key)
	if err != nil {
		return nil, err
	}
	list, ok := v.([]any)
	if !ok {
		return nil, malformed(join(path, key), "is %s, expected a list", typeName(v))
	}
	return list, nil
}

func requireInt(m map[string]any, path, key string) (int, error) {
	v, err := lookup(m, path, key)
	if err != nil {
		return 0, err
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, malformed(join(path, key), "is %s, expected an integer", typeName(v))
	}
	if f != math.Trunc(f) || math.Abs(f) > 1<<53 {
		return 0, malformed(join(path, key), "is %v, expected an integer", v)
	}
	return int(f), nil
}

// requireTimestamp reads a UTC timestamp in seconds, dropping any fraction
func requireTimestamp(m map[string]any, path, key string) (int64, error) {
	v, err := lookup(m, path, key)
	if err != nil {
		return 0, err
	}
	f, ok := toFloat(v)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, malformed(join(path, key), "is %s, expected a number", typeName(v))
	}
	return int64(f), nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		return f, true
	}
	return 0, false
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			key, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[key] = val
		}
		return out, true
	}
	return nil, false
}

func typeName(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "a string"
	case bool:
		return "a boolean"
	case []any:
		return "a list"
	case map[string]any, map[any]any:
		return "a mapping"
	}
	if _, ok := toFloat(v); ok {
		return "a number"
	}
	return fmt.Sprintf("%T", v)
}
