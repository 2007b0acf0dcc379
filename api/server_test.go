package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brettboylen/thread2text/models"
)

var testNow = time.Unix(1_700_000_000, 0)

const postJSON = `{
	"title": "Hi",
	"url": "http://x",
	"selftext": "",
	"score": 5,
	"author": "bob",
	"created_utc": 1699996400,
	"id": "p1",
	"num_comments": 1,
	"comments": [
		{"author": "carl", "id": "c1", "score": 2, "submission": "p1", "body": "[spoiler] Nice!", "created_utc": 1699999940, "replies": []}
	]
}`

type fakeLedger struct {
	conversions []models.Conversion
	summary     *models.Summary
	err         error
	lastLimit   int
}

func (f *fakeLedger) GetRecentConversions(limit int) ([]models.Conversion, error) {
	f.lastLimit = limit
	return f.conversions, f.err
}

func (f *fakeLedger) GetConversionsByStatus(status string) ([]models.Conversion, error) {
	var out []models.Conversion
	for _, conv := range f.conversions {
		if conv.Status == status {
			out = append(out, conv)
		}
	}
	return out, f.err
}

func (f *fakeLedger) GetSummary() (*models.Summary, error) {
	return f.summary, f.err
}

func newTestServer(ledger Ledger, maxRequestsPerMinute int) *echo.Echo {
	log := logrus.New()
	log.SetOutput(io.Discard)

	s := &Server{
		ledger:   ledger,
		defaults: models.DefaultOptions(),
		log:      log,
		now:      func() time.Time { return testNow },
	}
	e := s.routes(maxRequestsPerMinute)
	e.Logger.SetOutput(io.Discard)
	return e
}

func do(e *echo.Echo, method, target, contentType, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set(echo.HeaderContentType, contentType)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	e := newTestServer(nil, 1000)
	rec := do(e, http.MethodGet, "/healthz", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestRenderEndpoint(t *testing.T) {
	e := newTestServer(nil, 1000)

	rec := do(e, http.MethodPost, "/api/render", echo.MIMEApplicationJSON, postJSON)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, strings.HasPrefix(rec.Header().Get(echo.HeaderContentType), echo.MIMETextPlain))
	assert.Equal(t,
		"[ 5 | bob | 1 hr | 1 comments | https://reddit.com/comments/p1 ]\n\nHi\nhttp://x\n---\n\n"+
			"[ 2 | carl | 1 min | https://reddit.com/comments/p1//c1 ]\n\n[spoiler] Nice!\n---\n\n",
		rec.Body.String())
}

func TestRenderEndpointOverrides(t *testing.T) {
	e := newTestServer(nil, 1000)

	rec := do(e, http.MethodPost, "/api/render?urls=false&timestamps=true&parsable=true", echo.MIMEApplicationJSON, postJSON)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t,
		"[ 5 | bob | 1699996400 | 1 comments | p1 ]\n\nHi\nhttp://x\n---\n\n"+
			"[ 2 | carl | 1699999940 | c1 ]\n\n⟦spoiler⟧ Nice!\n---\n\n",
		rec.Body.String())
}

func TestRenderEndpointYAML(t *testing.T) {
	e := newTestServer(nil, 1000)
	body := "author: carl\nid: c1\nscore: 2\nsubmission: p1\nbody: hello\ncreated_utc: 1699999940\nreplies: []\n"

	rec := do(e, http.MethodPost, "/api/render?urls=0", "application/yaml", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "[ 2 | carl | 1 min | c1 ]\n\nhello\n---\n\n", rec.Body.String())
}

func TestRenderEndpointErrors(t *testing.T) {
	e := newTestServer(nil, 1000)

	tests := []struct {
		name   string
		target string
		body   string
		status int
	}{
		{name: "Bad indent", target: "/api/render?indent=wide", body: postJSON, status: http.StatusBadRequest},
		{name: "Negative indent", target: "/api/render?indent=-2", body: postJSON, status: http.StatusBadRequest},
		{name: "Indent too wide", target: "/api/render?indent=4611686018427387904", body: postJSON, status: http.StatusBadRequest},
		{name: "Bad boolean", target: "/api/render?parsable=maybe", body: postJSON, status: http.StatusBadRequest},
		{name: "Invalid json", target: "/api/render", body: `{"title":`, status: http.StatusBadRequest},
		{name: "Malformed record", target: "/api/render", body: `{"title":"t"}`, status: http.StatusUnprocessableEntity},
		{name: "Unsupported record", target: "/api/render", body: `{"kind":"t3"}`, status: http.StatusUnprocessableEntity},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(e, http.MethodPost, tc.target, echo.MIMEApplicationJSON, tc.body)
			assert.Equal(t, tc.status, rec.Code)

			var resp map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp["error"])
		})
	}
}

func TestLedgerEndpointsDisabled(t *testing.T) {
	e := newTestServer(nil, 1000)

	assert.Equal(t, http.StatusServiceUnavailable, do(e, http.MethodGet, "/api/conversions", "", "").Code)
	assert.Equal(t, http.StatusServiceUnavailable, do(e, http.MethodGet, "/api/summary", "", "").Code)
}

func TestConversionsEndpoint(t *testing.T) {
	ledger := &fakeLedger{
		conversions: []models.Conversion{
			{SourcePath: "a.json", RecordID: "p1", Status: models.StatusOK},
			{SourcePath: "b.json", Status: models.StatusFailed, Error: "malformed record"},
		},
	}
	e := newTestServer(ledger, 1000)

	rec := do(e, http.MethodGet, "/api/conversions", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var all []models.Conversion
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Len(t, all, 2)
	assert.Equal(t, defaultConversionsLimit, ledger.lastLimit)

	rec = do(e, http.MethodGet, "/api/conversions?limit=5000", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, maxConversionsLimit, ledger.lastLimit)

	rec = do(e, http.MethodGet, "/api/conversions?status=failed", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var failed []models.Conversion
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &failed))
	require.Len(t, failed, 1)
	assert.Equal(t, "b.json", failed[0].SourcePath)

	assert.Equal(t, http.StatusBadRequest, do(e, http.MethodGet, "/api/conversions?status=pending", "", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(e, http.MethodGet, "/api/conversions?limit=0", "", "").Code)

	ledger.err = errors.New("database is locked")
	assert.Equal(t, http.StatusInternalServerError, do(e, http.MethodGet, "/api/conversions", "", "").Code)
}

func TestSummaryEndpoint(t *testing.T) {
	ledger := &fakeLedger{
		summary: &models.Summary{TotalConversions: 3, Succeeded: 2, Failed: 1, TopAuthors: map[string]int{"bob": 2}},
	}
	e := newTestServer(ledger, 1000)

	rec := do(e, http.MethodGet, "/api/summary", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var summary models.Summary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &summary))
	assert.Equal(t, 3, summary.TotalConversions)
	assert.Equal(t, map[string]int{"bob": 2}, summary.TopAuthors)
}

func TestRateLimit(t *testing.T) {
	e := newTestServer(nil, 1)

	assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/healthz", "", "").Code)
	assert.Equal(t, http.StatusTooManyRequests, do(e, http.MethodGet, "/healthz", "", "").Code)
}

func TestOptionsFromQuery(t *testing.T) {
	defaults := models.DefaultOptions()

	tests := []struct {
		name     string
		query    string
		expected models.Options
		wantErr  bool
	}{
		{name: "No overrides", query: "", expected: defaults},
		{name: "Indent", query: "indent=2", expected: models.Options{IndentWidth: 2, AddURLs: true}},
		{name: "Zero indent", query: "indent=0", expected: models.Options{IndentWidth: 0, AddURLs: true}},
		{name: "All flags", query: "urls=false&timestamps=1&parsable=true", expected: models.Options{IndentWidth: 6, AddTimestamps: true, Parsable: true}},
		{name: "Bad indent", query: "indent=x", wantErr: true},
		{name: "Widest indent", query: "indent=64", expected: models.Options{IndentWidth: 64, AddURLs: true}},
		{name: "Indent too wide", query: "indent=65", wantErr: true},
		{name: "Bad flag", query: "timestamps=sometimes", wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			query, err := url.ParseQuery(tc.query)
			require.NoError(t, err)

			opts, err := optionsFromQuery(query, defaults)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, opts)
		})
	}
}
