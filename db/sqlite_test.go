package db

import (
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brettboylen/thread2text/models"
)

func newTestDatabase(t *testing.T) *Database {
	t.Helper()

	log := logrus.New()
	log.SetOutput(io.Discard)

	database, err := NewDatabase(filepath.Join(t.TempDir(), "ledger.db"), log)
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return database
}

func TestSaveAndGetConversions(t *testing.T) {
	database := newTestDatabase(t)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	conversions := []models.Conversion{
		{SourcePath: "a.json", RecordID: "p1", Kind: "post", Title: "first", Author: "bob", CommentCount: 3, OutputPath: "out/a.json.txt", Status: models.StatusOK, ConvertedAt: base},
		{SourcePath: "b.yaml", RecordID: "p2", Kind: "post", Title: "second", Author: "bob", CommentCount: 0, OutputPath: "out/b.yaml.txt", Status: models.StatusOK, ConvertedAt: base.Add(time.Second)},
		{SourcePath: "c.json", Kind: "unknown", Status: models.StatusFailed, Error: "malformed record", ConvertedAt: base.Add(1500 * time.Millisecond)},
	}
	for i := range conversions {
		require.NoError(t, database.SaveConversion(&conversions[i]))
	}

	recent, err := database.GetRecentConversions(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "c.json", recent[0].SourcePath)
	assert.Equal(t, "b.yaml", recent[1].SourcePath)
	assert.True(t, recent[0].ConvertedAt.Equal(base.Add(1500*time.Millisecond)))

	failed, err := database.GetConversionsByStatus(models.StatusFailed)
	require.NoError(t, err)
	require.Len(t, failed, 1)
	assert.Equal(t, "malformed record", failed[0].Error)

	ok, err := database.GetConversionsByStatus(models.StatusOK)
	require.NoError(t, err)
	assert.Len(t, ok, 2)
	assert.Equal(t, 3, ok[1].CommentCount)
}

func TestSaveConversionReplaces(t *testing.T) {
	database := newTestDatabase(t)
	now := time.Now()

	conv := &models.Conversion{SourcePath: "a.json", Kind: "post", Status: models.StatusFailed, Error: "boom", ConvertedAt: now}
	require.NoError(t, database.SaveConversion(conv))

	conv.Status = models.StatusOK
	conv.Error = ""
	conv.RecordID = "p1"
	conv.ConvertedAt = now.Add(time.Minute)
	require.NoError(t, database.SaveConversion(conv))

	all, err := database.GetRecentConversions(10)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, models.StatusOK, all[0].Status)
	assert.Equal(t, "p1", all[0].RecordID)
}

func TestGetSummary(t *testing.T) {
	database := newTestDatabase(t)

	empty, err := database.GetSummary()
	require.NoError(t, err)
	assert.Equal(t, 0, empty.TotalConversions)
	assert.True(t, empty.LastConverted.IsZero())
	assert.Empty(t, empty.TopAuthors)

	last := time.Date(2024, 5, 1, 12, 0, 10, 0, time.UTC)
	rows := []models.Conversion{
		{SourcePath: "1.json", Author: "bob", Status: models.StatusOK, ConvertedAt: last.Add(-3 * time.Second)},
		{SourcePath: "2.json", Author: "bob", Status: models.StatusOK, ConvertedAt: last.Add(-2 * time.Second)},
		{SourcePath: "3.json", Author: "alice", Status: models.StatusOK, ConvertedAt: last.Add(-time.Second)},
		{SourcePath: "4.json", Author: "", Status: models.StatusFailed, Error: "bad", ConvertedAt: last},
	}
	for i := range rows {
		require.NoError(t, database.SaveConversion(&rows[i]))
	}

	summary, err := database.GetSummary()
	require.NoError(t, err)
	assert.Equal(t, 4, summary.TotalConversions)
	assert.Equal(t, 3, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, map[string]int{"bob": 2, "alice": 1}, summary.TopAuthors)
	assert.True(t, summary.LastConverted.Equal(last))
}
