package db

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/brettboylen/thread2text/models"
)

const (
	defaultTopAuthorsLimit = 10
	// fixed width so converted_at sorts chronologically as text
	timeLayout             = "2006-01-02T15:04:05.000000000Z"
)

// Database is the conversion ledger: one row per converted input file
type Database struct {
	db    *sql.DB
	mutex sync.RWMutex
	log   *logrus.Logger
}

// NewDatabase creates a new SQLite database connection
func NewDatabase(dbPath string, log *logrus.Logger) (*Database, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	database := &Database{
		db:  db,
		log: log,
	}

	if err := database.initTables(); err != nil {
		return nil, fmt.Errorf("failed to initialize tables: %w", err)
	}

	log.WithField("path", dbPath).Debug("Conversion ledger opened")
	return database, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	return d.db.Close()
}

// initTables creates the necessary tables if they don't exist
func (d *Database) initTables() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	query := `
	CREATE TABLE IF NOT EXISTS conversions (
		source_path TEXT PRIMARY KEY,
		record_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		title TEXT,
		author TEXT,
		comment_count INTEGER NOT NULL,
		output_path TEXT,
		status TEXT NOT NULL,
		error TEXT,
		converted_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_conversions_status ON conversions(status);
	CREATE INDEX IF NOT EXISTS idx_conversions_converted_at ON conversions(converted_at DESC);
	`

	_, err := d.db.Exec(query)
	return err
}

// SaveConversion records the result of converting one file. A later run
// over the same source path replaces the earlier row.
func (d *Database) SaveConversion(conv *models.Conversion) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	query := `
	INSERT OR REPLACE INTO conversions (
		source_path, record_id, kind, title, author, comment_count,
		output_path, status, error, converted_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := d.db.Exec(
		query,
		conv.SourcePath, conv.RecordID, conv.Kind, conv.Title, conv.Author,
		conv.CommentCount, conv.OutputPath, conv.Status, conv.Error,
		conv.ConvertedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("failed to save conversion: %w", err)
	}

	return nil
}

// GetRecentConversions returns the most recently converted N files
func (d *Database) GetRecentConversions(limit int) ([]models.Conversion, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	query := `
	SELECT source_path, record_id, kind, title, author, comment_count,
		output_path, status, error, converted_at
	FROM conversions
	ORDER BY converted_at DESC, source_path
	LIMIT ?
	`

	rows, err := d.db.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversions: %w", err)
	}
	defer rows.Close()

	return scanConversions(rows)
}

// GetConversionsByStatus returns every conversion with the given status
func (d *Database) GetConversionsByStatus(status string) ([]models.Conversion, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	query := `
	SELECT source_path, record_id, kind, title, author, comment_count,
		output_path, status, error, converted_at
	FROM conversions
	WHERE status = ?
	ORDER BY converted_at DESC, source_path
	`

	rows, err := d.db.Query(query, status)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversions with status %s: %w", status, err)
	}
	defer rows.Close()

	return scanConversions(rows)
}

func scanConversions(rows *sql.Rows) ([]models.Conversion, error) {
	conversions := make([]models.Conversion, 0)
	for rows.Next() {
		var conv models.Conversion
		var convertedAt string

		err := rows.Scan(
			&conv.SourcePath, &conv.RecordID, &conv.Kind, &conv.Title, &conv.Author,
			&conv.CommentCount, &conv.OutputPath, &conv.Status, &conv.Error, &convertedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan conversion: %w", err)
		}

		conv.ConvertedAt, _ = time.Parse(timeLayout, convertedAt)
		conversions = append(conversions, conv)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return conversions, nil
}

// GetSummary returns totals per status and the authors with the most
// successfully converted records
func (d *Database) GetSummary() (*models.Summary, error) {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	summary := &models.Summary{
		TopAuthors: make(map[string]int),
	}

	var lastConverted sql.NullString
	err := d.db.QueryRow(`
	SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		MAX(converted_at)
	FROM conversions
	`, models.StatusOK, models.StatusFailed).Scan(
		&summary.TotalConversions, &summary.Succeeded, &summary.Failed, &lastConverted,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversion totals: %w", err)
	}
	if lastConverted.Valid {
		summary.LastConverted, _ = time.Parse(timeLayout, lastConverted.String)
	}

	rows, err := d.db.Query(`
	SELECT author, COUNT(*) as record_count
	FROM conversions
	WHERE status = ? AND author != ''
	GROUP BY author
	ORDER BY record_count DESC, author
	LIMIT ?
	`, models.StatusOK, defaultTopAuthorsLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top authors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var author string
		var count int

		if err := rows.Scan(&author, &count); err != nil {
			return nil, fmt.Errorf("failed to scan author record count: %w", err)
		}

		summary.TopAuthors[author] = count
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return summary, nil
}
