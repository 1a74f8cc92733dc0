// Package store persists the client's durable state in a local SQLite
// database: the single credential row the session manager owns, and a
// journal of generation jobs submitted from this machine.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/petsphoto/pawgen/pkg/models"
)

var ErrNoCredentials = errors.New("no stored credentials")

const schema = `
CREATE TABLE IF NOT EXISTS credentials (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    access_token TEXT NOT NULL,
    refresh_token TEXT NOT NULL,
    token_type TEXT NOT NULL DEFAULT 'bearer',
    expires_at DATETIME,
    user_json TEXT NOT NULL,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS jobs (
    id TEXT PRIMARY KEY,
    source_image_id TEXT NOT NULL,
    style_id TEXT NOT NULL,
    style_name TEXT,
    status TEXT NOT NULL,
    result_url TEXT,
    error_message TEXT,
    credits_cost INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    completed_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_jobs_created_at ON jobs(created_at);
CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_style_id ON jobs(style_id);
`

// StoredSession is the durable form of the session manager's state.
type StoredSession struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time
	User         models.User
	UpdatedAt    time.Time
}

// JobRecord is one row of the local job journal.
type JobRecord struct {
	ID            string
	SourceImageID string
	StyleID       string
	StyleName     string
	Status        models.JobStatus
	ResultURL     string
	ErrorMessage  string
	CreditsCost   int
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

// SpendSummary aggregates credits spent on recorded jobs.
type SpendSummary struct {
	Credits  int
	JobCount int
}

// StyleSpendSummary is per-style credit spend.
type StyleSpendSummary struct {
	StyleID   string
	StyleName string
	Credits   int
	JobCount  int
}

type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the database under dataDir, or the
// default location when dataDir is empty.
func New(dataDir string) (*Store, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".pawgen")
	}
	return NewWithPath(filepath.Join(dataDir, "pawgen.db"))
}

func NewWithPath(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SaveCredentials upserts the single credential row. There is at most
// one session per client instance, so the row id is fixed.
func (s *Store) SaveCredentials(ctx context.Context, sess *StoredSession) error {
	userJSON, err := json.Marshal(sess.User)
	if err != nil {
		return fmt.Errorf("failed to encode user snapshot: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO credentials (id, access_token, refresh_token, token_type, expires_at, user_json, updated_at)
		 VALUES (1, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   access_token = excluded.access_token,
		   refresh_token = excluded.refresh_token,
		   token_type = excluded.token_type,
		   expires_at = excluded.expires_at,
		   user_json = excluded.user_json,
		   updated_at = excluded.updated_at`,
		sess.AccessToken, sess.RefreshToken, sess.TokenType,
		sess.ExpiresAt, string(userJSON), time.Now())
	return err
}

// LoadCredentials returns the persisted session, or ErrNoCredentials if
// none has been saved or it was cleared.
func (s *Store) LoadCredentials(ctx context.Context) (*StoredSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT access_token, refresh_token, token_type, expires_at, user_json, updated_at
		 FROM credentials WHERE id = 1`)

	sess := &StoredSession{}
	var expiresAt sql.NullTime
	var userJSON string
	err := row.Scan(&sess.AccessToken, &sess.RefreshToken, &sess.TokenType,
		&expiresAt, &userJSON, &sess.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoCredentials
	}
	if err != nil {
		return nil, err
	}

	sess.ExpiresAt = expiresAt.Time
	if err := json.Unmarshal([]byte(userJSON), &sess.User); err != nil {
		return nil, fmt.Errorf("failed to decode user snapshot: %w", err)
	}
	return sess, nil
}

// DeleteCredentials removes the stored session. Deleting an absent row
// is not an error, which keeps logout idempotent.
func (s *Store) DeleteCredentials(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM credentials WHERE id = 1`)
	return err
}

// RecordJob journals a freshly submitted job.
func (s *Store) RecordJob(ctx context.Context, job *JobRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, source_image_id, style_id, style_name, status, result_url, error_message, credits_cost, created_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		job.ID, job.SourceImageID, job.StyleID, nullString(job.StyleName),
		string(job.Status), nullString(job.ResultURL), nullString(job.ErrorMessage),
		job.CreditsCost, job.CreatedAt, job.CompletedAt)
	return err
}

// FinishJob records the terminal snapshot the poller observed.
func (s *Store) FinishJob(ctx context.Context, id string, status models.JobStatus, resultURL, errorMessage string, completedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, result_url = ?, error_message = ?, completed_at = ?
		 WHERE id = ?`,
		string(status), nullString(resultURL), nullString(errorMessage), completedAt, id)
	return err
}

// ListJobs returns the most recent journal entries, newest first.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]*JobRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, source_image_id, style_id, style_name, status, result_url, error_message, credits_cost, created_at, completed_at
		 FROM jobs ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*JobRecord
	for rows.Next() {
		job := &JobRecord{}
		var styleName, resultURL, errorMessage sql.NullString
		var status string
		var completedAt sql.NullTime
		if err := rows.Scan(&job.ID, &job.SourceImageID, &job.StyleID, &styleName,
			&status, &resultURL, &errorMessage, &job.CreditsCost, &job.CreatedAt, &completedAt); err != nil {
			return nil, err
		}
		job.StyleName = styleName.String
		job.Status = models.JobStatus(status)
		job.ResultURL = resultURL.String
		job.ErrorMessage = errorMessage.String
		if completedAt.Valid {
			t := completedAt.Time
			job.CompletedAt = &t
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// GetJob looks up one journal entry.
func (s *Store) GetJob(ctx context.Context, id string) (*JobRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, source_image_id, style_id, style_name, status, result_url, error_message, credits_cost, created_at, completed_at
		 FROM jobs WHERE id = ?`, id)

	job := &JobRecord{}
	var styleName, resultURL, errorMessage sql.NullString
	var status string
	var completedAt sql.NullTime
	err := row.Scan(&job.ID, &job.SourceImageID, &job.StyleID, &styleName,
		&status, &resultURL, &errorMessage, &job.CreditsCost, &job.CreatedAt, &completedAt)
	if err != nil {
		return nil, err
	}
	job.StyleName = styleName.String
	job.Status = models.JobStatus(status)
	job.ResultURL = resultURL.String
	job.ErrorMessage = errorMessage.String
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return job, nil
}

// TotalSpend sums credits across all journaled jobs that were not
// refunded, i.e. everything that did not fail.
func (s *Store) TotalSpend(ctx context.Context) (*SpendSummary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(credits_cost), 0), COUNT(*)
		 FROM jobs WHERE status != ?`, string(models.StatusFailed))

	var summary SpendSummary
	if err := row.Scan(&summary.Credits, &summary.JobCount); err != nil {
		return nil, err
	}
	return &summary, nil
}

// SpendSince sums credits for jobs created at or after start.
func (s *Store) SpendSince(ctx context.Context, start time.Time) (*SpendSummary, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(credits_cost), 0), COUNT(*)
		 FROM jobs WHERE status != ? AND created_at >= ?`,
		string(models.StatusFailed), start)

	var summary SpendSummary
	if err := row.Scan(&summary.Credits, &summary.JobCount); err != nil {
		return nil, err
	}
	return &summary, nil
}

// SpendByStyle groups credit spend by style.
func (s *Store) SpendByStyle(ctx context.Context) ([]StyleSpendSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT style_id, COALESCE(style_name, ''), COALESCE(SUM(credits_cost), 0), COUNT(*)
		 FROM jobs WHERE status != ?
		 GROUP BY style_id ORDER BY style_id`, string(models.StatusFailed))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []StyleSpendSummary
	for rows.Next() {
		var ss StyleSpendSummary
		if err := rows.Scan(&ss.StyleID, &ss.StyleName, &ss.Credits, &ss.JobCount); err != nil {
			return nil, err
		}
		summaries = append(summaries, ss)
	}
	return summaries, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
