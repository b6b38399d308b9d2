// Package history keeps a local SQLite ledger of unsubscribe runs.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/eraser-privacy/unsubscribe-sidecar/internal/unsubscribe"
)

// Run is one stored run. Screenshots are not kept, only their size.
type Run struct {
	ID              string             `json:"run_id"`
	URL             string             `json:"url"`
	Host            string             `json:"host"`
	Status          unsubscribe.Status `json:"status"`
	Strategy        string             `json:"strategy,omitempty"`
	Actions         []string           `json:"actions"`
	Captcha         string             `json:"captcha,omitempty"`
	Error           string             `json:"error,omitempty"`
	ScreenshotBytes int                `json:"screenshot_bytes"`
	DurationMs      int64              `json:"duration_ms"`
	CreatedAt       time.Time          `json:"created_at"`
}

// FromEvidence converts a finished run for storage.
func FromEvidence(req unsubscribe.Request, ev *unsubscribe.Evidence) *Run {
	return &Run{
		ID:              ev.RunID,
		URL:             redactURL(ev.URL),
		Host:            req.Host(),
		Status:          ev.Status,
		Strategy:        string(ev.Strategy),
		Actions:         ev.Actions,
		Captcha:         ev.Captcha,
		Error:           ev.Error,
		ScreenshotBytes: len(ev.Screenshot),
		DurationMs:      ev.Duration.Milliseconds(),
	}
}

// redactURL drops the query, fragment and userinfo, which carry subscriber
// tokens and addresses on most unsubscribe links.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	u.User = nil
	u.RawQuery = ""
	u.ForceQuery = false
	u.Fragment = ""
	u.RawFragment = ""
	return u.String()
}

type Store struct {
	db *sql.DB
}

func scanRun(scanner interface{ Scan(...any) error }) (*Run, error) {
	var r Run
	var strategy, captcha, errStr sql.NullString
	var actions string
	var createdAt sql.NullTime

	err := scanner.Scan(&r.ID, &r.URL, &r.Host, &r.Status, &strategy, &actions, &captcha,
		&errStr, &r.ScreenshotBytes, &r.DurationMs, &createdAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(actions), &r.Actions); err != nil {
		return nil, fmt.Errorf("failed to decode actions of run %s: %w", r.ID, err)
	}
	r.Strategy = strategy.String
	r.Captcha = captcha.String
	r.Error = errStr.String
	r.CreatedAt = createdAt.Time
	return &r, nil
}

func NewStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0700); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite allows one writer; the sidecar runs sessions concurrently.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) migrate() error {
	query := `
	CREATE TABLE IF NOT EXISTS unsubscribe_runs (
		id TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		host TEXT NOT NULL,
		status TEXT NOT NULL,
		strategy TEXT,
		actions TEXT NOT NULL DEFAULT '[]',
		captcha TEXT,
		error TEXT,
		screenshot_bytes INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_runs_host ON unsubscribe_runs(host);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON unsubscribe_runs(status);
	CREATE INDEX IF NOT EXISTS idx_runs_created_at ON unsubscribe_runs(created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

// Add stores run. CreatedAt is set to now when zero.
func (s *Store) Add(ctx context.Context, run *Run) error {
	if run.ID == "" {
		return errors.New("run has no id")
	}
	if run.CreatedAt.IsZero() {
		run.CreatedAt = time.Now().UTC()
	}
	actions := run.Actions
	if actions == nil {
		actions = []string{}
	}
	encoded, err := json.Marshal(actions)
	if err != nil {
		return fmt.Errorf("failed to encode actions: %w", err)
	}

	query := `
	INSERT INTO unsubscribe_runs (id, url, host, status, strategy, actions, captcha, error, screenshot_bytes, duration_ms, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		run.ID,
		run.URL,
		run.Host,
		string(run.Status),
		run.Strategy,
		string(encoded),
		run.Captcha,
		run.Error,
		run.ScreenshotBytes,
		run.DurationMs,
		run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

const selectRuns = `
	SELECT id, url, host, status, strategy, actions, captcha, error, screenshot_bytes, duration_ms, created_at
	FROM unsubscribe_runs`

// Recent returns up to limit runs, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Run, error) {
	return s.query(ctx, selectRuns+` ORDER BY created_at DESC LIMIT ?`, limit)
}

// ForHost returns up to limit runs against host, newest first.
func (s *Store) ForHost(ctx context.Context, host string, limit int) ([]Run, error) {
	return s.query(ctx, selectRuns+` WHERE host = ? ORDER BY created_at DESC LIMIT ?`, host, limit)
}

func (s *Store) Get(ctx context.Context, id string) (*Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, selectRuns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	return run, nil
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// Stats counts runs per final status.
func (s *Store) Stats(ctx context.Context) (map[unsubscribe.Status]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM unsubscribe_runs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[unsubscribe.Status]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		stats[unsubscribe.Status(status)] = n
	}
	return stats, rows.Err()
}

// Prune deletes runs older than before and reports how many went.
func (s *Store) Prune(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM unsubscribe_runs WHERE created_at < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("failed to delete runs: %w", err)
	}
	return result.RowsAffected()
}

func (s *Store) Close() error { return s.db.Close() }

func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "unsubscribe_history.db"
	}
	return filepath.Join(home, ".unsubscribe-sidecar", "history.db")
}
