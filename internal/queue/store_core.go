package queue

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"mediadesk/internal/config"
)

// Store is the SQLite key-value database behind the job repository.
// Several mediadesk processes may open the same file; writers serialize on
// SQLite's lock and retry briefly when it is held.
type Store struct {
	db   *sql.DB
	path string
	now  func() time.Time
}

// busyPolicy bounds how long a statement keeps retrying while another
// process holds the write lock.
type busyPolicy struct {
	attempts int
	initial  time.Duration
	max      time.Duration
}

var lockRetry = busyPolicy{attempts: 5, initial: 10 * time.Millisecond, max: 200 * time.Millisecond}

const sqliteBusyCode = 5

var connectionPragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
}

func ensureContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}

func isSQLiteBusy(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) && coder.Code() == sqliteBusyCode {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

func (p busyPolicy) run(ctx context.Context, op func() error) error {
	delay := p.initial
	var err error
	for attempt := 1; ; attempt++ {
		if err = op(); err == nil || !isSQLiteBusy(err) || attempt >= p.attempts {
			return err
		}
		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
		delay = min(delay*2, p.max)
	}
}

// retry runs op until it stops failing with SQLITE_BUSY.
func (s *Store) retry(ctx context.Context, op func() error) error {
	return lockRetry.run(ensureContext(ctx), op)
}

func (s *Store) exec(ctx context.Context, query string, args ...any) error {
	ctx = ensureContext(ctx)
	return s.retry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, query, args...)
		return err
	})
}

// dataSourceName attaches the connection pragmas so every pooled connection
// gets them, and makes transactions take the write lock up front.
func dataSourceName(path string) string {
	params := url.Values{}
	for _, pragma := range connectionPragmas {
		params.Add("_pragma", pragma)
	}
	params.Set("_txlock", "immediate")
	return path + "?" + params.Encode()
}

// Open initializes or connects to the state database under paths.state_dir.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}
	return OpenPath(cfg.StateDBPath())
}

// OpenPath opens the database at an explicit path and applies pending
// migrations.
func OpenPath(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dataSourceName(dbPath))
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open %s: %w", dbPath, err)
	}

	store := &Store{db: db, path: dbPath, now: time.Now}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
