package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/GriffinCanCode/laplace/internal/shared/paths"
	_ "modernc.org/sqlite"
)

// FileName is the database file inside a lapp's data directory
const FileName = paths.DatabaseFile

// DefaultTimeout bounds every statement a lapp runs
const DefaultTimeout = 5 * time.Second

var (
	ErrClosed     = errors.New("lapp storage is closed")
	ErrEmptyQuery = errors.New("empty query")
)

// Result is the outcome of a statement that returns no rows
type Result struct {
	RowsAffected int64 `json:"rows_affected"`
	LastInsertID int64 `json:"last_insert_id"`
}

// Rows is a fully materialized query result
type Rows struct {
	Columns []string        `json:"columns"`
	Values  [][]interface{} `json:"values"`
}

// Store is one lapp's private SQLite database
type Store struct {
	lapp    string
	path    string
	timeout time.Duration

	mu sync.RWMutex
	db *sql.DB // nil once closed
}

// Path returns the database file location for a lapp
func Path(dataDir, lapp string) string {
	return paths.Database(dataDir, lapp)
}

// Open opens (creating on first use) the database for lapp under dataDir
func Open(dataDir, lapp string, timeout time.Duration) (*Store, error) {
	if err := paths.ValidateSegment(lapp); err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	path := Path(dataDir, lapp)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open lapp database: %w", err)
	}
	// A single connection keeps statement order identical to call order.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open lapp database: %w", err)
	}

	return &Store{lapp: lapp, path: path, timeout: timeout, db: db}, nil
}

// Lapp returns the owning lapp name
func (s *Store) Lapp() string {
	return s.lapp
}

// Path returns the database file path
func (s *Store) Path() string {
	return s.path
}

// Execute runs a statement that does not return rows
func (s *Store) Execute(ctx context.Context, query string, args ...interface{}) (Result, error) {
	if query == "" {
		return Result{}, ErrEmptyQuery
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return Result{}, ErrClosed
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return Result{}, fmt.Errorf("lapp database execute: %w", err)
	}

	var out Result
	out.RowsAffected, _ = res.RowsAffected()
	out.LastInsertID, _ = res.LastInsertId()
	return out, nil
}

// Query runs a statement and reads every row
func (s *Store) Query(ctx context.Context, query string, args ...interface{}) (*Rows, error) {
	if query == "" {
		return nil, ErrEmptyQuery
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.db == nil {
		return nil, ErrClosed
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("lapp database query: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("lapp database query: %w", err)
	}

	out := &Rows{Columns: columns, Values: [][]interface{}{}}
	for rows.Next() {
		values := make([]interface{}, len(columns))
		ptrs := make([]interface{}, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("lapp database scan: %w", err)
		}
		out.Values = append(out.Values, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("lapp database query: %w", err)
	}

	return out, nil
}

// Close releases the database; the file stays on disk
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

// Remove deletes a lapp's whole data directory, database included
func Remove(dataDir, lapp string) error {
	if err := paths.ValidateSegment(lapp); err != nil {
		return err
	}
	if err := os.RemoveAll(paths.Data(dataDir, lapp)); err != nil {
		return fmt.Errorf("failed to remove lapp storage: %w", err)
	}
	return nil
}
