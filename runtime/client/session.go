package client

import (
	"context"
	"database/sql"

	"github.com/quillsql/quill/internal/debug"
)

// Session executes statements on a single pinned connection, so BEGIN,
// SAVEPOINT and every statement in between are guaranteed to share the
// same connection.
type Session struct {
	db         *Database
	conn       *sql.Conn
	frames     []txFrame
	queryCount int
}

// txFrame is one open transaction level
type txFrame struct {
	// savepoint is the savepoint name, empty for the outermost transaction
	savepoint string
}

// Close returns the pinned connection to the pool
func (s *Session) Close() error {
	return s.conn.Close()
}

// Database returns the owning database
func (s *Session) Database() *Database {
	return s.db
}

// QueryCount returns the number of statements issued on this session,
// including transaction control statements.
func (s *Session) QueryCount() int {
	return s.queryCount
}

// InTransaction reports whether an explicit transaction is open
func (s *Session) InTransaction() bool {
	return len(s.frames) > 0
}

// Depth returns the current transaction nesting depth
func (s *Session) Depth() int {
	return len(s.frames)
}

// Exec runs a statement that returns no rows
func (s *Session) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	debug.Statement(query, args)
	s.queryCount++
	res, err := s.conn.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return res, nil
}

// Query runs a statement that returns rows. The returned rows hold the
// session's pinned connection; the caller must close them before closing
// the session, or Close blocks.
func (s *Session) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	debug.Statement(query, args)
	s.queryCount++
	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.fail(ctx, err)
	}
	return rows, nil
}

// QueryRow runs a statement expected to return at most one row
func (s *Session) QueryRow(ctx context.Context, query string, args ...interface{}) *sql.Row {
	debug.Statement(query, args)
	s.queryCount++
	return s.conn.QueryRowContext(ctx, query, args...)
}

// control runs a transaction control statement. Failures are normalized
// but never trigger autorollback.
func (s *Session) control(ctx context.Context, query string) error {
	debug.Statement(query, nil)
	s.queryCount++
	_, err := s.conn.ExecContext(ctx, query)
	return Normalize(err)
}

// fail normalizes a statement error. With autorollback enabled and no
// explicit transaction open, any implicit transaction the backend left
// dangling is cleared so the session stays usable.
func (s *Session) fail(ctx context.Context, err error) error {
	if s.db.autorollback && len(s.frames) == 0 {
		_, _ = s.conn.ExecContext(ctx, "ROLLBACK")
	}
	return Normalize(err)
}
