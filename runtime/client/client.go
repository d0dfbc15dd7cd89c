// Package client provides the runtime database client: connection
// management, sessions pinned to a single connection, nested transactions
// and backend error normalization.
package client

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/quillsql/quill/internal/debug"
	"github.com/quillsql/quill/query/sqlgen"
	"github.com/quillsql/quill/schema"
)

// Config holds the connection settings for a Database
type Config struct {
	// Provider is the backend name: "postgres", "mysql" or "sqlite"
	Provider string
	// DSN is the driver connection string
	DSN string
	// Autorollback issues a best-effort ROLLBACK after a failed statement
	// executed outside an explicit transaction
	Autorollback bool
	// MaxOpenConns caps the connection pool, 0 for the driver default
	MaxOpenConns int
	// MaxIdleConns caps idle pooled connections, 0 for the driver default
	MaxIdleConns int
	// Debug enables statement logging to stderr
	Debug bool
}

// Database is the entry point for executing queries against one backend
type Database struct {
	db           *sql.DB
	dialect      *sqlgen.Dialect
	compiler     *sqlgen.Compiler
	autorollback bool
}

// Connect opens a database for the configured provider. The connection is
// established lazily; use Ping to verify it.
func Connect(cfg Config) (*Database, error) {
	dialect, err := sqlgen.DialectFor(cfg.Provider)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(dialect.DriverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.Debug {
		debug.Init(true)
	}

	return &Database{
		db:           db,
		dialect:      dialect,
		compiler:     sqlgen.NewCompiler(dialect),
		autorollback: cfg.Autorollback,
	}, nil
}

// FromDB wraps an existing connection pool
func FromDB(provider string, db *sql.DB) (*Database, error) {
	dialect, err := sqlgen.DialectFor(provider)
	if err != nil {
		return nil, err
	}
	return &Database{
		db:       db,
		dialect:  dialect,
		compiler: sqlgen.NewCompiler(dialect),
	}, nil
}

// Ping verifies the database is reachable
func (d *Database) Ping(ctx context.Context) error {
	return Normalize(d.db.PingContext(ctx))
}

// Close closes the underlying connection pool
func (d *Database) Close() error {
	return d.db.Close()
}

// DB returns the underlying connection pool
func (d *Database) DB() *sql.DB {
	return d.db
}

// Dialect returns the backend dialect
func (d *Database) Dialect() *sqlgen.Dialect {
	return d.dialect
}

// Compiler returns the SQL compiler for the backend dialect
func (d *Database) Compiler() *sqlgen.Compiler {
	return d.compiler
}

// Session pins a dedicated connection and returns a session bound to it.
// The caller must Close the session to return the connection to the pool.
func (d *Database) Session(ctx context.Context) (*Session, error) {
	conn, err := d.db.Conn(ctx)
	if err != nil {
		return nil, Normalize(err)
	}
	return &Session{db: d, conn: conn}, nil
}

// WithSession runs fn with a session that is closed when fn returns
func (d *Database) WithSession(ctx context.Context, fn func(*Session) error) error {
	s, err := d.Session(ctx)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

// Atomic runs fn inside a transaction on a fresh session
func (d *Database) Atomic(ctx context.Context, fn func(*Session) error) error {
	return d.WithSession(ctx, func(s *Session) error {
		return s.Atomic(ctx, fn)
	})
}

// CreateTables creates the given tables in order, skipping existing ones.
// Referenced tables must come before their referrers.
func (d *Database) CreateTables(ctx context.Context, tables ...*schema.Table) error {
	return d.WithSession(ctx, func(s *Session) error {
		for _, t := range tables {
			ddl, err := d.compiler.CreateTable(t, true)
			if err != nil {
				return err
			}
			if _, err := s.Exec(ctx, ddl); err != nil {
				return fmt.Errorf("failed to create table %q: %w", t.Name(), err)
			}
		}
		return nil
	})
}

// DropTables drops the given tables in reverse order so referrers go
// before their referenced tables.
func (d *Database) DropTables(ctx context.Context, tables ...*schema.Table) error {
	return d.WithSession(ctx, func(s *Session) error {
		for i := len(tables) - 1; i >= 0; i-- {
			if _, err := s.Exec(ctx, d.compiler.DropTable(tables[i], true)); err != nil {
				return fmt.Errorf("failed to drop table %q: %w", tables[i].Name(), err)
			}
		}
		return nil
	})
}
