// Package executor runs compiled queries on a session and shapes the
// results: cached row sets, record and aggregate-record assembly, lazy
// relation loading.
package executor

import (
	"context"

	"github.com/quillsql/quill/dberr"
	"github.com/quillsql/quill/query/ast"
	"github.com/quillsql/quill/query/sqlgen"
	"github.com/quillsql/quill/runtime/client"
	"github.com/quillsql/quill/schema"
)

// Executor binds a compiler to a session
type Executor struct {
	session  *client.Session
	compiler *sqlgen.Compiler
}

// New creates an executor for the session's dialect
func New(s *client.Session) *Executor {
	return &Executor{session: s, compiler: s.Database().Compiler()}
}

// Session returns the underlying session
func (e *Executor) Session() *client.Session {
	return e.session
}

// Execute dispatches on the statement kind: a SELECT yields *Rows, an
// INSERT its generated key, an UPDATE or DELETE its affected row count.
// Statements carrying a RETURNING clause yield *Rows.
func (e *Executor) Execute(ctx context.Context, q ast.Query) (interface{}, error) {
	switch query := q.(type) {
	case *ast.SelectQuery:
		return e.Select(ctx, query)
	case *ast.InsertQuery:
		if len(query.Returning) > 0 {
			return e.InsertReturning(ctx, query)
		}
		return e.Insert(ctx, query)
	case *ast.UpdateQuery:
		if len(query.Returning) > 0 {
			return e.UpdateReturning(ctx, query)
		}
		return e.Update(ctx, query)
	case *ast.DeleteQuery:
		if len(query.Returning) > 0 {
			return e.DeleteReturning(ctx, query)
		}
		return e.Delete(ctx, query)
	default:
		return nil, dberr.Newf(dberr.Programming, "unsupported query type %T", q)
	}
}

// Select compiles and runs a SELECT, returning a cached row set.
// The statement is issued once; the Rows wrapper can be consumed in any
// result shape without re-querying.
func (e *Executor) Select(ctx context.Context, q *ast.SelectQuery) (*Rows, error) {
	sqlText, args, err := e.compiler.Compile(q)
	if err != nil {
		return nil, err
	}
	rows, err := e.session.Query(ctx, sqlText, args...)
	if err != nil {
		return nil, err
	}
	return newRows(e, q, rows)
}

// Insert compiles and runs an INSERT, returning the generated primary key
// of the (last) inserted row. On dialects without native multi-row
// support, a multi-row insert falls back to one statement per row; the
// fallback is not wrapped in a transaction.
func (e *Executor) Insert(ctx context.Context, q *ast.InsertQuery) (int64, error) {
	d := e.compiler.Dialect()

	if len(q.Rows) > 1 && !d.MultiRowInsert {
		var last int64
		for _, row := range q.Rows {
			single := *q
			single.Rows = []ast.InsertRow{row}
			id, err := e.Insert(ctx, &single)
			if err != nil {
				return last, err
			}
			last = id
		}
		return last, nil
	}

	if !d.LastInsertID && d.Returning && len(q.Returning) == 0 {
		if pk := q.Table.PrimaryKey(); pk != nil && pk.Type == schema.TypeAuto {
			rq := q.WithReturning(ast.RawSQL(d.Quote(pk.Column)))
			sqlText, args, err := e.compiler.Compile(rq)
			if err != nil {
				return 0, err
			}
			var id int64
			row := e.session.QueryRow(ctx, sqlText, args...)
			if err := row.Scan(&id); err != nil {
				return 0, client.Normalize(err)
			}
			return id, nil
		}
	}

	sqlText, args, err := e.compiler.Compile(q)
	if err != nil {
		return 0, err
	}
	res, err := e.session.Exec(ctx, sqlText, args...)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		if d.LastInsertID {
			return 0, client.Normalize(err)
		}
		// The dialect does not promise generated keys from Exec.
		return 0, nil
	}
	return id, nil
}

// InsertReturning runs an INSERT with a RETURNING clause and wraps the
// returned rows.
func (e *Executor) InsertReturning(ctx context.Context, q *ast.InsertQuery) (*Rows, error) {
	return e.returningRows(ctx, q, q.Table, q.Returning)
}

// UpdateReturning runs an UPDATE with a RETURNING clause and wraps the
// returned rows.
func (e *Executor) UpdateReturning(ctx context.Context, q *ast.UpdateQuery) (*Rows, error) {
	return e.returningRows(ctx, q, q.Entity.Table, q.Returning)
}

// DeleteReturning runs a DELETE with a RETURNING clause and wraps the
// returned rows.
func (e *Executor) DeleteReturning(ctx context.Context, q *ast.DeleteQuery) (*Rows, error) {
	return e.returningRows(ctx, q, q.Entity.Table, q.Returning)
}

func (e *Executor) returningRows(ctx context.Context, q ast.Query, table *schema.Table, returning []ast.Node) (*Rows, error) {
	sqlText, args, err := e.compiler.Compile(q)
	if err != nil {
		return nil, err
	}
	rows, err := e.session.Query(ctx, sqlText, args...)
	if err != nil {
		return nil, err
	}
	return newReturningRows(e, table, returning, rows)
}

// Update compiles and runs an UPDATE, returning the affected row count
func (e *Executor) Update(ctx context.Context, q *ast.UpdateQuery) (int64, error) {
	sqlText, args, err := e.compiler.Compile(q)
	if err != nil {
		return 0, err
	}
	res, err := e.session.Exec(ctx, sqlText, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Delete compiles and runs a DELETE, returning the affected row count
func (e *Executor) Delete(ctx context.Context, q *ast.DeleteQuery) (int64, error) {
	sqlText, args, err := e.compiler.Compile(q)
	if err != nil {
		return 0, err
	}
	res, err := e.session.Exec(ctx, sqlText, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Scalar runs a SELECT and returns the first column of the first row.
// Zero matching rows is a DoesNotExist error.
func (e *Executor) Scalar(ctx context.Context, q *ast.SelectQuery) (interface{}, error) {
	sqlText, args, err := e.compiler.Compile(q)
	if err != nil {
		return nil, err
	}
	var v interface{}
	row := e.session.QueryRow(ctx, sqlText, args...)
	if err := row.Scan(&v); err != nil {
		return nil, client.Normalize(err)
	}
	return v, nil
}

// ScalarOr is Scalar with a fallback returned when no row matches
func (e *Executor) ScalarOr(ctx context.Context, q *ast.SelectQuery, fallback interface{}) (interface{}, error) {
	v, err := e.Scalar(ctx, q)
	if dberr.IsDoesNotExist(err) {
		return fallback, nil
	}
	return v, err
}

// ScalarTuple returns the full first row as raw values, for queries
// projecting several aggregates at once. Zero matching rows is a
// DoesNotExist error.
func (e *Executor) ScalarTuple(ctx context.Context, q *ast.SelectQuery) ([]interface{}, error) {
	rows, err := e.Select(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	if err := rows.fetch(1); err != nil {
		return nil, err
	}
	if len(rows.cache) == 0 {
		return nil, dberr.New(dberr.DoesNotExist, "no rows matched")
	}
	return rows.cache[0], nil
}

// Count returns the number of rows the query would produce. Ordering,
// limit and offset are stripped; grouped or distinct queries are counted
// through a wrapping subquery.
func (e *Executor) Count(ctx context.Context, q *ast.SelectQuery) (int64, error) {
	cq := *q
	cq.OrderBys = nil
	cq.LimitN = -1
	cq.OffsetN = -1

	count := ast.Fn("COUNT", ast.RawSQL("1"))
	if len(cq.GroupBys) > 0 || cq.IsDistinct {
		return e.scalarInt(ctx, ast.Select(&cq, count))
	}
	cq.Projections = []ast.Node{count}
	return e.scalarInt(ctx, &cq)
}

// Exists reports whether the query matches at least one row
func (e *Executor) Exists(ctx context.Context, q *ast.SelectQuery) (bool, error) {
	cq := *q
	cq.Projections = []ast.Node{ast.RawSQL("1")}
	cq.OrderBys = nil
	cq.LimitN = 1
	_, err := e.Scalar(ctx, &cq)
	if dberr.IsDoesNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Get runs the query limited to one row and returns it as a record.
// Zero matching rows is a DoesNotExist error.
func (e *Executor) Get(ctx context.Context, q *ast.SelectQuery) (*Record, error) {
	rows, err := e.Select(ctx, q.Limit(1))
	if err != nil {
		return nil, err
	}
	recs, err := rows.Records()
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, dberr.New(dberr.DoesNotExist, "no rows matched")
	}
	return recs[0], nil
}

func (e *Executor) scalarInt(ctx context.Context, q *ast.SelectQuery) (int64, error) {
	sqlText, args, err := e.compiler.Compile(q)
	if err != nil {
		return 0, err
	}
	var n int64
	row := e.session.QueryRow(ctx, sqlText, args...)
	if err := row.Scan(&n); err != nil {
		return 0, client.Normalize(err)
	}
	return n, nil
}
