package executor

import (
	"database/sql"
	"fmt"
	"strings"

	"github.com/quillsql/quill/query/ast"
	"github.com/quillsql/quill/query/sqlgen"
	"github.com/quillsql/quill/runtime/client"
	"github.com/quillsql/quill/schema"
)

// colMeta describes one result column: the entity and schema field it
// came from, nil for computed expressions, and its result key.
type colMeta struct {
	entity *ast.EntityRef
	field  *schema.Field
	name   string
}

// metaForNodes expands projection nodes into per-column metadata the same
// way the compiler expands them into SQL: a bare entity contributes one
// column per field in schema order.
func metaForNodes(nodes []ast.Node) []colMeta {
	var meta []colMeta
	for i, n := range nodes {
		switch v := n.(type) {
		case *ast.EntityRef:
			for _, f := range v.Table.Fields() {
				meta = append(meta, colMeta{entity: v, field: f, name: f.Name})
			}
		case *ast.Column:
			m := colMeta{entity: v.Entity, name: v.Name}
			if f, ok := v.Field(); ok {
				m.field = f
			}
			meta = append(meta, m)
		case *ast.Aliased:
			m := colMeta{name: v.Name}
			if col, ok := v.Node.(*ast.Column); ok {
				m.entity = col.Entity
				if f, fok := col.Field(); fok {
					m.field = f
				}
			}
			meta = append(meta, m)
		case *ast.Function:
			meta = append(meta, colMeta{name: strings.ToLower(v.Name)})
		default:
			meta = append(meta, colMeta{name: fmt.Sprintf("col%d", i)})
		}
	}
	return meta
}

// projectionMeta derives column metadata for a SELECT. Empty projections
// over an entity root mean all of its fields; over a subquery root they
// mean the subquery's own projections.
func projectionMeta(q *ast.SelectQuery) []colMeta {
	if len(q.Projections) > 0 {
		return metaForNodes(q.Projections)
	}
	if root := q.RootEntity(); root != nil {
		return metaForNodes([]ast.Node{root})
	}
	if sub, ok := q.From.(*ast.SelectQuery); ok {
		return projectionMeta(sub)
	}
	return nil
}

// Rows wraps a result set with a cache, so the single issued statement
// can be consumed repeatedly and in different shapes. Reading part of the
// set (First) and then the rest continues the original iteration.
type Rows struct {
	exec      *Executor
	query     *ast.SelectQuery
	meta      []colMeta
	sqlRows   *sql.Rows
	numCols   int
	cache     [][]interface{}
	exhausted bool
}

func newRows(e *Executor, q *ast.SelectQuery, rows *sql.Rows) (*Rows, error) {
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, client.Normalize(err)
	}
	return &Rows{
		exec:    e,
		query:   q,
		meta:    projectionMeta(q),
		sqlRows: rows,
		numCols: len(cols),
	}, nil
}

// newReturningRows wraps the rows produced by a RETURNING clause
func newReturningRows(e *Executor, table *schema.Table, returning []ast.Node, rows *sql.Rows) (*Rows, error) {
	cols, err := rows.Columns()
	if err != nil {
		rows.Close()
		return nil, client.Normalize(err)
	}
	root := ast.Entity(table)
	q := ast.Select(root, returning...)
	return &Rows{
		exec:    e,
		query:   q,
		meta:    metaForNodes(returning),
		sqlRows: rows,
		numCols: len(cols),
	}, nil
}

// fetch reads up to n more rows into the cache, all remaining rows when n
// is negative.
func (r *Rows) fetch(n int) error {
	if r.exhausted {
		return nil
	}
	for n != 0 {
		if !r.sqlRows.Next() {
			err := r.sqlRows.Err()
			r.sqlRows.Close()
			r.exhausted = true
			return client.Normalize(err)
		}
		vals := make([]interface{}, r.numCols)
		ptrs := make([]interface{}, r.numCols)
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := r.sqlRows.Scan(ptrs...); err != nil {
			r.sqlRows.Close()
			r.exhausted = true
			return client.Normalize(err)
		}
		r.cache = append(r.cache, vals)
		if n > 0 {
			n--
		}
	}
	return nil
}

// Close releases the underlying result set. Cached rows stay readable.
func (r *Rows) Close() error {
	if r.exhausted {
		return nil
	}
	r.exhausted = true
	return r.sqlRows.Close()
}

// Tuples returns all rows as raw value slices in projection order
func (r *Rows) Tuples() ([][]interface{}, error) {
	if err := r.fetch(-1); err != nil {
		return nil, err
	}
	return r.cache, nil
}

// Dicts returns all rows as maps keyed by result column name, with field
// coercions applied.
func (r *Rows) Dicts() ([]map[string]interface{}, error) {
	if err := r.fetch(-1); err != nil {
		return nil, err
	}
	out := make([]map[string]interface{}, 0, len(r.cache))
	for _, vals := range r.cache {
		row := make(map[string]interface{}, len(r.meta))
		for i, m := range r.meta {
			if i >= len(vals) {
				break
			}
			row[m.name] = normalize(m.field, vals[i])
		}
		out = append(out, row)
	}
	return out, nil
}

// First returns the first row as a record without consuming the rest of
// the result set. A later full read continues the same statement's
// iteration; no second statement is issued. Returns nil when the set is
// empty.
func (r *Rows) First() (*Record, error) {
	if len(r.cache) == 0 {
		if err := r.fetch(1); err != nil {
			return nil, err
		}
	}
	if len(r.cache) == 0 {
		return nil, nil
	}
	root, _ := r.assemble(r.cache[0], false)
	return root, nil
}

// Records returns all rows as records. Joined entities are attached to
// their join source under the relation name derived from the foreign key.
func (r *Rows) Records() ([]*Record, error) {
	if err := r.fetch(-1); err != nil {
		return nil, err
	}
	out := make([]*Record, 0, len(r.cache))
	for _, vals := range r.cache {
		root, _ := r.assemble(vals, false)
		out = append(out, root)
	}
	return out, nil
}

// AggregateRecords returns records with joined rows collapsed: contiguous
// result rows sharing the root primary key merge into one record, each
// contributing its joined rows as children. A repeated key after a gap
// starts a fresh record.
func (r *Rows) AggregateRecords() ([]*Record, error) {
	if err := r.fetch(-1); err != nil {
		return nil, err
	}
	root := r.query.RootEntity()
	var pkName string
	if root != nil && root.Table.PrimaryKey() != nil {
		pkName = root.Table.PrimaryKey().Name
	}

	var out []*Record
	var current *Record
	for _, vals := range r.cache {
		rowRoot, rowRecs := r.assemble(vals, true)
		same := current != nil && pkName != "" &&
			current.Value(pkName) == rowRoot.Value(pkName)
		if !same {
			current = rowRoot
			out = append(out, current)
		}
		for _, edge := range r.query.Joins {
			dst := rowRecs[edge.Dst]
			if dst == nil || dst.empty() {
				continue
			}
			src := rowRecs[edge.Src]
			if edge.Src == ast.Source(root) || src == nil {
				src = current
			}
			src.addChild(relationName(edge), dst)
		}
	}
	return out, nil
}

// assemble builds per-entity records for one raw row. Computed columns
// land on the root record. When aggregate is false, joined records are
// attached as single relations; the caller attaches children otherwise.
func (r *Rows) assemble(vals []interface{}, aggregate bool) (*Record, map[ast.Source]*Record) {
	records := make(map[ast.Source]*Record)

	get := func(entity *ast.EntityRef) *Record {
		if rec, ok := records[entity]; ok {
			return rec
		}
		rec := newRecord(r.exec, entity.Table)
		records[entity] = rec
		return rec
	}

	rootEntity := r.query.RootEntity()
	var rootRec *Record
	if rootEntity != nil {
		rootRec = get(rootEntity)
	} else {
		rootRec = newRecord(r.exec, nil)
	}

	for i, m := range r.meta {
		if i >= len(vals) {
			break
		}
		v := normalize(m.field, vals[i])
		if m.entity == nil {
			rootRec.values[m.name] = v
		} else {
			get(m.entity).values[m.name] = v
		}
	}

	if !aggregate {
		for _, edge := range r.query.Joins {
			dst := records[edge.Dst]
			if dst == nil || dst.empty() {
				continue
			}
			src := records[edge.Src]
			if src == nil {
				src = rootRec
			}
			src.relations[relationName(edge)] = dst
		}
	}
	return rootRec, records
}

// relationName derives the key a joined record is attached under: the
// foreign key field name without its "_id" suffix when the source holds
// the key, the destination's table name for reverse joins.
func relationName(edge ast.JoinEdge) string {
	dst, dok := edge.Dst.(*ast.EntityRef)
	if !dok {
		if sub, ok := edge.Dst.(*ast.SelectQuery); ok && sub.SubAlias != "" {
			return sub.SubAlias
		}
		return "sub"
	}
	if src, ok := edge.Src.(*ast.EntityRef); ok {
		if fk, reverse, found := sqlgen.ForeignKeyBetween(src.Table, dst.Table); found && !reverse {
			return relationKey(fk)
		}
	}
	return dst.Table.Name()
}

// normalize converts a scanned value into the field's application form
func normalize(f *schema.Field, v interface{}) interface{} {
	if f == nil || v == nil {
		return v
	}
	switch f.Type {
	case schema.TypeText:
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
	case schema.TypeBool:
		if n, ok := v.(int64); ok {
			v = n != 0
		}
	}
	return f.Load(v)
}
