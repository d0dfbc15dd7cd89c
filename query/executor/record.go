package executor

import (
	"context"
	"reflect"

	"github.com/quillsql/quill/dberr"
	"github.com/quillsql/quill/query/ast"
	"github.com/quillsql/quill/schema"
)

// Record is one result row keyed by field name. Joined rows are attached
// as relations or children; foreign keys can be resolved lazily with
// Related.
type Record struct {
	table     *schema.Table
	exec      *Executor
	values    map[string]interface{}
	relations map[string]*Record
	children  map[string][]*Record
	related   map[string]*Record
}

func newRecord(exec *Executor, table *schema.Table) *Record {
	return &Record{
		table:     table,
		exec:      exec,
		values:    make(map[string]interface{}),
		relations: make(map[string]*Record),
	}
}

// Table returns the record's table, nil for computed-only rows
func (r *Record) Table() *schema.Table {
	return r.table
}

// Get returns a column value and whether it is present
func (r *Record) Get(name string) (interface{}, bool) {
	v, ok := r.values[name]
	return v, ok
}

// Value returns a column value, nil when absent
func (r *Record) Value(name string) interface{} {
	return r.values[name]
}

// Set assigns a column value. Assigning a new value to a foreign key
// field drops the lazily cached related record so the next Related call
// re-resolves it; re-assigning the current value keeps the cache.
func (r *Record) Set(name string, v interface{}) {
	if cur, ok := r.values[name]; ok && sameScalar(cur, v) {
		r.values[name] = v
		return
	}
	r.values[name] = v
	delete(r.related, name)
}

// sameScalar reports equality of two comparable values; values of
// uncomparable types never match.
func sameScalar(a, b interface{}) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if !reflect.TypeOf(a).Comparable() || !reflect.TypeOf(b).Comparable() {
		return false
	}
	return a == b
}

// ID returns the primary key value, nil when the record has no table or
// the key was not selected.
func (r *Record) ID() interface{} {
	if r.table == nil || r.table.PrimaryKey() == nil {
		return nil
	}
	return r.values[r.table.PrimaryKey().Name]
}

// Values returns the underlying column map
func (r *Record) Values() map[string]interface{} {
	return r.values
}

// Relation returns the joined record attached under the given name
func (r *Record) Relation(name string) *Record {
	return r.relations[name]
}

// Children returns the collapsed child records attached under the given
// relation name by aggregate assembly.
func (r *Record) Children(name string) []*Record {
	return r.children[name]
}

// empty reports whether every selected column is NULL, as produced by an
// outer join with no matching row
func (r *Record) empty() bool {
	for _, v := range r.values {
		if v != nil {
			return false
		}
	}
	return true
}

func (r *Record) addChild(name string, rec *Record) {
	if r.children == nil {
		r.children = make(map[string][]*Record)
	}
	r.children[name] = append(r.children[name], rec)
}

// Related resolves the record referenced by a foreign key field, issuing
// one SELECT on first use and caching the result. A NULL key resolves to
// nil without a query; a dangling key is a DoesNotExist error.
func (r *Record) Related(ctx context.Context, field string) (*Record, error) {
	if r.table == nil {
		return nil, dberr.New(dberr.Configuration, "record has no table")
	}
	f, ok := r.table.Field(field)
	if !ok || f.Ref == nil {
		return nil, dberr.Newf(dberr.Configuration,
			"field %q on table %q is not a foreign key", field, r.table.Name())
	}
	if rec, cached := r.related[field]; cached {
		return rec, nil
	}
	// A joined row attached under the relation name satisfies the lookup
	// without a query.
	if rec := r.relations[relationKey(f)]; rec != nil {
		return rec, nil
	}

	v := r.values[field]
	if v == nil {
		return nil, nil
	}
	target := ast.Entity(f.Ref.Table())
	rec, err := r.exec.Get(ctx,
		ast.Select(target).Where(target.Col(f.Ref.Name).Eq(v)))
	if err != nil {
		return nil, err
	}
	if r.related == nil {
		r.related = make(map[string]*Record)
	}
	r.related[field] = rec
	return rec, nil
}

// relationKey is the attachment name for a foreign key field
func relationKey(f *schema.Field) string {
	name := f.Name
	if len(name) > 3 && name[len(name)-3:] == "_id" {
		return name[:len(name)-3]
	}
	return name
}
