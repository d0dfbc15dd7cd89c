package ast

import (
	"github.com/quillsql/quill/schema"
)

// Query is the closed set of statement values: *SelectQuery, *InsertQuery,
// *UpdateQuery and *DeleteQuery.
type Query interface {
	query()
}

// Source is a FROM or JOIN source: an *EntityRef or a *SelectQuery.
type Source interface {
	Node
	source()
}

func (*EntityRef) source()   {}
func (*SelectQuery) source() {}

// JoinKind identifies the join type of an edge
type JoinKind int

const (
	// JoinInner is an INNER JOIN
	JoinInner JoinKind = iota
	// JoinLeftOuter is a LEFT OUTER JOIN
	JoinLeftOuter
	// JoinRightOuter is a RIGHT OUTER JOIN
	JoinRightOuter
	// JoinFull is a FULL JOIN
	JoinFull
)

// JoinEdge connects two sources in the join graph. Edges are stored in the
// order Join was called; the compiler traverses them in that order.
type JoinEdge struct {
	// Src is the anchor the join was issued from
	Src Source
	// Dst is the joined source
	Dst Source
	// Kind is the join type
	Kind JoinKind
	// On is the join condition; nil means resolve via foreign key
	On Node
}

// ConflictPolicy selects INSERT behavior on a constraint conflict
type ConflictPolicy string

const (
	// ConflictNone raises the backend's constraint error
	ConflictNone ConflictPolicy = ""
	// ConflictIgnore leaves the existing conflicting row untouched
	ConflictIgnore ConflictPolicy = "IGNORE"
	// ConflictReplace substitutes the new values for the conflicting row
	ConflictReplace ConflictPolicy = "REPLACE"
)

// SelectQuery describes a SELECT statement. All builder methods return a
// structural clone; the receiver is never mutated.
type SelectQuery struct {
	// From is the root source
	From Source
	// Projections are the selected expressions; empty means the root
	// entity's fields in schema order
	Projections []Node
	// Joins are the join edges in issue order
	Joins []JoinEdge
	// Filter is the WHERE condition
	Filter Node
	// GroupBys are the GROUP BY expressions
	GroupBys []Node
	// HavingCond is the HAVING condition
	HavingCond Node
	// OrderBys are the ORDER BY expressions
	OrderBys []Node
	// LimitN is the LIMIT, negative when unset
	LimitN int
	// OffsetN is the OFFSET, negative when unset
	OffsetN int
	// IsDistinct selects DISTINCT
	IsDistinct bool
	// ForUpdateRow selects FOR UPDATE
	ForUpdateRow bool
	// SubAlias is the explicit alias when used as a subquery
	SubAlias string

	// anchor is the current join anchor, moved by Join and Switch
	anchor Source
}

func (*SelectQuery) node()  {}
func (*SelectQuery) query() {}

// Select starts a SELECT over a root source
func Select(from Source, projections ...Node) *SelectQuery {
	return &SelectQuery{
		From:        from,
		Projections: projections,
		LimitN:      -1,
		OffsetN:     -1,
		anchor:      from,
	}
}

// clone produces a structural copy with copied nested slices
func (q *SelectQuery) clone() *SelectQuery {
	c := *q
	c.Projections = append([]Node(nil), q.Projections...)
	c.Joins = append([]JoinEdge(nil), q.Joins...)
	c.GroupBys = append([]Node(nil), q.GroupBys...)
	c.OrderBys = append([]Node(nil), q.OrderBys...)
	return &c
}

// Where adds a condition, AND-ed with any existing one. Returns a clone.
func (q *SelectQuery) Where(cond Node) *SelectQuery {
	c := q.clone()
	if c.Filter == nil {
		c.Filter = cond
	} else {
		c.Filter = And(c.Filter, cond)
	}
	return c
}

// Join joins the current anchor to dst and moves the anchor to dst.
// A nil on-condition asks the compiler to resolve the foreign-key relation
// between the two sources; if none exists, compilation fails. Returns a
// clone.
func (q *SelectQuery) Join(dst Source, kind JoinKind, on Node) *SelectQuery {
	c := q.clone()
	c.Joins = append(c.Joins, JoinEdge{Src: c.anchor, Dst: dst, Kind: kind, On: on})
	c.anchor = dst
	return c
}

// Switch moves the join anchor without adding an edge. Returns a clone.
func (q *SelectQuery) Switch(src Source) *SelectQuery {
	c := q.clone()
	c.anchor = src
	return c
}

// GroupBy adds GROUP BY expressions. Returns a clone.
func (q *SelectQuery) GroupBy(nodes ...Node) *SelectQuery {
	c := q.clone()
	c.GroupBys = append(c.GroupBys, nodes...)
	return c
}

// Having adds a HAVING condition, AND-ed with any existing one. Returns a
// clone.
func (q *SelectQuery) Having(cond Node) *SelectQuery {
	c := q.clone()
	if c.HavingCond == nil {
		c.HavingCond = cond
	} else {
		c.HavingCond = And(c.HavingCond, cond)
	}
	return c
}

// OrderBy adds ORDER BY expressions. Returns a clone.
func (q *SelectQuery) OrderBy(nodes ...Node) *SelectQuery {
	c := q.clone()
	c.OrderBys = append(c.OrderBys, nodes...)
	return c
}

// Limit sets the LIMIT. Returns a clone.
func (q *SelectQuery) Limit(n int) *SelectQuery {
	c := q.clone()
	c.LimitN = n
	return c
}

// Offset sets the OFFSET. Returns a clone.
func (q *SelectQuery) Offset(n int) *SelectQuery {
	c := q.clone()
	c.OffsetN = n
	return c
}

// Distinct selects DISTINCT. Returns a clone.
func (q *SelectQuery) Distinct() *SelectQuery {
	c := q.clone()
	c.IsDistinct = true
	return c
}

// ForUpdate selects FOR UPDATE. Returns a clone.
func (q *SelectQuery) ForUpdate() *SelectQuery {
	c := q.clone()
	c.ForUpdateRow = true
	return c
}

// As sets the explicit subquery alias, used verbatim by the enclosing
// query's compiler. Returns a clone.
func (q *SelectQuery) As(name string) *SelectQuery {
	c := q.clone()
	c.SubAlias = name
	return c
}

// Column references an aliased projection of this query from an enclosing
// query.
func (q *SelectQuery) Column(name string) *SubqueryColumn {
	return &SubqueryColumn{Query: q, Name: name}
}

// RootEntity returns the root source as an entity ref, nil when the root
// is a subquery.
func (q *SelectQuery) RootEntity() *EntityRef {
	if e, ok := q.From.(*EntityRef); ok {
		return e
	}
	return nil
}

// InsertRow is one row of column name to value-node mappings
type InsertRow map[string]Node

// InsertQuery describes an INSERT statement. Builder methods return
// structural clones.
type InsertQuery struct {
	// Table is the target table
	Table *schema.Table
	// Rows are the literal rows to insert
	Rows []InsertRow
	// FromSelect supplies the row source in place of literal values
	FromSelect *SelectQuery
	// FromFields names the target columns for FromSelect, in order
	FromFields []string
	// OnConflict selects conflict behavior
	OnConflict ConflictPolicy
	// Returning are the RETURNING expressions
	Returning []Node
}

func (*InsertQuery) query() {}

// Insert starts an INSERT into a table
func Insert(table *schema.Table) *InsertQuery {
	return &InsertQuery{Table: table}
}

func (q *InsertQuery) clone() *InsertQuery {
	c := *q
	c.Rows = append([]InsertRow(nil), q.Rows...)
	c.FromFields = append([]string(nil), q.FromFields...)
	c.Returning = append([]Node(nil), q.Returning...)
	return &c
}

// Values appends one row of values; non-node values are wrapped as
// literals. Returns a clone.
func (q *InsertQuery) Values(row map[string]interface{}) *InsertQuery {
	c := q.clone()
	r := make(InsertRow, len(row))
	for k, v := range row {
		r[k] = wrap(v)
	}
	c.Rows = append(c.Rows, r)
	return c
}

// From sets a subquery row source targeting the named fields. Returns a
// clone.
func (q *InsertQuery) From(sel *SelectQuery, fields ...string) *InsertQuery {
	c := q.clone()
	c.FromSelect = sel
	c.FromFields = fields
	return c
}

// Conflict sets the on-conflict policy. Returns a clone.
func (q *InsertQuery) Conflict(policy ConflictPolicy) *InsertQuery {
	c := q.clone()
	c.OnConflict = policy
	return c
}

// WithReturning adds RETURNING expressions. Returns a clone.
func (q *InsertQuery) WithReturning(nodes ...Node) *InsertQuery {
	c := q.clone()
	c.Returning = append(c.Returning, nodes...)
	return c
}

// SetPair is one SET assignment of an UPDATE, kept in call order
type SetPair struct {
	// Field is the target field name
	Field string
	// Value is the assigned expression; may be a correlated scalar subquery
	Value Node
}

// UpdateQuery describes an UPDATE statement. Builder methods return
// structural clones.
type UpdateQuery struct {
	// Entity is the target table reference
	Entity *EntityRef
	// Sets are the SET assignments in call order
	Sets []SetPair
	// Filter is the WHERE condition
	Filter Node
	// Returning are the RETURNING expressions
	Returning []Node
}

func (*UpdateQuery) query() {}

// Update starts an UPDATE of a table
func Update(table *schema.Table) *UpdateQuery {
	return &UpdateQuery{Entity: Entity(table)}
}

func (q *UpdateQuery) clone() *UpdateQuery {
	c := *q
	c.Sets = append([]SetPair(nil), q.Sets...)
	c.Returning = append([]Node(nil), q.Returning...)
	return &c
}

// Set appends one assignment; non-node values are wrapped as literals.
// Returns a clone.
func (q *UpdateQuery) Set(field string, value interface{}) *UpdateQuery {
	c := q.clone()
	c.Sets = append(c.Sets, SetPair{Field: field, Value: wrap(value)})
	return c
}

// Where adds a condition, AND-ed with any existing one. Returns a clone.
func (q *UpdateQuery) Where(cond Node) *UpdateQuery {
	c := q.clone()
	if c.Filter == nil {
		c.Filter = cond
	} else {
		c.Filter = And(c.Filter, cond)
	}
	return c
}

// WithReturning adds RETURNING expressions. Returns a clone.
func (q *UpdateQuery) WithReturning(nodes ...Node) *UpdateQuery {
	c := q.clone()
	c.Returning = append(c.Returning, nodes...)
	return c
}

// DeleteQuery describes a DELETE statement. Builder methods return
// structural clones.
type DeleteQuery struct {
	// Entity is the target table reference
	Entity *EntityRef
	// Filter is the WHERE condition
	Filter Node
	// Returning are the RETURNING expressions
	Returning []Node
}

func (*DeleteQuery) query() {}

// Delete starts a DELETE from a table
func Delete(table *schema.Table) *DeleteQuery {
	return &DeleteQuery{Entity: Entity(table)}
}

func (q *DeleteQuery) clone() *DeleteQuery {
	c := *q
	c.Returning = append([]Node(nil), q.Returning...)
	return &c
}

// Where adds a condition, AND-ed with any existing one. Returns a clone.
func (q *DeleteQuery) Where(cond Node) *DeleteQuery {
	c := q.clone()
	if c.Filter == nil {
		c.Filter = cond
	} else {
		c.Filter = And(c.Filter, cond)
	}
	return c
}

// WithReturning adds RETURNING expressions. Returns a clone.
func (q *DeleteQuery) WithReturning(nodes ...Node) *DeleteQuery {
	c := q.clone()
	c.Returning = append(c.Returning, nodes...)
	return c
}
