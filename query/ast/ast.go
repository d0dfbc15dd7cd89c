// Package ast defines the expression node model and the query values
// consumed by the SQL compiler. Nodes are immutable once constructed;
// query builder methods return structural clones.
package ast

import (
	"github.com/quillsql/quill/schema"
)

// Node is the smallest composable unit of an expression tree.
// The variant set is closed: Value, Column, Expression, Function, Clause,
// Aliased, Ordering, EntityRef and *SelectQuery (as a subquery).
type Node interface {
	node()
}

// Op identifies a binary or connective operator
type Op int

const (
	// OpAnd is logical conjunction
	OpAnd Op = iota
	// OpOr is logical disjunction
	OpOr
	// OpEq is equality
	OpEq
	// OpNe is inequality
	OpNe
	// OpLt is less-than
	OpLt
	// OpLe is less-or-equal
	OpLe
	// OpGt is greater-than
	OpGt
	// OpGe is greater-or-equal
	OpGe
	// OpIn is set membership
	OpIn
	// OpNotIn is negated set membership
	OpNotIn
	// OpIs is IS (NULL comparison)
	OpIs
	// OpIsNot is IS NOT
	OpIsNot
	// OpLike is pattern matching
	OpLike
	// OpILike is case-insensitive pattern matching
	OpILike
	// OpBetween is range membership
	OpBetween
	// OpAdd is addition
	OpAdd
	// OpSub is subtraction
	OpSub
	// OpMul is multiplication
	OpMul
	// OpDiv is division
	OpDiv
	// OpMod is modulo
	OpMod
	// OpConcat is string concatenation
	OpConcat
	// OpBinAnd is bitwise and
	OpBinAnd
	// OpBinOr is bitwise or
	OpBinOr
	// OpXor is bitwise xor
	OpXor
)

// Precedence returns the binding strength of the operator; higher binds
// tighter. Used to decide when a sub-expression needs parentheses.
func (op Op) Precedence() int {
	switch op {
	case OpOr:
		return 1
	case OpAnd:
		return 2
	case OpEq, OpNe, OpLt, OpLe, OpGt, OpGe, OpIn, OpNotIn,
		OpIs, OpIsNot, OpLike, OpILike, OpBetween:
		return 4
	case OpBinAnd, OpBinOr, OpXor:
		return 5
	case OpAdd, OpSub, OpConcat:
		return 6
	case OpMul, OpDiv, OpMod:
		return 7
	default:
		return 4
	}
}

// PrecedenceNot is the binding strength of NOT, between AND and the
// comparison operators.
const PrecedenceNot = 3

// Value is a literal parameter value. Multi-valued literals (for IN)
// carry a slice.
type Value struct {
	// V is the literal value, passed through as a statement parameter
	V interface{}
	// Type optionally names the storage type for per-type dialect overrides
	Type schema.TypeCode
	// Typed reports whether Type was explicitly set
	Typed bool
}

func (*Value) node() {}

// Lit wraps a literal value as a node
func Lit(v interface{}) *Value {
	return &Value{V: v}
}

// TypedLit wraps a literal value with an explicit type code
func TypedLit(v interface{}, t schema.TypeCode) *Value {
	return &Value{V: v, Type: t, Typed: true}
}

// EntityRef is a table reference with its own identity. Two refs over the
// same table are distinct join sources; this is what makes self-joins and
// repeated aliasing correct. Alias numbering keys on the ref identity,
// never the table name.
type EntityRef struct {
	// Table is the underlying schema table
	Table *schema.Table
	// Name is the user-chosen alias, empty for compiler-assigned aliases
	Name string
}

func (*EntityRef) node() {}

// Entity creates a reference to a table
func Entity(t *schema.Table) *EntityRef {
	return &EntityRef{Table: t}
}

// Alias creates a new, distinct reference to the same table. The compiler
// assigns it its own alias, enabling self-joins.
func (e *EntityRef) Alias() *EntityRef {
	return &EntityRef{Table: e.Table}
}

// As creates a new reference carrying an explicit alias, used verbatim by
// the compiler without consuming the auto-increment counter.
func (e *EntityRef) As(name string) *EntityRef {
	return &EntityRef{Table: e.Table, Name: name}
}

// Col references a field of this entity by name. Unknown names are
// rejected at compile time, not here.
func (e *EntityRef) Col(name string) *Column {
	return &Column{Entity: e, Name: name}
}

// Column references a field of a particular entity
type Column struct {
	// Entity is the table reference the column belongs to
	Entity *EntityRef
	// Name is the field name, validated against the schema at compile time
	Name string
}

func (*Column) node() {}

// Field resolves the column against its table's schema
func (c *Column) Field() (*schema.Field, bool) {
	return c.Entity.Table.Field(c.Name)
}

// Expression is a binary operation, optionally negated
type Expression struct {
	// Op is the operator
	Op Op
	// LHS is the left operand
	LHS Node
	// RHS is the right operand
	RHS Node
	// Negated wraps the rendering in NOT (...)
	Negated bool
}

func (*Expression) node() {}

// Not returns a negated copy of the expression
func (e *Expression) Not() *Expression {
	return &Expression{Op: e.Op, LHS: e.LHS, RHS: e.RHS, Negated: !e.Negated}
}

// Function is a function call such as COUNT or LOWER
type Function struct {
	// Name is the function name, emitted as-is
	Name string
	// Args are the call arguments
	Args []Node
}

func (*Function) node() {}

// Fn builds a function call node
func Fn(name string, args ...Node) *Function {
	return &Function{Name: name, Args: args}
}

// As attaches a projection alias to the function call
func (f *Function) As(name string) *Aliased { return As(f, name) }

// Glue is the connective joining the members of a Clause
type Glue int

const (
	// GlueAnd joins members with AND
	GlueAnd Glue = iota
	// GlueOr joins members with OR
	GlueOr
)

// Clause is a list of nodes joined by a connective. A clause with zero
// members compiles to nothing and contributes no parameters.
type Clause struct {
	// Glue is the connective
	Glue Glue
	// Nodes are the members
	Nodes []Node
}

func (*Clause) node() {}

// And joins nodes with AND
func And(nodes ...Node) *Clause {
	return &Clause{Glue: GlueAnd, Nodes: nodes}
}

// Or joins nodes with OR
func Or(nodes ...Node) *Clause {
	return &Clause{Glue: GlueOr, Nodes: nodes}
}

// Aliased attaches a display name to a node, usable in projections and
// referenced from an outer query via SelectQuery.Column.
type Aliased struct {
	// Node is the aliased node
	Node Node
	// Name is the display name
	Name string
}

func (*Aliased) node() {}

// As attaches an alias to a node
func As(n Node, name string) *Aliased {
	return &Aliased{Node: n, Name: name}
}

// Ordering wraps a node with a sort direction for ORDER BY
type Ordering struct {
	// Node is the sort key
	Node Node
	// Desc selects descending order
	Desc bool
}

func (*Ordering) node() {}

// Asc orders ascending by the node
func Asc(n Node) *Ordering {
	return &Ordering{Node: n}
}

// Desc orders descending by the node
func Desc(n Node) *Ordering {
	return &Ordering{Node: n, Desc: true}
}

// Raw is a SQL fragment emitted verbatim, with no quoting or
// parameterization. The caller is responsible for its validity.
type Raw struct {
	// SQL is the fragment text
	SQL string
}

func (*Raw) node() {}

// RawSQL wraps a verbatim SQL fragment as a node
func RawSQL(sql string) *Raw {
	return &Raw{SQL: sql}
}

// SubqueryColumn references an aliased projection of a subquery from the
// enclosing query.
type SubqueryColumn struct {
	// Query is the subquery owning the projection
	Query *SelectQuery
	// Name is the projection's alias
	Name string
}

func (*SubqueryColumn) node() {}

// wrap coerces an arbitrary value into a Node, passing nodes through
func wrap(v interface{}) Node {
	if n, ok := v.(Node); ok {
		return n
	}
	return Lit(v)
}

// binary builds an Expression with the value side auto-wrapped
func binary(op Op, lhs Node, rhs interface{}) *Expression {
	return &Expression{Op: op, LHS: lhs, RHS: wrap(rhs)}
}

// Eq compares the column for equality
func (c *Column) Eq(v interface{}) *Expression { return binary(OpEq, c, v) }

// Ne compares the column for inequality
func (c *Column) Ne(v interface{}) *Expression { return binary(OpNe, c, v) }

// Lt compares the column with less-than
func (c *Column) Lt(v interface{}) *Expression { return binary(OpLt, c, v) }

// Le compares the column with less-or-equal
func (c *Column) Le(v interface{}) *Expression { return binary(OpLe, c, v) }

// Gt compares the column with greater-than
func (c *Column) Gt(v interface{}) *Expression { return binary(OpGt, c, v) }

// Ge compares the column with greater-or-equal
func (c *Column) Ge(v interface{}) *Expression { return binary(OpGe, c, v) }

// In tests membership in a list of values or a subquery
func (c *Column) In(v interface{}) *Expression { return binary(OpIn, c, v) }

// NotIn tests non-membership in a list of values or a subquery
func (c *Column) NotIn(v interface{}) *Expression { return binary(OpNotIn, c, v) }

// Like matches the column against a pattern
func (c *Column) Like(pattern string) *Expression { return binary(OpLike, c, pattern) }

// ILike matches the column against a pattern, case-insensitively
func (c *Column) ILike(pattern string) *Expression { return binary(OpILike, c, pattern) }

// IsNull tests the column for NULL
func (c *Column) IsNull() *Expression { return binary(OpIs, c, nil) }

// IsNotNull tests the column for NOT NULL
func (c *Column) IsNotNull() *Expression { return binary(OpIsNot, c, nil) }

// Between tests membership in an inclusive range
func (c *Column) Between(lo, hi interface{}) *Expression {
	return binary(OpBetween, c, []interface{}{lo, hi})
}

// EqCol compares two columns
func (c *Column) EqCol(other *Column) *Expression { return binary(OpEq, c, other) }

// Add builds an addition expression
func (c *Column) Add(v interface{}) *Expression { return binary(OpAdd, c, v) }

// Sub builds a subtraction expression
func (c *Column) Sub(v interface{}) *Expression { return binary(OpSub, c, v) }

// Mul builds a multiplication expression
func (c *Column) Mul(v interface{}) *Expression { return binary(OpMul, c, v) }

// Div builds a division expression
func (c *Column) Div(v interface{}) *Expression { return binary(OpDiv, c, v) }

// Mod builds a modulo expression
func (c *Column) Mod(v interface{}) *Expression { return binary(OpMod, c, v) }

// Asc orders ascending by the column
func (c *Column) Asc() *Ordering { return Asc(c) }

// Desc orders descending by the column
func (c *Column) Desc() *Ordering { return Desc(c) }

// As attaches a projection alias to the column
func (c *Column) As(name string) *Aliased { return As(c, name) }
