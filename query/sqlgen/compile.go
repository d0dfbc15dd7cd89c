package sqlgen

import (
	"reflect"
	"strconv"
	"strings"

	"github.com/quillsql/quill/dberr"
	"github.com/quillsql/quill/query/ast"
	"github.com/quillsql/quill/schema"
)

// Compiler compiles query values into SQL for one dialect
type Compiler struct {
	dialect *Dialect
}

// NewCompiler creates a compiler for the given dialect
func NewCompiler(d *Dialect) *Compiler {
	return &Compiler{dialect: d}
}

// Dialect returns the compiler's dialect
func (c *Compiler) Dialect() *Dialect {
	return c.dialect
}

// Compile emits SQL and positionally-matched parameters for a query.
// Compile-time failures (unknown field, unresolvable join) are
// ConfigurationErrors raised before any statement could be issued.
func (c *Compiler) Compile(q ast.Query) (string, []interface{}, error) {
	e := &emitter{dialect: c.dialect, scope: newScope(nil)}
	var err error
	switch query := q.(type) {
	case *ast.SelectQuery:
		err = e.selectSQL(query)
	case *ast.InsertQuery:
		err = e.insertSQL(query)
	case *ast.UpdateQuery:
		err = e.updateSQL(query)
	case *ast.DeleteQuery:
		err = e.deleteSQL(query)
	default:
		err = dberr.Newf(dberr.Programming, "unsupported query type %T", q)
	}
	if err != nil {
		return "", nil, err
	}
	return e.sb.String(), e.params, nil
}

// scope is one compilation's alias map. Each subquery compiles in a child
// scope with independent numbering; lookups fall back to the parent so
// correlated subqueries can reference outer aliases.
type scope struct {
	aliases map[interface{}]string
	next    int
	parent  *scope
}

func newScope(parent *scope) *scope {
	return &scope{aliases: make(map[interface{}]string), next: 1, parent: parent}
}

// assign gives the source a stable alias keyed by object identity. An
// explicit user alias is used verbatim and does not consume the counter.
func (s *scope) assign(src ast.Source) string {
	if alias, ok := s.aliases[src]; ok {
		return alias
	}
	var explicit string
	switch v := src.(type) {
	case *ast.EntityRef:
		explicit = v.Name
	case *ast.SelectQuery:
		explicit = v.SubAlias
	}
	alias := explicit
	if alias == "" {
		alias = "t" + strconv.Itoa(s.next)
		s.next++
	}
	s.aliases[src] = alias
	return alias
}

// lookup finds the alias for a source, searching enclosing scopes
func (s *scope) lookup(src ast.Source) (string, bool) {
	for sc := s; sc != nil; sc = sc.parent {
		if alias, ok := sc.aliases[src]; ok {
			return alias, true
		}
	}
	return "", false
}

// emitter writes SQL text and collects parameters in one walk
type emitter struct {
	dialect *Dialect
	sb      strings.Builder
	params  []interface{}
	argN    int
	scope   *scope
}

func (e *emitter) write(s string) {
	e.sb.WriteString(s)
}

// placeholder appends a parameter and writes its token. The dialect's
// per-type conversion is applied before binding.
func (e *emitter) placeholder(v interface{}, t schema.TypeCode, typed bool) {
	if typed {
		v = e.dialect.ConvertValue(v, t)
	}
	e.params = append(e.params, v)
	e.argN++
	if e.dialect.Placeholder == PlaceholderDollar {
		e.write("$" + strconv.Itoa(e.argN))
	} else {
		e.write("?")
	}
}

// isEmpty reports whether a node compiles to nothing
func isEmpty(n ast.Node) bool {
	cl, ok := n.(*ast.Clause)
	if !ok {
		return false
	}
	for _, member := range cl.Nodes {
		if !isEmpty(member) {
			return false
		}
	}
	return true
}

// precedenceOf returns the binding strength of a node for the purpose of
// parenthesization. Leaf nodes bind tightest.
func precedenceOf(n ast.Node) int {
	switch v := n.(type) {
	case *ast.Expression:
		if v.Negated {
			return ast.PrecedenceNot
		}
		return v.Op.Precedence()
	case *ast.Clause:
		if v.Glue == ast.GlueOr {
			return ast.OpOr.Precedence()
		}
		return ast.OpAnd.Precedence()
	default:
		return 100
	}
}

// operand renders a child node, wrapping it in parens only when it binds
// looser than the parent. Redundant wrapping is never emitted.
func (e *emitter) operand(n ast.Node, parentPrec int) error {
	if precedenceOf(n) < parentPrec {
		e.write("(")
		if err := e.node(n); err != nil {
			return err
		}
		e.write(")")
		return nil
	}
	return e.node(n)
}

// node renders a single node
func (e *emitter) node(n ast.Node) error {
	switch v := n.(type) {
	case *ast.Value:
		return e.value(v)
	case *ast.Column:
		return e.column(v)
	case *ast.Expression:
		return e.expression(v)
	case *ast.Function:
		return e.function(v)
	case *ast.Clause:
		return e.clause(v)
	case *ast.Aliased:
		if err := e.operand(v.Node, 100); err != nil {
			return err
		}
		e.write(" AS " + e.dialect.Quote(v.Name))
		return nil
	case *ast.Ordering:
		if err := e.node(v.Node); err != nil {
			return err
		}
		if v.Desc {
			e.write(" DESC")
		} else {
			e.write(" ASC")
		}
		return nil
	case *ast.Raw:
		e.write(v.SQL)
		return nil
	case *ast.SubqueryColumn:
		alias, ok := e.scope.lookup(v.Query)
		if !ok {
			return dberr.Newf(dberr.Configuration,
				"subquery column %q references a query outside the current scope", v.Name)
		}
		e.write(e.dialect.Quote(alias) + "." + e.dialect.Quote(v.Name))
		return nil
	case *ast.EntityRef:
		return dberr.New(dberr.Configuration,
			"entity reference is only valid as a projection or join source")
	case *ast.SelectQuery:
		return e.subquery(v)
	default:
		return dberr.Newf(dberr.Programming, "unsupported node type %T", n)
	}
}

// value renders a literal: NULL for nil, an expanded placeholder list for
// slices, a single placeholder otherwise.
func (e *emitter) value(v *ast.Value) error {
	if v.V == nil {
		e.write("NULL")
		return nil
	}
	rv := reflect.ValueOf(v.V)
	if rv.Kind() == reflect.Slice && rv.Type().Elem().Kind() != reflect.Uint8 {
		if rv.Len() == 0 {
			return dberr.New(dberr.Configuration, "empty value list")
		}
		e.write("(")
		for i := 0; i < rv.Len(); i++ {
			if i > 0 {
				e.write(", ")
			}
			e.placeholder(rv.Index(i).Interface(), v.Type, v.Typed)
		}
		e.write(")")
		return nil
	}
	e.placeholder(v.V, v.Type, v.Typed)
	return nil
}

// column renders an alias-qualified column reference after validating the
// field name against the schema.
func (e *emitter) column(c *ast.Column) error {
	f, ok := c.Field()
	if !ok {
		return dberr.Newf(dberr.Configuration, "unknown field %q on table %q",
			c.Name, c.Entity.Table.Name())
	}
	alias, found := e.scope.lookup(c.Entity)
	if !found {
		// Not part of any FROM in scope; qualify by table name.
		alias = c.Entity.Table.Name()
	}
	e.write(e.dialect.Quote(alias) + "." + e.dialect.Quote(f.Column))
	return nil
}

func (e *emitter) expression(x *ast.Expression) error {
	if x.Negated {
		e.write("NOT (")
		if err := e.expression(&ast.Expression{Op: x.Op, LHS: x.LHS, RHS: x.RHS}); err != nil {
			return err
		}
		e.write(")")
		return nil
	}

	prec := x.Op.Precedence()
	if err := e.operand(x.LHS, prec); err != nil {
		return err
	}

	// IS NULL / IS NOT NULL have no right operand to parameterize.
	if rhs, ok := x.RHS.(*ast.Value); ok && rhs.V == nil && (x.Op == ast.OpIs || x.Op == ast.OpIsNot) {
		e.write(" " + e.dialect.OpSQL(x.Op) + " NULL")
		return nil
	}

	e.write(" " + e.dialect.OpSQL(x.Op) + " ")

	if x.Op == ast.OpBetween {
		if rhs, ok := x.RHS.(*ast.Value); ok {
			rv := reflect.ValueOf(rhs.V)
			if rv.Kind() == reflect.Slice && rv.Len() == 2 {
				e.placeholder(rv.Index(0).Interface(), rhs.Type, rhs.Typed)
				e.write(" AND ")
				e.placeholder(rv.Index(1).Interface(), rhs.Type, rhs.Typed)
				return nil
			}
		}
		return dberr.New(dberr.Configuration, "BETWEEN requires a two-element value list")
	}

	return e.operand(x.RHS, prec)
}

func (e *emitter) function(f *ast.Function) error {
	e.write(f.Name + "(")
	for i, arg := range f.Args {
		if i > 0 {
			e.write(", ")
		}
		if err := e.node(arg); err != nil {
			return err
		}
	}
	e.write(")")
	return nil
}

// clause renders its members joined by the glue. Empty members are
// skipped; a fully empty clause contributes no SQL and no parameters.
func (e *emitter) clause(cl *ast.Clause) error {
	glue := " AND "
	if cl.Glue == ast.GlueOr {
		glue = " OR "
	}
	prec := precedenceOf(cl)

	first := true
	for _, member := range cl.Nodes {
		if isEmpty(member) {
			continue
		}
		if !first {
			e.write(glue)
		}
		first = false
		if err := e.operand(member, prec+1); err != nil {
			return err
		}
	}
	return nil
}

// subquery renders a parenthesized SELECT compiled in a fresh child scope.
// Placeholder numbering continues from the enclosing statement.
func (e *emitter) subquery(q *ast.SelectQuery) error {
	e.write("(")
	outer := e.scope
	e.scope = newScope(outer)
	err := e.selectSQL(q)
	e.scope = outer
	if err != nil {
		return err
	}
	e.write(")")
	return nil
}

// ForeignKeyBetween finds the foreign-key field connecting two tables.
// It first searches src for a field referencing dst; failing that, dst for
// a field referencing src, reported with reverse=true.
func ForeignKeyBetween(src, dst *schema.Table) (fk *schema.Field, reverse, ok bool) {
	for _, f := range src.Fields() {
		if f.Ref != nil && f.Ref.Table() == dst {
			return f, false, true
		}
	}
	for _, f := range dst.Fields() {
		if f.Ref != nil && f.Ref.Table() == src {
			return f, true, true
		}
	}
	return nil, false, false
}

// joinCondition resolves the ON expression for an edge with no explicit
// condition. Joining unrelated sources is a configuration error, never a
// silent cross join.
func joinCondition(edge ast.JoinEdge) (ast.Node, error) {
	if edge.On != nil {
		return edge.On, nil
	}
	src, srcOK := edge.Src.(*ast.EntityRef)
	dst, dstOK := edge.Dst.(*ast.EntityRef)
	if !srcOK || !dstOK {
		return nil, dberr.New(dberr.Configuration,
			"joining a subquery requires an explicit ON condition")
	}
	fk, reverse, ok := ForeignKeyBetween(src.Table, dst.Table)
	if !ok {
		return nil, dberr.Newf(dberr.Configuration,
			"no foreign key between %q and %q and no ON condition given",
			src.Table.Name(), dst.Table.Name())
	}
	if reverse {
		return dst.Col(fk.Name).EqCol(src.Col(fk.Ref.Name)), nil
	}
	return src.Col(fk.Name).EqCol(dst.Col(fk.Ref.Name)), nil
}

var joinKeywords = map[ast.JoinKind]string{
	ast.JoinInner:      "INNER JOIN",
	ast.JoinLeftOuter:  "LEFT OUTER JOIN",
	ast.JoinRightOuter: "RIGHT OUTER JOIN",
	ast.JoinFull:       "FULL JOIN",
}

// source renders a FROM/JOIN source with its alias
func (e *emitter) source(src ast.Source) error {
	alias, _ := e.scope.lookup(src)
	switch v := src.(type) {
	case *ast.EntityRef:
		e.write(e.dialect.Quote(v.Table.Name()) + " AS " + e.dialect.Quote(alias))
		return nil
	case *ast.SelectQuery:
		if err := e.subquery(v); err != nil {
			return err
		}
		e.write(" AS " + e.dialect.Quote(alias))
		return nil
	default:
		return dberr.Newf(dberr.Programming, "unsupported source type %T", src)
	}
}

// selectSQL emits a SELECT in fixed clause order, omitting empty clauses
func (e *emitter) selectSQL(q *ast.SelectQuery) error {
	// Aliases are assigned up front in traversal order: the root first,
	// then each join destination in the order Join was called. This keeps
	// numbering deterministic and lets projections reference aliases
	// before FROM is emitted.
	e.scope.assign(q.From)
	for _, edge := range q.Joins {
		e.scope.assign(edge.Src)
		e.scope.assign(edge.Dst)
	}

	e.write("SELECT ")
	if q.IsDistinct {
		e.write("DISTINCT ")
	}

	projections := q.Projections
	if len(projections) == 0 {
		if entity, ok := q.From.(*ast.EntityRef); ok {
			projections = []ast.Node{entity}
		}
	}
	if len(projections) == 0 {
		// Root is a subquery with no explicit projections.
		e.write("*")
	}
	first := true
	for _, p := range projections {
		if entity, ok := p.(*ast.EntityRef); ok {
			// A bare entity projects all of its fields in schema order.
			for _, f := range entity.Table.Fields() {
				if !first {
					e.write(", ")
				}
				first = false
				if err := e.column(entity.Col(f.Name)); err != nil {
					return err
				}
			}
			continue
		}
		if !first {
			e.write(", ")
		}
		first = false
		if err := e.node(p); err != nil {
			return err
		}
	}

	e.write(" FROM ")
	if err := e.source(q.From); err != nil {
		return err
	}

	for _, edge := range q.Joins {
		on, err := joinCondition(edge)
		if err != nil {
			return err
		}
		e.write(" " + joinKeywords[edge.Kind] + " ")
		if err := e.source(edge.Dst); err != nil {
			return err
		}
		e.write(" ON ")
		if err := e.node(on); err != nil {
			return err
		}
	}

	if q.Filter != nil && !isEmpty(q.Filter) {
		e.write(" WHERE ")
		if err := e.node(q.Filter); err != nil {
			return err
		}
	}

	if len(q.GroupBys) > 0 {
		e.write(" GROUP BY ")
		for i, g := range q.GroupBys {
			if i > 0 {
				e.write(", ")
			}
			if err := e.node(g); err != nil {
				return err
			}
		}
	}

	if q.HavingCond != nil && !isEmpty(q.HavingCond) {
		e.write(" HAVING ")
		if err := e.node(q.HavingCond); err != nil {
			return err
		}
	}

	if len(q.OrderBys) > 0 {
		e.write(" ORDER BY ")
		for i, o := range q.OrderBys {
			if i > 0 {
				e.write(", ")
			}
			if err := e.node(o); err != nil {
				return err
			}
		}
	}

	if q.LimitN >= 0 {
		e.write(" LIMIT " + strconv.Itoa(q.LimitN))
	} else if q.OffsetN >= 0 && e.dialect.OffsetRequiresLimit {
		e.write(" LIMIT " + e.dialect.NoLimit)
	}
	if q.OffsetN >= 0 {
		e.write(" OFFSET " + strconv.Itoa(q.OffsetN))
	}

	if q.ForUpdateRow {
		if !e.dialect.ForUpdate {
			return dberr.Newf(dberr.NotSupported,
				"dialect %q does not support FOR UPDATE", e.dialect.Name)
		}
		e.write(" FOR UPDATE")
	}

	return nil
}

// insertColumns determines the target fields of an insert: the table's
// fields, in schema order, restricted to keys present in any row. Every
// supplied key must name a known field.
func insertColumns(q *ast.InsertQuery) ([]*schema.Field, error) {
	present := make(map[string]bool)
	for _, row := range q.Rows {
		for key := range row {
			if _, ok := q.Table.Field(key); !ok {
				return nil, dberr.Newf(dberr.Configuration,
					"unknown field %q on table %q", key, q.Table.Name())
			}
			present[key] = true
		}
	}
	var fields []*schema.Field
	for _, f := range q.Table.Fields() {
		if present[f.Name] {
			fields = append(fields, f)
		}
	}
	return fields, nil
}

// rowValue resolves the node inserted for one field of one row, falling
// back to the field default or NULL for omitted keys.
func rowValue(row ast.InsertRow, f *schema.Field) (ast.Node, error) {
	if n, ok := row[f.Name]; ok {
		if v, isValue := n.(*ast.Value); isValue && !v.Typed {
			return ast.TypedLit(f.Store(v.V), f.Type), nil
		}
		return n, nil
	}
	if f.HasDefault {
		return ast.TypedLit(f.Default, f.Type), nil
	}
	if f.Null {
		return ast.Lit(nil), nil
	}
	return nil, dberr.Newf(dberr.Configuration,
		"row is missing a value for non-null field %q", f.Name)
}

// insertSQL emits an INSERT. Field names are validated before any text is
// produced, so an unknown key never reaches the backend.
func (e *emitter) insertSQL(q *ast.InsertQuery) error {
	if len(q.Returning) > 0 && !e.dialect.Returning {
		return dberr.Newf(dberr.NotSupported,
			"dialect %q does not support RETURNING", e.dialect.Name)
	}
	if len(q.Rows) > 1 && !e.dialect.MultiRowInsert {
		return dberr.Newf(dberr.NotSupported,
			"dialect %q does not support multi-row INSERT", e.dialect.Name)
	}

	keywords := "INSERT INTO"
	suffix := ""
	switch q.OnConflict {
	case ast.ConflictIgnore:
		if !e.dialect.ConflictIgnore.Supported {
			return dberr.Newf(dberr.NotSupported,
				"dialect %q does not support on-conflict IGNORE", e.dialect.Name)
		}
		if e.dialect.ConflictIgnore.Prefix != "" {
			keywords = e.dialect.ConflictIgnore.Prefix
		}
		suffix = e.dialect.ConflictIgnore.Suffix
	case ast.ConflictReplace:
		if !e.dialect.ConflictReplace.Supported {
			return dberr.Newf(dberr.NotSupported,
				"dialect %q does not support on-conflict REPLACE", e.dialect.Name)
		}
		if e.dialect.ConflictReplace.Prefix != "" {
			keywords = e.dialect.ConflictReplace.Prefix
		}
		suffix = e.dialect.ConflictReplace.Suffix
	}

	e.write(keywords + " " + e.dialect.Quote(q.Table.Name()))

	if q.FromSelect != nil {
		for _, name := range q.FromFields {
			if _, ok := q.Table.Field(name); !ok {
				return dberr.Newf(dberr.Configuration,
					"unknown field %q on table %q", name, q.Table.Name())
			}
		}
		e.write(" (")
		for i, name := range q.FromFields {
			if i > 0 {
				e.write(", ")
			}
			f, _ := q.Table.Field(name)
			e.write(e.dialect.Quote(f.Column))
		}
		e.write(") ")
		outer := e.scope
		e.scope = newScope(outer)
		err := e.selectSQL(q.FromSelect)
		e.scope = outer
		if err != nil {
			return err
		}
		return e.insertTail(q, suffix)
	}

	if len(q.Rows) == 0 {
		return dberr.New(dberr.Configuration, "insert requires at least one row")
	}

	fields, err := insertColumns(q)
	if err != nil {
		return err
	}
	if len(fields) == 0 {
		return dberr.New(dberr.Configuration, "insert rows contain no fields")
	}

	e.write(" (")
	for i, f := range fields {
		if i > 0 {
			e.write(", ")
		}
		e.write(e.dialect.Quote(f.Column))
	}
	e.write(") VALUES ")

	for ri, row := range q.Rows {
		if ri > 0 {
			e.write(", ")
		}
		e.write("(")
		for fi, f := range fields {
			if fi > 0 {
				e.write(", ")
			}
			n, err := rowValue(row, f)
			if err != nil {
				return err
			}
			if err := e.node(n); err != nil {
				return err
			}
		}
		e.write(")")
	}

	return e.insertTail(q, suffix)
}

// insertTail emits the conflict suffix and RETURNING clause
func (e *emitter) insertTail(q *ast.InsertQuery, suffix string) error {
	if suffix != "" {
		e.write(" " + suffix)
	}
	return e.returning(q.Returning)
}

func (e *emitter) returning(nodes []ast.Node) error {
	if len(nodes) == 0 {
		return nil
	}
	if !e.dialect.Returning {
		return dberr.Newf(dberr.NotSupported,
			"dialect %q does not support RETURNING", e.dialect.Name)
	}
	e.write(" RETURNING ")
	for i, n := range nodes {
		if i > 0 {
			e.write(", ")
		}
		if entity, ok := n.(*ast.EntityRef); ok {
			for fi, f := range entity.Table.Fields() {
				if fi > 0 {
					e.write(", ")
				}
				e.write(e.dialect.Quote(f.Column))
			}
			continue
		}
		if err := e.node(n); err != nil {
			return err
		}
	}
	return nil
}

// updateSQL emits an UPDATE. Columns are qualified by table name; the
// update target is in scope for correlated scalar subqueries in SET.
func (e *emitter) updateSQL(q *ast.UpdateQuery) error {
	if len(q.Sets) == 0 {
		return dberr.New(dberr.Configuration, "update requires at least one SET assignment")
	}
	table := q.Entity.Table
	e.scope.aliases[q.Entity] = table.Name()

	e.write("UPDATE " + e.dialect.Quote(table.Name()) + " SET ")
	for i, pair := range q.Sets {
		f, ok := table.Field(pair.Field)
		if !ok {
			return dberr.Newf(dberr.Configuration,
				"unknown field %q on table %q", pair.Field, table.Name())
		}
		if i > 0 {
			e.write(", ")
		}
		e.write(e.dialect.Quote(f.Column) + " = ")
		value := pair.Value
		if v, isValue := value.(*ast.Value); isValue && !v.Typed {
			value = ast.TypedLit(f.Store(v.V), f.Type)
		}
		if err := e.node(value); err != nil {
			return err
		}
	}

	if q.Filter != nil && !isEmpty(q.Filter) {
		e.write(" WHERE ")
		if err := e.node(q.Filter); err != nil {
			return err
		}
	}
	return e.returning(q.Returning)
}

// deleteSQL emits a DELETE with table-name-qualified columns
func (e *emitter) deleteSQL(q *ast.DeleteQuery) error {
	table := q.Entity.Table
	e.scope.aliases[q.Entity] = table.Name()

	e.write("DELETE FROM " + e.dialect.Quote(table.Name()))
	if q.Filter != nil && !isEmpty(q.Filter) {
		e.write(" WHERE ")
		if err := e.node(q.Filter); err != nil {
			return err
		}
	}
	return e.returning(q.Returning)
}
