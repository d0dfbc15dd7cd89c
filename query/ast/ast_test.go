package ast

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillsql/quill/schema"
)

func TestEntityRefIdentity(t *testing.T) {
	users := schema.NewTable("users", schema.Text("username"))

	u := Entity(users)
	aliased := u.Alias()
	named := u.As("me")

	assert.NotSame(t, u, aliased)
	assert.NotSame(t, u, named)
	assert.Same(t, u.Table, aliased.Table)
	assert.Equal(t, "me", named.Name)
	assert.Empty(t, aliased.Name)
}

func TestExpressionNotToggles(t *testing.T) {
	users := schema.NewTable("users", schema.Text("username"))
	u := Entity(users)

	e := u.Col("username").Eq("x")
	n := e.Not()
	assert.False(t, e.Negated)
	assert.True(t, n.Negated)
	assert.False(t, n.Not().Negated)
}

func TestInsertBuilderClones(t *testing.T) {
	users := schema.NewTable("users", schema.Text("username"))

	base := Insert(users)
	one := base.Values(map[string]interface{}{"username": "a"})
	two := one.Values(map[string]interface{}{"username": "b"})

	assert.Empty(t, base.Rows)
	assert.Len(t, one.Rows, 1)
	assert.Len(t, two.Rows, 2)

	ignored := two.Conflict(ConflictIgnore)
	assert.Equal(t, ConflictNone, two.OnConflict)
	assert.Equal(t, ConflictIgnore, ignored.OnConflict)
}

func TestUpdateBuilderClones(t *testing.T) {
	users := schema.NewTable("users", schema.Text("username"))

	base := Update(users)
	set := base.Set("username", "x")
	filtered := set.Where(set.Entity.Col("id").Eq(1))

	assert.Empty(t, base.Sets)
	assert.Nil(t, set.Filter)
	require.Len(t, filtered.Sets, 1)
	assert.NotNil(t, filtered.Filter)
	assert.Same(t, base.Entity, filtered.Entity)
}

func TestWhereAccumulatesWithAnd(t *testing.T) {
	users := schema.NewTable("users", schema.Text("username"))
	u := Entity(users)

	q := Select(u).
		Where(u.Col("username").Eq("a")).
		Where(u.Col("id").Gt(1))

	clause, ok := q.Filter.(*Clause)
	require.True(t, ok)
	assert.Equal(t, GlueAnd, clause.Glue)
	assert.Len(t, clause.Nodes, 2)
}

func TestJoinMovesAnchor(t *testing.T) {
	users := schema.NewTable("users", schema.Text("username"))
	blogs := schema.NewTable("blog",
		schema.ForeignKey("user_id", users.PrimaryKey()),
		schema.Text("title"),
	)
	u := Entity(users)
	b := Entity(blogs)

	q := Select(u).Join(b, JoinInner, nil)
	require.Len(t, q.Joins, 1)
	assert.Equal(t, Source(u), q.Joins[0].Src)
	assert.Equal(t, Source(b), q.Joins[0].Dst)

	// After the join, further joins hang off the destination.
	c := Entity(blogs)
	q2 := q.Join(c, JoinInner, nil)
	assert.Equal(t, Source(b), q2.Joins[1].Src)

	// Switch moves the anchor back without adding an edge.
	q3 := q.Switch(u).Join(c, JoinInner, nil)
	assert.Equal(t, Source(u), q3.Joins[1].Src)
	assert.Len(t, q.Joins, 1)
}

func TestLimitOffsetUnsetByDefault(t *testing.T) {
	users := schema.NewTable("users", schema.Text("username"))
	q := Select(Entity(users))
	assert.Equal(t, -1, q.LimitN)
	assert.Equal(t, -1, q.OffsetN)
}
