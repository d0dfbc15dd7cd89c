package sqlgen

import (
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quillsql/quill/dberr"
	"github.com/quillsql/quill/query/ast"
	"github.com/quillsql/quill/schema"
)

func testTables() (users, blogs *schema.Table) {
	users = schema.NewTable("users", schema.Text("username"))
	blogs = schema.NewTable("blog",
		schema.ForeignKey("user_id", users.PrimaryKey()),
		schema.Text("title"),
		schema.Text("content").Nullable(),
	)
	return users, blogs
}

func TestSelectSimple(t *testing.T) {
	users, _ := testTables()
	u := ast.Entity(users)

	sql, args, err := NewCompiler(SQLite).Compile(
		ast.Select(u).Where(u.Col("username").Eq("charlie")))
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT "t1"."id", "t1"."username" FROM "users" AS "t1" WHERE "t1"."username" = ?`,
		sql)
	assert.Equal(t, []interface{}{"charlie"}, args)
}

func TestSelectJoinResolvesForeignKey(t *testing.T) {
	users, blogs := testTables()
	u := ast.Entity(users)
	b := ast.Entity(blogs)

	q := ast.Select(b, b.Col("title"), u.Col("username")).
		Join(u, ast.JoinInner, nil).
		Where(u.Col("username").Eq("huey")).
		OrderBy(b.Col("title").Asc())

	sql, args, err := NewCompiler(Postgres).Compile(q)
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT "t1"."title", "t2"."username" FROM "blog" AS "t1" `+
			`INNER JOIN "users" AS "t2" ON "t1"."user_id" = "t2"."id" `+
			`WHERE "t2"."username" = $1 ORDER BY "t1"."title" ASC`,
		sql)
	assert.Equal(t, []interface{}{"huey"}, args)
}

func TestJoinWithoutRelationFails(t *testing.T) {
	users, _ := testTables()
	other := schema.NewTable("other", schema.Text("label"))

	q := ast.Select(ast.Entity(users)).Join(ast.Entity(other), ast.JoinInner, nil)
	_, _, err := NewCompiler(SQLite).Compile(q)
	require.Error(t, err)
	assert.True(t, dberr.IsConfiguration(err))
}

func TestAliasNumberingDeterministic(t *testing.T) {
	users, blogs := testTables()
	u := ast.Entity(users)
	b := ast.Entity(blogs)
	q := ast.Select(b).Join(u, ast.JoinInner, nil)

	first, _, err := NewCompiler(SQLite).Compile(q)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, _, err := NewCompiler(SQLite).Compile(q)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestBuilderMethodsReturnClones(t *testing.T) {
	users, _ := testTables()
	u := ast.Entity(users)

	base := ast.Select(u)
	filtered := base.Where(u.Col("username").Eq("zaizee"))
	limited := base.Limit(10)

	require.NotSame(t, base, filtered)
	require.NotSame(t, base, limited)
	assert.Nil(t, base.Filter)
	assert.Equal(t, -1, base.LimitN)

	sql, args, err := NewCompiler(SQLite).Compile(base)
	require.NoError(t, err)
	assert.Equal(t, `SELECT "t1"."id", "t1"."username" FROM "users" AS "t1"`, sql)
	assert.Empty(t, args)
}

func TestExplicitAliasSkipsCounter(t *testing.T) {
	users, blogs := testTables()
	u := ast.Entity(users).As("me")
	b1 := ast.Entity(blogs)
	b2 := ast.Entity(blogs)

	q := ast.Select(b1).
		Join(u, ast.JoinInner, nil).
		Join(b2, ast.JoinInner, nil)

	sql, _, err := NewCompiler(SQLite).Compile(q)
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT "t1"."id", "t1"."user_id", "t1"."title", "t1"."content" FROM "blog" AS "t1" `+
			`INNER JOIN "users" AS "me" ON "t1"."user_id" = "me"."id" `+
			`INNER JOIN "blog" AS "t2" ON "t2"."user_id" = "me"."id"`,
		sql)
}

func TestSelfJoinThreeLevels(t *testing.T) {
	parent := schema.ForeignKey("parent_id", nil).Nullable()
	categories := schema.NewTable("category", schema.Text("name"), parent)
	parent.Ref = categories.PrimaryKey()

	c1 := ast.Entity(categories)
	c2 := c1.Alias()
	c3 := c1.Alias()

	q := ast.Select(c1,
		c1.Col("name"),
		c2.Col("name").As("parent"),
		c3.Col("name").As("grandparent")).
		Join(c2, ast.JoinLeftOuter, c1.Col("parent_id").EqCol(c2.Col("id"))).
		Join(c3, ast.JoinLeftOuter, c2.Col("parent_id").EqCol(c3.Col("id")))

	sql, _, err := NewCompiler(SQLite).Compile(q)
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT "t1"."name", "t2"."name" AS "parent", "t3"."name" AS "grandparent" `+
			`FROM "category" AS "t1" `+
			`LEFT OUTER JOIN "category" AS "t2" ON "t1"."parent_id" = "t2"."id" `+
			`LEFT OUTER JOIN "category" AS "t3" ON "t2"."parent_id" = "t3"."id"`,
		sql)
}

func TestAliasQuoting(t *testing.T) {
	users, _ := testTables()
	u := ast.Entity(users).As("order")

	sql, _, err := NewCompiler(Postgres).Compile(
		ast.Select(u, u.Col("id").As("User ID")).Where(u.Col("id").Eq(1)))
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT "order"."id" AS "User ID" FROM "users" AS "order" WHERE "order"."id" = $1`,
		sql)
}

func TestPrecedenceParenthesization(t *testing.T) {
	users, _ := testTables()
	u := ast.Entity(users)

	q := ast.Select(u).
		Where(ast.Or(u.Col("username").Eq("a"), u.Col("username").Eq("b"))).
		Where(u.Col("id").Gt(10))

	sql, args, err := NewCompiler(SQLite).Compile(q)
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT "t1"."id", "t1"."username" FROM "users" AS "t1" `+
			`WHERE ("t1"."username" = ? OR "t1"."username" = ?) AND "t1"."id" > ?`,
		sql)
	assert.Equal(t, []interface{}{"a", "b", 10}, args)
}

func TestArithmeticPrecedence(t *testing.T) {
	users, _ := testTables()
	u := ast.Entity(users)

	expr := &ast.Expression{Op: ast.OpMul, LHS: u.Col("id").Add(1), RHS: ast.Lit(2)}
	q := ast.Select(u, ast.As(expr, "calc")).Where(u.Col("id").Eq(3))

	sql, args, err := NewCompiler(SQLite).Compile(q)
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT (("t1"."id" + ?) * ?) AS "calc" FROM "users" AS "t1" WHERE "t1"."id" = ?`,
		sql)
	assert.Equal(t, []interface{}{1, 2, 3}, args)
}

func TestInListExpansion(t *testing.T) {
	users, _ := testTables()
	u := ast.Entity(users)

	sql, args, err := NewCompiler(SQLite).Compile(
		ast.Select(u).Where(u.Col("id").In([]int{1, 2, 3})))
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT "t1"."id", "t1"."username" FROM "users" AS "t1" WHERE "t1"."id" IN (?, ?, ?)`,
		sql)
	assert.Equal(t, []interface{}{1, 2, 3}, args)
}

func TestInSubqueryNumberingContinues(t *testing.T) {
	users, blogs := testTables()
	u := ast.Entity(users)
	b := ast.Entity(blogs)

	sub := ast.Select(u, u.Col("id")).Where(u.Col("username").Like("a%"))
	q := ast.Select(b).
		Where(b.Col("title").Eq("t")).
		Where(b.Col("user_id").In(sub))

	sql, args, err := NewCompiler(Postgres).Compile(q)
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT "t1"."id", "t1"."user_id", "t1"."title", "t1"."content" FROM "blog" AS "t1" `+
			`WHERE "t1"."title" = $1 AND "t1"."user_id" IN `+
			`(SELECT "t1"."id" FROM "users" AS "t1" WHERE "t1"."username" LIKE $2)`,
		sql)
	assert.Equal(t, []interface{}{"t", "a%"}, args)
}

func TestEmptyClauseCompilesToNothing(t *testing.T) {
	users, _ := testTables()
	u := ast.Entity(users)

	sql, args, err := NewCompiler(SQLite).Compile(
		ast.Select(u).Where(ast.And(ast.Or())))
	require.NoError(t, err)
	assert.Equal(t, `SELECT "t1"."id", "t1"."username" FROM "users" AS "t1"`, sql)
	assert.Empty(t, args)
}

func TestIsNullRendering(t *testing.T) {
	_, blogs := testTables()
	b := ast.Entity(blogs)

	sql, args, err := NewCompiler(SQLite).Compile(
		ast.Select(b, b.Col("id")).Where(b.Col("content").IsNull()))
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT "t1"."id" FROM "blog" AS "t1" WHERE "t1"."content" IS NULL`, sql)
	assert.Empty(t, args)
}

func TestUnknownFieldIsConfigurationError(t *testing.T) {
	users, _ := testTables()
	u := ast.Entity(users)

	_, _, err := NewCompiler(SQLite).Compile(
		ast.Select(u, u.Col("usernam")))
	require.Error(t, err)
	assert.True(t, dberr.IsConfiguration(err))
}

func TestInsertSingleRow(t *testing.T) {
	users, _ := testTables()

	sql, args, err := NewCompiler(SQLite).Compile(
		ast.Insert(users).Values(map[string]interface{}{"username": "u1"}))
	require.NoError(t, err)
	assert.Equal(t, `INSERT INTO "users" ("username") VALUES (?)`, sql)
	assert.Equal(t, []interface{}{"u1"}, args)
}

func TestInsertMultiRowFillsMissingKeys(t *testing.T) {
	_, blogs := testTables()

	q := ast.Insert(blogs).
		Values(map[string]interface{}{"user_id": 1, "title": "a", "content": "x"}).
		Values(map[string]interface{}{"user_id": 1, "title": "b"})

	sql, args, err := NewCompiler(SQLite).Compile(q)
	require.NoError(t, err)
	assert.Equal(t,
		`INSERT INTO "blog" ("user_id", "title", "content") VALUES (?, ?, ?), (?, ?, NULL)`,
		sql)
	assert.Equal(t, []interface{}{1, "a", "x", 1, "b"}, args)
}

func TestInsertUnknownFieldFailsBeforeEmission(t *testing.T) {
	users, _ := testTables()

	sql, _, err := NewCompiler(SQLite).Compile(
		ast.Insert(users).Values(map[string]interface{}{"usernam": "oops"}))
	require.Error(t, err)
	assert.True(t, dberr.IsConfiguration(err))
	assert.Empty(t, sql)
}

func TestInsertConflictClauses(t *testing.T) {
	users, _ := testTables()
	row := map[string]interface{}{"username": "u1"}

	sql, _, err := NewCompiler(SQLite).Compile(
		ast.Insert(users).Values(row).Conflict(ast.ConflictIgnore))
	require.NoError(t, err)
	assert.Equal(t, `INSERT OR IGNORE INTO "users" ("username") VALUES (?)`, sql)

	sql, _, err = NewCompiler(SQLite).Compile(
		ast.Insert(users).Values(row).Conflict(ast.ConflictReplace))
	require.NoError(t, err)
	assert.Equal(t, `INSERT OR REPLACE INTO "users" ("username") VALUES (?)`, sql)

	sql, _, err = NewCompiler(MySQL).Compile(
		ast.Insert(users).Values(row).Conflict(ast.ConflictReplace))
	require.NoError(t, err)
	assert.Equal(t, "REPLACE INTO `users` (`username`) VALUES (?)", sql)

	sql, _, err = NewCompiler(Postgres).Compile(
		ast.Insert(users).Values(row).Conflict(ast.ConflictIgnore))
	require.NoError(t, err)
	assert.Equal(t,
		`INSERT INTO "users" ("username") VALUES ($1) ON CONFLICT DO NOTHING`, sql)

	_, _, err = NewCompiler(Postgres).Compile(
		ast.Insert(users).Values(row).Conflict(ast.ConflictReplace))
	require.Error(t, err)
	assert.True(t, dberr.IsNotSupported(err))
}

func TestInsertReturning(t *testing.T) {
	users, _ := testTables()
	row := map[string]interface{}{"username": "u1"}

	sql, _, err := NewCompiler(Postgres).Compile(
		ast.Insert(users).Values(row).WithReturning(ast.Entity(users)))
	require.NoError(t, err)
	assert.Equal(t,
		`INSERT INTO "users" ("username") VALUES ($1) RETURNING "id", "username"`, sql)

	_, _, err = NewCompiler(MySQL).Compile(
		ast.Insert(users).Values(row).WithReturning(ast.Entity(users)))
	require.Error(t, err)
	assert.True(t, dberr.IsNotSupported(err))
}

func TestInsertFromSelect(t *testing.T) {
	users, _ := testTables()
	archive := schema.NewTable("users_archive", schema.Text("username"))
	u := ast.Entity(users)

	q := ast.Insert(archive).From(
		ast.Select(u, u.Col("username")).Where(u.Col("id").Gt(100)),
		"username")

	sql, args, err := NewCompiler(SQLite).Compile(q)
	require.NoError(t, err)
	assert.Equal(t,
		`INSERT INTO "users_archive" ("username") `+
			`SELECT "t1"."username" FROM "users" AS "t1" WHERE "t1"."id" > ?`,
		sql)
	assert.Equal(t, []interface{}{100}, args)
}

func TestUpdate(t *testing.T) {
	users, _ := testTables()

	q := ast.Update(users).Set("username", "nugget")
	q = q.Where(q.Entity.Col("id").Eq(3))

	sql, args, err := NewCompiler(SQLite).Compile(q)
	require.NoError(t, err)
	assert.Equal(t, `UPDATE "users" SET "username" = ? WHERE "users"."id" = ?`, sql)
	assert.Equal(t, []interface{}{"nugget", 3}, args)
}

func TestUpdateWithExpression(t *testing.T) {
	stats := schema.NewTable("stats", schema.Int("counter"))

	q := ast.Update(stats)
	q = q.Set("counter", q.Entity.Col("counter").Add(1))

	sql, args, err := NewCompiler(SQLite).Compile(q)
	require.NoError(t, err)
	assert.Equal(t, `UPDATE "stats" SET "counter" = "stats"."counter" + ?`, sql)
	assert.Equal(t, []interface{}{1}, args)
}

func TestUpdateWithSubquerySet(t *testing.T) {
	users, blogs := testTables()
	u := ast.Entity(users)

	q := ast.Update(blogs).Set("title",
		ast.Select(u, u.Col("username")).Where(u.Col("id").Eq(7)))
	q = q.Where(q.Entity.Col("id").Gt(3))

	sql, args, err := NewCompiler(Postgres).Compile(q)
	require.NoError(t, err)
	assert.Equal(t,
		`UPDATE "blog" SET "title" = (SELECT "t1"."username" FROM "users" AS "t1" `+
			`WHERE "t1"."id" = $1) WHERE "blog"."id" > $2`,
		sql)
	assert.Equal(t, []interface{}{7, 3}, args)
}

func TestDelete(t *testing.T) {
	users, _ := testTables()

	q := ast.Delete(users)
	q = q.Where(q.Entity.Col("username").Eq("mickey"))

	sql, args, err := NewCompiler(SQLite).Compile(q)
	require.NoError(t, err)
	assert.Equal(t, `DELETE FROM "users" WHERE "users"."username" = ?`, sql)
	assert.Equal(t, []interface{}{"mickey"}, args)
}

func TestOffsetWithoutLimit(t *testing.T) {
	users, _ := testTables()
	q := ast.Select(ast.Entity(users)).Offset(5)

	sql, _, err := NewCompiler(SQLite).Compile(q)
	require.NoError(t, err)
	assert.Contains(t, sql, "LIMIT -1 OFFSET 5")

	sql, _, err = NewCompiler(MySQL).Compile(q)
	require.NoError(t, err)
	assert.Contains(t, sql, "LIMIT 18446744073709551615 OFFSET 5")

	sql, _, err = NewCompiler(Postgres).Compile(q)
	require.NoError(t, err)
	assert.NotContains(t, sql, "LIMIT")
	assert.Contains(t, sql, "OFFSET 5")
}

func TestGroupByHaving(t *testing.T) {
	_, blogs := testTables()
	b := ast.Entity(blogs)

	count := ast.Fn("COUNT", b.Col("id"))
	q := ast.Select(b, b.Col("user_id"), count.As("ct")).
		GroupBy(b.Col("user_id")).
		Having(&ast.Expression{Op: ast.OpGt, LHS: count, RHS: ast.Lit(2)})

	sql, args, err := NewCompiler(SQLite).Compile(q)
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT "t1"."user_id", COUNT("t1"."id") AS "ct" FROM "blog" AS "t1" `+
			`GROUP BY "t1"."user_id" HAVING COUNT("t1"."id") > ?`,
		sql)
	assert.Equal(t, []interface{}{2}, args)
}

func TestSubqueryAsSource(t *testing.T) {
	users, _ := testTables()
	u := ast.Entity(users)

	inner := ast.Select(u, u.Col("id"), ast.Fn("LOWER", u.Col("username")).As("lname")).
		As("sub")
	outer := ast.Select(inner).
		Where(&ast.Expression{Op: ast.OpEq, LHS: inner.Column("lname"), RHS: ast.Lit("x")})

	sql, args, err := NewCompiler(SQLite).Compile(outer)
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT * FROM (SELECT "t1"."id", LOWER("t1"."username") AS "lname" `+
			`FROM "users" AS "t1") AS "sub" WHERE "sub"."lname" = ?`,
		sql)
	assert.Equal(t, []interface{}{"x"}, args)
}

func TestDialectLookup(t *testing.T) {
	for _, name := range []string{"postgres", "postgresql", "mysql", "sqlite", "sqlite3", "SQLite"} {
		d, err := DialectFor(name)
		require.NoError(t, err)
		require.NotNil(t, d)
	}
	_, err := DialectFor("oracle")
	require.Error(t, err)
}

func TestCreateTable(t *testing.T) {
	users, blogs := testTables()
	c := NewCompiler(SQLite)

	sql, err := c.CreateTable(users, true)
	require.NoError(t, err)
	assert.Equal(t,
		`CREATE TABLE IF NOT EXISTS "users" (`+
			`"id" INTEGER PRIMARY KEY, "username" TEXT NOT NULL)`,
		sql)

	sql, err = c.CreateTable(blogs, false)
	require.NoError(t, err)
	assert.Equal(t,
		`CREATE TABLE "blog" ("id" INTEGER PRIMARY KEY, `+
			`"user_id" INTEGER NOT NULL, "title" TEXT NOT NULL, "content" TEXT, `+
			`FOREIGN KEY ("user_id") REFERENCES "users" ("id"))`,
		sql)

	assert.Equal(t, `DROP TABLE IF EXISTS "users"`, c.DropTable(users, true))
}

func TestGoldenSQL(t *testing.T) {
	g := goldie.New(t)
	users, blogs := testTables()
	u := ast.Entity(users)
	b := ast.Entity(blogs)

	join := ast.Select(b, b.Col("title"), u.Col("username")).
		Join(u, ast.JoinInner, nil).
		Where(u.Col("username").Eq("huey")).
		OrderBy(b.Col("title").Asc())
	sql, _, err := NewCompiler(Postgres).Compile(join)
	require.NoError(t, err)
	g.Assert(t, "select_join_postgres", []byte(sql+"\n"))

	insert := ast.Insert(blogs).
		Values(map[string]interface{}{"user_id": 1, "title": "a", "content": "x"}).
		Values(map[string]interface{}{"user_id": 1, "title": "b"})
	sql, _, err = NewCompiler(SQLite).Compile(insert)
	require.NoError(t, err)
	g.Assert(t, "insert_multi_sqlite", []byte(sql+"\n"))
}
