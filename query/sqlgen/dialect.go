// Package sqlgen compiles query values into dialect-specific
// parameterized SQL. Parameters are collected in the same tree walk that
// emits the text, so their order always matches placeholder order.
package sqlgen

import (
	"fmt"
	"strings"

	"github.com/quillsql/quill/query/ast"
	"github.com/quillsql/quill/schema"
)

// PlaceholderStyle selects the parameter token format
type PlaceholderStyle int

const (
	// PlaceholderQuestion emits "?" tokens
	PlaceholderQuestion PlaceholderStyle = iota
	// PlaceholderDollar emits "$1", "$2", ... tokens
	PlaceholderDollar
)

// ConflictClause describes how a dialect renders an on-conflict policy.
// Prefix replaces the "INSERT INTO" keywords; Suffix is appended after the
// row values.
type ConflictClause struct {
	// Prefix replaces "INSERT INTO" when non-empty
	Prefix string
	// Suffix is appended to the statement when non-empty
	Suffix string
	// Supported reports whether the dialect can render the policy
	Supported bool
}

// TypeConversion rewrites a parameter value before binding, keyed by the
// value's storage type
type TypeConversion func(interface{}) interface{}

// Dialect fully parameterizes the compiler's backend-specific behavior:
// quoting, placeholders, operator and type overrides, conflict clauses and
// capability flags.
type Dialect struct {
	// Name is the provider name
	Name string
	// DriverName is the database/sql driver to open
	DriverName string
	// QuoteChar wraps identifiers
	QuoteChar byte
	// Placeholder is the parameter token style
	Placeholder PlaceholderStyle
	// OpOverrides substitutes operator SQL, e.g. ILIKE -> LIKE
	OpOverrides map[ast.Op]string
	// TypeConversions rewrites parameter values by storage type
	TypeConversions map[schema.TypeCode]TypeConversion
	// ColumnTypes maps storage types to DDL column types
	ColumnTypes map[schema.TypeCode]string
	// ConflictIgnore renders the IGNORE policy
	ConflictIgnore ConflictClause
	// ConflictReplace renders the REPLACE policy
	ConflictReplace ConflictClause

	// MultiRowInsert reports native multi-row VALUES support
	MultiRowInsert bool
	// Returning reports RETURNING support
	Returning bool
	// Savepoints reports SAVEPOINT support
	Savepoints bool
	// Sequences reports sequence support
	Sequences bool
	// ForUpdate reports SELECT ... FOR UPDATE support
	ForUpdate bool
	// LastInsertID reports driver support for Result.LastInsertId; dialects
	// without it fetch generated keys via RETURNING
	LastInsertID bool
	// OffsetRequiresLimit reports that OFFSET is invalid without LIMIT
	OffsetRequiresLimit bool
	// NoLimit is the LIMIT token emitted when OffsetRequiresLimit forces a
	// LIMIT clause the query did not ask for
	NoLimit string
}

// Quote wraps an identifier in the dialect's quote character
func (d *Dialect) Quote(name string) string {
	q := string(d.QuoteChar)
	return q + name + q
}

// opDefaults is the dialect-independent operator SQL
var opDefaults = map[ast.Op]string{
	ast.OpAnd:     "AND",
	ast.OpOr:      "OR",
	ast.OpEq:      "=",
	ast.OpNe:      "!=",
	ast.OpLt:      "<",
	ast.OpLe:      "<=",
	ast.OpGt:      ">",
	ast.OpGe:      ">=",
	ast.OpIn:      "IN",
	ast.OpNotIn:   "NOT IN",
	ast.OpIs:      "IS",
	ast.OpIsNot:   "IS NOT",
	ast.OpLike:    "LIKE",
	ast.OpILike:   "ILIKE",
	ast.OpBetween: "BETWEEN",
	ast.OpAdd:     "+",
	ast.OpSub:     "-",
	ast.OpMul:     "*",
	ast.OpDiv:     "/",
	ast.OpMod:     "%",
	ast.OpConcat:  "||",
	ast.OpBinAnd:  "&",
	ast.OpBinOr:   "|",
	ast.OpXor:     "#",
}

// OpSQL returns the SQL text for an operator, honoring overrides
func (d *Dialect) OpSQL(op ast.Op) string {
	if d.OpOverrides != nil {
		if sql, ok := d.OpOverrides[op]; ok {
			return sql
		}
	}
	return opDefaults[op]
}

// ConvertValue applies the dialect's per-type parameter conversion
func (d *Dialect) ConvertValue(v interface{}, t schema.TypeCode) interface{} {
	if d.TypeConversions != nil {
		if conv, ok := d.TypeConversions[t]; ok {
			return conv(v)
		}
	}
	return v
}

// Postgres is the PostgreSQL dialect
var Postgres = &Dialect{
	Name:        "postgres",
	DriverName:  "postgres",
	QuoteChar:   '"',
	Placeholder: PlaceholderDollar,
	ColumnTypes: map[schema.TypeCode]string{
		schema.TypeAuto:     "SERIAL",
		schema.TypeInt:      "INTEGER",
		schema.TypeFloat:    "DOUBLE PRECISION",
		schema.TypeText:     "TEXT",
		schema.TypeBool:     "BOOLEAN",
		schema.TypeDateTime: "TIMESTAMP",
		schema.TypeDecimal:  "NUMERIC(10, 5)",
		schema.TypeBlob:     "BYTEA",
	},
	ConflictIgnore:  ConflictClause{Suffix: "ON CONFLICT DO NOTHING", Supported: true},
	ConflictReplace: ConflictClause{},
	MultiRowInsert:  true,
	Returning:       true,
	Savepoints:      true,
	Sequences:       true,
	ForUpdate:       true,
}

// MySQL is the MySQL dialect
var MySQL = &Dialect{
	Name:        "mysql",
	DriverName:  "mysql",
	QuoteChar:   '`',
	Placeholder: PlaceholderQuestion,
	OpOverrides: map[ast.Op]string{
		ast.OpILike: "LIKE",
		ast.OpXor:   "^",
	},
	ColumnTypes: map[schema.TypeCode]string{
		schema.TypeAuto:     "INTEGER AUTO_INCREMENT",
		schema.TypeInt:      "INTEGER",
		schema.TypeFloat:    "DOUBLE PRECISION",
		schema.TypeText:     "TEXT",
		schema.TypeBool:     "BOOL",
		schema.TypeDateTime: "DATETIME",
		schema.TypeDecimal:  "NUMERIC(10, 5)",
		schema.TypeBlob:     "BLOB",
	},
	ConflictIgnore:      ConflictClause{Prefix: "INSERT IGNORE INTO", Supported: true},
	ConflictReplace:     ConflictClause{Prefix: "REPLACE INTO", Supported: true},
	MultiRowInsert:      true,
	Savepoints:          true,
	ForUpdate:           true,
	LastInsertID:        true,
	OffsetRequiresLimit: true,
	NoLimit:             "18446744073709551615",
}

// SQLite is the SQLite dialect
var SQLite = &Dialect{
	Name:        "sqlite",
	DriverName:  "sqlite3",
	QuoteChar:   '"',
	Placeholder: PlaceholderQuestion,
	OpOverrides: map[ast.Op]string{
		ast.OpILike: "LIKE",
	},
	TypeConversions: map[schema.TypeCode]TypeConversion{
		// Booleans are stored as integers.
		schema.TypeBool: func(v interface{}) interface{} {
			if b, ok := v.(bool); ok {
				if b {
					return int64(1)
				}
				return int64(0)
			}
			return v
		},
	},
	ColumnTypes: map[schema.TypeCode]string{
		schema.TypeAuto:     "INTEGER",
		schema.TypeInt:      "INTEGER",
		schema.TypeFloat:    "REAL",
		schema.TypeText:     "TEXT",
		schema.TypeBool:     "INTEGER",
		schema.TypeDateTime: "DATETIME",
		schema.TypeDecimal:  "DECIMAL(10, 5)",
		schema.TypeBlob:     "BLOB",
	},
	ConflictIgnore:      ConflictClause{Prefix: "INSERT OR IGNORE INTO", Supported: true},
	ConflictReplace:     ConflictClause{Prefix: "INSERT OR REPLACE INTO", Supported: true},
	MultiRowInsert:      true,
	Returning:           true,
	Savepoints:          true,
	LastInsertID:        true,
	OffsetRequiresLimit: true,
	NoLimit:             "-1",
}

// dialects is the provider-name registry
var dialects = map[string]*Dialect{
	"postgres":   Postgres,
	"postgresql": Postgres,
	"mysql":      MySQL,
	"sqlite":     SQLite,
	"sqlite3":    SQLite,
}

// DialectFor looks up a registered dialect by provider name
func DialectFor(provider string) (*Dialect, error) {
	d, ok := dialects[strings.ToLower(provider)]
	if !ok {
		return nil, fmt.Errorf("unsupported provider: %s", provider)
	}
	return d, nil
}

// RegisterDialect registers a custom dialect under a provider name
func RegisterDialect(provider string, d *Dialect) {
	dialects[strings.ToLower(provider)] = d
}
