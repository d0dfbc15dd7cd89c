package sqlgen

import (
	"strings"

	"github.com/quillsql/quill/dberr"
	"github.com/quillsql/quill/schema"
)

// columnType resolves the DDL type of a field. Foreign keys take the
// referenced field's type, with auto-increment collapsing to plain integer.
func (c *Compiler) columnType(f *schema.Field) (string, error) {
	t := f.Type
	if f.Ref != nil {
		t = f.Ref.Type
		if t == schema.TypeAuto {
			t = schema.TypeInt
		}
	}
	ddl, ok := c.dialect.ColumnTypes[t]
	if !ok {
		return "", dberr.Newf(dberr.NotSupported,
			"dialect %q has no column type for %v", c.dialect.Name, t)
	}
	return ddl, nil
}

// CreateTable emits CREATE TABLE DDL for a schema table, including primary
// key and foreign key constraints.
func (c *Compiler) CreateTable(t *schema.Table, ifNotExists bool) (string, error) {
	var sb strings.Builder
	sb.WriteString("CREATE TABLE ")
	if ifNotExists {
		sb.WriteString("IF NOT EXISTS ")
	}
	sb.WriteString(c.dialect.Quote(t.Name()) + " (")

	for i, f := range t.Fields() {
		if i > 0 {
			sb.WriteString(", ")
		}
		ddl, err := c.columnType(f)
		if err != nil {
			return "", err
		}
		sb.WriteString(c.dialect.Quote(f.Column) + " " + ddl)
		if f.PrimaryKey {
			sb.WriteString(" PRIMARY KEY")
		} else if !f.Null {
			sb.WriteString(" NOT NULL")
		}
	}

	for _, f := range t.Fields() {
		if f.Ref == nil {
			continue
		}
		sb.WriteString(", FOREIGN KEY (" + c.dialect.Quote(f.Column) + ") REFERENCES " +
			c.dialect.Quote(f.Ref.Table().Name()) + " (" + c.dialect.Quote(f.Ref.Column) + ")")
	}

	sb.WriteString(")")
	return sb.String(), nil
}

// DropTable emits DROP TABLE DDL for a schema table
func (c *Compiler) DropTable(t *schema.Table, ifExists bool) string {
	var sb strings.Builder
	sb.WriteString("DROP TABLE ")
	if ifExists {
		sb.WriteString("IF EXISTS ")
	}
	sb.WriteString(c.dialect.Quote(t.Name()))
	return sb.String()
}
