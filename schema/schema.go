// Package schema provides the static schema descriptor consumed by the
// query compiler: tables, ordered field lists, and value coercions.
package schema

import (
	"fmt"
	"sort"
	"strings"
)

// TypeCode identifies the storage type of a field.
type TypeCode int

const (
	// TypeAuto is an auto-incrementing integer primary key
	TypeAuto TypeCode = iota
	// TypeInt is an integer column
	TypeInt
	// TypeFloat is a floating-point column
	TypeFloat
	// TypeText is a text column
	TypeText
	// TypeBool is a boolean column
	TypeBool
	// TypeDateTime is a timestamp column
	TypeDateTime
	// TypeDecimal is a fixed-precision decimal column
	TypeDecimal
	// TypeBlob is a binary column
	TypeBlob
)

// String returns a readable name for the type code
func (t TypeCode) String() string {
	switch t {
	case TypeAuto:
		return "auto"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeText:
		return "text"
	case TypeBool:
		return "bool"
	case TypeDateTime:
		return "datetime"
	case TypeDecimal:
		return "decimal"
	case TypeBlob:
		return "blob"
	default:
		return "unknown"
	}
}

// Coercion converts a value between application and storage representations
type Coercion func(interface{}) interface{}

// Field describes a single column of a table
type Field struct {
	// Name is the field name used in query construction
	Name string
	// Column is the database column name (defaults to Name)
	Column string
	// Type is the storage type code
	Type TypeCode
	// Null indicates the column accepts NULL
	Null bool
	// PrimaryKey indicates primary-key membership
	PrimaryKey bool
	// Default is the value used when an insert omits the field
	Default interface{}
	// HasDefault reports whether Default was explicitly set
	HasDefault bool
	// ToStorage converts an application value to its storage form
	ToStorage Coercion
	// FromStorage converts a storage value to its application form
	FromStorage Coercion
	// Ref is the referenced field when this field is a foreign key
	Ref *Field

	table *Table
}

// Auto creates an auto-incrementing integer primary key field
func Auto(name string) *Field {
	return &Field{Name: name, Column: name, Type: TypeAuto, PrimaryKey: true}
}

// Int creates an integer field
func Int(name string) *Field {
	return &Field{Name: name, Column: name, Type: TypeInt}
}

// Float creates a floating-point field
func Float(name string) *Field {
	return &Field{Name: name, Column: name, Type: TypeFloat}
}

// Text creates a text field
func Text(name string) *Field {
	return &Field{Name: name, Column: name, Type: TypeText}
}

// Bool creates a boolean field
func Bool(name string) *Field {
	return &Field{Name: name, Column: name, Type: TypeBool}
}

// DateTime creates a timestamp field
func DateTime(name string) *Field {
	return &Field{Name: name, Column: name, Type: TypeDateTime}
}

// Decimal creates a fixed-precision decimal field
func Decimal(name string) *Field {
	return &Field{Name: name, Column: name, Type: TypeDecimal}
}

// Blob creates a binary field
func Blob(name string) *Field {
	return &Field{Name: name, Column: name, Type: TypeBlob}
}

// ForeignKey creates an integer field referencing another field.
// Use Registry.DeferForeignKey when the target table is not yet registered.
func ForeignKey(name string, target *Field) *Field {
	return &Field{Name: name, Column: name, Type: TypeInt, Ref: target}
}

// Nullable marks the field as accepting NULL and returns it
func (f *Field) Nullable() *Field {
	f.Null = true
	return f
}

// WithColumn overrides the database column name and returns the field
func (f *Field) WithColumn(column string) *Field {
	f.Column = column
	return f
}

// WithDefault sets the default value used for omitted insert keys
func (f *Field) WithDefault(value interface{}) *Field {
	f.Default = value
	f.HasDefault = true
	return f
}

// WithCoercion sets the value<->storage conversion functions
func (f *Field) WithCoercion(toStorage, fromStorage Coercion) *Field {
	f.ToStorage = toStorage
	f.FromStorage = fromStorage
	return f
}

// Table returns the table this field belongs to, nil before registration
func (f *Field) Table() *Table {
	return f.table
}

// IsForeignKey reports whether the field references another field
func (f *Field) IsForeignKey() bool {
	return f.Ref != nil
}

// Store applies the storage coercion, if any
func (f *Field) Store(value interface{}) interface{} {
	if f.ToStorage != nil {
		return f.ToStorage(value)
	}
	return value
}

// Load applies the load coercion, if any
func (f *Field) Load(value interface{}) interface{} {
	if f.FromStorage != nil {
		return f.FromStorage(value)
	}
	return value
}

// Table describes a database table with an ordered field list
type Table struct {
	name   string
	fields []*Field
	byName map[string]*Field
	pk     *Field
}

// NewTable creates a table from an ordered list of fields.
// If no field is marked as primary key, an auto "id" field is prepended,
// matching the usual implicit-key convention.
func NewTable(name string, fields ...*Field) *Table {
	t := &Table{
		name:   name,
		byName: make(map[string]*Field),
	}

	hasPK := false
	for _, f := range fields {
		if f.PrimaryKey {
			hasPK = true
			break
		}
	}
	if !hasPK {
		fields = append([]*Field{Auto("id")}, fields...)
	}

	for _, f := range fields {
		t.addField(f)
	}
	return t
}

func (t *Table) addField(f *Field) {
	f.table = t
	t.fields = append(t.fields, f)
	t.byName[f.Name] = f
	if f.PrimaryKey {
		t.pk = f
	}
}

// Name returns the table name
func (t *Table) Name() string {
	return t.name
}

// Fields returns the fields in declaration order
func (t *Table) Fields() []*Field {
	return t.fields
}

// Field looks up a field by name
func (t *Table) Field(name string) (*Field, bool) {
	f, ok := t.byName[name]
	return f, ok
}

// PrimaryKey returns the primary key field
func (t *Table) PrimaryKey() *Field {
	return t.pk
}

// deferredRef is a foreign key recorded before its target table registered
type deferredRef struct {
	field       *Field
	targetTable string
	targetField string // empty means the target's primary key
}

// Registry holds registered tables and resolves deferred foreign keys in
// two phases: placeholders are recorded up front and bound when the target
// table registers; Finalize fails fast if any remain unresolved.
type Registry struct {
	tables  []*Table
	byName  map[string]*Table
	pending map[string][]deferredRef
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		byName:  make(map[string]*Table),
		pending: make(map[string][]deferredRef),
	}
}

// Register adds a table and resolves any foreign keys deferred against it
func (r *Registry) Register(t *Table) error {
	if _, exists := r.byName[t.name]; exists {
		return fmt.Errorf("table %q already registered", t.name)
	}
	r.tables = append(r.tables, t)
	r.byName[t.name] = t

	for _, ref := range r.pending[t.name] {
		if err := r.bind(ref, t); err != nil {
			return err
		}
	}
	delete(r.pending, t.name)
	return nil
}

// Table looks up a registered table by name
func (r *Registry) Table(name string) (*Table, bool) {
	t, ok := r.byName[name]
	return t, ok
}

// Tables returns registered tables in registration order
func (r *Registry) Tables() []*Table {
	return r.tables
}

// DeferForeignKey records that field references targetTable.targetField.
// An empty targetField means the target's primary key. If the target is
// already registered the reference binds immediately; otherwise it is held
// until the target registers. Self-references resolve when the owning
// table registers.
func (r *Registry) DeferForeignKey(field *Field, targetTable, targetField string) {
	ref := deferredRef{field: field, targetTable: targetTable, targetField: targetField}
	if t, ok := r.byName[targetTable]; ok {
		// Binding against a known table cannot fail except for a missing
		// field name, which Finalize would also report; surface it there.
		if err := r.bind(ref, t); err == nil {
			return
		}
	}
	r.pending[targetTable] = append(r.pending[targetTable], ref)
}

func (r *Registry) bind(ref deferredRef, target *Table) error {
	if ref.targetField == "" {
		if target.pk == nil {
			return fmt.Errorf("table %q has no primary key for foreign key %q",
				target.name, ref.field.Name)
		}
		ref.field.Ref = target.pk
		return nil
	}
	f, ok := target.Field(ref.targetField)
	if !ok {
		return fmt.Errorf("foreign key %q references unknown field %s.%s",
			ref.field.Name, target.name, ref.targetField)
	}
	ref.field.Ref = f
	return nil
}

// Finalize verifies that every deferred foreign key has been resolved.
// It returns an error listing all dangling references.
func (r *Registry) Finalize() error {
	if len(r.pending) == 0 {
		return nil
	}
	var dangling []string
	for table, refs := range r.pending {
		for _, ref := range refs {
			dangling = append(dangling, fmt.Sprintf("%s -> %s", ref.field.Name, table))
		}
	}
	sort.Strings(dangling)
	return fmt.Errorf("unresolved foreign keys: %s", strings.Join(dangling, ", "))
}
