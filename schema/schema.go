package schema

import (
	"context"
	"time"
)

// Permission classifies how a field may be written.
type Permission string

const (
	// PermissionReadWrite fields accept external input on save and create.
	PermissionReadWrite Permission = "readwrite"
	// PermissionReadOnly fields are set during hydration but never accepted
	// from external input.
	PermissionReadOnly Permission = "readonly"
	// PermissionCreatable fields accept external input at creation time only.
	PermissionCreatable Permission = "creatable"
	// PermissionProtected fields are excluded from all external write paths
	// but remain visible to internal code and are persisted on save.
	PermissionProtected Permission = "protected"
)

// Kind describes how a field value is stored and decoded.
type Kind int

const (
	// KindPrimitive values pass through storage unchanged.
	KindPrimitive Kind = iota
	// KindReference values hold the identifier of another registered type.
	KindReference
	// KindJSON values are structured documents serialized through the
	// reference codec on the storage boundary.
	KindJSON
)

// FieldDescriptor describes a single named field of an EntityType.
type FieldDescriptor struct {
	// Name is the field identity, unique within its EntityType.
	Name string
	// Permission controls which write paths may set the field.
	Permission Permission
	// Column is the storage column name. Empty means use Name.
	Column string
	// Kind selects the value handling strategy.
	Kind Kind
	// Nullable allows nil values to be persisted. Defaults to true.
	Nullable bool
	// Ref names the referenced EntityType. Set iff Kind is KindReference.
	Ref string
}

// ColumnName returns the storage column for the field, defaulting to the
// field name when no explicit column was declared.
func (f FieldDescriptor) ColumnName() string {
	if f.Column != "" {
		return f.Column
	}
	return f.Name
}

// Record is the minimal view of an entity instance that schema-level hooks
// and validators operate on. It is implemented by entity.Entity.
type Record interface {
	Identifier() string
	Field(name string) (any, bool)
	SetField(name string, value any)
}

// ValidateFunc is the pluggable validation predicate an EntityType may
// declare. A nil func accepts everything.
type ValidateFunc func(r Record) error

// HookFunc runs at a lifecycle boundary (before/after save or create).
type HookFunc func(ctx context.Context, r Record) error

// RelatedListFinder resolves a named list relation for an owning record.
// Registered explicitly at schema time instead of being discovered through
// dynamic method dispatch.
type RelatedListFinder func(ctx context.Context, owner Record, params map[string]any) (any, error)

// KeyFunc maps an external identifier onto the values of the primary-key
// columns, in declaration order. Types with composite keys register one;
// the default maps the identifier onto a single-column key.
type KeyFunc func(id string) []string

// Hooks holds the optional lifecycle callbacks of an EntityType.
type Hooks struct {
	BeforeSave   HookFunc
	AfterSave    HookFunc
	BeforeCreate HookFunc
	AfterCreate  HookFunc
	// OnDelete performs the type-specific physical deletion. The base
	// delete behavior is cache-only; types that support row deletion set
	// this hook.
	OnDelete HookFunc
}

// EntityType is a named, immutable schema: ordered fields, a primary-key
// definition, cache policy and storage location. Instances are produced by
// Builder.Build and must not be mutated afterwards.
type EntityType struct {
	// Name identifies the type in the registry and in {id,_class} tags.
	Name string
	// Schema is the logical storage schema (database) name.
	Schema string
	// Table is the storage table name.
	Table string
	// PrimaryKey is the ordered set of primary-key column names.
	PrimaryKey []string
	// TTL is the distributed-tier cache duration. Zero disables the
	// distributed tier for this type; the local tier is still used.
	TTL time.Duration
	// ReadOnly forbids save, create and store for this type.
	ReadOnly bool
	// Fields in declaration order.
	Fields []FieldDescriptor

	validate     ValidateFunc
	hooks        Hooks
	keyFunc      KeyFunc
	relatedLists map[string]RelatedListFinder

	byName       map[string]int
	byColumn     map[string]int
	byPermission map[Permission][]FieldDescriptor
}

// Location returns the qualified storage location, "schema.table" or just
// the table name when no schema was declared.
func (t *EntityType) Location() string {
	if t.Schema == "" {
		return t.Table
	}
	return t.Schema + "." + t.Table
}

// FieldsByPermission returns the descriptors matching any of the given
// permissions, in declaration order. The per-permission slices are
// precomputed at build time, so this only merges.
func (t *EntityType) FieldsByPermission(perms ...Permission) []FieldDescriptor {
	if len(perms) == 1 {
		return t.byPermission[perms[0]]
	}
	want := make(map[Permission]bool, len(perms))
	for _, p := range perms {
		want[p] = true
	}
	var out []FieldDescriptor
	for _, f := range t.Fields {
		if want[f.Permission] {
			out = append(out, f)
		}
	}
	return out
}

// Field returns the descriptor with the given field name.
func (t *EntityType) Field(name string) (FieldDescriptor, bool) {
	if i, ok := t.byName[name]; ok {
		return t.Fields[i], true
	}
	return FieldDescriptor{}, false
}

// ResolveColumn looks a descriptor up by field name first, then by the
// name + "Id" reference shorthand, so that requesting "owner" resolves to
// the descriptor for "ownerId".
func (t *EntityType) ResolveColumn(name string) (FieldDescriptor, bool) {
	if f, ok := t.Field(name); ok {
		return f, true
	}
	return t.Field(name + "Id")
}

// FieldForColumn resolves a raw storage column name to its descriptor,
// falling back to a direct field-name match for columns that were never
// renamed.
func (t *EntityType) FieldForColumn(column string) (FieldDescriptor, bool) {
	if i, ok := t.byColumn[column]; ok {
		return t.Fields[i], true
	}
	return t.Field(column)
}

// KeyValues maps an identifier onto the primary-key column values in
// declaration order. Returns nil when the identifier cannot be mapped,
// which callers treat as an unresolvable primary key.
func (t *EntityType) KeyValues(id string) []string {
	if t.keyFunc != nil {
		return t.keyFunc(id)
	}
	if id == "" || len(t.PrimaryKey) != 1 {
		return nil
	}
	return []string{id}
}

// Validate runs the type's validation predicate against a record. A type
// without a predicate accepts everything.
func (t *EntityType) Validate(r Record) error {
	if t.validate == nil {
		return nil
	}
	return t.validate(r)
}

// Hooks returns the lifecycle callbacks declared for the type.
func (t *EntityType) Hooks() Hooks {
	return t.hooks
}

// RelatedList returns the finder registered under name, if any.
func (t *EntityType) RelatedList(name string) (RelatedListFinder, bool) {
	f, ok := t.relatedLists[name]
	return f, ok
}

// RelatedListNames reports the declared relation names.
func (t *EntityType) RelatedListNames() []string {
	names := make([]string, 0, len(t.relatedLists))
	for name := range t.relatedLists {
		names = append(names, name)
	}
	return names
}
