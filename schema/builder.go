package schema

import (
	"fmt"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// FieldOption customizes a field declaration.
type FieldOption func(*FieldDescriptor)

// WithColumn sets an explicit storage column name.
func WithColumn(column string) FieldOption {
	return func(f *FieldDescriptor) { f.Column = column }
}

// NotNullable marks the field as rejecting nil values; nil values are
// omitted from built column sets.
func NotNullable() FieldOption {
	return func(f *FieldDescriptor) { f.Nullable = false }
}

// AsJSON marks the field as a structured document serialized through the
// reference codec.
func AsJSON() FieldOption {
	return func(f *FieldDescriptor) { f.Kind = KindJSON }
}

// References marks the field as holding the identifier of another
// registered entity type.
func References(typeName string) FieldOption {
	return func(f *FieldDescriptor) {
		f.Kind = KindReference
		f.Ref = typeName
	}
}

// Builder declares an EntityType at startup time. This replaces runtime
// member introspection: every field, reference and hook is registered
// explicitly before Build.
type Builder struct {
	t    EntityType
	errs []error
}

// NewType starts the declaration of an entity type.
func NewType(name string) *Builder {
	return &Builder{t: EntityType{
		Name:         name,
		relatedLists: map[string]RelatedListFinder{},
	}}
}

// Schema sets the logical storage schema name.
func (b *Builder) Schema(schema string) *Builder {
	b.t.Schema = schema
	return b
}

// Table sets the storage table name.
func (b *Builder) Table(table string) *Builder {
	b.t.Table = table
	return b
}

// TTL sets the distributed-tier cache duration. Zero disables the
// distributed tier for the type.
func (b *Builder) TTL(d time.Duration) *Builder {
	b.t.TTL = d
	return b
}

// ReadOnly forbids save, create and store for the type.
func (b *Builder) ReadOnly() *Builder {
	b.t.ReadOnly = true
	return b
}

// PrimaryKey sets the ordered primary-key column names. Defaults to "id".
func (b *Builder) PrimaryKey(columns ...string) *Builder {
	b.t.PrimaryKey = columns
	return b
}

// Keys registers a custom identifier-to-key mapping for composite or
// alternate keys.
func (b *Builder) Keys(fn KeyFunc) *Builder {
	b.t.keyFunc = fn
	return b
}

// Field declares a field. Fields are nullable primitives unless options
// say otherwise.
func (b *Builder) Field(name string, perm Permission, opts ...FieldOption) *Builder {
	f := FieldDescriptor{Name: name, Permission: perm, Nullable: true}
	for _, opt := range opts {
		opt(&f)
	}
	b.t.Fields = append(b.t.Fields, f)
	return b
}

// Validate registers the type's validation predicate.
func (b *Builder) Validate(fn ValidateFunc) *Builder {
	b.t.validate = fn
	return b
}

// BeforeSave registers a hook run before save and store persist.
func (b *Builder) BeforeSave(fn HookFunc) *Builder {
	b.t.hooks.BeforeSave = fn
	return b
}

// AfterSave registers a hook run after a successful save or store.
func (b *Builder) AfterSave(fn HookFunc) *Builder {
	b.t.hooks.AfterSave = fn
	return b
}

// BeforeCreate registers a hook run before creation persists.
func (b *Builder) BeforeCreate(fn HookFunc) *Builder {
	b.t.hooks.BeforeCreate = fn
	return b
}

// AfterCreate registers a hook run after a successful creation.
func (b *Builder) AfterCreate(fn HookFunc) *Builder {
	b.t.hooks.AfterCreate = fn
	return b
}

// OnDelete registers the type-specific physical deletion hook.
func (b *Builder) OnDelete(fn HookFunc) *Builder {
	b.t.hooks.OnDelete = fn
	return b
}

// RelatedList registers a named list relation finder.
func (b *Builder) RelatedList(name string, finder RelatedListFinder) *Builder {
	b.t.relatedLists[name] = finder
	return b
}

// Build finalizes and checks the declaration. Field names must be unique
// within the type, reference fields must name their target, and the type
// needs a storage table.
func (b *Builder) Build() (*EntityType, error) {
	t := b.t

	if err := validation.ValidateStruct(&t,
		validation.Field(&t.Name, validation.Required),
		validation.Field(&t.Table, validation.Required),
	); err != nil {
		return nil, fmt.Errorf("schema: type %q: %w", t.Name, err)
	}

	if len(t.PrimaryKey) == 0 {
		t.PrimaryKey = []string{"id"}
	}

	t.byName = make(map[string]int, len(t.Fields))
	t.byColumn = make(map[string]int, len(t.Fields))
	t.byPermission = make(map[Permission][]FieldDescriptor)

	for i, f := range t.Fields {
		if f.Name == "" {
			return nil, fmt.Errorf("schema: type %q: field %d has no name", t.Name, i)
		}
		if _, dup := t.byName[f.Name]; dup {
			return nil, fmt.Errorf("schema: type %q: duplicate field %q", t.Name, f.Name)
		}
		if f.Kind == KindReference && f.Ref == "" {
			return nil, fmt.Errorf("schema: type %q: reference field %q names no target type", t.Name, f.Name)
		}
		t.byName[f.Name] = i
		t.byColumn[f.ColumnName()] = i
		t.byPermission[f.Permission] = append(t.byPermission[f.Permission], f)
	}

	return &t, nil
}

// MustBuild is Build for static declarations that are programmer errors
// when invalid.
func (b *Builder) MustBuild() *EntityType {
	t, err := b.Build()
	if err != nil {
		panic(err)
	}
	return t
}
