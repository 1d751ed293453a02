// Package entity implements the lifecycle of schema-described records:
// cached lookup, hydration, authorized save, create, upsert, reload and
// delete, with lazy resolution of cross-entity references.
package entity

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/goliatone/go-entity-cache/schema"
	"github.com/goliatone/go-entity-cache/store"
)

// State tracks where an entity instance is in its lifecycle.
type State int32

const (
	// StateUnbound is a handle bound to an identifier but not yet loaded.
	StateUnbound State = iota
	// StateLoading marks a hydration in flight.
	StateLoading
	// StateHydrated means the instance carries the row's field values.
	StateHydrated
	// StateSaving marks a write in flight.
	StateSaving
	// StateDeleted is terminal; further writes are rejected.
	StateDeleted
)

func (s State) String() string {
	switch s {
	case StateUnbound:
		return "unbound"
	case StateLoading:
		return "loading"
	case StateHydrated:
		return "hydrated"
	case StateSaving:
		return "saving"
	case StateDeleted:
		return "deleted"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Entity is one live instance of a registered type. Instances are created
// by a Manager and stay attached to it for reference resolution. All field
// access is safe for concurrent use; reference lookups are memoized, so
// repeated access to the same reference field resolves at most once per
// instance.
type Entity struct {
	mgr *Manager
	typ *schema.EntityType

	mu     sync.RWMutex
	id     string
	state  State
	local  bool
	fields map[string]any

	refs *xsync.MapOf[string, *Entity]
}

func newEntity(mgr *Manager, typ *schema.EntityType, id string) *Entity {
	return &Entity{
		mgr:    mgr,
		typ:    typ,
		id:     id,
		state:  StateUnbound,
		fields: make(map[string]any),
		refs:   xsync.NewMapOf[string, *Entity](),
	}
}

// Type returns the entity's schema.
func (e *Entity) Type() *schema.EntityType {
	return e.typ
}

// Identifier returns the entity's external identifier, empty while
// unassigned.
func (e *Entity) Identifier() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.id
}

// State returns the current lifecycle state.
func (e *Entity) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

// Local reports whether the instance was obtained through a local-only
// lookup, meaning the distributed tier was bypassed.
func (e *Entity) Local() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.local
}

// Field returns the named field value and whether it is set.
func (e *Entity) Field(name string) (any, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.fields[name]
	return v, ok
}

// SetField sets a field value. It does not persist anything; Save does.
func (e *Entity) SetField(name string, value any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fields[name] = value
}

// Assoc returns a copy of the current field values.
func (e *Entity) Assoc() map[string]any {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]any, len(e.fields))
	for k, v := range e.fields {
		out[k] = v
	}
	return out
}

// String renders the entity as "TypeName(id)".
func (e *Entity) String() string {
	return fmt.Sprintf("%s(%s)", e.typ.Name, e.Identifier())
}

// ReferenceID implements codec.Reference.
func (e *Entity) ReferenceID() string {
	return e.Identifier()
}

// ReferenceClass implements codec.Reference.
func (e *Entity) ReferenceClass() string {
	return e.typ.Name
}

// Reference resolves the named reference field to its target entity. The
// field resolves by name or by the name + "Id" shorthand, so both "owner"
// and "ownerId" reach the same descriptor. The result is memoized per
// instance and identifier: a second call returns the cached target without
// another lookup. A nil field value yields (nil, nil).
func (e *Entity) Reference(ctx context.Context, name string) (*Entity, error) {
	fd, ok := e.typ.ResolveColumn(name)
	if !ok || fd.Kind != schema.KindReference {
		return nil, errors.Errorf("entity: %s has no reference field %q", e.typ.Name, name)
	}

	raw, ok := e.Field(fd.Name)
	if !ok || raw == nil {
		return nil, nil
	}
	id := referenceID(raw)
	if id == "" {
		return nil, errors.Errorf("entity: %s.%s holds a non-identifier value %T", e.typ.Name, fd.Name, raw)
	}

	memoKey := fd.Name + "\x00" + id
	if target, ok := e.refs.Load(memoKey); ok {
		return target, nil
	}

	target, err := e.mgr.lookup(ctx, fd.Ref, id, e.Local())
	if err != nil {
		return nil, err
	}
	if target == nil {
		return nil, nil
	}
	actual, _ := e.refs.LoadOrStore(memoKey, target)
	return actual, nil
}

// ReferenceLocal returns the already-memoized target for the named
// reference field without triggering any lookup: no tier is consulted and
// the store is never queried. It reports false when the field is unset or
// the reference has not been resolved on this instance yet.
func (e *Entity) ReferenceLocal(name string) (*Entity, bool) {
	fd, ok := e.typ.ResolveColumn(name)
	if !ok || fd.Kind != schema.KindReference {
		return nil, false
	}
	raw, ok := e.Field(fd.Name)
	if !ok || raw == nil {
		return nil, false
	}
	id := referenceID(raw)
	if id == "" {
		return nil, false
	}
	return e.refs.Load(fd.Name + "\x00" + id)
}

// RelatedList runs the named list relation declared on the type.
func (e *Entity) RelatedList(ctx context.Context, name string, params map[string]any) (any, error) {
	finder, ok := e.typ.RelatedList(name)
	if !ok {
		return nil, errors.Errorf("entity: %s has no related list %q", e.typ.Name, name)
	}
	return finder(ctx, e, params)
}

// referenceID extracts a target identifier from the value shapes a
// reference field may legally hold: a plain string, a decoded reference,
// or a tagged map.
func referenceID(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case interface{ ReferenceID() string }:
		return v.ReferenceID()
	case map[string]any:
		if id, ok := v["id"].(string); ok {
			return id
		}
	}
	return ""
}

// hydrate replaces the entity's fields with values decoded from a raw row
// and moves it to StateHydrated.
func (e *Entity) hydrate(ctx context.Context, row store.Row) error {
	fields := make(map[string]any, len(row))
	for column, value := range row {
		fd, ok := e.typ.FieldForColumn(column)
		name := column
		if ok {
			name = fd.Name
		} else if camel := toCamel(column); camel != column {
			if cf, found := e.typ.Field(camel); found {
				fd, ok = cf, true
				name = cf.Name
			} else {
				name = camel
			}
		}

		if ok && fd.Kind == schema.KindJSON && value != nil {
			decoded, err := decodeJSONColumn(ctx, e.mgr.codec, value)
			if err != nil {
				return errors.Wrapf(err, "decoding %s.%s", e.typ.Name, name)
			}
			fields[name] = decoded
			continue
		}
		fields[name] = value
	}

	e.mu.Lock()
	e.fields = fields
	e.state = StateHydrated
	e.mu.Unlock()
	// Memoized reference targets may be stale against the fresh row.
	e.refs.Clear()
	return nil
}

func (e *Entity) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *Entity) setIdentifier(id string) {
	e.mu.Lock()
	e.id = id
	e.mu.Unlock()
}

func (e *Entity) markLocal() {
	e.mu.Lock()
	e.local = true
	e.mu.Unlock()
}
