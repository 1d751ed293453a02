package entity

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/goliatone/go-entity-cache/cache"
	"github.com/goliatone/go-entity-cache/codec"
	"github.com/goliatone/go-entity-cache/schema"
	"github.com/goliatone/go-entity-cache/store"
)

// Authorizer decides whether a save may proceed. Implementations read the
// acting principal from the context (see WithPrincipal) and return an
// error describing the denial; the manager surfaces it as ErrNotAuthorized.
// A nil authorizer allows everything.
type Authorizer interface {
	CanSave(ctx context.Context, r schema.Record, input map[string]any) error
}

type principalKey struct{}

// WithPrincipal attaches the acting principal to the context for the
// authorizer to inspect.
func WithPrincipal(ctx context.Context, principal any) context.Context {
	return context.WithValue(ctx, principalKey{}, principal)
}

// PrincipalFrom returns the principal attached with WithPrincipal, if any.
func PrincipalFrom(ctx context.Context) (any, bool) {
	p := ctx.Value(principalKey{})
	return p, p != nil
}

// Config collects the manager's collaborators.
type Config struct {
	// Registry resolves type names to schemas. Required.
	Registry *schema.Registry
	// Tiers answers where the current raw row lives. Required.
	Tiers *cache.TierManager
	// Rows is the system of record. Required.
	Rows store.RowStore
	// Authorizer gates saves. Nil allows everything.
	Authorizer Authorizer
	// Logger may be nil to disable logging.
	Logger *zap.Logger
}

// Validate checks whether the configuration values are valid.
func (c Config) Validate() error {
	if c.Registry == nil {
		return errors.New("entity: config requires a registry")
	}
	if c.Tiers == nil {
		return errors.New("entity: config requires a tier manager")
	}
	if c.Rows == nil {
		return errors.New("entity: config requires a row store")
	}
	return nil
}

// Manager orchestrates the entity lifecycle across the cache tiers and the
// row store. It is also the codec.Resolver used to decode persisted
// references back into live entities.
type Manager struct {
	registry *schema.Registry
	tiers    *cache.TierManager
	rows     store.RowStore
	auth     Authorizer
	codec    *codec.Codec
	logger   *zap.Logger
}

// NewManager validates the config and wires the manager, including the
// reference codec that resolves through it.
func NewManager(cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		registry: cfg.Registry,
		tiers:    cfg.Tiers,
		rows:     cfg.Rows,
		auth:     cfg.Authorizer,
		logger:   logger,
	}
	m.codec = codec.New(m)
	return m, nil
}

// Codec returns the reference codec bound to this manager.
func (m *Manager) Codec() *codec.Codec {
	return m.codec
}

// Registered implements codec.Resolver.
func (m *Manager) Registered(typeName string) bool {
	return m.registry.Registered(typeName)
}

// Resolve implements codec.Resolver by looking the referenced entity up
// through the normal tiered path. A target that no longer exists reports
// (nil, nil): the codec degrades the dangling tag instead of failing the
// owning load.
func (m *Manager) Resolve(ctx context.Context, typeName, id string) (codec.Reference, error) {
	e, err := m.LookupByID(ctx, typeName, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, nil
	}
	return e, nil
}

// Init returns an unbound handle for the identifier without touching any
// tier. Load hydrates it on demand.
func (m *Manager) Init(typeName, id string) (*Entity, error) {
	typ, err := m.registry.Describe(typeName)
	if err != nil {
		return nil, err
	}
	return newEntity(m, typ, id), nil
}

// InitList returns unbound handles for each identifier, in order.
func (m *Manager) InitList(typeName string, ids []string) ([]*Entity, error) {
	typ, err := m.registry.Describe(typeName)
	if err != nil {
		return nil, err
	}
	out := make([]*Entity, len(ids))
	for i, id := range ids {
		out[i] = newEntity(m, typ, id)
	}
	return out, nil
}

// FromData hydrates an entity directly from caller-supplied field values
// without consulting any tier. The identifier is taken from the primary
// key column when present.
func (m *Manager) FromData(ctx context.Context, typeName string, data map[string]any) (*Entity, error) {
	typ, err := m.registry.Describe(typeName)
	if err != nil {
		return nil, err
	}
	id := ""
	if len(typ.PrimaryKey) == 1 {
		if v, ok := data[typ.PrimaryKey[0]]; ok {
			if s, ok := v.(string); ok {
				id = s
			}
		}
	}
	e := newEntity(m, typ, id)
	if err := e.hydrate(ctx, store.Row(data)); err != nil {
		return nil, err
	}
	return e, nil
}

// LookupByID fetches one entity through the tiered read path. An empty
// identifier and a row that exists nowhere both return (nil, nil): absence
// is an answer, not an error.
func (m *Manager) LookupByID(ctx context.Context, typeName, id string) (*Entity, error) {
	return m.lookup(ctx, typeName, id, false)
}

// LookupByIDLocal is LookupByID with the distributed tier bypassed: only
// the process-local tier and the row store participate. Entities returned
// this way keep bypassing the distributed tier for their own reference
// resolution.
func (m *Manager) LookupByIDLocal(ctx context.Context, typeName, id string) (*Entity, error) {
	return m.lookup(ctx, typeName, id, true)
}

func (m *Manager) lookup(ctx context.Context, typeName, id string, localOnly bool) (*Entity, error) {
	if id == "" {
		return nil, nil
	}
	typ, err := m.registry.Describe(typeName)
	if err != nil {
		return nil, err
	}

	pred, err := m.predicate(typ, id)
	if err != nil {
		return nil, err
	}

	ttl := typ.TTL
	if localOnly {
		ttl = 0
	}
	row, found, err := m.tiers.Get(ctx, cache.Fingerprint(typ.Name, pred), ttl, m.loader(typ, pred))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	e := newEntity(m, typ, id)
	if localOnly {
		e.markLocal()
	}
	if err := e.hydrate(ctx, row); err != nil {
		return nil, err
	}
	return e, nil
}

// LookupByIDs fetches several entities, preserving input order and
// skipping identifiers that resolve to nothing.
func (m *Manager) LookupByIDs(ctx context.Context, typeName string, ids []string) ([]*Entity, error) {
	out := make([]*Entity, 0, len(ids))
	for _, id := range ids {
		e, err := m.LookupByID(ctx, typeName, id)
		if err != nil {
			return nil, err
		}
		if e != nil {
			out = append(out, e)
		}
	}
	return out, nil
}

// ParseIDs splits a comma-joined identifier list, trimming whitespace and
// dropping empty segments.
func ParseIDs(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Load hydrates an unbound handle through the tiered read path. Loading an
// identifier that resolves to nothing reports found=false and leaves the
// handle unbound.
func (m *Manager) Load(ctx context.Context, e *Entity) (bool, error) {
	id := e.Identifier()
	if id == "" {
		return false, ErrInvalidIdentifier
	}
	pred, err := m.predicate(e.typ, id)
	if err != nil {
		return false, err
	}

	e.setState(StateLoading)
	ttl := e.typ.TTL
	if e.Local() {
		ttl = 0
	}
	row, found, err := m.tiers.Get(ctx, cache.Fingerprint(e.typ.Name, pred), ttl, m.loader(e.typ, pred))
	if err != nil || !found {
		e.setState(StateUnbound)
		return false, err
	}
	return true, e.hydrate(ctx, row)
}

// Save applies external input to an existing entity and persists it.
// Input is filtered to the type's writable fields; reference shorthand
// ("owner" for "ownerId") is accepted in string, tagged-map and entity
// form. Both cache tiers are invalidated before Save returns, so no reader
// can observe the stale row after the call.
func (m *Manager) Save(ctx context.Context, e *Entity, input map[string]any) error {
	if e.typ.ReadOnly {
		return ErrReadOnlyType
	}
	if e.State() == StateDeleted {
		return ErrDeleted
	}
	id := e.Identifier()
	if id == "" {
		return ErrInvalidIdentifier
	}
	pred, err := m.predicate(e.typ, id)
	if err != nil {
		return err
	}

	if m.auth != nil {
		if err := m.auth.CanSave(ctx, e, input); err != nil {
			return errors.Wrap(ErrNotAuthorized, err.Error())
		}
	}

	applyInput(e, input, e.typ.FieldsByPermission(schema.PermissionReadWrite))

	if err := e.typ.Validate(e); err != nil {
		return &ValidationError{Type: e.typ.Name, Err: err}
	}

	hooks := e.typ.Hooks()
	if hooks.BeforeSave != nil {
		if err := hooks.BeforeSave(ctx, e); err != nil {
			return errors.Wrap(err, "before-save hook")
		}
	}

	e.setState(StateSaving)
	values, err := m.buildColumns(e, e.typ.FieldsByPermission(
		schema.PermissionReadWrite, schema.PermissionProtected))
	if err != nil {
		e.setState(StateHydrated)
		return err
	}

	if len(values) > 0 {
		if _, err := m.rows.Update(ctx, e.typ.Location(), values, store.Row(pred.Keys())); err != nil {
			e.setState(StateHydrated)
			return err
		}
	}

	// Stale copies must be unreachable before the caller is acknowledged.
	m.tiers.Invalidate(ctx, cache.Fingerprint(e.typ.Name, pred))
	e.setState(StateHydrated)

	if hooks.AfterSave != nil {
		if err := hooks.AfterSave(ctx, e); err != nil {
			return errors.Wrap(err, "after-save hook")
		}
	}
	m.logger.Debug("entity saved", zap.String("type", e.typ.Name), zap.String("id", id))
	return nil
}

// CreateOptions tunes Create behavior.
type CreateOptions struct {
	// Upsert resolves a primary-key conflict by updating the existing row
	// instead of failing.
	Upsert bool
}

// Create persists a new entity from external input. Input is filtered to
// the fields writable at creation time; a missing single-column primary
// key is assigned a generated identifier before insert.
func (m *Manager) Create(ctx context.Context, typeName string, input map[string]any, opts CreateOptions) (*Entity, error) {
	typ, err := m.registry.Describe(typeName)
	if err != nil {
		return nil, err
	}
	if typ.ReadOnly {
		return nil, ErrReadOnlyType
	}

	e := newEntity(m, typ, "")
	applyInput(e, input, typ.FieldsByPermission(
		schema.PermissionReadWrite, schema.PermissionCreatable))

	if err := typ.Validate(e); err != nil {
		return nil, &ValidationError{Type: typ.Name, Err: err}
	}

	hooks := typ.Hooks()
	if hooks.BeforeCreate != nil {
		if err := hooks.BeforeCreate(ctx, e); err != nil {
			return nil, errors.Wrap(err, "before-create hook")
		}
	}

	idColumn := ""
	if len(typ.PrimaryKey) == 1 {
		idColumn = typ.PrimaryKey[0]
		if fd, ok := typ.FieldForColumn(idColumn); !ok || isAbsent(e, fd.Name) {
			id := uuid.NewString()
			if ok {
				e.SetField(fd.Name, id)
			}
			e.setIdentifier(id)
		}
	}

	values, err := m.buildColumns(e, typ.FieldsByPermission(
		schema.PermissionReadWrite, schema.PermissionProtected, schema.PermissionCreatable))
	if err != nil {
		return nil, err
	}

	var newID string
	if opts.Upsert {
		newID, err = m.rows.InsertOrUpdate(ctx, typ.Location(), values, typ.PrimaryKey, idColumn)
	} else {
		newID, err = m.rows.Insert(ctx, typ.Location(), values, idColumn)
	}
	if err != nil {
		return nil, err
	}
	if newID != "" {
		e.setIdentifier(newID)
		if fd, ok := typ.FieldForColumn(idColumn); ok {
			e.SetField(fd.Name, newID)
		}
	}
	e.setState(StateHydrated)

	// A pre-existing cached miss or an upserted row must not linger.
	if pred, perr := m.predicate(typ, e.Identifier()); perr == nil {
		m.tiers.Invalidate(ctx, cache.Fingerprint(typ.Name, pred))
	}

	if hooks.AfterCreate != nil {
		if err := hooks.AfterCreate(ctx, e); err != nil {
			return nil, errors.Wrap(err, "after-create hook")
		}
	}
	m.logger.Debug("entity created", zap.String("type", typ.Name), zap.String("id", e.Identifier()))
	return e, nil
}

// Store upserts raw field data, bypassing input filtering and
// authorization. It is the trusted path for system-owned writes: every
// declared field present in data is persisted, conflicts resolve on the
// primary key, and both tiers are invalidated before the write.
func (m *Manager) Store(ctx context.Context, typeName string, data map[string]any) (*Entity, error) {
	typ, err := m.registry.Describe(typeName)
	if err != nil {
		return nil, err
	}
	if typ.ReadOnly {
		return nil, ErrReadOnlyType
	}

	e := newEntity(m, typ, "")
	for name, value := range data {
		if _, ok := typ.Field(name); ok {
			e.SetField(name, value)
		}
	}
	if len(typ.PrimaryKey) == 1 {
		if fd, ok := typ.FieldForColumn(typ.PrimaryKey[0]); ok {
			if id := referenceID(data[fd.Name]); id != "" {
				e.setIdentifier(id)
			}
		}
	}

	if id := e.Identifier(); id != "" {
		if pred, perr := m.predicate(typ, id); perr == nil {
			m.tiers.Invalidate(ctx, cache.Fingerprint(typ.Name, pred))
		}
	}

	values, err := m.buildColumns(e, typ.Fields)
	if err != nil {
		return nil, err
	}

	idColumn := ""
	if len(typ.PrimaryKey) == 1 {
		idColumn = typ.PrimaryKey[0]
	}
	newID, err := m.rows.InsertOrUpdate(ctx, typ.Location(), values, typ.PrimaryKey, idColumn)
	if err != nil {
		return nil, err
	}
	if newID != "" {
		e.setIdentifier(newID)
		if fd, ok := typ.FieldForColumn(idColumn); ok {
			e.SetField(fd.Name, newID)
		}
	}
	e.setState(StateHydrated)
	return e, nil
}

// Reload bypasses both cache tiers, re-reads the row from the store and
// re-populates the tiers and the entity. A row deleted underneath the
// cache reports found=false and evicts the stale copies.
func (m *Manager) Reload(ctx context.Context, e *Entity) (bool, error) {
	id := e.Identifier()
	if id == "" {
		return false, ErrInvalidIdentifier
	}
	pred, err := m.predicate(e.typ, id)
	if err != nil {
		return false, err
	}

	row, found, err := m.tiers.Refresh(ctx, cache.Fingerprint(e.typ.Name, pred), e.typ.TTL, m.loader(e.typ, pred))
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	return true, e.hydrate(ctx, row)
}

// Delete removes the entity from both cache tiers and marks the instance
// deleted. Physical row deletion is delegated to the type's OnDelete hook;
// a type without one is cache-evict only.
func (m *Manager) Delete(ctx context.Context, e *Entity) error {
	if e.State() == StateDeleted {
		return nil
	}
	id := e.Identifier()
	if id == "" {
		return ErrInvalidIdentifier
	}
	pred, err := m.predicate(e.typ, id)
	if err != nil {
		return err
	}

	m.tiers.Invalidate(ctx, cache.Fingerprint(e.typ.Name, pred))

	if hook := e.typ.Hooks().OnDelete; hook != nil {
		if err := hook(ctx, e); err != nil {
			return errors.Wrap(err, "on-delete hook")
		}
	}
	e.setState(StateDeleted)
	m.logger.Debug("entity deleted", zap.String("type", e.typ.Name), zap.String("id", id))
	return nil
}

// predicate maps an identifier onto the type's primary-key columns.
func (m *Manager) predicate(typ *schema.EntityType, id string) (*cache.Predicate, error) {
	values := typ.KeyValues(id)
	if len(values) != len(typ.PrimaryKey) {
		return nil, errors.Wrapf(ErrInvalidIdentifier, "%s %q", typ.Name, id)
	}
	pred := cache.NewPredicate()
	for i, col := range typ.PrimaryKey {
		pred.Eq(col, values[i])
	}
	return pred, nil
}

// loader builds the store-tier fallback for a key predicate.
func (m *Manager) loader(typ *schema.EntityType, pred *cache.Predicate) cache.Loader {
	return func(ctx context.Context) (store.Row, bool, error) {
		return m.rows.SelectOne(ctx, typ.Location(), store.Row(pred.Keys()))
	}
}

// applyInput copies the allowed subset of external input onto the entity,
// resolving the reference shorthand: an input key naming a reference field
// without its "Id" suffix is accepted, and entity or tagged-map values
// collapse to the target identifier.
func applyInput(e *Entity, input map[string]any, allowed []schema.FieldDescriptor) {
	byName := make(map[string]schema.FieldDescriptor, len(allowed))
	for _, fd := range allowed {
		byName[fd.Name] = fd
	}

	for key, value := range input {
		fd, ok := byName[key]
		if !ok {
			if short, found := byName[key+"Id"]; found && short.Kind == schema.KindReference {
				fd, ok = short, true
			}
		}
		if !ok {
			continue
		}
		if fd.Kind == schema.KindReference && value != nil {
			if id := referenceID(value); id != "" {
				value = id
			}
		}
		e.SetField(fd.Name, value)
	}
}

// buildColumns renders the given fields of an entity into a storable column
// map. Unset fields are skipped, nil values on non-nullable fields are
// omitted rather than persisted, structured values serialize through the
// reference codec, and reference values collapse to their identifier.
func (m *Manager) buildColumns(e *Entity, fields []schema.FieldDescriptor) (store.Row, error) {
	values := make(store.Row, len(fields))
	for _, fd := range fields {
		value, ok := e.Field(fd.Name)
		if !ok {
			continue
		}
		if value == nil {
			if !fd.Nullable {
				continue
			}
			values[fd.ColumnName()] = nil
			continue
		}
		switch fd.Kind {
		case schema.KindJSON:
			data, err := m.codec.Marshal(value)
			if err != nil {
				return nil, errors.Wrapf(err, "serializing %s.%s", e.typ.Name, fd.Name)
			}
			values[fd.ColumnName()] = string(data)
		case schema.KindReference:
			if id := referenceID(value); id != "" {
				values[fd.ColumnName()] = id
			} else {
				values[fd.ColumnName()] = value
			}
		default:
			values[fd.ColumnName()] = value
		}
	}
	return values, nil
}

func isAbsent(e *Entity, name string) bool {
	v, ok := e.Field(name)
	return !ok || v == nil || v == ""
}

// decodeJSONColumn parses a persisted structured column back into live
// values, resolving embedded references through the manager.
func decodeJSONColumn(ctx context.Context, c *codec.Codec, value any) (any, error) {
	switch v := value.(type) {
	case []byte:
		return c.Unmarshal(ctx, v)
	case string:
		return c.Unmarshal(ctx, []byte(v))
	default:
		// Already structured (e.g. FromData input); decode in place.
		return c.Decode(ctx, value)
	}
}
