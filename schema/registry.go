package schema

import (
	"errors"
	"fmt"

	"github.com/puzpuzpuz/xsync/v3"
	"go.uber.org/zap"
)

// NotFoundError reports a lookup of an unregistered entity type. This is a
// programmer error: callers must fail the current operation rather than
// fall back silently, or schema typos get masked.
type NotFoundError struct {
	Type string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("schema: type %q is not registered", e.Type)
}

// IsNotFound reports whether err is a schema NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// Registry holds the entity type declarations for a process. Schemas are
// static: once registered they are memoized for the process lifetime and
// never invalidated. The registry is safe for concurrent use.
type Registry struct {
	types  *xsync.MapOf[string, *EntityType]
	logger *zap.Logger
}

// NewRegistry creates an empty registry. A nil logger disables logging.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		types:  xsync.NewMapOf[string, *EntityType](),
		logger: logger,
	}
}

// Register adds a built entity type. Registering the same name twice is an
// error; type declarations are startup-time only.
func (r *Registry) Register(t *EntityType) error {
	if t == nil {
		return errors.New("schema: cannot register nil type")
	}
	if _, loaded := r.types.LoadOrStore(t.Name, t); loaded {
		return fmt.Errorf("schema: type %q already registered", t.Name)
	}
	r.logger.Debug("registered entity type",
		zap.String("type", t.Name),
		zap.String("location", t.Location()),
		zap.Int("fields", len(t.Fields)))
	return nil
}

// MustRegister is Register for static startup declarations.
func (r *Registry) MustRegister(t *EntityType) {
	if err := r.Register(t); err != nil {
		panic(err)
	}
}

// Describe returns the schema for a registered type name. Unregistered
// names fail with NotFoundError.
func (r *Registry) Describe(name string) (*EntityType, error) {
	if t, ok := r.types.Load(name); ok {
		return t, nil
	}
	return nil, &NotFoundError{Type: name}
}

// Registered reports whether the type name is known without failing.
func (r *Registry) Registered(name string) bool {
	_, ok := r.types.Load(name)
	return ok
}
