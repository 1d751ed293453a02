// Package codec converts between in-memory entity references and their
// portable wire form. A reference crosses process and storage boundaries
// as a small tagged map carrying the target's identifier and type name;
// everything else serializes as plain JSON.
package codec

import (
	"context"
	"encoding/json"

	"github.com/pkg/errors"
)

// Wire-format tags for serialized references.
const (
	TagID    = "id"
	TagClass = "_class"
)

// Reference is anything that can be pointed at across a serialization
// boundary: it has a stable identifier and a registered type name.
type Reference interface {
	ReferenceID() string
	ReferenceClass() string
}

// Resolver turns a (type, id) pair back into a live reference. The entity
// manager is the production implementation; tests supply fakes. Resolve
// reports a target that no longer exists as (nil, nil); errors are
// reserved for lookups that actually failed.
type Resolver interface {
	Registered(typeName string) bool
	Resolve(ctx context.Context, typeName, id string) (Reference, error)
}

// Codec encodes and decodes arbitrarily nested values, rewriting entity
// references into portable tagged maps and back.
type Codec struct {
	resolver Resolver
}

// New returns a codec backed by the given resolver. A nil resolver yields
// a codec that encodes but leaves tagged maps untouched on decode.
func New(resolver Resolver) *Codec {
	return &Codec{resolver: resolver}
}

// Encode walks the value depth-first and replaces every Reference with its
// tagged map form {"id": ..., "_class": ...}. Maps and slices are copied,
// never mutated in place. Encoding an already-encoded value is a no-op:
// tagged maps pass through unchanged.
func (c *Codec) Encode(value any) any {
	switch v := value.(type) {
	case Reference:
		return map[string]any{
			TagID:    v.ReferenceID(),
			TagClass: v.ReferenceClass(),
		}
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = c.Encode(item)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = c.Encode(item)
		}
		return out
	default:
		return value
	}
}

// Decode walks the value depth-first and resolves every tagged map whose
// class names a registered type back into a live Reference. Tagged maps
// for unregistered types pass through as plain maps, and so does a
// dangling tag whose target row no longer exists; nothing is lost either
// way. Only lookups that actually fail abort the decode.
func (c *Codec) Decode(ctx context.Context, value any) (any, error) {
	switch v := value.(type) {
	case map[string]any:
		if ref, ok := c.tryResolve(ctx, v); ok {
			return ref.value, ref.err
		}
		out := make(map[string]any, len(v))
		for k, item := range v {
			decoded, err := c.Decode(ctx, item)
			if err != nil {
				return nil, err
			}
			out[k] = decoded
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			decoded, err := c.Decode(ctx, item)
			if err != nil {
				return nil, err
			}
			out[i] = decoded
		}
		return out, nil
	default:
		return value, nil
	}
}

type resolution struct {
	value any
	err   error
}

// tryResolve reports whether the map is a resolvable reference tag. Any
// map bearing both string tags with a registered class qualifies,
// regardless of what else it carries; other shapes decode as ordinary
// maps. A tag whose target no longer exists degrades to the raw map so a
// dangling reference never makes its owner unreadable.
func (c *Codec) tryResolve(ctx context.Context, m map[string]any) (resolution, bool) {
	id, ok := m[TagID].(string)
	if !ok {
		return resolution{}, false
	}
	class, ok := m[TagClass].(string)
	if !ok {
		return resolution{}, false
	}
	if c.resolver == nil || !c.resolver.Registered(class) {
		return resolution{}, false
	}
	ref, err := c.resolver.Resolve(ctx, class, id)
	if err != nil {
		return resolution{err: errors.Wrapf(err, "resolving %s reference %q", class, id)}, true
	}
	if ref == nil {
		return resolution{}, false
	}
	return resolution{value: ref}, true
}

// Marshal encodes the value and renders it as JSON, the persisted form of
// structured columns.
func (c *Codec) Marshal(value any) ([]byte, error) {
	data, err := json.Marshal(c.Encode(value))
	if err != nil {
		return nil, errors.Wrap(err, "marshaling encoded value")
	}
	return data, nil
}

// Unmarshal parses persisted JSON and decodes embedded references.
func (c *Codec) Unmarshal(ctx context.Context, data []byte) (any, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrap(err, "unmarshaling persisted value")
	}
	return c.Decode(ctx, raw)
}
