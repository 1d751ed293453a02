package cache

import (
	"fmt"
	"strings"

	"github.com/cespare/xxhash/v2"
)

// KeySeparator delimits cache key segments.
const KeySeparator = "::"

// Key is a stable cache fingerprint for one logical row.
type Key string

// Predicate is an ordered set of column/value equality pairs identifying a
// row by primary (or alternate) key. Order follows the schema's key
// declaration, so the same logical row always canonicalizes identically
// regardless of which tier serves it.
type Predicate struct {
	columns []string
	values  []any
}

// NewPredicate returns an empty predicate.
func NewPredicate() *Predicate {
	return &Predicate{}
}

// Eq appends a column equality pair.
func (p *Predicate) Eq(column string, value any) *Predicate {
	p.columns = append(p.columns, column)
	p.values = append(p.values, value)
	return p
}

// Empty reports whether the predicate has no pairs. Callers treat empty
// predicates as an unresolvable primary key, never as "match anything".
func (p *Predicate) Empty() bool {
	return p == nil || len(p.columns) == 0
}

// Columns returns the predicate columns in declaration order.
func (p *Predicate) Columns() []string {
	return p.columns
}

// Values returns the predicate values aligned with Columns.
func (p *Predicate) Values() []any {
	return p.values
}

// Keys returns the predicate as a column/value map for the row store.
func (p *Predicate) Keys() map[string]any {
	out := make(map[string]any, len(p.columns))
	for i, col := range p.columns {
		out[col] = p.values[i]
	}
	return out
}

// Canonical renders the predicate in its stable textual form, the input to
// fingerprinting.
func (p *Predicate) Canonical() string {
	if p.Empty() {
		return ""
	}
	parts := make([]string, len(p.columns))
	for i, col := range p.columns {
		parts[i] = fmt.Sprintf("%s='%v'", col, p.values[i])
	}
	return strings.Join(parts, " AND ")
}

// Fingerprint derives the cache key for an entity type and key predicate.
// The hash is content-stable: the same type and predicate fingerprint
// identically across calls and processes, so composite and alternate keys
// collapse to one key per logical row. The type name stays in the key as a
// readable namespace.
func Fingerprint(typeName string, p *Predicate) Key {
	sum := xxhash.Sum64String(typeName + KeySeparator + p.Canonical())
	return Key(fmt.Sprintf("%s%s%016x", typeName, KeySeparator, sum))
}
