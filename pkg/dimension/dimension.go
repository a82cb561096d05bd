// Package dimension defines the categorical axes used to key counter and
// histogram samples, and the canonical ordering the persisted-data codec
// relies on.
package dimension

import (
	"strings"

	"golang.org/x/exp/slices"
)

// Dimension is a single named categorical axis. Identity is the name,
// compared case-insensitively.
type Dimension struct {
	Name string
}

// Equal reports whether two dimensions share the same name, ignoring case.
func (d Dimension) Equal(other Dimension) bool {
	return strings.EqualFold(d.Name, other.Name)
}

func normalizedName(name string) string {
	return strings.ToLower(name)
}

// Set is an ordered collection of Dimensions. Two sets are equal iff they
// contain the same dimension names, independent of insertion order. The set
// maintains a canonical order (sorted by normalized name) so that the
// persisted-data codec can rely on a deterministic dimension_names list and
// so that DimensionKey tuples from two equal Sets are directly comparable.
type Set struct {
	names []string // canonical order, normalized
	orig  []string // original-case names, same order as names
}

// NewSet builds a canonically-ordered Set from the given dimension names.
// Duplicate names (case-insensitive) are collapsed, keeping the first
// original-case spelling encountered. The resulting order is sorted by
// normalized name, independent of the order names were passed in.
func NewSet(names ...string) Set {
	byKey := make(map[string]string, len(names)) // normalized -> original
	keys := make([]string, 0, len(names))
	for _, n := range names {
		key := normalizedName(n)
		if _, ok := byKey[key]; ok {
			continue
		}
		byKey[key] = n
		keys = append(keys, key)
	}
	slices.Sort(keys)

	s := Set{names: keys, orig: make([]string, len(keys))}
	for i, key := range keys {
		s.orig[i] = byKey[key]
	}
	return s
}

// Len returns the number of dimensions in the set.
func (s Set) Len() int { return len(s.names) }

// Names returns the dimensions in canonical (sorted, normalized) order, or
// nil for an empty set.
func (s Set) Names() []string {
	if len(s.names) == 0 {
		return nil
	}
	return slices.Clone(s.names)
}

// OriginalNames returns the dimensions in canonical order using their
// original-case spelling, for display and header serialisation.
func (s Set) OriginalNames() []string {
	return slices.Clone(s.orig)
}

// IndexOf returns the canonical-order index of name, or -1 if absent.
func (s Set) IndexOf(name string) int {
	key := normalizedName(name)
	return slices.Index(s.names, key)
}

// Equal reports whether two sets contain exactly the same dimension names.
func (s Set) Equal(other Set) bool {
	if len(s.names) != len(other.names) {
		return false
	}
	for i, n := range s.names {
		if other.names[i] != n {
			return false
		}
	}
	return true
}

// Key is a tuple of dimension values in the owning Set's canonical order.
// Its arity must equal the owning Set's Len.
type Key []string

// String renders the key as a stable, comparable string suitable for use as
// a Go map key.
func (k Key) String() string {
	return strings.Join(k, "\x1f")
}

// Specification maps dimension name to value. It may be partial (for
// queries) or complete (for a data point). Lookups are case-insensitive on
// the dimension name.
type Specification map[string]string

// Get returns the value assigned to name and whether it was present.
func (s Specification) Get(name string) (string, bool) {
	for k, v := range s {
		if strings.EqualFold(k, name) {
			return v, true
		}
	}
	return "", false
}

// KeyFor projects this specification onto set's canonical order, producing a
// Key. Dimensions absent from the specification become the empty string.
func (s Specification) KeyFor(set Set) Key {
	key := make(Key, set.Len())
	for i, name := range set.Names() {
		if v, ok := s[name]; ok {
			key[i] = v
			continue
		}
		// fall back to a case-insensitive scan since set.Names() is
		// normalized but s's keys retain original case.
		if v, ok := s.Get(name); ok {
			key[i] = v
		}
	}
	return key
}

// IsComplete reports whether the specification assigns a value to every
// dimension in set.
func (s Specification) IsComplete(set Set) bool {
	for _, name := range set.OriginalNames() {
		if _, ok := s.Get(name); !ok {
			return false
		}
	}
	return true
}
