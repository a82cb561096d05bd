package counter

import (
	"sort"
	"sync"

	"github.com/pkg/errors"

	"github.com/doubleyewdee/MetricSystem/pkg/dimension"
)

// NewValue constructs a zero-valued Mergeable for kind. Used by the
// persisted-data reader, which only knows the data_type byte from the
// header and must allocate the matching concrete type before decoding.
func NewValue(kind Kind) (Mergeable, error) {
	switch kind {
	case KindHitCount:
		return NewHitCount(), nil
	case KindHistogram:
		return NewHistogram(), nil
	default:
		return nil, errors.Errorf("unknown counter value kind %d", kind)
	}
}

// Entry is one (key, value) pair yielded by Store enumeration.
type Entry struct {
	Key   dimension.Key
	Value Mergeable
}

// Store holds samples keyed by a dimension tuple for a single DimensionSet.
// Writes land in a pending buffer; Merge folds the buffer into the live,
// sorted region, collapsing duplicate keys with Mergeable.Merge. Merge is
// idempotent when called with an empty buffer.
//
// A Store is not safe for concurrent use; callers serialize access, since
// concurrent mutation during enumeration is forbidden.
type Store struct {
	mu     sync.Mutex
	set    dimension.Set
	live   map[string]*Entry // key.String() -> entry
	buffer []*Entry
	newVal func() Mergeable
}

// NewStore creates a store keyed by set. newVal constructs a fresh,
// zero-valued Mergeable of the kind this store holds (e.g. counter.NewHitCount).
func NewStore(set dimension.Set, newVal func() Mergeable) *Store {
	return &Store{
		set:    set,
		live:   make(map[string]*Entry),
		newVal: newVal,
	}
}

// Kind reports the Mergeable kind this store holds, used by the
// persisted-data writer to populate the header's data_type field.
func (s *Store) Kind() Kind {
	return s.newVal().Kind()
}

// DimensionSet returns the set this store is keyed by.
func (s *Store) DimensionSet() dimension.Set {
	return s.set
}

// AddValue appends a write to the pending buffer. spec must assign a value
// to every dimension in the owning set (a partial specification is only
// valid for queries, not for writes into a store).
func (s *Store) AddValue(spec dimension.Specification, apply func(Mergeable)) error {
	if !spec.IsComplete(s.set) {
		return errors.New("dimension specification is incomplete for this store's dimension set")
	}
	key := spec.KeyFor(s.set)
	v := s.newVal()
	apply(v)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer = append(s.buffer, &Entry{Key: key, Value: v})
	return nil
}

// Merge folds the pending write buffer into the live region, summing
// values for duplicate keys via Mergeable.Merge. Calling Merge on an empty
// buffer is a no-op.
func (s *Store) Merge() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.buffer) == 0 {
		return nil
	}
	for _, entry := range s.buffer {
		keyStr := entry.Key.String()
		if existing, ok := s.live[keyStr]; ok {
			if err := existing.Value.Merge(entry.Value); err != nil {
				return errors.WithMessagef(err, "merging key %v", entry.Key)
			}
			continue
		}
		s.live[keyStr] = &Entry{Key: entry.Key, Value: entry.Value.Clone()}
	}
	s.buffer = s.buffer[:0]
	return nil
}

// Count returns the number of distinct live keys after the most recent
// Merge.
func (s *Store) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.live)
}

// Enumerate yields live entries in a stable (sorted by key string) order.
// It must not be called concurrently with AddValue or Merge.
func (s *Store) Enumerate() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, 0, len(s.live))
	for _, e := range s.live {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Key.String() < out[j].Key.String()
	})
	return out
}

// Dispose releases the store's backing buffers. A disposed store must not
// be used again. The live Go GC makes this a no-op beyond clearing
// references, but it is kept as an explicit lifecycle step so stores
// compose with the pooled-buffer discipline the persisted-data codec
// follows: a store is created on server startup and destroyed at
// shutdown.
func (s *Store) Dispose() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.live = nil
	s.buffer = nil
}
