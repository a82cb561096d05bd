// Package counter implements the counter value kinds (hit-count and
// histogram), the keyed data store that holds dimensional samples of them,
// and the sample type the distributed query client returns to callers.
package counter

import (
	"io"

	"github.com/pkg/errors"
)

// Kind tags which concrete Mergeable a Value holds. The persisted-data
// header's data_type field is one byte that distinguishes the same two
// kinds.
type Kind uint8

const (
	KindHitCount Kind = 0
	KindHistogram Kind = 1
)

func (k Kind) String() string {
	switch k {
	case KindHitCount:
		return "HitCount"
	case KindHistogram:
		return "Histogram"
	default:
		return "Unknown"
	}
}

// Mergeable is the capability every counter value kind must provide: an
// associative, commutative merge, and a self-describing binary encoding
// used by the persisted-data codec. Implementations are HitCount and
// Histogram, dispatched through this interface rather than a runtime type
// switch.
type Mergeable interface {
	Kind() Kind
	// Merge folds other into the receiver in place. Returns an error if
	// other is not the same concrete kind.
	Merge(other Mergeable) error
	// Clone returns a deep copy, used when seeding a new map entry from a
	// write-buffer value without aliasing it.
	Clone() Mergeable
	// Encode writes the type-specific body encoding consumed by the
	// persisted-data codec.
	Encode(w io.Writer) error
	// Decode reads a value previously written by Encode.
	Decode(r io.Reader) error
}

// HitCount is a saturating unsigned counter.
type HitCount struct {
	Value uint64
}

func NewHitCount() *HitCount { return &HitCount{} }

func (h *HitCount) Kind() Kind { return KindHitCount }

// Add increments the count by delta, saturating at the uint64 maximum
// instead of wrapping.
func (h *HitCount) Add(delta uint64) {
	if h.Value+delta < h.Value {
		h.Value = ^uint64(0)
		return
	}
	h.Value += delta
}

func (h *HitCount) Merge(other Mergeable) error {
	o, ok := other.(*HitCount)
	if !ok {
		return errors.Errorf("cannot merge %s into HitCount", other.Kind())
	}
	h.Add(o.Value)
	return nil
}

func (h *HitCount) Clone() Mergeable {
	return &HitCount{Value: h.Value}
}

// Histogram holds counts keyed by bucket. Merge sums per-bucket.
type Histogram struct {
	Buckets map[string]uint64
}

func NewHistogram() *Histogram {
	return &Histogram{Buckets: make(map[string]uint64)}
}

func (h *Histogram) Kind() Kind { return KindHistogram }

// AddToBucket increments a single bucket's count, saturating like HitCount.
func (h *Histogram) AddToBucket(bucket string, delta uint64) {
	if h.Buckets == nil {
		h.Buckets = make(map[string]uint64)
	}
	cur := h.Buckets[bucket]
	if cur+delta < cur {
		h.Buckets[bucket] = ^uint64(0)
		return
	}
	h.Buckets[bucket] = cur + delta
}

func (h *Histogram) Merge(other Mergeable) error {
	o, ok := other.(*Histogram)
	if !ok {
		return errors.Errorf("cannot merge %s into Histogram", other.Kind())
	}
	for bucket, count := range o.Buckets {
		h.AddToBucket(bucket, count)
	}
	return nil
}

func (h *Histogram) Clone() Mergeable {
	clone := &Histogram{Buckets: make(map[string]uint64, len(h.Buckets))}
	for k, v := range h.Buckets {
		clone.Buckets[k] = v
	}
	return clone
}
