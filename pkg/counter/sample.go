package counter

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/doubleyewdee/MetricSystem/pkg/dimension"
)

// Sample is one time-bucketed observation of a counter, as returned to
// query-client callers. It is not part of the persisted-data record format;
// that format stores Entry values keyed by a Store's DimensionSet for a
// single [Start, End) window described once in the record header.
type Sample struct {
	Start, End time.Time
	Dimensions dimension.Specification
	Value      Mergeable
}

// sampleEnvelope is Sample's wire shape: Value is a Mergeable interface, so
// it cannot round-trip through encoding/json on its own; the envelope
// tags it with its Kind so UnmarshalJSON knows which concrete type to
// allocate before decoding into it.
type sampleEnvelope struct {
	Start      time.Time               `json:"start"`
	End        time.Time               `json:"end"`
	Dimensions dimension.Specification `json:"dimensions"`
	Kind       Kind                    `json:"kind"`
	Value      json.RawMessage         `json:"value"`
}

func (s Sample) MarshalJSON() ([]byte, error) {
	valueBytes, err := json.Marshal(s.Value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(sampleEnvelope{
		Start:      s.Start,
		End:        s.End,
		Dimensions: s.Dimensions,
		Kind:       s.Value.Kind(),
		Value:      valueBytes,
	})
}

func (s *Sample) UnmarshalJSON(data []byte) error {
	var env sampleEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	value, err := NewValue(env.Kind)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(env.Value, value); err != nil {
		return err
	}
	s.Start = env.Start
	s.End = env.End
	s.Dimensions = env.Dimensions
	s.Value = value
	return nil
}

// MergeKey identifies samples that should be summed together during
// fan-out aggregation: same window, same complete dimension assignment.
func (s Sample) MergeKey() string {
	return s.Start.Format(time.RFC3339Nano) + "|" + s.End.Format(time.RFC3339Nano) + "|" + specKey(s.Dimensions)
}

func specKey(spec dimension.Specification) string {
	names := make([]string, 0, len(spec))
	for name := range spec {
		names = append(names, name)
	}
	sort.Strings(names) // stable key independent of map iteration order
	key := ""
	for _, n := range names {
		key += n + "=" + spec[n] + ";"
	}
	return key
}

// MergeSamples sums samples that share a MergeKey: hit count samples add,
// histogram samples sum per bucket, absent samples are treated as zero.
// Samples are returned in an unspecified but stable order (sorted by
// MergeKey).
func MergeSamples(groups ...[]Sample) ([]Sample, error) {
	byKey := make(map[string]*Sample)
	order := make([]string, 0)
	for _, samples := range groups {
		for _, sample := range samples {
			key := sample.MergeKey()
			existing, ok := byKey[key]
			if !ok {
				clone := sample
				clone.Value = sample.Value.Clone()
				byKey[key] = &clone
				order = append(order, key)
				continue
			}
			if err := existing.Value.Merge(sample.Value); err != nil {
				return nil, err
			}
		}
	}
	sort.Strings(order)
	out := make([]Sample, 0, len(order))
	for _, key := range order {
		out = append(out, *byKey[key])
	}
	return out, nil
}
