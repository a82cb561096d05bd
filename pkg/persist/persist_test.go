package persist

import (
	"bytes"
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doubleyewdee/MetricSystem/pkg/counter"
	"github.com/doubleyewdee/MetricSystem/pkg/dimension"
)

func binaryWriteMagicAndVersion(buf *bytes.Buffer, version uint16) error {
	if err := binary.Write(buf, binary.LittleEndian, Magic); err != nil {
		return err
	}
	return binary.Write(buf, binary.LittleEndian, version)
}

func buildStore(t *testing.T, set dimension.Set, values map[string]uint64) *counter.Store {
	t.Helper()
	store := counter.NewStore(set, func() counter.Mergeable { return counter.NewHitCount() })
	for key, v := range values {
		require.NoError(t, store.AddValue(dimension.Specification{"host": key}, func(m counter.Mergeable) {
			m.(*counter.HitCount).Add(v)
		}))
	}
	require.NoError(t, store.Merge())
	return store
}

func TestWriterReaderRoundTripIsBitExact(t *testing.T) {
	ctx := context.Background()
	set := dimension.NewSet("host")
	store := buildStore(t, set, map[string]uint64{"a": 1, "b": 2, "c": 3})

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(time.Minute)
	sources := []DataSource{{Name: "server1", Status: SourceAvailable}, {Name: "server2", Status: SourceUnavailable}}

	var buf bytes.Buffer
	w := NewWriter(&buf, nil)
	require.NoError(t, w.WriteData(ctx, "myCounter", start, end, uint32(store.Count()), sources, store))

	r := NewReader(&buf)
	hasNext, err := r.ReadDataHeader()
	require.NoError(t, err)
	require.True(t, hasNext)
	assert.True(t, r.IsLatestProtocol())

	header := r.Header()
	assert.Equal(t, "myCounter", header.Name)
	assert.True(t, header.Start.Equal(start))
	assert.True(t, header.End.Equal(end))
	assert.True(t, header.DimensionSet.Equal(set))
	if diff := cmp.Diff(sources, header.Sources); diff != "" {
		t.Fatalf("sources round-trip mismatch (-want +got):\n%s", diff)
	}

	entries, err := r.LoadData()
	require.NoError(t, err)
	require.Len(t, entries, 3)

	got := map[string]uint64{}
	for _, e := range entries {
		got[e.Key.String()] = e.Value.(*counter.HitCount).Value
	}
	want := map[string]uint64{
		dimension.Key{"a"}.String(): 1,
		dimension.Key{"b"}.String(): 2,
		dimension.Key{"c"}.String(): 3,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("data round-trip mismatch (-want +got):\n%s", diff)
	}

	hasNext, err = r.ReadDataHeader()
	require.NoError(t, err)
	assert.False(t, hasNext, "single-record stream must report clean EOF")
}

func TestWriteDataRejectsDeclaredCountMismatch(t *testing.T) {
	ctx := context.Background()
	set := dimension.NewSet("host")
	store := buildStore(t, set, map[string]uint64{"a": 1})

	var buf bytes.Buffer
	w := NewWriter(&buf, nil)
	err := w.WriteData(ctx, "c", time.Now(), time.Now(), 2, nil, store)
	require.Error(t, err)
	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ReasonCorrupt, pe.Reason)
}

func TestTruncationAtEveryPrefixLengthIsSafe(t *testing.T) {
	ctx := context.Background()
	set := dimension.NewSet("host", "cluster")
	store := buildStore2(t, set)

	var full bytes.Buffer
	w := NewWriter(&full, nil)
	require.NoError(t, w.WriteData(ctx, "c", time.Now(), time.Now().Add(time.Minute), uint32(store.Count()), []DataSource{{Name: "s1"}}, store))

	data := full.Bytes()
	for length := 0; length <= len(data)/2; length++ {
		prefix := data[:length]
		r := NewReader(bytes.NewReader(prefix))
		hasNext, err := r.ReadDataHeader()
		if err != nil {
			var pe *Error
			assert.ErrorAs(t, err, &pe, "prefix length %d: expected *Error, got %v", length, err)
			continue
		}
		if !hasNext {
			continue // clean EOF at the record boundary (length == 0)
		}
		_, err = r.LoadData()
		if err != nil {
			var pe *Error
			assert.ErrorAs(t, err, &pe, "prefix length %d: expected *Error, got %v", length, err)
		}
	}
}

func buildStore2(t *testing.T, set dimension.Set) *counter.Store {
	t.Helper()
	store := counter.NewStore(set, func() counter.Mergeable { return counter.NewHitCount() })
	require.NoError(t, store.AddValue(dimension.Specification{"host": "a", "cluster": "us"}, func(m counter.Mergeable) {
		m.(*counter.HitCount).Add(7)
	}))
	require.NoError(t, store.Merge())
	return store
}

func TestReaderRejectsBadMagic(t *testing.T) {
	buf := bytes.NewReader([]byte{0xde, 0xad, 0xbe, 0xef, 0x02, 0x00})
	r := NewReader(buf)
	_, err := r.ReadDataHeader()
	require.Error(t, err)
	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ReasonBadMagic, pe.Reason)
}

func TestReaderRejectsUnsupportedVersion(t *testing.T) {
	var buf bytes.Buffer
	_ = binaryWriteMagicAndVersion(&buf, 99)
	r := NewReader(&buf)
	_, err := r.ReadDataHeader()
	require.Error(t, err)
	var pe *Error
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ReasonUnsupportedVersion, pe.Reason)
}

func TestEmptyStreamIsCleanEOF(t *testing.T) {
	r := NewReader(bytes.NewReader(nil))
	hasNext, err := r.ReadDataHeader()
	require.NoError(t, err)
	assert.False(t, hasNext)
}
