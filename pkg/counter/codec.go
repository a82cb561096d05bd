package counter

import (
	"encoding/binary"
	"io"

	"github.com/doubleyewdee/MetricSystem/internal/wire"
)

// Encode writes a HitCount as a single little-endian uint64.
func (h *HitCount) Encode(w io.Writer) error {
	return binary.Write(w, wire.ByteOrder, h.Value)
}

// Decode reads a HitCount previously written by Encode.
func (h *HitCount) Decode(r io.Reader) error {
	return binary.Read(r, wire.ByteOrder, &h.Value)
}

// Encode writes a Histogram as a bucket count followed by
// (length-prefixed bucket key, uint64 count) pairs.
func (h *Histogram) Encode(w io.Writer) error {
	if err := binary.Write(w, wire.ByteOrder, uint32(len(h.Buckets))); err != nil {
		return err
	}
	for bucket, count := range h.Buckets {
		if err := wire.WriteString(w, bucket); err != nil {
			return err
		}
		if err := binary.Write(w, wire.ByteOrder, count); err != nil {
			return err
		}
	}
	return nil
}

// Decode reads a Histogram previously written by Encode.
func (h *Histogram) Decode(r io.Reader) error {
	var bucketCount uint32
	if err := binary.Read(r, wire.ByteOrder, &bucketCount); err != nil {
		return err
	}
	h.Buckets = make(map[string]uint64, bucketCount)
	for i := uint32(0); i < bucketCount; i++ {
		bucket, err := wire.ReadString(r)
		if err != nil {
			return err
		}
		var count uint64
		if err := binary.Read(r, wire.ByteOrder, &count); err != nil {
			return err
		}
		h.Buckets[bucket] = count
	}
	return nil
}
