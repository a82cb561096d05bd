package persist

import (
	"bufio"
	"context"
	"encoding/binary"
	"hash/crc32"
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/doubleyewdee/MetricSystem/internal/pool"
	"github.com/doubleyewdee/MetricSystem/internal/wire"
	"github.com/doubleyewdee/MetricSystem/pkg/counter"
)

// Writer emits persisted-data records to an io.Writer, always in the
// latest protocol. A Writer is not safe for concurrent use.
type Writer struct {
	out  *bufio.Writer
	pool pool.BufferPool
}

// NewWriter wraps out. bufferPool supplies scratch buffers for header/body
// assembly; pass nil to use a private, process-local pool.
func NewWriter(out io.Writer, bufferPool pool.BufferPool) *Writer {
	if bufferPool == nil {
		bufferPool = pool.NewBufferPool(context.Background())
	}
	return &Writer{out: bufio.NewWriter(out), pool: bufferPool}
}

// WriteData emits exactly one record. declaredCount must equal
// store.Count() after the caller's most recent Merge(); a mismatch aborts
// with a codec error rather than silently writing a wrong data_count.
func (w *Writer) WriteData(
	ctx context.Context,
	name string,
	start, end time.Time,
	declaredCount uint32,
	sources []DataSource,
	store *counter.Store,
) error {
	if uint32(store.Count()) != declaredCount {
		return &Error{Reason: ReasonCorrupt, Message: "declared_count does not match store.Count() after merge"}
	}

	headerBuf, err := w.pool.Get(ctx)
	if err != nil {
		return errors.WithMessage(err, "borrowing header scratch buffer")
	}
	bodyBuf, err := w.pool.Get(ctx)
	if err != nil {
		_ = pool.ReleaseAll(ctx, w.pool, headerBuf)
		return errors.WithMessage(err, "borrowing body scratch buffer")
	}
	defer func() {
		// Every acquisition is released on every exit path, success or
		// error. A release failure does not invalidate an otherwise
		// successful write.
		_ = pool.ReleaseAll(ctx, w.pool, headerBuf, bodyBuf)
	}()

	header := &Header{
		Name: name, Start: start, End: end,
		DataType: store.Kind(), DataCount: declaredCount,
		Sources: sources, DimensionSet: store.DimensionSet(), ProtocolVersion: Latest,
	}
	if err := header.encode(headerBuf); err != nil {
		return errors.WithMessage(err, "encoding header")
	}

	entries := store.Enumerate()
	if uint32(len(entries)) != declaredCount {
		return &Error{Reason: ReasonCorrupt, Message: "store enumeration length does not match declared_count"}
	}
	for _, entry := range entries {
		for _, v := range entry.Key {
			if err := wire.WriteString(bodyBuf, v); err != nil {
				return errors.WithMessage(err, "encoding key")
			}
		}
		if err := entry.Value.Encode(bodyBuf); err != nil {
			return errors.WithMessage(err, "encoding value")
		}
	}

	if err := binary.Write(w.out, wire.ByteOrder, Magic); err != nil {
		return err
	}
	if err := binary.Write(w.out, wire.ByteOrder, Latest); err != nil {
		return err
	}
	if err := binary.Write(w.out, wire.ByteOrder, uint32(headerBuf.Len())); err != nil {
		return err
	}

	crc := crc32.NewIEEE()
	multi := io.MultiWriter(w.out, crc)
	if _, err := multi.Write(headerBuf.Bytes()); err != nil {
		return err
	}
	if _, err := multi.Write(bodyBuf.Bytes()); err != nil {
		return err
	}
	if err := binary.Write(w.out, wire.ByteOrder, crc.Sum32()); err != nil {
		return err
	}
	return w.out.Flush()
}
