package persist

import (
	"bufio"
	"encoding/binary"
	"hash"
	"hash/crc32"
	"io"

	"github.com/doubleyewdee/MetricSystem/internal/wire"
	"github.com/doubleyewdee/MetricSystem/pkg/counter"
	"github.com/doubleyewdee/MetricSystem/pkg/dimension"
)

// Reader decodes persisted-data records written by Writer, plus legacy
// protocol versions (read-only). A Reader is not safe for concurrent use.
type Reader struct {
	raw *bufio.Reader

	header      *Header
	hasher      hash.Hash32
	bodySrc     io.Reader
	entriesLeft uint32
	recordOpen  bool
}

// NewReader wraps in.
func NewReader(in io.Reader) *Reader {
	return &Reader{raw: bufio.NewReader(in)}
}

// Header returns the header most recently advanced to by ReadDataHeader.
func (r *Reader) Header() *Header { return r.header }

// IsLatestProtocol reports whether the current record's protocol version
// is the latest, letting callers detect and rewrite legacy records.
func (r *Reader) IsLatestProtocol() bool {
	return r.header != nil && r.header.ProtocolVersion == Latest
}

// truncated wraps a short-read error as a persist.Error, treating a clean
// io.EOF the same as any other short read once we're partway through a
// record (only the very first read of a record may be a legitimate EOF).
func truncated(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Reason: ReasonTruncated, Message: err.Error()}
}

// readExact reads exactly len(p) bytes. It reports cleanEOF=true only when
// zero bytes were read and the stream is at EOF, the one case that is not
// a truncation but a legitimate end of the file at a record boundary.
func readExact(r io.Reader, p []byte) (cleanEOF bool, err error) {
	n, err := io.ReadFull(r, p)
	if err == io.EOF && n == 0 {
		return true, nil
	}
	return false, err
}

// ReadDataHeader advances to the next record, returning false iff the
// stream is cleanly at EOF on a record boundary. Any other failure,
// including a short read partway through the framing, is a
// *Error; it never panics and never returns bogus data.
func (r *Reader) ReadDataHeader() (bool, error) {
	r.header = nil
	r.recordOpen = false

	var magicBytes [4]byte
	cleanEOF, err := readExact(r.raw, magicBytes[:])
	if cleanEOF {
		return false, nil
	}
	if err != nil {
		return false, truncated(err)
	}
	magic := binary.LittleEndian.Uint32(magicBytes[:])
	if magic != Magic {
		return false, &Error{Reason: ReasonBadMagic, Message: "unexpected magic number"}
	}

	var versionBytes [2]byte
	if _, err := io.ReadFull(r.raw, versionBytes[:]); err != nil {
		return false, truncated(err)
	}
	version := binary.LittleEndian.Uint16(versionBytes[:])
	if version != ProtocolV1 && version != Latest {
		return false, &Error{Reason: ReasonUnsupportedVersion, Message: "unrecognised protocol version"}
	}

	var lengthBytes [4]byte
	if _, err := io.ReadFull(r.raw, lengthBytes[:]); err != nil {
		return false, truncated(err)
	}
	headerLength := binary.LittleEndian.Uint32(lengthBytes[:])

	hasher := crc32.NewIEEE()
	headerSrc := io.TeeReader(io.LimitReader(r.raw, int64(headerLength)), hasher)
	header, err := decodeHeader(headerSrc, version)
	if err != nil {
		return false, truncated(err)
	}

	r.header = header
	r.hasher = hasher
	r.bodySrc = io.TeeReader(r.raw, hasher)
	r.entriesLeft = header.DataCount
	r.recordOpen = true
	return true, nil
}

// Visitor receives one (key, value) pair per call during ReadData. A
// non-nil return aborts the scan and is propagated to the caller.
type Visitor func(key dimension.Key, value counter.Mergeable) error

// ReadData streams every (key, value) pair of the current record to
// visitor without materialising the whole table, then verifies the
// trailing CRC32. It must be called exactly once per record returned true
// by ReadDataHeader, before the next ReadDataHeader call.
func (r *Reader) ReadData(visitor Visitor) error {
	if !r.recordOpen {
		return errorsNotOpen()
	}
	defer func() { r.recordOpen = false }()

	dimCount := r.header.DimensionSet.Len()
	for i := uint32(0); i < r.entriesLeft; i++ {
		key := make(dimension.Key, dimCount)
		for j := 0; j < dimCount; j++ {
			v, err := wire.ReadString(r.bodySrc)
			if err != nil {
				return truncated(err)
			}
			key[j] = v
		}
		value, err := counter.NewValue(r.header.DataType)
		if err != nil {
			return err
		}
		if err := value.Decode(r.bodySrc); err != nil {
			return truncated(err)
		}
		if visitor != nil {
			if err := visitor(key, value); err != nil {
				return err
			}
		}
	}

	var crcBytes [4]byte
	if _, err := io.ReadFull(r.raw, crcBytes[:]); err != nil {
		return truncated(err)
	}
	stored := binary.LittleEndian.Uint32(crcBytes[:])
	if stored != r.hasher.Sum32() {
		return &Error{Reason: ReasonCorrupt, Message: "CRC32 mismatch"}
	}
	return nil
}

// LoadData is ReadData but returns a fully materialised enumerable instead
// of streaming to a callback.
func (r *Reader) LoadData() ([]counter.Entry, error) {
	var entries []counter.Entry
	err := r.ReadData(func(key dimension.Key, value counter.Mergeable) error {
		entries = append(entries, counter.Entry{Key: key, Value: value})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func errorsNotOpen() error {
	return &Error{Reason: ReasonCorrupt, Message: "ReadData called without a record open; call ReadDataHeader first"}
}
