package persist

import (
	"encoding/binary"
	"io"
	"time"

	"github.com/doubleyewdee/MetricSystem/internal/wire"
	"github.com/doubleyewdee/MetricSystem/pkg/counter"
	"github.com/doubleyewdee/MetricSystem/pkg/dimension"
)

// Header describes one persisted-data record: the counter it belongs to,
// the window it covers, the value kind, and the dimension set and source
// list the body's keys are encoded against.
type Header struct {
	Name            string
	Start, End      time.Time
	DataType        counter.Kind
	DataCount       uint32
	Sources         []DataSource
	DimensionSet    dimension.Set
	ProtocolVersion uint16
}

func ticksOf(t time.Time) int64 { return t.UnixNano() }

func timeFromTicks(ticks int64) time.Time { return time.Unix(0, ticks).UTC() }

// encode writes the header section (everything between HEADER_LENGTH and
// BODY in the record layout) using the latest protocol's shape. Legacy
// versions are read-only; the writer never emits them.
func (h *Header) encode(w io.Writer) error {
	if err := wire.WriteString(w, h.Name); err != nil {
		return err
	}
	if err := binary.Write(w, wire.ByteOrder, ticksOf(h.Start)); err != nil {
		return err
	}
	if err := binary.Write(w, wire.ByteOrder, ticksOf(h.End)); err != nil {
		return err
	}
	if err := binary.Write(w, wire.ByteOrder, uint8(h.DataType)); err != nil {
		return err
	}
	if err := binary.Write(w, wire.ByteOrder, h.DataCount); err != nil {
		return err
	}
	names := h.DimensionSet.OriginalNames()
	if err := binary.Write(w, wire.ByteOrder, uint16(len(names))); err != nil {
		return err
	}
	for _, name := range names {
		if err := wire.WriteString(w, name); err != nil {
			return err
		}
	}
	if err := binary.Write(w, wire.ByteOrder, uint32(len(h.Sources))); err != nil {
		return err
	}
	for _, src := range h.Sources {
		if err := wire.WriteString(w, src.Name); err != nil {
			return err
		}
		if err := binary.Write(w, wire.ByteOrder, uint8(src.Status)); err != nil {
			return err
		}
	}
	return nil
}

// decodeHeader reads a header section written under protocolVersion. V1 sources
// lack a status byte and default to SourceUnknown on upgrade.
func decodeHeader(r io.Reader, protocolVersion uint16) (*Header, error) {
	name, err := wire.ReadString(r)
	if err != nil {
		return nil, err
	}
	var startTicks, endTicks int64
	if err := binary.Read(r, wire.ByteOrder, &startTicks); err != nil {
		return nil, err
	}
	if err := binary.Read(r, wire.ByteOrder, &endTicks); err != nil {
		return nil, err
	}
	var dataType uint8
	if err := binary.Read(r, wire.ByteOrder, &dataType); err != nil {
		return nil, err
	}
	var dataCount uint32
	if err := binary.Read(r, wire.ByteOrder, &dataCount); err != nil {
		return nil, err
	}
	var dimCount uint16
	if err := binary.Read(r, wire.ByteOrder, &dimCount); err != nil {
		return nil, err
	}
	names := make([]string, dimCount)
	for i := range names {
		n, err := wire.ReadString(r)
		if err != nil {
			return nil, err
		}
		names[i] = n
	}
	var sourceCount uint32
	if err := binary.Read(r, wire.ByteOrder, &sourceCount); err != nil {
		return nil, err
	}
	sources := make([]DataSource, sourceCount)
	for i := range sources {
		srcName, err := wire.ReadString(r)
		if err != nil {
			return nil, err
		}
		status := SourceUnknown
		if protocolVersion >= Latest {
			var raw uint8
			if err := binary.Read(r, wire.ByteOrder, &raw); err != nil {
				return nil, err
			}
			status = SourceStatus(raw)
		}
		sources[i] = DataSource{Name: srcName, Status: status}
	}

	return &Header{
		Name:            name,
		Start:           timeFromTicks(startTicks),
		End:             timeFromTicks(endTicks),
		DataType:        counter.Kind(dataType),
		DataCount:       dataCount,
		Sources:         sources,
		DimensionSet:    dimension.NewSet(names...),
		ProtocolVersion: protocolVersion,
	}, nil
}
