// Package wire holds the length-prefixed primitive encoders shared by the
// counter value codecs and the persisted-data record codec, so every
// integer and string on the wire uses one fixed byte order: a
// little-endian uint32 length prefix followed by the raw bytes.
package wire

import (
	"encoding/binary"
	"io"
)

// ByteOrder is the fixed wire order for every persisted-data and
// counter-value integer field.
var ByteOrder = binary.LittleEndian

// WriteString emits a little-endian uint32 length prefix followed by s's
// raw bytes.
func WriteString(w io.Writer, s string) error {
	if err := binary.Write(w, ByteOrder, uint32(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

// ReadString reads a string previously written by WriteString. Short reads
// propagate the underlying io error (io.EOF / io.ErrUnexpectedEOF) to the
// caller, which maps them to a persist.Error at the record-boundary
// level.
func ReadString(r io.Reader) (string, error) {
	var length uint32
	if err := binary.Read(r, ByteOrder, &length); err != nil {
		return "", err
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
