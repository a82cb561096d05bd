package persist

import "fmt"

// Error is the persisted-data codec's error taxonomy: Truncated, BadMagic,
// UnsupportedVersion, Corrupt. Modeled as a generic struct error carrying
// a Reason code: one exported struct for every failure family, with a
// stable Error() message and optional context fields.
type Error struct {
	Reason  Reason
	Message string
}

// Reason enumerates the codec's failure families.
type Reason int

const (
	// ReasonTruncated indicates a short read at a record boundary. A
	// truncated stream never panics and never yields partial data.
	ReasonTruncated Reason = iota
	// ReasonBadMagic indicates the magic number did not match.
	ReasonBadMagic
	// ReasonUnsupportedVersion indicates an unrecognised protocol version.
	ReasonUnsupportedVersion
	// ReasonCorrupt indicates a CRC32 mismatch.
	ReasonCorrupt
)

func (r Reason) String() string {
	switch r {
	case ReasonTruncated:
		return "Truncated"
	case ReasonBadMagic:
		return "BadMagic"
	case ReasonUnsupportedVersion:
		return "UnsupportedVersion"
	case ReasonCorrupt:
		return "Corrupt"
	default:
		return "Unknown"
	}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("persisted data: %s", e.Reason)
	}
	return fmt.Sprintf("persisted data: %s: %s", e.Reason, e.Message)
}

// IsTruncated reports whether err is a persist.Error with ReasonTruncated.
func IsTruncated(err error) bool {
	pe, ok := err.(*Error)
	return ok && pe.Reason == ReasonTruncated
}
