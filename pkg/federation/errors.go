package federation

import "fmt"

// TransportFailure classifies why a Requester could not produce a response
// at all (as opposed to the remote server producing one, even an error
// one). TransportTimeout is recorded as TimedOut on the leader's
// RequestDetails; every other kind is recorded as RequestException.
type TransportFailure int

const (
	TransportTimeout TransportFailure = iota
	TransportConnectionClosed
	TransportInvalidBody
	TransportOther
)

func (f TransportFailure) String() string {
	switch f {
	case TransportTimeout:
		return "Timeout"
	case TransportConnectionClosed:
		return "ConnectionClosed"
	case TransportInvalidBody:
		return "InvalidBody"
	default:
		return "Other"
	}
}

// TransportError is returned by a Requester when no usable HTTP response
// was obtained from the remote server: connection refused, read timeout,
// a body that didn't parse, or anything else that never reached "here is
// an HTTP status code".
type TransportError struct {
	Kind   TransportFailure
	Server ServerInfo
	Cause  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("request to %s failed (%s): %v", e.Server, e.Kind, e.Cause)
}

func (e *TransportError) Unwrap() error { return e.Cause }
