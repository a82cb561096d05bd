package federation

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"

	"github.com/pkg/errors"
)

// Response is what a Requester returns for a single HTTP round trip: the
// status code and the raw body, left undecoded so the caller can unmarshal
// it into whichever FederatedResponse shape it expects.
type Response struct {
	StatusCode int
	Body       []byte
}

// Requester performs one HTTP round trip against a single server. It is an
// interface, not a concrete client, so tests can substitute a fake
// transport without a real network (the HTTP Requester Abstraction,
// separated from the fan-out algorithm that drives it).
type Requester interface {
	Submit(ctx context.Context, server ServerInfo, uri string, body []byte) (Response, error)
}

// RequesterFactory builds a Requester. It is a package-level variable
// rather than a constant so tests can swap in a fake transport process-wide
// without threading a parameter through every call site.
var RequesterFactory func() Requester = func() Requester { return NewHTTPRequester() }

// HTTPRequester is the default Requester, backed by net/http: context
// cancellation, connection pooling, and a clean error taxonomy come for
// free from the standard client.
type HTTPRequester struct {
	client *http.Client
}

// NewHTTPRequester returns a Requester backed by http.DefaultClient unless
// an option such as WithHTTPClient replaces it.
func NewHTTPRequester(opts ...func(*HTTPRequester)) Requester {
	r := &HTTPRequester{client: http.DefaultClient}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// WithHTTPClient overrides the underlying *http.Client, e.g. to install a
// custom Transport with non-default dial timeouts or TLS config.
func WithHTTPClient(client *http.Client) func(*HTTPRequester) {
	return func(r *HTTPRequester) { r.client = client }
}

func (r *HTTPRequester) Submit(ctx context.Context, server ServerInfo, uri string, body []byte) (Response, error) {
	full := &url.URL{Scheme: "http", Host: server.String(), Path: uri}
	if idx := indexQuery(uri); idx >= 0 {
		full.Path = uri[:idx]
		full.RawQuery = uri[idx+1:]
	}

	var bodyReader io.Reader
	method := http.MethodGet
	if body != nil {
		bodyReader = newBytesReader(body)
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(ctx, method, full.String(), bodyReader)
	if err != nil {
		return Response{}, &TransportError{Kind: TransportOther, Server: server, Cause: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return Response{}, classifyTransportError(server, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, &TransportError{Kind: TransportInvalidBody, Server: server, Cause: err}
	}

	return Response{StatusCode: resp.StatusCode, Body: data}, nil
}

func indexQuery(uri string) int {
	for i := 0; i < len(uri); i++ {
		if uri[i] == '?' {
			return i
		}
	}
	return -1
}

func classifyTransportError(server ServerInfo, err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &TransportError{Kind: TransportTimeout, Server: server, Cause: err}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &TransportError{Kind: TransportTimeout, Server: server, Cause: err}
	}
	if errors.Is(err, io.EOF) {
		return &TransportError{Kind: TransportConnectionClosed, Server: server, Cause: err}
	}
	return &TransportError{Kind: TransportOther, Server: server, Cause: err}
}

func newBytesReader(b []byte) io.Reader {
	return &byteSliceReader{data: b}
}

// byteSliceReader avoids pulling in bytes.Reader's full API surface for
// what is always a single linear read of a JSON-encoded request body.
type byteSliceReader struct {
	data []byte
	pos  int
}

func (b *byteSliceReader) Read(p []byte) (int, error) {
	if b.pos >= len(b.data) {
		return 0, io.EOF
	}
	n := copy(p, b.data[b.pos:])
	b.pos += n
	return n, nil
}

// decodeResponse unmarshals body into a fresh T, returning an
// InvalidBody TransportError on malformed JSON rather than letting the
// caller see a raw json error.
func decodeResponse[T any](server ServerInfo, body []byte) (T, error) {
	var out T
	if err := json.Unmarshal(body, &out); err != nil {
		return out, &TransportError{Kind: TransportInvalidBody, Server: server, Cause: err}
	}
	return out, nil
}
