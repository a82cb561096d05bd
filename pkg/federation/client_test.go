package federation

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doubleyewdee/MetricSystem/internal/fedctx"
	"github.com/doubleyewdee/MetricSystem/pkg/counter"
	"github.com/doubleyewdee/MetricSystem/pkg/dimension"
)

// fakeRequester dispatches canned outcomes by server, letting tests drive
// every leader-state transition without a real network.
type fakeRequester struct {
	byServer map[ServerInfo]func() (Response, error)
}

func (f *fakeRequester) Submit(_ context.Context, server ServerInfo, _ string, _ []byte) (Response, error) {
	fn, ok := f.byServer[server]
	if !ok {
		return Response{}, &TransportError{Kind: TransportOther, Server: server, Cause: assertNever{}}
	}
	return fn()
}

type assertNever struct{}

func (assertNever) Error() string { return "no canned response registered for this server" }

func hitCountSample(host string, value uint64) counter.Sample {
	return counter.Sample{
		Start:      time.Unix(0, 0).UTC(),
		End:        time.Unix(60, 0).UTC(),
		Dimensions: dimension.Specification{"host": host},
		Value:      &counter.HitCount{Value: value},
	}
}

func successResponse(t *testing.T, samples ...counter.Sample) func() (Response, error) {
	t.Helper()
	body, err := json.Marshal(CounterQueryResponse{Samples: samples, HTTPResponseCode: 200})
	require.NoError(t, err)
	return func() (Response, error) {
		return Response{StatusCode: 200, Body: body}, nil
	}
}

func TestCounterQueryMergesSamplesAcrossAllLeaders(t *testing.T) {
	// All 10 sources fit within maxFanout, so every source is contacted
	// directly as a leader with no further delegation.
	sources := makeSources(10)
	fake := &fakeRequester{byServer: map[ServerInfo]func() (Response, error){}}
	for i, s := range sources {
		fake.byServer[s] = successResponse(t, hitCountSample("web", uint64(i+1)))
	}

	client := NewDistributedQueryClientWithRequester(fake)
	req := TieredRequest{Sources: sources, MaxFanout: 10, FanoutTimeoutMs: 1000}
	resp, err := client.CounterQuery(fedctx.Background(), "myCounter", req, nil)
	require.NoError(t, err)

	require.Len(t, resp.Samples, 1)
	hc, ok := resp.Samples[0].Value.(*counter.HitCount)
	require.True(t, ok)
	assert.Equal(t, uint64(55), hc.Value) // 1+2+...+10
	assert.Len(t, resp.Details, 10, "one RequestDetails per leader")
}

func TestCounterQueryRecordsTimedOutStatusOnDeadlineExceeded(t *testing.T) {
	sources := makeSources(2)
	fake := &fakeRequester{byServer: map[ServerInfo]func() (Response, error){
		sources[0]: successResponse(t, hitCountSample("web", 1)),
		sources[1]: func() (Response, error) {
			return Response{}, &TransportError{Kind: TransportTimeout, Server: sources[1]}
		},
	}}

	client := NewDistributedQueryClientWithRequester(fake)
	req := TieredRequest{Sources: sources, MaxFanout: 2, FanoutTimeoutMs: 1000}
	resp, err := client.CounterQuery(fedctx.Background(), "myCounter", req, nil)
	require.NoError(t, err)

	var sawTimeout, sawSuccess bool
	for _, d := range resp.Details {
		switch d.Status {
		case StatusTimedOut:
			sawTimeout = true
		case StatusSuccess:
			sawSuccess = true
		}
	}
	assert.True(t, sawTimeout)
	assert.True(t, sawSuccess)
}

func TestCounterQueryRecordsServerFailureResponseOnNon2xx(t *testing.T) {
	sources := makeSources(1)
	fake := &fakeRequester{byServer: map[ServerInfo]func() (Response, error){
		sources[0]: func() (Response, error) {
			return Response{StatusCode: 402, Body: []byte(`{"errorMessage":"quota exceeded"}`)}, nil
		},
	}}

	client := NewDistributedQueryClientWithRequester(fake)
	req := TieredRequest{Sources: sources, MaxFanout: 1, FanoutTimeoutMs: 1000}
	resp, err := client.CounterQuery(fedctx.Background(), "myCounter", req, nil)
	require.NoError(t, err)
	require.Len(t, resp.Details, 1)
	assert.Equal(t, StatusServerFailureResponse, resp.Details[0].Status)
	assert.Equal(t, int16(402), resp.Details[0].HTTPResponseCode)
	assert.Empty(t, resp.Samples)
}

func TestCounterQueryRejectsEmptyCounterPath(t *testing.T) {
	client := NewDistributedQueryClientWithRequester(&fakeRequester{byServer: map[ServerInfo]func() (Response, error){}})
	req := TieredRequest{Sources: makeSources(1), MaxFanout: 1, FanoutTimeoutMs: 1000}
	_, err := client.CounterQuery(fedctx.Background(), "", req, nil)
	require.Error(t, err)
	var argErr *ArgumentError
	require.ErrorAs(t, err, &argErr)
}

func TestCounterQueryDefaultsDelegatedSourcesToFederationErrorWhenEveryLeaderThrows(t *testing.T) {
	// 10 sources, max_fanout=2: 2 leaders, each delegated a group of 4.
	// Every leader throws, so this client never learns anything about the
	// 8 delegated sources and must not drop them from the result.
	sources := makeSources(10)
	fake := &fakeRequester{byServer: map[ServerInfo]func() (Response, error){}}
	plan, err := PlanFanout(sources, 2)
	require.NoError(t, err)
	for _, leader := range plan.Leaders {
		leader := leader
		fake.byServer[leader] = func() (Response, error) {
			return Response{}, &TransportError{Kind: TransportOther, Server: leader}
		}
	}

	client := NewDistributedQueryClientWithRequester(fake)
	req := TieredRequest{Sources: sources, MaxFanout: 2, FanoutTimeoutMs: 1000}
	resp, err := client.CounterQuery(fedctx.Background(), "myCounter", req, nil)
	require.NoError(t, err)

	require.Len(t, resp.Details, 10)
	var requestExceptionCount, federationErrorCount int
	for _, d := range resp.Details {
		switch d.Status {
		case StatusRequestException:
			requestExceptionCount++
		case StatusFederationError:
			federationErrorCount++
		}
	}
	assert.Equal(t, 2, requestExceptionCount, "one per leader")
	assert.Equal(t, 8, federationErrorCount, "one per delegated sub-source")
}

func TestCounterQueryUsesLeaderBodyForSubSourceDetailsOnNon2xx(t *testing.T) {
	// 3 sources, max_fanout=1: one leader, delegated two sub-sources. The
	// leader fails with a non-2xx status but a well-formed body reporting
	// its own sub-source outcomes, which must be read rather than
	// defaulted to placeholders.
	sources := makeSources(3)
	leader := sources[0]
	subA, subB := sources[1], sources[2]

	leaderBody, err := json.Marshal(CounterQueryResponse{
		Details: []RequestDetails{
			{Server: subA, Status: StatusRequestException, Message: "downstream refused connection"},
			{Server: subB, Status: StatusRequestException, Message: "downstream refused connection"},
		},
	})
	require.NoError(t, err)

	fake := &fakeRequester{byServer: map[ServerInfo]func() (Response, error){
		leader: func() (Response, error) {
			return Response{StatusCode: 402, Body: leaderBody}, nil
		},
	}}

	client := NewDistributedQueryClientWithRequester(fake)
	req := TieredRequest{Sources: sources, MaxFanout: 1, FanoutTimeoutMs: 1000}
	resp, err := client.CounterQuery(fedctx.Background(), "myCounter", req, nil)
	require.NoError(t, err)

	require.Len(t, resp.Details, 3)
	byServer := map[ServerInfo]RequestDetails{}
	for _, d := range resp.Details {
		byServer[d.Server] = d
	}
	assert.Equal(t, StatusServerFailureResponse, byServer[leader].Status)
	assert.Equal(t, int16(402), byServer[leader].HTTPResponseCode)
	assert.Equal(t, StatusRequestException, byServer[subA].Status)
	assert.Equal(t, StatusRequestException, byServer[subB].Status)
}

func TestCounterQueryDemotesUnparseable2xxBodyToFederationError(t *testing.T) {
	sources := makeSources(1)
	fake := &fakeRequester{byServer: map[ServerInfo]func() (Response, error){
		sources[0]: func() (Response, error) {
			return Response{StatusCode: 200, Body: []byte("not json")}, nil
		},
	}}

	client := NewDistributedQueryClientWithRequester(fake)
	req := TieredRequest{Sources: sources, MaxFanout: 1, FanoutTimeoutMs: 1000}
	resp, err := client.CounterQuery(fedctx.Background(), "myCounter", req, nil)
	require.NoError(t, err)

	require.Len(t, resp.Details, 1)
	assert.Equal(t, StatusFederationError, resp.Details[0].Status)
	assert.NotEmpty(t, resp.ErrorMessage)
}

func TestCounterInfoQueryDefaultsDelegatedSourcesToFederationErrorWhenLeaderThrows(t *testing.T) {
	sources := makeSources(3)
	leader := sources[0]
	fake := &fakeRequester{byServer: map[ServerInfo]func() (Response, error){
		leader: func() (Response, error) {
			return Response{}, &TransportError{Kind: TransportOther, Server: leader}
		},
	}}

	client := NewDistributedQueryClientWithRequester(fake)
	req := TieredRequest{Sources: sources, MaxFanout: 1, FanoutTimeoutMs: 1000}
	resp, err := client.CounterInfoQuery(fedctx.Background(), "myCounter", req, nil)
	require.NoError(t, err)

	require.Len(t, resp.Details, 3)
	var federationErrorCount int
	for _, d := range resp.Details {
		if d.Status == StatusFederationError {
			federationErrorCount++
		}
	}
	assert.Equal(t, 2, federationErrorCount, "one per delegated sub-source")
}

func TestCounterQueryPropagatesNonTransportErrorFromSubmit(t *testing.T) {
	// Submit returning a plain error (not a *TransportError) is an
	// unrecognized failure mode and must reach the caller unabsorbed,
	// rather than being folded into a per-leader RequestStatus.
	sources := makeSources(1)
	boom := errors.New("panic recovered mid-request")
	fake := &fakeRequester{byServer: map[ServerInfo]func() (Response, error){
		sources[0]: func() (Response, error) {
			return Response{}, boom
		},
	}}

	client := NewDistributedQueryClientWithRequester(fake)
	req := TieredRequest{Sources: sources, MaxFanout: 1, FanoutTimeoutMs: 1000}
	_, err := client.CounterQuery(fedctx.Background(), "myCounter", req, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
}

func TestBuildURIStripsPercentilesAndOmitsEmptyQueryString(t *testing.T) {
	uri := buildURI("/foo", stripPercentileParams(map[string]string{"Percentile": "50,99"}), false)
	assert.Equal(t, "/counters/foo/query", uri)

	uri = buildURI("/foo", stripPercentileParams(map[string]string{"percentile": "50,99"}), false)
	assert.Equal(t, "/counters/foo/query", uri)

	uri = buildURI("foo", map[string]string{"tag": "x"}, true)
	assert.Equal(t, "/counters/foo/info?tag=x", uri)
}
