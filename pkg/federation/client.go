package federation

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/doubleyewdee/MetricSystem/internal/fedctx"
	"github.com/doubleyewdee/MetricSystem/pkg/counter"
)

// DistributedQueryClient drives counter_query, counter_info_query and
// batch_query against a tree of metric servers: it plans one level of
// fan-out, submits one request per leader concurrently, and merges
// whatever comes back. Recursion past the first level happens on the
// remote leaders themselves, not here.
type DistributedQueryClient struct {
	requester Requester
	metrics   *Metrics
}

// NewDistributedQueryClient builds a client using RequesterFactory and the
// default metrics registration.
func NewDistributedQueryClient() *DistributedQueryClient {
	return &DistributedQueryClient{requester: RequesterFactory(), metrics: DefaultMetrics}
}

// NewDistributedQueryClientWithRequester is for tests that want to supply a
// fake Requester directly rather than going through the package-level
// factory.
func NewDistributedQueryClientWithRequester(r Requester) *DistributedQueryClient {
	return &DistributedQueryClient{requester: r, metrics: DefaultMetrics}
}

func validateCounterQuery(counterPath string, req *TieredRequest) error {
	if strings.TrimSpace(counterPath) == "" {
		return &ArgumentError{Name: "counter_path", Message: "must not be empty"}
	}
	if req == nil {
		return &ArgumentError{Name: "tiered_request", Message: "must not be nil"}
	}
	if req.MaxFanout == 0 {
		return &ArgumentError{Name: "max_fanout", Message: "must be greater than zero"}
	}
	return nil
}

// stripPercentileParams removes the "percentile" query parameter
// case-insensitively: percentile computation happens once, at the root, on
// the fully merged sample set, never per-leader.
func stripPercentileParams(params map[string]string) map[string]string {
	if len(params) == 0 {
		return params
	}
	out := make(map[string]string, len(params))
	for k, v := range params {
		if strings.EqualFold(k, "percentile") {
			continue
		}
		out[k] = v
	}
	return out
}

// buildURI constructs "/counters{path}/query" or "/counters{path}/info",
// with queryParams (percentile keys already stripped) appended as a query
// string only when non-empty.
func buildURI(counterPath string, params map[string]string, infoQuery bool) string {
	if !strings.HasPrefix(counterPath, "/") {
		counterPath = "/" + counterPath
	}
	op := "query"
	if infoQuery {
		op = "info"
	}
	uri := fmt.Sprintf("/counters%s/%s", counterPath, op)

	if len(params) == 0 {
		return uri
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	values := url.Values{}
	for _, k := range keys {
		values.Set(k, params[k])
	}
	qs := values.Encode()
	if qs == "" {
		return uri
	}
	return uri + "?" + qs
}

// leaderCall is the outcome of one HTTP round trip to one leader, retained
// alongside its slot index so results can be merged deterministically once
// every leader has answered or timed out. delegated is the sub-source group
// PlanFanout assigned to this leader, carried through so a failed or
// undecodable leader response still leaves one RequestDetails placeholder
// per source it was responsible for, instead of dropping them.
type leaderCall struct {
	server    ServerInfo
	delegated []ServerInfo
	details   RequestDetails
	body      []byte
}

// callLeaders submits one request per (leader, delegated group) pair
// produced by PlanFanout, each bounded by its own fanout timeout rather
// than a single timeout shared across the whole fan-out.
func (c *DistributedQueryClient) callLeaders(ctx *fedctx.Context, req TieredRequest, uri string) ([]leaderCall, error) {
	plan, err := PlanFanout(req.Sources, req.MaxFanout)
	if err != nil {
		return nil, err
	}

	results := make([]leaderCall, len(plan.Leaders))
	group, gctx := fedctx.ErrGroup(ctx)
	for i, leader := range plan.Leaders {
		i, leader := i, leader
		delegated := plan.Groups[i]
		group.Go(func() error {
			call, err := c.callOne(gctx, leader, delegated, req, uri)
			if err != nil {
				return err
			}
			results[i] = call
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// callOne returns a non-nil error only when Requester.Submit fails with
// something other than a *TransportError: that is not a recognized
// transport failure mode and must propagate to the caller unabsorbed,
// rather than being folded into a per-leader RequestStatus.
func (c *DistributedQueryClient) callOne(ctx *fedctx.Context, leader ServerInfo, delegated []ServerInfo, req TieredRequest, uri string) (leaderCall, error) {
	start := time.Now()
	sub := TieredRequest{
		Sources:                   delegated,
		MaxFanout:                 req.MaxFanout,
		FanoutTimeoutMs:           req.FanoutTimeoutMs,
		IncludeRequestDiagnostics: req.IncludeRequestDiagnostics,
		InnerPayload:              req.InnerPayload,
	}
	payload, err := json.Marshal(sub)
	if err != nil {
		return leaderCall{server: leader, delegated: delegated, details: RequestDetails{
			Server: leader, Status: StatusFederationError, Message: err.Error(),
		}}, nil
	}

	timeout := time.Duration(req.FanoutTimeoutMs) * time.Millisecond
	callCtx, cancel := fedctx.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.requester.Submit(callCtx, leader, uri, payload)
	elapsed := time.Since(start)
	if err != nil {
		var te *TransportError
		if !errors.As(err, &te) {
			return leaderCall{}, err
		}
		status := StatusRequestException
		if te.Kind == TransportTimeout {
			status = StatusTimedOut
		}
		c.metrics.ObserveLeader(status, elapsed)
		return leaderCall{server: leader, delegated: delegated, details: RequestDetails{
			Server: leader, Status: status, Message: err.Error(),
		}}, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.metrics.ObserveLeader(StatusServerFailureResponse, elapsed)
		return leaderCall{server: leader, delegated: delegated, body: resp.Body, details: RequestDetails{
			Server:           leader,
			Status:           StatusServerFailureResponse,
			HTTPResponseCode: int16(resp.StatusCode),
			Message:          fmt.Sprintf("leader returned HTTP %d", resp.StatusCode),
		}}, nil
	}

	c.metrics.ObserveLeader(StatusSuccess, elapsed)
	return leaderCall{
		server:    leader,
		delegated: delegated,
		body:      resp.Body,
		details: RequestDetails{
			Server:           leader,
			Status:           StatusSuccess,
			HTTPResponseCode: int16(resp.StatusCode),
		},
	}, nil
}

// placeholderDetails seeds one FederationError RequestDetails per source in
// delegated. It is what a leader's sub-sources default to before its
// response is decoded, and what they are left with if decoding never
// succeeds, so a failed or unreachable leader never drops the sources it
// was responsible for.
func placeholderDetails(delegated []ServerInfo) []RequestDetails {
	if len(delegated) == 0 {
		return nil
	}
	out := make([]RequestDetails, len(delegated))
	for i, s := range delegated {
		out[i] = RequestDetails{
			Server:  s,
			Status:  StatusFederationError,
			Message: "delegated source unreachable: leader response could not be decoded",
		}
	}
	return out
}

// mergeCallDetails appends the RequestDetails one leader call contributes to
// out: the leader's own outcome, then either subDetails (the sub-source
// details the leader's own decoded response reported) when decodeErr is
// nil, or a FederationError placeholder per delegated source when it is
// not. A leader that answered with a 2xx status but a body that could not
// be decoded is itself demoted to FederationError: a successful transport
// that cannot be decoded carries no more information than an explicit
// failure.
func mergeCallDetails(out []RequestDetails, call leaderCall, subDetails []RequestDetails, decodeErr error) []RequestDetails {
	leaderDetails := call.details
	if decodeErr != nil && leaderDetails.Status == StatusSuccess {
		leaderDetails = RequestDetails{
			Server: call.server, Status: StatusFederationError, Message: decodeErr.Error(),
		}
	}
	out = append(out, leaderDetails)
	if decodeErr != nil {
		return append(out, placeholderDetails(call.delegated)...)
	}
	return append(out, subDetails...)
}

// recordFirstFailure sets out's ErrorMessage to msg if it does not already
// carry one, via the FederatedResponse interface, so a caller sees the
// earliest failure across every leader rather than the last.
func recordFirstFailure(out FederatedResponse, msg string) {
	if msg != "" && out.GetErrorMessage() == "" {
		out.SetErrorMessage(msg)
	}
}

// CounterQuery fans out one counter data query and merges the samples and
// diagnostics from every leader that answered.
func (c *DistributedQueryClient) CounterQuery(ctx *fedctx.Context, counterPath string, req TieredRequest, queryParams map[string]string) (*CounterQueryResponse, error) {
	if err := validateCounterQuery(counterPath, &req); err != nil {
		return nil, err
	}
	uri := buildURI(counterPath, stripPercentileParams(queryParams), false)

	calls, err := c.callLeaders(ctx, req, uri)
	if err != nil {
		return nil, err
	}

	out := &CounterQueryResponse{}
	var outFR FederatedResponse = out
	var sampleGroups [][]counter.Sample
	for _, call := range calls {
		leaderResp, err := decodeResponse[CounterQueryResponse](call.server, call.body)
		var subDetails []RequestDetails
		if err == nil {
			var leaderFR FederatedResponse = &leaderResp
			subDetails = leaderFR.GetRequestDetails()
			sampleGroups = append(sampleGroups, leaderResp.Samples)
		}
		outFR.SetRequestDetails(mergeCallDetails(outFR.GetRequestDetails(), call, subDetails, err))
	}
	for _, d := range outFR.GetRequestDetails() {
		if d.Status != StatusSuccess {
			recordFirstFailure(outFR, d.Message)
		}
	}

	merged, err := counter.MergeSamples(sampleGroups...)
	if err != nil {
		return nil, err
	}
	out.Samples = merged
	outFR.SetHTTPResponseCode(200)
	return out, nil
}

// CounterInfoQuery fans out an info query (distinct-value counts per
// dimension) and merges the per-leader samples additively.
func (c *DistributedQueryClient) CounterInfoQuery(ctx *fedctx.Context, counterPath string, req TieredRequest, queryParams map[string]string) (*CounterInfoResponse, error) {
	if err := validateCounterQuery(counterPath, &req); err != nil {
		return nil, err
	}
	uri := buildURI(counterPath, stripPercentileParams(queryParams), true)

	calls, err := c.callLeaders(ctx, req, uri)
	if err != nil {
		return nil, err
	}

	out := &CounterInfoResponse{}
	var outFR FederatedResponse = out
	byDimension := map[string]uint64{}
	var order []string
	for _, call := range calls {
		leaderResp, err := decodeResponse[CounterInfoResponse](call.server, call.body)
		var subDetails []RequestDetails
		if err == nil {
			var leaderFR FederatedResponse = &leaderResp
			subDetails = leaderFR.GetRequestDetails()
			for _, s := range leaderResp.Samples {
				if _, seen := byDimension[s.Dimension]; !seen {
					order = append(order, s.Dimension)
				}
				byDimension[s.Dimension] += s.DistinctValues
			}
		}
		outFR.SetRequestDetails(mergeCallDetails(outFR.GetRequestDetails(), call, subDetails, err))
	}
	for _, d := range outFR.GetRequestDetails() {
		if d.Status != StatusSuccess {
			recordFirstFailure(outFR, d.Message)
		}
	}

	sort.Strings(order)
	for _, dim := range order {
		out.Samples = append(out.Samples, CounterInfoSample{Dimension: dim, DistinctValues: byDimension[dim]})
	}
	outFR.SetHTTPResponseCode(200)
	return out, nil
}
