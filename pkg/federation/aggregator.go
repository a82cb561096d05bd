package federation

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/doubleyewdee/MetricSystem/internal/fedctx"
	"github.com/doubleyewdee/MetricSystem/pkg/counter"
)

// batchLeaderRequest is the wire shape posted to each leader for a batch
// query: the delegated source group plus every sub-query, each carrying
// its own percentile-stripped params and a guaranteed user_context.
type batchLeaderRequest struct {
	Sources                   []ServerInfo   `json:"sources"`
	MaxFanout                 uint32         `json:"maxFanout"`
	FanoutTimeoutMs           uint32         `json:"fanoutTimeoutMs"`
	IncludeRequestDiagnostics bool           `json:"includeRequestDiagnostics"`
	Queries                   []CounterQuery `json:"queries"`
}

// batchLeaderResponse is what a leader returns for a batch query: one
// CounterQueryResponse per user_context it recognized, plus its own
// RequestDetails for the sources it fanned out to.
type batchLeaderResponse struct {
	Responses map[string]CounterQueryResponse `json:"responses"`
	Details   []RequestDetails                `json:"requestDetails"`
}

// assignUserContexts mutates queries in place, giving every query lacking
// one a fresh UUID so aggregation always has a stable join key.
func assignUserContexts(queries []CounterQuery) {
	for i := range queries {
		if queries[i].UserContext == "" {
			queries[i].UserContext = uuid.NewString()
		}
	}
}

// BatchQuery fans out every query in req in a single request per leader:
// the batch shares one set of target sources (taken from the first
// query's TieredRequest; queries disagreeing on sources is a caller
// error, not something this aggregator reconciles) and each leader
// executes every sub-query against its own delegated group before
// replying with one CounterQueryResponse per user_context.
func (c *DistributedQueryClient) BatchQuery(ctx *fedctx.Context, req BatchQueryRequest) (*BatchQueryResponse, error) {
	if len(req.Queries) == 0 {
		return nil, &ArgumentError{Name: "queries", Message: "must contain at least one query"}
	}
	assignUserContexts(req.Queries)

	shared := req.Queries[0].TieredRequest
	if err := validateCounterQuery(req.Queries[0].CounterPath, &shared); err != nil {
		return nil, err
	}

	queries := make([]CounterQuery, len(req.Queries))
	for i, q := range req.Queries {
		q.QueryParams = stripPercentileParams(q.QueryParams)
		queries[i] = q
	}

	plan, err := PlanFanout(shared.Sources, shared.MaxFanout)
	if err != nil {
		return nil, err
	}

	calls := make([]leaderCall, len(plan.Leaders))
	group, gctx := fedctx.ErrGroup(ctx)
	for i, leader := range plan.Leaders {
		i, leader := i, leader
		delegated := plan.Groups[i]
		group.Go(func() error {
			call, err := c.callBatchLeader(gctx, leader, delegated, shared, queries)
			if err != nil {
				return err
			}
			calls[i] = call
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	return mergeBatchCalls(queries, calls)
}

// callBatchLeader returns a non-nil error only when Requester.Submit fails
// with something other than a *TransportError, which must propagate to the
// caller unabsorbed rather than being folded into a per-leader RequestStatus.
func (c *DistributedQueryClient) callBatchLeader(ctx *fedctx.Context, leader ServerInfo, delegated []ServerInfo, shared TieredRequest, queries []CounterQuery) (leaderCall, error) {
	start := time.Now()
	payload, err := json.Marshal(batchLeaderRequest{
		Sources:                   delegated,
		MaxFanout:                 shared.MaxFanout,
		FanoutTimeoutMs:           shared.FanoutTimeoutMs,
		IncludeRequestDiagnostics: shared.IncludeRequestDiagnostics,
		Queries:                   queries,
	})
	if err != nil {
		return leaderCall{server: leader, delegated: delegated, details: RequestDetails{
			Server: leader, Status: StatusFederationError, Message: err.Error(),
		}}, nil
	}

	timeout := time.Duration(shared.FanoutTimeoutMs) * time.Millisecond
	callCtx, cancel := fedctx.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := c.requester.Submit(callCtx, leader, "/counters/batch/query", payload)
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

func mergeBatchCalls(queries []CounterQuery, calls []leaderCall) (*BatchQueryResponse, error) {
	byContext := map[string][][]counter.Sample{}
	detailsByContext := map[string][]RequestDetails{}
	known := map[string]bool{}
	for _, q := range queries {
		known[q.UserContext] = true
	}

	out := &BatchQueryResponse{}
	for _, call := range calls {
		var leaderResp batchLeaderResponse
		err := json.Unmarshal(call.body, &leaderResp)
		var subDetails []RequestDetails
		if err == nil {
			subDetails = leaderResp.Details
			for userContext, resp := range leaderResp.Responses {
				if !known[userContext] {
					continue // leader answered a query we never asked; discard
				}
				byContext[userContext] = append(byContext[userContext], resp.Samples)
				detailsByContext[userContext] = append(detailsByContext[userContext], resp.Details...)
			}
		}
		out.Details = mergeCallDetails(out.Details, call, subDetails, err)
	}

	out.Responses = make([]CounterQueryResponse, len(queries))
	for i, q := range queries {
		merged, err := counter.MergeSamples(byContext[q.UserContext]...)
		if err != nil {
			return nil, err
		}
		out.Responses[i] = CounterQueryResponse{
			Samples:          merged,
			Details:          detailsByContext[q.UserContext],
			HTTPResponseCode: 200,
			UserContext:      q.UserContext,
		}
	}

	sort.SliceStable(out.Details, func(i, j int) bool {
		return out.Details[i].Server.String() < out.Details[j].Server.String()
	})
	return out, nil
}
