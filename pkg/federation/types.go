// Package federation implements the tiered query fan-out client: the
// request planner, the pluggable HTTP requester abstraction, the
// distributed query client, and the batch response aggregator.
package federation

import (
	"encoding/json"
	"fmt"

	"github.com/doubleyewdee/MetricSystem/pkg/counter"
)

// ServerInfo identifies a metric server. Equality is structural.
type ServerInfo struct {
	Hostname string
	Port     uint16
}

func (s ServerInfo) String() string {
	return fmt.Sprintf("%s:%d", s.Hostname, s.Port)
}

// TieredRequest is the body of a fan-out request, carried to every leader
// in the recursion.
type TieredRequest struct {
	Sources                   []ServerInfo    `json:"sources"`
	MaxFanout                 uint32          `json:"maxFanout"`
	FanoutTimeoutMs           uint32          `json:"fanoutTimeoutMs"`
	IncludeRequestDiagnostics bool            `json:"includeRequestDiagnostics"`
	InnerPayload              json.RawMessage `json:"innerPayload,omitempty"`
}

// RequestStatus is the terminal outcome recorded for one source.
type RequestStatus int

const (
	StatusSuccess RequestStatus = iota
	StatusTimedOut
	StatusServerFailureResponse
	StatusRequestException
	StatusFederationError
)

func (s RequestStatus) String() string {
	switch s {
	case StatusSuccess:
		return "Success"
	case StatusTimedOut:
		return "TimedOut"
	case StatusServerFailureResponse:
		return "ServerFailureResponse"
	case StatusRequestException:
		return "RequestException"
	case StatusFederationError:
		return "FederationError"
	default:
		return "Unknown"
	}
}

// RequestDetails records the outcome of one source's request. A contacted
// leader ends in exactly one of Success, TimedOut, ServerFailureResponse,
// or RequestException; FederationError is recorded instead for a source
// whose outcome could not be learned (a delegated source of a leader whose
// response could not be decoded, or a leader whose 2xx body could not be
// decoded).
type RequestDetails struct {
	Server           ServerInfo    `json:"server"`
	Status           RequestStatus `json:"status"`
	HTTPResponseCode int16         `json:"httpResponseCode"`
	Message          string        `json:"message"`
}

// FederatedResponse is implemented by every response type that travels
// through the fan-out core (CounterQueryResponse, CounterInfoResponse).
// Both carry RequestDetails and an HTTP status, so both can share one
// fan-out implementation while keeping distinct sample domains.
type FederatedResponse interface {
	GetRequestDetails() []RequestDetails
	SetRequestDetails(details []RequestDetails)
	GetHTTPResponseCode() int16
	SetHTTPResponseCode(code int16)
	GetErrorMessage() string
	SetErrorMessage(msg string)
}

// CounterQueryResponse is returned by counter_query and by batch_query's
// per-counter sub-responses.
type CounterQueryResponse struct {
	Samples          []counter.Sample  `json:"samples"`
	Details          []RequestDetails  `json:"requestDetails"`
	HTTPResponseCode int16             `json:"httpResponseCode"`
	ErrorMessage     string            `json:"errorMessage,omitempty"`
	UserContext      string            `json:"userContext,omitempty"`
}

func (r *CounterQueryResponse) GetRequestDetails() []RequestDetails     { return r.Details }
func (r *CounterQueryResponse) SetRequestDetails(d []RequestDetails)   { r.Details = d }
func (r *CounterQueryResponse) GetHTTPResponseCode() int16             { return r.HTTPResponseCode }
func (r *CounterQueryResponse) SetHTTPResponseCode(code int16)         { r.HTTPResponseCode = code }
func (r *CounterQueryResponse) GetErrorMessage() string                { return r.ErrorMessage }
func (r *CounterQueryResponse) SetErrorMessage(msg string)             { r.ErrorMessage = msg }

// CounterInfoSample answers "how many distinct values has this dimension
// taken" for one dimension of a counter, which is what an info query (as
// opposed to a data query) reports.
type CounterInfoSample struct {
	Dimension      string `json:"dimension"`
	DistinctValues uint64 `json:"distinctValues"`
}

// CounterInfoResponse is returned by counter_info_query. It carries
// RequestDetails identically to CounterQueryResponse but a distinct sample
// domain.
type CounterInfoResponse struct {
	Samples          []CounterInfoSample `json:"samples"`
	Details          []RequestDetails    `json:"requestDetails"`
	HTTPResponseCode int16               `json:"httpResponseCode"`
	ErrorMessage     string              `json:"errorMessage,omitempty"`
	UserContext      string              `json:"userContext,omitempty"`
}

func (r *CounterInfoResponse) GetRequestDetails() []RequestDetails   { return r.Details }
func (r *CounterInfoResponse) SetRequestDetails(d []RequestDetails) { r.Details = d }
func (r *CounterInfoResponse) GetHTTPResponseCode() int16           { return r.HTTPResponseCode }
func (r *CounterInfoResponse) SetHTTPResponseCode(code int16)       { r.HTTPResponseCode = code }
func (r *CounterInfoResponse) GetErrorMessage() string              { return r.ErrorMessage }
func (r *CounterInfoResponse) SetErrorMessage(msg string)           { r.ErrorMessage = msg }

// CounterQuery is one sub-query of a BatchQueryRequest.
type CounterQuery struct {
	CounterPath   string            `json:"counterPath"`
	TieredRequest TieredRequest     `json:"tieredRequest"`
	QueryParams   map[string]string `json:"queryParams,omitempty"`
	UserContext   string            `json:"userContext,omitempty"`
}

// BatchQueryRequest bundles several counter queries that share one set of
// target sources.
type BatchQueryRequest struct {
	Queries []CounterQuery `json:"queries"`
}

// BatchQueryResponse is the aggregated result of a BatchQueryRequest: one
// CounterQueryResponse per requested sub-query, plus the union of every
// leader's RequestDetails.
type BatchQueryResponse struct {
	Responses []CounterQueryResponse `json:"responses"`
	Details   []RequestDetails       `json:"requestDetails"`
}

// ArgumentError is a synchronous, programmer-error failure: a null/empty
// path, a nil request, or an invalid fanout.
type ArgumentError struct {
	Name    string
	Message string
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Name, e.Message)
}
