package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/stakemetrics/query-cost-api/internal/cost"
)

// ─── Core types ─────────────────────────────────────────────

// Estimate is one priced query, as persisted and served from history.
type Estimate struct {
	ID           string         `json:"id"`
	QueryHash    string         `json:"queryHash"`
	Query        string         `json:"query"`
	TotalCost    int64          `json:"totalCost"`
	FieldCount   int            `json:"fieldCount"`
	Status       EstimateStatus `json:"status"`
	ErrorKind    *ErrorKind     `json:"errorKind,omitempty"`
	ErrorMessage *string        `json:"errorMessage,omitempty"`
	Source       EstimateSource `json:"source"`
	CreatedAt    time.Time      `json:"createdAt"`
}

// NewEstimate builds the history record for a successfully priced query.
func NewEstimate(id, query string, source EstimateSource, report cost.Report) Estimate {
	return Estimate{
		ID:         id,
		QueryHash:  Fingerprint(query),
		Query:      query,
		TotalCost:  report.TotalCost,
		FieldCount: len(report.Entries),
		Status:     EstimateStatusOK,
		Source:     source,
		CreatedAt:  time.Now().UTC(),
	}
}

// NewFailedEstimate builds the history record for a query that could not be
// priced.
func NewFailedEstimate(id, query string, source EstimateSource, err error) Estimate {
	kind := ErrorKindFor(err)
	msg := err.Error()
	return Estimate{
		ID:           id,
		QueryHash:    Fingerprint(query),
		Query:        query,
		Status:       EstimateStatusFailed,
		ErrorKind:    &kind,
		ErrorMessage: &msg,
		Source:       source,
		CreatedAt:    time.Now().UTC(),
	}
}

// Fingerprint hashes a query for grouping repeat submissions. Whitespace
// runs are collapsed first so formatting differences map to the same hash.
func Fingerprint(query string) string {
	collapsed := strings.Join(strings.Fields(query), " ")
	return fmt.Sprintf("%016x", xxhash.Sum64String(collapsed))
}

// ─── Enums ──────────────────────────────────────────────────

// EstimateStatus records whether pricing a query succeeded.
type EstimateStatus string

// Allowed EstimateStatus values.
const (
	EstimateStatusOK     EstimateStatus = "OK"
	EstimateStatusFailed EstimateStatus = "FAILED"
)

// IsValid returns true if the EstimateStatus is one of the known enum values.
func (e EstimateStatus) IsValid() bool {
	switch e {
	case EstimateStatusOK, EstimateStatusFailed:
		return true
	}
	return false
}

func (e EstimateStatus) String() string { return string(e) }

// EstimateSource records which entry point a query arrived through.
type EstimateSource string

// Allowed EstimateSource values.
const (
	EstimateSourceHTTP  EstimateSource = "HTTP"
	EstimateSourceKafka EstimateSource = "KAFKA"
	EstimateSourceCLI   EstimateSource = "CLI"
)

// IsValid returns true if the EstimateSource is one of the known enum values.
func (e EstimateSource) IsValid() bool {
	switch e {
	case EstimateSourceHTTP, EstimateSourceKafka, EstimateSourceCLI:
		return true
	}
	return false
}

func (e EstimateSource) String() string { return string(e) }

// ErrorKind classifies why pricing a query failed.
type ErrorKind string

// Allowed ErrorKind values.
const (
	ErrorKindSyntax      ErrorKind = "SYNTAX_ERROR"
	ErrorKindComputation ErrorKind = "COST_COMPUTATION"
	ErrorKindDepthLimit  ErrorKind = "DEPTH_LIMIT"
	ErrorKindInternal    ErrorKind = "INTERNAL_ERROR"
)

// IsValid returns true if the ErrorKind is one of the known enum values.
func (e ErrorKind) IsValid() bool {
	switch e {
	case ErrorKindSyntax, ErrorKindComputation, ErrorKindDepthLimit, ErrorKindInternal:
		return true
	}
	return false
}

func (e ErrorKind) String() string { return string(e) }

// ErrorKindFor classifies an estimation error, unwrapping as needed.
func ErrorKindFor(err error) ErrorKind {
	var synErr *cost.SyntaxError
	var compErr *cost.ComputationError
	var depthErr *cost.DepthLimitError
	switch {
	case errors.As(err, &synErr):
		return ErrorKindSyntax
	case errors.As(err, &compErr):
		return ErrorKindComputation
	case errors.As(err, &depthErr):
		return ErrorKindDepthLimit
	default:
		return ErrorKindInternal
	}
}

// ─── Filter ─────────────────────────────────────────────────

// EstimateFilter narrows history listings.
type EstimateFilter struct {
	Since   *time.Time      `json:"since,omitempty"`
	Until   *time.Time      `json:"until,omitempty"`
	Status  *EstimateStatus `json:"status,omitempty"`
	MinCost *int64          `json:"minCost,omitempty"`
	Limit   *int            `json:"limit,omitempty"`
}

// ─── Aggregations ───────────────────────────────────────────

// EstimateStats summarizes estimation history over a time window.
type EstimateStats struct {
	TotalQueries    int64            `json:"totalQueries"`
	OKQueries       int64            `json:"okQueries"`
	DistinctQueries int64            `json:"distinctQueries"`
	TotalCredits    int64            `json:"totalCredits"`
	MaxCredits      int64            `json:"maxCredits"`
	AvgCredits      float64          `json:"avgCredits"`
	ErrorKinds      []ErrorKindCount `json:"errorKinds"`
}

// ErrorKindCount counts failed estimates by error classification.
type ErrorKindCount struct {
	Kind  ErrorKind `json:"kind"`
	Count int64     `json:"count"`
}

// ─── Ingest ─────────────────────────────────────────────────

// QuerySubmission is the message shape consumed from the submissions topic.
type QuerySubmission struct {
	ID          string    `json:"id"`
	APIKey      string    `json:"apiKey,omitempty"`
	Query       string    `json:"query"`
	SubmittedAt time.Time `json:"submittedAt"`
}
