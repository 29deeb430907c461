package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/stakemetrics/query-cost-api/internal/cost"
	"github.com/stakemetrics/query-cost-api/internal/explain"
	"github.com/stakemetrics/query-cost-api/internal/model"
	"github.com/stakemetrics/query-cost-api/internal/observability"
)

// estimateRequest is the POST /estimate body.
type estimateRequest struct {
	Query   string `json:"query"`
	Explain bool   `json:"explain"`
}

// estimateResponse carries the priced report, its history ID, and the
// optional human-readable breakdown.
type estimateResponse struct {
	ID          string               `json:"id"`
	TotalCost   int64                `json:"totalCost"`
	Fields      []string             `json:"fields"`
	Entries     []cost.FieldCost     `json:"entries"`
	Explanation *explain.Explanation `json:"explanation,omitempty"`
}

type recentResponse struct {
	Estimates []*model.Estimate `json:"estimates"`
}

// statsResponse wraps the aggregates with data-freshness metadata.
type statsResponse struct {
	Window          string               `json:"window"`
	Stats           *model.EstimateStats `json:"stats"`
	LastEstimatedAt *time.Time           `json:"lastEstimatedAt,omitempty"`
	DataLagMinutes  *int                 `json:"dataLagMinutes,omitempty"`
}

func (s *Server) handleEstimate(w http.ResponseWriter, r *http.Request) {
	ctx, span := observability.Tracer().Start(r.Context(), "http.estimate")
	defer span.End()

	r.Body = http.MaxBytesReader(w, r.Body, int64(s.maxQueryBytes))
	var req estimateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, CodePayloadTooLarge,
				fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit))
			return
		}
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, "query must not be empty")
		return
	}

	id := uuid.NewString()
	span.SetAttributes(attribute.String("estimate.id", id))

	start := time.Now()
	report, err := s.estimator.Estimate(req.Query)
	s.metrics.EstimateDuration.WithLabelValues("http").Observe(time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		s.metrics.EstimatesTotal.WithLabelValues("http", "failed").Inc()
		s.recordEstimate(ctx, model.NewFailedEstimate(id, req.Query, model.EstimateSourceHTTP, err))
		writeEstimateError(w, err)
		return
	}

	span.SetAttributes(attribute.Int64("estimate.total_cost", report.TotalCost))
	s.metrics.EstimatesTotal.WithLabelValues("http", "ok").Inc()
	s.metrics.EstimateCredits.Observe(float64(report.TotalCost))
	s.recordEstimate(ctx, model.NewEstimate(id, req.Query, model.EstimateSourceHTTP, report))

	resp := estimateResponse{
		ID:        id,
		TotalCost: report.TotalCost,
		Fields:    report.Fields,
		Entries:   report.Entries,
	}
	if req.Explain {
		e := explain.Breakdown(report)
		resp.Explanation = &e
	}
	writeJSON(w, http.StatusOK, resp)
}

// recordEstimate persists history best-effort. A storage failure never fails
// the client request.
func (s *Server) recordEstimate(ctx context.Context, est model.Estimate) {
	if err := s.store.InsertEstimate(ctx, est); err != nil {
		s.logger.Error("record estimate", "error", err, "id", est.ID)
	}
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	filter, err := parseRecentFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}

	ests, err := s.store.ListEstimates(r.Context(), filter)
	if err != nil {
		s.logger.Error("list estimates", "error", err)
		writeError(w, http.StatusInternalServerError, model.ErrorKindInternal.String(), "could not list estimates")
		return
	}
	if ests == nil {
		ests = []*model.Estimate{}
	}
	writeJSON(w, http.StatusOK, recentResponse{Estimates: ests})
}

func parseRecentFilter(r *http.Request) (*model.EstimateFilter, error) {
	filter := &model.EstimateFilter{}
	q := r.URL.Query()

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("limit must be a positive integer, got %q", raw)
		}
		filter.Limit = &n
	}
	if raw := q.Get("minCost"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n < 0 {
			return nil, fmt.Errorf("minCost must be a non-negative integer, got %q", raw)
		}
		filter.MinCost = &n
	}
	if raw := q.Get("status"); raw != "" {
		status := model.EstimateStatus(raw)
		if !status.IsValid() {
			return nil, fmt.Errorf("status must be OK or FAILED, got %q", raw)
		}
		filter.Status = &status
	}
	if raw := q.Get("since"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("since must be an RFC 3339 timestamp, got %q", raw)
		}
		filter.Since = &ts
	}
	if raw := q.Get("until"); raw != "" {
		ts, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, fmt.Errorf("until must be an RFC 3339 timestamp, got %q", raw)
		}
		filter.Until = &ts
	}
	if filter.Since != nil && filter.Until != nil && !filter.Until.After(*filter.Since) {
		return nil, fmt.Errorf("until must be after since")
	}
	return filter, nil
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	window := 24 * time.Hour
	if raw := r.URL.Query().Get("window"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, CodeInvalidRequest,
				fmt.Sprintf("window must be a positive duration, got %q", raw))
			return
		}
		window = d
	}

	stats, err := s.store.Stats(r.Context(), time.Now().Add(-window))
	if err != nil {
		s.logger.Error("estimate stats", "error", err)
		writeError(w, http.StatusInternalServerError, model.ErrorKindInternal.String(), "could not compute stats")
		return
	}

	resp := statsResponse{Window: window.String(), Stats: stats}
	if last, err := s.store.LastEstimatedAt(r.Context()); err != nil {
		s.logger.Error("last estimated at", "error", err)
	} else if last != nil {
		resp.LastEstimatedAt = last
		lag := int(math.Round(time.Since(*last).Minutes()))
		resp.DataLagMinutes = &lag
	}

	writeJSON(w, http.StatusOK, resp)
}

// writeJSON sends v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
