package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/stakemetrics/query-cost-api/internal/cost"
	"github.com/stakemetrics/query-cost-api/internal/model"
	"github.com/stakemetrics/query-cost-api/internal/observability"
)

var errEmptyQuery = errors.New("submission has no query text")

// decodeSubmission unmarshals one message payload and rejects blank queries.
func decodeSubmission(value []byte) (*model.QuerySubmission, error) {
	var sub model.QuerySubmission
	if err := json.Unmarshal(value, &sub); err != nil {
		return nil, err
	}
	if strings.TrimSpace(sub.Query) == "" {
		return nil, errEmptyQuery
	}
	return &sub, nil
}

// invalidReason maps a decode failure onto its consumer error metric label.
func invalidReason(err error) string {
	if errors.Is(err, errEmptyQuery) {
		return "empty_query"
	}
	return "unmarshal"
}

// priceSubmission prices one submission and builds the history record for
// either outcome. Submissions without an ID get a generated one so the row
// stays addressable.
func priceSubmission(ctx context.Context, estimator cost.Estimator, m *observability.Metrics, sub *model.QuerySubmission) model.Estimate {
	_, span := observability.Tracer().Start(ctx, "kafka.estimate")
	defer span.End()

	id := sub.ID
	if id == "" {
		id = uuid.NewString()
	}
	span.SetAttributes(attribute.String("estimate.id", id))

	start := time.Now()
	report, err := estimator.Estimate(sub.Query)
	m.EstimateDuration.WithLabelValues("kafka").Observe(time.Since(start).Seconds())

	if err != nil {
		span.RecordError(err)
		m.EstimatesTotal.WithLabelValues("kafka", "failed").Inc()
		return model.NewFailedEstimate(id, sub.Query, model.EstimateSourceKafka, err)
	}

	span.SetAttributes(attribute.Int64("estimate.total_cost", report.TotalCost))
	m.EstimatesTotal.WithLabelValues("kafka", "ok").Inc()
	m.EstimateCredits.Observe(float64(report.TotalCost))
	return model.NewEstimate(id, sub.Query, model.EstimateSourceKafka, report)
}
