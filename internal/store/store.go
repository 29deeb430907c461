package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stakemetrics/query-cost-api/internal/model"
	"github.com/stakemetrics/query-cost-api/internal/observability"
)

const estimateColumns = `id, query_hash, query_text, total_cost, field_count,
	status, error_kind, error_message, source, created_at`

const insertEstimateSQL = `
	INSERT INTO estimates (` + estimateColumns + `)
	VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	ON CONFLICT (id) DO NOTHING`

// List pagination bounds.
const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// Store provides persistence for query cost estimates backed by PostgreSQL.
type Store struct {
	pool    *pgxpool.Pool
	metrics *observability.Metrics
}

// New creates a Store with the given connection pool and metrics.
func New(pool *pgxpool.Pool, m *observability.Metrics) *Store {
	return &Store{pool: pool, metrics: m}
}

func (s *Store) observeQuery(operation string, start time.Time) {
	s.metrics.DBQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

// InsertEstimate records one estimate. Replayed IDs are ignored so Kafka
// redelivery stays idempotent.
func (s *Store) InsertEstimate(ctx context.Context, est model.Estimate) error {
	defer s.observeQuery("insert", time.Now())
	_, err := s.pool.Exec(ctx, insertEstimateSQL, estimateArgs(est)...)
	return err
}

// InsertEstimates records a batch of estimates in a single round trip, with
// the same replay semantics as InsertEstimate.
func (s *Store) InsertEstimates(ctx context.Context, ests []model.Estimate) error {
	if len(ests) == 0 {
		return nil
	}
	defer s.observeQuery("insert_batch", time.Now())

	batch := &pgx.Batch{}
	for _, est := range ests {
		batch.Queue(insertEstimateSQL, estimateArgs(est)...)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range ests {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch insert estimates: %w", err)
		}
	}
	return br.Close()
}

// ListEstimates returns estimates newest first, honoring the filter.
// A nil filter lists the default page of most recent estimates.
func (s *Store) ListEstimates(ctx context.Context, filter *model.EstimateFilter) ([]*model.Estimate, error) {
	defer s.observeQuery("list", time.Now())
	if filter == nil {
		filter = &model.EstimateFilter{}
	}

	where, args, idx := buildWhereClause(filter)
	query := "SELECT " + estimateColumns + " FROM estimates" + buildWhereSQL(where) +
		fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", idx)
	args = append(args, clampLimit(filter.Limit))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query estimates: %w", err)
	}
	defer rows.Close()

	var estimates []*model.Estimate
	for rows.Next() {
		est, err := scanEstimate(rows)
		if err != nil {
			return nil, err
		}
		estimates = append(estimates, est)
	}
	return estimates, rows.Err()
}

// LastEstimatedAt returns the timestamp of the most recent estimate, or nil
// when the table is empty.
func (s *Store) LastEstimatedAt(ctx context.Context) (*time.Time, error) {
	defer s.observeQuery("last_estimated_at", time.Now())
	var t *time.Time
	if err := s.pool.QueryRow(ctx, "SELECT MAX(created_at) FROM estimates").Scan(&t); err != nil {
		return nil, fmt.Errorf("last estimated at: %w", err)
	}
	return t, nil
}

// clampLimit applies the default page size and caps runaway requests.
func clampLimit(limit *int) int {
	if limit == nil || *limit <= 0 {
		return DefaultListLimit
	}
	if *limit > MaxListLimit {
		return MaxListLimit
	}
	return *limit
}

// estimateArgs orders an estimate's fields to match estimateColumns.
func estimateArgs(est model.Estimate) []any {
	return []any{
		est.ID, est.QueryHash, est.Query, est.TotalCost, est.FieldCount,
		est.Status, est.ErrorKind, est.ErrorMessage, est.Source, est.CreatedAt,
	}
}

type scannable interface {
	Scan(dest ...any) error
}

func scanEstimate(row scannable) (*model.Estimate, error) {
	var est model.Estimate
	err := row.Scan(
		&est.ID, &est.QueryHash, &est.Query, &est.TotalCost, &est.FieldCount,
		&est.Status, &est.ErrorKind, &est.ErrorMessage, &est.Source, &est.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan estimate: %w", err)
	}
	return &est, nil
}
