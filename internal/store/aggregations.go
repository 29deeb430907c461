package store

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stakemetrics/query-cost-api/internal/model"
)

// Stats summarizes estimation history since the given time. The three
// aggregate queries are independent, so they run on separate pool
// connections in parallel.
func (s *Store) Stats(ctx context.Context, since time.Time) (*model.EstimateStats, error) {
	defer s.observeQuery("stats", time.Now())

	stats := &model.EstimateStats{}
	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		return s.pool.QueryRow(ctx, `
			SELECT COUNT(*),
			       COUNT(*) FILTER (WHERE status = 'OK'),
			       COUNT(DISTINCT query_hash)
			FROM estimates
			WHERE created_at >= $1`, since).
			Scan(&stats.TotalQueries, &stats.OKQueries, &stats.DistinctQueries)
	})

	group.Go(func() error {
		return s.pool.QueryRow(ctx, `
			SELECT COALESCE(SUM(total_cost), 0)::bigint,
			       COALESCE(MAX(total_cost), 0),
			       COALESCE(AVG(total_cost), 0)::double precision
			FROM estimates
			WHERE status = 'OK' AND created_at >= $1`, since).
			Scan(&stats.TotalCredits, &stats.MaxCredits, &stats.AvgCredits)
	})

	group.Go(func() error {
		rows, err := s.pool.Query(ctx, `
			SELECT error_kind, COUNT(*)
			FROM estimates
			WHERE status = 'FAILED' AND error_kind IS NOT NULL AND created_at >= $1
			GROUP BY error_kind
			ORDER BY COUNT(*) DESC, error_kind`, since)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var ec model.ErrorKindCount
			if err := rows.Scan(&ec.Kind, &ec.Count); err != nil {
				return err
			}
			stats.ErrorKinds = append(stats.ErrorKinds, ec)
		}
		return rows.Err()
	})

	if err := group.Wait(); err != nil {
		return nil, fmt.Errorf("estimate stats: %w", err)
	}
	return stats, nil
}
