//go:build integration

package integration_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"

	"github.com/stakemetrics/query-cost-api/internal/config"
	"github.com/stakemetrics/query-cost-api/internal/cost"
	"github.com/stakemetrics/query-cost-api/internal/database"
	"github.com/stakemetrics/query-cost-api/internal/model"
	"github.com/stakemetrics/query-cost-api/internal/observability"
	"github.com/stakemetrics/query-cost-api/internal/server"
	"github.com/stakemetrics/query-cost-api/internal/store"
)

func startAPIServer(t *testing.T, s *store.Store, pool *pgxpool.Pool) *httptest.Server {
	t.Helper()
	cfg := &config.Config{
		MaxQueryBytes: 65536,
		MaxQueryDepth: 30,
		MaxConcurrent: 16,
	}
	srv := server.New(cfg, s, observability.NewTestMetrics(), discardLogger())
	ts := httptest.NewServer(srv.Routes(database.NewPoolReadiness(pool)))
	t.Cleanup(ts.Close)
	return ts
}

// setupStore starts Postgres, runs migrations, and registers cleanup.
func setupStore(ctx context.Context, t *testing.T) (*store.Store, *pgxpool.Pool) {
	t.Helper()
	dsn, pg := startPostgres(ctx, t)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	require.NoError(t, database.RunMigrations(dsn))

	pool, err := database.NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	return store.New(pool, observability.NewTestMetrics()), pool
}

// setupStoreWithData starts Postgres and inserts the priced mock submissions.
func setupStoreWithData(ctx context.Context, t *testing.T) *store.Store {
	t.Helper()
	s, _ := setupStore(ctx, t)
	for _, est := range buildMockEstimates(t) {
		require.NoError(t, s.InsertEstimate(ctx, est), "insert estimate %s", est.ID)
	}
	return s
}

// buildMockEstimates prices every mock submission the way the consumer
// would, spacing created_at one minute apart so the newest submission is
// one minute old. Unparseable and uncomputable queries become FAILED rows.
func buildMockEstimates(t *testing.T) []model.Estimate {
	t.Helper()
	subs := loadMockSubmissions(t)
	now := time.Now().UTC()

	estimates := make([]model.Estimate, 0, len(subs))
	for i, sub := range subs {
		var est model.Estimate
		report, err := cost.Estimator{}.Estimate(sub.Query)
		if err != nil {
			est = model.NewFailedEstimate(sub.ID, sub.Query, model.EstimateSourceKafka, err)
		} else {
			est = model.NewEstimate(sub.ID, sub.Query, model.EstimateSourceKafka, report)
		}
		est.CreatedAt = now.Add(-time.Duration(len(subs)-i) * time.Minute)
		estimates = append(estimates, est)
	}
	return estimates
}

// assertErrorKindCount finds the given kind in counts and asserts its total.
func assertErrorKindCount(t *testing.T, counts []model.ErrorKindCount, kind model.ErrorKind, expected int64) {
	t.Helper()
	for _, ec := range counts {
		if ec.Kind == kind {
			require.Equal(t, expected, ec.Count, "count for %s", kind)
			return
		}
	}
	t.Fatalf("error kind %s not found in stats", kind)
}

func countByStatus(estimates []*model.Estimate, status model.EstimateStatus) int {
	n := 0
	for _, est := range estimates {
		if est.Status == status {
			n++
		}
	}
	return n
}

func findEstimate(estimates []*model.Estimate, id string) *model.Estimate {
	for _, est := range estimates {
		if est.ID == id {
			return est
		}
	}
	return nil
}
