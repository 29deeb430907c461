package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/stakemetrics/query-cost-api/internal/model"
)

func TestBuildWhereClause_Empty(t *testing.T) {
	where, args, nextIdx := buildWhereClause(&model.EstimateFilter{})

	assert.Empty(t, where)
	assert.Empty(t, args)
	assert.Equal(t, 1, nextIdx)
}

func TestBuildWhereClause_Nil(t *testing.T) {
	where, args, nextIdx := buildWhereClause(nil)

	assert.Empty(t, where)
	assert.Empty(t, args)
	assert.Equal(t, 1, nextIdx)
}

func TestBuildWhereClause_SinceOnly(t *testing.T) {
	since := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	where, args, nextIdx := buildWhereClause(&model.EstimateFilter{Since: &since})

	assert.Len(t, where, 1)
	assert.Contains(t, where[0], "created_at >= $1")
	assert.Equal(t, []any{since}, args)
	assert.Equal(t, 2, nextIdx)
}

func TestBuildWhereClause_AllFilters(t *testing.T) {
	since := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	until := time.Date(2026, 8, 2, 0, 0, 0, 0, time.UTC)
	status := model.EstimateStatusOK
	minCost := int64(100)

	where, args, nextIdx := buildWhereClause(&model.EstimateFilter{
		Since:   &since,
		Until:   &until,
		Status:  &status,
		MinCost: &minCost,
	})

	assert.Len(t, where, 4)
	assert.Contains(t, where[0], "created_at >= $1")
	assert.Contains(t, where[1], "created_at <= $2")
	assert.Contains(t, where[2], "status = $3")
	assert.Contains(t, where[3], "total_cost >= $4")
	assert.Equal(t, []any{since, until, "OK", minCost}, args)
	assert.Equal(t, 5, nextIdx)
}

func TestBuildWhereClause_InvalidStatusIgnored(t *testing.T) {
	status := model.EstimateStatus("bogus")
	where, args, nextIdx := buildWhereClause(&model.EstimateFilter{Status: &status})

	assert.Empty(t, where)
	assert.Empty(t, args)
	assert.Equal(t, 1, nextIdx)
}

func TestBuildWhereSQL(t *testing.T) {
	assert.Equal(t, "", buildWhereSQL(nil))
	assert.Equal(t, " WHERE a AND b", buildWhereSQL([]string{"a", "b"}))
}

func TestClampLimit(t *testing.T) {
	intPtr := func(n int) *int { return &n }

	tests := []struct {
		name  string
		limit *int
		want  int
	}{
		{"nil uses default", nil, DefaultListLimit},
		{"zero uses default", intPtr(0), DefaultListLimit},
		{"negative uses default", intPtr(-5), DefaultListLimit},
		{"in range passes through", intPtr(42), 42},
		{"above max is capped", intPtr(5000), MaxListLimit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, clampLimit(tt.limit))
		})
	}
}
