package store

import (
	"fmt"
	"strings"

	"github.com/stakemetrics/query-cost-api/internal/model"
)

// buildWhereSQL joins the clauses into a WHERE fragment (empty string if no clauses).
func buildWhereSQL(clauses []string) string {
	if len(clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(clauses, " AND ")
}

// buildWhereClause constructs the WHERE clauses and args from a filter.
// Returns the clauses, args, and the next parameter index.
func buildWhereClause(filter *model.EstimateFilter) ([]string, []any, int) {
	var where []string
	var args []any
	idx := 1

	if filter == nil {
		return where, args, idx
	}

	if filter.Since != nil {
		where = append(where, fmt.Sprintf("created_at >= $%d", idx))
		args = append(args, *filter.Since)
		idx++
	}
	if filter.Until != nil {
		where = append(where, fmt.Sprintf("created_at <= $%d", idx))
		args = append(args, *filter.Until)
		idx++
	}
	// Unknown status values would match nothing; skip them instead.
	if filter.Status != nil && filter.Status.IsValid() {
		where = append(where, fmt.Sprintf("status = $%d", idx))
		args = append(args, filter.Status.String())
		idx++
	}
	if filter.MinCost != nil {
		where = append(where, fmt.Sprintf("total_cost >= $%d", idx))
		args = append(args, *filter.MinCost)
		idx++
	}

	return where, args, idx
}
