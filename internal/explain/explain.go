package explain

import (
	"fmt"

	"github.com/stakemetrics/query-cost-api/internal/cost"
)

// MaxCreditsNote qualifies every breakdown: limits are upper bounds, so the
// estimate is the most a query can cost, not a guaranteed charge.
const MaxCreditsNote = "This is the maximum number of credits the query can consume; actual usage is lower when fewer items match."

// Row describes the charge for one leaf field.
type Row struct {
	Field   string `json:"field"`
	Charge  string `json:"charge"`  // "1 x 10"
	Credits string `json:"credits"` // "10 credits"
}

// Explanation is the human-readable companion to a cost report.
type Explanation struct {
	Rows    []Row    `json:"rows"`
	Formula []string `json:"formula"`
	Note    string   `json:"note"`
}

// Breakdown renders a report as per-field rows plus the arithmetic that
// produced the total.
func Breakdown(report cost.Report) Explanation {
	rows := make([]Row, 0, len(report.Entries))
	var sum int64
	for _, entry := range report.Entries {
		rows = append(rows, Row{
			Field:   entry.Path,
			Charge:  fmt.Sprintf("1 x %d", entry.EffectiveLimit),
			Credits: fmt.Sprintf("%d credits", entry.EffectiveLimit),
		})
		sum += entry.EffectiveLimit
	}
	fields := int64(len(report.Entries))
	return Explanation{
		Rows: rows,
		Formula: []string{
			fmt.Sprintf("Total fields in query = %d", fields),
			fmt.Sprintf("Sum of credits = %d", sum),
			fmt.Sprintf("Total credits = %d + %d = %d", sum, fields, report.TotalCost),
		},
		Note: MaxCreditsNote,
	}
}
