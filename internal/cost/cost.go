package cost

import (
	"math"
	"strconv"

	"github.com/vektah/gqlparser/v2/ast"
)

// DefaultMaxDepth bounds selection-set nesting when Estimator.MaxDepth is zero.
const DefaultMaxDepth = 50

// limitArgument scales the cost of everything selected beneath the field
// that carries it.
const limitArgument = "limit"

// FieldCost is the charge for a single leaf field.
type FieldCost struct {
	// Path is the dotted name chain from the operation root,
	// e.g. "assets.metrics.createdAt". Aliases are ignored.
	Path string `json:"path"`
	// EffectiveLimit is the product of every limit argument along the path,
	// the field's own included.
	EffectiveLimit int64 `json:"effectiveLimit"`
}

// Report is the priced outcome for one query document.
type Report struct {
	TotalCost int64       `json:"totalCost"`
	Fields    []string    `json:"fields"`
	Entries   []FieldCost `json:"entries"`
}

// Estimator prices queries without executing them.
//
// Cost is purely syntactic: the document is parsed, never validated against
// a schema, and its selection tree walked top-down. Each integer limit
// argument multiplies the limits inherited from its ancestors, so a leaf
// under assets(limit: 10) > metrics(limit: 10) is charged 100 credits. The
// total adds one credit per charged leaf on top of the summed limits:
//
//	{ assets(limit: 10) { id slug metrics(limit: 10) { value } } }
//	id: 10, slug: 10, metrics.value: 100 → 120 + 3 fields = 123 credits
//
// The zero value is ready to use. A zero MaxDepth applies DefaultMaxDepth;
// a negative MaxDepth disables the depth guard. Estimator is stateless and
// safe for concurrent use.
type Estimator struct {
	MaxDepth int
}

// Estimate parses and prices query with a zero-value Estimator.
func Estimate(query string) (Report, error) {
	return Estimator{}.Estimate(query)
}

// Estimate parses query and prices it.
func (e Estimator) Estimate(query string) (Report, error) {
	doc, err := Parse(query)
	if err != nil {
		return Report{}, err
	}
	return e.EstimateDocument(doc)
}

// EstimateDocument prices an already-parsed document. Operations are walked
// in document order, each starting from a multiplier of 1. Fragment
// definitions and spreads carry no cost of their own.
func (e Estimator) EstimateDocument(doc *ast.QueryDocument) (Report, error) {
	maxDepth := e.MaxDepth
	if maxDepth == 0 {
		maxDepth = DefaultMaxDepth
	}

	var entries []FieldCost
	for _, op := range doc.Operations {
		var err error
		entries, err = walk(op.SelectionSet, "", 1, 1, maxDepth, entries)
		if err != nil {
			return Report{}, err
		}
	}

	report := Report{Entries: entries}
	for _, entry := range entries {
		report.TotalCost += entry.EffectiveLimit
		report.Fields = append(report.Fields, entry.Path)
	}
	report.TotalCost += int64(len(entries))
	return report, nil
}

// walk descends one selection set, appending a FieldCost per leaf in
// document order. limit is the product of the limit arguments folded in on
// the way down.
func walk(sel ast.SelectionSet, parent string, limit int64, depth, maxDepth int, acc []FieldCost) ([]FieldCost, error) {
	if maxDepth > 0 && depth > maxDepth {
		return nil, &DepthLimitError{Path: parent, MaxDepth: maxDepth}
	}
	for _, s := range sel {
		f, ok := s.(*ast.Field)
		if !ok {
			continue
		}
		path := f.Name
		if parent != "" {
			path = parent + "." + f.Name
		}
		childLimit, err := scaledLimit(f, path, limit)
		if err != nil {
			return nil, err
		}
		if len(f.SelectionSet) == 0 {
			acc = append(acc, FieldCost{Path: path, EffectiveLimit: childLimit})
			continue
		}
		acc, err = walk(f.SelectionSet, path, childLimit, depth+1, maxDepth, acc)
		if err != nil {
			return nil, err
		}
	}
	return acc, nil
}

// scaledLimit folds a field's own limit argument into the limit inherited
// from its ancestors. A field without the argument passes the inherited
// value through unchanged, as does a variable reference, whose value is
// unknowable without execution.
func scaledLimit(f *ast.Field, path string, limit int64) (int64, error) {
	arg := f.Arguments.ForName(limitArgument)
	if arg == nil || arg.Value == nil {
		return limit, nil
	}
	switch arg.Value.Kind {
	case ast.Variable:
		return limit, nil
	case ast.IntValue:
		n, err := strconv.ParseInt(arg.Value.Raw, 10, 64)
		if err != nil {
			return 0, &ComputationError{Path: path, Value: arg.Value.Raw, Reason: "limit is not a valid integer"}
		}
		if n < 0 {
			return 0, &ComputationError{Path: path, Value: arg.Value.Raw, Reason: "limit must not be negative"}
		}
		if n != 0 && limit > math.MaxInt64/n {
			return 0, &ComputationError{Path: path, Value: arg.Value.Raw, Reason: "limit product overflows"}
		}
		return limit * n, nil
	default:
		return 0, &ComputationError{Path: path, Value: arg.Value.Raw, Reason: "limit must be an integer literal"}
	}
}
