package cost

import "fmt"

// SyntaxError reports that the query text could not be parsed as GraphQL.
// The parser's message is preserved verbatim.
type SyntaxError struct {
	Err error
}

func (e *SyntaxError) Error() string { return e.Err.Error() }

func (e *SyntaxError) Unwrap() error { return e.Err }

// ComputationError reports a limit argument whose value cannot participate
// in cost arithmetic, such as a float or string literal.
type ComputationError struct {
	Path   string // dotted field path carrying the bad argument
	Value  string // raw literal as written in the query, if any
	Reason string
}

func (e *ComputationError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("cannot compute cost for field %q: %s", e.Path, e.Reason)
	}
	return fmt.Sprintf("cannot compute cost for field %q: %s (got %s)", e.Path, e.Reason, e.Value)
}

// DepthLimitError reports that traversal stopped because the query nests
// selection sets deeper than the configured maximum.
type DepthLimitError struct {
	Path     string // field whose selection set crossed the limit
	MaxDepth int
}

func (e *DepthLimitError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("query depth exceeds maximum allowed depth of %d", e.MaxDepth)
	}
	return fmt.Sprintf("query depth exceeds maximum allowed depth of %d at field %q", e.MaxDepth, e.Path)
}
