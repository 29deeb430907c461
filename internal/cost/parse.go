package cost

import (
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// Parse parses a GraphQL executable document without validating it against
// any schema. Parser failures come back as *SyntaxError.
func Parse(query string) (*ast.QueryDocument, error) {
	doc, err := parser.ParseQuery(&ast.Source{Name: "query", Input: query})
	if err != nil {
		return nil, &SyntaxError{Err: err}
	}
	return doc, nil
}
