package defra

import (
	"context"
	"fmt"
	"regexp"
	"strings"
)

// IDPattern matches DefraDB document IDs (bae-<uuid>) and simple identifiers.
var IDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateID checks if a string is safe to interpolate into a GraphQL query.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("empty ID")
	}
	if len(id) > 500 {
		return fmt.Errorf("ID too long: %d characters", len(id))
	}
	if !IDPattern.MatchString(id) {
		return fmt.Errorf("invalid ID format: contains unsafe characters")
	}
	return nil
}

// QueryBuilder constructs GraphQL queries whose filter values travel as
// variables rather than being spliced into the query text.
type QueryBuilder struct {
	collection string
	filters    []filterDef
	fields     []string
	limit      int
	varIndex   int
}

type filterDef struct {
	field   string
	op      string
	varName string
	varType string
	value   any
}

// NewQuery creates a new QueryBuilder for the given collection.
func NewQuery(collection string) *QueryBuilder {
	return &QueryBuilder{
		collection: collection,
		fields:     []string{"_docID"},
	}
}

// Filter adds an equality filter.
func (q *QueryBuilder) Filter(field string, value any) *QueryBuilder {
	return q.addFilter(field, "_eq", value)
}

// FilterLT adds a less-than filter.
func (q *QueryBuilder) FilterLT(field string, value any) *QueryBuilder {
	return q.addFilter(field, "_lt", value)
}

// Fields sets the fields to return. _docID is always included.
func (q *QueryBuilder) Fields(fields ...string) *QueryBuilder {
	q.fields = append([]string{"_docID"}, fields...)
	return q
}

// Limit sets the maximum number of results.
func (q *QueryBuilder) Limit(n int) *QueryBuilder {
	q.limit = n
	return q
}

// Build returns the query string and variables map.
func (q *QueryBuilder) Build() (string, map[string]any) {
	var varDefs, filterParts []string
	vars := make(map[string]any, len(q.filters))
	for _, f := range q.filters {
		varDefs = append(varDefs, fmt.Sprintf("$%s: %s", f.varName, f.varType))
		filterParts = append(filterParts, fmt.Sprintf("%s: {%s: $%s}", f.field, f.op, f.varName))
		vars[f.varName] = f.value
	}

	var query strings.Builder
	if len(varDefs) > 0 {
		fmt.Fprintf(&query, "query(%s) ", strings.Join(varDefs, ", "))
	}
	query.WriteString("{ ")
	query.WriteString(q.collection)

	var args []string
	if len(filterParts) > 0 {
		args = append(args, fmt.Sprintf("filter: {%s}", strings.Join(filterParts, ", ")))
	}
	if q.limit > 0 {
		args = append(args, fmt.Sprintf("limit: %d", q.limit))
	}
	if len(args) > 0 {
		fmt.Fprintf(&query, "(%s)", strings.Join(args, ", "))
	}

	query.WriteString(" { ")
	query.WriteString(strings.Join(q.fields, " "))
	query.WriteString(" } }")

	return query.String(), vars
}

// Execute builds and executes the query on the given client.
func (q *QueryBuilder) Execute(ctx context.Context, client *Client) (*GQLResponse, error) {
	query, vars := q.Build()
	return client.Execute(ctx, query, vars)
}

func (q *QueryBuilder) addFilter(field, op string, value any) *QueryBuilder {
	q.filters = append(q.filters, filterDef{
		field:   field,
		op:      op,
		varName: fmt.Sprintf("v%d", q.varIndex),
		varType: inferGraphQLType(value),
		value:   value,
	})
	q.varIndex++
	return q
}

func inferGraphQLType(v any) string {
	switch v.(type) {
	case int, int32, int64:
		return "Int"
	case float32, float64:
		return "Float"
	case bool:
		return "Boolean"
	default:
		return "String"
	}
}
