package defra

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

const maxIDLen = 500

// IDPattern matches DefraDB document IDs (bae-<uuid>) and simple identifiers.
var IDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateID checks that id is safe to interpolate into a GraphQL query.
func ValidateID(id string) error {
	switch {
	case id == "":
		return errors.New("empty ID")
	case len(id) > maxIDLen:
		return fmt.Errorf("ID too long: %d characters", len(id))
	case !IDPattern.MatchString(id):
		return errors.New("invalid ID format: contains unsafe characters")
	}
	return nil
}

// QueryBuilder assembles a single-collection GraphQL read. Filter values are
// never interpolated; each becomes a $vN variable.
type QueryBuilder struct {
	collection string
	fields     []string
	conds      []cond
	order      []string
	limit      int
	offset     int
}

type cond struct {
	field, op, gqlType string
	value              any
}

// NewQuery starts a query on collection returning only _docID.
func NewQuery(collection string) *QueryBuilder {
	return &QueryBuilder{collection: collection, fields: []string{"_docID"}}
}

// Filter matches field == value.
func (q *QueryBuilder) Filter(field string, value any) *QueryBuilder {
	q.conds = append(q.conds, cond{field, "_eq", scalarType(value), value})
	return q
}

// FilterIn matches field against any of values.
func (q *QueryBuilder) FilterIn(field string, values []string) *QueryBuilder {
	q.conds = append(q.conds, cond{field, "_in", "[String!]", values})
	return q
}

// FilterLike matches field case-insensitively against a % wildcard pattern.
func (q *QueryBuilder) FilterLike(field, pattern string) *QueryBuilder {
	q.conds = append(q.conds, cond{field, "_ilike", "String", pattern})
	return q
}

// Fields replaces the selection set.
func (q *QueryBuilder) Fields(fields ...string) *QueryBuilder {
	q.fields = fields
	return q
}

// OrderBy appends a sort key; earlier keys take precedence.
func (q *QueryBuilder) OrderBy(field, direction string) *QueryBuilder {
	q.order = append(q.order, "{"+field+": "+direction+"}")
	return q
}

// Limit caps the number of documents returned. Zero means no limit.
func (q *QueryBuilder) Limit(n int) *QueryBuilder {
	q.limit = n
	return q
}

// Offset skips the first n matching documents.
func (q *QueryBuilder) Offset(n int) *QueryBuilder {
	q.offset = n
	return q
}

// Build renders the query text and its variables.
func (q *QueryBuilder) Build() (string, map[string]any) {
	vars := make(map[string]any, len(q.conds))
	decls := make([]string, len(q.conds))
	terms := make([]string, len(q.conds))
	for i, c := range q.conds {
		name := "v" + strconv.Itoa(i)
		vars[name] = c.value
		decls[i] = "$" + name + ": " + c.gqlType
		terms[i] = c.field + ": {" + c.op + ": $" + name + "}"
	}

	var args []string
	if len(terms) > 0 {
		args = append(args, "filter: {"+strings.Join(terms, ", ")+"}")
	}
	if len(q.order) == 1 {
		args = append(args, "order: "+q.order[0])
	} else if len(q.order) > 1 {
		args = append(args, "order: ["+strings.Join(q.order, ", ")+"]")
	}
	if q.limit > 0 {
		args = append(args, "limit: "+strconv.Itoa(q.limit))
	}
	if q.offset > 0 {
		args = append(args, "offset: "+strconv.Itoa(q.offset))
	}

	var b strings.Builder
	if len(decls) > 0 {
		b.WriteString("query(" + strings.Join(decls, ", ") + ") ")
	}
	b.WriteString("{ " + q.collection)
	if len(args) > 0 {
		b.WriteString("(" + strings.Join(args, ", ") + ")")
	}
	b.WriteString(" { " + strings.Join(q.fields, " ") + " } }")
	return b.String(), vars
}

// Execute runs the query and returns the matched documents.
func (q *QueryBuilder) Execute(ctx context.Context, client *Client) ([]map[string]any, error) {
	text, vars := q.Build()
	resp, err := client.Execute(ctx, text, vars)
	if err != nil {
		return nil, err
	}
	if msg := resp.Error(); msg != "" {
		return nil, fmt.Errorf("query %s: %s", q.collection, msg)
	}
	return resp.Docs(q.collection), nil
}

// scalarType maps a Go value to the GraphQL scalar used to declare it.
func scalarType(v any) string {
	switch v.(type) {
	case int, int32, int64:
		return "Int"
	case float32, float64:
		return "Float"
	case bool:
		return "Boolean"
	}
	return "String"
}
