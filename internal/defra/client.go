package defra

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrUnhealthy is returned when the DefraDB health check fails.
	ErrUnhealthy = errors.New("defra health check failed")
	// ErrDuplicate is returned when a write violates a unique index.
	ErrDuplicate = errors.New("defra unique index violation")
)

const (
	graphqlPath = "/api/v0/graphql"
	schemaPath  = "/api/v0/schema"
	healthPath  = "/health-check"
)

// Client speaks DefraDB's HTTP API: GraphQL reads and mutations, schema
// loading and the health check.
type Client struct {
	url        string
	httpClient *http.Client
}

// NewClient creates a client for the node at url.
func NewClient(url string) *Client {
	return &Client{
		url:        strings.TrimSuffix(url, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) URL() string {
	return c.url
}

// GQLRequest is a GraphQL request body.
type GQLRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// GQLResponse is a GraphQL response body.
type GQLResponse struct {
	Data   map[string]any `json:"data,omitempty"`
	Errors []GQLError     `json:"errors,omitempty"`
}

type GQLError struct {
	Message string `json:"message"`
	Path    []any  `json:"path,omitempty"`
}

// Error returns the first GraphQL error message, or "" when there is none.
func (r *GQLResponse) Error() string {
	if len(r.Errors) == 0 {
		return ""
	}
	return r.Errors[0].Message
}

// Docs returns the object documents listed under key.
func (r *GQLResponse) Docs(key string) []map[string]any {
	list, ok := r.Data[key].([]any)
	if !ok {
		return nil
	}
	docs := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if doc, ok := item.(map[string]any); ok {
			docs = append(docs, doc)
		}
	}
	return docs
}

// send performs one request and returns the status and full body.
func (c *Client) send(ctx context.Context, method, path, contentType string, body io.Reader) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.url+path, body)
	if err != nil {
		return 0, nil, fmt.Errorf("build %s request: %w", path, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read %s response: %w", path, err)
	}
	return resp.StatusCode, data, nil
}

// HealthCheck returns nil when the node answers its health endpoint with 200.
func (c *Client) HealthCheck(ctx context.Context) error {
	status, _, err := c.send(ctx, http.MethodGet, healthPath, "", nil)
	switch {
	case err != nil:
		return fmt.Errorf("%w: %v", ErrUnhealthy, err)
	case status != http.StatusOK:
		return fmt.Errorf("%w: status %d", ErrUnhealthy, status)
	}
	return nil
}

// Execute sends a GraphQL request. Transport failures, 5xx replies and
// undecodable bodies are errors; GraphQL errors stay in the response.
func (c *Client) Execute(ctx context.Context, query string, variables map[string]any) (*GQLResponse, error) {
	payload, err := json.Marshal(GQLRequest{Query: query, Variables: variables})
	if err != nil {
		return nil, fmt.Errorf("encode graphql request: %w", err)
	}

	status, body, err := c.send(ctx, http.MethodPost, graphqlPath, "application/json", bytes.NewReader(payload))
	switch {
	case err != nil:
		return nil, fmt.Errorf("defra graphql: %w", err)
	case status >= http.StatusInternalServerError:
		return nil, fmt.Errorf("defra server error (status %d): %s", status, body)
	case len(body) == 0:
		return nil, fmt.Errorf("defra returned empty response (status %d)", status)
	}

	var out GQLResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("decode graphql response: %w (body: %s)", err, body)
	}
	return &out, nil
}

// AddSchema loads GraphQL SDL type definitions.
func (c *Client) AddSchema(ctx context.Context, sdl string) error {
	status, body, err := c.send(ctx, http.MethodPost, schemaPath, "text/plain", strings.NewReader(sdl))
	if err != nil {
		return fmt.Errorf("defra schema: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("schema error (status %d): %s", status, body)
	}
	return nil
}

// mutate runs a mutation, turning GraphQL errors into Go errors. Unique index
// violations wrap ErrDuplicate.
func (c *Client) mutate(ctx context.Context, op, query string) (*GQLResponse, error) {
	resp, err := c.Execute(ctx, query, nil)
	if err != nil {
		return nil, err
	}
	msg := resp.Error()
	if msg == "" {
		return resp, nil
	}
	lower := strings.ToLower(msg)
	if strings.Contains(lower, "unique") || strings.Contains(lower, "already exists") {
		return nil, fmt.Errorf("%s: %w: %s", op, ErrDuplicate, msg)
	}
	return nil, fmt.Errorf("%s error: %s", op, msg)
}

// Create inserts one document and returns its DocID.
func (c *Client) Create(ctx context.Context, collection string, input map[string]any) (string, error) {
	ids, err := c.CreateMany(ctx, collection, []map[string]any{input})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// CreateMany inserts documents in one mutation and returns their DocIDs.
// The IDs are not guaranteed to follow input order.
func (c *Client) CreateMany(ctx context.Context, collection string, inputs []map[string]any) ([]string, error) {
	if len(inputs) == 0 {
		return nil, nil
	}

	objects := make([]string, len(inputs))
	for i, in := range inputs {
		lit, err := objectLiteral(in)
		if err != nil {
			return nil, fmt.Errorf("build %s input: %w", collection, err)
		}
		objects[i] = lit
	}

	field := "create_" + collection
	resp, err := c.mutate(ctx, "create",
		"mutation { "+field+"(input: ["+strings.Join(objects, ", ")+"]) { _docID } }")
	if err != nil {
		return nil, err
	}

	var ids []string
	for _, doc := range resp.Docs(field) {
		if id, ok := doc["_docID"].(string); ok {
			ids = append(ids, id)
		}
	}
	if len(ids) != len(inputs) {
		return ids, fmt.Errorf("created %d docs but expected %d", len(ids), len(inputs))
	}
	return ids, nil
}

// Update patches the document docID with input.
func (c *Client) Update(ctx context.Context, collection, docID string, input map[string]any) error {
	if err := ValidateID(docID); err != nil {
		return err
	}
	lit, err := objectLiteral(input)
	if err != nil {
		return fmt.Errorf("build %s input: %w", collection, err)
	}
	_, err = c.mutate(ctx, "update",
		fmt.Sprintf(`mutation { update_%s(docID: %q, input: %s) { _docID } }`, collection, docID, lit))
	return err
}

// Delete removes the document docID.
func (c *Client) Delete(ctx context.Context, collection, docID string) error {
	if err := ValidateID(docID); err != nil {
		return err
	}
	_, err := c.mutate(ctx, "delete",
		fmt.Sprintf(`mutation { delete_%s(docID: %q) { _docID } }`, collection, docID))
	return err
}

// objectLiteral renders a map as a GraphQL input object with keys sorted.
func objectLiteral(fields map[string]any) (string, error) {
	parts := make([]string, 0, len(fields))
	for _, k := range slices.Sorted(maps.Keys(fields)) {
		v, err := gqlLiteral(fields[k])
		if err != nil {
			return "", fmt.Errorf("field %q: %w", k, err)
		}
		parts = append(parts, k+": "+v)
	}
	return "{" + strings.Join(parts, ", ") + "}", nil
}

// gqlLiteral renders a Go value in GraphQL literal syntax. Strings use JSON
// escaping, which GraphQL accepts.
func gqlLiteral(v any) (string, error) {
	switch val := v.(type) {
	case int:
		return strconv.Itoa(val), nil
	case int64:
		return strconv.FormatInt(val, 10), nil
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64), nil
	case bool:
		return strconv.FormatBool(val), nil
	case map[string]any:
		return objectLiteral(val)
	case []string:
		items := make([]string, len(val))
		for i, s := range val {
			items[i], _ = gqlLiteral(s)
		}
		return "[" + strings.Join(items, ", ") + "]", nil
	case []any:
		items := make([]string, len(val))
		for i, item := range val {
			lit, err := gqlLiteral(item)
			if err != nil {
				return "", err
			}
			items[i] = lit
		}
		return "[" + strings.Join(items, ", ") + "]", nil
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return "", fmt.Errorf("encode %T: %w", val, err)
		}
		return string(b), nil
	}
}
