// Package client calls the dashboard query endpoint over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/miradorstack/mirador-pulse/internal/authz"
	"github.com/miradorstack/mirador-pulse/internal/identity"
	"github.com/miradorstack/mirador-pulse/internal/models"
	"github.com/miradorstack/mirador-pulse/internal/query"
)

// GraphQLPath is the query endpoint relative to the server base URL.
const GraphQLPath = "/api/graphql"

// ErrUnknownQuery is returned when the server matched no operation.
var ErrUnknownQuery = errors.New(query.UnknownQueryMessage)

// QueryError is an {error} body returned by the server.
type QueryError struct {
	Status  int
	Message string
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("query failed (%d): %s", e.Status, e.Message)
}

// Unwrap maps well-known messages back onto their sentinel errors so callers can use errors.Is.
func (e *QueryError) Unwrap() error {
	switch {
	case e.Status == http.StatusUnauthorized:
		return authz.ErrUnauthorized
	case e.Message == authz.ErrAccessDenied.Error():
		return authz.ErrAccessDenied
	case e.Message == query.UnknownQueryMessage:
		return ErrUnknownQuery
	default:
		return nil
	}
}

// Request is a query document plus its variables.
type Request struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables,omitempty"`
}

// Client posts queries to a dashboard server.
type Client struct {
	baseURL    string
	user       string
	httpClient *http.Client
}

// NewClient constructs a client for baseURL. user, when set, is sent as the
// demo-user hint and only takes effect if the server allows overrides.
func NewClient(baseURL, user string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		user:    user,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// AllServices builds the overview query.
func AllServices() Request {
	return Request{Query: `query {
  allServices { serviceName timestamp status latency requests uptime errorRate }
}`}
}

// ServiceHealth builds the single-service health query.
func ServiceHealth(serviceName string) Request {
	return Request{
		Query: `query {
  serviceHealth(serviceName: $serviceName) { serviceName status latencyP95 latencyP99 throughput errorRate uptime }
}`,
		Variables: map[string]any{"serviceName": serviceName},
	}
}

// ServiceTimeSeries builds the per-metric series query.
func ServiceTimeSeries(serviceName, metric string) Request {
	return Request{
		Query: `query {
  serviceTimeSeries(serviceName: $serviceName, metric: $metric) { serviceName metric data { timestamp value } }
}`,
		Variables: map[string]any{"serviceName": serviceName, "metric": metric},
	}
}

// Traces builds the recent traces query.
func Traces() Request {
	return Request{Query: `query {
  traces { traceId serviceName endpoint duration status spans timestamp }
}`}
}

// Anomalies builds the anomaly query.
func Anomalies() Request {
	return Request{Query: `query {
  anomalies { id serviceName type severity timestamp description }
}`}
}

// Build returns the request for op. serviceName and metric are ignored by
// operations that take no variables.
func Build(op query.Operation, serviceName, metric string) (Request, error) {
	switch op {
	case query.OpAllServices:
		return AllServices(), nil
	case query.OpServiceHealth:
		return ServiceHealth(serviceName), nil
	case query.OpServiceTimeSeries:
		return ServiceTimeSeries(serviceName, metric), nil
	case query.OpTraces:
		return Traces(), nil
	case query.OpAnomalies:
		return Anomalies(), nil
	default:
		return Request{}, fmt.Errorf("unsupported operation %q", op.String())
	}
}

// Do sends req and decodes the "data" object into out.
func (c *Client) Do(ctx context.Context, req Request, out any) error {
	return c.Query(ctx, req.Query, req.Variables, out)
}

// Query posts text and vars and decodes the "data" object into out. Error
// bodies surface as *QueryError.
func (c *Client) Query(ctx context.Context, text string, vars map[string]any, out any) error {
	if c == nil {
		return fmt.Errorf("query client not initialised")
	}
	if c.baseURL == "" {
		return fmt.Errorf("query client base URL not configured")
	}

	var envelope struct {
		Data  json.RawMessage `json:"data"`
		Error string          `json:"error"`
	}
	status, err := c.postJSON(ctx, c.resolvePath(GraphQLPath), Request{Query: text, Variables: vars}, &envelope)
	if err != nil {
		return err
	}
	if envelope.Error != "" {
		return &QueryError{Status: status, Message: envelope.Error}
	}
	if status != http.StatusOK {
		return &QueryError{Status: status, Message: http.StatusText(status)}
	}

	var sentinel struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(envelope.Data, &sentinel); err == nil && sentinel.Error != "" {
		return &QueryError{Status: status, Message: sentinel.Error}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decode data: %w", err)
	}
	return nil
}

// FetchAllServices returns the overview records visible to the caller.
func (c *Client) FetchAllServices(ctx context.Context) ([]models.ServiceMetrics, error) {
	var out struct {
		AllServices []models.ServiceMetrics `json:"allServices"`
	}
	if err := c.Do(ctx, AllServices(), &out); err != nil {
		return nil, err
	}
	return out.AllServices, nil
}

// FetchServiceHealth returns the health record for serviceName.
func (c *Client) FetchServiceHealth(ctx context.Context, serviceName string) (models.ServiceHealth, error) {
	var out struct {
		ServiceHealth models.ServiceHealth `json:"serviceHealth"`
	}
	if err := c.Do(ctx, ServiceHealth(serviceName), &out); err != nil {
		return models.ServiceHealth{}, err
	}
	return out.ServiceHealth, nil
}

// FetchServiceTimeSeries returns the series for serviceName and metric.
func (c *Client) FetchServiceTimeSeries(ctx context.Context, serviceName, metric string) (models.ServiceTimeSeries, error) {
	var out struct {
		Series models.ServiceTimeSeries `json:"serviceTimeSeries"`
	}
	if err := c.Do(ctx, ServiceTimeSeries(serviceName, metric), &out); err != nil {
		return models.ServiceTimeSeries{}, err
	}
	return out.Series, nil
}

// FetchTraces returns the recent traces.
func (c *Client) FetchTraces(ctx context.Context) ([]models.Trace, error) {
	var out struct {
		Traces []models.Trace `json:"traces"`
	}
	if err := c.Do(ctx, Traces(), &out); err != nil {
		return nil, err
	}
	return out.Traces, nil
}

// FetchAnomalies returns the current anomalies.
func (c *Client) FetchAnomalies(ctx context.Context) ([]models.Anomaly, error) {
	var out struct {
		Anomalies []models.Anomaly `json:"anomalies"`
	}
	if err := c.Do(ctx, Anomalies(), &out); err != nil {
		return nil, err
	}
	return out.Anomalies, nil
}

func (c *Client) resolvePath(p string) string {
	cleaned := "/" + strings.TrimLeft(p, "/")
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return c.baseURL + cleaned
	}
	u.Path = path.Join(u.Path, cleaned)
	return u.String()
}

func (c *Client) postJSON(ctx context.Context, endpoint string, payload any, out any) (int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.user != "" {
		req.Header.Set(identity.HeaderName, c.user)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, fmt.Errorf("decode response (%s): %w", resp.Status, err)
	}
	return resp.StatusCode, nil
}
