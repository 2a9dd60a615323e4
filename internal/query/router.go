// Package query resolves dashboard queries. Queries are free text; the router
// picks one of five operations by marker, authorizes the caller, and asks the
// generator for data. There is no GraphQL grammar behind it.
package query

import (
	"context"

	"github.com/miradorstack/mirador-pulse/internal/authz"
	"github.com/miradorstack/mirador-pulse/internal/generator"
	"github.com/miradorstack/mirador-pulse/internal/models"
	"github.com/miradorstack/mirador-pulse/internal/utils"
)

const (
	// SeriesLength is the number of points in every serviceTimeSeries response.
	SeriesLength = 60
	// TraceCount is the number of traces in every traces response.
	TraceCount = 20
	// DefaultMetric is used when a time-series query names no metric.
	DefaultMetric = "latency"
	// UnknownQueryMessage is the sentinel payload for queries with no known marker.
	UnknownQueryMessage = "Unknown query"
)

// SeriesProfile is the (base, variance) pair driving a generated series.
type SeriesProfile struct {
	Base     float64
	Variance float64
}

var seriesProfiles = map[string]SeriesProfile{
	"latency":    {Base: 80, Variance: 30},
	"throughput": {Base: 250, Variance: 50},
	"errorRate":  {Base: 2, Variance: 1.5},
}

var defaultSeriesProfile = SeriesProfile{Base: 100, Variance: 20}

// ProfileFor returns the series profile for metric, falling back to the default profile.
func ProfileFor(metric string) SeriesProfile {
	if p, ok := seriesProfiles[metric]; ok {
		return p
	}
	return defaultSeriesProfile
}

// DataSource is the subset of the generator the router depends on.
type DataSource interface {
	ServiceMetrics() []models.ServiceMetrics
	ServiceHealth(name string) models.ServiceHealth
	TimeSeries(count int, base, variance float64) []models.TimeSeriesPoint
	Traces(n int) []models.Trace
	Anomalies(attempts int) []models.Anomaly
}

// Variables carries query arguments decoded from JSON.
type Variables map[string]any

// String returns the named variable when it is a non-empty string, def otherwise.
func (v Variables) String(key, def string) string {
	if v == nil {
		return def
	}
	s, ok := v[key].(string)
	if !ok || s == "" {
		return def
	}
	return s
}

// Result is the outcome of a resolved query. Unknown queries carry no data and
// are not errors.
type Result struct {
	Operation Operation
	Data      any
}

// Unknown reports whether the query matched no marker.
func (r Result) Unknown() bool {
	return r.Operation == OpUnknown
}

// Payload renders the result under its marker key, or the unknown-query sentinel.
func (r Result) Payload() map[string]any {
	if r.Unknown() {
		return map[string]any{"error": UnknownQueryMessage}
	}
	return map[string]any{r.Operation.String(): r.Data}
}

// Router dispatches queries. It holds no mutable state and is safe for concurrent use.
type Router struct {
	policy         *authz.Policy
	data           DataSource
	defaultService string
}

// NewRouter wires a policy and data source. A nil policy means DefaultPolicy.
func NewRouter(policy *authz.Policy, data DataSource) *Router {
	if policy == nil {
		policy = authz.DefaultPolicy()
	}
	return &Router{
		policy:         policy,
		data:           data,
		defaultService: generator.DefaultService(),
	}
}

// Resolve runs queryText on behalf of user. Permission failures wrap
// authz.ErrUnauthorized; service restrictions wrap authz.ErrAccessDenied.
func (r *Router) Resolve(ctx context.Context, user models.User, queryText string, vars Variables) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	op := Match(queryText)
	switch op {
	case OpAllServices:
		return r.allServices(user)
	case OpServiceHealth:
		return r.serviceHealth(user, vars)
	case OpServiceTimeSeries:
		return r.serviceTimeSeries(user, vars)
	case OpTraces:
		return r.traces(user)
	case OpAnomalies:
		return r.anomalies(user)
	default:
		return Result{Operation: OpUnknown}, nil
	}
}

func (r *Router) allServices(user models.User) (Result, error) {
	if err := r.policy.Require(user, models.PermReadMetrics); err != nil {
		return Result{}, denied(OpAllServices, err)
	}
	all := r.data.ServiceMetrics()
	visible := make([]models.ServiceMetrics, 0, len(all))
	for _, m := range all {
		if r.policy.CanAccessService(user, m.ServiceName) {
			visible = append(visible, m)
		}
	}
	return Result{Operation: OpAllServices, Data: visible}, nil
}

func (r *Router) serviceHealth(user models.User, vars Variables) (Result, error) {
	if err := r.policy.Require(user, models.PermReadMetrics); err != nil {
		return Result{}, denied(OpServiceHealth, err)
	}
	service := vars.String("serviceName", r.defaultService)
	if err := r.policy.RequireService(user, service); err != nil {
		return Result{}, denied(OpServiceHealth, err)
	}
	return Result{Operation: OpServiceHealth, Data: r.data.ServiceHealth(service)}, nil
}

func (r *Router) serviceTimeSeries(user models.User, vars Variables) (Result, error) {
	if err := r.policy.Require(user, models.PermReadMetrics); err != nil {
		return Result{}, denied(OpServiceTimeSeries, err)
	}
	service := vars.String("serviceName", r.defaultService)
	metric := vars.String("metric", DefaultMetric)
	if err := r.policy.RequireService(user, service); err != nil {
		return Result{}, denied(OpServiceTimeSeries, err)
	}
	profile := ProfileFor(metric)
	return Result{
		Operation: OpServiceTimeSeries,
		Data: models.ServiceTimeSeries{
			ServiceName: service,
			Metric:      metric,
			Data:        r.data.TimeSeries(SeriesLength, profile.Base, profile.Variance),
		},
	}, nil
}

func (r *Router) traces(user models.User) (Result, error) {
	if err := r.policy.Require(user, models.PermReadTraces); err != nil {
		return Result{}, denied(OpTraces, err)
	}
	return Result{Operation: OpTraces, Data: r.data.Traces(TraceCount)}, nil
}

func (r *Router) anomalies(user models.User) (Result, error) {
	if err := r.policy.Require(user, models.PermReadAnomalies); err != nil {
		return Result{}, denied(OpAnomalies, err)
	}
	return Result{Operation: OpAnomalies, Data: r.data.Anomalies(generator.DefaultAnomalyAttempts)}, nil
}

func denied(op Operation, err error) error {
	return utils.NewAppError("query."+op.String(), "", err)
}
