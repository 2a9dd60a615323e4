package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/miradorstack/mirador-pulse/internal/authz"
	"github.com/miradorstack/mirador-pulse/internal/cache"
	"github.com/miradorstack/mirador-pulse/internal/generator"
	"github.com/miradorstack/mirador-pulse/internal/metrics"
	"github.com/miradorstack/mirador-pulse/internal/models"
	"github.com/miradorstack/mirador-pulse/internal/query"
	"github.com/miradorstack/mirador-pulse/internal/utils"
)

// QueryResolver is implemented by query.Router.
type QueryResolver interface {
	Resolve(ctx context.Context, user models.User, queryText string, vars query.Variables) (query.Result, error)
}

// Visuals produces the non-query dashboard views.
type Visuals interface {
	Topology() models.TopologyGraph
	Heatmap() []models.HeatmapCell
}

// SnapshotSource exposes the live feed state.
type SnapshotSource interface {
	Snapshot() models.DashboardSnapshot
}

// Options tunes response caching. A nil Cache disables it.
type Options struct {
	Cache       cache.Provider
	ResponseTTL time.Duration
}

// QueryResponse is a resolved query ready for the wire. Data holds the JSON
// object that goes under the top-level "data" key.
type QueryResponse struct {
	Operation query.Operation
	Data      json.RawMessage
	Cached    bool
}

// DashboardService is the transport-neutral facade shared by HTTP and gRPC.
type DashboardService struct {
	logger    *slog.Logger
	router    QueryResolver
	policy    *authz.Policy
	visuals   Visuals
	feed      SnapshotSource
	cache     cache.Provider
	ttl       time.Duration
	latencies *utils.LatencyTracker
	served    atomic.Int64
}

// NewDashboardService wires the facade. feed and visuals may be nil when only queries are served.
func NewDashboardService(logger *slog.Logger, router QueryResolver, policy *authz.Policy, visuals Visuals, feed SnapshotSource, opts Options) *DashboardService {
	if logger == nil {
		logger = slog.Default()
	}
	if policy == nil {
		policy = authz.DefaultPolicy()
	}
	if opts.Cache == nil || opts.ResponseTTL <= 0 {
		opts.Cache = cache.NoopProvider{}
	}
	return &DashboardService{
		logger:    logger,
		router:    router,
		policy:    policy,
		visuals:   visuals,
		feed:      feed,
		cache:     opts.Cache,
		ttl:       opts.ResponseTTL,
		latencies: utils.NewLatencyTracker(1024),
	}
}

// Query resolves queryText for user. Identical (role, query, variables) within
// the response TTL are answered from cache.
func (s *DashboardService) Query(ctx context.Context, user models.User, queryText string, vars query.Variables) (QueryResponse, error) {
	op := query.Match(queryText)
	start := time.Now()

	key, keyErr := cacheKey(user.Role, queryText, vars)
	if keyErr == nil {
		if payload, err := s.cache.Get(ctx, key); err == nil {
			metrics.ObserveCache(true)
			metrics.ObserveQuery(op.String(), outcomeFor(op, nil), time.Since(start))
			return QueryResponse{Operation: op, Data: payload, Cached: true}, nil
		} else if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("response cache read failed", slog.Any("error", err))
		}
		metrics.ObserveCache(false)
	}

	result, err := s.router.Resolve(ctx, user, queryText, vars)
	duration := time.Since(start)
	metrics.ObserveQuery(op.String(), outcomeFor(op, err), duration)
	if err != nil {
		s.logger.Info("query rejected",
			slog.String("operation", op.String()),
			slog.String("user_id", user.ID),
			slog.String("role", string(user.Role)),
			slog.Any("error", err))
		return QueryResponse{}, err
	}
	s.observeLatency(duration)

	payload, err := json.Marshal(result.Payload())
	if err != nil {
		return QueryResponse{}, utils.NewAppError("services.Query", "encode response", err)
	}
	if keyErr == nil {
		if err := s.cache.Set(ctx, key, payload, s.ttl); err != nil {
			s.logger.Warn("response cache write failed", slog.Any("error", err))
		}
	}
	return QueryResponse{Operation: result.Operation, Data: payload}, nil
}

// Snapshot returns the live dashboard state as user may see it.
func (s *DashboardService) Snapshot(ctx context.Context, user models.User) (models.DashboardSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return models.DashboardSnapshot{}, err
	}
	if s.feed == nil {
		return models.DashboardSnapshot{}, utils.NewAppError("services.Snapshot", "dashboard feed not configured", nil)
	}
	if err := s.policy.Require(user, models.PermReadMetrics); err != nil {
		return models.DashboardSnapshot{}, utils.NewAppError("services.Snapshot", "", err)
	}
	return s.FilterSnapshot(user, s.feed.Snapshot()), nil
}

// FilterSnapshot drops services and anomalies outside user's allow-list.
func (s *DashboardService) FilterSnapshot(user models.User, snap models.DashboardSnapshot) models.DashboardSnapshot {
	services := make([]models.ServiceMetrics, 0, len(snap.Services))
	for _, m := range snap.Services {
		if s.policy.CanAccessService(user, m.ServiceName) {
			services = append(services, m)
		}
	}
	anomalies := make([]models.Anomaly, 0, len(snap.Anomalies))
	for _, a := range snap.Anomalies {
		if s.policy.CanAccessService(user, a.ServiceName) {
			anomalies = append(anomalies, a)
		}
	}
	snap.Services = services
	snap.Anomalies = anomalies
	return snap
}

// RenderForStream adapts FilterSnapshot to the websocket hub. Users without
// read:metrics receive nothing.
func (s *DashboardService) RenderForStream(user models.User, snap models.DashboardSnapshot) (any, bool) {
	if !s.policy.HasPermission(user, models.PermReadMetrics) {
		return nil, false
	}
	return s.FilterSnapshot(user, snap), true
}

// AuthorizeStream checks that user may subscribe to the live stream.
func (s *DashboardService) AuthorizeStream(user models.User) error {
	if err := s.policy.Require(user, models.PermReadMetrics); err != nil {
		return utils.NewAppError("services.Stream", "", err)
	}
	return nil
}

// Topology returns the dependency graph. Service nodes outside the allow-list
// are removed together with their links; data stores always remain.
func (s *DashboardService) Topology(ctx context.Context, user models.User) (models.TopologyGraph, error) {
	if err := s.requireVisuals(ctx, user, "services.Topology"); err != nil {
		return models.TopologyGraph{}, err
	}
	graph := s.visuals.Topology()

	keep := make(map[string]struct{}, len(graph.Nodes))
	nodes := make([]models.TopologyNode, 0, len(graph.Nodes))
	for _, n := range graph.Nodes {
		if svc, ok := generator.TopologyServices[n.ID]; ok && !s.policy.CanAccessService(user, svc) {
			continue
		}
		keep[n.ID] = struct{}{}
		nodes = append(nodes, n)
	}
	links := make([]models.TopologyLink, 0, len(graph.Links))
	for _, l := range graph.Links {
		_, src := keep[l.Source]
		_, dst := keep[l.Target]
		if src && dst {
			links = append(links, l)
		}
	}
	return models.TopologyGraph{Nodes: nodes, Links: links}, nil
}

// Heatmap returns the weekly traffic heatmap.
func (s *DashboardService) Heatmap(ctx context.Context, user models.User) ([]models.HeatmapCell, error) {
	if err := s.requireVisuals(ctx, user, "services.Heatmap"); err != nil {
		return nil, err
	}
	return s.visuals.Heatmap(), nil
}

// Ping reports whether the response cache backend is reachable.
func (s *DashboardService) Ping(ctx context.Context) error {
	return s.cache.Ping(ctx)
}

// LatencyP95 returns the current p95 query latency.
func (s *DashboardService) LatencyP95() time.Duration {
	return s.latencies.Percentile(95)
}

func (s *DashboardService) requireVisuals(ctx context.Context, user models.User, op string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.visuals == nil {
		return utils.NewAppError(op, "visuals not configured", nil)
	}
	if err := s.policy.Require(user, models.PermReadMetrics); err != nil {
		return utils.NewAppError(op, "", err)
	}
	return nil
}

func (s *DashboardService) observeLatency(d time.Duration) {
	s.latencies.Observe(d)
	if n := s.served.Add(1); n%100 == 0 {
		summary := s.latencies.Summary()
		s.logger.Info("query latency",
			slog.Duration("p50", summary.P50),
			slog.Duration("p95", summary.P95),
			slog.Duration("p99", summary.P99),
			slog.Int("samples", summary.Count))
	}
}

func outcomeFor(op query.Operation, err error) string {
	switch {
	case err == nil && op == query.OpUnknown:
		return metrics.OutcomeUnknown
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, authz.ErrUnauthorized):
		return metrics.OutcomeUnauthorized
	case errors.Is(err, authz.ErrAccessDenied):
		return metrics.OutcomeDenied
	default:
		return metrics.OutcomeError
	}
}

// cacheKey is stable across map ordering because encoding/json sorts map keys.
func cacheKey(role models.Role, queryText string, vars query.Variables) (string, error) {
	encoded, err := json.Marshal(vars)
	if err != nil {
		return "", fmt.Errorf("encode variables: %w", err)
	}
	h := sha256.New()
	h.Write([]byte(queryText))
	h.Write([]byte{0})
	h.Write(encoded)
	return "pulse:query:" + string(role) + ":" + hex.EncodeToString(h.Sum(nil)), nil
}
