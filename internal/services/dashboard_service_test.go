package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/miradorstack/mirador-pulse/internal/authz"
	"github.com/miradorstack/mirador-pulse/internal/cache"
	"github.com/miradorstack/mirador-pulse/internal/generator"
	"github.com/miradorstack/mirador-pulse/internal/identity"
	"github.com/miradorstack/mirador-pulse/internal/models"
	"github.com/miradorstack/mirador-pulse/internal/query"
)

var (
	admin    = identity.DemoUsers[0]
	engineer = identity.DemoUsers[1]
	viewer   = identity.DemoUsers[2]
)

type countingResolver struct {
	inner func(context.Context, models.User, string, query.Variables) (query.Result, error)
	calls int
}

func (c *countingResolver) Resolve(ctx context.Context, user models.User, text string, vars query.Variables) (query.Result, error) {
	c.calls++
	return c.inner(ctx, user, text, vars)
}

type stubFeed struct {
	snap models.DashboardSnapshot
}

func (s stubFeed) Snapshot() models.DashboardSnapshot { return s.snap }

func newService(t *testing.T, opts Options) (*DashboardService, *countingResolver) {
	t.Helper()
	gen := generator.New(generator.Options{Seed: 9})
	router := query.NewRouter(authz.DefaultPolicy(), gen)
	resolver := &countingResolver{inner: router.Resolve}
	feed := stubFeed{snap: models.DashboardSnapshot{
		Services: gen.ServiceMetrics(),
		Anomalies: []models.Anomaly{
			{ID: "a1", ServiceName: "api-gateway"},
			{ID: "a2", ServiceName: "payment-service"},
		},
	}}
	return NewDashboardService(nil, resolver, authz.DefaultPolicy(), gen, feed, opts), resolver
}

func TestQueryUsesResponseCache(t *testing.T) {
	svc, resolver := newService(t, Options{Cache: cache.NewMemoryProvider(0, time.Minute), ResponseTTL: time.Minute})
	ctx := context.Background()

	first, err := svc.Query(ctx, engineer, "{ traces }", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.Cached {
		t.Fatalf("first query should not be cached")
	}
	second, err := svc.Query(ctx, engineer, "{ traces }", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !second.Cached || string(second.Data) != string(first.Data) {
		t.Fatalf("expected cached identical payload")
	}
	if second.Operation != query.OpTraces {
		t.Fatalf("expected traces operation on cache hit, got %v", second.Operation)
	}
	if resolver.calls != 1 {
		t.Fatalf("expected 1 resolver call, got %d", resolver.calls)
	}

	if _, err := svc.Query(ctx, viewer, "{ traces }", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resolver.calls != 2 {
		t.Fatalf("different role must not share cache entries, calls=%d", resolver.calls)
	}
}

func TestQueryWithoutCacheAlwaysResolves(t *testing.T) {
	svc, resolver := newService(t, Options{})
	for i := 0; i < 3; i++ {
		if _, err := svc.Query(context.Background(), admin, "allServices", nil); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if resolver.calls != 3 {
		t.Fatalf("expected 3 resolver calls, got %d", resolver.calls)
	}
}

func TestQueryErrorsAreNotCached(t *testing.T) {
	mem := cache.NewMemoryProvider(0, time.Minute)
	svc, _ := newService(t, Options{Cache: mem, ResponseTTL: time.Minute})

	_, err := svc.Query(context.Background(), viewer, "serviceHealth", query.Variables{"serviceName": "payment-service"})
	if !errors.Is(err, authz.ErrAccessDenied) {
		t.Fatalf("expected access denied, got %v", err)
	}
	if mem.Len() != 0 {
		t.Fatalf("error responses must not be cached")
	}
}

func TestQueryPayloadShape(t *testing.T) {
	svc, _ := newService(t, Options{})

	resp, err := svc.Query(context.Background(), viewer, "{ allServices }", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var body map[string][]models.ServiceMetrics
	if err := json.Unmarshal(resp.Data, &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body["allServices"]) != 3 {
		t.Fatalf("expected 3 services for viewer, got %d", len(body["allServices"]))
	}

	resp, err = svc.Query(context.Background(), viewer, "{ nope }", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(resp.Data) != `{"error":"Unknown query"}` {
		t.Fatalf("unexpected unknown payload %s", resp.Data)
	}
}

func TestSnapshotFiltersForViewer(t *testing.T) {
	svc, _ := newService(t, Options{})

	snap, err := svc.Snapshot(context.Background(), viewer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snap.Services) != 3 {
		t.Fatalf("expected 3 services, got %d", len(snap.Services))
	}
	if len(snap.Anomalies) != 1 || snap.Anomalies[0].ID != "a1" {
		t.Fatalf("expected only api-gateway anomaly, got %+v", snap.Anomalies)
	}

	snap, err = svc.Snapshot(context.Background(), admin)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snap.Anomalies) != 2 {
		t.Fatalf("admin should see all anomalies")
	}

	ghost := models.User{Role: "guest"}
	if _, err := svc.Snapshot(context.Background(), ghost); !errors.Is(err, authz.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if _, ok := svc.RenderForStream(ghost, models.DashboardSnapshot{}); ok {
		t.Fatalf("unknown role must not receive stream data")
	}
	if err := svc.AuthorizeStream(viewer); err != nil {
		t.Fatalf("viewer may subscribe: %v", err)
	}
}

func TestTopologyFilteredForViewer(t *testing.T) {
	svc, _ := newService(t, Options{})

	full, err := svc.Topology(context.Background(), engineer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(full.Nodes) != 7 || len(full.Links) != 8 {
		t.Fatalf("engineer should see full graph, got %d nodes %d links", len(full.Nodes), len(full.Links))
	}

	graph, err := svc.Topology(context.Background(), viewer)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	ids := map[string]bool{}
	for _, n := range graph.Nodes {
		ids[n.ID] = true
	}
	for _, id := range []string{"gateway", "user", "db", "cache"} {
		if !ids[id] {
			t.Fatalf("expected node %s for viewer", id)
		}
	}
	if ids["payment"] || ids["auth"] || ids["notification"] {
		t.Fatalf("viewer saw restricted nodes: %v", ids)
	}
	for _, l := range graph.Links {
		if !ids[l.Source] || !ids[l.Target] {
			t.Fatalf("dangling link %+v", l)
		}
	}
}

func TestHeatmapRequiresPermission(t *testing.T) {
	svc, _ := newService(t, Options{})
	cells, err := svc.Heatmap(context.Background(), viewer)
	if err != nil || len(cells) != 168 {
		t.Fatalf("expected 168 cells, got %d, %v", len(cells), err)
	}
	if _, err := svc.Heatmap(context.Background(), models.User{Role: "guest"}); !errors.Is(err, authz.ErrUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
}

func TestCacheKeyStableAcrossMapOrder(t *testing.T) {
	a, _ := cacheKey(models.RoleViewer, "q", query.Variables{"a": "1", "b": "2"})
	b, _ := cacheKey(models.RoleViewer, "q", query.Variables{"b": "2", "a": "1"})
	c, _ := cacheKey(models.RoleAdmin, "q", query.Variables{"a": "1", "b": "2"})
	if a != b {
		t.Fatalf("expected identical keys")
	}
	if a == c {
		t.Fatalf("role must be part of the key")
	}
}
