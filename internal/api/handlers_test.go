package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/miradorstack/mirador-pulse/internal/authz"
	"github.com/miradorstack/mirador-pulse/internal/generator"
	"github.com/miradorstack/mirador-pulse/internal/identity"
	"github.com/miradorstack/mirador-pulse/internal/models"
	"github.com/miradorstack/mirador-pulse/internal/query"
	"github.com/miradorstack/mirador-pulse/internal/services"
)

type stubFeed struct{}

func (stubFeed) Snapshot() models.DashboardSnapshot {
	return models.DashboardSnapshot{
		Services: []models.ServiceMetrics{{ServiceName: "api-gateway"}, {ServiceName: "payment-service"}},
	}
}

func newTestService() *services.DashboardService {
	gen := generator.New(generator.Options{Seed: 5})
	policy := authz.DefaultPolicy()
	return services.NewDashboardService(nil, query.NewRouter(policy, gen), policy, gen, stubFeed{}, services.Options{})
}

func newTestHandler(t *testing.T, opts HTTPOptions) http.Handler {
	t.Helper()
	if opts.Resolver == nil {
		opts.Resolver = identity.NewResolver(identity.DemoUsers[1], identity.NewDirectory(identity.DemoUsers), true)
	}
	if opts.ResponseTTL == 0 {
		opts.ResponseTTL = 2 * time.Second
		opts.StaleTTL = 5 * time.Second
	}
	return NewHandler(newTestService(), nil, opts).Routes()
}

func postQuery(t *testing.T, h http.Handler, user, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/graphql", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(identity.HeaderName, user)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return body
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, message string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected status %d, got %d (%s)", status, rec.Code, rec.Body.String())
	}
	if got := decodeBody(t, rec)["error"]; got != message {
		t.Fatalf("expected error %q, got %v", message, got)
	}
}

func TestGraphQLSuccess(t *testing.T) {
	h := newTestHandler(t, HTTPOptions{})

	rec := postQuery(t, h, "viewer", `{"query":"{ allServices { serviceName } }"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Cache-Control"); got != "public, s-maxage=2, stale-while-revalidate=5" {
		t.Fatalf("unexpected Cache-Control: %q", got)
	}

	var body struct {
		Data struct {
			AllServices []models.ServiceMetrics `json:"allServices"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Data.AllServices) != 3 {
		t.Fatalf("expected 3 services for viewer, got %d", len(body.Data.AllServices))
	}
}

func TestGraphQLTimeSeriesVariables(t *testing.T) {
	h := newTestHandler(t, HTTPOptions{})

	rec := postQuery(t, h, "admin", `{"query":"serviceTimeSeries","variables":{"serviceName":"payment-service","metric":"throughput"}}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}

	var body struct {
		Data struct {
			Series models.ServiceTimeSeries `json:"serviceTimeSeries"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	series := body.Data.Series
	if series.ServiceName != "payment-service" || len(series.Data) != 60 {
		t.Fatalf("unexpected series: %s with %d points", series.ServiceName, len(series.Data))
	}
	for i := 1; i < len(series.Data); i++ {
		if series.Data[i].Timestamp <= series.Data[i-1].Timestamp {
			t.Fatalf("timestamps not strictly increasing at %d", i)
		}
	}
}

func TestGraphQLAccessDeniedIs500(t *testing.T) {
	h := newTestHandler(t, HTTPOptions{})

	rec := postQuery(t, h, "viewer", `{"query":"serviceHealth","variables":{"serviceName":"payment-service"}}`)
	expectError(t, rec, http.StatusInternalServerError, "Access denied to this service")
	if got := rec.Header().Get("Cache-Control"); got != "" {
		t.Fatalf("error responses must not be cacheable, got %q", got)
	}
}

func TestGraphQLUnauthorizedIs401(t *testing.T) {
	policy := authz.NewPolicy(map[models.Role][]string{models.RoleEngineer: {models.PermReadMetrics}}, nil)
	gen := generator.New(generator.Options{Seed: 1})
	svc := services.NewDashboardService(nil, query.NewRouter(policy, gen), policy, gen, nil, services.Options{})
	h := NewHandler(svc, nil, HTTPOptions{}).Routes()

	rec := postQuery(t, h, "", `{"query":"{ traces }"}`)
	expectError(t, rec, http.StatusUnauthorized, "Unauthorized")
}

func TestGraphQLUnknownQuery(t *testing.T) {
	h := newTestHandler(t, HTTPOptions{})

	rec := postQuery(t, h, "", `{"query":"{ somethingElse }"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	want := map[string]any{"data": map[string]any{"error": "Unknown query"}}
	if got := decodeBody(t, rec); !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected body: %v", got)
	}
}

func TestGraphQLBadBody(t *testing.T) {
	h := newTestHandler(t, HTTPOptions{})

	rec := postQuery(t, h, "", `{not json`)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for malformed body, got %d", rec.Code)
	}
	rec = postQuery(t, h, "", `{"variables":{}}`)
	expectError(t, rec, http.StatusInternalServerError, "query is required")
}

func TestGraphQLGetInfo(t *testing.T) {
	h := newTestHandler(t, HTTPOptions{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/graphql", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := decodeBody(t, rec)["message"]; got != GraphQLInfoMessage {
		t.Fatalf("unexpected message: %v", got)
	}
}

func TestDashboardViews(t *testing.T) {
	h := newTestHandler(t, HTTPOptions{})

	for _, path := range []string{"/api/dashboard", "/api/topology", "/api/heatmap"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set(identity.HeaderName, "viewer")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d", path, rec.Code)
		}
		if _, ok := decodeBody(t, rec)["data"]; !ok {
			t.Fatalf("%s: missing data key", path)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/api/dashboard", nil)
	req.Header.Set(identity.HeaderName, "viewer")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	var snap struct {
		Data models.DashboardSnapshot `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(snap.Data.Services) != 1 || snap.Data.Services[0].ServiceName != "api-gateway" {
		t.Fatalf("expected viewer snapshot filtered to api-gateway, got %+v", snap.Data.Services)
	}
}

func TestHealthz(t *testing.T) {
	h := newTestHandler(t, HTTPOptions{})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := decodeBody(t, rec)["status"]; got != "ok" {
		t.Fatalf("unexpected status: %v", got)
	}
}

func sendFrom(h http.Handler, remoteAddr, forwardedFor string) int {
	req := httptest.NewRequest(http.MethodPost, "/api/graphql", strings.NewReader(`{"query":"traces"}`))
	req.RemoteAddr = remoteAddr
	if forwardedFor != "" {
		req.Header.Set("X-Forwarded-For", forwardedFor)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec.Code
}

func TestRateLimitPerClient(t *testing.T) {
	h := newTestHandler(t, HTTPOptions{RateLimitPerMinute: 60, RateLimitBurst: 2})

	got := []int{
		sendFrom(h, "192.0.2.1:1234", ""),
		sendFrom(h, "192.0.2.1:1234", ""),
		sendFrom(h, "192.0.2.1:1234", ""),
	}
	want := []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if code := sendFrom(h, "192.0.2.2:1234", ""); code != http.StatusOK {
		t.Fatalf("other clients have their own bucket, got %d", code)
	}
}

func TestRateLimitIgnoresForwardingHeadersByDefault(t *testing.T) {
	h := newTestHandler(t, HTTPOptions{RateLimitPerMinute: 60, RateLimitBurst: 1})

	if code := sendFrom(h, "192.0.2.1:1234", "203.0.113.1"); code != http.StatusOK {
		t.Fatalf("first request should pass, got %d", code)
	}
	if code := sendFrom(h, "192.0.2.1:1234", "203.0.113.2"); code != http.StatusTooManyRequests {
		t.Fatalf("spoofed X-Forwarded-For must not open a new bucket, got %d", code)
	}
}

func TestRateLimitTrustsForwardingHeadersBehindProxy(t *testing.T) {
	h := newTestHandler(t, HTTPOptions{RateLimitPerMinute: 60, RateLimitBurst: 1, TrustProxyHeaders: true})

	if code := sendFrom(h, "10.0.0.1:1234", "203.0.113.1"); code != http.StatusOK {
		t.Fatalf("first client should pass, got %d", code)
	}
	if code := sendFrom(h, "10.0.0.1:1234", "203.0.113.2"); code != http.StatusOK {
		t.Fatalf("second forwarded client should have its own bucket, got %d", code)
	}
	if code := sendFrom(h, "10.0.0.1:1234", "203.0.113.1"); code != http.StatusTooManyRequests {
		t.Fatalf("repeat forwarded client should be limited, got %d", code)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.7:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.9, 10.0.0.1")
	req.Header.Set("X-Real-IP", "198.51.100.3")

	if got := clientIP(req, false); got != "192.0.2.7" {
		t.Fatalf("untrusted: expected peer address, got %q", got)
	}
	if got := clientIP(req, true); got != "203.0.113.9" {
		t.Fatalf("trusted: expected first forwarded address, got %q", got)
	}
	req.Header.Del("X-Forwarded-For")
	if got := clientIP(req, true); got != "198.51.100.3" {
		t.Fatalf("trusted: expected X-Real-IP, got %q", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := newTestHandler(t, HTTPOptions{AllowedOrigins: []string{"http://localhost:3000"}})

	req := httptest.NewRequest(http.MethodOptions, "/api/graphql", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:3000" {
		t.Fatalf("unexpected allow-origin: %q", got)
	}
}

func TestStatusForError(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{authz.ErrUnauthorized, http.StatusUnauthorized},
		{authz.ErrAccessDenied, http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
		{context.Canceled, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := StatusForError(tc.err); got != tc.want {
			t.Fatalf("%v: expected %d, got %d", tc.err, tc.want, got)
		}
	}
}

func TestCacheControl(t *testing.T) {
	if got := CacheControl(2*time.Second, 5*time.Second); got != "public, s-maxage=2, stale-while-revalidate=5" {
		t.Fatalf("unexpected header: %q", got)
	}
	if got := CacheControl(0, time.Second); got != "no-store" {
		t.Fatalf("expected no-store, got %q", got)
	}
}
