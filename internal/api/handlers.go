package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/miradorstack/mirador-pulse/internal/authz"
	"github.com/miradorstack/mirador-pulse/internal/identity"
	"github.com/miradorstack/mirador-pulse/internal/models"
	"github.com/miradorstack/mirador-pulse/internal/query"
	"github.com/miradorstack/mirador-pulse/internal/services"
	"github.com/miradorstack/mirador-pulse/internal/utils"
)

const (
	// GraphQLInfoMessage is returned for GET on the query endpoint.
	GraphQLInfoMessage = "GraphQL endpoint - use POST with query and variables"

	maxBodyBytes = 1 << 20
)

// Dashboard is the service surface the transports need.
type Dashboard interface {
	Query(ctx context.Context, user models.User, queryText string, vars query.Variables) (services.QueryResponse, error)
	Snapshot(ctx context.Context, user models.User) (models.DashboardSnapshot, error)
	Topology(ctx context.Context, user models.User) (models.TopologyGraph, error)
	Heatmap(ctx context.Context, user models.User) ([]models.HeatmapCell, error)
	AuthorizeStream(user models.User) error
	Ping(ctx context.Context) error
}

// Streamer upgrades a request into a live snapshot subscription.
type Streamer interface {
	Serve(w http.ResponseWriter, r *http.Request, user models.User, checkOrigin func(*http.Request) bool)
}

// HTTPOptions configures the HTTP surface.
type HTTPOptions struct {
	Logger             *slog.Logger
	Resolver           *identity.Resolver
	AllowedOrigins     []string
	RateLimitPerMinute int
	RateLimitBurst     int
	// TrustProxyHeaders keys rate limits on forwarding headers; leave off unless a proxy sets them.
	TrustProxyHeaders  bool
	ResponseTTL        time.Duration
	StaleTTL           time.Duration
}

// Handler serves the dashboard HTTP API.
type Handler struct {
	svc          Dashboard
	stream       Streamer
	logger       *slog.Logger
	resolver     *identity.Resolver
	origins      []string
	cacheControl string
	limiter      *clientLimiter
}

type graphQLRequest struct {
	Query     *string         `json:"query"`
	Variables query.Variables `json:"variables"`
}

type errorBody struct {
	Error string `json:"error"`
}

// NewHandler builds the HTTP handler. stream may be nil to disable the websocket route.
func NewHandler(svc Dashboard, stream Streamer, opts HTTPOptions) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Resolver == nil {
		opts.Resolver = identity.DefaultResolver()
	}
	return &Handler{
		svc:          svc,
		stream:       stream,
		logger:       opts.Logger,
		resolver:     opts.Resolver,
		origins:      opts.AllowedOrigins,
		cacheControl: CacheControl(opts.ResponseTTL, opts.StaleTTL),
		limiter:      newClientLimiter(opts.RateLimitPerMinute, opts.RateLimitBurst, opts.TrustProxyHeaders),
	}
}

// CacheControl renders the shared-cache directive for query responses.
func CacheControl(fresh, stale time.Duration) string {
	if fresh <= 0 {
		return "no-store"
	}
	return fmt.Sprintf("public, s-maxage=%d, stale-while-revalidate=%d", int(fresh.Seconds()), int(stale.Seconds()))
}

// Routes assembles the router, middleware, CORS and tracing.
func (h *Handler) Routes() http.Handler {
	r := mux.NewRouter()
	r.Use(h.recoverer)
	r.Use(h.limiter.middleware)
	r.Use(identity.Middleware(h.resolver))

	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/graphql", h.graphQL).Methods(http.MethodPost)
	api.HandleFunc("/graphql", h.graphQLInfo).Methods(http.MethodGet)
	api.HandleFunc("/dashboard", h.dashboard).Methods(http.MethodGet)
	api.HandleFunc("/topology", h.topology).Methods(http.MethodGet)
	api.HandleFunc("/heatmap", h.heatmap).Methods(http.MethodGet)

	if h.stream != nil {
		r.HandleFunc("/ws/dashboard", h.websocket).Methods(http.MethodGet)
	}

	c := cors.New(cors.Options{
		AllowedOrigins: h.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", identity.HeaderName},
		MaxAge:         300,
	})
	return otelhttp.NewHandler(c.Handler(r), "pulse.http",
		otelhttp.WithSpanNameFormatter(func(_ string, req *http.Request) string {
			return req.Method + " " + req.URL.Path
		}),
	)
}

func (h *Handler) graphQL(w http.ResponseWriter, r *http.Request) {
	var req graphQLRequest
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		respondError(w, http.StatusInternalServerError, "invalid request body: "+err.Error())
		return
	}
	if req.Query == nil {
		respondError(w, http.StatusInternalServerError, "query is required")
		return
	}

	resp, err := h.svc.Query(r.Context(), h.userFrom(r), *req.Query, req.Variables)
	if err != nil {
		h.respondServiceError(w, err)
		return
	}

	w.Header().Set("Cache-Control", h.cacheControl)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"data":`))
	_, _ = w.Write(resp.Data)
	_, _ = w.Write([]byte("}\n"))
}

func (h *Handler) graphQLInfo(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"message": GraphQLInfoMessage})
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	snap, err := h.svc.Snapshot(r.Context(), h.userFrom(r))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": snap})
}

func (h *Handler) topology(w http.ResponseWriter, r *http.Request) {
	graph, err := h.svc.Topology(r.Context(), h.userFrom(r))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": graph})
}

func (h *Handler) heatmap(w http.ResponseWriter, r *http.Request) {
	cells, err := h.svc.Heatmap(r.Context(), h.userFrom(r))
	if err != nil {
		h.respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"data": cells})
}

func (h *Handler) websocket(w http.ResponseWriter, r *http.Request) {
	user := h.userFrom(r)
	if err := h.svc.AuthorizeStream(user); err != nil {
		h.respondServiceError(w, err)
		return
	}
	h.stream.Serve(w, r, user, h.checkOrigin)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := h.svc.Ping(ctx); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) userFrom(r *http.Request) models.User {
	if u, ok := identity.UserFromContext(r.Context()); ok {
		return u
	}
	return h.resolver.FromRequest(r)
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.origins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (h *Handler) respondServiceError(w http.ResponseWriter, err error) {
	status := StatusForError(err)
	if status == http.StatusInternalServerError && !errors.Is(err, authz.ErrAccessDenied) {
		h.logger.Error("request failed", slog.Any("error", err))
	}
	respondError(w, status, utils.PublicMessage(err))
}

// StatusForError maps a service error to an HTTP status: 401 for missing
// permissions, 500 for everything else including service access denial.
func StatusForError(err error) int {
	if errors.Is(err, authz.ErrUnauthorized) {
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

func (h *Handler) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.Error("panic serving request", slog.String("path", r.URL.Path), slog.Any("panic", rec))
				respondError(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, errorBody{Error: message})
}
