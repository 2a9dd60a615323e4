// Package generator produces the randomized telemetry records behind every
// dashboard query. Values are non-deterministic unless a seed and clock are
// injected through Options; shapes and ranges are fixed.
package generator

import (
	"math/rand"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/miradorstack/mirador-pulse/internal/models"
)

const (
	degradedProbability = 0.1
	anomalyProbability  = 0.3
	traceErrorRate      = 0.1

	// DefaultAnomalyAttempts is how many anomaly draws make up one anomaly set.
	DefaultAnomalyAttempts = 5
)

var knownServices = []string{
	"api-gateway",
	"auth-service",
	"payment-service",
	"user-service",
	"notification-service",
	"analytics-service",
	"search-service",
	"order-service",
	"inventory-service",
	"cart-service",
	"shipping-service",
	"recommendation-service",
}

var (
	anomalyServices   = []string{"api-gateway", "auth-service", "payment-service", "user-service"}
	anomalyTypes      = []string{"High Latency", "Traffic Spike", "Error Rate", "Memory Usage"}
	anomalySeverities = []models.Severity{models.SeverityInfo, models.SeverityWarning, models.SeverityCritical}
)

type endpoint struct {
	route   string
	service string
}

var traceEndpoints = []endpoint{
	{route: "POST /api/payments/process", service: "payment-service"},
	{route: "GET /api/users/profile", service: "user-service"},
	{route: "POST /api/auth/login", service: "auth-service"},
	{route: "GET /api/products/search", service: "search-service"},
	{route: "PUT /api/orders/update", service: "order-service"},
	{route: "DELETE /api/cart/items", service: "cart-service"},
}

// Services returns the known service names in display order.
func Services() []string {
	return append([]string(nil), knownServices...)
}

// DefaultService is the service used when a query names none.
func DefaultService() string {
	return knownServices[0]
}

// Options controls reproducibility. A zero Seed seeds from the wall clock; a nil Now uses time.Now.
type Options struct {
	Seed int64
	Now  func() time.Time
}

// Generator is safe for concurrent use; calls serialize on the shared random source.
type Generator struct {
	mu  sync.Mutex
	rng *rand.Rand
	now func() time.Time
}

// New constructs a Generator.
func New(opts Options) *Generator {
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Generator{
		rng: rand.New(rand.NewSource(seed)),
		now: now,
	}
}

// ServiceMetrics emits one overview record per known service.
func (g *Generator) ServiceMetrics() []models.ServiceMetrics {
	g.mu.Lock()
	defer g.mu.Unlock()

	ts := g.now().UnixMilli()
	out := make([]models.ServiceMetrics, 0, len(knownServices))
	for _, name := range knownServices {
		status := models.ServiceHealthy
		if g.rng.Float64() < degradedProbability {
			status = models.ServiceDegraded
		}
		out = append(out, models.ServiceMetrics{
			ServiceName: name,
			Timestamp:   ts,
			Status:      status,
			Latency:     g.rng.Intn(200) + 20,
			Requests:    g.rng.Intn(15000) + 2000,
			Uptime:      99.85 + g.rng.Float64()*0.14,
			ErrorRate:   g.rng.Float64() * 2,
		})
	}
	return out
}

// ServiceHealth emits a detailed health report for name. Status follows the error rate:
// at least 3% is critical, at least 1% is a warning.
func (g *Generator) ServiceHealth(name string) models.ServiceHealth {
	g.mu.Lock()
	defer g.mu.Unlock()

	p95 := 40 + g.rng.Float64()*200
	errorRate := g.rng.Float64() * 5
	status := models.HealthHealthy
	switch {
	case errorRate >= 3:
		status = models.HealthCritical
	case errorRate >= 1:
		status = models.HealthWarning
	}
	return models.ServiceHealth{
		ServiceName: name,
		Status:      status,
		LatencyP95:  p95,
		LatencyP99:  p95 * (1.2 + g.rng.Float64()*0.6),
		Throughput:  100 + g.rng.Float64()*1000,
		ErrorRate:   errorRate,
		Uptime:      99 + g.rng.Float64()*0.99,
	}
}

// TimeSeries emits count points one second apart, ending at the current time.
// Each value is base ± variance, never negative.
func (g *Generator) TimeSeries(count int, base, variance float64) []models.TimeSeriesPoint {
	if count <= 0 {
		return []models.TimeSeriesPoint{}
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	start := g.now().Add(-time.Duration(count-1) * time.Second)
	points := make([]models.TimeSeriesPoint, 0, count)
	for i := 0; i < count; i++ {
		value := base + (g.rng.Float64()*2-1)*variance
		if value < 0 {
			value = 0
		}
		points = append(points, models.TimeSeriesPoint{
			Timestamp: start.Add(time.Duration(i) * time.Second).UnixMilli(),
			Value:     value,
		})
	}
	return points
}

// Anomaly emits one anomaly about 30% of the time. ok is false when nothing was produced.
func (g *Generator) Anomaly() (models.Anomaly, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.anomalyLocked()
}

// Anomalies makes attempts independent anomaly draws and returns those that fired.
func (g *Generator) Anomalies(attempts int) []models.Anomaly {
	if attempts <= 0 {
		attempts = DefaultAnomalyAttempts
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]models.Anomaly, 0, attempts)
	for i := 0; i < attempts; i++ {
		if a, ok := g.anomalyLocked(); ok {
			out = append(out, a)
		}
	}
	return out
}

func (g *Generator) anomalyLocked() (models.Anomaly, bool) {
	if g.rng.Float64() >= anomalyProbability {
		return models.Anomaly{}, false
	}
	return models.Anomaly{
		ID:          "anomaly-" + g.idLocked(),
		ServiceName: anomalyServices[g.rng.Intn(len(anomalyServices))],
		Type:        anomalyTypes[g.rng.Intn(len(anomalyTypes))],
		Severity:    anomalySeverities[g.rng.Intn(len(anomalySeverities))],
		Description: "Unusual pattern detected in service metrics",
		Timestamp:   g.now().UnixMilli(),
	}, true
}

// Trace always emits one synthetic trace.
func (g *Generator) Trace() models.Trace {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.traceLocked()
}

// Traces emits n traces.
func (g *Generator) Traces(n int) []models.Trace {
	if n < 0 {
		n = 0
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]models.Trace, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, g.traceLocked())
	}
	return out
}

func (g *Generator) traceLocked() models.Trace {
	ep := traceEndpoints[g.rng.Intn(len(traceEndpoints))]
	status := models.TraceSuccess
	if g.rng.Float64() < traceErrorRate {
		status = models.TraceError
	}
	return models.Trace{
		TraceID:     "trace-" + g.idLocked(),
		ServiceName: ep.service,
		Endpoint:    ep.route,
		Duration:    g.rng.Intn(300) + 20,
		Status:      status,
		Spans:       g.rng.Intn(15) + 5,
		Timestamp:   g.now().UnixMilli(),
	}
}

// idLocked derives a UUID from the seeded source so IDs are reproducible too.
func (g *Generator) idLocked() string {
	id, err := uuid.NewRandomFromReader(g.rng)
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}
