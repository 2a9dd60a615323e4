package generator

import (
	"math"

	"github.com/miradorstack/mirador-pulse/internal/models"
)

// HeatmapDays are the heatmap rows in display order.
var HeatmapDays = []string{"Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

var topologyNodes = []models.TopologyNode{
	{ID: "gateway", Name: "API Gateway", Type: models.NodeService, Status: models.ServiceHealthy},
	{ID: "auth", Name: "Auth Service", Type: models.NodeService, Status: models.ServiceHealthy},
	{ID: "payment", Name: "Payment", Type: models.NodeService, Status: models.ServiceDegraded},
	{ID: "user", Name: "User Service", Type: models.NodeService, Status: models.ServiceHealthy},
	{ID: "notification", Name: "Notifications", Type: models.NodeService, Status: models.ServiceHealthy},
	{ID: "db", Name: "PostgreSQL", Type: models.NodeDatabase, Status: models.ServiceHealthy},
	{ID: "cache", Name: "Redis", Type: models.NodeCache, Status: models.ServiceHealthy},
}

var topologyLinks = []models.TopologyLink{
	{Source: "gateway", Target: "auth", Latency: 23},
	{Source: "gateway", Target: "payment", Latency: 156},
	{Source: "gateway", Target: "user", Latency: 34},
	{Source: "auth", Target: "db", Latency: 12},
	{Source: "auth", Target: "cache", Latency: 5},
	{Source: "payment", Target: "db", Latency: 45},
	{Source: "user", Target: "db", Latency: 18},
	{Source: "user", Target: "notification", Latency: 28},
}

// TopologyServices maps topology node ids onto query service names; data stores have none.
var TopologyServices = map[string]string{
	"gateway":      "api-gateway",
	"auth":         "auth-service",
	"payment":      "payment-service",
	"user":         "user-service",
	"notification": "notification-service",
}

// PerformanceSample emits one latency sample for the four charted services.
func (g *Generator) PerformanceSample() models.PerformanceSample {
	g.mu.Lock()
	defer g.mu.Unlock()

	return models.PerformanceSample{
		Time:    g.now(),
		Gateway: g.rng.Intn(50) + 40,
		Auth:    g.rng.Intn(40) + 20,
		Payment: g.rng.Intn(100) + 140,
		User:    g.rng.Intn(40) + 30,
	}
}

// Heatmap emits one cell per (day, hour) with a value in [0,100).
func (g *Generator) Heatmap() []models.HeatmapCell {
	g.mu.Lock()
	defer g.mu.Unlock()

	cells := make([]models.HeatmapCell, 0, len(HeatmapDays)*24)
	for _, day := range HeatmapDays {
		for hour := 0; hour < 24; hour++ {
			cells = append(cells, models.HeatmapCell{
				Day:   day,
				Hour:  hour,
				Value: g.rng.Float64() * 100,
			})
		}
	}
	return cells
}

// Topology returns the fixed dependency graph with each link latency jittered by up to ±20%.
func (g *Generator) Topology() models.TopologyGraph {
	g.mu.Lock()
	defer g.mu.Unlock()

	links := make([]models.TopologyLink, 0, len(topologyLinks))
	for _, l := range topologyLinks {
		jitter := 1 + (g.rng.Float64()*0.4 - 0.2)
		latency := int(math.Round(float64(l.Latency) * jitter))
		if latency < 1 {
			latency = 1
		}
		links = append(links, models.TopologyLink{Source: l.Source, Target: l.Target, Latency: latency})
	}
	return models.TopologyGraph{
		Nodes: append([]models.TopologyNode(nil), topologyNodes...),
		Links: links,
	}
}
