package models

import "time"

// PerformanceSample is one point on the per-service latency chart.
type PerformanceSample struct {
	Time    time.Time `json:"time"`
	Gateway int       `json:"gateway"`
	Auth    int       `json:"auth"`
	Payment int       `json:"payment"`
	User    int       `json:"user"`
}

// NodeType classifies topology nodes.
type NodeType string

const (
	NodeService  NodeType = "service"
	NodeDatabase NodeType = "database"
	NodeCache    NodeType = "cache"
)

// TopologyNode is a vertex in the dependency graph.
type TopologyNode struct {
	ID     string        `json:"id"`
	Name   string        `json:"name"`
	Type   NodeType      `json:"type"`
	Status ServiceStatus `json:"status"`
}

// TopologyLink is a directed call edge with its observed latency in ms.
type TopologyLink struct {
	Source  string `json:"source"`
	Target  string `json:"target"`
	Latency int    `json:"latency"`
}

// TopologyGraph feeds the force-directed dependency view.
type TopologyGraph struct {
	Nodes []TopologyNode `json:"nodes"`
	Links []TopologyLink `json:"links"`
}

// HeatmapCell is traffic intensity for one (day, hour) bucket.
type HeatmapCell struct {
	Day   string  `json:"day"`
	Hour  int     `json:"hour"`
	Value float64 `json:"value"`
}

// DashboardSnapshot is the rolling state pushed to dashboard clients.
type DashboardSnapshot struct {
	GeneratedAt time.Time           `json:"generatedAt"`
	Services    []ServiceMetrics    `json:"services"`
	Performance []PerformanceSample `json:"performance"`
	Traces      []Trace             `json:"traces"`
	Anomalies   []Anomaly           `json:"anomalies"`
}
