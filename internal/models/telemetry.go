package models

// ServiceStatus is the card-level state of a service in the overview.
type ServiceStatus string

const (
	ServiceHealthy  ServiceStatus = "healthy"
	ServiceDegraded ServiceStatus = "degraded"
)

// Valid reports whether the status is healthy or degraded.
func (s ServiceStatus) Valid() bool {
	return s == ServiceHealthy || s == ServiceDegraded
}

// HealthStatus grades a single service health report.
type HealthStatus string

const (
	HealthHealthy  HealthStatus = "healthy"
	HealthWarning  HealthStatus = "warning"
	HealthCritical HealthStatus = "critical"
)

// Valid reports whether the status is one of healthy, warning or critical.
func (s HealthStatus) Valid() bool {
	switch s {
	case HealthHealthy, HealthWarning, HealthCritical:
		return true
	default:
		return false
	}
}

// TraceStatus is the outcome of a synthetic trace.
type TraceStatus string

const (
	TraceSuccess TraceStatus = "success"
	TraceError   TraceStatus = "error"
)

// Valid reports whether the status is success or error.
func (s TraceStatus) Valid() bool {
	return s == TraceSuccess || s == TraceError
}

// Severity captures anomaly impact levels.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Valid reports whether the severity is one of info, warning or critical.
func (s Severity) Valid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityCritical:
		return true
	default:
		return false
	}
}

// ServiceMetrics is one overview card, regenerated on every call.
type ServiceMetrics struct {
	ServiceName string        `json:"serviceName"`
	Timestamp   int64         `json:"timestamp"`
	Status      ServiceStatus `json:"status"`
	Latency     int           `json:"latency"`
	Requests    int           `json:"requests"`
	Uptime      float64       `json:"uptime"`
	ErrorRate   float64       `json:"errorRate"`
}

// ServiceHealth is the detailed health report for one service.
type ServiceHealth struct {
	ServiceName string       `json:"serviceName"`
	Status      HealthStatus `json:"status"`
	LatencyP95  float64      `json:"latencyP95"`
	LatencyP99  float64      `json:"latencyP99"`
	Throughput  float64      `json:"throughput"`
	ErrorRate   float64      `json:"errorRate"`
	Uptime      float64      `json:"uptime"`
}

// TimeSeriesPoint is a single sample; Timestamp is unix milliseconds.
type TimeSeriesPoint struct {
	Timestamp int64   `json:"timestamp"`
	Value     float64 `json:"value"`
}

// ServiceTimeSeries wraps a generated series for one service metric.
type ServiceTimeSeries struct {
	ServiceName string            `json:"serviceName"`
	Metric      string            `json:"metric"`
	Data        []TimeSeriesPoint `json:"data"`
}

// Trace is a synthetic distributed trace summary.
type Trace struct {
	TraceID     string      `json:"traceId"`
	ServiceName string      `json:"serviceName"`
	Endpoint    string      `json:"endpoint"`
	Duration    int         `json:"duration"`
	Status      TraceStatus `json:"status"`
	Spans       int         `json:"spans"`
	Timestamp   int64       `json:"timestamp"`
}

// Anomaly is a synthetic detection event.
type Anomaly struct {
	ID          string   `json:"id"`
	ServiceName string   `json:"serviceName"`
	Type        string   `json:"type"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Timestamp   int64    `json:"timestamp"`
}
