package query

import "strings"

// Operation is the closed set of query shapes the router understands.
type Operation int

const (
	OpUnknown Operation = iota
	OpAllServices
	OpServiceHealth
	OpServiceTimeSeries
	OpTraces
	OpAnomalies
)

// priority lists operations in match order. A query containing several markers
// resolves to the first one listed here.
var priority = []Operation{
	OpAllServices,
	OpServiceHealth,
	OpServiceTimeSeries,
	OpTraces,
	OpAnomalies,
}

// String returns the marker for the operation, which is also its response key.
func (o Operation) String() string {
	switch o {
	case OpAllServices:
		return "allServices"
	case OpServiceHealth:
		return "serviceHealth"
	case OpServiceTimeSeries:
		return "serviceTimeSeries"
	case OpTraces:
		return "traces"
	case OpAnomalies:
		return "anomalies"
	default:
		return "unknown"
	}
}

// Operations returns the supported operations in priority order.
func Operations() []Operation {
	return append([]Operation(nil), priority...)
}

// ParseOperation maps a marker name back to its operation.
func ParseOperation(name string) (Operation, bool) {
	for _, op := range priority {
		if op.String() == name {
			return op, true
		}
	}
	return OpUnknown, false
}

// Match finds the first marker contained in queryText. Matching is case-sensitive substring search.
func Match(queryText string) Operation {
	for _, op := range priority {
		if strings.Contains(queryText, op.String()) {
			return op
		}
	}
	return OpUnknown
}
