package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/miradorstack/mirador-pulse/internal/models"
	"github.com/miradorstack/mirador-pulse/internal/query"
	"github.com/miradorstack/mirador-pulse/internal/utils"
)

// render prints payload as a table. Timestamps are shown relative to now.
func render(w io.Writer, op query.Operation, payload json.RawMessage, now time.Time) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	defer tw.Flush()

	switch op {
	case query.OpAllServices:
		var rows []models.ServiceMetrics
		if err := json.Unmarshal(payload, &rows); err != nil {
			return fmt.Errorf("decode %s: %w", op, err)
		}
		fmt.Fprintln(tw, "SERVICE\tSTATUS\tLATENCY\tREQUESTS\tUPTIME\tERRORS")
		for _, r := range rows {
			fmt.Fprintf(tw, "%s\t%s\t%dms\t%d\t%.2f%%\t%.2f%%\n", r.ServiceName, r.Status, r.Latency, r.Requests, r.Uptime, r.ErrorRate)
		}

	case query.OpServiceHealth:
		var h models.ServiceHealth
		if err := json.Unmarshal(payload, &h); err != nil {
			return fmt.Errorf("decode %s: %w", op, err)
		}
		fmt.Fprintln(tw, "SERVICE\tSTATUS\tP95\tP99\tTHROUGHPUT\tERRORS\tUPTIME")
		fmt.Fprintf(tw, "%s\t%s\t%.1fms\t%.1fms\t%.1f/s\t%.2f%%\t%.2f%%\n", h.ServiceName, h.Status, h.LatencyP95, h.LatencyP99, h.Throughput, h.ErrorRate, h.Uptime)

	case query.OpServiceTimeSeries:
		var s models.ServiceTimeSeries
		if err := json.Unmarshal(payload, &s); err != nil {
			return fmt.Errorf("decode %s: %w", op, err)
		}
		fmt.Fprintf(tw, "%s %s (%d points)\n", s.ServiceName, s.Metric, len(s.Data))
		fmt.Fprintln(tw, "TIME\tVALUE")
		for _, p := range s.Data {
			fmt.Fprintf(tw, "%s\t%.2f\n", utils.FromUnixMilli(p.Timestamp).Format(time.TimeOnly), p.Value)
		}

	case query.OpTraces:
		var rows []models.Trace
		if err := json.Unmarshal(payload, &rows); err != nil {
			return fmt.Errorf("decode %s: %w", op, err)
		}
		fmt.Fprintln(tw, "TRACE\tSERVICE\tENDPOINT\tDURATION\tSTATUS\tSPANS\tWHEN")
		for _, t := range rows {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%dms\t%s\t%d\t%s\n", t.TraceID, t.ServiceName, t.Endpoint, t.Duration, t.Status, t.Spans,
				utils.TimeAgo(utils.FromUnixMilli(t.Timestamp), now))
		}

	case query.OpAnomalies:
		var rows []models.Anomaly
		if err := json.Unmarshal(payload, &rows); err != nil {
			return fmt.Errorf("decode %s: %w", op, err)
		}
		if len(rows) == 0 {
			fmt.Fprintln(tw, "no anomalies")
			return nil
		}
		fmt.Fprintln(tw, "SEVERITY\tSERVICE\tTYPE\tDESCRIPTION\tWHEN")
		for _, a := range rows {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", a.Severity, a.ServiceName, a.Type, a.Description,
				utils.TimeAgo(utils.FromUnixMilli(a.Timestamp), now))
		}

	default:
		_, err := fmt.Fprintln(tw, string(payload))
		return err
	}
	return nil
}
