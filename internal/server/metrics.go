package server

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"linedex/internal/sysmetrics"
)

// metrics are the request counters reported by /metrics.
type metrics struct {
	metaRequests   atomic.Int64
	rangeRequests  atomic.Int64
	invalidQueries atomic.Int64
	readErrors     atomic.Int64
	rateLimited    atomic.Int64
	linesServed    atomic.Int64
	bytesServed    atomic.Int64
}

// registerMetrics registers the /metrics endpoint for Prometheus scraping.
// This endpoint is unauthenticated (standard for Prometheus targets).
func (s *Server) registerMetrics(mux *http.ServeMux) {
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		s.writeMetrics(w)
	})
}

func (s *Server) writeMetrics(w http.ResponseWriter) {
	m := &s.metrics

	// -- Server info --
	_, _ = fmt.Fprintf(w, "# HELP linedex_info Server version and index build.\n")
	_, _ = fmt.Fprintf(w, "# TYPE linedex_info gauge\n")
	_, _ = fmt.Fprintf(w, "linedex_info{version=%q,build_id=%q} 1\n", Version, s.ix.BuildID().String())

	_, _ = fmt.Fprintf(w, "# HELP linedex_uptime_seconds Seconds since server start.\n")
	_, _ = fmt.Fprintf(w, "# TYPE linedex_uptime_seconds gauge\n")
	_, _ = fmt.Fprintf(w, "linedex_uptime_seconds %.0f\n", time.Since(s.startTime).Seconds())

	// -- Process --
	_, _ = fmt.Fprintf(w, "# HELP linedex_process_cpu_percent Process CPU usage since the previous scrape.\n")
	_, _ = fmt.Fprintf(w, "# TYPE linedex_process_cpu_percent gauge\n")
	_, _ = fmt.Fprintf(w, "linedex_process_cpu_percent %.2f\n", s.cpu.CPUPercent())

	_, _ = fmt.Fprintf(w, "# HELP linedex_process_memory_inuse_bytes Heap and stack memory in use by the Go runtime.\n")
	_, _ = fmt.Fprintf(w, "# TYPE linedex_process_memory_inuse_bytes gauge\n")
	_, _ = fmt.Fprintf(w, "linedex_process_memory_inuse_bytes %d\n", sysmetrics.MemoryInuse())

	_, _ = fmt.Fprintf(w, "# HELP linedex_process_max_rss_bytes Peak resident set size, mapped index pages included.\n")
	_, _ = fmt.Fprintf(w, "# TYPE linedex_process_max_rss_bytes gauge\n")
	_, _ = fmt.Fprintf(w, "linedex_process_max_rss_bytes %d\n", sysmetrics.MaxRSS())

	// -- Index --
	_, _ = fmt.Fprintf(w, "# HELP linedex_index_lines Lines in the served index.\n")
	_, _ = fmt.Fprintf(w, "# TYPE linedex_index_lines gauge\n")
	_, _ = fmt.Fprintf(w, "linedex_index_lines %d\n", s.ix.TotalLines())

	_, _ = fmt.Fprintf(w, "# HELP linedex_index_stale Whether the source changed since the index was built.\n")
	_, _ = fmt.Fprintf(w, "# TYPE linedex_index_stale gauge\n")
	if s.stale.Load() {
		_, _ = fmt.Fprintf(w, "linedex_index_stale 1\n")
	} else {
		_, _ = fmt.Fprintf(w, "linedex_index_stale 0\n")
	}

	// -- Requests --
	_, _ = fmt.Fprintf(w, "# HELP linedex_requests_total Requests by endpoint.\n")
	_, _ = fmt.Fprintf(w, "# TYPE linedex_requests_total counter\n")
	_, _ = fmt.Fprintf(w, "linedex_requests_total{endpoint=\"meta\"} %d\n", m.metaRequests.Load())
	_, _ = fmt.Fprintf(w, "linedex_requests_total{endpoint=\"range\"} %d\n", m.rangeRequests.Load())

	_, _ = fmt.Fprintf(w, "# HELP linedex_request_errors_total Failed range requests by reason.\n")
	_, _ = fmt.Fprintf(w, "# TYPE linedex_request_errors_total counter\n")
	_, _ = fmt.Fprintf(w, "linedex_request_errors_total{reason=\"invalid\"} %d\n", m.invalidQueries.Load())
	_, _ = fmt.Fprintf(w, "linedex_request_errors_total{reason=\"read\"} %d\n", m.readErrors.Load())
	_, _ = fmt.Fprintf(w, "linedex_request_errors_total{reason=\"rate_limited\"} %d\n", m.rateLimited.Load())

	_, _ = fmt.Fprintf(w, "# HELP linedex_lines_served_total Lines returned by range requests.\n")
	_, _ = fmt.Fprintf(w, "# TYPE linedex_lines_served_total counter\n")
	_, _ = fmt.Fprintf(w, "linedex_lines_served_total %d\n", m.linesServed.Load())

	_, _ = fmt.Fprintf(w, "# HELP linedex_bytes_served_total Source bytes returned by range requests, terminators included.\n")
	_, _ = fmt.Fprintf(w, "# TYPE linedex_bytes_served_total counter\n")
	_, _ = fmt.Fprintf(w, "linedex_bytes_served_total %d\n", m.bytesServed.Load())
}
