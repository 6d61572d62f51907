package gateway

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/sony/gobreaker/v2"

	"deltastream/internal/domain"
)

// metricsHandler returns an HTTP handler for GET /metrics in Prometheus text format.
// This uses the lightweight text format to avoid pulling in the full prometheus client.
func metricsHandler(deps HandlerDeps, startTime time.Time) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

		stats := deps.Streams.Stats()

		counter := func(name, help string, v int64) {
			fmt.Fprintf(w, "# HELP %s %s\n", name, help)
			fmt.Fprintf(w, "# TYPE %s counter\n", name)
			fmt.Fprintf(w, "%s %d\n", name, v)
		}

		// Stream metrics.
		fmt.Fprintf(w, "# HELP deltastream_streams_active Number of streams without a terminal event.\n")
		fmt.Fprintf(w, "# TYPE deltastream_streams_active gauge\n")
		fmt.Fprintf(w, "deltastream_streams_active %d\n", stats.Active)

		counter("deltastream_streams_launched_total", "Total streams launched.", stats.Launched)
		counter("deltastream_streams_completed_total", "Streams that ended with done.", stats.Completed)
		counter("deltastream_streams_failed_total", "Streams that ended with an error.", stats.Failed)
		counter("deltastream_deltas_total", "Non-empty deltas published.", stats.Deltas)
		counter("deltastream_dropped_lines_total", "Data lines skipped after a decode failure.", stats.DroppedLines)

		// Circuit breakers, one series per vendor kind.
		fmt.Fprintf(w, "# HELP deltastream_circuit_open Whether the provider circuit breaker is open.\n")
		fmt.Fprintf(w, "# TYPE deltastream_circuit_open gauge\n")
		for _, kind := range domain.ProviderKinds {
			open := 0
			if deps.Breakers.State(kind) == gobreaker.StateOpen {
				open = 1
			}
			fmt.Fprintf(w, "deltastream_circuit_open{provider=%q} %d\n", kind, open)
		}

		// Uptime.
		fmt.Fprintf(w, "# HELP deltastream_uptime_seconds Seconds since the gateway started.\n")
		fmt.Fprintf(w, "# TYPE deltastream_uptime_seconds gauge\n")
		fmt.Fprintf(w, "deltastream_uptime_seconds %.0f\n", time.Since(startTime).Seconds())

		// Go runtime metrics.
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)

		fmt.Fprintf(w, "# HELP go_goroutines Number of goroutines.\n")
		fmt.Fprintf(w, "# TYPE go_goroutines gauge\n")
		fmt.Fprintf(w, "go_goroutines %d\n", runtime.NumGoroutine())

		fmt.Fprintf(w, "# HELP go_memstats_alloc_bytes Bytes of allocated heap objects.\n")
		fmt.Fprintf(w, "# TYPE go_memstats_alloc_bytes gauge\n")
		fmt.Fprintf(w, "go_memstats_alloc_bytes %d\n", mem.Alloc)

		fmt.Fprintf(w, "# HELP go_memstats_sys_bytes Total bytes of memory obtained from the OS.\n")
		fmt.Fprintf(w, "# TYPE go_memstats_sys_bytes gauge\n")
		fmt.Fprintf(w, "go_memstats_sys_bytes %d\n", mem.Sys)
	}
}
