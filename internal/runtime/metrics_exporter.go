package runtime

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"
)

// MetricFunc returns a snapshot of metric name -> value.
type MetricFunc func() map[string]float64

// MetricsServer exposes collectors as plain text lines under /metrics.
type MetricsServer struct {
	srv   *http.Server
	ln    net.Listener
	addr  string
	start time.Time
}

// StartMetricsServer serves the collectors on addr. Each line is
// "<collector>_<metric> <value>", sorted by collector then metric.
func StartMetricsServer(addr string, collectors map[string]MetricFunc) (*MetricsServer, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		writeMetrics(w, collectors)
	})

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %v", addr, err)
	}
	s := &MetricsServer{
		srv:   &http.Server{Handler: mux, ReadHeaderTimeout: 3 * time.Second},
		ln:    ln,
		addr:  ln.Addr().String(),
		start: time.Now(),
	}
	go func() { _ = s.srv.Serve(ln) }()
	return s, nil
}

// Addr returns the bound address.
func (s *MetricsServer) Addr() string { return s.addr }

// Stop shuts the server down.
func (s *MetricsServer) Stop(ctx context.Context) error { return s.srv.Shutdown(ctx) }

func writeMetrics(w http.ResponseWriter, collectors map[string]MetricFunc) {
	names := make([]string, 0, len(collectors))
	for name := range collectors {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fn := collectors[name]
		if fn == nil {
			continue
		}
		snapshot := fn()
		keys := make([]string, 0, len(snapshot))
		for k := range snapshot {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(w, "%s %g\n", sanitizeMetricToken(name+"_"+k), snapshot[k])
		}
	}
}

// Collector reports the runtime's scheduler and lifecycle counters.
func (rt *Runtime) Collector() MetricFunc {
	return func() map[string]float64 {
		s := rt.Stats()
		m := map[string]float64{
			"workers":        float64(s.Workers),
			"inflight":       float64(s.InFlight),
			"actors":         float64(s.Created),
			"retained":       float64(s.Retained),
			"timers":         float64(s.TimerCount),
			"batch_size":     float64(s.BatchSize),
			"uptime_seconds": s.Uptime.Seconds(),
		}
		for i, l := range s.QueueLens {
			m[fmt.Sprintf("worker_%d_ready", i)] = float64(l)
		}
		return m
	}
}

func sanitizeMetricToken(s string) string {
	b := make([]byte, len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_' || c == ':' {
			b[i] = c
		} else {
			b[i] = '_'
		}
	}
	if len(b) > 0 && b[0] >= '0' && b[0] <= '9' {
		return "_" + string(b)
	}
	return strings.ReplaceAll(string(b), "__", "_")
}
