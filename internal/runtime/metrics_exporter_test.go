package runtime

import (
	"context"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestMetricsServer_ServesRuntimeCollector(t *testing.T) {
	rt := newTestRuntime(t, func(c *Config) { c.Workers = 2 })
	NewActor(rt)

	srv, err := StartMetricsServer("127.0.0.1:0", map[string]MetricFunc{
		"runtime": rt.Collector(),
		"custom":  func() map[string]float64 { return map[string]float64{"hits total": 3} },
	})
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = srv.Stop(context.Background()) }()

	cli := &http.Client{Timeout: 2 * time.Second}
	resp, err := cli.Get("http://" + srv.Addr() + "/metrics")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %v", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	text := string(body)
	for _, want := range []string{"runtime_workers 2\n", "runtime_actors 1\n", "runtime_worker_1_ready", "custom_hits_total 3\n"} {
		if !strings.Contains(text, want) {
			t.Fatalf("missing %q in:\n%s", want, text)
		}
	}
	if strings.Index(text, "custom_") > strings.Index(text, "runtime_") {
		t.Fatalf("collectors not sorted:\n%s", text)
	}
}

func TestSanitizeMetricToken(t *testing.T) {
	out := sanitizeMetricToken(" metric name (bad)!")
	if strings.ContainsAny(out, " !()") {
		t.Fatalf("token not sanitized: %q", out)
	}
	if got := sanitizeMetricToken("9lives"); got != "_9lives" {
		t.Fatalf("leading digit: %q", got)
	}
}
