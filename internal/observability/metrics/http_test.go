package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"PluginHost/pkg/plugin"
)

func TestCollectorCountsLifecycle(t *testing.T) {
	c := NewCollector()
	c.ObserveLoad("core", "audio.alpha", plugin.LoadLoaded)
	c.ObserveLoad("core", "audio.alpha", plugin.LoadLoaded)
	c.ObserveLoad("core", "audio.beta", plugin.LoadDisabled)
	c.ObserveHook("core", "audio.alpha", plugin.HookStart, plugin.HookViolation, 10*time.Millisecond)
	c.ObserveHook("core", "audio.beta", plugin.HookStart, plugin.HookAbsent, 0)

	if got := testutil.ToFloat64(c.loads.WithLabelValues("core", "audio.alpha", "loaded")); got != 2 {
		t.Fatalf("unexpected load count %v", got)
	}
	if got := testutil.ToFloat64(c.hooks.WithLabelValues("core", "audio.alpha", "OnStart", "violation")); got != 1 {
		t.Fatalf("unexpected hook count %v", got)
	}
	if got := testutil.CollectAndCount(c.hookDuration); got != 1 {
		t.Fatalf("absent hooks should not be timed, got %d series", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	c := NewCollector()
	c.ObserveHTTPRequest("plugins", "GET", 200, 20*time.Millisecond)
	c.ObserveHTTPRequest("plugins", "POST", 503, 20*time.Millisecond)

	if got := testutil.ToFloat64(c.requestErrors.WithLabelValues("plugins", "POST")); got != 1 {
		t.Fatalf("unexpected error count %v", got)
	}

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `pluginhost_http_requests_total{code="200",handler="plugins",method="GET"} 1`) {
		t.Fatalf("missing request counter in:\n%s", body)
	}
}
