package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsHandler_Smoke(t *testing.T) {
	reg := prometheus.NewRegistry()
	Init(reg)

	ObserveHTTP("POST", "/v1/evaluate", 202, 0.001)
	ObserveTileLoad("ok", 0.02)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	promhttp.HandlerFor(reg, promhttp.HandlerOpts{}).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, name := range []string{"http_requests_total", "tile_loads_total"} {
		if !strings.Contains(body, name) {
			t.Fatalf("metrics payload missing %s; got:\n%s", name, body)
		}
	}
}

func TestTileAndRoundCounters(t *testing.T) {
	beforeOK := testutil.ToFloat64(tileLoadsTotal.WithLabelValues("ok"))
	beforeErr := testutil.ToFloat64(tileLoadsTotal.WithLabelValues("error"))
	beforeRounds := testutil.ToFloat64(roundsTotal)
	beforeFailed := testutil.ToFloat64(roundFailedLoads)

	ObserveTileLoad("ok", 0.01)
	ObserveTileLoad("error", 0.01)
	ObserveRoundSelection(5, 3, 2)
	ObserveRound(0.5, 1)
	ObserveRound(0.5, 0)

	if got := testutil.ToFloat64(tileLoadsTotal.WithLabelValues("ok")) - beforeOK; got != 1 {
		t.Fatalf("ok delta=%v want 1", got)
	}
	if got := testutil.ToFloat64(tileLoadsTotal.WithLabelValues("error")) - beforeErr; got != 1 {
		t.Fatalf("error delta=%v want 1", got)
	}
	if got := testutil.ToFloat64(roundsTotal) - beforeRounds; got != 1 {
		t.Fatalf("rounds delta=%v want 1", got)
	}
	if got := testutil.ToFloat64(roundFailedLoads) - beforeFailed; got != 1 {
		t.Fatalf("failed delta=%v want 1", got)
	}
}

func TestGaugesAndCacheOps(t *testing.T) {
	SetResidentTiles(12)
	SetInFlightTiles(3)
	if got := testutil.ToFloat64(residentTiles); got != 12 {
		t.Fatalf("resident=%v", got)
	}
	if got := testutil.ToFloat64(inFlightTiles); got != 3 {
		t.Fatalf("inflight=%v", got)
	}

	before := testutil.ToFloat64(cacheOpsTotal.WithLabelValues("get", "error"))
	ObserveCacheOp("get", errors.New("down"), 0.001)
	if got := testutil.ToFloat64(cacheOpsTotal.WithLabelValues("get", "error")) - before; got != 1 {
		t.Fatalf("cache error delta=%v", got)
	}
}
