package config

import (
	"reflect"
	"testing"
	"time"
)

func TestFromEnv_Defaults(t *testing.T) {
	for _, k := range []string{"ADDR", "LOAD_BUDGET", "LOAD_CONCURRENCY", "REFINE_THRESHOLD", "TRANSPORT", "REDIS_ADDR", "LOAD_EVENTS_TOPIC"} {
		t.Setenv(k, "")
	}
	cfg := FromEnv()

	if cfg.Addr != ":8090" {
		t.Fatalf("addr=%q", cfg.Addr)
	}
	if cfg.Load.Budget != 10 || cfg.Load.Concurrency != 10 {
		t.Fatalf("budget=%d concurrency=%d want 10/10", cfg.Load.Budget, cfg.Load.Concurrency)
	}
	if cfg.Load.RefineThreshold != 0.01 {
		t.Fatalf("threshold=%v", cfg.Load.RefineThreshold)
	}
	if cfg.Transport.Driver != "http" || cfg.Transport.MaxNodes != 1_000_000 {
		t.Fatalf("transport=%+v", cfg.Transport)
	}
	if cfg.Cache.RedisAddr != "" || cfg.Events.Topic != "" {
		t.Fatalf("optional tiers should be disabled by default: %+v %+v", cfg.Cache, cfg.Events)
	}
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("LOAD_BUDGET", "4")
	t.Setenv("LOAD_CONCURRENCY", "2")
	t.Setenv("TILE_FETCH_TIMEOUT", "750ms")
	t.Setenv("CLASS_FILTER", "2, 6,x,9")
	t.Setenv("SOURCE_FILTER", "a.laz,,b.laz")
	t.Setenv("TRANSPORT", "FILE")
	t.Setenv("H3_RES", "99")
	t.Setenv("MAX_POINTS", "5000000000")
	t.Setenv("QUERY_BOUNDARY", "0 0, 1 0, 1 1, 0 0")

	cfg := FromEnv()
	if cfg.Load.Budget != 4 || cfg.Load.Concurrency != 2 {
		t.Fatalf("budget=%d concurrency=%d", cfg.Load.Budget, cfg.Load.Concurrency)
	}
	if cfg.Load.TileFetchTimeout != 750*time.Millisecond {
		t.Fatalf("timeout=%v", cfg.Load.TileFetchTimeout)
	}
	if !reflect.DeepEqual(cfg.Query.Classes, []int{2, 6, 9}) {
		t.Fatalf("classes=%v", cfg.Query.Classes)
	}
	if !reflect.DeepEqual(cfg.Query.SourceFiles, []string{"a.laz", "b.laz"}) {
		t.Fatalf("sources=%v", cfg.Query.SourceFiles)
	}
	if cfg.Transport.Driver != "file" {
		t.Fatalf("driver=%q", cfg.Transport.Driver)
	}
	if cfg.Events.H3Res != 15 {
		t.Fatalf("h3 res=%d want clamp to 15", cfg.Events.H3Res)
	}
	if cfg.Query.MaxPoints != 5_000_000_000 {
		t.Fatalf("max points=%d", cfg.Query.MaxPoints)
	}
	if cfg.Query.Boundary != "0 0, 1 0, 1 1, 0 0" {
		t.Fatalf("boundary=%q", cfg.Query.Boundary)
	}
}
