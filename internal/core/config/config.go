package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type TransportCfg struct {
	Driver   string
	BaseURL  string
	Dir      string
	APIKey   string
	MaxNodes int
}

type QueryCfg struct {
	Table        string
	OutputCRS    string
	Classes      []int
	SourceFiles  []string
	MaxPoints    int64
	MaxDensity   float64
	InitialPoint string
	// Boundary is a GeoJSON Polygon or "x y, x y, ..." ring; parsed at startup.
	Boundary string
}

type LoadCfg struct {
	RefineThreshold  float64
	Budget           int
	Concurrency      int
	TileFetchTimeout time.Duration
	AutoEvaluate     time.Duration
}

type CacheCfg struct {
	Size      int
	RedisAddr string
	TTL       time.Duration
	OpTimeout time.Duration
}

type EventsCfg struct {
	Brokers string
	Topic   string
	H3Res   int
}

type MetricsCfg struct {
	Enabled bool
	Addr    string
	Path    string
}

type Config struct {
	Addr       string
	LogLevel   string
	LogConsole bool
	LogSampleN int
	Transport  TransportCfg
	Query      QueryCfg
	Load       LoadCfg
	Cache      CacheCfg
	Events     EventsCfg
	Metrics    MetricsCfg
}

func FromEnv() Config {
	res := getint("H3_RES", 8)
	if res < 0 {
		res = 0
	}
	if res > 15 {
		res = 15
	}

	budget := getint("LOAD_BUDGET", 10)
	concurrency := getint("LOAD_CONCURRENCY", 0)
	if concurrency <= 0 {
		concurrency = budget
	}

	return Config{
		Addr:       getenv("ADDR", ":8090"),
		LogLevel:   getenv("LOG_LEVEL", "info"),
		LogConsole: getbool("LOG_CONSOLE", false),
		LogSampleN: getint("LOG_SAMPLE_N", 0),
		Transport: TransportCfg{
			Driver:   strings.ToLower(getenv("TRANSPORT", "http")),
			BaseURL:  getenv("TILESET_URL", "http://localhost:8080"),
			Dir:      getenv("TILESET_DIR", "./tileset"),
			APIKey:   getenv("API_KEY", ""),
			MaxNodes: getint("MAX_TILE_NODES", 1_000_000),
		},
		Query: QueryCfg{
			Table:        getenv("TABLE", ""),
			OutputCRS:    getenv("OUTPUT_CRS", "EPSG:3857"),
			Classes:      parseIntList(getenv("CLASS_FILTER", "")),
			SourceFiles:  parseList(getenv("SOURCE_FILTER", "")),
			MaxPoints:    getint64("MAX_POINTS", 0),
			MaxDensity:   getfloat("MAX_DENSITY", 0),
			InitialPoint: getenv("VIEWPOINT", "0,0,0"),
			Boundary:     getenv("QUERY_BOUNDARY", ""),
		},
		Load: LoadCfg{
			RefineThreshold:  getfloat("REFINE_THRESHOLD", 0.01),
			Budget:           budget,
			Concurrency:      concurrency,
			TileFetchTimeout: getduration("TILE_FETCH_TIMEOUT", 30*time.Second),
			AutoEvaluate:     getduration("AUTO_EVALUATE_INTERVAL", 0),
		},
		Cache: CacheCfg{
			Size:      getint("CONTENT_CACHE_SIZE", 256),
			RedisAddr: getenv("REDIS_ADDR", ""),
			TTL:       getduration("CONTENT_CACHE_TTL", 10*time.Minute),
			OpTimeout: getduration("CACHE_OP_TIMEOUT", 250*time.Millisecond),
		},
		Events: EventsCfg{
			Brokers: getenv("KAFKA_BROKERS", "localhost:9092"),
			Topic:   getenv("LOAD_EVENTS_TOPIC", ""),
			H3Res:   res,
		},
		Metrics: MetricsCfg{
			Enabled: getbool("METRICS_ENABLED", true),
			Addr:    getenv("METRICS_ADDR", ""),
			Path:    getenv("METRICS_PATH", "/metrics"),
		},
	}
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getint64(k string, def int64) int64 {
	if v := os.Getenv(k); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "t", "true", "y", "yes":
			return true
		case "0", "f", "false", "n", "no":
			return false
		}
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v := os.Getenv(k); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getduration(k string, def time.Duration) time.Duration {
	if v := os.Getenv(k); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func parseList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// entries that are not integers are dropped
func parseIntList(s string) []int {
	var out []int
	for _, p := range parseList(s) {
		if n, err := strconv.Atoi(p); err == nil {
			out = append(out, n)
		}
	}
	return out
}
