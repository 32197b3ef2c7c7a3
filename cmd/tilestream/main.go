package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/mohammed-shakir/tilestream/internal/cache/redisstore"
	"github.com/mohammed-shakir/tilestream/internal/core/config"
	"github.com/mohammed-shakir/tilestream/internal/core/httpclient"
	"github.com/mohammed-shakir/tilestream/internal/core/observability"
	"github.com/mohammed-shakir/tilestream/internal/core/server"
	"github.com/mohammed-shakir/tilestream/internal/loadevents"
	"github.com/mohammed-shakir/tilestream/internal/logger"
	h3mapper "github.com/mohammed-shakir/tilestream/internal/mapper/h3"
	"github.com/mohammed-shakir/tilestream/internal/metrics"
	"github.com/mohammed-shakir/tilestream/internal/render"
	"github.com/mohammed-shakir/tilestream/internal/session"
	"github.com/mohammed-shakir/tilestream/internal/transport"
	"github.com/mohammed-shakir/tilestream/internal/transport/contentcache"
	_ "github.com/mohammed-shakir/tilestream/internal/transport/filetransport"
	_ "github.com/mohammed-shakir/tilestream/internal/transport/httptransport"
	"github.com/mohammed-shakir/tilestream/internal/viewer"
	"github.com/mohammed-shakir/tilestream/internal/viewpoint"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	envFile := flag.String("env", ".env", "dotenv file to load before reading the environment")
	tableFlag := flag.String("table", "", "table to stream (overrides TABLE)")
	flag.Parse()

	// a missing file is fine; real env vars take precedence
	_ = godotenv.Load(*envFile)

	cfg := config.FromEnv()
	if *tableFlag != "" {
		cfg.Query.Table = strings.TrimSpace(*tableFlag)
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Table:     cfg.Query.Table,
		Component: "tilestream",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	if cfg.Query.Table == "" {
		appLog.Error("TABLE is required")
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	p := metrics.Init(metrics.Config{
		Enabled: cfg.Metrics.Enabled,
		Addr:    cfg.Metrics.Addr,
		Path:    cfg.Metrics.Path,
		Build: metrics.BuildInfo{
			Version:   Version,
			Revision:  os.Getenv("BUILD_REVISION"),
			Branch:    os.Getenv("BUILD_BRANCH"),
			BuildDate: os.Getenv("BUILD_DATE"),
		},
	})
	observability.Init(p.Registerer())
	go func() {
		if err := p.Serve(ctx, appLog); err != nil {
			appLog.Error("metrics server exited", "err", err)
		}
	}()

	appLog.Info("starting tilestream",
		"addr", cfg.Addr,
		"version", Version,
		"transport", cfg.Transport.Driver,
		"table", cfg.Query.Table,
		"crs", cfg.Query.OutputCRS,
		"budget", cfg.Load.Budget)

	tr, closers, err := buildTransport(ctx, cfg, appLog)
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
	}()
	if err != nil {
		appLog.Error("transport setup failed", "err", err)
		return 1
	}

	hub := viewer.New(appLog)
	renderers := render.Multi{render.NewLogSink(appLog), hub}

	if cfg.Events.Topic != "" {
		pub, err := buildPublisher(cfg, appLog)
		if err != nil {
			appLog.Error("load events setup failed", "err", err)
			return 1
		}
		closers = append(closers, pub)
		renderers = append(renderers, pub)
	}

	initial, err := viewpoint.Parse(cfg.Query.InitialPoint)
	if err != nil {
		appLog.Error("invalid VIEWPOINT", "err", err)
		return 2
	}

	boundary, err := transport.ParsePolygon(cfg.Query.Boundary)
	if err != nil {
		appLog.Error("invalid QUERY_BOUNDARY", "err", err)
		return 2
	}

	sess, err := session.Open(ctx, session.Config{
		Query: transport.Query{
			Table:     cfg.Query.Table,
			OutputCRS: cfg.Query.OutputCRS,
			Filters: transport.Filters{
				Classes:     cfg.Query.Classes,
				SourceFiles: cfg.Query.SourceFiles,
				MaxDensity:  cfg.Query.MaxDensity,
			},
			MaxPoints: cfg.Query.MaxPoints,
			Boundary:  boundary,
		},
		RefineThreshold:  cfg.Load.RefineThreshold,
		Budget:           cfg.Load.Budget,
		Concurrency:      cfg.Load.Concurrency,
		TileFetchTimeout: cfg.Load.TileFetchTimeout,
		AutoEvaluate:     cfg.Load.AutoEvaluate,
		InitialViewpoint: initial,
	}, session.Deps{Logger: appLog, Transport: tr, Renderer: renderers})
	if err != nil {
		appLog.Error("session open failed", "err", err)
		return 1
	}
	closers = append(closers, sess)
	hub.Bind(sess)

	deps := server.Deps{Session: sess, Viewer: hub.Handler()}
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		deps.Metrics = p.Handler()
	}
	if err := server.Run(ctx, cfg.Addr, appLog, deps); err != nil {
		appLog.Error("server exited", "err", err)
		return 1
	}
	appLog.Info("shutdown complete")
	return 0
}

// buildTransport returns the transport and everything that must be closed
// on exit, in construction order.
func buildTransport(ctx context.Context, cfg config.Config, l *slog.Logger) (transport.Transport, []io.Closer, error) {
	var closers []io.Closer

	base, err := transport.New(cfg.Transport.Driver, transport.Options{
		Logger: l,
		HTTPClient: httpclient.NewOutbound(httpclient.Options{
			MaxConnsPerHost: cfg.Load.Concurrency,
		}),
		BaseURL:  cfg.Transport.BaseURL,
		APIKey:   cfg.Transport.APIKey,
		Dir:      cfg.Transport.Dir,
		MaxNodes: cfg.Transport.MaxNodes,
	})
	if err != nil {
		return nil, closers, err
	}
	if cfg.Cache.Size <= 0 && cfg.Cache.RedisAddr == "" {
		if c, ok := base.(io.Closer); ok {
			closers = append(closers, c)
		}
		return base, closers, nil
	}

	var remote contentcache.Remote
	if cfg.Cache.RedisAddr != "" {
		rc, err := redisstore.New(ctx, cfg.Cache.RedisAddr)
		if err != nil {
			// the shared tier is optional
			l.Warn("redis unavailable, content cache stays local", "addr", cfg.Cache.RedisAddr, "err", err)
		} else {
			closers = append(closers, rc)
			remote = rc
		}
	}

	cc, err := contentcache.New(l, base, remote, contentcache.Config{
		Size:      cfg.Cache.Size,
		TTL:       cfg.Cache.TTL,
		OpTimeout: cfg.Cache.OpTimeout,
	})
	if err != nil {
		return nil, closers, err
	}
	// closes base too
	return cc, append(closers, cc), nil
}

func buildPublisher(cfg config.Config, l *slog.Logger) (*loadevents.Publisher, error) {
	var brokers []string
	for _, b := range strings.Split(cfg.Events.Brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	if len(brokers) == 0 {
		return nil, errors.New("KAFKA_BROKERS is empty")
	}
	m, err := h3mapper.New(cfg.Events.H3Res)
	if err != nil {
		return nil, err
	}
	return loadevents.NewPublisher(l, brokers, loadevents.Options{
		Topic:  cfg.Events.Topic,
		Table:  cfg.Query.Table,
		CRS:    cfg.Query.OutputCRS,
		Mapper: m,
	})
}
