package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	core "github.com/signalsfoundry/flowcanvas/core"
	"github.com/signalsfoundry/flowcanvas/internal/hub"
	"github.com/signalsfoundry/flowcanvas/internal/logging"
	"github.com/signalsfoundry/flowcanvas/internal/observability"
	"github.com/signalsfoundry/flowcanvas/internal/store"
	"github.com/signalsfoundry/flowcanvas/kb"
)

type config struct {
	Addr        string  `toml:"addr"`
	MetricsAddr string  `toml:"metrics_addr"`
	FixtureDir  string  `toml:"fixture_dir"`
	AuthKey     string  `toml:"auth_key"`
	Store       string  `toml:"store"` // memory | sqlite | postgres
	SQLitePath  string  `toml:"sqlite_path"`
	PostgresDSN string  `toml:"postgres_dsn"`
	HandleMin   float64 `toml:"handle_min_length"`
}

func defaultConfig() config {
	return config{
		Addr:        ":8080",
		MetricsAddr: ":9090",
		Store:       "memory",
		SQLitePath:  "canvasd.db",
	}
}

func loadConfig(path string) (config, error) {
	cfg := defaultConfig()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, err
		}
	}
	if v := os.Getenv("CANVASD_ADDR"); v != "" {
		cfg.Addr = v
	}
	if v := os.Getenv("CANVASD_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	if v := os.Getenv("CANVASD_AUTH_KEY"); v != "" {
		cfg.AuthKey = v
	}
	if v := os.Getenv("CANVASD_STORE"); v != "" {
		cfg.Store = v
	}
	if v := os.Getenv("CANVASD_POSTGRES_DSN"); v != "" {
		cfg.PostgresDSN = v
	}
	return cfg, nil
}

func main() {
	configPath := flag.String("config", "", "Path to a TOML configuration file")
	addr := flag.String("addr", "", "TCP address the hub listens on (overrides config)")
	flag.Parse()

	log := logging.NewFromEnv()
	ctx := context.Background()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Error(ctx, "failed to load configuration", logging.String("path", *configPath), logging.String("error", err.Error()))
		os.Exit(1)
	}
	if *addr != "" {
		cfg.Addr = *addr
	}

	shutdownTracing, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		log.Error(ctx, "failed to initialise tracing", logging.String("error", err.Error()))
		os.Exit(1)
	}

	collector, err := observability.NewCanvasCollector(nil)
	if err != nil {
		log.Error(ctx, "failed to initialise metrics collector", logging.String("error", err.Error()))
		os.Exit(1)
	}
	metricsSrv := serveMetrics(cfg.MetricsAddr, collector, log)

	revisions, err := openStore(ctx, cfg)
	if err != nil {
		log.Error(ctx, "failed to open revision store", logging.String("store", cfg.Store), logging.String("error", err.Error()))
		os.Exit(1)
	}
	defer revisions.Close()

	flows := kb.NewFlowBase()
	loadFixtures(ctx, log, flows, cfg.FixtureDir)

	// Every registry update persists as a content-addressed revision.
	unsubStore := flows.Subscribe(func(ev kb.Event) {
		if ev.Type != kb.EventDocumentUpdated {
			return
		}
		saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := revisions.Save(saveCtx, ev.Name, ev.Revision, ev.Snapshot); err != nil {
			log.Warn(saveCtx, "failed to persist revision",
				logging.String("document", ev.Name),
				logging.String("error", err.Error()))
		}
	})
	defer unsubStore()

	profile := core.DefaultProfile()
	if cfg.HandleMin > 0 {
		profile.HandleMinLength = cfg.HandleMin
	}
	if err := profile.Validate(); err != nil {
		log.Error(ctx, "invalid routing profile", logging.String("error", err.Error()))
		os.Exit(1)
	}

	sessions := hub.NewSessionManager(flows, log,
		hub.WithSessionProfile(profile),
		hub.WithSessionMetrics(collector),
	)
	defer sessions.Close()

	auth := hub.NewTokenService([]byte(cfg.AuthKey), "canvasd", time.Hour)
	server := hub.NewServer(sessions, flows, log, auth)

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: collector.Middleware("hub", server.Handler()),
	}

	log.Info(ctx, "starting canvas hub", logging.String("addr", cfg.Addr))
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(ctx, "hub server exited", logging.String("error", err.Error()))
		}
	}()

	stopCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	<-stopCtx.Done()

	log.Info(ctx, "shutting down canvas hub")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)
}

func openStore(ctx context.Context, cfg config) (store.RevisionStore, error) {
	switch cfg.Store {
	case "", "memory":
		return store.NewMemoryStore(), nil
	case "sqlite":
		return store.OpenSQLite(cfg.SQLitePath)
	case "postgres":
		return store.OpenPostgres(ctx, cfg.PostgresDSN)
	default:
		return nil, os.ErrInvalid
	}
}

func serveMetrics(addr string, collector *observability.CanvasCollector, log logging.Logger) *http.Server {
	if collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.String("error", err.Error()))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

func loadFixtures(ctx context.Context, log logging.Logger, flows *kb.FlowBase, dir string) {
	if dir == "" {
		return
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		log.Warn(ctx, "skipping fixture load", logging.String("dir", dir), logging.String("error", err.Error()))
		return
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := filepath.Ext(entry.Name())
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		path := filepath.Join(dir, entry.Name())
		canvas := core.NewCanvas()
		fixture, err := core.LoadFlowFile(canvas, path)
		if err != nil {
			log.Warn(ctx, "skipping fixture", logging.String("path", path), logging.String("error", err.Error()))
			continue
		}

		name := fixture.Name
		if name == "" {
			name = entry.Name()[:len(entry.Name())-len(ext)]
		}
		if _, err := flows.Put(name, canvas.Snapshot()); err != nil {
			log.Warn(ctx, "skipping fixture", logging.String("path", path), logging.String("error", err.Error()))
			continue
		}
		loaded++
	}

	log.Info(ctx, "loaded flow fixtures",
		logging.String("dir", dir),
		logging.Int("count", loaded),
	)
}
