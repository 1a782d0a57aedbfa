// meshmon is the mesh monitoring and failover daemon: it probes every
// enabled provider node, scores mesh health, moves the primary role when
// the active node degrades, and serves the operator API.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/advisor"
	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/aggregator"
	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/api"
	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/config"
	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/database"
	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/eventlog"
	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/events"
	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/failover"
	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/history"
	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/logger"
	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/metrics"
	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/notify"
	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/probe"
	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/provision"
	"github.com/BitFlexFinTech/profit-accelerator-sub002/internal/registry"
)

func main() {
	_ = godotenv.Load()

	configPath := config.GetEnvOrDefault("MESHMON_CONFIG", "configs/meshmon.yaml")

	// Bootstrap logger until the real one is configured.
	boot, _ := zap.NewProduction()
	cfg, err := config.Load(configPath, boot)
	if err != nil {
		boot.Fatal("load config", zap.Error(err))
	}

	log, err := logger.New(cfg.Logging.Environment, cfg.Logging.Level)
	if err != nil {
		boot.Fatal("build logger", zap.Error(err))
	}
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Stores.
	var (
		nodeStore   registry.Store
		eventStore  eventlog.Store
		sampleStore history.Store
	)
	switch cfg.Storage.Mode {
	case "postgres":
		db, err := database.NewPostgres(database.Config{
			Host:            cfg.Database.Host,
			Port:            cfg.Database.Port,
			Database:        cfg.Database.Database,
			User:            cfg.Database.User,
			Password:        cfg.Database.Password,
			SSLMode:         cfg.Database.SSLMode,
			MaxOpenConns:    cfg.Database.MaxOpenConns,
			MaxIdleConns:    cfg.Database.MaxIdleConns,
			ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		})
		if err != nil {
			log.Fatal("open database", zap.Error(err))
		}
		defer func() { _ = db.Close() }()
		if err := db.Ping(ctx); err != nil {
			log.Fatal("ping database", zap.Error(err))
		}
		if err := db.CreateTables(ctx); err != nil {
			log.Fatal("create tables", zap.Error(err))
		}
		nodeStore = registry.NewPostgresStore(db.DB(), log)
		eventStore = eventlog.NewPostgresStore(db.DB())
		sampleStore = history.NewPostgresStore(db.DB())
		log.Info("using postgres storage", zap.String("host", cfg.Database.Host))
	default:
		nodeStore = registry.NewMemoryStore()
		eventStore = eventlog.NewMemoryStore()
		sampleStore = history.NewMemoryStore()
		log.Info("using in-memory storage; state is lost on restart")
	}

	m := metrics.New()

	bus := events.NewSimpleBus()
	eventLog := events.NewEventLogger(log)
	defer eventLog.Close()
	if err := bus.Subscribe("*", eventLog.Handle); err != nil {
		log.Fatal("subscribe event logger", zap.Error(err))
	}

	// Notification sink, fire-and-forget behind the bus.
	if cfg.Notify.WebhookURL != "" {
		notifier := notify.NewWebhookNotifier(notify.Config{
			URL:             cfg.Notify.WebhookURL,
			Secret:          cfg.Notify.Secret,
			Timeout:         cfg.Notify.Timeout,
			EventsPerMinute: cfg.Notify.EventsPerMinute,
			Burst:           cfg.Notify.Burst,
		}, log)
		notifier.RegisterMetrics(m)
		if err := notify.Attach(bus, notifier); err != nil {
			log.Fatal("attach notifier", zap.Error(err))
		}
		log.Info("notification webhook configured")
	}

	policy := registry.HealthPolicy{
		FailureThreshold: cfg.Monitor.FailureThreshold,
		LatencyWarningMs: cfg.Monitor.LatencyWarningMs,
	}

	prober := probe.NewHTTPProber(cfg.Probe.Timeout, log)
	agg := aggregator.New(nodeStore, prober, aggregator.Config{
		Interval:      cfg.Monitor.Interval,
		Policy:        policy,
		HealthyWeight: cfg.Monitor.HealthyWeight,
		LatencyWeight: cfg.Monitor.LatencyWeight,
	}, log)
	agg.RegisterHistory(sampleStore)
	agg.RegisterBus(bus)
	agg.RegisterMetrics(m)

	engine := failover.New(nodeStore, eventStore, failover.Config{
		LatencyWindow: cfg.Failover.LatencyWindow,
		GracePeriod:   cfg.Failover.GracePeriod,
		Policy:        policy,
	}, log)
	engine.RegisterBus(bus)
	engine.RegisterMetrics(m)
	if cfg.Provision.Enabled {
		engine.RegisterProvisioner(provision.NewWebhook(
			cfg.Provision.WebhookURL, cfg.Provision.Secret, cfg.Provision.Timeout, log))
		log.Info("auto-provisioning hook configured")
	}

	if cfg.Failover.Enabled {
		agg.RegisterSink(engine)
	} else {
		log.Warn("automatic failover disabled; only manual failover is active")
	}

	var adv *advisor.Advisor
	if table, err := advisor.LoadCostTable(cfg.Advisor.CostTablePath); err != nil {
		log.Warn("cost table unavailable, advisor disabled",
			zap.String("path", cfg.Advisor.CostTablePath), zap.Error(err))
	} else {
		adv = advisor.New(table, cfg.Advisor.MarginMs, policy, log)
		log.Info("cost advisor loaded", zap.Int("providers", table.Len()))
	}

	// Sample retention.
	comp, err := history.NewCompressor(3)
	if err != nil {
		log.Fatal("build compressor", zap.Error(err))
	}
	archiver := history.NewArchiver(sampleStore, comp,
		cfg.History.Retention, cfg.History.SweepInterval, log)
	go archiver.Start(ctx)

	// Hot-reload of tunable policy. Structural settings (ports, storage)
	// still need a restart.
	watcher := config.NewWatcher(configPath, log, func(next *config.Config) {
		updated := registry.HealthPolicy{
			FailureThreshold: next.Monitor.FailureThreshold,
			LatencyWarningMs: next.Monitor.LatencyWarningMs,
		}
		agg.UpdatePolicy(updated, next.Monitor.HealthyWeight, next.Monitor.LatencyWeight)
		engine.UpdateTuning(next.Failover.LatencyWindow, next.Failover.GracePeriod, updated)
		if adv != nil {
			adv.UpdateMargin(next.Advisor.MarginMs)
		}
		log.Info("tunable policy reloaded")
	})
	if err := watcher.Start(ctx); err != nil {
		log.Warn("config watcher unavailable", zap.Error(err))
	}

	go agg.Start(ctx)

	manualProber := probe.NewHTTPProber(cfg.Probe.ManualTimeout, log)
	server, err := api.NewServer(cfg, api.Deps{
		Store:      nodeStore,
		Events:     eventStore,
		Samples:    sampleStore,
		Aggregator: agg,
		Engine:     engine,
		Prober:     manualProber,
		Advisor:    adv,
		Metrics:    m,
	}, log)
	if err != nil {
		log.Fatal("build server", zap.Error(err))
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info("shutting down")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(
			context.Background(), cfg.Server.ShutdownTimeout)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("shutdown error", zap.Error(err))
		}
	}()

	if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("server failed", zap.Error(err))
	}
}
