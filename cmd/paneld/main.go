// Copyright 2026 The Panel Engine Authors

// Command paneld runs the panel display engine: it loads configuration,
// discovers plugins, wires the Run Loop, and serves /metrics, /healthz,
// /readyz, and /statez until terminated.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ledwall/panelengine/internal/config"
	"github.com/ledwall/panelengine/internal/executor"
	"github.com/ledwall/panelengine/internal/health"
	"github.com/ledwall/panelengine/internal/obs"
	"github.com/ledwall/panelengine/internal/ondemand"
	"github.com/ledwall/panelengine/internal/plugin"
	"github.com/ledwall/panelengine/internal/reqchan"
	"github.com/ledwall/panelengine/internal/runloop"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.String("config", "./config/paneld.yaml", "path to the engine config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	bootCfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, err := obs.NewLogger(bootCfg.Observability.LogLevel)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer log.Sync()

	var engineRef atomic.Pointer[runloop.Engine]
	cfg, err := config.WatchConfig(configPath, func(next *config.Config) {
		if e := engineRef.Load(); e != nil {
			select {
			case e.ConfigChanges() <- next:
			default:
				log.Warn("config change channel full, dropping reload")
			}
		}
	}, log)
	if err != nil {
		return fmt.Errorf("watch config: %w", err)
	}

	registry := plugin.NewRegistry(log)
	RegisterPlugins(registry)

	manifests, err := plugin.DiscoverManifests(cfg.Plugins.Dir, log)
	if err != nil {
		return fmt.Errorf("discover plugin manifests: %w", err)
	}
	if err := registry.Load(manifests); err != nil {
		return fmt.Errorf("load plugins: %w", err)
	}
	log.Info("loaded plugins", zap.Int("count", len(registry.All())), zap.Strings("modes", registry.AvailableModes()))

	tracker := health.NewTracker(cfg.CircuitBreaker, log)
	exec := executor.New(tracker, cfg.Executor, log)

	var rc reqchan.RequestChannel
	if cfg.RequestChannel.Addr == "" {
		log.Warn("no request channel address configured, using an in-process request channel")
		rc = reqchan.NewMemory()
	} else {
		rc = reqchan.NewRedis(cfg.RequestChannel)
	}

	var snapshot *reqchan.SnapshotStore
	if cfg.RequestChannel.SnapshotPath != "" {
		snapshot, err = reqchan.OpenSnapshotStore(cfg.RequestChannel.SnapshotPath)
		if err != nil {
			log.Warn("failed to open on-demand snapshot store, continuing without local persistence", zap.Error(err))
			snapshot = nil
		} else {
			defer snapshot.Close()
		}
	}

	mgr := ondemand.NewManager(registry)
	engine := runloop.New(cfg, log, registry, exec, tracker, rc, snapshot, mgr)
	RegisterTickerSink(engine)
	engineRef.Store(engine)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
		cancel()
	}()

	srv := obs.StartHTTPServer(cfg.Observability.MetricsPort, readinessCheck(registry), statezSnapshot(registry, tracker))
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("paneld starting", zap.Int("metrics_port", cfg.Observability.MetricsPort))
	if err := engine.Run(ctx); err != nil && ctx.Err() == nil {
		return fmt.Errorf("run loop exited: %w", err)
	}
	log.Info("paneld shutting down")
	return nil
}

// RegisterPlugins wires every compiled-in plugin's constructor into the
// registry before manifest discovery; manifests under plugins.dir select
// which of these get instantiated. Content plugins live outside this
// module — this is the seam a downstream build fills in with
// registry.RegisterFactory(id, constructor) calls for its own plugins.
func RegisterPlugins(registry *plugin.Registry) {}

// RegisterTickerSink wires the downstream frame writer the Ticker
// Compositor draws composed ribbon frames to, mirroring RegisterPlugins:
// this module owns no hardware driver, so a downstream build calling
// engine.SetTickerSink is what turns display.vegas_scroll.enabled into an
// actual render. Left empty, a ticker decision degrades to an idle wait.
func RegisterTickerSink(engine *runloop.Engine) {}

func readinessCheck(registry *plugin.Registry) func(context.Context) error {
	return func(ctx context.Context) error {
		if len(registry.All()) == 0 {
			return fmt.Errorf("no plugins loaded")
		}
		return nil
	}
}

func statezSnapshot(registry *plugin.Registry, tracker *health.Tracker) obs.StateSnapshot {
	return func() interface{} {
		type pluginStatus struct {
			ID      string `json:"id"`
			Enabled bool   `json:"enabled"`
			State   string `json:"circuit_state"`
		}
		statuses := make([]pluginStatus, 0, len(registry.All()))
		for _, d := range registry.All() {
			s, _ := tracker.Summary(d.ID)
			statuses = append(statuses, pluginStatus{ID: d.ID, Enabled: d.Enabled, State: s.State.String()})
		}
		return map[string]interface{}{
			"available_modes": registry.AvailableModes(),
			"plugins":         statuses,
		}
	}
}
