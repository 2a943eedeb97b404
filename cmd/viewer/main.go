package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/AaronLay10/SentientViewer/internal/api"
	"github.com/AaronLay10/SentientViewer/internal/catalog"
	"github.com/AaronLay10/SentientViewer/internal/config"
	"github.com/AaronLay10/SentientViewer/internal/control"
	"github.com/AaronLay10/SentientViewer/internal/events"
	"github.com/AaronLay10/SentientViewer/internal/frame"
	"github.com/AaronLay10/SentientViewer/internal/mqtt"
	"github.com/AaronLay10/SentientViewer/internal/orchestrator"
	"github.com/AaronLay10/SentientViewer/internal/scene"
	"github.com/AaronLay10/SentientViewer/internal/storage/postgres"
	"github.com/AaronLay10/SentientViewer/internal/timers"
	"github.com/AaronLay10/SentientViewer/internal/version"
	"github.com/AaronLay10/SentientViewer/internal/warp"
)

const shutdownTimeout = 5 * time.Second

func main() {
	var (
		configPath = flag.String("config", "viewer.yaml", "path to viewer.yaml")
		noPostgres = flag.Bool("no-postgres", false, "run without event persistence")
		retention  = flag.Duration("retention", 30*24*time.Hour, "drop stored events older than this at startup (0 keeps all)")
		debug      = flag.Bool("debug", false, "enable debug logging")
	)
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg, err := config.LoadViewerConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *configPath).Msg("failed to load config")
	}
	if err := cfg.ApplyEnv(); err != nil {
		log.Fatal().Err(err).Msg("invalid environment override")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, !*noPostgres, *retention); err != nil {
		log.Fatal().Err(err).Msg("viewer failed")
	}
}

func run(ctx context.Context, cfg *config.ViewerConfig, usePostgres bool, retention time.Duration) error {
	logger := log.Logger.With().Str("viewer", cfg.Viewer.ID).Logger()

	api.InitMetrics()
	api.SetViewerName(viewerName(cfg))
	api.InitAlerts()
	if err := api.InitAuth(); err != nil {
		return err
	}

	cat, err := catalog.Load(cfg.CatalogPath())
	if err != nil {
		return err
	}
	logger.Info().Int("scenes", cat.Len()).Str("path", cfg.CatalogPath()).Msg("catalog loaded")

	var store *postgres.Client
	if usePostgres {
		store = openStore(ctx, cfg.Viewer.ID, logger)
	}
	api.SetPostgresState(store != nil, !usePostgres || store == nil)
	if store != nil {
		defer store.Close()
		if retention > 0 {
			if n, err := store.Prune(ctx, time.Now().Add(-retention)); err != nil {
				logger.Warn().Err(err).Msg("event prune failed")
			} else if n > 0 {
				logger.Info().Int64("rows", n).Msg("pruned old events")
			}
		}
		events.SetStore(store)
		defer events.SetStore(nil)
	}

	hostname, _ := os.Hostname()
	events.Emit("info", "system.startup", "viewer starting", map[string]interface{}{
		"service":  "viewer",
		"version":  version.Version,
		"hostname": hostname,
		"pid":      os.Getpid(),
	})

	tc := cfg.Transition
	reg := timers.NewRegistry(nil)
	loop := frame.NewLoop(reg, cfg.FPS(), logger)
	st := newStage(logger)

	orch := orchestrator.New(orchestrator.Options{
		Warp:   warp.New(reg.Clock(), tc.Enter(), tc.Exit()),
		Frames: loop,
		Apply:  st.apply,
		Timers: reg,
		Timings: orchestrator.Timings{
			PeakSettle:      tc.PeakSettle(),
			Cooldown:        tc.Cooldown(),
			BypassPreApply:  tc.BypassPreApply(),
			BypassPostApply: tc.BypassPostApply(),
			Watchdog:        tc.Watchdog(),
			WatchdogForce:   tc.WatchdogForce,
		},
		Hooks: orchestrator.Hooks{
			OnSceneChangeStart: func(isInitial bool) {
				logger.Debug().Bool("initial", isInitial).Msg("scene change started")
			},
			OnSceneChangeEnd: func() {
				logger.Debug().Msg("scene change finished")
			},
			OnReady: func() {
				api.SetOrchestratorReady(true)
			},
			OnStalled: func(s scene.Scene, state orchestrator.State) {
				api.AlertStalled(s.ID, string(state), tc.WatchdogForce)
			},
		},
		Logger: logger,
	})

	ctrl := control.New(loop, orch, cat, logger)

	// The loop is not running yet, so the orchestrator can be driven from
	// here until it starts.
	if !restore(store, orch, ctrl, logger) && cfg.Scenes.Initial != "" {
		if s, ok := cat.Lookup(cfg.Scenes.Initial); ok {
			orch.Enqueue(s, scene.Options{BypassAnimation: true})
		} else {
			logger.Warn().Str("scene_id", cfg.Scenes.Initial).Msg("initial scene not in catalog")
		}
	}

	server := api.NewServer(ctrl, cfg.UIPort(), logger)
	server.SetRenderSource(st.snapshot)
	if cfg.TLSEnabled() {
		if err := server.EnableTLS(api.TLSOptions{
			CertFile:   cfg.Network.TLS.Cert,
			KeyFile:    cfg.Network.TLS.Key,
			MinVersion: cfg.TLSMinVersion(),
		}); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := loop.Run(gctx)
		// Run has returned, so this goroutine still owns the orchestrator.
		orch.Teardown()
		return err
	})

	g.Go(server.ListenAndServe)
	g.Go(func() error {
		<-gctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(sctx)
	})

	g.Go(func() error {
		return api.RunAlertMonitor(gctx, 5*time.Second)
	})
	if store != nil {
		g.Go(func() error { return monitorStore(gctx, store, 10*time.Second) })
	}

	if cfg.Scenes.Watch {
		w, err := catalog.NewWatcher(cat, cfg.CatalogPath(), logger)
		if err != nil {
			logger.Warn().Err(err).Msg("catalog watch disabled")
		} else {
			g.Go(func() error { return w.Run(gctx) })
		}
	}

	if cfg.MQTTEnabled() {
		client := startMQTT(cfg, ctrl, logger)
		defer client.Disconnect()
		pub := mqtt.NewEventPublisher(client, cfg.Viewer.ID, logger)
		g.Go(func() error { return pub.Run(gctx) })
	} else {
		api.SetMQTTState(false, true)
	}

	err = g.Wait()

	events.Emit("info", "system.shutdown", "viewer stopping", nil)
	events.CloseAllSubscribers()
	return err
}

func viewerName(cfg *config.ViewerConfig) string {
	if cfg.Viewer.Name != "" {
		return cfg.Viewer.Name
	}
	return cfg.Viewer.ID
}

func openStore(ctx context.Context, viewerID string, logger zerolog.Logger) *postgres.Client {
	settings := postgres.SettingsFromEnv()
	if pw, err := config.ResolveSecret("PGPASSWORD"); err != nil {
		logger.Warn().Err(err).Msg("postgres password unavailable")
	} else if pw != "" {
		settings.Password = pw
	}

	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	store, err := postgres.New(pctx, settings, viewerID)
	if err != nil {
		logger.Warn().Err(err).Str("host", settings.Host).Msg("postgres unavailable; events will not persist")
		return nil
	}
	logger.Info().Str("host", settings.Host).Str("db", settings.Database).Msg("postgres connected")
	return store
}

func restore(store *postgres.Client, orch *orchestrator.Orchestrator, ctrl *control.Controller, logger zerolog.Logger) bool {
	if store == nil {
		return false
	}
	state, n, err := orchestrator.RestoreFromEvents(restoreSource{store}, orchestrator.DefaultRestoreLimit)
	if err != nil {
		logger.Warn().Err(err).Msg("restore failed")
		return false
	}
	if state == nil {
		return false
	}
	orchestrator.EmitStartupRestore(n, state.SceneID)
	return orch.Restore(state, ctrl.Lookup)
}

// restoreSource limits the replay window to the events restore reads.
type restoreSource struct {
	store *postgres.Client
}

func (r restoreSource) Query(limit int) ([]postgres.EventRow, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return r.store.QueryEvents(ctx, []string{"scene.applied", "transition.completed", "operator.reset"}, limit)
}

// monitorStore keeps the postgres readiness check current.
func monitorStore(ctx context.Context, store *postgres.Client, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, interval)
			err := store.Ping(pctx)
			cancel()
			api.SetPostgresState(err == nil, false)
		}
	}
}

func startMQTT(cfg *config.ViewerConfig, ctrl *control.Controller, logger zerolog.Logger) *mqtt.Client {
	client := mqtt.NewClient(cfg.MQTTURL(), cfg.MQTTClientID(), logger)
	requests := mqtt.NewRequestSubscriber(client, ctrl, cfg.Viewer.ID, logger)

	client.OnReconnect = func() {
		requests.ClearSubscriptions()
		if err := requests.Subscribe(); err != nil {
			logger.Error().Err(err).Str("topic", requests.Topic()).Msg("subscribe failed")
		}
		api.SetMQTTState(true, false)
	}
	client.OnConnectionLost = func(error) {
		api.SetMQTTState(false, false)
	}

	api.SetMQTTState(false, false)
	client.Start()
	return client
}
