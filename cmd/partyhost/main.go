// Command partyhost runs the chat-room host bot: it watches one chat
// through a UI automation backend, answers commands, reacts to UI
// triggers and keeps the screen in a usable state.
//
//	partyhost -config partyhost.yaml
//
// The process exits with status 2 when the error budget is exhausted, so
// a supervisor can restart it from a clean state.
package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/partyhost/command"
	"github.com/hazyhaar/partyhost/command/builtin"
	"github.com/hazyhaar/partyhost/config"
	"github.com/hazyhaar/partyhost/dbopen"
	"github.com/hazyhaar/partyhost/device"
	"github.com/hazyhaar/partyhost/device/fakedevice"
	"github.com/hazyhaar/partyhost/device/rodbackend"
	"github.com/hazyhaar/partyhost/host"
	"github.com/hazyhaar/partyhost/observability"
	"github.com/hazyhaar/partyhost/recovery"
	"github.com/hazyhaar/partyhost/session"
	"github.com/hazyhaar/partyhost/stream"
	"github.com/hazyhaar/partyhost/trigger"
	"github.com/hazyhaar/partyhost/uitree"
)

func main() {
	configPath := flag.String("config", env("PARTYHOST_CONFIG", "partyhost.yaml"), "path to the YAML configuration")
	logLevel := flag.String("log-level", env("LOG_LEVEL", "info"), "debug, info, warn or error")
	flag.Parse()

	var lvl slog.Level
	switch *logLevel {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	err := run(ctx, *configPath, logger)
	switch {
	case err == nil:
	case errors.Is(err, host.ErrRestartRequired):
		logger.Error("partyhost: restart required", "error", err)
		os.Exit(2)
	default:
		logger.Error("partyhost: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string, logger *slog.Logger) error {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return err
	}

	db, err := dbopen.Open(cfg.DB.Path,
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(observability.Schema),
		dbopen.WithSchema(stream.Schema))
	if err != nil {
		return fmt.Errorf("open db: %w", err)
	}
	defer db.Close()

	retention := observability.RetentionConfig{
		EventDays:     cfg.DB.EventDays,
		HeartbeatDays: cfg.DB.HeartbeatDays,
		MetricDays:    cfg.DB.MetricDays,
	}
	if err := observability.Cleanup(ctx, db, retention); err != nil {
		logger.Warn("partyhost: retention cleanup failed", "error", err)
	}
	events := observability.NewEventLogger(db, observability.WithEventSlog(logger))
	metrics := observability.NewMetricsManager(db, 100, 5*time.Second)
	defer metrics.Close()

	backend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backend.Close()

	h, err := build(ctx, cfg, db, backend, events, metrics, logger)
	if err != nil {
		return err
	}

	hb := observability.NewHeartbeatWriter(db, "partyhost", cfg.Host.HeartbeatInterval, h.Cycle)
	hb.Start(ctx)
	defer hb.Stop()

	if cfg.Admin.Addr != "" {
		srv := &http.Server{
			Addr:              cfg.Admin.Addr,
			Handler:           host.NewAdminHandler(h, cfg.Admin.MCP, logger),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logger.Info("partyhost: admin listening", "addr", cfg.Admin.Addr, "mcp", cfg.Admin.MCP)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("partyhost: admin server", "error", err)
			}
		}()
		defer func() {
			shutCtx, shutCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutCancel()
			srv.Shutdown(shutCtx)
		}()
	}

	return h.Run(ctx)
}

func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (device.Backend, error) {
	switch cfg.Device.Driver {
	case "fake":
		opts := []fakedevice.Option{
			fakedevice.WithViewport(cfg.Device.Fake.Viewport),
			fakedevice.WithHistory(cfg.Device.Fake.History...),
		}
		if cfg.Device.Fake.Echo {
			opts = append(opts, fakedevice.WithEcho(cfg.Commands.SelfName))
		}
		logger.Warn("partyhost: running on the fake device")
		return fakedevice.New(opts...), nil
	default:
		rc := cfg.Device.Rod
		b, err := rodbackend.New(ctx, rodbackend.Config{
			URL:              rc.URL,
			RemoteURL:        rc.Remote,
			Mode:             rodbackend.Mode(rc.Mode),
			XvfbDisplay:      rc.XvfbDisplay,
			ResourceBlocking: rc.ResourceBlocking,
			Selectors: rodbackend.Selectors{
				Messages: rc.Messages,
				List:     rc.List,
				Input:    rc.Input,
				Send:     rc.Send,
			},
			ScrollStep: rc.ScrollStep,
			NavTimeout: rc.NavTimeout,
			Logger:     logger,
		})
		if err != nil {
			return nil, fmt.Errorf("start browser: %w", err)
		}
		return b, nil
	}
}

func build(ctx context.Context, cfg *config.Config, db *sql.DB, backend device.Backend,
	events *observability.EventLogger, metrics *observability.MetricsManager, logger *slog.Logger) (*host.Host, error) {
	gate := session.NewGate()
	queue := command.NewQueue(cfg.Commands.QueueLimit)

	var reg *command.Registry
	specs := builtin.Specs(builtin.Config{
		Usages:          func() []command.Usage { return reg.Usages() },
		Locator:         backend,
		Volume:          cfg.Commands.Volume,
		Queue:           queue,
		WelcomeCooldown: cfg.Commands.WelcomeCooldown,
	})
	reg, err := command.NewRegistry(logger, specs...)
	if err != nil {
		return nil, err
	}

	poster := command.NewRateLimitedPoster(backend, cfg.Commands.PostRate, cfg.Commands.PostBurst, cfg.Commands.MaxMessageLen)
	disp, err := command.NewDispatcher(command.Config{
		Registry:       reg,
		Gate:           gate,
		Poster:         poster,
		Syntax:         cfg.Commands.Syntax,
		ErrorTemplate:  cfg.Commands.ErrorTemplate,
		GenericError:   cfg.Commands.GenericError,
		AcquireTimeout: cfg.Commands.AcquireTimeout,
		HandlerTimeout: cfg.Commands.HandlerTimeout,
		Events:         events,
		Logger:         logger,
	})
	if err != nil {
		return nil, err
	}

	rec, err := recovery.New(recovery.Config{
		Rules:    cfg.Recovery.Rules,
		Backend:  backend,
		Gate:     gate,
		Cooldown: cfg.Recovery.Cooldown,
		Events:   events,
		Logger:   logger,
	})
	if err != nil {
		return nil, err
	}

	triggers := trigger.NewRegistry(backend, gate, logger)
	if len(cfg.Triggers) > 0 {
		keys := make([]uitree.Key, 0, len(cfg.Triggers))
		for _, t := range cfg.Triggers {
			keys = append(keys, t.Key)
		}
		if err := triggers.Register(trigger.AutoClick(logger), keys...); err != nil {
			return nil, err
		}
	}

	checkpoints := stream.NewStore(db)
	streamOpts := []stream.Option{
		stream.WithCapacity(cfg.Stream.Capacity),
		stream.WithMaxScroll(cfg.Stream.MaxScroll),
		stream.WithStableLimit(cfg.Stream.StableLimit),
		stream.WithBacklog(cfg.Stream.DeliverBacklog()),
		stream.WithLogger(logger),
	}
	cp, err := checkpoints.Load(ctx, cfg.Stream.Checkpoint)
	if err != nil {
		logger.Warn("partyhost: checkpoint unreadable, cold start", "error", err)
	} else if cp != nil {
		logger.Info("partyhost: resuming from checkpoint", "items", len(cp.Items), "updated_at", cp.UpdatedAt)
		streamOpts = append(streamOpts, stream.WithWindow(cp.Items))
	}

	deps := host.Deps{
		Backend:     backend,
		Reconciler:  stream.New(backend, streamOpts...),
		Dispatcher:  disp,
		Commands:    reg,
		Queue:       queue,
		Recovery:    rec,
		Triggers:    triggers,
		Gate:        gate,
		Checkpoints: checkpoints,
		Metrics:     metrics,
		Events:      events,
	}
	if len(cfg.Schedules) > 0 {
		if deps.Scheduler, err = command.NewScheduler(cfg.Commands.Syntax, time.Now(), cfg.Schedules...); err != nil {
			return nil, err
		}
	}
	if len(cfg.Keywords) > 0 {
		if deps.Keywords, err = command.NewKeywordMatcher(cfg.Commands.Syntax, cfg.Keywords...); err != nil {
			return nil, err
		}
	}
	if cfg.Commands.JoinPattern != "" {
		if deps.Joins, err = command.NewJoinDetector(cfg.Commands.JoinPattern); err != nil {
			return nil, err
		}
	}

	return host.New(deps, host.Config{
		Name:            cfg.Stream.Checkpoint,
		Self:            cfg.Commands.SelfName,
		CycleInterval:   cfg.Host.CycleInterval,
		CycleTimeout:    cfg.Host.CycleTimeout,
		ErrorThreshold:  cfg.Host.ErrorThreshold,
		ResetBackoff:    cfg.Host.ResetBackoff,
		ResetBackoffMax: cfg.Host.ResetBackoffMax,
		Logger:          logger,
	})
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
