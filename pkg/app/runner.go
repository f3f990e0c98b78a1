// Package app bootstraps the bot and blocks until shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/allthingslinux/tux/pkg/audit"
	"github.com/allthingslinux/tux/pkg/cache"
	"github.com/allthingslinux/tux/pkg/config"
	"github.com/allthingslinux/tux/pkg/discord/commands"
	"github.com/allthingslinux/tux/pkg/discord/logging"
	"github.com/allthingslinux/tux/pkg/discord/session"
	"github.com/allthingslinux/tux/pkg/log"
	"github.com/allthingslinux/tux/pkg/moderation"
	"github.com/allthingslinux/tux/pkg/permission"
	"github.com/allthingslinux/tux/pkg/service"
	"github.com/allthingslinux/tux/pkg/storage"
	"github.com/allthingslinux/tux/pkg/task"
	"github.com/allthingslinux/tux/pkg/util"
)

const (
	shutdownTimeout     = 30 * time.Second
	startTimeout        = 60 * time.Second
	expirySweepInterval = time.Minute
	auditRetention      = 24 * time.Hour
	permissionCacheSize = 4096
)

// Run wires every component and blocks until an interrupt arrives. The
// context cancels startup and doubles as the shutdown trigger in tests.
func Run(ctx context.Context) error {
	started := time.Now()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	level := slog.LevelInfo
	if cfg.IsDev() {
		level = slog.LevelDebug
	}
	if err := log.Setup(log.Options{Dir: cfg.LogDir, Level: level, Console: true}); err != nil {
		return fmt.Errorf("app: logger: %w", err)
	}
	defer log.Close()
	logger := log.Component("app")
	logger.Info("starting tux", "env", cfg.Env, "version", Version)

	store, err := storage.Open(cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer store.Close()

	migrator, err := store.NewMigrator()
	if err != nil {
		return err
	}
	if err := migrator.Up(); err != nil {
		return fmt.Errorf("app: migrate: %w", err)
	}

	backend := cache.Open(ctx, cfg.ValkeyURL, permissionCacheSize)
	defer backend.Close()

	engine := permission.NewEngine(store, backend)
	monitor := audit.NewMonitor(0)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	if err := monitor.Register(reg); err != nil {
		return fmt.Errorf("app: metrics: %w", err)
	}

	s, err := session.New(cfg.BotToken)
	if err != nil {
		return err
	}

	adapter := moderation.NewDiscordAdapter(s)
	locks := moderation.NewLockManager(monitor)
	runner := moderation.NewRunner(moderation.DefaultPolicies(), monitor)
	coord := moderation.NewCoordinator(store, engine, adapter, locks, runner, monitor, nil)
	jail := moderation.NewJailService(coord, store, adapter, runner)
	sweeper := moderation.NewExpirySweeper(store, coord, adapter)

	router := commands.NewRouter(s, engine, cfg.OwnerID)
	mod := commands.NewModerationCommands(store, coord, jail, adapter, monitor)
	conf := commands.NewConfigCommands(store, engine)
	router.Register(mod.Build()...)
	router.Register(conf.Build()...)
	router.Attach()

	attachGuildHandlers(s, store, jail, logger)

	scheduler := task.NewScheduler()
	manager := service.NewManager()

	if err := registerServices(manager, cfg, s, router, scheduler, sweeper, monitor, reg, logger); err != nil {
		return err
	}

	startCtx, cancelStart := context.WithTimeout(ctx, startTimeout)
	err = manager.StartAll(startCtx)
	cancelStart()
	if err != nil {
		return err
	}

	logger.Info("tux ready", "took", time.Since(started).Round(time.Millisecond))
	util.WaitForInterrupt(ctx)

	stopCtx, cancelStop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelStop()
	return manager.StopAll(stopCtx)
}

// attachGuildHandlers subscribes the gateway events the moderation core
// reacts to outside of slash commands.
func attachGuildHandlers(s *discordgo.Session, store *storage.Store, jail *moderation.JailService, logger *slog.Logger) {
	s.AddHandler(func(_ *discordgo.Session, g *discordgo.GuildCreate) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := store.EnsureGuild(ctx, g.ID); err != nil {
			logger.Error("guild row creation failed", "guild_id", g.ID, "error", err)
			return
		}
		if cfg, err := store.GetGuildConfig(ctx, g.ID); err == nil {
			logging.AuditGuildConfig(s, cfg)
		}
	})

	s.AddHandler(func(_ *discordgo.Session, m *discordgo.GuildMemberAdd) {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := jail.HandleMemberJoin(ctx, m.GuildID, m.User.ID); err != nil {
			logger.Error("rejoin handling failed",
				"guild_id", m.GuildID, "user_id", m.User.ID, "error", err)
		}
	})
}

func registerServices(
	manager *service.Manager,
	cfg *config.Config,
	s *discordgo.Session,
	router *commands.Router,
	scheduler *task.Scheduler,
	sweeper *moderation.ExpirySweeper,
	monitor *audit.Monitor,
	reg *prometheus.Registry,
	logger *slog.Logger,
) error {
	// Registration order is start order; shutdown runs in reverse, so the
	// background jobs stop before the gateway closes and the metrics
	// listener goes away last.
	services := make([]service.Service, 0, 3)
	if cfg.MetricsAddr != "" {
		services = append(services, metricsService(cfg.MetricsAddr, reg, logger))
	}

	services = append(services, service.Func{
		ServiceName: "gateway",
		OnStart: func(context.Context) error {
			if err := session.Connect(s); err != nil {
				return err
			}
			// Empty guild id registers the commands globally.
			return router.Sync("")
		},
		OnStop: func(context.Context) error { return s.Close() },
	})

	services = append(services, service.Func{
		ServiceName: "scheduler",
		OnStart: func(context.Context) error {
			scheduler.ScheduleEvery("tempban-expiry", expirySweepInterval, sweeper.Sweep)
			scheduler.ScheduleEvery("audit-housekeeping", time.Hour, func(context.Context) error {
				removed := monitor.ClearOldData(auditRetention)
				if removed > 0 {
					logger.Debug("audit events pruned", "removed", removed)
				}
				return nil
			})
			return nil
		},
		OnStop: func(context.Context) error { scheduler.Stop(); return nil },
	})

	for _, svc := range services {
		if err := manager.Register(svc); err != nil {
			return err
		}
	}
	return nil
}

// metricsService serves the Prometheus registry over HTTP.
func metricsService(addr string, reg *prometheus.Registry, logger *slog.Logger) service.Service {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	return service.Func{
		ServiceName: "metrics",
		OnStart: func(context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					logger.Error("metrics server failed", "addr", addr, "error", err)
				}
			}()
			logger.Info("metrics listening", "addr", addr)
			return nil
		},
		OnStop: func(ctx context.Context) error { return srv.Shutdown(ctx) },
	}
}
