package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/p-blackswan/inactivity-agent/internal/activity"
	"github.com/p-blackswan/inactivity-agent/internal/audit"
	"github.com/p-blackswan/inactivity-agent/internal/commands"
	"github.com/p-blackswan/inactivity-agent/internal/config"
	"github.com/p-blackswan/inactivity-agent/internal/dispatch"
	perrors "github.com/p-blackswan/inactivity-agent/internal/errors"
	"github.com/p-blackswan/inactivity-agent/internal/health"
	"github.com/p-blackswan/inactivity-agent/internal/metrics"
	"github.com/p-blackswan/inactivity-agent/internal/mgmt"
	"github.com/p-blackswan/inactivity-agent/internal/monitor"
	"github.com/p-blackswan/inactivity-agent/internal/persist"
	"github.com/p-blackswan/inactivity-agent/internal/policy"
	"github.com/p-blackswan/inactivity-agent/internal/scheduler"
	slackpkg "github.com/p-blackswan/inactivity-agent/internal/slack"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err == nil {
		zerolog.SetGlobalLevel(level)
	}

	loc, _ := cfg.Location() // validated by config.Load

	logger.Info().
		Str("environment", cfg.Environment).
		Int("http_port", cfg.HTTPPort).
		Str("storage", cfg.StorageDriver).
		Str("timezone", loc.String()).
		Bool("slack_enabled", cfg.SlackEnabled()).
		Msg("starting inactivity agent")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	m := metrics.New()

	// Persistence
	backend, err := persist.Open(persist.Config{
		Driver:     cfg.StorageDriver,
		Dir:        cfg.DataDir,
		SQLitePath: cfg.SQLiteFile(),
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open storage")
	}
	defer backend.Close()

	// Policy
	limits := policy.Limits{
		MinThresholdDays: cfg.MinThresholdDays,
		MaxThresholdDays: cfg.MaxThresholdDays,
		MaxBatchSize:     policy.MaxBatchSize,
	}
	defaults, err := policy.LoadDefaults(cfg.PolicyDefaultsFile, limits)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load policy defaults")
	}
	policies := policy.NewStore(backend, defaults, limits, logger)
	policies.SetRecorder(m)
	current := policies.Load(ctx)
	logger.Info().
		Int("threshold_days", current.InactivityThresholdDays).
		Str("delivery", current.DeliveryTarget.String()).
		Bool("auto_notify", current.AutoNotifyEnabled).
		Msg("policy loaded")

	// Activity
	activities := activity.NewStore(backend, logger)
	activities.SetRecorder(m)
	activities.Load(ctx)
	m.SetTrackedRecords(activities.Len())

	auditLog := audit.New(cfg.AuditCapacity, logger)

	checker := health.NewChecker(logger)
	checker.Register("storage", health.ErrCheck(func(ctx context.Context) error {
		_, err := backend.Load(ctx, persist.KeyPolicy)
		if errors.Is(err, perrors.ErrNotFound) {
			return nil
		}
		return err
	}))
	checker.Register("process", health.ProcessCheck(health.DefaultProcessLimits(), logger))
	checker.Register("disk", health.DiskCheck(filepath.Dir(cfg.SQLiteFile()), 90, logger))

	var wg sync.WaitGroup

	// Hot reload of hand-edited policy documents
	if fb, ok := backend.(*persist.FileBackend); ok && cfg.WatchPolicy {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := policies.Watch(ctx, fb.Path(persist.KeyPolicy)); err != nil {
				logger.Warn().Err(err).Msg("policy watcher stopped")
			}
		}()
	}

	deps := mgmt.Deps{
		Checker:  checker,
		Policies: policies,
		Activity: activities,
		Audit:    auditLog,
		Metrics:  m.Handler(),
	}

	var (
		sched        *scheduler.Scheduler
		slackHandler *slackpkg.Handler
	)
	if cfg.SlackEnabled() {
		api := slackpkg.NewClient(cfg.SlackBotToken, cfg.SlackAppToken)
		directory := slackpkg.NewDirectory(api, cfg.AdminUserList(), cfg.UserCacheSize, cfg.UserCacheTTL, logger)
		checker.Register("slack", health.ErrCheck(func(ctx context.Context) error {
			_, err := directory.TeamID(ctx)
			return err
		}))

		dispatcher := dispatch.New(slackpkg.NewPoster(api, logger), dispatch.Options{
			SendTimeout: cfg.SendTimeout,
			RatePerSec:  cfg.SendRatePerSec,
		}, logger)
		dispatcher.SetRecorder(m)

		mon := monitor.New(directory, policies, activities, dispatcher, monitor.Options{Location: loc}, logger)
		mon.SetRecorder(m)
		deps.Reports = mon

		tracker := activity.NewTracker(activities, policies, logger)
		tracker.SetRecorder(m)

		executor := commands.NewExecutor(commands.Deps{
			Policies: policies,
			Activity: activities,
			Runner:   mon,
			Auth:     directory,
			Audit:    auditLog,
			Recorder: m,
		}, cfg.SlackCommand, loc, logger)

		middleware := slackpkg.NewMiddleware(logger, cfg.CommandRateLimit, cfg.CommandRateWindow)
		slackHandler = slackpkg.NewHandler(api, tracker, directory, executor, middleware, cfg.SlackCommand, logger)
		slackApp := slackpkg.NewApp(api, logger, slackHandler)

		sched = scheduler.New(mon, loc, logger)
		sched.Apply(current)
		policies.Subscribe(sched.Apply)
		deps.Next = sched

		logger.Info().Str("command", cfg.SlackCommand).Msg("Slack Socket Mode enabled")
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := slackApp.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("Slack Socket Mode error")
			}
		}()
	} else {
		logger.Info().Msg("Slack not configured, serving status endpoints only")
		sched = scheduler.New(nil, loc, logger)
	}

	if err := sched.AddKeepAlive(cfg.KeepAliveSpec, cfg.HealthCheckURL); err != nil {
		logger.Warn().Err(err).Msg("keep-alive pinger disabled")
	}
	sched.Start(ctx)

	server := mgmt.NewServer(mgmt.ServerConfig{
		ListenAddr: fmt.Sprintf(":%d", cfg.HTTPPort),
		AuthConfig: mgmt.AuthConfig{
			Mode:   cfg.MgmtAuthMode,
			APIKey: cfg.MgmtAPIKey,
		},
	}, deps, logger)

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("status server error")
		}
	}()

	if sent, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		logger.Warn().Err(err).Msg("sd_notify READY failed")
	} else if sent {
		logger.Debug().Msg("notified systemd: ready")
	}

	// Wait for shutdown signal
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutting down gracefully")
	_, _ = daemon.SdNotify(false, daemon.SdNotifyStopping)

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	sched.Stop(shutdownCtx)

	if err := server.Shutdown(); err != nil {
		logger.Error().Err(err).Msg("status server shutdown error")
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		if slackHandler != nil {
			slackHandler.Wait()
		}
		close(done)
	}()

	select {
	case <-done:
		logger.Info().Msg("all goroutines stopped")
	case <-time.After(15 * time.Second):
		logger.Warn().Msg("forced shutdown after timeout")
	}

	logger.Info().Msg("inactivity agent stopped")
}
