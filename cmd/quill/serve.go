package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/nugget/quill/internal/api"
	"github.com/nugget/quill/internal/buildinfo"
	"github.com/nugget/quill/internal/config"
	"github.com/nugget/quill/internal/connwatch"
	"github.com/nugget/quill/internal/mqtt"
)

// shutdownTimeout bounds how long in-flight requests may drain.
const shutdownTimeout = 10 * time.Second

// runServe handles "quill serve". It assembles the research runtime,
// starts the API server and the optional MQTT publisher, and blocks
// until SIGINT or SIGTERM.
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	logger := config.NewLogger(stdout, slog.LevelInfo, "text")
	logger.Info("starting Quill", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "branch", buildinfo.GitBranch, "built", buildinfo.BuildTime)

	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger = cfg.Logger(stdout)
	if cfgPath == "" {
		logger.Warn("no config file found, using environment only")
	}
	logger.Info("config loaded",
		"path", cfgPath,
		"port", cfg.Listen.Port,
		"model", cfg.Models.Default,
	)

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, logger, appOptions{persistent: true, remote: true, watch: true})
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn("shutdown cleanup failed", "error", err)
		}
	}()

	server := api.NewServer(cfg.Listen.Address, cfg.Listen.Port, a.loop, a.store, a.registry, logger)
	server.SetDefaultModel(cfg.Models.Default)
	server.SetCORSOrigins(cfg.Listen.CORSOrigins)
	server.SetCredentials(cfg.Credentials())
	server.SetEventBus(a.bus)
	server.SetServiceWatcher(a.watch)
	if a.usage != nil {
		server.SetUsageStore(a.usage)
	}

	// --- MQTT ---
	// Optional. Publishes Home Assistant discovery and status sensors and
	// forwards operational events to the broker.
	if cfg.MQTT.Configured() {
		stopMQTT, err := startMQTT(ctx, cfg, a, server, logger)
		if err != nil {
			stop()
			return err
		}
		defer stopMQTT()
	} else {
		logger.Info("mqtt publishing disabled (not configured)")
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	select {
	case err := <-errCh:
		// Background work started above runs until ctx is done.
		stop()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("api server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("api shutdown failed", "error", err)
	}
	return nil
}

// startMQTT runs the status publisher in the background and, when
// configured, forwards events. Research results reach the daily
// sensors through the API server's research observer. The returned function
// publishes the offline message once the publisher has stopped.
func startMQTT(ctx context.Context, cfg *config.Config, a *app, server *api.Server, logger *slog.Logger) (func(), error) {
	instanceID, err := mqtt.LoadOrCreateInstanceID(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("load mqtt instance id: %w", err)
	}
	logger.Info("mqtt instance ID loaded", "instance_id", instanceID)

	daily := mqtt.NewDailyResearch(time.Local)
	server.SetResearchObserver(daily)

	stats := &mqttStatsAdapter{model: cfg.Models.Default, server: server, app: a}
	pub := mqtt.New(cfg.MQTT, instanceID, daily, stats, logger)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := pub.Start(ctx); err != nil {
			logger.Error("mqtt publisher failed", "error", err)
		}
	}()

	// Registered for /health visibility.
	a.watch.Watch(ctx, connwatch.WatcherConfig{
		Name: "mqtt",
		Kind: "mqtt",
		Probe: func(pCtx context.Context) error {
			awaitCtx, awaitCancel := context.WithTimeout(pCtx, 2*time.Second)
			defer awaitCancel()
			return pub.AwaitConnection(awaitCtx)
		},
		Backoff: connwatch.DefaultBackoffConfig(),
	})

	if cfg.MQTT.ForwardEvents {
		go pub.Forward(ctx, a.bus)
	}

	logger.Info("mqtt publishing enabled",
		"broker", cfg.MQTT.Broker,
		"device", cfg.MQTT.DeviceName,
		"forward_events", cfg.MQTT.ForwardEvents,
	)

	return func() {
		<-done
		offlineCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := pub.Stop(offlineCtx); err != nil {
			logger.Error("mqtt shutdown failed", "error", err)
		}
	}, nil
}

// mqttStatsAdapter bridges the API server and build info to the MQTT
// publisher's [mqtt.StatsSource] interface.
type mqttStatsAdapter struct {
	model  string
	server *api.Server
	app    *app
}

func (s *mqttStatsAdapter) Uptime() time.Duration      { return buildinfo.Uptime() }
func (s *mqttStatsAdapter) Version() string            { return buildinfo.Version }
func (s *mqttStatsAdapter) DefaultModel() string       { return s.model }
func (s *mqttStatsAdapter) Conversations() int         { return s.app.conversationCount() }
func (s *mqttStatsAdapter) LastRequestTime() time.Time { return s.server.LastRequestTime() }
