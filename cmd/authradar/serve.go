package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/xoelrdgz/authradar/internal/adapters/input"
	"github.com/xoelrdgz/authradar/internal/adapters/output"
	"github.com/xoelrdgz/authradar/internal/app"
	"github.com/xoelrdgz/authradar/internal/ports"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API, WebSocket feed and live session",
	Long: `Serve incident queries over HTTP and broadcast live SSH events to
WebSocket clients.

Examples:
  authradar serve
  authradar serve --addr :8080 --source follow --file /var/log/auth.log
  authradar serve --source demo
  authradar serve --no-live --log ./sample_auth.log`,
	RunE: runServe,
}

func init() {
	addLiveFlags(serveCmd)
	serveCmd.Flags().BoolVar(&noLive, "no-live", false, "serve incident queries only")
	serveCmd.Flags().String("addr", "", "API listen address")
	serveCmd.Flags().String("events-file", "", "append live events as NDJSON to this file")
	_ = viper.BindPFlag("server.addr", serveCmd.Flags().Lookup("addr"))
	_ = viper.BindPFlag("live.events_file", serveCmd.Flags().Lookup("events-file"))
}

func runServe(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	setupLogging(settings.LogLevel, true)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := app.NewHub()
	defer hub.Close()
	broadcaster := app.NewBroadcaster(input.NewClassifier(), hub, app.BroadcasterConfig{
		QueueSize: settings.LiveQueueSize,
	})

	var metrics *output.PrometheusMetrics
	if settings.MetricsEnabled {
		metrics = output.NewPrometheusMetrics("authradar", broadcaster.Metrics)
		broadcaster.SetObserver(metrics)
		hub.SetObserver(metrics)
	}

	geoStack, err := buildGeo(settings, metrics)
	if err != nil {
		return err
	}
	defer geoStack.Close()

	reader, incidents := buildIncidents(settings, geoStack.locator)
	if path, err := reader.Resolve(); err != nil {
		log.Warn().Err(err).Msg("No static auth log found, incident queries will fail until one appears")
	} else {
		log.Info().Str("path", path).Msg("Static auth log located")
	}

	recent := output.NewEventRing(500)
	go output.Consume(ctx, hub.Subscribe(ports.TopicSSHEvent, 0), recent)

	if settings.EventsFile != "" {
		writer, err := output.NewJSONEventWriter(output.JSONEventWriterConfig{FilePath: settings.EventsFile})
		if err != nil {
			return fmt.Errorf("failed to create event writer: %w", err)
		}
		defer writer.Close()
		go output.Consume(ctx, hub.Subscribe(ports.TopicSSHEvent, 0), writer)
		log.Info().Str("path", settings.EventsFile).Msg("Writing live events as NDJSON")
	}

	health := output.NewHealthChecker(output.HealthCheckerConfig{
		LogSource:     reader,
		Sessions:      broadcaster,
		Cache:         geoStack.cache,
		RequireLive:   !noLive,
		CheckInterval: output.DefaultHealthCheckerConfig().CheckInterval,
	})

	api := output.NewAPIServer(output.APIServerConfig{
		Incidents: incidents,
		Cache:     geoStack.cache,
		Health:    health,
		Metrics:   metrics,
		Recent:    recent,
		WebSocket: output.NewWebSocketBridge(hub, ports.TopicSSHEvent),
	})
	api.Start(settings.ServerAddr)

	if metrics != nil && settings.MetricsAddr != settings.ServerAddr {
		if err := metrics.StartServer(output.MetricsConfig{Port: settings.MetricsAddr, Path: "/metrics"}); err != nil {
			log.Warn().Err(err).Msg("Failed to start metrics server")
		}
		defer metrics.StopServer()
	}

	go broadcaster.RunMetrics(ctx)

	if !noLive {
		src := newLiveSource(settings)
		session := broadcaster.Start(ctx, src)
		go watchSession(session)
	}

	if path := viper.ConfigFileUsed(); path != "" {
		reloader := app.NewHotReloadConfig(app.HotReloadOptions{
			ConfigPath: path,
			Limiter:    geoStack.limiter,
		})
		reloader.StartWatching()
		defer reloader.Stop()
	}

	log.Info().
		Str("addr", settings.ServerAddr).
		Bool("live", !noLive).
		Str("source", settings.LiveSource).
		Str("cache", settings.CacheBackend).
		Msg("AuthRadar started")

	<-ctx.Done()
	log.Info().Msg("Shutting down...")

	broadcaster.StopAll()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := api.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("API shutdown incomplete")
	}
	log.Debug().Msg("Shutdown complete")
	return nil
}

// watchSession logs how a live session ended. Sessions are not restarted.
func watchSession(s *app.Session) {
	<-s.Done()
	err := s.Err()
	switch {
	case err == nil:
		log.Info().Str("session", s.ID()).Msg("Live session stopped")
	case errors.Is(err, app.ErrSourceEnded):
		log.Warn().Str("session", s.ID()).Str("source", s.Source()).Msg("Live source ended")
	default:
		log.Error().Err(err).Str("session", s.ID()).Str("source", s.Source()).Msg("Live session failed")
	}
}
