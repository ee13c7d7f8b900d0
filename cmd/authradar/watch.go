package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/xoelrdgz/authradar/internal/adapters/geo"
	"github.com/xoelrdgz/authradar/internal/adapters/input"
	"github.com/xoelrdgz/authradar/internal/adapters/output"
	"github.com/xoelrdgz/authradar/internal/app"
	"github.com/xoelrdgz/authradar/internal/domain"
	"github.com/xoelrdgz/authradar/internal/ports"
	"github.com/xoelrdgz/authradar/internal/tui"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow live SSH events in the terminal",
	Long: `Follow live SSH events from journalctl, a log file or the demo
generator.

Examples:
  authradar watch
  authradar watch --source follow --file /var/log/auth.log
  authradar watch --source demo --no-tui
  authradar watch --json | jq .`,
	RunE: runWatch,
}

func init() {
	addLiveFlags(watchCmd)
	watchCmd.Flags().BoolVar(&noTUI, "no-tui", false, "disable the dashboard, log events to stderr")
	watchCmd.Flags().BoolVar(&jsonOut, "json", false, "print events as NDJSON on stdout")
}

// logSink prints each live event through the console logger.
type logSink struct{}

func (logSink) Write(rec domain.EventRecord) error {
	log.Info().
		Str("kind", string(rec.Kind)).
		Str("ip", rec.IP).
		Str("user", rec.User).
		Str("port", rec.Port).
		Time("at", rec.Timestamp).
		Msg("SSH event")
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	settings, err := loadSettings()
	if err != nil {
		return err
	}
	setupLogging(settings.LogLevel, noTUI || jsonOut)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	hub := app.NewHub()
	defer hub.Close()
	broadcaster := app.NewBroadcaster(input.NewClassifier(), hub, app.BroadcasterConfig{
		QueueSize: settings.LiveQueueSize,
	})
	go broadcaster.RunMetrics(ctx)

	src := newLiveSource(settings)
	sub := hub.Subscribe(ports.TopicSSHEvent, 0)

	var sink output.EventSink
	var dashboard *tui.App
	switch {
	case jsonOut:
		writer, err := output.NewJSONEventWriter(output.JSONEventWriterConfig{Writer: os.Stdout})
		if err != nil {
			return err
		}
		defer writer.Close()
		sink = writer
	case noTUI:
		sink = logSink{}
	default:
		dashboard = tui.NewApp(tui.Config{Source: src.Describe(), Geo: openCacheReadOnly(settings)})
		sink = dashboard
	}
	go output.Consume(ctx, sub, sink)

	session := broadcaster.Start(ctx, src)
	log.Info().Str("source", src.Describe()).Msg("Watching live events")

	if dashboard == nil {
		select {
		case <-ctx.Done():
		case <-session.Done():
		}
		broadcaster.StopAll()
		if err := session.Err(); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	}

	go func() {
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				dashboard.SendMetrics(broadcaster.Metrics())
			}
		}
	}()

	var tuiErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				log.Error().Interface("panic", r).Msg("TUI panic recovered")
				tuiErr = fmt.Errorf("TUI panic: %v", r)
			}
		}()
		tuiErr = dashboard.Run()
	}()

	cancel()
	broadcaster.StopAll()
	if err := session.Err(); err != nil {
		log.Warn().Err(err).Msg("Live session ended with error")
	}
	return tuiErr
}

// openCacheReadOnly loads the geolocation cache for display. The dashboard
// never triggers lookups, so a missing or locked cache just hides countries.
func openCacheReadOnly(s app.Settings) tui.GeoLookup {
	store, closer, err := openGeoStore(s)
	if err != nil {
		log.Debug().Err(err).Msg("Geolocation cache unavailable for dashboard")
		return nil
	}
	cache := geo.NewCache(store, s.CacheExpiry)
	if closer != nil {
		// Entries are in memory now; release the bolt lock for serve.
		if err := closer(); err != nil {
			log.Debug().Err(err).Msg("Failed to close geolocation store")
		}
	}
	return cache
}
