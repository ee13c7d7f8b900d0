package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/xoelrdgz/authradar/internal/domain"
	"github.com/xoelrdgz/authradar/internal/ports"
)

// ErrSourceEnded reports that a live source reached end of stream without
// being stopped. Sessions are not restarted.
var ErrSourceEnded = errors.New("log source ended")

type BroadcasterConfig struct {
	QueueSize int    // Lines buffered between reader and publisher (default: 1024)
	Topic     string // default: ports.TopicSSHEvent
}

func DefaultBroadcasterConfig() BroadcasterConfig {
	return BroadcasterConfig{
		QueueSize: 1024,
		Topic:     ports.TopicSSHEvent,
	}
}

// Broadcaster turns live line sources into published events.
//
// Each Start opens one source and runs two goroutines for it: a reader
// that blocks on one line at a time and a publisher that classifies each
// line with its capture time and publishes it. A single publisher per
// session keeps events in source order.
type Broadcaster struct {
	classifier ports.EventClassifier
	bus        ports.EventBus
	metrics    *domain.PipelineMetrics
	observer   ports.ProcessingObserver
	queueSize  int
	topic      string
	now        func() time.Time

	mu       sync.Mutex
	sessions map[string]*Session
}

func NewBroadcaster(classifier ports.EventClassifier, bus ports.EventBus, config BroadcasterConfig) *Broadcaster {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultBroadcasterConfig().QueueSize
	}
	if config.Topic == "" {
		config.Topic = ports.TopicSSHEvent
	}
	return &Broadcaster{
		classifier: classifier,
		bus:        bus,
		metrics:    domain.NewPipelineMetrics(),
		queueSize:  config.QueueSize,
		topic:      config.Topic,
		now:        time.Now,
		sessions:   make(map[string]*Session),
	}
}

func (b *Broadcaster) SetObserver(o ports.ProcessingObserver) {
	b.observer = o
}

func (b *Broadcaster) Metrics() domain.MetricsSnapshot {
	return b.metrics.GetSnapshot()
}

// ActiveSessions returns the number of sessions still running.
func (b *Broadcaster) ActiveSessions() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.sessions)
}

// Session is one running live source. Its zero value is not usable.
type Session struct {
	id        string
	source    string
	startedAt time.Time

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once

	// err is written once before done is closed.
	err error
}

func (s *Session) ID() string           { return s.id }
func (s *Session) Source() string       { return s.source }
func (s *Session) StartedAt() time.Time { return s.startedAt }

// Done is closed when the session has released its source.
func (s *Session) Done() <-chan struct{} { return s.done }

// Err reports why the session ended: nil after Stop or cancellation,
// ErrSourceEnded on a clean end of stream, otherwise the start or read
// failure. Valid once Done is closed.
func (s *Session) Err() error {
	select {
	case <-s.done:
		return s.err
	default:
		return nil
	}
}

// Stop terminates the source and waits for the session to release it.
func (s *Session) Stop() {
	s.stopOnce.Do(s.cancel)
	<-s.done
}

// Start opens src in the background and returns immediately. Start
// failures are reported through the session, not returned.
func (b *Broadcaster) Start(ctx context.Context, src ports.LineSource) *Session {
	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:        uuid.NewString(),
		source:    src.Describe(),
		startedAt: b.now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	b.mu.Lock()
	b.sessions[s.id] = s
	b.mu.Unlock()

	go b.run(sctx, s, src)
	return s
}

// StopAll stops every running session.
func (b *Broadcaster) StopAll() {
	b.mu.Lock()
	sessions := make([]*Session, 0, len(b.sessions))
	for _, s := range b.sessions {
		sessions = append(sessions, s)
	}
	b.mu.Unlock()

	for _, s := range sessions {
		s.Stop()
	}
}

func (b *Broadcaster) run(ctx context.Context, s *Session, src ports.LineSource) {
	defer close(s.done)
	defer s.cancel()
	defer func() {
		b.mu.Lock()
		delete(b.sessions, s.id)
		b.mu.Unlock()
	}()

	stream, err := src.Open(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.err = fmt.Errorf("open %s: %w", s.source, err)
			log.Error().Err(err).Str("session", s.id).Str("source", s.source).Msg("Failed to start live source")
		}
		return
	}

	log.Info().Str("session", s.id).Str("source", s.source).Msg("Live session started")

	lines := make(chan string, b.queueSize)
	var readErr error
	go func() {
		defer close(lines)
		for {
			line, err := stream.ReadLine()
			if err != nil {
				readErr = err
				return
			}
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
	}()

	// Closing the stream is what unblocks a reader parked in ReadLine.
	released := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = stream.Close()
		case <-released:
		}
	}()

	published := 0
	for line := range lines {
		if b.publish(line) {
			published++
		}
	}
	close(released)

	if err := stream.Close(); err != nil && ctx.Err() == nil {
		log.Debug().Err(err).Str("session", s.id).Msg("Error closing live source")
	}

	switch {
	case ctx.Err() != nil:
		log.Info().Str("session", s.id).Int("published", published).Msg("Live session stopped")
	case readErr == nil || errors.Is(readErr, io.EOF):
		s.err = ErrSourceEnded
		log.Warn().Str("session", s.id).Str("source", s.source).Int("published", published).Msg("Live source ended, session will not restart")
	default:
		s.err = fmt.Errorf("read %s: %w", s.source, readErr)
		log.Error().Err(readErr).Str("session", s.id).Str("source", s.source).Msg("Live source failed, session will not restart")
	}
}

func (b *Broadcaster) publish(line string) bool {
	b.metrics.IncrementLines()

	ev, ok := b.classifier.ClassifyAt(line, b.now())
	if !ok {
		if b.observer != nil {
			b.observer.IncrementLinesProcessedByResult("ignored")
		}
		return false
	}

	b.metrics.RecordEvent(ev.Kind)
	if b.observer != nil {
		b.observer.IncrementLinesProcessedByResult("event")
		b.observer.RecordEvent(ev.Kind)
	}

	b.bus.Publish(b.topic, ev.Record())
	b.metrics.IncrementPublished()
	return true
}

// RunMetrics refreshes the lines-per-second gauge until ctx ends.
func (b *Broadcaster) RunMetrics(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	lastLines := b.metrics.LinesRead()
	lastCheck := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			elapsed := now.Sub(lastCheck).Seconds()
			if elapsed <= 0 {
				continue
			}
			current := b.metrics.LinesRead()
			b.metrics.UpdateLPS(float64(current-lastLines) / elapsed)
			lastLines, lastCheck = current, now
		}
	}
}
