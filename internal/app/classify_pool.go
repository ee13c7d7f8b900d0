package app

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/xoelrdgz/authradar/internal/domain"
	"github.com/xoelrdgz/authradar/internal/ports"
)

// ClassifyPool classifies a full log in parallel chunks while keeping the
// events in input order.
//
// Features:
//   - Bounded worker count via errgroup limits
//   - Small inputs bypass the pool entirely
//   - A line that panics the classifier is skipped and counted
//
// Thread Safety: Classify may be called concurrently.
type ClassifyPool struct {
	classifier  ports.EventClassifier
	workerCount int
	chunkSize   int
	panics      atomic.Int64
}

// ClassifyPoolConfig defines pool configuration options.
type ClassifyPoolConfig struct {
	WorkerCount int // Concurrent chunks (default: NumCPU)
	ChunkSize   int // Lines per chunk (default: 4096)
}

func DefaultClassifyPoolConfig() ClassifyPoolConfig {
	return ClassifyPoolConfig{
		WorkerCount: runtime.NumCPU(),
		ChunkSize:   4096,
	}
}

// NewClassifyPool creates a pool around classifier.
//
// Parameters:
//   - classifier: Line classifier, shared by all workers
//   - config: Pool configuration options
func NewClassifyPool(classifier ports.EventClassifier, config ClassifyPoolConfig) *ClassifyPool {
	if config.WorkerCount <= 0 {
		config.WorkerCount = 1
	}
	if config.ChunkSize <= 0 {
		config.ChunkSize = 4096
	}
	return &ClassifyPool{
		classifier:  classifier,
		workerCount: config.WorkerCount,
		chunkSize:   config.ChunkSize,
	}
}

// Classify returns the events found in lines, in line order.
//
// Returns:
//   - Classified events (never nil)
//   - ctx.Err() if cancelled before every chunk finished
func (p *ClassifyPool) Classify(ctx context.Context, lines []string) ([]domain.Event, error) {
	if len(lines) <= p.chunkSize || p.workerCount == 1 {
		return p.classifyChunk(ctx, 0, lines)
	}

	chunks := (len(lines) + p.chunkSize - 1) / p.chunkSize
	results := make([][]domain.Event, chunks)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.workerCount)

	for i := 0; i < chunks; i++ {
		chunk := i
		start := chunk * p.chunkSize
		part := lines[start:min(start+p.chunkSize, len(lines))]
		g.Go(func() error {
			events, err := p.classifyChunk(gctx, chunk, part)
			if err != nil {
				return err
			}
			results[chunk] = events
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("classify log: %w", err)
	}

	total := 0
	for _, r := range results {
		total += len(r)
	}
	events := make([]domain.Event, 0, total)
	for _, r := range results {
		events = append(events, r...)
	}
	return events, nil
}

func (p *ClassifyPool) classifyChunk(ctx context.Context, chunk int, lines []string) ([]domain.Event, error) {
	events := make([]domain.Event, 0, len(lines)/4)
	for i, line := range lines {
		if i%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		if ev, ok := p.safeClassify(chunk, line); ok {
			events = append(events, ev)
		}
	}
	return events, nil
}

func (p *ClassifyPool) safeClassify(chunk int, line string) (ev domain.Event, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			log.Error().
				Interface("panic", r).
				Int("chunk", chunk).
				Int("line_length", len(line)).
				Msg("Classifier panic recovered, line skipped")
			ev, ok = domain.Event{}, false
		}
	}()
	return p.classifier.Classify(line)
}

// Panics returns how many lines were skipped after a classifier panic.
func (p *ClassifyPool) Panics() int64 {
	return p.panics.Load()
}
