// Package output provides the outward-facing adapters of the pipeline.
//
// This file implements live event sinks:
//   - JSONEventWriter: Buffered NDJSON output to file or stdout
//   - EventRing: In-memory ring of the most recent events
//
// Both consume a ports.Subscription through Consume.
//
// Thread Safety: All implementations are safe for concurrent Write() calls.
package output

import (
	"bufio"
	"context"
	"io"
	"os"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/xoelrdgz/authradar/internal/domain"
	"github.com/xoelrdgz/authradar/internal/ports"
)

// EventSink receives live event records.
type EventSink interface {
	Write(rec domain.EventRecord) error
}

// Consume writes every record from sub to sink until the subscription is
// closed or ctx ends.
func Consume(ctx context.Context, sub ports.Subscription, sink EventSink) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec, ok := <-sub.Events():
			if !ok {
				return
			}
			_ = sink.Write(rec)
		}
	}
}

// JSONEventWriter writes one JSON object per line.
//
// Features:
//   - Buffered writes for high throughput
//   - Periodic flush every second
//   - File sync on flush for durability
type JSONEventWriter struct {
	bufWriter *bufio.Writer // Buffered writer (64KB)
	file      *os.File      // File handle (nil for stdout)
	mu        sync.Mutex    // Protects writes
	encoder   *json.Encoder // Reused encoder
	stopFlush chan struct{} // Stop periodic flush
	closeOnce sync.Once
}

// JSONEventWriterConfig configures NDJSON output.
type JSONEventWriterConfig struct {
	FilePath string    // Output file path (appended)
	Writer   io.Writer // Explicit destination; wins over FilePath
}

// NewJSONEventWriter creates an NDJSON sink.
//
// Output Priority:
//  1. config.Writer if set
//  2. File if config.FilePath is set
//  3. io.Discard otherwise
//
// File Permissions: 0600 (owner read/write only)
func NewJSONEventWriter(config JSONEventWriterConfig) (*JSONEventWriter, error) {
	var writer io.Writer
	var file *os.File

	switch {
	case config.Writer != nil:
		writer = config.Writer
	case config.FilePath != "":
		var err error
		file, err = os.OpenFile(config.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
		if err != nil {
			return nil, err
		}
		writer = file
	default:
		writer = io.Discard
	}

	const bufferSize = 64 * 1024
	bufWriter := bufio.NewWriterSize(writer, bufferSize)

	w := &JSONEventWriter{
		bufWriter: bufWriter,
		file:      file,
		encoder:   json.NewEncoder(bufWriter),
		stopFlush: make(chan struct{}),
	}

	go w.periodicFlush()
	return w, nil
}

func (w *JSONEventWriter) periodicFlush() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			_ = w.Flush()
		case <-w.stopFlush:
			return
		}
	}
}

// Write appends rec as one JSON line.
func (w *JSONEventWriter) Write(rec domain.EventRecord) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.encoder.Encode(rec)
}

// Flush forces buffered data out, syncing files.
func (w *JSONEventWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.bufWriter.Flush(); err != nil {
		return err
	}
	if w.file != nil {
		return w.file.Sync()
	}
	return nil
}

// Close stops periodic flushing, flushes and closes the file.
func (w *JSONEventWriter) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.stopFlush)

		w.mu.Lock()
		defer w.mu.Unlock()

		if err = w.bufWriter.Flush(); err != nil {
			return
		}
		if w.file != nil {
			if err = w.file.Sync(); err != nil {
				return
			}
			err = w.file.Close()
		}
	})
	return err
}

// EventRing keeps the most recent events in a fixed-size ring buffer.
//
// Thread Safety: Safe for concurrent access via RWMutex.
type EventRing struct {
	events   []domain.EventRecord // Ring buffer storage
	head     int                  // Next write position
	count    int                  // Current event count
	capacity int                  // Buffer capacity
	mu       sync.RWMutex         // Protects all fields
}

// NewEventRing creates a ring holding up to capacity events (default: 500).
func NewEventRing(capacity int) *EventRing {
	if capacity <= 0 {
		capacity = 500
	}
	return &EventRing{
		events:   make([]domain.EventRecord, capacity),
		capacity: capacity,
	}
}

// Write stores rec, overwriting the oldest event when full.
func (r *EventRing) Write(rec domain.EventRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.events[r.head] = rec
	r.head = (r.head + 1) % r.capacity
	if r.count < r.capacity {
		r.count++
	}
	return nil
}

// Latest returns up to n most recent events, oldest first. n <= 0 returns
// everything held.
func (r *EventRing) Latest(n int) []domain.EventRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if n <= 0 || n > r.count {
		n = r.count
	}
	result := make([]domain.EventRecord, n)
	for i := 0; i < n; i++ {
		idx := (r.head - n + i + r.capacity) % r.capacity
		result[i] = r.events[idx]
	}
	return result
}

func (r *EventRing) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}
