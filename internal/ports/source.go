// Package ports defines the primary and secondary port interfaces following
// hexagonal architecture (ports and adapters pattern).
//
// This package contains interfaces that define the contract between the
// pipeline core (classification, aggregation, enrichment, live broadcast)
// and external infrastructure (log sources, lookup services, cache storage,
// subscribers).
//
// Design Principles:
//   - Interfaces are small and focused (Interface Segregation Principle)
//   - Dependencies flow inward (core domain has no external dependencies)
//   - Implementations provided by adapters in internal/adapters/
package ports

import (
	"context"
	"time"

	"github.com/xoelrdgz/authradar/internal/domain"
)

// LineSource describes a continuous source of auth-log lines.
//
// Implementations:
//   - CommandSource: journalctl or tail child process
//   - FileFollower: in-process file follow
//   - DemoGenerator: synthetic sshd traffic
type LineSource interface {
	// Open starts the source and returns a stream positioned at the first
	// new line. The stream is bound to ctx: cancelling ctx releases it.
	//
	// Returns:
	//   - LineStream ready for reading
	//   - Error if the source cannot be started (binary missing,
	//     permission denied, file missing)
	Open(ctx context.Context) (LineStream, error)

	// Describe returns a short human-readable label for logs.
	Describe() string
}

// LineStream is an open log source. Exactly one goroutine reads from it.
type LineStream interface {
	// ReadLine blocks until the next line is available.
	//
	// Returns:
	//   - The line without its trailing newline
	//   - io.EOF when the source ends cleanly
	//   - Any other error when reading fails
	ReadLine() (string, error)

	// Close terminates the underlying source and releases it. Close unblocks
	// a pending ReadLine and is safe to call more than once.
	Close() error
}

// LogFileReader loads a complete auth log for on-demand aggregation.
type LogFileReader interface {
	// ReadLines returns every line of the configured log.
	//
	// Returns:
	//   - Lines of the first available log path
	//   - ErrLogSourceMissing (wrapped) when no configured path exists
	ReadLines(ctx context.Context) ([]string, error)
}

// EventClassifier turns raw auth-log lines into events.
//
// Thread Safety: Implementations MUST be safe for concurrent use and free of
// side effects.
type EventClassifier interface {
	// Classify uses the timestamp embedded in the line.
	//
	// Returns:
	//   - The parsed event and true on a match
	//   - false for lines that are not SSH auth events or carry no valid IP
	Classify(line string) (domain.Event, bool)

	// ClassifyAt stamps the event with captured instead of the embedded
	// timestamp. Used by the live path.
	ClassifyAt(line string, captured time.Time) (domain.Event, bool)
}
