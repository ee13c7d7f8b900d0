package input

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/nxadm/tail"
	"github.com/rs/zerolog/log"

	"github.com/xoelrdgz/authradar/internal/domain"
	"github.com/xoelrdgz/authradar/internal/ports"
)

// FileFollower follows a log file in-process instead of spawning tail(1).
// It reopens the file after rotation.
type FileFollower struct {
	path          string
	fromBeginning bool
	poll          bool
}

func NewFileFollower(path string) *FileFollower {
	return &FileFollower{path: path}
}

// SetFromBeginning makes the next Open start at the first line instead of
// the current end.
func (f *FileFollower) SetFromBeginning(fromBeginning bool) {
	f.fromBeginning = fromBeginning
}

// SetPoll switches change detection from inotify to polling.
func (f *FileFollower) SetPoll(poll bool) {
	f.poll = poll
}

func (f *FileFollower) Describe() string {
	return "follow " + f.path
}

func (f *FileFollower) Open(ctx context.Context) (ports.LineStream, error) {
	whence := io.SeekEnd
	if f.fromBeginning {
		whence = io.SeekStart
	}

	t, err := tail.TailFile(f.path, tail.Config{
		Follow:    true,
		ReOpen:    true,
		MustExist: true,
		Poll:      f.poll,
		Location:  &tail.SeekInfo{Offset: 0, Whence: whence},
		Logger:    tail.DiscardingLogger,
	})
	if err != nil {
		return nil, fmt.Errorf("follow %s: %w", f.path, err)
	}

	log.Info().Str("file", f.path).Msg("Started following log file")

	return &followStream{
		ctx:    ctx,
		tail:   t,
		done:   make(chan struct{}),
		source: f.path,
	}, nil
}

type followStream struct {
	ctx    context.Context
	tail   *tail.Tail
	done   chan struct{}
	once   sync.Once
	source string
}

func (s *followStream) ReadLine() (string, error) {
	select {
	case <-s.ctx.Done():
		return "", io.EOF
	case <-s.done:
		return "", io.EOF
	case line, ok := <-s.tail.Lines:
		if !ok {
			if s.stopped() {
				return "", io.EOF
			}
			if err := s.tail.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}
		if line.Err != nil {
			return "", line.Err
		}
		text := line.Text
		if len(text) > domain.MaxLineLength {
			log.Warn().
				Int("original_size", len(text)).
				Int("truncated_to", domain.MaxLineLength).
				Msg("Truncated oversized log line")
			text = text[:domain.MaxLineLength]
		}
		return text, nil
	}
}

func (s *followStream) stopped() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

func (s *followStream) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.tail.Stop()
		s.tail.Cleanup()
		log.Debug().Str("file", s.source).Msg("Stopped following log file")
	})
	return err
}
