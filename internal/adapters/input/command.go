package input

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog/log"

	"github.com/xoelrdgz/authradar/internal/domain"
	"github.com/xoelrdgz/authradar/internal/ports"
)

const stderrLimit = 4096

// JournalCommand follows the systemd journal for units from the current end.
func JournalCommand(units ...string) []string {
	argv := []string{"journalctl", "-f", "-n", "0", "-o", "short", "--no-pager"}
	for _, u := range units {
		if u = strings.TrimSpace(u); u != "" {
			argv = append(argv, "-u", u)
		}
	}
	return argv
}

// TailCommand follows path by name from the current end, surviving rotation.
func TailCommand(path string) []string {
	return []string{"tail", "-F", "-n", "0", path}
}

// CommandSource runs a child process and reads its stdout line by line.
// Each Open spawns exactly one process.
type CommandSource struct {
	argv []string
}

func NewCommandSource(argv []string) *CommandSource {
	return &CommandSource{argv: append([]string(nil), argv...)}
}

func NewJournalSource(units []string) *CommandSource {
	return NewCommandSource(JournalCommand(units...))
}

func NewTailSource(path string) *CommandSource {
	return NewCommandSource(TailCommand(path))
}

func (s *CommandSource) Describe() string {
	return strings.Join(s.argv, " ")
}

func (s *CommandSource) Argv() []string {
	return append([]string(nil), s.argv...)
}

func (s *CommandSource) Open(ctx context.Context) (ports.LineStream, error) {
	if len(s.argv) == 0 {
		return nil, errors.New("empty command")
	}

	cmd := exec.CommandContext(ctx, s.argv[0], s.argv[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr := &limitedBuffer{limit: stderrLimit}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", s.argv[0], err)
	}

	log.Info().
		Int("pid", cmd.Process.Pid).
		Str("command", s.Describe()).
		Msg("Started log source process")

	return &commandStream{
		cmd:    cmd,
		reader: newLineReader(stdout),
		stderr: stderr,
	}, nil
}

type commandStream struct {
	cmd    *exec.Cmd
	reader *bufio.Reader
	stderr *limitedBuffer

	waitOnce  sync.Once
	waitErr   error
	closeOnce sync.Once
	closed    atomic.Bool
}

func (c *commandStream) ReadLine() (string, error) {
	line, truncated, err := readBoundedLine(c.reader, domain.MaxLineLength)
	if err == nil {
		if truncated {
			log.Warn().Int("truncated_to", domain.MaxLineLength).Msg("Truncated oversized log line")
		}
		return line, nil
	}

	if c.closed.Load() {
		return "", io.EOF
	}
	if !errors.Is(err, io.EOF) {
		return "", err
	}

	if werr := c.wait(); werr != nil {
		if msg := strings.TrimSpace(c.stderr.String()); msg != "" {
			return "", fmt.Errorf("%s exited: %w: %s", c.cmd.Path, werr, msg)
		}
		return "", fmt.Errorf("%s exited: %w", c.cmd.Path, werr)
	}
	return "", io.EOF
}

// Close kills the process and reaps it.
func (c *commandStream) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)

		if c.cmd.Process != nil {
			if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
				log.Debug().Err(err).Msg("Kill log source process")
			}
		}
		_ = c.wait()
		log.Debug().Str("command", c.cmd.Path).Msg("Log source process released")
	})
	return nil
}

func (c *commandStream) wait() error {
	c.waitOnce.Do(func() {
		c.waitErr = c.cmd.Wait()
	})
	return c.waitErr
}

// limitedBuffer keeps the first limit bytes written to it.
type limitedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if room := b.limit - b.buf.Len(); room > 0 {
		if len(p) > room {
			b.buf.Write(p[:room])
		} else {
			b.buf.Write(p)
		}
	}
	return len(p), nil
}

func (b *limitedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}
