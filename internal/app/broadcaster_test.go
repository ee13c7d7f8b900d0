package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xoelrdgz/authradar/internal/adapters/input"
	"github.com/xoelrdgz/authradar/internal/domain"
	"github.com/xoelrdgz/authradar/internal/ports"
)

// chanSource feeds lines written to its channel. Closing the channel ends
// the stream with endErr (io.EOF when nil).
type chanSource struct {
	lines   chan string
	openErr error
	endErr  error
	closed  chan struct{}
	once    sync.Once
}

func newChanSource() *chanSource {
	return &chanSource{lines: make(chan string, 64), closed: make(chan struct{})}
}

func (s *chanSource) Describe() string { return "chan" }

func (s *chanSource) Open(context.Context) (ports.LineStream, error) {
	if s.openErr != nil {
		return nil, s.openErr
	}
	return s, nil
}

func (s *chanSource) ReadLine() (string, error) {
	select {
	case line, ok := <-s.lines:
		if !ok {
			if s.endErr != nil {
				return "", s.endErr
			}
			return "", io.EOF
		}
		return line, nil
	case <-s.closed:
		return "", io.EOF
	}
}

func (s *chanSource) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

func (s *chanSource) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func failedLine(ip string, port int) string {
	return fmt.Sprintf("Oct 28 10:16:45 kali sshd[1235]: Failed password for root from %s port %d ssh2", ip, port)
}

func newTestBroadcaster(t *testing.T) (*Broadcaster, *Hub, ports.Subscription) {
	t.Helper()
	hub := NewHub()
	b := NewBroadcaster(input.NewClassifier(), hub, DefaultBroadcasterConfig())
	sub := hub.Subscribe(ports.TopicSSHEvent, 128)
	t.Cleanup(func() { hub.Unsubscribe(sub) })
	return b, hub, sub
}

func receive(t *testing.T, sub ports.Subscription) domain.EventRecord {
	t.Helper()
	select {
	case rec := <-sub.Events():
		return rec
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return domain.EventRecord{}
	}
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not finish")
	}
}

func TestBroadcaster_PublishesInSourceOrder(t *testing.T) {
	b, _, sub := newTestBroadcaster(t)
	src := newChanSource()
	captured := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return captured }

	session := b.Start(context.Background(), src)
	defer session.Stop()

	for i := 0; i < 50; i++ {
		src.lines <- failedLine("45.155.204.23", 10000+i)
		if i%10 == 0 {
			src.lines <- "Oct 28 10:16:45 kali CRON[1]: unrelated"
		}
	}

	for i := 0; i < 50; i++ {
		rec := receive(t, sub)
		assert.Equal(t, fmt.Sprint(10000+i), rec.Port)
		assert.Equal(t, "45.155.204.23", rec.IP)
		assert.Equal(t, domain.KindFailedLogin, rec.Kind)
		assert.Equal(t, "failed", rec.Status)
		assert.Equal(t, "root", rec.User)
		assert.True(t, captured.Equal(rec.Timestamp), "live events carry capture time")
	}

	assert.Eventually(t, func() bool {
		snap := b.Metrics()
		return snap.LinesRead == 55 && snap.EventsPublished == 50
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBroadcaster_StopReleasesSource(t *testing.T) {
	b, _, _ := newTestBroadcaster(t)
	src := newChanSource()

	session := b.Start(context.Background(), src)
	assert.NotEmpty(t, session.ID())
	assert.Equal(t, "chan", session.Source())

	session.Stop()
	session.Stop()

	assert.True(t, src.isClosed())
	assert.NoError(t, session.Err())
	assert.Equal(t, 0, b.ActiveSessions())
}

func TestBroadcaster_ParentCancelEndsSession(t *testing.T) {
	b, _, _ := newTestBroadcaster(t)
	src := newChanSource()
	ctx, cancel := context.WithCancel(context.Background())

	session := b.Start(ctx, src)
	cancel()
	waitDone(t, session)

	assert.True(t, src.isClosed())
	assert.NoError(t, session.Err())
}

func TestBroadcaster_SourceEndIsReported(t *testing.T) {
	b, _, sub := newTestBroadcaster(t)
	src := newChanSource()

	session := b.Start(context.Background(), src)
	src.lines <- failedLine("1.2.3.4", 22)
	close(src.lines)

	rec := receive(t, sub)
	assert.Equal(t, "1.2.3.4", rec.IP)

	waitDone(t, session)
	assert.ErrorIs(t, session.Err(), ErrSourceEnded)
	assert.True(t, src.isClosed())
}

func TestBroadcaster_ReadFailureIsReported(t *testing.T) {
	b, _, _ := newTestBroadcaster(t)
	src := newChanSource()
	src.endErr = errors.New("journal went away")

	session := b.Start(context.Background(), src)
	close(src.lines)

	waitDone(t, session)
	require.Error(t, session.Err())
	assert.Contains(t, session.Err().Error(), "journal went away")
	assert.NotErrorIs(t, session.Err(), ErrSourceEnded)
}

func TestBroadcaster_OpenFailureIsReported(t *testing.T) {
	b, _, _ := newTestBroadcaster(t)

	session := b.Start(context.Background(), input.NewCommandSource([]string{"/nonexistent/journalctl-missing"}))
	waitDone(t, session)

	require.Error(t, session.Err())
	assert.Equal(t, 0, b.ActiveSessions())
}

func TestBroadcaster_ChildProcessOrder(t *testing.T) {
	b, _, sub := newTestBroadcaster(t)
	script := ""
	for i := 0; i < 20; i++ {
		script += failedLine("203.0.113.7", 40000+i) + "\n"
	}
	src := input.NewCommandSource([]string{"printf", "%s", script})

	session := b.Start(context.Background(), src)
	for i := 0; i < 20; i++ {
		rec := receive(t, sub)
		assert.Equal(t, fmt.Sprint(40000+i), rec.Port)
	}

	waitDone(t, session)
	assert.ErrorIs(t, session.Err(), ErrSourceEnded)
}

func TestBroadcaster_IndependentSessions(t *testing.T) {
	b, _, sub := newTestBroadcaster(t)
	first, second := newChanSource(), newChanSource()

	s1 := b.Start(context.Background(), first)
	s2 := b.Start(context.Background(), second)
	assert.Equal(t, 2, b.ActiveSessions())

	s1.Stop()
	second.lines <- failedLine("5.6.7.8", 22)
	rec := receive(t, sub)
	assert.Equal(t, "5.6.7.8", rec.IP)

	b.StopAll()
	waitDone(t, s2)
	assert.Equal(t, 0, b.ActiveSessions())
}
