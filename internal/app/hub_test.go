package app

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xoelrdgz/authradar/internal/domain"
	"github.com/xoelrdgz/authradar/internal/ports"
)

type dropCounter struct {
	mu      sync.Mutex
	dropped int
}

func (d *dropCounter) IncrementLinesProcessedByResult(string) {}
func (d *dropCounter) RecordEvent(domain.EventKind)           {}
func (d *dropCounter) AddDropped(n int) {
	d.mu.Lock()
	d.dropped += n
	d.mu.Unlock()
}

func record(ip string) domain.EventRecord {
	return domain.EventRecord{IP: ip, Kind: domain.KindFailedLogin}
}

func TestHub_FanOutInOrder(t *testing.T) {
	hub := NewHub()
	a := hub.Subscribe(ports.TopicSSHEvent, 16)
	b := hub.Subscribe(ports.TopicSSHEvent, 16)
	assert.NotEqual(t, a.ID(), b.ID())
	assert.Equal(t, 2, hub.SubscriberCount(ports.TopicSSHEvent))

	for _, ip := range []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"} {
		assert.Equal(t, 2, hub.Publish(ports.TopicSSHEvent, record(ip)))
	}

	for _, sub := range []ports.Subscription{a, b} {
		for _, want := range []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"} {
			got := <-sub.Events()
			assert.Equal(t, want, got.IP)
		}
	}
}

func TestHub_TopicsAreIsolated(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe("other", 4)

	assert.Equal(t, 0, hub.Publish(ports.TopicSSHEvent, record("1.1.1.1")))
	assert.Empty(t, sub.Events())
}

func TestHub_SlowSubscriberDrops(t *testing.T) {
	hub := NewHub()
	obs := &dropCounter{}
	hub.SetObserver(obs)

	slow := hub.Subscribe(ports.TopicSSHEvent, 1)
	fast := hub.Subscribe(ports.TopicSSHEvent, 8)

	for i := 0; i < 3; i++ {
		hub.Publish(ports.TopicSSHEvent, record("1.1.1.1"))
	}

	assert.Equal(t, int64(2), slow.Dropped())
	assert.Equal(t, int64(0), fast.Dropped())
	assert.Len(t, fast.Events(), 3)
	assert.Equal(t, 2, obs.dropped)
}

func TestHub_Unsubscribe(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe(ports.TopicSSHEvent, 4)

	hub.Unsubscribe(sub)
	hub.Unsubscribe(sub)
	hub.Unsubscribe(nil)

	_, open := <-sub.Events()
	assert.False(t, open)
	assert.Equal(t, 0, hub.SubscriberCount(ports.TopicSSHEvent))
	assert.Equal(t, 0, hub.Publish(ports.TopicSSHEvent, record("1.1.1.1")))
}

func TestHub_Close(t *testing.T) {
	hub := NewHub()
	sub := hub.Subscribe(ports.TopicSSHEvent, 4)

	hub.Close()
	_, open := <-sub.Events()
	assert.False(t, open)

	late := hub.Subscribe(ports.TopicSSHEvent, 4)
	_, open = <-late.Events()
	assert.False(t, open)
	hub.Close()
}

func TestHub_ConcurrentPublishAndUnsubscribe(t *testing.T) {
	hub := NewHub()
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sub := hub.Subscribe(ports.TopicSSHEvent, 2)
			for j := 0; j < 50; j++ {
				hub.Publish(ports.TopicSSHEvent, record("1.1.1.1"))
			}
			hub.Unsubscribe(sub)
		}()
	}
	wg.Wait()

	require.Equal(t, 0, hub.SubscriberCount(ports.TopicSSHEvent))
}
