package output

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xoelrdgz/authradar/internal/app"
	"github.com/xoelrdgz/authradar/internal/domain"
	"github.com/xoelrdgz/authradar/internal/ports"
)

func liveRecord(ip, port string) domain.EventRecord {
	return domain.EventRecord{
		IP:        ip,
		Kind:      domain.KindFailedLogin,
		Type:      domain.KindFailedLogin,
		Status:    "failed",
		Timestamp: time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC),
		User:      "root",
		Port:      port,
		Raw:       "Failed password for root from " + ip,
	}
}

func TestJSONEventWriter_NDJSON(t *testing.T) {
	var buf bytes.Buffer
	w, err := NewJSONEventWriter(JSONEventWriterConfig{Writer: &buf})
	require.NoError(t, err)

	require.NoError(t, w.Write(liveRecord("1.1.1.1", "22")))
	require.NoError(t, w.Write(liveRecord("2.2.2.2", "unknown")))
	require.NoError(t, w.Close())
	require.NoError(t, w.Close())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "1.1.1.1", first["ip"])
	assert.Equal(t, "failed_login", first["kind"])
	assert.Equal(t, "failed_login", first["type"])
	assert.Equal(t, "failed", first["status"])
	assert.Equal(t, "22", first["port"])
}

func TestJSONEventWriter_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.ndjson")
	w, err := NewJSONEventWriter(JSONEventWriterConfig{FilePath: path})
	require.NoError(t, err)

	require.NoError(t, w.Write(liveRecord("1.1.1.1", "22")))
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	info, err := f.Stat()
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	scanner := bufio.NewScanner(f)
	count := 0
	for scanner.Scan() {
		count++
	}
	assert.Equal(t, 1, count)
}

func TestEventRing(t *testing.T) {
	ring := NewEventRing(3)
	assert.Empty(t, ring.Latest(0))

	for _, ip := range []string{"1.1.1.1", "2.2.2.2", "3.3.3.3", "4.4.4.4"} {
		require.NoError(t, ring.Write(liveRecord(ip, "22")))
	}

	assert.Equal(t, 3, ring.Count())
	all := ring.Latest(0)
	require.Len(t, all, 3)
	assert.Equal(t, "2.2.2.2", all[0].IP)
	assert.Equal(t, "4.4.4.4", all[2].IP)

	last := ring.Latest(1)
	require.Len(t, last, 1)
	assert.Equal(t, "4.4.4.4", last[0].IP)
}

func TestConsume_StopsOnUnsubscribe(t *testing.T) {
	hub := app.NewHub()
	sub := hub.Subscribe(ports.TopicSSHEvent, 8)
	ring := NewEventRing(10)

	done := make(chan struct{})
	go func() {
		Consume(context.Background(), sub, ring)
		close(done)
	}()

	hub.Publish(ports.TopicSSHEvent, liveRecord("1.1.1.1", "22"))
	hub.Publish(ports.TopicSSHEvent, liveRecord("2.2.2.2", "22"))
	assert.Eventually(t, func() bool { return ring.Count() == 2 }, time.Second, 5*time.Millisecond)

	hub.Unsubscribe(sub)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Consume did not return")
	}
}
