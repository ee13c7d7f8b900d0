package input

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type readResult struct {
	line string
	err  error
}

func readAsync(stream interface{ ReadLine() (string, error) }) <-chan readResult {
	ch := make(chan readResult, 1)
	go func() {
		line, err := stream.ReadLine()
		ch <- readResult{line, err}
	}()
	return ch
}

func TestFileFollower_MissingFile(t *testing.T) {
	f := NewFileFollower(filepath.Join(t.TempDir(), "nope.log"))
	_, err := f.Open(context.Background())
	require.Error(t, err)
}

func TestFileFollower_FromBeginning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.log")
	writeFile(t, path, "first\nsecond\n")

	f := NewFileFollower(path)
	f.SetFromBeginning(true)
	f.SetPoll(true)

	stream, err := f.Open(context.Background())
	require.NoError(t, err)
	defer stream.Close()

	for _, want := range []string{"first", "second"} {
		select {
		case res := <-readAsync(stream):
			require.NoError(t, res.err)
			assert.Equal(t, want, res.line)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for %q", want)
		}
	}
}

func TestFileFollower_FollowsAppends(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.log")
	writeFile(t, path, "old line\n")

	f := NewFileFollower(path)
	f.SetPoll(true)

	stream, err := f.Open(context.Background())
	require.NoError(t, err)
	defer stream.Close()

	pending := readAsync(stream)
	time.Sleep(300 * time.Millisecond)

	fh, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = fh.WriteString("new line\n")
	require.NoError(t, err)
	require.NoError(t, fh.Close())

	select {
	case res := <-pending:
		require.NoError(t, res.err)
		assert.Equal(t, "new line", res.line)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for appended line")
	}
}

func TestFileFollower_CloseUnblocksRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auth.log")
	writeFile(t, path, "")

	stream, err := NewFileFollower(path).Open(context.Background())
	require.NoError(t, err)

	pending := readAsync(stream)
	require.NoError(t, stream.Close())
	require.NoError(t, stream.Close())

	select {
	case res := <-pending:
		assert.Equal(t, io.EOF, res.err)
	case <-time.After(5 * time.Second):
		t.Fatal("ReadLine did not unblock after Close")
	}
}
