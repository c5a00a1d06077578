package watcher

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shortstudio/studio-agent/internal/monitor"
	"github.com/shortstudio/studio-agent/internal/remote"
)

type fakeSubmitter struct {
	mu    sync.Mutex
	files map[string]string
	err   error

	// hold keeps each submitted batch running until finish is called.
	hold    bool
	running chan struct{}
}

func (f *fakeSubmitter) Batch(_ context.Context, filename string, r io.Reader) (*remote.BatchResponse, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.files == nil {
		f.files = make(map[string]string)
	}
	f.files[filename] = string(b)
	if f.err != nil {
		return nil, f.err
	}
	if f.hold {
		f.running = make(chan struct{})
	}
	return &remote.BatchResponse{Rows: 1, JobID: "batch-" + filename}, nil
}

func (f *fakeSubmitter) Wait(ctx context.Context) (monitor.Snapshot, error) {
	f.mu.Lock()
	running := f.running
	f.mu.Unlock()
	if running == nil {
		return monitor.Idle(), nil
	}
	select {
	case <-running:
		return monitor.Snapshot{Kind: monitor.KindBatch, State: monitor.StateDone}, nil
	case <-ctx.Done():
		return monitor.Snapshot{Kind: monitor.KindBatch, State: monitor.StatePolling}, ctx.Err()
	}
}

func (f *fakeSubmitter) finish() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running != nil {
		close(f.running)
		f.running = nil
	}
}

func (f *fakeSubmitter) submitted() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.files))
	for k, v := range f.files {
		out[k] = v
	}
	return out
}

type harness struct {
	inbox  *Inbox
	dir    string
	sub    *fakeSubmitter
	mu     sync.Mutex
	events []Event
}

func startInbox(t *testing.T, sub *fakeSubmitter, before func(dir string)) *harness {
	t.Helper()
	dir := t.TempDir()
	if before != nil {
		before(dir)
	}

	inbox, err := New(dir, sub, nil, Options{SettleDelay: 20 * time.Millisecond})
	require.NoError(t, err)

	h := &harness{inbox: inbox, dir: dir, sub: sub}
	inbox.OnChange(func(e Event) {
		h.mu.Lock()
		h.events = append(h.events, e)
		h.mu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		inbox.Watch(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
		inbox.Stop()
	})
	return h
}

func (h *harness) eventCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.events)
}

func (h *harness) event(i int) Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.events[i]
}

func TestInbox_SubmitsNewCSV(t *testing.T) {
	sub := &fakeSubmitter{}
	h := startInbox(t, sub, nil)

	require.NoError(t, os.WriteFile(filepath.Join(h.dir, "monday.csv"), []byte("texto\nhola\n"), 0o644))

	require.Eventually(t, func() bool { return h.eventCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	e := h.event(0)
	assert.Equal(t, EventSubmitted, e.Type)
	assert.Equal(t, "batch-monday.csv", e.JobID)
	assert.Equal(t, filepath.Join(h.dir, ProcessedDir, "monday.csv"), e.Path)
	assert.Equal(t, "texto\nhola\n", sub.submitted()["monday.csv"])

	_, err := os.Stat(filepath.Join(h.dir, "monday.csv"))
	assert.True(t, os.IsNotExist(err))
}

func TestInbox_IgnoresOtherFiles(t *testing.T) {
	sub := &fakeSubmitter{}
	h := startInbox(t, sub, nil)

	for _, name := range []string{"notes.txt", ".hidden.csv", "~lock.csv"} {
		require.NoError(t, os.WriteFile(filepath.Join(h.dir, name), []byte("x"), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(h.dir, "real.CSV"), []byte("texto\nuno\n"), 0o644))

	require.Eventually(t, func() bool { return h.eventCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	time.Sleep(60 * time.Millisecond)

	assert.Equal(t, 1, h.eventCount())
	assert.Contains(t, sub.submitted(), "real.CSV")
	assert.Len(t, sub.submitted(), 1)
}

func TestInbox_RejectedMovesAside(t *testing.T) {
	sub := &fakeSubmitter{err: errors.New("batch file has no scripts")}
	h := startInbox(t, sub, nil)

	require.NoError(t, os.WriteFile(filepath.Join(h.dir, "empty.csv"), []byte("\n"), 0o644))

	require.Eventually(t, func() bool { return h.eventCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	e := h.event(0)
	assert.Equal(t, EventRejected, e.Type)
	assert.EqualError(t, e.Err, "batch file has no scripts")
	assert.Equal(t, filepath.Join(h.dir, RejectedDir, "empty.csv"), e.Path)
}

func TestInbox_PicksUpExistingFiles(t *testing.T) {
	sub := &fakeSubmitter{}
	h := startInbox(t, sub, func(dir string) {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "waiting.csv"), []byte("texto\nya\n"), 0o644))
	})

	require.Eventually(t, func() bool { return h.eventCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, sub.submitted(), "waiting.csv")
}

func TestInbox_WaitsForRunningBatch(t *testing.T) {
	sub := &fakeSubmitter{hold: true}
	h := startInbox(t, sub, nil)

	require.NoError(t, os.WriteFile(filepath.Join(h.dir, "first.csv"), []byte("texto\nuno\n"), 0o644))
	require.Eventually(t, func() bool { return h.eventCount() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(h.dir, "second.csv"), []byte("texto\ndos\n"), 0o644))
	time.Sleep(100 * time.Millisecond)
	assert.Len(t, sub.submitted(), 1, "second file waits while the first batch runs")
	_, err := os.Stat(filepath.Join(h.dir, "second.csv"))
	assert.NoError(t, err, "waiting file stays in the inbox")

	sub.finish()
	require.Eventually(t, func() bool { return h.eventCount() == 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, sub.submitted(), "second.csv")
	assert.Equal(t, EventSubmitted, h.event(1).Type)
}

func TestInbox_StopWhileWaiting(t *testing.T) {
	sub := &fakeSubmitter{hold: true}
	h := startInbox(t, sub, nil)

	require.NoError(t, os.WriteFile(filepath.Join(h.dir, "first.csv"), []byte("texto\nuno\n"), 0o644))
	require.Eventually(t, func() bool { return h.eventCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(h.dir, "second.csv"), []byte("texto\ndos\n"), 0o644))
	time.Sleep(60 * time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- h.inbox.Stop() }()
	select {
	case err := <-stopped:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked behind a running batch")
	}
	_, err := os.Stat(filepath.Join(h.dir, "second.csv"))
	assert.NoError(t, err)
}

func TestIsBatchFile(t *testing.T) {
	assert.True(t, isBatchFile("/in/a.csv"))
	assert.True(t, isBatchFile("B.Csv"))
	assert.False(t, isBatchFile("a.csv.tmp"))
	assert.False(t, isBatchFile(".a.csv"))
	assert.False(t, isBatchFile("a.txt"))
}

func TestStop_Idempotent(t *testing.T) {
	inbox, err := New(t.TempDir(), &fakeSubmitter{}, nil, Options{})
	require.NoError(t, err)
	require.NoError(t, inbox.Stop())
	assert.NoError(t, inbox.Stop())
}
