// Package watcher turns a directory into a batch inbox: CSV files dropped
// into it are submitted as batch jobs once they stop changing.
package watcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/shortstudio/studio-agent/internal/logging"
	"github.com/shortstudio/studio-agent/internal/monitor"
	"github.com/shortstudio/studio-agent/internal/remote"
)

const (
	DefaultSettleDelay = 500 * time.Millisecond

	ProcessedDir = "processed"
	RejectedDir  = "rejected"
)

// Submitter starts a batch job from a CSV. Wait blocks until the running job,
// if any, reaches a terminal state. *studio.Session implements it.
type Submitter interface {
	Batch(ctx context.Context, filename string, r io.Reader) (*remote.BatchResponse, error)
	Wait(ctx context.Context) (monitor.Snapshot, error)
}

type EventType int

const (
	EventSubmitted EventType = iota
	EventRejected
)

func (t EventType) String() string {
	if t == EventSubmitted {
		return "submitted"
	}
	return "rejected"
}

type Event struct {
	Type  EventType
	Path  string
	JobID string
	Err   error
}

type Options struct {
	// SettleDelay is how long a file must stay unchanged before submission.
	SettleDelay time.Duration
}

// Inbox watches one directory. Submitted files move to processed/, failed
// ones to rejected/, so a file is never sent twice.
type Inbox struct {
	dir     string
	submit  Submitter
	logger  *slog.Logger
	settle  time.Duration
	watcher *fsnotify.Watcher

	mu       sync.Mutex
	pending  map[string]*pendingFile
	callback func(Event)

	ready    chan string
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

type pendingFile struct {
	size    int64
	modTime time.Time
	timer   *time.Timer
}

func New(dir string, submit Submitter, logger *slog.Logger, opts Options) (*Inbox, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	if opts.SettleDelay <= 0 {
		opts.SettleDelay = DefaultSettleDelay
	}
	dir = filepath.Clean(dir)

	for _, sub := range []string{"", ProcessedDir, RejectedDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("create inbox dir: %w", err)
		}
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fw.Add(dir); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch inbox: %w", err)
	}

	return &Inbox{
		dir:     dir,
		submit:  submit,
		logger:  logging.WithComponent(logger, "inbox"),
		settle:  opts.SettleDelay,
		watcher: fw,
		pending: make(map[string]*pendingFile),
		ready:   make(chan string, 16),
		done:    make(chan struct{}),
	}, nil
}

// OnChange registers the callback invoked after each submission attempt.
func (w *Inbox) OnChange(callback func(Event)) {
	w.mu.Lock()
	w.callback = callback
	w.mu.Unlock()
}

// Watch submits CSVs already waiting in the inbox, then follows new ones
// until ctx is done or Stop is called. Submissions run one at a time, each
// after the previous job has finished: the job service reports a single
// status, so starting a batch would orphan whatever is still running.
func (w *Inbox) Watch(ctx context.Context) error {
	w.logger.Info("watching batch inbox", "dir", logging.SanitizePath(w.dir))

	ctx, cancel := context.WithCancel(ctx)
	submitted := make(chan struct{})
	go func() {
		defer close(submitted)
		w.submitLoop(ctx)
	}()
	defer func() {
		cancel()
		<-submitted
	}()

	w.scanExisting()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.done:
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handle(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("inbox watch error", "error", err)
		}
	}
}

func (w *Inbox) submitLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.done:
			return
		case path := <-w.ready:
			w.process(ctx, path)
		}
	}
}

// Stop releases the watch and cancels settling timers.
func (w *Inbox) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)

		w.mu.Lock()
		for _, p := range w.pending {
			p.timer.Stop()
		}
		clear(w.pending)
		w.mu.Unlock()

		err = w.watcher.Close()
		w.wg.Wait()
	})
	return err
}

func (w *Inbox) scanExisting() {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		w.logger.Warn("failed to list inbox", "error", err)
		return
	}
	for _, e := range entries {
		if !e.IsDir() && isBatchFile(e.Name()) {
			w.startSettling(filepath.Join(w.dir, e.Name()))
		}
	}
}

func (w *Inbox) handle(event fsnotify.Event) {
	if filepath.Dir(event.Name) != w.dir || !isBatchFile(event.Name) {
		return
	}
	switch {
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		w.cancelPending(event.Name)
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		w.startSettling(event.Name)
	}
}

// isBatchFile accepts visible .csv files.
func isBatchFile(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~") {
		return false
	}
	return strings.EqualFold(filepath.Ext(name), ".csv")
}

func (w *Inbox) startSettling(path string) {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		w.cancelPending(path)
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.pending[path]; ok {
		p.timer.Stop()
	}
	p := &pendingFile{size: info.Size(), modTime: info.ModTime()}
	p.timer = time.AfterFunc(w.settle, func() { w.checkSettled(path) })
	w.pending[path] = p
}

// checkSettled hands the file to the watch loop once its size and mtime
// have held for a full settle delay.
func (w *Inbox) checkSettled(path string) {
	w.mu.Lock()
	p, ok := w.pending[path]
	if !ok {
		w.mu.Unlock()
		return
	}
	info, err := os.Stat(path)
	if err != nil {
		delete(w.pending, path)
		w.mu.Unlock()
		return
	}
	if info.Size() != p.size || !info.ModTime().Equal(p.modTime) {
		p.size = info.Size()
		p.modTime = info.ModTime()
		p.timer = time.AfterFunc(w.settle, func() { w.checkSettled(path) })
		w.mu.Unlock()
		return
	}
	delete(w.pending, path)
	w.wg.Add(1)
	w.mu.Unlock()

	defer w.wg.Done()
	select {
	case w.ready <- path:
	case <-w.done:
	}
}

func (w *Inbox) cancelPending(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.pending[path]; ok {
		p.timer.Stop()
		delete(w.pending, path)
	}
}

func (w *Inbox) process(ctx context.Context, path string) {
	name := filepath.Base(path)
	log := w.logger.With("file", name)

	// A file left behind here is picked up again by the next scan.
	if snap, err := w.submit.Wait(ctx); err != nil {
		log.Debug("inbox stopped while a job was running", "kind", snap.Kind)
		return
	}

	f, err := os.Open(path)
	if err != nil {
		log.Warn("failed to open batch file", "error", err)
		return
	}
	resp, err := w.submit.Batch(ctx, name, f)
	f.Close()

	event := Event{Path: path, Err: err}
	dest := RejectedDir
	if err == nil {
		event.Type = EventSubmitted
		event.JobID = resp.JobID
		dest = ProcessedDir
		log.Info("batch submitted from inbox", "rows", resp.Rows, "job_id", resp.JobID)
	} else {
		event.Type = EventRejected
		log.Error("batch from inbox rejected", "error", err)
	}

	moved, merr := w.move(path, dest)
	if merr != nil {
		log.Warn("failed to move batch file", "dest", dest, "error", merr)
	} else {
		event.Path = moved
	}

	w.mu.Lock()
	cb := w.callback
	w.mu.Unlock()
	if cb != nil {
		cb(event)
	}
}

// move renames path into sub, prefixing a timestamp when the name is taken.
func (w *Inbox) move(path, sub string) (string, error) {
	target := filepath.Join(w.dir, sub, filepath.Base(path))
	if _, err := os.Stat(target); err == nil {
		target = filepath.Join(w.dir, sub, time.Now().UTC().Format("20060102T150405.000")+"_"+filepath.Base(path))
	}
	if err := os.Rename(path, target); err != nil {
		return "", err
	}
	return target, nil
}
