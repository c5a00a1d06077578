package monitor

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shortstudio/studio-agent/internal/logging"
)

const (
	DefaultInterval       = 800 * time.Millisecond
	DefaultRequestTimeout = 10 * time.Second
)

// StatusFetcher queries the job service for the progress of one job.
type StatusFetcher interface {
	ExportStatus(ctx context.Context, jobID string) (Status, error)
}

type Option func(*Monitor)

// WithInterval sets the poll cadence.
func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithRequestTimeout bounds a single status query.
func WithRequestTimeout(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.requestTimeout = d
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

// Monitor owns at most one poll loop. Starting a job cancels and joins the
// previous loop before the new one is launched, so two loops never overlap.
type Monitor struct {
	fetcher        StatusFetcher
	logger         *slog.Logger
	interval       time.Duration
	requestTimeout time.Duration
	now            func() time.Time

	// lifecycle serializes Start and Stop.
	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}

	mu        sync.Mutex
	gen       uint64
	snap      Snapshot
	rules     Rules
	observers []func(Snapshot)

	loops atomic.Int32
}

func New(fetcher StatusFetcher, logger *slog.Logger, opts ...Option) *Monitor {
	if logger == nil {
		logger = logging.Discard()
	}
	m := &Monitor{
		fetcher:        fetcher,
		logger:         logging.WithComponent(logger, "monitor"),
		interval:       DefaultInterval,
		requestTimeout: DefaultRequestTimeout,
		now:            time.Now,
		snap:           Idle(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnChange registers fn to receive every snapshot transition. Observers run
// synchronously under the monitor's state lock and must not call back into
// the Monitor.
func (m *Monitor) OnChange(fn func(Snapshot)) {
	m.mu.Lock()
	m.observers = append(m.observers, fn)
	m.mu.Unlock()
}

// Start resets progress to InitialStatus and begins polling jobID.
func (m *Monitor) Start(jobID, kind string, rules Rules) {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.stopLocked()

	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.rules = rules
	m.setLocked(Begin(jobID, kind, m.now()))
	m.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.cancel = cancel
	m.done = done

	m.loops.Add(1)
	go m.run(ctx, gen, jobID, done)

	logging.WithKind(logging.WithJobID(m.logger, jobID), kind).Debug("poll loop started",
		"interval", m.interval.String())
}

// Stop cancels and joins the running loop. A job still polling rolls back to
// idle; a finished job keeps its terminal snapshot.
func (m *Monitor) Stop() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.stopLocked()

	m.mu.Lock()
	if next := m.snap.Cancel(m.now()); next != m.snap {
		m.setLocked(next)
	}
	m.mu.Unlock()
}

// Finish cancels and joins the running loop and marks the job done, even if
// polling had already failed. An idle or done snapshot is left alone.
func (m *Monitor) Finish() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.stopLocked()

	m.mu.Lock()
	if next := m.snap.Complete(m.now()); next != m.snap {
		m.setLocked(next)
	}
	m.mu.Unlock()
}

func (m *Monitor) stopLocked() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
	m.cancel = nil
	m.done = nil

	// Invalidate anything the old loop might still deliver.
	m.mu.Lock()
	m.gen++
	m.mu.Unlock()
}

// Wait blocks until the current loop exits or ctx is done and returns the
// latest snapshot.
func (m *Monitor) Wait(ctx context.Context) (Snapshot, error) {
	m.lifecycle.Lock()
	done := m.done
	m.lifecycle.Unlock()

	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return m.Snapshot(), ctx.Err()
		}
	}
	return m.Snapshot(), nil
}

// Active reports whether a poll loop is running.
func (m *Monitor) Active() bool {
	return m.loops.Load() > 0
}

// Loops returns the number of live poll loops. It never exceeds one.
func (m *Monitor) Loops() int {
	return int(m.loops.Load())
}

func (m *Monitor) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

func (m *Monitor) run(ctx context.Context, gen uint64, jobID string, done chan struct{}) {
	defer close(done)
	defer m.loops.Add(-1)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !m.poll(ctx, gen, jobID) {
			return
		}
	}
}

// poll runs one status query and reports whether the loop should continue.
func (m *Monitor) poll(ctx context.Context, gen uint64, jobID string) bool {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return false
	}
	if next := m.snap.CheckDeadline(m.rules, m.now()); next != m.snap {
		m.setLocked(next)
		m.mu.Unlock()
		m.logger.Warn("job timed out", "job_id", jobID)
		return false
	}
	m.mu.Unlock()

	reqCtx, cancel := context.WithTimeout(ctx, m.requestTimeout)
	status, err := m.fetcher.ExportStatus(reqCtx, jobID)
	cancel()

	if ctx.Err() != nil {
		return false
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return false
	}

	var next Snapshot
	if err != nil {
		next = m.snap.ApplyError(jobID, err, m.rules, m.now())
		m.logger.Warn("status query failed",
			"job_id", jobID,
			"failures", next.Failures,
			"error", err)
	} else {
		next = m.snap.ApplyStatus(jobID, status, m.rules, m.now())
		if next == m.snap {
			m.logger.Debug("dropped status for another job",
				"job_id", jobID,
				"status_job_id", status.JobID)
		}
	}
	if next != m.snap {
		m.setLocked(next)
	}

	switch next.State {
	case StateDone:
		m.logger.Info("job finished", "job_id", jobID, "status", next.Status.Label)
		return false
	case StateFailed:
		m.logger.Error("job failed", "job_id", jobID, "error", next.Error)
		return false
	}
	return true
}

// setLocked stores snap and notifies observers. m.mu must be held.
func (m *Monitor) setLocked(snap Snapshot) {
	m.snap = snap
	for _, fn := range m.observers {
		fn(snap)
	}
}
