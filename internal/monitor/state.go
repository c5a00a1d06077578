// Package monitor tracks the progress of one remote job at a time by polling
// the job service's status endpoint on a fixed cadence.
//
// The transition functions on Snapshot are pure; Monitor owns the single
// cancellable poll loop that feeds them.
package monitor

import (
	"strings"
	"time"
)

type State string

const (
	StateIdle    State = "idle"
	StatePolling State = "polling"
	StateDone    State = "done"
	StateFailed  State = "failed"
)

// Terminal reports whether no further polls will be issued in this state.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

const (
	KindAnalyze = "analyze"
	KindExport  = "export"
	KindBatch   = "batch"
)

const (
	DefaultMaxFailures = 3
	DefaultTimeout     = 30 * time.Minute
	DefaultErrorMarker = "error"
)

// Status is the payload of the job service status endpoint.
type Status struct {
	Label   string `json:"status"`
	Percent int    `json:"percent"`
	// JobID is set by services that tag status responses with their job.
	JobID string `json:"job_id,omitempty"`
}

// InitialStatus is the value every new job starts from.
var InitialStatus = Status{Label: "waiting", Percent: 0}

// Rules decide when a polled job is finished or failed.
type Rules struct {
	// MaxFailures consecutive poll errors fail the job.
	MaxFailures int
	// Timeout bounds the wall-clock time spent polling one job.
	Timeout time.Duration
	// CompletionMarker, when set, must appear in the status label before
	// percent 100 counts as done. Multi-job flows report 100 per step.
	CompletionMarker string
	// ErrorMarker in the status label means the service reported a failure.
	ErrorMarker string
}

// DefaultRules are used for single-job flows (analyze, export).
func DefaultRules() Rules {
	return Rules{
		MaxFailures: DefaultMaxFailures,
		Timeout:     DefaultTimeout,
		ErrorMarker: DefaultErrorMarker,
	}
}

// BatchRules require marker in the label before declaring the batch done.
func BatchRules(marker string) Rules {
	r := DefaultRules()
	r.CompletionMarker = marker
	return r
}

func (r Rules) maxFailures() int {
	if r.MaxFailures < 1 {
		return 1
	}
	return r.MaxFailures
}

// Snapshot is the observable progress of one job.
type Snapshot struct {
	JobID     string    `json:"job_id"`
	Kind      string    `json:"kind"`
	State     State     `json:"state"`
	Status    Status    `json:"status"`
	Failures  int       `json:"failures"`
	Error     string    `json:"error,omitempty"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Idle is the snapshot before any job has started.
func Idle() Snapshot {
	return Snapshot{State: StateIdle, Status: InitialStatus}
}

// Begin starts tracking a job from InitialStatus.
func Begin(jobID, kind string, now time.Time) Snapshot {
	return Snapshot{
		JobID:     jobID,
		Kind:      kind,
		State:     StatePolling,
		Status:    InitialStatus,
		StartedAt: now,
		UpdatedAt: now,
	}
}

// Loading mirrors the view's busy flag.
func (s Snapshot) Loading() bool {
	return s.State == StatePolling
}

// ApplyStatus folds one successful poll into the snapshot. Responses for a
// different job, or arriving after a terminal state, are ignored.
func (s Snapshot) ApplyStatus(jobID string, st Status, rules Rules, now time.Time) Snapshot {
	if s.State != StatePolling || jobID != s.JobID {
		return s
	}
	if st.JobID != "" && s.JobID != "" && st.JobID != s.JobID {
		return s
	}

	s.Status = st
	s.Failures = 0
	s.Error = ""
	s.UpdatedAt = now

	label := strings.ToLower(st.Label)
	switch {
	case rules.ErrorMarker != "" && strings.Contains(label, strings.ToLower(rules.ErrorMarker)):
		s.State = StateFailed
		s.Error = st.Label
	case st.Percent >= 100 && (rules.CompletionMarker == "" ||
		strings.Contains(label, strings.ToLower(rules.CompletionMarker))):
		s.State = StateDone
	}
	return s
}

// ApplyError records a failed poll. The job fails once the consecutive
// failure count reaches the rule limit.
func (s Snapshot) ApplyError(jobID string, err error, rules Rules, now time.Time) Snapshot {
	if s.State != StatePolling || jobID != s.JobID {
		return s
	}

	s.Failures++
	s.Error = err.Error()
	s.UpdatedAt = now
	if s.Failures >= rules.maxFailures() {
		s.State = StateFailed
	}
	return s
}

// CheckDeadline fails a job that has been polling longer than the rule timeout.
func (s Snapshot) CheckDeadline(rules Rules, now time.Time) Snapshot {
	if s.State != StatePolling || rules.Timeout <= 0 {
		return s
	}
	if now.Sub(s.StartedAt) < rules.Timeout {
		return s
	}
	s.State = StateFailed
	s.Error = "timed out after " + rules.Timeout.String()
	s.UpdatedAt = now
	return s
}

// Complete marks a job done without a final poll, for jobs whose result
// arrives in the submission response. That response is authoritative, so a
// loop that already failed on status errors is overridden too.
func (s Snapshot) Complete(now time.Time) Snapshot {
	if s.State != StatePolling && s.State != StateFailed {
		return s
	}
	s.State = StateDone
	s.Failures = 0
	s.Error = ""
	s.UpdatedAt = now
	return s
}

// Cancel rolls an in-flight job back to idle. Terminal snapshots are kept.
func (s Snapshot) Cancel(now time.Time) Snapshot {
	if s.State != StatePolling {
		return s
	}
	s.State = StateIdle
	s.UpdatedAt = now
	return s
}
