// Package studio is the state-transition surface the view layer drives: it
// owns the storyboard, selections and subtitle segments of the current
// script and starts analyze, export and batch jobs against the job service.
package studio

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/shortstudio/studio-agent/internal/export"
	"github.com/shortstudio/studio-agent/internal/jobs"
	"github.com/shortstudio/studio-agent/internal/logging"
	"github.com/shortstudio/studio-agent/internal/monitor"
	"github.com/shortstudio/studio-agent/internal/playback"
	"github.com/shortstudio/studio-agent/internal/remote"
	"github.com/shortstudio/studio-agent/internal/storyboard"
)

const (
	maxBatchBytes = 10 << 20
	recordTimeout = 5 * time.Second

	DefaultBatchMarker = "done"
)

var ErrJobNotFound = errors.New("job not found")

type Options struct {
	Remote  remote.Client
	Jobs    jobs.Repository
	Monitor *monitor.Monitor
	Logger  *slog.Logger

	// Rules apply to analyze and export; batch adds BatchMarker.
	Rules       monitor.Rules
	BatchMarker string
	Defaults    Settings
}

// State is what the view renders.
type State struct {
	Script     string                `json:"script"`
	Storyboard storyboard.Storyboard `json:"storyboard"`
	Selections map[string]string     `json:"selections"`
	Segments   []storyboard.Segment  `json:"segments"`
	AudioURL   string                `json:"audio_url,omitempty"`
	JobID      string                `json:"job_id,omitempty"`
	Loading    bool                  `json:"loading"`
	Complete   bool                  `json:"complete"`
	Progress   monitor.Snapshot      `json:"progress"`
	Notice     string                `json:"notice,omitempty"`
}

type Session struct {
	remote     remote.Client
	repo       jobs.Repository
	monitor    *monitor.Monitor
	logger     *slog.Logger
	rules      monitor.Rules
	batchRules monitor.Rules
	now        func() time.Time

	selections *storyboard.Selections
	sync       *playback.Synchronizer

	// opMu serializes job starts, completions and cancellation. It is never
	// held while a request to the job service is in flight.
	opMu sync.Mutex
	seq  uint64

	mu          sync.RWMutex
	script      string
	board       storyboard.Storyboard
	segments    []storyboard.Segment
	audioURL    string
	remoteJobID string
	settings    Settings

	// trackMu guards the history record fed by monitor transitions.
	trackMu sync.Mutex
	tracked *jobs.Job

	noticeMu sync.Mutex
	notice   string
}

func New(ctx context.Context, opts Options) (*Session, error) {
	if opts.Remote == nil {
		return nil, errors.New("studio: remote client is required")
	}
	if opts.Jobs == nil {
		return nil, errors.New("studio: job repository is required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	mon := opts.Monitor
	if mon == nil {
		mon = monitor.New(opts.Remote, logger)
	}

	rules := opts.Rules
	if rules == (monitor.Rules{}) {
		rules = monitor.DefaultRules()
	}
	batchRules := rules
	batchRules.CompletionMarker = opts.BatchMarker
	if batchRules.CompletionMarker == "" {
		batchRules.CompletionMarker = DefaultBatchMarker
	}

	defaults := opts.Defaults
	if defaults == (Settings{}) {
		defaults = DefaultSettings("")
	}

	s := &Session{
		remote:     opts.Remote,
		repo:       opts.Jobs,
		monitor:    mon,
		logger:     logging.WithComponent(logger, "studio"),
		rules:      rules,
		batchRules: batchRules,
		now:        time.Now,
		selections: storyboard.NewSelections(),
	}
	s.sync = playback.NewSynchronizer(s.selections)

	settings, err := s.loadSettings(ctx, defaults)
	if err != nil {
		return nil, err
	}
	s.settings = settings

	mon.OnChange(s.record)
	return s, nil
}

// Analyze submits script and, on success, replaces the storyboard, segments
// and selections wholesale. Any earlier poll loop is cancelled first. On
// failure nothing from the response is kept.
func (s *Session) Analyze(ctx context.Context, script string) error {
	if strings.TrimSpace(script) == "" {
		s.setNotice(ErrEmptyScript.Error())
		return ErrEmptyScript
	}

	settings := s.Settings()

	s.mu.Lock()
	s.script = script
	s.board = nil
	s.segments = nil
	s.audioURL = ""
	s.remoteJobID = ""
	s.mu.Unlock()
	s.selections.Reset()
	s.sync.Load(nil, nil)
	s.setNotice("")

	seq := s.startJob(ctx, monitor.KindAnalyze, "", s.rules)

	resp, err := s.remote.Analyze(ctx, remote.AnalyzeRequest{Script: script, Voice: settings.Voice})
	if err == nil {
		err = checkAnalysis(resp)
	}
	if err != nil {
		err = fmt.Errorf("analyze: %w", err)
		s.abort(seq, err)
		return err
	}

	audio := resp.AudioURL
	if audio == "" {
		audio = remote.DefaultAudioPath
	}
	audioURL := s.remote.AssetURL(audio, s.now())
	timing := resp.Timing()

	s.opMu.Lock()
	defer s.opMu.Unlock()
	if seq != s.seq {
		s.logger.Info("discarding analysis superseded by a newer job", "job_id", resp.JobID)
		return nil
	}

	s.mu.Lock()
	s.board = resp.Storyboard
	s.segments = timing
	s.audioURL = audioURL
	s.remoteJobID = resp.JobID
	s.mu.Unlock()
	s.selections.SetDefaults(resp.Storyboard)
	s.sync.Load(resp.Storyboard, timing)

	s.trackMu.Lock()
	if s.tracked != nil {
		s.tracked.RemoteJobID = resp.JobID
	}
	s.trackMu.Unlock()

	s.monitor.Finish()

	s.logger.Info("storyboard ready",
		"job_id", resp.JobID,
		"keywords", resp.Storyboard.Len(),
		"segments", len(timing))
	return nil
}

func checkAnalysis(resp *remote.AnalyzeResponse) error {
	if resp.Status != "" && resp.Status != remote.StatusSuccess {
		return fmt.Errorf("%w: status %q", ErrAnalysisFailed, resp.Status)
	}
	if resp.Storyboard.Len() == 0 {
		return ErrNoClips
	}
	return nil
}

// Select records the user's pick for one keyword.
func (s *Session) Select(keyword, link string) error {
	return s.SelectMany(map[string]string{keyword: link})
}

// SelectMany applies picks only if all of them are valid.
func (s *Session) SelectMany(picks map[string]string) error {
	s.mu.RLock()
	board := s.board
	s.mu.RUnlock()

	for keyword, link := range picks {
		entry, ok := board.Find(keyword)
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownKeyword, keyword)
		}
		if _, ok := entry.Option(link); !ok {
			return fmt.Errorf("%w: %s", ErrUnknownOption, keyword)
		}
	}
	for keyword, link := range picks {
		s.selections.Select(keyword, link)
	}
	return nil
}

// Export submits the current selections for rendering. Progress and
// completion are observed only through the monitor.
func (s *Session) Export(ctx context.Context) error {
	s.mu.RLock()
	board := s.board
	segments := s.segments
	script := s.script
	remoteJobID := s.remoteJobID
	settings := s.settings
	s.mu.RUnlock()

	if err := s.selections.CheckExportable(board); err != nil {
		s.setNotice(err.Error())
		return err
	}

	seq := s.startJob(ctx, monitor.KindExport, remoteJobID, s.rules)

	_, err := s.remote.Export(ctx, remote.ExportRequest{
		JobID:      remoteJobID,
		Script:     script,
		Voice:      settings.Voice,
		Selections: s.selections.Snapshot(),
		Timestamps: segments,
		Preset:     settings.Preset,
		Position:   settings.Position,
		FontSize:   settings.FontSize,
		OutputPath: settings.OutputPath,
	})
	if err != nil {
		err = fmt.Errorf("export: %w", err)
		s.abort(seq, err)
		return err
	}

	s.logger.Info("export started", "job_id", remoteJobID, "clips", board.Len())
	return nil
}

// Batch validates and uploads a CSV of scripts, then follows the batch until
// the status label carries the completion marker.
func (s *Session) Batch(ctx context.Context, filename string, r io.Reader) (*remote.BatchResponse, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxBatchBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read batch file: %w", err)
	}
	if len(data) > maxBatchBytes {
		return nil, fmt.Errorf("%w: file exceeds %d bytes", ErrInvalidBatch, maxBatchBytes)
	}

	rows, err := countRecords(data)
	if err != nil {
		s.setNotice(err.Error())
		return nil, err
	}
	s.setNotice("")

	seq := s.startJob(ctx, monitor.KindBatch, "", s.batchRules)

	resp, err := s.remote.Batch(ctx, filename, bytes.NewReader(data))
	if err != nil {
		err = fmt.Errorf("batch: %w", err)
		s.abort(seq, err)
		return nil, err
	}

	s.logger.Info("batch started", "file", logging.SanitizePath(filename), "rows", rows, "accepted", resp.Rows)
	return resp, nil
}

// countRecords returns the number of non-blank CSV records.
func countRecords(data []byte) (int, error) {
	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = -1

	n := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidBatch, err)
		}
		for _, field := range rec {
			if strings.TrimSpace(field) != "" {
				n++
				break
			}
		}
	}
	if n == 0 {
		return 0, ErrEmptyBatch
	}
	return n, nil
}

// Preview advances the synchronizer to the audio clock.
func (s *Session) Preview(t, duration float64, audioPaused bool) playback.Frame {
	return s.sync.Tick(t, duration, audioPaused)
}

// SetPreview attaches the clip player driven on clip changes.
func (s *Session) SetPreview(p playback.Preview) {
	s.sync.SetPreview(p)
}

// Timeline writes the current storyboard as an EDL and SRT pair.
func (s *Session) Timeline(req export.TimelineRequest) (export.TimelineResult, error) {
	if req.Duration <= 0 {
		return export.TimelineResult{}, ErrInvalidDuration
	}

	s.mu.RLock()
	board := s.board
	segments := s.segments
	outputDir := s.settings.OutputPath
	s.mu.RUnlock()

	if board.Len() == 0 {
		return export.TimelineResult{}, storyboard.ErrEmptyStoryboard
	}
	if req.OutputDir != "" {
		outputDir = req.OutputDir
	}

	clips, unresolved := export.BuildTimeline(board, s.selections, req.Duration)
	if len(clips) == 0 {
		return export.TimelineResult{}, fmt.Errorf("%w: missing %s",
			storyboard.ErrIncompleteSelections, strings.Join(unresolved, ", "))
	}

	res, err := export.WriteTimeline(outputDir, req.ProjectName, req.FrameRate, clips, segments)
	if err != nil {
		return export.TimelineResult{}, err
	}
	res.Unresolved = unresolved

	s.logger.Info("timeline written", "edl", logging.SanitizePath(res.EDLPath), "clips", res.ClipCount)
	return res, nil
}

// Cancel stops the poll loop and drops any in-flight analysis result.
func (s *Session) Cancel() {
	s.opMu.Lock()
	s.seq++
	s.monitor.Stop()
	s.opMu.Unlock()
	s.setNotice("job cancelled")
}

// Close stops polling on teardown.
func (s *Session) Close() {
	s.opMu.Lock()
	defer s.opMu.Unlock()
	s.seq++
	s.monitor.Stop()
}

func (s *Session) State() State {
	progress := s.monitor.Snapshot()

	s.mu.RLock()
	st := State{
		Script:     s.script,
		Storyboard: s.board,
		Segments:   s.segments,
		AudioURL:   s.audioURL,
		JobID:      s.remoteJobID,
	}
	board := s.board
	s.mu.RUnlock()

	st.Selections = s.selections.Snapshot()
	st.Complete = board.Len() > 0 && s.selections.IsComplete(board)
	st.Progress = progress
	st.Loading = progress.Loading()
	st.Notice = s.Notice()
	return st
}

func (s *Session) Progress() monitor.Snapshot {
	return s.monitor.Snapshot()
}

// OnProgress registers fn for every progress transition. fn runs on the
// poll goroutine and must not call back into the Session's job methods.
func (s *Session) OnProgress(fn func(monitor.Snapshot)) {
	s.monitor.OnChange(fn)
}

// Wait blocks until the current poll loop ends.
func (s *Session) Wait(ctx context.Context) (monitor.Snapshot, error) {
	return s.monitor.Wait(ctx)
}

func (s *Session) Jobs(ctx context.Context, limit int) ([]*jobs.Job, error) {
	return s.repo.ListJobs(ctx, limit)
}

func (s *Session) Job(ctx context.Context, id string) (*jobs.Job, error) {
	job, err := s.repo.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return job, nil
}

func (s *Session) Notice() string {
	s.noticeMu.Lock()
	defer s.noticeMu.Unlock()
	return s.notice
}

func (s *Session) setNotice(msg string) {
	s.noticeMu.Lock()
	s.notice = msg
	s.noticeMu.Unlock()
}

// startJob cancels any running loop, opens a history record and starts
// polling for the new job. It returns the job's sequence number.
func (s *Session) startJob(ctx context.Context, kind, remoteJobID string, rules monitor.Rules) uint64 {
	s.opMu.Lock()
	defer s.opMu.Unlock()

	s.monitor.Stop()
	s.seq++

	now := s.now()
	job := &jobs.Job{
		ID:          jobs.NewID(),
		RemoteJobID: remoteJobID,
		Kind:        kind,
		State:       string(monitor.StatePolling),
		StatusLabel: monitor.InitialStatus.Label,
		Percent:     monitor.InitialStatus.Percent,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		s.logger.Warn("failed to record job", "kind", kind, "error", err)
	}

	s.trackMu.Lock()
	s.tracked = job
	s.trackMu.Unlock()

	s.monitor.Start(remoteJobID, kind, rules)

	logging.WithKind(logging.WithJobID(s.logger, job.ID), kind).Info("job started",
		"remote_job_id", remoteJobID)
	return s.seq
}

// abort rolls a failed submission back to idle if it is still the current job.
func (s *Session) abort(seq uint64, err error) {
	s.setNotice(err.Error())

	s.opMu.Lock()
	defer s.opMu.Unlock()
	if seq != s.seq {
		return
	}

	s.trackMu.Lock()
	if s.tracked != nil {
		s.tracked.Error = err.Error()
	}
	s.trackMu.Unlock()

	s.monitor.Stop()
	s.logger.Error("job submission failed", "error", err)
}

// record mirrors a monitor transition into the job history.
func (s *Session) record(snap monitor.Snapshot) {
	s.trackMu.Lock()
	job := s.tracked
	if job == nil {
		s.trackMu.Unlock()
		return
	}

	switch snap.State {
	case monitor.StateIdle:
		if job.Error != "" {
			job.State = jobs.StateFailed
		} else {
			job.State = jobs.StateCancelled
		}
	default:
		job.State = string(snap.State)
	}
	job.StatusLabel = snap.Status.Label
	job.Percent = snap.Status.Percent
	job.Failures = snap.Failures
	if snap.Error != "" {
		job.Error = snap.Error
	} else if snap.State == monitor.StateDone {
		job.Error = ""
	}
	job.UpdatedAt = snap.UpdatedAt
	rec := *job
	s.trackMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := s.repo.UpdateJob(ctx, &rec); err != nil {
		s.logger.Warn("failed to update job history", "job_id", rec.ID, "error", err)
	}

	switch rec.State {
	case jobs.StateDone:
		if rec.Kind == monitor.KindAnalyze {
			s.setNotice("")
		} else {
			s.setNotice(rec.Kind + " finished")
		}
	case jobs.StateFailed:
		if snap.State == monitor.StateFailed {
			s.setNotice(rec.Kind + " failed: " + rec.Error)
		}
	}
}
