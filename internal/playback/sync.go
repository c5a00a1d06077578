package playback

import (
	"math"
	"sync"

	"github.com/shortstudio/studio-agent/internal/storyboard"
)

// durationEpsilon stands in for an unknown (zero) audio duration.
const durationEpsilon = 0.1

// SelectionSource resolves a keyword to its chosen download link.
// *storyboard.Selections satisfies it.
type SelectionSource interface {
	Link(keyword string) (string, bool)
}

// Preview is the clip player slaved to the narration audio.
type Preview interface {
	Play() error
	Pause()
}

type Action string

const (
	ActionNone  Action = "none"
	ActionPlay  Action = "play"
	ActionPause Action = "pause"
)

// Clip is the storyboard clip active at a point in time.
type Clip struct {
	Index   int    `json:"index"`
	Keyword string `json:"keyword"`
	URI     string `json:"uri"`
	// Placeholder is set when the selection is the AI sentinel and URI is
	// the option's preview image rather than a playable clip.
	Placeholder bool `json:"placeholder"`
}

// Frame is the synchronizer output for one media clock update.
type Frame struct {
	Time        float64             `json:"time"`
	Segment     *storyboard.Segment `json:"segment,omitempty"`
	Clip        *Clip               `json:"clip,omitempty"`
	ClipChanged bool                `json:"clip_changed"`
	Action      Action              `json:"action"`
}

// ActiveSegment returns the first segment containing t.
// Segments are expected not to overlap; if they do, the earliest wins.
func ActiveSegment(segments []storyboard.Segment, t float64) (storyboard.Segment, bool) {
	for _, s := range segments {
		if s.Contains(t) {
			return s, true
		}
	}
	return storyboard.Segment{}, false
}

// ClipIndex maps t onto n equal buckets spanning duration.
// It returns -1 when n is zero. A zero or unknown duration resolves to bucket 0.
func ClipIndex(t, duration float64, n int) int {
	if n <= 0 {
		return -1
	}

	if math.IsNaN(duration) || math.IsInf(duration, 0) || duration < 0 {
		duration = 0
	}
	if math.IsNaN(t) || t < 0 {
		t = 0
	}
	if t > duration {
		t = duration
	}

	d := duration
	if d <= 0 {
		d = durationEpsilon
	}

	idx := int(math.Floor(t / d * float64(n)))
	if idx < 0 {
		return 0
	}
	if idx > n-1 {
		return n - 1
	}
	return idx
}

// ResolveClip returns the clip to show at t.
func ResolveClip(t, duration float64, board storyboard.Storyboard, selections SelectionSource) (Clip, bool) {
	idx := ClipIndex(t, duration, board.Len())
	if idx < 0 {
		return Clip{}, false
	}

	entry := board[idx]
	link, ok := selections.Link(entry.Keyword)
	if !ok || link == "" {
		return Clip{}, false
	}

	clip := Clip{Index: idx, Keyword: entry.Keyword, URI: link}
	if link == storyboard.AIGeneratedLink {
		opt, ok := entry.Option(link)
		if !ok || opt.PreviewImage == "" {
			return Clip{}, false
		}
		clip.URI = opt.PreviewImage
		clip.Placeholder = true
	}
	return clip, true
}

// Synchronizer derives the active subtitle and clip from the audio clock and
// resyncs the preview only when the clip identity changes.
type Synchronizer struct {
	mu         sync.Mutex
	board      storyboard.Storyboard
	segments   []storyboard.Segment
	selections SelectionSource
	preview    Preview
	lastURI    string
}

func NewSynchronizer(selections SelectionSource) *Synchronizer {
	return &Synchronizer{selections: selections}
}

// SetPreview attaches a player that is driven on clip changes. nil detaches it.
func (s *Synchronizer) SetPreview(p Preview) {
	s.mu.Lock()
	s.preview = p
	s.mu.Unlock()
}

// Load swaps in a new source. The next Tick always reports a clip change.
func (s *Synchronizer) Load(board storyboard.Storyboard, segments []storyboard.Segment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.board = board
	s.segments = segments
	s.lastURI = ""
}

// Tick handles one media clock update. It does no I/O.
func (s *Synchronizer) Tick(t, duration float64, audioPaused bool) Frame {
	s.mu.Lock()
	defer s.mu.Unlock()

	frame := Frame{Time: t, Action: ActionNone}

	if seg, ok := ActiveSegment(s.segments, t); ok {
		frame.Segment = &seg
	}

	uri := ""
	if s.selections != nil {
		if clip, ok := ResolveClip(t, duration, s.board, s.selections); ok {
			frame.Clip = &clip
			uri = clip.URI
		}
	}

	if uri == s.lastURI {
		return frame
	}
	s.lastURI = uri
	frame.ClipChanged = true

	if uri == "" {
		return frame
	}

	if audioPaused {
		frame.Action = ActionPause
	} else {
		frame.Action = ActionPlay
	}

	if s.preview != nil {
		switch frame.Action {
		case ActionPlay:
			// A rejected autoplay leaves the preview paused; the next change retries.
			_ = s.preview.Play()
		case ActionPause:
			s.preview.Pause()
		}
	}
	return frame
}
