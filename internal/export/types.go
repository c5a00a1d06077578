// Package export writes the storyboard's edit plan to disk as an EDL
// timeline and SubRip subtitles.
package export

const (
	DefaultFrameRate   = 30.0
	DefaultProjectName = "short_studio"

	maxProjectName = 120
	maxClipName    = 160
)

type TimelineRequest struct {
	ProjectName string  `json:"project_name" validate:"max=200"`
	Duration    float64 `json:"duration" validate:"gt=0"`
	FrameRate   float64 `json:"frame_rate" validate:"omitempty,gt=0,lte=120"`
	OutputDir   string  `json:"output_dir" validate:"required"`
}

// TimelineClip is one storyboard keyword placed on the record timeline.
// Stock clips are always cut from their first frame.
type TimelineClip struct {
	Index       int    `json:"index"`
	Keyword     string `json:"keyword"`
	ClipName    string `json:"clip_name"`
	MediaPath   string `json:"media_path"`
	RecordInMs  int    `json:"record_in_ms"`
	RecordOutMs int    `json:"record_out_ms"`
	Placeholder bool   `json:"placeholder"`
}

func (c TimelineClip) DurationMs() int {
	return c.RecordOutMs - c.RecordInMs
}

type TimelineResult struct {
	Status     string         `json:"status"`
	EDLPath    string         `json:"edl_path"`
	SRTPath    string         `json:"srt_path"`
	ClipCount  int            `json:"clip_count"`
	Unresolved []string       `json:"unresolved_keywords"`
	Clips      []TimelineClip `json:"clips"`
}
