package remote

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/shortstudio/studio-agent/internal/monitor"
	"github.com/shortstudio/studio-agent/internal/storyboard"
)

// StatusSuccess is the analyze response status for a usable storyboard.
const StatusSuccess = "success"

// DefaultAudioPath is where the job service publishes the narration preview
// when the analyze response does not name one.
const DefaultAudioPath = "/assets/audio/temp_preview.mp3"

// Client is the job service surface the agent depends on.
type Client interface {
	Analyze(ctx context.Context, req AnalyzeRequest) (*AnalyzeResponse, error)
	ExportStatus(ctx context.Context, jobID string) (monitor.Status, error)
	Export(ctx context.Context, req ExportRequest) (*ExportResponse, error)
	Batch(ctx context.Context, filename string, csv io.Reader) (*BatchResponse, error)
	AssetURL(path string, bust time.Time) string
}

type AnalyzeRequest struct {
	Script string `json:"texto"`
	Voice  string `json:"voice,omitempty"`
}

type AnalyzeResponse struct {
	Status     string                `json:"status"`
	JobID      string                `json:"job_id,omitempty"`
	Storyboard storyboard.Storyboard `json:"keywords_data"`
	Segments   []storyboard.Segment  `json:"segments,omitempty"`
	Timestamps []storyboard.Segment  `json:"timestamps,omitempty"`
	AudioURL   string                `json:"audio_url,omitempty"`
}

// Timing returns the subtitle segments under whichever key the service used.
func (r *AnalyzeResponse) Timing() []storyboard.Segment {
	if len(r.Segments) > 0 {
		return r.Segments
	}
	return r.Timestamps
}

type ExportRequest struct {
	JobID      string               `json:"job_id,omitempty"`
	Script     string               `json:"texto"`
	Voice      string               `json:"voice,omitempty"`
	Selections map[string]string    `json:"selections"`
	Timestamps []storyboard.Segment `json:"timestamps"`
	Preset     string               `json:"preset,omitempty"`
	Position   string               `json:"position,omitempty"`
	FontSize   int                  `json:"fontSize,omitempty"`
	OutputPath string               `json:"output_path,omitempty"`
}

type ExportResponse struct {
	Status string `json:"status"`
	JobID  string `json:"job_id,omitempty"`
}

type BatchResponse struct {
	Rows  int    `json:"rows"`
	JobID string `json:"job_id,omitempty"`
}

// RemoteError is a non-2xx response from the job service.
type RemoteError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s failed: HTTP %d: %s", e.Op, e.StatusCode, e.Body)
}

// IsRetryable returns true for server errors (5xx).
// Client errors (4xx) are considered permanent.
func (e *RemoteError) IsRetryable() bool {
	return e.StatusCode >= 500
}
