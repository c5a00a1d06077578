package api

import (
	"time"

	"github.com/shortstudio/studio-agent/internal/export"
	"github.com/shortstudio/studio-agent/internal/jobs"
)

type HealthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
	UptimeS int64  `json:"uptime_s"`
}

type AnalyzeRequest struct {
	Script string `json:"script" validate:"required,max=20000"`
}

type SelectionsRequest struct {
	Selections map[string]string `json:"selections" validate:"required,min=1,dive,keys,required,endkeys,required"`
}

type TimelineRequest struct {
	ProjectName string  `json:"project_name" validate:"max=200"`
	Duration    float64 `json:"duration" validate:"required,gt=0"`
	FrameRate   float64 `json:"frame_rate" validate:"omitempty,gt=0,lte=120"`
	OutputDir   string  `json:"output_dir" validate:"max=1024"`
}

func (r TimelineRequest) toExport() export.TimelineRequest {
	return export.TimelineRequest{
		ProjectName: r.ProjectName,
		Duration:    r.Duration,
		FrameRate:   r.FrameRate,
		OutputDir:   r.OutputDir,
	}
}

type AcceptedResponse struct {
	Status string `json:"status"`
	JobID  string `json:"job_id,omitempty"`
	Rows   int    `json:"rows,omitempty"`
}

type JobResponse struct {
	ID          string `json:"id"`
	RemoteJobID string `json:"remote_job_id,omitempty"`
	Kind        string `json:"kind"`
	State       string `json:"state"`
	Status      string `json:"status"`
	Percent     int    `json:"percent"`
	Failures    int    `json:"failures"`
	Error       string `json:"error,omitempty"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

type JobsResponse struct {
	Jobs []JobResponse `json:"jobs"`
}

type ErrorResponse struct {
	Error   string            `json:"error"`
	Code    string            `json:"code,omitempty"`
	Details map[string]string `json:"details,omitempty"`
}

func JobToResponse(j *jobs.Job) JobResponse {
	return JobResponse{
		ID:          j.ID,
		RemoteJobID: j.RemoteJobID,
		Kind:        j.Kind,
		State:       j.State,
		Status:      j.StatusLabel,
		Percent:     j.Percent,
		Failures:    j.Failures,
		Error:       j.Error,
		CreatedAt:   j.CreatedAt.Format(time.RFC3339),
		UpdatedAt:   j.UpdatedAt.Format(time.RFC3339),
	}
}
