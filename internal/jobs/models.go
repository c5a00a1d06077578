// Package jobs keeps the history of analyze, export and batch jobs the agent
// has tracked, plus the key/value settings table.
package jobs

import (
	"time"

	"github.com/google/uuid"
)

const (
	StatePolling   = "polling"
	StateDone      = "done"
	StateFailed    = "failed"
	StateCancelled = "cancelled"
)

type Job struct {
	ID          string    `json:"id"`
	RemoteJobID string    `json:"remote_job_id,omitempty"`
	Kind        string    `json:"kind"`
	State       string    `json:"state"`
	StatusLabel string    `json:"status"`
	Percent     int       `json:"percent"`
	Failures    int       `json:"failures"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type ConfigEntry struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

func NewID() string {
	return uuid.NewString()
}
