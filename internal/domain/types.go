package domain

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrInvalidSchedule   = errors.New("invalid schedule format")
	ErrDuplicateJobID    = errors.New("duplicate job id")
	ErrJobNotFound       = errors.New("job not found")
	ErrJobAlreadyRunning = errors.New("job already running")
	ErrJobRemoving       = errors.New("job is being removed")
	ErrEmptyJobID        = errors.New("job id is required")
)

type Status string

const (
	StatusSuccess Status = "success"
	StatusSkipped Status = "skipped"
	StatusError   Status = "error"
)

// Outcome is the result of one job invocation.
type Outcome struct {
	Status   Status         `json:"status"`
	Detail   map[string]any `json:"detail,omitempty"`
	Attempts int            `json:"attempts"`
}

// Body is the unit of work a job runs. It must not need registry access.
type Body func(ctx context.Context) Outcome

func Success(detail map[string]any) Outcome {
	return Outcome{Status: StatusSuccess, Detail: detail, Attempts: 1}
}

func Skipped(reason string) Outcome {
	return Outcome{Status: StatusSkipped, Detail: map[string]any{"reason": reason}, Attempts: 1}
}

// Failure builds an error outcome; detail is copied and err stored under "error".
func Failure(err error, detail map[string]any) Outcome {
	d := make(map[string]any, len(detail)+1)
	for k, v := range detail {
		d[k] = v
	}
	if err != nil {
		d["error"] = err.Error()
	}
	o := Outcome{Status: StatusError, Detail: d, Attempts: 1}
	return o.Normalize()
}

// Normalize enforces that a status is always set and that errors carry a description.
func (o Outcome) Normalize() Outcome {
	if o.Status == "" {
		o.Status = StatusError
		o.Detail = withDefault(o.Detail, "error", "job returned no status")
	}
	if o.Status == StatusError {
		o.Detail = withDefault(o.Detail, "error", "unspecified error")
	}
	if o.Attempts <= 0 {
		o.Attempts = 1
	}
	return o
}

func (o Outcome) Err() string {
	if s, ok := o.Detail["error"].(string); ok {
		return s
	}
	return ""
}

func withDefault(m map[string]any, key string, v any) map[string]any {
	if m == nil {
		m = map[string]any{}
	}
	if _, ok := m[key]; !ok {
		m[key] = v
	}
	return m
}

type JobState string

const (
	JobIdle     JobState = "idle"
	JobRunning  JobState = "running"
	JobRemoving JobState = "removing"
)

// JobStatus is the read-only view of a registered job.
type JobStatus struct {
	ID          string     `json:"id"`
	Schedule    string     `json:"schedule"`
	State       JobState   `json:"state"`
	Running     bool       `json:"running"`
	LastRun     *time.Time `json:"last_run,omitempty"`
	LastOutcome *Outcome   `json:"last_outcome,omitempty"`
	NextRun     *time.Time `json:"next_run,omitempty"`
}

// Run is one recorded invocation in the run history.
type Run struct {
	ID         string          `json:"id"`
	JobID      string          `json:"job_id"`
	Trigger    string          `json:"trigger"`
	State      string          `json:"state"`
	Status     Status          `json:"status,omitempty"`
	Attempts   int             `json:"attempts"`
	Error      string          `json:"error,omitempty"`
	Detail     json.RawMessage `json:"detail,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}
