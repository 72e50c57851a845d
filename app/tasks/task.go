package tasks

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

type JobType string

const (
	JobLatest      JobType = "latest"
	JobDaily       JobType = "daily"
	JobMaintenance JobType = "maintenance"
	JobHealth      JobType = "health"
)

var (
	ErrUnknownJob  = errors.New("unknown job")
	ErrJobInFlight = errors.New("job is already running")
	ErrStopped     = errors.New("scheduler is stopped")
)

// Window is the time range a job execution covers. A zero End means the job
// has no watermark.
type Window struct {
	Start time.Time
	End   time.Time
}

func (w Window) IsZero() bool {
	return w.Start.IsZero() && w.End.IsZero()
}

// JobInterface is implemented by every scheduled job type.
type JobInterface interface {
	Type() JobType
	Interval() time.Duration
	// Plan decides whether the job is due at now, given its last watermark
	// (nil before the first successful run), and returns the window to cover.
	Plan(now time.Time, mark *time.Time) (Window, bool)
	Execute(ctx context.Context, task *Task) error
}

// Task is one execution of a job.
type Task struct {
	ID        string
	Type      JobType
	Window    Window
	StartedAt *time.Time
}

func (t *Task) Start() {
	now := time.Now()
	t.StartedAt = &now
}

func (t *Task) GetDuration() time.Duration {
	if t.StartedAt == nil {
		return 0
	}
	return time.Since(*t.StartedAt)
}

func NewTask(jobType JobType, window Window) *Task {
	return &Task{
		ID:     uuid.NewString(),
		Type:   jobType,
		Window: window,
	}
}

func ParseJobType(name string) (JobType, error) {
	switch t := JobType(name); t {
	case JobLatest, JobDaily, JobMaintenance, JobHealth:
		return t, nil
	}
	return "", ErrUnknownJob
}
