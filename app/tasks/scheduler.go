package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

var _ TaskSchedulerInterface = (*Scheduler)(nil)

// JobStatus is a point-in-time view of one job type.
type JobStatus struct {
	Type       JobType    `json:"type"`
	Interval   string     `json:"interval"`
	Running    bool       `json:"running"`
	TaskID     string     `json:"task_id,omitempty"`
	LastStart  *time.Time `json:"last_start,omitempty"`
	LastFinish *time.Time `json:"last_finish,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	Runs       int        `json:"runs"`
	Failures   int        `json:"failures"`
	Skipped    int        `json:"skipped"`
	Watermark  *time.Time `json:"watermark,omitempty"`
}

// Scheduler runs every job on its own ticker. A job never overlaps itself:
// ticks arriving while it is still running are dropped.
type Scheduler struct {
	jobs    []JobInterface
	marks   WatermarkStore
	grace   time.Duration
	timeout time.Duration
	now     func() time.Time

	ctx       context.Context
	cancel    context.CancelFunc
	jobCtx    context.Context
	jobCancel context.CancelFunc
	loops     sync.WaitGroup
	inFlight  sync.WaitGroup

	mu      sync.Mutex
	stopped bool
	status  map[JobType]*JobStatus
}

// NewScheduler creates a scheduler. grace bounds how long Stop waits for
// running jobs before cancelling them; a positive timeout bounds every
// execution.
func NewScheduler(marks WatermarkStore, grace, timeout time.Duration, jobs ...JobInterface) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	jobCtx, jobCancel := context.WithCancel(context.Background())

	status := make(map[JobType]*JobStatus, len(jobs))
	for _, job := range jobs {
		status[job.Type()] = &JobStatus{Type: job.Type(), Interval: job.Interval().String()}
	}

	return &Scheduler{
		jobs:      jobs,
		marks:     marks,
		grace:     grace,
		timeout:   timeout,
		now:       time.Now,
		ctx:       ctx,
		cancel:    cancel,
		jobCtx:    jobCtx,
		jobCancel: jobCancel,
		status:    status,
	}
}

func (s *Scheduler) Start() {
	for _, job := range s.jobs {
		if job.Interval() <= 0 {
			slog.Info("Job disabled", "type", job.Type())
			continue
		}

		s.loops.Add(1)
		go func() {
			defer s.loops.Done()

			ticker := time.NewTicker(job.Interval())
			defer ticker.Stop()

			s.trigger(job)

			for {
				select {
				case <-s.ctx.Done():
					return
				case <-ticker.C:
					s.trigger(job)
				}
			}
		}()
	}

	slog.Info("Scheduler started", "jobs", len(s.jobs))
}

// Stop stops issuing ticks and waits for running jobs. Jobs still running
// after the grace period are cancelled and awaited.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	s.cancel()
	s.loops.Wait()

	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(s.grace):
		slog.Warn("Shutdown grace period expired, cancelling running jobs", "grace", s.grace)
		s.jobCancel()
		<-done
	}

	s.jobCancel()
	slog.Info("Scheduler stopped")
}

// RunOnce executes one planned execution of the named job synchronously.
func (s *Scheduler) RunOnce(ctx context.Context, jobType JobType) error {
	job := s.job(jobType)
	if job == nil {
		return fmt.Errorf("%w: %s", ErrUnknownJob, jobType)
	}
	if !s.begin(jobType) {
		return fmt.Errorf("%w: %s", ErrJobInFlight, jobType)
	}
	return s.execute(ctx, job)
}

func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]JobStatus, 0, len(s.jobs))
	for _, job := range s.jobs {
		out = append(out, *s.status[job.Type()])
	}
	return out
}

// Trigger starts the named job in the background, subject to the same
// no-overlap rule as scheduled ticks.
func (s *Scheduler) Trigger(jobType JobType) error {
	job := s.job(jobType)
	if job == nil {
		return fmt.Errorf("%w: %s", ErrUnknownJob, jobType)
	}
	if err := s.admit(jobType); err != nil {
		return fmt.Errorf("%w: %s", err, jobType)
	}
	s.spawn(job)
	return nil
}

func (s *Scheduler) trigger(job JobInterface) {
	switch err := s.admit(job.Type()); {
	case errors.Is(err, ErrJobInFlight):
		slog.Warn("Previous execution still running, skipping tick", "type", job.Type())
		return
	case err != nil:
		return
	}
	s.spawn(job)
}

// spawn runs an execution admitted by admit.
func (s *Scheduler) spawn(job JobInterface) {
	go func() {
		defer s.inFlight.Done()
		if err := s.execute(s.jobCtx, job); err != nil {
			slog.Debug("Scheduled execution failed", "type", job.Type(), "error", err)
		}
	}()
}

func (s *Scheduler) job(jobType JobType) JobInterface {
	for _, job := range s.jobs {
		if job.Type() == jobType {
			return job
		}
	}
	return nil
}

// begin marks the job as running. It reports false when it already is.
func (s *Scheduler) begin(jobType JobType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.markRunning(jobType)
}

// admit marks the job as running and registers a background execution. It
// holds the lock that Stop takes before waiting, so no execution is added
// once Stop has started waiting.
func (s *Scheduler) admit(jobType JobType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return ErrStopped
	}
	if !s.markRunning(jobType) {
		return ErrJobInFlight
	}
	s.inFlight.Add(1)
	return nil
}

func (s *Scheduler) markRunning(jobType JobType) bool {
	st := s.status[jobType]
	if st.Running {
		st.Skipped++
		return false
	}
	st.Running = true
	return true
}

func (s *Scheduler) execute(ctx context.Context, job JobInterface) (err error) {
	jobType := job.Type()
	ran := false
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %s panicked: %v", jobType, r)
			slog.Error("Job panicked", "type", jobType, "panic", r)
		}
		s.finish(jobType, ran, err)
	}()

	mark, err := s.marks.GetWatermark(ctx, string(jobType))
	if err != nil {
		return fmt.Errorf("failed to load watermark: %w", err)
	}
	s.setWatermark(jobType, mark)

	window, due := job.Plan(s.now(), mark)
	if !due {
		slog.Debug("Job not due", "type", jobType, "watermark", mark)
		return nil
	}

	task := NewTask(jobType, window)
	task.Start()
	s.started(task)
	ran = true

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	if err := job.Execute(ctx, task); err != nil {
		slog.Error("Task execution failed",
			"type", jobType,
			"id", task.ID,
			"duration", task.GetDuration(),
			"window_start", window.Start,
			"window_end", window.End,
			"error", err)
		return err
	}

	if window.End.IsZero() {
		return nil
	}

	if err := s.marks.AdvanceWatermark(context.WithoutCancel(ctx), string(jobType), window.End); err != nil {
		slog.Error("Failed to advance watermark", "type", jobType, "mark", window.End, "error", err)
		return fmt.Errorf("failed to advance watermark: %w", err)
	}
	s.setWatermark(jobType, &window.End)
	slog.Debug("Watermark advanced", "type", jobType, "mark", window.End)

	return nil
}

func (s *Scheduler) started(task *Task) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.status[task.Type]
	st.TaskID = task.ID
	st.LastStart = task.StartedAt
}

func (s *Scheduler) finish(jobType JobType, ran bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.status[jobType]
	st.Running = false
	st.TaskID = ""
	if !ran && err == nil {
		return
	}

	now := s.now()
	st.LastFinish = &now
	st.Runs++
	st.LastError = ""
	if err != nil {
		st.Failures++
		st.LastError = err.Error()
	}
}

func (s *Scheduler) setWatermark(jobType JobType, mark *time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if mark == nil {
		return
	}
	m := *mark
	s.status[jobType].Watermark = &m
}
