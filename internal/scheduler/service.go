package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"photocron/internal/domain"
	"photocron/internal/metrics"
	"photocron/internal/schedule"
	"photocron/internal/worker"
)

const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// Recorder persists run history. Failures are logged and otherwise ignored.
type Recorder interface {
	StartRun(ctx context.Context, jobID, trigger string, startedAt time.Time) (string, error)
	FinishRun(ctx context.Context, runID string, outcome domain.Outcome, finishedAt time.Time) error
}

type entry struct {
	id           string
	expr         schedule.Expression
	body         domain.Body
	registeredAt time.Time

	running     bool
	removing    bool
	firedAt     time.Time
	lastRun     *time.Time
	lastOutcome *domain.Outcome
}

// anchor is the instant the next fire time is computed from.
func (e *entry) anchor() time.Time {
	if e.running {
		return e.firedAt
	}
	if e.lastRun != nil {
		return *e.lastRun
	}
	if e.expr.Kind() == schedule.KindOnce {
		return time.Time{}
	}
	return e.registeredAt
}

func (e *entry) status() domain.JobStatus {
	st := domain.JobStatus{
		ID:       e.id,
		Schedule: e.expr.String(),
		State:    domain.JobIdle,
		Running:  e.running,
	}
	switch {
	case e.removing:
		st.State = domain.JobRemoving
	case e.running:
		st.State = domain.JobRunning
	}
	if e.lastRun != nil {
		t := *e.lastRun
		st.LastRun = &t
	}
	if e.lastOutcome != nil {
		o := *e.lastOutcome
		st.LastOutcome = &o
	}
	if !e.removing {
		if next := e.expr.Next(e.anchor()); !next.IsZero() {
			st.NextRun = &next
		}
	}
	return st
}

// Scheduler owns the job registry and fires due jobs from a polling loop.
// A single mutex guards every registry mutation; job bodies never hold it.
type Scheduler struct {
	mu    sync.Mutex
	jobs  map[string]*entry
	order []string

	clock    Clock
	pool     *worker.Pool
	recorder Recorder
}

type Option func(*Scheduler)

func WithClock(c Clock) Option { return func(s *Scheduler) { s.clock = c } }

// WithMaxConcurrent bounds how many job bodies run at once (0 = unbounded).
func WithMaxConcurrent(n int) Option {
	return func(s *Scheduler) { s.pool = worker.NewPool(n, logPanic) }
}

func WithRecorder(r Recorder) Option { return func(s *Scheduler) { s.recorder = r } }

func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		jobs:  make(map[string]*entry),
		clock: SystemClock{},
		pool:  worker.NewPool(0, logPanic),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func logPanic(r any, stack []byte) {
	log.Error().Interface("panic", r).Bytes("stack", stack).Msg("job goroutine panicked")
}

// AddJob parses spec and registers body under id.
func (s *Scheduler) AddJob(id, spec string, body domain.Body) error {
	expr, err := schedule.Parse(spec)
	if err != nil {
		return err
	}
	return s.Add(id, expr, body)
}

func (s *Scheduler) Add(id string, expr schedule.Expression, body domain.Body) error {
	if id == "" {
		return domain.ErrEmptyJobID
	}
	if expr.IsZero() {
		return fmt.Errorf("%w: empty schedule", domain.ErrInvalidSchedule)
	}
	if body == nil {
		return fmt.Errorf("job %q: body is required", id)
	}
	now, err := s.clock.Now()
	if err != nil {
		return fmt.Errorf("reading clock: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.jobs[id]; ok {
		if e.removing {
			return fmt.Errorf("%w: %q", domain.ErrJobRemoving, id)
		}
		return fmt.Errorf("%w: %q", domain.ErrDuplicateJobID, id)
	}
	e := &entry{id: id, expr: expr, body: body, registeredAt: now}
	s.jobs[id] = e
	s.order = append(s.order, id)
	metrics.SetRegisteredJobs(len(s.jobs))

	ev := log.Info().Str("job_id", id).Str("schedule", expr.String())
	if next := expr.Next(e.anchor()); !next.IsZero() {
		ev = ev.Time("next_run", next)
	}
	ev.Msg("job registered")
	return nil
}

// RemoveJob stops future firings of id. An in-flight invocation is left to
// finish and the job is purged when it completes.
func (s *Scheduler) RemoveJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[id]
	if !ok {
		return fmt.Errorf("%w: %q", domain.ErrJobNotFound, id)
	}
	if e.removing {
		return fmt.Errorf("%w: %q", domain.ErrJobRemoving, id)
	}
	if e.running {
		e.removing = true
		log.Info().Str("job_id", id).Msg("job removal deferred until current run completes")
		return nil
	}
	s.purgeLocked(id)
	log.Info().Str("job_id", id).Msg("job removed")
	return nil
}

func (s *Scheduler) purgeLocked(id string) {
	delete(s.jobs, id)
	for i, v := range s.order {
		if v == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	metrics.SetRegisteredJobs(len(s.jobs))
}

func (s *Scheduler) GetJobStatus(id string) (domain.JobStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.jobs[id]
	if !ok {
		return domain.JobStatus{}, fmt.Errorf("%w: %q", domain.ErrJobNotFound, id)
	}
	return e.status(), nil
}

// ListJobs returns the status of every job in registration order.
func (s *Scheduler) ListJobs() []domain.JobStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.JobStatus, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.jobs[id].status())
	}
	return out
}

// Tick fires every idle job whose next fire time is at or before now and
// returns the fired ids in registration order. Bodies run asynchronously.
func (s *Scheduler) Tick(now time.Time) []string {
	s.mu.Lock()
	var due []*entry
	for _, id := range s.order {
		e := s.jobs[id]
		if e.running || e.removing {
			continue
		}
		next := e.expr.Next(e.anchor())
		if next.IsZero() || next.After(now) {
			continue
		}
		e.running = true
		e.firedAt = now
		due = append(due, e)
	}
	s.mu.Unlock()

	fired := make([]string, 0, len(due))
	for _, e := range due {
		fired = append(fired, e.id)
		s.pool.Go(func() {
			out := s.invoke(context.Background(), e, TriggerSchedule, now)
			s.complete(e, now, out)
		})
	}
	return fired
}

// TriggerJob runs id synchronously, outside its schedule. It shares the
// no-overlap gate with scheduled firings.
func (s *Scheduler) TriggerJob(ctx context.Context, id string) (domain.Outcome, error) {
	now, err := s.clock.Now()
	if err != nil {
		return domain.Outcome{}, fmt.Errorf("reading clock: %w", err)
	}

	s.mu.Lock()
	e, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return domain.Outcome{}, fmt.Errorf("%w: %q", domain.ErrJobNotFound, id)
	}
	if e.removing {
		s.mu.Unlock()
		return domain.Outcome{}, fmt.Errorf("%w: %q", domain.ErrJobRemoving, id)
	}
	if e.running {
		s.mu.Unlock()
		return domain.Outcome{}, fmt.Errorf("%w: %q", domain.ErrJobAlreadyRunning, id)
	}
	e.running = true
	e.firedAt = now
	s.mu.Unlock()

	out := s.invoke(ctx, e, TriggerManual, now)
	s.complete(e, now, out)
	return out, nil
}

// invoke runs the body, converting panics into error outcomes.
func (s *Scheduler) invoke(ctx context.Context, e *entry, trigger string, firedAt time.Time) (out domain.Outcome) {
	ctx = context.WithoutCancel(ctx)
	runID := s.startRun(ctx, e.id, trigger, firedAt)

	metrics.JobStarted()
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("job_id", e.id).Interface("panic", r).Msg("job body panicked")
			out = domain.Failure(fmt.Errorf("panic: %v", r), map[string]any{"kind": "panic"})
		}
		out = out.Normalize()
		metrics.JobFinished()
		metrics.RecordJobRun(e.id, trigger, string(out.Status), time.Since(start))
		s.finishRun(ctx, runID, out)
	}()

	return e.body(ctx)
}

func (s *Scheduler) complete(e *entry, firedAt time.Time, out domain.Outcome) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e.running = false
	last := firedAt
	e.lastRun = &last
	e.lastOutcome = &out

	switch {
	case e.removing:
		s.purgeLocked(e.id)
		log.Info().Str("job_id", e.id).Msg("job removed after run completed")
	case e.expr.Kind() == schedule.KindOnce && e.expr.Next(firedAt).IsZero():
		s.purgeLocked(e.id)
		log.Info().Str("job_id", e.id).Msg("job has no further runs, removed")
	}
}

func (s *Scheduler) startRun(ctx context.Context, jobID, trigger string, at time.Time) string {
	if s.recorder == nil {
		return ""
	}
	id, err := s.recorder.StartRun(ctx, jobID, trigger, at)
	if err != nil {
		log.Error().Err(err).Str("job_id", jobID).Msg("failed to record run start")
		return ""
	}
	return id
}

func (s *Scheduler) finishRun(ctx context.Context, runID string, out domain.Outcome) {
	if s.recorder == nil || runID == "" {
		return
	}
	now, err := s.clock.Now()
	if err != nil {
		now = time.Now()
	}
	if err := s.recorder.FinishRun(ctx, runID, out, now); err != nil {
		log.Error().Err(err).Str("run_id", runID).Msg("failed to record run result")
	}
}

// Run ticks every pollInterval until ctx is done. It returns an error only
// when the clock fails, since no firing decision can be made without it.
func (s *Scheduler) Run(ctx context.Context, pollInterval time.Duration) error {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	log.Info().Dur("interval", pollInterval).Int("jobs", len(s.ListJobs())).Msg("scheduler started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("scheduler stopped")
			return nil
		case <-ticker.C:
			now, err := s.clock.Now()
			if err != nil {
				log.Error().Err(err).Msg("clock unavailable, stopping scheduler")
				return fmt.Errorf("reading clock: %w", err)
			}
			for _, id := range s.Tick(now) {
				log.Debug().Str("job_id", id).Time("fired_at", now).Msg("job fired")
			}
		}
	}
}

// Wait blocks until in-flight scheduled runs finish or ctx is done.
func (s *Scheduler) Wait(ctx context.Context) error {
	return s.pool.Wait(ctx)
}
