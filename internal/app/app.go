// Package app wires configuration, the scheduler, the job bodies and the
// HTTP API into a runnable service.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"photocron/internal/api"
	"photocron/internal/config"
	"photocron/internal/domain"
	"photocron/internal/handlers/detect"
	"photocron/internal/handlers/filecheck"
	"photocron/internal/handlers/post"
	"photocron/internal/retry"
	"photocron/internal/schedule"
	"photocron/internal/scheduler"
	"photocron/internal/store"
	"photocron/internal/telegram"
)

const (
	JobDetectNude   = "detect_nude"
	JobRandomPost   = "random_time_post"
	JobFileCheck    = "file_check"
	JobPruneHistory = "prune_history"
)

// SetupLogging configures the global zerolog logger.
func SetupLogging(level, format string, w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	zerolog.TimeFieldFormat = time.RFC3339
	if format == "json" {
		log.Logger = zerolog.New(w).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339})
	}
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
}

// JobSpec is a job the configuration enables.
type JobSpec struct {
	ID       string
	Schedule string
}

// EnabledJobs lists the configured jobs in registration order.
func EnabledJobs(cfg *config.Config) []JobSpec {
	var jobs []JobSpec
	if cfg.RandomTime.Enabled {
		jobs = append(jobs, JobSpec{ID: JobRandomPost, Schedule: cfg.RandomTime.Schedule})
	}
	if cfg.DetectNude.Enabled {
		jobs = append(jobs, JobSpec{ID: JobDetectNude, Schedule: cfg.DetectNude.Schedule})
	}
	if cfg.FileCheck.Enabled {
		jobs = append(jobs, JobSpec{ID: JobFileCheck, Schedule: cfg.FileCheck.Schedule})
	}
	if cfg.Database.Path != "" && cfg.Database.HistoryMaxAge > 0 {
		jobs = append(jobs, JobSpec{ID: JobPruneHistory, Schedule: "every 1 days"})
	}
	return jobs
}

type App struct {
	cfg       *config.Config
	Scheduler *scheduler.Scheduler
	Handler   http.Handler

	db   *sql.DB
	runs store.Repository
}

type Option func(*options)

type options struct {
	clock  scheduler.Clock
	sender post.Sender
}

// WithClock overrides the scheduler time source.
func WithClock(c scheduler.Clock) Option { return func(o *options) { o.clock = c } }

// WithSender replaces the Telegram client used by the random poster.
func WithSender(s post.Sender) Option { return func(o *options) { o.sender = s } }

// New builds the service from a validated configuration.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	o := options{clock: scheduler.SystemClock{Location: cfg.Location()}}
	for _, fn := range opts {
		fn(&o)
	}

	a := &App{cfg: cfg}
	schedOpts := []scheduler.Option{
		scheduler.WithClock(o.clock),
		scheduler.WithMaxConcurrent(cfg.Scheduler.MaxConcurrent),
	}

	if cfg.Database.Path != "" {
		db, err := store.Open(cfg.Database.Path)
		if err != nil {
			return nil, err
		}
		a.db = db
		a.runs = store.NewSQLiteRepo(db)
		recoverStaleRuns(context.Background(), a.runs)
		schedOpts = append(schedOpts, scheduler.WithRecorder(a.runs))
	}
	a.Scheduler = scheduler.New(schedOpts...)

	policy := retry.Policy{MaxAttempts: cfg.MaxRetries, Delay: cfg.RetryDelayDuration()}

	var detector *detect.Detector
	if cfg.DetectNude.Enabled || cfg.RandomTime.Enabled {
		detector = detect.New(detect.Config{
			APIURL:    cfg.DetectNude.APIURL,
			PhotoDir:  cfg.PhotoDir,
			ReviewDir: cfg.ReviewDir,
			Threshold: cfg.NSFWThreshold,
			Timeout:   cfg.Timeout(),
			Policy:    policy,
		})
	}

	for _, job := range EnabledJobs(cfg) {
		var body domain.Body
		switch job.ID {
		case JobDetectNude:
			body = detector.Run
		case JobRandomPost:
			sender := o.sender
			if sender == nil {
				tg, err := telegram.New(telegram.Config{
					Token:   cfg.Telegram.BotToken,
					ChatID:  cfg.Telegram.ChatID,
					APIURL:  cfg.Telegram.APIURL,
					Timeout: cfg.Timeout(),
				})
				if err != nil {
					a.Close()
					return nil, err
				}
				sender = tg
			}
			poster := post.New(post.Config{
				PhotoDir:  cfg.PhotoDir,
				ReviewDir: detector.ReviewDir(),
				Window:    cfg.RandomWindow(),
				Caption:   cfg.Telegram.Caption,
				Policy:    policy,
			}, sender, a.Scheduler, post.WithNow(func() time.Time {
				now, err := o.clock.Now()
				if err != nil {
					return time.Now()
				}
				return now
			}))
			body = poster.Plan(JobRandomPost)
		case JobFileCheck:
			body = filecheck.New(cfg.FileCheck.Path, cfg.FileCheck.Limit).Run
		case JobPruneHistory:
			body = a.pruneHistory
		}

		body = scheduler.WithLogging(job.ID, scheduler.WithTimeout(cfg.Scheduler.JobTimeout, body))
		if err := a.Scheduler.AddJob(job.ID, job.Schedule, body); err != nil {
			a.Close()
			return nil, fmt.Errorf("register %s: %w", job.ID, err)
		}
	}

	apiOpts := api.Options{
		Jobs:    a.Scheduler,
		Config:  cfg.Report(),
		Version: cfg.AppVersion,
		Debug:   cfg.Debug,
	}
	if a.runs != nil {
		apiOpts.Runs = a.runs
	}
	if detector != nil {
		apiOpts.Review = detector
	}
	a.Handler = api.NewServer(apiOpts)
	return a, nil
}

func recoverStaleRuns(ctx context.Context, runs store.Repository) {
	n, err := runs.RecoverStale(ctx)
	switch {
	case err != nil:
		log.Warn().Err(err).Msg("failed to recover stale runs")
	case n > 0:
		log.Warn().Int("recovered", n).Msg("marked runs from a previous process as abandoned")
	}
}

func (a *App) pruneHistory(ctx context.Context) domain.Outcome {
	cutoff := time.Now().Add(-a.cfg.Database.HistoryMaxAge)
	n, err := a.runs.Prune(ctx, cutoff)
	if err != nil {
		return domain.Failure(fmt.Errorf("prune run history: %w", err), nil)
	}
	return domain.Success(map[string]any{"deleted": n, "cutoff": cutoff.Format(time.RFC3339)})
}

// Run serves the API and drives the scheduler until ctx is done, then stops
// firing, lets in-flight jobs finish within the shutdown timeout and closes
// the server.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{Addr: a.cfg.Server.Addr, Handler: a.Handler}

	errCh := make(chan error, 2)
	schedCtx, stopSched := context.WithCancel(ctx)
	defer stopSched()

	go func() {
		if err := a.Scheduler.Run(schedCtx, a.cfg.Scheduler.PollInterval); err != nil {
			errCh <- err
		}
	}()
	go func() {
		log.Info().Str("addr", srv.Addr).Msg("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
	case runErr = <-errCh:
		log.Error().Err(runErr).Msg("shutting down after failure")
	}
	stopSched()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown")
	}
	if err := a.Scheduler.Wait(shutdownCtx); err != nil {
		// in-flight jobs still write their run results
		log.Warn().Err(err).Msg("jobs still running at shutdown, leaving run history open")
		return runErr
	}
	a.Close()
	return runErr
}

func (a *App) Close() {
	if a.db != nil {
		_ = a.db.Close()
		a.db = nil
	}
}

// NextRuns reports the next fire time of each enabled job after now.
func NextRuns(cfg *config.Config, now time.Time) (map[string]time.Time, error) {
	out := make(map[string]time.Time)
	for _, job := range EnabledJobs(cfg) {
		expr, err := schedule.Parse(job.Schedule)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", job.ID, err)
		}
		out[job.ID] = expr.Next(now)
	}
	return out, nil
}
