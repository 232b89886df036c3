package post

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"photocron/internal/domain"
	"photocron/internal/handlers/detect"
	"photocron/internal/retry"
	"photocron/internal/schedule"
	"photocron/internal/scheduler"
)

var ErrNoPhotos = errors.New("no photos found")

type Sender interface {
	SendPhoto(ctx context.Context, path, caption string) (int, error)
}

// Registrar is the slice of the scheduler the poster needs to queue deliveries.
type Registrar interface {
	Add(id string, expr schedule.Expression, body domain.Body) error
	RemoveJob(id string) error
	GetJobStatus(id string) (domain.JobStatus, error)
}

type Config struct {
	PhotoDir  string
	ReviewDir string // excluded from the random pick
	Window    time.Duration
	Caption   string
	Policy    retry.Policy
}

// Poster posts a random photo at a random moment inside Window after each firing.
type Poster struct {
	cfg    Config
	sender Sender
	sched  Registrar

	now  func() time.Time
	intN func(n int) int
}

type Option func(*Poster)

func WithNow(now func() time.Time) Option { return func(p *Poster) { p.now = now } }

// WithRand replaces the random source; intN must return a value in [0, n).
func WithRand(intN func(n int) int) Option { return func(p *Poster) { p.intN = intN } }

func New(cfg Config, sender Sender, sched Registrar, opts ...Option) *Poster {
	if cfg.ReviewDir != "" && !filepath.IsAbs(cfg.ReviewDir) {
		cfg.ReviewDir = filepath.Join(cfg.PhotoDir, cfg.ReviewDir)
	}
	p := &Poster{cfg: cfg, sender: sender, sched: sched, now: time.Now, intN: rand.IntN}
	for _, o := range opts {
		o(p)
	}
	return p
}

func DeliveryID(jobID string) string { return jobID + ".delivery" }

// Plan returns the body for jobID. Each run picks a delay in [0, Window] whole
// minutes and registers a one-shot delivery job on the scheduler.
func (p *Poster) Plan(jobID string) domain.Body {
	return func(ctx context.Context) domain.Outcome {
		id := DeliveryID(jobID)
		if st, err := p.sched.GetJobStatus(id); err == nil {
			if st.Running {
				return domain.Skipped("previous delivery still running")
			}
			if err := p.sched.RemoveJob(id); err != nil && !errors.Is(err, domain.ErrJobNotFound) {
				return domain.Failure(fmt.Errorf("replace pending delivery: %w", err), nil)
			}
			log.Info().Str("job_id", id).Msg("replaced pending delivery")
		}

		minutes := p.intN(int(p.cfg.Window/time.Minute) + 1)
		delay := time.Duration(minutes) * time.Minute
		at := p.now().Add(delay)

		if err := p.sched.Add(id, schedule.At(at), scheduler.WithLogging(id, p.Deliver)); err != nil {
			return domain.Failure(fmt.Errorf("register delivery: %w", err), nil)
		}
		log.Info().Str("job_id", id).Time("scheduled_time", at).Dur("delay", delay).Msg("photo delivery scheduled")
		return domain.Success(map[string]any{
			"scheduled_time": at.Format("15:04"),
			"delay_seconds":  int(delay.Seconds()),
			"delivery_job":   id,
		})
	}
}

// Deliver picks a random photo and sends it.
func (p *Poster) Deliver(ctx context.Context) domain.Outcome {
	photo, err := p.RandomPhoto()
	if err != nil {
		return domain.Failure(err, nil)
	}
	info, err := os.Stat(photo)
	if err != nil {
		return domain.Failure(err, nil)
	}

	out := retry.Execute(ctx, p.cfg.Policy, func(ctx context.Context, _ int) (map[string]any, error) {
		id, err := p.sender.SendPhoto(ctx, photo, p.cfg.Caption)
		if err != nil {
			return nil, err
		}
		return map[string]any{"message_id": id}, nil
	})
	out.Detail["photo_name"] = filepath.Base(photo)
	out.Detail["file_size"] = info.Size()
	return out
}

// RandomPhoto returns one image from the photo directory chosen uniformly.
func (p *Poster) RandomPhoto() (string, error) {
	var photos []string
	err := filepath.WalkDir(p.cfg.PhotoDir, func(path string, e fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if e.IsDir() {
			if p.cfg.ReviewDir != "" && path == p.cfg.ReviewDir {
				return filepath.SkipDir
			}
			return nil
		}
		if e.Type().IsRegular() && detect.IsImage(path) {
			photos = append(photos, path)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("scan photo dir: %w", err)
	}
	if len(photos) == 0 {
		return "", fmt.Errorf("%w in %s", ErrNoPhotos, p.cfg.PhotoDir)
	}
	return photos[p.intN(len(photos))], nil
}
