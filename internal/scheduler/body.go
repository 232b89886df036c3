package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"photocron/internal/domain"
)

// WithLogging wraps body with start and finish log lines.
func WithLogging(id string, body domain.Body) domain.Body {
	return func(ctx context.Context) domain.Outcome {
		log.Info().Str("job_id", id).Msg("job started")
		start := time.Now()

		out := body(ctx).Normalize()

		ev := log.Info()
		if out.Status == domain.StatusError {
			ev = log.Error().Str("error", out.Err())
		}
		ev.Str("job_id", id).
			Str("status", string(out.Status)).
			Int("attempts", out.Attempts).
			Dur("took", time.Since(start)).
			Msg("job finished")
		return out
	}
}

// WithTimeout bounds the context handed to body.
func WithTimeout(d time.Duration, body domain.Body) domain.Body {
	if d <= 0 {
		return body
	}
	return func(ctx context.Context) domain.Outcome {
		ctx, cancel := context.WithTimeout(ctx, d)
		defer cancel()
		return body(ctx)
	}
}
