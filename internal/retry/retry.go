package retry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog/log"

	"photocron/internal/domain"
	"photocron/internal/metrics"
)

type Class int

const (
	ClassRetryable Class = iota
	ClassTerminal
)

func (c Class) String() string {
	if c == ClassTerminal {
		return "terminal"
	}
	return "retryable"
}

// RetryableError marks a transient failure (timeouts, refused connections, 5xx).
type RetryableError struct{ Err error }

func (e *RetryableError) Error() string { return e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// TerminalError marks a failure that must not be retried (malformed request, 4xx).
type TerminalError struct{ Err error }

func (e *TerminalError) Error() string { return e.Err.Error() }
func (e *TerminalError) Unwrap() error { return e.Err }

func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

func Terminal(err error) error {
	if err == nil {
		return nil
	}
	return &TerminalError{Err: err}
}

// DefaultClassify treats explicit terminal markers and cancellation as terminal
// and every other failure as retryable.
func DefaultClassify(err error) Class {
	var term *TerminalError
	var retr *RetryableError
	switch {
	case errors.As(err, &term):
		return ClassTerminal
	case errors.As(err, &retr):
		return ClassRetryable
	case errors.Is(err, context.Canceled):
		return ClassTerminal
	}
	return ClassRetryable
}

// HTTPStatusError wraps a non-2xx response, classifying it by status code.
func HTTPStatusError(code int, body string) error {
	err := fmt.Errorf("HTTP %d error: %s", code, body)
	if ClassifyHTTPStatus(code) == ClassTerminal {
		return Terminal(err)
	}
	return Retryable(err)
}

// ClassifyHTTPStatus: 408, 429 and 5xx are worth retrying, other 4xx are not.
func ClassifyHTTPStatus(code int) Class {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests:
		return ClassRetryable
	case code >= 500:
		return ClassRetryable
	case code >= 400:
		return ClassTerminal
	}
	return ClassRetryable
}

type Policy struct {
	MaxAttempts int
	Delay       time.Duration
	Classify    func(error) Class
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.Delay < 0 {
		p.Delay = 0
	}
	if p.Classify == nil {
		p.Classify = DefaultClassify
	}
	return p
}

// Operation is one attempt of a fallible call. attempt starts at 1.
type Operation func(ctx context.Context, attempt int) (map[string]any, error)

const (
	KindMaxRetries = "max_retries_exceeded"
	KindTerminal   = "terminal_failure"
	KindCanceled   = "canceled"
)

// Execute runs op until it succeeds, fails terminally or MaxAttempts is reached,
// sleeping Delay between attempts.
func Execute(ctx context.Context, p Policy, op Operation) domain.Outcome {
	p = p.normalized()

	attempts := 0
	terminal := false
	var lastErr error

	detail, err := backoff.Retry(ctx, func() (map[string]any, error) {
		attempts++
		d, err := op(ctx, attempts)
		if err == nil {
			metrics.RecordRetryAttempt("success")
			return d, nil
		}
		lastErr = err
		if p.Classify(err) == ClassTerminal {
			metrics.RecordRetryAttempt("terminal")
			terminal = true
			return nil, backoff.Permanent(err)
		}
		metrics.RecordRetryAttempt("retryable")
		return nil, err
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(p.Delay)),
		backoff.WithMaxTries(uint(p.MaxAttempts)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.Warn().Err(err).Int("attempt", attempts).Dur("retry_in", next).Msg("attempt failed, retrying")
		}),
	)

	if err == nil {
		if detail == nil {
			detail = map[string]any{}
		}
		return domain.Outcome{Status: domain.StatusSuccess, Detail: detail, Attempts: attempts}
	}
	if lastErr == nil {
		lastErr = err
	}

	var kind string
	switch {
	case terminal:
		kind = KindTerminal
	case attempts < p.MaxAttempts && ctx.Err() != nil:
		kind = KindCanceled
	default:
		kind = KindMaxRetries
	}
	o := domain.Failure(lastErr, map[string]any{"kind": kind, "attempts": attempts})
	o.Attempts = attempts
	return o
}
