package schedule

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"photocron/internal/domain"
)

type Kind string

const (
	KindCron     Kind = "cron"
	KindInterval Kind = "interval"
	KindDailyAt  Kind = "daily_at"
	KindOnce     Kind = "once"
)

type Unit string

const (
	Minutes Unit = "minutes"
	Hours   Unit = "hours"
	Days    Unit = "days"
)

// Only the five standard fields; descriptors like @daily are rejected.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Longest accepted interval; keeps count*unit inside time.Duration.
const maxInterval = 100 * 365 * 24 * time.Hour

// A cron with no match within robfig's search horizon from here never fires.
var cronReference = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Expression is an immutable, parsed schedule specification.
type Expression struct {
	raw  string
	kind Kind

	cron cron.Schedule

	count int
	unit  Unit

	hour, minute int

	at time.Time
}

// Parse accepts a 5-field cron expression, "every <N> <minutes|hours|days>",
// a "HH:MM" daily clock time or "at <RFC3339>".
func Parse(spec string) (Expression, error) {
	raw := strings.TrimSpace(spec)
	if raw == "" {
		return Expression{}, fmt.Errorf("%w: empty schedule", domain.ErrInvalidSchedule)
	}
	fields := strings.Fields(raw)

	switch {
	case strings.EqualFold(fields[0], "every"):
		return parseInterval(raw, fields)
	case strings.EqualFold(fields[0], "at"):
		return parseOnce(raw, fields)
	case len(fields) == 1 && strings.Contains(raw, ":"):
		return parseDailyAt(raw)
	case len(fields) == 5:
		s, err := cronParser.Parse(raw)
		if err != nil {
			return Expression{}, fmt.Errorf("%w: %q: %v", domain.ErrInvalidSchedule, raw, err)
		}
		if s.Next(cronReference).IsZero() {
			return Expression{}, fmt.Errorf("%w: %q: never fires", domain.ErrInvalidSchedule, raw)
		}
		return Expression{raw: raw, kind: KindCron, cron: s}, nil
	}
	return Expression{}, fmt.Errorf("%w: %q", domain.ErrInvalidSchedule, raw)
}

// MustParse is Parse for static schedules; it panics on error.
func MustParse(spec string) Expression {
	e, err := Parse(spec)
	if err != nil {
		panic(err)
	}
	return e
}

// At returns a schedule firing once at t.
func At(t time.Time) Expression {
	return Expression{raw: "at " + t.Format(time.RFC3339), kind: KindOnce, at: t}
}

func parseInterval(raw string, fields []string) (Expression, error) {
	if len(fields) != 3 {
		return Expression{}, fmt.Errorf("%w: %q: use 'every <N> <minutes|hours|days>'", domain.ErrInvalidSchedule, raw)
	}
	n, err := strconv.Atoi(fields[1])
	if err != nil || n <= 0 {
		return Expression{}, fmt.Errorf("%w: %q: interval must be a positive integer", domain.ErrInvalidSchedule, raw)
	}
	var unit Unit
	var step time.Duration
	switch strings.ToLower(fields[2]) {
	case "minute", "minutes":
		unit, step = Minutes, time.Minute
	case "hour", "hours":
		unit, step = Hours, time.Hour
	case "day", "days":
		unit, step = Days, 24*time.Hour
	default:
		return Expression{}, fmt.Errorf("%w: %q: unit must be minutes, hours or days", domain.ErrInvalidSchedule, raw)
	}
	if int64(n) > int64(maxInterval/step) {
		return Expression{}, fmt.Errorf("%w: %q: interval longer than %d days", domain.ErrInvalidSchedule, raw, int64(maxInterval/(24*time.Hour)))
	}
	return Expression{raw: raw, kind: KindInterval, count: n, unit: unit}, nil
}

func parseDailyAt(raw string) (Expression, error) {
	hh, mm, ok := strings.Cut(raw, ":")
	if !ok || len(hh) == 0 || len(hh) > 2 || len(mm) != 2 || !allDigits(hh) || !allDigits(mm) {
		return Expression{}, fmt.Errorf("%w: %q: use HH:MM", domain.ErrInvalidSchedule, raw)
	}
	h, err := strconv.Atoi(hh)
	if err != nil || h < 0 || h > 23 {
		return Expression{}, fmt.Errorf("%w: %q: hour must be 0-23", domain.ErrInvalidSchedule, raw)
	}
	m, err := strconv.Atoi(mm)
	if err != nil || m < 0 || m > 59 {
		return Expression{}, fmt.Errorf("%w: %q: minute must be 0-59", domain.ErrInvalidSchedule, raw)
	}
	return Expression{raw: raw, kind: KindDailyAt, hour: h, minute: m}, nil
}

func allDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func parseOnce(raw string, fields []string) (Expression, error) {
	if len(fields) != 2 {
		return Expression{}, fmt.Errorf("%w: %q: use 'at <RFC3339>'", domain.ErrInvalidSchedule, raw)
	}
	t, err := time.Parse(time.RFC3339, fields[1])
	if err != nil {
		return Expression{}, fmt.Errorf("%w: %q: %v", domain.ErrInvalidSchedule, raw, err)
	}
	return Expression{raw: raw, kind: KindOnce, at: t}, nil
}

func (e Expression) String() string { return e.raw }
func (e Expression) Kind() Kind     { return e.kind }
func (e Expression) IsZero() bool   { return e.kind == "" }

// Next returns the first fire instant strictly after from. A zero time means
// the schedule will not fire again.
func (e Expression) Next(from time.Time) time.Time {
	switch e.kind {
	case KindCron:
		return e.cron.Next(from)
	case KindInterval:
		switch e.unit {
		case Minutes:
			return from.Add(time.Duration(e.count) * time.Minute)
		case Hours:
			return from.Add(time.Duration(e.count) * time.Hour)
		default:
			return from.AddDate(0, 0, e.count)
		}
	case KindDailyAt:
		y, m, d := from.Date()
		next := time.Date(y, m, d, e.hour, e.minute, 0, 0, from.Location())
		if !next.After(from) {
			next = time.Date(y, m, d+1, e.hour, e.minute, 0, 0, from.Location())
		}
		return next
	case KindOnce:
		if e.at.After(from) {
			return e.at
		}
	}
	return time.Time{}
}
