package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"photocron/internal/schedule"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("configuration validation failed:\n")
	for _, err := range e {
		sb.WriteString("  - ")
		sb.WriteString(err.Error())
		sb.WriteString("\n")
	}
	return sb.String()
}

func (e ValidationErrors) Has(field string) bool {
	for _, err := range e {
		if err.Field == field {
			return true
		}
	}
	return false
}

func Validate(cfg *Config) error {
	var errs ValidationErrors

	errs = append(errs, validateServer(cfg)...)
	errs = append(errs, validateScheduler(&cfg.Scheduler)...)
	errs = append(errs, validateJobs(cfg)...)
	errs = append(errs, validateRequests(cfg)...)
	errs = append(errs, validateLogging(cfg)...)

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateServer(cfg *Config) ValidationErrors {
	var errs ValidationErrors
	if cfg.Server.Addr == "" {
		errs = append(errs, ValidationError{Field: "server.addr", Message: "is required"})
	}
	if cfg.Server.ShutdownTimeout < 0 {
		errs = append(errs, ValidationError{Field: "server.shutdown_timeout", Message: "must be non-negative"})
	}
	return errs
}

func validateScheduler(cfg *SchedulerConfig) ValidationErrors {
	var errs ValidationErrors
	if cfg.PollInterval <= 0 {
		errs = append(errs, ValidationError{Field: "scheduler.poll_interval", Message: "must be positive"})
	}
	if cfg.PollInterval > time.Minute {
		errs = append(errs, ValidationError{Field: "scheduler.poll_interval", Message: "must not exceed 1m or minute-aligned schedules are missed"})
	}
	if cfg.MaxConcurrent < 0 {
		errs = append(errs, ValidationError{Field: "scheduler.max_concurrent", Message: "must be non-negative"})
	}
	if cfg.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Timezone); err != nil {
			errs = append(errs, ValidationError{Field: "scheduler.timezone", Message: err.Error()})
		}
	}
	return errs
}

func validateSchedule(field, spec string) ValidationErrors {
	if _, err := schedule.Parse(spec); err != nil {
		return ValidationErrors{{Field: field, Message: err.Error()}}
	}
	return nil
}

func validateJobs(cfg *Config) ValidationErrors {
	var errs ValidationErrors

	if cfg.DetectNude.Enabled {
		errs = append(errs, validateSchedule("detect_nude.schedule", cfg.DetectNude.Schedule)...)
		if cfg.NSFWThreshold < 0 || cfg.NSFWThreshold > 1 {
			errs = append(errs, ValidationError{Field: "nsfw_threshold", Message: "must be between 0 and 1"})
		}
	}

	if cfg.RandomTime.Enabled {
		errs = append(errs, validateSchedule("random_time.schedule", cfg.RandomTime.Schedule)...)
		if cfg.RandomTime.Duration < 0 {
			errs = append(errs, ValidationError{Field: "random_time.duration", Message: "must be non-negative"})
		}
		if cfg.Telegram.BotToken == "" {
			errs = append(errs, ValidationError{Field: "telegram.bot_token", Message: "is required when random_time is enabled"})
		}
		if cfg.Telegram.ChatID == "" {
			errs = append(errs, ValidationError{Field: "telegram.chat_id", Message: "is required when random_time is enabled"})
		}
	}

	if cfg.FileCheck.Enabled {
		errs = append(errs, validateSchedule("file_check.schedule", cfg.FileCheck.Schedule)...)
		if cfg.FileCheck.Path == "" {
			errs = append(errs, ValidationError{Field: "file_check.path", Message: "is required"})
		}
	}

	if (cfg.DetectNude.Enabled || cfg.RandomTime.Enabled) && cfg.PhotoDir == "" {
		errs = append(errs, ValidationError{Field: "photo_dir", Message: "is required"})
	}
	return errs
}

func validateRequests(cfg *Config) ValidationErrors {
	var errs ValidationErrors
	if cfg.RequestTimeout <= 0 {
		errs = append(errs, ValidationError{Field: "request_timeout", Message: "must be positive"})
	}
	if cfg.MaxRetries < 1 {
		errs = append(errs, ValidationError{Field: "max_retries", Message: "must be at least 1"})
	}
	if cfg.RetryDelay < 0 {
		errs = append(errs, ValidationError{Field: "retry_delay", Message: "must be non-negative"})
	}
	return errs
}

func validateLogging(cfg *Config) ValidationErrors {
	var errs ValidationErrors
	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil || cfg.LogLevel == "" {
		errs = append(errs, ValidationError{Field: "log_level", Message: "must be one of trace, debug, info, warn, error, fatal, panic"})
	}
	switch cfg.LogFormat {
	case "console", "json":
	default:
		errs = append(errs, ValidationError{Field: "log_format", Message: "must be console or json"})
	}
	return errs
}
