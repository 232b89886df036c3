// Package config loads photocron settings from defaults, an optional YAML
// file and the environment.
package config

import "time"

// Config is the root configuration. Environment variables map onto keys by
// replacing "." with "_", so detect_nude.schedule is DETECT_NUDE_SCHEDULE.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Scheduler  SchedulerConfig  `mapstructure:"scheduler"`
	DetectNude DetectNudeConfig `mapstructure:"detect_nude"`
	RandomTime RandomTimeConfig `mapstructure:"random_time"`
	FileCheck  FileCheckConfig  `mapstructure:"file_check"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`

	PhotoDir      string  `mapstructure:"photo_dir"`
	ReviewDir     string  `mapstructure:"review_dir"`
	NSFWThreshold float64 `mapstructure:"nsfw_threshold"`

	// Outbound HTTP settings shared by the detection and Telegram clients.
	RequestTimeout int `mapstructure:"request_timeout"` // seconds
	MaxRetries     int `mapstructure:"max_retries"`     // attempts, including the first
	RetryDelay     int `mapstructure:"retry_delay"`     // seconds

	LogLevel   string `mapstructure:"log_level"`
	LogFormat  string `mapstructure:"log_format"`
	Debug      bool   `mapstructure:"debug"`
	AppVersion string `mapstructure:"app_version"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type DatabaseConfig struct {
	// Run history database. Empty disables history.
	Path          string        `mapstructure:"path"`
	HistoryMaxAge time.Duration `mapstructure:"history_max_age"`
}

type SchedulerConfig struct {
	PollInterval  time.Duration `mapstructure:"poll_interval"`
	MaxConcurrent int           `mapstructure:"max_concurrent"`
	Timezone      string        `mapstructure:"timezone"`
	JobTimeout    time.Duration `mapstructure:"job_timeout"`
}

type DetectNudeConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
	APIURL   string `mapstructure:"api_url"`
}

type RandomTimeConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
	Duration int    `mapstructure:"duration"` // minutes
}

type FileCheckConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Schedule string `mapstructure:"schedule"`
	Path     string `mapstructure:"path"`
	Limit    int    `mapstructure:"limit"`
}

type TelegramConfig struct {
	BotToken string `mapstructure:"bot_token"`
	ChatID   string `mapstructure:"chat_id"`
	APIURL   string `mapstructure:"api_url"`
	Caption  string `mapstructure:"caption"`
}

func (c *Config) Timeout() time.Duration {
	return time.Duration(c.RequestTimeout) * time.Second
}

func (c *Config) RetryDelayDuration() time.Duration {
	return time.Duration(c.RetryDelay) * time.Second
}

func (c *Config) RandomWindow() time.Duration {
	return time.Duration(c.RandomTime.Duration) * time.Minute
}

// Location returns the scheduler timezone, falling back to local time.
func (c *Config) Location() *time.Location {
	if c.Scheduler.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

const redacted = "********"

// Report is the configuration as exposed by the API, with secrets masked.
func (c *Config) Report() map[string]any {
	token := ""
	if c.Telegram.BotToken != "" {
		token = redacted
	}
	return map[string]any{
		"app_version": c.AppVersion,
		"debug":       c.Debug,
		"log_level":   c.LogLevel,
		"photo_dir":   c.PhotoDir,
		"review_dir":  c.ReviewDir,
		"scheduler": map[string]any{
			"poll_interval":  c.Scheduler.PollInterval.String(),
			"max_concurrent": c.Scheduler.MaxConcurrent,
			"timezone":       c.Location().String(),
			"job_timeout":    c.Scheduler.JobTimeout.String(),
		},
		"detect_nude": map[string]any{
			"enabled":        c.DetectNude.Enabled,
			"schedule":       c.DetectNude.Schedule,
			"api_url":        c.DetectNude.APIURL,
			"nsfw_threshold": c.NSFWThreshold,
		},
		"random_time": map[string]any{
			"enabled":  c.RandomTime.Enabled,
			"schedule": c.RandomTime.Schedule,
			"duration": c.RandomTime.Duration,
		},
		"file_check": map[string]any{
			"enabled":  c.FileCheck.Enabled,
			"schedule": c.FileCheck.Schedule,
			"path":     c.FileCheck.Path,
			"limit":    c.FileCheck.Limit,
		},
		"telegram": map[string]any{
			"bot_token": token,
			"chat_id":   c.Telegram.ChatID,
			"api_url":   c.Telegram.APIURL,
		},
		"request_timeout": c.RequestTimeout,
		"max_retries":     c.MaxRetries,
		"retry_delay":     c.RetryDelay,
	}
}
