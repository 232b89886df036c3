package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type LoadOptions struct {
	ConfigFile string
	Defaults   *Config
}

// Load merges defaults, the config file and the environment, then validates.
func Load(opts LoadOptions) (*Config, error) {
	cfg, err := Read(opts)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is Load without validation.
func Read(opts LoadOptions) (*Config, error) {
	v := viper.New()

	defaults := opts.Defaults
	if defaults == nil {
		defaults = Default()
	}
	setViperDefaults(v, defaults)

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
	} else {
		v.SetConfigName("photocron")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/photocron")
		v.AddConfigPath("/etc/photocron")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	return cfg, nil
}

func setViperDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("server.addr", cfg.Server.Addr)
	v.SetDefault("server.shutdown_timeout", cfg.Server.ShutdownTimeout)

	v.SetDefault("database.path", cfg.Database.Path)
	v.SetDefault("database.history_max_age", cfg.Database.HistoryMaxAge)

	v.SetDefault("scheduler.poll_interval", cfg.Scheduler.PollInterval)
	v.SetDefault("scheduler.max_concurrent", cfg.Scheduler.MaxConcurrent)
	v.SetDefault("scheduler.timezone", cfg.Scheduler.Timezone)
	v.SetDefault("scheduler.job_timeout", cfg.Scheduler.JobTimeout)

	v.SetDefault("detect_nude.enabled", cfg.DetectNude.Enabled)
	v.SetDefault("detect_nude.schedule", cfg.DetectNude.Schedule)
	v.SetDefault("detect_nude.api_url", cfg.DetectNude.APIURL)

	v.SetDefault("random_time.enabled", cfg.RandomTime.Enabled)
	v.SetDefault("random_time.schedule", cfg.RandomTime.Schedule)
	v.SetDefault("random_time.duration", cfg.RandomTime.Duration)

	v.SetDefault("file_check.enabled", cfg.FileCheck.Enabled)
	v.SetDefault("file_check.schedule", cfg.FileCheck.Schedule)
	v.SetDefault("file_check.path", cfg.FileCheck.Path)
	v.SetDefault("file_check.limit", cfg.FileCheck.Limit)

	v.SetDefault("telegram.bot_token", cfg.Telegram.BotToken)
	v.SetDefault("telegram.chat_id", cfg.Telegram.ChatID)
	v.SetDefault("telegram.api_url", cfg.Telegram.APIURL)
	v.SetDefault("telegram.caption", cfg.Telegram.Caption)

	v.SetDefault("photo_dir", cfg.PhotoDir)
	v.SetDefault("review_dir", cfg.ReviewDir)
	v.SetDefault("nsfw_threshold", cfg.NSFWThreshold)
	v.SetDefault("request_timeout", cfg.RequestTimeout)
	v.SetDefault("max_retries", cfg.MaxRetries)
	v.SetDefault("retry_delay", cfg.RetryDelay)

	v.SetDefault("log_level", cfg.LogLevel)
	v.SetDefault("log_format", cfg.LogFormat)
	v.SetDefault("debug", cfg.Debug)
	v.SetDefault("app_version", cfg.AppVersion)
}
