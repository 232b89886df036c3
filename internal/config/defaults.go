package config

import "time"

const (
	DefaultAddr            = ":8080"
	DefaultShutdownTimeout = 30 * time.Second
	DefaultDBPath          = "photocron.db"
	DefaultHistoryMaxAge   = 30 * 24 * time.Hour

	DefaultPollInterval  = time.Second
	DefaultMaxConcurrent = 4
	DefaultJobTimeout    = time.Hour

	DefaultDetectSchedule     = "0 3 * * *"
	DefaultDetectAPIURL       = "http://localhost:8888/run"
	DefaultRandomTimeSchedule = "0 8 * * *"
	DefaultRandomTimeDuration = 59
	DefaultFileCheckSchedule  = "every 1 hours"
	DefaultFileCheckPath      = "/data"
	DefaultFileCheckLimit     = 10

	DefaultTelegramAPIURL = "https://api.telegram.org"

	DefaultPhotoDir      = "photos"
	DefaultReviewDir     = "review"
	DefaultNSFWThreshold = 0.8

	DefaultRequestTimeout = 30
	DefaultMaxRetries     = 3
	DefaultRetryDelay     = 5

	DefaultLogLevel   = "info"
	DefaultLogFormat  = "console"
	DefaultAppVersion = "development"
)

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:            DefaultAddr,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Database: DatabaseConfig{
			Path:          DefaultDBPath,
			HistoryMaxAge: DefaultHistoryMaxAge,
		},
		Scheduler: SchedulerConfig{
			PollInterval:  DefaultPollInterval,
			MaxConcurrent: DefaultMaxConcurrent,
			JobTimeout:    DefaultJobTimeout,
		},
		DetectNude: DetectNudeConfig{
			Enabled:  true,
			Schedule: DefaultDetectSchedule,
			APIURL:   DefaultDetectAPIURL,
		},
		RandomTime: RandomTimeConfig{
			Enabled:  true,
			Schedule: DefaultRandomTimeSchedule,
			Duration: DefaultRandomTimeDuration,
		},
		FileCheck: FileCheckConfig{
			Enabled:  false,
			Schedule: DefaultFileCheckSchedule,
			Path:     DefaultFileCheckPath,
			Limit:    DefaultFileCheckLimit,
		},
		Telegram: TelegramConfig{
			APIURL: DefaultTelegramAPIURL,
		},
		PhotoDir:       DefaultPhotoDir,
		ReviewDir:      DefaultReviewDir,
		NSFWThreshold:  DefaultNSFWThreshold,
		RequestTimeout: DefaultRequestTimeout,
		MaxRetries:     DefaultMaxRetries,
		RetryDelay:     DefaultRetryDelay,
		LogLevel:       DefaultLogLevel,
		LogFormat:      DefaultLogFormat,
		AppVersion:     DefaultAppVersion,
	}
}
