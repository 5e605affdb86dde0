package config

const (
	defaultStateDir                 = "~/.local/share/mediadesk"
	defaultLogDir                   = "~/.local/share/mediadesk/logs"
	defaultLogFormat                = "console"
	defaultLogLevel                 = "info"
	defaultLogRetentionDays         = 30
	defaultRequireGesture           = true
	defaultMaxBatch                 = 20
	defaultMaxPersisted             = 100
	defaultExtractionTimeoutSeconds = 300
	defaultSubmitTimeoutSeconds     = 1800
	defaultFallbackCeilingMiB       = 200
	defaultWorkerBaseURL            = "http://127.0.0.1:8080"
	defaultWorkerModel              = "assemblyai"
	defaultConversionFormat         = "mp3"
	defaultFFmpegBinary             = "ffmpeg"
	defaultFFprobeBinary            = "ffprobe"
	defaultNotifyRequestTimeout     = 10
	defaultCoordinatorInterval      = 5
	defaultCoordinatorStaleAfter    = 20
	defaultRecentLimit              = 25
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Workspace: Workspace{
			RequireGesture:             defaultRequireGesture,
			CoordinatorIntervalSeconds: defaultCoordinatorInterval,
			CoordinatorStaleSeconds:    defaultCoordinatorStaleAfter,
		},
		Queue: Queue{
			MaxBatch:                 defaultMaxBatch,
			MaxPersisted:             defaultMaxPersisted,
			ExtractionTimeoutSeconds: defaultExtractionTimeoutSeconds,
			SubmitTimeoutSeconds:     defaultSubmitTimeoutSeconds,
			FallbackCeilingMiB:       defaultFallbackCeilingMiB,
			AutoRetry:                true,
			RecentLimit:              defaultRecentLimit,
		},
		Worker: Worker{
			BaseURL:          defaultWorkerBaseURL,
			DefaultModel:     defaultWorkerModel,
			ConversionFormat: defaultConversionFormat,
		},
		Media: Media{
			FFmpegBinary:  defaultFFmpegBinary,
			FFprobeBinary: defaultFFprobeBinary,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			JobCompleted:   true,
			JobFailed:      true,
			QueueCompleted: true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
