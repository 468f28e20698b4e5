package config

const (
	defaultConfigPath           = "~/.config/logsentinel/config.toml"
	defaultStateDir             = "~/.local/share/logsentinel/state"
	defaultReportDir            = "~/.local/share/logsentinel/reports"
	defaultLogDir               = "~/.local/share/logsentinel/logs"
	defaultPromptDir            = "~/.config/logsentinel/prompts"
	defaultLogRetentionDays     = 30
	defaultLogFormat            = "console"
	defaultLogLevel             = "info"
	defaultCheckIntervalSeconds = 60
	defaultMaxWorkers           = 5
	defaultMaxLogLines          = 10000
	defaultChunkSize            = 2000
	defaultLLMBaseURL           = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMReferer           = "https://github.com/logsentinel/logsentinel"
	defaultLLMTitle             = "logsentinel"
	defaultLLMTimeoutSeconds    = 300
	defaultLLMRetryAttempts     = 3
	defaultLLMRetryBackoff      = 2
	defaultNotifyTimeout        = 10
	defaultLookbackHours        = 24
	defaultRunIntervalSeconds   = 3600
	defaultTimezone             = "UTC"
	defaultSMTPPort             = 587
	defaultEnvAPIKey            = "LOGSENTINEL_API_KEY"
	defaultEnvProfileAlias      = "default"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir:  defaultStateDir,
			ReportDir: defaultReportDir,
			LogDir:    defaultLogDir,
			PromptDir: defaultPromptDir,
		},
		Scheduler: Scheduler{
			CheckIntervalSeconds: defaultCheckIntervalSeconds,
			MaxWorkers:           defaultMaxWorkers,
			MaxLogLines:          defaultMaxLogLines,
			ChunkSize:            defaultChunkSize,
		},
		LLM: LLM{
			BaseURL:             defaultLLMBaseURL,
			Referer:             defaultLLMReferer,
			Title:               defaultLLMTitle,
			TimeoutSeconds:      defaultLLMTimeoutSeconds,
			RetryAttempts:       defaultLLMRetryAttempts,
			RetryBackoffSeconds: defaultLLMRetryBackoff,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Email:          true,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
	}
}
