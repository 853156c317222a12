package config

const (
	defaultDataDir            = "~/.local/share/dramapipe"
	defaultStagingDir         = "~/.local/share/dramapipe/staging"
	defaultLogDir             = "~/.local/share/dramapipe/logs"
	defaultAPIBind            = "127.0.0.1:7642"
	defaultRedisURI           = "redis://127.0.0.1:6379/0"
	defaultScriptBaseURL      = "https://api.openai.com/v1"
	defaultScriptModel        = "gpt-4o-mini"
	defaultScriptTimeout      = 120
	defaultVoiceBaseURL       = "https://api.elevenlabs.io/v1"
	defaultVoiceModelID       = "eleven_multilingual_v2"
	defaultVoiceTimeout       = 180
	defaultFFmpegBinary       = "ffmpeg"
	defaultAssemblyTimeout    = 600
	defaultPublishPrivacy     = "public"
	defaultPublishCategoryID  = "24"
	defaultPublishTimeout     = 900
	defaultMaxAttempts        = 3
	defaultStageTimeout       = 300
	defaultBackoffBaseSeconds = 30
	defaultBackoffCapSeconds  = 900
	defaultConcurrency        = 4
	defaultSweepInterval      = 30
	defaultLeaseTTL           = 120
	defaultHeartbeatInterval  = 15
	defaultErrorRetryInterval = 10
	defaultLeaseRetryDelay    = 5
	defaultSchedulerGrace     = 60
	defaultDailyCron          = "0 9 * * *"
	defaultIdempotencyTTL     = 48
	defaultLogFormat          = "console"
	defaultLogLevel           = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:    defaultDataDir,
			StagingDir: defaultStagingDir,
			LogDir:     defaultLogDir,
			APIBind:    defaultAPIBind,
		},
		Redis: Redis{
			URI: defaultRedisURI,
		},
		Script: Script{
			BaseURL:        defaultScriptBaseURL,
			Model:          defaultScriptModel,
			TimeoutSeconds: defaultScriptTimeout,
		},
		Voice: Voice{
			BaseURL:        defaultVoiceBaseURL,
			ModelID:        defaultVoiceModelID,
			TimeoutSeconds: defaultVoiceTimeout,
		},
		Assembly: Assembly{
			FFmpegBinary:   defaultFFmpegBinary,
			TimeoutSeconds: defaultAssemblyTimeout,
		},
		Publish: Publish{
			Privacy:        defaultPublishPrivacy,
			CategoryID:     defaultPublishCategoryID,
			TimeoutSeconds: defaultPublishTimeout,
		},
		Pipeline: Pipeline{
			MaxAttempts:        defaultMaxAttempts,
			TimeoutSeconds:     defaultStageTimeout,
			BackoffBaseSeconds: defaultBackoffBaseSeconds,
			BackoffCapSeconds:  defaultBackoffCapSeconds,
		},
		Workflow: Workflow{
			Concurrency:          defaultConcurrency,
			SweepInterval:        defaultSweepInterval,
			LeaseTTL:             defaultLeaseTTL,
			HeartbeatInterval:    defaultHeartbeatInterval,
			ErrorRetryInterval:   defaultErrorRetryInterval,
			LeaseRetryDelay:      defaultLeaseRetryDelay,
			DailyCron:            defaultDailyCron,
			DailyContentEnabled:  false,
			IdempotencyTTLHours:  defaultIdempotencyTTL,
			IdempotencyCacheOn:   true,
			SchedulerGracePeriod: defaultSchedulerGrace,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
