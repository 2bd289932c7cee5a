package config

const (
	defaultConfigPath          = "~/.config/tether/config.toml"
	defaultStateDir            = "~/.local/share/tether"
	defaultLogDir              = "~/.local/share/tether/logs"
	defaultAPIBind             = "127.0.0.1:7497"
	defaultBackend             = BackendSQLite
	defaultMaxRetries          = 3
	defaultExecutorTimeout     = 30
	defaultIdempotencyHeader   = "Idempotency-Key"
	defaultUserAgent           = "tether/0.1.0"
	defaultNetworkMode         = NetworkModeAuto
	defaultProbe               = ProbeDial
	defaultProbeAddress        = "1.1.1.1:443"
	defaultProbeTimeout        = 3
	defaultPollInterval        = 30
	defaultNotifyTimeout       = 10
	defaultLogFormat           = "console"
	defaultLogLevel            = "info"
	envBaseURL                 = "TETHER_BASE_URL"
	envAPIToken                = "TETHER_API_TOKEN"
	envNtfyTopic               = "TETHER_NTFY_TOPIC"
	minPollIntervalSeconds     = 1
	maxProbeTimeoutSeconds     = 60
	maxExecutorTimeoutSeconds  = 3600
	maxConfiguredRetryCeiling  = 100
	defaultInitiallyOnlineFlag = true
)

// Queue backends.
const (
	BackendSQLite = "sqlite"
	BackendBolt   = "bolt"
	BackendFile   = "file"
)

// Network monitor modes.
const (
	NetworkModeAuto   = "auto"
	NetworkModeManual = "manual"
)

// Connectivity probes.
const (
	ProbeDial      = "dial"
	ProbeInterface = "interface"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
			APIBind:  defaultAPIBind,
		},
		Queue: Queue{
			Backend:    defaultBackend,
			MaxRetries: defaultMaxRetries,
		},
		Executor: Executor{
			TimeoutSeconds:    defaultExecutorTimeout,
			IdempotencyHeader: defaultIdempotencyHeader,
			UserAgent:         defaultUserAgent,
		},
		Network: Network{
			Mode:                defaultNetworkMode,
			Probe:               defaultProbe,
			ProbeAddress:        defaultProbeAddress,
			ProbeTimeoutSeconds: defaultProbeTimeout,
			PollIntervalSeconds: defaultPollInterval,
			InitiallyOnline:     defaultInitiallyOnlineFlag,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyTimeout,
			Evictions:      true,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
