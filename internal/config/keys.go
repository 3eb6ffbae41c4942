package config

// Environment keys. The KENER_*, KUMA_* and DEBUG names match the variables
// existing deployments already set.
const (
	envConfigPath = "BRIDGE_CONFIG"

	KeySinkURL     = "KENER_URL"
	KeySinkToken   = "KENER_TOKEN"
	KeySinkTimeout = "KENER_TIMEOUT"

	KeyFeedURL              = "KUMA_URL"
	KeyFeedUsername         = "KUMA_USER"
	KeyFeedPassword         = "KUMA_PASS"
	KeyFeedReconnectInitial = "BRIDGE_RECONNECT_INITIAL"
	KeyFeedReconnectMax     = "BRIDGE_RECONNECT_MAX"

	KeyMonitorTypes   = "BRIDGE_MONITOR_TYPES"
	KeyRoutingTag     = "BRIDGE_ROUTING_TAG"
	KeyMaxPingTag     = "BRIDGE_MAXPING_TAG"
	KeyDefaultMaxPing = "BRIDGE_DEFAULT_MAX_PING"
	KeyStaleAfter     = "BRIDGE_STALE_AFTER"
	KeyWorkers        = "BRIDGE_DISPATCH_WORKERS"
	KeyQueueSize      = "BRIDGE_DISPATCH_QUEUE"
	KeyRate           = "BRIDGE_DISPATCH_RATE"
	KeyBurst          = "BRIDGE_DISPATCH_BURST"

	KeySweepSchedule = "BRIDGE_SWEEP_SCHEDULE"
	KeySweepTimezone = "BRIDGE_TIMEZONE"
	KeyTZ            = "TZ"

	KeyDebug     = "DEBUG"
	KeyLogFormat = "BRIDGE_LOG_FORMAT"

	KeyListenAddr = "BRIDGE_LISTEN_ADDR"

	KeyCAFile             = "BRIDGE_CA_FILE"
	KeyInsecureSkipVerify = "BRIDGE_INSECURE_SKIP_VERIFY"
)

const (
	DefaultConfigPath      = "/etc/kenerkuma/bridge.yaml"
	DefaultEnvFile         = ".env"
	DefaultSinkTimeout     = "1s"
	DefaultSweepSchedule   = "0 */1 * * * *"
	DefaultTimezone        = "UTC"
	DefaultStaleAfter      = "30s"
	DefaultListenAddr      = "127.0.0.1:9320"
	DefaultWorkers         = 4
	DefaultQueueSize       = 256
	DefaultRate            = 20.0
	DefaultBurst           = 40
	DefaultMaxPing         = 2000.0
	DefaultRoutingTag      = "Kener"
	DefaultMaxPingTag      = "MaxPing"
	DefaultReconnectInit   = "1s"
	DefaultReconnectMaxDur = "30s"
)
