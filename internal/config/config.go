package config

import "time"

// DeskConfig is the root configuration for a desk instance.
type DeskConfig struct {
	Service    ServiceConfig    `yaml:"service"`
	Connection ConnectionConfig `yaml:"connection"`
	Refresh    RefreshConfig    `yaml:"refresh"`
	Feed       FeedConfig       `yaml:"feed"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	History    HistoryConfig    `yaml:"history"`
	Notify     NotifyConfig     `yaml:"notify"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ServiceConfig describes how to reach (and optionally launch) gpttools-service.
type ServiceConfig struct {
	Addr        string        `yaml:"addr"`         // Port or host:port, normalized at start
	BinaryPath  string        `yaml:"binary_path"`  // Empty = attach to an externally managed service
	Args        []string      `yaml:"args"`         // Extra arguments for the service binary
	RPCPath     string        `yaml:"rpc_path"`     // HTTP path of the RPC endpoint
	Timeout     time.Duration `yaml:"timeout"`      // Per-request HTTP timeout
	MaxRetries  int           `yaml:"max_retries"`  // Transport-level retries for data calls
	StopTimeout time.Duration `yaml:"stop_timeout"` // Grace period before the child is killed
	AutoStart   bool          `yaml:"auto_start"`   // Probe/start the service on boot
}

// RetryConfig is a retry budget: Retries extra attempts, Delay between them.
type RetryConfig struct {
	Retries int           `yaml:"retries"`
	Delay   time.Duration `yaml:"delay"`
}

// ConnectionConfig holds the retry budgets used by the connection manager.
type ConnectionConfig struct {
	Ensure RetryConfig `yaml:"ensure"` // EnsureConnected before an action
	Boot   RetryConfig `yaml:"boot"`   // Start without SkipInitialize
	Wait   RetryConfig `yaml:"wait"`   // Waiting for a freshly started service
	Probe  RetryConfig `yaml:"probe"`  // Silent probe at auto start
}

// RefreshConfig holds periodic refresh settings.
type RefreshConfig struct {
	Interval        time.Duration `yaml:"interval"`
	AllowOverlap    bool          `yaml:"allow_overlap"`
	RequestLogLimit int           `yaml:"request_log_limit"`
	LoginTimeout    time.Duration `yaml:"login_timeout"`
	LoginPoll       time.Duration `yaml:"login_poll"`
}

// FeedConfig holds the renderer websocket feed settings.
type FeedConfig struct {
	Port       int           `yaml:"port"`
	Path       string        `yaml:"path"`
	BufferSize int           `yaml:"buffer_size"`
	WriteWait  time.Duration `yaml:"write_wait"`
	PongWait   time.Duration `yaml:"pong_wait"` // Zero = twice the ping interval
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// HistoryConfig holds the usage history writer settings.
type HistoryConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Database      DBConfig      `yaml:"database"`
	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// DBConfig holds a single database connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// NotifyConfig controls desktop notifications for error hints.
type NotifyConfig struct {
	Desktop bool   `yaml:"desktop"`
	AppName string `yaml:"app_name"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
}
