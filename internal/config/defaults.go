package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultServiceAddr      = "localhost:48760"
	DefaultRPCPath          = "/rpc"
	DefaultServiceTimeout   = 15 * time.Second
	DefaultMaxRetries       = 0
	DefaultStopTimeout      = 5 * time.Second
	DefaultEnsureRetries    = 1
	DefaultEnsureDelay      = 200 * time.Millisecond
	DefaultBootRetries      = 8
	DefaultBootDelay        = 400 * time.Millisecond
	DefaultWaitRetries      = 12
	DefaultWaitDelay        = 400 * time.Millisecond
	DefaultProbeRetries     = 1
	DefaultProbeDelay       = 200 * time.Millisecond
	DefaultRefreshInterval  = 30 * time.Second
	DefaultRequestLogLimit  = 300
	DefaultLoginTimeout     = 2 * time.Minute
	DefaultLoginPoll        = 1500 * time.Millisecond
	DefaultFeedPort         = 48761
	DefaultFeedPath         = "/feed"
	DefaultFeedBufferSize   = 64
	DefaultFeedWriteWait    = 5 * time.Second
	DefaultMetricsPath      = "/metrics"
	DefaultDBPort           = 5432
	DefaultDBSSLMode        = "prefer"
	DefaultMaxConns         = 4
	DefaultMinConns         = 1
	DefaultHistoryBatchSize = 200
	DefaultHistoryFlush     = 5 * time.Second
	DefaultHistoryBuffer    = 1000
	DefaultAppName          = "gpttools"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "text"
)

// ApplyDefaults fills every unset field with its default value.
func (c *DeskConfig) ApplyDefaults() {
	// Service defaults
	if c.Service.Addr == "" {
		c.Service.Addr = DefaultServiceAddr
	}
	if c.Service.RPCPath == "" {
		c.Service.RPCPath = DefaultRPCPath
	}
	if c.Service.Timeout == 0 {
		c.Service.Timeout = DefaultServiceTimeout
	}
	if c.Service.StopTimeout == 0 {
		c.Service.StopTimeout = DefaultStopTimeout
	}

	// Connection budgets. A zero delay is meaningful, so only an entirely
	// empty budget picks up the default.
	applyRetryDefaults(&c.Connection.Ensure, DefaultEnsureRetries, DefaultEnsureDelay)
	applyRetryDefaults(&c.Connection.Boot, DefaultBootRetries, DefaultBootDelay)
	applyRetryDefaults(&c.Connection.Wait, DefaultWaitRetries, DefaultWaitDelay)
	applyRetryDefaults(&c.Connection.Probe, DefaultProbeRetries, DefaultProbeDelay)

	// Refresh defaults
	if c.Refresh.Interval == 0 {
		c.Refresh.Interval = DefaultRefreshInterval
	}
	if c.Refresh.RequestLogLimit == 0 {
		c.Refresh.RequestLogLimit = DefaultRequestLogLimit
	}
	if c.Refresh.LoginTimeout == 0 {
		c.Refresh.LoginTimeout = DefaultLoginTimeout
	}
	if c.Refresh.LoginPoll == 0 {
		c.Refresh.LoginPoll = DefaultLoginPoll
	}

	// Feed defaults
	if c.Feed.Port == 0 {
		c.Feed.Port = DefaultFeedPort
	}
	if c.Feed.Path == "" {
		c.Feed.Path = DefaultFeedPath
	}
	if c.Feed.BufferSize == 0 {
		c.Feed.BufferSize = DefaultFeedBufferSize
	}
	if c.Feed.WriteWait == 0 {
		c.Feed.WriteWait = DefaultFeedWriteWait
	}

	if c.Metrics.Path == "" {
		c.Metrics.Path = DefaultMetricsPath
	}

	// History defaults
	applyDBDefaults(&c.History.Database)
	if c.History.BatchSize == 0 {
		c.History.BatchSize = DefaultHistoryBatchSize
	}
	if c.History.FlushInterval == 0 {
		c.History.FlushInterval = DefaultHistoryFlush
	}
	if c.History.BufferSize == 0 {
		c.History.BufferSize = DefaultHistoryBuffer
	}

	if c.Notify.AppName == "" {
		c.Notify.AppName = DefaultAppName
	}

	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Logging.Format == "" {
		c.Logging.Format = DefaultLogFormat
	}
}

func applyRetryDefaults(r *RetryConfig, retries int, delay time.Duration) {
	if r.Retries == 0 && r.Delay == 0 {
		r.Retries = retries
		r.Delay = delay
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
