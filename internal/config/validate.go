package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *DeskConfig) Validate() error {
	if strings.TrimSpace(c.Service.Addr) == "" {
		return errors.New("service.addr is required")
	}
	if !strings.HasPrefix(c.Service.RPCPath, "/") {
		return fmt.Errorf("service.rpc_path must start with '/', got %q", c.Service.RPCPath)
	}
	if c.Service.MaxRetries < 0 {
		return errors.New("service.max_retries must be >= 0")
	}

	budgets := []struct {
		name string
		r    RetryConfig
	}{
		{"connection.ensure", c.Connection.Ensure},
		{"connection.boot", c.Connection.Boot},
		{"connection.wait", c.Connection.Wait},
		{"connection.probe", c.Connection.Probe},
	}
	for _, b := range budgets {
		if err := b.r.validate(b.name); err != nil {
			return err
		}
	}

	if c.Refresh.Interval <= 0 {
		return errors.New("refresh.interval must be > 0")
	}
	if c.Refresh.RequestLogLimit < 1 {
		return errors.New("refresh.request_log_limit must be >= 1")
	}

	if c.Feed.Port < 1 || c.Feed.Port > 65535 {
		return fmt.Errorf("feed.port must be between 1 and 65535, got %d", c.Feed.Port)
	}
	if c.Feed.BufferSize < 1 {
		return errors.New("feed.buffer_size must be >= 1")
	}

	if c.History.Enabled {
		if err := c.History.Database.validate("history.database"); err != nil {
			return err
		}
		if c.History.BatchSize < 1 {
			return errors.New("history.batch_size must be >= 1")
		}
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	return nil
}

func (r RetryConfig) validate(prefix string) error {
	if r.Retries < 0 {
		return fmt.Errorf("%s.retries must be >= 0", prefix)
	}
	if r.Delay < 0 {
		return fmt.Errorf("%s.delay must be >= 0", prefix)
	}
	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Host == "" {
		return fmt.Errorf("%s.host is required", prefix)
	}
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
