package worker

import (
	"time"

	"github.com/smallbiznis/newsdesk/internal/config"
)

// Config controls slot count, polling and lease upkeep.
type Config struct {
	Concurrency       int
	PollInterval      time.Duration
	LeaseDuration     time.Duration
	HeartbeatInterval time.Duration
	ReapInterval      time.Duration
	ReapBatchSize     int
	JobTimeout        time.Duration
	LeaderLock        bool
	LeaderLockKey     string
	AutoStart         bool
}

func DefaultConfig() Config {
	return Config{
		Concurrency:   1,
		PollInterval:  2 * time.Second,
		LeaseDuration: 2 * time.Minute,
		ReapInterval:  30 * time.Second,
		ReapBatchSize: 100,
		JobTimeout:    30 * time.Minute,
		LeaderLockKey: "newsdesk:worker:leader",
		AutoStart:     true,
	}
}

func ProvideConfig(cfg config.Config) Config {
	return Config{
		Concurrency:   cfg.Worker.Concurrency,
		PollInterval:  cfg.Worker.PollInterval,
		LeaseDuration: cfg.Worker.LeaseDuration,
		LeaderLock:    cfg.Worker.LeaderLock,
		AutoStart:     cfg.Worker.AutoStart,
	}.withDefaults()
}

func (c Config) withDefaults() Config {
	defaults := DefaultConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = defaults.Concurrency
	}
	if c.PollInterval <= 0 {
		c.PollInterval = defaults.PollInterval
	}
	if c.LeaseDuration <= 0 {
		c.LeaseDuration = defaults.LeaseDuration
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = c.LeaseDuration / 3
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = defaults.ReapInterval
	}
	if c.ReapBatchSize <= 0 {
		c.ReapBatchSize = defaults.ReapBatchSize
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaults.JobTimeout
	}
	if c.LeaderLockKey == "" {
		c.LeaderLockKey = defaults.LeaderLockKey
	}
	return c
}
