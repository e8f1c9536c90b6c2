package outbox

import (
	"errors"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/MrEthical07/goIdentity/event"
)

// Config tunes the dispatcher and the retention job.
type Config struct {
	Interval       time.Duration `yaml:"interval"`
	BatchSize      int           `yaml:"batch_size"`
	MaxAttempts    int           `yaml:"max_attempts"`
	BaseBackoff    time.Duration `yaml:"base_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	PublishTimeout time.Duration `yaml:"publish_timeout"`
	// TenantConcurrency bounds how many tenants are published in parallel.
	// Records of one tenant are always published by a single goroutine.
	TenantConcurrency int    `yaml:"tenant_concurrency"`
	SourceService     string `yaml:"source_service"`
	Codec             string `yaml:"codec"`

	RetentionSchedule string        `yaml:"retention_schedule"`
	RetentionWindow   time.Duration `yaml:"retention_window"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Interval:          time.Second,
		BatchSize:         100,
		MaxAttempts:       10,
		BaseBackoff:       time.Second,
		MaxBackoff:        5 * time.Minute,
		PublishTimeout:    5 * time.Second,
		TenantConcurrency: 4,
		SourceService:     "identity",
		Codec:             "json",
		RetentionSchedule: "@hourly",
		RetentionWindow:   7 * 24 * time.Hour,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Interval <= 0 {
		return errors.New("outbox: Interval must be > 0")
	}
	if c.BatchSize <= 0 {
		return errors.New("outbox: BatchSize must be > 0")
	}
	if c.MaxAttempts <= 0 {
		return errors.New("outbox: MaxAttempts must be > 0")
	}
	if c.BaseBackoff <= 0 || c.MaxBackoff < c.BaseBackoff {
		return errors.New("outbox: require 0 < BaseBackoff <= MaxBackoff")
	}
	if c.PublishTimeout <= 0 {
		return errors.New("outbox: PublishTimeout must be > 0")
	}
	if c.TenantConcurrency <= 0 {
		return errors.New("outbox: TenantConcurrency must be > 0")
	}
	if _, err := event.CodecByName(c.Codec); err != nil {
		return err
	}
	if c.RetentionWindow <= 0 {
		return errors.New("outbox: RetentionWindow must be > 0")
	}
	if _, err := cron.ParseStandard(c.RetentionSchedule); err != nil {
		return errors.New("outbox: invalid RetentionSchedule: " + err.Error())
	}
	return nil
}
