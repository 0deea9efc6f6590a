package scyllasink

import (
	"fmt"
	"time"
)

// Config holds the configuration for a Sink.
type Config struct {
	// Identity
	ProducerId ProducerId

	// Batching
	BatchLenLimit    int           // shard flushes once its buffer reaches this many events
	BatchSizeKBLimit int           // flush once accumulated batch size + next msg >= this many KB
	Linger           time.Duration // max time an event waits in the shard buffer

	// Connection
	Keyspace string
	Ifname   *string // optional; nil selects the primary local IPv4 interface

	Hostname string
	Username string
	Password string

	// PeriodSize overrides the package PeriodSize constant. Zero means
	// "use the production value". Reserved for tests: production
	// deployments must never set this, since it must match the schema's
	// expectation for all historical data.
	PeriodSize int64

	// Archive is optional: when non-nil, every flushed batch is also
	// mirrored to object storage. See archiver.go.
	Archive *ArchiveConfig

	// MetricsSampleInterval controls how often cmd/ingestsink prints a
	// metrics snapshot; it has no effect on sink semantics.
	MetricsSampleInterval time.Duration
}

// DefaultShardMaxBufferCapacity is the default value for BatchLenLimit when
// unset. Unlike the source this was translated from - where batch_len_limit
// was accepted but silently ignored in favor of a hardcoded constant - the
// shard daemon here honors BatchLenLimit directly (spec §9 calls this out
// explicitly as a discrepancy to fix, not preserve).
const DefaultShardMaxBufferCapacity = 15

// DefaultConfig returns a configuration with baseline defaults for the
// given producer and keyspace. Connection fields are left empty and must be
// set by the caller.
func DefaultConfig(producerID ProducerId, keyspace string) Config {
	return Config{
		ProducerId:            producerID,
		BatchLenLimit:         DefaultShardMaxBufferCapacity,
		BatchSizeKBLimit:      128,
		Linger:                10 * time.Millisecond,
		Keyspace:              keyspace,
		MetricsSampleInterval: 10 * time.Second,
	}
}

// Validate checks the configuration and fills in defaults where needed.
func (c *Config) Validate() error {
	if c.Keyspace == "" {
		return fmt.Errorf("scyllasink: keyspace is required")
	}
	if c.Hostname == "" {
		return fmt.Errorf("scyllasink: hostname is required")
	}

	if c.BatchLenLimit <= 0 {
		c.BatchLenLimit = DefaultShardMaxBufferCapacity
	}
	if c.BatchSizeKBLimit <= 0 {
		c.BatchSizeKBLimit = 128
	}
	if c.Linger <= 0 {
		c.Linger = 10 * time.Millisecond
	}
	if c.PeriodSize <= 0 {
		c.PeriodSize = PeriodSize
	}
	if c.MetricsSampleInterval <= 0 {
		c.MetricsSampleInterval = 10 * time.Second
	}

	if c.Archive != nil {
		if err := c.Archive.Validate(); err != nil {
			return fmt.Errorf("scyllasink: archive config: %w", err)
		}
	}

	return nil
}

// batchSizeByteLimit is BatchSizeKBLimit converted to bytes, matching
// spec §4.3's max_buffer_byte_size = batch_size_kb_limit * 1024.
func (c Config) batchSizeByteLimit() int {
	return c.BatchSizeKBLimit * 1024
}
