package scyllasink

import (
	"fmt"
	"time"
)

// ArchiveConfig configures the optional cold-storage mirror described in
// SPEC_FULL.md §4.8. It is a direct descendant of the teacher's
// GCSUploadConfig, narrowed to what the archiver actually needs.
type ArchiveConfig struct {
	Bucket              string        // GCS bucket name (required)
	ObjectPrefix        string        // object prefix, e.g. "ingest/mainnet/"
	ChunkSize           int           // bytes per compose chunk (default 32MB)
	MaxChunksPerCompose int           // GCS compose limit (default 32)
	MaxRetries          int           // per-object upload retry attempts (default 3)
	RetryDelay          time.Duration // delay between retries (default 5s)
	GRPCPoolSize        int           // gRPC connection pool size for the storage client (default 64)
	ChannelBufferSize   int           // archive request channel buffer (default 100)
}

// DefaultArchiveConfig returns an ArchiveConfig with baseline defaults.
func DefaultArchiveConfig(bucket string) ArchiveConfig {
	return ArchiveConfig{
		Bucket:              bucket,
		ChunkSize:           32 * 1024 * 1024,
		MaxChunksPerCompose: 32,
		MaxRetries:          3,
		RetryDelay:          5 * time.Second,
		GRPCPoolSize:        64,
		ChannelBufferSize:   100,
	}
}

// Validate checks the archive configuration and fills in defaults.
func (a *ArchiveConfig) Validate() error {
	if a.Bucket == "" {
		return fmt.Errorf("scyllasink: archive bucket is required")
	}
	if a.ChunkSize <= 0 {
		a.ChunkSize = 32 * 1024 * 1024
	}
	if a.MaxChunksPerCompose <= 0 {
		a.MaxChunksPerCompose = 32
	}
	if a.MaxRetries <= 0 {
		a.MaxRetries = 3
	}
	if a.RetryDelay <= 0 {
		a.RetryDelay = 5 * time.Second
	}
	if a.GRPCPoolSize <= 0 {
		a.GRPCPoolSize = 64
	}
	if a.ChannelBufferSize <= 0 {
		a.ChannelBufferSize = 100
	}
	return nil
}
