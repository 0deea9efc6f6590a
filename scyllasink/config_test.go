package scyllasink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	t.Run("RequiresKeyspace", func(t *testing.T) {
		cfg := DefaultConfig(ProducerId{0}, "")
		cfg.Hostname = "localhost"
		require.Error(t, cfg.Validate())
	})

	t.Run("RequiresHostname", func(t *testing.T) {
		cfg := DefaultConfig(ProducerId{0}, "ks")
		require.Error(t, cfg.Validate())
	})

	t.Run("FillsInDefaults", func(t *testing.T) {
		cfg := Config{Keyspace: "ks", Hostname: "localhost"}
		require.NoError(t, cfg.Validate())
		assert.Equal(t, DefaultShardMaxBufferCapacity, cfg.BatchLenLimit)
		assert.Equal(t, 128, cfg.BatchSizeKBLimit)
		assert.Equal(t, PeriodSize, cfg.PeriodSize)
	})

	t.Run("ValidatesNestedArchiveConfig", func(t *testing.T) {
		archive := ArchiveConfig{}
		cfg := Config{Keyspace: "ks", Hostname: "localhost", Archive: &archive}
		require.Error(t, cfg.Validate())
	})
}

func TestConfig_BatchSizeByteLimit(t *testing.T) {
	cfg := Config{BatchSizeKBLimit: 4}
	assert.Equal(t, 4*1024, cfg.batchSizeByteLimit())
}

func TestShard_HonorsConfiguredBatchLenLimit(t *testing.T) {
	// Unlike the source this package was translated from - where
	// batch_len_limit was accepted but the shard daemon always flushed at a
	// hardcoded capacity instead - the shard here must honor whatever
	// BatchLenLimit the caller configures (spec §9).
	cfg := DefaultConfig(ProducerId{0}, "ks")
	cfg.Hostname = "localhost"
	cfg.BatchLenLimit = 3
	require.NoError(t, cfg.Validate())

	shard := NewShard(nil, NewMetrics(), nil, 0, ProducerId{0}, 0, cfg)
	assert.Equal(t, 3, shard.maxBufferCapacity)
}
