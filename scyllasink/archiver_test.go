package scyllasink

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeBatch_PreservesEventCount(t *testing.T) {
	events := []BlockchainEvent{
		newAccountBlockchainEvent(AccountUpdate{Slot: 1, Pubkey: []byte("a")}, 0, ProducerId{0}, 0, PeriodSize),
		newTxBlockchainEvent(Transaction{Slot: 2, Signature: []byte("s")}, 0, ProducerId{0}, 1, PeriodSize),
	}
	encoded := encodeBatch(events)
	assert.Greater(t, len(encoded), 0)

	// Empty input yields an empty stream, not a panic.
	assert.Empty(t, encodeBatch(nil))
}

func TestArchiveConfig_Validate(t *testing.T) {
	t.Run("RequiresBucket", func(t *testing.T) {
		cfg := ArchiveConfig{}
		require.Error(t, cfg.Validate())
	})

	t.Run("FillsInDefaults", func(t *testing.T) {
		cfg := ArchiveConfig{Bucket: "b"}
		require.NoError(t, cfg.Validate())
		assert.Equal(t, 32*1024*1024, cfg.ChunkSize)
		assert.Equal(t, 32, cfg.MaxChunksPerCompose)
		assert.Equal(t, 3, cfg.MaxRetries)
	})
}

func TestArchiver_ObjectName(t *testing.T) {
	a := &Archiver{config: ArchiveConfig{ObjectPrefix: "ingest/"}}
	job := archiveJob{shardId: 3, period: 7, seq: 42}
	assert.Equal(t, "ingest/shard-3/period-7/seq-42.batch", a.objectName(job))

	a2 := &Archiver{config: ArchiveConfig{}}
	assert.Equal(t, "shard-3/period-7/seq-42.batch", a2.objectName(job))
}

func TestChunkManager_New_ClampsInvalidValueToGCSLimit(t *testing.T) {
	cm := newChunkManager(0)
	assert.Equal(t, 32, cm.maxChunksPerCompose)
}
