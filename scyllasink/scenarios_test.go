package scyllasink

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// These exercise the six literal end-to-end scenarios against a real
// cluster (PERIOD_SIZE=100 for every scenario, matching the literal test
// configuration). They only run when SCYLLASINK_TEST_HOSTS is set; see
// integration_test.go's newIntegrationSession.

func TestScenario_FreshStartOneShardOneEvent(t *testing.T) {
	session := newIntegrationSession(t)
	ctx := context.Background()
	producer := ProducerId{210}

	resumeOffsets, err := RecoverOffsets(ctx, session, producer, 1, 100)
	require.NoError(t, err)
	require.Equal(t, ShardOffset(-1), resumeOffsets[0].LastOffset)

	shard := NewShard(session, NewMetrics(), nil, ShardId(0), producer, resumeOffsets[0].LastOffset+1, configFor(producer))
	dispatcher := NewDispatcher(session, producer, []*Shard{shard})

	runErrs := make(chan error, 2)
	go func() { runErrs <- shard.run(ctx) }()
	go func() { runErrs <- dispatcher.run(ctx) }()

	dispatcher.mailbox <- insertAccountUpdateCommand(AccountUpdate{Slot: 42})
	dispatcher.mailbox <- shutdownCommand()

	require.NoError(t, <-runErrs)
	require.NoError(t, <-runErrs)

	var offset int64
	err = session.Query(queryMaxOffsetForShardPeriod, producer[:], int16(0), int64(0)).WithContext(ctx).Scan(&offset)
	require.NoError(t, err)
	require.Equal(t, int64(0), offset)
}

func TestScenario_PeriodRollover(t *testing.T) {
	session := newIntegrationSession(t)
	ctx := context.Background()
	producer := ProducerId{211}

	shard := NewShard(session, NewMetrics(), nil, ShardId(0), producer, 0, configFor(producer))
	dispatcher := NewDispatcher(session, producer, []*Shard{shard})

	runErrs := make(chan error, 2)
	go func() { runErrs <- shard.run(ctx) }()
	go func() { runErrs <- dispatcher.run(ctx) }()

	for i := 0; i < 201; i++ {
		dispatcher.mailbox <- insertAccountUpdateCommand(AccountUpdate{Slot: Slot(i)})
	}
	dispatcher.mailbox <- shutdownCommand()

	require.NoError(t, <-runErrs)
	require.NoError(t, <-runErrs)

	var period int64
	iter := session.Query(queryLastCommittedPeriodPerShard, producer[:], []int16{0}).WithContext(ctx).Iter()
	require.True(t, iter.Scan(new(int16), &period))
	require.NoError(t, iter.Close())
	require.Equal(t, int64(1), period, "period 1 must have a commit row once offset 200 has been written")
}

func TestScenario_CrashResume(t *testing.T) {
	session := newIntegrationSession(t)
	ctx := context.Background()
	producer := ProducerId{212}
	cfg := configFor(producer)

	preload := NewShard(session, NewMetrics(), nil, ShardId(0), producer, 0, cfg)
	for i := 0; i < 150; i++ {
		event := preload.render(insertAccountUpdateCommand(AccountUpdate{Slot: Slot(i)}), ShardOffset(i))
		preload.buffer = append(preload.buffer, event)
	}
	require.NoError(t, preload.flush(ctx))
	require.NoError(t, session.Query(queryCommitShardPeriod, producer[:], int16(0), int64(0)).WithContext(ctx).Exec())

	resumeOffsets, err := RecoverOffsets(ctx, session, producer, 1, 100)
	require.NoError(t, err)
	require.Equal(t, ShardOffset(149), resumeOffsets[0].LastOffset)
}

func TestScenario_BatchSizeTrigger(t *testing.T) {
	session := newIntegrationSession(t)
	ctx := context.Background()
	producer := ProducerId{213}
	cfg := configFor(producer)
	cfg.BatchSizeKBLimit = 1

	shard := NewShard(session, NewMetrics(), nil, ShardId(0), producer, 0, cfg)
	dispatcher := NewDispatcher(session, producer, []*Shard{shard})

	runErrs := make(chan error, 2)
	go func() { runErrs <- shard.run(ctx) }()
	go func() { runErrs <- dispatcher.run(ctx) }()

	payload := make([]byte, 600)
	dispatcher.mailbox <- insertAccountUpdateCommand(AccountUpdate{Slot: 1, Data: payload})
	dispatcher.mailbox <- insertAccountUpdateCommand(AccountUpdate{Slot: 2, Data: payload})

	time.Sleep(200 * time.Millisecond)
	dispatcher.mailbox <- shutdownCommand()
	require.NoError(t, <-runErrs)
	require.NoError(t, <-runErrs)
}

func TestScenario_LingerTrigger(t *testing.T) {
	session := newIntegrationSession(t)
	ctx := context.Background()
	producer := ProducerId{214}
	cfg := configFor(producer)
	cfg.Linger = 50 * time.Millisecond
	cfg.BatchLenLimit = 15

	shard := NewShard(session, NewMetrics(), nil, ShardId(0), producer, 0, cfg)
	dispatcher := NewDispatcher(session, producer, []*Shard{shard})

	runErrs := make(chan error, 2)
	go func() { runErrs <- shard.run(ctx) }()
	go func() { runErrs <- dispatcher.run(ctx) }()

	dispatcher.mailbox <- insertAccountUpdateCommand(AccountUpdate{Slot: 1})

	time.Sleep(100 * time.Millisecond)

	var offset int64
	err := session.Query(queryMaxOffsetForShardPeriod, producer[:], int16(0), int64(0)).WithContext(ctx).Scan(&offset)
	require.NoError(t, err, "the single event should have been flushed by the linger deadline")
	require.Equal(t, int64(0), offset)

	dispatcher.mailbox <- shutdownCommand()
	require.NoError(t, <-runErrs)
	require.NoError(t, <-runErrs)
}

func TestScenario_LockContention(t *testing.T) {
	session := newIntegrationSession(t)
	ctx := context.Background()
	producer := ProducerId{215}
	_ = session.Query(queryDropProducerLock, producer[:], "").WithContext(ctx).Exec()

	lockA, err := AcquireLock(ctx, session, producer, nil)
	require.NoError(t, err)

	_, err = AcquireLock(ctx, session, producer, nil)
	require.ErrorIs(t, err, ErrAlreadyLocked)

	require.NoError(t, lockA.Release(ctx))

	lockB, err := AcquireLock(ctx, session, producer, nil)
	require.NoError(t, err)
	require.NoError(t, lockB.Release(ctx))
}

func configFor(producer ProducerId) Config {
	cfg := DefaultConfig(producer, "scyllasink_test")
	cfg.PeriodSize = 100
	return cfg
}
