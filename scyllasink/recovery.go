package scyllasink

import (
	"context"
	"fmt"
	"sort"

	"github.com/gocql/gocql"
	"golang.org/x/sync/errgroup"
)

// RecoverOffsets computes, for every shard 0..numShards, the last durably
// persisted offset so the caller can resume at LastOffset+1 (spec §4.2).
//
// Step 1: the last committed period per shard, from
// producer_period_commit_log (missing shard => period_committed = -1,
// current period 0).
// Step 2: for each shard, the max offset within its current period; absent
// a row, resume exactly at the period's first offset
// (current_period*PeriodSize - 1).
// Step 3: sort ascending by shard id and verify every shard is present.
func RecoverOffsets(ctx context.Context, session *gocql.Session, producerID ProducerId, numShards int, periodSize int64) ([]ShardResumeOffset, error) {
	if periodSize <= 0 {
		periodSize = PeriodSize
	}

	shardIds := make([]int16, numShards)
	for i := range shardIds {
		shardIds[i] = int16(i)
	}

	currentPeriod := make(map[ShardId]int64, numShards)
	for i := 0; i < numShards; i++ {
		currentPeriod[ShardId(i)] = 0
	}

	iter := session.Query(queryLastCommittedPeriodPerShard, producerID[:], shardIds).WithContext(ctx).Iter()
	var shardID int16
	var period int64
	for iter.Scan(&shardID, &period) {
		currentPeriod[ShardId(shardID)] = period + 1
	}
	if err := iter.Close(); err != nil {
		return nil, fmt.Errorf("scyllasink: querying period-commit log: %w", err)
	}

	results := make([]ShardResumeOffset, numShards)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < numShards; i++ {
		i := i
		shard := ShardId(i)
		period := currentPeriod[shard]
		g.Go(func() error {
			var offset int64
			err := session.Query(queryMaxOffsetForShardPeriod, producerID[:], int16(shard), period).
				WithContext(gctx).Scan(&offset)
			switch {
			case err == gocql.ErrNotFound:
				// No row written yet this period: resume exactly at the
				// period's first offset.
				offset = period*periodSize - 1
			case err != nil:
				return fmt.Errorf("scyllasink: querying max offset for shard %d: %w", shard, err)
			}
			results[i] = ShardResumeOffset{ShardId: shard, LastOffset: ShardOffset(offset)}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].ShardId < results[j].ShardId })

	if len(results) != numShards {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrRecoveryIncomplete, len(results), numShards)
	}
	return results, nil
}

// GetProducerInfo loads the registration row for producerID. A missing row
// is ErrProducerUnregistered.
func GetProducerInfo(ctx context.Context, session *gocql.Session, producerID ProducerId) (ProducerInfo, error) {
	var (
		id        []byte
		numShards int
	)
	err := session.Query(queryGetProducerInfo, producerID[:]).WithContext(ctx).Scan(&id, &numShards)
	if err == gocql.ErrNotFound {
		return ProducerInfo{}, fmt.Errorf("%w: producer %s", ErrProducerUnregistered, producerID)
	}
	if err != nil {
		return ProducerInfo{}, fmt.Errorf("scyllasink: loading producer info: %w", err)
	}
	return ProducerInfo{ProducerId: producerID, NumShards: numShards}, nil
}
