package scyllasink

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// newFanOutOnlyShards returns bare shards with live mailboxes but no
// session, driven by a trivial drain loop instead of Shard.run - enough to
// exercise the dispatcher's round-robin order and shutdown fan-out without
// a live gocql connection.
func newFanOutOnlyShards(n int) ([]*Shard, []chan Command) {
	shards := make([]*Shard, n)
	received := make([]chan Command, n)
	for i := 0; i < n; i++ {
		cfg := DefaultConfig(ProducerId{0}, "test")
		shards[i] = NewShard(nil, NewMetrics(), nil, ShardId(i), ProducerId{0}, 0, cfg)
		received[i] = make(chan Command, 64)
		go func(s *Shard, out chan Command) {
			for cmd := range s.mailbox {
				out <- cmd
			}
		}(shards[i], received[i])
	}
	return shards, received
}

func TestDispatcher_RoundRobinOrder(t *testing.T) {
	shards, received := newFanOutOnlyShards(3)
	d := NewDispatcher(nil, ProducerId{0}, shards)

	go d.run(context.Background())

	// Slot -1 skips the slot-seen write path, which needs a live session.
	for i := 0; i < 6; i++ {
		d.mailbox <- insertAccountUpdateCommand(AccountUpdate{Slot: -1, Pubkey: []byte{byte(i)}})
	}

	for round := 0; round < 2; round++ {
		for shardIdx := 0; shardIdx < 3; shardIdx++ {
			select {
			case cmd := <-received[shardIdx]:
				require.NotNil(t, cmd.accountUpdate)
				require.Equal(t, byte(round*3+shardIdx), cmd.accountUpdate.Pubkey[0])
			case <-time.After(time.Second):
				t.Fatalf("shard %d did not receive round %d's command", shardIdx, round)
			}
		}
	}
}

func TestDispatcher_BroadcastsShutdownToEveryShard(t *testing.T) {
	shards, received := newFanOutOnlyShards(2)
	d := NewDispatcher(nil, ProducerId{0}, shards)

	errCh := make(chan error, 1)
	go func() { errCh <- d.run(context.Background()) }()

	d.mailbox <- shutdownCommand()

	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dispatcher.run did not return after Shutdown")
	}

	for i, ch := range received {
		select {
		case cmd := <-ch:
			require.True(t, cmd.isShutdown(), "shard %d must receive a shutdown command", i)
		case <-time.After(time.Second):
			t.Fatalf("shard %d never received shutdown", i)
		}
	}
}
