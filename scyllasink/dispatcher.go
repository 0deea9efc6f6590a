package scyllasink

import (
	"context"
	"fmt"

	"github.com/gocql/gocql"
)

// dispatcherMailboxCapacity is the bounded capacity of the dispatcher's
// single inbound channel (spec §4.4).
const dispatcherMailboxCapacity = 15

// Dispatcher fans commands out to a fixed set of shard daemons in strict
// round-robin order, so a producer's writes still interleave deterministically
// across shards regardless of arrival order on the facade side (spec §4.4).
// It owns exactly one extra background responsibility: on every new maximum
// slot observed, writing a producer_slot_seen row, at pipeline depth exactly
// 1 (at most one such write in flight at a time; awaiting the previous write
// - and propagating its error - before a new one is spawned).
type Dispatcher struct {
	session *gocql.Session

	producerId  ProducerId
	shards      []*Shard
	next        int
	maxSlotSeen Slot

	mailbox chan Command

	pendingSlotWrite chan error
}

// NewDispatcher constructs a dispatcher over shards, which must already be
// indexed 0..len(shards)-1 matching their ShardId.
func NewDispatcher(session *gocql.Session, producerID ProducerId, shards []*Shard) *Dispatcher {
	return &Dispatcher{
		session:     session,
		producerId:  producerID,
		shards:      shards,
		maxSlotSeen: -1,
		mailbox:     make(chan Command, dispatcherMailboxCapacity),
	}
}

// Mailbox returns the channel used to send commands to the dispatcher.
func (d *Dispatcher) Mailbox() chan<- Command { return d.mailbox }

// run drives round-robin fan-out until it forwards a Shutdown to every
// shard. It returns early with ErrMailboxClosed if its own mailbox is
// closed, or with the error of a failed producer_slot_seen write.
func (d *Dispatcher) run(ctx context.Context) error {
	for {
		cmd, ok := <-d.mailbox
		if !ok {
			return fmt.Errorf("scyllasink: dispatcher: %w", ErrMailboxClosed)
		}

		if cmd.isShutdown() {
			if err := d.awaitPendingSlotWrite(); err != nil {
				return err
			}
			return d.broadcastShutdown()
		}

		if err := d.observeSlot(ctx, cmd.slot()); err != nil {
			return err
		}

		shard := d.shards[d.next]
		d.next = (d.next + 1) % len(d.shards)

		if err := d.forward(shard, cmd); err != nil {
			return err
		}
	}
}

// forward blocks until shard's mailbox accepts cmd. A shard daemon never
// closes its own mailbox, so this only ever blocks on backpressure, never
// panics on a closed channel; a dead shard is instead observed by the
// caller via run()'s ErrMailboxClosed / flush-error return, which tears the
// whole pipeline down fail-fast rather than silently dropping cmd.
func (d *Dispatcher) forward(shard *Shard, cmd Command) error {
	shard.mailbox <- cmd
	return nil
}

// observeSlot updates max_slot_seen and, on a new maximum, awaits the
// previous slot-seen write (propagating its error, spec §4.4 step 1) before
// spawning a new one for slot (spec §4.4 steps 2-3).
func (d *Dispatcher) observeSlot(ctx context.Context, slot Slot) error {
	if slot <= d.maxSlotSeen {
		return nil
	}
	if err := d.awaitPendingSlotWrite(); err != nil {
		return err
	}
	d.maxSlotSeen = slot
	d.pendingSlotWrite = d.spawnSlotSeenWrite(ctx, slot)
	return nil
}

// awaitPendingSlotWrite blocks on the in-flight slot-seen write, if any, and
// surfaces its error; the pipeline is depth-1 so at most one write is ever
// outstanding.
func (d *Dispatcher) awaitPendingSlotWrite() error {
	if d.pendingSlotWrite == nil {
		return nil
	}
	err := <-d.pendingSlotWrite
	d.pendingSlotWrite = nil
	if err != nil {
		return fmt.Errorf("scyllasink: dispatcher: producer_slot_seen write: %w", err)
	}
	return nil
}

// spawnSlotSeenWrite starts the producer_slot_seen insert for slot in the
// background, returning a channel that receives its single result.
func (d *Dispatcher) spawnSlotSeenWrite(ctx context.Context, slot Slot) chan error {
	result := make(chan error, 1)
	go func() {
		result <- d.session.Query(queryInsertProducerSlotSeen, d.producerId[:], int64(slot)).
			WithContext(ctx).Exec()
	}()
	return result
}

// broadcastShutdown forwards Shutdown to every shard in order and returns
// once every shard's mailbox has accepted it. It does not wait for the
// shards to finish flushing; the caller (Sink.Shutdown) joins each shard's
// run() goroutine separately.
func (d *Dispatcher) broadcastShutdown() error {
	for _, shard := range d.shards {
		shard.mailbox <- shutdownCommand()
	}
	return nil
}
