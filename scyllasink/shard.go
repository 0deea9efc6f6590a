package scyllasink

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/gocql/gocql"
)

// warnLatencyThreshold is the latency above which a batch flush or
// period-commit statement is logged at warn level (spec §4.3, §5).
const warnLatencyThreshold = time.Second

// shardMailboxCapacity is the bounded SPSC channel capacity for a shard's
// inbound command queue (spec §4.3).
const shardMailboxCapacity = 16

// Shard owns one shard's mailbox, accumulates a batch, and enforces the
// flush triggers and period-boundary commits described in spec §4.3. It is
// meant to be driven by a single goroutine via run(); all of its state is
// unshared outside of that goroutine.
type Shard struct {
	session    *gocql.Session
	metrics    *Metrics
	archiver   *Archiver
	archiveSeq int64
	shardId    ShardId
	producerId ProducerId
	periodSize int64

	nextOffset ShardOffset

	buffer            []BlockchainEvent
	currBatchByteSize int
	maxBufferCapacity int
	maxBufferByteSize int
	bufferLinger      time.Duration
	lingerDeadline    time.Time

	mailbox chan Command
}

// NewShard constructs a shard daemon that will assign offsets starting at
// nextOffset (the caller's recovered LastOffset+1). archiver may be nil, in
// which case flushed batches are not mirrored to object storage.
func NewShard(session *gocql.Session, metrics *Metrics, archiver *Archiver, shardID ShardId, producerID ProducerId, nextOffset ShardOffset, cfg Config) *Shard {
	if nextOffset < 0 {
		panic("scyllasink: next offset can not be negative")
	}
	periodSize := cfg.PeriodSize
	if periodSize <= 0 {
		periodSize = PeriodSize
	}
	maxBufferCapacity := cfg.BatchLenLimit
	if maxBufferCapacity <= 0 {
		maxBufferCapacity = DefaultShardMaxBufferCapacity
	}

	return &Shard{
		session:           session,
		metrics:           metrics,
		archiver:          archiver,
		shardId:           shardID,
		producerId:        producerID,
		periodSize:        periodSize,
		nextOffset:        nextOffset,
		buffer:            make([]BlockchainEvent, 0, maxBufferCapacity),
		maxBufferCapacity: maxBufferCapacity,
		maxBufferByteSize: cfg.batchSizeByteLimit(),
		bufferLinger:      cfg.Linger,
		mailbox:           make(chan Command, shardMailboxCapacity),
	}
}

// Mailbox returns the channel used to send commands to this shard.
func (s *Shard) Mailbox() chan<- Command { return s.mailbox }

// run is the shard daemon's main loop (spec §4.3). It terminates when it
// receives Shutdown (after flushing), when its mailbox is closed out from
// under it, or when a database call fails.
func (s *Shard) run(ctx context.Context) error {
	s.lingerDeadline = time.Now().Add(s.bufferLinger)

	for {
		offset := s.nextOffset
		currPeriod := int64(offset) / s.periodSize

		// Period-boundary commit: a committed-period row for P-1 must be
		// durable before any event at offset P*PeriodSize is persisted. The
		// buffer (all of period P-1) is flushed first, so no batch spans two
		// periods.
		if offset > 0 && int64(offset)%s.periodSize == 0 {
			if err := s.flush(ctx); err != nil {
				return fmt.Errorf("scyllasink: shard %d: flush: %w", s.shardId, err)
			}
			start := time.Now()
			err := s.session.Query(queryCommitShardPeriod, s.producerId[:], int16(s.shardId), currPeriod-1).
				WithContext(ctx).Exec()
			if err != nil {
				return fmt.Errorf("scyllasink: shard %d: committing period %d: %w", s.shardId, currPeriod-1, err)
			}
			if elapsed := time.Since(start); elapsed >= warnLatencyThreshold {
				log.Printf("[WARN] shard %d: period %d commit took %v", s.shardId, currPeriod-1, elapsed)
			}
		}

		s.nextOffset++

		// While events are buffered, wait no longer than the linger deadline:
		// once it passes, flush and then wait for the next command.
		var linger <-chan time.Time
		if len(s.buffer) > 0 {
			linger = time.After(time.Until(s.lingerDeadline))
		}
		cmd, ok := Command{}, false
		select {
		case cmd, ok = <-s.mailbox:
		case <-linger:
			if err := s.flush(ctx); err != nil {
				return fmt.Errorf("scyllasink: shard %d: flush: %w", s.shardId, err)
			}
			s.lingerDeadline = time.Now().Add(s.bufferLinger)
			cmd, ok = <-s.mailbox
		}
		if !ok {
			return fmt.Errorf("scyllasink: shard %d: %w", s.shardId, ErrMailboxClosed)
		}

		if cmd.isShutdown() {
			if err := s.flush(ctx); err != nil {
				return fmt.Errorf("scyllasink: shard %d: flush on shutdown: %w", s.shardId, err)
			}
			log.Printf("shard %d finished shutdown procedure", s.shardId)
			return nil
		}

		event := s.render(cmd, offset)
		msgByteSize := event.byteSize()

		if s.shouldFlush(msgByteSize) {
			if err := s.flush(ctx); err != nil {
				return fmt.Errorf("scyllasink: shard %d: flush: %w", s.shardId, err)
			}
			s.lingerDeadline = time.Now().Add(s.bufferLinger)
		}

		s.buffer = append(s.buffer, event)
		s.currBatchByteSize += msgByteSize
		s.metrics.IncQueued()
	}
}

func (s *Shard) render(cmd Command, offset ShardOffset) BlockchainEvent {
	switch {
	case cmd.accountUpdate != nil:
		return newAccountBlockchainEvent(*cmd.accountUpdate, s.shardId, s.producerId, offset, s.periodSize)
	default:
		return newTxBlockchainEvent(*cmd.tx, s.shardId, s.producerId, offset, s.periodSize)
	}
}

// shouldFlush evaluates the flush predicate (spec §4.3, with the linger
// branch re-derived per spec §9: flush only when linger has elapsed AND the
// buffer is non-empty, not merely "deadline reached").
func (s *Shard) shouldFlush(nextMsgByteSize int) bool {
	if len(s.buffer) >= s.maxBufferCapacity {
		return true
	}
	if s.currBatchByteSize+nextMsgByteSize >= s.maxBufferByteSize {
		return true
	}
	if len(s.buffer) > 0 && !time.Now().Before(s.lingerDeadline) {
		return true
	}
	return false
}

// flush submits the buffered events as a single unlogged batch and awaits
// completion before returning - this is what keeps the shard's timeline
// monotone (spec §4.3.1, §5). All events in one batch share a single
// (producer, shard, period) partition, so ScyllaDB's unlogged-batch
// atomicity is sufficient without the coordination overhead of a logged
// batch.
func (s *Shard) flush(ctx context.Context) error {
	bufferLen := len(s.buffer)
	if bufferLen == 0 {
		return nil
	}

	start := time.Now()

	batch := s.session.NewBatch(gocql.UnloggedBatch)
	for _, e := range s.buffer {
		batch.Query(queryInsertBlockchainEvent, bindBlockchainEvent(e)...)
	}

	if err := s.session.ExecuteBatch(batch.WithContext(ctx)); err != nil {
		return err
	}

	s.metrics.DecQueued(int64(bufferLen))
	s.metrics.ObserveBatch(bufferLen)

	if elapsed := time.Since(start); elapsed >= warnLatencyThreshold {
		log.Printf("[WARN] shard %d: sent %d elements in %v", s.shardId, bufferLen, elapsed)
	}

	if s.archiver != nil {
		period := s.buffer[0].Period
		archived := make([]BlockchainEvent, bufferLen)
		copy(archived, s.buffer)
		s.archiveSeq++
		s.archiver.Submit(s.shardId, period, s.archiveSeq, archived)
	}

	s.clearBuffer()
	return nil
}

func (s *Shard) clearBuffer() {
	s.buffer = s.buffer[:0]
	s.currBatchByteSize = 0
}

// bindBlockchainEvent renders e into the column order queryInsertBlockchainEvent
// expects (spec §6.1's "column list must match the schema's column order").
func bindBlockchainEvent(e BlockchainEvent) []interface{} {
	var (
		pubkey, owner, data                                   []byte
		lamports, rentEpoch, writeVersion                     interface{}
		executable                                            interface{}
		txnSignature                                          []byte
		signature                                              []byte
		signatures                                            [][]byte
		numReadonlySigned, numReadonlyUnsigned, numRequired    interface{}
		accountKeys                                            [][]byte
		recentBlockhash, instructions, addressTableLookups     []byte
		meta                                                   []byte
		versioned, isVote                                      interface{}
		txIndex                                                interface{}
	)

	if e.Account != nil {
		a := e.Account
		pubkey, owner, data = a.Pubkey, a.Owner, a.Data
		lamports, rentEpoch, writeVersion = a.Lamports, a.RentEpoch, a.WriteVersion
		executable = a.Executable
		txnSignature = a.TxnSignature
	}
	if e.Tx != nil {
		t := e.Tx
		signature = t.Signature
		signatures = t.Signatures
		numReadonlySigned = t.NumReadonlySignedAccounts
		numReadonlyUnsigned = t.NumReadonlyUnsignedAccounts
		numRequired = t.NumRequiredSignatures
		accountKeys = t.AccountKeys
		recentBlockhash = t.RecentBlockhash
		instructions = t.Instructions
		versioned = t.Versioned
		addressTableLookups = t.AddressTableLookups
		meta = t.Meta
		isVote = t.IsVote
		txIndex = t.TxIndex
	}

	return []interface{}{
		int16(e.ShardId), int64(e.Period), e.ProducerId[:], int64(e.Offset), int64(e.Slot), uint8(e.EventType),
		pubkey, lamports, owner, executable, rentEpoch, writeVersion, data,
		txnSignature, signature, signatures,
		numReadonlySigned, numReadonlyUnsigned, numRequired,
		accountKeys, recentBlockhash, instructions, versioned, addressTableLookups, meta,
		isVote, txIndex,
	}
}
