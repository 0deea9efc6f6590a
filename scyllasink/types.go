// Package scyllasink implements a sharded, ordered ingestion sink that
// streams blockchain events into a Cassandra/ScyllaDB keyspace.
package scyllasink

import "fmt"

// PeriodSize is the number of offsets per period (shard_offset / PeriodSize).
// It must stay identical to the schema's expectation; it is not meant to be
// tuned per-deployment, only overridden in tests via Config.PeriodSize.
const PeriodSize int64 = 1_000_000

// ProducerId identifies a logically-single writer. It is a fixed-width,
// comparable, hashable tag so it can be used directly as a map key and as a
// gocql bind parameter.
type ProducerId [1]byte

func (p ProducerId) String() string {
	return fmt.Sprintf("producer(%d)", p[0])
}

// ShardId is a small non-negative integer, 0 <= ShardId < NumShards.
type ShardId int16

// ShardOffset is a per-(producer, shard) monotonic sequence number. -1 is
// reserved as "one before the first offset of period 0".
type ShardOffset int64

// ShardPeriod is ShardOffset / PeriodSize, the partitioning unit of the log
// table.
type ShardPeriod int64

// Slot is attached to each event for observability; monotone-ish but not
// strictly so, and never used to order writes.
type Slot int64

// EventType tags which half of BlockchainEvent's payload columns are valid.
type EventType uint8

const (
	EventTypeAccountUpdate EventType = iota
	EventTypeTransaction
)

func (t EventType) String() string {
	switch t {
	case EventTypeAccountUpdate:
		return "account_update"
	case EventTypeTransaction:
		return "transaction"
	default:
		return "unknown"
	}
}

// AccountUpdate is the payload for an account-write event.
type AccountUpdate struct {
	Slot Slot
	// TxnSignature is the signature of the transaction that produced this
	// account write, when known; nil for updates observed outside a
	// transaction context (e.g. snapshot replay).
	TxnSignature []byte
	Pubkey       []byte
	Lamports     uint64
	Owner        []byte
	Executable   bool
	RentEpoch    uint64
	WriteVersion uint64
	Data         []byte
}

// Transaction is the payload for a transaction event.
type Transaction struct {
	Slot                        Slot
	Signature                   []byte
	Signatures                  [][]byte
	NumReadonlySignedAccounts   uint32
	NumReadonlyUnsignedAccounts uint32
	NumRequiredSignatures       uint32
	AccountKeys                 [][]byte
	RecentBlockhash             []byte
	Instructions                []byte
	Versioned                   bool
	AddressTableLookups         []byte
	Meta                        []byte
	IsVote                      bool
	TxIndex                     int64
}

// BlockchainEvent is the row written to the log table: routing key
// (producer_id, shard_id, period), clustering key offset, a tag for which
// payload half is populated, plus the union of payload columns (the unused
// half left nil so it binds as CQL NULL).
type BlockchainEvent struct {
	ShardId    ShardId
	Period     ShardPeriod
	ProducerId ProducerId
	Offset     ShardOffset
	Slot       Slot
	EventType  EventType

	Account *AccountUpdate
	Tx      *Transaction
}

// newBlockchainEvent renders a raw payload into the row that will be
// assigned offset for (producerID, shardID). periodSize must be the same
// value the caller's shard daemon uses for its period-boundary commits and
// offset recovery (Config.PeriodSize when set, else PeriodSize) - using the
// package constant here unconditionally would desync the log table's period
// column from the commit log whenever PeriodSize is overridden.
func newAccountBlockchainEvent(u AccountUpdate, shardID ShardId, producerID ProducerId, offset ShardOffset, periodSize int64) BlockchainEvent {
	return BlockchainEvent{
		ShardId:    shardID,
		Period:     ShardPeriod(int64(offset) / periodSize),
		ProducerId: producerID,
		Offset:     offset,
		Slot:       u.Slot,
		EventType:  EventTypeAccountUpdate,
		Account:    &u,
	}
}

func newTxBlockchainEvent(tx Transaction, shardID ShardId, producerID ProducerId, offset ShardOffset, periodSize int64) BlockchainEvent {
	return BlockchainEvent{
		ShardId:    shardID,
		Period:     ShardPeriod(int64(offset) / periodSize),
		ProducerId: producerID,
		Offset:     offset,
		Slot:       tx.Slot,
		EventType:  EventTypeTransaction,
		Tx:         &tx,
	}
}

// byteSize is a coarse estimate of the row's serialized size, used only for
// batch sizing (the flush predicate's byte-size trigger). It does not need
// to match the wire encoding exactly, only stay proportional to it.
func (e BlockchainEvent) byteSize() int {
	const fixedOverhead = 64 // routing/clustering columns, tag, timestamp
	n := fixedOverhead
	if e.Account != nil {
		a := e.Account
		n += len(a.Pubkey) + len(a.Owner) + len(a.Data) + 32
	}
	if e.Tx != nil {
		t := e.Tx
		n += len(t.Signature) + len(t.RecentBlockhash) + len(t.Instructions) + len(t.Meta) + len(t.AddressTableLookups)
		for _, s := range t.Signatures {
			n += len(s)
		}
		for _, k := range t.AccountKeys {
			n += len(k)
		}
		n += 32
	}
	return n
}

// ProducerInfo is the read-only registration row for a producer.
type ProducerInfo struct {
	ProducerId ProducerId
	NumShards  int
}

// ShardResumeOffset is one entry of the vector Offset Recovery returns: the
// last durably-persisted offset for a shard (next assigned offset is
// LastOffset+1).
type ShardResumeOffset struct {
	ShardId    ShardId
	LastOffset ShardOffset
}
