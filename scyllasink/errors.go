package scyllasink

import "errors"

// Sentinel errors surfaced by the sink. Startup errors are structured (one
// sentinel per kind); everything else collapses to ErrSinkClosed, per
// spec §6.3's "errors are coarse" rule.
var (
	// ErrAlreadyLocked means another process currently holds the producer
	// lock (the CAS insert found an existing row).
	ErrAlreadyLocked = errors.New("scyllasink: producer lock already held")

	// ErrNoInterface means the requested interface name doesn't exist, or
	// no IPv4 address could be resolved for this host.
	ErrNoInterface = errors.New("scyllasink: no usable ipv4 network interface")

	// ErrProducerUnregistered means producer_info has no row for this
	// producer id.
	ErrProducerUnregistered = errors.New("scyllasink: producer is not registered")

	// ErrRecoveryIncomplete means offset recovery returned fewer rows than
	// num_shards; the schema is malformed.
	ErrRecoveryIncomplete = errors.New("scyllasink: offset recovery did not cover every shard")

	// ErrSinkClosed is returned for any failure to enqueue a log call
	// after the sink has started shutting down.
	ErrSinkClosed = errors.New("scyllasink: sink is closed")

	// ErrMailboxClosed is the internal error a shard daemon or the
	// dispatcher returns when its inbound channel is closed out from
	// under it instead of receiving an explicit Shutdown.
	ErrMailboxClosed = errors.New("scyllasink: mailbox closed unexpectedly")
)
