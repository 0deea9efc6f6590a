package scyllasink

// commandKind tags what a Command carries.
type commandKind uint8

const (
	commandInsert commandKind = iota
	commandShutdown
)

// Command is the message type carried by every mailbox in the pipeline:
// the dispatcher's input channel and each shard's input channel. Shutdown
// is a sentinel value; Insert carries exactly one of the two payload types.
type Command struct {
	kind commandKind

	accountUpdate *AccountUpdate
	tx            *Transaction
}

// insertAccountUpdateCommand wraps an AccountUpdate for the pipeline.
func insertAccountUpdateCommand(u AccountUpdate) Command {
	return Command{kind: commandInsert, accountUpdate: &u}
}

// insertTransactionCommand wraps a Transaction for the pipeline.
func insertTransactionCommand(tx Transaction) Command {
	return Command{kind: commandInsert, tx: &tx}
}

// shutdownCommand is the sentinel both the dispatcher and shard daemons
// recognize as "drain and stop".
func shutdownCommand() Command {
	return Command{kind: commandShutdown}
}

// slot returns the event's slot for a Command carrying an Insert, or -1 for
// Shutdown (matching spec §4.4's "slot = -1 for Shutdown" treatment).
func (c Command) slot() Slot {
	switch {
	case c.accountUpdate != nil:
		return c.accountUpdate.Slot
	case c.tx != nil:
		return c.tx.Slot
	default:
		return -1
	}
}

func (c Command) isShutdown() bool {
	return c.kind == commandShutdown
}
