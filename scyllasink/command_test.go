package scyllasink

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommand_Slot(t *testing.T) {
	t.Run("AccountUpdateSlot", func(t *testing.T) {
		cmd := insertAccountUpdateCommand(AccountUpdate{Slot: 10})
		assert.Equal(t, Slot(10), cmd.slot())
	})

	t.Run("TransactionSlot", func(t *testing.T) {
		cmd := insertTransactionCommand(Transaction{Slot: 20})
		assert.Equal(t, Slot(20), cmd.slot())
	})

	t.Run("ShutdownSlotIsNegativeOne", func(t *testing.T) {
		cmd := shutdownCommand()
		assert.Equal(t, Slot(-1), cmd.slot())
		assert.True(t, cmd.isShutdown())
	})
}

func TestCommand_IsShutdown(t *testing.T) {
	assert.False(t, insertAccountUpdateCommand(AccountUpdate{}).isShutdown())
	assert.False(t, insertTransactionCommand(Transaction{}).isShutdown())
	assert.True(t, shutdownCommand().isShutdown())
}
