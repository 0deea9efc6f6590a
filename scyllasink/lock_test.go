package scyllasink

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestResolveInterface_UnknownNameIsErrNoInterface(t *testing.T) {
	name := "definitely-not-a-real-interface-0"
	_, _, err := resolveInterface(&name)
	assert.True(t, errors.Is(err, ErrNoInterface))
}

func TestResolveInterface_AutoSelectFindsSomething(t *testing.T) {
	// Best-effort: CI/sandboxed hosts always have at least loopback, which
	// resolveInterface deliberately skips, so the only property we can
	// assert without assuming network topology is that a result, if any,
	// is well-formed - we just exercise the code path without requiring
	// a particular interface to exist.
	name, ipv4, err := resolveInterface(nil)
	if err != nil {
		assert.ErrorIs(t, err, ErrNoInterface)
		return
	}
	assert.NotEmpty(t, name)
	assert.NotEmpty(t, ipv4)
}
