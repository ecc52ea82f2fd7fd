package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInflightSingleHolder(t *testing.T) {
	tab := NewInflightTable()

	assert.True(t, tab.TryAcquire("opp-1"))
	assert.False(t, tab.TryAcquire("opp-1"), "a held ID cannot be acquired twice")
	assert.True(t, tab.TryAcquire("opp-2"), "other IDs are unaffected")
}

func TestInflightReleaseAllowsReacquire(t *testing.T) {
	tab := NewInflightTable()

	assert.True(t, tab.TryAcquire("opp-1"))
	tab.Release("opp-1")
	assert.True(t, tab.TryAcquire("opp-1"), "a released ID may be claimed again")
}

func TestInflightFinishIsPermanent(t *testing.T) {
	tab := NewInflightTable()

	assert.True(t, tab.TryAcquire("opp-1"))
	tab.Finish("opp-1")
	assert.False(t, tab.TryAcquire("opp-1"), "a finished ID never dispatches again")

	// Release after Finish must not reopen the ID.
	tab.Release("opp-1")
	assert.False(t, tab.TryAcquire("opp-1"))
	assert.Equal(t, 1, tab.Len())
}

func TestInflightForgetDropsFinished(t *testing.T) {
	tab := NewInflightTable()

	tab.TryAcquire("opp-1")
	tab.Finish("opp-1")
	tab.Forget("opp-1")
	assert.True(t, tab.TryAcquire("opp-1"), "a forgotten ID starts fresh")
}
