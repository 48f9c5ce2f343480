package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMachine_HappyPath(t *testing.T) {
	m := newMachine()
	for _, s := range []State{
		StateDeduplicating, StateNormalizing, StateReconcilingUnits, StateReconcilingChapters,
		StateReconcilingTopics, StateRegeneratingLessons, StateDone,
	} {
		require.NoError(t, m.to(s))
	}
	assert.Equal(t, StateDone, m.current)
	assert.Len(t, m.history, 8)
}

func TestMachine_RejectsSkippingStages(t *testing.T) {
	m := newMachine()
	require.NoError(t, m.to(StateNormalizing))
	assert.Error(t, m.to(StateReconcilingTopics))
	assert.Equal(t, StateNormalizing, m.current)
}

func TestMachine_FailedFromAnyActiveState(t *testing.T) {
	for _, from := range []State{StateIdle, StateNormalizing, StateReconcilingChapters, StateRegeneratingLessons} {
		m := &machine{current: from}
		assert.NoError(t, m.to(StateFailed), from)
	}
}

func TestMachine_TerminalStatesAreFinal(t *testing.T) {
	m := &machine{current: StateDone}
	assert.Error(t, m.to(StateFailed))
	m = &machine{current: StateFailed}
	assert.Error(t, m.to(StateNormalizing))
}
