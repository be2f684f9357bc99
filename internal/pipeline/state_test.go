package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionHappyPath(t *testing.T) {
	state := StateIdle
	for _, step := range []struct {
		event Event
		want  State
	}{
		{EventCapture, StateCapturing},
		{EventCaptured, StateAnalyzing},
		{EventAnalyzed, StateAwaitingConfirmation},
		{EventEdit, StateAwaitingConfirmation},
		{EventConfirm, StateIdle},
	} {
		next, err := Transition(state, step.event)
		require.NoError(t, err, "%s on %s", step.event, state)
		assert.Equal(t, step.want, next)
		state = next
	}
}

func TestTransitionExitsToIdle(t *testing.T) {
	for _, tc := range []struct {
		from  State
		event Event
	}{
		{StateCapturing, EventBlocked},
		{StateCapturing, EventCancel},
		{StateCapturing, EventCaptureFailed},
		{StateAnalyzing, EventAnalysisFailed},
		{StateAwaitingConfirmation, EventDiscard},
		{StateIdle, EventBlocked},
	} {
		next, err := Transition(tc.from, tc.event)
		require.NoError(t, err)
		assert.Equal(t, StateIdle, next, "%s on %s", tc.event, tc.from)
	}
}

func TestTransitionRejectsUnknownMoves(t *testing.T) {
	for _, tc := range []struct {
		from  State
		event Event
	}{
		{StateAnalyzing, EventCapture},
		{StateAwaitingConfirmation, EventCapture},
		{StateCapturing, EventCapture},
		{StateIdle, EventConfirm},
		{StateIdle, EventEdit},
		{StateAnalyzing, EventDiscard},
	} {
		next, err := Transition(tc.from, tc.event)
		assert.ErrorIs(t, err, ErrInvalidTransition)
		assert.Equal(t, tc.from, next)
	}
}
