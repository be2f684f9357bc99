package pipeline

import (
	"errors"
	"fmt"
)

type State string

const (
	StateIdle                 State = "idle"
	StateCapturing            State = "capturing"
	StateAnalyzing            State = "analyzing"
	StateAwaitingConfirmation State = "awaiting_confirmation"
)

type Event string

const (
	EventCapture        Event = "capture"
	EventCaptured       Event = "captured"
	EventCaptureFailed  Event = "capture_failed"
	EventCancel         Event = "cancel"
	EventBlocked        Event = "blocked"
	EventNext           Event = "next"
	EventAnalyzed       Event = "analyzed"
	EventAnalysisFailed Event = "analysis_failed"
	EventEdit           Event = "edit"
	EventConfirm        Event = "confirm"
	EventDiscard        Event = "discard"
)

var ErrInvalidTransition = errors.New("invalid pipeline transition")

type edge struct {
	from  State
	event Event
}

// Confirmed and discarded outcomes land straight back in idle; blocked is an
// idle-equivalent that only signals the caller.
var transitions = map[edge]State{
	{StateIdle, EventCapture}: StateCapturing,
	{StateIdle, EventNext}:    StateAnalyzing,
	{StateIdle, EventBlocked}: StateIdle,

	{StateCapturing, EventCaptured}:      StateAnalyzing,
	{StateCapturing, EventBlocked}:       StateIdle,
	{StateCapturing, EventCaptureFailed}: StateIdle,
	{StateCapturing, EventCancel}:        StateIdle,

	{StateAnalyzing, EventAnalyzed}:       StateAwaitingConfirmation,
	{StateAnalyzing, EventAnalysisFailed}: StateIdle,

	{StateAwaitingConfirmation, EventEdit}:    StateAwaitingConfirmation,
	{StateAwaitingConfirmation, EventConfirm}: StateIdle,
	{StateAwaitingConfirmation, EventDiscard}: StateIdle,
}

// Transition is the pure state table of the draft pipeline.
func Transition(from State, event Event) (State, error) {
	next, ok := transitions[edge{from, event}]
	if !ok {
		return from, fmt.Errorf("%w: %s on %s", ErrInvalidTransition, event, from)
	}
	return next, nil
}
