package interview

import (
	"errors"
	"slices"
)

// State is the interview's single state value. It only changes inside the
// machine's transition function.
type State string

const (
	StateLoading        State = "loading"
	StateLanguageSelect State = "language_select"
	StateReady          State = "ready"
	StateGreeting       State = "greeting"
	StateListening      State = "listening"
	StateProcessing     State = "processing"
	StateSpeaking       State = "speaking"
	StatePaused         State = "paused"
	StateCompleted      State = "completed"
	StateExpired        State = "expired"
	StateError          State = "error"
)

// ErrInvalidTransition is returned when an action is not permitted in the
// current state.
var ErrInvalidTransition = errors.New("interview: invalid transition")

// transitions is the permitted-transition table. States without an entry
// (completed, expired) are terminal.
var transitions = map[State][]State{
	StateLoading:        {StateLanguageSelect, StateReady, StateCompleted, StateExpired, StateError},
	StateLanguageSelect: {StateReady, StateExpired, StateError},
	StateReady:          {StateGreeting, StateCompleted, StateExpired, StateError},
	StateGreeting:       {StateListening, StateSpeaking, StateCompleted, StateExpired, StateError},
	StateListening:      {StateProcessing, StatePaused, StateLanguageSelect, StateCompleted, StateExpired, StateError},
	StateProcessing:     {StateSpeaking, StateListening, StateCompleted, StateExpired, StateError},
	StateSpeaking:       {StateListening, StateCompleted, StateExpired, StateError},
	StatePaused:         {StateListening, StateLanguageSelect, StateCompleted, StateExpired, StateError},
	StateError:          {StateCompleted, StateExpired},
}

// IsValid reports whether s is a known state.
func (s State) IsValid() bool {
	switch s {
	case StateLoading, StateLanguageSelect, StateReady, StateGreeting, StateListening,
		StateProcessing, StateSpeaking, StatePaused, StateCompleted, StateExpired, StateError:
		return true
	}
	return false
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return len(transitions[s]) == 0
}

// Conversational reports whether s is part of the turn-taking loop.
func (s State) Conversational() bool {
	switch s {
	case StateGreeting, StateListening, StateProcessing, StateSpeaking, StatePaused:
		return true
	}
	return false
}

// CanTransition reports whether from → to is permitted.
func CanTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}
