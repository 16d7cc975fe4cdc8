// Package telephony defines the call-control collaborator consumed by the
// call-screening engine, and a Twilio-backed implementation of it.
package telephony

import (
	"github.com/jmartinsuarez20-lab/Rtsusi/internal/speech"
)

// EventKind distinguishes call lifecycle events.
type EventKind int

const (
	EventCallAdded EventKind = iota
	EventCallRemoved
)

func (k EventKind) String() string {
	if k == EventCallAdded {
		return "call-added"
	}
	return "call-removed"
}

// Event is one call lifecycle notification.
type Event struct {
	Kind EventKind
	Call Call
}

// Call is one telephone call under our control.
type Call interface {
	ID() string
	From() string
	// Answer accepts the call. Idempotent.
	Answer() error
	// Hangup disconnects the call. Idempotent.
	Hangup() error
	// Audio returns the call's audio path: recognition of the caller's
	// speech and synthesis back onto the call. This is the call audio
	// path, not the device microphone.
	Audio() AudioPath
}

// AudioPath binds speech collaborators to one call's media.
type AudioPath interface {
	Recognizer() speech.Recognizer
	Synthesizer() speech.Synthesizer
	// Close releases both collaborators.
	Close()
}
