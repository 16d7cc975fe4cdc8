// Package speech owns the audio side of the assistant: the typed
// recognizer and synthesizer collaborator interfaces and the coordinator
// state machine that arbitrates microphone capture against playback.
package speech

import (
	"context"
)

// Result is one recognizer hypothesis. Final results mark the end of an
// utterance; non-final ones are running partials.
type Result struct {
	Text  string `json:"text"`
	Final bool   `json:"final"`
}

// Recognizer is the speech-recognition collaborator. Results and errors
// are delivered over channels; Stop must be idempotent.
type Recognizer interface {
	Start() error
	Stop() error
	Results() <-chan Result
	Errs() <-chan error
	Close() error
}

// Synthesizer is the text-to-speech collaborator. Speak blocks until
// synthesis completes, fails, or ctx is cancelled. Stop aborts any
// in-flight utterance and is idempotent.
type Synthesizer interface {
	Speak(ctx context.Context, text string) error
	Stop()
}

// PCMSink consumes synthesized PCM and delivers it to an audio output
// (Opus/WebRTC track, telephony media stream). Implementations buffer
// internally and pace delivery.
type PCMSink interface {
	WritePCM(pcm []byte)
	FlushTail()
	// Reset drops any queued frames immediately.
	Reset()
}

// State is the audio I/O state of one audio path. Exactly one of capture
// or synthesis can be active at a time.
type State int

const (
	StateIdle State = iota
	StateListening
	StateThinking
	StateSpeaking
)

func (s State) String() string {
	switch s {
	case StateListening:
		return "listening"
	case StateThinking:
		return "thinking"
	case StateSpeaking:
		return "speaking"
	default:
		return "idle"
	}
}

type nopSink struct{}

func (nopSink) WritePCM(_ []byte) {}
func (nopSink) FlushTail()        {}
func (nopSink) Reset()            {}

// NopSink discards audio; used when no output device is attached.
func NopSink() PCMSink { return nopSink{} }
