package speech

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

const (
	defaultListenWindow = 15 * time.Second
	defaultRetryBudget  = 3
)

// Coordinator is the finite-state machine arbitrating microphone capture
// against speech playback for one audio path. It is the single owner of
// the recognizer and synthesizer; by construction at most one of capture
// or synthesis is active at any instant.
//
// Transitions:
//
//	Idle -> Listening        StartListening (explicit start or hotword)
//	Listening -> Thinking    a recognized final utterance (capture stopped first)
//	Thinking -> Speaking     Speak with the turn's response
//	Speaking -> Listening    synthesis completion (auto-restart)
//	any -> Idle              Stop/Shutdown, or recognizer errors past the retry budget
//
// A silent listen window re-arms capture rather than going idle.
type Coordinator struct {
	rec          Recognizer
	syn          Synthesizer
	logger       *slog.Logger
	listenWindow time.Duration
	retryBudget  int
	onState      func(State)

	utterances chan string

	mu          sync.Mutex
	state       State
	stopped     bool
	speakCancel context.CancelFunc
	captureGen  int
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithListenWindow sets how long a listening episode may stay silent
// before capture is re-armed.
func WithListenWindow(d time.Duration) Option {
	return func(c *Coordinator) { c.listenWindow = d }
}

// WithRetryBudget sets how many consecutive recognizer errors are
// tolerated before escalating to Idle.
func WithRetryBudget(n int) Option {
	return func(c *Coordinator) { c.retryBudget = n }
}

// WithLogger sets the coordinator logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithStateFunc registers a callback invoked on every state change. Used
// by the hotword gate to resume when the coordinator returns to Idle.
func WithStateFunc(fn func(State)) Option {
	return func(c *Coordinator) { c.onState = fn }
}

// NewCoordinator builds a coordinator in the Idle state.
func NewCoordinator(rec Recognizer, syn Synthesizer, opts ...Option) *Coordinator {
	c := &Coordinator{
		rec:          rec,
		syn:          syn,
		logger:       slog.Default(),
		listenWindow: defaultListenWindow,
		retryBudget:  defaultRetryBudget,
		state:        StateIdle,
		utterances:   make(chan string, 4),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State reports the current audio I/O state.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Utterances delivers recognized final utterances, one per completed
// listening episode. Capture is already stopped when one is delivered.
func (c *Coordinator) Utterances() <-chan string {
	return c.utterances
}

// StartListening arms capture. It is a no-op unless the coordinator is
// Idle, so a stray hotword trigger cannot interrupt an active turn.
func (c *Coordinator) StartListening() error {
	c.mu.Lock()
	if c.stopped || c.state != StateIdle {
		c.mu.Unlock()
		return nil
	}
	c.captureGen++
	gen := c.captureGen
	c.setStateLocked(StateListening)
	c.mu.Unlock()

	if err := c.rec.Start(); err != nil {
		c.toIdle()
		return err
	}
	go c.captureLoop(gen)
	return nil
}

// captureLoop consumes recognizer output for one listening episode. It
// exits when a final utterance is handed off, on teardown, or when the
// retry budget is exhausted.
func (c *Coordinator) captureLoop(gen int) {
	timer := time.NewTimer(c.listenWindow)
	defer timer.Stop()
	errStreak := 0

	for {
		if c.stale(gen) {
			return
		}
		select {
		case r, ok := <-c.rec.Results():
			if !ok {
				c.toIdle()
				return
			}
			if c.stale(gen) {
				return
			}
			resetTimer(timer, c.listenWindow)
			if !r.Final {
				continue
			}
			text := strings.TrimSpace(r.Text)
			if text == "" {
				continue
			}
			// capture must be fully stopped before the utterance is
			// handed to the conversation engine
			_ = c.rec.Stop()
			c.setState(StateThinking)
			select {
			case c.utterances <- text:
			default:
				c.logger.Warn("utterance dropped, consumer not keeping up", "text", text)
			}
			return
		case err, ok := <-c.rec.Errs():
			if !ok {
				c.toIdle()
				return
			}
			errStreak++
			c.logger.Warn("recognition error", "err", err, "streak", errStreak)
			if errStreak > c.retryBudget {
				_ = c.rec.Stop()
				c.toIdle()
				return
			}
			_ = c.rec.Stop()
			if err := c.rec.Start(); err != nil {
				c.toIdle()
				return
			}
		case <-timer.C:
			// silence is tolerated: re-arm capture, stay in Listening
			_ = c.rec.Stop()
			if err := c.rec.Start(); err != nil {
				c.toIdle()
				return
			}
			resetTimer(timer, c.listenWindow)
		}
	}
}

// Speak plays the turn's response. When synthesis finishes the coordinator
// auto-restarts capture, unless it was torn down or was Idle before the
// turn began (briefings spoken outside a session return to Idle).
// Synthesis failures are logged and treated as completion; the turn's text
// state is already correct.
//
// Speak may arrive in any state: if capture is active it is stopped before
// playback starts, and a second utterance while one is already playing is
// dropped rather than interleaved into the sink.
func (c *Coordinator) Speak(text string) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	if c.state == StateSpeaking {
		c.mu.Unlock()
		c.logger.Warn("utterance dropped, synthesis already active", "text", text)
		return
	}
	resumeIdle := c.state == StateIdle
	// invalidate any capture loop and stop the recognizer before playback
	// starts, so capture is never active alongside synthesis
	c.captureGen++
	if c.state == StateListening {
		_ = c.rec.Stop()
	}
	c.setStateLocked(StateSpeaking)
	ctx, cancel := context.WithCancel(context.Background())
	c.speakCancel = cancel
	c.mu.Unlock()

	go func() {
		defer cancel()
		if err := c.syn.Speak(ctx, text); err != nil {
			c.logger.Warn("synthesis failed, continuing without audio", "err", err)
		}

		c.mu.Lock()
		c.speakCancel = nil
		if c.stopped || resumeIdle {
			c.setStateLocked(StateIdle)
			c.mu.Unlock()
			return
		}
		// Speaking -> Listening without passing through Idle, so the
		// hotword gate does not re-arm mid-session
		c.captureGen++
		gen := c.captureGen
		c.setStateLocked(StateListening)
		c.mu.Unlock()

		if err := c.rec.Start(); err != nil {
			c.logger.Warn("capture restart failed", "err", err)
			c.toIdle()
			return
		}
		c.captureLoop(gen)
	}()
}

// Stop tears the session down to Idle: capture stops, any in-flight
// utterance playback is aborted. The coordinator can be re-armed later.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	cancel := c.speakCancel
	c.speakCancel = nil
	c.captureGen++
	c.setStateLocked(StateIdle)
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.syn.Stop()
	_ = c.rec.Stop()
}

// Shutdown permanently releases the audio path.
func (c *Coordinator) Shutdown() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	cancel := c.speakCancel
	c.speakCancel = nil
	c.captureGen++
	c.setStateLocked(StateIdle)
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.syn.Stop()
	_ = c.rec.Stop()
	_ = c.rec.Close()
}

func (c *Coordinator) stale(gen int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped || c.captureGen != gen || c.state != StateListening
}

func (c *Coordinator) toIdle() {
	c.mu.Lock()
	c.captureGen++
	c.setStateLocked(StateIdle)
	c.mu.Unlock()
}

func (c *Coordinator) setState(s State) {
	c.mu.Lock()
	c.setStateLocked(s)
	c.mu.Unlock()
}

func (c *Coordinator) setStateLocked(s State) {
	if c.state == s {
		return
	}
	c.state = s
	if c.onState != nil {
		go c.onState(s)
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
