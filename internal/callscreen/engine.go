// Package callscreen answers incoming calls on the user's behalf: it
// greets the caller, converses using a bounded per-call transcript, and
// hangs up when the caller is done. Each call runs its own state machine
// on a dedicated goroutine; calls never share state with each other or
// with the main assistant's memory.
package callscreen

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jmartinsuarez20-lab/Rtsusi/internal/llm"
	"github.com/jmartinsuarez20-lab/Rtsusi/internal/prompt"
	"github.com/jmartinsuarez20-lab/Rtsusi/internal/speech"
	"github.com/jmartinsuarez20-lab/Rtsusi/internal/telephony"
)

// State is one call's position in its screening lifecycle.
type State int

const (
	StateRinging State = iota
	StateAnswered
	StateListening
	StateProcessing
	StateSpeaking
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateRinging:
		return "ringing"
	case StateAnswered:
		return "answered"
	case StateListening:
		return "listening"
	case StateProcessing:
		return "processing"
	case StateSpeaking:
		return "speaking"
	default:
		return "ended"
	}
}

const (
	// Greeting is spoken to every caller immediately after answering.
	Greeting = "Hello, you have reached the personal assistant for this number. How may I help you?"
	// Apology is spoken when the model cannot be reached; the call is
	// then hung up.
	Apology = "I'm sorry, I'm having trouble connecting to my brain right now. Please call back later."
)

// Config wires the engine's collaborators.
type Config struct {
	LLM    llm.Client
	Logger *slog.Logger
	// Timeout bounds each model round trip. Defaults to 20s.
	Timeout time.Duration
	// MaxExchanges bounds the transcript to the last N caller/assistant
	// exchanges. Defaults to 8.
	MaxExchanges int
	// RetryBudget is how many consecutive recognition errors are
	// tolerated before the call is ended. Defaults to 3.
	RetryBudget int
}

// Engine screens incoming calls. One goroutine per active call; sessions
// are fully independent.
type Engine struct {
	llm          llm.Client
	logger       *slog.Logger
	timeout      time.Duration
	maxExchanges int
	retryBudget  int

	mu       sync.Mutex
	sessions map[string]*session

	wg sync.WaitGroup
}

func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.MaxExchanges <= 0 {
		cfg.MaxExchanges = 8
	}
	if cfg.RetryBudget <= 0 {
		cfg.RetryBudget = 3
	}
	return &Engine{
		llm:          cfg.LLM,
		logger:       cfg.Logger.With("component", "callscreen"),
		timeout:      cfg.Timeout,
		maxExchanges: cfg.MaxExchanges,
		retryBudget:  cfg.RetryBudget,
		sessions:     make(map[string]*session),
	}
}

// Run consumes telephony events until ctx is cancelled or the event
// channel closes, then waits for all active sessions to wind down.
func (e *Engine) Run(ctx context.Context, events <-chan telephony.Event) {
	for {
		select {
		case <-ctx.Done():
			e.endAll()
			e.wg.Wait()
			return
		case ev, ok := <-events:
			if !ok {
				e.endAll()
				e.wg.Wait()
				return
			}
			switch ev.Kind {
			case telephony.EventCallAdded:
				e.addCall(ctx, ev.Call)
			case telephony.EventCallRemoved:
				e.removeCall(ev.Call)
			}
		}
	}
}

// ActiveSessions reports how many calls are currently being screened.
func (e *Engine) ActiveSessions() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.sessions)
}

func (e *Engine) addCall(ctx context.Context, call telephony.Call) {
	s := &session{
		id:        uuid.NewString(),
		call:      call,
		state:     StateRinging,
		bound:     e.maxExchanges,
		startedAt: time.Now(),
		ended:     make(chan struct{}),
	}
	s.logger = e.logger.With("session", s.id[:8], "call", call.ID(), "from", call.From())

	e.mu.Lock()
	e.sessions[call.ID()] = s
	e.mu.Unlock()

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.runSession(ctx, s)
		e.mu.Lock()
		if e.sessions[call.ID()] == s {
			delete(e.sessions, call.ID())
		}
		e.mu.Unlock()
	}()
}

func (e *Engine) removeCall(call telephony.Call) {
	e.mu.Lock()
	s := e.sessions[call.ID()]
	e.mu.Unlock()
	if s != nil {
		s.end()
	}
}

func (e *Engine) endAll() {
	e.mu.Lock()
	for _, s := range e.sessions {
		s.end()
	}
	e.mu.Unlock()
}

// session is one screened call. The session goroutine is the sole writer
// of state and transcript.
type session struct {
	id        string
	call      telephony.Call
	state     State
	bound     int
	startedAt time.Time
	logger    *slog.Logger

	// transcript is bounded to the last maxExchanges exchanges and is
	// discarded when the call ends. It never reaches the memory store.
	transcript []prompt.Turn

	endOnce sync.Once
	ended   chan struct{}
}

func (s *session) end() {
	s.endOnce.Do(func() { close(s.ended) })
}

func (s *session) setState(st State) {
	s.state = st
	s.logger.Debug("call state", "state", st.String())
}

func (e *Engine) runSession(ctx context.Context, s *session) {
	audio := s.call.Audio()
	rec := audio.Recognizer()
	syn := audio.Synthesizer()

	defer func() {
		s.setState(StateEnded)
		syn.Stop()
		rec.Stop()
		rec.Close()
		s.transcript = nil
		s.logger.Info("call ended", "duration", time.Since(s.startedAt).Round(time.Second))
	}()

	if err := s.call.Answer(); err != nil {
		s.logger.Error("answer failed", "error", err)
		return
	}
	s.setState(StateAnswered)

	if !e.speak(ctx, s, syn, Greeting) {
		return
	}

	if err := rec.Start(); err != nil {
		s.logger.Error("capture start failed", "error", err)
		e.hangup(s)
		return
	}
	s.setState(StateListening)

	errStreak := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.ended:
			return
		case res, ok := <-rec.Results():
			if !ok {
				return
			}
			if !res.Final {
				continue
			}
			text := strings.TrimSpace(res.Text)
			if text == "" {
				continue
			}
			errStreak = 0
			if err := rec.Stop(); err != nil {
				s.logger.Warn("capture stop failed", "error", err)
			}
			s.setState(StateProcessing)
			if done := e.handleUtterance(ctx, s, syn, text); done {
				return
			}
			if err := rec.Start(); err != nil {
				s.logger.Error("capture restart failed", "error", err)
				e.hangup(s)
				return
			}
			s.setState(StateListening)
		case err, ok := <-rec.Errs():
			if !ok {
				return
			}
			errStreak++
			s.logger.Warn("recognition error", "error", err, "streak", errStreak)
			if errStreak > e.retryBudget {
				e.hangup(s)
				return
			}
			rec.Stop()
			if err := rec.Start(); err != nil {
				e.hangup(s)
				return
			}
		}
	}
}

// handleUtterance runs one caller turn: respond, classify intent, speak.
// It reports true when the call is over.
func (e *Engine) handleUtterance(ctx context.Context, s *session, syn speech.Synthesizer, text string) bool {
	reply, err := e.complete(ctx, prompt.ForCallScreening(s.transcript, text))
	if err != nil || strings.TrimSpace(reply) == "" {
		s.logger.Error("model unavailable on call", "error", err)
		e.speak(ctx, s, syn, Apology)
		e.hangup(s)
		return true
	}

	s.appendExchange(text, reply)

	intent := e.classifyIntent(ctx, s, text)
	s.logger.Info("caller turn", "intent", intent.String())

	if !e.speak(ctx, s, syn, reply) {
		return true
	}

	if intent == prompt.IntentEndCall {
		e.hangup(s)
		return true
	}
	return false
}

func (e *Engine) classifyIntent(ctx context.Context, s *session, text string) prompt.Intent {
	out, err := e.complete(ctx, prompt.ForCallIntent(text))
	if err != nil {
		// Degraded path: keyword matching stands in for the model.
		return prompt.FallbackIntent(text)
	}
	return prompt.ParseIntent(out)
}

// speak plays text to the caller, returning false if the session ended
// while speaking.
func (e *Engine) speak(ctx context.Context, s *session, syn speech.Synthesizer, text string) bool {
	s.setState(StateSpeaking)
	speakCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-s.ended:
			cancel()
		case <-speakCtx.Done():
		}
	}()
	if err := syn.Speak(speakCtx, text); err != nil {
		s.logger.Warn("synthesis failed", "error", err)
	}
	select {
	case <-s.ended:
		return false
	case <-ctx.Done():
		return false
	default:
		return true
	}
}

func (e *Engine) hangup(s *session) {
	if err := s.call.Hangup(); err != nil {
		s.logger.Error("hangup failed", "error", err)
	}
	s.end()
}

func (e *Engine) complete(ctx context.Context, p string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	return e.llm.Complete(cctx, p)
}

func (s *session) appendExchange(caller, assistant string) {
	s.transcript = append(s.transcript,
		prompt.Turn{Role: "caller", Text: caller},
		prompt.Turn{Role: "assistant", Text: assistant},
	)
	if max := 2 * s.bound; len(s.transcript) > max {
		s.transcript = s.transcript[len(s.transcript)-max:]
	}
}
