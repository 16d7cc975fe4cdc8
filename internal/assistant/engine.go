// Package assistant implements the per-turn conversation pipeline:
// classify sentiment, learn and recall memory, generate a reply, hand it
// to the speech coordinator for playback.
package assistant

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jmartinsuarez20-lab/Rtsusi/internal/llm"
	"github.com/jmartinsuarez20-lab/Rtsusi/internal/memory"
	"github.com/jmartinsuarez20-lab/Rtsusi/internal/prompt"
)

// Author identifies who produced a message.
type Author int

const (
	AuthorUser Author = iota
	AuthorAssistant
)

func (a Author) String() string {
	if a == AuthorUser {
		return "user"
	}
	return "assistant"
}

// Message is one immutable conversation entry.
type Message struct {
	Text      string    `json:"text"`
	Author    Author    `json:"author"`
	CreatedAt time.Time `json:"created_at"`
}

// Placeholder is the provisional assistant message shown while a turn is
// being processed. It is always replaced before the turn completes.
const Placeholder = "…"

// Apology replaces the placeholder when the model cannot be reached.
const Apology = "I'm sorry, I'm having trouble thinking right now. Please try again in a moment."

// notReady is spoken when the turn queue is saturated.
const notReady = "I'm still thinking about your last message. Give me a moment."

// FactStore is the slice of the memory store the engine needs.
type FactStore interface {
	Insert(ctx context.Context, fact string) error
	ListAll(ctx context.Context) []memory.Fact
}

// Speaker receives final turn text for playback. Playback is
// fire-and-forget: its failures never re-open a turn.
type Speaker interface {
	Speak(text string)
}

/// Engine owns one conversation. Turns are strictly serialized: a single
// worker goroutine consumes the queue and completes turns in order, so two
// turns can never interleave. History is append-only; the only write
// outside the worker is the saturation reply recorded by Submit.
type Engine struct {
	llm     llm.Client
	store   FactStore
	speaker Speaker
	logger  *slog.Logger
	timeout time.Duration

	mu       sync.Mutex
	history  []Message
	thinking bool

	queue  chan string
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Config wires the engine's collaborators.
type Config struct {
	LLM     llm.Client
	Store   FactStore
	Speaker Speaker
	Logger  *slog.Logger
	// Timeout bounds each individual LLM call. Exceeding it is treated as
	// the model being unavailable for the turn.
	Timeout time.Duration
	// QueueSize bounds pending turns; overflow is rejected with a
	// "not ready" response instead of blocking the caller.
	QueueSize int
}

// New builds the engine and starts its turn worker.
func New(cfg Config) *Engine {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 20 * time.Second
	}
	if cfg.QueueSize == 0 {
		cfg.QueueSize = 8
	}
	ctx, cancel := context.WithCancel(context.Background())
	e := &Engine{
		llm:     cfg.LLM,
		store:   cfg.Store,
		speaker: cfg.Speaker,
		logger:  cfg.Logger,
		timeout: cfg.Timeout,
		queue:   make(chan string, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
	}
	e.wg.Add(1)
	go e.worker()
	return e
}

// Submit queues one user turn. Blank input is a no-op. Submissions that
// arrive while a turn is in flight are queued, never interleaved; if the
// queue is saturated the engine answers "not ready" and records the
// rejected exchange so history still shows what was said.
func (e *Engine) Submit(text string) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	select {
	case e.queue <- text:
	default:
		e.logger.Warn("turn queue saturated, rejecting submission")
		now := time.Now()
		e.mu.Lock()
		e.history = append(e.history,
			Message{Text: text, Author: AuthorUser, CreatedAt: now},
			Message{Text: notReady, Author: AuthorAssistant, CreatedAt: now},
		)
		e.mu.Unlock()
		e.speak(notReady)
	}
}

// History returns a consistent snapshot of the conversation. A turn in
// flight is visible as its placeholder, never as a partial append.
func (e *Engine) History() []Message {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Message, len(e.history))
	copy(out, e.history)
	return out
}

// Thinking reports whether a turn is currently between placeholder
// insertion and replacement.
func (e *Engine) Thinking() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.thinking
}

// Close stops the worker. Any in-flight LLM call is abandoned via context
// cancellation; its turn resolves to the apology fallback so the
// placeholder is never left dangling.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
}

func (e *Engine) worker() {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case text := <-e.queue:
			if e.ctx.Err() != nil {
				return
			}
			e.runTurn(text)
		}
	}
}

// runTurn executes steps classify -> learn/recall -> respond for one
// submission. All three context-gathering steps complete before the
// response prompt is built.
func (e *Engine) runTurn(userText string) {
	now := time.Now()
	e.mu.Lock()
	e.history = append(e.history,
		Message{Text: userText, Author: AuthorUser, CreatedAt: now},
		Message{Text: Placeholder, Author: AuthorAssistant, CreatedAt: now},
	)
	placeholderIdx := len(e.history) - 1
	priorTurns := make([]prompt.Turn, 0, placeholderIdx-1)
	for _, m := range e.history[:placeholderIdx-1] {
		priorTurns = append(priorTurns, prompt.Turn{Role: m.Author.String(), Text: m.Text})
	}
	e.thinking = true
	e.mu.Unlock()

	var (
		wg        sync.WaitGroup
		sentiment prompt.Sentiment
		facts     []memory.Fact
	)
	wg.Add(3)
	go func() {
		defer wg.Done()
		sentiment = e.classify(userText)
	}()
	go func() {
		defer wg.Done()
		e.learn(userText)
	}()
	go func() {
		defer wg.Done()
		facts = e.store.ListAll(e.ctx)
	}()
	wg.Wait()

	factTexts := make([]string, 0, len(facts))
	for _, f := range facts {
		factTexts = append(factTexts, f.Text)
	}

	reply, err := e.complete(prompt.ForResponse(prompt.Persona(sentiment), factTexts, priorTurns, userText))
	if err != nil || reply == "" {
		if err != nil {
			e.logger.Warn("model unavailable for turn", "err", err)
		}
		reply = Apology
	}

	e.mu.Lock()
	e.history[placeholderIdx] = Message{Text: reply, Author: AuthorAssistant, CreatedAt: time.Now()}
	e.thinking = false
	e.mu.Unlock()

	e.speak(reply)
}

// classify maps the utterance to a sentiment; failures degrade to NEUTRAL.
func (e *Engine) classify(userText string) prompt.Sentiment {
	out, err := e.complete(prompt.ForSentiment(userText))
	if err != nil {
		e.logger.Debug("sentiment classification failed", "err", err)
		return prompt.SentimentNeutral
	}
	return prompt.ParseSentiment(out)
}

// learn extracts at most one durable fact and persists it. A NONE or blank
// extraction writes nothing; persistence failures are non-fatal.
func (e *Engine) learn(userText string) {
	out, err := e.complete(prompt.ForFactExtraction(userText))
	if err != nil {
		e.logger.Debug("fact extraction failed", "err", err)
		return
	}
	fact := strings.TrimSpace(out)
	if fact == "" || strings.EqualFold(fact, memory.SentinelNone) {
		return
	}
	if err := e.store.Insert(e.ctx, fact); err != nil {
		e.logger.Warn("fact not stored", "err", err)
	}
}

func (e *Engine) complete(p string) (string, error) {
	ctx, cancel := context.WithTimeout(e.ctx, e.timeout)
	defer cancel()
	return e.llm.Complete(ctx, p)
}

func (e *Engine) speak(text string) {
	if e.speaker != nil {
		e.speaker.Speak(text)
	}
}
