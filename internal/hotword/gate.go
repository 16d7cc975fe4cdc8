// Package hotword keeps a low-power recognizer running while the
// assistant is idle and wakes the conversation pipeline when a wake
// phrase is heard.
package hotword

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/jmartinsuarez20-lab/Rtsusi/internal/speech"
)

// DefaultPhrases are the wake phrases matched when none are configured.
var DefaultPhrases = []string{"hey ritsu", "okay ritsu"}

// Config wires the gate.
type Config struct {
	// Recognizer is the gate's own capture path. It is cheaper than the
	// main pipeline's recognizer and runs whenever the assistant idles.
	Recognizer speech.Recognizer
	// OnWake is invoked once per detection, after the gate's own capture
	// has stopped. Typically arms the speech coordinator.
	OnWake  func()
	Phrases []string
	Logger  *slog.Logger
}

// Gate listens for a wake phrase. Start/Resume arm it, a detection or
// Stop disarms it. All methods are safe for concurrent use.
type Gate struct {
	rec     speech.Recognizer
	onWake  func()
	phrases []string
	logger  *slog.Logger

	mu     sync.Mutex
	armed  bool
	closed bool
	gen    int
}

func New(cfg Config) *Gate {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	phrases := cfg.Phrases
	if len(phrases) == 0 {
		phrases = DefaultPhrases
	}
	lowered := make([]string, len(phrases))
	for i, p := range phrases {
		lowered[i] = strings.ToLower(strings.TrimSpace(p))
	}
	return &Gate{
		rec:     cfg.Recognizer,
		onWake:  cfg.OnWake,
		phrases: lowered,
		logger:  cfg.Logger.With("component", "hotword"),
	}
}

// Start arms the gate. No-op when already armed or closed.
func (g *Gate) Start() error {
	g.mu.Lock()
	if g.armed || g.closed {
		g.mu.Unlock()
		return nil
	}
	g.armed = true
	g.gen++
	gen := g.gen
	g.mu.Unlock()

	if err := g.rec.Start(); err != nil {
		g.mu.Lock()
		g.armed = false
		g.mu.Unlock()
		return err
	}
	go g.watch(gen)
	return nil
}

// Resume re-arms the gate; meant to be called when the conversation
// pipeline returns to idle.
func (g *Gate) Resume() {
	if err := g.Start(); err != nil {
		g.logger.Error("hotword capture failed to resume", "error", err)
	}
}

// Stop disarms the gate without closing the recognizer.
func (g *Gate) Stop() {
	g.mu.Lock()
	if !g.armed {
		g.mu.Unlock()
		return
	}
	g.armed = false
	g.gen++
	g.mu.Unlock()
	g.rec.Stop()
}

// Close permanently shuts the gate down.
func (g *Gate) Close() error {
	g.mu.Lock()
	g.closed = true
	g.armed = false
	g.gen++
	g.mu.Unlock()
	g.rec.Stop()
	return g.rec.Close()
}

func (g *Gate) watch(gen int) {
	for {
		select {
		case res, ok := <-g.rec.Results():
			if !ok || g.stale(gen) {
				return
			}
			if g.matches(res.Text) {
				g.logger.Info("wake phrase detected", "text", res.Text)
				g.Stop()
				if g.onWake != nil {
					g.onWake()
				}
				return
			}
		case err, ok := <-g.rec.Errs():
			if !ok || g.stale(gen) {
				return
			}
			g.logger.Warn("hotword recognition error", "error", err)
		}
	}
}

func (g *Gate) stale(gen int) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return gen != g.gen || !g.armed
}

// matches checks partials as well as finals so the wake-up fires as soon
// as the phrase is heard, not at end of utterance.
func (g *Gate) matches(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range g.phrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
