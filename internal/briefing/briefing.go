// Package briefing delivers a once-a-day spoken morning summary: current
// weather plus the day's agenda, assembled into a single utterance for
// the assistant to speak.
package briefing

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// Weather summarizes current conditions at a location.
type Weather interface {
	Describe(ctx context.Context, lat, lon float64) (string, error)
}

// Config wires the runner.
type Config struct {
	Weather   Weather
	Latitude  float64
	Longitude float64
	// StatePath persists the last-delivered timestamp across restarts.
	StatePath string
	// Agenda returns the day's schedule in spoken form. Optional.
	Agenda func(ctx context.Context) (string, error)
	Logger *slog.Logger
	// Now is injectable for tests. Defaults to time.Now.
	Now func() time.Time
}

// Runner decides when the briefing is due and builds its text. Delivery
// runs at most once per calendar day, and only between 6 AM and noon.
type Runner struct {
	weather   Weather
	lat, lon  float64
	statePath string
	agenda    func(ctx context.Context) (string, error)
	logger    *slog.Logger
	now       func() time.Time
}

func NewRunner(cfg Config) *Runner {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Runner{
		weather:   cfg.Weather,
		lat:       cfg.Latitude,
		lon:       cfg.Longitude,
		statePath: cfg.StatePath,
		agenda:    cfg.Agenda,
		logger:    cfg.Logger.With("component", "briefing"),
		now:       cfg.Now,
	}
}

type briefingState struct {
	LastDelivered time.Time `json:"last_delivered"`
}

// RunIfNeeded returns the briefing text when one is due, or "" when the
// conditions are not met. Weather or agenda failures degrade to fallback
// phrases rather than suppressing the briefing.
func (r *Runner) RunIfNeeded(ctx context.Context) (string, error) {
	now := r.now()
	if !r.due(now) {
		return "", nil
	}

	weather := "I had trouble fetching the weather."
	if r.weather != nil {
		if w, err := r.weather.Describe(ctx, r.lat, r.lon); err == nil {
			weather = w
		} else {
			r.logger.Warn("weather lookup failed", "error", err)
		}
	} else {
		weather = "I couldn't determine your location to get the weather."
	}

	agenda := "You have no events scheduled for today."
	if r.agenda != nil {
		if a, err := r.agenda(ctx); err == nil && a != "" {
			agenda = a
		} else if err != nil {
			r.logger.Warn("agenda lookup failed", "error", err)
			agenda = "I can't access your calendar."
		}
	}

	if err := r.saveState(briefingState{LastDelivered: now}); err != nil {
		r.logger.Warn("briefing state not persisted", "error", err)
	}

	text := fmt.Sprintf("Good morning! Here is your daily briefing. %s %s Have a great day!", weather, agenda)
	r.logger.Info("morning briefing delivered")
	return text, nil
}

// due reports whether a briefing should run now: morning hours and not
// yet delivered today.
func (r *Runner) due(now time.Time) bool {
	if now.Hour() < 6 || now.Hour() > 11 {
		return false
	}
	st, err := r.loadState()
	if err != nil {
		return true
	}
	last := st.LastDelivered
	return now.Year() != last.Year() || now.YearDay() != last.YearDay()
}

func (r *Runner) loadState() (briefingState, error) {
	var st briefingState
	data, err := os.ReadFile(r.statePath)
	if err != nil {
		return st, err
	}
	if err := json.Unmarshal(data, &st); err != nil {
		return st, err
	}
	return st, nil
}

func (r *Runner) saveState(st briefingState) error {
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(r.statePath, data, 0o644)
}
