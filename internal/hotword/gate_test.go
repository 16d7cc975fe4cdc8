package hotword

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmartinsuarez20-lab/Rtsusi/internal/speech"
)

type fakeRecognizer struct {
	mu      sync.Mutex
	started int
	stopped int

	results chan speech.Result
	errs    chan error
}

func newFakeRecognizer() *fakeRecognizer {
	return &fakeRecognizer{
		results: make(chan speech.Result, 8),
		errs:    make(chan error, 8),
	}
}

func (f *fakeRecognizer) Start() error {
	f.mu.Lock()
	f.started++
	f.mu.Unlock()
	return nil
}

func (f *fakeRecognizer) Stop() error {
	f.mu.Lock()
	f.stopped++
	f.mu.Unlock()
	return nil
}

func (f *fakeRecognizer) Results() <-chan speech.Result { return f.results }
func (f *fakeRecognizer) Errs() <-chan error            { return f.errs }
func (f *fakeRecognizer) Close() error                  { return nil }

func (f *fakeRecognizer) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.started, f.stopped
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestWakePhraseFiresOnceAndStopsCapture(t *testing.T) {
	rec := newFakeRecognizer()
	var wakes int32
	g := New(Config{
		Recognizer: rec,
		OnWake:     func() { atomic.AddInt32(&wakes, 1) },
	})

	if err := g.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	rec.results <- speech.Result{Text: "playing some music", Final: true}
	rec.results <- speech.Result{Text: "Hey Ritsu, what time is it", Final: false}

	waitFor(t, "wake", func() bool { return atomic.LoadInt32(&wakes) == 1 })
	_, stopped := rec.counts()
	if stopped == 0 {
		t.Fatalf("gate capture not stopped after wake")
	}

	// Results after the wake must not fire again until re-armed.
	rec.results <- speech.Result{Text: "okay ritsu again", Final: true}
	time.Sleep(30 * time.Millisecond)
	if n := atomic.LoadInt32(&wakes); n != 1 {
		t.Fatalf("wakes = %d, want 1", n)
	}
}

func TestResumeReArmsAfterWake(t *testing.T) {
	rec := newFakeRecognizer()
	var wakes int32
	g := New(Config{
		Recognizer: rec,
		OnWake:     func() { atomic.AddInt32(&wakes, 1) },
	})

	g.Start()
	rec.results <- speech.Result{Text: "hey ritsu"}
	waitFor(t, "first wake", func() bool { return atomic.LoadInt32(&wakes) == 1 })

	g.Resume()
	rec.results <- speech.Result{Text: "okay ritsu"}
	waitFor(t, "second wake", func() bool { return atomic.LoadInt32(&wakes) == 2 })

	started, _ := rec.counts()
	if started < 2 {
		t.Fatalf("starts = %d after resume, want at least 2", started)
	}
}

func TestCustomPhrasesAndCaseInsensitivity(t *testing.T) {
	rec := newFakeRecognizer()
	var wakes int32
	g := New(Config{
		Recognizer: rec,
		OnWake:     func() { atomic.AddInt32(&wakes, 1) },
		Phrases:    []string{"Oye Ritsu"},
	})

	g.Start()
	rec.results <- speech.Result{Text: "hey ritsu"} // not configured
	rec.results <- speech.Result{Text: "OYE RITSU ayúdame"}
	waitFor(t, "wake on custom phrase", func() bool { return atomic.LoadInt32(&wakes) == 1 })
}

func TestRecognitionErrorsDoNotDisarm(t *testing.T) {
	rec := newFakeRecognizer()
	var wakes int32
	g := New(Config{
		Recognizer: rec,
		OnWake:     func() { atomic.AddInt32(&wakes, 1) },
	})

	g.Start()
	rec.errs <- errTest
	rec.errs <- errTest
	rec.results <- speech.Result{Text: "hey ritsu"}
	waitFor(t, "wake after errors", func() bool { return atomic.LoadInt32(&wakes) == 1 })
}

func TestStartIsIdempotentWhileArmed(t *testing.T) {
	rec := newFakeRecognizer()
	g := New(Config{Recognizer: rec, OnWake: func() {}})

	g.Start()
	g.Start()
	g.Start()
	started, _ := rec.counts()
	if started != 1 {
		t.Fatalf("starts = %d with gate already armed, want 1", started)
	}
}

func TestCloseIsPermanent(t *testing.T) {
	rec := newFakeRecognizer()
	var wakes int32
	g := New(Config{Recognizer: rec, OnWake: func() { atomic.AddInt32(&wakes, 1) }})

	g.Start()
	g.Close()
	rec.results <- speech.Result{Text: "hey ritsu"}
	time.Sleep(30 * time.Millisecond)
	if n := atomic.LoadInt32(&wakes); n != 0 {
		t.Fatalf("wake fired after close")
	}
	if err := g.Start(); err != nil {
		t.Fatalf("start after close: %v", err)
	}
	started, _ := rec.counts()
	if started != 1 {
		t.Fatalf("capture restarted after close")
	}
}

var errTest = &recError{}

type recError struct{}

func (*recError) Error() string { return "stream hiccup" }
