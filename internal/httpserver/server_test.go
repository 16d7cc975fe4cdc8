package httpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jmartinsuarez20-lab/Rtsusi/internal/assistant"
	"github.com/jmartinsuarez20-lab/Rtsusi/internal/memory"
)

type fakeConversation struct {
	mu        sync.Mutex
	submitted []string
	history   []assistant.Message
	thinking  bool
}

func (f *fakeConversation) Submit(text string) {
	f.mu.Lock()
	f.submitted = append(f.submitted, text)
	f.mu.Unlock()
}

func (f *fakeConversation) History() []assistant.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]assistant.Message(nil), f.history...)
}

func (f *fakeConversation) Thinking() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.thinking
}

type fakeFacts struct {
	facts []memory.Fact
}

func (f *fakeFacts) ListAll(ctx context.Context) []memory.Fact {
	return f.facts
}

func newTestServer() (*Server, *fakeConversation, *fakeFacts) {
	conv := &fakeConversation{}
	facts := &fakeFacts{}
	return New(Config{Conversation: conv, Facts: facts}), conv, facts
}

func TestHealthz(t *testing.T) {
	srv, _, _ := newTestServer()
	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestChatSubmitsText(t *testing.T) {
	srv, conv, _ := newTestServer()
	r := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(`{"text":"what is the weather"}`))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)

	if w.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", w.Code, w.Body.String())
	}
	if len(conv.submitted) != 1 || conv.submitted[0] != "what is the weather" {
		t.Fatalf("submitted = %v", conv.submitted)
	}
}

func TestChatRejectsBlankAndBadJSON(t *testing.T) {
	srv, conv, _ := newTestServer()

	for _, body := range []string{`not-json`, `{"text":"   "}`, `{}`} {
		r := httptest.NewRequest(http.MethodPost, "/chat", strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		srv.Handler().ServeHTTP(w, r)
		if w.Code != http.StatusBadRequest {
			t.Fatalf("body %q: expected 400, got %d", body, w.Code)
		}
	}
	if len(conv.submitted) != 0 {
		t.Fatalf("rejected requests reached the engine: %v", conv.submitted)
	}
}

func TestHistoryProjection(t *testing.T) {
	srv, conv, _ := newTestServer()
	now := time.Now()
	conv.history = []assistant.Message{
		{Text: "hello", Author: assistant.AuthorUser, CreatedAt: now},
		{Text: "hi there", Author: assistant.AuthorAssistant, CreatedAt: now},
	}
	conv.thinking = true

	r := httptest.NewRequest(http.MethodGet, "/chat/history", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp historyResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !resp.Thinking {
		t.Errorf("thinking not reflected")
	}
	if len(resp.Messages) != 2 {
		t.Fatalf("messages = %d, want 2", len(resp.Messages))
	}
	if resp.Messages[0].Author != "user" || resp.Messages[1].Author != "assistant" {
		t.Errorf("authors = %q, %q", resp.Messages[0].Author, resp.Messages[1].Author)
	}
}

func TestMemoriesProjection(t *testing.T) {
	srv, _, facts := newTestServer()
	facts.facts = []memory.Fact{
		{ID: 2, Text: "The user's favorite color is blue", CreatedAt: time.Now()},
		{ID: 1, Text: "The user has a dog named Taro", CreatedAt: time.Now()},
	}

	r := httptest.NewRequest(http.MethodGet, "/memories", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var items []factItem
	if err := json.Unmarshal(w.Body.Bytes(), &items); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(items) != 2 || items[0].ID != 2 {
		t.Fatalf("items = %+v", items)
	}
	if items[0].Fact != "The user's favorite color is blue" {
		t.Fatalf("fact = %q", items[0].Fact)
	}
}
