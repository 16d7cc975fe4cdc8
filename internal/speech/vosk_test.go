package speech

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// newFakeVoskServer serves the recognition protocol: it consumes the config
// message and any audio, and pushes whatever JSON payloads the test queues.
func newFakeVoskServer(t *testing.T) (*httptest.Server, chan string) {
	t.Helper()
	payloads := make(chan string, 10)
	up := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()
		for {
			select {
			case p := <-payloads:
				if err := conn.WriteMessage(websocket.TextMessage, []byte(p)); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}))
	return srv, payloads
}

func wsURL(srv *httptest.Server) string {
	return "ws://" + strings.TrimPrefix(srv.URL, "http://")
}

func TestVoskRecognizer_DeliversPartialsThenFinal(t *testing.T) {
	srv, payloads := newFakeVoskServer(t)
	defer srv.Close()

	rec := NewVoskRecognizer(wsURL(srv), 16000, nil)
	defer rec.Close()
	if err := rec.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	payloads <- `{"partial": "turn on"}`
	payloads <- `{"text": "turn on the lights"}`

	select {
	case res := <-rec.Results():
		if res.Final || res.Text != "turn on" {
			t.Fatalf("expected partial first, got %+v", res)
		}
	case <-time.After(time.Second):
		t.Fatalf("partial never delivered")
	}
	select {
	case res := <-rec.Results():
		if !res.Final || res.Text != "turn on the lights" {
			t.Fatalf("expected final, got %+v", res)
		}
	case <-time.After(time.Second):
		t.Fatalf("final never delivered")
	}
}

func TestVoskRecognizer_RestartDiscardsBufferedFinals(t *testing.T) {
	srv, payloads := newFakeVoskServer(t)
	defer srv.Close()

	rec := NewVoskRecognizer(wsURL(srv), 16000, nil)
	defer rec.Close()
	if err := rec.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}

	// the final lands in the buffer but nothing consumes it before Stop
	payloads <- `{"text": "words from the previous episode"}`
	time.Sleep(50 * time.Millisecond)

	if err := rec.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := rec.Start(); err != nil {
		t.Fatalf("restart: %v", err)
	}

	select {
	case res := <-rec.Results():
		t.Fatalf("result from before the restart delivered: %+v", res)
	case <-time.After(100 * time.Millisecond):
	}
}
