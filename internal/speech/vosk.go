package speech

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// VoskRecognizer streams PCM to a Vosk recognition server over websocket
// and delivers typed partial/final results. The server performs its own
// endpointing, so a final Result marks a completed utterance.
type VoskRecognizer struct {
	url        string
	sampleRate int
	logger     *slog.Logger

	mu       sync.Mutex
	results  chan Result
	errs     chan error
	conn     *websocket.Conn
	audio    chan []byte
	connStop chan struct{}
	closed   bool
}

// voskMessage mirrors the server's JSON results.
type voskMessage struct {
	Partial string `json:"partial"`
	Text    string `json:"text"`
}

// NewVoskRecognizer builds a recognizer for the given ws:// URL. It does
// not connect until Start.
func NewVoskRecognizer(url string, sampleRate int, logger *slog.Logger) *VoskRecognizer {
	if sampleRate == 0 {
		sampleRate = 16000
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &VoskRecognizer{
		url:        url,
		sampleRate: sampleRate,
		logger:     logger,
		results:    make(chan Result, 100),
		errs:       make(chan error, 10),
	}
}

// Results delivers partial and final hypotheses for the current listening
// episode. Each Start replaces the channel, so results buffered before a
// Stop never leak into the next episode.
func (v *VoskRecognizer) Results() <-chan Result {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.results
}

// Errs delivers transport and recognition errors.
func (v *VoskRecognizer) Errs() <-chan error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.errs
}

// Start connects to the recognition server and begins streaming. Starting
// an already-started recognizer is a no-op.
func (v *VoskRecognizer) Start() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return errors.New("vosk: recognizer closed")
	}
	if v.conn != nil {
		return nil
	}
	if v.url == "" {
		return errors.New("vosk: server url missing")
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(v.url, nil)
	if err != nil {
		return fmt.Errorf("vosk: connect %s: %w", v.url, err)
	}
	cfg := fmt.Sprintf(`{"config": {"sample_rate": %d}}`, v.sampleRate)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(cfg)); err != nil {
		_ = conn.Close()
		return fmt.Errorf("vosk: send config: %w", err)
	}

	v.conn = conn
	v.connStop = make(chan struct{})
	v.audio = make(chan []byte, 256)
	v.results = make(chan Result, 100)
	v.errs = make(chan error, 10)
	go v.readLoop(conn, v.connStop, v.results, v.errs)
	go v.writeLoop(conn, v.audio, v.connStop, v.errs)
	return nil
}

// SendPCM queues 16-bit little-endian mono PCM for transcription. When the
// buffer is full the frame is dropped rather than blocking the capture
// worker.
func (v *VoskRecognizer) SendPCM(pcm []byte) error {
	v.mu.Lock()
	audio := v.audio
	connected := v.conn != nil
	v.mu.Unlock()
	if !connected {
		return errors.New("vosk: not listening")
	}
	select {
	case audio <- pcm:
	default:
		v.logger.Warn("vosk audio buffer full, dropping frame")
	}
	return nil
}

// Stop disconnects from the server. It is idempotent and the recognizer
// can be started again afterwards.
func (v *VoskRecognizer) Stop() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.conn == nil {
		return nil
	}
	close(v.connStop)
	_ = v.conn.Close()
	v.conn = nil
	v.audio = nil
	return nil
}

// Close stops the recognizer and prevents further use.
func (v *VoskRecognizer) Close() error {
	_ = v.Stop()
	v.mu.Lock()
	v.closed = true
	v.mu.Unlock()
	return nil
}

func (v *VoskRecognizer) readLoop(conn *websocket.Conn, stop <-chan struct{}, results chan<- Result, errs chan<- error) {
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-stop:
				// deliberate disconnect, not an error
			default:
				select {
				case errs <- fmt.Errorf("vosk: read: %w", err):
				default:
				}
			}
			return
		}
		var msg voskMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			v.logger.Warn("vosk: unparseable message", "err", err)
			continue
		}
		var res Result
		switch {
		case msg.Text != "":
			res = Result{Text: msg.Text, Final: true}
		case msg.Partial != "":
			res = Result{Text: msg.Partial, Final: false}
		default:
			continue
		}
		select {
		case results <- res:
		default:
			v.logger.Warn("vosk result buffer full, dropping", "final", res.Final)
		}
	}
}

func (v *VoskRecognizer) writeLoop(conn *websocket.Conn, audio <-chan []byte, stop <-chan struct{}, errs chan<- error) {
	for {
		select {
		case <-stop:
			_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"eof": 1}`))
			return
		case pcm := <-audio:
			if err := conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
				select {
				case <-stop:
				default:
					select {
					case errs <- fmt.Errorf("vosk: write: %w", err):
					default:
					}
				}
				return
			}
		}
	}
}
