package telephony

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  65536,
	WriteBufferSize: 65536,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// mediaMessage is the envelope for Twilio Media Stream frames, both
// directions. Only the fields relevant to the current event are set.
type mediaMessage struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid,omitempty"`
	Start     *struct {
		CallSid          string            `json:"callSid"`
		StreamSid        string            `json:"streamSid"`
		CustomParameters map[string]string `json:"customParameters"`
	} `json:"start,omitempty"`
	Media *struct {
		Payload string `json:"payload"`
	} `json:"media,omitempty"`
}

// MediaStream is one Twilio bidirectional media stream. Inbound frames are
// 8 kHz mu-law; decoded PCM is handed to the OnPCM hook. Outbound audio is
// written through the speech.PCMSink methods, so the stream itself serves
// as the synthesizer's sink.
type MediaStream struct {
	conn      *websocket.Conn
	callSID   string
	streamSID string
	from      string

	mu    sync.Mutex
	onPCM func([]byte)
}

func newMediaStream(conn *websocket.Conn) *MediaStream {
	return &MediaStream{conn: conn}
}

// CallSID identifies the Twilio call this stream carries.
func (m *MediaStream) CallSID() string { return m.callSID }

// OnPCM installs the handler for decoded inbound audio, 8 kHz 16-bit
// little-endian mono. Must be set before readLoop starts delivering media.
func (m *MediaStream) OnPCM(fn func(pcm []byte)) {
	m.mu.Lock()
	m.onPCM = fn
	m.mu.Unlock()
}

// awaitStart consumes frames until the start event arrives and records the
// call and stream identifiers from it.
func (m *MediaStream) awaitStart() error {
	for {
		var msg mediaMessage
		if err := m.readMessage(&msg); err != nil {
			return err
		}
		switch msg.Event {
		case "connected":
			continue
		case "start":
			if msg.Start == nil {
				return fmt.Errorf("start event without payload")
			}
			m.callSID = msg.Start.CallSid
			m.streamSID = msg.Start.StreamSid
			m.from = msg.Start.CustomParameters["from"]
			return nil
		case "stop":
			return fmt.Errorf("stream stopped before start")
		}
	}
}

// readLoop delivers inbound media until the stream stops or the connection
// drops.
func (m *MediaStream) readLoop() {
	for {
		var msg mediaMessage
		if err := m.readMessage(&msg); err != nil {
			return
		}
		switch msg.Event {
		case "media":
			if msg.Media == nil {
				continue
			}
			raw, err := base64.StdEncoding.DecodeString(msg.Media.Payload)
			if err != nil {
				continue
			}
			m.mu.Lock()
			fn := m.onPCM
			m.mu.Unlock()
			if fn != nil {
				fn(DecodeMuLaw(raw))
			}
		case "stop":
			return
		}
	}
}

func (m *MediaStream) readMessage(msg *mediaMessage) error {
	_, data, err := m.conn.ReadMessage()
	if err != nil {
		return err
	}
	return json.Unmarshal(data, msg)
}

// WritePCM accepts 48 kHz 16-bit mono PCM from the synthesizer, converts it
// to the stream's 8 kHz mu-law format and sends it to the caller.
func (m *MediaStream) WritePCM(pcm []byte) {
	encoded := EncodeMuLaw(Downsample48kTo8k(pcm))
	if len(encoded) == 0 {
		return
	}
	payload := base64.StdEncoding.EncodeToString(encoded)
	m.writeJSON(mediaMessage{
		Event:     "media",
		StreamSid: m.streamSID,
		Media: &struct {
			Payload string `json:"payload"`
		}{Payload: payload},
	})
}

// FlushTail is a no-op: Twilio plays buffered media out without padding.
func (m *MediaStream) FlushTail() {}

// Reset clears any audio Twilio has buffered for playback, cutting off
// in-flight speech.
func (m *MediaStream) Reset() {
	m.writeJSON(mediaMessage{Event: "clear", StreamSid: m.streamSID})
}

func (m *MediaStream) writeJSON(msg mediaMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_ = m.conn.WriteMessage(websocket.TextMessage, data)
}
