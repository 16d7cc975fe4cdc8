// Package rtc carries the device audio path: a companion client connects
// over WebRTC, streams its microphone, and plays the assistant's speech.
// The microphone feed goes to recognition and the hotword gate; synthesis
// output is paced onto the return track.
package rtc

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/hraban/opus"
	"github.com/labstack/echo/v4"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"
)

// SessionDescription is a small DTO to avoid exposing webrtc types in
// transport.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// DeviceSession is one connected device's audio path. The owner installs
// hooks before audio starts flowing.
type DeviceSession struct {
	sink *OpusPacedWriter

	mu       sync.Mutex
	onPCM    func(pcm []byte)
	onBarge  func()
	doneOnce sync.Once
	done     chan struct{}
}

// Sink returns the writer for assistant speech, 48kHz mono PCM in.
func (s *DeviceSession) Sink() *OpusPacedWriter { return s.sink }

// OnPCM installs the handler for decoded microphone audio, 16kHz 16-bit
// little-endian mono.
func (s *DeviceSession) OnPCM(fn func(pcm []byte)) {
	s.mu.Lock()
	s.onPCM = fn
	s.mu.Unlock()
}

// OnBargeIn installs the handler for the client's interrupt command.
func (s *DeviceSession) OnBargeIn(fn func()) {
	s.mu.Lock()
	s.onBarge = fn
	s.mu.Unlock()
}

// Done closes when the device disconnects.
func (s *DeviceSession) Done() <-chan struct{} { return s.done }

func (s *DeviceSession) deliverPCM(pcm []byte) {
	s.mu.Lock()
	fn := s.onPCM
	s.mu.Unlock()
	if fn != nil {
		fn(pcm)
	}
}

func (s *DeviceSession) bargeIn() {
	s.sink.Reset()
	s.mu.Lock()
	fn := s.onBarge
	s.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (s *DeviceSession) close() {
	s.doneOnce.Do(func() {
		s.sink.Close()
		close(s.done)
	})
}

// Config wires the handler.
type Config struct {
	// ICEServersJSON is a JSON array of webrtc ICE server entries.
	ICEServersJSON string
	// OnSession is invoked once per connected device, before audio flows.
	OnSession func(s *DeviceSession)
	Logger    *slog.Logger
}

// Handler negotiates WebRTC peer connections for device audio.
type Handler struct {
	iceServers []webrtc.ICEServer
	onSession  func(*DeviceSession)
	logger     *slog.Logger
}

func NewHandler(cfg Config) (*Handler, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	servers := []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
	if cfg.ICEServersJSON != "" {
		if err := json.Unmarshal([]byte(cfg.ICEServersJSON), &servers); err != nil {
			return nil, errors.New("invalid ICE servers JSON")
		}
	}
	return &Handler{
		iceServers: servers,
		onSession:  cfg.OnSession,
		logger:     cfg.Logger.With("component", "rtc"),
	}, nil
}

func (h *Handler) RegisterHandlers(e *echo.Echo) {
	e.POST("/device/audio", h.handleOffer)
}

func (h *Handler) handleOffer(c echo.Context) error {
	var offer SessionDescription
	if err := c.Bind(&offer); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "invalid offer body"})
	}
	answer, err := h.HandleOffer(offer)
	if err != nil {
		h.logger.Error("webrtc offer failed", "error", err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "negotiation failed"})
	}
	return c.JSON(http.StatusOK, answer)
}

// HandleOffer accepts an SDP offer and returns an SDP answer, wiring up
// the device session on success.
func (h *Handler) HandleOffer(offer SessionDescription) (SessionDescription, error) {
	if offer.Type != "offer" || offer.SDP == "" {
		return SessionDescription{}, errors.New("invalid offer")
	}

	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return SessionDescription{}, err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, ir); err != nil {
		return SessionDescription{}, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(ir))

	peerConnection, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: h.iceServers})
	if err != nil {
		return SessionDescription{}, err
	}

	outTrack, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 1}, "assistant-audio", "ritsu")
	if err != nil {
		_ = peerConnection.Close()
		return SessionDescription{}, err
	}
	if _, err := peerConnection.AddTrack(outTrack); err != nil {
		_ = peerConnection.Close()
		return SessionDescription{}, err
	}

	sink, err := NewOpusPacedWriter(outTrack)
	if err != nil {
		_ = peerConnection.Close()
		return SessionDescription{}, err
	}
	sess := &DeviceSession{sink: sink, done: make(chan struct{})}
	if h.onSession != nil {
		h.onSession(sess)
	}

	peerConnection.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		h.logger.Info("peer connection state", "state", state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			sess.close()
			_ = peerConnection.Close()
		}
	})

	peerConnection.OnDataChannel(func(dc *webrtc.DataChannel) {
		if dc.Label() != "control" {
			return
		}
		dc.OnMessage(func(msg webrtc.DataChannelMessage) {
			cmd := strings.TrimSpace(strings.ToLower(string(msg.Data)))
			switch cmd {
			case "stop", "stop-speaking", "cancel", "barge-in":
				sess.bargeIn()
			}
		})
	})

	peerConnection.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		h.logger.Info("device microphone track received", "codec", remote.Codec().MimeType)

		dec, err := opus.NewDecoder(16000, 1)
		if err != nil {
			h.logger.Error("opus decoder setup failed", "error", err)
			return
		}
		go h.readMic(remote, dec, sess)
	})

	remoteOffer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}
	if err := peerConnection.SetRemoteDescription(remoteOffer); err != nil {
		_ = peerConnection.Close()
		return SessionDescription{}, err
	}
	answer, err := peerConnection.CreateAnswer(nil)
	if err != nil {
		_ = peerConnection.Close()
		return SessionDescription{}, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(peerConnection)
	if err := peerConnection.SetLocalDescription(answer); err != nil {
		_ = peerConnection.Close()
		return SessionDescription{}, err
	}
	<-gatherComplete
	local := peerConnection.LocalDescription()
	if local == nil {
		_ = peerConnection.Close()
		return SessionDescription{}, errors.New("no local description")
	}
	return SessionDescription{Type: "answer", SDP: local.SDP}, nil
}

// readMic decodes the remote Opus track into 16kHz PCM chunks and hands
// them to the session.
func (h *Handler) readMic(remote *webrtc.TrackRemote, dec *opus.Decoder, sess *DeviceSession) {
	const chunkBytes = 3200 // 100ms at 16kHz
	pcmSamples := make([]int16, 1920)
	buf := make([]byte, 0, chunkBytes*4)
	for {
		pkt, _, readErr := remote.ReadRTP()
		if readErr != nil {
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, decErr := dec.Decode(pkt.Payload, pcmSamples)
		if decErr != nil {
			h.logger.Warn("opus decode error", "error", decErr)
			continue
		}
		startLen := len(buf)
		need := n * 2
		if cap(buf)-startLen < need {
			tmp := make([]byte, startLen, startLen+need+chunkBytes)
			copy(tmp, buf)
			buf = tmp
		}
		buf = buf[:startLen+need]
		o := buf[startLen:]
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint16(o[i*2:(i+1)*2], uint16(pcmSamples[i]))
		}
		for len(buf) >= chunkBytes {
			chunk := make([]byte, chunkBytes)
			copy(chunk, buf[:chunkBytes])
			sess.deliverPCM(chunk)
			copy(buf, buf[chunkBytes:])
			buf = buf[:len(buf)-chunkBytes]
		}
	}
}
