package rtc

import (
	"testing"
)

func TestNewHandlerRejectsBadICEJSON(t *testing.T) {
	if _, err := NewHandler(Config{ICEServersJSON: "not-json"}); err == nil {
		t.Fatalf("expected error for invalid ICE servers JSON")
	}
	if _, err := NewHandler(Config{}); err != nil {
		t.Fatalf("default config: %v", err)
	}
}

func TestHandleOfferRejectsInvalidOffer(t *testing.T) {
	h, err := NewHandler(Config{})
	if err != nil {
		t.Fatalf("new handler: %v", err)
	}
	if _, err := h.HandleOffer(SessionDescription{Type: "answer", SDP: "x"}); err == nil {
		t.Fatalf("expected error for non-offer description")
	}
	if _, err := h.HandleOffer(SessionDescription{Type: "offer"}); err == nil {
		t.Fatalf("expected error for empty SDP")
	}
}

func TestDeviceSessionHooksAndClose(t *testing.T) {
	sess := &DeviceSession{
		sink: &OpusPacedWriter{
			frames: make(chan []byte, 8),
			stopCh: make(chan struct{}),
		},
		done: make(chan struct{}),
	}

	var got []byte
	sess.OnPCM(func(pcm []byte) { got = pcm })
	sess.deliverPCM([]byte{1, 2, 3, 4})
	if len(got) != 4 {
		t.Fatalf("pcm hook not invoked")
	}

	barged := false
	sess.OnBargeIn(func() { barged = true })
	sess.sink.frames <- []byte{0x01}
	sess.bargeIn()
	if !barged {
		t.Fatalf("barge-in hook not invoked")
	}
	select {
	case <-sess.sink.frames:
		t.Fatalf("barge-in did not drain queued audio")
	default:
	}

	sess.close()
	sess.close() // idempotent
	select {
	case <-sess.Done():
	default:
		t.Fatalf("done channel not closed")
	}
}
