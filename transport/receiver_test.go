package transport

import (
	"bytes"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/aarossig/nrfnet/link"
	"github.com/aarossig/nrfnet/protocol"
)

// recordingLink is a minimal link.Link that only records Transmit calls,
// used to inspect exactly what the receiver state machine sends back.
type recordingLink struct {
	maxPayload uint32
	address    uint32
	sent       []link.Frame
}

func (l *recordingLink) Beacon() link.TransmitResult { return link.TransmitSuccess }

func (l *recordingLink) Transmit(frame link.Frame) link.TransmitResult {
	l.sent = append(l.sent, frame)
	return link.TransmitSuccess
}

func (l *recordingLink) Receive(*link.Frame) link.ReceiveResult { return link.ReceiveNotReady }

func (l *recordingLink) MaxPayloadSize() uint32 { return l.maxPayload }

func (l *recordingLink) Address() uint32 { return l.address }

func (l *recordingLink) lastSent() link.Frame {
	return l.sent[len(l.sent)-1]
}

type recordingHandler struct {
	received []receivedPayload
}

type receivedPayload struct {
	address uint32
	payload []byte
}

func (h *recordingHandler) OnBeaconFailed(link.TransmitResult) {}
func (h *recordingHandler) OnBeaconReceived(uint32)            {}
func (h *recordingHandler) OnFrameReceived(address uint32, payload []byte) {
	h.received = append(h.received, receivedPayload{address: address, payload: append([]byte(nil), payload...)})
}

func TestReceiverBeginPrimeThenTimeout(t *testing.T) {
	lk := &recordingLink{maxPayload: 32, address: 1}
	r := newReceiver(lk, 32, &recordingHandler{}, zap.NewNop())

	t0 := time.Unix(0, 0)
	begin := link.Frame{Address: 2000, Payload: protocol.BuildBeginEndFrame(protocol.FrameTypeBegin, false, 32)}
	r.handleFrame(begin, t0.Add(1000*time.Microsecond))

	if !r.state.active || r.state.address != 2000 {
		t.Fatalf("receiver state = %+v, want active for address 2000", r.state)
	}
	ack := lk.lastSent()
	if ack.Address != 2000 || ack.Payload[0] != 0x05 {
		t.Fatalf("BEGIN-ack = %+v, want address 2000, byte0 0x05", ack)
	}
	for _, b := range ack.Payload[1:] {
		if b != 0 {
			t.Fatalf("BEGIN-ack payload not otherwise zero: %v", ack.Payload)
		}
	}

	// at t = 21001us, the state should already have been reset by the
	// 20ms receiver timeout, so an END here produces no transition.
	sentBefore := len(lk.sent)
	end := link.Frame{Address: 2000, Payload: protocol.BuildBeginEndFrame(protocol.FrameTypeEnd, false, 32)}
	r.handleFrame(end, t0.Add(21001*time.Microsecond))

	if r.state.active {
		t.Fatalf("receiver state still active after timeout window elapsed")
	}
	if len(lk.sent) != sentBefore {
		t.Fatalf("expected no transmit after timed-out END, got %d new sends", len(lk.sent)-sentBefore)
	}
}

func TestReceiverReassemblesMinimalPayload(t *testing.T) {
	lk := &recordingLink{maxPayload: 32, address: 1}
	handler := &recordingHandler{}
	r := newReceiver(lk, 32, handler, zap.NewNop())

	payload := bytes.Repeat([]byte{0xAA}, 16)
	subFrames, err := protocol.BuildSubFrames(payload, 32)
	if err != nil {
		t.Fatalf("BuildSubFrames() error = %v", err)
	}
	if len(subFrames) != 1 {
		t.Fatalf("len(subFrames) = %d, want 1", len(subFrames))
	}

	now := time.Unix(0, 0)
	address := uint32(2000)

	r.handleFrame(link.Frame{Address: address, Payload: protocol.BuildBeginEndFrame(protocol.FrameTypeBegin, false, 32)}, now)

	encoded := protocol.EncodeSubFrame(subFrames[0])
	fragmentSize := 32 - 2
	maxSeq := protocol.MaxSequenceIDs(len(encoded), 32)
	for seq := 0; seq < maxSeq; seq++ {
		start := seq * fragmentSize
		end := start + fragmentSize
		if end > len(encoded) {
			end = len(encoded)
		}
		fragment, err := protocol.BuildPayloadFrame(byte(seq), encoded[start:end], 32)
		if err != nil {
			t.Fatalf("BuildPayloadFrame() error = %v", err)
		}
		r.handleFrame(link.Frame{Address: address, Payload: fragment}, now)
	}

	r.handleFrame(link.Frame{Address: address, Payload: protocol.BuildBeginEndFrame(protocol.FrameTypeEnd, false, 32)}, now)

	if len(handler.received) != 1 {
		t.Fatalf("len(handler.received) = %d, want 1", len(handler.received))
	}
	if handler.received[0].address != address {
		t.Errorf("received.address = %#x, want %#x", handler.received[0].address, address)
	}
	if !bytes.Equal(handler.received[0].payload, payload) {
		t.Errorf("received.payload = %v, want %v", handler.received[0].payload, payload)
	}

	endAck := lk.lastSent()
	for seq := 0; seq < maxSeq; seq++ {
		set, err := protocol.AckBitSet(endAck.Payload, byte(seq))
		if err != nil || !set {
			t.Errorf("END-ack bit for seq %d not set", seq)
		}
	}
}

func TestReceiverCRCCorruptionDropsSilently(t *testing.T) {
	lk := &recordingLink{maxPayload: 32, address: 1}
	handler := &recordingHandler{}
	r := newReceiver(lk, 32, handler, zap.NewNop())

	payload := []byte("hello")
	subFrames, _ := protocol.BuildSubFrames(payload, 32)
	encoded := protocol.EncodeSubFrame(subFrames[0])
	encoded[len(encoded)-1] ^= 0xFF // corrupt the last CRC byte on the wire

	now := time.Unix(0, 0)
	address := uint32(77)
	r.handleFrame(link.Frame{Address: address, Payload: protocol.BuildBeginEndFrame(protocol.FrameTypeBegin, false, 32)}, now)

	fragmentSize := 32 - 2
	maxSeq := protocol.MaxSequenceIDs(len(encoded), 32)
	for seq := 0; seq < maxSeq; seq++ {
		start := seq * fragmentSize
		end := start + fragmentSize
		if end > len(encoded) {
			end = len(encoded)
		}
		fragment, _ := protocol.BuildPayloadFrame(byte(seq), encoded[start:end], 32)
		r.handleFrame(link.Frame{Address: address, Payload: fragment}, now)
	}
	r.handleFrame(link.Frame{Address: address, Payload: protocol.BuildBeginEndFrame(protocol.FrameTypeEnd, false, 32)}, now)

	if len(handler.received) != 0 {
		t.Fatalf("handler.received = %v, want none after CRC corruption", handler.received)
	}
	if r.state.active {
		t.Fatalf("receiver state still active after CRC-corrupt completion")
	}
}

func TestReceiverLastReceivedReAcksWithoutRedelivery(t *testing.T) {
	lk := &recordingLink{maxPayload: 32, address: 1}
	handler := &recordingHandler{}
	r := newReceiver(lk, 32, handler, zap.NewNop())

	payload := []byte("hi")
	subFrames, _ := protocol.BuildSubFrames(payload, 32)
	encoded := protocol.EncodeSubFrame(subFrames[0])
	fragmentSize := 32 - 2
	maxSeq := protocol.MaxSequenceIDs(len(encoded), 32)

	now := time.Unix(0, 0)
	address := uint32(55)
	r.handleFrame(link.Frame{Address: address, Payload: protocol.BuildBeginEndFrame(protocol.FrameTypeBegin, false, 32)}, now)
	for seq := 0; seq < maxSeq; seq++ {
		start := seq * fragmentSize
		end := start + fragmentSize
		if end > len(encoded) {
			end = len(encoded)
		}
		fragment, _ := protocol.BuildPayloadFrame(byte(seq), encoded[start:end], 32)
		r.handleFrame(link.Frame{Address: address, Payload: fragment}, now)
	}
	r.handleFrame(link.Frame{Address: address, Payload: protocol.BuildBeginEndFrame(protocol.FrameTypeEnd, false, 32)}, now)

	if len(handler.received) != 1 {
		t.Fatalf("expected one delivery, got %d", len(handler.received))
	}

	// sender's ack was lost; it retransmits END.
	r.handleFrame(link.Frame{Address: address, Payload: protocol.BuildBeginEndFrame(protocol.FrameTypeEnd, false, 32)}, now)

	if len(handler.received) != 1 {
		t.Fatalf("retransmitted END caused redelivery: %d deliveries", len(handler.received))
	}
	ack := lk.lastSent()
	for i := 2; i < len(ack.Payload); i++ {
		if ack.Payload[i] != 0xFF {
			t.Fatalf("re-ack bitmap byte %d = %#x, want 0xFF", i, ack.Payload[i])
		}
	}
}
