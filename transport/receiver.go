package transport

import (
	"time"

	"go.uber.org/zap"

	"github.com/aarossig/nrfnet/link"
	"github.com/aarossig/nrfnet/protocol"
)

// receiveState is the in-progress reassembly of one sub-frame from one
// peer. At most one exists at a time.
type receiveState struct {
	active   bool
	address  uint32
	pieces   map[byte][]byte
	payload  []byte
	lastSeen time.Time
}

// lastReceiveState remembers the peer a payload was most recently
// delivered to the event handler for, so a retransmitted END is
// re-acknowledged instead of triggering redelivery.
type lastReceiveState struct {
	active   bool
	address  uint32
	lastSeen time.Time
}

// receiver implements the per-peer reassembly state machine described by
// the BEGIN/PAYLOAD/END handshake. It transmits directly on lk, which the
// caller must already hold the link mutex for.
type receiver struct {
	lk         link.Link
	maxPayload int
	handler    EventHandler
	log        *zap.Logger

	state receiveState
	last  lastReceiveState
}

func newReceiver(lk link.Link, maxPayload int, handler EventHandler, log *zap.Logger) *receiver {
	return &receiver{lk: lk, maxPayload: maxPayload, handler: handler, log: log}
}

func (r *receiver) resetState() {
	r.state = receiveState{}
}

func (r *receiver) resetLast() {
	r.last = lastReceiveState{}
}

// handleTimeout discards reassembly or last-received state that has been
// idle for longer than protocol.ReceiverTimeout.
func (r *receiver) handleTimeout(now time.Time) {
	if r.state.active && now.Sub(r.state.lastSeen) > protocol.ReceiverTimeout {
		r.log.Debug("transport: receive state timed out", zap.Uint32("address", r.state.address))
		r.resetState()
	}
	if r.last.active && now.Sub(r.last.lastSeen) > protocol.ReceiverTimeout {
		r.resetLast()
	}
}

// handleFrame feeds one non-beacon incoming link frame to the reassembly
// state machine. The caller has already verified frame.Payload has length
// equal to maxPayload.
func (r *receiver) handleFrame(frame link.Frame, now time.Time) {
	r.handleTimeout(now)

	frameType, ack, err := protocol.ParseFrameType(frame.Payload)
	if err != nil {
		r.log.Debug("transport: malformed frame", zap.Error(err))
		return
	}
	if ack {
		// Ack-bearing frames are replies to an in-progress Send; the
		// receive state machine never consumes them.
		return
	}

	if r.state.active {
		if frame.Address != r.state.address {
			return
		}
		r.handleReceivingFrame(frameType, frame, now)
		return
	}

	if r.last.active && frame.Address == r.last.address && frameType == protocol.FrameTypeEnd {
		r.respondEndAckAllOnes(frame.Address)
		return
	}

	if frameType == protocol.FrameTypeBegin {
		r.beginReceiving(frame.Address, now)
		r.respondBeginAck(frame.Address)
	}
}

func (r *receiver) handleReceivingFrame(frameType protocol.FrameType, frame link.Frame, now time.Time) {
	switch frameType {
	case protocol.FrameTypeBegin:
		r.state.lastSeen = now
		r.respondBeginAck(frame.Address)
	case protocol.FrameTypePayload:
		seqID, err := protocol.SequenceID(frame.Payload)
		if err != nil {
			return
		}
		if _, exists := r.state.pieces[seqID]; !exists {
			fragment, err := protocol.Fragment(frame.Payload)
			if err != nil {
				return
			}
			piece := make([]byte, len(fragment))
			copy(piece, fragment)
			r.state.pieces[seqID] = piece
		}
		r.state.lastSeen = now
	case protocol.FrameTypeEnd:
		r.state.lastSeen = now
		r.respondEndAck(frame.Address)
		r.tryComplete(now)
	}
}

func (r *receiver) beginReceiving(address uint32, now time.Time) {
	r.state = receiveState{
		active:   true,
		address:  address,
		pieces:   make(map[byte][]byte),
		lastSeen: now,
	}
}

// buildAckBitmap fills the bitmap region of an ack payload from the
// currently held pieces.
func (r *receiver) buildAckBitmap(payload []byte) {
	for seqID := range r.state.pieces {
		_ = protocol.SetAckBit(payload, seqID)
	}
}

func (r *receiver) respondBeginAck(address uint32) {
	payload := protocol.BuildBeginEndFrame(protocol.FrameTypeBegin, true, r.maxPayload)
	r.buildAckBitmap(payload)
	r.transmit(address, payload)
}

func (r *receiver) respondEndAck(address uint32) {
	payload := protocol.BuildBeginEndFrame(protocol.FrameTypeEnd, true, r.maxPayload)
	r.buildAckBitmap(payload)
	r.transmit(address, payload)
}

func (r *receiver) respondEndAckAllOnes(address uint32) {
	payload := protocol.BuildBeginEndFrame(protocol.FrameTypeEnd, true, r.maxPayload)
	protocol.SetAllAckBits(payload)
	r.transmit(address, payload)
}

func (r *receiver) transmit(address uint32, payload []byte) {
	if result := r.lk.Transmit(link.Frame{Address: address, Payload: payload}); result != link.TransmitSuccess {
		r.log.Debug("transport: ack transmit failed", zap.Uint32("address", address), zap.Stringer("result", result))
	}
}

// tryComplete attempts to close out the sub-frame currently being
// assembled after an END was acknowledged. It aborts quietly (waiting for
// more PAYLOAD or another END) until a contiguous run of pieces from
// sequence id 0 covers the full sub-frame announced by the header.
func (r *receiver) tryComplete(now time.Time) {
	fragmentSize := r.maxPayload - 2

	var chunk []byte
	contiguous := 0
	for seq := 0; seq <= protocol.MaxSequenceID; seq++ {
		piece, ok := r.state.pieces[byte(seq)]
		if !ok {
			break
		}
		chunk = append(chunk, piece...)
		contiguous++
	}

	if len(chunk) < protocol.PayloadHeaderSize {
		// Header not assembled yet; wait for more PAYLOAD or another END.
		return
	}

	subLen, subOffset, totalLen, err := protocol.ParseSubFrameHeader(chunk)
	if err != nil {
		r.resetState()
		return
	}
	needed := (protocol.PayloadHeaderSize + int(subLen) + fragmentSize - 1) / fragmentSize
	if contiguous < needed {
		// A fragment past the contiguous run is still missing.
		return
	}
	body := chunk[protocol.PayloadHeaderSize:]
	if uint32(len(body)) < subLen || subOffset != uint32(len(r.state.payload)) {
		r.log.Debug("transport: sub-frame offset mismatch, dropping", zap.Uint32("address", r.state.address))
		r.resetState()
		return
	}

	r.state.payload = append(r.state.payload, body[:subLen]...)
	r.state.pieces = make(map[byte][]byte)

	if uint32(len(r.state.payload)) < totalLen {
		return
	}

	address := r.state.address
	payload := r.state.payload
	if len(payload) < 2 {
		r.resetState()
		return
	}

	userPayload := payload[:len(payload)-2]
	wantCRC := protocol.DecodeU16(payload[len(payload)-2:])
	if protocol.CRC16(userPayload) != wantCRC {
		r.log.Debug("transport: air-frame CRC mismatch, dropping", zap.Uint32("address", address))
		r.resetState()
		return
	}

	r.resetState()
	r.last = lastReceiveState{active: true, address: address, lastSeen: now}
	if r.handler != nil {
		r.handler.OnFrameReceived(address, userPayload)
	}
}
