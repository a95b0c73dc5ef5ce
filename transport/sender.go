package transport

import (
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aarossig/nrfnet/link"
	"github.com/aarossig/nrfnet/protocol"
)

// SendResult reports the outcome of Transport.Send.
type SendResult int

const (
	SendSuccess SendResult = iota
	SendTimeout
	SendTooLarge
	SendTransmitError
	SendReceiveError
	SendInvalidFrame
)

func (r SendResult) String() string {
	switch r {
	case SendSuccess:
		return "SUCCESS"
	case SendTimeout:
		return "TIMEOUT"
	case SendTooLarge:
		return "TOO_LARGE"
	case SendTransmitError:
		return "TRANSMIT_ERROR"
	case SendReceiveError:
		return "RECEIVE_ERROR"
	case SendInvalidFrame:
		return "INVALID_FRAME"
	default:
		return "UNKNOWN"
	}
}

// pollInterval bounds how long the sender sleeps between unsuccessful
// receive polls while waiting for an ack.
const pollInterval = time.Millisecond

// Send reliably delivers payload to address, blocking the calling
// goroutine and holding the link for up to timeout. It fragments payload
// into sub-frames, running a BEGIN/PAYLOAD/END handshake with selective
// retransmission for each.
func (t *Transport) Send(address uint32, payload []byte, timeout time.Duration) SendResult {
	if !protocol.ValidStationAddress(address) {
		return SendInvalidFrame
	}

	sendID := uuid.New()
	log := t.log.With(zap.String("send_id", sendID.String()), zap.Uint32("address", address))

	t.mu.Lock()
	defer t.mu.Unlock()

	maxPayload := int(t.link.MaxPayloadSize())
	if maxPayload < protocol.MinPayloadSize || maxPayload > protocol.MaxPayloadSize {
		return SendTooLarge
	}

	subFrames, err := protocol.BuildSubFrames(payload, maxPayload)
	if err != nil {
		log.Debug("transport: send rejected", zap.Error(err))
		return SendTooLarge
	}

	deadline := t.clock.Now().Add(timeout)
	log.Debug("transport: send started", zap.Int("sub_frames", len(subFrames)), zap.Int("payload_len", len(payload)))

	for _, sf := range subFrames {
		if result := t.sendSubFrame(address, sf, maxPayload, deadline, log); result != SendSuccess {
			return result
		}
	}

	log.Debug("transport: send completed")
	return SendSuccess
}

func (t *Transport) sendSubFrame(address uint32, sf protocol.SubFrame, maxPayload int, deadline time.Time, log *zap.Logger) SendResult {
	if result := t.sendReceiveAck(address, protocol.FrameTypeBegin, maxPayload, deadline, log); result != SendSuccess {
		return result
	}

	encoded := protocol.EncodeSubFrame(sf)
	fragmentSize := maxPayload - 2
	maxSeq := protocol.MaxSequenceIDs(len(encoded), maxPayload)
	acknowledged := make(map[byte]bool, maxSeq)

	for len(acknowledged) < maxSeq {
		for seq := 0; seq < maxSeq; seq++ {
			if acknowledged[byte(seq)] {
				continue
			}
			start := seq * fragmentSize
			end := start + fragmentSize
			if end > len(encoded) {
				end = len(encoded)
			}
			fragment, err := protocol.BuildPayloadFrame(byte(seq), encoded[start:end], maxPayload)
			if err != nil {
				log.Debug("transport: build payload frame failed", zap.Error(err))
				continue
			}
			if result := t.link.Transmit(link.Frame{Address: address, Payload: fragment}); result != link.TransmitSuccess {
				log.Debug("transport: payload transmit failed, will retry", zap.Int("seq", seq), zap.Stringer("result", result))
			}
		}

		ack, result := t.sendReceiveEndAck(address, maxPayload, deadline, log)
		if result != SendSuccess {
			return result
		}
		for seq := 0; seq < maxSeq; seq++ {
			set, err := protocol.AckBitSet(ack, byte(seq))
			if err == nil && set {
				acknowledged[byte(seq)] = true
			}
		}
	}

	return SendSuccess
}

// sendReceiveAck runs the BEGIN handshake: transmit, then poll until an
// ack of the same frame type arrives from address.
func (t *Transport) sendReceiveAck(address uint32, frameType protocol.FrameType, maxPayload int, deadline time.Time, log *zap.Logger) SendResult {
	_, result := t.sendReceive(address, frameType, protocol.BuildBeginEndFrame(frameType, false, maxPayload), maxPayload, deadline, log)
	return result
}

// sendReceiveEndAck runs the END handshake and returns the raw ack
// payload so the caller can read back the selective-ack bitmap.
func (t *Transport) sendReceiveEndAck(address uint32, maxPayload int, deadline time.Time, log *zap.Logger) ([]byte, SendResult) {
	return t.sendReceive(address, protocol.FrameTypeEnd, protocol.BuildBeginEndFrame(protocol.FrameTypeEnd, false, maxPayload), maxPayload, deadline, log)
}

// sendReceive transmits frame to address and polls for a matching ack,
// retransmitting every protocol.ReceiveTimeout until one arrives or
// deadline passes. A transmit failure of the BEGIN/END frame itself or a
// link receive error is unrecoverable and surfaces immediately; only
// NOT_READY polls are retried. Frames from other addresses are logged and
// ignored; beacons still fire OnBeaconReceived; a non-ack BEGIN/END from
// address itself (a peer's concurrent attempt) is ignored.
func (t *Transport) sendReceive(address uint32, wantType protocol.FrameType, frame []byte, maxPayload int, deadline time.Time, log *zap.Logger) ([]byte, SendResult) {
	for {
		now := t.clock.Now()
		if !now.Before(deadline) {
			return nil, SendTimeout
		}

		if result := t.link.Transmit(link.Frame{Address: address, Payload: frame}); result != link.TransmitSuccess {
			log.Error("transport: ack-request transmit failed", zap.Stringer("result", result))
			return nil, SendTransmitError
		}

		iterationDeadline := now.Add(protocol.ReceiveTimeout)
		if iterationDeadline.After(deadline) {
			iterationDeadline = deadline
		}

		for t.clock.Now().Before(iterationDeadline) {
			var incoming link.Frame
			result := t.link.Receive(&incoming)
			switch result {
			case link.ReceiveNotReady:
				time.Sleep(pollInterval)
				continue
			case link.ReceiveError:
				log.Error("transport: receive error while waiting for ack")
				return nil, SendReceiveError
			}

			if uint32(len(incoming.Payload)) != uint32(maxPayload) {
				if len(incoming.Payload) == 0 {
					if t.handler != nil {
						t.handler.OnBeaconReceived(incoming.Address)
					}
					continue
				}
				log.Debug("transport: malformed frame length, ignoring", zap.Uint32("from", incoming.Address))
				continue
			}

			gotType, ack, err := protocol.ParseFrameType(incoming.Payload)
			if err != nil {
				continue
			}
			if incoming.Address != address {
				log.Debug("transport: frame from unexpected address, ignoring", zap.Uint32("from", incoming.Address))
				continue
			}
			if gotType == wantType && ack {
				return incoming.Payload, SendSuccess
			}
			// Non-ack BEGIN/END from address is a peer's concurrent
			// attempt; ignore and keep waiting.
		}
	}
}
