// Package mocklink provides an in-memory link.Link for tests and the
// reference daemon, standing in for real NRF24L01 hardware.
package mocklink

import (
	"math/rand"
	"sync"

	"github.com/aarossig/nrfnet/link"
)

// Option configures a Link at construction time.
type Option func(*Link)

// WithLossRate drops each transmitted or beaconed frame with probability
// rate, independently per destination, to exercise retransmission.
func WithLossRate(rate float64) Option {
	return func(l *Link) {
		l.lossRate = rate
	}
}

// Link is an in-memory link.Link. Frames addressed to a peer are queued
// directly on that peer's inbox; there is no physical layer to fail
// except the optional simulated loss.
type Link struct {
	mu         sync.Mutex
	address    uint32
	maxPayload uint32
	inbox      []link.Frame
	peers      map[uint32]*Link
	lossRate   float64
	rng        *rand.Rand
}

// New creates a Link with the given station address and maximum payload
// size, initially connected to no peers.
func New(address uint32, maxPayload uint32, opts ...Option) *Link {
	l := &Link{
		address:    address,
		maxPayload: maxPayload,
		peers:      make(map[uint32]*Link),
		rng:        rand.New(rand.NewSource(int64(address) + 1)),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// ConnectLinks wires every link in links to every other one, so each may
// Transmit or Beacon to any of the others.
func ConnectLinks(links ...*Link) {
	for _, a := range links {
		for _, b := range links {
			if a == b {
				continue
			}
			a.mu.Lock()
			a.peers[b.Address()] = b
			a.mu.Unlock()
		}
	}
}

func (l *Link) drop() bool {
	if l.lossRate <= 0 {
		return false
	}
	return l.rng.Float64() < l.lossRate
}

func (l *Link) deliver(frame link.Frame) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inbox = append(l.inbox, frame)
}

// Beacon delivers an empty-payload frame, addressed from this station, to
// every connected peer.
func (l *Link) Beacon() link.TransmitResult {
	l.mu.Lock()
	peers := make([]*Link, 0, len(l.peers))
	for _, p := range l.peers {
		peers = append(peers, p)
	}
	own := l.address
	l.mu.Unlock()

	for _, p := range peers {
		if l.drop() {
			continue
		}
		p.deliver(link.Frame{Address: own, Payload: nil})
	}
	return link.TransmitSuccess
}

// Transmit delivers frame to the peer identified by frame.Address, if
// connected. The peer observes the sender's address, not its own.
func (l *Link) Transmit(frame link.Frame) link.TransmitResult {
	if uint32(len(frame.Payload)) > l.maxPayload {
		return link.TransmitTooLarge
	}

	l.mu.Lock()
	peer, ok := l.peers[frame.Address]
	own := l.address
	l.mu.Unlock()

	if !ok {
		return link.TransmitError
	}
	if l.drop() {
		return link.TransmitSuccess
	}

	payload := make([]byte, len(frame.Payload))
	copy(payload, frame.Payload)
	peer.deliver(link.Frame{Address: own, Payload: payload})
	return link.TransmitSuccess
}

// Receive pops the oldest queued frame, if any, without blocking.
func (l *Link) Receive(frame *link.Frame) link.ReceiveResult {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.inbox) == 0 {
		return link.ReceiveNotReady
	}
	*frame = l.inbox[0]
	l.inbox = l.inbox[1:]
	return link.ReceiveSuccess
}

// MaxPayloadSize returns the configured link payload size.
func (l *Link) MaxPayloadSize() uint32 {
	return l.maxPayload
}

// Address returns this station's own link address.
func (l *Link) Address() uint32 {
	return l.address
}
