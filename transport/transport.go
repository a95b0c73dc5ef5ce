// Package transport implements a reliable datagram transport over a
// fixed-size packet radio link.Link: fragmentation, the BEGIN/PAYLOAD/END
// handshake with selective-ack retransmission, reassembly with
// timeout-based teardown, and periodic beaconing.
package transport

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aarossig/nrfnet/link"
)

// EventHandler receives asynchronous notifications from a Transport. A
// handler is a caller-owned weak back-reference: its lifetime must be at
// least that of the Transport, and its methods may be called concurrently
// from the beacon, receive, or any Send goroutine, so implementations
// must be internally thread-safe.
type EventHandler interface {
	// OnBeaconFailed is invoked when a scheduled beacon transmission
	// fails. The beacon loop keeps running regardless.
	OnBeaconFailed(status link.TransmitResult)
	// OnBeaconReceived is invoked when an empty-payload frame arrives
	// from address, including beacons observed while a Send is waiting
	// for an ack.
	OnBeaconReceived(address uint32)
	// OnFrameReceived is invoked once per complete payload reassembled
	// from address.
	OnFrameReceived(address uint32, payload []byte)
}

// Config holds the tunable parameters of a Transport.
type Config struct {
	// BeaconIntervalUs is the average delay, in microseconds, between
	// beacon transmissions. Defaults to 100_000 (100ms).
	BeaconIntervalUs uint64
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{BeaconIntervalUs: 100_000}
}

// BeaconInterval returns the configured beacon interval as a
// time.Duration, falling back to the default when unset.
func (c Config) BeaconInterval() time.Duration {
	if c.BeaconIntervalUs == 0 {
		return time.Duration(DefaultConfig().BeaconIntervalUs) * time.Microsecond
	}
	return time.Duration(c.BeaconIntervalUs) * time.Microsecond
}

// Transport drives one link.Link: it owns the receiver's reassembly
// state, a beacon goroutine, and a receive goroutine, and serializes all
// link access (including from Send, called by arbitrary caller
// goroutines) behind a single mutex.
type Transport struct {
	link    link.Link
	clock   Clock
	handler EventHandler
	cfg     Config
	log     *zap.Logger

	mu sync.Mutex // serializes all link.Link access

	recv *receiver

	stopCh      chan struct{}
	wg          sync.WaitGroup
	started     bool
	closed      bool
	lifecycleMu sync.Mutex
}

// New constructs a Transport over lk. handler may be nil, in which case
// events are silently dropped. log may be nil, in which case a no-op
// logger is used. It panics if lk's advertised payload size is outside
// [3, 257], per the fail-fast-at-construction policy for link
// misconfiguration.
func New(lk link.Link, handler EventHandler, cfg Config, clock Clock, log *zap.Logger) *Transport {
	maxPayload := lk.MaxPayloadSize()
	if maxPayload < 3 || maxPayload > 257 {
		panic("transport: link max payload size out of range [3, 257]")
	}
	if log == nil {
		log = zap.NewNop()
	}
	if clock == nil {
		clock = SystemClock{}
	}

	t := &Transport{
		link:    lk,
		clock:   clock,
		handler: handler,
		cfg:     cfg,
		log:     log,
		stopCh:  make(chan struct{}),
	}
	t.recv = newReceiver(lk, int(maxPayload), handler, log)
	return t
}

// Start launches the beacon and receive goroutines. It is a no-op if
// already started.
func (t *Transport) Start() {
	t.lifecycleMu.Lock()
	defer t.lifecycleMu.Unlock()
	if t.started {
		return
	}
	t.started = true

	t.wg.Add(2)
	go t.runBeacon()
	go t.runReceive()
}

// Close stops the beacon and receive goroutines and waits for them to
// exit. It is safe to call multiple times.
func (t *Transport) Close() error {
	t.lifecycleMu.Lock()
	if t.closed {
		t.lifecycleMu.Unlock()
		return nil
	}
	t.closed = true
	t.lifecycleMu.Unlock()

	close(t.stopCh)
	t.wg.Wait()
	return nil
}

// runReceive is the receive thread: tight loop polling link.Receive and
// feeding whatever arrives to the reassembly state machine or to
// OnBeaconReceived.
func (t *Transport) runReceive() {
	defer t.wg.Done()

	for {
		select {
		case <-t.stopCh:
			return
		default:
		}

		t.mu.Lock()
		var frame link.Frame
		result := t.link.Receive(&frame)
		now := t.clock.Now()
		if result == link.ReceiveSuccess {
			if len(frame.Payload) == 0 {
				if t.handler != nil {
					t.handler.OnBeaconReceived(frame.Address)
				}
			} else if len(frame.Payload) != t.recv.maxPayload {
				t.log.Debug("transport: malformed frame length, dropping",
					zap.Uint32("from", frame.Address), zap.Int("len", len(frame.Payload)))
				t.recv.handleTimeout(now)
			} else {
				t.recv.handleFrame(frame, now)
			}
		} else {
			t.recv.handleTimeout(now)
		}
		t.mu.Unlock()

		switch result {
		case link.ReceiveNotReady:
			time.Sleep(time.Millisecond)
		case link.ReceiveError:
			t.log.Debug("transport: receive error")
		}
	}
}
