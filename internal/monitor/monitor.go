// Package monitor fans out transport events to live WebSocket subscribers,
// purely for operational visibility; nothing in the transport depends on
// it being connected.
package monitor

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// EventType names the kind of transport activity an Event describes.
type EventType string

const (
	EventFrameReceived EventType = "frame_received"
	EventBeaconSeen    EventType = "beacon_seen"
	EventBeaconFailed  EventType = "beacon_failed"
)

// Event is one observed transport occurrence, timestamped at publish time.
type Event struct {
	Type      EventType              `json:"type"`
	Address   uint32                 `json:"address"`
	Length    int                    `json:"length,omitempty"`
	Timestamp *timestamppb.Timestamp `json:"-"`
}

// eventJSON mirrors Event but renders Timestamp as RFC3339Nano text
// instead of protobuf's {seconds, nanos} wire shape.
type eventJSON struct {
	Type      EventType `json:"type"`
	Address   uint32    `json:"address"`
	Length    int       `json:"length,omitempty"`
	Timestamp string    `json:"timestamp"`
}

// MarshalJSON renders the event with a human-readable timestamp.
func (e Event) MarshalJSON() ([]byte, error) {
	ts := e.Timestamp
	if ts == nil {
		ts = timestamppb.Now()
	}
	return json.Marshal(eventJSON{
		Type:      e.Type,
		Address:   e.Address,
		Length:    e.Length,
		Timestamp: ts.AsTime().Format(time.RFC3339Nano),
	})
}

type subscriber struct {
	ch chan Event
}

// Bus fans published Events out to any number of subscribers. Slow
// subscribers are skipped rather than allowed to stall the publisher.
type Bus struct {
	mu   sync.RWMutex
	subs map[*subscriber]struct{}
}

// NewBus constructs an empty event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*subscriber]struct{})}
}

// Subscribe registers a new listener and returns its event channel and an
// unsubscribe function. The caller must invoke unsub exactly once.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	s := &subscriber{ch: make(chan Event, 64)}
	b.mu.Lock()
	b.subs[s] = struct{}{}
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		delete(b.subs, s)
		b.mu.Unlock()
		close(s.ch)
	}
	return s.ch, unsub
}

// Publish delivers e to every current subscriber, stamping its timestamp
// if unset. Subscribers whose buffer is full are skipped silently.
func (b *Bus) Publish(e Event) {
	if e.Timestamp == nil {
		e.Timestamp = timestamppb.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for s := range b.subs {
		select {
		case s.ch <- e:
		default:
		}
	}
}

// Len returns the current subscriber count.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

const pingInterval = 20 * time.Second

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// Handler serves a WebSocket endpoint streaming every Bus publication to
// connected clients.
type Handler struct {
	bus *Bus
	log *zap.Logger
}

// NewHandler builds an http.Handler streaming bus's events as JSON frames
// over WebSocket. log may be nil.
func NewHandler(bus *Bus, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{bus: bus, log: log}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("monitor: ws upgrade", zap.Error(err))
		return
	}
	defer conn.Close()

	ch, unsub := h.bus.Subscribe()
	defer unsub()

	ping := time.NewTicker(pingInterval)
	defer ping.Stop()

	for {
		select {
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := conn.WriteJSON(evt); err != nil {
				h.log.Debug("monitor: write event", zap.Error(err))
				return
			}
		case <-ping.C:
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
