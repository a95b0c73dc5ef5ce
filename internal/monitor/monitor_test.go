package monitor

import (
	"encoding/json"
	"testing"
	"time"
)

func TestSubscribePublishDelivers(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe()
	defer unsub()

	bus.Publish(Event{Type: EventBeaconSeen, Address: 0xCAFE})

	select {
	case evt := <-ch:
		if evt.Type != EventBeaconSeen || evt.Address != 0xCAFE {
			t.Fatalf("evt = %+v, want EventBeaconSeen/0xCAFE", evt)
		}
		if evt.Timestamp == nil {
			t.Fatalf("Timestamp not stamped by Publish")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	ch, unsub := bus.Subscribe()
	if bus.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", bus.Len())
	}
	unsub()
	if bus.Len() != 0 {
		t.Fatalf("Len() = %d after unsub, want 0", bus.Len())
	}
	if _, ok := <-ch; ok {
		t.Fatalf("channel not closed after unsub")
	}
}

func TestPublishSkipsSlowSubscriber(t *testing.T) {
	bus := NewBus()
	_, unsub := bus.Subscribe()
	defer unsub()

	for i := 0; i < 100; i++ {
		bus.Publish(Event{Type: EventFrameReceived, Address: uint32(i)})
	}
	// No deadlock and no panic means slow-consumer drop worked; nothing
	// else to assert without draining, which would race the buffer size.
}

func TestEventMarshalJSONUsesRFC3339(t *testing.T) {
	evt := Event{Type: EventFrameReceived, Address: 42, Length: 16}
	data, err := json.Marshal(evt)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if _, err := time.Parse(time.RFC3339Nano, decoded["timestamp"].(string)); err != nil {
		t.Fatalf("timestamp %q not RFC3339Nano: %v", decoded["timestamp"], err)
	}
	if decoded["type"] != string(EventFrameReceived) {
		t.Errorf("type = %v, want %v", decoded["type"], EventFrameReceived)
	}
}
