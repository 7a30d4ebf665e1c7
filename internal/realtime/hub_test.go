package realtime

import (
	"encoding/json"
	"testing"
)

type fakeSubscriber struct {
	received []Message
}

func (f *fakeSubscriber) Send(msg Message) error {
	f.received = append(f.received, msg)
	return nil
}

func TestRelayExcludesSender(t *testing.T) {
	hub := NewHub()
	sender := &fakeSubscriber{}
	peer := &fakeSubscriber{}
	outsider := &fakeSubscriber{}

	hub.join("report.txt", sender)
	hub.join("report.txt", peer)
	hub.join("other.txt", outsider)

	msg := Message{Action: ActionSend, Room: "report.txt", Data: json.RawMessage(`{"content":"abc"}`)}
	hub.relay(msg, sender)

	if len(sender.received) != 0 {
		t.Errorf("sender should not receive its own message, got %d", len(sender.received))
	}
	if len(peer.received) != 1 {
		t.Fatalf("peer should receive 1 message, got %d", len(peer.received))
	}
	if string(peer.received[0].Data) != `{"content":"abc"}` {
		t.Errorf("payload altered in transit: %s", peer.received[0].Data)
	}
	if len(outsider.received) != 0 {
		t.Errorf("other room should not receive the message, got %d", len(outsider.received))
	}
}

func TestLeaveStopsDelivery(t *testing.T) {
	hub := NewHub()
	a := &fakeSubscriber{}
	b := &fakeSubscriber{}

	hub.join("doc", a)
	hub.join("doc", b)
	hub.leave("doc", b)

	hub.relay(Message{Action: ActionSend, Room: "doc"}, a)
	if len(b.received) != 0 {
		t.Errorf("left member should not receive messages, got %d", len(b.received))
	}
}

func TestBroadcastReachesAllMembers(t *testing.T) {
	hub := NewHub()
	a := &fakeSubscriber{}
	b := &fakeSubscriber{}

	hub.join("doc", a)
	hub.join("doc", b)

	hub.Broadcast("doc", map[string]string{"title": "New title"})

	for i, sub := range []*fakeSubscriber{a, b} {
		if len(sub.received) != 1 {
			t.Fatalf("member %d should receive broadcast, got %d messages", i, len(sub.received))
		}
		var payload map[string]string
		if err := json.Unmarshal(sub.received[0].Data, &payload); err != nil {
			t.Fatalf("broadcast payload: %v", err)
		}
		if payload["title"] != "New title" {
			t.Errorf("unexpected payload: %v", payload)
		}
	}
}

func TestDropRemovesFromAllRooms(t *testing.T) {
	hub := NewHub()
	a := &fakeSubscriber{}
	b := &fakeSubscriber{}

	hub.join("one", a)
	hub.join("two", a)
	hub.join("one", b)

	hub.drop(a)

	if hub.RoomSize("one") != 1 {
		t.Errorf("room one should have 1 member, got %d", hub.RoomSize("one"))
	}
	if hub.RoomSize("two") != 0 {
		t.Errorf("room two should be empty, got %d", hub.RoomSize("two"))
	}
}

func TestEmptyRoomsAreForgotten(t *testing.T) {
	hub := NewHub()
	a := &fakeSubscriber{}

	hub.join("doc", a)
	hub.leave("doc", a)

	hub.mu.RLock()
	_, exists := hub.rooms["doc"]
	hub.mu.RUnlock()
	if exists {
		t.Error("empty room should be deleted from the hub")
	}
}
