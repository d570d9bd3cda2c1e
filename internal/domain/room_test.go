package domain

import (
	"encoding/json"
	"testing"
)

func TestRoomIDSymmetric(t *testing.T) {
	tests := []struct {
		a, b string
	}{
		{"alice", "bob"},
		{"bob", "alice"},
		{"same", "same"},
		{"", "x"},
		{"018f6b1e-aaaa", "018f6b1e-aaab"},
	}

	for _, tt := range tests {
		if got, want := RoomID(tt.a, tt.b), RoomID(tt.b, tt.a); got != want {
			t.Errorf("RoomID(%q, %q) = %q, reversed = %q", tt.a, tt.b, got, want)
		}
	}

	if got := RoomID("bob", "alice"); got != "alice:bob" {
		t.Errorf("expected sorted join, got %q", got)
	}
}

func TestPeerOf(t *testing.T) {
	room := RoomID("alice", "bob")

	if peer, ok := PeerOf(room, "alice"); !ok || peer != "bob" {
		t.Errorf("PeerOf alice = %q, %v", peer, ok)
	}
	if peer, ok := PeerOf(room, "bob"); !ok || peer != "alice" {
		t.Errorf("PeerOf bob = %q, %v", peer, ok)
	}
	if _, ok := PeerOf(room, "carol"); ok {
		t.Error("carol must not be a participant")
	}
	if _, ok := PeerOf(room, ""); ok {
		t.Error("empty id must not be a participant")
	}
	if peer, ok := PeerOf(RoomID("x", "x"), "x"); !ok || peer != "x" {
		t.Errorf("self room peer = %q, %v", peer, ok)
	}
}

func TestValidParticipant(t *testing.T) {
	if !ValidParticipant("alice") {
		t.Error("plain id must be valid")
	}
	for _, id := range []string{"", "a:b", ":", "b:"} {
		if ValidParticipant(id) {
			t.Errorf("id %q must be rejected", id)
		}
	}
	// Ids with the separator are what make distinct pairs collide.
	if RoomID("a", "b:c") != RoomID("a:b", "c") {
		t.Fatal("expected colliding room keys for separator ids")
	}
	for _, user := range []string{"a", "c", "a:b", "b:c"} {
		if peer, ok := PeerOf("a:b:c", user); ok {
			t.Errorf("PeerOf(a:b:c, %q) = %q, want no participant", user, peer)
		}
	}
}

func TestStatusOrdering(t *testing.T) {
	if !(StatusSent < StatusDelivered && StatusDelivered < StatusRead) {
		t.Fatal("expected sent < delivered < read")
	}
	if StatusUnknown.Valid() {
		t.Fatal("unknown status must be invalid")
	}
}

func TestStatusJSON(t *testing.T) {
	data, err := json.Marshal(StatusUpdatePayload{MessageID: "m1", Status: StatusDelivered})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(data) != `{"messageId":"m1","status":"delivered"}` {
		t.Fatalf("unexpected payload %s", data)
	}

	var got StatusUpdatePayload
	if err := json.Unmarshal([]byte(`{"messageId":"m1","status":"read"}`), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Status != StatusRead {
		t.Fatalf("expected read, got %v", got.Status)
	}

	if _, err := ParseStatus("archived"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}
