package realtime

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
)

func newTestClient(role string) *Client {
	return &Client{
		ID:     uuid.New().String(),
		UserID: uuid.New(),
		Role:   role,
		rooms:  make(map[uuid.UUID]struct{}),
		send:   make(chan WSMessage, 16),
	}
}

func drain(c *Client) []WSMessage {
	var out []WSMessage
	for {
		select {
		case msg := <-c.send:
			out = append(out, msg)
		default:
			return out
		}
	}
}

func TestBroadcastExcludesSender(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	sessionID := uuid.New()

	a := newTestClient("employee")
	b := newTestClient("employee")
	hub.Join(a, sessionID)
	hub.Join(b, sessionID)

	hub.Broadcast(sessionID, EventParticipationUpdate, map[string]int{"response_count": 1}, a.ID)

	if got := drain(a); len(got) != 0 {
		t.Errorf("sender received %d messages, want 0", len(got))
	}
	got := drain(b)
	if len(got) != 1 {
		t.Fatalf("other member received %d messages, want exactly 1", len(got))
	}
	if got[0].Event != EventParticipationUpdate {
		t.Errorf("event = %s", got[0].Event)
	}
}

func TestBroadcastOnlyReachesRoomMembers(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	roomA := uuid.New()
	roomB := uuid.New()

	inA := newTestClient("employee")
	inB := newTestClient("employee")
	hub.Join(inA, roomA)
	hub.Join(inB, roomB)

	hub.Broadcast(roomA, EventMicroclimateUpdate, nil, "")

	if got := drain(inB); len(got) != 0 {
		t.Errorf("member of another room received %d messages", len(got))
	}
	if got := drain(inA); len(got) != 1 {
		t.Errorf("room member received %d messages, want 1", len(got))
	}
}

func TestJoinIsIdempotent(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	sessionID := uuid.New()
	c := newTestClient("employee")

	hub.Join(c, sessionID)
	hub.Join(c, sessionID)

	if got := hub.RoomCount(sessionID); got != 1 {
		t.Errorf("room count = %d, want 1", got)
	}

	hub.Broadcast(sessionID, EventMicroclimateUpdate, nil, "")
	if got := drain(c); len(got) != 1 {
		t.Errorf("received %d messages after double join, want 1", len(got))
	}
}

func TestLeaveStopsDelivery(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	sessionID := uuid.New()
	c := newTestClient("employee")

	hub.Join(c, sessionID)
	hub.Leave(c, sessionID)

	if hub.IsMember(c, sessionID) {
		t.Error("still a member after leave")
	}
	hub.Broadcast(sessionID, EventMicroclimateUpdate, nil, "")
	if got := drain(c); len(got) != 0 {
		t.Errorf("received %d messages after leave", len(got))
	}
}

func TestDisconnectRemovesAllMemberships(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	roomA := uuid.New()
	roomB := uuid.New()
	c := newTestClient("employee")
	other := newTestClient("employee")

	hub.Join(c, roomA)
	hub.Join(c, roomB)
	hub.Join(other, roomA)

	hub.Disconnect(c)

	if hub.IsMember(c, roomA) || hub.IsMember(c, roomB) {
		t.Error("memberships survive disconnect")
	}
	if got := hub.RoomCount(roomA); got != 1 {
		t.Errorf("roomA count = %d, want 1", got)
	}
	// Disconnection is silent: the remaining member hears nothing.
	if got := drain(other); len(got) != 0 {
		t.Errorf("remaining member received %d messages on disconnect", len(got))
	}
}

func TestCloseRoomEvictsWithSessionClosed(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	sessionID := uuid.New()
	a := newTestClient("employee")
	b := newTestClient("employee")
	hub.Join(a, sessionID)
	hub.Join(b, sessionID)

	hub.CloseRoom(sessionID, "completed")

	if hub.RoomCount(sessionID) != 0 {
		t.Error("room not empty after close")
	}
	for name, c := range map[string]*Client{"a": a, "b": b} {
		got := drain(c)
		if len(got) != 1 || got[0].Event != EventSessionClosed {
			t.Fatalf("client %s: messages = %v, want one session_closed", name, got)
		}
		var payload SessionClosedPayload
		if err := json.Unmarshal(got[0].Data, &payload); err != nil {
			t.Fatalf("client %s: payload: %v", name, err)
		}
		if payload.Reason != "completed" || payload.SessionID != sessionID {
			t.Errorf("client %s: payload = %+v", name, payload)
		}
		if hub.IsMember(c, sessionID) {
			t.Errorf("client %s still a member after close", name)
		}
	}
}

func TestBroadcastSkipsFullBuffers(t *testing.T) {
	hub := NewHub(nil, nil, nil)
	sessionID := uuid.New()

	stuck := newTestClient("employee")
	stuck.send = make(chan WSMessage) // unbuffered, nobody reading
	ok := newTestClient("employee")
	hub.Join(stuck, sessionID)
	hub.Join(ok, sessionID)

	// Must not block even though one member can never accept the message.
	hub.Broadcast(sessionID, EventMicroclimateUpdate, nil, "")

	if got := drain(ok); len(got) != 1 {
		t.Errorf("healthy member received %d messages, want 1", len(got))
	}
}

type fakePubSub struct {
	published  []string
	subscribed []uuid.UUID
	cancelled  int
}

func (f *fakePubSub) PublishRoomEvent(_ uuid.UUID, event string, _ []byte) error {
	f.published = append(f.published, event)
	return nil
}

func (f *fakePubSub) SubscribeRoom(sessionID uuid.UUID, _ func(event string, payload []byte)) (func(), error) {
	f.subscribed = append(f.subscribed, sessionID)
	return func() { f.cancelled++ }, nil
}

func TestRoomSubscriptionLifecycle(t *testing.T) {
	ps := &fakePubSub{}
	hub := NewHub(nil, ps, ps)
	sessionID := uuid.New()

	a := newTestClient("employee")
	b := newTestClient("employee")
	hub.Join(a, sessionID)
	hub.Join(b, sessionID)

	if len(ps.subscribed) != 1 {
		t.Errorf("subscribed %d times, want once per room", len(ps.subscribed))
	}

	hub.Leave(a, sessionID)
	if ps.cancelled != 0 {
		t.Error("subscription cancelled while the room still has members")
	}
	hub.Leave(b, sessionID)
	if ps.cancelled != 1 {
		t.Errorf("cancelled = %d, want 1 once the room empties", ps.cancelled)
	}
}

// reentrantPubSub reads hub state from inside SubscribeRoom. That read
// deadlocks if Join still holds the hub mutex around the subscribe call.
type reentrantPubSub struct {
	hub      *Hub
	sawCount int
}

func (r *reentrantPubSub) PublishRoomEvent(_ uuid.UUID, _ string, _ []byte) error { return nil }

func (r *reentrantPubSub) SubscribeRoom(sessionID uuid.UUID, _ func(event string, payload []byte)) (func(), error) {
	r.sawCount = r.hub.RoomCount(sessionID)
	return func() {}, nil
}

func TestJoinSubscribesOutsideHubLock(t *testing.T) {
	ps := &reentrantPubSub{}
	hub := NewHub(nil, ps, ps)
	ps.hub = hub
	sessionID := uuid.New()
	c := newTestClient("employee")

	done := make(chan struct{})
	go func() {
		hub.Join(c, sessionID)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Join blocked while establishing the room subscription")
	}
	if ps.sawCount != 1 {
		t.Errorf("room count during subscribe = %d, want membership visible first", ps.sawCount)
	}
}

func TestBroadcastAndPublishReachesRedis(t *testing.T) {
	ps := &fakePubSub{}
	hub := NewHub(nil, ps, ps)
	sessionID := uuid.New()
	c := newTestClient("employee")
	hub.Join(c, sessionID)

	hub.BroadcastAndPublish(sessionID, EventParticipationUpdate, map[string]int{"response_count": 2}, "")

	if got := drain(c); len(got) != 1 {
		t.Errorf("local member received %d messages, want 1", len(got))
	}
	if len(ps.published) != 1 || ps.published[0] != EventParticipationUpdate {
		t.Errorf("published = %v", ps.published)
	}
}
