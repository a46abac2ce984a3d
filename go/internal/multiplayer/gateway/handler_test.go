package gateway

import (
	"sync"
	"testing"

	"github.com/mcdev12/racesync/go/internal/geom"
	"github.com/mcdev12/racesync/go/internal/multiplayer/protocol"
	"github.com/mcdev12/racesync/go/internal/multiplayer/registry"
	"github.com/mcdev12/racesync/go/internal/multiplayer/roomevents"
)

type fakeSender struct {
	mu     sync.Mutex
	frames map[string][]protocol.Envelope
	fail   map[string]bool
}

func newFakeSender() *fakeSender {
	return &fakeSender{
		frames: make(map[string][]protocol.Envelope),
		fail:   make(map[string]bool),
	}
}

func (s *fakeSender) SendTo(id string, frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[id] {
		return ErrSendBufferFull
	}
	env, err := protocol.Decode(frame)
	if err != nil {
		return err
	}
	s.frames[id] = append(s.frames[id], env)
	return nil
}

// take returns and clears the frames delivered to id
func (s *fakeSender) take(id string) []protocol.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.frames[id]
	delete(s.frames, id)
	return out
}

type recordingSink struct {
	mu     sync.Mutex
	events []roomevents.RoomEvent
}

func (r *recordingSink) Enqueue(e roomevents.RoomEvent) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return true
}

func (r *recordingSink) types() []roomevents.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]roomevents.EventType, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	reg     *registry.Registry
	sender  *fakeSender
	sink    *recordingSink
	metrics *CounterMetrics
}

func newHarness() *harness {
	return &harness{
		reg:     registry.New(),
		sender:  newFakeSender(),
		sink:    &recordingSink{},
		metrics: NewCounterMetrics(),
	}
}

func (h *harness) handler(id string) *ConnectionHandler {
	return NewConnectionHandler(id, h.reg, h.sender, h.sink, h.metrics)
}

func mustEncode(t *testing.T, typ protocol.MessageType, payload any) []byte {
	t.Helper()
	frame, err := protocol.Encode(typ, payload)
	if err != nil {
		t.Fatalf("encode %s: %v", typ, err)
	}
	return frame
}

func joinFrame(t *testing.T, code, name string) []byte {
	return mustEncode(t, protocol.TypeJoinRoom, protocol.JoinRoomRequest{
		Code:             code,
		DisplayName:      name,
		AppearanceConfig: protocol.AppearanceConfig{"body": "red"},
	})
}

func moveFrame(t *testing.T, code string, pos geom.Vec3, q geom.Quat) []byte {
	return mustEncode(t, protocol.TypeMove, protocol.MoveRequest{Code: code, Position: pos, Orientation: q})
}

func payload[T any](t *testing.T, env protocol.Envelope) T {
	t.Helper()
	v, err := protocol.DecodePayload[T](env)
	if err != nil {
		t.Fatalf("decode %s payload: %v", env.Type, err)
	}
	return v
}

func expectTypes(t *testing.T, got []protocol.Envelope, want ...protocol.MessageType) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d frames %v, got %d", len(want), want, len(got))
	}
	for i := range want {
		if got[i].Type != want[i] {
			t.Fatalf("frame %d: expected %s, got %s", i, want[i], got[i].Type)
		}
	}
}

func TestJoinCreatesRoomAndAcks(t *testing.T) {
	h := newHarness()
	a := h.handler("a")

	a.HandleFrame(joinFrame(t, "1234", "Alice"))

	frames := h.sender.take("a")
	expectTypes(t, frames, protocol.TypeRoomAck, protocol.TypeRoomSnapshot)

	ack := payload[protocol.RoomAck](t, frames[0])
	if !ack.Success || ack.RoomCode != "1234" || ack.DisplayName != "Alice" || ack.ConnectionID != "a" {
		t.Fatalf("unexpected ack %+v", ack)
	}
	if ack.Message != `Room "1234" created! Share this code to race.` {
		t.Fatalf("unexpected ack message %q", ack.Message)
	}

	if snap := payload[protocol.RoomSnapshot](t, frames[1]); len(snap) != 0 {
		t.Fatalf("first joiner should get an empty snapshot, got %+v", snap)
	}

	if state, code := a.State(); state != StateJoined || code != "1234" {
		t.Fatalf("expected joined 1234, got %s %q", state, code)
	}
	if got := h.sink.types(); len(got) != 2 || got[0] != roomevents.EventTypeRoomCreated || got[1] != roomevents.EventTypeParticipantJoined {
		t.Fatalf("unexpected events %v", got)
	}
}

func TestSecondJoinerSeesRoomAndPeersAreNotified(t *testing.T) {
	h := newHarness()
	a, b := h.handler("a"), h.handler("b")

	a.HandleFrame(joinFrame(t, "1234", "Alice"))
	h.sender.take("a")

	b.HandleFrame(joinFrame(t, "1234", "Bob"))

	bFrames := h.sender.take("b")
	expectTypes(t, bFrames, protocol.TypeRoomAck, protocol.TypeRoomSnapshot)
	ack := payload[protocol.RoomAck](t, bFrames[0])
	if ack.Message != `Successfully joined room "1234"!` {
		t.Fatalf("unexpected ack message %q", ack.Message)
	}
	snap := payload[protocol.RoomSnapshot](t, bFrames[1])
	if len(snap) != 1 || snap["a"].DisplayName != "Alice" {
		t.Fatalf("expected only Alice in snapshot, got %+v", snap)
	}
	if _, ok := snap["b"]; ok {
		t.Fatalf("snapshot should not contain the joiner")
	}
	if room, _ := h.reg.Room("1234"); len(room.Participants) != 2 {
		t.Fatalf("registry should hold both racers, got %d", len(room.Participants))
	}

	aFrames := h.sender.take("a")
	expectTypes(t, aFrames, protocol.TypeParticipantJoined)
	joined := payload[protocol.Participant](t, aFrames[0])
	if joined.ConnectionID != "b" || joined.DisplayName != "Bob" {
		t.Fatalf("unexpected joined payload %+v", joined)
	}
	if joined.Position != (geom.Vec3{0, 0, 0}) || joined.Orientation != geom.Identity {
		t.Fatalf("expected spawn pose, got %+v", joined)
	}
}

func TestInvalidJoinIsRejected(t *testing.T) {
	h := newHarness()
	a := h.handler("a")

	a.HandleFrame(mustEncode(t, protocol.TypeJoinRoom, protocol.JoinRoomRequest{Code: "1234", DisplayName: "Alice"}))

	frames := h.sender.take("a")
	expectTypes(t, frames, protocol.TypeError)
	if msg := payload[string](t, frames[0]); msg != "Room code, display name, and vehicle config are required." {
		t.Fatalf("unexpected error %q", msg)
	}
	if state, _ := a.State(); state != StateUnjoined {
		t.Fatalf("expected unjoined, got %s", state)
	}
	if _, ok := h.reg.Room("1234"); ok {
		t.Fatalf("room should not exist after rejected join")
	}
	if h.metrics.Snapshot()["rejected_joins"] != 1 {
		t.Fatalf("expected rejected join to be counted")
	}
}

func TestSecondJoinIsRejected(t *testing.T) {
	h := newHarness()
	a := h.handler("a")

	a.HandleFrame(joinFrame(t, "1234", "Alice"))
	h.sender.take("a")

	a.HandleFrame(joinFrame(t, "9999", "Alice"))

	frames := h.sender.take("a")
	expectTypes(t, frames, protocol.TypeError)
	if msg := payload[string](t, frames[0]); msg != `Already in room "1234". Disconnect before joining another room.` {
		t.Fatalf("unexpected error %q", msg)
	}
	if _, ok := h.reg.Room("9999"); ok {
		t.Fatalf("second room should not have been created")
	}
	if code, _ := h.reg.RoomOf("a"); code != "1234" {
		t.Fatalf("expected membership to stay in 1234, got %q", code)
	}
}

func TestMoveReplicatesToPeersOnly(t *testing.T) {
	h := newHarness()
	a, b, c := h.handler("a"), h.handler("b"), h.handler("c")
	a.HandleFrame(joinFrame(t, "1234", "Alice"))
	b.HandleFrame(joinFrame(t, "1234", "Bob"))
	c.HandleFrame(joinFrame(t, "other", "Carol"))
	h.sender.take("a")
	h.sender.take("b")
	h.sender.take("c")

	a.HandleFrame(moveFrame(t, "1234", geom.Vec3{1, 0, 2}, geom.Identity))

	if got := h.sender.take("a"); len(got) != 0 {
		t.Fatalf("mover must not receive its own move, got %v", got)
	}
	if got := h.sender.take("c"); len(got) != 0 {
		t.Fatalf("other rooms must not receive the move, got %v", got)
	}
	frames := h.sender.take("b")
	expectTypes(t, frames, protocol.TypeParticipantMoved)
	moved := payload[protocol.ParticipantMoved](t, frames[0])
	if moved.ConnectionID != "a" || moved.Position != (geom.Vec3{1, 0, 2}) || moved.DisplayName != "Alice" {
		t.Fatalf("unexpected move payload %+v", moved)
	}

	snap, _ := h.reg.Room("1234")
	if snap.Participants["a"].Position != (geom.Vec3{1, 0, 2}) {
		t.Fatalf("registry not updated: %+v", snap.Participants["a"])
	}
}

func TestMoveIsNormalized(t *testing.T) {
	h := newHarness()
	a, b := h.handler("a"), h.handler("b")
	a.HandleFrame(joinFrame(t, "1234", "Alice"))
	b.HandleFrame(joinFrame(t, "1234", "Bob"))
	h.sender.take("b")

	a.HandleFrame(moveFrame(t, "1234", geom.Vec3{0, 0, 0}, geom.Quat{0, 0, 0, 2}))

	frames := h.sender.take("b")
	expectTypes(t, frames, protocol.TypeParticipantMoved)
	if moved := payload[protocol.ParticipantMoved](t, frames[0]); moved.Orientation != geom.Identity {
		t.Fatalf("expected normalized orientation, got %v", moved.Orientation)
	}
}

func TestInvalidMovesAreDropped(t *testing.T) {
	h := newHarness()
	a, b := h.handler("a"), h.handler("b")

	// Before join.
	a.HandleFrame(moveFrame(t, "1234", geom.Vec3{1, 1, 1}, geom.Identity))
	if got := h.sender.take("a"); len(got) != 0 {
		t.Fatalf("unjoined move should be ignored, got %v", got)
	}

	a.HandleFrame(joinFrame(t, "1234", "Alice"))
	b.HandleFrame(joinFrame(t, "1234", "Bob"))
	h.sender.take("a")
	h.sender.take("b")

	a.HandleFrame(moveFrame(t, "5678", geom.Vec3{1, 1, 1}, geom.Identity))
	a.HandleFrame(moveFrame(t, "1234", geom.Vec3{1, 1, 1}, geom.Quat{0, 0, 0, 0}))
	a.HandleFrame(mustEncode(t, protocol.TypeMove, nil))

	if got := h.sender.take("b"); len(got) != 0 {
		t.Fatalf("invalid moves should not replicate, got %v", got)
	}
	if got := h.sender.take("a"); len(got) != 0 {
		t.Fatalf("invalid moves should not produce replies, got %v", got)
	}
	snap, _ := h.reg.Room("1234")
	if snap.Participants["a"].Position != (geom.Vec3{0, 0, 0}) {
		t.Fatalf("invalid move changed state: %+v", snap.Participants["a"])
	}
}

func TestMalformedFrameKeepsConnection(t *testing.T) {
	h := newHarness()
	a := h.handler("a")

	a.HandleFrame([]byte("not json"))
	a.HandleFrame([]byte(`{"type":"teleport","data":{}}`))

	frames := h.sender.take("a")
	expectTypes(t, frames, protocol.TypeError, protocol.TypeError)
	if msg := payload[string](t, frames[0]); msg != "Malformed message." {
		t.Fatalf("unexpected error %q", msg)
	}

	a.HandleFrame(joinFrame(t, "1234", "Alice"))
	if state, _ := a.State(); state != StateJoined {
		t.Fatalf("connection should still be usable, got %s", state)
	}
}

func TestDisconnectNotifiesRemaining(t *testing.T) {
	h := newHarness()
	a, b := h.handler("a"), h.handler("b")
	a.HandleFrame(joinFrame(t, "1234", "Alice"))
	b.HandleFrame(joinFrame(t, "1234", "Bob"))
	h.sender.take("a")
	h.sender.take("b")

	b.Disconnect()

	frames := h.sender.take("a")
	expectTypes(t, frames, protocol.TypeParticipantLeft)
	if left := payload[protocol.ParticipantLeft](t, frames[0]); left.ConnectionID != "b" {
		t.Fatalf("unexpected left payload %+v", left)
	}
	if got := h.sender.take("b"); len(got) != 0 {
		t.Fatalf("departed connection should get nothing, got %v", got)
	}

	a.Disconnect()
	if _, ok := h.reg.Room("1234"); ok {
		t.Fatalf("room should be deleted after last leave")
	}

	types := h.sink.types()
	if types[len(types)-1] != roomevents.EventTypeRoomClosed {
		t.Fatalf("expected RoomClosed last, got %v", types)
	}
	if h.metrics.Snapshot()["rooms_deleted"] != 1 {
		t.Fatalf("expected room deletion to be counted")
	}
}

func TestDisconnectIsIdempotentAndTerminal(t *testing.T) {
	h := newHarness()
	a, b := h.handler("a"), h.handler("b")
	a.HandleFrame(joinFrame(t, "1234", "Alice"))
	b.HandleFrame(joinFrame(t, "1234", "Bob"))
	h.sender.take("a")
	h.sender.take("b")

	b.Disconnect()
	b.Disconnect()
	if got := h.sender.take("a"); len(got) != 1 {
		t.Fatalf("expected exactly one participantLeft, got %d", len(got))
	}

	b.HandleFrame(moveFrame(t, "1234", geom.Vec3{5, 0, 5}, geom.Identity))
	b.HandleFrame(joinFrame(t, "1234", "Bob"))
	if got := h.sender.take("a"); len(got) != 0 {
		t.Fatalf("closed connection must not affect the room, got %v", got)
	}
	if state, _ := b.State(); state != StateClosed {
		t.Fatalf("expected closed, got %s", state)
	}
}

func TestDisconnectBeforeJoinIsSilent(t *testing.T) {
	h := newHarness()
	a, b := h.handler("a"), h.handler("b")
	a.HandleFrame(joinFrame(t, "1234", "Alice"))
	h.sender.take("a")

	b.Disconnect()

	if got := h.sender.take("a"); len(got) != 0 {
		t.Fatalf("unjoined disconnect should broadcast nothing, got %v", got)
	}
}

func TestSendFailureOnlyAffectsThatRecipient(t *testing.T) {
	h := newHarness()
	a, b, c := h.handler("a"), h.handler("b"), h.handler("c")
	a.HandleFrame(joinFrame(t, "1234", "Alice"))
	b.HandleFrame(joinFrame(t, "1234", "Bob"))
	c.HandleFrame(joinFrame(t, "1234", "Carol"))
	h.sender.take("a")
	h.sender.take("b")
	h.sender.take("c")

	h.sender.mu.Lock()
	h.sender.fail["b"] = true
	h.sender.mu.Unlock()

	a.HandleFrame(moveFrame(t, "1234", geom.Vec3{3, 0, 3}, geom.Identity))

	expectTypes(t, h.sender.take("c"), protocol.TypeParticipantMoved)
	counters := h.metrics.Snapshot()
	if counters["send_failures"] != 1 || counters["moves_delivered"] != 1 {
		t.Fatalf("unexpected counters %v", counters)
	}
}
