package replication

import (
	"reflect"
	"testing"

	"github.com/mcdev12/racesync/go/internal/geom"
	"github.com/mcdev12/racesync/go/internal/multiplayer/protocol"
)

func TestJoinedExcludesJoiner(t *testing.T) {
	joiner := protocol.Participant{ConnectionID: "b", DisplayName: "Bee"}
	d := Joined(joiner, []string{"c", "b", "a"})

	if d.Type != protocol.TypeParticipantJoined {
		t.Fatalf("unexpected type %s", d.Type)
	}
	if !reflect.DeepEqual(d.Recipients, []string{"a", "c"}) {
		t.Fatalf("unexpected recipients %v", d.Recipients)
	}
	if got, ok := d.Payload.(protocol.Participant); !ok || got.ConnectionID != "b" {
		t.Fatalf("expected participant payload, got %#v", d.Payload)
	}
}

func TestJoinedIntoEmptyRoomHasNoRecipients(t *testing.T) {
	d := Joined(protocol.Participant{ConnectionID: "a"}, []string{"a"})
	if len(d.Recipients) != 0 {
		t.Fatalf("expected no recipients, got %v", d.Recipients)
	}
}

func TestMovedNeverEchoesToSender(t *testing.T) {
	p := protocol.Participant{
		ConnectionID:     "b",
		DisplayName:      "Bee",
		Position:         geom.Vec3{1, 0, 1},
		Orientation:      geom.Identity,
		AppearanceConfig: protocol.AppearanceConfig{"color": "blue"},
	}
	d := Moved(p, []string{"a", "b", "c"})

	for _, id := range d.Recipients {
		if id == "b" {
			t.Fatalf("mover must not receive its own update")
		}
	}
	if len(d.Recipients) != 2 {
		t.Fatalf("expected 2 recipients, got %v", d.Recipients)
	}
	payload, ok := d.Payload.(protocol.ParticipantMoved)
	if !ok {
		t.Fatalf("unexpected payload %#v", d.Payload)
	}
	if payload.ConnectionID != "b" || payload.Position != p.Position || payload.DisplayName != "Bee" {
		t.Fatalf("unexpected moved payload %+v", payload)
	}
	if payload.AppearanceConfig["color"] != "blue" {
		t.Fatalf("expected appearance config to ride along")
	}
}

func TestLeftGoesToRemainingMembers(t *testing.T) {
	d := Left("b", []string{"a"})
	if !reflect.DeepEqual(d.Recipients, []string{"a"}) {
		t.Fatalf("unexpected recipients %v", d.Recipients)
	}
	if d.Payload != (protocol.ParticipantLeft{ConnectionID: "b"}) {
		t.Fatalf("unexpected payload %#v", d.Payload)
	}

	if d := Left("a", nil); len(d.Recipients) != 0 {
		t.Fatalf("expected no recipients for last leaver, got %v", d.Recipients)
	}
}
