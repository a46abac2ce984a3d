// Package replication decides who receives each room event and in what shape.
// It holds no state; callers pass the member set observed atomically with the
// registry mutation that produced the event.
package replication

import (
	"sort"

	"github.com/mcdev12/racesync/go/internal/multiplayer/protocol"
)

// Delivery is one outbound frame and the connections it goes to
type Delivery struct {
	Type       protocol.MessageType
	Payload    any
	Recipients []string
}

// Joined announces a new participant to everyone already in the room
func Joined(joiner protocol.Participant, members []string) Delivery {
	return Delivery{
		Type:       protocol.TypeParticipantJoined,
		Payload:    joiner,
		Recipients: except(members, joiner.ConnectionID),
	}
}

// Moved forwards a pose update to everyone but the mover
func Moved(p protocol.Participant, members []string) Delivery {
	return Delivery{
		Type: protocol.TypeParticipantMoved,
		Payload: protocol.ParticipantMoved{
			ConnectionID:     p.ConnectionID,
			Position:         p.Position,
			Orientation:      p.Orientation,
			DisplayName:      p.DisplayName,
			AppearanceConfig: p.AppearanceConfig,
		},
		Recipients: except(members, p.ConnectionID),
	}
}

// Left tells the remaining members that a connection is gone
func Left(connectionID string, remaining []string) Delivery {
	return Delivery{
		Type:       protocol.TypeParticipantLeft,
		Payload:    protocol.ParticipantLeft{ConnectionID: connectionID},
		Recipients: except(remaining, connectionID),
	}
}

// except returns ids without exclude, sorted
func except(ids []string, exclude string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != exclude {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}
