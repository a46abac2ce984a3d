package roomevents

import (
	"time"

	"github.com/google/uuid"
)

// EventType names a room lifecycle transition
type EventType string

const (
	EventTypeRoomCreated       EventType = "RoomCreated"
	EventTypeParticipantJoined EventType = "ParticipantJoined"
	EventTypeParticipantLeft   EventType = "ParticipantLeft"
	EventTypeRoomClosed        EventType = "RoomClosed"
)

// RoomEvent is one entry of the room lifecycle stream
type RoomEvent struct {
	ID           uuid.UUID `json:"eventId"`
	Type         EventType `json:"eventType"`
	RoomCode     string    `json:"roomCode"`
	ConnectionID string    `json:"connectionId,omitempty"`
	DisplayName  string    `json:"displayName,omitempty"`
	Participants int       `json:"participants"`
	Timestamp    time.Time `json:"timestamp"`
}

// NewRoomEvent stamps an event with a fresh id and the current time
func NewRoomEvent(t EventType, roomCode string) RoomEvent {
	return RoomEvent{
		ID:        uuid.New(),
		Type:      t,
		RoomCode:  roomCode,
		Timestamp: time.Now().UTC(),
	}
}
