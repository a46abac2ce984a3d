package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/mcdev12/racesync/go/internal/geom"
)

// MessageType identifies a frame on the race WebSocket
type MessageType string

const (
	// client -> server
	TypeJoinRoom MessageType = "joinRoom"
	TypeMove     MessageType = "move"

	// server -> client (unicast)
	TypeRoomAck      MessageType = "roomAck"
	TypeError        MessageType = "error"
	TypeRoomSnapshot MessageType = "roomSnapshot"

	// server -> room
	TypeParticipantJoined MessageType = "participantJoined"
	TypeParticipantMoved  MessageType = "participantMoved"
	TypeParticipantLeft   MessageType = "participantLeft"
)

// Envelope is the outer shape of every frame
type Envelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// AppearanceConfig is the cosmetic vehicle configuration owned by the
// customization subsystem. It is passed through without validation.
type AppearanceConfig map[string]any

// Participant is one connected client's replicated state within a room
type Participant struct {
	ConnectionID     string           `json:"connectionId"`
	DisplayName      string           `json:"displayName"`
	Position         geom.Vec3        `json:"position"`
	Orientation      geom.Quat        `json:"orientation"`
	AppearanceConfig AppearanceConfig `json:"appearanceConfig"`
}

// JoinRoomRequest is sent by a client to create or join a room
type JoinRoomRequest struct {
	Code             string           `json:"code"`
	DisplayName      string           `json:"displayName"`
	AppearanceConfig AppearanceConfig `json:"appearanceConfig"`
}

// MoveRequest carries the sender's latest motion sample
type MoveRequest struct {
	Code        string    `json:"code"`
	Position    geom.Vec3 `json:"position"`
	Orientation geom.Quat `json:"orientation"`
}

// RoomAck acknowledges a successful join to the joiner only
type RoomAck struct {
	Success      bool   `json:"success"`
	Message      string `json:"message"`
	RoomCode     string `json:"roomCode"`
	DisplayName  string `json:"displayName"`
	ConnectionID string `json:"connectionId"`
}

// RoomSnapshot maps connection id to participant. The copy sent to a joiner
// holds every member except the joiner.
type RoomSnapshot map[string]Participant

// ParticipantMoved is the replicated motion delta. Display name and appearance
// ride along so a peer that missed the join can still render the vehicle.
type ParticipantMoved struct {
	ConnectionID     string           `json:"connectionId"`
	Position         geom.Vec3        `json:"position"`
	Orientation      geom.Quat        `json:"orientation"`
	DisplayName      string           `json:"displayName"`
	AppearanceConfig AppearanceConfig `json:"appearanceConfig"`
}

// ParticipantLeft announces a departed connection to the remaining members
type ParticipantLeft struct {
	ConnectionID string `json:"connectionId"`
}

// Encode marshals payload into a typed frame
func Encode(t MessageType, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}
	frame, err := json.Marshal(Envelope{Type: t, Data: data})
	if err != nil {
		return nil, fmt.Errorf("marshal %s envelope: %w", t, err)
	}
	return frame, nil
}

// Decode parses the envelope of a frame, leaving the payload raw
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("envelope has no type")
	}
	return env, nil
}

// DecodePayload unmarshals the envelope payload into T
func DecodePayload[T any](env Envelope) (T, error) {
	var payload T
	if len(env.Data) == 0 {
		return payload, fmt.Errorf("%s frame has no data", env.Type)
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		return payload, fmt.Errorf("unmarshal %s payload: %w", env.Type, err)
	}
	return payload, nil
}
