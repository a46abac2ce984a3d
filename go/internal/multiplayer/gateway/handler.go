package gateway

import (
	"errors"
	"fmt"
	"sync"

	"github.com/mcdev12/racesync/go/internal/multiplayer/protocol"
	"github.com/mcdev12/racesync/go/internal/multiplayer/registry"
	"github.com/mcdev12/racesync/go/internal/multiplayer/replication"
	"github.com/mcdev12/racesync/go/internal/multiplayer/roomevents"
	"github.com/rs/zerolog/log"
)

const missingJoinFieldsMessage = "Room code, display name, and vehicle config are required."

// ConnState is the lifecycle state of a single connection
type ConnState int

const (
	StateUnjoined ConnState = iota
	StateJoined
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateUnjoined:
		return "unjoined"
	case StateJoined:
		return "joined"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("ConnState(%d)", int(s))
	}
}

// Sender delivers an encoded frame to one connection without blocking
type Sender interface {
	SendTo(connectionID string, frame []byte) error
}

// EventSink accepts room lifecycle events without blocking
type EventSink interface {
	Enqueue(event roomevents.RoomEvent) bool
}

// ConnectionHandler runs the protocol for one connection. Frames from the
// connection are handled one at a time; Disconnect is terminal.
type ConnectionHandler struct {
	id       string
	registry *registry.Registry
	sender   Sender
	events   EventSink
	metrics  MetricsCollector

	mu       sync.Mutex
	state    ConnState
	roomCode string
}

// NewConnectionHandler creates a handler for the connection with the given id
func NewConnectionHandler(id string, reg *registry.Registry, sender Sender, events EventSink, metrics MetricsCollector) *ConnectionHandler {
	if metrics == nil {
		metrics = NoOpMetricsCollector{}
	}
	return &ConnectionHandler{
		id:       id,
		registry: reg,
		sender:   sender,
		events:   events,
		metrics:  metrics,
		state:    StateUnjoined,
	}
}

// State returns the current state and the joined room code, if any
func (h *ConnectionHandler) State() (ConnState, string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state, h.roomCode
}

// HandleFrame processes one inbound frame
func (h *ConnectionHandler) HandleFrame(frame []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.state == StateClosed {
		return
	}

	env, err := protocol.Decode(frame)
	if err != nil {
		log.Debug().Err(err).Str("connection_id", h.id).Msg("discarding malformed frame")
		h.sendError("Malformed message.")
		return
	}

	switch env.Type {
	case protocol.TypeJoinRoom:
		h.handleJoin(env)
	case protocol.TypeMove:
		h.handleMove(env)
	default:
		log.Debug().
			Str("connection_id", h.id).
			Str("type", string(env.Type)).
			Msg("unknown message type")
		h.sendError(fmt.Sprintf("Unknown message type %q.", env.Type))
	}
}

func (h *ConnectionHandler) handleJoin(env protocol.Envelope) {
	if h.state == StateJoined {
		h.metrics.RecordRejectedJoin()
		h.sendError(fmt.Sprintf("Already in room %q. Disconnect before joining another room.", h.roomCode))
		return
	}

	req, err := protocol.DecodePayload[protocol.JoinRoomRequest](env)
	if err != nil {
		h.metrics.RecordRejectedJoin()
		h.sendError(missingJoinFieldsMessage)
		return
	}

	p := registry.NewParticipant(h.id, req.DisplayName, req.AppearanceConfig)
	res, err := h.registry.Join(req.Code, p)
	if err != nil {
		h.metrics.RecordRejectedJoin()
		log.Debug().Err(err).Str("connection_id", h.id).Msg("join rejected")
		if errors.Is(err, registry.ErrAlreadyInRoom) {
			h.sendError("Already in a room. Disconnect before joining another room.")
			return
		}
		h.sendError(missingJoinFieldsMessage)
		return
	}

	h.state = StateJoined
	h.roomCode = req.Code
	h.metrics.RecordJoin(res.IsNewRoom)

	message := fmt.Sprintf("Successfully joined room %q!", req.Code)
	if res.IsNewRoom {
		message = fmt.Sprintf("Room %q created! Share this code to race.", req.Code)
	}
	h.unicast(protocol.TypeRoomAck, protocol.RoomAck{
		Success:      true,
		Message:      message,
		RoomCode:     req.Code,
		DisplayName:  req.DisplayName,
		ConnectionID: h.id,
	})
	h.unicast(protocol.TypeRoomSnapshot, peersOf(res.Snapshot.Participants, h.id))
	h.deliver(replication.Joined(p, res.Snapshot.Members()))

	if res.IsNewRoom {
		h.publish(roomevents.EventTypeRoomCreated, req.Code, p.DisplayName, 1)
	}
	h.publish(roomevents.EventTypeParticipantJoined, req.Code, p.DisplayName, len(res.Snapshot.Participants))

	log.Info().
		Str("connection_id", h.id).
		Str("display_name", req.DisplayName).
		Str("room_code", req.Code).
		Bool("new_room", res.IsNewRoom).
		Msg("participant joined room")
}

func (h *ConnectionHandler) handleMove(env protocol.Envelope) {
	if h.state != StateJoined {
		log.Debug().Str("connection_id", h.id).Msg("move before join ignored")
		return
	}

	req, err := protocol.DecodePayload[protocol.MoveRequest](env)
	if err != nil {
		log.Debug().Err(err).Str("connection_id", h.id).Msg("malformed move dropped")
		return
	}
	if req.Code != "" && req.Code != h.roomCode {
		log.Debug().
			Str("connection_id", h.id).
			Str("room_code", h.roomCode).
			Str("move_code", req.Code).
			Msg("move for foreign room dropped")
		return
	}
	if !req.Position.IsFinite() {
		log.Debug().Str("connection_id", h.id).Msg("non-finite position dropped")
		return
	}
	orientation, ok := req.Orientation.Normalize()
	if !ok {
		log.Debug().Str("connection_id", h.id).Msg("invalid orientation dropped")
		return
	}

	mv, err := h.registry.UpdateParticipant(h.roomCode, h.id, req.Position, orientation)
	if err != nil {
		// Raced a leave; nothing to replicate.
		log.Debug().Err(err).Str("connection_id", h.id).Msg("move ignored")
		return
	}

	delivered := h.deliver(replication.Moved(mv.Participant, mv.Members))
	h.metrics.RecordMove(delivered)
}

// Disconnect removes the connection from its room and notifies the remaining
// members. It is safe to call more than once.
func (h *ConnectionHandler) Disconnect() {
	h.mu.Lock()
	defer h.mu.Unlock()

	wasJoined := h.state == StateJoined
	h.state = StateClosed
	if !wasJoined {
		return
	}

	dep, err := h.registry.Leave(h.id)
	if err != nil {
		log.Debug().Err(err).Str("connection_id", h.id).Msg("leave found nothing to remove")
		return
	}

	h.deliver(replication.Left(h.id, dep.Remaining))
	h.metrics.RecordLeave(dep.RoomDeleted)

	h.publish(roomevents.EventTypeParticipantLeft, dep.Code, dep.DisplayName, len(dep.Remaining))
	if dep.RoomDeleted {
		h.publish(roomevents.EventTypeRoomClosed, dep.Code, "", 0)
	}

	log.Info().
		Str("connection_id", h.id).
		Str("display_name", dep.DisplayName).
		Str("room_code", dep.Code).
		Bool("room_deleted", dep.RoomDeleted).
		Msg("participant left room")
}

// deliver encodes the frame once and sends it to every recipient. A failed
// send only affects that recipient.
func (h *ConnectionHandler) deliver(d replication.Delivery) int {
	if len(d.Recipients) == 0 {
		return 0
	}

	frame, err := protocol.Encode(d.Type, d.Payload)
	if err != nil {
		log.Error().Err(err).Str("type", string(d.Type)).Msg("failed to encode delivery")
		return 0
	}

	delivered := 0
	for _, id := range d.Recipients {
		if err := h.sender.SendTo(id, frame); err != nil {
			h.metrics.RecordSendFailure()
			log.Warn().
				Err(err).
				Str("recipient_id", id).
				Str("type", string(d.Type)).
				Msg("failed to deliver frame")
			continue
		}
		delivered++
	}
	return delivered
}

func (h *ConnectionHandler) unicast(t protocol.MessageType, payload any) {
	h.deliver(replication.Delivery{Type: t, Payload: payload, Recipients: []string{h.id}})
}

// peersOf copies the snapshot without the joiner's own entry
func peersOf(all protocol.RoomSnapshot, self string) protocol.RoomSnapshot {
	peers := make(protocol.RoomSnapshot, len(all))
	for id, p := range all {
		if id != self {
			peers[id] = p
		}
	}
	return peers
}

func (h *ConnectionHandler) sendError(message string) {
	h.unicast(protocol.TypeError, message)
}

func (h *ConnectionHandler) publish(t roomevents.EventType, code, displayName string, participants int) {
	if h.events == nil {
		return
	}
	event := roomevents.NewRoomEvent(t, code)
	event.ConnectionID = h.id
	event.DisplayName = displayName
	event.Participants = participants
	h.events.Enqueue(event)
}
