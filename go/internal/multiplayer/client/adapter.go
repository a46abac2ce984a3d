// Package client keeps a local view of the other racers in a room and streams
// the local vehicle's motion to the gateway.
package client

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/racesync/go/internal/geom"
	"github.com/mcdev12/racesync/go/internal/multiplayer/protocol"
	"github.com/rs/zerolog/log"
)

const (
	DefaultTickRate = 60

	messageDuration = 5 * time.Second
)

// Transport sends encoded frames to the gateway
type Transport interface {
	Send(frame []byte) error
}

// Notifier shows a transient message to the player
type Notifier interface {
	Notify(kind, message string, duration time.Duration)
}

// Session is what the gateway told us about our membership
type Session struct {
	ConnectionID string
	RoomCode     string
	DisplayName  string
	Joined       bool
}

// Adapter turns inbound frames into a view of remote participants and local
// motion samples into throttled move frames
type Adapter struct {
	transport Transport
	notifier  Notifier
	clock     clockwork.Clock
	interval  time.Duration

	mu      sync.RWMutex
	session Session
	remotes map[string]protocol.Participant

	// next is when the following move is due. Moves follow that schedule
	// rather than the time the previous one went out, so ticker jitter does not
	// cost a tick.
	sendMu  sync.Mutex
	next    time.Time
	hasSent bool
}

// NewAdapter creates an adapter that sends at most tickRate moves per second.
// A non-positive tickRate uses DefaultTickRate.
func NewAdapter(transport Transport, notifier Notifier, clock clockwork.Clock, tickRate int) *Adapter {
	if tickRate <= 0 {
		tickRate = DefaultTickRate
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Adapter{
		transport: transport,
		notifier:  notifier,
		clock:     clock,
		interval:  time.Second / time.Duration(tickRate),
		remotes:   make(map[string]protocol.Participant),
	}
}

// JoinRoom asks the gateway to create or join code
func (a *Adapter) JoinRoom(code, displayName string, config protocol.AppearanceConfig) error {
	frame, err := protocol.Encode(protocol.TypeJoinRoom, protocol.JoinRoomRequest{
		Code:             code,
		DisplayName:      displayName,
		AppearanceConfig: config,
	})
	if err != nil {
		return fmt.Errorf("encode join: %w", err)
	}
	if err := a.transport.Send(frame); err != nil {
		return fmt.Errorf("send join: %w", err)
	}
	return nil
}

// SendMotion sends the local pose if joined and the next tick is due. A call up
// to a quarter interval early still counts for that tick. It reports whether a
// frame went out.
func (a *Adapter) SendMotion(position geom.Vec3, orientation geom.Quat) (bool, error) {
	session := a.Session()
	if !session.Joined {
		return false, nil
	}

	a.sendMu.Lock()
	defer a.sendMu.Unlock()

	now := a.clock.Now()
	if a.hasSent && now.Before(a.next.Add(-a.interval/4)) {
		return false, nil
	}

	frame, err := protocol.Encode(protocol.TypeMove, protocol.MoveRequest{
		Code:        session.RoomCode,
		Position:    position,
		Orientation: orientation,
	})
	if err != nil {
		return false, fmt.Errorf("encode move: %w", err)
	}
	if err := a.transport.Send(frame); err != nil {
		return false, fmt.Errorf("send move: %w", err)
	}
	if !a.hasSent || now.Sub(a.next) >= a.interval {
		// first move, or we stalled for a whole tick: restart the schedule
		a.next = now.Add(a.interval)
	} else {
		a.next = a.next.Add(a.interval)
	}
	a.hasSent = true
	return true, nil
}

// HandleFrame applies one frame from the gateway
func (a *Adapter) HandleFrame(frame []byte) error {
	env, err := protocol.Decode(frame)
	if err != nil {
		return err
	}

	switch env.Type {
	case protocol.TypeRoomAck:
		ack, err := protocol.DecodePayload[protocol.RoomAck](env)
		if err != nil {
			return err
		}
		a.mu.Lock()
		if ack.Success {
			a.session = Session{
				ConnectionID: ack.ConnectionID,
				RoomCode:     ack.RoomCode,
				DisplayName:  ack.DisplayName,
				Joined:       true,
			}
		}
		a.mu.Unlock()

		kind := "success"
		if !ack.Success {
			kind = "error"
		}
		a.notify(kind, ack.Message)

	case protocol.TypeError:
		message, err := protocol.DecodePayload[string](env)
		if err != nil {
			return err
		}
		a.notify("error", message)

	case protocol.TypeRoomSnapshot:
		snapshot, err := protocol.DecodePayload[protocol.RoomSnapshot](env)
		if err != nil {
			return err
		}
		a.mu.Lock()
		a.remotes = make(map[string]protocol.Participant, len(snapshot))
		for id, p := range snapshot {
			if id == a.session.ConnectionID {
				continue
			}
			a.remotes[id] = p
		}
		a.mu.Unlock()

	case protocol.TypeParticipantJoined:
		p, err := protocol.DecodePayload[protocol.Participant](env)
		if err != nil {
			return err
		}
		a.upsert(p)

	case protocol.TypeParticipantMoved:
		moved, err := protocol.DecodePayload[protocol.ParticipantMoved](env)
		if err != nil {
			return err
		}
		a.mu.Lock()
		p, ok := a.remotes[moved.ConnectionID]
		if !ok {
			p = protocol.Participant{
				ConnectionID:     moved.ConnectionID,
				DisplayName:      moved.DisplayName,
				AppearanceConfig: moved.AppearanceConfig,
			}
		}
		p.Position = moved.Position
		p.Orientation = moved.Orientation
		if moved.ConnectionID != a.session.ConnectionID {
			a.remotes[moved.ConnectionID] = p
		}
		a.mu.Unlock()

	case protocol.TypeParticipantLeft:
		left, err := protocol.DecodePayload[protocol.ParticipantLeft](env)
		if err != nil {
			return err
		}
		a.mu.Lock()
		delete(a.remotes, left.ConnectionID)
		a.mu.Unlock()

	default:
		log.Debug().Str("type", string(env.Type)).Msg("ignoring unknown frame")
	}
	return nil
}

func (a *Adapter) upsert(p protocol.Participant) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if p.ConnectionID == "" || p.ConnectionID == a.session.ConnectionID {
		return
	}
	a.remotes[p.ConnectionID] = p
}

// Disconnected forgets the session and every remote participant
func (a *Adapter) Disconnected() {
	a.mu.Lock()
	a.session = Session{}
	a.remotes = make(map[string]protocol.Participant)
	a.mu.Unlock()

	a.sendMu.Lock()
	a.hasSent = false
	a.sendMu.Unlock()
}

func (a *Adapter) Session() Session {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.session
}

// Remotes returns a copy of the remote participant view
func (a *Adapter) Remotes() map[string]protocol.Participant {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]protocol.Participant, len(a.remotes))
	for id, p := range a.remotes {
		out[id] = p
	}
	return out
}

func (a *Adapter) Remote(connectionID string) (protocol.Participant, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.remotes[connectionID]
	return p, ok
}

func (a *Adapter) notify(kind, message string) {
	if a.notifier == nil || message == "" {
		return
	}
	a.notifier.Notify(kind, message, messageDuration)
}
