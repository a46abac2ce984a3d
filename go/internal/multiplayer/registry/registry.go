package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mcdev12/racesync/go/internal/geom"
	"github.com/mcdev12/racesync/go/internal/multiplayer/protocol"
	"github.com/rs/zerolog/log"
)

// Registry owns every live room in the process. Rooms are created by the first
// join for a code and removed when their last participant leaves.
//
// Lock order is room -> registry. The registry lock is never held while
// waiting on a room lock.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*room
	// membership maps connection id -> room code. A connection belongs to at
	// most one room.
	membership map[string]string
}

type room struct {
	mu           sync.Mutex
	code         string
	participants map[string]protocol.Participant
	// closed is set once the room has been emptied and unlinked from the
	// registry. Joiners that raced the deletion retry against the table.
	closed bool
}

// Snapshot is a point-in-time copy of a room
type Snapshot struct {
	Code         string
	Participants protocol.RoomSnapshot
}

// Members returns the connection ids in the snapshot, sorted
func (s Snapshot) Members() []string {
	ids := make([]string, 0, len(s.Participants))
	for id := range s.Participants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// JoinResult is returned from a successful join
type JoinResult struct {
	IsNewRoom bool
	Snapshot  Snapshot
}

// Movement is returned from a successful participant update
type Movement struct {
	Code        string
	Participant protocol.Participant
	Members     []string
}

// Departure is returned from a successful leave
type Departure struct {
	Code         string
	ConnectionID string
	DisplayName  string
	Remaining    []string
	RoomDeleted  bool
}

// Stats summarizes registry occupancy
type Stats struct {
	Rooms        int            `json:"rooms"`
	Participants int            `json:"participants"`
	RoomSizes    map[string]int `json:"room_sizes"`
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		rooms:      make(map[string]*room),
		membership: make(map[string]string),
	}
}

// NewParticipant builds a participant at the spawn pose
func NewParticipant(connectionID, displayName string, config protocol.AppearanceConfig) protocol.Participant {
	return protocol.Participant{
		ConnectionID:     connectionID,
		DisplayName:      displayName,
		Position:         geom.Vec3{0, 0, 0},
		Orientation:      geom.Identity,
		AppearanceConfig: config,
	}
}

// Join adds p to the room identified by code, creating the room if needed.
func (r *Registry) Join(code string, p protocol.Participant) (JoinResult, error) {
	if err := validateJoin(code, p); err != nil {
		return JoinResult{}, err
	}

	for {
		r.mu.Lock()
		if current, ok := r.membership[p.ConnectionID]; ok {
			r.mu.Unlock()
			return JoinResult{}, fmt.Errorf("join %q while in %q: %w", code, current, ErrAlreadyInRoom)
		}

		rm, exists := r.rooms[code]
		if !exists {
			// Nobody else can reach rm until the registry lock is released.
			rm = &room{
				code:         code,
				participants: map[string]protocol.Participant{p.ConnectionID: p},
			}
			r.rooms[code] = rm
			r.membership[p.ConnectionID] = code
			snapshot := rm.snapshotLocked()
			r.mu.Unlock()

			log.Debug().
				Str("room_code", code).
				Str("connection_id", p.ConnectionID).
				Msg("room created")
			return JoinResult{IsNewRoom: true, Snapshot: snapshot}, nil
		}
		r.membership[p.ConnectionID] = code
		r.mu.Unlock()

		rm.mu.Lock()
		if rm.closed {
			rm.mu.Unlock()
			r.mu.Lock()
			delete(r.membership, p.ConnectionID)
			r.mu.Unlock()
			continue
		}
		rm.participants[p.ConnectionID] = p
		snapshot := rm.snapshotLocked()
		rm.mu.Unlock()

		log.Debug().
			Str("room_code", code).
			Str("connection_id", p.ConnectionID).
			Int("participants", len(snapshot.Participants)).
			Msg("participant joined room")
		return JoinResult{IsNewRoom: false, Snapshot: snapshot}, nil
	}
}

// UpdateParticipant overwrites the pose of a participant in place.
func (r *Registry) UpdateParticipant(code, connectionID string, position geom.Vec3, orientation geom.Quat) (Movement, error) {
	rm := r.lookup(code)
	if rm == nil {
		return Movement{}, fmt.Errorf("room %q: %w", code, ErrNotFound)
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if rm.closed {
		return Movement{}, fmt.Errorf("room %q: %w", code, ErrNotFound)
	}
	p, ok := rm.participants[connectionID]
	if !ok {
		return Movement{}, fmt.Errorf("participant %q in room %q: %w", connectionID, code, ErrNotFound)
	}
	p.Position = position
	p.Orientation = orientation
	rm.participants[connectionID] = p

	return Movement{
		Code:        code,
		Participant: p,
		Members:     rm.membersLocked(),
	}, nil
}

// Leave removes the connection from whichever room it belongs to and deletes
// the room if it is now empty.
func (r *Registry) Leave(connectionID string) (Departure, error) {
	r.mu.Lock()
	code, ok := r.membership[connectionID]
	rm := r.rooms[code]
	r.mu.Unlock()
	if !ok || rm == nil {
		return Departure{}, fmt.Errorf("connection %q: %w", connectionID, ErrNotFound)
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	p, ok := rm.participants[connectionID]
	if !ok || rm.closed {
		return Departure{}, fmt.Errorf("participant %q in room %q: %w", connectionID, code, ErrNotFound)
	}
	delete(rm.participants, connectionID)
	empty := len(rm.participants) == 0
	if empty {
		rm.closed = true
	}

	r.mu.Lock()
	delete(r.membership, connectionID)
	if empty && r.rooms[code] == rm {
		delete(r.rooms, code)
	}
	r.mu.Unlock()

	log.Debug().
		Str("room_code", code).
		Str("connection_id", connectionID).
		Bool("room_deleted", empty).
		Msg("participant left room")

	return Departure{
		Code:         code,
		ConnectionID: connectionID,
		DisplayName:  p.DisplayName,
		Remaining:    rm.membersLocked(),
		RoomDeleted:  empty,
	}, nil
}

// Room returns a snapshot of the room with the given code
func (r *Registry) Room(code string) (Snapshot, bool) {
	rm := r.lookup(code)
	if rm == nil {
		return Snapshot{}, false
	}
	rm.mu.Lock()
	defer rm.mu.Unlock()
	if rm.closed {
		return Snapshot{}, false
	}
	return rm.snapshotLocked(), true
}

// RoomOf returns the code of the room the connection belongs to
func (r *Registry) RoomOf(connectionID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	code, ok := r.membership[connectionID]
	return code, ok
}

// Stats returns room and participant counts
func (r *Registry) Stats() Stats {
	r.mu.Lock()
	rooms := make([]*room, 0, len(r.rooms))
	for _, rm := range r.rooms {
		rooms = append(rooms, rm)
	}
	r.mu.Unlock()

	stats := Stats{RoomSizes: make(map[string]int, len(rooms))}
	for _, rm := range rooms {
		rm.mu.Lock()
		if !rm.closed {
			stats.Rooms++
			stats.Participants += len(rm.participants)
			stats.RoomSizes[rm.code] = len(rm.participants)
		}
		rm.mu.Unlock()
	}
	return stats
}

func (r *Registry) lookup(code string) *room {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rooms[code]
}

func (rm *room) snapshotLocked() Snapshot {
	participants := make(protocol.RoomSnapshot, len(rm.participants))
	for id, p := range rm.participants {
		participants[id] = p
	}
	return Snapshot{Code: rm.code, Participants: participants}
}

func (rm *room) membersLocked() []string {
	ids := make([]string, 0, len(rm.participants))
	for id := range rm.participants {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func validateJoin(code string, p protocol.Participant) error {
	switch {
	case code == "":
		return fmt.Errorf("room code is required: %w", ErrInvalidRequest)
	case p.DisplayName == "":
		return fmt.Errorf("display name is required: %w", ErrInvalidRequest)
	case len(p.AppearanceConfig) == 0:
		return fmt.Errorf("vehicle config is required: %w", ErrInvalidRequest)
	case p.ConnectionID == "":
		return fmt.Errorf("connection id is required: %w", ErrInvalidRequest)
	}
	return nil
}
