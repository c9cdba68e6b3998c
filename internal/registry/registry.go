// Package registry keeps the in-memory room directory. It holds no
// transport state and survives only for the process's uptime.
package registry

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/yaswanth-hue/jamroom/internal/domain"
)

type room struct {
	id           domain.RoomID
	name         string
	participants []domain.Participant
}

func (r *room) snapshot() domain.Room {
	out := domain.Room{ID: r.id, Name: r.name}
	out.Participants = append([]domain.Participant(nil), r.participants...)
	return out
}

// Registry maps room ids to rooms. The session manager owns the single
// instance exclusively; all methods are safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*room
	order []domain.RoomID
}

func New() *Registry {
	return &Registry{rooms: make(map[domain.RoomID]*room)}
}

// EnsureRoom returns the room with the given id, creating an empty one
// under the given display name if absent. The returned bool is true
// when the room was created by this call.
func (r *Registry) EnsureRoom(id domain.RoomID, name string) (domain.Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	created := false
	rm, ok := r.rooms[id]
	if !ok {
		rm = &room{id: id, name: name}
		r.rooms[id] = rm
		r.order = append(r.order, id)
		created = true
		log.Info().Str("module", "registry").Str("room", string(id)).Msg("room created")
	}
	return rm.snapshot(), created
}

// AddParticipant appends the connection to the room, creating the room
// if absent. A connection already present in any room is removed from
// it first, so a connection occupies at most one room at any instant;
// a rapid re-join replaces the old entry instead of duplicating it.
func (r *Registry) AddParticipant(id domain.RoomID, conn domain.ConnectionID, name string) domain.Participant {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.removeLocked(conn)

	rm, ok := r.rooms[id]
	if !ok {
		rm = &room{id: id, name: string(id)}
		r.rooms[id] = rm
		r.order = append(r.order, id)
		log.Info().Str("module", "registry").Str("room", string(id)).Msg("room created on join")
	}
	p := domain.Participant{ID: conn, Name: name}
	rm.participants = append(rm.participants, p)
	log.Info().Str("module", "registry").Str("room", string(id)).Str("conn", string(conn)).Msg("participant added")
	return p
}

// RemoveParticipant scans all rooms for the connection, removes it,
// and deletes the room if that removal emptied it. It returns the
// affected room id, the remaining roster, and whether the connection
// was found anywhere.
func (r *Registry) RemoveParticipant(conn domain.ConnectionID) (domain.RoomID, []domain.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(conn)
}

func (r *Registry) removeLocked(conn domain.ConnectionID) (domain.RoomID, []domain.Participant, bool) {
	for _, id := range r.order {
		rm, ok := r.rooms[id]
		if !ok {
			continue
		}
		for i, p := range rm.participants {
			if p.ID != conn {
				continue
			}
			rm.participants = append(rm.participants[:i], rm.participants[i+1:]...)
			log.Info().Str("module", "registry").Str("room", string(id)).Str("conn", string(conn)).Msg("participant removed")
			if len(rm.participants) == 0 {
				r.deleteRoomLocked(id)
				return id, nil, true
			}
			rest := append([]domain.Participant(nil), rm.participants...)
			return id, rest, true
		}
	}
	return "", nil, false
}

func (r *Registry) deleteRoomLocked(id domain.RoomID) {
	delete(r.rooms, id)
	for i, o := range r.order {
		if o == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	log.Info().Str("module", "registry").Str("room", string(id)).Msg("empty room deleted")
}

// SetMuted updates the mute flag of the connection inside the named
// room. It reports false when the room or the participant is absent;
// the caller decides whether that warrants a broadcast.
func (r *Registry) SetMuted(id domain.RoomID, conn domain.ConnectionID, muted bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[id]
	if !ok {
		return false
	}
	for i := range rm.participants {
		if rm.participants[i].ID == conn {
			rm.participants[i].IsMuted = muted
			return true
		}
	}
	return false
}

// Participants returns the roster of one room in join order.
func (r *Registry) Participants(id domain.RoomID) ([]domain.Participant, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rm, ok := r.rooms[id]
	if !ok {
		return nil, false
	}
	return append([]domain.Participant(nil), rm.participants...), true
}

// ListRooms snapshots the directory in room creation order.
func (r *Registry) ListRooms() []domain.Room {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Room, 0, len(r.order))
	for _, id := range r.order {
		if rm, ok := r.rooms[id]; ok {
			out = append(out, rm.snapshot())
		}
	}
	return out
}

// Reset drops every room. Called once at shutdown so the process ends
// with a defined empty directory.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms = make(map[domain.RoomID]*room)
	r.order = nil
	log.Info().Str("module", "registry").Msg("registry cleared")
}
