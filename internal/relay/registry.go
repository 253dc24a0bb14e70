package relay

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/openchat/rtckit/domain"
)

type entry struct {
	conn *conn
	room domain.RoomID
}

// registry tracks connected users and the room each one last
// addressed, which is all the routing state the relay needs.
type registry struct {
	mu    sync.RWMutex
	users map[domain.UserID]*entry
}

func newRegistry() *registry {
	return &registry{users: make(map[domain.UserID]*entry)}
}

func (r *registry) bind(user domain.UserID, c *conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if old, ok := r.users[user]; ok {
		old.conn.close()
	}
	r.users[user] = &entry{conn: c}
	log.Info().Str("module", "relay").Str("user", string(user)).Msg("bound connection")
}

func (r *registry) unbind(user domain.UserID, c *conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.users[user]; ok && e.conn == c {
		delete(r.users, user)
		log.Info().Str("module", "relay").Str("user", string(user)).Msg("unbound connection")
	}
}

func (r *registry) updateRoom(user domain.UserID, room domain.RoomID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.users[user]; ok {
		e.room = room
	}
}

func (r *registry) get(user domain.UserID) (*conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.users[user]
	if !ok {
		return nil, false
	}
	return e.conn, true
}

type memberSnap struct {
	user domain.UserID
	conn *conn
}

// membersOfRoom includes every user currently addressing the room,
// the sender too: broadcast echo back to the origin is part of the
// transport contract.
func (r *registry) membersOfRoom(room domain.RoomID) []memberSnap {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]memberSnap, 0, len(r.users))
	for u, e := range r.users {
		if e.room == room {
			out = append(out, memberSnap{user: u, conn: e.conn})
		}
	}
	return out
}
