package rtc

import (
	"github.com/openchat/rtckit/domain"
	"github.com/openchat/rtckit/provider"
)

// LocalStream pairs a stream handle with its publish status.
type LocalStream struct {
	Stream provider.Stream
	State  domain.PublishState
}

// session is the orchestrator's authoritative view of the call. It is
// mutated only by Manager code paths while holding the manager lock.
type session struct {
	state     domain.ManagerState
	roomState domain.RoomState
	roomID    domain.RoomID

	local  map[domain.StreamID]*LocalStream
	remote map[domain.UserID]provider.Stream
	peers  map[domain.UserID]struct{}
}

func newSession() session {
	return session{
		state:     domain.StateIdle,
		roomState: domain.RoomIdle,
		local:     make(map[domain.StreamID]*LocalStream),
		remote:    make(map[domain.UserID]provider.Stream),
		peers:     make(map[domain.UserID]struct{}),
	}
}

// clearCall drops everything bound to the room but keeps the session
// initialized.
func (s *session) clearCall() {
	s.roomID = ""
	s.roomState = domain.RoomIdle
	s.local = make(map[domain.StreamID]*LocalStream)
	s.remote = make(map[domain.UserID]provider.Stream)
	s.peers = make(map[domain.UserID]struct{})
}

func (s *session) reset() {
	*s = newSession()
}

func (s *session) inCall() bool {
	switch s.state {
	case domain.StateJoining, domain.StateJoined, domain.StateLeaving:
		return true
	}
	return false
}
