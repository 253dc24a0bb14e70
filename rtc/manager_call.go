package rtc

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/openchat/rtckit/domain"
)

// StartCall joins a room: JOIN signal first (acknowledged), then the
// engine join. The session becomes joined only after both succeed; on
// any failure the room id is rolled back and the manager parks in the
// error state. An unacknowledged JOIN is a call-setup failure even if
// the engine join would have succeeded, because no peer knows the
// caller is in the room.
func (m *Manager) StartCall(ctx context.Context, room domain.RoomID) error {
	if room == "" {
		return domain.Errorf(domain.CodeInvalidParam, "rtc.StartCall", "empty room id")
	}

	m.mu.Lock()
	switch {
	case m.sess.inCall():
		st := m.sess.state
		m.mu.Unlock()
		return domain.Errorf(domain.CodeAlreadyInCall, "rtc.StartCall", "already in call (state %s)", st)
	case m.sess.state != domain.StateInitialized:
		st := m.sess.state
		m.mu.Unlock()
		return domain.Errorf(domain.CodeInvalidState, "rtc.StartCall", "illegal in state %s", st)
	}
	m.sess.roomID = room
	m.sess.state = domain.StateJoining
	m.mu.Unlock()

	err := m.sig.SendJoin(ctx, room)
	if err == nil {
		err = m.wrap("rtc.StartCall", m.engine.JoinRoom(ctx, room))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		// No half-joined state: the session either reflects a fully
		// negotiated join or no join at all.
		m.sess.roomID = ""
		m.sess.state = domain.StateError
		log.Error().Err(err).Str("module", "rtc").Str("room", string(room)).Msg("start call failed")
		return err
	}
	m.sess.state = domain.StateJoined
	log.Info().Str("module", "rtc").Str("room", string(room)).Msg("joined")
	return nil
}

// EndCall leaves the active call: LEAVE signal, stream teardown, then
// the engine leave, so peers hear about the departure before the
// local session becomes unreachable. No-op outside a call.
func (m *Manager) EndCall(ctx context.Context) error {
	m.mu.Lock()
	if m.sess.state != domain.StateJoined {
		m.mu.Unlock()
		return nil
	}
	m.sess.state = domain.StateLeaving
	room := m.sess.roomID
	locals := make([]domain.StreamID, 0, len(m.sess.local))
	for id, ls := range m.sess.local {
		if ls.State == domain.Published || ls.State == domain.Publishing {
			locals = append(locals, id)
		}
	}
	remotes := make([]domain.UserID, 0, len(m.sess.remote))
	for u := range m.sess.remote {
		remotes = append(remotes, u)
	}
	m.mu.Unlock()

	if err := m.sig.SendLeave(ctx, room); err != nil {
		// Leaving locally must not be blocked by unreachable peers.
		log.Warn().Err(err).Str("module", "rtc").Str("room", string(room)).Msg("leave signal failed")
	}
	for _, id := range locals {
		if err := m.engine.UnpublishStream(ctx, id); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Str("stream", string(id)).Msg("unpublish on leave")
		}
	}
	for _, u := range remotes {
		if err := m.engine.UnsubscribeStream(ctx, u); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Str("user", string(u)).Msg("unsubscribe on leave")
		}
	}
	err := m.wrap("rtc.EndCall", m.engine.LeaveRoom(ctx))

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sess.clearCall()
	if err != nil {
		m.sess.state = domain.StateError
		log.Error().Err(err).Str("module", "rtc").Str("room", string(room)).Msg("engine leave failed")
		return err
	}
	m.sess.state = domain.StateInitialized
	log.Info().Str("module", "rtc").Str("room", string(room)).Msg("left")
	return nil
}
