package rtc

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/openchat/rtckit/domain"
	"github.com/openchat/rtckit/provider"
)

// CreateLocalStream creates a capture stream. Legal once initialized,
// independent of room membership, so applications can pre-warm
// devices before a call.
func (m *Manager) CreateLocalStream(ctx context.Context, opts provider.StreamOptions) (provider.Stream, error) {
	m.mu.Lock()
	if !m.usable() {
		st := m.sess.state
		m.mu.Unlock()
		return provider.Stream{}, domain.Errorf(domain.CodeInvalidState, "rtc.CreateLocalStream", "illegal in state %s", st)
	}
	m.mu.Unlock()

	stream, err := m.engine.CreateLocalStream(ctx, opts)
	if err != nil {
		return provider.Stream{}, m.wrap("rtc.CreateLocalStream", err)
	}

	m.mu.Lock()
	m.sess.local[stream.ID] = &LocalStream{Stream: stream, State: domain.PublishIdle}
	m.mu.Unlock()
	return stream, nil
}

// DestroyLocalStream releases a local stream, unpublishing it first if
// it is live.
func (m *Manager) DestroyLocalStream(ctx context.Context, id domain.StreamID) error {
	m.mu.Lock()
	ls, ok := m.sess.local[id]
	if !ok {
		m.mu.Unlock()
		return domain.Errorf(domain.CodeStreamNotFound, "rtc.DestroyLocalStream", "stream %s", id)
	}
	published := ls.State == domain.Published
	room := m.sess.roomID
	joined := m.sess.state == domain.StateJoined
	m.mu.Unlock()

	if published {
		if joined {
			if err := m.sig.SendUnpublish(ctx, room, id); err != nil {
				log.Warn().Err(err).Str("module", "rtc").Str("stream", string(id)).Msg("unpublish signal failed")
			}
		}
		if err := m.engine.UnpublishStream(ctx, id); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Str("stream", string(id)).Msg("unpublish on destroy")
		}
	}
	if err := m.engine.DestroyLocalStream(ctx, id); err != nil {
		return m.wrap("rtc.DestroyLocalStream", err)
	}

	m.mu.Lock()
	delete(m.sess.local, id)
	m.mu.Unlock()
	return nil
}

// PublishStream makes a local stream live: a best-effort PUBLISH
// broadcast, then the engine publish. The advertisement going out
// before the engine call is accepted as a harmless false positive if
// the engine then fails.
func (m *Manager) PublishStream(ctx context.Context, id domain.StreamID) error {
	m.mu.Lock()
	if m.sess.state != domain.StateJoined {
		st := m.sess.state
		m.mu.Unlock()
		return domain.Errorf(domain.CodeNotInCall, "rtc.PublishStream", "illegal in state %s", st)
	}
	ls, ok := m.sess.local[id]
	if !ok {
		m.mu.Unlock()
		return domain.Errorf(domain.CodeStreamNotFound, "rtc.PublishStream", "stream %s", id)
	}
	if ls.State == domain.Published {
		m.mu.Unlock()
		return nil
	}
	if ls.State == domain.Publishing {
		m.mu.Unlock()
		return domain.Errorf(domain.CodeInvalidState, "rtc.PublishStream", "stream %s is already publishing", id)
	}
	ls.State = domain.Publishing
	room := m.sess.roomID
	m.mu.Unlock()

	if err := m.sig.SendPublish(ctx, room, id); err != nil {
		log.Warn().Err(err).Str("module", "rtc").Str("stream", string(id)).Msg("publish signal failed")
	}
	err := m.engine.PublishStream(ctx, id)

	m.mu.Lock()
	ls, ok = m.sess.local[id]
	if ok {
		if err != nil {
			ls.State = domain.PublishFailed
		} else {
			ls.State = domain.Published
		}
	}
	var stream provider.Stream
	if ok {
		stream = ls.Stream
	}
	m.mu.Unlock()

	if err != nil {
		return m.wrap("rtc.PublishStream", err)
	}
	if ok {
		m.emit(Event{Type: EventLocalStreamPublished, StreamID: id, Stream: stream})
	}
	return nil
}

// UnpublishStream withdraws a live local stream.
func (m *Manager) UnpublishStream(ctx context.Context, id domain.StreamID) error {
	m.mu.Lock()
	if m.sess.state != domain.StateJoined {
		st := m.sess.state
		m.mu.Unlock()
		return domain.Errorf(domain.CodeNotInCall, "rtc.UnpublishStream", "illegal in state %s", st)
	}
	ls, ok := m.sess.local[id]
	if !ok {
		m.mu.Unlock()
		return domain.Errorf(domain.CodeStreamNotFound, "rtc.UnpublishStream", "stream %s", id)
	}
	room := m.sess.roomID
	stream := ls.Stream
	m.mu.Unlock()

	if err := m.sig.SendUnpublish(ctx, room, id); err != nil {
		log.Warn().Err(err).Str("module", "rtc").Str("stream", string(id)).Msg("unpublish signal failed")
	}
	if err := m.engine.UnpublishStream(ctx, id); err != nil {
		m.mu.Lock()
		if ls, ok := m.sess.local[id]; ok {
			ls.State = domain.PublishFailed
		}
		m.mu.Unlock()
		return m.wrap("rtc.UnpublishStream", err)
	}

	m.mu.Lock()
	if ls, ok := m.sess.local[id]; ok {
		ls.State = domain.PublishIdle
	}
	m.mu.Unlock()
	m.emit(Event{Type: EventLocalStreamUnpublished, StreamID: id, Stream: stream})
	return nil
}

// SubscribeStream subscribes to a peer's published stream: SUBSCRIBE
// broadcast, then the engine subscribe. The remote handle is stored
// only on success, never a partial entry.
func (m *Manager) SubscribeStream(ctx context.Context, user domain.UserID, opts provider.SubscribeOptions) (provider.Stream, error) {
	if user == "" {
		return provider.Stream{}, domain.Errorf(domain.CodeInvalidParam, "rtc.SubscribeStream", "empty user id")
	}
	m.mu.Lock()
	if m.sess.state != domain.StateJoined {
		st := m.sess.state
		m.mu.Unlock()
		return provider.Stream{}, domain.Errorf(domain.CodeNotInCall, "rtc.SubscribeStream", "illegal in state %s", st)
	}
	room := m.sess.roomID
	m.mu.Unlock()

	if err := m.sig.SendSubscribe(ctx, room, user, ""); err != nil {
		log.Warn().Err(err).Str("module", "rtc").Str("user", string(user)).Msg("subscribe signal failed")
	}
	stream, err := m.engine.SubscribeStream(ctx, user, opts)
	if err != nil {
		return provider.Stream{}, m.wrap("rtc.SubscribeStream", err)
	}

	m.mu.Lock()
	m.sess.remote[user] = stream
	m.mu.Unlock()
	m.emit(Event{Type: EventRemoteStreamAdded, UserID: user, Stream: stream})
	return stream, nil
}

// UnsubscribeStream drops the subscription to a peer's stream.
func (m *Manager) UnsubscribeStream(ctx context.Context, user domain.UserID) error {
	m.mu.Lock()
	if m.sess.state != domain.StateJoined {
		st := m.sess.state
		m.mu.Unlock()
		return domain.Errorf(domain.CodeNotInCall, "rtc.UnsubscribeStream", "illegal in state %s", st)
	}
	stream, ok := m.sess.remote[user]
	if !ok {
		m.mu.Unlock()
		return domain.Errorf(domain.CodeStreamNotFound, "rtc.UnsubscribeStream", "no stream from %s", user)
	}
	room := m.sess.roomID
	m.mu.Unlock()

	if err := m.sig.SendUnsubscribe(ctx, room, user, stream.ID); err != nil {
		log.Warn().Err(err).Str("module", "rtc").Str("user", string(user)).Msg("unsubscribe signal failed")
	}
	if err := m.engine.UnsubscribeStream(ctx, user); err != nil {
		return m.wrap("rtc.UnsubscribeStream", err)
	}

	m.mu.Lock()
	delete(m.sess.remote, user)
	m.mu.Unlock()
	m.emit(Event{Type: EventRemoteStreamRemoved, UserID: user, Stream: stream})
	return nil
}

// SwitchCamera switches the capture device of the engine.
func (m *Manager) SwitchCamera(deviceID string) error {
	if err := m.requireUsable("rtc.SwitchCamera"); err != nil {
		return err
	}
	return m.wrap("rtc.SwitchCamera", m.engine.SwitchCamera(deviceID))
}

// SwitchMicrophone switches the audio capture device of the engine.
func (m *Manager) SwitchMicrophone(deviceID string) error {
	if err := m.requireUsable("rtc.SwitchMicrophone"); err != nil {
		return err
	}
	return m.wrap("rtc.SwitchMicrophone", m.engine.SwitchMicrophone(deviceID))
}

// EnableVideo toggles outbound video.
func (m *Manager) EnableVideo(enabled bool) error {
	if err := m.requireUsable("rtc.EnableVideo"); err != nil {
		return err
	}
	return m.wrap("rtc.EnableVideo", m.engine.EnableVideo(enabled))
}

// EnableAudio toggles outbound audio.
func (m *Manager) EnableAudio(enabled bool) error {
	if err := m.requireUsable("rtc.EnableAudio"); err != nil {
		return err
	}
	return m.wrap("rtc.EnableAudio", m.engine.EnableAudio(enabled))
}

// Statistics snapshots engine transport health.
func (m *Manager) Statistics() (provider.Statistics, error) {
	if err := m.requireUsable("rtc.Statistics"); err != nil {
		return provider.Statistics{}, err
	}
	return m.engine.Statistics(), nil
}

// usable reports whether the engine can be driven. Caller holds mu.
func (m *Manager) usable() bool {
	switch m.sess.state {
	case domain.StateInitialized, domain.StateJoining, domain.StateJoined, domain.StateLeaving:
		return true
	}
	return false
}

func (m *Manager) requireUsable(op string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.usable() {
		return domain.Errorf(domain.CodeInvalidState, op, "illegal in state %s", m.sess.state)
	}
	return nil
}
