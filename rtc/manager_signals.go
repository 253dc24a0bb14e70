package rtc

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/openchat/rtckit/domain"
	"github.com/openchat/rtckit/provider"
)

// handleSignal is the single handler registered on the signaling
// channel. It runs on the channel's read loop, so anything that waits
// for an acknowledgement is pushed onto its own goroutine. Duplicate
// delivery is expected; every branch is idempotent.
func (m *Manager) handleSignal(sig domain.Signal) {
	m.mu.Lock()
	inRoom := m.sess.inCall() && m.sess.roomID == sig.RoomID
	m.mu.Unlock()
	if !inRoom {
		log.Debug().Str("module", "rtc").Str("kind", string(sig.Kind)).
			Str("room", string(sig.RoomID)).Msg("signal for inactive room dropped")
		return
	}

	switch sig.Kind {
	case domain.SignalJoin:
		if m.addPeer(sig.SenderID) {
			m.emit(Event{Type: EventUserJoined, UserID: sig.SenderID})
		}

	case domain.SignalLeave:
		if m.removePeer(sig.SenderID) {
			m.emit(Event{Type: EventUserLeft, UserID: sig.SenderID})
		}

	case domain.SignalPublish:
		var p domain.StreamPayload
		if err := sig.DecodePayload(&p); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Msg("bad publish payload")
			return
		}
		m.emit(Event{Type: EventRemoteStreamPublished, UserID: sig.SenderID, StreamID: p.StreamID})

	case domain.SignalUnpublish:
		var p domain.StreamPayload
		if err := sig.DecodePayload(&p); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Msg("bad unpublish payload")
			return
		}
		m.emit(Event{Type: EventRemoteStreamUnpublished, UserID: sig.SenderID, StreamID: p.StreamID})

	case domain.SignalSubscribe:
		// A peer wants our media: open negotiation toward it. The
		// offer send awaits an ack and must not block the read loop.
		go m.sendOfferTo(sig)

	case domain.SignalUnsubscribe:
		log.Debug().Str("module", "rtc").Str("user", string(sig.SenderID)).Msg("peer unsubscribed")

	case domain.SignalOffer:
		go m.answerOffer(sig)

	case domain.SignalAnswer:
		var p domain.SDPPayload
		if err := sig.DecodePayload(&p); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Msg("bad answer payload")
			return
		}
		if err := m.engine.HandleAnswer(context.Background(), sig.SenderID, p.SDP); err != nil {
			log.Error().Err(err).Str("module", "rtc").Str("user", string(sig.SenderID)).Msg("apply answer")
			m.emit(Event{Type: EventError, UserID: sig.SenderID, Err: m.wrap("rtc.answer", err)})
		}

	case domain.SignalICECandidate:
		var p domain.ICECandidatePayload
		if err := sig.DecodePayload(&p); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Msg("bad candidate payload")
			return
		}
		if err := m.engine.AddRemoteCandidate(sig.SenderID, p); err != nil {
			// Candidates are redundant; a failed one is not fatal.
			log.Warn().Err(err).Str("module", "rtc").Str("user", string(sig.SenderID)).Msg("add candidate")
		}

	case domain.SignalAck:
		// Acks never reach the handler; the channel consumes them.
	}
}

func (m *Manager) sendOfferTo(sig domain.Signal) {
	ctx, cancel := context.WithTimeout(context.Background(), m.sig.AckTimeout())
	defer cancel()

	var p domain.SubscribePayload
	if err := sig.DecodePayload(&p); err != nil {
		log.Warn().Err(err).Str("module", "rtc").Msg("bad subscribe payload")
		return
	}
	sdp, err := m.engine.CreateOffer(ctx, sig.SenderID)
	if err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("user", string(sig.SenderID)).Msg("create offer")
		m.emit(Event{Type: EventError, UserID: sig.SenderID, Err: m.wrap("rtc.offer", err)})
		return
	}
	if err := m.sig.SendOffer(ctx, sig.RoomID, sig.SenderID, p.StreamID, sdp); err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("user", string(sig.SenderID)).Msg("send offer")
		m.emit(Event{Type: EventError, UserID: sig.SenderID, Err: err})
	}
}

func (m *Manager) answerOffer(sig domain.Signal) {
	ctx, cancel := context.WithTimeout(context.Background(), m.sig.AckTimeout())
	defer cancel()

	var p domain.SDPPayload
	if err := sig.DecodePayload(&p); err != nil {
		log.Warn().Err(err).Str("module", "rtc").Msg("bad offer payload")
		return
	}
	answer, err := m.engine.HandleOffer(ctx, sig.SenderID, p.SDP)
	if err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("user", string(sig.SenderID)).Msg("apply offer")
		m.emit(Event{Type: EventError, UserID: sig.SenderID, Err: m.wrap("rtc.offer", err)})
		return
	}
	if err := m.sig.SendAnswer(ctx, sig.RoomID, sig.SenderID, p.StreamID, answer); err != nil {
		log.Error().Err(err).Str("module", "rtc").Str("user", string(sig.SenderID)).Msg("send answer")
		m.emit(Event{Type: EventError, UserID: sig.SenderID, Err: err})
	}
}

// addPeer records a room member. Returns false when already present,
// which keeps duplicate JOIN delivery a no-op.
func (m *Manager) addPeer(user domain.UserID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sess.peers[user]; ok {
		return false
	}
	m.sess.peers[user] = struct{}{}
	return true
}

func (m *Manager) removePeer(user domain.UserID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sess.peers[user]; !ok {
		return false
	}
	delete(m.sess.peers, user)
	delete(m.sess.remote, user)
	return true
}

// pumpEngineEvents folds engine notifications into the session and
// re-emits them to the application.
func (m *Manager) pumpEngineEvents(events <-chan provider.Event, done <-chan struct{}) {
	for {
		select {
		case <-done:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			m.handleEngineEvent(ev)
		}
	}
}

func (m *Manager) handleEngineEvent(ev provider.Event) {
	switch ev.Type {
	case provider.EventRoomStateChanged:
		m.mu.Lock()
		m.sess.roomState = ev.RoomState
		m.mu.Unlock()
		m.emit(Event{Type: EventRoomStateChanged, RoomState: ev.RoomState})

	case provider.EventUserJoined:
		if m.addPeer(ev.UserID) {
			m.emit(Event{Type: EventUserJoined, UserID: ev.UserID})
		}

	case provider.EventUserLeft:
		if m.removePeer(ev.UserID) {
			m.emit(Event{Type: EventUserLeft, UserID: ev.UserID})
		}

	case provider.EventStreamAdded:
		m.mu.Lock()
		m.sess.remote[ev.UserID] = ev.Stream
		m.mu.Unlock()
		m.emit(Event{Type: EventRemoteStreamAdded, UserID: ev.UserID, Stream: ev.Stream})

	case provider.EventStreamRemoved:
		m.mu.Lock()
		delete(m.sess.remote, ev.UserID)
		m.mu.Unlock()
		m.emit(Event{Type: EventRemoteStreamRemoved, UserID: ev.UserID, Stream: ev.Stream})

	case provider.EventLocalCandidate:
		m.mu.Lock()
		joined := m.sess.state == domain.StateJoined || m.sess.state == domain.StateJoining
		room := m.sess.roomID
		m.mu.Unlock()
		if !joined {
			return
		}
		if err := m.sig.SendICECandidate(context.Background(), room, ev.UserID, ev.Candidate); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Str("user", string(ev.UserID)).Msg("candidate send failed")
		}

	case provider.EventNetworkQuality:
		m.emit(Event{Type: EventNetworkQuality, UserID: ev.UserID, Quality: ev.Quality})

	case provider.EventError:
		m.emit(Event{Type: EventError, Err: m.wrap("rtc.engine", ev.Err)})
	}
}
