// Package signaling implements the reliable-enough signal channel on
// top of an unreliable messaging transport: at-least-once delivery
// with acknowledgements for handshake signals, best-effort for the
// rest, and idempotent inbound dispatch.
package signaling

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openchat/rtckit/domain"
	"github.com/openchat/rtckit/transport"
)

// MessageType tags signaling traffic so it can be filtered from
// ordinary chat messages on the shared IM channel.
const MessageType = "rtckit.signal"

// DefaultAckTimeout bounds the wait for an acknowledgement.
const DefaultAckTimeout = 10 * time.Second

// Channel sends and receives protocol signals through an injected
// messaging capability. Exactly one handler receives validated,
// non-self, non-ack inbound signals.
type Channel struct {
	messenger  transport.Messenger
	self       domain.UserID
	ackTimeout time.Duration

	pending *pendingTable

	mu      sync.Mutex
	handler func(domain.Signal)
	started bool
	stopped bool
	cancel  func()
	done    chan struct{}
}

// New builds a channel bound to the given messaging capability. A
// non-positive timeout selects DefaultAckTimeout.
func New(m transport.Messenger, self domain.UserID, ackTimeout time.Duration) *Channel {
	if ackTimeout <= 0 {
		ackTimeout = DefaultAckTimeout
	}
	return &Channel{
		messenger:  m,
		self:       self,
		ackTimeout: ackTimeout,
		pending:    newPendingTable(),
		done:       make(chan struct{}),
	}
}

// OnSignal registers the inbound handler. The handler must not block:
// it runs on the channel's read loop.
func (c *Channel) OnSignal(h func(domain.Signal)) {
	c.mu.Lock()
	c.handler = h
	c.mu.Unlock()
}

// Start subscribes to the messaging capability's inbound stream.
func (c *Channel) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return domain.Errorf(domain.CodeInvalidState, "signaling.Start", "already started")
	}
	if c.stopped {
		return domain.NewError(domain.CodeDestroyed, "signaling.Start", nil)
	}
	ch, cancel := c.messenger.Subscribe()
	c.cancel = cancel
	c.started = true
	go c.readLoop(ch)
	return nil
}

// Stop unsubscribes and fails every pending acknowledgement wait.
func (c *Channel) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	cancel := c.cancel
	c.mu.Unlock()

	close(c.done)
	if cancel != nil {
		cancel()
	}
	c.pending.failAll(domain.NewError(domain.CodeDestroyed, "signaling.Stop", nil))
}

// PendingCount reports the number of signals awaiting acknowledgement.
func (c *Channel) PendingCount() int { return c.pending.len() }

// AckTimeout reports the configured acknowledgement deadline.
func (c *Channel) AckTimeout() time.Duration { return c.ackTimeout }

// SendJoin announces presence to the room and waits for the ack.
func (c *Channel) SendJoin(ctx context.Context, room domain.RoomID) error {
	return c.sendKind(ctx, domain.SignalJoin, room, "", nil)
}

// SendLeave announces departure and waits for the ack.
func (c *Channel) SendLeave(ctx context.Context, room domain.RoomID) error {
	return c.sendKind(ctx, domain.SignalLeave, room, "", nil)
}

// SendPublish advertises a local stream to the room, best-effort.
func (c *Channel) SendPublish(ctx context.Context, room domain.RoomID, stream domain.StreamID) error {
	return c.sendKind(ctx, domain.SignalPublish, room, "", domain.StreamPayload{StreamID: stream})
}

// SendUnpublish withdraws a local stream advertisement, best-effort.
func (c *Channel) SendUnpublish(ctx context.Context, room domain.RoomID, stream domain.StreamID) error {
	return c.sendKind(ctx, domain.SignalUnpublish, room, "", domain.StreamPayload{StreamID: stream})
}

// SendSubscribe asks target for its published stream, best-effort.
func (c *Channel) SendSubscribe(ctx context.Context, room domain.RoomID, target domain.UserID, stream domain.StreamID) error {
	return c.sendKind(ctx, domain.SignalSubscribe, room, target, domain.SubscribePayload{StreamID: stream})
}

// SendUnsubscribe withdraws a subscription, best-effort.
func (c *Channel) SendUnsubscribe(ctx context.Context, room domain.RoomID, target domain.UserID, stream domain.StreamID) error {
	return c.sendKind(ctx, domain.SignalUnsubscribe, room, target, domain.SubscribePayload{StreamID: stream})
}

// SendOffer unicasts an SDP offer and waits for the ack.
func (c *Channel) SendOffer(ctx context.Context, room domain.RoomID, target domain.UserID, stream domain.StreamID, sdp string) error {
	return c.sendKind(ctx, domain.SignalOffer, room, target, domain.SDPPayload{StreamID: stream, SDP: sdp})
}

// SendAnswer unicasts an SDP answer and waits for the ack.
func (c *Channel) SendAnswer(ctx context.Context, room domain.RoomID, target domain.UserID, stream domain.StreamID, sdp string) error {
	return c.sendKind(ctx, domain.SignalAnswer, room, target, domain.SDPPayload{StreamID: stream, SDP: sdp})
}

// SendICECandidate unicasts one gathered candidate, fire-and-forget.
// Candidates are numerous and self-healing, so loss is tolerated.
func (c *Channel) SendICECandidate(ctx context.Context, room domain.RoomID, target domain.UserID, cand domain.ICECandidatePayload) error {
	return c.sendKind(ctx, domain.SignalICECandidate, room, target, cand)
}

func (c *Channel) sendKind(ctx context.Context, kind domain.SignalKind, room domain.RoomID, target domain.UserID, payload any) error {
	if room == "" {
		return domain.Errorf(domain.CodeInvalidParam, "signaling.send", "empty room id")
	}
	sig, err := domain.NewSignal(kind, room, c.self, target, payload)
	if err != nil {
		return domain.NewError(domain.CodeInvalidParam, "signaling.send", err)
	}
	return c.send(ctx, sig)
}

func (c *Channel) send(ctx context.Context, sig domain.Signal) error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return domain.NewError(domain.CodeDestroyed, "signaling.send", nil)
	}
	c.mu.Unlock()

	var p *pendingAck
	if sig.Kind.NeedsAck() {
		// Registered before the transmit so a fast ack cannot race
		// past the table.
		p = c.pending.add(sig, c.ackTimeout)
	}

	if err := c.transmit(ctx, sig); err != nil {
		if p != nil {
			c.pending.remove(sig.ID)
		}
		return err
	}

	log.Debug().Str("module", "signaling").Str("kind", string(sig.Kind)).
		Str("id", sig.ID).Str("room", string(sig.RoomID)).Msg("signal sent")

	if p == nil {
		return nil
	}
	select {
	case err := <-p.done:
		return err
	case <-ctx.Done():
		c.pending.remove(sig.ID)
		return ctx.Err()
	}
}

func (c *Channel) transmit(ctx context.Context, sig domain.Signal) error {
	raw, err := json.Marshal(sig)
	if err != nil {
		return domain.NewError(domain.CodeInvalidParam, "signaling.send", err)
	}
	msg := transport.Message{Type: MessageType, Payload: raw}
	to := transport.Target{UserID: sig.TargetID, RoomID: sig.RoomID}
	return c.messenger.Send(ctx, msg, to)
}

func (c *Channel) readLoop(ch <-chan transport.Message) {
	for {
		select {
		case <-c.done:
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			c.handleMessage(msg)
		}
	}
}

// handleMessage applies the inbound pipeline: marker filter,
// structural validation, self-echo suppression, ack dispatch,
// auto-ack, then handler dispatch. Untrusted input is dropped with a
// log line, never raised.
func (c *Channel) handleMessage(msg transport.Message) {
	if msg.Type != MessageType {
		return
	}

	var sig domain.Signal
	if err := json.Unmarshal(msg.Payload, &sig); err != nil {
		log.Warn().Err(err).Str("module", "signaling").Msg("malformed signal dropped")
		return
	}
	if err := domain.ValidateSignal(sig); err != nil {
		log.Warn().Err(err).Str("module", "signaling").Str("kind", string(sig.Kind)).Msg("invalid signal dropped")
		return
	}

	if sig.SenderID == c.self {
		return
	}

	if sig.Kind == domain.SignalAck {
		var ack domain.AckPayload
		if err := sig.DecodePayload(&ack); err != nil {
			log.Warn().Err(err).Str("module", "signaling").Msg("bad ack payload")
			return
		}
		if !c.pending.resolve(ack.Ref) {
			// Late or duplicate ack: expected under retransmission.
			log.Debug().Str("module", "signaling").Str("ref", ack.Ref).Msg("unmatched ack dropped")
		}
		return
	}

	// Acknowledge before dispatching so the peer's wait is not gated
	// on handler processing time.
	if sig.Kind.NeedsAck() {
		c.sendAck(sig)
	}

	c.mu.Lock()
	h := c.handler
	c.mu.Unlock()
	if h != nil {
		h(sig)
	}
}

func (c *Channel) sendAck(sig domain.Signal) {
	ack, err := domain.NewSignal(domain.SignalAck, sig.RoomID, c.self, sig.SenderID, domain.AckPayload{Ref: sig.ID})
	if err != nil {
		log.Error().Err(err).Str("module", "signaling").Msg("build ack")
		return
	}
	if err := c.transmit(context.Background(), ack); err != nil {
		log.Warn().Err(err).Str("module", "signaling").Str("ref", sig.ID).Msg("ack send failed")
	}
}
