// Package domain contains the wire schema and entity types of the
// signaling protocol, without transport or lifecycle logic.
package domain

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

type (
	UserID   string
	RoomID   string
	StreamID string
)

// SignalKind tags one message of the signaling protocol.
type SignalKind string

const (
	SignalJoin         SignalKind = "join"
	SignalLeave        SignalKind = "leave"
	SignalPublish      SignalKind = "publish"
	SignalUnpublish    SignalKind = "unpublish"
	SignalSubscribe    SignalKind = "subscribe"
	SignalUnsubscribe  SignalKind = "unsubscribe"
	SignalOffer        SignalKind = "offer"
	SignalAnswer       SignalKind = "answer"
	SignalICECandidate SignalKind = "candidate"
	SignalAck          SignalKind = "ack"
)

// NeedsAck reports whether a kind belongs to the acknowledged set.
// Handshake signals break call setup when lost; candidates are
// self-healing and the publish/subscribe family is advisory.
func (k SignalKind) NeedsAck() bool {
	switch k {
	case SignalJoin, SignalLeave, SignalOffer, SignalAnswer:
		return true
	}
	return false
}

func (k SignalKind) Known() bool {
	switch k {
	case SignalJoin, SignalLeave, SignalPublish, SignalUnpublish,
		SignalSubscribe, SignalUnsubscribe, SignalOffer, SignalAnswer,
		SignalICECandidate, SignalAck:
		return true
	}
	return false
}

// Signal is one immutable protocol message. Retries must build a new
// Signal; the ID is the correlation key for acknowledgements.
type Signal struct {
	ID       string          `json:"id" validate:"required"`
	Kind     SignalKind      `json:"kind" validate:"required"`
	RoomID   RoomID          `json:"room" validate:"required"`
	SenderID UserID          `json:"from" validate:"required"`
	TargetID UserID          `json:"to,omitempty"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	SentAt   int64           `json:"sent_at" validate:"required"`
}

// Broadcast reports whether the signal addresses the whole room.
func (s Signal) Broadcast() bool { return s.TargetID == "" }

// DecodePayload unmarshals the kind-specific payload into dst.
func (s Signal) DecodePayload(dst any) error {
	if len(s.Payload) == 0 {
		return ErrEmptyPayload
	}
	return json.Unmarshal(s.Payload, dst)
}

// NewSignal builds a fully determined Signal: fresh unique id and a
// monotonically non-decreasing sender timestamp. Target may be empty
// for room broadcast.
func NewSignal(kind SignalKind, room RoomID, sender, target UserID, payload any) (Signal, error) {
	s := Signal{
		ID:       uuid.NewString(),
		Kind:     kind,
		RoomID:   room,
		SenderID: sender,
		TargetID: target,
		SentAt:   nextSentAt(),
	}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Signal{}, err
		}
		s.Payload = raw
	}
	return s, nil
}

var validate = validator.New()

// ValidateSignal checks the structural contract of an inbound message.
// Callers drop invalid signals; they never propagate as errors.
func ValidateSignal(s Signal) error {
	if err := validate.Struct(s); err != nil {
		return err
	}
	if !s.Kind.Known() {
		return ErrUnknownKind
	}
	return nil
}

var lastSentAt atomic.Int64

// nextSentAt returns wall-clock millis, clamped so that values from
// one process never decrease even if the clock steps backwards.
func nextSentAt() int64 {
	for {
		now := time.Now().UnixMilli()
		last := lastSentAt.Load()
		if now < last {
			now = last
		}
		if lastSentAt.CompareAndSwap(last, now) {
			return now
		}
	}
}
