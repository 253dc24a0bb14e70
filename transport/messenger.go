// Package transport abstracts the instant-messaging channel the SDK
// borrows for signaling. The signaling layer is its only consumer.
package transport

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/openchat/rtckit/domain"
)

// ErrBackpressure is returned when an outbound queue is full. The
// caller decides whether dropping is acceptable.
var ErrBackpressure = errors.New("backpressure")

// Message is one custom message carried by the IM channel. Type lets
// consumers filter their own traffic from ordinary chat messages.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Target addresses a message: unicast when UserID is set, otherwise a
// broadcast to every member of RoomID. The transport may deliver a
// copy of a broadcast back to its sender.
type Target struct {
	UserID domain.UserID
	RoomID domain.RoomID
}

// Messenger is the send/receive capability of the messaging layer.
// Delivery is at-most-once and unordered across senders; reliability
// on top of it belongs to the signaling layer.
type Messenger interface {
	// Send transmits one custom message. It must not block beyond the
	// transport's own send latency.
	Send(ctx context.Context, msg Message, to Target) error
	// Subscribe returns the inbound message stream and a cancel func.
	// The channel is closed when the messenger shuts down.
	Subscribe() (<-chan Message, func())
	Close() error
}
