// Package provider defines the media engine boundary. The
// orchestrator drives this contract only and never imports a concrete
// vendor type; vendors register themselves by name.
package provider

import (
	"context"

	"github.com/openchat/rtckit/domain"
)

// Vendor names a concrete media engine implementation.
type Vendor string

// Credentials authenticate against the vendor's media backend.
type Credentials struct {
	AppID string
	Token string
}

// Config initializes a media engine for one local participant.
type Config struct {
	LocalUserID domain.UserID
	Credentials Credentials
	ICEServers  []string
	Media       StreamOptions
}

// StreamOptions describes the media constraints of a local stream.
type StreamOptions struct {
	Audio        bool
	Video        bool
	CameraID     string
	MicrophoneID string
}

// SubscribeOptions selects which media of a remote stream to receive.
type SubscribeOptions struct {
	Audio bool
	Video bool
}

// Stream is an opaque handle to a local or remote media stream. The
// engine keeps the media internals; holders only pass the handle back.
type Stream struct {
	ID     domain.StreamID
	UserID domain.UserID
	Audio  bool
	Video  bool
}

// Statistics is a point-in-time snapshot of engine transport health.
type Statistics struct {
	BytesSent     uint64
	BytesReceived uint64
	PeerCount     int
	LocalStreams  int
	RemoteStreams int
}

// Engine is the consumed media capability. Every call may fail and
// may complete asynchronously inside the engine; callers never assume
// synchronous media effects.
type Engine interface {
	Init(ctx context.Context, cfg Config) error
	Destroy(ctx context.Context) error

	JoinRoom(ctx context.Context, room domain.RoomID) error
	LeaveRoom(ctx context.Context) error

	CreateLocalStream(ctx context.Context, opts StreamOptions) (Stream, error)
	DestroyLocalStream(ctx context.Context, id domain.StreamID) error
	PublishStream(ctx context.Context, id domain.StreamID) error
	UnpublishStream(ctx context.Context, id domain.StreamID) error

	SubscribeStream(ctx context.Context, user domain.UserID, opts SubscribeOptions) (Stream, error)
	UnsubscribeStream(ctx context.Context, user domain.UserID) error

	// Negotiation entry points, driven by the orchestrator's signal
	// handler. CreateOffer opens (or reuses) the link toward a peer.
	CreateOffer(ctx context.Context, to domain.UserID) (sdp string, err error)
	HandleOffer(ctx context.Context, from domain.UserID, sdp string) (answer string, err error)
	HandleAnswer(ctx context.Context, from domain.UserID, sdp string) error
	AddRemoteCandidate(from domain.UserID, cand domain.ICECandidatePayload) error

	SwitchCamera(deviceID string) error
	SwitchMicrophone(deviceID string) error
	EnableVideo(enabled bool) error
	EnableAudio(enabled bool) error

	Statistics() Statistics

	// Events returns the engine's event stream. The channel is closed
	// by Destroy.
	Events() <-chan Event
}
