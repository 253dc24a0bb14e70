package rtc

import (
	"github.com/openchat/rtckit/domain"
	"github.com/openchat/rtckit/provider"
)

// EventType tags one notification re-emitted to the application.
type EventType string

const (
	EventRoomStateChanged        EventType = "room_state_changed"
	EventUserJoined              EventType = "user_joined"
	EventUserLeft                EventType = "user_left"
	EventLocalStreamPublished    EventType = "local_stream_published"
	EventLocalStreamUnpublished  EventType = "local_stream_unpublished"
	EventRemoteStreamPublished   EventType = "remote_stream_published"
	EventRemoteStreamUnpublished EventType = "remote_stream_unpublished"
	EventRemoteStreamAdded       EventType = "remote_stream_added"
	EventRemoteStreamRemoved     EventType = "remote_stream_removed"
	EventNetworkQuality          EventType = "network_quality"
	EventError                   EventType = "error"
)

// Event is one application-facing notification. Only the fields
// relevant to the Type are set.
type Event struct {
	Type      EventType
	RoomState domain.RoomState
	UserID    domain.UserID
	StreamID  domain.StreamID
	Stream    provider.Stream
	Quality   provider.NetworkQuality
	Err       error
}
