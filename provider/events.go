package provider

import "github.com/openchat/rtckit/domain"

// EventType tags one engine notification.
type EventType string

const (
	EventRoomStateChanged EventType = "room_state_changed"
	EventUserJoined       EventType = "user_joined"
	EventUserLeft         EventType = "user_left"
	EventStreamAdded      EventType = "stream_added"
	EventStreamRemoved    EventType = "stream_removed"
	EventLocalCandidate   EventType = "local_candidate"
	EventNetworkQuality   EventType = "network_quality"
	EventError            EventType = "error"
)

// NetworkQuality scores a link from 0 (broken) to 5 (excellent).
type NetworkQuality struct {
	UserID   domain.UserID
	Uplink   int
	Downlink int
}

// Event is one engine notification. Only the fields relevant to the
// Type are set.
type Event struct {
	Type      EventType
	RoomState domain.RoomState
	UserID    domain.UserID
	Stream    Stream
	Candidate domain.ICECandidatePayload
	Quality   NetworkQuality
	Err       error
}
