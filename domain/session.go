package domain

// ManagerState is the orchestrator life-cycle state.
type ManagerState int

const (
	StateIdle ManagerState = iota
	StateInitializing
	StateInitialized
	StateJoining
	StateJoined
	StateLeaving
	StateDestroying
	StateError
)

func (s ManagerState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateInitialized:
		return "initialized"
	case StateJoining:
		return "joining"
	case StateJoined:
		return "joined"
	case StateLeaving:
		return "leaving"
	case StateDestroying:
		return "destroying"
	case StateError:
		return "error"
	}
	return "unknown"
}

// RoomState is connectivity as reported by the media engine. It can
// drop and recover independently of the orchestrator's own state.
type RoomState int

const (
	RoomIdle RoomState = iota
	RoomConnecting
	RoomConnected
	RoomReconnecting
	RoomDisconnected
	RoomError
)

func (s RoomState) String() string {
	switch s {
	case RoomIdle:
		return "idle"
	case RoomConnecting:
		return "connecting"
	case RoomConnected:
		return "connected"
	case RoomReconnecting:
		return "reconnecting"
	case RoomDisconnected:
		return "disconnected"
	case RoomError:
		return "error"
	}
	return "unknown"
}

// PublishState tracks one local stream. A stream holds exactly one of
// these at a time.
type PublishState int

const (
	PublishIdle PublishState = iota
	Publishing
	Published
	PublishFailed
)

func (s PublishState) String() string {
	switch s {
	case PublishIdle:
		return "idle"
	case Publishing:
		return "publishing"
	case Published:
		return "published"
	case PublishFailed:
		return "error"
	}
	return "unknown"
}
