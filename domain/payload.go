package domain

// Kind-specific signal payloads. Field names follow the JS-style wire
// shapes used by WebRTC signaling (sdpMid, sdpMLineIndex).

// SDPPayload carries an OFFER or ANSWER description together with the
// logical stream it negotiates.
type SDPPayload struct {
	StreamID StreamID `json:"stream_id"`
	SDP      string   `json:"sdp"`
}

// ICECandidatePayload carries one gathered candidate.
type ICECandidatePayload struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid,omitempty"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex,omitempty"`
}

// StreamPayload announces a PUBLISH or UNPUBLISH of a local stream.
type StreamPayload struct {
	StreamID StreamID `json:"stream_id"`
}

// SubscribePayload asks a peer for its published stream.
type SubscribePayload struct {
	StreamID StreamID `json:"stream_id,omitempty"`
}

// AckPayload references the acknowledged signal by id.
type AckPayload struct {
	Ref string `json:"ref"`
}
