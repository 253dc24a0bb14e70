// Package pion is a media engine built on pion/webrtc: one
// PeerConnection per remote user, static RTP tracks for local streams.
// SDP and ICE travel through the orchestrator's signaling channel, not
// through any vendor cloud.
package pion

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/openchat/rtckit/domain"
	"github.com/openchat/rtckit/provider"
)

// Vendor is the name this engine registers under.
const Vendor provider.Vendor = "pion"

func init() {
	provider.Register(Vendor, func() provider.Engine { return New() })
}

const eventBuffer = 32

type localStream struct {
	stream    provider.Stream
	tracks    []webrtc.TrackLocal
	published bool
}

// Engine implements provider.Engine on a mesh of peer connections.
type Engine struct {
	mu        sync.Mutex
	cfg       provider.Config
	rtcConfig webrtc.Configuration
	room      domain.RoomID

	peers  map[domain.UserID]*peerLink
	local  map[domain.StreamID]*localStream
	remote map[domain.UserID]provider.Stream

	audioEnabled bool
	videoEnabled bool

	events      chan provider.Event
	initialized bool
	closed      bool
}

func New() *Engine {
	return &Engine{
		peers:  make(map[domain.UserID]*peerLink),
		local:  make(map[domain.StreamID]*localStream),
		remote: make(map[domain.UserID]provider.Stream),
		events: make(chan provider.Event, eventBuffer),
	}
}

func (e *Engine) Init(_ context.Context, cfg provider.Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.initialized {
		return domain.Errorf(domain.CodeInvalidState, "pion.Init", "already initialized")
	}
	if cfg.LocalUserID == "" {
		return domain.Errorf(domain.CodeInvalidParam, "pion.Init", "local user id is required")
	}
	e.cfg = cfg
	e.rtcConfig = defaultWebRTCConfig(cfg.ICEServers)
	e.audioEnabled = true
	e.videoEnabled = true
	e.initialized = true
	return nil
}

func (e *Engine) Destroy(_ context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	peers := e.peers
	e.peers = make(map[domain.UserID]*peerLink)
	e.local = make(map[domain.StreamID]*localStream)
	e.remote = make(map[domain.UserID]provider.Stream)
	e.mu.Unlock()

	for _, l := range peers {
		l.close()
	}
	close(e.events)
	return nil
}

func (e *Engine) JoinRoom(_ context.Context, room domain.RoomID) error {
	e.mu.Lock()
	if !e.initialized || e.closed {
		e.mu.Unlock()
		return domain.Errorf(domain.CodeInvalidState, "pion.JoinRoom", "engine not ready")
	}
	e.room = room
	e.mu.Unlock()

	e.emit(provider.Event{Type: provider.EventRoomStateChanged, RoomState: domain.RoomConnecting})
	// A mesh engine has no room server; connectivity is per-peer and
	// the room is considered up as soon as signaling can flow.
	e.emit(provider.Event{Type: provider.EventRoomStateChanged, RoomState: domain.RoomConnected})
	return nil
}

func (e *Engine) LeaveRoom(_ context.Context) error {
	e.mu.Lock()
	e.room = ""
	peers := e.peers
	e.peers = make(map[domain.UserID]*peerLink)
	e.remote = make(map[domain.UserID]provider.Stream)
	e.mu.Unlock()

	for _, l := range peers {
		l.close()
	}
	e.emit(provider.Event{Type: provider.EventRoomStateChanged, RoomState: domain.RoomIdle})
	return nil
}

func (e *Engine) CreateLocalStream(_ context.Context, opts provider.StreamOptions) (provider.Stream, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized || e.closed {
		return provider.Stream{}, domain.Errorf(domain.CodeInvalidState, "pion.CreateLocalStream", "engine not ready")
	}
	if !opts.Audio && !opts.Video {
		return provider.Stream{}, domain.Errorf(domain.CodeInvalidParam, "pion.CreateLocalStream", "stream needs audio or video")
	}

	id := domain.StreamID(uuid.NewString())
	ls := &localStream{
		stream: provider.Stream{ID: id, UserID: e.cfg.LocalUserID, Audio: opts.Audio, Video: opts.Video},
	}
	if opts.Audio {
		track, err := webrtc.NewTrackLocalStaticRTP(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}, "audio", string(id))
		if err != nil {
			return provider.Stream{}, domain.NewError(domain.CodeEngine, "pion.CreateLocalStream", err)
		}
		ls.tracks = append(ls.tracks, track)
	}
	if opts.Video {
		track, err := webrtc.NewTrackLocalStaticRTP(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", string(id))
		if err != nil {
			return provider.Stream{}, domain.NewError(domain.CodeEngine, "pion.CreateLocalStream", err)
		}
		ls.tracks = append(ls.tracks, track)
	}
	e.local[id] = ls
	return ls.stream, nil
}

func (e *Engine) DestroyLocalStream(_ context.Context, id domain.StreamID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ls, ok := e.local[id]
	if !ok {
		return domain.Errorf(domain.CodeStreamNotFound, "pion.DestroyLocalStream", "stream %s", id)
	}
	if ls.published {
		for _, l := range e.peers {
			if err := l.removeTracksOf(id); err != nil {
				log.Warn().Err(err).Str("module", "provider.pion").Str("stream", string(id)).Msg("detach on destroy")
			}
		}
	}
	delete(e.local, id)
	return nil
}

func (e *Engine) PublishStream(_ context.Context, id domain.StreamID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ls, ok := e.local[id]
	if !ok {
		return domain.Errorf(domain.CodeStreamNotFound, "pion.PublishStream", "stream %s", id)
	}
	for user, l := range e.peers {
		for _, track := range ls.tracks {
			if _, err := l.addTrack(track); err != nil {
				return domain.Errorf(domain.CodeEngine, "pion.PublishStream", "attach to %s: %v", user, err)
			}
		}
	}
	ls.published = true
	return nil
}

func (e *Engine) UnpublishStream(_ context.Context, id domain.StreamID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	ls, ok := e.local[id]
	if !ok {
		return domain.Errorf(domain.CodeStreamNotFound, "pion.UnpublishStream", "stream %s", id)
	}
	for _, l := range e.peers {
		if err := l.removeTracksOf(id); err != nil {
			return domain.NewError(domain.CodeEngine, "pion.UnpublishStream", err)
		}
	}
	ls.published = false
	return nil
}

func (e *Engine) SubscribeStream(ctx context.Context, user domain.UserID, opts provider.SubscribeOptions) (provider.Stream, error) {
	l, err := e.ensureLink(ctx, user)
	if err != nil {
		return provider.Stream{}, err
	}
	if opts.Audio {
		if _, err := l.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeAudio,
			webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
			return provider.Stream{}, domain.NewError(domain.CodeEngine, "pion.SubscribeStream", err)
		}
	}
	if opts.Video {
		if _, err := l.pc.AddTransceiverFromKind(webrtc.RTPCodecTypeVideo,
			webrtc.RTPTransceiverInit{Direction: webrtc.RTPTransceiverDirectionRecvonly}); err != nil {
			return provider.Stream{}, domain.NewError(domain.CodeEngine, "pion.SubscribeStream", err)
		}
	}

	// The handle is immediate; remote tracks surface later through
	// stream-added events once negotiation completes.
	stream := provider.Stream{ID: domain.StreamID(user), UserID: user, Audio: opts.Audio, Video: opts.Video}
	e.mu.Lock()
	e.remote[user] = stream
	e.mu.Unlock()
	return stream, nil
}

func (e *Engine) UnsubscribeStream(_ context.Context, user domain.UserID) error {
	e.mu.Lock()
	stream, ok := e.remote[user]
	delete(e.remote, user)
	l := e.peers[user]
	delete(e.peers, user)
	e.mu.Unlock()

	if !ok {
		return domain.Errorf(domain.CodeStreamNotFound, "pion.UnsubscribeStream", "no stream from %s", user)
	}
	if l != nil {
		l.close()
	}
	e.emit(provider.Event{Type: provider.EventStreamRemoved, UserID: user, Stream: stream})
	return nil
}

func (e *Engine) CreateOffer(ctx context.Context, to domain.UserID) (string, error) {
	l, err := e.ensureLink(ctx, to)
	if err != nil {
		return "", err
	}
	offer, err := l.createOffer()
	if err != nil {
		return "", domain.NewError(domain.CodeEngine, "pion.CreateOffer", err)
	}
	return offer.SDP, nil
}

func (e *Engine) HandleOffer(ctx context.Context, from domain.UserID, sdp string) (string, error) {
	l, err := e.ensureLink(ctx, from)
	if err != nil {
		return "", err
	}
	answer, err := l.applyOfferAndCreateAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: sdp})
	if err != nil {
		return "", domain.NewError(domain.CodeEngine, "pion.HandleOffer", err)
	}
	return answer.SDP, nil
}

func (e *Engine) HandleAnswer(_ context.Context, from domain.UserID, sdp string) error {
	e.mu.Lock()
	l, ok := e.peers[from]
	e.mu.Unlock()
	if !ok {
		return domain.Errorf(domain.CodeInvalidState, "pion.HandleAnswer", "no link toward %s", from)
	}
	if err := l.applyAnswer(webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: sdp}); err != nil {
		return domain.NewError(domain.CodeEngine, "pion.HandleAnswer", err)
	}
	return nil
}

func (e *Engine) AddRemoteCandidate(from domain.UserID, cand domain.ICECandidatePayload) error {
	e.mu.Lock()
	l, ok := e.peers[from]
	e.mu.Unlock()
	if !ok {
		return domain.Errorf(domain.CodeInvalidState, "pion.AddRemoteCandidate", "no link toward %s", from)
	}
	ci := webrtc.ICECandidateInit{Candidate: cand.Candidate}
	if cand.SDPMid != "" {
		mid := cand.SDPMid
		ci.SDPMid = &mid
	}
	idx := cand.SDPMLineIndex
	ci.SDPMLineIndex = &idx
	if err := l.addCandidate(ci); err != nil {
		return domain.NewError(domain.CodeEngine, "pion.AddRemoteCandidate", err)
	}
	return nil
}

func (e *Engine) SwitchCamera(deviceID string) error {
	if deviceID == "" {
		return domain.Errorf(domain.CodeInvalidParam, "pion.SwitchCamera", "empty device id")
	}
	// Static RTP tracks have no capture device; the application feeds
	// packets itself.
	return domain.Errorf(domain.CodeNotSupported, "pion.SwitchCamera", "engine has no capture pipeline")
}

func (e *Engine) SwitchMicrophone(deviceID string) error {
	if deviceID == "" {
		return domain.Errorf(domain.CodeInvalidParam, "pion.SwitchMicrophone", "empty device id")
	}
	return domain.Errorf(domain.CodeNotSupported, "pion.SwitchMicrophone", "engine has no capture pipeline")
}

func (e *Engine) EnableVideo(enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.videoEnabled = enabled
	return nil
}

func (e *Engine) EnableAudio(enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.audioEnabled = enabled
	return nil
}

func (e *Engine) Statistics() provider.Statistics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return provider.Statistics{
		PeerCount:     len(e.peers),
		LocalStreams:  len(e.local),
		RemoteStreams: len(e.remote),
	}
}

func (e *Engine) Events() <-chan provider.Event { return e.events }

// ensureLink returns the link toward user, creating and wiring one on
// first use. Published local tracks are attached to new links.
func (e *Engine) ensureLink(ctx context.Context, user domain.UserID) (*peerLink, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized || e.closed {
		return nil, domain.Errorf(domain.CodeInvalidState, "pion.link", "engine not ready")
	}
	if l, ok := e.peers[user]; ok {
		return l, nil
	}

	l, err := newPeerLink(e.rtcConfig, user)
	if err != nil {
		return nil, domain.NewError(domain.CodeEngine, "pion.link", err)
	}
	l.onICE = func(ci webrtc.ICECandidateInit) {
		cand := domain.ICECandidatePayload{Candidate: ci.Candidate}
		if ci.SDPMid != nil {
			cand.SDPMid = *ci.SDPMid
		}
		if ci.SDPMLineIndex != nil {
			cand.SDPMLineIndex = *ci.SDPMLineIndex
		}
		e.emit(provider.Event{Type: provider.EventLocalCandidate, UserID: user, Candidate: cand})
	}
	l.onTrack = func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		stream := provider.Stream{
			ID:     domain.StreamID(track.StreamID()),
			UserID: user,
			Audio:  track.Kind() == webrtc.RTPCodecTypeAudio,
			Video:  track.Kind() == webrtc.RTPCodecTypeVideo,
		}
		e.mu.Lock()
		e.remote[user] = stream
		e.mu.Unlock()
		e.emit(provider.Event{Type: provider.EventStreamAdded, UserID: user, Stream: stream})
	}
	l.onClosed = func() {
		e.mu.Lock()
		stream, had := e.remote[user]
		delete(e.remote, user)
		delete(e.peers, user)
		e.mu.Unlock()
		if had {
			e.emit(provider.Event{Type: provider.EventStreamRemoved, UserID: user, Stream: stream})
		}
	}
	l.start(ctx)

	for _, ls := range e.local {
		if !ls.published {
			continue
		}
		for _, track := range ls.tracks {
			if _, err := l.addTrack(track); err != nil {
				l.close()
				return nil, domain.NewError(domain.CodeEngine, "pion.link", err)
			}
		}
	}

	e.peers[user] = l
	return l, nil
}

// emit publishes without blocking. The send happens under the lock so
// it cannot race Destroy closing the channel.
func (e *Engine) emit(ev provider.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	select {
	case e.events <- ev:
	default:
		log.Warn().Str("module", "provider.pion").Str("event", string(ev.Type)).Msg("event buffer full, dropped")
	}
}
