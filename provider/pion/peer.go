package pion

import (
	"context"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/openchat/rtckit/domain"
)

// peerLink wraps one PeerConnection toward a single remote user.
type peerLink struct {
	pc     *webrtc.PeerConnection
	user   domain.UserID
	cancel context.CancelFunc

	onICE    func(webrtc.ICECandidateInit)
	onTrack  func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
	onClosed func()
}

func defaultWebRTCConfig(iceServers []string) webrtc.Configuration {
	if len(iceServers) == 0 {
		iceServers = []string{"stun:stun.l.google.com:19302"}
	}
	return webrtc.Configuration{
		ICEServers: []webrtc.ICEServer{{URLs: iceServers}},
	}
}

func newPeerLink(cfg webrtc.Configuration, user domain.UserID) (*peerLink, error) {
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	return &peerLink{pc: pc, user: user}, nil
}

func (l *peerLink) start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	l.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "provider.pion").Str("user", string(l.user)).Str("ice_state", s.String()).Msg("ICE state")
		if s == webrtc.ICEConnectionStateDisconnected ||
			s == webrtc.ICEConnectionStateFailed ||
			s == webrtc.ICEConnectionStateClosed {
			cancel()
		}
	})

	l.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "provider.pion").Str("user", string(l.user)).Str("peer_state", s.String()).Msg("peer state")
		if s == webrtc.PeerConnectionStateFailed ||
			s == webrtc.PeerConnectionStateClosed {
			if l.onClosed != nil {
				l.onClosed()
			}
		}
	})

	l.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand != nil && l.onICE != nil {
			l.onICE(cand.ToJSON())
		}
	})

	l.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().Str("module", "provider.pion").Str("user", string(l.user)).
			Str("kind", track.Kind().String()).Str("stream_id", track.StreamID()).Msg("remote track")
		if l.onTrack != nil {
			l.onTrack(track, receiver)
		}
	})
}

func (l *peerLink) createOffer() (*webrtc.SessionDescription, error) {
	offer, err := l.pc.CreateOffer(nil)
	if err != nil {
		return nil, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(l.pc)
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return nil, err
	}
	<-gatherComplete
	return l.pc.LocalDescription(), nil
}

func (l *peerLink) applyOfferAndCreateAnswer(offer webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := l.pc.SetRemoteDescription(offer); err != nil {
		return nil, err
	}
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return nil, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(l.pc)
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return nil, err
	}
	<-gatherComplete
	return l.pc.LocalDescription(), nil
}

func (l *peerLink) applyAnswer(answer webrtc.SessionDescription) error {
	return l.pc.SetRemoteDescription(answer)
}

func (l *peerLink) addCandidate(ci webrtc.ICECandidateInit) error {
	return l.pc.AddICECandidate(ci)
}

func (l *peerLink) addTrack(track webrtc.TrackLocal) (*webrtc.RTPSender, error) {
	return l.pc.AddTrack(track)
}

// removeTracksOf detaches every sender whose track belongs to the
// given logical stream.
func (l *peerLink) removeTracksOf(id domain.StreamID) error {
	for _, sender := range l.pc.GetSenders() {
		track := sender.Track()
		if track == nil || track.StreamID() != string(id) {
			continue
		}
		if err := l.pc.RemoveTrack(sender); err != nil {
			return err
		}
	}
	return nil
}

func (l *peerLink) close() {
	if l.cancel != nil {
		l.cancel()
	}
	if l.pc != nil {
		if err := l.pc.Close(); err != nil {
			log.Error().Err(err).Str("module", "provider.pion").Str("user", string(l.user)).Msg("close error")
		}
	}
}
