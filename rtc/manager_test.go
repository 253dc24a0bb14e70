package rtc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openchat/rtckit/domain"
	"github.com/openchat/rtckit/provider"
	"github.com/openchat/rtckit/signaling"
	"github.com/openchat/rtckit/transport"
)

// relayMessenger plays the IM backend plus a cooperative remote peer:
// it records outbound signals and acknowledges the ones that require
// it, unless the test mutes that kind to simulate an unreachable room.
type relayMessenger struct {
	mu    sync.Mutex
	sent  []domain.Signal
	muted map[domain.SignalKind]bool
	inbox chan transport.Message

	peer domain.UserID
}

func newRelayMessenger(mute ...domain.SignalKind) *relayMessenger {
	m := &relayMessenger{
		muted: make(map[domain.SignalKind]bool),
		inbox: make(chan transport.Message, 64),
		peer:  "peer-1",
	}
	for _, k := range mute {
		m.muted[k] = true
	}
	return m
}

func (m *relayMessenger) Send(_ context.Context, msg transport.Message, _ transport.Target) error {
	if msg.Type != signaling.MessageType {
		return nil
	}
	var sig domain.Signal
	if err := json.Unmarshal(msg.Payload, &sig); err != nil {
		return err
	}

	m.mu.Lock()
	m.sent = append(m.sent, sig)
	ack := sig.Kind.NeedsAck() && !m.muted[sig.Kind]
	m.mu.Unlock()

	if ack {
		reply, err := domain.NewSignal(domain.SignalAck, sig.RoomID, m.peer, sig.SenderID, domain.AckPayload{Ref: sig.ID})
		if err != nil {
			return err
		}
		raw, err := json.Marshal(reply)
		if err != nil {
			return err
		}
		select {
		case m.inbox <- transport.Message{Type: signaling.MessageType, Payload: raw}:
		default:
		}
	}
	return nil
}

func (m *relayMessenger) Subscribe() (<-chan transport.Message, func()) {
	return m.inbox, func() {}
}

func (m *relayMessenger) Close() error { return nil }

func (m *relayMessenger) sentOfKind(k domain.SignalKind) []domain.Signal {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Signal
	for _, s := range m.sent {
		if s.Kind == k {
			out = append(out, s)
		}
	}
	return out
}

func (m *relayMessenger) deliver(t *testing.T, sig domain.Signal) {
	t.Helper()
	raw, err := json.Marshal(sig)
	require.NoError(t, err)
	m.inbox <- transport.Message{Type: signaling.MessageType, Payload: raw}
}

func inbound(t *testing.T, kind domain.SignalKind, room domain.RoomID, sender, target domain.UserID, payload any) domain.Signal {
	t.Helper()
	sig, err := domain.NewSignal(kind, room, sender, target, payload)
	require.NoError(t, err)
	return sig
}

// fakeEngine records calls and fails on demand.
type fakeEngine struct {
	mu        sync.Mutex
	calls     []string
	fail      map[string]error
	events    chan provider.Event
	closeOnce sync.Once
	streamSeq int
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{
		fail:   make(map[string]error),
		events: make(chan provider.Event, 16),
	}
}

func (e *fakeEngine) step(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, name)
	return e.fail[name]
}

func (e *fakeEngine) called(name string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, c := range e.calls {
		if c == name {
			n++
		}
	}
	return n
}

func (e *fakeEngine) failWith(name string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.fail[name] = err
}

func (e *fakeEngine) Init(context.Context, provider.Config) error { return e.step("Init") }

func (e *fakeEngine) Destroy(context.Context) error {
	e.closeOnce.Do(func() { close(e.events) })
	return e.step("Destroy")
}

func (e *fakeEngine) JoinRoom(_ context.Context, _ domain.RoomID) error { return e.step("JoinRoom") }
func (e *fakeEngine) LeaveRoom(context.Context) error                   { return e.step("LeaveRoom") }

func (e *fakeEngine) CreateLocalStream(_ context.Context, opts provider.StreamOptions) (provider.Stream, error) {
	if err := e.step("CreateLocalStream"); err != nil {
		return provider.Stream{}, err
	}
	e.mu.Lock()
	e.streamSeq++
	id := domain.StreamID(fmt.Sprintf("local-%d", e.streamSeq))
	e.mu.Unlock()
	return provider.Stream{ID: id, Audio: opts.Audio, Video: opts.Video}, nil
}

func (e *fakeEngine) DestroyLocalStream(_ context.Context, _ domain.StreamID) error {
	return e.step("DestroyLocalStream")
}

func (e *fakeEngine) PublishStream(_ context.Context, _ domain.StreamID) error {
	return e.step("PublishStream")
}

func (e *fakeEngine) UnpublishStream(_ context.Context, _ domain.StreamID) error {
	return e.step("UnpublishStream")
}

func (e *fakeEngine) SubscribeStream(_ context.Context, user domain.UserID, opts provider.SubscribeOptions) (provider.Stream, error) {
	if err := e.step("SubscribeStream"); err != nil {
		return provider.Stream{}, err
	}
	return provider.Stream{ID: domain.StreamID("remote-" + string(user)), UserID: user, Audio: opts.Audio, Video: opts.Video}, nil
}

func (e *fakeEngine) UnsubscribeStream(_ context.Context, _ domain.UserID) error {
	return e.step("UnsubscribeStream")
}

func (e *fakeEngine) CreateOffer(_ context.Context, _ domain.UserID) (string, error) {
	if err := e.step("CreateOffer"); err != nil {
		return "", err
	}
	return "v=0 offer", nil
}

func (e *fakeEngine) HandleOffer(_ context.Context, _ domain.UserID, _ string) (string, error) {
	if err := e.step("HandleOffer"); err != nil {
		return "", err
	}
	return "v=0 answer", nil
}

func (e *fakeEngine) HandleAnswer(_ context.Context, _ domain.UserID, _ string) error {
	return e.step("HandleAnswer")
}

func (e *fakeEngine) AddRemoteCandidate(_ domain.UserID, _ domain.ICECandidatePayload) error {
	return e.step("AddRemoteCandidate")
}

func (e *fakeEngine) SwitchCamera(string) error     { return e.step("SwitchCamera") }
func (e *fakeEngine) SwitchMicrophone(string) error { return e.step("SwitchMicrophone") }
func (e *fakeEngine) EnableVideo(bool) error        { return e.step("EnableVideo") }
func (e *fakeEngine) EnableAudio(bool) error        { return e.step("EnableAudio") }

func (e *fakeEngine) Statistics() provider.Statistics {
	return provider.Statistics{PeerCount: 1}
}

func (e *fakeEngine) Events() <-chan provider.Event { return e.events }

func testConfig() Config {
	return Config{
		LocalUserID: "me",
		AckTimeout:  500 * time.Millisecond,
	}
}

func initializedManager(t *testing.T, fm *relayMessenger, fe *fakeEngine) *Manager {
	t.Helper()
	m := NewManager(fm, WithEngine(fe))
	require.NoError(t, m.Initialize(context.Background(), testConfig()))
	t.Cleanup(func() {
		if m.State() != domain.StateIdle {
			_ = m.Destroy(context.Background())
		}
	})
	return m
}

func joinedManager(t *testing.T, fm *relayMessenger, fe *fakeEngine) *Manager {
	t.Helper()
	m := initializedManager(t, fm, fe)
	require.NoError(t, m.StartCall(context.Background(), "room-1"))
	return m
}

// waitEvent drains the stream until the wanted type shows up.
func waitEvent(t *testing.T, ch <-chan Event, want EventType) Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			require.True(t, ok, "event stream closed while waiting for %s", want)
			if ev.Type == want {
				return ev
			}
		case <-deadline:
			t.Fatalf("no %s event", want)
		}
	}
}

func TestLifecycleInitializeDestroy(t *testing.T) {
	fm := newRelayMessenger()
	fe := newFakeEngine()
	m := NewManager(fm, WithEngine(fe))

	assert.Equal(t, domain.StateIdle, m.State())
	require.NoError(t, m.Initialize(context.Background(), testConfig()))
	assert.Equal(t, domain.StateInitialized, m.State())
	assert.Equal(t, 1, fe.called("Init"))

	events := m.Events()
	require.NoError(t, m.Destroy(context.Background()))
	assert.Equal(t, domain.StateIdle, m.State())
	assert.Equal(t, 1, fe.called("Destroy"))

	_, open := <-events
	assert.False(t, open, "destroy must close the event stream")
}

func TestInitializeGuards(t *testing.T) {
	fm := newRelayMessenger()
	fe := newFakeEngine()
	m := initializedManager(t, fm, fe)

	err := m.Initialize(context.Background(), testConfig())
	assert.Equal(t, domain.CodeInvalidState, domain.CodeOf(err))
}

func TestInitializeMissingUserParksInError(t *testing.T) {
	m := NewManager(newRelayMessenger(), WithEngine(newFakeEngine()))
	cfg := testConfig()
	cfg.LocalUserID = ""

	err := m.Initialize(context.Background(), cfg)
	assert.Equal(t, domain.CodeInvalidParam, domain.CodeOf(err))
	assert.Equal(t, domain.StateError, m.State())

	require.NoError(t, m.Destroy(context.Background()))
	assert.Equal(t, domain.StateIdle, m.State())
}

func TestInitializeUnknownVendor(t *testing.T) {
	m := NewManager(newRelayMessenger())
	cfg := testConfig()
	cfg.Vendor = "no-such-vendor"

	err := m.Initialize(context.Background(), cfg)
	assert.Equal(t, domain.CodeNotSupported, domain.CodeOf(err))
	assert.Equal(t, domain.StateError, m.State())
}

func TestStartCallJoinsRoom(t *testing.T) {
	fm := newRelayMessenger()
	fe := newFakeEngine()
	m := initializedManager(t, fm, fe)

	require.NoError(t, m.StartCall(context.Background(), "room-1"))
	assert.Equal(t, domain.StateJoined, m.State())
	assert.Equal(t, domain.RoomID("room-1"), m.RoomID())
	assert.Equal(t, 1, fe.called("JoinRoom"))

	joins := fm.sentOfKind(domain.SignalJoin)
	require.Len(t, joins, 1)
	assert.True(t, joins[0].Broadcast())
}

func TestStartCallUnackedJoinRollsBack(t *testing.T) {
	fm := newRelayMessenger(domain.SignalJoin)
	fe := newFakeEngine()
	m := initializedManager(t, fm, fe)

	err := m.StartCall(context.Background(), "room-1")
	require.Error(t, err)
	assert.Equal(t, domain.CodeSignalingTimeout, domain.CodeOf(err))
	assert.Equal(t, domain.StateError, m.State())
	assert.Empty(t, m.RoomID(), "failed join must leave no room binding")
	assert.Zero(t, fe.called("JoinRoom"), "engine must not join after a failed announcement")
}

func TestStartCallEngineFailureRollsBack(t *testing.T) {
	fm := newRelayMessenger()
	fe := newFakeEngine()
	fe.failWith("JoinRoom", errors.New("media backend down"))
	m := initializedManager(t, fm, fe)

	err := m.StartCall(context.Background(), "room-1")
	require.Error(t, err)
	assert.Equal(t, domain.CodeEngine, domain.CodeOf(err))
	assert.Equal(t, domain.StateError, m.State())
	assert.Empty(t, m.RoomID())
}

func TestStartCallGuards(t *testing.T) {
	fm := newRelayMessenger()
	fe := newFakeEngine()
	m := joinedManager(t, fm, fe)

	err := m.StartCall(context.Background(), "")
	assert.Equal(t, domain.CodeInvalidParam, domain.CodeOf(err))

	err = m.StartCall(context.Background(), "room-2")
	assert.Equal(t, domain.CodeAlreadyInCall, domain.CodeOf(err))
	assert.Equal(t, domain.RoomID("room-1"), m.RoomID(), "second call must not disturb the first")
}

func TestEndCallTearsDownEverything(t *testing.T) {
	fm := newRelayMessenger()
	fe := newFakeEngine()
	m := joinedManager(t, fm, fe)

	stream, err := m.CreateLocalStream(context.Background(), provider.StreamOptions{Audio: true})
	require.NoError(t, err)
	require.NoError(t, m.PublishStream(context.Background(), stream.ID))
	_, err = m.SubscribeStream(context.Background(), "peer-1", provider.SubscribeOptions{Audio: true})
	require.NoError(t, err)

	require.NoError(t, m.EndCall(context.Background()))
	assert.Equal(t, domain.StateInitialized, m.State())
	assert.Empty(t, m.RoomID())
	assert.Empty(t, m.LocalStreams())
	assert.Empty(t, m.RemoteStreams())
	assert.Equal(t, 1, fe.called("UnpublishStream"))
	assert.Equal(t, 1, fe.called("UnsubscribeStream"))
	assert.Equal(t, 1, fe.called("LeaveRoom"))
	assert.Len(t, fm.sentOfKind(domain.SignalLeave), 1)
}

func TestEndCallSurvivesUnackedLeave(t *testing.T) {
	fm := newRelayMessenger(domain.SignalLeave)
	fe := newFakeEngine()
	m := joinedManager(t, fm, fe)

	require.NoError(t, m.EndCall(context.Background()))
	assert.Equal(t, domain.StateInitialized, m.State())
	assert.Equal(t, 1, fe.called("LeaveRoom"))
}

func TestEndCallOutsideCallIsNoop(t *testing.T) {
	m := initializedManager(t, newRelayMessenger(), newFakeEngine())
	require.NoError(t, m.EndCall(context.Background()))
	assert.Equal(t, domain.StateInitialized, m.State())
}

func TestPublishStream(t *testing.T) {
	fm := newRelayMessenger()
	fe := newFakeEngine()
	m := joinedManager(t, fm, fe)

	stream, err := m.CreateLocalStream(context.Background(), provider.StreamOptions{Audio: true, Video: true})
	require.NoError(t, err)
	require.NoError(t, m.PublishStream(context.Background(), stream.ID))

	locals := m.LocalStreams()
	require.Len(t, locals, 1)
	assert.Equal(t, domain.Published, locals[0].State)
	assert.Len(t, fm.sentOfKind(domain.SignalPublish), 1)
	ev := waitEvent(t, m.Events(), EventLocalStreamPublished)
	assert.Equal(t, stream.ID, ev.StreamID)

	// Publishing a published stream is a no-op, not a second broadcast.
	require.NoError(t, m.PublishStream(context.Background(), stream.ID))
	assert.Len(t, fm.sentOfKind(domain.SignalPublish), 1)
	assert.Equal(t, 1, fe.called("PublishStream"))
}

func TestPublishStreamEngineFailure(t *testing.T) {
	fm := newRelayMessenger()
	fe := newFakeEngine()
	m := joinedManager(t, fm, fe)

	stream, err := m.CreateLocalStream(context.Background(), provider.StreamOptions{Audio: true})
	require.NoError(t, err)

	fe.failWith("PublishStream", errors.New("no transport"))
	err = m.PublishStream(context.Background(), stream.ID)
	assert.Equal(t, domain.CodeEngine, domain.CodeOf(err))

	locals := m.LocalStreams()
	require.Len(t, locals, 1)
	assert.Equal(t, domain.PublishFailed, locals[0].State)
}

func TestPublishStreamGuards(t *testing.T) {
	fm := newRelayMessenger()
	fe := newFakeEngine()
	m := initializedManager(t, fm, fe)

	stream, err := m.CreateLocalStream(context.Background(), provider.StreamOptions{Audio: true})
	require.NoError(t, err)

	err = m.PublishStream(context.Background(), stream.ID)
	assert.Equal(t, domain.CodeNotInCall, domain.CodeOf(err))

	require.NoError(t, m.StartCall(context.Background(), "room-1"))
	err = m.PublishStream(context.Background(), "nope")
	assert.Equal(t, domain.CodeStreamNotFound, domain.CodeOf(err))
}

func TestSubscribeFailureLeavesNoEntry(t *testing.T) {
	fm := newRelayMessenger()
	fe := newFakeEngine()
	fe.failWith("SubscribeStream", errors.New("peer gone"))
	m := joinedManager(t, fm, fe)

	_, err := m.SubscribeStream(context.Background(), "peer-1", provider.SubscribeOptions{Audio: true})
	assert.Equal(t, domain.CodeEngine, domain.CodeOf(err))
	assert.Empty(t, m.RemoteStreams(), "a failed subscribe must not leave a partial entry")
}

func TestDuplicateJoinSignalEmitsOnce(t *testing.T) {
	fm := newRelayMessenger()
	fe := newFakeEngine()
	m := joinedManager(t, fm, fe)

	join := inbound(t, domain.SignalJoin, "room-1", "peer-2", "", nil)
	fm.deliver(t, join)
	fm.deliver(t, join)

	waitEvent(t, m.Events(), EventUserJoined)
	select {
	case ev := <-m.Events():
		assert.NotEqual(t, EventUserJoined, ev.Type, "duplicate JOIN must not repeat the event")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestSignalsForOtherRoomsDropped(t *testing.T) {
	fm := newRelayMessenger()
	fe := newFakeEngine()
	m := joinedManager(t, fm, fe)

	fm.deliver(t, inbound(t, domain.SignalJoin, "other-room", "peer-2", "", nil))
	select {
	case ev := <-m.Events():
		t.Fatalf("unexpected event %s for inactive room", ev.Type)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestInboundOfferIsAnswered(t *testing.T) {
	fm := newRelayMessenger()
	fe := newFakeEngine()
	m := joinedManager(t, fm, fe)
	_ = m

	fm.deliver(t, inbound(t, domain.SignalOffer, "room-1", "peer-1", "me", domain.SDPPayload{StreamID: "s1", SDP: "v=0 offer"}))

	require.Eventually(t, func() bool {
		return len(fm.sentOfKind(domain.SignalAnswer)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, fe.called("HandleOffer"))
	answer := fm.sentOfKind(domain.SignalAnswer)[0]
	assert.Equal(t, domain.UserID("peer-1"), answer.TargetID)
	var p domain.SDPPayload
	require.NoError(t, answer.DecodePayload(&p))
	assert.Equal(t, "v=0 answer", p.SDP)
}

func TestInboundSubscribeTriggersOffer(t *testing.T) {
	fm := newRelayMessenger()
	fe := newFakeEngine()
	m := joinedManager(t, fm, fe)
	_ = m

	fm.deliver(t, inbound(t, domain.SignalSubscribe, "room-1", "peer-1", "me", domain.SubscribePayload{StreamID: "local-1"}))

	require.Eventually(t, func() bool {
		return len(fm.sentOfKind(domain.SignalOffer)) == 1
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, fe.called("CreateOffer"))
	offer := fm.sentOfKind(domain.SignalOffer)[0]
	assert.Equal(t, domain.UserID("peer-1"), offer.TargetID)
	var p domain.SDPPayload
	require.NoError(t, offer.DecodePayload(&p))
	assert.Equal(t, "v=0 offer", p.SDP)
}

func TestInboundAnswerApplied(t *testing.T) {
	fm := newRelayMessenger()
	fe := newFakeEngine()
	m := joinedManager(t, fm, fe)
	_ = m

	fm.deliver(t, inbound(t, domain.SignalAnswer, "room-1", "peer-1", "me", domain.SDPPayload{StreamID: "s1", SDP: "v=0 answer"}))

	require.Eventually(t, func() bool {
		return fe.called("HandleAnswer") == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestInboundCandidateApplied(t *testing.T) {
	fm := newRelayMessenger()
	fe := newFakeEngine()
	m := joinedManager(t, fm, fe)
	_ = m

	fm.deliver(t, inbound(t, domain.SignalICECandidate, "room-1", "peer-1", "me",
		domain.ICECandidatePayload{Candidate: "candidate:1", SDPMid: "0"}))

	require.Eventually(t, func() bool {
		return fe.called("AddRemoteCandidate") == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDestroyFailsPendingSends(t *testing.T) {
	fm := newRelayMessenger(domain.SignalJoin)
	fe := newFakeEngine()
	m := NewManager(fm, WithEngine(fe))
	cfg := testConfig()
	cfg.AckTimeout = 10 * time.Second
	require.NoError(t, m.Initialize(context.Background(), cfg))

	errCh := make(chan error, 1)
	go func() { errCh <- m.StartCall(context.Background(), "room-1") }()

	require.Eventually(t, func() bool {
		return len(fm.sentOfKind(domain.SignalJoin)) == 1
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, m.Destroy(context.Background()))

	select {
	case err := <-errCh:
		assert.Equal(t, domain.CodeDestroyed, domain.CodeOf(err))
	case <-time.After(time.Second):
		t.Fatal("pending join outlived destroy")
	}
}

func TestEngineEventsFoldIntoSession(t *testing.T) {
	fm := newRelayMessenger()
	fe := newFakeEngine()
	m := joinedManager(t, fm, fe)

	fe.events <- provider.Event{Type: provider.EventRoomStateChanged, RoomState: domain.RoomConnected}
	ev := waitEvent(t, m.Events(), EventRoomStateChanged)
	assert.Equal(t, domain.RoomConnected, ev.RoomState)
	assert.Equal(t, domain.RoomConnected, m.RoomState())

	fe.events <- provider.Event{Type: provider.EventStreamAdded, UserID: "peer-2",
		Stream: provider.Stream{ID: "remote-peer-2", UserID: "peer-2", Audio: true}}
	ev = waitEvent(t, m.Events(), EventRemoteStreamAdded)
	assert.Equal(t, domain.UserID("peer-2"), ev.UserID)
	assert.Contains(t, m.RemoteStreams(), domain.UserID("peer-2"))

	fe.events <- provider.Event{Type: provider.EventStreamRemoved, UserID: "peer-2",
		Stream: provider.Stream{ID: "remote-peer-2", UserID: "peer-2"}}
	waitEvent(t, m.Events(), EventRemoteStreamRemoved)
	assert.NotContains(t, m.RemoteStreams(), domain.UserID("peer-2"))
}

func TestLocalCandidatesForwardedWhileJoined(t *testing.T) {
	fm := newRelayMessenger()
	fe := newFakeEngine()
	m := joinedManager(t, fm, fe)
	_ = m

	fe.events <- provider.Event{Type: provider.EventLocalCandidate, UserID: "peer-1",
		Candidate: domain.ICECandidatePayload{Candidate: "candidate:1"}}

	require.Eventually(t, func() bool {
		return len(fm.sentOfKind(domain.SignalICECandidate)) == 1
	}, 2*time.Second, 10*time.Millisecond)
	cand := fm.sentOfKind(domain.SignalICECandidate)[0]
	assert.Equal(t, domain.UserID("peer-1"), cand.TargetID)
}

func TestDeviceControlsRequireUsableState(t *testing.T) {
	m := NewManager(newRelayMessenger(), WithEngine(newFakeEngine()))
	assert.Equal(t, domain.CodeInvalidState, domain.CodeOf(m.SwitchCamera("cam-2")))
	assert.Equal(t, domain.CodeInvalidState, domain.CodeOf(m.EnableAudio(false)))
	_, err := m.Statistics()
	assert.Equal(t, domain.CodeInvalidState, domain.CodeOf(err))
}

func TestDeviceControlsDelegate(t *testing.T) {
	fe := newFakeEngine()
	m := initializedManager(t, newRelayMessenger(), fe)

	require.NoError(t, m.SwitchCamera("cam-2"))
	require.NoError(t, m.SwitchMicrophone("mic-2"))
	require.NoError(t, m.EnableVideo(false))
	require.NoError(t, m.EnableAudio(true))
	stats, err := m.Statistics()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.PeerCount)
	assert.Equal(t, 1, fe.called("SwitchCamera"))
}

func TestDestroyLocalStreamUnpublishesFirst(t *testing.T) {
	fm := newRelayMessenger()
	fe := newFakeEngine()
	m := joinedManager(t, fm, fe)

	stream, err := m.CreateLocalStream(context.Background(), provider.StreamOptions{Video: true})
	require.NoError(t, err)
	require.NoError(t, m.PublishStream(context.Background(), stream.ID))

	require.NoError(t, m.DestroyLocalStream(context.Background(), stream.ID))
	assert.Equal(t, 1, fe.called("UnpublishStream"))
	assert.Equal(t, 1, fe.called("DestroyLocalStream"))
	assert.Len(t, fm.sentOfKind(domain.SignalUnpublish), 1)
	assert.Empty(t, m.LocalStreams())
}
