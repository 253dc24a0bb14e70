// Package rtc contains the session orchestrator: it owns the call
// state machine and sequences the signaling channel and the media
// engine so that application-visible state never diverges from what
// was actually negotiated.
package rtc

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/openchat/rtckit/domain"
	"github.com/openchat/rtckit/provider"
	"github.com/openchat/rtckit/signaling"
	"github.com/openchat/rtckit/transport"
)

const defaultEventBuffer = 32

// Config selects the vendor engine and identifies the local user.
type Config struct {
	Vendor      provider.Vendor
	LocalUserID domain.UserID
	Credentials provider.Credentials
	ICEServers  []string
	Media       provider.StreamOptions

	// AckTimeout bounds signaling acknowledgement waits; zero selects
	// the signaling default.
	AckTimeout  time.Duration
	EventBuffer int
}

// Option customizes a Manager at construction.
type Option func(*Manager)

// WithEngine injects a pre-built media engine, bypassing the vendor
// registry. Tests use this to supply a fake.
func WithEngine(e provider.Engine) Option {
	return func(m *Manager) {
		m.engine = e
		m.engineInjected = true
	}
}

// Manager is the session orchestrator. Callers must not run two
// state-changing operations concurrently on one instance; operations
// invoked in an illegal state fail fast instead of queuing.
type Manager struct {
	messenger      transport.Messenger
	engine         provider.Engine
	engineInjected bool
	sig            *signaling.Channel
	cfg            Config

	mu   sync.Mutex
	sess session

	evMu     sync.Mutex
	events   chan Event
	evClosed bool
	pumpDone chan struct{}
}

// NewManager builds an orchestrator bound to the given messaging
// capability. The media engine is resolved during Initialize unless
// injected.
func NewManager(m transport.Messenger, opts ...Option) *Manager {
	mgr := &Manager{
		messenger: m,
		sess:      newSession(),
	}
	for _, opt := range opts {
		opt(mgr)
	}
	return mgr
}

// Initialize resolves the vendor engine, brings it up and starts the
// signaling channel. Legal only from the idle state. On failure the
// manager parks in the error state until Destroy is called.
func (m *Manager) Initialize(ctx context.Context, cfg Config) error {
	m.mu.Lock()
	if m.sess.state != domain.StateIdle {
		st := m.sess.state
		m.mu.Unlock()
		return domain.Errorf(domain.CodeInvalidState, "rtc.Initialize", "illegal in state %s", st)
	}
	m.sess.state = domain.StateInitializing
	m.mu.Unlock()

	if err := m.initialize(ctx, cfg); err != nil {
		m.mu.Lock()
		m.sess.state = domain.StateError
		m.mu.Unlock()
		return err
	}

	m.mu.Lock()
	m.sess.state = domain.StateInitialized
	m.mu.Unlock()
	log.Info().Str("module", "rtc").Str("vendor", string(cfg.Vendor)).Str("user", string(cfg.LocalUserID)).Msg("initialized")
	return nil
}

func (m *Manager) initialize(ctx context.Context, cfg Config) error {
	if cfg.LocalUserID == "" {
		return domain.Errorf(domain.CodeInvalidParam, "rtc.Initialize", "local user id is required")
	}
	if m.messenger == nil {
		return domain.Errorf(domain.CodeInvalidParam, "rtc.Initialize", "messenger is required")
	}
	m.cfg = cfg

	if !m.engineInjected {
		eng, err := provider.New(cfg.Vendor)
		if err != nil {
			return err
		}
		m.engine = eng
	}
	if err := m.engine.Init(ctx, provider.Config{
		LocalUserID: cfg.LocalUserID,
		Credentials: cfg.Credentials,
		ICEServers:  cfg.ICEServers,
		Media:       cfg.Media,
	}); err != nil {
		return m.wrap("rtc.Initialize", err)
	}

	m.sig = signaling.New(m.messenger, cfg.LocalUserID, cfg.AckTimeout)
	m.sig.OnSignal(m.handleSignal)
	if err := m.sig.Start(); err != nil {
		return err
	}

	buf := cfg.EventBuffer
	if buf <= 0 {
		buf = defaultEventBuffer
	}
	m.evMu.Lock()
	m.events = make(chan Event, buf)
	m.evClosed = false
	m.evMu.Unlock()
	m.pumpDone = make(chan struct{})
	go m.pumpEngineEvents(m.engine.Events(), m.pumpDone)
	return nil
}

// Destroy ends any active call, tears down the signaling channel
// (failing all pending acknowledgement waits), then the media engine,
// and resets the session. Teardown errors are logged, never fatal.
func (m *Manager) Destroy(ctx context.Context) error {
	m.mu.Lock()
	st := m.sess.state
	if st == domain.StateIdle || st == domain.StateDestroying {
		m.mu.Unlock()
		return domain.Errorf(domain.CodeInvalidState, "rtc.Destroy", "illegal in state %s", st)
	}
	m.mu.Unlock()

	if st == domain.StateJoined {
		if err := m.EndCall(ctx); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Msg("end call during destroy")
		}
	}

	m.mu.Lock()
	m.sess.state = domain.StateDestroying
	m.mu.Unlock()

	if m.sig != nil {
		m.sig.Stop()
	}
	if m.pumpDone != nil {
		close(m.pumpDone)
		m.pumpDone = nil
	}
	if m.engine != nil {
		if err := m.engine.Destroy(ctx); err != nil {
			log.Warn().Err(err).Str("module", "rtc").Msg("engine destroy")
		}
	}

	m.evMu.Lock()
	if m.events != nil && !m.evClosed {
		m.evClosed = true
		close(m.events)
	}
	m.evMu.Unlock()

	m.mu.Lock()
	m.sess.reset()
	m.mu.Unlock()
	log.Info().Str("module", "rtc").Msg("destroyed")
	return nil
}

// Events returns the application-facing event stream. The channel is
// created by Initialize and closed by Destroy.
func (m *Manager) Events() <-chan Event {
	m.evMu.Lock()
	defer m.evMu.Unlock()
	return m.events
}

// State reports the orchestrator life-cycle state.
func (m *Manager) State() domain.ManagerState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess.state
}

// RoomID reports the active room, or empty outside a call.
func (m *Manager) RoomID() domain.RoomID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess.roomID
}

// RoomState reports engine-side room connectivity.
func (m *Manager) RoomState() domain.RoomState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess.roomState
}

// LocalStreams snapshots the local streams and their publish status.
func (m *Manager) LocalStreams() []LocalStream {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LocalStream, 0, len(m.sess.local))
	for _, ls := range m.sess.local {
		out = append(out, *ls)
	}
	return out
}

// RemoteStreams snapshots the subscribed remote streams by user.
func (m *Manager) RemoteStreams() map[domain.UserID]provider.Stream {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[domain.UserID]provider.Stream, len(m.sess.remote))
	for u, s := range m.sess.remote {
		out[u] = s
	}
	return out
}

// emit publishes to the application without ever blocking a protocol
// goroutine. A stalled consumer loses events rather than the session.
func (m *Manager) emit(ev Event) {
	m.evMu.Lock()
	defer m.evMu.Unlock()
	if m.events == nil || m.evClosed {
		return
	}
	select {
	case m.events <- ev:
	default:
		log.Warn().Str("module", "rtc").Str("event", string(ev.Type)).Msg("event buffer full, dropped")
	}
}

// wrap attaches a code to foreign errors; typed errors pass through so
// the original code survives.
func (m *Manager) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if domain.CodeOf(err) != domain.CodeUnknown {
		return err
	}
	return domain.NewError(domain.CodeEngine, op, err)
}
