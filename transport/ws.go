package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/openchat/rtckit/domain"
)

// Frame is the wire envelope between a websocket messenger and the
// relay. Routing fields stay outside Message so the relay never has
// to look into consumer payloads.
type Frame struct {
	Type    string          `json:"type"`
	From    domain.UserID   `json:"from,omitempty"`
	ToUser  domain.UserID   `json:"to_user,omitempty"`
	ToRoom  domain.RoomID   `json:"to_room,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSOptions configures a websocket messenger.
type WSOptions struct {
	URL          string
	UserID       domain.UserID
	SendBuffer   int
	WriteTimeout time.Duration
	ReadLimit    int64
}

const (
	defaultSendBuffer   = 32
	defaultWriteTimeout = 5 * time.Second
)

// WSMessenger carries custom messages over a websocket connection to
// a relay that fans them out per room.
type WSMessenger struct {
	conn         *websocket.Conn
	self         domain.UserID
	writeTimeout time.Duration

	send chan []byte

	mu     sync.RWMutex
	closed bool

	subMu sync.Mutex
	subs  map[int]chan Message
	subID int

	done     chan struct{}
	closeSub sync.Once
}

// DialWS connects to a relay and starts the read/write pumps. The
// user id is announced in the query string so the relay can route
// unicast frames.
func DialWS(ctx context.Context, opts WSOptions) (*WSMessenger, error) {
	if opts.URL == "" || opts.UserID == "" {
		return nil, domain.Errorf(domain.CodeInvalidParam, "transport.DialWS", "url and user id are required")
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = defaultSendBuffer
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, opts.URL+"?user="+string(opts.UserID), nil)
	if err != nil {
		return nil, err
	}
	if opts.ReadLimit > 0 {
		conn.SetReadLimit(opts.ReadLimit)
	}

	m := &WSMessenger{
		conn:         conn,
		self:         opts.UserID,
		writeTimeout: opts.WriteTimeout,
		send:         make(chan []byte, opts.SendBuffer),
		subs:         make(map[int]chan Message),
		done:         make(chan struct{}),
	}
	go m.writePump()
	go m.readPump()
	return m, nil
}

func (m *WSMessenger) Send(_ context.Context, msg Message, to Target) error {
	f := Frame{
		Type:    msg.Type,
		From:    m.self,
		ToUser:  to.UserID,
		ToRoom:  to.RoomID,
		Payload: msg.Payload,
	}
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return domain.NewError(domain.CodeDestroyed, "transport.Send", nil)
	}
	select {
	case m.send <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

func (m *WSMessenger) Subscribe() (<-chan Message, func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.subID++
	id := m.subID
	ch := make(chan Message, defaultSendBuffer)
	m.subs[id] = ch
	return ch, func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		if c, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(c)
		}
	}
}

func (m *WSMessenger) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	close(m.done)
	m.mu.Unlock()

	err := m.conn.Close()
	m.dropSubs()
	return err
}

func (m *WSMessenger) dropSubs() {
	m.closeSub.Do(func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		for id, ch := range m.subs {
			delete(m.subs, id)
			close(ch)
		}
	})
}

func (m *WSMessenger) writePump() {
	for {
		select {
		case <-m.done:
			return
		case data := <-m.send:
			if err := m.conn.SetWriteDeadline(time.Now().Add(m.writeTimeout)); err != nil {
				log.Error().Err(err).Str("module", "transport.ws").Msg("writePump set deadline")
				return
			}
			if err := m.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "transport.ws").Msg("writePump write error")
				return
			}
		}
	}
}

func (m *WSMessenger) readPump() {
	defer m.dropSubs()
	for {
		_, data, err := m.conn.ReadMessage()
		if err != nil {
			m.mu.RLock()
			closed := m.closed
			m.mu.RUnlock()
			if !closed {
				log.Warn().Err(err).Str("module", "transport.ws").Msg("readPump read error")
			}
			return
		}
		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			log.Warn().Err(err).Str("module", "transport.ws").Msg("bad frame")
			continue
		}
		msg := Message{Type: f.Type, Payload: f.Payload}

		m.subMu.Lock()
		for _, ch := range m.subs {
			select {
			case ch <- msg:
			default:
				log.Warn().Str("module", "transport.ws").Msg("subscriber slow, frame dropped")
			}
		}
		m.subMu.Unlock()
	}
}
