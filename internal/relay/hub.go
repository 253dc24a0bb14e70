// Package relay is a development stand-in for the production IM
// backend: it fans custom messages out to room members and unicasts
// by user id. It never looks inside consumer payloads.
package relay

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/openchat/rtckit/config"
	"github.com/openchat/rtckit/domain"
	"github.com/openchat/rtckit/transport"
)

const sendBuffer = 32

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub routes frames between connected clients.
type Hub struct {
	reg       *registry
	readLimit int64
}

func NewHub(cfg config.Relay) *Hub {
	return &Hub{
		reg:       newRegistry(),
		readLimit: cfg.ReadLimit,
	}
}

func clientTokenMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, _ := c.Cookie("ct")
		if token == "" {
			token = uuid.NewString()
			c.SetCookie("ct", token, 3600*24*7, "/", "", false, true)
		}
		c.Set("client_token", token)
		c.Next()
	}
}

// SetupRouter wires the hub into a gin engine.
func SetupRouter(ctx context.Context, cfg config.Relay, hub *Hub) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())

	store := cookie.NewStore([]byte(cfg.Secret))
	r.Use(sessions.Sessions("RelaySessions", store))
	r.Use(clientTokenMiddleware())

	r.GET("/ws", func(c *gin.Context) {
		hub.handleWS(ctx, c)
	})

	return r
}

func (h *Hub) handleWS(ctx context.Context, c *gin.Context) {
	user := domain.UserID(c.Query("user"))
	if user == "" {
		user = domain.UserID(c.GetString("client_token"))
	}
	log.Info().Str("module", "relay").Str("user", string(user)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "relay").Msg("ws upgrade")
		return
	}
	if h.readLimit > 0 {
		ws.SetReadLimit(h.readLimit)
	}

	conn := newConn(ws, sendBuffer)
	h.reg.bind(user, conn)

	ctx, cancel := context.WithCancel(ctx)
	go h.writePump(ctx, conn)
	go h.readPump(ctx, cancel, user, conn)
}

func (h *Hub) writePump(ctx context.Context, c *conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.ws.SetWriteDeadline(time.Now().Add(5 * time.Second)); err != nil {
				log.Error().Err(err).Str("module", "relay").Msg("writePump set deadline")
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "relay").Msg("writePump write error")
				return
			}
		}
	}
}

func (h *Hub) readPump(ctx context.Context, cancel context.CancelFunc, user domain.UserID, c *conn) {
	defer func() {
		log.Info().Str("module", "relay").Str("user", string(user)).Msg("readPump closing")
		cancel()
		h.reg.unbind(user, c)
		c.close()
	}()

	for {
		select {
		case <-ctx.Done():
			return
		default:
			_, data, err := c.ws.ReadMessage()
			if err != nil {
				return
			}
			h.route(user, data)
		}
	}
}

// route forwards one frame. Unicast goes to the addressed user only;
// room broadcast goes to every member, sender included.
func (h *Hub) route(sender domain.UserID, data []byte) {
	var f transport.Frame
	if err := json.Unmarshal(data, &f); err != nil {
		log.Warn().Err(err).Str("module", "relay").Str("user", string(sender)).Msg("bad frame dropped")
		return
	}

	if f.ToRoom != "" {
		h.reg.updateRoom(sender, f.ToRoom)
	}

	if f.ToUser != "" {
		c, ok := h.reg.get(f.ToUser)
		if !ok {
			log.Debug().Str("module", "relay").Str("to", string(f.ToUser)).Msg("unicast target offline")
			return
		}
		h.deliver(f.ToUser, c, data)
		return
	}

	if f.ToRoom == "" {
		log.Warn().Str("module", "relay").Str("user", string(sender)).Msg("frame without target dropped")
		return
	}
	for _, m := range h.reg.membersOfRoom(f.ToRoom) {
		h.deliver(m.user, m.conn, data)
	}
}

// deliver kicks clients that cannot keep up, the same stance a real
// IM backend takes with slow consumers.
func (h *Hub) deliver(user domain.UserID, c *conn, data []byte) {
	if err := c.trySend(data); err != nil {
		log.Warn().Err(err).Str("module", "relay").Str("user", string(user)).Msg("slow client kicked")
		h.reg.unbind(user, c)
		c.close()
	}
}
