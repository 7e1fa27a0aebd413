package server

import (
	"log/slog"
	"time"

	"commi8/internal/models"
	"commi8/internal/realtime"

	"github.com/lxzan/gws"
	"golang.org/x/time/rate"
)

const (
	PingInterval = 5 * time.Second
	PingWait     = 30 * time.Minute

	sessionKey = "session"
	userKey    = "user"
)

// Handler bridges gws connection events to the realtime router.
type Handler struct {
	router *realtime.Router
	logger *slog.Logger
}

func NewWebsocketUpgrader(h *Handler, maxFrameBytes int) *gws.Upgrader {
	return gws.NewUpgrader(h, &gws.ServerOption{
		// Events of one connection are handled in order on its read loop.
		ParallelEnabled:    false,
		Recovery:           gws.Recovery,
		PermessageDeflate:  gws.PermessageDeflate{Enabled: true},
		ReadMaxPayloadSize: maxFrameBytes,
	})
}

func rateLimit(perSecond float64) rate.Limit {
	if perSecond <= 0 {
		return 0
	}
	return rate.Limit(perSecond)
}

func loadSession(socket *gws.Conn) (*realtime.Session, bool) {
	value, ok := socket.Session().Load(sessionKey)
	if !ok {
		return nil, false
	}
	sess, ok := value.(*realtime.Session)
	return sess, ok
}

func (c *Handler) OnOpen(socket *gws.Conn) {
	_ = socket.SetDeadline(time.Now().Add(PingInterval + PingWait))

	sess, ok := loadSession(socket)
	value, found := socket.Session().Load(userKey)
	user, isUser := value.(models.User)
	if !ok || !found || !isUser {
		socket.WriteClose(1008, nil)
		return
	}

	if err := c.router.Open(sess, user); err != nil {
		c.logger.Warn("failed to open session", "session", sess.ID(), "err", err)
		c.router.Disconnect(sess)
	}
}

func (c *Handler) OnClose(socket *gws.Conn, err error) {
	if sess, ok := loadSession(socket); ok {
		c.router.Disconnect(sess)
	}
}

func (c *Handler) OnPing(socket *gws.Conn, payload []byte) {
	_ = socket.SetDeadline(time.Now().Add(PingInterval + PingWait))
	_ = socket.WritePong(payload)
}

func (c *Handler) OnPong(socket *gws.Conn, payload []byte) {}

func (c *Handler) OnMessage(socket *gws.Conn, message *gws.Message) {
	defer message.Close()
	_ = socket.SetDeadline(time.Now().Add(PingInterval + PingWait))

	if message.Opcode != gws.OpcodeText {
		return
	}
	if b := message.Bytes(); len(b) == 4 && string(b) == "ping" {
		_ = socket.WriteString("pong")
		return
	}

	sess, ok := loadSession(socket)
	if !ok {
		return
	}
	_ = c.router.Dispatch(sess, message.Bytes())
}

// socketTransport queues frames on the connection's ordered async writer.
type socketTransport struct {
	conn *gws.Conn
}

func (t *socketTransport) Send(frame []byte) error {
	t.conn.WriteAsync(gws.OpcodeText, frame, func(err error) {
		if err != nil {
			// Tearing down the socket ends the read loop, which reports OnClose.
			_ = t.conn.NetConn().Close()
		}
	})
	return nil
}

func (t *socketTransport) Close() error {
	t.conn.WriteClose(1000, nil)
	return nil
}
