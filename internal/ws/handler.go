// Package ws serves chat turns over a WebSocket. Each text message from the
// peer is a chat request; the reply frames are the same ones the SSE
// endpoint produces.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"slices"
	"sync/atomic"
	"time"

	"storyforge/backend/internal/service"
	apperrors "storyforge/backend/pkg/errors"
	"storyforge/backend/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512 * 1024

	sendBuffer = 256
)

const busyMessage = "上一条消息仍在处理中，请稍后再发送。"

// ChatStreamer runs one streamed chat turn.
type ChatStreamer interface {
	Stream(ctx context.Context, req service.ChatRequest, emit func(service.Frame) error) error
}

type Handler struct {
	chat     ChatStreamer
	upgrader websocket.Upgrader
}

// NewHandler accepts connections from allowedOrigins; "*" or an empty list allows any origin.
func NewHandler(chat ChatStreamer, allowedOrigins []string) *Handler {
	return &Handler{
		chat: chat,
		upgrader: websocket.Upgrader{
			CheckOrigin:      originChecker(allowedOrigins),
			HandshakeTimeout: 10 * time.Second,
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}

// client owns one connection. Turns run one at a time on their own
// goroutine so that the read loop keeps answering pings. A request that
// arrives while a turn is in flight is refused, not queued.
type client struct {
	busy   atomic.Bool
	conn   *websocket.Conn
	send   chan []byte
	turns  chan service.ChatRequest
	chat   ChatStreamer
	log    *logger.Logger
	ctx    context.Context
	cancel context.CancelFunc
}

// Serve upgrades the request and runs the connection until either side closes it.
func (h *Handler) Serve(c *gin.Context) {
	log := logger.FromGin(c)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "error", err)
		return
	}

	// The request context ends when this handler returns; keep its values only.
	ctx, cancel := context.WithCancel(context.WithoutCancel(c.Request.Context()))
	cl := &client{
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		turns:  make(chan service.ChatRequest, 1),
		chat:   h.chat,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}

	log.Info("websocket connection established", "remote", c.ClientIP())
	go cl.writePump()
	go cl.runTurns()
	go cl.readPump()
}

func (c *client) readPump() {
	defer func() {
		c.cancel()
		close(c.turns)
		c.log.Info("websocket connection closed")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warn("websocket read failed", "error", err)
			}
			return
		}

		var req service.ChatRequest
		if err := json.Unmarshal(data, &req); err != nil || req.Message == "" {
			_ = c.emit(service.Frame{Type: service.FrameError, Message: "invalid chat request"})
			continue
		}

		if !c.busy.CompareAndSwap(false, true) {
			_ = c.emit(service.Frame{Type: service.FrameError, Message: busyMessage})
			continue
		}
		// busy guarantees the buffer slot is free.
		c.turns <- req
	}
}

func (c *client) runTurns() {
	// The socket is free again before the terminal frame goes out, so a
	// peer that answers "done" with a new request is never refused.
	emit := func(f service.Frame) error {
		if f.Type == service.FrameDone || f.Type == service.FrameError {
			c.busy.Store(false)
		}
		return c.emit(f)
	}

	for req := range c.turns {
		if err := c.chat.Stream(c.ctx, req, emit); err != nil {
			c.log.Warn("websocket chat turn rejected", "error", err)
			_ = emit(service.Frame{Type: service.FrameError, Message: apperrors.FromError(err).Message})
		}
	}
}

// emit queues a frame for the write pump. It fails once the connection is gone.
func (c *client) emit(f service.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	select {
	case c.send <- data:
		return nil
	case <-c.ctx.Done():
		return c.ctx.Err()
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.cancel()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.ctx.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
