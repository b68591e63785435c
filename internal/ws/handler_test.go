package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"storyforge/backend/internal/service"
	apperrors "storyforge/backend/pkg/errors"
)

// fakeStreamer echoes the message. A turn for "block" waits on release.
type fakeStreamer struct {
	release chan struct{}
}

func (f fakeStreamer) Stream(ctx context.Context, req service.ChatRequest, emit func(service.Frame) error) error {
	if req.Message == "block" {
		_ = emit(service.Frame{Type: service.FrameConversationID, ConversationID: 1})
		select {
		case <-f.release:
		case <-ctx.Done():
		}
		return emit(service.Frame{Type: service.FrameDone})
	}
	if req.ConversationID != nil {
		return apperrors.NewNotFoundError(apperrors.CodeConversationNotFound, "conversation not found")
	}
	_ = emit(service.Frame{Type: service.FrameConversationID, ConversationID: 7})
	_ = emit(service.Frame{Type: service.FrameContent, Content: "echo: " + req.Message})
	return emit(service.Frame{Type: service.FrameDone})
}

func dial(t *testing.T) *websocket.Conn {
	t.Helper()
	return dialWith(t, fakeStreamer{})
}

func dialWith(t *testing.T, streamer ChatStreamer) *websocket.Conn {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/api/chat/ws", NewHandler(streamer, nil).Serve)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/api/chat/ws", nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) service.Frame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var f service.Frame
	require.NoError(t, conn.ReadJSON(&f))
	return f
}

func TestChatTurnOverWebSocket(t *testing.T) {
	conn := dial(t)

	require.NoError(t, conn.WriteJSON(map[string]any{"message": "你好"}))

	assert.Equal(t, service.Frame{Type: service.FrameConversationID, ConversationID: 7}, readFrame(t, conn))
	assert.Equal(t, service.Frame{Type: service.FrameContent, Content: "echo: 你好"}, readFrame(t, conn))
	assert.Equal(t, service.Frame{Type: service.FrameDone}, readFrame(t, conn))
}

func TestInvalidRequestGetsErrorFrame(t *testing.T) {
	conn := dial(t)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	f := readFrame(t, conn)
	assert.Equal(t, service.FrameError, f.Type)
	assert.Equal(t, "invalid chat request", f.Message)
}

func TestRejectedTurnGetsErrorFrame(t *testing.T) {
	conn := dial(t)

	require.NoError(t, conn.WriteJSON(map[string]any{"message": "hi", "conversation_id": 3}))
	f := readFrame(t, conn)
	assert.Equal(t, service.FrameError, f.Type)
	assert.Equal(t, "conversation not found", f.Message)
}

func TestSecondRequestWhileBusyIsRefused(t *testing.T) {
	release := make(chan struct{})
	conn := dialWith(t, fakeStreamer{release: release})

	require.NoError(t, conn.WriteJSON(map[string]any{"message": "block"}))
	assert.Equal(t, service.FrameConversationID, readFrame(t, conn).Type)

	require.NoError(t, conn.WriteJSON(map[string]any{"message": "two"}))
	f := readFrame(t, conn)
	assert.Equal(t, service.FrameError, f.Type)
	assert.Equal(t, busyMessage, f.Message)

	close(release)
	assert.Equal(t, service.FrameDone, readFrame(t, conn).Type)

	// The socket accepts a new turn once the previous one finished.
	require.NoError(t, conn.WriteJSON(map[string]any{"message": "three"}))
	assert.Equal(t, service.Frame{Type: service.FrameConversationID, ConversationID: 7}, readFrame(t, conn))
}

func TestOriginChecker(t *testing.T) {
	check := originChecker([]string{"http://localhost:5173"})

	req := httptest.NewRequest("GET", "/", nil)
	assert.True(t, check(req))

	req.Header.Set("Origin", "http://localhost:5173")
	assert.True(t, check(req))

	req.Header.Set("Origin", "http://evil.example")
	assert.False(t, check(req))

	assert.True(t, originChecker([]string{"*"})(req))
}
