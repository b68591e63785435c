package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"storyforge/backend/internal/service"
	"storyforge/backend/pkg/errors"

	"github.com/gin-gonic/gin"
)

type ChatHandler struct {
	chat *service.ChatService
}

func NewChatHandler(chat *service.ChatService) *ChatHandler {
	return &ChatHandler{chat: chat}
}

// Chat answers with a single JSON body once the reply is complete.
func (h *ChatHandler) Chat(c *gin.Context) {
	var req service.ChatRequest
	if !bindJSON(c, &req) {
		return
	}

	resp, err := h.chat.Chat(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Stream answers with server-sent events, one "data: {json}" line per frame.
func (h *ChatHandler) Stream(c *gin.Context) {
	var req service.ChatRequest
	if !bindJSON(c, &req) {
		return
	}

	header := c.Writer.Header()
	header.Set("Content-Type", "text/event-stream")
	header.Set("Cache-Control", "no-cache")
	header.Set("Connection", "keep-alive")
	header.Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	emit := func(f service.Frame) error {
		return writeEvent(c.Writer, f)
	}

	if err := h.chat.Stream(c.Request.Context(), req, emit); err != nil {
		_ = emit(service.Frame{Type: service.FrameError, Message: errors.FromError(err).Message})
		_ = c.Error(err)
	}
}

func writeEvent(w gin.ResponseWriter, f service.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	w.Flush()
	return nil
}

func (h *ChatHandler) RegisterRoutes(api *gin.RouterGroup) {
	api.POST("/chat", h.Chat)
	api.POST("/chat/stream", h.Stream)
}
