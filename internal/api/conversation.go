package api

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"storyforge/backend/internal/models"
	"storyforge/backend/internal/repository"
	"storyforge/backend/pkg/errors"

	"github.com/gin-gonic/gin"
)

type RenameConversationRequest struct {
	Title string `json:"title" binding:"required"`
}

type ConversationHandler struct {
	repo repository.ConversationRepository
}

func NewConversationHandler(repo repository.ConversationRepository) *ConversationHandler {
	return &ConversationHandler{repo: repo}
}

func (h *ConversationHandler) List(c *gin.Context) {
	projectID, ok := optionalIDQuery(c, "project_id")
	if !ok {
		return
	}
	list, err := h.repo.List(c.Request.Context(), projectID)
	if err != nil {
		_ = c.Error(storeFailure(err))
		return
	}
	if list == nil {
		list = []models.Conversation{}
	}
	c.JSON(http.StatusOK, list)
}

func (h *ConversationHandler) Messages(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if _, err := h.repo.Get(c.Request.Context(), id); err != nil {
		_ = c.Error(conversationError(id, err))
		return
	}
	msgs, err := h.repo.Messages(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(storeFailure(err))
		return
	}
	if msgs == nil {
		msgs = []models.Message{}
	}
	c.JSON(http.StatusOK, msgs)
}

func (h *ConversationHandler) Rename(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	var req RenameConversationRequest
	if !bindJSON(c, &req) {
		return
	}
	conv, err := h.repo.Rename(c.Request.Context(), id, req.Title)
	if err != nil {
		_ = c.Error(conversationError(id, err))
		return
	}
	c.JSON(http.StatusOK, conv)
}

func (h *ConversationHandler) Delete(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.repo.Delete(c.Request.Context(), id); err != nil {
		_ = c.Error(conversationError(id, err))
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ConversationHandler) RegisterRoutes(api *gin.RouterGroup) {
	conv := api.Group("/conversations")
	{
		conv.GET("", h.List)
		conv.GET("/:id/messages", h.Messages)
		conv.PUT("/:id", h.Rename)
		conv.DELETE("/:id", h.Delete)
	}
}

func conversationError(id uint, err error) error {
	if stderrors.Is(err, repository.ErrNotFound) {
		return errors.NewNotFoundError(errors.CodeConversationNotFound, fmt.Sprintf("conversation %d not found", id))
	}
	return storeFailure(err)
}

func storeFailure(err error) error {
	return errors.NewInternalServerError(errors.CodeStoreFailure, "failed to access store").Wrap(err)
}
