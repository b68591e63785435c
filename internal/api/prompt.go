package api

import (
	stderrors "errors"
	"fmt"
	"net/http"

	"storyforge/backend/internal/models"
	"storyforge/backend/internal/prompt"
	"storyforge/backend/internal/repository"
	"storyforge/backend/pkg/errors"

	"github.com/gin-gonic/gin"
)

type RenderRequest struct {
	Content      string `json:"content"`
	ProjectID    *uint  `json:"project_id"`
	SelectedText string `json:"selected_text"`
}

type RenderResponse struct {
	RenderedContent string   `json:"rendered_content"`
	Unresolved      []string `json:"unresolved"`
}

type PromptHandler struct {
	resolver  *prompt.Resolver
	templates repository.TemplateRepository
}

func NewPromptHandler(resolver *prompt.Resolver, templates repository.TemplateRepository) *PromptHandler {
	return &PromptHandler{resolver: resolver, templates: templates}
}

// Render expands the placeholders of arbitrary template text.
func (h *PromptHandler) Render(c *gin.Context) {
	var req RenderRequest
	if !bindJSON(c, &req) {
		return
	}

	res, err := h.resolver.Resolve(c.Request.Context(), req.Content, prompt.ResolutionContext{
		ProjectID:    req.ProjectID,
		SelectedText: req.SelectedText,
	})
	if err != nil {
		_ = c.Error(errors.NewInternalServerError(errors.CodeStoreFailure, "failed to render template").Wrap(err))
		return
	}

	unresolved := res.Unresolved
	if unresolved == nil {
		unresolved = []string{}
	}
	c.JSON(http.StatusOK, RenderResponse{RenderedContent: res.Text, Unresolved: unresolved})
}

// ListByProject returns the project's templates followed by global ones.
func (h *PromptHandler) ListByProject(c *gin.Context) {
	projectID, ok := idParam(c, "id")
	if !ok {
		return
	}
	list, err := h.templates.ListByProject(c.Request.Context(), projectID)
	if err != nil {
		_ = c.Error(errors.NewInternalServerError(errors.CodeStoreFailure, "failed to list templates").Wrap(err))
		return
	}
	if list == nil {
		list = []models.PromptTemplate{}
	}
	c.JSON(http.StatusOK, list)
}

func (h *PromptHandler) Get(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	t, err := h.templates.Get(c.Request.Context(), id)
	if stderrors.Is(err, repository.ErrNotFound) {
		_ = c.Error(errors.NewNotFoundError(errors.CodeTemplateNotFound, fmt.Sprintf("prompt template %d not found", id)))
		return
	}
	if err != nil {
		_ = c.Error(errors.NewInternalServerError(errors.CodeStoreFailure, "failed to load template").Wrap(err))
		return
	}
	c.JSON(http.StatusOK, t)
}

func (h *PromptHandler) RegisterRoutes(api *gin.RouterGroup) {
	api.POST("/prompts/render", h.Render)
	api.GET("/projects/:id/prompt-templates", h.ListByProject)
	api.GET("/prompt-templates/:id", h.Get)
}
