package api

import (
	"net/http"

	"storyforge/backend/internal/service"

	"github.com/gin-gonic/gin"
)

type ProviderHandler struct {
	catalog *service.CatalogService
}

func NewProviderHandler(catalog *service.CatalogService) *ProviderHandler {
	return &ProviderHandler{catalog: catalog}
}

func (h *ProviderHandler) List(c *gin.Context) {
	providers, err := h.catalog.Providers(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}

	// API keys never leave the server; only whether one is set.
	out := make([]gin.H, 0, len(providers))
	for _, p := range providers {
		out = append(out, gin.H{
			"id":            p.ID,
			"name":          p.Name,
			"base_url":      p.BaseURL,
			"display_order": p.DisplayOrder,
			"enabled":       p.Enabled,
			"has_api_key":   p.HasAPIKey(),
		})
	}
	c.JSON(http.StatusOK, out)
}

func (h *ProviderHandler) Models(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	list, err := h.catalog.Models(c.Request.Context(), id)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// RemoteModels lists what the provider advertises. ?refresh=true bypasses the cache.
func (h *ProviderHandler) RemoteModels(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	ids, err := h.catalog.RemoteModels(c.Request.Context(), id, c.Query("refresh") == "true")
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": ids})
}

func (h *ProviderHandler) RegisterRoutes(api *gin.RouterGroup) {
	p := api.Group("/ai-providers")
	{
		p.GET("", h.List)
		p.GET("/:id/ai-models", h.Models)
		p.GET("/:id/remote-models", h.RemoteModels)
	}
}
