package api

import (
	"net/http"
	"runtime"
	"time"

	"storyforge/backend/pkg/health"

	"github.com/gin-gonic/gin"
)

// Version is reported by the health endpoints and can be set at link time.
var Version = "dev"

// HealthResponse represents the health check response structure
type HealthResponse struct {
	Status     string                       `json:"status"`
	Timestamp  time.Time                    `json:"timestamp"`
	Version    string                       `json:"version"`
	Uptime     string                       `json:"uptime,omitempty"`
	Components map[string]*health.Component `json:"components,omitempty"`
	Memory     *MemoryStats                 `json:"memory,omitempty"`
}

// MemoryStats is a runtime snapshot in megabytes.
type MemoryStats struct {
	AllocMB      uint64 `json:"alloc_mb"`
	TotalAllocMB uint64 `json:"total_alloc_mb"`
	SysMB        uint64 `json:"sys_mb"`
	NumGC        uint32 `json:"num_gc"`
	Goroutines   int    `json:"goroutines"`
}

func readMemoryStats() *MemoryStats {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return &MemoryStats{
		AllocMB:      m.Alloc / 1024 / 1024,
		TotalAllocMB: m.TotalAlloc / 1024 / 1024,
		SysMB:        m.Sys / 1024 / 1024,
		NumGC:        m.NumGC,
		Goroutines:   runtime.NumGoroutine(),
	}
}

type HealthHandler struct {
	checker *health.Checker
	started time.Time
}

func NewHealthHandler(checker *health.Checker) *HealthHandler {
	return &HealthHandler{checker: checker, started: time.Now()}
}

// Liveness reports that the process is serving requests.
func (h *HealthHandler) Liveness(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   Version,
	})
}

// Readiness reports per-component status, 503 when a critical one is down.
func (h *HealthHandler) Readiness(c *gin.Context) {
	status, code := "ok", http.StatusOK
	if !h.checker.IsSystemHealthy() {
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	c.JSON(code, HealthResponse{
		Status:     status,
		Timestamp:  time.Now(),
		Version:    Version,
		Uptime:     time.Since(h.started).Round(time.Second).String(),
		Components: h.checker.GetStatus(),
		Memory:     readMemoryStats(),
	})
}

// RegisterHealthRoutes registers health check related routes
func (h *HealthHandler) RegisterHealthRoutes(engine *gin.Engine, api *gin.RouterGroup) {
	engine.GET("/health", h.Liveness)
	api.GET("/health", h.Readiness)
}
