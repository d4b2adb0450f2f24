package health

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sisvent/wabridge/internal/app"
	"github.com/sisvent/wabridge/internal/session"
)

// Handlers contains HTTP handlers for health checks
type Handlers struct {
	app     *app.App
	manager *session.Manager
}

// NewHandlers creates a new health handlers instance
func NewHandlers(app *app.App, manager *session.Manager) *Handlers {
	return &Handlers{app: app, manager: manager}
}

// RootHandler handles the root endpoint for Docker health checks
func (h *Handlers) RootHandler(c *gin.Context) {
	uptime := time.Since(h.app.StartTime).String()

	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"uptime":        uptime,
		"session_count": len(h.manager.ListSessions()),
	})
}

// HealthCheckHandler handles the health check endpoint
func (h *Handlers) HealthCheckHandler(c *gin.Context) {
	uptime := time.Since(h.app.StartTime).String()

	sessions := h.manager.ListSessions()
	activeCount := 0
	for _, s := range sessions {
		if s.Ready {
			activeCount++
		}
	}

	// Always return 200 OK status
	c.JSON(http.StatusOK, gin.H{
		"status":          "ok",
		"uptime":          uptime,
		"total_sessions":  len(sessions),
		"active_sessions": activeCount,
		"timestamp":       time.Now().Format(time.RFC3339),
	})
}

// HealthCheckHandlerWithSlash handles the health check endpoint with trailing slash
func (h *Handlers) HealthCheckHandlerWithSlash(c *gin.Context) {
	h.HealthCheckHandler(c)
}
