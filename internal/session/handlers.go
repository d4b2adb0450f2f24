package session

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sisvent/wabridge/internal/app"
)

// Handlers contains HTTP handlers for session management
type Handlers struct {
	app     *app.App
	manager *Manager
}

// NewHandlers creates a new session handlers instance
func NewHandlers(app *app.App, manager *Manager) *Handlers {
	return &Handlers{
		app:     app,
		manager: manager,
	}
}

// userParam extracts the user identifier from the query string or, for POST
// bodies, from the JSON payload.
func userParam(c *gin.Context) string {
	if user := c.Query("user"); user != "" {
		return user
	}
	var req StartRequest
	if err := c.ShouldBindJSON(&req); err == nil {
		return req.User
	}
	return ""
}

// StartHandler starts (or reuses) a session for a user
func (h *Handlers) StartHandler(c *gin.Context) {
	user := userParam(c)
	if user == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "missing user"})
		return
	}

	h.manager.Ensure(user, false)
	c.JSON(http.StatusOK, gin.H{"ok": true, "status": h.manager.Status(user)})
}

// StatusHandler reports the observable state of a session
func (h *Handlers) StatusHandler(c *gin.Context) {
	user := c.Query("user")
	if user == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "missing user"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "status": h.manager.Status(user)})
}

// QRHandler returns the latest authentication challenge as a data URL
func (h *Handlers) QRHandler(c *gin.Context) {
	user := c.Query("user")
	if user == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "missing user"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "dataUrl": h.manager.QR(user)})
}

// SendHandler sends a text message through a ready session
func (h *Handlers) SendHandler(c *gin.Context) {
	var req SendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "invalid request"})
		return
	}
	if req.User == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "missing user"})
		return
	}

	id, err := h.manager.Send(c.Request.Context(), req.User, req.To, req.Text)
	if err != nil {
		status := http.StatusInternalServerError
		// Precondition failures are the caller's problem, not ours
		if errors.Is(err, ErrInvalidDestination) || errors.Is(err, ErrNotInitialized) || errors.Is(err, ErrNotReady) {
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"ok": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "id": id})
}

// RestartHandler forces a full teardown and reinitialization
func (h *Handlers) RestartHandler(c *gin.Context) {
	user := userParam(c)
	if user == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "missing user"})
		return
	}

	h.app.Logger.Printf("Restarting session for user: %s", user)
	h.manager.Restart(user)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ReloginHandler clears a prior logout and starts a fresh session
func (h *Handlers) ReloginHandler(c *gin.Context) {
	user := userParam(c)
	if user == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "missing user"})
		return
	}

	h.manager.Relogin(user)
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// LogoutHandler logs a session out; it stays down until relogin
func (h *Handlers) LogoutHandler(c *gin.Context) {
	user := userParam(c)
	if user == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "missing user"})
		return
	}

	if err := h.manager.Logout(c.Request.Context(), user); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// LogsHandler returns the session's diagnostic log buffer
func (h *Handlers) LogsHandler(c *gin.Context) {
	user := c.Query("user")
	if user == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": "missing user"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"ok": true, "logs": h.manager.Logs(user)})
}

// AdminSessionsHandler lists every session with its flags
func (h *Handlers) AdminSessionsHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "sessions": h.manager.ListSessions()})
}
