package server

import (
	"github.com/sisvent/wabridge/internal/health"
	"github.com/sisvent/wabridge/internal/session"
)

// SetupRoutes configures all the routes for the application
func (s *Server) SetupRoutes() {
	// Register health check handlers
	healthHandlers := health.NewHandlers(s.app, s.manager)
	s.router.GET("/", healthHandlers.RootHandler)
	s.router.GET("/health", healthHandlers.HealthCheckHandler)
	s.router.GET("/health/", healthHandlers.HealthCheckHandlerWithSlash)

	// Register session handlers
	sessionHandlers := session.NewHandlers(s.app, s.manager)
	s.router.POST("/wa/start", sessionHandlers.StartHandler)
	s.router.GET("/wa/status", sessionHandlers.StatusHandler)
	s.router.GET("/wa/session", sessionHandlers.StatusHandler)
	s.router.GET("/wa/qr", sessionHandlers.QRHandler)
	s.router.POST("/wa/send", sessionHandlers.SendHandler)
	s.router.POST("/wa/restart", sessionHandlers.RestartHandler)
	s.router.POST("/wa/relogin", sessionHandlers.ReloginHandler)
	s.router.POST("/wa/logout", sessionHandlers.LogoutHandler)
	s.router.GET("/wa/logs", sessionHandlers.LogsHandler)
	s.router.GET("/wa/admin/sessions", sessionHandlers.AdminSessionsHandler)
}
