package app

import (
	"log"
	"time"
)

// App holds shared application state and resources. Session state lives in
// the session registry, which is constructed in main and injected where
// needed rather than kept here as process-wide mutable state.
type App struct {
	Logger    *log.Logger
	StartTime time.Time // Track startup time for health checks
}

// NewApp creates a new App instance
func NewApp(logger *log.Logger) *App {
	return &App{
		Logger:    logger,
		StartTime: time.Now(),
	}
}
