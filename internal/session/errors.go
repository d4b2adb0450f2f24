package session

import "errors"

var (
	// ErrNotInitialized is returned when an operation needs a client handle
	// and the session never started (or was torn down)
	ErrNotInitialized = errors.New("session not initialized")

	// ErrNotReady is returned when a session has a client but authentication
	// has not completed yet
	ErrNotReady = errors.New("session not ready")

	// ErrInvalidDestination is returned when a destination identifier
	// contains no digits after normalization
	ErrInvalidDestination = errors.New("invalid destination")

	// ErrNoSession is returned by operations that require an existing
	// registry entry
	ErrNoSession = errors.New("no session found")
)
