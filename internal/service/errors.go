// Package service hosts the request orchestrator and the background
// refresher, the two halves of the engine's control plane.
package service

import "errors"

var (
	// ErrBadRequest marks client-side input problems; the transport layer
	// maps it to a 4xx.
	ErrBadRequest = errors.New("bad request")

	// ErrNotReady means the engine has no promoted index or caches yet.
	ErrNotReady = errors.New("engine not ready")

	// ErrNotFound marks lookups for videos absent from the corpus.
	ErrNotFound = errors.New("not found")

	// ErrRefreshRunning rejects a manual refresh while one is in flight.
	ErrRefreshRunning = errors.New("refresh already running")
)
