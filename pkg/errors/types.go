package errors

import (
	"fmt"
)

var (
	// ErrAuthentication is returned when the wiki rejects our credentials.
	// Retrying won't help, so callers should stop rather than poll again.
	ErrAuthentication = New("wiki rejected the API token")

	// ErrAlreadyRunning is returned when starting an engine that's running.
	ErrAlreadyRunning = New("sync engine is already running")

	// ErrManualResolutionRequired is returned for conflicts that have no
	// automatic strategy.
	ErrManualResolutionRequired = New("conflict requires manual resolution")

	// ErrMergeFailed is returned when a three-way merge produced conflict
	// blocks.
	ErrMergeFailed = New("automatic merge left conflicting regions")

	// ErrUnresolvedMarkers is returned when manually merged content still
	// contains conflict markers.
	ErrUnresolvedMarkers = New("content still contains conflict markers")

	// ErrFileChanged is returned when a file changed while it was being
	// synced.
	ErrFileChanged = New("file contents changed during sync")
)

// MissingFieldError represents a missing required field.
type MissingFieldError struct {
	Field string
}

func (err MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field: %s", err.Field)
}

// FileNotFound represents when we were unable to access a file
// because the path didn't exist.
type FileNotFound struct {
	Path string
}

func (err FileNotFound) Error() string {
	return fmt.Sprintf("%q does not exist", err.Path)
}

// ConflictNotFound is returned when resolving a conflict ID that isn't in
// the conflict queue.
type ConflictNotFound struct {
	ID string
}

func (err ConflictNotFound) Error() string {
	return fmt.Sprintf("no pending conflict with id %q", err.ID)
}

// InvalidStrategy is returned for resolution strategies that don't exist, or
// that are missing the content they require.
type InvalidStrategy struct {
	Strategy string
	Reason   string
}

func (err InvalidStrategy) Error() string {
	if err.Reason == "" {
		return fmt.Sprintf("unknown resolution strategy %q", err.Strategy)
	}
	return fmt.Sprintf("invalid %q resolution: %s", err.Strategy, err.Reason)
}

// RemoteError is an error reported by the wiki API.
type RemoteError struct {
	StatusCode int
	Message    string
}

func (err RemoteError) Error() string {
	if err.StatusCode == 0 {
		return fmt.Sprintf("wiki error: %s", err.Message)
	}
	return fmt.Sprintf("wiki error (HTTP %d): %s", err.StatusCode, err.Message)
}
