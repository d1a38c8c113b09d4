package engine

import "errors"

var (
	// ErrDownloadNotFound is returned when a download cannot be found.
	ErrDownloadNotFound = errors.New("download not found")

	// ErrDownloadExists is returned when trying to add a duplicate download.
	ErrDownloadExists = errors.New("download already exists")

	// ErrEngineNotRunning is returned when an operation requires the engine to be running.
	ErrEngineNotRunning = errors.New("engine is not running")

	ErrGroupTerminated = errors.New("group is shut down")
	ErrPurgeRunning    = errors.New("running downloads cannot be purged")
	ErrInvalidCapacity = errors.New("group capacity must be at least 1")
)
