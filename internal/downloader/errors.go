package downloader

import (
	"errors"
	"fmt"

	"github.com/NamanBalaji/gdl/internal/common"
)

var (
	ErrInvalidOptions    = errors.New("invalid download options")
	ErrInvalidURL        = errors.New("url must be absolute http or https")
	ErrNotBound          = errors.New("download is not bound to a runtime")
	ErrResourceChanged   = errors.New("remote resource changed while paused")
	ErrFreezeUnsupported = errors.New("pause not supported for this download")
	ErrDeclined          = errors.New("download declined")
	ErrOutputMissing     = errors.New("output file missing")
	ErrInvalidListener   = errors.New("listener implements no callback")
)

// StateError is returned when a command is not valid in the current state.
type StateError struct {
	Op    string
	State common.State
	Err   error
}

func (e *StateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cannot %s download: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("cannot %s download in state %s", e.Op, e.State)
}

func (e *StateError) Unwrap() error {
	return e.Err
}
