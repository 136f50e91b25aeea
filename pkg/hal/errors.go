package hal

import (
	"errors"
	"fmt"
)

var (
	// ErrChannelOpen is matched by every channel open failure (missing device, permission, busy).
	ErrChannelOpen = errors.New("channel open failed")
	// ErrUnsupportedMode is returned for a ChipMode outside the mode table.
	ErrUnsupportedMode = errors.New("unsupported chip mode")
	// ErrLinesClosed is returned when control lines are used after Close.
	ErrLinesClosed = errors.New("control lines closed")
)

// OpenError describes a failed channel open.
type OpenError struct {
	Path     string
	BaudRate int
	Err      error
}

// Error implements error.
func (e *OpenError) Error() string {
	return fmt.Sprintf("failed to open %s at %d baud: %v", e.Path, e.BaudRate, e.Err)
}

// Unwrap returns the underlying driver error.
func (e *OpenError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrChannelOpen) true.
func (e *OpenError) Is(target error) bool {
	return target == ErrChannelOpen
}
