package camera

import (
	"errors"
	"fmt"
)

// DeviceErrorKind classifies open/connect failures.
type DeviceErrorKind int

const (
	HardwareUnavailable DeviceErrorKind = iota + 1
	Disabled
)

func (k DeviceErrorKind) String() string {
	switch k {
	case HardwareUnavailable:
		return "hardware unavailable"
	case Disabled:
		return "camera disabled"
	default:
		return "unknown device error"
	}
}

// Sentinels matched by errors.Is against a *DeviceError.
var (
	ErrHardwareUnavailable = errors.New("camera hardware unavailable")
	ErrCameraDisabled      = errors.New("camera disabled")
)

// DeviceError is returned by Opener.Open. It is fatal to the session.
type DeviceError struct {
	Kind DeviceErrorKind
	ID   int
	Err  error
}

func (e *DeviceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("open camera %d: %s: %v", e.ID, e.Kind, e.Err)
	}
	return fmt.Sprintf("open camera %d: %s", e.ID, e.Kind)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Is lets errors.Is match the kind sentinels.
func (e *DeviceError) Is(target error) bool {
	switch target {
	case ErrHardwareUnavailable:
		return e.Kind == HardwareUnavailable
	case ErrCameraDisabled:
		return e.Kind == Disabled
	}
	return false
}

// HardwareCallError wraps a runtime failure from a device command.
//
// Critical calls (starting the preview) are fatal to the session; the rest are
// recovered where they happen.
type HardwareCallError struct {
	Op       string
	Critical bool
	Err      error
}

func (e *HardwareCallError) Error() string {
	return fmt.Sprintf("camera %s: %v", e.Op, e.Err)
}

func (e *HardwareCallError) Unwrap() error { return e.Err }

// ErrClosed is returned by device methods after Close.
var ErrClosed = errors.New("camera device closed")

// ErrNotSupported is returned for optional capabilities the device lacks.
var ErrNotSupported = errors.New("not supported by camera device")
