package internal

import (
	"errors"
	"fmt"
)

var (
	// ErrAcquisitionInFlight is returned when a token request for the same
	// workflow is already running.
	ErrAcquisitionInFlight = errors.New("session token request already in progress")

	// ErrFlipInProgress is returned when a facing-mode flip overlaps another.
	ErrFlipInProgress = errors.New("camera flip already in progress")

	// ErrNoCameraTrack is returned when the camera is marked on but no published track exists.
	ErrNoCameraTrack = errors.New("no published camera track")

	// ErrNotConnected is returned for capture changes made with no room attached.
	ErrNotConnected = errors.New("not connected to a room")

	// Device failure causes reported by MediaDevices implementations.
	ErrPermissionDenied        = errors.New("permission denied")
	ErrDeviceBusy              = errors.New("device busy")
	ErrConstraintUnsatisfiable = errors.New("capture constraints cannot be satisfied")
)

// StorageError represents errors accessing checkpoint storage
type StorageError struct {
	Path string
	Op   string // "open", "read", "write", "delete", "parse"
	Err  error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage error: %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// ExportError represents errors during export
type ExportError struct {
	Format string
	Path   string
	Err    error
}

func (e *ExportError) Error() string {
	return fmt.Sprintf("export error [%s] %s: %v", e.Format, e.Path, e.Err)
}

func (e *ExportError) Unwrap() error {
	return e.Err
}

// RecipeError represents a failure to resolve the recipe a session runs
type RecipeError struct {
	RecipeID string
	Err      error
}

func (e *RecipeError) Error() string {
	return fmt.Sprintf("recipe error [%s]: %v", e.RecipeID, e.Err)
}

func (e *RecipeError) Unwrap() error {
	return e.Err
}

// AcquisitionErrorKind classifies token acquisition failures.
type AcquisitionErrorKind string

const (
	AcquisitionTransient   AcquisitionErrorKind = "transient"
	AcquisitionRateLimited AcquisitionErrorKind = "rate_limited"
	AcquisitionExhausted   AcquisitionErrorKind = "exhausted"
)

// AcquisitionError represents a failure to obtain a session credential
type AcquisitionError struct {
	Kind       AcquisitionErrorKind
	WorkflowID string
	Attempts   int
	StatusCode int
	Err        error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("token acquisition %s [%s] after %d attempt(s): %v", e.Kind, e.WorkflowID, e.Attempts, e.Err)
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}

// UserMessage returns the text shown next to the retry control.
func (e *AcquisitionError) UserMessage() string {
	switch e.Kind {
	case AcquisitionRateLimited:
		return "Too many sessions started recently. Wait a minute, then try again."
	case AcquisitionExhausted:
		if e.Err != nil {
			return fmt.Sprintf("Could not start the session: %v", e.Err)
		}
		return "Could not start the session."
	default:
		return "Connection hiccup, retrying..."
	}
}

// IsRateLimited reports whether err is a rate-limited acquisition failure.
func IsRateLimited(err error) bool {
	var acqErr *AcquisitionError
	return errors.As(err, &acqErr) && acqErr.Kind == AcquisitionRateLimited
}

// DeviceErrorKind classifies capture failures.
type DeviceErrorKind string

const (
	DevicePermissionDenied        DeviceErrorKind = "permission_denied"
	DeviceBusy                    DeviceErrorKind = "device_busy"
	DeviceConstraintUnsatisfiable DeviceErrorKind = "constraint_unsatisfiable"
	DeviceUnknown                 DeviceErrorKind = "unknown"
)

// DeviceError represents a microphone or camera failure
type DeviceError struct {
	Kind   DeviceErrorKind
	Device string // "microphone", "camera"
	Op     string
	Err    error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("device error [%s %s] %s: %v", e.Device, e.Op, e.Kind, e.Err)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

// ClassifyDeviceError maps a capture failure to its kind.
func ClassifyDeviceError(err error) DeviceErrorKind {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return DevicePermissionDenied
	case errors.Is(err, ErrDeviceBusy):
		return DeviceBusy
	case errors.Is(err, ErrConstraintUnsatisfiable):
		return DeviceConstraintUnsatisfiable
	default:
		return DeviceUnknown
	}
}

func newDeviceError(device, op string, err error) *DeviceError {
	var devErr *DeviceError
	if errors.As(err, &devErr) {
		return devErr
	}
	return &DeviceError{
		Kind:   ClassifyDeviceError(err),
		Device: device,
		Op:     op,
		Err:    err,
	}
}

// ConnectionError represents a realtime room failure observed by the session
type ConnectionError struct {
	State ConnectionState
	Err   error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("connection %s", e.State)
	}
	return fmt.Sprintf("connection %s: %v", e.State, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}
