package permission

import (
	"errors"
	"fmt"
)

// Platform error names, following the browser DOMException names the host
// platform reports for media acquisition.
const (
	ErrNameNotAllowed   = "NotAllowedError"
	ErrNameNotFound     = "NotFoundError"
	ErrNameNotSupported = "NotSupportedError"
	ErrNameSecurity     = "SecurityError"
	ErrNameAbort        = "AbortError"
	ErrNameNotReadable  = "NotReadableError"
)

// PlatformError is returned by a Platform when acquisition fails.
type PlatformError struct {
	Name string
	Err  error
}

func (e *PlatformError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Name, e.Err)
	}
	return e.Name
}

func (e *PlatformError) Unwrap() error {
	return e.Err
}

// NewPlatformError wraps err under a platform error name.
func NewPlatformError(name string, err error) *PlatformError {
	return &PlatformError{Name: name, Err: err}
}

func errorName(err error) string {
	var pe *PlatformError
	if errors.As(err, &pe) {
		return pe.Name
	}
	return ""
}

var capabilityLabels = map[Capability]string{
	CapabilityScreen:     "Screen sharing",
	CapabilityMicrophone: "Microphone access",
	CapabilityCamera:     "Camera access",
}

var deniedHints = map[Capability]string{
	CapabilityScreen:     "Please allow screen sharing, or type your instructions instead.",
	CapabilityMicrophone: "Please allow microphone access, or type your instructions instead.",
	CapabilityCamera:     "Please allow camera access, or upload an image instead.",
}

// Message maps a platform error to the user-facing string shown for capability.
func Message(c Capability, err error) string {
	label := capabilityLabels[c]
	if label == "" {
		label = string(c)
	}

	switch errorName(err) {
	case ErrNameNotAllowed:
		return fmt.Sprintf("%s was denied. %s", label, deniedHints[c])
	case ErrNameNotFound:
		return fmt.Sprintf("No device found for %s.", label)
	case ErrNameNotSupported:
		return fmt.Sprintf("%s is not supported on this device.", label)
	case ErrNameSecurity:
		return fmt.Sprintf("%s requires a secure (HTTPS) connection.", label)
	case ErrNameAbort:
		return fmt.Sprintf("%s request was cancelled.", label)
	case ErrNameNotReadable:
		return fmt.Sprintf("%s is already in use by another application.", label)
	}
	if err != nil {
		return fmt.Sprintf("%s failed: %v", label, err)
	}
	return fmt.Sprintf("%s failed.", label)
}
