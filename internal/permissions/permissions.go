package permissions

import (
	"errors"
	"fmt"
)

// PermissionStatus represents the status of a system permission
type PermissionStatus int

const (
	// PermissionNotDetermined means the user hasn't been asked yet
	PermissionNotDetermined PermissionStatus = 0
	// PermissionRestricted means the permission is restricted by parental controls
	PermissionRestricted PermissionStatus = 1
	// PermissionDenied means the user has explicitly denied the permission
	PermissionDenied PermissionStatus = 2
	// PermissionAuthorized means the user has authorized the permission
	PermissionAuthorized PermissionStatus = 3
)

// ErrMicrophoneDenied is wrapped by every microphone PermissionError
var ErrMicrophoneDenied = errors.New("microphone access denied")

// PermissionError reports a permission that blocks a voice session
type PermissionError struct {
	Permission string
	Status     PermissionStatus
}

func (e *PermissionError) Error() string {
	return fmt.Sprintf("%s permission: %s", e.Permission, GetPermissionStatusMessage(e.Status))
}

func (e *PermissionError) Unwrap() error {
	return ErrMicrophoneDenied
}

// Checker reports the microphone permission of the running process
type Checker interface {
	CheckMicrophonePermission() PermissionStatus
}

// PermissionChecker provides methods for checking system permissions
type PermissionChecker struct{}

// NewPermissionChecker creates a new permission checker
func NewPermissionChecker() *PermissionChecker {
	return &PermissionChecker{}
}

// IsMicrophoneAuthorized returns whether microphone permission is granted
func (pc *PermissionChecker) IsMicrophoneAuthorized() bool {
	return pc.CheckMicrophonePermission() == PermissionAuthorized
}

// CheckAllPermissions returns the state of every permission the app uses
func (pc *PermissionChecker) CheckAllPermissions() map[string]bool {
	return map[string]bool{
		"microphone": pc.IsMicrophoneAuthorized(),
	}
}

// RequireMicrophone fails when capture cannot work. An undetermined status
// passes because opening the input stream triggers the system prompt.
func RequireMicrophone(c Checker) error {
	switch status := c.CheckMicrophonePermission(); status {
	case PermissionDenied, PermissionRestricted:
		return &PermissionError{Permission: "microphone", Status: status}
	default:
		return nil
	}
}

// PermissionStatus string representation
func (ps PermissionStatus) String() string {
	switch ps {
	case PermissionNotDetermined:
		return "NotDetermined"
	case PermissionRestricted:
		return "Restricted"
	case PermissionDenied:
		return "Denied"
	case PermissionAuthorized:
		return "Authorized"
	default:
		return "Unknown"
	}
}

// GetPermissionStatusMessage returns a human-readable message for a permission status
func GetPermissionStatusMessage(status PermissionStatus) string {
	switch status {
	case PermissionNotDetermined:
		return "Permission not yet determined"
	case PermissionRestricted:
		return "Permission restricted by parental controls"
	case PermissionDenied:
		return "Permission denied"
	case PermissionAuthorized:
		return "Permission authorized"
	default:
		return "Unknown permission status"
	}
}
