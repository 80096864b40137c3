//go:build !darwin

package permissions

import "fmt"

// CheckMicrophonePermission reports Authorized; access is enforced when the
// input stream is opened
func (pc *PermissionChecker) CheckMicrophonePermission() PermissionStatus {
	return PermissionAuthorized
}

// RequestMicrophonePermission is only available on macOS
func (pc *PermissionChecker) RequestMicrophonePermission() error {
	return fmt.Errorf("opening privacy settings is not supported on this platform")
}
