package permissions

import (
	"errors"
	"testing"
)

type staticChecker PermissionStatus

func (s staticChecker) CheckMicrophonePermission() PermissionStatus {
	return PermissionStatus(s)
}

func TestNewPermissionChecker(t *testing.T) {
	pc := NewPermissionChecker()

	if pc == nil {
		t.Fatal("Expected PermissionChecker to be created")
	}
}

func TestCheckMicrophonePermission(t *testing.T) {
	pc := NewPermissionChecker()

	status := pc.CheckMicrophonePermission()

	// Status should be one of the valid values
	if status < PermissionNotDetermined || status > PermissionAuthorized {
		t.Errorf("Expected valid permission status, got %d", status)
	}
}

func TestCheckAllPermissions(t *testing.T) {
	pc := NewPermissionChecker()

	perms := pc.CheckAllPermissions()
	if _, ok := perms["microphone"]; !ok {
		t.Error("Expected microphone permission in result")
	}
}

func TestRequireMicrophone(t *testing.T) {
	tests := []struct {
		status  PermissionStatus
		wantErr bool
	}{
		{PermissionAuthorized, false},
		{PermissionNotDetermined, false},
		{PermissionDenied, true},
		{PermissionRestricted, true},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			err := RequireMicrophone(staticChecker(tt.status))
			if (err != nil) != tt.wantErr {
				t.Fatalf("Expected error=%v, got %v", tt.wantErr, err)
			}
			if err == nil {
				return
			}
			if !errors.Is(err, ErrMicrophoneDenied) {
				t.Errorf("Expected ErrMicrophoneDenied, got %v", err)
			}
			var pe *PermissionError
			if !errors.As(err, &pe) || pe.Status != tt.status {
				t.Errorf("Expected PermissionError with status %v, got %v", tt.status, err)
			}
		})
	}
}

func TestPermissionStatusString(t *testing.T) {
	tests := []struct {
		status   PermissionStatus
		expected string
	}{
		{PermissionNotDetermined, "NotDetermined"},
		{PermissionRestricted, "Restricted"},
		{PermissionDenied, "Denied"},
		{PermissionAuthorized, "Authorized"},
		{PermissionStatus(99), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			if result := tt.status.String(); result != tt.expected {
				t.Errorf("Expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestGetPermissionStatusMessage(t *testing.T) {
	if msg := GetPermissionStatusMessage(PermissionDenied); msg != "Permission denied" {
		t.Errorf("Expected 'Permission denied', got %q", msg)
	}
	if msg := GetPermissionStatusMessage(PermissionStatus(99)); msg != "Unknown permission status" {
		t.Errorf("Expected 'Unknown permission status', got %q", msg)
	}
}
