package wizard

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/yok-tottii/EzLiveTutor/internal/permissions"
	"github.com/yok-tottii/EzLiveTutor/internal/session"
)

func newTestWizard(t *testing.T) *SetupWizard {
	t.Helper()
	wizard, err := NewSetupWizard(filepath.Join(t.TempDir(), "EzLiveTutor", "config.json"))
	if err != nil {
		t.Fatalf("Failed to create wizard: %v", err)
	}
	return wizard
}

func TestNewSetupWizard(t *testing.T) {
	wizard := newTestWizard(t)

	if wizard.setupFlagFile != filepath.Join(wizard.configDir, ".setup_completed") {
		t.Errorf("Expected flag file in config dir, got %s", wizard.setupFlagFile)
	}

	info, err := os.Stat(wizard.GetConfigDir())
	if err != nil || !info.IsDir() {
		t.Errorf("Expected config directory to be created: %v", err)
	}
}

func TestIsFirstRun(t *testing.T) {
	wizard := newTestWizard(t)

	if !wizard.IsFirstRun() {
		t.Error("Expected IsFirstRun to return true when config doesn't exist")
	}

	if err := os.WriteFile(wizard.configPath, []byte("{}"), 0600); err != nil {
		t.Fatalf("Failed to create dummy config: %v", err)
	}

	if wizard.IsFirstRun() {
		t.Error("Expected IsFirstRun to return false when config exists")
	}
}

func TestShouldShowWizard(t *testing.T) {
	wizard := newTestWizard(t)

	if !wizard.ShouldShowWizard() {
		t.Error("Expected ShouldShowWizard to return true when config doesn't exist")
	}

	os.WriteFile(wizard.configPath, []byte("{}"), 0600)

	if !wizard.ShouldShowWizard() {
		t.Error("Expected ShouldShowWizard to return true when setup not completed")
	}

	if err := wizard.MarkSetupCompleted(); err != nil {
		t.Fatalf("Failed to mark setup completed: %v", err)
	}

	if wizard.ShouldShowWizard() {
		t.Error("Expected ShouldShowWizard to return false when setup is completed")
	}
}

func TestResetSetup(t *testing.T) {
	wizard := newTestWizard(t)

	if err := wizard.MarkSetupCompleted(); err != nil {
		t.Fatalf("Failed to mark setup completed: %v", err)
	}
	if !wizard.IsSetupCompleted() {
		t.Error("Setup flag should have been created")
	}

	if err := wizard.ResetSetup(); err != nil {
		t.Fatalf("Failed to reset setup: %v", err)
	}
	if wizard.IsSetupCompleted() {
		t.Error("Expected IsSetupCompleted to return false after reset")
	}

	// Resetting twice is fine
	if err := wizard.ResetSetup(); err != nil {
		t.Errorf("Expected second reset to succeed, got %v", err)
	}
}

func TestProgress(t *testing.T) {
	wizard := newTestWizard(t)

	progress := wizard.Progress(true, permissions.PermissionDenied)
	if !progress.APIKeySet || progress.MicrophoneGranted || progress.SessionTested || progress.Completed {
		t.Errorf("Unexpected progress before first session: %+v", progress)
	}

	wizard.MarkSetupCompleted()

	progress = wizard.Progress(true, permissions.PermissionAuthorized)
	if !progress.MicrophoneGranted || !progress.SessionTested || !progress.Completed {
		t.Errorf("Expected completed progress, got %+v", progress)
	}

	if wizard.Progress(false, permissions.PermissionAuthorized).Completed {
		t.Error("Expected setup incomplete without an API key")
	}
}

func TestWatch(t *testing.T) {
	wizard := newTestWizard(t)

	updates := make(chan session.Snapshot, 3)
	updates <- session.Snapshot{State: session.StateConnecting}
	updates <- session.Snapshot{State: session.StateErrored}
	close(updates)

	if err := wizard.Watch(updates); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	if wizard.IsSetupCompleted() {
		t.Error("Expected setup incomplete when no session went active")
	}

	updates = make(chan session.Snapshot, 2)
	updates <- session.Snapshot{State: session.StateConnecting}
	updates <- session.Snapshot{State: session.StateActive}
	close(updates)

	if err := wizard.Watch(updates); err != nil {
		t.Fatalf("Watch failed: %v", err)
	}
	if !wizard.IsSetupCompleted() {
		t.Error("Expected setup completed after an active session")
	}
}

func TestConcurrentWizardOperations(t *testing.T) {
	wizard := newTestWizard(t)

	done := make(chan bool, 10)
	for i := 0; i < 10; i++ {
		go func() {
			wizard.IsSetupCompleted()
			wizard.ShouldShowWizard()
			wizard.Progress(false, permissions.PermissionNotDetermined)
			done <- true
		}()
	}

	for i := 0; i < 10; i++ {
		<-done
	}
}
