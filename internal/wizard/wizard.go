package wizard

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/yok-tottii/EzLiveTutor/internal/permissions"
	"github.com/yok-tottii/EzLiveTutor/internal/session"
)

// SetupWizard tracks first-run setup. Setup is complete once a voice
// session has reached Active.
type SetupWizard struct {
	configDir     string
	configPath    string
	setupFlagFile string
	mu            sync.RWMutex
}

// NewSetupWizard creates a wizard whose state lives next to configPath
func NewSetupWizard(configPath string) (*SetupWizard, error) {
	configDir := filepath.Dir(configPath)

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	return &SetupWizard{
		configDir:     configDir,
		configPath:    configPath,
		setupFlagFile: filepath.Join(configDir, ".setup_completed"),
	}, nil
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, fs.ErrNotExist)
}

// IsFirstRun reports whether no config file has been saved yet
func (w *SetupWizard) IsFirstRun() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return !exists(w.configPath)
}

// IsSetupCompleted reports whether a session has ever gone active
func (w *SetupWizard) IsSetupCompleted() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return exists(w.setupFlagFile)
}

// MarkSetupCompleted records that setup is done
func (w *SetupWizard) MarkSetupCompleted() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	file, err := os.Create(w.setupFlagFile)
	if err != nil {
		return fmt.Errorf("failed to create setup flag file: %w", err)
	}
	return file.Close()
}

// ShouldShowWizard is true on first run and until setup completes
func (w *SetupWizard) ShouldShowWizard() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return !exists(w.configPath) || !exists(w.setupFlagFile)
}

// SetupProgress is the checklist shown on the settings page
type SetupProgress struct {
	APIKeySet         bool `json:"api_key_set"`
	MicrophoneGranted bool `json:"microphone_granted"`
	SessionTested     bool `json:"session_tested"`
	Completed         bool `json:"completed"`
}

// Progress returns the checklist for the given key and microphone state
func (w *SetupWizard) Progress(apiKeySet bool, mic permissions.PermissionStatus) SetupProgress {
	tested := w.IsSetupCompleted()
	return SetupProgress{
		APIKeySet:         apiKeySet,
		MicrophoneGranted: mic == permissions.PermissionAuthorized,
		SessionTested:     tested,
		Completed:         tested && apiKeySet,
	}
}

// Watch marks setup completed when the first session becomes active. It
// returns when updates is closed.
func (w *SetupWizard) Watch(updates <-chan session.Snapshot) error {
	for snap := range updates {
		if snap.State != session.StateActive || w.IsSetupCompleted() {
			continue
		}
		if err := w.MarkSetupCompleted(); err != nil {
			return err
		}
	}
	return nil
}

// ResetSetup clears the completed flag
func (w *SetupWizard) ResetSetup() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.Remove(w.setupFlagFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove setup flag file: %w", err)
	}
	return nil
}

// GetConfigDir returns the configuration directory
func (w *SetupWizard) GetConfigDir() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.configDir
}
