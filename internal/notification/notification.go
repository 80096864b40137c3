package notification

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/yok-tottii/EzLiveTutor/internal/i18n"
	"github.com/yok-tottii/EzLiveTutor/internal/logger"
	"github.com/yok-tottii/EzLiveTutor/internal/session"
)

// NotificationType represents the type of notification
type NotificationType string

const (
	// TypeInfo is an informational notification
	TypeInfo NotificationType = "info"
	// TypeWarning is a warning notification
	TypeWarning NotificationType = "warning"
	// TypeError is an error notification
	TypeError NotificationType = "error"
	// TypeSuccess is a success notification
	TypeSuccess NotificationType = "success"
)

// Notification represents a macOS notification
type Notification struct {
	Title   string
	Message string
	Type    NotificationType
}

// NotificationManager handles sending notifications to the user
type NotificationManager struct {
	appName    string
	translator *i18n.Translator
	run        func(name string, args ...string) error
}

// NewNotificationManager creates a new notification manager. A nil
// translator uses the built-in English texts.
func NewNotificationManager(appName string, translator *i18n.Translator) *NotificationManager {
	if translator == nil {
		translator = i18n.NewDefault(i18n.LanguageEnglish)
	}
	return &NotificationManager{
		appName:    appName,
		translator: translator,
		run: func(name string, args ...string) error {
			return exec.Command(name, args...).Run()
		},
	}
}

// Send sends a notification to the user via macOS notification center
func (nm *NotificationManager) Send(notification *Notification) error {
	if notification == nil {
		return fmt.Errorf("notification cannot be nil")
	}

	script := fmt.Sprintf(
		`display notification "%s" with title "%s"`,
		escape(notification.Message),
		escape(notification.Title),
	)

	if err := nm.run("osascript", "-e", script); err != nil {
		return fmt.Errorf("failed to send notification: %w", err)
	}

	return nil
}

// escape makes s safe inside an AppleScript string literal
func escape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	s = strings.ReplaceAll(s, "\r", `\r`)
	return strings.ReplaceAll(s, "\t", `\t`)
}

func (nm *NotificationManager) send(kind NotificationType, message string) error {
	return nm.Send(&Notification{
		Title:   nm.appName,
		Message: message,
		Type:    kind,
	})
}

// SessionStarted sends a notification that the voice session is live
func (nm *NotificationManager) SessionStarted() error {
	return nm.send(TypeSuccess, nm.translator.Translate("notification.session_started"))
}

// SessionStopped sends a notification that the voice session ended
func (nm *NotificationManager) SessionStopped() error {
	return nm.send(TypeInfo, nm.translator.Translate("notification.session_stopped"))
}

// SessionFailed sends a notification that the session could not start
func (nm *NotificationManager) SessionFailed(reason string) error {
	return nm.send(TypeError, nm.translator.TranslateWithFormat("error.session_failed", map[string]string{
		"reason": reason,
	}))
}

// NetworkError sends a notification that a live session dropped
func (nm *NotificationManager) NetworkError() error {
	return nm.send(TypeError, nm.translator.Translate("error.network"))
}

// MicrophonePermissionDenied sends a notification that microphone permission is denied
func (nm *NotificationManager) MicrophonePermissionDenied() error {
	return nm.send(TypeError, nm.translator.Translate("error.mic_permission_denied"))
}

// Observe sends a notification when the session goes live, ends or fails.
// It returns when updates is closed.
func (nm *NotificationManager) Observe(updates <-chan session.Snapshot, log *logger.Logger) {
	if log == nil {
		log = logger.Discard()
	}

	var prev session.Snapshot
	first := true

	for snap := range updates {
		if !first && snap.Status != prev.Status {
			if err := nm.transition(snap); err != nil {
				log.Debug("Notification not shown: %v", err)
			}
		}
		prev = snap
		first = false
	}
}

func (nm *NotificationManager) transition(snap session.Snapshot) error {
	switch snap.Status {
	case session.StatusActive:
		return nm.SessionStarted()
	case session.StatusClosed:
		return nm.SessionStopped()
	case session.StatusNetworkError:
		return nm.NetworkError()
	case session.StatusStartFailed:
		return nm.SessionFailed(nm.translator.Status(snap.Status))
	default:
		return nil
	}
}
