package tray

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/getlantern/systray"

	"github.com/yok-tottii/EzLiveTutor/internal/i18n"
	"github.com/yok-tottii/EzLiveTutor/internal/logger"
	"github.com/yok-tottii/EzLiveTutor/internal/session"
)

const appName = "EzLiveTutor"

// Icon selects the tray image
type Icon int

const (
	IconIdle Icon = iota
	IconConnecting
	IconActive
)

// IconFor maps a session state to its tray image
func IconFor(state session.State) Icon {
	switch state {
	case session.StateConnecting, session.StateClosing:
		return IconConnecting
	case session.StateActive:
		return IconActive
	default:
		return IconIdle
	}
}

// Manager manages the system tray icon and menu
type Manager struct {
	translator      *i18n.Translator
	hotkey          string
	log             *logger.Logger
	onReadyCallback func()
	onToggle        func()
	onTranscript    func()
	onSettings      func()
	onDeviceChange  func(deviceID int)
	onQuit          func()

	mu                sync.Mutex
	ready             bool
	snap              session.Snapshot
	menuSession       *systray.MenuItem
	menuTranscript    *systray.MenuItem
	menuSettings      *systray.MenuItem
	menuDevices       *systray.MenuItem
	menuQuit          *systray.MenuItem
	deviceMenuItems   []*systray.MenuItem
	deviceCancelFuncs []context.CancelFunc

	icons map[Icon][]byte
}

// Config holds tray manager configuration
type Config struct {
	Translator     *i18n.Translator
	Hotkey         string // display form, e.g. ⌃⌥Space
	Log            *logger.Logger
	OnReady        func() // Called when systray is ready for initialization
	OnToggle       func()
	OnTranscript   func()
	OnSettings     func()
	OnDeviceChange func(deviceID int) // Called when user selects a microphone
	OnQuit         func()
}

// NewManager creates a new tray manager
func NewManager(config Config) *Manager {
	if config.Translator == nil {
		config.Translator = i18n.NewDefault(i18n.LanguageEnglish)
	}
	if config.Log == nil {
		config.Log = logger.Discard()
	}

	m := &Manager{
		translator:      config.Translator,
		hotkey:          config.Hotkey,
		log:             config.Log.With("component", "tray"),
		onReadyCallback: config.OnReady,
		onToggle:        config.OnToggle,
		onTranscript:    config.OnTranscript,
		onSettings:      config.OnSettings,
		onDeviceChange:  config.OnDeviceChange,
		onQuit:          config.OnQuit,
		snap:            session.Snapshot{State: session.StateIdle, Status: session.StatusReady},
	}

	m.icons = map[Icon][]byte{
		IconIdle:       m.loadIconData("tutor_idle.png", idleFallback()),
		IconConnecting: m.loadIconData("tutor_connecting.png", connectingFallback()),
		IconActive:     m.loadIconData("tutor_active.png", activeFallback()),
	}

	return m
}

// Run starts the system tray (blocking call)
func (m *Manager) Run() {
	systray.Run(m.onReady, m.onExit)
}

func (m *Manager) onReady() {
	m.mu.Lock()
	sessionTip := m.translator.Translate("menu.start_session")
	if m.hotkey != "" {
		sessionTip += " (" + m.hotkey + ")"
	}
	m.menuSession = systray.AddMenuItem(m.translator.Translate("menu.start_session"), sessionTip)
	m.menuTranscript = systray.AddMenuItem(m.translator.Translate("menu.transcript"), "Show the conversation")
	m.menuSettings = systray.AddMenuItem(m.translator.Translate("menu.settings"), "Open settings page")
	m.menuDevices = systray.AddMenuItem(m.translator.Translate("settings.input_device"), "Select microphone")

	systray.AddSeparator()

	m.menuQuit = systray.AddMenuItem(m.translator.Translate("menu.quit"), "Quit the application")
	m.ready = true
	m.render()
	m.mu.Unlock()

	go m.handleMenuEvents()

	if m.onReadyCallback != nil {
		m.onReadyCallback()
	}
}

func (m *Manager) onExit() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ready = false
	m.cancelDeviceHandlers()
}

// handleMenuEvents handles menu item clicks
func (m *Manager) handleMenuEvents() {
	for {
		select {
		case <-m.menuSession.ClickedCh:
			if m.onToggle != nil {
				m.onToggle()
			}
		case <-m.menuTranscript.ClickedCh:
			if m.onTranscript != nil {
				m.onTranscript()
			}
		case <-m.menuSettings.ClickedCh:
			if m.onSettings != nil {
				m.onSettings()
			}
		case <-m.menuQuit.ClickedCh:
			if m.onQuit != nil {
				m.onQuit()
			}
			systray.Quit()
			return
		}
	}
}

// Apply shows snap in the icon, tooltip and session menu item
func (m *Manager) Apply(snap session.Snapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap = snap
	if m.ready {
		m.render()
	}
}

// Observe applies every snapshot until updates is closed
func (m *Manager) Observe(updates <-chan session.Snapshot) {
	for snap := range updates {
		m.Apply(snap)
	}
}

// Snapshot returns the last applied snapshot
func (m *Manager) Snapshot() session.Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snap
}

// render must be called with m.mu held after onReady
func (m *Manager) render() {
	systray.SetIcon(m.icons[IconFor(m.snap.State)])
	systray.SetTooltip(m.Tooltip(m.snap))
	m.menuSession.SetTitle(m.SessionLabel(m.snap))
}

// Tooltip returns the tray tooltip for snap
func (m *Manager) Tooltip(snap session.Snapshot) string {
	return appName + " - " + m.translator.Status(snap.Status)
}

// SessionLabel returns the title of the start/stop menu item
func (m *Manager) SessionLabel(snap session.Snapshot) string {
	if snap.State.Running() {
		return m.translator.Translate("menu.stop_session")
	}
	return m.translator.Translate("menu.start_session")
}

// Device represents an audio device for the menu
type Device struct {
	ID        int
	Name      string
	IsDefault bool
	IsCurrent bool
}

// UpdateDeviceMenu replaces the microphone submenu
func (m *Manager) UpdateDeviceMenu(devices []Device) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.ready {
		return
	}

	m.cancelDeviceHandlers()

	for _, item := range m.deviceMenuItems {
		item.Hide()
	}
	m.deviceMenuItems = nil

	for _, device := range devices {
		prefix := ""
		if device.IsCurrent {
			prefix = "✓ "
		}

		tooltip := ""
		if device.IsDefault {
			tooltip = "System default device"
		}

		menuItem := m.menuDevices.AddSubMenuItem(prefix+device.Name, tooltip)
		m.deviceMenuItems = append(m.deviceMenuItems, menuItem)

		ctx, cancel := context.WithCancel(context.Background())
		m.deviceCancelFuncs = append(m.deviceCancelFuncs, cancel)

		go func(id int, item *systray.MenuItem, ctx context.Context) {
			for {
				select {
				case <-ctx.Done():
					return
				case <-item.ClickedCh:
					if m.onDeviceChange != nil {
						m.onDeviceChange(id)
					}
				}
			}
		}(device.ID, menuItem, ctx)
	}
}

func (m *Manager) cancelDeviceHandlers() {
	for _, cancel := range m.deviceCancelFuncs {
		cancel()
	}
	m.deviceCancelFuncs = nil
}

// Quit quits the system tray
func (m *Manager) Quit() {
	systray.Quit()
}

// loadIconData loads an icon from assets/icon next to the executable,
// falling back to the built-in placeholder
func (m *Manager) loadIconData(filename string, fallback []byte) []byte {
	exe, err := os.Executable()
	if err != nil {
		m.log.Warn("Could not resolve executable path: %v", err)
		return fallback
	}

	iconPath := filepath.Join(filepath.Dir(exe), "assets", "icon", filename)
	data, err := os.ReadFile(iconPath)
	if err != nil {
		m.log.Debug("Using built-in icon, %s not readable: %v", iconPath, err)
		return fallback
	}

	return data
}

// idleFallback is drawn when no session is running
func idleFallback() []byte {
	return []byte{
		0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a,
		0x00, 0x00, 0x00, 0x0d, 0x49, 0x48, 0x44, 0x52,
		0x00, 0x00, 0x00, 0x10, 0x00, 0x00, 0x00, 0x10,
		0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0xf3, 0xff,
		0x61, 0x00, 0x00, 0x00, 0x19, 0x74, 0x45, 0x58,
		0x74, 0x53, 0x6f, 0x66, 0x74, 0x77, 0x61, 0x72,
		0x65, 0x00, 0x41, 0x64, 0x6f, 0x62, 0x65, 0x20,
		0x49, 0x6d, 0x61, 0x67, 0x65, 0x52, 0x65, 0x61,
		0x64, 0x79, 0x71, 0xc9, 0x65, 0x3c, 0x00, 0x00,
		0x00, 0x18, 0x49, 0x44, 0x41, 0x54, 0x78, 0xda,
		0x62, 0xfc, 0xff, 0xff, 0x3f, 0x03, 0x00, 0x00,
		0x00, 0xff, 0xff, 0x03, 0x00, 0x00, 0x00, 0x00,
		0x00, 0x49, 0x45, 0x4e, 0x44, 0xae, 0x42, 0x60,
		0x82,
	}
}

// activeFallback is drawn while the tutor is listening
func activeFallback() []byte {
	return []byte{
		0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a,
		0x00, 0x00, 0x00, 0x0d, 0x49, 0x48, 0x44, 0x52,
		0x00, 0x00, 0x00, 0x10, 0x00, 0x00, 0x00, 0x10,
		0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0xf3, 0xff,
		0x61, 0x00, 0x00, 0x00, 0x19, 0x74, 0x45, 0x58,
		0x74, 0x53, 0x6f, 0x66, 0x74, 0x77, 0x61, 0x72,
		0x65, 0x00, 0x41, 0x64, 0x6f, 0x62, 0x65, 0x20,
		0x49, 0x6d, 0x61, 0x67, 0x65, 0x52, 0x65, 0x61,
		0x64, 0x79, 0x71, 0xc9, 0x65, 0x3c, 0x00, 0x00,
		0x00, 0x20, 0x49, 0x44, 0x41, 0x54, 0x78, 0xda,
		0x62, 0xfc, 0xcf, 0xc0, 0xc0, 0xc0, 0xf0, 0x9f,
		0x81, 0x81, 0x81, 0x81, 0xff, 0x19, 0x18, 0x18,
		0x18, 0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0x03,
		0x00, 0x0c, 0x10, 0x02, 0x01, 0x8b, 0xd5, 0xf8,
		0x23, 0x00, 0x00, 0x00, 0x00, 0x49, 0x45, 0x4e,
		0x44, 0xae, 0x42, 0x60, 0x82,
	}
}

// connectingFallback is drawn while the session opens
func connectingFallback() []byte {
	return []byte{
		0x89, 0x50, 0x4e, 0x47, 0x0d, 0x0a, 0x1a, 0x0a,
		0x00, 0x00, 0x00, 0x0d, 0x49, 0x48, 0x44, 0x52,
		0x00, 0x00, 0x00, 0x10, 0x00, 0x00, 0x00, 0x10,
		0x08, 0x06, 0x00, 0x00, 0x00, 0x1f, 0xf3, 0xff,
		0x61, 0x00, 0x00, 0x00, 0x19, 0x74, 0x45, 0x58,
		0x74, 0x53, 0x6f, 0x66, 0x74, 0x77, 0x61, 0x72,
		0x65, 0x00, 0x41, 0x64, 0x6f, 0x62, 0x65, 0x20,
		0x49, 0x6d, 0x61, 0x67, 0x65, 0x52, 0x65, 0x61,
		0x64, 0x79, 0x71, 0xc9, 0x65, 0x3c, 0x00, 0x00,
		0x00, 0x20, 0x49, 0x44, 0x41, 0x54, 0x78, 0xda,
		0x62, 0xfc, 0xcf, 0xf0, 0x9f, 0xc1, 0xc8, 0xc0,
		0xc0, 0xc0, 0xff, 0x0c, 0x0c, 0x0c, 0xfc, 0xcf,
		0xc0, 0xc0, 0xc0, 0x00, 0x00, 0x00, 0x00, 0xff,
		0xff, 0x03, 0x00, 0x0c, 0x50, 0x02, 0x01, 0x3e,
		0x0a, 0xe4, 0x5b, 0x00, 0x00, 0x00, 0x00, 0x49,
		0x45, 0x4e, 0x44, 0xae, 0x42, 0x60, 0x82,
	}
}
