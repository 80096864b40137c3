package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/yok-tottii/EzLiveTutor/internal/audio"
	"github.com/yok-tottii/EzLiveTutor/internal/config"
	"github.com/yok-tottii/EzLiveTutor/internal/hotkey"
	"github.com/yok-tottii/EzLiveTutor/internal/logger"
	"github.com/yok-tottii/EzLiveTutor/internal/permissions"
	"github.com/yok-tottii/EzLiveTutor/internal/session"
	"github.com/yok-tottii/EzLiveTutor/internal/wizard"
)

// Controller is the part of the session controller the API drives
type Controller interface {
	StartSession(ctx context.Context) error
	StopSession()
	Snapshot() session.Snapshot
	Stats() session.Stats
}

// DeviceLister enumerates audio devices
type DeviceLister interface {
	ListDevices() ([]audio.Device, error)
}

// Options wires the handler to the running application. Every field is optional.
type Options struct {
	ConfigPath      string // defaults to config.GetConfigPath()
	Controller      Controller
	Devices         DeviceLister
	Permissions     permissions.Checker
	Wizard          *wizard.SetupWizard
	Log             *logger.Logger
	OnConfigChanged func() error // Called after settings are saved
	OnHotkeyChanged func() error // Called to reload hotkey in main app
}

// Handler manages API endpoints
type Handler struct {
	config          *config.Config
	configPath      string
	controller      Controller
	devices         DeviceLister
	perms           permissions.Checker
	wizard          *wizard.SetupWizard
	log             *logger.Logger
	onConfigChanged func() error
	onHotkeyChanged func() error
}

// New creates a new API handler
func New(cfg *config.Config, opts Options) *Handler {
	if opts.ConfigPath == "" {
		opts.ConfigPath = config.GetConfigPath()
	}
	if opts.Log == nil {
		opts.Log = logger.Discard()
	}
	return &Handler{
		config:          cfg,
		configPath:      opts.ConfigPath,
		controller:      opts.Controller,
		devices:         opts.Devices,
		perms:           opts.Permissions,
		wizard:          opts.Wizard,
		log:             opts.Log.With("component", "api"),
		onConfigChanged: opts.OnConfigChanged,
		onHotkeyChanged: opts.OnHotkeyChanged,
	}
}

// RegisterRoutes registers all API routes on the given mux
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/settings", h.handleSettings)
	mux.HandleFunc("/api/hotkey/validate", h.handleHotkeyValidate)
	mux.HandleFunc("/api/hotkey/register", h.handleHotkeyRegister)
	mux.HandleFunc("/api/devices", h.handleDevices)
	mux.HandleFunc("/api/permissions", h.handlePermissions)
	mux.HandleFunc("/api/session", h.handleSession)
	mux.HandleFunc("/api/session/start", h.handleSessionStart)
	mux.HandleFunc("/api/session/stop", h.handleSessionStop)
	mux.HandleFunc("/api/transcript", h.handleTranscript)
	mux.HandleFunc("/api/setup", h.handleSetup)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// handleSettings handles GET and PUT /api/settings
func (h *Handler) handleSettings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.getSettings(w, r)
	case http.MethodPut:
		h.putSettings(w, r)
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

// settingsView is the configuration as shown to the settings page
type settingsView struct {
	*config.Config
	APIKeySet bool `json:"api_key_set"`
}

// getSettings returns the current configuration with the API key masked
func (h *Handler) getSettings(w http.ResponseWriter, r *http.Request) {
	view := settingsView{Config: h.config.Clone()}
	view.APIKeySet = view.Config.APIKey != ""
	view.Config.APIKey = ""
	writeJSON(w, http.StatusOK, view)
}

// putSettings updates and saves the configuration
func (h *Handler) putSettings(w http.ResponseWriter, r *http.Request) {
	var updates map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&updates); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	// An empty key from the masked form keeps the stored one
	if key, ok := updates["api_key"].(string); ok && key == "" {
		delete(updates, "api_key")
	}

	candidate := h.config.Clone()
	if err := candidate.Update(updates); err != nil {
		http.Error(w, fmt.Sprintf("Failed to update config: %v", err), http.StatusBadRequest)
		return
	}
	if err := candidate.Validate(); err != nil {
		http.Error(w, fmt.Sprintf("Invalid config: %v", err), http.StatusBadRequest)
		return
	}

	if err := h.config.Update(updates); err != nil {
		http.Error(w, fmt.Sprintf("Failed to update config: %v", err), http.StatusBadRequest)
		return
	}

	if err := h.config.Save(h.configPath); err != nil {
		http.Error(w, fmt.Sprintf("Failed to save config: %v", err), http.StatusInternalServerError)
		return
	}

	if h.onConfigChanged != nil {
		if err := h.onConfigChanged(); err != nil {
			h.log.Warn("Failed to apply settings: %v", err)
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status": "success",
	})
}

// handleHotkeyValidate handles POST /api/hotkey/validate
func (h *Handler) handleHotkeyValidate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var request config.HotkeyConfig
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	hk, err := parseHotkey(request)
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"valid":     false,
			"message":   err.Error(),
			"conflicts": []string{},
		})
		return
	}

	conflictNames := []string{}
	for _, c := range hotkey.CheckConflicts(hk.Modifiers, hk.Key) {
		conflictNames = append(conflictNames, c.String())
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"valid":     true,
		"display":   hk.String(),
		"conflicts": conflictNames,
	})
}

// parseHotkey normalizes the key sent by the settings page
func parseHotkey(c config.HotkeyConfig) (hotkey.Config, error) {
	key := c.Key
	// macOS IMEs may send NBSP for the space bar
	if key == " " || key == "\u00a0" {
		key = "Space"
	}
	return hotkey.ParseConfig(c.Ctrl, c.Shift, c.Alt, c.Cmd, key)
}

// handleHotkeyRegister handles POST /api/hotkey/register
func (h *Handler) handleHotkeyRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var request config.HotkeyConfig
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	h.log.Debug("Received hotkey config: Ctrl=%v, Shift=%v, Alt=%v, Cmd=%v, Key=%q",
		request.Ctrl, request.Shift, request.Alt, request.Cmd, request.Key)

	hk, err := parseHotkey(request)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.config.Update(map[string]interface{}{
		"hotkey": map[string]interface{}{
			"ctrl":  request.Ctrl,
			"shift": request.Shift,
			"alt":   request.Alt,
			"cmd":   request.Cmd,
			"key":   keyName(hk),
		},
	}); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.config.Save(h.configPath); err != nil {
		http.Error(w, fmt.Sprintf("Failed to save config: %v", err), http.StatusInternalServerError)
		return
	}

	if h.onHotkeyChanged != nil {
		if err := h.onHotkeyChanged(); err != nil {
			// The hotkey is saved; it applies after a restart
			h.log.Warn("Failed to reload hotkey: %v", err)
			writeJSON(w, http.StatusOK, map[string]string{
				"status":  "partial",
				"message": fmt.Sprintf("Hotkey saved but reload failed: %v. Please restart the application.", err),
			})
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "success",
		"message": "Hotkey registered and applied successfully",
		"display": hk.String(),
	})
}

// keyName returns the key part of the display form, e.g. "Space" from ⌃⌥Space
func keyName(hk hotkey.Config) string {
	return strings.TrimLeft(hk.String(), "⌃⇧⌥⌘")
}

// Device represents an audio device
type Device struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
}

// splitDevices sorts devices into microphones and speakers
func splitDevices(all []audio.Device) (inputs, outputs []Device) {
	inputs = []Device{{ID: -1, Name: "System Default", IsDefault: true}}
	outputs = []Device{{ID: -1, Name: "System Default", IsDefault: true}}

	for _, dev := range all {
		if dev.MaxInputChannels > 0 {
			inputs = append(inputs, Device{ID: dev.ID, Name: dev.Name, IsDefault: dev.IsDefaultInput})
		}
		if dev.MaxOutputChannels > 0 {
			outputs = append(outputs, Device{ID: dev.ID, Name: dev.Name, IsDefault: dev.IsDefaultOutput})
		}
	}
	return inputs, outputs
}

// handleDevices handles GET /api/devices
func (h *Handler) handleDevices(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var all []audio.Device
	if h.devices != nil {
		var err error
		all, err = h.devices.ListDevices()
		if err != nil {
			http.Error(w, fmt.Sprintf("Failed to list audio devices: %v", err), http.StatusInternalServerError)
			return
		}
	}

	inputs, outputs := splitDevices(all)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"inputs":  inputs,
		"outputs": outputs,
	})
}

// Permission represents a system permission status
type Permission struct {
	Granted bool   `json:"granted"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// handlePermissions handles GET /api/permissions
func (h *Handler) handlePermissions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := h.micStatus()
	writeJSON(w, http.StatusOK, map[string]Permission{
		"microphone": {
			Granted: status == permissions.PermissionAuthorized,
			Status:  status.String(),
			Message: permissions.GetPermissionStatusMessage(status),
		},
	})
}

func (h *Handler) micStatus() permissions.PermissionStatus {
	if h.perms == nil {
		return permissions.PermissionNotDetermined
	}
	return h.perms.CheckMicrophonePermission()
}

// handleSetup handles GET /api/setup, the first-run checklist
func (h *Handler) handleSetup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.wizard == nil {
		http.Error(w, "Setup wizard not available", http.StatusServiceUnavailable)
		return
	}

	apiKeySet := h.config.Clone().APIKey != ""
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"show":     h.wizard.ShouldShowWizard(),
		"progress": h.wizard.Progress(apiKeySet, h.micStatus()),
	})
}

// sessionView is the response of the session endpoints
type sessionView struct {
	session.Snapshot
	Stats session.Stats `json:"stats"`
}

func (h *Handler) sessionView() sessionView {
	return sessionView{Snapshot: h.controller.Snapshot(), Stats: h.controller.Stats()}
}

func (h *Handler) requireController(w http.ResponseWriter) bool {
	if h.controller == nil {
		http.Error(w, "Session controller not available", http.StatusServiceUnavailable)
		return false
	}
	return true
}

// handleSession handles GET /api/session
func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.requireController(w) {
		return
	}

	writeJSON(w, http.StatusOK, h.sessionView())
}

// handleSessionStart handles POST /api/session/start. It answers once the
// session is active or has failed.
func (h *Handler) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.requireController(w) {
		return
	}

	if err := h.controller.StartSession(r.Context()); err != nil {
		status := http.StatusBadGateway
		switch {
		case errors.Is(err, session.ErrAlreadyRunning):
			status = http.StatusConflict
		case errors.Is(err, permissions.ErrMicrophoneDenied):
			status = http.StatusForbidden
		}
		h.log.Warn("Session start from settings page failed: %v", err)
		writeJSON(w, status, map[string]interface{}{
			"error":   err.Error(),
			"session": h.sessionView(),
		})
		return
	}

	writeJSON(w, http.StatusOK, h.sessionView())
}

// handleSessionStop handles POST /api/session/stop
func (h *Handler) handleSessionStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.requireController(w) {
		return
	}

	h.controller.StopSession()
	writeJSON(w, http.StatusOK, h.sessionView())
}

// handleTranscript handles GET /api/transcript; ?limit=N returns the last N lines
func (h *Handler) handleTranscript(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !h.requireController(w) {
		return
	}

	lines := h.controller.Snapshot().Transcript
	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		lines = session.Snapshot{Transcript: lines}.Recent(n)
	}
	if lines == nil {
		lines = []session.Transcript{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transcript": lines,
	})
}
