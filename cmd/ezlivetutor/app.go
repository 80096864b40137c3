package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"

	"github.com/yok-tottii/EzLiveTutor/internal/api"
	"github.com/yok-tottii/EzLiveTutor/internal/audio"
	"github.com/yok-tottii/EzLiveTutor/internal/config"
	"github.com/yok-tottii/EzLiveTutor/internal/hotkey"
	"github.com/yok-tottii/EzLiveTutor/internal/i18n"
	"github.com/yok-tottii/EzLiveTutor/internal/logger"
	"github.com/yok-tottii/EzLiveTutor/internal/notification"
	"github.com/yok-tottii/EzLiveTutor/internal/permissions"
	"github.com/yok-tottii/EzLiveTutor/internal/server"
	"github.com/yok-tottii/EzLiveTutor/internal/session"
	"github.com/yok-tottii/EzLiveTutor/internal/transport"
	"github.com/yok-tottii/EzLiveTutor/internal/transport/gemini"
	"github.com/yok-tottii/EzLiveTutor/internal/transport/genaisdk"
	"github.com/yok-tottii/EzLiveTutor/internal/tray"
	"github.com/yok-tottii/EzLiveTutor/internal/tui"
	"github.com/yok-tottii/EzLiveTutor/internal/wizard"
)

// App holds all application state
type App struct {
	flags      *flags
	log        *logger.Logger
	config     *config.Config
	translator *i18n.Translator
	system     *audio.PortAudioSystem
	controller *session.Controller
	httpServer *server.Server
	apiHandler *api.Handler
	hotkeyMgr  *hotkey.Manager
	trayMgr    *tray.Manager
	notifier   *notification.NotificationManager
	wizard     *wizard.SetupWizard

	ctx      context.Context
	cancel   context.CancelFunc
	quitOnce sync.Once
}

// newApp loads configuration and wires the session controller. console
// mirrors log lines to stderr.
func newApp(f *flags, console bool) (*App, error) {
	cfg, err := f.loadConfig()
	if err != nil {
		return nil, err
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	logConfig := logger.DefaultConfig()
	logConfig.Level = level
	logConfig.Console = console
	log, err := logger.New(logConfig)
	if err != nil {
		return nil, err
	}

	log.Info("EzLiveTutor v%s starting", version)
	log.Info("Config loaded from %s", f.configPath)
	if cfg.APIKey == "" {
		log.Warn("No API key configured; set GEMINI_API_KEY or open the settings page")
	}

	system, err := audio.NewPortAudioSystem()
	if err != nil {
		log.Close()
		return nil, fmt.Errorf("failed to initialize audio: %w", err)
	}

	sc, err := cfg.SessionConfig()
	if err != nil {
		system.Close()
		log.Close()
		return nil, err
	}

	translator := i18n.NewDefault(i18n.Language(cfg.UILanguage))
	ctx, cancel := context.WithCancel(context.Background())

	a := &App{
		flags:      f,
		log:        log,
		config:     cfg,
		translator: translator,
		system:     system,
		ctx:        ctx,
		cancel:     cancel,
	}
	a.controller = session.NewController(sc, sessionDevices(system, cfg.Audio.Speaker),
		newDialer(cfg.Transport.Backend, log), permissions.NewPermissionChecker(), log)

	if a.wizard, err = wizard.NewSetupWizard(f.configPath); err != nil {
		log.Warn("Setup wizard unavailable: %v", err)
	} else {
		updates, _ := a.controller.Subscribe()
		go func() {
			if err := a.wizard.Watch(updates); err != nil {
				log.Warn("Failed to record setup progress: %v", err)
			}
		}()
	}
	return a, nil
}

// newDialer picks the Live transport backend
func newDialer(backend string, log *logger.Logger) transport.Dialer {
	if backend == "genai" {
		return genaisdk.NewDialer(log)
	}
	return gemini.NewDialer(log)
}

// silentSpeaker plays model audio into a silent clock so sessions run
// without an output device
type silentSpeaker struct {
	session.Devices
}

func (s silentSpeaker) OpenOutput(config audio.Config) (audio.Output, error) {
	return audio.NewNullOutput(config), nil
}

func sessionDevices(devices session.Devices, speaker bool) session.Devices {
	if speaker {
		return devices
	}
	return silentSpeaker{devices}
}

// startServer serves the settings page and session API
func (a *App) startServer() error {
	serverConfig := server.DefaultConfig()
	serverConfig.Port = a.config.ServerPort
	serverConfig.Log = a.log
	a.httpServer = server.New(serverConfig)

	a.apiHandler = api.New(a.config, api.Options{
		ConfigPath:      a.flags.configPath,
		Controller:      a.controller,
		Devices:         a.system,
		Permissions:     permissions.NewPermissionChecker(),
		Wizard:          a.wizard,
		Log:             a.log,
		OnConfigChanged: a.applyConfig,
		OnHotkeyChanged: a.reloadHotkey,
	})
	a.apiHandler.RegisterRoutes(a.httpServer.GetMux())

	if err := a.httpServer.Start(); err != nil {
		return fmt.Errorf("failed to start settings server: %w", err)
	}
	return nil
}

// applyConfig pushes saved settings into the running application. Sessions
// pick up the new values on their next start.
func (a *App) applyConfig() error {
	sc, err := a.config.SessionConfig()
	if err != nil {
		return err
	}
	a.controller.SetConfig(sc)

	cfg := a.config.Clone()
	a.translator.SetLanguage(i18n.Language(cfg.UILanguage))
	if level, err := logger.ParseLevel(cfg.LogLevel); err == nil {
		a.log.SetLevel(level)
	}
	a.log.Info("Settings applied")
	return nil
}

// hotkeyConfig converts the saved hotkey, falling back to the default
func (a *App) hotkeyConfig() hotkey.Config {
	hk := a.config.Clone().Hotkey
	hc, err := hotkey.ParseConfig(hk.Ctrl, hk.Shift, hk.Alt, hk.Cmd, hk.Key)
	if err != nil {
		a.log.Warn("Invalid hotkey in config, using default: %v", err)
		return hotkey.DefaultConfig()
	}
	return hc
}

// startHotkey registers the toggle hotkey and starts its event loop
func (a *App) startHotkey() error {
	if a.hotkeyMgr == nil {
		a.hotkeyMgr = hotkey.New()
	}
	hc := a.hotkeyConfig()
	if err := a.hotkeyMgr.Register(hc); err != nil {
		return err
	}
	go a.hotkeyMgr.Run(a.ctx, a.toggle)
	a.log.Info("Hotkey registered: %s", hc)
	return nil
}

// reloadHotkey re-registers the hotkey after it changed on the settings
// page, restoring the previous one on failure
func (a *App) reloadHotkey() error {
	if a.hotkeyMgr == nil {
		return errors.New("hotkey manager not initialized")
	}

	old := a.hotkeyMgr.GetConfig()
	wasRunning := a.hotkeyMgr.IsRunning()
	if wasRunning {
		if err := a.hotkeyMgr.Close(); err != nil {
			return fmt.Errorf("failed to unregister old hotkey: %w", err)
		}
	}

	if err := a.startHotkey(); err != nil {
		a.log.Error("Failed to register new hotkey: %v", err)
		if wasRunning {
			if rollbackErr := a.hotkeyMgr.Register(old); rollbackErr != nil {
				return fmt.Errorf("failed to register new hotkey: %w, rollback error: %v", err, rollbackErr)
			}
			go a.hotkeyMgr.Run(a.ctx, a.toggle)
		}
		return fmt.Errorf("failed to register new hotkey: %w", err)
	}
	return nil
}

// toggle starts or stops the session without blocking the caller
func (a *App) toggle() {
	go func() {
		if err := a.controller.Toggle(a.ctx); err != nil {
			a.log.Warn("Voice session did not start: %v", err)
		}
	}()
}

// selectMicrophone stores the microphone picked in the tray menu
func (a *App) selectMicrophone(id int) {
	if err := a.config.Update(map[string]interface{}{
		"audio": map[string]interface{}{"input_device_id": float64(id)},
	}); err != nil {
		a.log.Error("Failed to select microphone: %v", err)
		return
	}
	if err := a.config.Save(a.flags.configPath); err != nil {
		a.log.Error("Failed to save config: %v", err)
	}
	if err := a.applyConfig(); err != nil {
		a.log.Error("Failed to apply microphone: %v", err)
	}
	a.refreshDeviceMenu()
}

func (a *App) refreshDeviceMenu() {
	devices, err := a.system.ListDevices()
	if err != nil {
		a.log.Warn("Failed to list devices: %v", err)
		return
	}
	a.trayMgr.UpdateDeviceMenu(trayDevices(devices, a.config.Clone().Audio.InputDeviceID))
}

// trayDevices lists microphones for the tray menu
func trayDevices(all []audio.Device, current int) []tray.Device {
	devices := []tray.Device{{ID: -1, Name: "System Default", IsDefault: true, IsCurrent: current == -1}}
	for _, d := range all {
		if d.MaxInputChannels == 0 {
			continue
		}
		devices = append(devices, tray.Device{
			ID:        d.ID,
			Name:      d.Name,
			IsDefault: d.IsDefaultInput,
			IsCurrent: d.ID == current,
		})
	}
	return devices
}

// openBrowser opens the settings page
func (a *App) openBrowser(path string) {
	if a.httpServer == nil || !a.httpServer.IsRunning() {
		a.log.Error("Settings server is not running")
		return
	}
	url := a.httpServer.URL() + path
	a.log.Info("Opening %s", url)

	go func() {
		if err := exec.Command("open", url).Run(); err != nil {
			a.log.Error("Failed to open browser: %v", err)
			fmt.Printf("\nOpen the settings page in your browser: %s\n\n", url)
		}
	}()
}

// shutdown stops the session and releases devices, once
func (a *App) shutdown() {
	a.quitOnce.Do(func() {
		a.log.Info("Shutting down")
		a.cancel()
		a.controller.StopSession()

		if a.httpServer != nil && a.httpServer.IsRunning() {
			if err := a.httpServer.Stop(); err != nil {
				a.log.Error("Failed to stop settings server: %v", err)
			}
		}
		if a.hotkeyMgr != nil {
			a.hotkeyMgr.Close()
		}
		if err := a.system.Close(); err != nil {
			a.log.Error("Failed to release audio: %v", err)
		}
		a.log.Close()
	})
}

// notifySignals cancels the app on SIGINT/SIGTERM and then calls onSignal
func (a *App) notifySignals(onSignal func()) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigChan:
			a.log.Info("Received termination signal")
			onSignal()
		case <-a.ctx.Done():
		}
		signal.Stop(sigChan)
	}()
}

// runTray runs the menu bar app; it blocks until Quit
func runTray(f *flags) error {
	a, err := newApp(f, true)
	if err != nil {
		return err
	}

	a.notifier = notification.NewNotificationManager("EzLiveTutor", a.translator)
	a.hotkeyMgr = hotkey.New()
	a.trayMgr = tray.NewManager(tray.Config{
		Translator:     a.translator,
		Hotkey:         a.hotkeyConfig().String(),
		Log:            a.log,
		OnReady:        a.onTrayReady,
		OnToggle:       a.toggle,
		OnTranscript:   func() { a.openBrowser("/") },
		OnSettings:     func() { a.openBrowser("/") },
		OnDeviceChange: a.selectMicrophone,
		OnQuit:         a.shutdown,
	})

	a.trayMgr.Run()
	a.shutdown()
	return nil
}

// onTrayReady runs once systray is up
func (a *App) onTrayReady() {
	if err := a.startServer(); err != nil {
		a.log.Error("%v", err)
	}

	if err := a.startHotkey(); err != nil {
		a.log.Error("Failed to register hotkey: %v", err)
	}

	trayUpdates, _ := a.controller.Subscribe()
	go a.trayMgr.Observe(trayUpdates)
	notifyUpdates, _ := a.controller.Subscribe()
	go a.notifier.Observe(notifyUpdates, a.log)

	a.refreshDeviceMenu()

	if status := permissions.NewPermissionChecker().CheckMicrophonePermission(); status == permissions.PermissionDenied || status == permissions.PermissionRestricted {
		a.log.Warn("Microphone: %s", permissions.GetPermissionStatusMessage(status))
		a.notifier.MicrophonePermissionDenied()
	}

	a.notifySignals(func() {
		a.shutdown()
		a.trayMgr.Quit()
	})

	a.printBanner()

	if a.wizard != nil && a.wizard.ShouldShowWizard() {
		a.log.Info("First run, opening the settings page")
		a.openBrowser("/")
	}
}

func (a *App) printBanner() {
	fmt.Println("\n==========================================================")
	fmt.Println("EzLiveTutor is running")
	fmt.Println("==========================================================")
	if a.httpServer != nil && a.httpServer.IsRunning() {
		fmt.Printf("Settings: %s\n", a.httpServer.URL())
	}
	if a.hotkeyMgr != nil && a.hotkeyMgr.IsRunning() {
		fmt.Printf("Hotkey:   %s starts and stops the voice session\n", a.hotkeyMgr.GetConfig())
	}
	fmt.Println("Quit:     Ctrl+C or the menu bar icon")
	fmt.Println("==========================================================")
}

// runTUI runs a session from the terminal with the settings API alongside
func runTUI(ctx context.Context, f *flags) error {
	a, err := newApp(f, false)
	if err != nil {
		return err
	}
	defer a.shutdown()

	if err := a.startServer(); err != nil {
		a.log.Warn("%v", err)
	}

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return tui.Run(ctx, a.controller, a.translator)
}

// runServe serves the session API until interrupted
func runServe(ctx context.Context, f *flags) error {
	a, err := newApp(f, true)
	if err != nil {
		return err
	}
	defer a.shutdown()

	if err := a.startServer(); err != nil {
		return err
	}

	updates, cancel := a.controller.Subscribe()
	defer cancel()
	go func() {
		for snap := range updates {
			a.log.Info("Session %s: %s", snap.State, snap.Status)
		}
	}()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Serving on %s (Ctrl+C to quit)\n", a.httpServer.URL())
	<-ctx.Done()
	return nil
}
