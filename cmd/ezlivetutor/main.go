package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yok-tottii/EzLiveTutor/internal/config"
)

const version = "0.1.0"

func init() {
	// systray and PortAudio on macOS need the main thread
	runtime.LockOSThread()
}

func main() {
	root, _ := newRootCmd()
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// flags are the persistent options shared by every subcommand
type flags struct {
	configPath string
	envPath    string
	v          *viper.Viper
}

func newRootCmd() (*cobra.Command, *flags) {
	f := &flags{v: config.NewViper()}

	rootCmd := &cobra.Command{
		Use:           "ezlivetutor",
		Short:         "EzLiveTutor is a realtime voice tutor",
		Long:          `EzLiveTutor streams your microphone to a live AI tutor and plays its spoken answers back.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTray(f)
		},
	}

	rootCmd.PersistentFlags().StringVar(&f.configPath, "config", config.GetConfigPath(), "Path to the JSON config file")
	rootCmd.PersistentFlags().StringVar(&f.envPath, "env-file", config.GetEnvPath(), "Path to a .env file with API keys")
	rootCmd.PersistentFlags().String("api-key", "", "Gemini API key")
	rootCmd.PersistentFlags().String("log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("backend", "", "Live transport backend (websocket, genai)")
	rootCmd.PersistentFlags().Int("port", 0, "Settings server port")

	// Bind flags to viper
	f.v.BindPFlag("api_key", rootCmd.PersistentFlags().Lookup("api-key"))
	f.v.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	f.v.BindPFlag("transport.backend", rootCmd.PersistentFlags().Lookup("backend"))
	f.v.BindPFlag("server_port", rootCmd.PersistentFlags().Lookup("port"))

	rootCmd.AddCommand(&cobra.Command{
		Use:   "tray",
		Short: "Run in the menu bar with a global hotkey (default)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTray(f)
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "tui",
		Short: "Run a voice session from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTUI(cmd.Context(), f)
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Serve the settings page and session API without a tray icon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), f)
		},
	})
	rootCmd.AddCommand(&cobra.Command{
		Use:   "devices",
		Short: "List audio input and output devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDevices(cmd.OutOrStdout())
		},
	})

	return rootCmd, f
}

// loadConfig reads .env, the config file, environment and flags, in
// increasing priority
func (f *flags) loadConfig() (*config.Config, error) {
	if err := config.LoadEnvFile(".env"); err != nil {
		return nil, err
	}
	if f.envPath != "" {
		if err := config.LoadEnvFile(f.envPath); err != nil {
			return nil, err
		}
	}

	cfg, err := config.LoadWith(f.v, f.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config %s: %w", f.configPath, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", f.configPath, err)
	}
	return cfg, nil
}
