package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/yok-tottii/EzLiveTutor/internal/audio"
	"github.com/yok-tottii/EzLiveTutor/internal/session"
	"github.com/yok-tottii/EzLiveTutor/internal/transport"
)

// DefaultSystemInstruction is the tutor persona sent with every session
const DefaultSystemInstruction = "You are MRS Ai, an empathetic and highly intelligent verbal tutor. " +
	"You provide spoken explanations that are clear and engaging. " +
	"When a student asks a question, guide them to the answer rather than just giving it. " +
	"Be warm, academic, and encouraging."

// EnvPrefix prefixes every environment override, e.g. EZLIVETUTOR_MODEL
const EnvPrefix = "EZLIVETUTOR"

// Config holds application configuration
type Config struct {
	APIKey            string          `json:"api_key,omitempty" mapstructure:"api_key"`
	Model             string          `json:"model" mapstructure:"model"`
	SystemInstruction string          `json:"system_instruction" mapstructure:"system_instruction"`
	Transport         TransportConfig `json:"transport" mapstructure:"transport"`
	Audio             AudioConfig     `json:"audio" mapstructure:"audio"`
	Hotkey            HotkeyConfig    `json:"hotkey" mapstructure:"hotkey"`
	UILanguage        string          `json:"ui_language" mapstructure:"ui_language"` // "ja" or "en"
	ServerPort        int             `json:"server_port" mapstructure:"server_port"`
	LogLevel          string          `json:"log_level" mapstructure:"log_level"`
	mu                sync.RWMutex
}

// TransportConfig selects and tunes the Live connection
type TransportConfig struct {
	Backend            string `json:"backend" mapstructure:"backend"` // "websocket" or "genai"
	Endpoint           string `json:"endpoint,omitempty" mapstructure:"endpoint"`
	SendQueue          int    `json:"send_queue" mapstructure:"send_queue"`
	InputTranscription bool   `json:"input_transcription" mapstructure:"input_transcription"`
}

// AudioConfig holds device selection and buffering
type AudioConfig struct {
	InputDeviceID  int    `json:"input_device_id" mapstructure:"input_device_id"`   // -1 means system default
	OutputDeviceID int    `json:"output_device_id" mapstructure:"output_device_id"` // -1 means system default
	FrameSize      int    `json:"frame_size" mapstructure:"frame_size"`             // samples per captured frame
	Latency        string `json:"latency" mapstructure:"latency"`                   // "low" or "high"
	ClampInput     bool   `json:"clamp_input" mapstructure:"clamp_input"`
	Speaker        bool   `json:"speaker" mapstructure:"speaker"` // false renders to a silent clock
}

// HotkeyConfig holds hotkey configuration
type HotkeyConfig struct {
	Ctrl  bool   `json:"ctrl" mapstructure:"ctrl"`
	Shift bool   `json:"shift" mapstructure:"shift"`
	Alt   bool   `json:"alt" mapstructure:"alt"`
	Cmd   bool   `json:"cmd" mapstructure:"cmd"`
	Key   string `json:"key" mapstructure:"key"` // e.g., "Space"
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Model:             "gemini-2.5-flash-native-audio-preview-12-2025",
		SystemInstruction: DefaultSystemInstruction,
		Transport: TransportConfig{
			Backend:   "websocket",
			SendQueue: 100,
		},
		Audio: AudioConfig{
			InputDeviceID:  -1,
			OutputDeviceID: -1,
			FrameSize:      4096,
			Latency:        "high",
			Speaker:        true,
		},
		Hotkey: HotkeyConfig{
			Ctrl: true,
			Alt:  true,
			Key:  "Space",
		},
		UILanguage: "en",
		ServerPort: 18765,
		LogLevel:   "info",
	}
}

// setDefaults registers every default so env overrides apply to all keys
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("model", d.Model)
	v.SetDefault("system_instruction", d.SystemInstruction)
	v.SetDefault("transport.backend", d.Transport.Backend)
	v.SetDefault("transport.endpoint", d.Transport.Endpoint)
	v.SetDefault("transport.send_queue", d.Transport.SendQueue)
	v.SetDefault("transport.input_transcription", d.Transport.InputTranscription)
	v.SetDefault("audio.input_device_id", d.Audio.InputDeviceID)
	v.SetDefault("audio.output_device_id", d.Audio.OutputDeviceID)
	v.SetDefault("audio.frame_size", d.Audio.FrameSize)
	v.SetDefault("audio.latency", d.Audio.Latency)
	v.SetDefault("audio.clamp_input", d.Audio.ClampInput)
	v.SetDefault("audio.speaker", d.Audio.Speaker)
	v.SetDefault("hotkey.ctrl", d.Hotkey.Ctrl)
	v.SetDefault("hotkey.shift", d.Hotkey.Shift)
	v.SetDefault("hotkey.alt", d.Hotkey.Alt)
	v.SetDefault("hotkey.cmd", d.Hotkey.Cmd)
	v.SetDefault("hotkey.key", d.Hotkey.Key)
	v.SetDefault("ui_language", d.UILanguage)
	v.SetDefault("server_port", d.ServerPort)
	v.SetDefault("log_level", d.LogLevel)
}

// NewViper returns a viper instance with defaults and environment bindings
func NewViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The key is usually exported under the SDK's own names
	v.BindEnv("api_key", EnvPrefix+"_API_KEY", "GEMINI_API_KEY", "GOOGLE_API_KEY")

	return v
}

// Load loads configuration from the specified path, applying environment overrides
func Load(path string) (*Config, error) {
	return LoadWith(NewViper(), path)
}

// LoadWith loads configuration through v, which may carry bound CLI flags
func LoadWith(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("json")

		// If file doesn't exist, defaults and environment apply
		if _, err := os.Stat(path); err == nil {
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}

	if config.Hotkey.Key == "" {
		config.Hotkey.Key = "Space"
	}

	return &config, nil
}

// LoadEnvFile loads KEY=value pairs from a .env file into the process
// environment. A missing file is not an error.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load env file: %w", err)
	}
	return nil
}

// Save saves configuration to the specified path
func (c *Config) Save(path string) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	// Ensure directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	// The file may hold the API key
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// GetConfigPath returns the default configuration file path
func GetConfigPath() string {
	homeDir, _ := os.UserHomeDir()
	return filepath.Join(homeDir, "Library", "Application Support", "EzLiveTutor", "config.json")
}

// GetEnvPath returns the default .env file path next to the config file
func GetEnvPath() string {
	return filepath.Join(filepath.Dir(GetConfigPath()), ".env")
}

// Update updates configuration fields
func (c *Config) Update(updates map[string]interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	for key, value := range updates {
		switch key {
		case "api_key":
			if v, ok := value.(string); ok {
				c.APIKey = v
			}
		case "model":
			if v, ok := value.(string); ok {
				if v == "" {
					return fmt.Errorf("model cannot be empty")
				}
				c.Model = v
			}
		case "system_instruction":
			if v, ok := value.(string); ok {
				c.SystemInstruction = v
			}
		case "ui_language":
			if v, ok := value.(string); ok {
				if v != "ja" && v != "en" {
					return fmt.Errorf("invalid ui_language: %s", v)
				}
				c.UILanguage = v
			}
		case "log_level":
			if v, ok := value.(string); ok {
				c.LogLevel = v
			}
		case "transport":
			if v, ok := value.(map[string]interface{}); ok {
				if backend, ok := v["backend"].(string); ok {
					if !isValidBackend(backend) {
						return fmt.Errorf("invalid transport backend: %s", backend)
					}
					c.Transport.Backend = backend
				}
				if endpoint, ok := v["endpoint"].(string); ok {
					c.Transport.Endpoint = endpoint
				}
				if q, ok := v["send_queue"].(float64); ok {
					c.Transport.SendQueue = int(q)
				}
				if it, ok := v["input_transcription"].(bool); ok {
					c.Transport.InputTranscription = it
				}
			}
		case "audio":
			if v, ok := value.(map[string]interface{}); ok {
				if id, ok := v["input_device_id"].(float64); ok {
					c.Audio.InputDeviceID = int(id)
				}
				if id, ok := v["output_device_id"].(float64); ok {
					c.Audio.OutputDeviceID = int(id)
				}
				if latency, ok := v["latency"].(string); ok {
					if latency != "low" && latency != "high" {
						return fmt.Errorf("invalid latency: %s", latency)
					}
					c.Audio.Latency = latency
				}
				if clamp, ok := v["clamp_input"].(bool); ok {
					c.Audio.ClampInput = clamp
				}
				if speaker, ok := v["speaker"].(bool); ok {
					c.Audio.Speaker = speaker
				}
			}
		case "hotkey":
			if v, ok := value.(map[string]interface{}); ok {
				if ctrl, ok := v["ctrl"].(bool); ok {
					c.Hotkey.Ctrl = ctrl
				}
				if shift, ok := v["shift"].(bool); ok {
					c.Hotkey.Shift = shift
				}
				if alt, ok := v["alt"].(bool); ok {
					c.Hotkey.Alt = alt
				}
				if cmd, ok := v["cmd"].(bool); ok {
					c.Hotkey.Cmd = cmd
				}
				if key, ok := v["key"].(string); ok {
					c.Hotkey.Key = key
				}
			}
		}
	}

	return nil
}

// Clone creates a deep copy of the configuration
func (c *Config) Clone() *Config {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return &Config{
		APIKey:            c.APIKey,
		Model:             c.Model,
		SystemInstruction: c.SystemInstruction,
		Transport:         c.Transport,
		Audio:             c.Audio,
		Hotkey:            c.Hotkey,
		UILanguage:        c.UILanguage,
		ServerPort:        c.ServerPort,
		LogLevel:          c.LogLevel,
	}
}

// ExpandPath expands ~ to home directory in file paths
func ExpandPath(path string) (string, error) {
	if path == "" {
		return "", nil
	}

	if strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		return filepath.Join(homeDir, path[2:]), nil
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	return absPath, nil
}

func isValidBackend(b string) bool {
	return b == "websocket" || b == "genai"
}

// Validate validates all configuration fields. A missing API key is not an
// error here; sessions fail to connect without one.
func (c *Config) Validate() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if !isValidBackend(c.Transport.Backend) {
		return fmt.Errorf("invalid transport backend: %s (must be 'websocket' or 'genai')", c.Transport.Backend)
	}

	if c.Transport.SendQueue <= 0 || c.Transport.SendQueue > 10000 {
		return fmt.Errorf("invalid send_queue: %d (must be between 1 and 10000)", c.Transport.SendQueue)
	}

	if c.Audio.FrameSize <= 0 || c.Audio.FrameSize > 16384 {
		return fmt.Errorf("invalid frame_size: %d (must be between 1 and 16384 samples)", c.Audio.FrameSize)
	}

	if c.Audio.Latency != "low" && c.Audio.Latency != "high" {
		return fmt.Errorf("invalid latency: %s (must be 'low' or 'high')", c.Audio.Latency)
	}

	if c.UILanguage != "ja" && c.UILanguage != "en" {
		return fmt.Errorf("invalid ui_language: %s (must be 'ja' or 'en')", c.UILanguage)
	}

	if c.ServerPort <= 0 || c.ServerPort > 65535 {
		return fmt.Errorf("invalid server_port: %d", c.ServerPort)
	}

	return nil
}

// SessionConfig converts the settings into what one voice session needs
func (c *Config) SessionConfig() (session.Config, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	latency, err := audio.ParseLatency(c.Audio.Latency)
	if err != nil {
		return session.Config{}, err
	}

	sc := session.DefaultConfig()
	sc.Transport = transport.Config{
		APIKey:             c.APIKey,
		Model:              c.Model,
		SystemInstruction:  c.SystemInstruction,
		Endpoint:           c.Transport.Endpoint,
		InputTranscription: c.Transport.InputTranscription,
		SendQueue:          c.Transport.SendQueue,
	}
	sc.Input.DeviceID = c.Audio.InputDeviceID
	sc.Input.FrameSize = c.Audio.FrameSize
	sc.Input.Latency = latency
	sc.Output.DeviceID = c.Audio.OutputDeviceID
	sc.Capture.ClampInput = c.Audio.ClampInput

	return sc, nil
}
