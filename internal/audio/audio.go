package audio

import (
	"fmt"

	"github.com/yok-tottii/EzLiveTutor/internal/pcm"
)

// Device represents an audio device
type Device struct {
	ID                int
	Name              string
	IsDefaultInput    bool
	IsDefaultOutput   bool
	MaxInputChannels  int
	MaxOutputChannels int
	DefaultSampleRate float64
}

// LatencyMode defines the latency priority
type LatencyMode int

const (
	// LowLatency prioritizes low latency (real-time)
	LowLatency LatencyMode = iota
	// HighStability prioritizes stability (larger buffer)
	HighStability
)

// String returns the config name of the latency mode
func (l LatencyMode) String() string {
	switch l {
	case LowLatency:
		return "low"
	case HighStability:
		return "high"
	default:
		return "unknown"
	}
}

// ParseLatency converts a config value into a LatencyMode
func ParseLatency(s string) (LatencyMode, error) {
	switch s {
	case "low":
		return LowLatency, nil
	case "high", "":
		return HighStability, nil
	default:
		return HighStability, fmt.Errorf("invalid latency mode: %s", s)
	}
}

// Config holds the parameters of one audio stream
type Config struct {
	DeviceID   int
	SampleRate int
	Channels   int
	FrameSize  int // samples per callback
	Latency    LatencyMode
}

// DefaultInputConfig returns the microphone configuration
// Sample rate: 16kHz mono, 4096-sample frames
func DefaultInputConfig() Config {
	return Config{
		DeviceID:   -1, // -1 means use default device
		SampleRate: pcm.CaptureRate,
		Channels:   1,
		FrameSize:  4096,
		Latency:    HighStability,
	}
}

// DefaultOutputConfig returns the speaker configuration
// Sample rate: 24kHz mono, 20ms render quantum
func DefaultOutputConfig() Config {
	return Config{
		DeviceID:   -1,
		SampleRate: pcm.PlaybackRate,
		Channels:   1,
		FrameSize:  480,
		Latency:    LowLatency,
	}
}

// Validate checks that the stream parameters are usable
func (c Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.FrameSize <= 0 {
		return fmt.Errorf("frame size must be positive, got %d", c.FrameSize)
	}
	return nil
}

// Input is a live microphone stream delivering fixed-size frames
type Input interface {
	// Start begins delivering frames to onFrame. The slice is only valid
	// for the duration of the call.
	Start(onFrame func(samples []float32)) error

	// Stop disconnects the frame callback; safe to call repeatedly
	Stop() error

	// Config returns the negotiated stream parameters
	Config() Config

	// Close releases the device
	Close() error
}

// Voice is one scheduled buffer on an Output
type Voice interface {
	// Stop silences the voice immediately; a no-op once it has ended
	Stop()
}

// Output is a speaker with a monotonic clock that plays buffers at scheduled times
type Output interface {
	// CurrentTime returns seconds of audio rendered since the output was opened
	CurrentTime() float64

	// Play schedules buf to start at the given clock time. Times in the past
	// start immediately. onEnded runs once when the voice finishes or is stopped.
	Play(buf *pcm.Buffer, at float64, onEnded func()) Voice

	// Close stops rendering and releases the device
	Close() error
}

// System opens audio streams on the host
type System interface {
	ListDevices() ([]Device, error)
	OpenInput(config Config) (Input, error)
	OpenOutput(config Config) (Output, error)
	Close() error
}
