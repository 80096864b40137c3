package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

// PortAudioSystem implements System using PortAudio
type PortAudioSystem struct {
	mu          sync.Mutex
	initialized bool
}

// NewPortAudioSystem initializes PortAudio
func NewPortAudioSystem() (*PortAudioSystem, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return &PortAudioSystem{initialized: true}, nil
}

// ListDevices returns every device with at least one input or output channel
func (s *PortAudioSystem) ListDevices() ([]Device, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	// Missing defaults are not fatal; nothing gets marked
	defaultInput, _ := portaudio.DefaultInputDevice()
	defaultOutput, _ := portaudio.DefaultOutputDevice()

	var result []Device
	for i, dev := range devices {
		if dev.MaxInputChannels <= 0 && dev.MaxOutputChannels <= 0 {
			continue
		}
		result = append(result, Device{
			ID:                i,
			Name:              dev.Name,
			IsDefaultInput:    defaultInput != nil && dev.Name == defaultInput.Name,
			IsDefaultOutput:   defaultOutput != nil && dev.Name == defaultOutput.Name,
			MaxInputChannels:  dev.MaxInputChannels,
			MaxOutputChannels: dev.MaxOutputChannels,
			DefaultSampleRate: dev.DefaultSampleRate,
		})
	}

	return result, nil
}

// resolveDevice picks the configured device or the host default
func resolveDevice(id int, input bool) (*portaudio.DeviceInfo, error) {
	if id == -1 {
		var (
			device *portaudio.DeviceInfo
			err    error
		)
		if input {
			device, err = portaudio.DefaultInputDevice()
		} else {
			device, err = portaudio.DefaultOutputDevice()
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get default device: %w", err)
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	if id < 0 || id >= len(devices) {
		return nil, fmt.Errorf("invalid device ID: %d", id)
	}
	return devices[id], nil
}

func latencyFor(device *portaudio.DeviceInfo, mode LatencyMode, input bool) time.Duration {
	switch {
	case input && mode == LowLatency:
		return device.DefaultLowInputLatency
	case input:
		return device.DefaultHighInputLatency
	case mode == LowLatency:
		return device.DefaultLowOutputLatency
	default:
		return device.DefaultHighOutputLatency
	}
}

// OpenInput opens a microphone stream whose callback size equals config.FrameSize
func (s *PortAudioSystem) OpenInput(config Config) (Input, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	device, err := resolveDevice(config.DeviceID, true)
	if err != nil {
		return nil, err
	}
	if device.MaxInputChannels <= 0 {
		return nil, fmt.Errorf("selected device '%s' (ID: %d) has no input channels (output-only device)",
			device.Name, config.DeviceID)
	}

	in := &PortAudioInput{config: config}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: config.Channels,
			Latency:  latencyFor(device, config.Latency, true),
		},
		SampleRate:      float64(config.SampleRate),
		FramesPerBuffer: config.FrameSize,
	}

	stream, err := portaudio.OpenStream(params, in.callback)
	if err != nil {
		return nil, fmt.Errorf("failed to open input stream: %w", err)
	}
	in.stream = stream
	in.frame = make([]float32, config.FrameSize)

	return in, nil
}

// OpenOutput opens a speaker stream and starts its clock at zero
func (s *PortAudioSystem) OpenOutput(config Config) (Output, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	device, err := resolveDevice(config.DeviceID, false)
	if err != nil {
		return nil, err
	}
	if device.MaxOutputChannels <= 0 {
		return nil, fmt.Errorf("selected device '%s' (ID: %d) has no output channels (input-only device)",
			device.Name, config.DeviceID)
	}

	out := &PortAudioOutput{
		Mixer:  NewMixer(config.SampleRate, config.Channels),
		config: config,
	}

	params := portaudio.StreamParameters{
		Output: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: config.Channels,
			Latency:  latencyFor(device, config.Latency, false),
		},
		SampleRate:      float64(config.SampleRate),
		FramesPerBuffer: config.FrameSize,
	}

	stream, err := portaudio.OpenStream(params, out.Mixer.Render)
	if err != nil {
		return nil, fmt.Errorf("failed to open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, fmt.Errorf("failed to start output stream: %w", err)
	}
	out.stream = stream

	return out, nil
}

// Close terminates PortAudio
func (s *PortAudioSystem) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return nil
	}
	s.initialized = false

	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("failed to terminate PortAudio: %w", err)
	}
	return nil
}

// PortAudioInput implements Input
type PortAudioInput struct {
	config  Config
	stream  *portaudio.Stream
	frame   []float32
	mu      sync.Mutex
	onFrame func([]float32)
	running bool
}

// callback is called by PortAudio when a frame is available
func (in *PortAudioInput) callback(samples []float32) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.onFrame == nil {
		return
	}
	// Mono frames are passed through; interleaved input keeps channel 0
	if in.config.Channels == 1 {
		in.onFrame(samples)
		return
	}
	n := len(samples) / in.config.Channels
	for i := 0; i < n && i < len(in.frame); i++ {
		in.frame[i] = samples[i*in.config.Channels]
	}
	in.onFrame(in.frame[:n])
}

// Start starts the stream and delivers frames to onFrame
func (in *PortAudioInput) Start(onFrame func([]float32)) error {
	in.mu.Lock()
	defer in.mu.Unlock()

	if in.stream == nil {
		return fmt.Errorf("input stream closed")
	}
	if in.running {
		return fmt.Errorf("already capturing")
	}

	in.onFrame = onFrame
	if err := in.stream.Start(); err != nil {
		in.onFrame = nil
		return fmt.Errorf("failed to start stream: %w", err)
	}
	in.running = true
	return nil
}

// Stop detaches the callback and stops the stream
func (in *PortAudioInput) Stop() error {
	in.mu.Lock()
	in.onFrame = nil
	running := in.running
	in.running = false
	stream := in.stream
	in.mu.Unlock()

	// Stop waits for the callback to return, so it must run unlocked
	if running && stream != nil {
		if err := stream.Stop(); err != nil {
			return fmt.Errorf("failed to stop stream: %w", err)
		}
	}
	return nil
}

// Config returns the stream parameters
func (in *PortAudioInput) Config() Config {
	return in.config
}

// Close releases the stream
func (in *PortAudioInput) Close() error {
	if err := in.Stop(); err != nil {
		return err
	}

	in.mu.Lock()
	defer in.mu.Unlock()

	if in.stream != nil {
		if err := in.stream.Close(); err != nil {
			return fmt.Errorf("failed to close stream: %w", err)
		}
		in.stream = nil
	}
	return nil
}

// PortAudioOutput implements Output with a Mixer driven by the stream callback
type PortAudioOutput struct {
	*Mixer
	config Config
	mu     sync.Mutex
	stream *portaudio.Stream
}

// Close stops the stream and drops pending voices
func (o *PortAudioOutput) Close() error {
	o.mu.Lock()
	stream := o.stream
	o.stream = nil
	o.mu.Unlock()

	o.Mixer.Close()

	if stream == nil {
		return nil
	}
	if err := stream.Stop(); err != nil {
		stream.Close()
		return fmt.Errorf("failed to stop output stream: %w", err)
	}
	if err := stream.Close(); err != nil {
		return fmt.Errorf("failed to close output stream: %w", err)
	}
	return nil
}
