package capture

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/yok-tottii/EzLiveTutor/internal/audio"
	"github.com/yok-tottii/EzLiveTutor/internal/logger"
	"github.com/yok-tottii/EzLiveTutor/internal/pcm"
)

// Sender accepts encoded microphone chunks. Send must not block.
type Sender interface {
	Send(chunk pcm.EncodedChunk) error
}

// Config holds pipeline options
type Config struct {
	// ClampInput saturates samples to [-1, 1) before encoding
	ClampInput bool
}

// Pipeline taps a microphone input and forwards every frame to a Sender
type Pipeline struct {
	input  audio.Input
	sender Sender
	log    *logger.Logger
	config Config

	mu      sync.Mutex
	running bool
	scratch []float32

	frames  atomic.Uint64
	dropped atomic.Uint64
}

// New creates a capture pipeline for input
func New(input audio.Input, sender Sender, config Config, log *logger.Logger) *Pipeline {
	if log == nil {
		log = logger.Discard()
	}
	return &Pipeline{
		input:  input,
		sender: sender,
		log:    log.With("component", "capture"),
		config: config,
	}
}

// Start connects the frame tap; calling it while running is a no-op
func (p *Pipeline) Start() error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.mu.Unlock()

	if err := p.input.Start(p.onFrame); err != nil {
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
		return fmt.Errorf("failed to start capture: %w", err)
	}

	cfg := p.input.Config()
	p.log.Info("Capture started: %d Hz, %d samples per frame", cfg.SampleRate, cfg.FrameSize)
	return nil
}

// Stop disconnects the tap. No frame reaches the sender after it returns.
func (p *Pipeline) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	if err := p.input.Stop(); err != nil {
		return fmt.Errorf("failed to stop capture: %w", err)
	}

	p.log.Info("Capture stopped: %d frames sent, %d dropped", p.frames.Load(), p.dropped.Load())
	return nil
}

// Running reports whether the tap is connected
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Frames returns the number of frames handed to the sender
func (p *Pipeline) Frames() uint64 {
	return p.frames.Load()
}

// Dropped returns the number of frames rejected or refused by the sender
func (p *Pipeline) Dropped() uint64 {
	return p.dropped.Load()
}

// onFrame runs on the audio thread for every captured frame
func (p *Pipeline) onFrame(samples []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.running {
		return
	}

	cfg := p.input.Config()
	if len(samples) != cfg.FrameSize {
		p.dropped.Add(1)
		p.log.Warn("Dropping frame of %d samples, expected %d", len(samples), cfg.FrameSize)
		return
	}

	frame := samples
	if p.config.ClampInput {
		if cap(p.scratch) < len(samples) {
			p.scratch = make([]float32, len(samples))
		}
		frame = p.scratch[:len(samples)]
		copy(frame, samples)
		pcm.Clamp(frame)
	}

	chunk := pcm.NewChunk(frame, cfg.SampleRate)
	if err := p.sender.Send(chunk); err != nil {
		p.dropped.Add(1)
		p.log.Warn("Failed to send audio frame: %v", err)
		return
	}
	p.frames.Add(1)
}
