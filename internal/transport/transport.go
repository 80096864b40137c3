package transport

import (
	"context"
	"errors"
	"fmt"

	"github.com/yok-tottii/EzLiveTutor/internal/pcm"
)

// DefaultModel is the native-audio Live model used when none is configured
const DefaultModel = "gemini-2.5-flash-native-audio-preview-12-2025"

// DefaultSendQueue is the outbound chunk buffer (about 25 s of 4096-sample frames)
const DefaultSendQueue = 100

var (
	// ErrClosed is returned by Send after the session was closed
	ErrClosed = errors.New("transport: session closed")
	// ErrQueueFull is returned by Send when the outbound queue is saturated
	ErrQueueFull = errors.New("transport: send queue full")
)

// Config holds what the remote side needs to open a live session
type Config struct {
	APIKey            string
	Model             string
	SystemInstruction string
	// Endpoint overrides the service URL; empty means the public endpoint
	Endpoint string
	// InputTranscription asks the remote side to transcribe the user as well
	InputTranscription bool
	SendQueue          int
}

// Validate checks the fields required to dial
func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("API key is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	return nil
}

// ConnectionError reports a failure to establish a session
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// Role identifies who spoke a transcript line
type Role string

const (
	// RoleModel is the tutor's spoken output
	RoleModel Role = "model"
	// RoleUser is the learner's microphone input
	RoleUser Role = "user"
)

// Event is one inbound notification from a live session
type Event interface {
	isEvent()
}

// TranscriptEvent carries a fragment of transcribed speech
type TranscriptEvent struct {
	Role Role
	Text string
}

// AudioChunkEvent carries raw int16 little-endian PCM from the model
type AudioChunkEvent struct {
	Data       []byte
	SampleRate int
}

// InterruptedEvent means the user barged in; queued playback must stop
type InterruptedEvent struct{}

// TurnCompleteEvent marks the end of a model turn
type TurnCompleteEvent struct{}

// ErrorEvent reports a transport failure while the session was live
type ErrorEvent struct {
	Err error
}

// CloseEvent is the last event of a session
type CloseEvent struct {
	Reason string
}

func (TranscriptEvent) isEvent()   {}
func (AudioChunkEvent) isEvent()   {}
func (InterruptedEvent) isEvent()  {}
func (TurnCompleteEvent) isEvent() {}
func (ErrorEvent) isEvent()        {}
func (CloseEvent) isEvent()        {}

// Session is an open bidirectional live connection
type Session interface {
	// Send queues a chunk for delivery without blocking
	Send(chunk pcm.EncodedChunk) error

	// Events delivers inbound events in arrival order. The channel is
	// closed after the final CloseEvent.
	Events() <-chan Event

	// Close ends the session; safe to call repeatedly
	Close() error
}

// Dialer opens live sessions
type Dialer interface {
	// Open returns once the remote side has acknowledged the setup
	Open(ctx context.Context, config Config) (Session, error)
}

// DialerFunc adapts a function to Dialer
type DialerFunc func(ctx context.Context, config Config) (Session, error)

// Open calls f
func (f DialerFunc) Open(ctx context.Context, config Config) (Session, error) {
	return f(ctx, config)
}
