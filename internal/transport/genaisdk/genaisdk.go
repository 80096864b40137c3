// Package genaisdk opens Live sessions through the Google Gen AI SDK.
package genaisdk

import (
	"context"
	"fmt"
	"sync"

	"google.golang.org/genai"

	"github.com/yok-tottii/EzLiveTutor/internal/logger"
	"github.com/yok-tottii/EzLiveTutor/internal/pcm"
	"github.com/yok-tottii/EzLiveTutor/internal/transport"
)

// Dialer opens Live sessions with genai.Client.Live
type Dialer struct {
	log *logger.Logger
}

// NewDialer creates a Dialer
func NewDialer(log *logger.Logger) *Dialer {
	if log == nil {
		log = logger.Discard()
	}
	return &Dialer{log: log.With("component", "transport", "backend", "genai")}
}

// LiveConfig builds the SDK connect config for a session
func LiveConfig(config transport.Config) *genai.LiveConnectConfig {
	lc := &genai.LiveConnectConfig{
		ResponseModalities:       []genai.Modality{genai.ModalityAudio},
		OutputAudioTranscription: &genai.AudioTranscriptionConfig{},
	}
	if config.SystemInstruction != "" {
		lc.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: config.SystemInstruction}},
		}
	}
	if config.InputTranscription {
		lc.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	return lc
}

// Open connects and waits for the setup acknowledgement
func (d *Dialer) Open(ctx context.Context, config transport.Config) (transport.Session, error) {
	if err := config.Validate(); err != nil {
		return nil, &transport.ConnectionError{Op: "configure", Err: err}
	}

	cc := &genai.ClientConfig{
		APIKey:  config.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if config.Endpoint != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: config.Endpoint}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, &transport.ConnectionError{Op: "client", Err: err}
	}

	live, err := client.Live.Connect(ctx, config.Model, LiveConfig(config))
	if err != nil {
		return nil, &transport.ConnectionError{Op: "dial", Err: err}
	}

	if err := awaitSetup(ctx, live); err != nil {
		live.Close()
		return nil, &transport.ConnectionError{Op: "setup", Err: err}
	}

	s := &session{live: live, log: d.log}
	s.stream = transport.NewStream(config.SendQueue, s.write, d.log)
	go s.readLoop()

	d.log.Info("Live session opened: %s", config.Model)
	return s, nil
}

func awaitSetup(ctx context.Context, live *genai.Session) error {
	result := make(chan error, 1)
	go func() {
		for {
			msg, err := live.Receive()
			if err != nil {
				result <- fmt.Errorf("waiting for setupComplete: %w", err)
				return
			}
			if msg.SetupComplete != nil {
				result <- nil
				return
			}
		}
	}()

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		// Closing unblocks Receive in the goroutine above
		live.Close()
		return ctx.Err()
	}
}

type session struct {
	live   *genai.Session
	stream *transport.Stream
	log    *logger.Logger

	mu        sync.Mutex
	closing   bool
	closeOnce sync.Once
}

func (s *session) Send(chunk pcm.EncodedChunk) error {
	return s.stream.Send(chunk)
}

func (s *session) Events() <-chan transport.Event {
	return s.stream.Events()
}

func (s *session) write(chunk pcm.EncodedChunk) error {
	raw, err := pcm.TextToBytes(chunk.Data)
	if err != nil {
		return err
	}
	err = s.live.SendRealtimeInput(genai.LiveRealtimeInput{
		Audio: &genai.Blob{Data: raw, MIMEType: chunk.MIMEType},
	})
	if err != nil {
		return fmt.Errorf("failed to send audio: %w", err)
	}
	return nil
}

func (s *session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closing = true
		s.mu.Unlock()

		if err := s.live.Close(); err != nil {
			s.log.Debug("Close: %v", err)
		}
		s.stream.Finish("closed by client")
	})
	return nil
}

func (s *session) isClosing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closing
}

func (s *session) readLoop() {
	reason := "connection closed"
	defer func() {
		s.stream.Finish(reason)
	}()

	for {
		msg, err := s.live.Receive()
		if err != nil {
			if s.isClosing() {
				reason = "closed by client"
			} else {
				s.stream.Emit(transport.ErrorEvent{Err: err})
			}
			return
		}

		if msg.GoAway != nil {
			s.log.Warn("Server is going away, time left: %v", msg.GoAway.TimeLeft)
		}
		for _, ev := range Events(msg) {
			if !s.stream.Emit(ev) {
				return
			}
		}
	}
}

// Events converts one SDK server message into transport events
func Events(msg *genai.LiveServerMessage) []transport.Event {
	sc := msg.ServerContent
	if sc == nil {
		return nil
	}

	var events []transport.Event
	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		events = append(events, transport.TranscriptEvent{Role: transport.RoleModel, Text: sc.OutputTranscription.Text})
	}
	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		events = append(events, transport.TranscriptEvent{Role: transport.RoleUser, Text: sc.InputTranscription.Text})
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p == nil || p.InlineData == nil || len(p.InlineData.Data) == 0 {
				continue
			}
			events = append(events, transport.AudioChunkEvent{
				Data:       p.InlineData.Data,
				SampleRate: pcm.ParseRate(p.InlineData.MIMEType, pcm.PlaybackRate),
			})
		}
	}
	if sc.Interrupted {
		events = append(events, transport.InterruptedEvent{})
	}
	if sc.TurnComplete {
		events = append(events, transport.TurnCompleteEvent{})
	}
	return events
}
