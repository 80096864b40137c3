package gemini

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/yok-tottii/EzLiveTutor/internal/pcm"
	"github.com/yok-tottii/EzLiveTutor/internal/transport"
)

// Client messages of the BidiGenerateContent protocol

type clientMessage struct {
	Setup         *setup         `json:"setup,omitempty"`
	RealtimeInput *realtimeInput `json:"realtimeInput,omitempty"`
}

type setup struct {
	Model                    string           `json:"model"`
	GenerationConfig         generationConfig `json:"generationConfig"`
	SystemInstruction        *content         `json:"systemInstruction,omitempty"`
	OutputAudioTranscription *struct{}        `json:"outputAudioTranscription,omitempty"`
	InputAudioTranscription  *struct{}        `json:"inputAudioTranscription,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string `json:"responseModalities"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string            `json:"text,omitempty"`
	InlineData *pcm.EncodedChunk `json:"inlineData,omitempty"`
}

type realtimeInput struct {
	Audio *pcm.EncodedChunk `json:"audio,omitempty"`
}

// Server messages

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	GoAway        *goAway          `json:"goAway,omitempty"`
}

type serverContent struct {
	ModelTurn           *content       `json:"modelTurn,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
}

type transcription struct {
	Text string `json:"text"`
}

type goAway struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}

func newSetup(config transport.Config) clientMessage {
	s := &setup{
		Model:                    modelName(config.Model),
		GenerationConfig:         generationConfig{ResponseModalities: []string{"AUDIO"}},
		OutputAudioTranscription: &struct{}{},
	}
	if config.SystemInstruction != "" {
		s.SystemInstruction = &content{Parts: []part{{Text: config.SystemInstruction}}}
	}
	if config.InputTranscription {
		s.InputAudioTranscription = &struct{}{}
	}
	return clientMessage{Setup: s}
}

func modelName(model string) string {
	if strings.HasPrefix(model, "models/") {
		return model
	}
	return "models/" + model
}

// frame is one decoded server message
type frame struct {
	setupComplete bool
	goAway        *goAway
	events        []transport.Event
	// dropped holds one error per audio part that could not be decoded
	dropped []error
}

// decode turns one server message into events: transcripts first, then
// audio parts in order, then interruption and turn completion. Audio parts
// with a bad payload are skipped and reported in dropped.
func decode(data []byte) (frame, error) {
	var msg serverMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return frame{}, fmt.Errorf("invalid server message: %w", err)
	}

	f := frame{
		setupComplete: msg.SetupComplete != nil,
		goAway:        msg.GoAway,
	}
	var events []transport.Event

	if sc := msg.ServerContent; sc != nil {
		if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
			events = append(events, transport.TranscriptEvent{Role: transport.RoleModel, Text: sc.OutputTranscription.Text})
		}
		if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
			events = append(events, transport.TranscriptEvent{Role: transport.RoleUser, Text: sc.InputTranscription.Text})
		}
		if sc.ModelTurn != nil {
			for _, p := range sc.ModelTurn.Parts {
				if p.InlineData == nil || p.InlineData.Data == "" {
					continue
				}
				raw, err := pcm.TextToBytes(p.InlineData.Data)
				if err != nil {
					f.dropped = append(f.dropped, err)
					continue
				}
				events = append(events, transport.AudioChunkEvent{
					Data:       raw,
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
	}

	f.events = events
	return f, nil
}
