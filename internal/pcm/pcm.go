package pcm

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

const (
	// CaptureRate is the sample rate of microphone frames sent upstream
	CaptureRate = 16000
	// PlaybackRate is the sample rate of audio chunks received from the service
	PlaybackRate = 24000

	scale = 32768.0
)

// FormatError reports an audio payload whose length does not divide into whole frames
type FormatError struct {
	Len      int
	Channels int
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("pcm: %d bytes is not a whole number of %d-channel int16 frames", e.Len, e.Channels)
}

// EncodedChunk is one text-safe audio frame ready for the transport
type EncodedChunk struct {
	Data     string `json:"data"`
	MIMEType string `json:"mimeType"`
}

// Buffer holds de-interleaved float samples, one slice per channel
type Buffer struct {
	SampleRate int
	Channels   [][]float32
}

// Frames returns the number of sample frames per channel
func (b *Buffer) Frames() int {
	if b == nil || len(b.Channels) == 0 {
		return 0
	}
	return len(b.Channels[0])
}

// Duration returns the playback length in seconds
func (b *Buffer) Duration() float64 {
	if b == nil || b.SampleRate <= 0 {
		return 0
	}
	return float64(b.Frames()) / float64(b.SampleRate)
}

// EncodeFrame converts float samples to little-endian int16 bytes.
// Samples are scaled by 32768 and truncated without clamping; values outside
// [-1, 1) wrap around, so callers must Clamp first if that matters.
func EncodeFrame(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(wrap16(float64(s)*scale)))
	}
	return out
}

// wrap16 truncates x toward zero and keeps the low 16 bits. NaN and
// infinities encode as silence.
func wrap16(x float64) int16 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return 0
	}
	return int16(int32(math.Mod(math.Trunc(x), 65536)))
}

// Clamp limits samples in place to the range representable by EncodeFrame
func Clamp(samples []float32) {
	const max = float32(32767.0 / scale)
	for i, s := range samples {
		switch {
		case s > max:
			samples[i] = max
		case s < -1:
			samples[i] = -1
		}
	}
}

// BytesToText encodes raw bytes for a text-only transport
func BytesToText(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// TextToBytes reverses BytesToText
func TextToBytes(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("pcm: invalid base64 payload: %w", err)
	}
	return b, nil
}

// DecodeToBuffer interprets b as interleaved int16 little-endian samples
func DecodeToBuffer(b []byte, sampleRate, channels int) (*Buffer, error) {
	if channels < 1 || len(b)%(2*channels) != 0 {
		return nil, &FormatError{Len: len(b), Channels: channels}
	}

	frames := len(b) / (2 * channels)
	buf := &Buffer{
		SampleRate: sampleRate,
		Channels:   make([][]float32, channels),
	}
	for ch := range buf.Channels {
		buf.Channels[ch] = make([]float32, frames)
	}

	for i := 0; i < frames; i++ {
		for ch := 0; ch < channels; ch++ {
			off := (i*channels + ch) * 2
			v := int16(binary.LittleEndian.Uint16(b[off:]))
			buf.Channels[ch][i] = float32(float64(v) / scale)
		}
	}
	return buf, nil
}

// MIMEType returns the tag for raw mono PCM at the given rate
func MIMEType(rate int) string {
	return "audio/pcm;rate=" + strconv.Itoa(rate)
}

// ParseRate extracts the rate parameter from an audio/pcm MIME type.
// It returns fallback when the parameter is missing or malformed.
func ParseRate(mimeType string, fallback int) int {
	for _, part := range strings.Split(mimeType, ";") {
		key, value, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok || !strings.EqualFold(key, "rate") {
			continue
		}
		if rate, err := strconv.Atoi(value); err == nil && rate > 0 {
			return rate
		}
	}
	return fallback
}

// NewChunk encodes one captured frame into a transport chunk
func NewChunk(samples []float32, rate int) EncodedChunk {
	return EncodedChunk{
		Data:     BytesToText(EncodeFrame(samples)),
		MIMEType: MIMEType(rate),
	}
}

// DurationOf returns how long n bytes of mono int16 audio last at rate
func DurationOf(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(int64(n/2) * int64(time.Second) / int64(rate))
}
