package audio

import (
	"math"
	"sync"

	"github.com/yok-tottii/EzLiveTutor/internal/pcm"
)

// Mixer renders scheduled voices against a sample-accurate clock.
// The clock only advances in Render, so CurrentTime is monotonic.
type Mixer struct {
	mu       sync.Mutex
	rate     int
	channels int
	position int64 // frames rendered so far
	voices   map[*mixerVoice]struct{}
	closed   bool

	// notify runs ended callbacks off the render path
	notify func(func())
}

type mixerVoice struct {
	m       *Mixer
	buf     *pcm.Buffer
	start   int64
	onEnded func()
	once    sync.Once
}

// NewMixer creates a mixer for an output stream
func NewMixer(sampleRate, channels int) *Mixer {
	if channels <= 0 {
		channels = 1
	}
	return &Mixer{
		rate:     sampleRate,
		channels: channels,
		voices:   make(map[*mixerVoice]struct{}),
		notify:   func(fn func()) { go fn() },
	}
}

// CurrentTime returns the clock in seconds
func (m *Mixer) CurrentTime() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return float64(m.position) / float64(m.rate)
}

// Play schedules buf at clock time at
func (m *Mixer) Play(buf *pcm.Buffer, at float64, onEnded func()) Voice {
	v := &mixerVoice{m: m, buf: buf, onEnded: onEnded}

	m.mu.Lock()
	start := int64(math.Round(at * float64(m.rate)))
	if start < m.position {
		start = m.position
	}
	v.start = start
	closed := m.closed
	if !closed && buf.Frames() > 0 {
		m.voices[v] = struct{}{}
	}
	m.mu.Unlock()

	if closed || buf.Frames() == 0 {
		v.finish()
	}
	return v
}

// Active returns the number of voices not yet finished
func (m *Mixer) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.voices)
}

// Render mixes the next len(out)/channels frames into out and advances the clock
func (m *Mixer) Render(out []float32) {
	for i := range out {
		out[i] = 0
	}

	m.mu.Lock()
	frames := int64(len(out) / m.channels)
	from := m.position
	to := from + frames

	var ended []*mixerVoice
	for v := range m.voices {
		n := int64(v.buf.Frames())
		end := v.start + n
		if v.start < to && end > from {
			lo := max(v.start, from)
			hi := min(end, to)
			for f := lo; f < hi; f++ {
				src := f - v.start
				for ch := 0; ch < m.channels; ch++ {
					srcCh := ch
					if srcCh >= len(v.buf.Channels) {
						srcCh = len(v.buf.Channels) - 1
					}
					out[(f-from)*int64(m.channels)+int64(ch)] += v.buf.Channels[srcCh][src]
				}
			}
		}
		if end <= to {
			delete(m.voices, v)
			ended = append(ended, v)
		}
	}
	m.position = to
	m.mu.Unlock()

	for _, v := range ended {
		v.finish()
	}
}

// Close drops every pending voice and stops accepting new ones
func (m *Mixer) Close() error {
	m.mu.Lock()
	m.closed = true
	pending := make([]*mixerVoice, 0, len(m.voices))
	for v := range m.voices {
		pending = append(pending, v)
	}
	m.voices = make(map[*mixerVoice]struct{})
	m.mu.Unlock()

	for _, v := range pending {
		v.finish()
	}
	return nil
}

func (v *mixerVoice) Stop() {
	v.m.mu.Lock()
	_, live := v.m.voices[v]
	delete(v.m.voices, v)
	v.m.mu.Unlock()

	if live {
		v.finish()
	}
}

func (v *mixerVoice) finish() {
	v.once.Do(func() {
		if v.onEnded != nil {
			v.m.notify(v.onEnded)
		}
	})
}
