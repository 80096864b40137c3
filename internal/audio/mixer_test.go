package audio

import (
	"math"
	"testing"

	"github.com/yok-tottii/EzLiveTutor/internal/pcm"
)

func newSyncMixer(rate int) *Mixer {
	m := NewMixer(rate, 1)
	m.notify = func(fn func()) { fn() }
	return m
}

func constBuffer(rate, frames int, v float32) *pcm.Buffer {
	samples := make([]float32, frames)
	for i := range samples {
		samples[i] = v
	}
	return &pcm.Buffer{SampleRate: rate, Channels: [][]float32{samples}}
}

func TestMixerClockAdvances(t *testing.T) {
	m := newSyncMixer(100)

	if m.CurrentTime() != 0 {
		t.Errorf("Expected clock at 0, got %v", m.CurrentTime())
	}

	m.Render(make([]float32, 50))
	if got := m.CurrentTime(); math.Abs(got-0.5) > 1e-9 {
		t.Errorf("Expected clock at 0.5, got %v", got)
	}
}

func TestMixerPlaysAtScheduledOffset(t *testing.T) {
	m := newSyncMixer(100)

	ended := 0
	m.Play(constBuffer(100, 5, 0.5), 0.03, func() { ended++ })

	out := make([]float32, 10)
	m.Render(out)

	for i, s := range out {
		want := float32(0)
		if i >= 3 && i < 8 {
			want = 0.5
		}
		if s != want {
			t.Errorf("Sample %d: expected %v, got %v", i, want, s)
		}
	}
	if ended != 1 {
		t.Errorf("Expected onEnded once, got %d", ended)
	}
	if m.Active() != 0 {
		t.Errorf("Expected no active voices, got %d", m.Active())
	}
}

func TestMixerSpansRenderQuanta(t *testing.T) {
	m := newSyncMixer(100)

	ended := 0
	m.Play(constBuffer(100, 15, 0.25), 0, func() { ended++ })

	m.Render(make([]float32, 10))
	if ended != 0 {
		t.Error("Expected voice to still be playing after first quantum")
	}
	if m.Active() != 1 {
		t.Errorf("Expected 1 active voice, got %d", m.Active())
	}

	out := make([]float32, 10)
	m.Render(out)
	if out[4] != 0.25 || out[5] != 0 {
		t.Errorf("Expected tail to end at frame 5, got %v", out)
	}
	if ended != 1 {
		t.Errorf("Expected onEnded once, got %d", ended)
	}
}

func TestMixerOverlappingVoicesSum(t *testing.T) {
	m := newSyncMixer(100)

	m.Play(constBuffer(100, 4, 0.25), 0, nil)
	m.Play(constBuffer(100, 4, 0.5), 0.02, nil)

	out := make([]float32, 8)
	m.Render(out)

	want := []float32{0.25, 0.25, 0.75, 0.75, 0.5, 0.5, 0, 0}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("Sample %d: expected %v, got %v", i, want[i], out[i])
		}
	}
}

func TestMixerPastTimeStartsImmediately(t *testing.T) {
	m := newSyncMixer(100)
	m.Render(make([]float32, 10))

	m.Play(constBuffer(100, 2, 1), 0, nil)

	out := make([]float32, 4)
	m.Render(out)
	if out[0] != 1 || out[1] != 1 || out[2] != 0 {
		t.Errorf("Expected voice at start of quantum, got %v", out)
	}
}

func TestMixerVoiceStop(t *testing.T) {
	m := newSyncMixer(100)

	ended := 0
	v := m.Play(constBuffer(100, 50, 1), 0, func() { ended++ })

	m.Render(make([]float32, 10))
	v.Stop()
	v.Stop()

	if ended != 1 {
		t.Errorf("Expected onEnded exactly once, got %d", ended)
	}

	out := make([]float32, 10)
	m.Render(out)
	for i, s := range out {
		if s != 0 {
			t.Errorf("Sample %d: expected silence after Stop, got %v", i, s)
		}
	}
}

func TestMixerStopAfterEndIsNoop(t *testing.T) {
	m := newSyncMixer(100)

	ended := 0
	v := m.Play(constBuffer(100, 2, 1), 0, func() { ended++ })
	m.Render(make([]float32, 10))
	v.Stop()

	if ended != 1 {
		t.Errorf("Expected onEnded exactly once, got %d", ended)
	}
}

func TestMixerCloseFinishesPending(t *testing.T) {
	m := newSyncMixer(100)

	ended := 0
	m.Play(constBuffer(100, 50, 1), 0, func() { ended++ })
	m.Play(constBuffer(100, 50, 1), 1, func() { ended++ })

	m.Close()
	if ended != 2 {
		t.Errorf("Expected 2 onEnded calls, got %d", ended)
	}

	m.Play(constBuffer(100, 50, 1), 0, func() { ended++ })
	if ended != 3 {
		t.Errorf("Expected immediate onEnded after Close, got %d", ended)
	}
	if m.Active() != 0 {
		t.Errorf("Expected no active voices, got %d", m.Active())
	}
}

func TestMixerEmptyBuffer(t *testing.T) {
	m := newSyncMixer(100)

	ended := 0
	m.Play(&pcm.Buffer{SampleRate: 100}, 0, func() { ended++ })
	if ended != 1 {
		t.Errorf("Expected empty buffer to end immediately, got %d", ended)
	}
}
