package capture

import (
	"errors"
	"sync"
	"testing"

	"github.com/yok-tottii/EzLiveTutor/internal/audio"
	"github.com/yok-tottii/EzLiveTutor/internal/pcm"
)

// fakeInput delivers frames only when the test calls emit
type fakeInput struct {
	mu       sync.Mutex
	config   audio.Config
	onFrame  func([]float32)
	startErr error
	starts   int
	stops    int
}

func newFakeInput(frameSize int) *fakeInput {
	cfg := audio.DefaultInputConfig()
	cfg.FrameSize = frameSize
	return &fakeInput{config: cfg}
}

func (f *fakeInput) Start(onFrame func([]float32)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.starts++
	f.onFrame = onFrame
	return nil
}

func (f *fakeInput) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeInput) Config() audio.Config { return f.config }
func (f *fakeInput) Close() error         { return nil }

// emit calls the tap even after Stop, like a late hardware callback
func (f *fakeInput) emit(samples []float32) {
	f.mu.Lock()
	fn := f.onFrame
	f.mu.Unlock()
	if fn != nil {
		fn(samples)
	}
}

type recordingSender struct {
	mu     sync.Mutex
	chunks []pcm.EncodedChunk
	err    error
}

func (s *recordingSender) Send(chunk pcm.EncodedChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.chunks = append(s.chunks, chunk)
	return nil
}

func (s *recordingSender) received() []pcm.EncodedChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]pcm.EncodedChunk(nil), s.chunks...)
}

func constFrame(n int, v float32) []float32 {
	frame := make([]float32, n)
	for i := range frame {
		frame[i] = v
	}
	return frame
}

func TestPipelineEncodesFrames(t *testing.T) {
	in := newFakeInput(4096)
	sender := &recordingSender{}
	p := New(in, sender, Config{}, nil)

	if err := p.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	in.emit(constFrame(4096, 0.5))

	chunks := sender.received()
	if len(chunks) != 1 {
		t.Fatalf("Expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0].MIMEType != "audio/pcm;rate=16000" {
		t.Errorf("Expected audio/pcm;rate=16000, got %s", chunks[0].MIMEType)
	}

	raw, err := pcm.TextToBytes(chunks[0].Data)
	if err != nil {
		t.Fatalf("TextToBytes failed: %v", err)
	}
	if len(raw) != 8192 {
		t.Fatalf("Expected 8192 bytes, got %d", len(raw))
	}
	for i := 0; i < len(raw); i += 2 {
		v := int16(uint16(raw[i]) | uint16(raw[i+1])<<8)
		if v != 16384 {
			t.Fatalf("Sample %d: expected 16384, got %d", i/2, v)
		}
	}

	if p.Frames() != 1 {
		t.Errorf("Expected 1 frame counted, got %d", p.Frames())
	}
}

func TestPipelinePreservesOrder(t *testing.T) {
	in := newFakeInput(4)
	sender := &recordingSender{}
	p := New(in, sender, Config{}, nil)
	p.Start()

	for i := 0; i < 10; i++ {
		in.emit(constFrame(4, float32(i)/16))
	}

	chunks := sender.received()
	if len(chunks) != 10 {
		t.Fatalf("Expected 10 chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		want := pcm.NewChunk(constFrame(4, float32(i)/16), 16000)
		if c != want {
			t.Errorf("Chunk %d out of order", i)
		}
	}
}

func TestPipelineRejectsWrongFrameSize(t *testing.T) {
	in := newFakeInput(4096)
	sender := &recordingSender{}
	p := New(in, sender, Config{}, nil)
	p.Start()

	in.emit(constFrame(100, 0.1))

	if n := len(sender.received()); n != 0 {
		t.Errorf("Expected short frame to be rejected, got %d chunks", n)
	}
	if p.Dropped() != 1 {
		t.Errorf("Expected 1 dropped frame, got %d", p.Dropped())
	}
}

func TestPipelineStopDisconnects(t *testing.T) {
	in := newFakeInput(4)
	sender := &recordingSender{}
	p := New(in, sender, Config{}, nil)
	p.Start()

	in.emit(constFrame(4, 0.1))
	if err := p.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	in.emit(constFrame(4, 0.2))

	if n := len(sender.received()); n != 1 {
		t.Errorf("Expected no frames after Stop, got %d total", n)
	}
	if p.Running() {
		t.Error("Expected pipeline to be stopped")
	}
}

func TestPipelineStartStopIdempotent(t *testing.T) {
	in := newFakeInput(4)
	p := New(in, &recordingSender{}, Config{}, nil)

	// Stop before Start is a no-op
	if err := p.Stop(); err != nil {
		t.Errorf("Stop before Start failed: %v", err)
	}

	p.Start()
	p.Start()
	if in.starts != 1 {
		t.Errorf("Expected input started once, got %d", in.starts)
	}

	p.Stop()
	p.Stop()
	if in.stops != 1 {
		t.Errorf("Expected input stopped once, got %d", in.stops)
	}
}

func TestPipelineStartError(t *testing.T) {
	in := newFakeInput(4)
	in.startErr = errors.New("device busy")
	p := New(in, &recordingSender{}, Config{}, nil)

	if err := p.Start(); err == nil {
		t.Fatal("Expected error from Start")
	}
	if p.Running() {
		t.Error("Expected pipeline not running after failed Start")
	}
}

func TestPipelineSenderError(t *testing.T) {
	in := newFakeInput(4)
	sender := &recordingSender{err: errors.New("queue full")}
	p := New(in, sender, Config{}, nil)
	p.Start()

	in.emit(constFrame(4, 0.1))
	in.emit(constFrame(4, 0.1))

	if p.Dropped() != 2 {
		t.Errorf("Expected 2 dropped frames, got %d", p.Dropped())
	}
	if p.Frames() != 0 {
		t.Errorf("Expected 0 sent frames, got %d", p.Frames())
	}
}

func TestPipelineClampInput(t *testing.T) {
	in := newFakeInput(2)
	sender := &recordingSender{}
	p := New(in, sender, Config{ClampInput: true}, nil)
	p.Start()

	frame := []float32{1.0, -1.5}
	in.emit(frame)

	if frame[0] != 1.0 {
		t.Error("Expected caller's frame to be left untouched")
	}

	chunks := sender.received()
	if len(chunks) != 1 {
		t.Fatalf("Expected 1 chunk, got %d", len(chunks))
	}
	raw, _ := pcm.TextToBytes(chunks[0].Data)
	hi := int16(uint16(raw[0]) | uint16(raw[1])<<8)
	lo := int16(uint16(raw[2]) | uint16(raw[3])<<8)
	if hi != 32767 || lo != -32768 {
		t.Errorf("Expected [32767 -32768], got [%d %d]", hi, lo)
	}
}
