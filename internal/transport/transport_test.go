package transport

import (
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/yok-tottii/EzLiveTutor/internal/pcm"
)

type fakeSession struct {
	mu     sync.Mutex
	sent   []pcm.EncodedChunk
	closes int
	events chan Event
	got    chan struct{}
}

func newFakeSession() *fakeSession {
	return &fakeSession{events: make(chan Event), got: make(chan struct{}, 100)}
}

func (f *fakeSession) Send(chunk pcm.EncodedChunk) error {
	f.mu.Lock()
	f.sent = append(f.sent, chunk)
	f.mu.Unlock()
	f.got <- struct{}{}
	return nil
}

func (f *fakeSession) Events() <-chan Event { return f.events }

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeSession) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closes
}

func chunk(i int) pcm.EncodedChunk {
	return pcm.EncodedChunk{Data: strconv.Itoa(i), MIMEType: pcm.MIMEType(16000)}
}

func waitFor(t *testing.T, ch <-chan struct{}, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatalf("Timed out waiting for item %d of %d", i+1, n)
		}
	}
}

func TestConfigValidate(t *testing.T) {
	if err := (Config{}).Validate(); err == nil {
		t.Error("Expected error for missing API key")
	}
	if err := (Config{APIKey: "k"}).Validate(); err == nil {
		t.Error("Expected error for missing model")
	}
	if err := (Config{APIKey: "k", Model: DefaultModel}).Validate(); err != nil {
		t.Errorf("Expected valid config, got %v", err)
	}
}

func TestConnectionError(t *testing.T) {
	cause := errors.New("refused")
	var err error = &ConnectionError{Op: "dial", Err: cause}

	if !errors.Is(err, cause) {
		t.Error("Expected ConnectionError to unwrap to its cause")
	}
	var ce *ConnectionError
	if !errors.As(err, &ce) || ce.Op != "dial" {
		t.Errorf("Expected errors.As to find ConnectionError, got %v", err)
	}
}

func TestHandleBuffersUntilResolve(t *testing.T) {
	h := NewHandle(10, nil)
	defer h.Close()

	for i := 0; i < 3; i++ {
		if err := h.Send(chunk(i)); err != nil {
			t.Fatalf("Send %d failed: %v", i, err)
		}
	}

	s := newFakeSession()
	if err := h.Resolve(s); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	h.Send(chunk(3))

	waitFor(t, s.got, 4)

	s.mu.Lock()
	defer s.mu.Unlock()
	for i, c := range s.sent {
		if c != chunk(i) {
			t.Errorf("Chunk %d out of order: %v", i, c)
		}
	}
}

func TestHandleSendNeverBlocks(t *testing.T) {
	h := NewHandle(2, nil)
	defer h.Close()

	h.Send(chunk(0))
	h.Send(chunk(1))
	if err := h.Send(chunk(2)); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Expected ErrQueueFull, got %v", err)
	}
}

func TestHandleCloseBeforeResolve(t *testing.T) {
	h := NewHandle(2, nil)
	if err := h.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	s := newFakeSession()
	if err := h.Resolve(s); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from late Resolve, got %v", err)
	}
	if s.closeCount() != 1 {
		t.Errorf("Expected late session to be closed once, got %d", s.closeCount())
	}
	if err := h.Send(chunk(0)); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed from Send, got %v", err)
	}
}

func TestHandleCloseIdempotent(t *testing.T) {
	h := NewHandle(2, nil)
	s := newFakeSession()
	h.Resolve(s)

	h.Close()
	h.Close()

	if s.closeCount() != 1 {
		t.Errorf("Expected session closed once, got %d", s.closeCount())
	}
	if h.Session() != s {
		t.Error("Expected Session to return the resolved session")
	}
}

func TestStreamWritesInOrder(t *testing.T) {
	var mu sync.Mutex
	var written []pcm.EncodedChunk
	got := make(chan struct{}, 10)

	s := NewStream(10, func(c pcm.EncodedChunk) error {
		mu.Lock()
		written = append(written, c)
		mu.Unlock()
		got <- struct{}{}
		return nil
	}, nil)
	defer s.Finish("test")

	for i := 0; i < 5; i++ {
		s.Send(chunk(i))
	}
	waitFor(t, got, 5)

	mu.Lock()
	defer mu.Unlock()
	for i, c := range written {
		if c != chunk(i) {
			t.Errorf("Chunk %d out of order: %v", i, c)
		}
	}
}

func TestStreamWriteErrorEmitsErrorEvent(t *testing.T) {
	boom := errors.New("broken pipe")
	s := NewStream(10, func(pcm.EncodedChunk) error { return boom }, nil)
	defer s.Finish("test")

	s.Send(chunk(0))

	select {
	case ev := <-s.Events():
		errEv, ok := ev.(ErrorEvent)
		if !ok {
			t.Fatalf("Expected ErrorEvent, got %T", ev)
		}
		if !errors.Is(errEv.Err, boom) {
			t.Errorf("Expected %v, got %v", boom, errEv.Err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for ErrorEvent")
	}
}

func TestStreamFinishOnce(t *testing.T) {
	s := NewStream(10, func(pcm.EncodedChunk) error { return nil }, nil)

	s.Emit(TurnCompleteEvent{})
	s.Finish("bye")
	s.Finish("again")

	var events []Event
	for ev := range s.Events() {
		events = append(events, ev)
	}

	if len(events) != 2 {
		t.Fatalf("Expected 2 events, got %d", len(events))
	}
	if _, ok := events[0].(TurnCompleteEvent); !ok {
		t.Errorf("Expected TurnCompleteEvent first, got %T", events[0])
	}
	if ce, ok := events[1].(CloseEvent); !ok || ce.Reason != "bye" {
		t.Errorf("Expected CloseEvent{bye}, got %#v", events[1])
	}

	if s.Emit(TurnCompleteEvent{}) {
		t.Error("Expected Emit to fail after Finish")
	}
	if err := s.Send(chunk(0)); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}
