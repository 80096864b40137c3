package transport

import (
	"sync"

	"github.com/yok-tottii/EzLiveTutor/internal/logger"
	"github.com/yok-tottii/EzLiveTutor/internal/pcm"
)

// Handle is a session that may not exist yet. Chunks sent before Resolve
// are buffered and forwarded in order once the session is available.
type Handle struct {
	queue    chan pcm.EncodedChunk
	resolved chan struct{}
	done     chan struct{}
	log      *logger.Logger

	mu      sync.Mutex
	session Session
	closed  bool
	wg      sync.WaitGroup
}

// NewHandle creates an unresolved handle with a bounded pre-open buffer
func NewHandle(queueSize int, log *logger.Logger) *Handle {
	if queueSize <= 0 {
		queueSize = DefaultSendQueue
	}
	if log == nil {
		log = logger.Discard()
	}

	h := &Handle{
		queue:    make(chan pcm.EncodedChunk, queueSize),
		resolved: make(chan struct{}),
		done:     make(chan struct{}),
		log:      log,
	}

	h.wg.Add(1)
	go h.pump()

	return h
}

func (h *Handle) pump() {
	defer h.wg.Done()

	select {
	case <-h.resolved:
	case <-h.done:
		return
	}

	h.mu.Lock()
	session := h.session
	h.mu.Unlock()

	for {
		select {
		case chunk := <-h.queue:
			if err := session.Send(chunk); err != nil {
				h.log.Debug("Chunk not forwarded: %v", err)
			}
		case <-h.done:
			return
		}
	}
}

// Send buffers a chunk for the session without blocking
func (h *Handle) Send(chunk pcm.EncodedChunk) error {
	select {
	case <-h.done:
		return ErrClosed
	default:
	}

	select {
	case h.queue <- chunk:
		return nil
	default:
		return ErrQueueFull
	}
}

// Resolve binds the opened session. If the handle was already closed the
// session is closed immediately and ErrClosed is returned.
func (h *Handle) Resolve(session Session) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		session.Close()
		return ErrClosed
	}
	if h.session != nil {
		h.mu.Unlock()
		return nil
	}
	h.session = session
	h.mu.Unlock()

	close(h.resolved)
	return nil
}

// Session returns the bound session, or nil before Resolve
func (h *Handle) Session() Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.session
}

// Close stops forwarding and closes the bound session; safe to call repeatedly
func (h *Handle) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	session := h.session
	h.mu.Unlock()

	close(h.done)
	h.wg.Wait()

	if session != nil {
		return session.Close()
	}
	return nil
}
