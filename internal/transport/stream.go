package transport

import (
	"sync"

	"github.com/yok-tottii/EzLiveTutor/internal/logger"
	"github.com/yok-tottii/EzLiveTutor/internal/pcm"
)

// Stream is the plumbing shared by session backends: a bounded outbound
// queue drained in order by one writer goroutine, and an event channel
// that is closed exactly once after the final CloseEvent.
type Stream struct {
	queue  chan pcm.EncodedChunk
	events chan Event
	done   chan struct{}
	log    *logger.Logger

	mu       sync.RWMutex
	finished bool
	once     sync.Once
	wg       sync.WaitGroup
}

// NewStream starts a writer that passes each queued chunk to write.
// A write error is reported as an ErrorEvent and stops the writer.
func NewStream(queueSize int, write func(pcm.EncodedChunk) error, log *logger.Logger) *Stream {
	if queueSize <= 0 {
		queueSize = DefaultSendQueue
	}
	if log == nil {
		log = logger.Discard()
	}

	s := &Stream{
		queue:  make(chan pcm.EncodedChunk, queueSize),
		events: make(chan Event, 64),
		done:   make(chan struct{}),
		log:    log,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case chunk := <-s.queue:
				if err := write(chunk); err != nil {
					s.Emit(ErrorEvent{Err: err})
					return
				}
			case <-s.done:
				return
			}
		}
	}()

	return s
}

// Send queues a chunk; it never blocks
func (s *Stream) Send(chunk pcm.EncodedChunk) error {
	select {
	case <-s.done:
		return ErrClosed
	default:
	}

	select {
	case s.queue <- chunk:
		return nil
	default:
		return ErrQueueFull
	}
}

// Events returns the inbound event channel
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Done is closed once Finish has been called
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Emit delivers ev to the consumer. It blocks until the event is taken or
// the stream finishes, and reports whether the event was delivered.
func (s *Stream) Emit(ev Event) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.finished {
		return false
	}
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// Finish stops the writer, delivers CloseEvent and closes the event channel.
// Only the first call has any effect.
func (s *Stream) Finish(reason string) {
	s.once.Do(func() {
		close(s.done)

		s.mu.Lock()
		s.finished = true
		select {
		case s.events <- CloseEvent{Reason: reason}:
		default:
			s.log.Warn("Event buffer full, close event dropped: %s", reason)
		}
		close(s.events)
		s.mu.Unlock()

		s.wg.Wait()
	})
}
