package playback

import (
	"errors"
	"sync"

	"github.com/yok-tottii/EzLiveTutor/internal/audio"
	"github.com/yok-tottii/EzLiveTutor/internal/logger"
	"github.com/yok-tottii/EzLiveTutor/internal/pcm"
)

// Scheduler queues model audio back-to-back on an output clock.
// Each chunk starts at max(cursor, now) so playback is gapless while the
// queue is ahead of the clock and never scheduled in the past.
type Scheduler struct {
	output audio.Output
	log    *logger.Logger

	mu        sync.Mutex
	cursor    float64
	active    map[*unit]struct{}
	scheduled int
}

type unit struct {
	voice   audio.Voice
	start   float64
	end     float64
	stopped bool
}

// New creates a scheduler for output
func New(output audio.Output, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.Discard()
	}
	return &Scheduler{
		output: output,
		log:    log.With("component", "playback"),
		active: make(map[*unit]struct{}),
	}
}

// Enqueue decodes a mono 24 kHz chunk and schedules it after everything
// already queued. Malformed chunks are dropped and their error returned.
func (s *Scheduler) Enqueue(data []byte) error {
	return s.EnqueueRate(data, pcm.PlaybackRate)
}

// EnqueueRate is Enqueue for chunks tagged with another sample rate
func (s *Scheduler) EnqueueRate(data []byte, sampleRate int) error {
	buf, err := pcm.DecodeToBuffer(data, sampleRate, 1)
	if err != nil {
		var fe *pcm.FormatError
		if errors.As(err, &fe) {
			s.log.Warn("Dropping audio chunk: %v", err)
		}
		return err
	}

	s.mu.Lock()
	startAt := max(s.cursor, s.output.CurrentTime())
	u := &unit{start: startAt, end: startAt + buf.Duration()}
	s.cursor = u.end
	s.scheduled++
	s.active[u] = struct{}{}
	s.mu.Unlock()

	// onEnded may fire before Play returns, so the unit is registered first
	voice := s.output.Play(buf, startAt, func() { s.finish(u) })

	s.mu.Lock()
	u.voice = voice
	stopped := u.stopped
	s.mu.Unlock()

	if stopped {
		voice.Stop()
	}

	s.log.Debug("Scheduled %.3fs chunk at %.3f", buf.Duration(), startAt)
	return nil
}

func (s *Scheduler) finish(u *unit) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, u)
}

// Interrupt stops every queued or playing chunk and rewinds the cursor
func (s *Scheduler) Interrupt() {
	n := s.stopAll()
	s.log.Info("Playback interrupted, %d chunks stopped", n)
}

// Reset clears all playback state for teardown
func (s *Scheduler) Reset() {
	s.stopAll()
}

func (s *Scheduler) stopAll() int {
	s.mu.Lock()
	n := len(s.active)
	voices := make([]audio.Voice, 0, n)
	for u := range s.active {
		u.stopped = true
		if u.voice != nil {
			voices = append(voices, u.voice)
		}
	}
	s.active = make(map[*unit]struct{})
	s.cursor = 0
	s.mu.Unlock()

	// Stop may call onEnded synchronously; finish then finds nothing to remove
	for _, v := range voices {
		v.Stop()
	}
	return n
}

// Active returns the number of chunks scheduled but not yet finished
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// Cursor returns the clock time at which the next chunk would start
func (s *Scheduler) Cursor() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Scheduled returns the total number of chunks accepted
func (s *Scheduler) Scheduled() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduled
}
