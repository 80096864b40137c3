package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/yok-tottii/EzLiveTutor/internal/audio"
	"github.com/yok-tottii/EzLiveTutor/internal/capture"
	"github.com/yok-tottii/EzLiveTutor/internal/logger"
	"github.com/yok-tottii/EzLiveTutor/internal/permissions"
	"github.com/yok-tottii/EzLiveTutor/internal/playback"
	"github.com/yok-tottii/EzLiveTutor/internal/transport"
)

var (
	// ErrAlreadyRunning is returned by StartSession while a session is connecting or active
	ErrAlreadyRunning = errors.New("session already running")
	// ErrStopped is returned by StartSession when StopSession interrupted it
	ErrStopped = errors.New("session stopped while starting")
)

// Devices opens the audio streams a session needs
type Devices interface {
	OpenInput(config audio.Config) (audio.Input, error)
	OpenOutput(config audio.Config) (audio.Output, error)
}

// Config holds everything needed to start one session
type Config struct {
	Transport transport.Config
	Input     audio.Config
	Output    audio.Config
	Capture   capture.Config
}

// DefaultConfig returns a 16 kHz capture, 24 kHz playback configuration
func DefaultConfig() Config {
	return Config{
		Transport: transport.Config{
			Model:     transport.DefaultModel,
			SendQueue: transport.DefaultSendQueue,
		},
		Input:  audio.DefaultInputConfig(),
		Output: audio.DefaultOutputConfig(),
	}
}

// Controller owns the voice session lifecycle. It is the only writer of
// the session state; UI surfaces observe it through Snapshot and Subscribe.
type Controller struct {
	devices Devices
	dialer  transport.Dialer
	perms   permissions.Checker
	log     *logger.Logger

	mu         sync.Mutex
	config     Config
	state      State
	status     string
	transcript []Transcript
	current    *run
	last       *run

	subMu sync.Mutex
	subs  map[chan Snapshot]struct{}
}

// NewController creates an idle controller
func NewController(config Config, devices Devices, dialer transport.Dialer, perms permissions.Checker, log *logger.Logger) *Controller {
	if log == nil {
		log = logger.Discard()
	}
	return &Controller{
		devices: devices,
		dialer:  dialer,
		perms:   perms,
		log:     log.With("component", "session"),
		config:  config,
		state:   StateIdle,
		status:  StatusReady,
		subs:    make(map[chan Snapshot]struct{}),
	}
}

// SetConfig replaces the configuration used by the next StartSession
func (c *Controller) SetConfig(config Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.config = config
}

// Config returns the configuration used by the next StartSession
func (c *Controller) Config() Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config
}

// StartSession acquires the microphone and speaker, opens the transport and
// wires audio in both directions. It returns once the session is Active or
// has failed; on failure every acquired resource is already released.
func (c *Controller) StartSession(ctx context.Context) error {
	c.mu.Lock()
	if c.state.Running() {
		c.mu.Unlock()
		return ErrAlreadyRunning
	}
	config := c.config
	r := newRun(ctx, config, c.log)
	c.current = r
	c.last = r
	c.state = StateConnecting
	c.status = StatusConnecting
	c.transcript = nil
	c.mu.Unlock()
	c.publish()

	r.log.Info("Starting voice session with %s", config.Transport.Model)

	if err := c.acquire(r); err != nil {
		return c.fail(r, err)
	}

	dialCtx, stopDial := context.WithCancel(ctx)
	defer stopDial()
	context.AfterFunc(r.ctx, stopDial)

	sess, err := c.dialer.Open(dialCtx, config.Transport)
	if err != nil {
		return c.fail(r, err)
	}
	if err := r.handle.Resolve(sess); err != nil {
		// Stopped during open; Resolve closed the late session
		return ErrStopped
	}

	c.mu.Lock()
	if c.current != r {
		c.mu.Unlock()
		return ErrStopped
	}
	c.state = StateActive
	c.status = StatusActive
	c.mu.Unlock()

	go c.dispatch(r, sess.Events())

	var startErr error
	if !r.attach(func() { startErr = r.pipeline.Start() }) {
		return ErrStopped
	}
	if startErr != nil {
		return c.fail(r, startErr)
	}

	c.publish()
	r.log.Info("Voice session active")
	return nil
}

// acquire checks permission and opens the audio side of the session
func (c *Controller) acquire(r *run) error {
	if c.perms != nil {
		if err := permissions.RequireMicrophone(c.perms); err != nil {
			return err
		}
	}

	in, err := c.devices.OpenInput(r.config.Input)
	if err != nil {
		return fmt.Errorf("failed to open microphone: %w", err)
	}
	if !r.attach(func() { r.input = in }) {
		in.Close()
		return ErrStopped
	}

	out, err := c.devices.OpenOutput(r.config.Output)
	if err != nil {
		return fmt.Errorf("failed to open speaker: %w", err)
	}
	if !r.attach(func() { r.output = out }) {
		out.Close()
		return ErrStopped
	}

	if !r.attach(func() {
		r.scheduler = playback.New(out, r.log)
		r.pipeline = capture.New(in, r.handle, r.config.Capture, r.log)
	}) {
		return ErrStopped
	}
	return nil
}

// fail releases r and reports a start failure unless a stop already took over
func (c *Controller) fail(r *run, err error) error {
	r.log.Error("Failed to start session: %v", err)

	c.mu.Lock()
	owner := c.current == r
	if owner {
		c.current = nil
		c.state = StateErrored
		c.status = StatusStartFailed
	}
	c.mu.Unlock()

	r.teardown()
	c.publish()

	if !owner {
		return ErrStopped
	}
	return err
}

// StopSession releases every resource and returns to the ready status.
// It is safe to call in any state and more than once.
func (c *Controller) StopSession() {
	c.mu.Lock()
	r := c.current
	c.current = nil
	if r != nil {
		c.state = StateClosing
	}
	c.mu.Unlock()

	if r != nil {
		c.publish()
		r.teardown()
		r.log.Info("Voice session stopped")
	}

	c.mu.Lock()
	if c.current == nil {
		c.state = StateClosed
		c.status = StatusReady
	}
	c.mu.Unlock()
	c.publish()
}

// Toggle starts a session when none is running and stops it otherwise
func (c *Controller) Toggle(ctx context.Context) error {
	if c.State().Running() {
		c.StopSession()
		return nil
	}
	return c.StartSession(ctx)
}

// dispatch applies transport events of r in arrival order until the session
// ends or is replaced
func (c *Controller) dispatch(r *run, events <-chan transport.Event) {
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				c.closed(r, "")
				return
			}
			if !c.apply(r, ev) {
				return
			}
		case <-r.ctx.Done():
			return
		}
	}
}

// apply handles one event and reports whether dispatch should continue
func (c *Controller) apply(r *run, ev transport.Event) bool {
	if !c.owns(r) {
		return false
	}

	switch e := ev.(type) {
	case transport.TranscriptEvent:
		label := ModelLabel
		if e.Role == transport.RoleUser {
			label = UserLabel
		}
		if !c.appendTranscript(r, Transcript{Role: label, Text: e.Text}) {
			return false
		}
		c.publish()

	case transport.AudioChunkEvent:
		// Malformed chunks are dropped inside the scheduler; the session goes on
		if err := r.scheduler.EnqueueRate(e.Data, e.SampleRate); err != nil {
			r.log.Debug("Chunk skipped: %v", err)
		}

	case transport.InterruptedEvent:
		r.scheduler.Interrupt()

	case transport.TurnCompleteEvent:
		r.log.Debug("Turn complete")

	case transport.ErrorEvent:
		r.log.Error("Session error: %v", e.Err)
		c.end(r, StateErrored, StatusNetworkError)
		return false

	case transport.CloseEvent:
		c.closed(r, e.Reason)
		return false
	}

	return true
}

func (c *Controller) closed(r *run, reason string) {
	r.log.Info("Session closed by remote: %s", reason)
	c.end(r, StateClosed, StatusClosed)
}

// end tears r down after a remote-initiated transition
func (c *Controller) end(r *run, state State, status string) {
	c.mu.Lock()
	if c.current != r {
		c.mu.Unlock()
		return
	}
	c.current = nil
	c.state = state
	c.status = status
	c.mu.Unlock()

	r.teardown()
	c.publish()
}

// appendTranscript adds line only while r is still the current session
func (c *Controller) appendTranscript(r *run, line Transcript) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current != r {
		return false
	}
	c.transcript = append(c.transcript, line)
	return true
}

func (c *Controller) owns(r *run) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current == r
}

// State returns the current lifecycle state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns the user-visible status line
func (c *Controller) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Transcriptions returns a copy of the transcript of the current or last session
func (c *Controller) Transcriptions() []Transcript {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Transcript(nil), c.transcript...)
}

// Snapshot returns the UI-facing state
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		State:      c.state,
		Status:     c.status,
		Active:     c.state == StateActive,
		Transcript: append([]Transcript(nil), c.transcript...),
	}
	if c.current != nil {
		snap.SessionID = c.current.id
	}
	return snap
}

// Stats returns counters of the current or last session
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	r := c.last
	c.mu.Unlock()

	if r == nil {
		return Stats{}
	}
	return r.stats()
}

// Subscribe returns a channel that always holds the latest snapshot.
// Slow readers skip intermediate snapshots. cancel unsubscribes and closes
// the channel.
func (c *Controller) Subscribe() (<-chan Snapshot, func()) {
	ch := make(chan Snapshot, 1)

	c.subMu.Lock()
	c.subs[ch] = struct{}{}
	ch <- c.Snapshot()
	c.subMu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			c.subMu.Lock()
			delete(c.subs, ch)
			close(ch)
			c.subMu.Unlock()
		})
	}
	return ch, cancel
}

// publish must not be called with c.mu held
func (c *Controller) publish() {
	c.subMu.Lock()
	defer c.subMu.Unlock()

	if len(c.subs) == 0 {
		return
	}
	snap := c.Snapshot()
	for ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		ch <- snap
	}
}

// run holds the resources of one session attempt
type run struct {
	id     string
	config Config
	ctx    context.Context
	cancel context.CancelFunc
	log    *logger.Logger
	handle *transport.Handle

	mu        sync.Mutex
	closed    bool
	input     audio.Input
	output    audio.Output
	scheduler *playback.Scheduler
	pipeline  *capture.Pipeline
}

func newRun(parent context.Context, config Config, log *logger.Logger) *run {
	id := uuid.New().String()
	// The session outlives the call that started it
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	l := log.With("session", id)
	return &run{
		id:     id,
		config: config,
		ctx:    ctx,
		cancel: cancel,
		log:    l,
		handle: transport.NewHandle(config.Transport.SendQueue, l),
	}
}

// attach runs fn unless the run was already torn down
func (r *run) attach(fn func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	fn()
	return true
}

// teardown releases whatever was acquired, in capture-to-network order.
// Only the first call does anything.
func (r *run) teardown() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	r.closed = true
	r.cancel()

	if r.pipeline != nil {
		if err := r.pipeline.Stop(); err != nil {
			r.log.Warn("Failed to stop capture: %v", err)
		}
	}
	if r.input != nil {
		if err := r.input.Close(); err != nil {
			r.log.Warn("Failed to close microphone: %v", err)
		}
	}
	if r.scheduler != nil {
		r.scheduler.Reset()
	}
	if r.output != nil {
		if err := r.output.Close(); err != nil {
			r.log.Warn("Failed to close speaker: %v", err)
		}
	}
	if err := r.handle.Close(); err != nil {
		r.log.Warn("Failed to close transport: %v", err)
	}
}

func (r *run) stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	var s Stats
	if r.pipeline != nil {
		s.FramesSent = r.pipeline.Frames()
		s.FramesDropped = r.pipeline.Dropped()
	}
	if r.scheduler != nil {
		s.ChunksScheduled = r.scheduler.Scheduled()
		s.ChunksPlaying = r.scheduler.Active()
		s.PlaybackCursor = r.scheduler.Cursor()
	}
	return s
}
