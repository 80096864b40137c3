package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/yok-tottii/EzLiveTutor/internal/audio"
	"github.com/yok-tottii/EzLiveTutor/internal/pcm"
	"github.com/yok-tottii/EzLiveTutor/internal/permissions"
	"github.com/yok-tottii/EzLiveTutor/internal/transport"
)

type fakeInput struct {
	mu      sync.Mutex
	config  audio.Config
	onFrame func([]float32)
	closed  int
}

func (f *fakeInput) Start(onFrame func([]float32)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onFrame = onFrame
	return nil
}

func (f *fakeInput) Stop() error { return nil }

func (f *fakeInput) Config() audio.Config { return f.config }

func (f *fakeInput) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeInput) emit(samples []float32) {
	f.mu.Lock()
	fn := f.onFrame
	f.mu.Unlock()
	if fn != nil {
		fn(samples)
	}
}

func (f *fakeInput) closes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeOutput struct {
	*audio.Mixer
	mu     sync.Mutex
	closed int
}

func (o *fakeOutput) Close() error {
	o.mu.Lock()
	o.closed++
	o.mu.Unlock()
	return o.Mixer.Close()
}

func (o *fakeOutput) closes() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

type fakeDevices struct {
	input     *fakeInput
	output    *fakeOutput
	inputErr  error
	outputErr error
}

func newFakeDevices() *fakeDevices {
	cfg := audio.DefaultInputConfig()
	cfg.FrameSize = 4
	return &fakeDevices{
		input:  &fakeInput{config: cfg},
		output: &fakeOutput{Mixer: audio.NewMixer(pcm.PlaybackRate, 1)},
	}
}

func (d *fakeDevices) OpenInput(config audio.Config) (audio.Input, error) {
	if d.inputErr != nil {
		return nil, d.inputErr
	}
	return d.input, nil
}

func (d *fakeDevices) OpenOutput(config audio.Config) (audio.Output, error) {
	if d.outputErr != nil {
		return nil, d.outputErr
	}
	return d.output, nil
}

type fakeSession struct {
	events chan transport.Event

	mu     sync.Mutex
	sent   []pcm.EncodedChunk
	closed int
}

func newFakeSession() *fakeSession {
	return &fakeSession{events: make(chan transport.Event, 16)}
}

func (s *fakeSession) Send(chunk pcm.EncodedChunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, chunk)
	return nil
}

func (s *fakeSession) Events() <-chan transport.Event { return s.events }

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

func (s *fakeSession) closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSession) sentCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sent)
}

type fakeChecker struct {
	status permissions.PermissionStatus
}

func (c fakeChecker) CheckMicrophonePermission() permissions.PermissionStatus {
	return c.status
}

func dialerFor(sess *fakeSession) transport.Dialer {
	return transport.DialerFunc(func(ctx context.Context, config transport.Config) (transport.Session, error) {
		return sess, nil
	})
}

func testConfig() Config {
	config := DefaultConfig()
	config.Transport.APIKey = "test-key"
	config.Input.FrameSize = 4
	return config
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func startActive(t *testing.T) (*Controller, *fakeDevices, *fakeSession) {
	t.Helper()
	devices := newFakeDevices()
	sess := newFakeSession()
	c := NewController(testConfig(), devices, dialerFor(sess), fakeChecker{permissions.PermissionAuthorized}, nil)

	if err := c.StartSession(context.Background()); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	return c, devices, sess
}

func TestNewControllerIsReady(t *testing.T) {
	c := NewController(testConfig(), newFakeDevices(), dialerFor(newFakeSession()), nil, nil)

	if c.State() != StateIdle {
		t.Errorf("Expected idle, got %s", c.State())
	}
	if c.Status() != StatusReady {
		t.Errorf("Expected status '%s', got '%s'", StatusReady, c.Status())
	}
	if len(c.Transcriptions()) != 0 {
		t.Error("Expected empty transcript")
	}
}

func TestStartSessionActive(t *testing.T) {
	c, devices, sess := startActive(t)
	defer c.StopSession()

	if c.State() != StateActive {
		t.Errorf("Expected active, got %s", c.State())
	}
	if c.Status() != StatusActive {
		t.Errorf("Expected status '%s', got '%s'", StatusActive, c.Status())
	}

	snap := c.Snapshot()
	if !snap.Active || snap.SessionID == "" {
		t.Errorf("Expected active snapshot with session id, got %+v", snap)
	}

	devices.input.emit([]float32{0.5, 0, 0, 0})
	waitFor(t, "microphone frame to reach session", func() bool { return sess.sentCount() == 1 })

	sess.mu.Lock()
	chunk := sess.sent[0]
	sess.mu.Unlock()
	if chunk.MIMEType != "audio/pcm;rate=16000" {
		t.Errorf("Expected 16 kHz MIME type, got '%s'", chunk.MIMEType)
	}
}

func TestStartSessionTwice(t *testing.T) {
	c, _, _ := startActive(t)
	defer c.StopSession()

	if err := c.StartSession(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("Expected ErrAlreadyRunning, got %v", err)
	}
}

func TestStartSessionPermissionDenied(t *testing.T) {
	devices := newFakeDevices()
	c := NewController(testConfig(), devices, dialerFor(newFakeSession()), fakeChecker{permissions.PermissionDenied}, nil)

	err := c.StartSession(context.Background())
	if !errors.Is(err, permissions.ErrMicrophoneDenied) {
		t.Errorf("Expected ErrMicrophoneDenied, got %v", err)
	}
	if c.State() != StateErrored {
		t.Errorf("Expected errored, got %s", c.State())
	}
	if c.Status() != StatusStartFailed {
		t.Errorf("Expected status '%s', got '%s'", StatusStartFailed, c.Status())
	}
	if devices.input.closes() != 0 {
		t.Error("Expected microphone never to be opened")
	}
}

func TestStartSessionConnectionFailure(t *testing.T) {
	devices := newFakeDevices()
	dialErr := &transport.ConnectionError{Op: "dial", Err: errors.New("refused")}
	dialer := transport.DialerFunc(func(ctx context.Context, config transport.Config) (transport.Session, error) {
		return nil, dialErr
	})
	c := NewController(testConfig(), devices, dialer, nil, nil)

	err := c.StartSession(context.Background())
	var connErr *transport.ConnectionError
	if !errors.As(err, &connErr) {
		t.Errorf("Expected ConnectionError, got %v", err)
	}
	if c.Status() != StatusStartFailed {
		t.Errorf("Expected status '%s', got '%s'", StatusStartFailed, c.Status())
	}

	// Everything acquired before the failure is released
	if devices.input.closes() != 1 {
		t.Errorf("Expected microphone closed once, got %d", devices.input.closes())
	}
	if devices.output.closes() != 1 {
		t.Errorf("Expected speaker closed once, got %d", devices.output.closes())
	}

	// A retry after failure is allowed
	c.dialer = dialerFor(newFakeSession())
	if err := c.StartSession(context.Background()); err != nil {
		t.Errorf("Expected retry to succeed, got %v", err)
	}
	c.StopSession()
}

func TestStartSessionSpeakerFailure(t *testing.T) {
	devices := newFakeDevices()
	devices.outputErr = errors.New("no device")
	c := NewController(testConfig(), devices, dialerFor(newFakeSession()), nil, nil)

	if err := c.StartSession(context.Background()); err == nil {
		t.Fatal("Expected start to fail")
	}
	if devices.input.closes() != 1 {
		t.Errorf("Expected microphone released, got %d closes", devices.input.closes())
	}
	if c.Status() != StatusStartFailed {
		t.Errorf("Expected status '%s', got '%s'", StatusStartFailed, c.Status())
	}
}

func TestStopSessionReleasesEverything(t *testing.T) {
	c, devices, sess := startActive(t)

	c.StopSession()

	if c.State() != StateClosed {
		t.Errorf("Expected closed, got %s", c.State())
	}
	if c.Status() != StatusReady {
		t.Errorf("Expected status '%s', got '%s'", StatusReady, c.Status())
	}
	if devices.input.closes() != 1 || devices.output.closes() != 1 || sess.closes() != 1 {
		t.Errorf("Expected one close each, got input=%d output=%d session=%d",
			devices.input.closes(), devices.output.closes(), sess.closes())
	}

	// Frames after stop never reach the session
	devices.input.emit([]float32{0.1, 0.1, 0.1, 0.1})
	time.Sleep(20 * time.Millisecond)
	if sess.sentCount() != 0 {
		t.Errorf("Expected no frames after stop, got %d", sess.sentCount())
	}
}

func TestStopSessionIdempotent(t *testing.T) {
	c, devices, sess := startActive(t)

	c.StopSession()
	c.StopSession()

	if c.Status() != StatusReady {
		t.Errorf("Expected status '%s', got '%s'", StatusReady, c.Status())
	}
	if devices.input.closes() != 1 || sess.closes() != 1 {
		t.Errorf("Expected single release, got input=%d session=%d", devices.input.closes(), sess.closes())
	}
}

func TestStopSessionNeverStarted(t *testing.T) {
	c := NewController(testConfig(), newFakeDevices(), dialerFor(newFakeSession()), nil, nil)

	c.StopSession()

	if c.State() != StateClosed {
		t.Errorf("Expected closed, got %s", c.State())
	}
	if c.Status() != StatusReady {
		t.Errorf("Expected status '%s', got '%s'", StatusReady, c.Status())
	}
}

func TestTranscriptLabels(t *testing.T) {
	c, _, sess := startActive(t)
	defer c.StopSession()

	sess.events <- transport.TranscriptEvent{Role: transport.RoleModel, Text: "Hello there"}
	sess.events <- transport.TranscriptEvent{Role: transport.RoleUser, Text: "Hi"}

	waitFor(t, "transcript", func() bool { return len(c.Transcriptions()) == 2 })

	lines := c.Transcriptions()
	if lines[0].Role != ModelLabel || lines[0].Text != "Hello there" {
		t.Errorf("Expected model line, got %+v", lines[0])
	}
	if lines[1].Role != UserLabel || lines[1].Text != "Hi" {
		t.Errorf("Expected user line, got %+v", lines[1])
	}
}

func TestAudioEventsScheduled(t *testing.T) {
	c, _, sess := startActive(t)
	defer c.StopSession()

	sess.events <- transport.AudioChunkEvent{Data: make([]byte, 480), SampleRate: pcm.PlaybackRate}
	sess.events <- transport.AudioChunkEvent{Data: make([]byte, 5), SampleRate: pcm.PlaybackRate}
	sess.events <- transport.AudioChunkEvent{Data: make([]byte, 480), SampleRate: pcm.PlaybackRate}

	waitFor(t, "chunks scheduled", func() bool { return c.Stats().ChunksScheduled == 2 })

	// The malformed chunk is skipped without ending the session
	if c.State() != StateActive {
		t.Errorf("Expected session to stay active, got %s", c.State())
	}

	sess.events <- transport.InterruptedEvent{}
	waitFor(t, "interrupt", func() bool { return c.Stats().ChunksPlaying == 0 })
	if c.Stats().PlaybackCursor != 0 {
		t.Errorf("Expected cursor reset, got %v", c.Stats().PlaybackCursor)
	}
}

func TestErrorEventEndsSession(t *testing.T) {
	c, devices, sess := startActive(t)

	sess.events <- transport.ErrorEvent{Err: errors.New("connection reset")}

	waitFor(t, "errored state", func() bool { return c.State() == StateErrored })
	if c.Status() != StatusNetworkError {
		t.Errorf("Expected status '%s', got '%s'", StatusNetworkError, c.Status())
	}
	waitFor(t, "teardown", func() bool { return devices.input.closes() == 1 && sess.closes() == 1 })

	// An explicit stop returns to ready
	c.StopSession()
	if c.Status() != StatusReady {
		t.Errorf("Expected explicit stop to reset status, got '%s'", c.Status())
	}
}

func TestCloseEventEndsSession(t *testing.T) {
	c, devices, sess := startActive(t)

	sess.events <- transport.CloseEvent{Reason: "bye"}

	waitFor(t, "closed state", func() bool { return c.State() == StateClosed })
	if c.Status() != StatusClosed {
		t.Errorf("Expected status '%s', got '%s'", StatusClosed, c.Status())
	}
	waitFor(t, "teardown", func() bool { return devices.output.closes() == 1 })
}

func TestEventsChannelClosedEndsSession(t *testing.T) {
	c, _, sess := startActive(t)

	close(sess.events)

	waitFor(t, "closed state", func() bool { return c.State() == StateClosed })
	if c.Status() != StatusClosed {
		t.Errorf("Expected status '%s', got '%s'", StatusClosed, c.Status())
	}
}

func TestStaleEventsIgnoredAfterStop(t *testing.T) {
	c, _, sess := startActive(t)
	c.StopSession()

	sess.events <- transport.TranscriptEvent{Role: transport.RoleModel, Text: "late"}
	sess.events <- transport.ErrorEvent{Err: errors.New("late")}
	time.Sleep(20 * time.Millisecond)

	if len(c.Transcriptions()) != 0 {
		t.Errorf("Expected stale transcript to be dropped, got %v", c.Transcriptions())
	}
	if c.Status() != StatusReady {
		t.Errorf("Expected status to stay '%s', got '%s'", StatusReady, c.Status())
	}
}

func TestStaleTranscriptNotAddedToNextSession(t *testing.T) {
	sessions := []*fakeSession{newFakeSession(), newFakeSession()}
	dials := 0
	dialer := transport.DialerFunc(func(ctx context.Context, config transport.Config) (transport.Session, error) {
		sess := sessions[dials]
		dials++
		return sess, nil
	})
	c := NewController(testConfig(), newFakeDevices(), dialer, fakeChecker{permissions.PermissionAuthorized}, nil)

	if err := c.StartSession(context.Background()); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	c.mu.Lock()
	old := c.current
	c.mu.Unlock()

	c.StopSession()
	if err := c.StartSession(context.Background()); err != nil {
		t.Fatalf("Second StartSession failed: %v", err)
	}

	if c.appendTranscript(old, Transcript{Role: ModelLabel, Text: "late"}) {
		t.Error("Expected a line from the previous session to be refused")
	}
	if len(c.Transcriptions()) != 0 {
		t.Errorf("Expected empty transcript for the new session, got %v", c.Transcriptions())
	}

	sessions[1].events <- transport.TranscriptEvent{Role: transport.RoleModel, Text: "fresh"}
	waitFor(t, "fresh transcript", func() bool { return len(c.Transcriptions()) == 1 })
	c.StopSession()
}

func TestStopDuringConnecting(t *testing.T) {
	devices := newFakeDevices()
	sess := newFakeSession()
	entered := make(chan struct{})
	release := make(chan struct{})
	dialer := transport.DialerFunc(func(ctx context.Context, config transport.Config) (transport.Session, error) {
		close(entered)
		<-release
		return sess, nil
	})
	c := NewController(testConfig(), devices, dialer, nil, nil)

	errc := make(chan error, 1)
	go func() { errc <- c.StartSession(context.Background()) }()

	<-entered
	if c.State() != StateConnecting || c.Status() != StatusConnecting {
		t.Errorf("Expected connecting, got %s '%s'", c.State(), c.Status())
	}

	c.StopSession()
	close(release)

	if err := <-errc; !errors.Is(err, ErrStopped) {
		t.Errorf("Expected ErrStopped, got %v", err)
	}
	if sess.closes() != 1 {
		t.Errorf("Expected late session to be closed, got %d closes", sess.closes())
	}
	if c.Status() != StatusReady {
		t.Errorf("Expected status '%s', got '%s'", StatusReady, c.Status())
	}
}

func TestToggle(t *testing.T) {
	devices := newFakeDevices()
	c := NewController(testConfig(), devices, dialerFor(newFakeSession()), nil, nil)

	if err := c.Toggle(context.Background()); err != nil {
		t.Fatalf("Toggle on failed: %v", err)
	}
	if c.State() != StateActive {
		t.Errorf("Expected active, got %s", c.State())
	}

	if err := c.Toggle(context.Background()); err != nil {
		t.Fatalf("Toggle off failed: %v", err)
	}
	if c.State() != StateClosed {
		t.Errorf("Expected closed, got %s", c.State())
	}
}

func TestSubscribeReceivesLatest(t *testing.T) {
	c := NewController(testConfig(), newFakeDevices(), dialerFor(newFakeSession()), nil, nil)

	updates, cancel := c.Subscribe()
	defer cancel()

	first := <-updates
	if first.Status != StatusReady {
		t.Errorf("Expected initial snapshot '%s', got '%s'", StatusReady, first.Status)
	}

	if err := c.StartSession(context.Background()); err != nil {
		t.Fatalf("StartSession failed: %v", err)
	}
	defer c.StopSession()

	latest := <-updates
	if latest.Status != StatusActive {
		t.Errorf("Expected latest snapshot '%s', got '%s'", StatusActive, latest.Status)
	}
}

func TestSnapshotRecent(t *testing.T) {
	snap := Snapshot{}
	for i := 0; i < 12; i++ {
		snap.Transcript = append(snap.Transcript, Transcript{Role: UserLabel, Text: string(rune('a' + i))})
	}

	recent := snap.Recent(10)
	if len(recent) != 10 {
		t.Fatalf("Expected 10 lines, got %d", len(recent))
	}
	if recent[0].Text != "c" {
		t.Errorf("Expected oldest kept line 'c', got '%s'", recent[0].Text)
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StateConnecting, "connecting"},
		{StateActive, "active"},
		{StateClosing, "closing"},
		{StateClosed, "closed"},
		{StateErrored, "errored"},
		{State(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("Expected '%s', got '%s'", tt.want, got)
		}
	}
}
