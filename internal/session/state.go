package session

// State is the lifecycle state of the voice session
type State int

const (
	// StateIdle means no session has been started yet
	StateIdle State = iota
	// StateConnecting means resources are being acquired and the transport is opening
	StateConnecting
	// StateActive means audio is flowing in both directions
	StateActive
	// StateClosing means a stop is releasing resources
	StateClosing
	// StateClosed means the last session ended normally
	StateClosed
	// StateErrored means the last session failed to start or dropped
	StateErrored
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Running reports whether a session holds resources in this state
func (s State) Running() bool {
	return s == StateConnecting || s == StateActive
}

// User-visible status lines
const (
	StatusReady        = "Ready to start voice session"
	StatusConnecting   = "Connecting..."
	StatusActive       = "Active"
	StatusNetworkError = "Network Error"
	StatusClosed       = "Session Closed"
	StatusStartFailed  = "Microphone access denied or connection failed"
)

// Speaker labels in the transcript
const (
	ModelLabel = "MRS Ai"
	UserLabel  = "You"
)

// Transcript is one line of the session transcript
type Transcript struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Snapshot is the UI-facing view of the controller
type Snapshot struct {
	State      State        `json:"state"`
	Status     string       `json:"status"`
	Active     bool         `json:"active"`
	SessionID  string       `json:"session_id,omitempty"`
	Transcript []Transcript `json:"transcript"`
}

// Recent returns at most the last n transcript lines
func (s Snapshot) Recent(n int) []Transcript {
	if len(s.Transcript) <= n {
		return s.Transcript
	}
	return s.Transcript[len(s.Transcript)-n:]
}

// Stats are counters of the current or last session
type Stats struct {
	FramesSent      uint64  `json:"frames_sent"`
	FramesDropped   uint64  `json:"frames_dropped"`
	ChunksScheduled int     `json:"chunks_scheduled"`
	ChunksPlaying   int     `json:"chunks_playing"`
	PlaybackCursor  float64 `json:"playback_cursor"`
}
