package session

import (
	"maps"
	"time"

	"shutterbrainz/internal/burst"
	"shutterbrainz/internal/camera"
	"shutterbrainz/internal/capture"
	"shutterbrainz/internal/params"
	"shutterbrainz/internal/saver"
	"shutterbrainz/internal/storage"
	"shutterbrainz/internal/zoom"
)

// Config holds the session timing policy.
type Config struct {
	CameraID int
	// SmoothZoom enables smooth zoom when the device supports it.
	SmoothZoom bool
	// FlushRetry is the delay before retrying a deferred parameter flush.
	FlushRetry time.Duration
	// Review is how long a captured picture stays on screen before the preview
	// restarts, measured from the moment it was displayed.
	Review       time.Duration
	HintDelay    time.Duration
	ReleaseDelay time.Duration
}

// DefaultConfig returns the standard timings.
func DefaultConfig() Config {
	return Config{
		SmoothZoom:   true,
		FlushRetry:   time.Second,
		Review:       500 * time.Millisecond,
		HintDelay:    time.Second,
		ReleaseDelay: 3 * time.Second,
	}
}

// TimerKind names the session's timers.
type TimerKind int

const (
	TimerFlushRetry TimerKind = iota
	TimerRestartPreview
	TimerHint
	TimerRelease
	numTimers
)

func (k TimerKind) String() string {
	switch k {
	case TimerFlushRetry:
		return "flush_retry"
	case TimerRestartPreview:
		return "restart_preview"
	case TimerHint:
		return "hint"
	case TimerRelease:
		return "release"
	default:
		return "unknown"
	}
}

// DrainReason is why the saver is drained.
type DrainReason int

const (
	DrainShare DrainReason = iota
	DrainPause
	DrainShutdown
)

func (r DrainReason) String() string {
	switch r {
	case DrainShare:
		return "share"
	case DrainPause:
		return "pause"
	case DrainShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// HintTapToFocus is the first-use hint text.
const HintTapToFocus = "Half-press the shutter to focus"

type timerSlot struct {
	gen     uint64
	pending bool
}

// State is the reducer-owned session state. The capture machine is also read by
// other goroutines through its own lock; everything else is only touched by the
// control loop.
type State struct {
	Capture *capture.Machine
	Zoom    *zoom.Controller
	Burst   *burst.Sequencer
	Params  *params.Store

	DeviceOpen bool
	DeviceGen  uint64
	Previewing bool
	// Paused is set by Pause and cleared by Resume.
	Paused bool
	// Closing is set while a paused session waits for in-flight images before
	// releasing the device.
	Closing       bool
	PendingImages int
	// AwaitingImage is set from capture acceptance until the last image of
	// the capture (or sequence) arrives.
	AwaitingImage bool
	Fatal         bool
	FaceDetection bool
	MaxFaces      int
	TemporalOn    bool
	Remaining     int64
	Orientation   int
	Location      *camera.Location
	Overrides     map[string]string
	LastThumbnail *saver.Thumbnail
	HintScheduled bool
	LastError     string
	ShutterAt     time.Time
	RawAt         time.Time
	PostviewAt    time.Time

	timers [numTimers]timerSlot
}

// NewState creates the state for a session with the given stored preferences.
func NewState(prefs map[string]string) *State {
	return &State{
		Capture:   capture.New(),
		Zoom:      zoom.New(false, 0),
		Burst:     burst.New(),
		Params:    params.NewStore(prefs),
		Remaining: storage.Preparing,
		Overrides: map[string]string{},
	}
}

// TimerPending reports whether a timer of the given kind is armed.
func (s *State) TimerPending(k TimerKind) bool {
	return s.timers[k].pending
}

func (s *State) startTimer(k TimerKind, d time.Duration) Command {
	s.timers[k].gen++
	s.timers[k].pending = true
	return CmdStartTimer{Kind: k, Gen: s.timers[k].gen, Delay: d}
}

func (s *State) cancelTimer(k TimerKind) {
	s.timers[k].gen++
	s.timers[k].pending = false
}

// fireTimer consumes a timer expiry, reporting false for stale generations.
func (s *State) fireTimer(k TimerKind, gen uint64) bool {
	if k < 0 || k >= numTimers || s.timers[k].gen != gen || !s.timers[k].pending {
		return false
	}
	s.timers[k].pending = false
	return true
}

// Status is a point-in-time snapshot of the session, published to clients.
type Status struct {
	CaptureState      string            `json:"capture_state"`
	Latch             string            `json:"latch"`
	FocusResult       string            `json:"focus_result"`
	DeviceOpen        bool              `json:"device_open"`
	Previewing        bool              `json:"previewing"`
	Paused            bool              `json:"paused"`
	Closing           bool              `json:"closing"`
	Zoom              int               `json:"zoom"`
	MaxZoom           int               `json:"max_zoom"`
	ZoomState         string            `json:"zoom_state"`
	Sequence          string            `json:"sequence"`
	SequenceState     string            `json:"sequence_state"`
	SequenceRemaining int               `json:"sequence_remaining"`
	PicturesRemaining int64             `json:"pictures_remaining"`
	PendingParams     string            `json:"pending_params"`
	PendingSaves      int               `json:"pending_saves"`
	FaceDetection     bool              `json:"face_detection"`
	Orientation       int               `json:"orientation"`
	Overrides         map[string]string `json:"overrides,omitempty"`
	Preferences       map[string]string `json:"preferences,omitempty"`
	LastThumbnailURI  string            `json:"last_thumbnail_uri,omitempty"`
	LastError         string            `json:"last_error,omitempty"`
}

// Snapshot builds a Status from the state. PendingSaves is filled in by the
// effects layer, which owns the saver.
func (s *State) Snapshot() Status {
	st := Status{
		CaptureState:      s.Capture.State().String(),
		Latch:             s.Capture.Latch().String(),
		FocusResult:       s.Capture.FocusResult().String(),
		DeviceOpen:        s.DeviceOpen,
		Previewing:        s.Previewing,
		Paused:            s.Paused,
		Closing:           s.Closing,
		Zoom:              s.Zoom.Current(),
		MaxZoom:           s.Zoom.Max(),
		ZoomState:         s.Zoom.State().String(),
		Sequence:          s.Burst.Mode().String(),
		SequenceState:     s.Burst.State().String(),
		SequenceRemaining: s.Burst.Remaining(),
		PicturesRemaining: s.Remaining,
		PendingParams:     s.Params.Pending().String(),
		FaceDetection:     s.FaceDetection,
		Orientation:       s.Orientation,
		Overrides:         maps.Clone(s.Overrides),
		Preferences:       s.Params.Preferences(),
		LastError:         s.LastError,
	}
	if s.LastThumbnail != nil {
		st.LastThumbnailURI = s.LastThumbnail.URI
	}
	return st
}

// fingerprint captures the fields whose change is announced as state_changed.
type fingerprint struct {
	capture    capture.State
	latch      capture.Latch
	deviceOpen bool
	previewing bool
	paused     bool
	closing    bool
	seqState   burst.State
	seqMode    burst.Mode
}

func (s *State) fingerprint() fingerprint {
	return fingerprint{
		capture:    s.Capture.State(),
		latch:      s.Capture.Latch(),
		deviceOpen: s.DeviceOpen,
		previewing: s.Previewing,
		paused:     s.Paused,
		closing:    s.Closing,
		seqState:   s.Burst.State(),
		seqMode:    s.Burst.Mode(),
	}
}
