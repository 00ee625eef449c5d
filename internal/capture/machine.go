// Package capture tracks the single-shot capture lifecycle of a camera session:
// Stopped, Idle, Focusing and Capturing, plus the latched capture requests that
// fire once focus completes or the session returns to Idle.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/looplab/fsm"
)

// State is the capture state of the session.
type State int

const (
	Stopped State = iota
	Idle
	Focusing
	Capturing
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Idle:
		return "idle"
	case Focusing:
		return "focusing"
	case Capturing:
		return "capturing"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func parseState(name string) State {
	switch name {
	case "idle":
		return Idle
	case "focusing":
		return Focusing
	case "capturing":
		return Capturing
	default:
		return Stopped
	}
}

// Latch summarizes the pending capture requests.
type Latch int

const (
	LatchNone Latch = iota
	// LatchAfterFocus fires when the running autofocus completes.
	LatchAfterFocus
	// LatchOnIdle fires when the session next enters Idle.
	LatchOnIdle
	// LatchAfterFocusThenIdle is both of the above.
	LatchAfterFocusThenIdle
)

func (l Latch) String() string {
	switch l {
	case LatchAfterFocus:
		return "after-focus"
	case LatchOnIdle:
		return "on-idle"
	case LatchAfterFocusThenIdle:
		return "after-focus-then-idle"
	default:
		return "none"
	}
}

// FocusResult is the outcome of the last autofocus cycle since the preview started.
type FocusResult int

const (
	FocusNone FocusResult = iota
	FocusSucceeded
	FocusFailed
)

func (r FocusResult) String() string {
	switch r {
	case FocusSucceeded:
		return "success"
	case FocusFailed:
		return "fail"
	default:
		return "none"
	}
}

// Decision tells the caller whether a capture must be issued now.
type Decision int

const (
	Hold Decision = iota
	Fire
)

func (d Decision) String() string {
	if d == Fire {
		return "fire"
	}
	return "hold"
}

// ErrInvalidState is matched by errors.Is for every rejected request.
var ErrInvalidState = errors.New("invalid capture state")

// InvalidStateError reports a request that is not legal in the current state.
type InvalidStateError struct {
	Op    string
	State State
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s not allowed while %s", e.Op, e.State)
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

const (
	evFocus          = "focus"
	evFocusDone      = "focus_done"
	evFocusCancel    = "focus_cancel"
	evCapture        = "capture"
	evPreviewStarted = "preview_started"
	evRelease        = "release"
)

// Machine is the capture state machine. All methods are safe for concurrent use;
// the lock is never held across device or saver calls because the machine never
// makes any.
type Machine struct {
	mu         sync.Mutex
	fsm        *fsm.FSM
	afterFocus bool
	onIdle     bool
	focus      FocusResult
}

// New returns a machine in the Stopped state.
func New() *Machine {
	all := []string{"stopped", "idle", "focusing", "capturing"}
	return &Machine{
		fsm: fsm.NewFSM(
			"stopped",
			fsm.Events{
				{Name: evFocus, Src: []string{"idle"}, Dst: "focusing"},
				{Name: evFocusDone, Src: []string{"focusing"}, Dst: "idle"},
				{Name: evFocusCancel, Src: []string{"focusing"}, Dst: "idle"},
				{Name: evCapture, Src: []string{"idle"}, Dst: "capturing"},
				{Name: evPreviewStarted, Src: all, Dst: "idle"},
				{Name: evRelease, Src: all, Dst: "stopped"},
			},
			fsm.Callbacks{},
		),
	}
}

// fire runs an fsm event; a same-state transition is not an error.
func (m *Machine) fire(name string) error {
	err := m.fsm.Event(context.Background(), name)
	var noTransition fsm.NoTransitionError
	if errors.As(err, &noTransition) {
		return nil
	}
	return err
}

func (m *Machine) current() State {
	return parseState(m.fsm.Current())
}

// State returns the current capture state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current()
}

// Latch returns the pending capture latches.
func (m *Machine) Latch() Latch {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch {
	case m.afterFocus && m.onIdle:
		return LatchAfterFocusThenIdle
	case m.afterFocus:
		return LatchAfterFocus
	case m.onIdle:
		return LatchOnIdle
	}
	return LatchNone
}

// FocusResult returns the outcome of the last autofocus cycle.
func (m *Machine) FocusResult() FocusResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.focus
}

// RequestFocus moves Idle to Focusing.
func (m *Machine) RequestFocus() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.current()
	if st != Idle {
		return &InvalidStateError{Op: "focus", State: st}
	}
	if err := m.fire(evFocus); err != nil {
		return fmt.Errorf("focus: %w", err)
	}
	m.focus = FocusNone
	return nil
}

// RequestCapture decides what to do with a capture request. From Idle the
// capture fires now; while Focusing it is latched until focus completes; while
// Capturing (or Focusing with a capture already latched) it waits for the next
// Idle. Repeated requests collapse into the existing latch.
func (m *Machine) RequestCapture() (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch st := m.current(); st {
	case Idle:
		return Fire, nil
	case Focusing:
		if m.afterFocus {
			m.onIdle = true
		} else {
			m.afterFocus = true
		}
		return Hold, nil
	case Capturing:
		m.onIdle = true
		return Hold, nil
	default:
		return Hold, &InvalidStateError{Op: "capture", State: st}
	}
}

// OnAutoFocusComplete records the focus result and returns to Idle. It returns
// Fire when a capture was latched on this focus cycle.
func (m *Machine) OnAutoFocusComplete(success bool) Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current() != Focusing {
		return Hold
	}
	if success {
		m.focus = FocusSucceeded
	} else {
		m.focus = FocusFailed
	}
	_ = m.fire(evFocusDone)
	if m.afterFocus {
		m.afterFocus = false
		return Fire
	}
	return Hold
}

// OnAutoFocusCancelled returns Focusing to Idle and drops a focus latch.
func (m *Machine) OnAutoFocusCancelled() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.afterFocus = false
	if m.current() == Focusing {
		_ = m.fire(evFocusCancel)
	}
}

// OnCaptureAccepted moves Idle to Capturing once the hardware accepted a capture.
func (m *Machine) OnCaptureAccepted() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.current()
	if st != Idle {
		return &InvalidStateError{Op: "capture accepted", State: st}
	}
	if err := m.fire(evCapture); err != nil {
		return fmt.Errorf("capture accepted: %w", err)
	}
	return nil
}

// OnFinalImageDelivered is a no-op: the session stays Capturing until the
// preview restarts.
func (m *Machine) OnFinalImageDelivered() {}

// OnPreviewStarted enters Idle from any state and clears the focus result. It
// returns Fire when a capture was latched for the next Idle.
func (m *Machine) OnPreviewStarted() Decision {
	m.mu.Lock()
	defer m.mu.Unlock()
	_ = m.fire(evPreviewStarted)
	m.focus = FocusNone
	m.afterFocus = false
	if m.onIdle {
		m.onIdle = false
		return Fire
	}
	return Hold
}

// Release forces Stopped and clears every latch.
func (m *Machine) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	_ = m.fire(evRelease)
	m.afterFocus = false
	m.onIdle = false
	m.focus = FocusNone
}

// IsIdle reports whether parameters may be applied: the session is Idle, or the
// last focus cycle settled and no capture is in flight.
func (m *Machine) IsIdle() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.current() {
	case Idle:
		return true
	case Capturing, Stopped:
		return false
	}
	return m.focus != FocusNone
}
