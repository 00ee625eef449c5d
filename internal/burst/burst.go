// Package burst sequences multi-shot captures (N-shot burst, exposure
// bracketing, temporal bracketing) on top of the single-shot capture machine.
// While a sequence is Running, device parameter writes are frozen.
package burst

import "fmt"

// Mode is the configured multi-shot mode.
type Mode int

const (
	None Mode = iota
	Burst
	ExposureBracket
	TemporalBracket
)

func (m Mode) String() string {
	switch m {
	case Burst:
		return "burst"
	case ExposureBracket:
		return "exposure-bracketing"
	case TemporalBracket:
		return "temporal-bracketing"
	default:
		return "none"
	}
}

// ParseMode is the inverse of Mode.String.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "none":
		return None, nil
	case "burst":
		return Burst, nil
	case "exposure-bracketing":
		return ExposureBracket, nil
	case "temporal-bracketing":
		return TemporalBracket, nil
	}
	return None, fmt.Errorf("unknown burst mode %q", s)
}

// State of the sequencer.
type State int

const (
	Off State = iota
	Active
	Running
)

func (s State) String() string {
	switch s {
	case Active:
		return "active"
	case Running:
		return "running"
	default:
		return "off"
	}
}

// ExposureBracketShots is the fixed shot count of an exposure bracket.
const ExposureBracketShots = 3

// Outcome tells the session what to do after a sequencer step.
type Outcome struct {
	// Done is set when the running sequence has delivered its last image.
	Done           bool
	RestartPreview bool
	// ResetBurst clears the device burst count and the burst preference.
	ResetBurst bool
	// Rearm is the burst count to program again (exposure bracketing), 0 for none.
	Rearm         int
	StopTemporal  bool
	StartTemporal bool
}

// Sequencer is owned by the session loop and not safe for concurrent use.
type Sequencer struct {
	mode      Mode
	state     State
	count     int
	remaining int
}

func New() *Sequencer { return &Sequencer{} }

func (s *Sequencer) Mode() Mode     { return s.mode }
func (s *Sequencer) State() State   { return s.state }
func (s *Sequencer) Remaining() int { return s.remaining }
func (s *Sequencer) Count() int     { return s.count }
func (s *Sequencer) Running() bool  { return s.state == Running }

// Frozen reports whether device parameter writes must be withheld.
func (s *Sequencer) Frozen() bool { return s.state == Running }

// Configure arms the sequencer from the capture-mode preference. For Burst n is
// the shot count; for TemporalBracket it is the bracket range (shots =
// range*2+1); it is ignored for ExposureBracket. A running sequence is not
// reconfigured.
func (s *Sequencer) Configure(mode Mode, n int) {
	if s.state == Running {
		return
	}
	s.mode = mode
	s.remaining = 0
	switch mode {
	case Burst:
		if n > 0 {
			s.count = n
			s.state = Active
			return
		}
	case ExposureBracket:
		s.count = ExposureBracketShots
		s.state = Active
		return
	case TemporalBracket:
		if n < 0 {
			n = 0
		}
		s.count = n*2 + 1
		s.state = Active
		return
	}
	s.mode = None
	s.count = 0
	s.state = Off
}

// OnFocusComplete starts an armed temporal bracket.
func (s *Sequencer) OnFocusComplete() Outcome {
	if s.mode == TemporalBracket && s.state == Active {
		s.state = Running
		s.remaining = s.count
		return Outcome{StartTemporal: true}
	}
	return Outcome{}
}

// OnCaptureAccepted starts an armed burst or exposure bracket.
func (s *Sequencer) OnCaptureAccepted() {
	if s.state != Active {
		return
	}
	if s.mode == Burst || s.mode == ExposureBracket {
		s.state = Running
		s.remaining = s.count
	}
}

// OnImage accounts for one delivered image.
func (s *Sequencer) OnImage() Outcome {
	if s.state != Running {
		return Outcome{}
	}
	s.remaining--
	if s.remaining > 0 {
		return Outcome{}
	}
	s.remaining = 0
	out := Outcome{Done: true, RestartPreview: true}
	switch s.mode {
	case Burst:
		s.state = Off
		s.mode = None
		s.count = 0
		out.ResetBurst = true
	case ExposureBracket:
		s.state = Active
		out.Rearm = ExposureBracketShots
	case TemporalBracket:
		// Re-armed by Configure when the preview restarts.
		s.state = Off
		out.StopTemporal = true
	}
	return out
}

// Abort ends any sequence when the session pauses.
func (s *Sequencer) Abort() Outcome {
	var out Outcome
	switch {
	case s.mode == Burst && s.state != Off:
		out.ResetBurst = true
	case s.mode == TemporalBracket && s.state == Running:
		out.StopTemporal = true
	}
	s.state = Off
	s.remaining = 0
	return out
}
