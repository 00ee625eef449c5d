// Package zoom implements the zoom sub-state machine. Devices either zoom
// immediately (the value is written through the parameter store) or smoothly,
// in which case the device reports progress and at most one smooth zoom runs at
// a time.
package zoom

import "fmt"

// State is the smooth zoom state.
type State int

const (
	Stopped State = iota
	Starting
	Stopping
)

func (s State) String() string {
	switch s {
	case Stopped:
		return "stopped"
	case Starting:
		return "starting"
	case Stopping:
		return "stopping"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ActionKind is what the caller has to do on the device.
type ActionKind int

const (
	None ActionKind = iota
	// ApplyZoom asks for the zoom parameter to be written (immediate mode).
	ApplyZoom
	StartSmooth
	StopSmooth
)

func (k ActionKind) String() string {
	switch k {
	case ApplyZoom:
		return "apply"
	case StartSmooth:
		return "start_smooth"
	case StopSmooth:
		return "stop_smooth"
	default:
		return "none"
	}
}

// Action is returned by every mutating call.
type Action struct {
	Kind  ActionKind
	Value int
}

// noTarget marks an explicitly stopped smooth zoom.
const noTarget = -1

// Controller tracks current/target zoom. Not safe for concurrent use; it is
// owned by the session loop.
type Controller struct {
	smooth  bool
	max     int
	current int
	target  int
	state   State
}

// New returns a controller for a device with the given zoom mode and maximum.
func New(smooth bool, max int) *Controller {
	if max < 0 {
		max = 0
	}
	return &Controller{smooth: smooth, max: max, target: noTarget}
}

func (c *Controller) Smooth() bool { return c.smooth }
func (c *Controller) Max() int { return c.max }
func (c *Controller) Current() int { return c.current }
func (c *Controller) State() State { return c.state }
func (c *Controller) Target() int { return c.target }
func (c *Controller) Moving() bool { return c.state != Stopped }
func (c *Controller) clamp(v int) int { return min(max(v, 0), c.max) }

// SetTarget requests a zoom value, clamped to [0, max].
func (c *Controller) SetTarget(v int) Action {
	v = c.clamp(v)
	if !c.smooth {
		c.current = v
		return Action{Kind: ApplyZoom, Value: v}
	}

	if c.state != Stopped {
		if v != c.target {
			c.target = v
			if c.state == Starting {
				c.state = Stopping
				return Action{Kind: StopSmooth}
			}
		}
		return Action{}
	}
	if c.current != v {
		c.target = v
		c.state = Starting
		return Action{Kind: StartSmooth, Value: v}
	}
	return Action{}
}

// Step moves the zoom by steps relative to where it is heading.
func (c *Controller) Step(steps int) Action {
	base := c.current
	if c.state != Stopped && c.target != noTarget {
		base = c.target
	}
	return c.SetTarget(base + steps)
}

// Toggle zooms to max, or back to 0 when already there.
func (c *Controller) Toggle() Action {
	if c.current == c.max {
		return c.SetTarget(0)
	}
	return c.SetTarget(c.max)
}

// OnZoomChange consumes a progress report from the device.
func (c *Controller) OnZoomChange(value int, stopped bool) Action {
	c.current = value
	if !stopped || c.state == Stopped {
		return Action{}
	}
	if c.target != noTarget && value != c.target {
		c.state = Starting
		return Action{Kind: StartSmooth, Value: c.target}
	}
	c.state = Stopped
	c.target = noTarget
	return Action{}
}

// Stop cancels a smooth zoom cooperatively; the device still reports the final
// value through OnZoomChange.
func (c *Controller) Stop() Action {
	c.target = noTarget
	if c.state == Starting {
		c.state = Stopping
		return Action{Kind: StopSmooth}
	}
	return Action{}
}

// Reset forgets any smooth zoom in flight (the preview was restarted).
func (c *Controller) Reset() {
	c.state = Stopped
	c.target = noTarget
}

// Restore sets the zoom back to 0 without touching the device, for a
// preference reset that is followed by a full parameter flush.
func (c *Controller) Restore() {
	c.current = 0
	c.target = noTarget
	c.state = Stopped
}

// SetMax updates the maximum after the device capabilities are read.
func (c *Controller) SetMax(max int, smooth bool) {
	if max < 0 {
		max = 0
	}
	c.max = max
	c.smooth = smooth
	c.current = c.clamp(c.current)
}
