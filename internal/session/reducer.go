package session

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"time"

	"shutterbrainz/internal/burst"
	"shutterbrainz/internal/camera"
	"shutterbrainz/internal/capture"
	"shutterbrainz/internal/params"
	"shutterbrainz/internal/saver"
	"shutterbrainz/internal/zoom"
)

// This file implements the session reducer:
//
//   - Events: actions, hardware callbacks, effect observations and timers
//   - Commands: device, saver, storage and timer side effects
//   - Reduce(): advances the session state and emits commands and notifications
//
// The reducer performs no I/O and never blocks. It mutates the sub-machines held
// in State (capture, zoom, burst, params); the control loop is their only writer.

// ErrServerDied is reported when the device signals that its server died.
var ErrServerDied = errors.New("camera server died")

// ReduceResult is the output of Reduce.
type ReduceResult struct {
	Commands      []Command
	Notifications []Notification
	// Ignored explains why an input was dropped; the loop logs it at debug.
	Ignored error
	// Warning is a recovered failure; the loop logs it at warn.
	Warning error
}

type reducer struct {
	s   *State
	cfg Config
	out ReduceResult
}

func (r *reducer) emit(cmds ...Command)       { r.out.Commands = append(r.out.Commands, cmds...) }
func (r *reducer) notify(n Notification)      { r.out.Notifications = append(r.out.Notifications, n) }
func (r *reducer) ignore(err error)           { r.out.Ignored = err }
func (r *reducer) ignoref(f string, a ...any) { r.out.Ignored = fmt.Errorf(f, a...) }
func (r *reducer) warn(err error)             { r.out.Warning = err }

// Reduce applies one event to the session.
func Reduce(s *State, e Event, cfg Config) ReduceResult {
	r := &reducer{s: s, cfg: cfg}
	before := s.fingerprint()

	switch ev := e.(type) {
	// ---- actions ----
	case ShutterFocus:
		r.shutterFocus(ev.Pressed)
	case ShutterClick:
		r.shutterClick()
	case ShutterLongPress:
		r.shutterLongPress()
	case CancelFocus:
		if s.Capture.State() != capture.Focusing {
			r.ignoref("cancel focus while %s", s.Capture.State())
			break
		}
		r.cancelAutoFocus()

	case ZoomTo:
		r.zoomInput(func() zoom.Action { return s.Zoom.SetTarget(ev.Value) })
	case ZoomStep:
		r.zoomInput(func() zoom.Action { return s.Zoom.Step(ev.Steps) })
	case ZoomToggle:
		r.zoomInput(s.Zoom.Toggle)
	case ZoomStop:
		r.zoomInput(s.Zoom.Stop)

	case SetPreference:
		r.setPreference(ev.Key, ev.Value)
	case RestorePreferences:
		r.restorePreferences()
	case ManualExposure:
		r.manualExposure(ev.Exposure, ev.ISO)
	case SetOrientation:
		s.Orientation = roundOrientation(ev.Degrees)
	case SetLocation:
		if s.Params.Preference(params.PrefRecordLocation) != "true" {
			r.ignoref("location recording disabled")
			break
		}
		s.Location = &camera.Location{Latitude: ev.Latitude, Longitude: ev.Longitude, Altitude: ev.Altitude, Time: ev.Time}

	case Share:
		r.emit(CmdDrainSaver{Reason: DrainShare})
	case Pause:
		r.pause()
	case Resume:
		r.resume()
	case RequestStatus:
		r.emit(CmdPublishStatus{Reply: ev.Reply, Status: s.Snapshot()})

	// ---- device lifecycle ----
	case DeviceOpened:
		r.deviceOpened(ev)
	case DeviceOpenFailed:
		r.fatal(ev.Err)
	case DeviceClosed:
		// State was already released when the close was requested.
	case PreviewStarted:
		r.previewStarted(ev.Result)
	case PreviewFailed:
		r.fatal(ev.Err)

	// ---- parameters ----
	case ParametersApplied:
		r.applyResult(ev.Result)
		if ev.Result.Restart && s.Previewing {
			r.startPreview(false)
		}
	case ParametersRead:
		s.Params.UpdateMirror(ev.Params)
		r.updateOverrides(params.Overrides(ev.Params, s.Params.Preference(params.PrefCaptureMode)))

	// ---- capture ----
	case CaptureAccepted:
		if err := s.Capture.OnCaptureAccepted(); err != nil {
			r.ignore(err)
			break
		}
		s.Burst.OnCaptureAccepted()
		s.Previewing = false
		s.FaceDetection = false
		s.AwaitingImage = true
	case AutoFocusStarted:
	case FaceDetectionStarted:
		s.FaceDetection = true

	case HardwareCallback:
		r.hardwareCallback(ev)

	case CommandFailed:
		r.commandFailed(ev.Command, ev.Err)

	// ---- saver / storage ----
	case StorageChecked:
		if s.Remaining != ev.Remaining {
			s.Remaining = ev.Remaining
			r.notify(noteStorage{remaining: ev.Remaining})
		}
	case ThumbnailPending:
		r.emit(CmdCollectThumbnail{})
	case ThumbnailCollected:
		if ev.Thumbnail != nil {
			s.LastThumbnail = ev.Thumbnail
			r.notify(noteThumbnail{thumb: *ev.Thumbnail})
		} else if ev.Shared && s.LastThumbnail != nil {
			r.notify(noteThumbnail{thumb: *s.LastThumbnail})
		}
	case DrainCompleted:
		if ev.Reason == DrainShare {
			r.emit(CmdCollectThumbnail{Shared: true})
		}

	case TimerFired:
		r.timerFired(ev)

	default:
		r.ignoref("unhandled event %T", e)
	}

	if s.fingerprint() != before {
		r.notify(noteState{status: s.Snapshot()})
	}
	return r.out
}

// ready reports whether user capture/focus input can be acted on.
func (r *reducer) ready() bool {
	s := r.s
	return s.DeviceOpen && !s.Paused && !s.Closing && !s.Fatal
}

// needsAutoFocus is false for focus modes without an autofocus cycle.
func (r *reducer) needsAutoFocus() bool {
	switch r.s.Params.MirrorGet(camera.KeyFocusMode) {
	case "infinity", "fixed", "edof":
		return false
	}
	return true
}

// ============================================================================
// Shutter and focus
// ============================================================================

func (r *reducer) shutterFocus(pressed bool) {
	s := r.s
	if !r.ready() || s.Capture.State() == capture.Capturing {
		r.ignoref("shutter focus while %s", s.Capture.State())
		return
	}
	if pressed {
		if s.Remaining <= 0 {
			r.ignoref("no pictures remaining (%d)", s.Remaining)
			return
		}
		r.requestFocus()
		return
	}
	if s.Capture.State() == capture.Focusing && s.Capture.Latch() == capture.LatchNone {
		r.cancelAutoFocus()
	}
}

func (r *reducer) requestFocus() {
	if !r.needsAutoFocus() {
		return
	}
	if err := r.s.Capture.RequestFocus(); err != nil {
		r.ignore(err)
		return
	}
	r.emit(CmdAutoFocus{})
}

func (r *reducer) cancelAutoFocus() {
	r.s.Capture.OnAutoFocusCancelled()
	r.emit(CmdCancelAutoFocus{})
	r.s.Params.MarkDirty(params.Preference)
	r.flushWhenIdle()
}

func (r *reducer) shutterClick() {
	s := r.s
	if !r.ready() {
		r.ignoref("shutter click while session not ready")
		return
	}
	if s.Remaining <= 0 {
		r.ignoref("no pictures remaining (%d)", s.Remaining)
		return
	}
	dec, err := s.Capture.RequestCapture()
	if err != nil {
		r.ignore(err)
		return
	}
	if dec == capture.Fire {
		r.takePicture()
	}
}

// shutterLongPress focuses (when the focus mode needs it) and captures once the
// focus settles.
func (r *reducer) shutterLongPress() {
	s := r.s
	if !r.ready() || s.Capture.State() == capture.Capturing || s.Remaining <= 0 {
		r.ignoref("long press while %s", s.Capture.State())
		return
	}
	if s.Capture.State() == capture.Idle {
		r.requestFocus()
	}
	r.shutterClick()
}

func (r *reducer) takePicture() {
	s := r.s
	cur := s.Params.Mirror()
	next := cur.Clone()
	params.ApplyCaptureTags(next, s.Orientation, s.Location)

	var changes map[string]string
	if !s.Burst.Frozen() {
		changes = cur.Diff(next)
		s.Params.UpdateMirror(next)
	}
	s.ShutterAt, s.RawAt, s.PostviewAt = time.Time{}, time.Time{}, time.Time{}
	r.emit(CmdTakePicture{Changes: changes})
}

func (r *reducer) autoFocusDone(focused bool) {
	s := r.s
	if s.Capture.State() != capture.Focusing {
		r.ignoref("autofocus callback while %s", s.Capture.State())
		return
	}
	dec := s.Capture.OnAutoFocusComplete(focused)
	if out := s.Burst.OnFocusComplete(); out.StartTemporal {
		r.updateDevice(func(p camera.Parameters) { params.SetTemporalBracketing(p, true) })
		s.TemporalOn = true
	}
	if dec == capture.Fire {
		r.takePicture()
	}
}

// ============================================================================
// Hardware callbacks
// ============================================================================

func (r *reducer) hardwareCallback(ev HardwareCallback) {
	s := r.s
	if !s.DeviceOpen || ev.Gen != s.DeviceGen {
		r.ignoref("callback %T from released device", ev.Callback)
		return
	}
	switch cb := ev.Callback.(type) {
	case camera.Shutter:
		s.ShutterAt = cb.At
	case camera.RawPicture:
		s.RawAt = cb.At
	case camera.Postview:
		s.PostviewAt = cb.At
	case camera.JpegPicture:
		r.jpeg(cb)
	case camera.AutoFocusDone:
		r.autoFocusDone(cb.Focused)
	case camera.ZoomChanged:
		act := s.Zoom.OnZoomChange(cb.Value, cb.Stopped)
		s.Params.SetZoom(cb.Value)
		s.Params.UpdateMirrorKey(camera.KeyZoom, strconv.Itoa(cb.Value))
		r.notify(noteZoom{value: cb.Value})
		r.zoomAction(act)
	case camera.FacesDetected:
		r.notify(noteFaces{count: len(cb.Faces)})
	case camera.DeviceFault:
		if cb.Code == camera.ErrorServerDied {
			r.fatal(ErrServerDied)
			return
		}
		r.warn(fmt.Errorf("camera reported error %d", cb.Code))
	default:
		r.ignoref("unknown callback %T", cb)
	}
}

func (r *reducer) jpeg(cb camera.JpegPicture) {
	s := r.s

	displayed := s.PostviewAt
	if displayed.IsZero() {
		displayed = s.RawAt
	}
	delay := r.cfg.Review
	if !displayed.IsZero() {
		delay -= cb.At.Sub(displayed)
	}

	if !s.Burst.Running() && !s.Closing {
		if delay <= 0 {
			r.startPreview(false)
		} else {
			r.emit(s.startTimer(TimerRestartPreview, delay))
		}
	}

	mirror := s.Params.Mirror()
	size, _ := mirror.Size(camera.KeyPictureSize)
	r.emit(CmdSaveImage{Request: saver.Request{
		Data:          cb.Data,
		Location:      s.Location,
		Width:         size.Width,
		Height:        size.Height,
		TakenAt:       cb.At,
		PreviewWidth:  params.PreviewWidth(mirror),
		Orientation:   s.Orientation,
		PictureFormat: s.Params.Preference(params.PrefPictureFormat),
	}})

	if out := s.Burst.OnImage(); out.Done {
		r.sequenceDone(out)
	}
	s.AwaitingImage = s.Burst.Running()
	s.Capture.OnFinalImageDelivered()

	if s.Closing {
		s.PendingImages--
		if s.PendingImages <= 0 {
			r.finishPause()
		}
	}
}

func (r *reducer) sequenceDone(out burst.Outcome) {
	s := r.s
	if out.ResetBurst {
		r.resetBurstPreference()
	}
	if !s.Closing {
		r.updateDevice(func(p camera.Parameters) {
			if out.ResetBurst {
				params.ResetBurst(p)
			}
			if out.StopTemporal {
				params.SetTemporalBracketing(p, false)
			}
		})
		if out.Rearm > 0 {
			r.writeDevice(func(p camera.Parameters) { params.RearmExposureBracket(p, out.Rearm) })
		}
	}
	if out.StopTemporal {
		s.TemporalOn = false
	}
	if out.RestartPreview && !s.Closing {
		r.emit(s.startTimer(TimerRestartPreview, 0))
	}
}

func (r *reducer) resetBurstPreference() {
	if r.s.Params.SetPreference(params.PrefBurst, "0") {
		r.emit(CmdPersistPreference{Key: params.PrefBurst, Value: "0"})
	}
}

// updateDevice applies mutate to a copy of the mirror and pushes the difference.
func (r *reducer) updateDevice(mutate func(camera.Parameters)) {
	cur := r.s.Params.Mirror()
	next := cur.Clone()
	mutate(next)
	changes := cur.Diff(next)
	if len(changes) == 0 {
		return
	}
	r.s.Params.UpdateMirror(next)
	r.emit(CmdUpdateParameters{Changes: changes})
}

// writeDevice pushes the keys set by mutate even when the mirror already holds
// them. The device consumes a bracket, so re-arming must always be written.
func (r *reducer) writeDevice(mutate func(camera.Parameters)) {
	keys := camera.Parameters{}
	mutate(keys)
	if len(keys) == 0 {
		return
	}
	for k, v := range keys {
		r.s.Params.UpdateMirrorKey(k, v)
	}
	r.emit(CmdUpdateParameters{Changes: map[string]string(keys)})
}

// ============================================================================
// Zoom
// ============================================================================

func (r *reducer) zoomInput(step func() zoom.Action) {
	s := r.s
	if !s.DeviceOpen || s.Paused || s.Zoom.Max() == 0 {
		r.ignoref("zoom unavailable")
		return
	}
	r.zoomAction(step())
}

func (r *reducer) zoomAction(act zoom.Action) {
	s := r.s
	switch act.Kind {
	case zoom.ApplyZoom:
		s.Params.SetZoom(act.Value)
		s.Params.MarkDirty(params.Zoom)
		r.flushWhenIdle()
		r.notify(noteZoom{value: act.Value})
	case zoom.StartSmooth:
		r.emit(CmdStartSmoothZoom{Value: act.Value})
	case zoom.StopSmooth:
		r.emit(CmdStopSmoothZoom{})
	}
}

// ============================================================================
// Parameters
// ============================================================================

// flushWhenIdle pushes pending categories now, later, or not at all.
func (r *reducer) flushWhenIdle() {
	s := r.s
	if !s.DeviceOpen {
		// Applied in full when the device opens.
		s.Params.ClearPending()
		return
	}
	if s.Params.Pending() == 0 {
		return
	}
	d := s.Params.Flush(s.Capture.IsIdle(), s.Burst.Frozen())
	switch d.Kind {
	case params.FlushApply:
		r.emit(CmdFlushParameters{Plan: d.Plan})
	case params.FlushDeferred:
		if !s.TimerPending(TimerFlushRetry) {
			r.emit(s.startTimer(TimerFlushRetry, r.cfg.FlushRetry))
		}
	case params.FlushSuppressed:
		r.emit(CmdReadParameters{})
	}
}

func (r *reducer) applyResult(res params.Result) {
	s := r.s
	if res.Params != nil {
		s.Params.UpdateMirror(res.Params)
	}
	s.Burst.Configure(res.Sequence, res.SequenceCount)
	for _, k := range slices.Sorted(maps.Keys(res.PrefResets)) {
		if s.Params.SetPreference(k, res.PrefResets[k]) {
			r.emit(CmdPersistPreference{Key: k, Value: res.PrefResets[k]})
		}
	}
	if res.Overrides != nil {
		r.updateOverrides(res.Overrides)
	}
}

func (r *reducer) updateOverrides(o map[string]string) {
	if params.SameOverrides(r.s.Overrides, o) {
		return
	}
	r.s.Overrides = o
	r.notify(noteOverrides{overrides: maps.Clone(o)})
}

func (r *reducer) setPreference(key, value string) {
	s := r.s
	if !params.IsKnown(key) {
		r.ignoref("unknown preference %q", key)
		return
	}
	if !s.Params.SetPreference(key, value) {
		return
	}
	r.emit(CmdPersistPreference{Key: key, Value: value})
	switch key {
	case params.PrefRecordLocation:
		if value != "true" {
			s.Location = nil
		}
		return
	case params.PrefTapPromptShown:
		return
	}
	s.Params.MarkDirty(params.Preference)
	r.flushWhenIdle()
}

func (r *reducer) restorePreferences() {
	s := r.s
	s.Zoom.Restore()
	s.Params.SetZoom(0)
	r.notify(noteZoom{value: 0})

	changed := s.Params.RestoreDefaults()
	for _, k := range slices.Sorted(maps.Keys(changed)) {
		r.emit(CmdPersistPreference{Key: k, Value: changed[k]})
	}
	s.Params.MarkDirty(params.Zoom | params.Preference)
	r.flushWhenIdle()
}

func (r *reducer) manualExposure(exposure, iso int) {
	s := r.s
	if !s.DeviceOpen || s.Burst.Frozen() {
		r.ignoref("manual exposure while device busy")
		return
	}
	r.updateDevice(func(p camera.Parameters) { params.ApplyManualExposure(p, exposure, iso) })
}

// ============================================================================
// Preview and device lifecycle
// ============================================================================

func (r *reducer) deviceOpened(ev DeviceOpened) {
	s := r.s
	s.DeviceOpen = true
	s.DeviceGen = ev.Gen
	s.Fatal = false
	s.LastError = ""
	s.Params.UpdateMirror(ev.Params)

	maxZoom := 0
	if ev.Params.GetBool(camera.KeyZoomSupported) {
		maxZoom = ev.Params.GetInt(camera.KeyMaxZoom, 0)
	}
	s.Zoom.SetMax(maxZoom, r.cfg.SmoothZoom && ev.Params.GetBool(camera.KeySmoothZoomSupported))
	s.MaxFaces = ev.Params.GetInt(camera.KeyMaxFaces, 0)

	r.emit(CmdCheckStorage{})
	if !ev.Previewing {
		r.startPreview(true)
	}
}

// startPreview (re)starts the preview with a full or capture-mode-only plan,
// folding in whatever is pending.
func (r *reducer) startPreview(full bool) {
	s := r.s
	mask := params.Mode
	if full {
		mask = params.Initialize | params.Zoom | params.Preference
	}
	mask |= s.Params.Pending()
	s.Params.ClearPending()
	s.cancelTimer(TimerRestartPreview)
	r.emit(CmdStartPreview{Plan: s.Params.PlanFor(mask), StopTemporal: s.TemporalOn})
}

func (r *reducer) previewStarted(res params.Result) {
	s := r.s
	s.Previewing = true
	s.TemporalOn = false
	r.applyResult(res)
	s.Zoom.Reset()
	dec := s.Capture.OnPreviewStarted()

	if s.MaxFaces > 0 && !s.FaceDetection {
		r.emit(CmdStartFaceDetection{})
	}
	if !s.HintScheduled {
		s.HintScheduled = true
		if s.Params.Preference(params.PrefTapPromptShown) != "true" {
			r.emit(s.startTimer(TimerHint, r.cfg.HintDelay))
		}
	}
	if dec == capture.Fire {
		if s.Remaining <= 0 {
			r.ignoref("latched capture dropped: no pictures remaining (%d)", s.Remaining)
			return
		}
		r.takePicture()
	}
}

func (r *reducer) pause() {
	s := r.s
	if s.Paused {
		r.ignoref("already paused")
		return
	}
	s.Paused = true
	if !s.DeviceOpen {
		r.emit(CmdDrainSaver{Reason: DrainPause})
		return
	}

	pending := 0
	if s.Burst.Running() {
		pending = s.Burst.Remaining()
	} else if s.AwaitingImage {
		pending = 1
	}
	if out := s.Burst.Abort(); out.ResetBurst {
		r.resetBurstPreference()
	}
	if pending > 0 {
		s.Closing = true
		s.PendingImages = pending
		r.emit(s.startTimer(TimerRelease, r.cfg.ReleaseDelay))
		return
	}
	r.finishPause()
}

func (r *reducer) finishPause() {
	s := r.s
	s.Closing = false
	s.PendingImages = 0
	r.release()
	r.emit(CmdDrainSaver{Reason: DrainPause})
}

func (r *reducer) resume() {
	s := r.s
	if !s.Paused {
		r.ignoref("not paused")
		return
	}
	s.Paused = false
	if s.Closing {
		// The device was never released; in-flight images restart the preview.
		s.Closing = false
		s.PendingImages = 0
		s.cancelTimer(TimerRelease)
		return
	}
	if !s.DeviceOpen {
		r.emit(CmdOpenDevice{})
	}
}

// release drops every device-bound piece of state and closes the device.
func (r *reducer) release() {
	s := r.s
	if s.TimerPending(TimerHint) {
		s.HintScheduled = false
	}
	for k := TimerKind(0); k < numTimers; k++ {
		s.cancelTimer(k)
	}
	s.Capture.Release()
	s.Zoom.Reset()
	s.Params.ClearPending()
	s.Previewing = false
	s.FaceDetection = false
	s.TemporalOn = false
	s.AwaitingImage = false
	if s.DeviceOpen {
		s.DeviceOpen = false
		s.DeviceGen = 0
		r.emit(CmdCloseDevice{})
	}
}

// fatal ends the session after a critical device failure.
func (r *reducer) fatal(err error) {
	s := r.s
	s.Fatal = true
	s.LastError = err.Error()
	s.Closing = false
	s.PendingImages = 0
	s.Burst.Abort()
	r.release()
	r.notify(noteError{err: err})
}

// ============================================================================
// Timers and failures
// ============================================================================

func (r *reducer) timerFired(ev TimerFired) {
	s := r.s
	if !s.fireTimer(ev.Kind, ev.Gen) {
		r.ignoref("stale %s timer", ev.Kind)
		return
	}
	switch ev.Kind {
	case TimerFlushRetry:
		r.flushWhenIdle()
	case TimerRestartPreview:
		if s.DeviceOpen && !s.Closing && !s.Paused {
			r.startPreview(false)
		}
	case TimerHint:
		if s.Params.SetPreference(params.PrefTapPromptShown, "true") {
			r.emit(CmdPersistPreference{Key: params.PrefTapPromptShown, Value: "true"})
		}
		r.notify(noteHint{text: HintTapToFocus})
	case TimerRelease:
		if s.Closing {
			r.finishPause()
		}
	}
}

func (r *reducer) commandFailed(cmd Command, err error) {
	s := r.s
	switch cmd.(type) {
	case CmdAutoFocus:
		// Treated as a failed focus cycle so a latched capture still fires.
		if s.Capture.OnAutoFocusComplete(false) == capture.Fire {
			r.takePicture()
		}
	case CmdStartSmoothZoom, CmdStopSmoothZoom:
		s.Zoom.Reset()
	}
	r.warn(fmt.Errorf("%s: %w", cmd, err))
}

// roundOrientation snaps degrees to the nearest multiple of 90 in [0, 360).
func roundOrientation(deg int) int {
	deg %= 360
	if deg < 0 {
		deg += 360
	}
	return (deg + 45) / 90 * 90 % 360
}
