package session

import (
	"errors"
	"testing"
	"time"

	"shutterbrainz/internal/burst"
	"shutterbrainz/internal/camera"
	"shutterbrainz/internal/capture"
	"shutterbrainz/internal/params"
	"shutterbrainz/internal/saver"
)

func deviceParams(t *testing.T) camera.Parameters {
	t.Helper()
	p, err := camera.NewSimulated(camera.DefaultSimulatedConfig()).Parameters()
	if err != nil {
		t.Fatalf("simulated parameters: %v", err)
	}
	return p
}

// previewingState drives a fresh session through open + preview start and
// returns it Idle with pictures remaining.
func previewingState(t *testing.T, prefs map[string]string, res params.Result) (*State, Config) {
	t.Helper()
	cfg := DefaultConfig()
	s := NewState(prefs)
	p := deviceParams(t)

	rr := Reduce(s, DeviceOpened{Params: p, Gen: 1}, cfg)
	if !hasCommand[CmdStartPreview](rr.Commands) {
		t.Fatalf("expected CmdStartPreview after open, got %v", rr.Commands)
	}
	Reduce(s, StorageChecked{Remaining: 100}, cfg)

	if res.Params == nil {
		res.Params = p
	}
	Reduce(s, PreviewStarted{Result: res}, cfg)
	if got := s.Capture.State(); got != capture.Idle {
		t.Fatalf("expected Idle after preview start, got %s", got)
	}
	return s, cfg
}

func hasCommand[T Command](cmds []Command) bool {
	_, ok := findCommand[T](cmds)
	return ok
}

func findCommand[T Command](cmds []Command) (T, bool) {
	for _, c := range cmds {
		if v, ok := c.(T); ok {
			return v, true
		}
	}
	var zero T
	return zero, false
}

func timerCommand(cmds []Command, kind TimerKind) (CmdStartTimer, bool) {
	for _, c := range cmds {
		if v, ok := c.(CmdStartTimer); ok && v.Kind == kind {
			return v, true
		}
	}
	return CmdStartTimer{}, false
}

func jpegAt(at time.Time) HardwareCallback {
	return HardwareCallback{Callback: camera.JpegPicture{Data: []byte{0xff, 0xd8}, At: at}, Gen: 1}
}

func TestReduce_DeviceOpenedStartsFullPreview(t *testing.T) {
	s := NewState(nil)
	rr := Reduce(s, DeviceOpened{Params: deviceParams(t), Gen: 1}, DefaultConfig())

	if !s.DeviceOpen || s.DeviceGen != 1 {
		t.Fatalf("expected device open with gen 1, got open=%v gen=%d", s.DeviceOpen, s.DeviceGen)
	}
	if !hasCommand[CmdCheckStorage](rr.Commands) {
		t.Fatalf("expected CmdCheckStorage, got %v", rr.Commands)
	}
	sp, ok := findCommand[CmdStartPreview](rr.Commands)
	if !ok {
		t.Fatalf("expected CmdStartPreview, got %v", rr.Commands)
	}
	want := params.Initialize | params.Zoom | params.Preference
	if sp.Plan.Mask != want {
		t.Fatalf("expected mask %s, got %s", want, sp.Plan.Mask)
	}
	if s.Zoom.Max() != 10 || !s.Zoom.Smooth() {
		t.Fatalf("expected smooth zoom with max 10, got max=%d smooth=%v", s.Zoom.Max(), s.Zoom.Smooth())
	}
}

func TestReduce_PreviewStartedSchedulesHintAndFaces(t *testing.T) {
	cfg := DefaultConfig()
	s := NewState(nil)
	p := deviceParams(t)
	Reduce(s, DeviceOpened{Params: p, Gen: 1}, cfg)

	rr := Reduce(s, PreviewStarted{Result: params.Result{Params: p}}, cfg)

	if !s.Previewing {
		t.Fatalf("expected previewing")
	}
	if !hasCommand[CmdStartFaceDetection](rr.Commands) {
		t.Fatalf("expected CmdStartFaceDetection, got %v", rr.Commands)
	}
	hint, ok := timerCommand(rr.Commands, TimerHint)
	if !ok || hint.Delay != cfg.HintDelay {
		t.Fatalf("expected hint timer with delay %s, got %+v (found=%v)", cfg.HintDelay, hint, ok)
	}

	var sawState bool
	for _, n := range rr.Notifications {
		if st, ok := n.(noteState); ok {
			sawState = true
			if st.status.CaptureState != "idle" {
				t.Fatalf("expected idle in state_changed, got %q", st.status.CaptureState)
			}
		}
	}
	if !sawState {
		t.Fatalf("expected a state_changed notification")
	}

	// The hint fires once and is persisted.
	rr = Reduce(s, TimerFired{Kind: TimerHint, Gen: hint.Gen}, cfg)
	pp, ok := findCommand[CmdPersistPreference](rr.Commands)
	if !ok || pp.Key != params.PrefTapPromptShown || pp.Value != "true" {
		t.Fatalf("expected prompt flag persisted, got %v", rr.Commands)
	}
	if _, ok := rr.Notifications[0].(noteHint); !ok {
		t.Fatalf("expected hint notification, got %T", rr.Notifications[0])
	}
}

func TestReduce_HintSkippedWhenAlreadyShown(t *testing.T) {
	cfg := DefaultConfig()
	s := NewState(map[string]string{params.PrefTapPromptShown: "true"})
	p := deviceParams(t)
	Reduce(s, DeviceOpened{Params: p, Gen: 1}, cfg)

	rr := Reduce(s, PreviewStarted{Result: params.Result{Params: p}}, cfg)
	if _, ok := timerCommand(rr.Commands, TimerHint); ok {
		t.Fatalf("expected no hint timer, got %v", rr.Commands)
	}
}

func TestReduce_ShutterClickFromIdleWritesRotation(t *testing.T) {
	s, cfg := previewingState(t, nil, params.Result{})

	Reduce(s, SetOrientation{Degrees: 80}, cfg)
	rr := Reduce(s, ShutterClick{}, cfg)

	tp, ok := findCommand[CmdTakePicture](rr.Commands)
	if !ok {
		t.Fatalf("expected CmdTakePicture, got %v", rr.Commands)
	}
	if tp.Changes[camera.KeyRotation] != "90" {
		t.Fatalf("expected rotation 90 in capture tags, got %v", tp.Changes)
	}
	if s.Params.MirrorGet(camera.KeyRotation) != "90" {
		t.Fatalf("expected mirror rotation 90, got %q", s.Params.MirrorGet(camera.KeyRotation))
	}
}

func TestReduce_ClickWhileFocusingFiresAfterFocus(t *testing.T) {
	s, cfg := previewingState(t, nil, params.Result{})

	rr := Reduce(s, ShutterFocus{Pressed: true}, cfg)
	if !hasCommand[CmdAutoFocus](rr.Commands) {
		t.Fatalf("expected CmdAutoFocus, got %v", rr.Commands)
	}
	if s.Capture.State() != capture.Focusing {
		t.Fatalf("expected Focusing, got %s", s.Capture.State())
	}

	rr = Reduce(s, ShutterClick{}, cfg)
	if len(rr.Commands) != 0 {
		t.Fatalf("expected click to latch without commands, got %v", rr.Commands)
	}
	if s.Capture.Latch() != capture.LatchAfterFocus {
		t.Fatalf("expected LatchAfterFocus, got %s", s.Capture.Latch())
	}

	// Releasing the half-press must not cancel a latched capture.
	rr = Reduce(s, ShutterFocus{Pressed: false}, cfg)
	if hasCommand[CmdCancelAutoFocus](rr.Commands) {
		t.Fatalf("expected no cancel with a latched capture")
	}

	rr = Reduce(s, HardwareCallback{Callback: camera.AutoFocusDone{Focused: true}, Gen: 1}, cfg)
	if !hasCommand[CmdTakePicture](rr.Commands) {
		t.Fatalf("expected CmdTakePicture after focus, got %v", rr.Commands)
	}
	if s.Capture.FocusResult() != capture.FocusSucceeded {
		t.Fatalf("expected focus succeeded, got %s", s.Capture.FocusResult())
	}
}

func TestReduce_FocusReleaseCancelsAndFlushes(t *testing.T) {
	s, cfg := previewingState(t, nil, params.Result{})

	Reduce(s, ShutterFocus{Pressed: true}, cfg)
	rr := Reduce(s, ShutterFocus{Pressed: false}, cfg)

	if !hasCommand[CmdCancelAutoFocus](rr.Commands) {
		t.Fatalf("expected CmdCancelAutoFocus, got %v", rr.Commands)
	}
	fp, ok := findCommand[CmdFlushParameters](rr.Commands)
	if !ok || fp.Plan.Mask&params.Preference == 0 {
		t.Fatalf("expected preference flush after cancel, got %v", rr.Commands)
	}
	if s.Capture.State() != capture.Idle {
		t.Fatalf("expected Idle, got %s", s.Capture.State())
	}
}

func TestReduce_FixedFocusSkipsAutoFocus(t *testing.T) {
	for _, mode := range []string{"infinity", "fixed", "edof"} {
		t.Run(mode, func(t *testing.T) {
			s, cfg := previewingState(t, nil, params.Result{})
			s.Params.UpdateMirrorKey(camera.KeyFocusMode, mode)

			rr := Reduce(s, ShutterFocus{Pressed: true}, cfg)
			if hasCommand[CmdAutoFocus](rr.Commands) {
				t.Fatalf("expected no autofocus for %s", mode)
			}

			rr = Reduce(s, ShutterLongPress{}, cfg)
			if !hasCommand[CmdTakePicture](rr.Commands) {
				t.Fatalf("expected long press to capture directly, got %v", rr.Commands)
			}
		})
	}
}

func TestReduce_LongPressFocusesThenCaptures(t *testing.T) {
	s, cfg := previewingState(t, nil, params.Result{})

	rr := Reduce(s, ShutterLongPress{}, cfg)
	if !hasCommand[CmdAutoFocus](rr.Commands) || hasCommand[CmdTakePicture](rr.Commands) {
		t.Fatalf("expected autofocus only, got %v", rr.Commands)
	}

	rr = Reduce(s, HardwareCallback{Callback: camera.AutoFocusDone{Focused: false}, Gen: 1}, cfg)
	if !hasCommand[CmdTakePicture](rr.Commands) {
		t.Fatalf("expected capture after failed focus, got %v", rr.Commands)
	}
}

func TestReduce_NoPicturesRemainingIgnoresShutter(t *testing.T) {
	s, cfg := previewingState(t, nil, params.Result{})
	Reduce(s, StorageChecked{Remaining: 0}, cfg)

	for _, ev := range []Event{ShutterClick{}, ShutterFocus{Pressed: true}, ShutterLongPress{}} {
		rr := Reduce(s, ev, cfg)
		if len(rr.Commands) != 0 {
			t.Fatalf("%T: expected no commands, got %v", ev, rr.Commands)
		}
		if rr.Ignored == nil {
			t.Fatalf("%T: expected an ignore reason", ev)
		}
	}
}

func TestReduce_StaleCallbackIgnored(t *testing.T) {
	s, cfg := previewingState(t, nil, params.Result{})

	rr := Reduce(s, HardwareCallback{Callback: camera.AutoFocusDone{Focused: true}, Gen: 7}, cfg)
	if rr.Ignored == nil || len(rr.Commands) != 0 {
		t.Fatalf("expected stale callback ignored, got ignored=%v cmds=%v", rr.Ignored, rr.Commands)
	}
}

func TestReduce_PreferenceDeferredWhileCapturing(t *testing.T) {
	s, cfg := previewingState(t, nil, params.Result{})

	Reduce(s, ShutterClick{}, cfg)
	Reduce(s, CaptureAccepted{At: time.Now()}, cfg)
	if s.Capture.State() != capture.Capturing {
		t.Fatalf("expected Capturing, got %s", s.Capture.State())
	}

	rr := Reduce(s, SetPreference{Key: params.PrefContrast, Value: "80"}, cfg)
	if !hasCommand[CmdPersistPreference](rr.Commands) {
		t.Fatalf("expected preference persisted, got %v", rr.Commands)
	}
	if hasCommand[CmdFlushParameters](rr.Commands) {
		t.Fatalf("expected no flush while capturing")
	}
	retry, ok := timerCommand(rr.Commands, TimerFlushRetry)
	if !ok || retry.Delay != cfg.FlushRetry {
		t.Fatalf("expected flush retry timer, got %v", rr.Commands)
	}

	// A second change does not arm another retry.
	rr = Reduce(s, SetPreference{Key: params.PrefBrightness, Value: "60"}, cfg)
	if _, ok := timerCommand(rr.Commands, TimerFlushRetry); ok {
		t.Fatalf("expected a single pending retry timer")
	}

	// Image delivered, preview restarts and carries the pending preference.
	rr = Reduce(s, jpegAt(time.Now()), cfg)
	if !hasCommand[CmdSaveImage](rr.Commands) {
		t.Fatalf("expected CmdSaveImage, got %v", rr.Commands)
	}
	restart, ok := timerCommand(rr.Commands, TimerRestartPreview)
	if !ok {
		t.Fatalf("expected restart preview timer, got %v", rr.Commands)
	}
	rr = Reduce(s, TimerFired{Kind: TimerRestartPreview, Gen: restart.Gen}, cfg)
	sp, ok := findCommand[CmdStartPreview](rr.Commands)
	if !ok || sp.Plan.Mask&params.Preference == 0 {
		t.Fatalf("expected preview restart with preferences, got %v", rr.Commands)
	}
	if sp.Plan.Prefs[params.PrefContrast] != "80" {
		t.Fatalf("expected contrast 80 in plan, got %q", sp.Plan.Prefs[params.PrefContrast])
	}
	if s.Params.Pending() != 0 {
		t.Fatalf("expected pending cleared, got %s", s.Params.Pending())
	}
}

func TestReduce_BurstSuppressesFlushUntilDone(t *testing.T) {
	prefs := map[string]string{params.PrefCaptureMode: params.ModeHighPerformance, params.PrefBurst: "3"}
	p := deviceParams(t)
	p.SetInt(camera.KeyBurst, 3)
	s, cfg := previewingState(t, prefs, params.Result{Params: p, Sequence: burst.Burst, SequenceCount: 3})

	Reduce(s, ShutterClick{}, cfg)
	Reduce(s, CaptureAccepted{At: time.Now()}, cfg)
	if !s.Burst.Running() {
		t.Fatalf("expected burst running")
	}

	rr := Reduce(s, SetPreference{Key: params.PrefContrast, Value: "80"}, cfg)
	if hasCommand[CmdFlushParameters](rr.Commands) {
		t.Fatalf("expected flush suppressed during burst, got %v", rr.Commands)
	}
	if !hasCommand[CmdReadParameters](rr.Commands) {
		t.Fatalf("expected parameters re-read instead of written, got %v", rr.Commands)
	}

	now := time.Now()
	for i := range 2 {
		rr = Reduce(s, jpegAt(now.Add(time.Duration(i)*time.Millisecond)), cfg)
		if _, ok := timerCommand(rr.Commands, TimerRestartPreview); ok {
			t.Fatalf("image %d: expected no restart mid-burst", i+1)
		}
	}

	rr = Reduce(s, jpegAt(now.Add(5*time.Millisecond)), cfg)
	if s.Burst.Running() {
		t.Fatalf("expected burst finished")
	}
	if s.Params.Preference(params.PrefBurst) != "0" {
		t.Fatalf("expected burst preference reset, got %q", s.Params.Preference(params.PrefBurst))
	}
	up, ok := findCommand[CmdUpdateParameters](rr.Commands)
	if !ok || up.Changes[camera.KeyBurst] != "0" {
		t.Fatalf("expected device burst reset, got %v", rr.Commands)
	}
	restart, ok := timerCommand(rr.Commands, TimerRestartPreview)
	if !ok || restart.Delay != 0 {
		t.Fatalf("expected immediate preview restart, got %v", rr.Commands)
	}

	rr = Reduce(s, TimerFired{Kind: TimerRestartPreview, Gen: restart.Gen}, cfg)
	sp, ok := findCommand[CmdStartPreview](rr.Commands)
	if !ok || sp.Plan.Mask&params.Preference == 0 {
		t.Fatalf("expected suppressed preferences applied on restart, got %v", rr.Commands)
	}
}

func TestReduce_PauseWaitsForInFlightImage(t *testing.T) {
	s, cfg := previewingState(t, nil, params.Result{})

	Reduce(s, ShutterClick{}, cfg)
	Reduce(s, CaptureAccepted{At: time.Now()}, cfg)

	rr := Reduce(s, Pause{}, cfg)
	if hasCommand[CmdCloseDevice](rr.Commands) {
		t.Fatalf("expected device kept open for the in-flight image")
	}
	if _, ok := timerCommand(rr.Commands, TimerRelease); !ok {
		t.Fatalf("expected release timer, got %v", rr.Commands)
	}
	if !s.Closing || s.PendingImages != 1 {
		t.Fatalf("expected closing with 1 pending image, got closing=%v pending=%d", s.Closing, s.PendingImages)
	}

	rr = Reduce(s, jpegAt(time.Now()), cfg)
	if !hasCommand[CmdSaveImage](rr.Commands) || !hasCommand[CmdCloseDevice](rr.Commands) {
		t.Fatalf("expected save then close, got %v", rr.Commands)
	}
	dr, ok := findCommand[CmdDrainSaver](rr.Commands)
	if !ok || dr.Reason != DrainPause {
		t.Fatalf("expected pause drain, got %v", rr.Commands)
	}
	if _, ok := timerCommand(rr.Commands, TimerRestartPreview); ok {
		t.Fatalf("expected no preview restart while closing")
	}
	if s.DeviceOpen || s.Capture.State() != capture.Stopped {
		t.Fatalf("expected released device, got open=%v state=%s", s.DeviceOpen, s.Capture.State())
	}

	rr = Reduce(s, Resume{}, cfg)
	if !hasCommand[CmdOpenDevice](rr.Commands) {
		t.Fatalf("expected reopen on resume, got %v", rr.Commands)
	}
}

func TestReduce_PauseReleaseTimerForcesClose(t *testing.T) {
	s, cfg := previewingState(t, nil, params.Result{})
	Reduce(s, ShutterClick{}, cfg)
	Reduce(s, CaptureAccepted{At: time.Now()}, cfg)

	rr := Reduce(s, Pause{}, cfg)
	release, _ := timerCommand(rr.Commands, TimerRelease)

	rr = Reduce(s, TimerFired{Kind: TimerRelease, Gen: release.Gen + 1}, cfg)
	if rr.Ignored == nil {
		t.Fatalf("expected stale release timer ignored")
	}

	rr = Reduce(s, TimerFired{Kind: TimerRelease, Gen: release.Gen}, cfg)
	if !hasCommand[CmdCloseDevice](rr.Commands) {
		t.Fatalf("expected close on release timeout, got %v", rr.Commands)
	}

	// Images from the released handle no longer count.
	rr = Reduce(s, jpegAt(time.Now()), cfg)
	if rr.Ignored == nil || len(rr.Commands) != 0 {
		t.Fatalf("expected late image ignored, got %v", rr.Commands)
	}
}

func TestReduce_PauseIdleClosesImmediately(t *testing.T) {
	s, cfg := previewingState(t, nil, params.Result{})

	rr := Reduce(s, Pause{}, cfg)
	if !hasCommand[CmdCloseDevice](rr.Commands) {
		t.Fatalf("expected close, got %v", rr.Commands)
	}
	if rr = Reduce(s, Pause{}, cfg); rr.Ignored == nil {
		t.Fatalf("expected second pause ignored")
	}
}

func TestReduce_ServerDiedIsFatal(t *testing.T) {
	s, cfg := previewingState(t, nil, params.Result{})

	rr := Reduce(s, HardwareCallback{Callback: camera.DeviceFault{Code: camera.ErrorServerDied}, Gen: 1}, cfg)
	if !s.Fatal || s.DeviceOpen {
		t.Fatalf("expected fatal with device released")
	}
	if !hasCommand[CmdCloseDevice](rr.Commands) {
		t.Fatalf("expected CmdCloseDevice, got %v", rr.Commands)
	}
	var sawErr bool
	for _, n := range rr.Notifications {
		if ne, ok := n.(noteError); ok {
			sawErr = errors.Is(ne.err, ErrServerDied)
		}
	}
	if !sawErr {
		t.Fatalf("expected server died error notification")
	}

	if rr = Reduce(s, ShutterClick{}, cfg); len(rr.Commands) != 0 {
		t.Fatalf("expected shutter ignored after fatal error")
	}
}

func TestReduce_OtherDeviceFaultIsWarning(t *testing.T) {
	s, cfg := previewingState(t, nil, params.Result{})

	rr := Reduce(s, HardwareCallback{Callback: camera.DeviceFault{Code: camera.ErrorUnknown}, Gen: 1}, cfg)
	if rr.Warning == nil || s.Fatal {
		t.Fatalf("expected a warning only, got warning=%v fatal=%v", rr.Warning, s.Fatal)
	}
}

func TestReduce_PreviewFailedIsFatal(t *testing.T) {
	s := NewState(nil)
	cfg := DefaultConfig()
	Reduce(s, DeviceOpened{Params: deviceParams(t), Gen: 1}, cfg)

	err := &camera.HardwareCallError{Op: "start preview", Critical: true, Err: errors.New("boom")}
	rr := Reduce(s, PreviewFailed{Err: err}, cfg)
	if !s.Fatal || s.LastError == "" {
		t.Fatalf("expected fatal state with error, got fatal=%v err=%q", s.Fatal, s.LastError)
	}
	if !hasCommand[CmdCloseDevice](rr.Commands) {
		t.Fatalf("expected device closed")
	}
}

func TestReduce_SmoothZoom(t *testing.T) {
	s, cfg := previewingState(t, nil, params.Result{})

	rr := Reduce(s, ZoomTo{Value: 5}, cfg)
	sz, ok := findCommand[CmdStartSmoothZoom](rr.Commands)
	if !ok || sz.Value != 5 {
		t.Fatalf("expected smooth zoom to 5, got %v", rr.Commands)
	}

	rr = Reduce(s, HardwareCallback{Callback: camera.ZoomChanged{Value: 3}, Gen: 1}, cfg)
	if len(rr.Notifications) == 0 {
		t.Fatalf("expected zoom progress notification")
	}
	Reduce(s, HardwareCallback{Callback: camera.ZoomChanged{Value: 5, Stopped: true}, Gen: 1}, cfg)
	if s.Zoom.Moving() || s.Zoom.Current() != 5 || s.Params.Zoom() != 5 {
		t.Fatalf("expected zoom stopped at 5, got moving=%v current=%d", s.Zoom.Moving(), s.Zoom.Current())
	}
}

func TestReduce_ImmediateZoomFlushes(t *testing.T) {
	s, cfg := previewingState(t, nil, params.Result{})
	s.Zoom.SetMax(10, false)

	rr := Reduce(s, ZoomStep{Steps: 2}, cfg)
	fp, ok := findCommand[CmdFlushParameters](rr.Commands)
	if !ok || fp.Plan.Mask != params.Zoom || fp.Plan.Zoom != 2 {
		t.Fatalf("expected zoom flush to 2, got %v", rr.Commands)
	}
}

func TestReduce_ZoomIgnoredWithoutDevice(t *testing.T) {
	s := NewState(nil)
	rr := Reduce(s, ZoomToggle{}, DefaultConfig())
	if rr.Ignored == nil || len(rr.Commands) != 0 {
		t.Fatalf("expected zoom ignored without device")
	}
}

func TestReduce_SceneResetsArePersisted(t *testing.T) {
	s, cfg := previewingState(t, nil, params.Result{})

	rr := Reduce(s, ParametersApplied{Result: params.Result{
		Params:     s.Params.Mirror(),
		PrefResets: map[string]string{params.PrefContrast: "100", params.PrefISO: "auto"},
		Overrides:  map[string]string{params.PrefFlashMode: "off"},
	}}, cfg)

	var keys []string
	for _, c := range rr.Commands {
		if pp, ok := c.(CmdPersistPreference); ok {
			keys = append(keys, pp.Key)
		}
	}
	// Both resets already match the stored values.
	if len(keys) != 0 {
		t.Fatalf("expected no persistence for unchanged defaults, got %v", keys)
	}

	Reduce(s, SetPreference{Key: params.PrefContrast, Value: "70"}, cfg)
	rr = Reduce(s, ParametersApplied{Result: params.Result{
		Params:     s.Params.Mirror(),
		PrefResets: map[string]string{params.PrefContrast: "100"},
		Overrides:  map[string]string{params.PrefFlashMode: "off"},
	}}, cfg)
	pp, ok := findCommand[CmdPersistPreference](rr.Commands)
	if !ok || pp.Key != params.PrefContrast || pp.Value != "100" {
		t.Fatalf("expected contrast reset persisted, got %v", rr.Commands)
	}
	for _, n := range rr.Notifications {
		if _, ok := n.(noteOverrides); ok {
			t.Fatalf("expected no overrides notification for an unchanged set")
		}
	}
}

func TestReduce_UnknownPreferenceIgnored(t *testing.T) {
	s, cfg := previewingState(t, nil, params.Result{})
	rr := Reduce(s, SetPreference{Key: "warp_drive", Value: "on"}, cfg)
	if rr.Ignored == nil || len(rr.Commands) != 0 {
		t.Fatalf("expected unknown key ignored")
	}
}

func TestReduce_RestorePreferencesResetsZoom(t *testing.T) {
	s, cfg := previewingState(t, map[string]string{params.PrefContrast: "70"}, params.Result{})
	s.Params.SetZoom(4)

	rr := Reduce(s, RestorePreferences{}, cfg)
	if s.Params.Zoom() != 0 || s.Zoom.Current() != 0 {
		t.Fatalf("expected zoom reset")
	}
	pp, ok := findCommand[CmdPersistPreference](rr.Commands)
	if !ok || pp.Key != params.PrefContrast || pp.Value != "100" {
		t.Fatalf("expected contrast restored and persisted, got %v", rr.Commands)
	}
	fp, ok := findCommand[CmdFlushParameters](rr.Commands)
	if !ok || fp.Plan.Mask != params.Zoom|params.Preference {
		t.Fatalf("expected zoom|preference flush, got %v", rr.Commands)
	}
}

func TestReduce_LocationTagsRequireOptIn(t *testing.T) {
	s, cfg := previewingState(t, nil, params.Result{})
	fix := SetLocation{Latitude: 52.5, Longitude: 13.4, Time: time.Unix(1700000000, 0)}

	if rr := Reduce(s, fix, cfg); rr.Ignored == nil || s.Location != nil {
		t.Fatalf("expected location ignored without opt-in")
	}

	Reduce(s, SetPreference{Key: params.PrefRecordLocation, Value: "true"}, cfg)
	Reduce(s, fix, cfg)
	rr := Reduce(s, ShutterClick{}, cfg)
	tp, _ := findCommand[CmdTakePicture](rr.Commands)
	if tp.Changes[camera.KeyGPSLatitude] != "52.5" {
		t.Fatalf("expected gps latitude tag, got %v", tp.Changes)
	}

	Reduce(s, SetPreference{Key: params.PrefRecordLocation, Value: "false"}, cfg)
	if s.Location != nil {
		t.Fatalf("expected location dropped when recording disabled")
	}
}

func TestReduce_ShareRepublishesThumbnail(t *testing.T) {
	s, cfg := previewingState(t, nil, params.Result{})
	s.LastThumbnail = &saver.Thumbnail{URI: "media://images/1"}

	rr := Reduce(s, Share{}, cfg)
	dr, ok := findCommand[CmdDrainSaver](rr.Commands)
	if !ok || dr.Reason != DrainShare {
		t.Fatalf("expected share drain, got %v", rr.Commands)
	}
	rr = Reduce(s, DrainCompleted{Reason: DrainShare}, cfg)
	ct, ok := findCommand[CmdCollectThumbnail](rr.Commands)
	if !ok || !ct.Shared {
		t.Fatalf("expected shared thumbnail collection, got %v", rr.Commands)
	}
	rr = Reduce(s, ThumbnailCollected{Shared: true}, cfg)
	if len(rr.Notifications) != 1 {
		t.Fatalf("expected latest thumbnail republished, got %d notifications", len(rr.Notifications))
	}
	nt, ok := rr.Notifications[0].(noteThumbnail)
	if !ok || nt.thumb.URI != "media://images/1" {
		t.Fatalf("expected thumbnail media://images/1, got %+v", rr.Notifications[0])
	}
}

func TestReduce_StorageNotifiesOnChangeOnly(t *testing.T) {
	s := NewState(nil)
	cfg := DefaultConfig()
	if rr := Reduce(s, StorageChecked{Remaining: 42}, cfg); len(rr.Notifications) != 1 {
		t.Fatalf("expected storage notification")
	}
	if rr := Reduce(s, StorageChecked{Remaining: 42}, cfg); len(rr.Notifications) != 0 {
		t.Fatalf("expected no notification for an unchanged estimate")
	}
}

func TestReduce_ReviewDelayFromDisplayedFrame(t *testing.T) {
	s, cfg := previewingState(t, nil, params.Result{})
	cfg.Review = time.Second

	Reduce(s, ShutterClick{}, cfg)
	Reduce(s, CaptureAccepted{At: time.Now()}, cfg)

	t0 := time.Unix(2000, 0)
	Reduce(s, HardwareCallback{Callback: camera.Postview{At: t0}, Gen: 1}, cfg)
	rr := Reduce(s, jpegAt(t0.Add(300*time.Millisecond)), cfg)
	restart, ok := timerCommand(rr.Commands, TimerRestartPreview)
	if !ok || restart.Delay != 700*time.Millisecond {
		t.Fatalf("expected 700ms review delay, got %+v", restart)
	}
}

func TestReduce_CommandFailedAutoFocusReleasesLatch(t *testing.T) {
	s, cfg := previewingState(t, nil, params.Result{})
	Reduce(s, ShutterFocus{Pressed: true}, cfg)
	Reduce(s, ShutterClick{}, cfg)

	rr := Reduce(s, CommandFailed{Command: CmdAutoFocus{}, Err: errors.New("busy")}, cfg)
	if !hasCommand[CmdTakePicture](rr.Commands) {
		t.Fatalf("expected latched capture to fire, got %v", rr.Commands)
	}
	if rr.Warning == nil {
		t.Fatalf("expected a warning")
	}
}

func TestRoundOrientation(t *testing.T) {
	tests := []struct{ in, want int }{
		{0, 0}, {44, 0}, {45, 90}, {80, 90}, {179, 180}, {269, 270}, {316, 0}, {-90, 270}, {720, 0},
	}
	for _, tt := range tests {
		if got := roundOrientation(tt.in); got != tt.want {
			t.Fatalf("roundOrientation(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestReduce_ExposureBracketRearmsAfterThirdImage(t *testing.T) {
	prefs := map[string]string{params.PrefCaptureMode: params.ModeExposureBracketing}
	p := deviceParams(t)
	p.SetInt(camera.KeyBurst, burst.ExposureBracketShots)
	p.Set(camera.KeyExpBracketingRange, params.ExposureBracketingRange)
	s, cfg := previewingState(t, prefs, params.Result{Params: p, Sequence: burst.ExposureBracket, SequenceCount: burst.ExposureBracketShots})

	Reduce(s, ShutterClick{}, cfg)
	Reduce(s, CaptureAccepted{At: time.Now()}, cfg)
	if !s.Burst.Frozen() || s.Burst.Remaining() != 3 {
		t.Fatalf("expected running bracket of 3, got state=%s remaining=%d", s.Burst.State(), s.Burst.Remaining())
	}

	restarts := 0
	var last ReduceResult
	now := time.Now()
	for i := range 3 {
		last = Reduce(s, jpegAt(now.Add(time.Duration(i)*time.Millisecond)), cfg)
		if _, ok := timerCommand(last.Commands, TimerRestartPreview); ok {
			restarts++
		}
		if i < 2 && hasCommand[CmdUpdateParameters](last.Commands) {
			t.Fatalf("image %d: expected no parameter writes mid-bracket, got %v", i+1, last.Commands)
		}
	}
	if restarts != 1 {
		t.Fatalf("expected exactly one preview restart, got %d", restarts)
	}

	up, ok := findCommand[CmdUpdateParameters](last.Commands)
	if !ok {
		t.Fatalf("expected bracket re-armed on the device, got %v", last.Commands)
	}
	if up.Changes[camera.KeyBurst] != "3" || up.Changes[camera.KeyExpBracketingRange] != params.ExposureBracketingRange {
		t.Fatalf("unexpected re-arm changes %v", up.Changes)
	}
	if s.Burst.State() != burst.Active || s.Burst.Frozen() {
		t.Fatalf("expected bracket re-armed Active, got %s", s.Burst.State())
	}
	if hasCommand[CmdPersistPreference](last.Commands) {
		t.Fatalf("exposure bracketing must not reset the burst preference, got %v", last.Commands)
	}
}

func TestReduce_TemporalBracketStartsOnFocusAndStopsAfterLastImage(t *testing.T) {
	prefs := map[string]string{params.PrefCaptureMode: params.ModeTemporalBracketing, params.PrefBracketRange: "1"}
	res := params.Result{Sequence: burst.TemporalBracket, SequenceCount: 1}
	s, cfg := previewingState(t, prefs, res)

	rr := Reduce(s, ShutterFocus{Pressed: true}, cfg)
	if !hasCommand[CmdAutoFocus](rr.Commands) {
		t.Fatalf("expected autofocus, got %v", rr.Commands)
	}

	rr = Reduce(s, HardwareCallback{Callback: camera.AutoFocusDone{Focused: true}, Gen: 1}, cfg)
	up, ok := findCommand[CmdUpdateParameters](rr.Commands)
	if !ok || up.Changes[camera.KeyTemporalBracketing] != camera.TemporalBracketingEnable {
		t.Fatalf("expected temporal bracketing enabled, got %v", rr.Commands)
	}
	if !s.Burst.Frozen() || !s.TemporalOn {
		t.Fatalf("expected frozen parameters with temporal bracketing on")
	}

	rr = Reduce(s, SetPreference{Key: params.PrefContrast, Value: "70"}, cfg)
	if hasCommand[CmdFlushParameters](rr.Commands) {
		t.Fatalf("expected flush suppressed during temporal bracket, got %v", rr.Commands)
	}

	rr = Reduce(s, ShutterClick{}, cfg)
	if !hasCommand[CmdTakePicture](rr.Commands) {
		t.Fatalf("expected capture after focus, got %v", rr.Commands)
	}
	Reduce(s, CaptureAccepted{At: time.Now()}, cfg)

	restarts := 0
	var last ReduceResult
	now := time.Now()
	for i := range 3 {
		last = Reduce(s, jpegAt(now.Add(time.Duration(i)*time.Millisecond)), cfg)
		if _, ok := timerCommand(last.Commands, TimerRestartPreview); ok {
			restarts++
		}
	}
	if restarts != 1 {
		t.Fatalf("expected exactly one preview restart, got %d", restarts)
	}
	up, ok = findCommand[CmdUpdateParameters](last.Commands)
	if !ok || up.Changes[camera.KeyTemporalBracketing] != camera.TemporalBracketingDisable {
		t.Fatalf("expected temporal bracketing disabled, got %v", last.Commands)
	}
	if s.Burst.State() != burst.Off || s.TemporalOn {
		t.Fatalf("expected sequence off, got state=%s temporal=%v", s.Burst.State(), s.TemporalOn)
	}

	restart, _ := timerCommand(last.Commands, TimerRestartPreview)
	rr = Reduce(s, TimerFired{Kind: TimerRestartPreview, Gen: restart.Gen}, cfg)
	sp, ok := findCommand[CmdStartPreview](rr.Commands)
	if !ok || sp.StopTemporal || sp.Plan.Mask&params.Preference == 0 {
		t.Fatalf("expected restart carrying the suppressed preference, got %v", rr.Commands)
	}

	// The capture-mode apply of the restarted preview arms the next bracket.
	res.Params = deviceParams(t)
	Reduce(s, PreviewStarted{Result: res}, cfg)
	if s.Burst.State() != burst.Active {
		t.Fatalf("expected temporal bracket re-armed, got %s", s.Burst.State())
	}
}

func TestReduce_DeviceOpenedWithPreviewRunning(t *testing.T) {
	cfg := DefaultConfig()
	s := NewState(nil)
	p := deviceParams(t)

	rr := Reduce(s, DeviceOpened{Params: p, Gen: 1, Previewing: true}, cfg)
	if hasCommand[CmdStartPreview](rr.Commands) {
		t.Fatalf("expected no second preview start, got %v", rr.Commands)
	}
	Reduce(s, PreviewStarted{Result: params.Result{Params: p}}, cfg)
	if !s.Previewing || s.Capture.State() != capture.Idle {
		t.Fatalf("expected idle preview, got previewing=%v state=%s", s.Previewing, s.Capture.State())
	}
}
