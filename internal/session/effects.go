package session

import (
	"errors"
	"time"

	"shutterbrainz/internal/camera"
	"shutterbrainz/internal/params"
)

// errNoDevice indicates a device command was issued without an open handle.
var errNoDevice = errors.New("no camera device open")

type errUnknownCommand struct {
	cmd Command
}

func (e errUnknownCommand) Error() string { return "unknown command: " + e.cmd.String() }

// runEffect executes a single reducer-emitted Command against the device, the
// saver, the storage estimator, the preference file or the timer set, and
// reports the outcome as an observation Event via onEvent.
//
// It must never call Reduce directly; the control loop sequences
// Reduce -> Commands -> runEffect -> Events -> Reduce.
func (c *Controller) runEffect(cmd Command, onEvent func(Event)) {
	failed := func(err error) {
		onEvent(CommandFailed{Command: cmd, Err: err})
	}

	switch cmd := cmd.(type) {
	case CmdOpenDevice:
		p, err := c.openDevice(c.ctx)
		if err != nil {
			c.logger.Error("camera open failed", "error", err)
			onEvent(DeviceOpenFailed{Err: err})
			return
		}
		onEvent(DeviceOpened{Params: p, Gen: c.gen})

	case CmdCloseDevice:
		c.closeDevice()
		onEvent(DeviceClosed{})

	case CmdStartPreview:
		res, err := c.startPreview(cmd)
		if err != nil {
			c.logger.Error("start preview failed", "error", err)
			onEvent(PreviewFailed{Err: err})
			return
		}
		onEvent(PreviewStarted{Result: res})

	case CmdFlushParameters:
		if c.dev == nil {
			failed(errNoDevice)
			return
		}
		res, err := cmd.Plan.Apply(c.dev)
		if err != nil {
			c.logger.Error("flush parameters failed", "error", err, "mask", cmd.Plan.Mask.String())
			failed(err)
			return
		}
		onEvent(ParametersApplied{Result: res})

	case CmdReadParameters:
		if c.dev == nil {
			failed(errNoDevice)
			return
		}
		p, err := c.dev.Parameters()
		if err != nil {
			failed(err)
			return
		}
		onEvent(ParametersRead{Params: p})

	case CmdUpdateParameters:
		if err := c.updateParameters(cmd.Changes); err != nil {
			c.logger.Error("update parameters failed", "error", err)
			failed(err)
		}

	case CmdAutoFocus:
		if c.dev == nil {
			failed(errNoDevice)
			return
		}
		if err := c.dev.AutoFocus(); err != nil {
			failed(&camera.HardwareCallError{Op: "autofocus", Err: err})
			return
		}
		onEvent(AutoFocusStarted{})

	case CmdCancelAutoFocus:
		if c.dev == nil {
			return
		}
		if err := c.dev.CancelAutoFocus(); err != nil {
			failed(&camera.HardwareCallError{Op: "cancel autofocus", Err: err})
		}

	case CmdTakePicture:
		if c.dev == nil {
			failed(errNoDevice)
			return
		}
		if c.faceDetecting {
			if err := c.dev.StopFaceDetection(); err != nil {
				c.logger.Warn("stop face detection failed", "error", err)
			}
			c.faceDetecting = false
		}
		if err := c.updateParameters(cmd.Changes); err != nil {
			failed(&camera.HardwareCallError{Op: "write capture tags", Err: err})
			return
		}
		at := time.Now()
		if err := c.dev.TakePicture(); err != nil {
			failed(&camera.HardwareCallError{Op: "take picture", Err: err})
			return
		}
		c.previewing = false
		onEvent(CaptureAccepted{At: at})

	case CmdStartSmoothZoom:
		if c.dev == nil {
			failed(errNoDevice)
			return
		}
		if err := c.dev.StartSmoothZoom(cmd.Value); err != nil {
			failed(&camera.HardwareCallError{Op: "start smooth zoom", Err: err})
		}

	case CmdStopSmoothZoom:
		if c.dev == nil {
			return
		}
		if err := c.dev.StopSmoothZoom(); err != nil {
			failed(&camera.HardwareCallError{Op: "stop smooth zoom", Err: err})
		}

	case CmdStartFaceDetection:
		if c.dev == nil {
			failed(errNoDevice)
			return
		}
		if err := c.dev.StartFaceDetection(); err != nil {
			failed(&camera.HardwareCallError{Op: "start face detection", Err: err})
			return
		}
		c.faceDetecting = true
		onEvent(FaceDetectionStarted{})

	case CmdSaveImage:
		// Blocks while the saver queue is full.
		c.saver.Add(cmd.Request)
		onEvent(StorageChecked{Remaining: c.picturesRemaining()})

	case CmdCheckStorage:
		onEvent(StorageChecked{Remaining: c.picturesRemaining()})

	case CmdDrainSaver:
		started := time.Now()
		c.saver.WaitDone()
		c.logger.Debug("saver drained", "reason", cmd.Reason.String(), "waited", time.Since(started))
		onEvent(DrainCompleted{Reason: cmd.Reason})
		onEvent(StorageChecked{Remaining: c.picturesRemaining()})

	case CmdCollectThumbnail:
		onEvent(ThumbnailCollected{Thumbnail: c.saver.TakeThumbnail(), Shared: cmd.Shared})

	case CmdStartTimer:
		c.startTimer(cmd.Kind, cmd.Gen, cmd.Delay)

	case CmdPersistPreference:
		if c.prefs == nil {
			return
		}
		if err := c.prefs.Set(cmd.Key, cmd.Value); err != nil {
			c.logger.Error("persist preference failed", "key", cmd.Key, "error", err)
			failed(err)
		}

	case CmdPublishStatus:
		if cmd.Reply == nil {
			c.logger.Warn("status requested with nil reply channel")
			return
		}
		st := cmd.Status
		st.PendingSaves = c.saver.Len()

		// Never block the control loop.
		select {
		case cmd.Reply <- st:
		default:
			c.logger.Warn("status reply channel not ready; dropping status")
		}

	default:
		c.logger.Warn("unknown command type", "command", cmd.String())
		failed(errUnknownCommand{cmd: cmd})
	}
}

// startPreview stops a running preview (disabling temporal bracketing and
// cancelling autofocus first), applies the plan and starts the preview.
// Every failure is critical.
func (c *Controller) startPreview(cmd CmdStartPreview) (params.Result, error) {
	if c.dev == nil {
		return params.Result{}, &camera.HardwareCallError{Op: "start preview", Critical: true, Err: errNoDevice}
	}
	if c.previewing {
		if cmd.StopTemporal {
			if err := c.updateParameters(map[string]string{
				camera.KeyTemporalBracketing: camera.TemporalBracketingDisable,
			}); err != nil {
				c.logger.Warn("disable temporal bracketing failed", "error", err)
			}
		}
		if err := c.dev.CancelAutoFocus(); err != nil {
			c.logger.Debug("cancel autofocus before preview restart failed", "error", err)
		}
		if err := c.dev.StopPreview(); err != nil {
			return params.Result{}, &camera.HardwareCallError{Op: "stop preview", Critical: true, Err: err}
		}
		c.previewing = false
	}

	res, err := cmd.Plan.Apply(c.dev)
	if err != nil {
		return params.Result{}, &camera.HardwareCallError{Op: "apply parameters", Critical: true, Err: err}
	}
	if err := c.dev.StartPreview(); err != nil {
		return params.Result{}, &camera.HardwareCallError{Op: "start preview", Critical: true, Err: err}
	}
	c.previewing = true
	return res, nil
}

// updateParameters writes individual keys; an empty value removes the key.
func (c *Controller) updateParameters(changes map[string]string) error {
	if len(changes) == 0 {
		return nil
	}
	if c.dev == nil {
		return errNoDevice
	}
	p, err := c.dev.Parameters()
	if err != nil {
		return err
	}
	for k, v := range changes {
		if v == "" {
			p.Remove(k)
			continue
		}
		p.Set(k, v)
	}
	return c.dev.SetParameters(p)
}

// picturesRemaining discounts images still waiting in the saver queue.
func (c *Controller) picturesRemaining() int64 {
	if c.storage == nil {
		return 0
	}
	n := c.storage.PicturesRemaining()
	if n < 0 {
		return n
	}
	return max(n-int64(c.saver.Len()), 0)
}
