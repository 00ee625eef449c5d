package session

import (
	"encoding/json"
	"fmt"
	"time"

	"shutterbrainz/internal/camera"
	"shutterbrainz/internal/params"
	"shutterbrainz/internal/saver"
)

// ============================================================================
// Events - inputs to the reducer
// ============================================================================
// Events come from three places:
//   - user actions (evdev keys, IPC, preference file edits)
//   - hardware callbacks forwarded from the device listener
//   - observations emitted by effects after executing a Command
// ============================================================================

// Event is the input to the reducer.
type Event interface {
	eventMarker()
}

// ----------------------------------------------------------------------------
// Actions
// ----------------------------------------------------------------------------

// ShutterFocus is the half-press of the shutter key.
type ShutterFocus struct {
	Pressed bool `json:"pressed"`
}

// ShutterClick is the full press of the shutter key.
type ShutterClick struct{}

// ShutterLongPress is a held shutter key. It focuses (when needed) and captures
// once focus settles.
type ShutterLongPress struct{}

// CancelFocus aborts a running autofocus cycle.
type CancelFocus struct{}

// ZoomTo requests an absolute zoom index.
type ZoomTo struct {
	Value int `json:"value"`
}

// ZoomStep moves the zoom by a number of indices (negative zooms out).
type ZoomStep struct {
	Steps int `json:"steps"`
}

// ZoomToggle jumps to maximum zoom, or back to 0 when already there.
type ZoomToggle struct{}

// ZoomStop stops a smooth zoom in progress.
type ZoomStop struct{}

// SetPreference changes one preference.
type SetPreference struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// RestorePreferences resets every preference to its default.
type RestorePreferences struct{}

// ManualExposure writes manual exposure (at least 1) and gain.
type ManualExposure struct {
	Exposure int `json:"exposure"`
	ISO      int `json:"iso"`
}

// SetOrientation records the device orientation used as capture rotation.
type SetOrientation struct {
	Degrees int `json:"degrees"`
}

// SetLocation records the GPS fix attached to captures while location recording
// is enabled.
type SetLocation struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Altitude  float64   `json:"altitude"`
	Time      time.Time `json:"time"`
}

// Share waits for every pending save and republishes the latest thumbnail.
type Share struct{}

// Pause releases the device (after an in-flight capture completes).
type Pause struct{}

// Resume reopens the device and restarts the preview.
type Resume struct{}

// RequestStatus asks for a status snapshot. Internal only; not JSON encodable.
type RequestStatus struct {
	Reply chan Status
}

func (ShutterFocus) eventMarker()       {}
func (ShutterClick) eventMarker()       {}
func (ShutterLongPress) eventMarker()   {}
func (CancelFocus) eventMarker()        {}
func (ZoomTo) eventMarker()             {}
func (ZoomStep) eventMarker()           {}
func (ZoomToggle) eventMarker()         {}
func (ZoomStop) eventMarker()           {}
func (SetPreference) eventMarker()      {}
func (RestorePreferences) eventMarker() {}
func (ManualExposure) eventMarker()     {}
func (SetOrientation) eventMarker()     {}
func (SetLocation) eventMarker()        {}
func (Share) eventMarker()              {}
func (Pause) eventMarker()              {}
func (Resume) eventMarker()             {}
func (RequestStatus) eventMarker()      {}

// ----------------------------------------------------------------------------
// Hardware callbacks and observations
// ----------------------------------------------------------------------------

// HardwareCallback wraps a device callback. Gen identifies the device handle the
// callback came from; callbacks from a released handle are ignored.
type HardwareCallback struct {
	Callback camera.Callback
	Gen      uint64
}

// DeviceOpened is emitted once a device handle is open and its configuration read.
// Previewing is set when the opener already started the first preview; its
// PreviewStarted follows.
type DeviceOpened struct {
	Params     camera.Parameters
	Gen        uint64
	Previewing bool
}

// DeviceOpenFailed is fatal for the session; it stays Stopped.
type DeviceOpenFailed struct {
	Err error
}

// DeviceClosed is emitted after the device handle was released.
type DeviceClosed struct{}

// PreviewStarted carries the configuration applied right before the preview started.
type PreviewStarted struct {
	Result params.Result
}

// PreviewFailed is a critical hardware failure.
type PreviewFailed struct {
	Err error
}

// ParametersApplied is emitted after a flush plan was pushed.
type ParametersApplied struct {
	Result params.Result
}

// ParametersRead carries a fresh read of the device configuration.
type ParametersRead struct {
	Params camera.Parameters
}

// CaptureAccepted means the hardware accepted a takePicture call.
type CaptureAccepted struct {
	At time.Time
}

// AutoFocusStarted means the hardware accepted an autofocus call.
type AutoFocusStarted struct{}

// FaceDetectionStarted means face detection is running on the preview.
type FaceDetectionStarted struct{}

// CommandFailed is emitted when executing a Command fails.
type CommandFailed struct {
	Command Command
	Err     error
}

// StorageChecked carries a fresh pictures-remaining estimate.
type StorageChecked struct {
	Remaining int64
}

// ThumbnailPending is posted by the saver when a new thumbnail is waiting.
type ThumbnailPending struct{}

// ThumbnailCollected carries the consumed pending thumbnail (nil when none).
// Shared is set when it was collected for a share request.
type ThumbnailCollected struct {
	Thumbnail *saver.Thumbnail
	Shared    bool
}

// DrainCompleted is emitted once every queued save has been persisted.
type DrainCompleted struct {
	Reason DrainReason
}

// TimerFired is posted when a timer started with CmdStartTimer expires.
type TimerFired struct {
	Kind TimerKind
	Gen  uint64
}

func (HardwareCallback) eventMarker()     {}
func (DeviceOpened) eventMarker()         {}
func (DeviceOpenFailed) eventMarker()     {}
func (DeviceClosed) eventMarker()         {}
func (PreviewStarted) eventMarker()       {}
func (PreviewFailed) eventMarker()        {}
func (ParametersApplied) eventMarker()    {}
func (ParametersRead) eventMarker()       {}
func (CaptureAccepted) eventMarker()      {}
func (AutoFocusStarted) eventMarker()     {}
func (FaceDetectionStarted) eventMarker() {}
func (CommandFailed) eventMarker()        {}
func (StorageChecked) eventMarker()       {}
func (ThumbnailPending) eventMarker()     {}
func (ThumbnailCollected) eventMarker()   {}
func (DrainCompleted) eventMarker()       {}
func (TimerFired) eventMarker()           {}

// ============================================================================
// JSON Encoding/Decoding Support
// ============================================================================

// EventEnvelope wraps an action with a type discriminator for JSON marshaling.
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// UnmarshalEvent deserializes a JSON envelope into a concrete action.
// Only user actions are accepted; internal events cannot be injected.
func UnmarshalEvent(data []byte) (Event, error) {
	var env EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	decode := func(v any) error {
		if len(env.Data) == 0 {
			return fmt.Errorf("event %q requires data", env.Type)
		}
		if err := json.Unmarshal(env.Data, v); err != nil {
			return fmt.Errorf("unmarshal %s: %w", env.Type, err)
		}
		return nil
	}

	switch env.Type {
	case "shutter_focus":
		var a ShutterFocus
		if err := decode(&a); err != nil {
			return nil, err
		}
		return a, nil
	case "shutter_click":
		return ShutterClick{}, nil
	case "shutter_long_press":
		return ShutterLongPress{}, nil
	case "cancel_focus":
		return CancelFocus{}, nil

	case "zoom_to":
		var a ZoomTo
		if err := decode(&a); err != nil {
			return nil, err
		}
		return a, nil
	case "zoom_step":
		var a ZoomStep
		if err := decode(&a); err != nil {
			return nil, err
		}
		return a, nil
	case "zoom_toggle":
		return ZoomToggle{}, nil
	case "zoom_stop":
		return ZoomStop{}, nil

	case "set_preference":
		var a SetPreference
		if err := decode(&a); err != nil {
			return nil, err
		}
		return a, nil
	case "restore_preferences":
		return RestorePreferences{}, nil
	case "manual_exposure":
		var a ManualExposure
		if err := decode(&a); err != nil {
			return nil, err
		}
		return a, nil
	case "set_orientation":
		var a SetOrientation
		if err := decode(&a); err != nil {
			return nil, err
		}
		return a, nil
	case "set_location":
		var a SetLocation
		if err := decode(&a); err != nil {
			return nil, err
		}
		return a, nil

	case "share":
		return Share{}, nil
	case "pause":
		return Pause{}, nil
	case "resume":
		return Resume{}, nil

	default:
		return nil, fmt.Errorf("unknown event type: %q", env.Type)
	}
}

// MarshalEvent serializes an action into a JSON envelope.
func MarshalEvent(e Event) ([]byte, error) {
	var env EventEnvelope

	withData := func(name string, v any) error {
		env.Type = name
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", name, err)
		}
		env.Data = data
		return nil
	}

	var err error
	switch e := e.(type) {
	case ShutterFocus:
		err = withData("shutter_focus", e)
	case ShutterClick:
		env.Type = "shutter_click"
	case ShutterLongPress:
		env.Type = "shutter_long_press"
	case CancelFocus:
		env.Type = "cancel_focus"
	case ZoomTo:
		err = withData("zoom_to", e)
	case ZoomStep:
		err = withData("zoom_step", e)
	case ZoomToggle:
		env.Type = "zoom_toggle"
	case ZoomStop:
		env.Type = "zoom_stop"
	case SetPreference:
		err = withData("set_preference", e)
	case RestorePreferences:
		env.Type = "restore_preferences"
	case ManualExposure:
		err = withData("manual_exposure", e)
	case SetOrientation:
		err = withData("set_orientation", e)
	case SetLocation:
		err = withData("set_location", e)
	case Share:
		env.Type = "share"
	case Pause:
		env.Type = "pause"
	case Resume:
		env.Type = "resume"
	default:
		return nil, fmt.Errorf("unsupported event type: %T", e)
	}
	if err != nil {
		return nil, err
	}

	return json.Marshal(env)
}
