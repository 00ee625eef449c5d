// Package camera defines the device-handle contract the session controller drives,
// the hardware callback variants it receives, and the device implementations
// (a simulated device and a V4L2 backend on Linux).
package camera

import (
	"context"
	"time"
)

// Device is an exclusively owned handle to an open camera.
//
// All methods are called from the session control loop only. Hardware callbacks
// (shutter, raw, postview, jpeg, autofocus, zoom progress, faces, device errors)
// are delivered asynchronously through the Listener installed with SetListener;
// implementations may invoke the listener from any goroutine but never while
// holding their own locks.
type Device interface {
	Parameters() (Parameters, error)
	SetParameters(p Parameters) error

	StartPreview() error
	StopPreview() error

	// TakePicture starts a capture. A nil return means the hardware accepted it;
	// Shutter/RawPicture/Postview/JpegPicture callbacks follow for every shot the
	// device decides to take (one, or more while a burst/bracket is configured).
	TakePicture() error

	AutoFocus() error
	CancelAutoFocus() error

	StartSmoothZoom(value int) error
	StopSmoothZoom() error

	StartFaceDetection() error
	StopFaceDetection() error

	SetListener(l Listener)
	Close() error
}

// Listener receives hardware callbacks.
type Listener func(Callback)

// Opener opens a device by camera id.
//
// Open returns a *DeviceError when the hardware is unavailable or disabled by policy.
type Opener interface {
	Open(ctx context.Context, id int) (Device, error)
}

// OpenerFunc adapts a function to the Opener interface.
type OpenerFunc func(ctx context.Context, id int) (Device, error)

// Open calls f(ctx, id).
func (f OpenerFunc) Open(ctx context.Context, id int) (Device, error) { return f(ctx, id) }

// ============================================================================
// Hardware callbacks
// ============================================================================

// Callback is the single variant type for everything the hardware reports.
type Callback interface {
	callbackMarker()
}

// Shutter fires when the sensor exposure for a shot has happened.
type Shutter struct {
	At time.Time
}

// RawPicture fires when raw data for a shot is available (data is not retained).
type RawPicture struct {
	At time.Time
}

// Postview fires when the postview frame of a shot is displayed.
type Postview struct {
	At time.Time
}

// JpegPicture carries the final encoded image of one shot.
type JpegPicture struct {
	Data []byte
	At   time.Time
}

// AutoFocusDone reports the completion of an autofocus cycle.
type AutoFocusDone struct {
	Focused bool
	At      time.Time
}

// ZoomChanged reports smooth zoom progress. Stopped is true on the final tick.
type ZoomChanged struct {
	Value   int
	Stopped bool
}

// FacesDetected carries the faces found in the latest preview frame.
type FacesDetected struct {
	Faces []Face
}

// DeviceFault is the asynchronous device error callback.
type DeviceFault struct {
	Code int
}

func (Shutter) callbackMarker()       {}
func (RawPicture) callbackMarker()    {}
func (Postview) callbackMarker()      {}
func (JpegPicture) callbackMarker()   {}
func (AutoFocusDone) callbackMarker() {}
func (ZoomChanged) callbackMarker()   {}
func (FacesDetected) callbackMarker() {}
func (DeviceFault) callbackMarker()   {}

// Face is a detected face in preview coordinates (-1000..1000 on both axes).
type Face struct {
	Left, Top, Right, Bottom int
	Score                    int
}

// Device error codes reported through DeviceFault.
const (
	ErrorUnknown    = 1
	ErrorServerDied = 100
)

// Location is a GPS fix attached to captures.
type Location struct {
	Latitude  float64
	Longitude float64
	Altitude  float64
	Time      time.Time
}

// Size is a width x height pair as used by the picture-size/preview-size keys.
type Size struct {
	Width  int
	Height int
}
