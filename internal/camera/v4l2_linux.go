//go:build linux

package camera

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sync"
	"time"

	"github.com/vladimirvivien/go4vl/device"
	"github.com/vladimirvivien/go4vl/v4l2"
)

// V4L2 control ids for the parameter keys this backend can drive.
const (
	ctrlBrightness   v4l2.CtrlID = 9963776
	ctrlContrast     v4l2.CtrlID = 9963777
	ctrlSaturation   v4l2.CtrlID = 9963778
	ctrlSharpness    v4l2.CtrlID = 9963803
	ctrlExposureAbs  v4l2.CtrlID = 10094850
	ctrlFocusAuto    v4l2.CtrlID = 10094860
	ctrlZoomAbsolute v4l2.CtrlID = 10094861
	ctrlAutoFocusGo  v4l2.CtrlID = 10094876
	ctrlAutoFocusEnd v4l2.CtrlID = 10094877
	ctrlISO          v4l2.CtrlID = 10094871
	ctrlJpegQuality  v4l2.CtrlID = 10291459
)

// keyControls maps integer-valued parameter keys onto V4L2 controls.
var keyControls = map[string]v4l2.CtrlID{
	KeyBrightness:     ctrlBrightness,
	KeyContrast:       ctrlContrast,
	KeySaturation:     ctrlSaturation,
	KeySharpness:      ctrlSharpness,
	KeyManualExposure: ctrlExposureAbs,
	KeyManualGainISO:  ctrlISO,
	KeyJpegQuality:    ctrlJpegQuality,
	KeyZoom:           ctrlZoomAbsolute,
}

// V4L2Config describes the capture node and stream format.
type V4L2Config struct {
	Path   string
	Width  int
	Height int
	FPS    int
	// FrameTimeout bounds how long a capture waits for the next frame.
	FrameTimeout time.Duration
}

// V4L2 drives a UVC/V4L2 camera streaming MJPEG. Each captured shot is the next
// frame off the stream; V4L2 has no separate still pipeline, so the preview
// stream is kept running while shots are taken.
type V4L2 struct {
	cfg    V4L2Config
	logger *slog.Logger

	mu        sync.Mutex
	dev       *device.Device
	params    Parameters
	listener  Listener
	cancel    context.CancelFunc
	frames    <-chan []byte
	streaming bool
	closed    bool

	wg sync.WaitGroup
}

// V4L2Opener returns an Opener for the configured capture node. The camera id is
// informational only; the node path selects the device.
func V4L2Opener(cfg V4L2Config, logger *slog.Logger) Opener {
	return OpenerFunc(func(ctx context.Context, id int) (Device, error) {
		return OpenV4L2(ctx, id, cfg, logger)
	})
}

// OpenV4L2 opens the capture node and reads the initial control values.
func OpenV4L2(ctx context.Context, id int, cfg V4L2Config, logger *slog.Logger) (*V4L2, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if cfg.FrameTimeout <= 0 {
		cfg.FrameTimeout = 2 * time.Second
	}
	dev, err := device.Open(
		cfg.Path,
		device.WithBufferSize(2),
		device.WithFPS(uint32(cfg.FPS)),
		device.WithPixFormat(v4l2.PixFormat{
			PixelFormat: v4l2.PixelFmtMJPEG,
			Width:       uint32(cfg.Width),
			Height:      uint32(cfg.Height),
			Field:       v4l2.FieldNone,
		}),
	)
	if err != nil {
		kind := HardwareUnavailable
		if errors.Is(err, fs.ErrPermission) {
			kind = Disabled
		}
		return nil, &DeviceError{Kind: kind, ID: id, Err: err}
	}

	v := &V4L2{cfg: cfg, logger: logger, dev: dev}
	v.params = v.readParameters()
	logger.Info("v4l2 camera opened", "path", cfg.Path, "size", v.params.Get(KeyPictureSize))
	return v, nil
}

func (v *V4L2) readParameters() Parameters {
	size := Size{Width: v.cfg.Width, Height: v.cfg.Height}
	p := NewParameters()
	p.Set(KeyPictureSize, size.String())
	p.Set(KeyPictureSizes, size.String())
	p.Set(KeyPreviewSize, size.String())
	p.Set(KeyPreviewSizes, size.String())
	p.Set(KeyPictureFormat, "jpeg")
	p.SetInt(KeyPreviewFrameRate, v.cfg.FPS)
	p.SetInt(KeyPreviewFrameRates, v.cfg.FPS)
	p.Set(KeySceneMode, SceneModeAuto)
	p.Set(KeySceneModes, SceneModeAuto)
	p.Set(KeySmoothZoomSupported, False)
	p.SetInt(KeyMaxFaces, 0)
	p.Set(KeyTemporalBracketing, TemporalBracketingDisable)
	p.SetInt(KeyBurst, 0)

	fd := v.dev.Fd()
	for key, id := range keyControls {
		ctrl, err := v4l2.GetControl(fd, id)
		if err != nil {
			continue
		}
		p.SetInt(key, int(ctrl.Value))
		if key == KeyZoom {
			p.Set(KeyZoomSupported, True)
			p.SetInt(KeyMaxZoom, int(ctrl.Maximum))
		}
	}
	if _, ok := p[KeyZoomSupported]; !ok {
		p.Set(KeyZoomSupported, False)
		p.SetInt(KeyMaxZoom, 0)
	}
	if _, err := v4l2.GetControl(fd, ctrlFocusAuto); err == nil {
		p.Set(KeyFocusModes, "auto,continuous-picture")
		p.Set(KeyFocusMode, "auto")
	} else {
		p.Set(KeyFocusModes, "fixed")
		p.Set(KeyFocusMode, "fixed")
	}
	return p
}

func (v *V4L2) Parameters() (Parameters, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return nil, ErrClosed
	}
	return v.params.Clone(), nil
}

// SetParameters pushes every changed key that maps onto a V4L2 control; the other
// keys are kept in the cached view so shot bookkeeping (burst, bracketing) works.
func (v *V4L2) SetParameters(p Parameters) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrClosed
	}
	var errs []error
	for key, value := range v.params.Diff(p) {
		id, ok := keyControls[key]
		if !ok || value == "" {
			continue
		}
		n := p.GetInt(key, 0)
		if err := v.dev.SetControlValue(id, v4l2.CtrlValue(n)); err != nil {
			errs = append(errs, fmt.Errorf("%s=%d: %w", key, n, err))
		}
	}
	v.params = p.Clone()
	return errors.Join(errs...)
}

func (v *V4L2) StartPreview() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrClosed
	}
	if v.streaming {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := v.dev.Start(ctx); err != nil {
		cancel()
		return fmt.Errorf("start stream: %w", err)
	}
	v.cancel = cancel
	v.frames = v.dev.GetOutput()
	v.streaming = true
	return nil
}

func (v *V4L2) StopPreview() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.stopLocked()
}

func (v *V4L2) stopLocked() error {
	if !v.streaming {
		return nil
	}
	v.streaming = false
	v.cancel()
	v.cancel = nil
	v.frames = nil
	if err := v.dev.Stop(); err != nil {
		return fmt.Errorf("stop stream: %w", err)
	}
	return nil
}

func (v *V4L2) TakePicture() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrClosed
	}
	if !v.streaming {
		v.mu.Unlock()
		return errors.New("take picture: stream not running")
	}
	frames := v.frames
	shots := 1
	if v.params.Get(KeyTemporalBracketing) == TemporalBracketingEnable {
		shots = v.params.GetInt(KeyTemporalRangePositive, 0) + v.params.GetInt(KeyTemporalRangeNegative, 0) + 1
	} else if n := v.params.GetInt(KeyBurst, 0); n > 0 {
		shots = n
	}
	v.mu.Unlock()

	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		for i := 0; i < shots; i++ {
			data, err := v.nextFrame(frames)
			if err != nil {
				v.logger.Warn("v4l2 capture failed", "shot", i, "error", err)
				v.emit(DeviceFault{Code: ErrorUnknown})
				return
			}
			now := time.Now()
			v.emit(Shutter{At: now})
			v.emit(RawPicture{At: now})
			v.emit(JpegPicture{Data: data, At: time.Now()})
		}
	}()
	return nil
}

func (v *V4L2) nextFrame(frames <-chan []byte) ([]byte, error) {
	timer := time.NewTimer(v.cfg.FrameTimeout)
	defer timer.Stop()
	select {
	case frame, ok := <-frames:
		if !ok {
			return nil, errors.New("stream closed")
		}
		cp := make([]byte, len(frame))
		copy(cp, frame)
		return cp, nil
	case <-timer.C:
		return nil, errors.New("frame timeout")
	}
}

// AutoFocus triggers a one-shot focus when the camera exposes the control and
// reports success immediately; fixed-focus cameras are always in focus.
func (v *V4L2) AutoFocus() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return ErrClosed
	}
	if v.params.Get(KeyFocusMode) != "fixed" {
		if err := v.dev.SetControlValue(ctrlAutoFocusGo, 1); err != nil {
			v.mu.Unlock()
			return fmt.Errorf("autofocus start: %w", err)
		}
	}
	v.mu.Unlock()

	v.wg.Add(1)
	go func() {
		defer v.wg.Done()
		v.emit(AutoFocusDone{Focused: true, At: time.Now()})
	}()
	return nil
}

func (v *V4L2) CancelAutoFocus() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return ErrClosed
	}
	if v.params.Get(KeyFocusMode) == "fixed" {
		return nil
	}
	if err := v.dev.SetControlValue(ctrlAutoFocusEnd, 1); err != nil {
		return fmt.Errorf("autofocus stop: %w", err)
	}
	return nil
}

func (v *V4L2) StartSmoothZoom(int) error {
	return fmt.Errorf("smooth zoom: %w", ErrNotSupported)
}

func (v *V4L2) StopSmoothZoom() error {
	return nil
}

func (v *V4L2) StartFaceDetection() error {
	return fmt.Errorf("face detection: %w", ErrNotSupported)
}

func (v *V4L2) StopFaceDetection() error {
	return nil
}

func (v *V4L2) SetListener(l Listener) {
	v.mu.Lock()
	v.listener = l
	v.mu.Unlock()
}

func (v *V4L2) Close() error {
	v.mu.Lock()
	if v.closed {
		v.mu.Unlock()
		return nil
	}
	v.closed = true
	stopErr := v.stopLocked()
	v.mu.Unlock()
	v.wg.Wait()
	if err := v.dev.Close(); err != nil {
		return fmt.Errorf("close device: %w", err)
	}
	return stopErr
}

func (v *V4L2) emit(cb Callback) {
	v.mu.Lock()
	l := v.listener
	if v.closed {
		l = nil
	}
	v.mu.Unlock()
	if l != nil {
		l(cb)
	}
}
