package camera

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"time"
)

// SimulatedConfig tunes the simulated device.
type SimulatedConfig struct {
	MaxZoom    int
	SmoothZoom bool
	MaxFaces   int

	PictureSize Size
	PreviewSize Size

	ShutterLatency   time.Duration
	JpegLatency      time.Duration
	FocusLatency     time.Duration
	ZoomStepInterval time.Duration

	// FocusFails makes every autofocus cycle report Focused=false.
	FocusFails bool
}

// DefaultSimulatedConfig returns a small, fast device suitable for tests and demos.
func DefaultSimulatedConfig() SimulatedConfig {
	return SimulatedConfig{
		MaxZoom:          10,
		SmoothZoom:       true,
		MaxFaces:         4,
		PictureSize:      Size{Width: 320, Height: 240},
		PreviewSize:      Size{Width: 160, Height: 120},
		ShutterLatency:   5 * time.Millisecond,
		JpegLatency:      10 * time.Millisecond,
		FocusLatency:     10 * time.Millisecond,
		ZoomStepInterval: 5 * time.Millisecond,
	}
}

// Simulated is an in-process Device whose callbacks are produced by goroutines,
// following the same ordering rules as real hardware: Shutter, RawPicture,
// Postview, JpegPicture per shot, one AutoFocusDone per AutoFocus call unless
// cancelled, and ZoomChanged ticks ending with Stopped=true.
type Simulated struct {
	cfg SimulatedConfig

	mu             sync.Mutex
	params         Parameters
	listener       Listener
	previewing     bool
	closed         bool
	faceDetecting  bool
	focusGen       uint64
	zoomStop       chan struct{}
	setParamsCalls int

	wg sync.WaitGroup
}

// NewSimulated creates a simulated device with its initial parameter set.
func NewSimulated(cfg SimulatedConfig) *Simulated {
	p := NewParameters()
	p.SetInt(KeyZoom, 0)
	p.SetInt(KeyMaxZoom, cfg.MaxZoom)
	p.Set(KeyZoomSupported, boolString(cfg.MaxZoom > 0))
	p.Set(KeySmoothZoomSupported, boolString(cfg.SmoothZoom))
	p.SetInt(KeyMaxFaces, cfg.MaxFaces)
	p.Set(KeyPreviewFrameRates, "15,24,30")
	p.Set(KeyPreviewFrameRate, "24")
	p.Set(KeyVideoStabilizationSup, True)
	p.Set(KeyVideoStabilization, False)
	p.Set(KeyRecordingHint, False)
	p.Set(KeySceneModes, "auto,night,portrait,landscape,sports")
	p.Set(KeySceneMode, SceneModeAuto)
	p.Set(KeyFlashModes, "off,auto,on")
	p.Set(KeyFlashMode, "auto")
	p.Set(KeyWhiteBalances, "auto,daylight,cloudy-daylight,incandescent,fluorescent")
	p.Set(KeyWhiteBalance, "auto")
	p.Set(KeyFocusModes, "auto,infinity,macro,continuous-picture")
	p.Set(KeyFocusMode, "auto")
	p.Set(KeyColorEffects, "none,mono,sepia,negative")
	p.Set(KeyColorEffect, "none")
	p.Set(KeyAntibanding, "auto")
	p.SetInt(KeyJpegQuality, 95)
	p.SetInt(KeyExposureCompensation, 0)
	p.SetInt(KeyMaxExposureComp, 6)
	p.SetInt(KeyMinExposureComp, -6)
	p.Set(KeyPictureSize, cfg.PictureSize.String())
	p.Set(KeyPictureSizes, cfg.PictureSize.String())
	p.Set(KeyPreviewSize, cfg.PreviewSize.String())
	p.Set(KeyPreviewSizes, cfg.PreviewSize.String())
	p.Set(KeyPictureFormat, "jpeg")
	p.SetInt(KeyRotation, 0)
	p.SetInt(KeySensorOrientation, 0)
	p.Set(KeyISO, "auto")
	p.Set(KeyISOModes, "auto,100,200,400,800")
	p.Set(KeyExposureMode, "auto")
	p.SetInt(KeyBurst, 0)
	p.Set(KeyTemporalBracketing, TemporalBracketingDisable)
	return &Simulated{cfg: cfg, params: p}
}

// SimulatedOpener returns an Opener producing fresh simulated devices.
// A non-nil openErr is returned from every Open call instead.
func SimulatedOpener(cfg SimulatedConfig, openErr error) Opener {
	return OpenerFunc(func(ctx context.Context, id int) (Device, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if openErr != nil {
			return nil, openErr
		}
		return NewSimulated(cfg), nil
	})
}

func boolString(b bool) string {
	if b {
		return True
	}
	return False
}

func (s *Simulated) Parameters() (Parameters, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}
	return s.params.Clone(), nil
}

func (s *Simulated) SetParameters(p Parameters) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.setParamsCalls++
	s.params = p.Clone()
	return nil
}

// SetParametersCalls reports how many times SetParameters succeeded.
func (s *Simulated) SetParametersCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setParamsCalls
}

func (s *Simulated) StartPreview() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.previewing = true
	return nil
}

func (s *Simulated) StopPreview() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.previewing = false
	s.faceDetecting = false
	return nil
}

// Previewing reports whether the preview is running.
func (s *Simulated) Previewing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.previewing
}

func (s *Simulated) TakePicture() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if !s.previewing {
		s.mu.Unlock()
		return errors.New("take picture: preview not running")
	}
	shots := 1
	if s.params.Get(KeyTemporalBracketing) == TemporalBracketingEnable {
		shots = s.params.GetInt(KeyTemporalRangePositive, 0) + s.params.GetInt(KeyTemporalRangeNegative, 0) + 1
	} else if n := s.params.GetInt(KeyBurst, 0); n > 0 {
		shots = n
	}
	size, ok := s.params.Size(KeyPictureSize)
	if !ok {
		size = s.cfg.PictureSize
	}
	s.previewing = false
	s.faceDetecting = false
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for i := 0; i < shots; i++ {
			time.Sleep(s.cfg.ShutterLatency)
			s.emit(Shutter{At: time.Now()})
			s.emit(RawPicture{At: time.Now()})
			s.emit(Postview{At: time.Now()})
			time.Sleep(s.cfg.JpegLatency)
			data, err := syntheticJPEG(size, i)
			if err != nil {
				s.emit(DeviceFault{Code: ErrorUnknown})
				continue
			}
			s.emit(JpegPicture{Data: data, At: time.Now()})
		}
	}()
	return nil
}

func (s *Simulated) AutoFocus() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if !s.previewing {
		s.mu.Unlock()
		return errors.New("autofocus: preview not running")
	}
	s.focusGen++
	gen := s.focusGen
	focused := !s.cfg.FocusFails
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		time.Sleep(s.cfg.FocusLatency)
		s.mu.Lock()
		current := s.focusGen == gen && !s.closed
		s.mu.Unlock()
		if current {
			s.emit(AutoFocusDone{Focused: focused, At: time.Now()})
		}
	}()
	return nil
}

func (s *Simulated) CancelAutoFocus() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.focusGen++
	return nil
}

func (s *Simulated) StartSmoothZoom(value int) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if !s.cfg.SmoothZoom {
		s.mu.Unlock()
		return fmt.Errorf("smooth zoom: %w", ErrNotSupported)
	}
	if value < 0 || value > s.cfg.MaxZoom {
		s.mu.Unlock()
		return fmt.Errorf("smooth zoom: value %d out of range [0,%d]", value, s.cfg.MaxZoom)
	}
	if s.zoomStop != nil {
		s.mu.Unlock()
		return errors.New("smooth zoom already running")
	}
	stop := make(chan struct{})
	s.zoomStop = stop
	current := s.params.GetInt(KeyZoom, 0)
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.cfg.ZoomStepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				s.finishZoom(stop, current)
				return
			case <-ticker.C:
			}
			switch {
			case current < value:
				current++
			case current > value:
				current--
			}
			if current == value {
				s.finishZoom(stop, current)
				return
			}
			s.mu.Lock()
			s.params.SetInt(KeyZoom, current)
			s.mu.Unlock()
			s.emit(ZoomChanged{Value: current})
		}
	}()
	return nil
}

func (s *Simulated) finishZoom(stop chan struct{}, value int) {
	s.mu.Lock()
	if s.zoomStop == stop {
		s.zoomStop = nil
	}
	s.params.SetInt(KeyZoom, value)
	s.mu.Unlock()
	s.emit(ZoomChanged{Value: value, Stopped: true})
}

func (s *Simulated) StopSmoothZoom() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if s.zoomStop != nil {
		select {
		case <-s.zoomStop:
		default:
			close(s.zoomStop)
		}
	}
	return nil
}

func (s *Simulated) StartFaceDetection() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.cfg.MaxFaces == 0 {
		s.mu.Unlock()
		return fmt.Errorf("face detection: %w", ErrNotSupported)
	}
	if s.faceDetecting {
		s.mu.Unlock()
		return errors.New("face detection already running")
	}
	s.faceDetecting = true
	s.mu.Unlock()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.emit(FacesDetected{})
	}()
	return nil
}

func (s *Simulated) StopFaceDetection() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.faceDetecting = false
	return nil
}

// InjectFault delivers a DeviceFault callback as the hardware would.
func (s *Simulated) InjectFault(code int) {
	s.emit(DeviceFault{Code: code})
}

func (s *Simulated) SetListener(l Listener) {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
}

// Close stops callback production and waits for in-flight callback goroutines.
func (s *Simulated) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.previewing = false
	if s.zoomStop != nil {
		select {
		case <-s.zoomStop:
		default:
			close(s.zoomStop)
		}
	}
	s.mu.Unlock()
	s.wg.Wait()
	return nil
}

// emit delivers cb to the listener. Callbacks produced after Close are dropped.
func (s *Simulated) emit(cb Callback) {
	s.mu.Lock()
	l := s.listener
	if s.closed {
		l = nil
	}
	s.mu.Unlock()
	if l != nil {
		l(cb)
	}
}

func syntheticJPEG(size Size, shot int) ([]byte, error) {
	img := image.NewRGBA(image.Rect(0, 0, size.Width, size.Height))
	for y := 0; y < size.Height; y++ {
		for x := 0; x < size.Width; x++ {
			img.Set(x, y, color.RGBA{
				R: uint8(x * 255 / size.Width),
				G: uint8(y * 255 / size.Height),
				B: uint8(shot * 40),
				A: 0xff,
			})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
