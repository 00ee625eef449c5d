package params

import (
	"fmt"
	"maps"
	"strconv"

	"shutterbrainz/internal/burst"
	"shutterbrainz/internal/camera"
)

// Device is the part of camera.Device a plan needs.
type Device interface {
	Parameters() (camera.Parameters, error)
	SetParameters(camera.Parameters) error
}

// Plan is a snapshot of the work a flush has to do.
type Plan struct {
	Mask  Category
	Prefs map[string]string
	Zoom  int
}

// Result describes an applied plan.
type Result struct {
	// Params is the configuration that was pushed to the device.
	Params camera.Parameters
	// Restart is set when the preview must be restarted for the change to take
	// effect (preview size, frame rate or capture mode changed).
	Restart bool
	// SceneChanged is set when the scene mode was pushed (and the device re-read).
	SceneChanged bool
	// Overrides are preference values the device currently forces.
	Overrides map[string]string
	// PrefResets are preferences a non-auto scene mode reset to defaults; the
	// caller persists them.
	PrefResets map[string]string
	// Sequence is the multi-shot mode selected by the capture mode preference.
	Sequence      burst.Mode
	SequenceCount int
}

// previewKeys are the device keys whose change requires a preview restart.
var previewKeys = []string{
	camera.KeyPreviewSize,
	camera.KeyPreviewFrameRate,
	camera.KeyPreviewFpsRange,
	camera.KeyMode,
}

// Apply re-reads the device configuration, applies the planned categories and
// pushes the result.
func (p Plan) Apply(dev Device) (Result, error) {
	cur, err := dev.Parameters()
	if err != nil {
		return Result{}, fmt.Errorf("read parameters: %w", err)
	}
	before := make(map[string]string, len(previewKeys))
	for _, k := range previewKeys {
		before[k] = cur.Get(k)
	}

	res := Result{}
	if p.Mask&Initialize != 0 {
		applyInitialize(cur)
	}
	if p.Mask&Zoom != 0 && cur.GetBool(camera.KeyZoomSupported) {
		cur.SetInt(camera.KeyZoom, p.Zoom)
	}
	switch {
	case p.Mask&Preference != 0:
		cur, err = p.applyPreference(dev, cur, &res)
		if err != nil {
			return Result{}, err
		}
	case p.Mask&Mode != 0:
		p.applyCaptureMode(cur)
	}

	if err := dev.SetParameters(cur); err != nil {
		return Result{}, fmt.Errorf("push parameters: %w", err)
	}

	for _, k := range previewKeys {
		if before[k] != cur.Get(k) {
			res.Restart = true
			break
		}
	}
	res.Params = cur
	res.Overrides = Overrides(cur, p.Prefs[PrefCaptureMode])
	res.Sequence, res.SequenceCount = p.Sequence()
	return res, nil
}

func applyInitialize(cur camera.Parameters) {
	best := -1
	for _, v := range cur.Values(camera.KeyPreviewFrameRates) {
		if n, err := strconv.Atoi(v); err == nil && n > best {
			best = n
		}
	}
	if best > 0 {
		cur.SetInt(camera.KeyPreviewFrameRate, best)
	}
	cur.Set(camera.KeyRecordingHint, camera.False)
	if cur.GetBool(camera.KeyVideoStabilizationSup) {
		cur.Set(camera.KeyVideoStabilization, camera.False)
	}
}

// setIfSupported writes value under key when listKey is absent or lists it.
func setIfSupported(cur camera.Parameters, key, listKey, value string) bool {
	if value == "" {
		return false
	}
	if _, ok := cur[listKey]; ok && !cur.Supported(listKey, value) {
		return false
	}
	cur.Set(key, value)
	return true
}

func setInt(cur camera.Parameters, key, value string) {
	if n, err := strconv.Atoi(value); err == nil {
		cur.SetInt(key, n)
	}
}

func (p Plan) pref(key string) string {
	if v, ok := p.Prefs[key]; ok {
		return v
	}
	return Defaults[key]
}

func (p Plan) applyPreference(dev Device, cur camera.Parameters, res *Result) (camera.Parameters, error) {
	setIfSupported(cur, camera.KeyColorEffect, camera.KeyColorEffects, p.pref(PrefColorEffect))
	setIfSupported(cur, camera.KeyISO, camera.KeyISOModes, p.pref(PrefISO))
	setInt(cur, camera.KeyContrast, p.pref(PrefContrast))
	setInt(cur, camera.KeyBrightness, p.pref(PrefBrightness))
	setInt(cur, camera.KeySaturation, p.pref(PrefSaturation))
	setInt(cur, camera.KeySharpness, p.pref(PrefSharpness))
	if v := p.pref(PrefAntibanding); v != "" {
		cur.Set(camera.KeyAntibanding, v)
	}

	if fr := p.pref(PrefPreviewFramerate); fr != "" {
		if n, err := strconv.Atoi(fr); err == nil && n > 0 {
			cur.SetInt(camera.KeyPreviewFrameRate, n)
			cur.Set(camera.KeyPreviewFpsRange, fmt.Sprintf("%d,%d", n*1000, n*1000))
		}
	}
	if _, ok := camera.ParseSize(p.pref(PrefPictureSize)); ok {
		setIfSupported(cur, camera.KeyPictureSize, camera.KeyPictureSizes, p.pref(PrefPictureSize))
	}
	if _, ok := camera.ParseSize(p.pref(PrefPreviewSize)); ok {
		setIfSupported(cur, camera.KeyPreviewSize, camera.KeyPreviewSizes, p.pref(PrefPreviewSize))
	}

	if mode := p.pref(PrefExposureMode); mode != "" && mode != cur.Get(camera.KeyExposureMode) {
		cur.Set(camera.KeyExposureMode, mode)
		if mode != "manual" {
			cur.SetInt(camera.KeyManualExposure, 0)
			cur.SetInt(camera.KeyManualGainISO, 0)
		}
	}

	// Scene mode first: the driver may change flash, white balance and focus
	// when it is set, so push it and read the result back.
	scene := p.pref(PrefSceneMode)
	if cur.Supported(camera.KeySceneModes, scene) {
		if cur.Get(camera.KeySceneMode) != scene {
			cur.Set(camera.KeySceneMode, scene)
			if err := dev.SetParameters(cur); err != nil {
				return nil, fmt.Errorf("push scene mode %q: %w", scene, err)
			}
			next, err := dev.Parameters()
			if err != nil {
				return nil, fmt.Errorf("read back scene mode %q: %w", scene, err)
			}
			cur = next
			res.SceneChanged = true
		}
	} else {
		scene = cur.Get(camera.KeySceneMode)
		if scene == "" {
			scene = camera.SceneModeAuto
		}
	}

	setInt(cur, camera.KeyJpegQuality, p.pref(PrefJpegQuality))

	if scene == camera.SceneModeAuto {
		setIfSupported(cur, camera.KeyFlashMode, camera.KeyFlashModes, p.pref(PrefFlashMode))
		setIfSupported(cur, camera.KeyWhiteBalance, camera.KeyWhiteBalances, p.pref(PrefWhiteBalance))
		setIfSupported(cur, camera.KeyFocusMode, camera.KeyFocusModes, p.pref(PrefFocusMode))
	} else {
		res.PrefResets = map[string]string{
			PrefExposureCompensation: Defaults[PrefExposureCompensation],
			PrefColorEffect:          Defaults[PrefColorEffect],
			PrefISO:                  Defaults[PrefISO],
			PrefExposureMode:         Defaults[PrefExposureMode],
			PrefContrast:             Defaults[PrefContrast],
			PrefBrightness:           Defaults[PrefBrightness],
			PrefAntibanding:          Defaults[PrefAntibanding],
		}
		cur.Set(camera.KeyColorEffect, Defaults[PrefColorEffect])
		cur.Set(camera.KeyISO, Defaults[PrefISO])
		cur.Set(camera.KeyExposureMode, Defaults[PrefExposureMode])
		setInt(cur, camera.KeyContrast, Defaults[PrefContrast])
		setInt(cur, camera.KeyBrightness, Defaults[PrefBrightness])
		cur.Set(camera.KeyAntibanding, Defaults[PrefAntibanding])
	}

	comp := Defaults[PrefExposureCompensation]
	if scene == camera.SceneModeAuto {
		comp = p.pref(PrefExposureCompensation)
	}
	if n, err := strconv.Atoi(comp); err == nil {
		lo := cur.GetInt(camera.KeyMinExposureComp, 0)
		hi := cur.GetInt(camera.KeyMaxExposureComp, 0)
		if n >= lo && n <= hi {
			cur.SetInt(camera.KeyExposureCompensation, n)
		}
	}

	switch p.pref(PrefGBCE) {
	case GLBCEOn:
		cur.Set(camera.KeyGBCE, camera.False)
		cur.Set(camera.KeyGLBCE, camera.True)
	case GBCEOn:
		cur.Set(camera.KeyGBCE, camera.True)
		cur.Set(camera.KeyGLBCE, camera.False)
	default:
		cur.Set(camera.KeyGBCE, camera.False)
		cur.Set(camera.KeyGLBCE, camera.False)
	}

	if v := p.pref(PrefPictureFormat); v != "" {
		cur.Set(camera.KeyPictureFormat, v)
	}

	p.applyCaptureMode(cur)
	return cur, nil
}

// applyCaptureMode programs mode, image pipeline and multi-shot keys.
func (p Plan) applyCaptureMode(cur camera.Parameters) {
	mode := p.pref(PrefCaptureMode)
	switch mode {
	case ModeHighPerformance, ModeHighQualityZSL:
		cur.Set(camera.KeyMode, mode)
		cur.Set(camera.KeyIPP, ippNone)
		cur.Remove(camera.KeyExpBracketingRange)
		cur.Set(camera.KeyTemporalBracketing, camera.TemporalBracketingDisable)
	case ModeTemporalBracketing:
		cur.Set(camera.KeyMode, ModeHighPerformance)
		cur.Set(camera.KeyIPP, ippNone)
		cur.Set(camera.KeyGBCE, camera.False)
		cur.Remove(camera.KeyExpBracketingRange)
		if r, err := strconv.Atoi(p.pref(PrefBracketRange)); err == nil {
			cur.SetInt(camera.KeyTemporalRangePositive, r)
			cur.SetInt(camera.KeyTemporalRangeNegative, r)
		}
	case ModeExposureBracketing:
		cur.Set(camera.KeyMode, ModeExposureBracketing)
		cur.Set(camera.KeyGBCE, camera.False)
		cur.Set(camera.KeyIPP, ippNone)
		cur.SetInt(camera.KeyBurst, burst.ExposureBracketShots)
		cur.Set(camera.KeyExpBracketingRange, ExposureBracketingRange)
		cur.Set(camera.KeyTemporalBracketing, camera.TemporalBracketingDisable)
	default:
		cur.Set(camera.KeyMode, ModeHighQuality)
		cur.Set(camera.KeyIPP, ippLDC)
		cur.Remove(camera.KeyExpBracketingRange)
		cur.Set(camera.KeyTemporalBracketing, camera.TemporalBracketingDisable)
	}

	if mode == ModeHighPerformance {
		if n, err := strconv.Atoi(p.pref(PrefBurst)); err == nil && n >= 0 && n != cur.GetInt(camera.KeyBurst, 0) {
			cur.SetInt(camera.KeyBurst, n)
		}
	} else if mode != ModeExposureBracketing {
		cur.SetInt(camera.KeyBurst, 0)
	}
}

// Sequence returns the multi-shot mode and its parameter for the planned
// capture mode (see burst.Sequencer.Configure).
func (p Plan) Sequence() (burst.Mode, int) {
	switch p.pref(PrefCaptureMode) {
	case ModeTemporalBracketing:
		r, _ := strconv.Atoi(p.pref(PrefBracketRange))
		return burst.TemporalBracket, r
	case ModeExposureBracketing:
		return burst.ExposureBracket, burst.ExposureBracketShots
	case ModeHighPerformance:
		if n, err := strconv.Atoi(p.pref(PrefBurst)); err == nil && n > 0 {
			return burst.Burst, n
		}
	}
	return burst.None, 0
}

// Overrides lists the preferences the device forces given its configuration:
// a non-auto scene mode pins flash, white balance, focus and exposure
// compensation; GBCE is only selectable in high-quality mode and burst only in
// high-performance mode.
func Overrides(cur camera.Parameters, captureMode string) map[string]string {
	out := make(map[string]string)
	if scene := cur.Get(camera.KeySceneMode); scene != "" && scene != camera.SceneModeAuto {
		out[PrefFlashMode] = cur.Get(camera.KeyFlashMode)
		out[PrefWhiteBalance] = cur.Get(camera.KeyWhiteBalance)
		out[PrefFocusMode] = cur.Get(camera.KeyFocusMode)
		out[PrefExposureCompensation] = Defaults[PrefExposureCompensation]
	}
	if captureMode == "" {
		captureMode = Defaults[PrefCaptureMode]
	}
	if captureMode != ModeHighQuality {
		out[PrefGBCE] = GBCEOff
	}
	if captureMode != ModeHighPerformance {
		out[PrefBurst] = Defaults[PrefBurst]
	}
	return out
}

// SameOverrides reports whether two override sets are equal.
func SameOverrides(a, b map[string]string) bool {
	return maps.Equal(a, b)
}

// ApplyCaptureTags sets rotation and GPS keys for the next capture. GPS keys are
// removed when loc is nil.
func ApplyCaptureTags(cur camera.Parameters, rotation int, loc *camera.Location) {
	cur.SetInt(camera.KeyRotation, rotation)
	gps := []string{camera.KeyGPSLatitude, camera.KeyGPSLongitude, camera.KeyGPSAltitude, camera.KeyGPSTimestamp}
	if loc == nil {
		for _, k := range gps {
			cur.Remove(k)
		}
		return
	}
	cur.Set(camera.KeyGPSLatitude, strconv.FormatFloat(loc.Latitude, 'f', -1, 64))
	cur.Set(camera.KeyGPSLongitude, strconv.FormatFloat(loc.Longitude, 'f', -1, 64))
	cur.Set(camera.KeyGPSAltitude, strconv.FormatFloat(loc.Altitude, 'f', -1, 64))
	cur.Set(camera.KeyGPSTimestamp, strconv.FormatInt(loc.Time.Unix(), 10))
}

// ApplyManualExposure writes manual exposure and gain; exposure is at least 1.
func ApplyManualExposure(cur camera.Parameters, exposure, iso int) {
	cur.SetInt(camera.KeyManualExposure, max(exposure, 1))
	cur.SetInt(camera.KeyManualGainISO, iso)
}

// ResetBurst clears the device burst count.
func ResetBurst(cur camera.Parameters) {
	cur.SetInt(camera.KeyBurst, 0)
}

// RearmExposureBracket programs the next 3-shot exposure bracket.
func RearmExposureBracket(cur camera.Parameters, shots int) {
	cur.SetInt(camera.KeyBurst, shots)
	cur.Set(camera.KeyExpBracketingRange, ExposureBracketingRange)
}

// SetTemporalBracketing enables or disables temporal bracketing on the device.
func SetTemporalBracketing(cur camera.Parameters, enable bool) {
	if enable {
		cur.Set(camera.KeyTemporalBracketing, camera.TemporalBracketingEnable)
		return
	}
	cur.Set(camera.KeyTemporalBracketing, camera.TemporalBracketingDisable)
}

// PreviewWidth returns the configured preview width, 0 when unknown.
func PreviewWidth(cur camera.Parameters) int {
	s, _ := cur.Size(camera.KeyPreviewSize)
	return s.Width
}
