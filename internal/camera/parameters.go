package camera

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Device parameter keys.
const (
	KeyZoom                  = "zoom"
	KeyMaxZoom               = "max-zoom"
	KeyZoomSupported         = "zoom-supported"
	KeySmoothZoomSupported   = "smooth-zoom-supported"
	KeyMaxFaces              = "max-num-detected-faces-hw"
	KeyPreviewFrameRate      = "preview-frame-rate"
	KeyPreviewFrameRates     = "preview-frame-rate-values"
	KeyPreviewFpsRange       = "preview-fps-range"
	KeyRecordingHint         = "recording-hint"
	KeyVideoStabilization    = "video-stabilization"
	KeyVideoStabilizationSup = "video-stabilization-supported"

	KeySceneMode     = "scene-mode"
	KeySceneModes    = "scene-mode-values"
	KeyFlashMode     = "flash-mode"
	KeyFlashModes    = "flash-mode-values"
	KeyWhiteBalance  = "whitebalance"
	KeyWhiteBalances = "whitebalance-values"
	KeyFocusMode     = "focus-mode"
	KeyFocusModes    = "focus-mode-values"
	KeyColorEffect   = "effect"
	KeyColorEffects  = "effect-values"
	KeyAntibanding   = "antibanding"

	KeyJpegQuality          = "jpeg-quality"
	KeyExposureCompensation = "exposure-compensation"
	KeyMaxExposureComp      = "max-exposure-compensation"
	KeyMinExposureComp      = "min-exposure-compensation"

	KeyPictureSize   = "picture-size"
	KeyPictureSizes  = "picture-size-values"
	KeyPreviewSize   = "preview-size"
	KeyPreviewSizes  = "preview-size-values"
	KeyPictureFormat = "picture-format"

	KeyRotation     = "rotation"
	KeyGPSLatitude  = "gps-latitude"
	KeyGPSLongitude = "gps-longitude"
	KeyGPSAltitude  = "gps-altitude"
	KeyGPSTimestamp = "gps-timestamp"

	KeySensorOrientation = "sensor-orientation"
	KeyISO               = "iso"
	KeyISOModes          = "iso-mode-values"
	KeyExposureMode      = "exposure"
	KeyContrast          = "contrast"
	KeyBrightness        = "brightness"
	KeySaturation        = "saturation"
	KeySharpness         = "sharpness"
	KeyGBCE              = "gbce"
	KeyGLBCE             = "glbce"
	KeyIPP               = "ipp"
	KeyMode              = "mode"
	KeyManualExposure    = "manual-exposure"
	KeyManualGainISO     = "manual-gain-iso"

	KeyBurst                  = "burst-capture"
	KeyExpBracketingRange     = "exp-bracketing-range"
	KeyTemporalBracketing     = "temporal-bracketing"
	KeyTemporalRangePositive  = "temporal-bracketing-range-positive"
	KeyTemporalRangeNegative  = "temporal-bracketing-range-negative"
	TemporalBracketingEnable  = "enable"
	TemporalBracketingDisable = "disable"
)

// Scene and boolean values shared between the store and the devices.
const (
	SceneModeAuto = "auto"
	True          = "true"
	False         = "false"
)

// Parameters is a flat key/value view of the device configuration.
//
// The zero value is a nil map: read methods work on it, Set panics. Use
// NewParameters or Clone to obtain a writable value.
type Parameters map[string]string

// NewParameters returns an empty writable parameter set.
func NewParameters() Parameters {
	return make(Parameters)
}

// Get returns the value for key or "" when unset.
func (p Parameters) Get(key string) string {
	return p[key]
}

// GetInt parses key as an integer, returning def when unset or malformed.
func (p Parameters) GetInt(key string, def int) int {
	v, ok := p[key]
	if !ok {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

// GetBool reports whether key is "true".
func (p Parameters) GetBool(key string) bool {
	return p[key] == True
}

func (p Parameters) Set(key, value string) {
	p[key] = value
}

func (p Parameters) SetInt(key string, value int) {
	p[key] = strconv.Itoa(value)
}

func (p Parameters) Remove(key string) {
	delete(p, key)
}

// Clone returns an independent copy (never nil).
func (p Parameters) Clone() Parameters {
	out := make(Parameters, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Values splits a comma-separated list value ("a,b,c").
func (p Parameters) Values(key string) []string {
	v := p[key]
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, s := range parts {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Supported reports whether value appears in the comma-separated list under listKey.
func (p Parameters) Supported(listKey, value string) bool {
	for _, v := range p.Values(listKey) {
		if v == value {
			return true
		}
	}
	return false
}

// Size parses a "WxH" value.
func (p Parameters) Size(key string) (Size, bool) {
	return ParseSize(p[key])
}

// Diff returns the keys whose value in next differs from p (including keys only in
// next). Keys removed in next are reported with an empty value.
func (p Parameters) Diff(next Parameters) map[string]string {
	out := make(map[string]string)
	for k, v := range next {
		if old, ok := p[k]; !ok || old != v {
			out[k] = v
		}
	}
	for k := range p {
		if _, ok := next[k]; !ok {
			out[k] = ""
		}
	}
	return out
}

// Flatten renders the parameters as "k1=v1;k2=v2" with keys sorted.
func (p Parameters) Flatten() string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(';')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(p[k])
	}
	return b.String()
}

// ParseSize parses "WxH".
func ParseSize(s string) (Size, bool) {
	w, h, ok := strings.Cut(strings.TrimSpace(s), "x")
	if !ok {
		return Size{}, false
	}
	wi, err := strconv.Atoi(w)
	if err != nil || wi <= 0 {
		return Size{}, false
	}
	hi, err := strconv.Atoi(h)
	if err != nil || hi <= 0 {
		return Size{}, false
	}
	return Size{Width: wi, Height: hi}, true
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}
