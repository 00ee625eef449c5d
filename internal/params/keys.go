package params

// Preference keys, as stored in the preference file and sent over IPC.
const (
	PrefSceneMode            = "scene_mode"
	PrefFlashMode            = "flash_mode"
	PrefWhiteBalance         = "white_balance"
	PrefFocusMode            = "focus_mode"
	PrefColorEffect          = "color_effect"
	PrefISO                  = "iso"
	PrefContrast             = "contrast"
	PrefBrightness           = "brightness"
	PrefSaturation           = "saturation"
	PrefSharpness            = "sharpness"
	PrefAntibanding          = "antibanding"
	PrefExposureMode         = "exposure_mode"
	PrefExposureCompensation = "exposure_compensation"
	PrefJpegQuality          = "jpeg_quality"
	PrefGBCE                 = "gbce"
	PrefPictureFormat        = "picture_format"
	PrefPictureSize          = "picture_size"
	PrefPreviewSize          = "preview_size"
	PrefPreviewFramerate     = "preview_framerate"
	PrefCaptureMode          = "capture_mode"
	PrefBracketRange         = "bracket_range"
	PrefBurst                = "burst"
	PrefRecordLocation       = "record_location"
	PrefTapPromptShown       = "tap_to_focus_prompt_shown"
)

// Capture modes (PrefCaptureMode values).
const (
	ModeHighPerformance    = "high-performance"
	ModeHighQuality        = "high-quality"
	ModeHighQualityZSL     = "high-quality-zsl"
	ModeExposureBracketing = "exposure-bracketing"
	ModeTemporalBracketing = "temporal-bracketing"
)

// GBCE preference values.
const (
	GBCEOff = "off"
	GBCEOn  = "gbce"
	GLBCEOn = "glbce"
	ippLDC  = "ldc-nsf"
	ippNone = "off"
)

// ExposureBracketingRange is the exposure bracket programmed with a 3-shot burst.
const ExposureBracketingRange = "-30,0,30"

// Defaults holds the value every preference takes when unset or restored.
// Sizes and frame rate default to empty, meaning "keep the device's choice".
var Defaults = map[string]string{
	PrefSceneMode:            "auto",
	PrefFlashMode:            "auto",
	PrefWhiteBalance:         "auto",
	PrefFocusMode:            "auto",
	PrefColorEffect:          "none",
	PrefISO:                  "auto",
	PrefContrast:             "100",
	PrefBrightness:           "50",
	PrefSaturation:           "100",
	PrefSharpness:            "100",
	PrefAntibanding:          "auto",
	PrefExposureMode:         "auto",
	PrefExposureCompensation: "0",
	PrefJpegQuality:          "95",
	PrefGBCE:                 GBCEOff,
	PrefPictureFormat:        "jpeg",
	PrefPictureSize:          "",
	PrefPreviewSize:          "",
	PrefPreviewFramerate:     "",
	PrefCaptureMode:          ModeHighQuality,
	PrefBracketRange:         "1",
	PrefBurst:                "0",
	PrefRecordLocation:       "false",
}

// preserved survive a preference restore.
var preserved = []string{PrefTapPromptShown, PrefRecordLocation}

// IsKnown reports whether key is a camera preference understood by the store.
func IsKnown(key string) bool {
	if key == PrefTapPromptShown {
		return true
	}
	_, ok := Defaults[key]
	return ok
}
