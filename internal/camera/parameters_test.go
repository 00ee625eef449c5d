package camera

import (
	"errors"
	"fmt"
	"testing"
)

func TestParameters_TypedAccessors(t *testing.T) {
	p := NewParameters()
	p.SetInt(KeyZoom, 7)
	p.Set(KeyZoomSupported, True)
	p.Set(KeyJpegQuality, "not-a-number")

	if got := p.GetInt(KeyZoom, -1); got != 7 {
		t.Fatalf("GetInt(zoom) = %d, want 7", got)
	}
	if got := p.GetInt(KeyJpegQuality, 95); got != 95 {
		t.Fatalf("malformed int should fall back to default, got %d", got)
	}
	if got := p.GetInt(KeyMaxZoom, 3); got != 3 {
		t.Fatalf("missing int should fall back to default, got %d", got)
	}
	if !p.GetBool(KeyZoomSupported) {
		t.Fatalf("expected zoom-supported true")
	}

	p.Remove(KeyZoom)
	if _, ok := p[KeyZoom]; ok {
		t.Fatalf("Remove left key behind")
	}

	var nilParams Parameters
	if nilParams.Get(KeyZoom) != "" || nilParams.GetInt(KeyZoom, 4) != 4 {
		t.Fatalf("nil Parameters should read as empty")
	}
}

func TestParameters_CloneIsIndependent(t *testing.T) {
	p := NewParameters()
	p.Set(KeySceneMode, "night")

	c := p.Clone()
	c.Set(KeySceneMode, "auto")

	if p.Get(KeySceneMode) != "night" {
		t.Fatalf("mutating clone changed original: %q", p.Get(KeySceneMode))
	}

	var nilParams Parameters
	if nilParams.Clone() == nil {
		t.Fatalf("Clone of nil must be writable")
	}
}

func TestParameters_ValuesAndSupported(t *testing.T) {
	p := NewParameters()
	p.Set(KeyFlashModes, "off, auto,on,")

	vals := p.Values(KeyFlashModes)
	if len(vals) != 3 || vals[0] != "off" || vals[1] != "auto" || vals[2] != "on" {
		t.Fatalf("Values = %v", vals)
	}
	if !p.Supported(KeyFlashModes, "auto") {
		t.Fatalf("auto should be supported")
	}
	if p.Supported(KeyFlashModes, "torch") {
		t.Fatalf("torch should not be supported")
	}
	if p.Values(KeyFocusModes) != nil {
		t.Fatalf("missing list should be nil")
	}
}

func TestParameters_Diff(t *testing.T) {
	before := Parameters{"a": "1", "b": "2", "c": "3"}
	after := Parameters{"a": "1", "b": "20", "d": "4"}

	d := before.Diff(after)
	want := map[string]string{"b": "20", "c": "", "d": "4"}
	if len(d) != len(want) {
		t.Fatalf("Diff = %v, want %v", d, want)
	}
	for k, v := range want {
		if d[k] != v {
			t.Fatalf("Diff[%q] = %q, want %q", k, d[k], v)
		}
	}
}

func TestParameters_Flatten(t *testing.T) {
	p := Parameters{"zoom": "2", "effect": "none", "iso": "auto"}
	if got := p.Flatten(); got != "effect=none;iso=auto;zoom=2" {
		t.Fatalf("Flatten = %q", got)
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want Size
		ok   bool
	}{
		{"640x480", Size{640, 480}, true},
		{" 2048x1536 ", Size{2048, 1536}, true},
		{"640*480", Size{}, false},
		{"0x480", Size{}, false},
		{"axb", Size{}, false},
		{"", Size{}, false},
	}
	for _, tt := range tests {
		got, ok := ParseSize(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParseSize(%q) = %v,%v want %v,%v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
	if s := (Size{Width: 320, Height: 240}).String(); s != "320x240" {
		t.Fatalf("Size.String = %q", s)
	}
}

func TestDeviceError_Is(t *testing.T) {
	err := fmt.Errorf("startup: %w", &DeviceError{Kind: Disabled, ID: 0})
	if !errors.Is(err, ErrCameraDisabled) {
		t.Fatalf("expected ErrCameraDisabled to match %v", err)
	}
	if errors.Is(err, ErrHardwareUnavailable) {
		t.Fatalf("disabled must not match hardware unavailable")
	}

	var de *DeviceError
	if !errors.As(err, &de) || de.Kind != Disabled {
		t.Fatalf("errors.As failed: %v", err)
	}

	inner := errors.New("busy")
	unavailable := &DeviceError{Kind: HardwareUnavailable, ID: 1, Err: inner}
	if !errors.Is(unavailable, ErrHardwareUnavailable) || !errors.Is(unavailable, inner) {
		t.Fatalf("expected both kind sentinel and wrapped error to match")
	}
}

func TestHardwareCallError_Unwrap(t *testing.T) {
	err := &HardwareCallError{Op: "startPreview", Critical: true, Err: ErrClosed}
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("expected wrapped ErrClosed")
	}
	if err.Error() != "camera startPreview: camera device closed" {
		t.Fatalf("Error() = %q", err.Error())
	}
}
