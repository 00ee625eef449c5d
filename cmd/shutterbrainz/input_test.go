package main

import (
	"reflect"
	"testing"

	"shutterbrainz/internal/session"
)

func key(code uint16, value int32) inputEvent {
	return inputEvent{Type: EV_KEY, Code: code, Value: value}
}

func TestKeyTranslator(t *testing.T) {
	tests := []struct {
		name string
		in   []inputEvent
		want []session.Event
	}{
		{
			name: "half press then release",
			in:   []inputEvent{key(KEY_CAMERA_FOCUS, evValuePress), key(KEY_CAMERA_FOCUS, evValueRelease)},
			want: []session.Event{session.ShutterFocus{Pressed: true}, session.ShutterFocus{Pressed: false}},
		},
		{
			name: "full press clicks on release",
			in: []inputEvent{
				key(KEY_CAMERA_FOCUS, evValuePress),
				key(KEY_CAMERA, evValuePress),
				key(KEY_CAMERA, evValueRelease),
				key(KEY_CAMERA_FOCUS, evValueRelease),
			},
			want: []session.Event{
				session.ShutterFocus{Pressed: true},
				session.ShutterClick{},
				session.ShutterFocus{Pressed: false},
			},
		},
		{
			name: "held shutter long presses once without click",
			in: []inputEvent{
				key(KEY_CAMERA, evValuePress),
				key(KEY_CAMERA, evValueRepeat),
				key(KEY_CAMERA, evValueRepeat),
				key(KEY_CAMERA, evValueRelease),
			},
			want: []session.Event{session.ShutterLongPress{}},
		},
		{
			name: "release without press is ignored",
			in:   []inputEvent{key(KEY_CAMERA, evValueRelease)},
			want: nil,
		},
		{
			name: "zoom in repeats then stops",
			in:   []inputEvent{key(KEY_ZOOMIN, evValuePress), key(KEY_ZOOMIN, evValueRepeat), key(KEY_ZOOMIN, evValueRelease)},
			want: []session.Event{session.ZoomStep{Steps: 1}, session.ZoomStep{Steps: 1}, session.ZoomStop{}},
		},
		{
			name: "zoom out and reset",
			in:   []inputEvent{key(KEY_ZOOMOUT, evValuePress), key(KEY_ZOOMRESET, evValuePress), key(KEY_ZOOMRESET, evValueRelease)},
			want: []session.Event{session.ZoomStep{Steps: -1}, session.ZoomTo{Value: 0}},
		},
		{
			name: "escape cancels focus",
			in:   []inputEvent{key(KEY_ESC, evValuePress), key(KEY_ESC, evValueRelease)},
			want: []session.Event{session.CancelFocus{}},
		},
		{
			name: "non key events are ignored",
			in:   []inputEvent{{Type: 0x02, Code: KEY_CAMERA, Value: evValuePress}, key(113, evValuePress)},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var k keyTranslator
			var got []session.Event
			for _, ev := range tt.in {
				got = append(got, k.translate(ev)...)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}
