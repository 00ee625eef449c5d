package main

import (
	"bytes"
	"encoding/binary"
	"io"
	"os"

	"shutterbrainz/internal/session"
)

// inputEvent represents a Linux input event structure
// struct input_event { struct timeval time; __u16 type; __u16 code; __s32 value; };
type inputEvent struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

// readInputEvents reads input events from a single device and sends them to a channel.
// This runs in a dedicated goroutine and blocks on read operations.
func readInputEvents(f *os.File, events chan<- inputEvent, readErr chan<- error) {
	evSize := binary.Size(inputEvent{})
	buf := make([]byte, evSize)
	reader := bytes.NewReader(buf)

	for {
		if _, err := io.ReadFull(f, buf); err != nil {
			readErr <- err
			return
		}

		reader.Reset(buf)
		var ev inputEvent
		if err := binary.Read(reader, binary.LittleEndian, &ev); err != nil {
			// Skip malformed events
			continue
		}

		events <- ev
	}
}

// ============================================================================
// Key translation
// ============================================================================
//
// Camera keys follow the two-stage shutter convention:
//   - KEY_CAMERA_FOCUS press/release  -> shutter_focus (half press)
//   - KEY_CAMERA release               -> shutter_click
//   - KEY_CAMERA first autorepeat      -> shutter_long_press (no click on release)
//   - KEY_ZOOMIN / KEY_ZOOMOUT         -> zoom_step per press and repeat,
//                                         zoom_stop on release
//   - KEY_ZOOMRESET press              -> zoom_to 0
//   - KEY_ESC press                    -> cancel_focus
//
// ============================================================================

// keyTranslator turns raw key events into session actions. It is owned by the
// input loop goroutine.
type keyTranslator struct {
	shutterDown bool
	longPressed bool
}

// translate returns the actions for one input event; non-key events and
// unmapped codes produce none.
func (k *keyTranslator) translate(ev inputEvent) []session.Event {
	if ev.Type != EV_KEY {
		return nil
	}

	switch ev.Code {
	case KEY_CAMERA_FOCUS:
		switch ev.Value {
		case evValuePress:
			return []session.Event{session.ShutterFocus{Pressed: true}}
		case evValueRelease:
			return []session.Event{session.ShutterFocus{Pressed: false}}
		}

	case KEY_CAMERA:
		switch ev.Value {
		case evValuePress:
			k.shutterDown = true
			k.longPressed = false
		case evValueRepeat:
			if k.shutterDown && !k.longPressed {
				k.longPressed = true
				return []session.Event{session.ShutterLongPress{}}
			}
		case evValueRelease:
			wasDown, long := k.shutterDown, k.longPressed
			k.shutterDown, k.longPressed = false, false
			if wasDown && !long {
				return []session.Event{session.ShutterClick{}}
			}
		}

	case KEY_ZOOMIN, KEY_ZOOMOUT:
		steps := 1
		if ev.Code == KEY_ZOOMOUT {
			steps = -1
		}
		switch ev.Value {
		case evValuePress, evValueRepeat:
			return []session.Event{session.ZoomStep{Steps: steps}}
		case evValueRelease:
			return []session.Event{session.ZoomStop{}}
		}

	case KEY_ZOOMRESET:
		if ev.Value == evValuePress {
			return []session.Event{session.ZoomTo{Value: 0}}
		}

	case KEY_ESC:
		if ev.Value == evValuePress {
			return []session.Event{session.CancelFocus{}}
		}
	}
	return nil
}
