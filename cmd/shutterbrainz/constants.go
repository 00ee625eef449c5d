package main

// Linux input event types and codes (from <linux/input.h>)
const (
	EV_KEY = 0x01

	KEY_ESC          = 1
	KEY_CAMERA       = 212
	KEY_ZOOMIN       = 0x1a2
	KEY_ZOOMOUT      = 0x1a3
	KEY_ZOOMRESET    = 0x1a4
	KEY_CAMERA_FOCUS = 0x210
)

// Input event value constants
const (
	evValueRelease = 0
	evValuePress   = 1
	evValueRepeat  = 2
)

// Camera drivers
const (
	driverSimulated = "simulated"
	driverV4L2      = "v4l2"
)

// Defaults
const (
	defaultCaptureWidth     = 1280
	defaultCaptureHeight    = 720
	defaultCaptureFPS       = 15
	defaultSimulatedMaxZoom = 10

	defaultFrameTimeoutMS = 2000 // Max wait for the next v4l2 frame on capture
	defaultStatusWaitMS   = 1000 // Max wait for a status snapshot from the loop
)
