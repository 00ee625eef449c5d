package session

import (
	"fmt"
	"time"

	"shutterbrainz/internal/params"
	"shutterbrainz/internal/saver"
)

// ==============================
// Commands (side effects)
// ==============================

// Command is a side effect requested by the reducer and executed by runEffect.
type Command interface {
	commandMarker()
	String() string
}

// CmdOpenDevice opens the camera and reads its configuration.
type CmdOpenDevice struct{}

func (CmdOpenDevice) commandMarker() {}
func (CmdOpenDevice) String() string { return "CmdOpenDevice()" }

// CmdCloseDevice stops face detection and preview and releases the handle.
type CmdCloseDevice struct{}

func (CmdCloseDevice) commandMarker() {}
func (CmdCloseDevice) String() string { return "CmdCloseDevice()" }

// CmdStartPreview (re)starts the preview: a running preview is stopped (after
// disabling temporal bracketing and cancelling autofocus), the plan is applied,
// then the preview is started.
type CmdStartPreview struct {
	Plan         params.Plan
	StopTemporal bool
}

func (CmdStartPreview) commandMarker() {}
func (c CmdStartPreview) String() string {
	return fmt.Sprintf("CmdStartPreview(mask=%s, stop_temporal=%v)", c.Plan.Mask, c.StopTemporal)
}

// CmdFlushParameters applies a flush plan to the device.
type CmdFlushParameters struct {
	Plan params.Plan
}

func (CmdFlushParameters) commandMarker() {}
func (c CmdFlushParameters) String() string {
	return fmt.Sprintf("CmdFlushParameters(mask=%s)", c.Plan.Mask)
}

// CmdReadParameters re-reads the device configuration without writing it.
type CmdReadParameters struct{}

func (CmdReadParameters) commandMarker() {}
func (CmdReadParameters) String() string { return "CmdReadParameters()" }

// CmdUpdateParameters writes individual keys; an empty value removes the key.
type CmdUpdateParameters struct {
	Changes map[string]string
}

func (CmdUpdateParameters) commandMarker() {}
func (c CmdUpdateParameters) String() string {
	return fmt.Sprintf("CmdUpdateParameters(keys=%d)", len(c.Changes))
}

// CmdAutoFocus starts an autofocus cycle.
type CmdAutoFocus struct{}

func (CmdAutoFocus) commandMarker() {}
func (CmdAutoFocus) String() string { return "CmdAutoFocus()" }

// CmdCancelAutoFocus cancels the running autofocus cycle.
type CmdCancelAutoFocus struct{}

func (CmdCancelAutoFocus) commandMarker() {}
func (CmdCancelAutoFocus) String() string { return "CmdCancelAutoFocus()" }

// CmdTakePicture writes the capture tags (when not frozen) and starts a capture.
type CmdTakePicture struct {
	Changes map[string]string
}

func (CmdTakePicture) commandMarker() {}
func (c CmdTakePicture) String() string {
	return fmt.Sprintf("CmdTakePicture(tags=%d)", len(c.Changes))
}

// CmdStartSmoothZoom starts a smooth zoom towards Value.
type CmdStartSmoothZoom struct {
	Value int
}

func (CmdStartSmoothZoom) commandMarker()   {}
func (c CmdStartSmoothZoom) String() string { return fmt.Sprintf("CmdStartSmoothZoom(value=%d)", c.Value) }

// CmdStopSmoothZoom asks the device to stop a smooth zoom; completion is
// reported by a final zoom callback.
type CmdStopSmoothZoom struct{}

func (CmdStopSmoothZoom) commandMarker() {}
func (CmdStopSmoothZoom) String() string { return "CmdStopSmoothZoom()" }

// CmdStartFaceDetection starts face detection on the preview.
type CmdStartFaceDetection struct{}

func (CmdStartFaceDetection) commandMarker() {}
func (CmdStartFaceDetection) String() string { return "CmdStartFaceDetection()" }

// CmdSaveImage hands a captured image to the saver (blocking while its queue is
// full) and refreshes the storage estimate.
type CmdSaveImage struct {
	Request saver.Request
}

func (CmdSaveImage) commandMarker() {}
func (c CmdSaveImage) String() string {
	return fmt.Sprintf("CmdSaveImage(bytes=%d)", len(c.Request.Data))
}

// CmdCheckStorage refreshes the pictures-remaining estimate.
type CmdCheckStorage struct{}

func (CmdCheckStorage) commandMarker() {}
func (CmdCheckStorage) String() string { return "CmdCheckStorage()" }

// CmdDrainSaver waits until every queued image is persisted.
type CmdDrainSaver struct {
	Reason DrainReason
}

func (CmdDrainSaver) commandMarker()   {}
func (c CmdDrainSaver) String() string { return fmt.Sprintf("CmdDrainSaver(reason=%s)", c.Reason) }

// CmdCollectThumbnail consumes the saver's pending thumbnail.
type CmdCollectThumbnail struct {
	Shared bool
}

func (CmdCollectThumbnail) commandMarker() {}
func (c CmdCollectThumbnail) String() string {
	return fmt.Sprintf("CmdCollectThumbnail(shared=%v)", c.Shared)
}

// CmdStartTimer posts TimerFired{Kind, Gen} after Delay.
type CmdStartTimer struct {
	Kind  TimerKind
	Gen   uint64
	Delay time.Duration
}

func (CmdStartTimer) commandMarker() {}
func (c CmdStartTimer) String() string {
	return fmt.Sprintf("CmdStartTimer(kind=%s, gen=%d, delay=%s)", c.Kind, c.Gen, c.Delay)
}

// CmdPersistPreference writes a preference back to the preference file.
type CmdPersistPreference struct {
	Key   string
	Value string
}

func (CmdPersistPreference) commandMarker() {}
func (c CmdPersistPreference) String() string {
	return fmt.Sprintf("CmdPersistPreference(%s=%s)", c.Key, c.Value)
}

// CmdPublishStatus delivers a status snapshot to a requester.
type CmdPublishStatus struct {
	Reply  chan Status
	Status Status
}

func (CmdPublishStatus) commandMarker() {}
func (CmdPublishStatus) String() string { return "CmdPublishStatus()" }
