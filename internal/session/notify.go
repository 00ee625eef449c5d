package session

import (
	"shutterbrainz/internal/saver"
)

// Notifier publishes session changes to UI clients. Calls are made from the
// control loop and must not block.
type Notifier interface {
	NotifyStateChanged(Status)
	NotifyThumbnailReady(saver.Thumbnail)
	NotifyStorageStatus(remaining int64)
	NotifyZoom(value int)
	NotifyFaces(count int)
	NotifyOverrides(map[string]string)
	NotifyHint(text string)
	NotifyError(err error)
}

// Notification is a reducer-produced message for the Notifier.
type Notification interface {
	deliver(Notifier)
}

type noteState struct{ status Status }
type noteThumbnail struct{ thumb saver.Thumbnail }
type noteStorage struct{ remaining int64 }
type noteZoom struct{ value int }
type noteFaces struct{ count int }
type noteOverrides struct{ overrides map[string]string }
type noteHint struct{ text string }
type noteError struct{ err error }

func (n noteState) deliver(to Notifier)     { to.NotifyStateChanged(n.status) }
func (n noteThumbnail) deliver(to Notifier) { to.NotifyThumbnailReady(n.thumb) }
func (n noteStorage) deliver(to Notifier)   { to.NotifyStorageStatus(n.remaining) }
func (n noteZoom) deliver(to Notifier)      { to.NotifyZoom(n.value) }
func (n noteFaces) deliver(to Notifier)     { to.NotifyFaces(n.count) }
func (n noteOverrides) deliver(to Notifier) { to.NotifyOverrides(n.overrides) }
func (n noteHint) deliver(to Notifier)      { to.NotifyHint(n.text) }
func (n noteError) deliver(to Notifier)     { to.NotifyError(n.err) }

// NopNotifier discards every notification.
type NopNotifier struct{}

func (NopNotifier) NotifyStateChanged(Status)            {}
func (NopNotifier) NotifyThumbnailReady(saver.Thumbnail) {}
func (NopNotifier) NotifyStorageStatus(int64)            {}
func (NopNotifier) NotifyZoom(int)                       {}
func (NopNotifier) NotifyFaces(int)                      {}
func (NopNotifier) NotifyOverrides(map[string]string)    {}
func (NopNotifier) NotifyHint(string)                    {}
func (NopNotifier) NotifyError(error)                    {}
