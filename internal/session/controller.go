package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"shutterbrainz/internal/camera"
	"shutterbrainz/internal/capture"
	"shutterbrainz/internal/params"
	"shutterbrainz/internal/saver"
)

// ============================================================================
// Session control loop
// ============================================================================
//
// Design rules enforced here:
//   - The reducer performs no I/O and computes: next state + commands.
//   - The control loop is the only place that executes side effects.
//   - Device callbacks, timer expiries and saver notices arrive on goroutines
//     owned by others; they are posted to a non-blocking inbox and reduced on
//     the loop like any other event.
//   - Explicit event and command queues (no nested/re-entrant execution).
//
// ============================================================================

// ImageSaver is the part of *saver.Saver the controller uses.
type ImageSaver interface {
	Add(saver.Request)
	WaitDone()
	Len() int
	TakeThumbnail() *saver.Thumbnail
}

// StorageEstimator reports how many more pictures fit on the media.
type StorageEstimator interface {
	PicturesRemaining() int64
}

// PreferenceWriter persists a single preference.
type PreferenceWriter interface {
	Set(key, value string) error
}

// Controller owns the camera device and the session state.
type Controller struct {
	cfg      Config
	opener   camera.Opener
	saver    ImageSaver
	storage  StorageEstimator
	prefs    PreferenceWriter
	notifier Notifier
	logger   *slog.Logger

	state *State
	inbox *inbox

	// Loop-owned device bookkeeping.
	ctx           context.Context
	dev           camera.Device
	gen           uint64
	previewing    bool
	faceDetecting bool

	timerMu sync.Mutex
	timers  [numTimers]*time.Timer
}

// New creates a controller. initialPrefs are the stored preferences the
// session starts with.
func New(
	cfg Config,
	opener camera.Opener,
	sv ImageSaver,
	storage StorageEstimator,
	prefs PreferenceWriter,
	notifier Notifier,
	initialPrefs map[string]string,
	logger *slog.Logger,
) *Controller {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		cfg:      cfg,
		opener:   opener,
		saver:    sv,
		storage:  storage,
		prefs:    prefs,
		notifier: notifier,
		logger:   logger,
		state:    NewState(initialPrefs),
		inbox:    newInbox(),
		ctx:      context.Background(),
	}
}

// CaptureState returns the capture state. Safe for concurrent use.
func (c *Controller) CaptureState() capture.State {
	return c.state.Capture.State()
}

// ThumbnailReady tells the loop that the saver has a new pending thumbnail.
// It never blocks and is meant to be wired as the saver's onThumbnail hook.
func (c *Controller) ThumbnailReady() {
	c.inbox.post(ThumbnailPending{})
}

// Open opens the camera, starts the first preview with the full configuration
// and takes the first storage estimate concurrently. It must be called before
// Run. On failure the device is released, the session stays stopped and the
// error is returned; a preview failure is a critical *camera.HardwareCallError.
func (c *Controller) Open(ctx context.Context) error {
	var (
		p         camera.Parameters
		res       params.Result
		remaining int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		if p, err = c.openDevice(gctx); err != nil {
			return err
		}
		mask := params.Initialize | params.Zoom | params.Preference | c.state.Params.Pending()
		c.state.Params.ClearPending()
		if res, err = c.startPreview(CmdStartPreview{Plan: c.state.Params.PlanFor(mask)}); err != nil {
			c.closeDevice()
			return err
		}
		return nil
	})
	g.Go(func() error {
		remaining = c.picturesRemaining()
		return nil
	})
	if err := g.Wait(); err != nil {
		c.inbox.post(DeviceOpenFailed{Err: err})
		return err
	}
	c.inbox.post(StorageChecked{Remaining: remaining})
	c.inbox.post(DeviceOpened{Params: p, Gen: c.gen, Previewing: true})
	c.inbox.post(PreviewStarted{Result: res})
	return nil
}

// openDevice opens a new device handle, installs the callback listener and
// reads the initial configuration.
func (c *Controller) openDevice(ctx context.Context) (camera.Parameters, error) {
	if c.dev != nil {
		c.closeDevice()
	}
	dev, err := c.opener.Open(ctx, c.cfg.CameraID)
	if err != nil {
		return nil, fmt.Errorf("open camera %d: %w", c.cfg.CameraID, err)
	}
	p, err := dev.Parameters()
	if err != nil {
		_ = dev.Close()
		return nil, fmt.Errorf("read camera %d parameters: %w", c.cfg.CameraID, err)
	}

	c.gen++
	gen := c.gen
	dev.SetListener(func(cb camera.Callback) {
		c.inbox.post(HardwareCallback{Callback: cb, Gen: gen})
	})
	c.dev = dev
	c.previewing = false
	c.faceDetecting = false
	c.logger.Info("camera opened", "camera_id", c.cfg.CameraID, "gen", gen)
	return p, nil
}

// closeDevice stops face detection and preview and releases the handle.
func (c *Controller) closeDevice() {
	dev := c.dev
	if dev == nil {
		return
	}
	c.dev = nil
	dev.SetListener(nil)
	if c.faceDetecting {
		if err := dev.StopFaceDetection(); err != nil {
			c.logger.Debug("stop face detection failed", "error", err)
		}
	}
	if c.previewing {
		if err := dev.StopPreview(); err != nil {
			c.logger.Debug("stop preview failed", "error", err)
		}
	}
	if err := dev.Close(); err != nil {
		c.logger.Warn("camera close failed", "error", err)
	}
	c.previewing = false
	c.faceDetecting = false
	c.logger.Info("camera released", "camera_id", c.cfg.CameraID)
}

func (c *Controller) startTimer(k TimerKind, gen uint64, d time.Duration) {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	if t := c.timers[k]; t != nil {
		t.Stop()
	}
	c.timers[k] = time.AfterFunc(d, func() {
		c.inbox.post(TimerFired{Kind: k, Gen: gen})
	})
}

func (c *Controller) stopTimers() {
	c.timerMu.Lock()
	defer c.timerMu.Unlock()
	for i, t := range c.timers {
		if t != nil {
			t.Stop()
			c.timers[i] = nil
		}
	}
}

// Run is the session control loop. It:
//   - Receives actions from the caller and internal events from the inbox
//   - Reduces events into (state, commands, notifications)
//   - Executes commands and feeds observations back into the reducer
//
// Shutdown semantics:
//   - Exits when ctx is canceled or the actions channel is closed
//   - Images of an accepted capture are still saved (bounded by ReleaseDelay)
//   - On exit the device is released and every queued save is waited for
func (c *Controller) Run(ctx context.Context, actions <-chan Event) error {
	c.ctx = ctx
	defer c.shutdown()

	var eventQueue []Event
	var cmdQueue []Command

	enqueueEvent := func(ev Event) {
		eventQueue = append(eventQueue, ev)
	}

	// Reduce all queued events, enqueuing any resulting commands.
	flushEvents := func() {
		for len(eventQueue) > 0 {
			ev := eventQueue[0]
			eventQueue = eventQueue[1:]

			rr := Reduce(c.state, ev, c.cfg)
			if rr.Ignored != nil {
				c.logger.Debug("event ignored", "event", fmt.Sprintf("%T", ev), "reason", rr.Ignored)
			}
			if rr.Warning != nil {
				c.logger.Warn("session warning", "event", fmt.Sprintf("%T", ev), "error", rr.Warning)
			}
			for _, n := range rr.Notifications {
				n.deliver(c.notifier)
			}
			cmdQueue = append(cmdQueue, rr.Commands...)
		}
	}

	// Execute all queued commands, enqueuing observation events.
	flushCommands := func() {
		for len(cmdQueue) > 0 {
			cmd := cmdQueue[0]
			cmdQueue = cmdQueue[1:]

			c.runEffect(cmd, enqueueEvent)

			// Reduce observations promptly so follow-up commands run in order.
			flushEvents()
		}
	}

	process := func() {
		flushEvents()
		flushCommands()
	}

	// Pick up whatever Open posted.
	for _, ev := range c.inbox.drain() {
		enqueueEvent(ev)
	}
	process()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("session stopping (context canceled)")
			c.finishInFlight(enqueueEvent, process)
			return nil

		case act, ok := <-actions:
			if !ok {
				c.logger.Info("session stopping (actions channel closed)")
				c.finishInFlight(enqueueEvent, process)
				return nil
			}
			enqueueEvent(act)
			process()

		case <-c.inbox.signal:
			for _, ev := range c.inbox.drain() {
				enqueueEvent(ev)
			}
			process()
		}
	}
}

// finishInFlight pauses the session so that an accepted capture, or the rest
// of a running sequence, is handed to the saver before the device is released.
// It waits at most ReleaseDelay for the images.
func (c *Controller) finishInFlight(enqueue func(Event), process func()) {
	enqueue(Pause{})
	process()
	if !c.state.Closing {
		return
	}
	c.logger.Info("waiting for in-flight images", "pending", c.state.PendingImages)

	deadline := time.NewTimer(c.cfg.ReleaseDelay)
	defer deadline.Stop()
	for c.state.Closing {
		select {
		case <-c.inbox.signal:
			for _, ev := range c.inbox.drain() {
				enqueue(ev)
			}
			process()
		case <-deadline.C:
			c.logger.Warn("in-flight images not delivered before shutdown", "pending", c.state.PendingImages)
			return
		}
	}
}

func (c *Controller) shutdown() {
	c.stopTimers()
	c.closeDevice()
	c.state.Capture.Release()
	c.saver.WaitDone()
	c.logger.Info("session stopped")
}

// inbox collects events posted from foreign goroutines. post never blocks.
type inbox struct {
	mu     sync.Mutex
	events []Event
	signal chan struct{}
}

func newInbox() *inbox {
	return &inbox{signal: make(chan struct{}, 1)}
}

func (b *inbox) post(ev Event) {
	b.mu.Lock()
	b.events = append(b.events, ev)
	b.mu.Unlock()
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

func (b *inbox) drain() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	evs := b.events
	b.events = nil
	return evs
}
