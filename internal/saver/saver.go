// Package saver persists captured images off the control loop. Requests are
// queued FIFO (bounded, producers block when full) and handled by a single
// worker goroutine. After each image is stored a thumbnail is built when no
// newer image is waiting, and the control loop is notified to pick it up.
package saver

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/bits"
	"sync"
	"time"

	"shutterbrainz/internal/camera"
)

// DefaultQueueLimit bounds the number of images waiting to be persisted.
const DefaultQueueLimit = 15

// Request is one captured image to persist. It is not modified after Add.
type Request struct {
	Data          []byte
	Location      *camera.Location
	Width         int
	Height        int
	TakenAt       time.Time
	PreviewWidth  int
	Orientation   int
	PictureFormat string
}

// Thumbnail is the most recently built preview of a persisted image.
type Thumbnail struct {
	URI    string
	Data   []byte
	Width  int
	Height int
}

// Persister stores an image and returns its URI.
type Persister interface {
	Persist(ctx context.Context, r Request) (string, error)
}

// Thumbnailer builds a thumbnail for a persisted image, downsampled by sampleSize.
type Thumbnailer interface {
	Thumbnail(r Request, sampleSize int) (Thumbnail, error)
}

// Config tunes the saver.
type Config struct {
	QueueLimit int
}

// ErrEmptyURI is logged when a persister returns no URI and no error.
var ErrEmptyURI = errors.New("persister returned empty uri")

// Saver is the asynchronous persistence pipeline.
type Saver struct {
	persister   Persister
	thumbnailer Thumbnailer
	onThumbnail func()
	logger      *slog.Logger
	limit       int

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []Request
	pending *Thumbnail
	stop    bool
	started bool

	wg sync.WaitGroup
}

// New creates a saver. onThumbnail is called from the worker goroutine, without
// locks held, every time a new pending thumbnail is available.
func New(cfg Config, persister Persister, thumbnailer Thumbnailer, onThumbnail func(), logger *slog.Logger) *Saver {
	limit := cfg.QueueLimit
	if limit <= 0 {
		limit = DefaultQueueLimit
	}
	s := &Saver{
		persister:   persister,
		thumbnailer: thumbnailer,
		onThumbnail: onThumbnail,
		logger:      logger,
		limit:       limit,
	}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Start launches the worker goroutine. Calling it more than once has no effect.
func (s *Saver) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.wg.Add(1)
	go s.run()
}

// Add enqueues a request, blocking while the queue is full.
func (s *Saver) Add(r Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) >= s.limit {
		s.cond.Wait()
	}
	s.queue = append(s.queue, r)
	s.cond.Broadcast()
}

// WaitDone blocks until every queued request has been handled.
func (s *Saver) WaitDone() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.queue) > 0 {
		s.cond.Wait()
	}
}

// Finish drains the queue, stops the worker and waits for it to exit.
func (s *Saver) Finish() {
	s.WaitDone()
	s.mu.Lock()
	s.stop = true
	s.cond.Broadcast()
	s.mu.Unlock()
	s.wg.Wait()
}

// Len returns the number of requests not yet fully handled (including the one
// being persisted).
func (s *Saver) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// TakeThumbnail consumes the pending thumbnail, nil when there is none.
func (s *Saver) TakeThumbnail() *Thumbnail {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.pending
	s.pending = nil
	return t
}

func (s *Saver) run() {
	defer s.wg.Done()
	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.stop {
			s.cond.Wait()
		}
		if len(s.queue) == 0 && s.stop {
			s.mu.Unlock()
			return
		}
		r := s.queue[0]
		s.mu.Unlock()

		s.store(r)

		s.mu.Lock()
		s.queue[0] = Request{}
		s.queue = s.queue[1:]
		s.cond.Broadcast()
		s.mu.Unlock()
	}
}

func (s *Saver) store(r Request) {
	uri, err := s.persister.Persist(context.Background(), r)
	if err == nil && uri == "" {
		err = ErrEmptyURI
	}
	if err != nil {
		s.logger.Error("failed to persist image", "taken_at", r.TakenAt, "error", err)
		return
	}
	s.logger.Debug("image persisted", "uri", uri, "bytes", len(r.Data))

	s.mu.Lock()
	// The queue still holds r, so one entry means nothing newer is waiting.
	needThumbnail := len(s.queue) <= 1
	s.mu.Unlock()
	if !needThumbnail || s.thumbnailer == nil {
		return
	}

	t, err := s.thumbnailer.Thumbnail(r, SampleSize(r.Width, r.PreviewWidth))
	if err != nil {
		s.logger.Warn("failed to build thumbnail", "uri", uri, "error", err)
		return
	}
	t.URI = uri

	s.mu.Lock()
	s.pending = &t
	s.mu.Unlock()
	if s.onThumbnail != nil {
		s.onThumbnail()
	}
}

// SampleSize returns the power-of-two downsample factor that brings width close
// to previewWidth: highestOneBit(ceil(width / previewWidth)).
func SampleSize(width, previewWidth int) int {
	if width <= 0 || previewWidth <= 0 {
		return 1
	}
	ratio := int(math.Ceil(float64(width) / float64(previewWidth)))
	if ratio <= 1 {
		return 1
	}
	return 1 << (bits.Len(uint(ratio)) - 1)
}
