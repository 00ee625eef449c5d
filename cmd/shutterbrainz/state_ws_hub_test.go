package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"shutterbrainz/internal/storage"
)

// These tests cover hub fanout, slow-client eviction and the broadcaster
// without network I/O: clients are built with a nil websocket.Conn and the
// hub guards every Close against nil.

func newTestHub(t *testing.T, sendBuf int, broadcastBuf int) *Hub {
	t.Helper()
	return NewHub(discardLogger(), HubConfig{
		SendBuf:      sendBuf,
		BroadcastBuf: broadcastBuf,
	})
}

func newTestClient(hub *Hub, name string, buf int) *Client {
	return &Client{
		hub:        hub,
		send:       make(chan []byte, buf),
		remoteAddr: name,
		logger:     discardLogger(),
	}
}

func runHub(t *testing.T, hub *Hub) context.CancelFunc {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Errorf("timeout waiting for hub to stop")
		}
	})
	return cancel
}

func registerClient(t *testing.T, hub *Hub, c *Client) {
	t.Helper()
	hub.register <- c
	waitUntil(t, 500*time.Millisecond, func() bool {
		hub.mu.Lock()
		defer hub.mu.Unlock()
		_, ok := hub.clients[c]
		return ok
	}, c.remoteAddr+" not registered in time")
}

func TestHub_BroadcastDeliveredToAllClients(t *testing.T) {
	hub := newTestHub(t, 4, 8)
	runHub(t, hub)

	c1 := newTestClient(hub, "c1", 4)
	c2 := newTestClient(hub, "c2", 4)
	registerClient(t, hub, c1)
	registerClient(t, hub, c2)

	msg := []byte(`{"type":"zoom_changed","data":{"zoom":4}}`)

	// BroadcastBytes is non-blocking and may drop; feed the loop directly.
	hub.broadcast <- msg

	for _, c := range []*Client{c1, c2} {
		select {
		case got := <-c.send:
			if string(got) != string(msg) {
				t.Fatalf("%s got %q, want %q", c.remoteAddr, got, msg)
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("timeout waiting for %s to receive broadcast", c.remoteAddr)
		}
	}
}

func TestHub_SlowClientDisconnectedOnFullSendBuffer(t *testing.T) {
	hub := newTestHub(t, 1, 8)
	runHub(t, hub)

	slow := newTestClient(hub, "slow", 1)
	fast := newTestClient(hub, "fast", 8)
	registerClient(t, hub, slow)
	registerClient(t, hub, fast)

	// Pre-fill slow client buffer to simulate it being stuck.
	slow.send <- []byte(`"already queued"`)

	msg := []byte(`{"type":"faces","data":{"count":2}}`)
	hub.broadcast <- msg

	select {
	case got := <-fast.send:
		if string(got) != string(msg) {
			t.Fatalf("fast client got %q, want %q", got, msg)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for fast client to receive broadcast")
	}

	// Drain the pre-filled message, then expect the channel to be closed.
	select {
	case <-slow.send:
	default:
	}

	waitUntil(t, 750*time.Millisecond, func() bool {
		select {
		case _, ok := <-slow.send:
			return !ok
		default:
			return false
		}
	}, "expected slow send channel to be closed")

	if n := hub.ClientCount(); n != 1 {
		t.Fatalf("expected 1 client left, got %d", n)
	}
}

func TestHub_UnregisterTwiceIsSafe(t *testing.T) {
	hub := newTestHub(t, 1, 1)
	runHub(t, hub)

	c := newTestClient(hub, "c", 1)
	registerClient(t, hub, c)

	hub.unregister <- c
	hub.unregister <- c
	waitUntil(t, 500*time.Millisecond, func() bool { return hub.ClientCount() == 0 }, "client not removed")
}

// decodeFrames collects broadcast frames until the hub queue stays idle.
func decodeFrames(t *testing.T, hub *Hub, idle time.Duration) []envelope {
	t.Helper()
	var out []envelope
	for {
		select {
		case msg := <-hub.broadcast:
			var env struct {
				Type string          `json:"type"`
				Ts   *time.Time      `json:"ts"`
				Data json.RawMessage `json:"data"`
			}
			if err := json.Unmarshal(msg, &env); err != nil {
				t.Fatalf("bad frame %q: %v", msg, err)
			}
			if env.Ts == nil {
				t.Fatalf("frame without ts: %q", msg)
			}
			out = append(out, envelope{Type: env.Type, Data: env.Data})
		case <-time.After(idle):
			return out
		}
	}
}

func TestBroadcaster_CoalescesZoomLatestWins(t *testing.T) {
	// Hub loop not running: frames stay in hub.broadcast for inspection.
	hub := newTestHub(t, 1, 32)
	notifier := newWSNotifier(32, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		RunBroadcaster(ctx, hub, notifier.Events(), discardLogger())
	}()
	defer func() {
		cancel()
		<-done
	}()

	for z := 1; z <= 5; z++ {
		notifier.NotifyZoom(z)
	}
	notifier.NotifyHint("Touch to focus")

	frames := decodeFrames(t, hub, 200*time.Millisecond)
	if len(frames) != 2 {
		t.Fatalf("expected 2 frames (one zoom, one hint), got %d: %+v", len(frames), frames)
	}
	if frames[0].Type != wsTypeZoomChanged || string(frames[0].Data.(json.RawMessage)) != `{"zoom":5}` {
		t.Fatalf("expected coalesced zoom 5 first, got %+v", frames[0])
	}
	if frames[1].Type != wsTypeHint {
		t.Fatalf("expected hint second, got %+v", frames[1])
	}
}

func TestBroadcaster_FlushesZoomAfterWindow(t *testing.T) {
	hub := newTestHub(t, 1, 8)
	notifier := newWSNotifier(8, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go RunBroadcaster(ctx, hub, notifier.Events(), discardLogger())

	notifier.NotifyZoom(2)

	frames := decodeFrames(t, hub, 4*wsZoomCoalesceWindow)
	if len(frames) != 1 || frames[0].Type != wsTypeZoomChanged {
		t.Fatalf("expected a single zoom frame after the window, got %+v", frames)
	}
}

func TestNotifier_PayloadsAndDrops(t *testing.T) {
	n := newWSNotifier(2, discardLogger())

	n.NotifyStorageStatus(storage.Preparing)
	n.NotifyError(errors.New("camera disabled"))
	n.NotifyFaces(3) // dropped: queue full
	n.NotifyError(nil)

	ev := <-n.Events()
	if ev.Type != wsTypeStorageStatus || ev.Data.(wsStorageData).State != "preparing" {
		t.Fatalf("unexpected storage event: %+v", ev)
	}
	ev = <-n.Events()
	if ev.Type != wsTypeError || ev.Data.(wsErrorData).Message != "camera disabled" {
		t.Fatalf("unexpected error event: %+v", ev)
	}
	select {
	case ev := <-n.Events():
		t.Fatalf("expected no more events, got %+v", ev)
	default:
	}
}

func TestStorageState(t *testing.T) {
	tests := map[int64]string{
		storage.Unavailable: "unavailable",
		storage.Preparing:   "preparing",
		storage.UnknownSize: "unknown_size",
		0:                   "full",
		120:                 "ok",
	}
	for in, want := range tests {
		if got := storageState(in); got != want {
			t.Fatalf("storageState(%d) = %q, want %q", in, got, want)
		}
	}
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}
