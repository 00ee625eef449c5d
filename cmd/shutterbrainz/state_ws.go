package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"shutterbrainz/internal/saver"
	"shutterbrainz/internal/session"
	"shutterbrainz/internal/storage"
)

// ============================================================================
// State WebSocket: hub + per-client pumps + broadcaster
// ============================================================================
//
// This file implements:
//   - A Hub that tracks connected WebSocket clients
//   - Per-client write pumps so one slow client doesn't block others
//   - wsNotifier, the session.Notifier that turns session notifications into
//     outbound events without blocking the control loop
//   - A broadcaster loop that marshals outbound events and fans out
//
// Constraints:
//   - Session state is loop-owned; the initial snapshot on connect goes
//     through the control loop as a RequestStatus action.
//   - Slow clients are disconnected when their send buffer fills.
//   - Messages are JSON text frames with an envelope: {type, ts, data}.
//
// ============================================================================

// WS message types.
const (
	wsTypeStateInit     = "state_init"
	wsTypeStateChanged  = "state_changed"
	wsTypeThumbnail     = "thumbnail_ready"
	wsTypeStorageStatus = "storage_status"
	wsTypeZoomChanged   = "zoom_changed"
	wsTypeFaces         = "faces"
	wsTypeOverrides     = "overrides"
	wsTypeHint          = "hint"
	wsTypeError         = "error"
)

// wsThumbnailData is the JSON `data` payload for "thumbnail_ready".
type wsThumbnailData struct {
	URI    string `json:"uri"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
	JPEG   []byte `json:"jpeg,omitempty"`
}

// wsStorageData is the JSON `data` payload for "storage_status".
type wsStorageData struct {
	PicturesRemaining int64  `json:"pictures_remaining"`
	State             string `json:"state"`
}

type wsZoomData struct {
	Zoom int `json:"zoom"`
}

type wsFacesData struct {
	Count int `json:"count"`
}

type wsOverridesData struct {
	Overrides map[string]string `json:"overrides"`
}

type wsHintData struct {
	Text string `json:"text"`
}

type wsErrorData struct {
	Message string `json:"message"`
}

// storageState names the storage sentinels for UI clients.
func storageState(remaining int64) string {
	switch {
	case remaining == storage.Unavailable:
		return "unavailable"
	case remaining == storage.Preparing:
		return "preparing"
	case remaining == storage.UnknownSize:
		return "unknown_size"
	case remaining == 0:
		return "full"
	default:
		return "ok"
	}
}

// wsOutboundEvent is a pre-typed, externally-consumable state event.
type wsOutboundEvent struct {
	Type string
	Data any
	At   time.Time // zero means "now" at marshal time
}

// envelope is the wire format envelope for WS messages.
type envelope struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

func marshalOutbound(ev wsOutboundEvent) ([]byte, error) {
	ts := ev.At
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return json.Marshal(envelope{Type: ev.Type, Ts: &ts, Data: ev.Data})
}

// ============================================================================
// Notifier
// ============================================================================

// wsNotifier implements session.Notifier. Every method enqueues without
// blocking; when the broadcaster falls behind, events are dropped.
type wsNotifier struct {
	out    chan wsOutboundEvent
	logger *slog.Logger
}

var _ session.Notifier = (*wsNotifier)(nil)

func newWSNotifier(buf int, logger *slog.Logger) *wsNotifier {
	if buf <= 0 {
		buf = 128
	}
	return &wsNotifier{out: make(chan wsOutboundEvent, buf), logger: logger}
}

// Events is the broadcaster's source.
func (n *wsNotifier) Events() <-chan wsOutboundEvent { return n.out }

func (n *wsNotifier) publish(typ string, data any) {
	select {
	case n.out <- wsOutboundEvent{Type: typ, Data: data, At: time.Now().UTC()}:
	default:
		n.logger.Warn("ws notifier queue full, dropping event", "type", typ)
	}
}

func (n *wsNotifier) NotifyStateChanged(st session.Status) {
	n.publish(wsTypeStateChanged, st)
}

func (n *wsNotifier) NotifyThumbnailReady(th saver.Thumbnail) {
	n.publish(wsTypeThumbnail, wsThumbnailData{URI: th.URI, Width: th.Width, Height: th.Height, JPEG: th.Data})
}

func (n *wsNotifier) NotifyStorageStatus(remaining int64) {
	n.publish(wsTypeStorageStatus, wsStorageData{PicturesRemaining: remaining, State: storageState(remaining)})
}

func (n *wsNotifier) NotifyZoom(value int) {
	n.publish(wsTypeZoomChanged, wsZoomData{Zoom: value})
}

func (n *wsNotifier) NotifyFaces(count int) {
	n.publish(wsTypeFaces, wsFacesData{Count: count})
}

func (n *wsNotifier) NotifyOverrides(overrides map[string]string) {
	n.publish(wsTypeOverrides, wsOverridesData{Overrides: overrides})
}

func (n *wsNotifier) NotifyHint(text string) {
	n.publish(wsTypeHint, wsHintData{Text: text})
}

func (n *wsNotifier) NotifyError(err error) {
	if err == nil {
		return
	}
	n.publish(wsTypeError, wsErrorData{Message: err.Error()})
}

// ============================================================================
// Hub
// ============================================================================

type Hub struct {
	logger *slog.Logger

	// Buffered broadcast channel for already-serialized JSON frames.
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client

	mu      sync.Mutex
	clients map[*Client]struct{}

	sendBuf int
}

type HubConfig struct {
	// SendBuf is the per-client outbound queue size.
	SendBuf int

	// BroadcastBuf is the hub inbound broadcast queue size.
	BroadcastBuf int
}

// NewHub constructs a hub. Call Run(ctx) to start it.
func NewHub(logger *slog.Logger, cfg HubConfig) *Hub {
	sendBuf := cfg.SendBuf
	if sendBuf <= 0 {
		sendBuf = 32
	}
	bcastBuf := cfg.BroadcastBuf
	if bcastBuf <= 0 {
		bcastBuf = 128
	}

	return &Hub{
		logger:     logger,
		broadcast:  make(chan []byte, bcastBuf),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		clients:    make(map[*Client]struct{}),
		sendBuf:    sendBuf,
	}
}

// Run processes hub events until ctx is canceled.
// It disconnects all clients on shutdown.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("ws hub starting")

	for {
		select {
		case <-ctx.Done():
			h.logger.Info("ws hub stopping (context canceled)")
			h.closeAllClients()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws client registered", "remote_addr", c.remoteAddr, "clients", n)

		case c := <-h.unregister:
			h.removeClient(c, "unregister")

		case msg := <-h.broadcast:
			// Collect slow clients first, then remove them after we unlock.
			var slow []*Client

			h.mu.Lock()
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					slow = append(slow, c)
				}
			}
			h.mu.Unlock()

			for _, c := range slow {
				h.removeClient(c, "slow_client")
			}
		}
	}
}

// ClientCount reports the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		c.closeSend()
		delete(h.clients, c)
	}
}

func (h *Hub) removeClient(c *Client, reason string) {
	h.mu.Lock()
	_, ok := h.clients[c]
	if ok {
		delete(h.clients, c)
	}
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		// Closing send signals writePump to exit.
		c.closeSend()

		h.logger.Info("ws client disconnected", "remote_addr", c.remoteAddr, "reason", reason, "clients", n)
	}
}

// BroadcastBytes enqueues a pre-serialized JSON WS frame for broadcast.
// It never blocks; if the hub queue is full it drops the message.
func (h *Hub) BroadcastBytes(msg []byte) {
	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("ws hub broadcast queue full, dropping message", "bytes", len(msg))
	}
}

// ============================================================================
// Client
// ============================================================================

type Client struct {
	hub *Hub

	conn      *websocket.Conn
	send      chan []byte
	closeOnce sync.Once

	remoteAddr string
	logger     *slog.Logger
}

// NewClient creates a client with a buffered send channel.
func NewClient(hub *Hub, conn *websocket.Conn, remoteAddr string, logger *slog.Logger) *Client {
	sendBuf := 32
	if hub != nil && hub.sendBuf > 0 {
		sendBuf = hub.sendBuf
	}
	return &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBuf),
		remoteAddr: remoteAddr,
		logger:     logger,
	}
}

func (c *Client) closeSend() {
	c.closeOnce.Do(func() { close(c.send) })
}

const (
	writeWait  = 5 * time.Second
	pongWait   = 30 * time.Second
	pingPeriod = 20 * time.Second
)

// wsZoomCoalesceWindow is the maximum time window during which bursty zoom
// updates are coalesced (latest-wins) before broadcasting to clients.
const wsZoomCoalesceWindow = 50 * time.Millisecond

// closeStatus extracts a human-readable websocket close code / text when possible.
func closeStatus(err error) (code int, text string, ok bool) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text, true
	}
	return 0, "", false
}

func (c *Client) logExit(pump, kind string, err error) {
	if errors.Is(err, websocket.ErrCloseSent) {
		return
	}
	if code, text, ok := closeStatus(err); ok {
		c.logger.Info("ws "+pump+" exiting (close)", "remote_addr", c.remoteAddr, "code", code, "reason", text)
		return
	}
	c.logger.Info("ws "+pump+" exiting ("+kind+" error)", "remote_addr", c.remoteAddr, "error", err)
}

// writePump writes messages from the send queue to the websocket.
// It exits on write error or when send is closed.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Channel closed: hub is disconnecting us.
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.logExit("writePump", "write", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.logExit("writePump", "ping", err)
				return
			}
		}
	}
}

// readPump reads and discards incoming messages to detect disconnects and
// handle control frames. It exits on read error, then unregisters the client.
func (c *Client) readPump() {
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.logExit("readPump", "read", err)
			if c.hub != nil {
				c.hub.unregister <- c
			}
			return
		}
	}
}

// ============================================================================
// HTTP Handler
// ============================================================================

type Server struct {
	logger *slog.Logger

	hub *Hub

	// Required for the initial snapshot request on connect.
	events chan<- session.Event
}

type ServerConfig struct {
	Hub HubConfig
}

// NewServer constructs the WS state server components. Call Register on a mux,
// start Hub().Run(ctx), and start RunBroadcaster.
func NewServer(logger *slog.Logger, events chan<- session.Event, cfg ServerConfig) *Server {
	return &Server{
		logger: logger,
		hub:    NewHub(logger, cfg.Hub),
		events: events,
	}
}

func (s *Server) Hub() *Hub { return s.hub }

// Register registers the WS handler on the provided mux.
func (s *Server) Register(mux *http.ServeMux, path string) {
	if mux == nil {
		return
	}
	mux.HandleFunc(path, s.handleStateWS)
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleStateWS upgrades and registers a client, then sends state_init.
func (s *Server) handleStateWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("ws upgrade failed", "error", err)
		return
	}

	client := NewClient(s.hub, conn, r.RemoteAddr, s.logger)

	// Register client first so broadcasts can reach it.
	s.hub.register <- client

	// Pumps must outlive the request: net/http cancels r.Context() when the
	// handler returns.
	go client.writePump()
	go client.readPump()

	if s.events == nil {
		return
	}

	st, err := requestStatus(r.Context(), s.events, defaultStatusWaitMS*time.Millisecond)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			s.logger.Warn("ws snapshot request failed", "error", err)
		}
		return
	}

	initMsg, err := marshalOutbound(wsOutboundEvent{Type: wsTypeStateInit, Data: st})
	if err != nil {
		s.logger.Warn("ws state_init marshal failed", "error", err)
		return
	}
	// If the client is already slow, disconnect.
	select {
	case client.send <- initMsg:
	default:
		s.hub.unregister <- client
	}
}

// runStateWSServer serves the state WebSocket until ctx is canceled.
func runStateWSServer(ctx context.Context, port int, path string, srv *Server, logger *slog.Logger) error {
	mux := http.NewServeMux()
	srv.Register(mux, path)

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Info("state websocket listening", "port", port, "path", path)
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ============================================================================
// Broadcaster
// ============================================================================

// RunBroadcaster reads notifier events, marshals them, and broadcasts them to
// all hub clients. Intended to run as a single goroutine.
func RunBroadcaster(ctx context.Context, hub *Hub, src <-chan wsOutboundEvent, logger *slog.Logger) {
	if hub == nil || src == nil {
		return
	}

	// Flush the latest pending zoom update at most once every
	// wsZoomCoalesceWindow, even if updates keep arriving.
	var pendingZoom *wsOutboundEvent
	var zoomTimer *time.Timer
	var zoomTimerCh <-chan time.Time

	send := func(ev wsOutboundEvent) {
		msg, err := marshalOutbound(ev)
		if err != nil {
			logger.Warn("ws broadcaster marshal failed", "error", err, "type", ev.Type)
			return
		}
		hub.BroadcastBytes(msg)
	}

	flushPendingZoom := func() {
		if pendingZoom == nil {
			return
		}
		send(*pendingZoom)
		pendingZoom = nil
	}

	stopZoomTimer := func() {
		if zoomTimer != nil {
			zoomTimer.Stop()
		}
		zoomTimer = nil
		zoomTimerCh = nil
	}

	for {
		select {
		case <-ctx.Done():
			flushPendingZoom()
			stopZoomTimer()
			return

		case <-zoomTimerCh:
			flushPendingZoom()
			stopZoomTimer()

		case ev, ok := <-src:
			if !ok {
				flushPendingZoom()
				stopZoomTimer()
				logger.Info("ws broadcaster stopping (source ended)")
				return
			}

			// Latest-wins; the timer is not reset on each update.
			if ev.Type == wsTypeZoomChanged {
				copyEv := ev
				pendingZoom = &copyEv
				if zoomTimer == nil {
					zoomTimer = time.NewTimer(wsZoomCoalesceWindow)
					zoomTimerCh = zoomTimer.C
				}
				continue
			}

			// Other events keep their order relative to zoom.
			flushPendingZoom()
			stopZoomTimer()
			send(ev)
		}
	}
}
