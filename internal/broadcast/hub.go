// Package broadcast fans committed car status transitions out to every
// connected websocket observer.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/multierr"

	"github.com/angelmondragon/carline-backend/pkg/events"
	"github.com/angelmondragon/carline-backend/pkg/logger"
	"github.com/angelmondragon/carline-backend/pkg/metrics"
)

const (
	defaultOutboundQueue    = 256
	defaultClientBuffer     = 32
	defaultWriteTimeout     = 10 * time.Second
	defaultPongWait         = 60 * time.Second
	defaultMaxMessageBytes  = 4096
	defaultResubscribeDelay = 2 * time.Second

	routeLocal     = "local"
	routeBackplane = "backplane"
)

// Options configures a Hub. Zero values fall back to defaults.
type Options struct {
	Logger           *logger.Logger
	Backplane        Backplane
	Metrics          *metrics.HubMetrics
	OutboundQueue    int
	ClientBuffer     int
	WriteTimeout     time.Duration
	PongWait         time.Duration
	PingPeriod       time.Duration
	MaxMessageBytes  int64
	ResubscribeDelay time.Duration
}

// Hub owns the set of registered observers. Membership is the only shared
// mutable state; the request path only ever enqueues.
type Hub struct {
	logg      *logger.Logger
	backplane Backplane
	metrics   *metrics.HubMetrics

	clientBuffer     int
	writeTimeout     time.Duration
	pongWait         time.Duration
	pingPeriod       time.Duration
	maxMessageBytes  int64
	resubscribeDelay time.Duration

	mu      sync.RWMutex
	clients map[string]*Client
	stopped bool
	started bool

	outbound chan []byte
	quit     chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewHub builds a hub; call Start before serving connections.
func NewHub(opts Options) (*Hub, error) {
	if opts.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if opts.OutboundQueue <= 0 {
		opts.OutboundQueue = defaultOutboundQueue
	}
	if opts.ClientBuffer <= 0 {
		opts.ClientBuffer = defaultClientBuffer
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.PongWait <= 0 {
		opts.PongWait = defaultPongWait
	}
	if opts.PingPeriod <= 0 || opts.PingPeriod >= opts.PongWait {
		opts.PingPeriod = opts.PongWait * 9 / 10
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = defaultMaxMessageBytes
	}
	if opts.ResubscribeDelay <= 0 {
		opts.ResubscribeDelay = defaultResubscribeDelay
	}

	return &Hub{
		logg:             opts.Logger,
		backplane:        opts.Backplane,
		metrics:          opts.Metrics,
		clientBuffer:     opts.ClientBuffer,
		writeTimeout:     opts.WriteTimeout,
		pongWait:         opts.PongWait,
		pingPeriod:       opts.PingPeriod,
		maxMessageBytes:  opts.MaxMessageBytes,
		resubscribeDelay: opts.ResubscribeDelay,
		clients:          make(map[string]*Client),
		outbound:         make(chan []byte, opts.OutboundQueue),
		quit:             make(chan struct{}),
	}, nil
}

// Start launches the dispatch loop and, with a backplane, the relay
// subscription. Calling Start twice is a no-op.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stopped {
		return ErrHubStopped
	}
	if h.started {
		return nil
	}
	h.started = true

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	h.cancel = cancel

	h.wg.Add(1)
	go h.run(runCtx)
	if h.backplane != nil {
		h.wg.Add(1)
		go h.consume(runCtx)
	}
	h.logg.Info(ctx, "broadcast hub started")
	return nil
}

// Stop refuses new work, closes every connection with 1001 going away, waits
// for the hub goroutines and closes the backplane.
func (h *Hub) Stop(ctx context.Context) error {
	var err error
	h.stopOnce.Do(func() {
		h.mu.Lock()
		h.stopped = true
		clients := make([]*Client, 0, len(h.clients))
		for _, c := range h.clients {
			clients = append(clients, c)
		}
		h.clients = make(map[string]*Client)
		cancel := h.cancel
		h.mu.Unlock()

		close(h.quit)
		if cancel != nil {
			cancel()
		}

		for _, c := range clients {
			if cerr := c.Close(websocket.CloseGoingAway, "server shutting down"); cerr != nil {
				h.logg.Debug(h.logg.WithClientID(ctx, c.ID()), "close observer on shutdown: "+cerr.Error())
			}
		}
		h.metrics.SetConnected(0)

		waited := make(chan struct{})
		go func() {
			h.wg.Wait()
			close(waited)
		}()
		select {
		case <-waited:
		case <-ctx.Done():
			err = multierr.Append(err, fmt.Errorf("wait for hub loops: %w", ctx.Err()))
		}

		if h.backplane != nil {
			if cerr := h.backplane.Close(); cerr != nil {
				err = multierr.Append(err, fmt.Errorf("close backplane: %w", cerr))
			}
		}
		h.logg.Info(ctx, fmt.Sprintf("broadcast hub stopped, closed %d observers", len(clients)))
	})
	return err
}

// Register adds the client to the membership set. Registering the same id
// twice keeps the first client.
func (h *Hub) Register(c *Client) error {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return ErrHubStopped
	}
	if _, ok := h.clients[c.ID()]; ok {
		h.mu.Unlock()
		return nil
	}
	h.clients[c.ID()] = c
	n := len(h.clients)
	h.mu.Unlock()

	h.metrics.SetConnected(n)
	h.logg.Debug(h.logg.WithClientID(context.Background(), c.ID()), "observer registered")
	return nil
}

// Unregister removes the client; absent clients are ignored.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	current, ok := h.clients[c.ID()]
	if !ok || current != c {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.ID())
	n := len(h.clients)
	h.mu.Unlock()

	h.metrics.SetConnected(n)
	h.logg.Debug(h.logg.WithClientID(context.Background(), c.ID()), "observer unregistered")
}

// Len returns the number of registered observers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast encodes the update and queues it without blocking. A full queue
// drops the event.
func (h *Hub) Broadcast(ctx context.Context, update events.CarStatusUpdate) error {
	payload, err := events.Encode(update)
	if err != nil {
		return err
	}

	select {
	case <-h.quit:
		h.metrics.IncDropped()
		return ErrHubStopped
	default:
	}

	select {
	case h.outbound <- payload:
		return nil
	default:
		h.metrics.IncDropped()
		h.logg.Warn(h.logg.WithCarID(ctx, update.CarID), "broadcast queue full, event dropped")
		return ErrQueueFull
	}
}

func (h *Hub) run(ctx context.Context) {
	defer h.wg.Done()
	for {
		select {
		case <-h.quit:
			return
		case payload := <-h.outbound:
			h.dispatch(ctx, payload)
		}
	}
}

// dispatch publishes to the backplane, which echoes back to this instance,
// or fans out locally when there is none or the publish fails.
func (h *Hub) dispatch(ctx context.Context, payload []byte) {
	if h.backplane != nil {
		err := h.backplane.Publish(ctx, payload)
		if err == nil {
			return
		}
		h.metrics.IncBackplaneError("publish")
		h.logg.Error(ctx, "backplane publish failed, delivering locally", err)
	}
	h.metrics.IncBroadcast(routeLocal)
	h.fanOut(ctx, payload)
}

func (h *Hub) consume(ctx context.Context) {
	defer h.wg.Done()
	relay := func(payload []byte) {
		h.metrics.IncBroadcast(routeBackplane)
		h.fanOut(ctx, payload)
	}
	for {
		err := h.backplane.Subscribe(ctx, relay)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			h.metrics.IncBackplaneError("subscribe")
			h.logg.Error(ctx, "backplane subscription failed", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(h.resubscribeDelay):
		}
	}
}

// fanOut snapshots membership under the read lock and enqueues outside it.
// A client that cannot take the event is closed so it reconnects and
// reconciles; other clients are unaffected.
func (h *Hub) fanOut(ctx context.Context, payload []byte) {
	h.mu.RLock()
	snapshot := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		snapshot = append(snapshot, c)
	}
	h.mu.RUnlock()

	for _, c := range snapshot {
		err := c.enqueue(payload)
		if err == nil {
			h.metrics.IncDelivery(metrics.DeliveryDelivered)
			continue
		}

		var delivery *DeliveryError
		if !errors.As(err, &delivery) {
			continue
		}
		h.metrics.IncDelivery(delivery.Reason)
		h.logg.Warn(h.logg.WithClientID(ctx, c.ID()), delivery.Error())

		if delivery.Reason == metrics.DeliveryFull {
			_ = c.Close(websocket.CloseTryAgainLater, "observer too slow")
		}
		h.Unregister(c)
	}
}

// Serve registers conn as an observer and pumps it until the peer goes away,
// a write fails or the hub stops.
func (h *Hub) Serve(ctx context.Context, conn Conn) error {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(closeWriteWait))
		_ = conn.Close()
		return ErrHubStopped
	}
	h.wg.Add(1)
	h.mu.Unlock()
	defer h.wg.Done()

	client := NewClient(uuid.NewString(), conn, h.clientBuffer)
	if err := h.Register(client); err != nil {
		_ = client.Close(websocket.CloseGoingAway, "server shutting down")
		return err
	}
	defer h.Unregister(client)

	ctx = h.logg.WithClientID(ctx, client.ID())
	h.logg.Info(ctx, "observer connected")

	go func() {
		select {
		case <-ctx.Done():
			_ = client.Close(websocket.CloseGoingAway, "server shutting down")
		case <-client.Done():
		}
	}()

	writeDone := make(chan struct{})
	go func() {
		defer close(writeDone)
		h.writePump(ctx, client)
	}()

	h.readPump(ctx, client)
	_ = client.Close(0, "")
	<-writeDone

	h.logg.Info(ctx, "observer disconnected")
	return nil
}

func (h *Hub) writePump(ctx context.Context, c *Client) {
	ticker := time.NewTicker(h.pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case payload := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.logg.Debug(ctx, "observer write failed: "+err.Error())
				_ = c.Close(0, "")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.writeTimeout)); err != nil {
				h.logg.Debug(ctx, "observer ping failed: "+err.Error())
				_ = c.Close(0, "")
				return
			}
		}
	}
}

// readPump only keeps the read deadline fresh; observers never send
// anything the hub acts on.
func (h *Hub) readPump(ctx context.Context, c *Client) {
	c.conn.SetReadLimit(h.maxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(h.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(h.pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logg.Debug(ctx, "observer read ended: "+err.Error())
			}
			return
		}
	}
}
