// Package observer keeps a websocket subscription to the car status stream
// open and turns every relevant event into a re-read of the source of truth.
package observer

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/angelmondragon/carline-backend/pkg/events"
	"github.com/angelmondragon/carline-backend/pkg/logger"
)

// State is the connection lifecycle state.
type State string

const (
	StateConnecting         State = "CONNECTING"
	StateOpen               State = "OPEN"
	StateClosedClean        State = "CLOSED_CLEAN"
	StateClosedError        State = "CLOSED_ERROR"
	StateReconnectScheduled State = "RECONNECT_SCHEDULED"
)

const (
	DefaultReconnectDelay  = 3 * time.Second
	DefaultDisconnectGrace = 10 * time.Second
)

// Conn is the subset of *websocket.Conn the channel reads from.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

// Dialer opens the websocket connection.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

func (d WebsocketDialer) Dial(ctx context.Context, url string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, url, d.Header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Options configures a Channel.
type Options struct {
	URL             string
	Dialer          Dialer
	Logger          *logger.Logger
	ReconnectDelay  time.Duration
	DisconnectGrace time.Duration
	OnStateChange   func(State)

	// After and Now replace the clock in tests.
	After func(time.Duration) <-chan time.Time
	Now   func() time.Time
}

type subscription struct {
	interest Interest
	refetch  func(context.Context)
}

// Channel is one physical connection shared by any number of subscribers.
type Channel struct {
	url             string
	dialer          Dialer
	logg            *logger.Logger
	reconnectDelay  time.Duration
	disconnectGrace time.Duration
	onStateChange   func(State)
	after           func(time.Duration) <-chan time.Time
	now             func() time.Time

	mu       sync.Mutex
	state    State
	leftOpen time.Time
	subs     map[uint64]subscription
	nextID   uint64
	conn     Conn
	closed   bool

	closeCh   chan struct{}
	closeOnce sync.Once
}

// NewChannel validates options and returns an idle channel; call Run.
func NewChannel(opts Options) (*Channel, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("observer url required")
	}
	if opts.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer{}
	}
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.DisconnectGrace <= 0 {
		opts.DisconnectGrace = DefaultDisconnectGrace
	}
	if opts.After == nil {
		opts.After = time.After
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Channel{
		url:             opts.URL,
		dialer:          opts.Dialer,
		logg:            opts.Logger,
		reconnectDelay:  opts.ReconnectDelay,
		disconnectGrace: opts.DisconnectGrace,
		onStateChange:   opts.OnStateChange,
		after:           opts.After,
		now:             opts.Now,
		state:           StateConnecting,
		leftOpen:        opts.Now(),
		subs:            make(map[uint64]subscription),
		closeCh:         make(chan struct{}),
	}, nil
}

// Subscribe registers refetch for transitions matching interest. The
// returned func removes only this subscription.
func (c *Channel) Subscribe(interest Interest, refetch func(context.Context)) func() {
	c.mu.Lock()
	c.nextID++
	id := c.nextID
	c.subs[id] = subscription{interest: interest, refetch: refetch}
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}

// State returns the current lifecycle state.
func (c *Channel) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Disconnected reports whether the channel has been out of OPEN for longer
// than the grace period.
func (c *Channel) Disconnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateOpen {
		return false
	}
	return c.now().Sub(c.leftOpen) > c.disconnectGrace
}

// Close ends the channel cleanly: the connection is closed with 1000 and Run
// returns without reconnecting.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		conn := c.conn
		c.mu.Unlock()

		close(c.closeCh)
		if conn != nil {
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, msg, c.now().Add(time.Second))
			err = conn.Close()
		}
	})
	return err
}

// Run connects and keeps reconnecting after abnormal closes until ctx is
// done or the channel is closed cleanly. A clean close returns nil.
func (c *Channel) Run(ctx context.Context) error {
	ctx = c.logg.WithField(ctx, "observer_url", c.url)
	for {
		if c.isClosed() {
			c.setState(ctx, StateClosedClean)
			return nil
		}

		c.setState(ctx, StateConnecting)
		conn, err := c.dialer.Dial(ctx, c.url)
		switch {
		case err != nil && ctx.Err() != nil:
			c.setState(ctx, StateClosedClean)
			return ctx.Err()
		case err != nil:
			c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "observer dial failed")
			c.setState(ctx, StateClosedError)
		default:
			if c.session(ctx, conn) {
				c.setState(ctx, StateClosedClean)
				return nil
			}
			if ctx.Err() != nil {
				c.setState(ctx, StateClosedClean)
				return ctx.Err()
			}
			c.setState(ctx, StateClosedError)
		}

		c.setState(ctx, StateReconnectScheduled)
		select {
		case <-ctx.Done():
			c.setState(ctx, StateClosedClean)
			return ctx.Err()
		case <-c.closeCh:
			c.setState(ctx, StateClosedClean)
			return nil
		case <-c.after(c.reconnectDelay):
		}
	}
}

// session reads until the connection ends and reports whether the close
// was clean.
func (c *Channel) session(ctx context.Context, conn Conn) bool {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		return true
	}
	c.conn = conn
	c.mu.Unlock()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-stop:
		}
	}()

	c.setState(ctx, StateOpen)
	c.reconcile(ctx)

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			c.mu.Lock()
			c.conn = nil
			local := c.closed
			c.mu.Unlock()

			if local || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return true
			}
			if ctx.Err() == nil {
				c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "observer connection lost")
			}
			return false
		}
		c.dispatch(ctx, payload)
	}
}

// reconcile re-reads everything after a (re)connect; events missed while
// disconnected are never replayed.
func (c *Channel) reconcile(ctx context.Context) {
	for _, sub := range c.snapshot() {
		sub.refetch(ctx)
	}
}

func (c *Channel) dispatch(ctx context.Context, payload []byte) {
	update, err := events.Decode(payload)
	if err != nil {
		c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "discarding malformed car status message")
		return
	}
	for _, sub := range c.snapshot() {
		if sub.interest.Matches(update) {
			sub.refetch(ctx)
		}
	}
}

func (c *Channel) snapshot() []subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]subscription, 0, len(c.subs))
	for _, sub := range c.subs {
		out = append(out, sub)
	}
	return out
}

func (c *Channel) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Channel) setState(ctx context.Context, next State) {
	c.mu.Lock()
	prev := c.state
	if prev == next {
		c.mu.Unlock()
		return
	}
	c.state = next
	if prev == StateOpen {
		c.leftOpen = c.now()
	}
	c.mu.Unlock()

	c.logg.Debug(ctx, fmt.Sprintf("observer %s -> %s", prev, next))
	if c.onStateChange != nil {
		c.onStateChange(next)
	}
}
