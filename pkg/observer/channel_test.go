package observer

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/carline-backend/pkg/enums"
	"github.com/angelmondragon/carline-backend/pkg/events"
	"github.com/angelmondragon/carline-backend/pkg/logger"
)

const waitFor = 2 * time.Second

type scriptedConn struct {
	messages  chan []byte
	end       chan error
	closed    chan struct{}
	closeOnce sync.Once
}

func newScriptedConn() *scriptedConn {
	return &scriptedConn{
		messages: make(chan []byte, 8),
		end:      make(chan error, 1),
		closed:   make(chan struct{}),
	}
}

func (c *scriptedConn) ReadMessage() (int, []byte, error) {
	select {
	case msg := <-c.messages:
		return websocket.TextMessage, msg, nil
	case err := <-c.end:
		return 0, nil, err
	case <-c.closed:
		return 0, nil, errors.New("use of closed network connection")
	}
}

func (c *scriptedConn) WriteControl(int, []byte, time.Time) error { return nil }

func (c *scriptedConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

type scriptedDialer struct {
	mu    sync.Mutex
	conns []*scriptedConn
	errs  []error
	dials int
}

func (d *scriptedDialer) Dial(context.Context, string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := d.dials
	d.dials++
	if i < len(d.errs) && d.errs[i] != nil {
		return nil, d.errs[i]
	}
	if i < len(d.conns) {
		return d.conns[i], nil
	}
	return nil, errors.New("no more scripted connections")
}

func (d *scriptedDialer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

type manualTimer struct {
	requested chan time.Duration
	fire      chan time.Time
}

func newManualTimer() *manualTimer {
	return &manualTimer{requested: make(chan time.Duration, 4), fire: make(chan time.Time)}
}

func (m *manualTimer) After(d time.Duration) <-chan time.Time {
	m.requested <- d
	return m.fire
}

type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (l *stateLog) record(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

func (l *stateLog) count(s State) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, st := range l.states {
		if st == s {
			n++
		}
	}
	return n
}

func newTestChannel(t *testing.T, dialer Dialer, timer *manualTimer, states *stateLog) *Channel {
	t.Helper()
	opts := Options{
		URL:    "ws://carline.test/ws/car-status",
		Dialer: dialer,
		Logger: logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
	}
	if timer != nil {
		opts.After = timer.After
	}
	if states != nil {
		opts.OnStateChange = states.record
	}
	ch, err := NewChannel(opts)
	require.NoError(t, err)
	return ch
}

func runChannel(ch *Channel) chan error {
	done := make(chan error, 1)
	go func() { done <- ch.Run(context.Background()) }()
	return done
}

func encode(t *testing.T, carID int64, from, to enums.CarStatus) []byte {
	t.Helper()
	payload, err := events.Encode(events.NewCarStatusUpdate(carID, &from, to, time.Now()))
	require.NoError(t, err)
	return payload
}

type counter struct {
	mu sync.Mutex
	n  int
	ch chan struct{}
}

func newCounter() *counter {
	return &counter{ch: make(chan struct{}, 16)}
}

func (c *counter) refetch(context.Context) {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
	c.ch <- struct{}{}
}

func (c *counter) value() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func (c *counter) wait(t *testing.T) {
	t.Helper()
	select {
	case <-c.ch:
	case <-time.After(waitFor):
		t.Fatal("refetch not triggered")
	}
}

func TestNewChannelValidates(t *testing.T) {
	_, err := NewChannel(Options{})
	require.Error(t, err)
	_, err = NewChannel(Options{URL: "ws://x"})
	require.Error(t, err)
}

func TestChannelAbnormalCloseReconnectsExactlyOnce(t *testing.T) {
	first, second := newScriptedConn(), newScriptedConn()
	dialer := &scriptedDialer{conns: []*scriptedConn{first, second}}
	timer := newManualTimer()
	states := &stateLog{}
	ch := newTestChannel(t, dialer, timer, states)

	refetches := newCounter()
	ch.Subscribe(AnyChange(), refetches.refetch)

	done := runChannel(ch)
	refetches.wait(t)
	assert.Equal(t, StateOpen, ch.State())

	first.end <- &websocket.CloseError{Code: websocket.CloseAbnormalClosure}

	select {
	case d := <-timer.requested:
		assert.Equal(t, DefaultReconnectDelay, d)
	case <-time.After(waitFor):
		t.Fatal("reconnect was not scheduled")
	}
	assert.Equal(t, StateReconnectScheduled, ch.State())
	assert.Equal(t, 1, dialer.count())

	timer.fire <- time.Now()
	refetches.wait(t)
	assert.Equal(t, 2, dialer.count())
	assert.Equal(t, 2, refetches.value())
	assert.Equal(t, 1, states.count(StateClosedError))

	require.NoError(t, ch.Close())
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("run did not return after close")
	}
	assert.Equal(t, 2, dialer.count())
	assert.Len(t, timer.requested, 0)
	assert.Equal(t, StateClosedClean, ch.State())
}

func TestChannelNormalCloseDoesNotReconnect(t *testing.T) {
	conn := newScriptedConn()
	dialer := &scriptedDialer{conns: []*scriptedConn{conn}}
	timer := newManualTimer()
	ch := newTestChannel(t, dialer, timer, nil)

	done := runChannel(ch)
	require.Eventually(t, func() bool { return ch.State() == StateOpen }, waitFor, 5*time.Millisecond)

	conn.end <- &websocket.CloseError{Code: websocket.CloseNormalClosure}
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("run did not return after normal close")
	}
	assert.Equal(t, 1, dialer.count())
	assert.Len(t, timer.requested, 0)
	assert.Equal(t, StateClosedClean, ch.State())
}

func TestChannelGoingAwayIsTreatedAsAbnormal(t *testing.T) {
	conn := newScriptedConn()
	dialer := &scriptedDialer{conns: []*scriptedConn{conn}}
	timer := newManualTimer()
	ch := newTestChannel(t, dialer, timer, nil)

	done := runChannel(ch)
	require.Eventually(t, func() bool { return ch.State() == StateOpen }, waitFor, 5*time.Millisecond)

	conn.end <- &websocket.CloseError{Code: websocket.CloseGoingAway}
	select {
	case <-timer.requested:
	case <-time.After(waitFor):
		t.Fatal("1001 should schedule a reconnect")
	}

	require.NoError(t, ch.Close())
	require.NoError(t, <-done)
}

func TestChannelDialFailureSchedulesReconnect(t *testing.T) {
	conn := newScriptedConn()
	dialer := &scriptedDialer{
		errs:  []error{errors.New("connection refused"), nil},
		conns: []*scriptedConn{nil, conn},
	}
	timer := newManualTimer()
	ch := newTestChannel(t, dialer, timer, nil)

	done := runChannel(ch)
	select {
	case <-timer.requested:
	case <-time.After(waitFor):
		t.Fatal("dial failure should schedule a reconnect")
	}
	assert.Equal(t, 1, dialer.count())

	timer.fire <- time.Now()
	require.Eventually(t, func() bool { return ch.State() == StateOpen }, waitFor, 5*time.Millisecond)

	require.NoError(t, ch.Close())
	require.NoError(t, <-done)
}

func TestChannelDiscardsMalformedMessages(t *testing.T) {
	conn := newScriptedConn()
	dialer := &scriptedDialer{conns: []*scriptedConn{conn}}
	ch := newTestChannel(t, dialer, newManualTimer(), nil)

	refetches := newCounter()
	ch.Subscribe(AnyChange(), refetches.refetch)
	done := runChannel(ch)
	refetches.wait(t)

	conn.messages <- []byte(`not json`)
	conn.messages <- []byte(`{"type":"something_else","data":{}}`)
	conn.messages <- []byte(`{"type":"car_status_update","data":{"carId":1,"oldStatus":"PRE_ARRIVAL","newStatus":"FLYING","timestamp":"2026-03-14T08:00:00Z"}}`)
	conn.messages <- encode(t, 1, enums.CarStatusPreArrival, enums.CarStatusRegistered)

	refetches.wait(t)
	assert.Equal(t, 2, refetches.value())
	assert.Equal(t, StateOpen, ch.State())

	require.NoError(t, ch.Close())
	require.NoError(t, <-done)
}

func TestChannelRefetchesOncePerMatchingEvent(t *testing.T) {
	conn := newScriptedConn()
	dialer := &scriptedDialer{conns: []*scriptedConn{conn}}
	ch := newTestChannel(t, dialer, newManualTimer(), nil)

	onDeck := newCounter()
	car7 := newCounter()
	all := newCounter()
	ch.Subscribe(ForStatuses(enums.CarStatusOnDeck), onDeck.refetch)
	ch.Subscribe(ForCar(7), car7.refetch)
	ch.Subscribe(AnyChange(), all.refetch)

	done := runChannel(ch)
	onDeck.wait(t)
	car7.wait(t)
	all.wait(t)

	conn.messages <- encode(t, 3, enums.CarStatusRegistered, enums.CarStatusOnDeck)
	conn.messages <- encode(t, 7, enums.CarStatusPreArrival, enums.CarStatusRegistered)
	conn.messages <- encode(t, 3, enums.CarStatusOnDeck, enums.CarStatusDone)

	for i := 0; i < 3; i++ {
		all.wait(t)
	}
	assert.Equal(t, 4, all.value())
	assert.Eventually(t, func() bool { return onDeck.value() == 3 }, waitFor, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return car7.value() == 2 }, waitFor, 5*time.Millisecond)

	require.NoError(t, ch.Close())
	require.NoError(t, <-done)
	assert.Equal(t, 3, onDeck.value())
	assert.Equal(t, 2, car7.value())
}

func TestChannelUnsubscribeRemovesOnlyThatCallback(t *testing.T) {
	conn := newScriptedConn()
	dialer := &scriptedDialer{conns: []*scriptedConn{conn}}
	ch := newTestChannel(t, dialer, newManualTimer(), nil)

	kept := newCounter()
	removed := newCounter()
	ch.Subscribe(AnyChange(), kept.refetch)
	unsubscribe := ch.Subscribe(AnyChange(), removed.refetch)
	unsubscribe()
	unsubscribe()

	done := runChannel(ch)
	kept.wait(t)
	conn.messages <- encode(t, 1, enums.CarStatusPreArrival, enums.CarStatusRegistered)
	kept.wait(t)

	assert.Equal(t, 2, kept.value())
	assert.Equal(t, 0, removed.value())

	require.NoError(t, ch.Close())
	require.NoError(t, <-done)
}

func TestChannelDisconnectedAfterGrace(t *testing.T) {
	now := time.Date(2026, 3, 14, 8, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	advance := func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}

	conn := newScriptedConn()
	timer := newManualTimer()
	ch, err := NewChannel(Options{
		URL:    "ws://carline.test/ws/car-status",
		Dialer: &scriptedDialer{conns: []*scriptedConn{conn}},
		Logger: logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		After:  timer.After,
		Now:    clock,
	})
	require.NoError(t, err)

	assert.False(t, ch.Disconnected())
	advance(11 * time.Second)
	assert.True(t, ch.Disconnected())

	done := runChannel(ch)
	require.Eventually(t, func() bool { return ch.State() == StateOpen }, waitFor, 5*time.Millisecond)
	assert.False(t, ch.Disconnected())

	conn.end <- io.ErrUnexpectedEOF
	<-timer.requested
	assert.False(t, ch.Disconnected())
	advance(5 * time.Second)
	assert.False(t, ch.Disconnected())
	advance(6 * time.Second)
	assert.True(t, ch.Disconnected())

	require.NoError(t, ch.Close())
	require.NoError(t, <-done)
}

func TestChannelOverRealWebsocket(t *testing.T) {
	upgrader := websocket.Upgrader{}
	serverConns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverConns <- conn
	}))
	defer srv.Close()

	ch, err := NewChannel(Options{
		URL:    "ws" + strings.TrimPrefix(srv.URL, "http"),
		Logger: logger.New(logger.Options{ServiceName: "test", Output: io.Discard}),
		After:  newManualTimer().After,
	})
	require.NoError(t, err)

	view := NewView(func(context.Context) (int, error) { return 1, nil }, nil)
	refreshed := make(chan struct{}, 4)
	ch.Subscribe(ForCar(5), func(ctx context.Context) {
		view.Refresh(ctx)
		refreshed <- struct{}{}
	})

	done := runChannel(ch)
	server := <-serverConns
	defer server.Close()
	<-refreshed

	require.NoError(t, server.WriteMessage(websocket.TextMessage, encode(t, 5, enums.CarStatusRegistered, enums.CarStatusOnDeck)))
	select {
	case <-refreshed:
	case <-time.After(waitFor):
		t.Fatal("refetch not triggered over websocket")
	}
	assert.Equal(t, 2, view.Refreshes())

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye")
	require.NoError(t, server.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)))
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(waitFor):
		t.Fatal("run did not return after server closed normally")
	}
}
