package broadcast

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/multierr"

	"github.com/angelmondragon/carline-backend/pkg/metrics"
)

// Conn is the subset of *websocket.Conn the hub drives.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetReadLimit(limit int64)
	SetPongHandler(h func(appData string) error)
	Close() error
}

const closeWriteWait = time.Second

// Client is one registered observer connection with its own send queue.
type Client struct {
	id        string
	conn      Conn
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

// NewClient wraps a connection with a buffered send queue.
func NewClient(id string, conn Conn, buffer int) *Client {
	if buffer <= 0 {
		buffer = defaultClientBuffer
	}
	return &Client{
		id:   id,
		conn: conn,
		send: make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

// ID returns the client identifier used for registration.
func (c *Client) ID() string {
	return c.id
}

// Done is closed once the client has been closed.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) enqueue(payload []byte) error {
	select {
	case <-c.done:
		return &DeliveryError{ClientID: c.id, Reason: metrics.DeliveryClosed}
	default:
	}
	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return &DeliveryError{ClientID: c.id, Reason: metrics.DeliveryClosed}
	default:
		return &DeliveryError{ClientID: c.id, Reason: metrics.DeliveryFull}
	}
}

// Close sends a close frame with code when code > 0, then closes the
// connection. Only the first call has any effect.
func (c *Client) Close(code int, text string) error {
	var err error
	c.closeOnce.Do(func() {
		if code > 0 && c.conn != nil {
			msg := websocket.FormatCloseMessage(code, text)
			if werr := c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeWriteWait)); werr != nil && werr != websocket.ErrCloseSent {
				err = multierr.Append(err, werr)
			}
		}
		close(c.done)
		if c.conn != nil {
			err = multierr.Append(err, c.conn.Close())
		}
	})
	return err
}
