package channel

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const (
	handshakeTimeout = 15 * time.Second
	writeTimeout     = 10 * time.Second
	maxInboundBytes  = 2 << 20
)

// CloseNormal is the close code for a graceful, client-initiated shutdown.
// Any other code arriving from the peer is an error condition.
const CloseNormal = 1000

// Handlers receives channel events. All callbacks are invoked from the
// client's single read goroutine, so they never interleave with each other.
type Handlers struct {
	OnJSON   func(raw []byte)
	OnBinary func(data []byte)
	OnClose  func(code int, reason string)
	OnError  func(err error)
}

// Client owns one duplex websocket connection to the assistant backend.
// Sends are serialized by an internal mutex; Send* report "not open" as a
// false return rather than an error, since a half-closed channel is a normal
// condition for callers racing teardown.
type Client struct {
	conn     *websocket.Conn
	handlers Handlers

	writeMu   sync.Mutex
	closeOnce sync.Once
	open      atomic.Bool
	localCode atomic.Int32
	done      chan struct{}
}

// Dial opens the channel. Cancelling ctx before the handshake completes
// aborts the dial; after Dial returns the connection is no longer bound to
// ctx and lives until Close.
func Dial(ctx context.Context, url string, handlers Handlers) (*Client, error) {
	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	conn.SetReadLimit(maxInboundBytes)

	c := &Client{
		conn:     conn,
		handlers: handlers,
		done:     make(chan struct{}),
	}
	c.open.Store(true)
	go c.readLoop()
	return c, nil
}

// IsOpen reports whether the channel still accepts sends.
func (c *Client) IsOpen() bool {
	return c != nil && c.open.Load()
}

// SendJSON marshals and sends one control message. Returns false if the
// channel is not open or the write fails.
func (c *Client) SendJSON(v any) bool {
	if !c.IsOpen() {
		return false
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteJSON(v); err != nil {
		c.open.Store(false)
		return false
	}
	return true
}

// SendBinary sends one raw audio frame. Same non-throwing contract as SendJSON.
func (c *Client) SendBinary(data []byte) bool {
	if !c.IsOpen() {
		return false
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
		c.open.Store(false)
		return false
	}
	return true
}

// Close performs a graceful shutdown with the given close code. Safe to call
// multiple times, including from inside a Handlers callback; only the first
// call writes the close frame. The read loop reports the local code via
// OnClose once the connection unwinds.
func (c *Client) Close(code int, reason string) {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		c.open.Store(false)
		c.localCode.Store(int32(code))
		c.writeMu.Lock()
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(2*time.Second),
		)
		c.writeMu.Unlock()
		_ = c.conn.Close()
	})
}

// Done is closed once the read loop has exited and all events are delivered.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.open.Store(false)
			code, reason := closeDetails(err)
			if local := c.localCode.Load(); local != 0 {
				// Locally initiated shutdown; report the code we sent and
				// swallow the resulting read error.
				if c.handlers.OnClose != nil {
					c.handlers.OnClose(int(local), reason)
				}
				return
			}
			if code == -1 {
				if c.handlers.OnError != nil {
					c.handlers.OnError(err)
				}
				code = websocket.CloseAbnormalClosure
			}
			if c.handlers.OnClose != nil {
				c.handlers.OnClose(code, reason)
			}
			return
		}
		switch messageType {
		case websocket.TextMessage:
			if c.handlers.OnJSON != nil {
				c.handlers.OnJSON(data)
			}
		case websocket.BinaryMessage:
			if c.handlers.OnBinary != nil {
				c.handlers.OnBinary(append([]byte(nil), data...))
			}
		}
	}
}

// closeDetails extracts the numeric close code and reason text from a read
// error, returning -1 when the error is not a websocket close frame.
func closeDetails(err error) (int, string) {
	if ce, ok := err.(*websocket.CloseError); ok {
		return ce.Code, ce.Text
	}
	return -1, ""
}
