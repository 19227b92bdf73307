package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// Conn is one full-duplex, message-framed connection. Each read or write
// carries exactly one complete protocol message, text-encoded.
type Conn interface {
	// Read blocks for the next inbound frame. On a peer close it returns
	// an error from which CloseInfo can recover the close code.
	Read() ([]byte, error)

	// Write transmits one frame.
	Write([]byte) error

	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// Dialer opens transport connections. The production implementation is
// WSDialer; tests substitute their own.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Conn, error)
}

// WSDialer dials WebSocket connections.
type WSDialer struct {
	dialer       *websocket.Dialer
	writeTimeout time.Duration
}

// NewWSDialer returns a Dialer with sane timeouts.
func NewWSDialer() *WSDialer {
	return &WSDialer{
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
		writeTimeout: 10 * time.Second,
	}
}

func (d *WSDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	conn, resp, err := d.dialer.DialContext(ctx, endpoint, nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	return &wsConn{conn: conn, writeTimeout: d.writeTimeout}, nil
}

type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

func (c *wsConn) Read() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) Write(data []byte) error {
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

// CloseInfo recovers the transport close code and reason from a read error.
// A zero code means the error carried no close frame (abrupt loss).
func CloseInfo(err error) (code int, reason string) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text
	}
	if err != nil {
		return 0, err.Error()
	}
	return 0, ""
}

// CloseMessageTooBig is the distinguished close code for a frame exceeding
// the transport's size limit. The client maps it to a "payload too large"
// notice instead of a generic disconnect.
const CloseMessageTooBig = websocket.CloseMessageTooBig

// Endpoint derives the socket endpoint from the service origin. The secure
// scheme mirrors the origin's own scheme: https origins get wss.
func Endpoint(origin string) (string, error) {
	u, err := url.Parse(origin)
	if err != nil {
		return "", fmt.Errorf("client: parse origin: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("client: unsupported origin scheme %q", u.Scheme)
	}
	u.Path = "/chat"
	u.RawQuery = ""
	return u.String(), nil
}
