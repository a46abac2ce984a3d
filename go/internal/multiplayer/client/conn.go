package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrNotConnected = errors.New("not connected")

// Conn is a websocket connection to the race gateway. Writes are serialized;
// reads happen in Run.
type Conn struct {
	url          string
	headers      http.Header
	dialer       websocket.Dialer
	writeTimeout time.Duration

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func NewConn(url string) *Conn {
	return &Conn{
		url:     url,
		headers: make(http.Header),
		dialer: websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: 10 * time.Second,
		},
		writeTimeout: 10 * time.Second,
	}
}

func (c *Conn) SetHeader(key, value string) {
	c.headers.Set(key, value)
}

func (c *Conn) SetTimeout(timeout time.Duration) {
	c.dialer.HandshakeTimeout = timeout
	c.writeTimeout = timeout
}

// Dial opens the websocket
func (c *Conn) Dial(ctx context.Context) error {
	conn, resp, err := c.dialer.DialContext(ctx, c.url, c.headers)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("dial %s: %w (status %d)", c.url, err, resp.StatusCode)
		}
		return fmt.Errorf("dial %s: %w", c.url, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.closed = false
	c.mu.Unlock()

	log.Info().Str("url", c.url).Msg("connected to race gateway")
	return nil
}

// Send writes one text frame
func (c *Conn) Send(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Run reads frames and passes them to handle until the connection closes or
// ctx is cancelled. A cancelled context is not an error.
func (c *Conn) Run(ctx context.Context, handle func(frame []byte) error) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}

	stop := context.AfterFunc(ctx, func() { c.Close() })
	defer stop()

	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || c.isClosed() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}
		if err := handle(frame); err != nil {
			log.Warn().Err(err).Msg("failed to handle frame")
		}
	}
}

// Close sends a close frame and closes the socket
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return nil
	}
	c.conn.WriteControl(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second),
	)
	err := c.conn.Close()
	c.conn = nil
	c.closed = true
	return err
}

func (c *Conn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}
