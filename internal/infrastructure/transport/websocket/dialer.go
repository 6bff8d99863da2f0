package websocket

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	gws "github.com/gorilla/websocket"

	"github.com/kirillkom/taskchannel/internal/core/domain"
	"github.com/kirillkom/taskchannel/internal/core/ports"
)

// Dialer opens the task-progress transport, authenticating with the
// short-lived credential passed as a query parameter.
type Dialer struct {
	handshakeTimeout time.Duration
}

func NewDialer(handshakeTimeout time.Duration) *Dialer {
	if handshakeTimeout <= 0 {
		handshakeTimeout = 10 * time.Second
	}
	return &Dialer{handshakeTimeout: handshakeTimeout}
}

func (d *Dialer) Dial(ctx context.Context, cred domain.Credential) (ports.Conn, error) {
	endpoint, err := url.Parse(cred.WSURL)
	if err != nil {
		return nil, fmt.Errorf("parse ws url: %w", err)
	}
	query := endpoint.Query()
	query.Set("token", cred.Token)
	endpoint.RawQuery = query.Encode()

	dialer := &gws.Dialer{HandshakeTimeout: d.handshakeTimeout}
	ctx, cancel := context.WithTimeout(ctx, d.handshakeTimeout)
	defer cancel()

	conn, resp, err := dialer.DialContext(ctx, endpoint.String(), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("ws handshake: %w (status %s)", err, resp.Status)
		}
		return nil, fmt.Errorf("ws handshake: %w", err)
	}
	return &wsConn{conn: conn}, nil
}

type wsConn struct {
	conn *gws.Conn

	// Writes may come from the debounce timer and the open flush
	// concurrently; gorilla allows only one concurrent writer.
	writeMu sync.Mutex
}

func (c *wsConn) ReadMessage() ([]byte, error) {
	_, data, err := c.conn.ReadMessage()
	return data, err
}

func (c *wsConn) WriteJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *wsConn) Close() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	deadline := time.Now().Add(time.Second)
	_ = c.conn.WriteControl(gws.CloseMessage, gws.FormatCloseMessage(gws.CloseNormalClosure, ""), deadline)
	return c.conn.Close()
}
