package transport

import (
	"context"
	"fmt"
	"sync"

	"github.com/coder/websocket"
)

const (
	wsSubprotocolV1 = "cellar.sync.v1"

	// Max bytes per websocket frame read (hard limit).
	wsMaxFrameBytes = 64 << 10 // 64 KiB
)

// WSDialer opens websocket-backed duplex channels speaking the sync v1
// subprotocol.
type WSDialer struct{}

// NewWSDialer constructs a websocket dialer.
func NewWSDialer() *WSDialer { return &WSDialer{} }

// Dial opens a websocket connection and wraps it as a DuplexChannel.
func (d *WSDialer) Dial(ctx context.Context, url string) (DuplexChannel, error) {
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		Subprotocols: []string{wsSubprotocolV1},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChannelUnavailable, err)
	}

	conn.SetReadLimit(wsMaxFrameBytes)

	return &wsChannel{conn: conn}, nil
}

// wsChannel adapts one websocket connection to the DuplexChannel interface.
// The connection is owned exclusively by this channel.
type wsChannel struct {
	conn *websocket.Conn

	closeOnce sync.Once
	closeErr  error
}

func (c *wsChannel) Send(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

func (c *wsChannel) Receive(ctx context.Context) ([]byte, error) {
	mt, data, err := c.conn.Read(ctx)
	if err != nil {
		if code := websocket.CloseStatus(err); code != -1 {
			return nil, &CloseError{Code: int(code), Reason: err.Error()}
		}
		return nil, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return nil, fmt.Errorf("transport: unsupported message type: %v", mt)
	}
	return data, nil
}

func (c *wsChannel) Close(reason string) error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close(websocket.StatusNormalClosure, reason)
	})
	return c.closeErr
}
