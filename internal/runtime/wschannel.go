package runtime

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/voicegate-labs/voicegate-core/internal/session"
)

// wsChannel adapts a gorilla WebSocket connection to session.Channel.
// A pump goroutine reads frames so that a client disconnect cancels the
// session context even while pipeline work is in flight.
type wsChannel struct {
	conn   *websocket.Conn
	frames chan session.Frame
	cancel context.CancelFunc

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func newWSChannel(conn *websocket.Conn, cancel context.CancelFunc) *wsChannel {
	c := &wsChannel{
		conn:   conn,
		frames: make(chan session.Frame, 8),
		cancel: cancel,
	}
	go c.pump()
	return c
}

func (c *wsChannel) pump() {
	defer close(c.frames)
	defer c.cancel()
	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		switch messageType {
		case websocket.TextMessage:
			c.frames <- session.Frame{Type: session.FrameText, Data: data}
		case websocket.BinaryMessage:
			c.frames <- session.Frame{Type: session.FrameBinary, Data: data}
		}
	}
}

func (c *wsChannel) ReadFrame(ctx context.Context) (session.Frame, error) {
	select {
	case frame, ok := <-c.frames:
		if !ok {
			return session.Frame{}, io.EOF
		}
		return frame, nil
	case <-ctx.Done():
		return session.Frame{}, ctx.Err()
	}
}

func (c *wsChannel) WriteJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteJSON(v)
}

func (c *wsChannel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}
