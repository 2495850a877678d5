package server

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/mbocsi/e4stream/proto"
)

const writeWait = 5 * time.Second

// WSClient writes samples to one peer as JSON text frames.
type WSClient struct {
	id   string
	conn *websocket.Conn
	wmu  sync.Mutex
	once sync.Once
}

func NewWSClient(conn *websocket.Conn) *WSClient {
	return &WSClient{id: generateClientId("ws"), conn: conn}
}

func (c *WSClient) ID() string { return c.id }

func (c *WSClient) Send(s proto.Sample) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	if err := c.conn.WriteJSON(s); err != nil {
		return err
	}
	slog.Debug("Sent WebSocket sample", "to", c.id, "stream", s.Stream)
	return nil
}

func (c *WSClient) Close() {
	c.once.Do(func() {
		c.wmu.Lock()
		defer c.wmu.Unlock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		c.conn.Close()
	})
}

func generateClientId(prefix string) string {
	return prefix + "-" + uuid.NewString()
}
