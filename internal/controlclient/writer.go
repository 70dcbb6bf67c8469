package controlclient

import (
	"context"

	"github.com/coder/websocket"
)

// runWriter is the single consumer of c.writeCh for the lifetime of one
// connection. Centralizing writes here, rather than letting every caller of
// enqueueWrite write directly to the socket, resolves spec.md §9's
// write-serialization note: coder/websocket's Conn.Write is not safe for
// concurrent use from multiple goroutines.
func (c *Client) runWriter(ctx context.Context, ws *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.writeCh:
			if !ok {
				return
			}
			if err := ws.Write(ctx, websocket.MessageText, data); err != nil {
				c.cfg.Logger.Warn("control channel write failed, dropping frame", "error", err)
				return
			}
		}
	}
}
