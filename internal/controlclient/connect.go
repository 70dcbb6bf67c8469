package controlclient

import (
	"context"
	"fmt"

	"github.com/coder/websocket"
	"github.com/starbeam-relay/agent/internal/protocol"
)

// connectAndServe performs one full connect_once + read-loop cycle per
// spec.md §4.2. It returns when the read-loop exits, for any reason; run
// interprets a non-nil error as something worth logging before sleeping and
// retrying.
func (c *Client) connectAndServe() error {
	u, err := parseServerURL(c.cfg.ServerURL)
	if err != nil {
		c.setState(StateError)
		return err
	}

	var tlsCfg = c.tlsConfigFor(u.Host)
	ws, err := dialWebsocket(c.ctx, u, tlsCfg)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer ws.CloseNow()

	c.setState(StateConnected)

	reg := protocol.NewRegisterMessage(c.cfg.Hostname, c.cfg.UniqueID, c.cfg.AuthKey, c.cfg.HostID)
	data, err := protocol.Marshal(reg)
	if err != nil {
		return fmt.Errorf("marshal register: %w", err)
	}
	c.cfg.Logger.Info("sending registration", "register", reg)
	if err := ws.Write(c.ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("send register: %w", err)
	}

	writerDone := make(chan struct{})
	writeCtx, cancelWriter := context.WithCancel(c.ctx)
	defer cancelWriter()
	go func() {
		defer close(writerDone)
		c.runWriter(writeCtx, ws)
	}()

	err = c.readLoop(c.ctx, ws)
	cancelWriter()
	<-writerDone
	return err
}
