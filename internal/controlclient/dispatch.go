package controlclient

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/coder/websocket"
	"github.com/starbeam-relay/agent/internal/protocol"
)

// readLoop reads complete text frames off ws and dispatches each by type,
// per spec.md §4.2's read-loop table. It returns when the connection is no
// longer usable; a nil error means a normal close.
func (c *Client) readLoop(ctx context.Context, ws *websocket.Conn) error {
	for {
		typ, data, err := ws.Read(ctx)
		if err != nil {
			return ignoreNormalClose(err)
		}
		if typ != websocket.MessageText {
			continue
		}

		msgType, err := protocol.ParseType(data)
		if err != nil {
			c.cfg.Logger.Warn("discarding malformed control frame", "error", err)
			continue
		}

		if err := c.dispatch(ctx, msgType, data); err != nil {
			return err
		}
	}
}

// dispatch handles one decoded frame. A non-nil return aborts the read-loop
// (today, only register_error does this).
func (c *Client) dispatch(ctx context.Context, msgType protocol.Type, data []byte) error {
	handlers := c.handlers.snapshot()

	switch msgType {
	case protocol.TypeRegisterAck:
		var ack protocol.RegisterAckMessage
		if err := json.Unmarshal(data, &ack); err != nil {
			c.cfg.Logger.Warn("malformed register_ack", "error", err)
			return nil
		}
		extAddr := ""
		if ack.ExternalAddress != nil {
			extAddr = *ack.ExternalAddress
		}
		c.assigned.set(ack.HostID, ack.Ports, extAddr)
		c.setState(StateRegistered)
		c.cfg.Logger.Info("registered", "host_id", ack.HostID)
		if c.udpInit != nil {
			relayHost, err := parseServerURL(c.cfg.ServerURL)
			if err == nil {
				c.udpInit(relayHost.Host, ack.Ports)
			}
		}

	case protocol.TypeRegisterError:
		var e protocol.ErrorMessage
		if err := json.Unmarshal(data, &e); err != nil {
			c.cfg.Logger.Warn("malformed register_error", "error", err)
		} else {
			c.cfg.Logger.Warn("registration rejected", "code", e.Code, "message", e.Message)
		}
		c.setState(StateError)
		return errRegisterRejected

	case protocol.TypeHTTPRequest:
		if handlers.http == nil {
			return nil
		}
		var req protocol.HTTPRequestMessage
		if err := json.Unmarshal(data, &req); err != nil {
			c.cfg.Logger.Warn("malformed http_request", "error", err)
			return nil
		}
		go c.serveHTTPRequest(handlers.http, req)

	case protocol.TypeRTSPRequest:
		if handlers.rtsp == nil {
			return nil
		}
		var req protocol.RTSPRequestMessage
		if err := json.Unmarshal(data, &req); err != nil {
			c.cfg.Logger.Warn("malformed rtsp_request", "error", err)
			return nil
		}
		go c.serveRTSPRequest(handlers.rtsp, req)

	case protocol.TypeSessionStart:
		if handlers.sessionStart == nil {
			return nil
		}
		var msg protocol.SessionStartMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.cfg.Logger.Warn("malformed session_start", "error", err)
			return nil
		}
		handlers.sessionStart(msg)

	case protocol.TypeSessionEnd:
		if handlers.sessionEnd == nil {
			return nil
		}
		var msg protocol.SessionEndMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.cfg.Logger.Warn("malformed session_end", "error", err)
			return nil
		}
		handlers.sessionEnd(msg.SessionID)

	case protocol.TypeUDPChannelSetup:
		if handlers.udpChannel == nil {
			return nil
		}
		var req protocol.UDPChannelSetupMessage
		if err := json.Unmarshal(data, &req); err != nil {
			c.cfg.Logger.Warn("malformed udp_channel_setup", "error", err)
			return nil
		}
		ack := handlers.udpChannel(req)
		ack.Type = protocol.TypeUDPChannelAck
		out, err := protocol.Marshal(ack)
		if err == nil {
			c.enqueueWrite(out)
		}

	case protocol.TypePing:
		var ping protocol.PingMessage
		if err := json.Unmarshal(data, &ping); err != nil {
			c.cfg.Logger.Warn("malformed ping", "error", err)
			return nil
		}
		pong := protocol.PongMessage{Type: protocol.TypePong, TS: ping.TS}
		out, err := protocol.Marshal(pong)
		if err == nil {
			c.enqueueWrite(out)
		}

	case protocol.TypeUDPChannelClose:
		// Accepted but intentionally a no-op: nothing in the protocol
		// describes when a relay would send this, and the agent has no
		// per-channel teardown trigger short of Stop(). See SPEC_FULL.md.
		c.cfg.Logger.Debug("ignoring udp_channel_close")

	case protocol.TypeError:
		var e protocol.ErrorMessage
		if err := json.Unmarshal(data, &e); err != nil {
			c.cfg.Logger.Warn("malformed error frame", "error", err)
			return nil
		}
		c.cfg.Logger.Warn("relay reported error", "code", e.Code, "message", e.Message)

	default:
		c.cfg.Logger.Warn("ignoring unknown control frame type", "type", msgType)
	}

	return nil
}

// serveHTTPRequest runs h off the read-loop goroutine so a slow local
// streaming host never stalls dispatch of other frames, per spec.md §9.
func (c *Client) serveHTTPRequest(h HTTPHandler, req protocol.HTTPRequestMessage) {
	resp := h(req)
	resp.Type = protocol.TypeHTTPResponse
	resp.ID = req.ID
	data, err := protocol.Marshal(resp)
	if err != nil {
		return
	}
	c.enqueueWrite(data)
}

func (c *Client) serveRTSPRequest(h RTSPHandler, req protocol.RTSPRequestMessage) {
	resp := h(req)
	resp.Type = protocol.TypeRTSPResponse
	resp.ID = req.ID
	data, err := protocol.Marshal(resp)
	if err != nil {
		return
	}
	c.enqueueWrite(data)
}

var errRegisterRejected = errors.New("relay rejected registration")

func ignoreNormalClose(err error) error {
	var closeErr websocket.CloseError
	if errors.As(err, &closeErr) && closeErr.Code == websocket.StatusNormalClosure {
		return nil
	}
	return err
}
