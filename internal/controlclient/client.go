// Package controlclient implements the persistent, authenticated,
// auto-reconnecting control-channel client described in spec.md §4.2: it
// dials the relay's WebSocket control channel, registers, dispatches
// incoming typed messages to caller-supplied handlers, and reconnects on
// any transport failure.
package controlclient

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/starbeam-relay/agent/internal/protocol"
)

// Config holds the relay endpoint config spec.md §3 describes. [New] copies
// it, so no field can change once the [Client] is constructed.
type Config struct {
	// ServerURL is the control-channel WebSocket URL (ws:// or wss://).
	ServerURL string
	// AuthKey is the shared secret sent in every registration.
	AuthKey string
	// HostID optionally pins a fixed identity; empty means the relay
	// assigns one.
	HostID string
	// ReconnectInterval is the fixed delay between reconnect attempts.
	// Spec.md §4.2 specifies no backoff; see SPEC_FULL.md for why this
	// stays fixed rather than growing.
	ReconnectInterval time.Duration

	// Hostname defaults to os.Hostname() if empty.
	Hostname string
	// UniqueID defaults to Hostname + "_" + a process-lifetime-stable tick
	// count if empty.
	UniqueID string

	// TLSInsecureSkipVerify disables server certificate verification when
	// true. The field's zero value (false) leaves verification on;
	// internal/config's loader defaults the setting to true.
	TLSInsecureSkipVerify bool
	// TLSRootCAs is used to verify the server certificate when
	// TLSInsecureSkipVerify is false. Nil means the system root pool.
	TLSRootCAs *x509.CertPool

	// Logger defaults to slog.Default() if nil.
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.Hostname == "" {
		c.Hostname, _ = os.Hostname()
	}
	if c.UniqueID == "" {
		c.UniqueID = fmt.Sprintf("%s_%d", c.Hostname, time.Now().UnixNano())
	}
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = 5 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// assignedState is the "Assigned state" of spec.md §3: populated after
// registration, cleared on disconnect.
type assignedState struct {
	mu              sync.RWMutex
	hostID          string
	ports           protocol.Ports
	externalAddress string
}

func (a *assignedState) set(hostID string, ports protocol.Ports, externalAddress string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.hostID = hostID
	a.ports = ports
	a.externalAddress = externalAddress
}

func (a *assignedState) clear() {
	a.set("", protocol.Ports{}, "")
}

func (a *assignedState) get() (hostID string, ports protocol.Ports, externalAddress string) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.hostID, a.ports, a.externalAddress
}

// Client is the control-channel client of spec.md §4.2. The zero value is
// not usable; construct with [New].
type Client struct {
	cfg      Config
	state    stateHolder
	assigned assignedState
	handlers *handlerTable

	running  atomic.Bool
	lifecyle sync.Mutex // guards start/stop transitions

	ctx     context.Context
	cancel  context.CancelFunc
	doneCh  chan struct{}
	writeCh chan []byte

	writeMu sync.Mutex // closing writeCh races with sends; guarded here

	// udpInit is invoked on register_ack with the relay host parsed from
	// ServerURL and the assigned video/audio/control ports, per spec.md
	// §4.2's read-loop table. It is distinct from the handler tuple
	// because it is wiring, not a per-message domain handler.
	udpInit func(relayHost string, ports protocol.Ports)
}

// New constructs a Client for cfg. It does not connect until [Client.Start]
// is called.
func New(cfg Config) *Client {
	return &Client{
		cfg:      cfg.withDefaults(),
		handlers: newHandlerTable(),
	}
}

// Start launches the client's I/O goroutine. Idempotent: calling Start on
// an already-running client is a no-op that returns true.
func (c *Client) Start() bool {
	c.lifecyle.Lock()
	defer c.lifecyle.Unlock()
	if c.running.Load() {
		return true
	}
	c.running.Store(true)
	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.doneCh = make(chan struct{})
	c.writeCh = make(chan []byte, 64)

	go c.run()
	return true
}

// Stop signals shutdown, aborts in-flight operations, waits for the I/O
// goroutine to terminate, clears assigned state, and transitions to
// Disconnected. Idempotent.
func (c *Client) Stop() {
	c.lifecyle.Lock()
	if !c.running.Load() {
		c.lifecyle.Unlock()
		return
	}
	c.running.Store(false)
	c.cancel()
	done := c.doneCh
	c.lifecyle.Unlock()

	<-done

	c.writeMu.Lock()
	close(c.writeCh)
	c.writeMu.Unlock()

	c.assigned.clear()
	c.setState(StateDisconnected)
}

// IsReady reports whether the client is registered and ready to carry
// traffic.
func (c *Client) IsReady() bool {
	return c.GetState() == StateRegistered
}

// GetState returns the current connection state.
func (c *Client) GetState() State {
	return c.state.load()
}

// GetHostID returns the relay-assigned host ID, or "" if not registered.
func (c *Client) GetHostID() string {
	id, _, _ := c.assigned.get()
	return id
}

// GetPorts returns the relay-assigned port mapping, or the zero value if
// not registered.
func (c *Client) GetPorts() protocol.Ports {
	_, ports, _ := c.assigned.get()
	return ports
}

// GetExternalAddress returns the relay-reported external address, if any.
func (c *Client) GetExternalAddress() string {
	_, _, addr := c.assigned.get()
	return addr
}

// SetHTTPHandler installs the handler invoked for every http_request.
func (c *Client) SetHTTPHandler(h HTTPHandler) {
	c.handlers.update(func(s *handlerSet) { s.http = h })
}

// SetRTSPHandler installs the handler invoked for every rtsp_request.
func (c *Client) SetRTSPHandler(h RTSPHandler) {
	c.handlers.update(func(s *handlerSet) { s.rtsp = h })
}

// SetUDPChannelHandler installs the handler invoked for every
// udp_channel_setup.
func (c *Client) SetUDPChannelHandler(h UDPChannelHandler) {
	c.handlers.update(func(s *handlerSet) { s.udpChannel = h })
}

// SetSessionStartHandler installs the optional session_start observer.
func (c *Client) SetSessionStartHandler(h SessionStartHandler) {
	c.handlers.update(func(s *handlerSet) { s.sessionStart = h })
}

// SetSessionEndHandler installs the optional session_end observer.
func (c *Client) SetSessionEndHandler(h SessionEndHandler) {
	c.handlers.update(func(s *handlerSet) { s.sessionEnd = h })
}

// SetStateHandler installs the optional connection-state observer.
func (c *Client) SetStateHandler(h StateChangeHandler) {
	c.handlers.update(func(s *handlerSet) { s.stateChange = h })
}

// SetUDPInitHook installs the callback invoked once per successful
// registration with the relay host and the relay-assigned media ports, so
// the caller can (re)initialize its UDP relay manager. Unlike the handler
// setters above, this is wiring rather than a per-message domain handler —
// see the udpInit field comment on [Client].
func (c *Client) SetUDPInitHook(h func(relayHost string, ports protocol.Ports)) {
	c.udpInit = h
}

// SendSessionEnd emits a session_end message if the channel is currently
// writable; otherwise it silently drops the send, per spec.md §4.2.
func (c *Client) SendSessionEnd(sessionID uint64, reason string) {
	if c.GetState() != StateRegistered && c.GetState() != StateConnected {
		return
	}
	msg := protocol.SessionEndMessage{Type: protocol.TypeSessionEnd, SessionID: sessionID, Reason: reason}
	data, err := protocol.Marshal(msg)
	if err != nil {
		return
	}
	c.enqueueWrite(data)
}

// enqueueWrite hands data to the writer goroutine without blocking
// indefinitely; it is the single path every goroutine uses to emit a frame,
// resolving spec.md §9's write-serialization note.
func (c *Client) enqueueWrite(data []byte) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if !c.running.Load() {
		return
	}
	select {
	case c.writeCh <- data:
	default:
		c.cfg.Logger.Warn("control channel write queue full, dropping frame")
	}
}

func (c *Client) setState(new State) {
	old, changed := c.state.set(new)
	if !changed {
		return
	}
	h := c.handlers.snapshot().stateChange
	if h != nil {
		h(old, new)
	}
}

// run is the reconnect state machine of spec.md §4.2's pseudocode.
func (c *Client) run() {
	defer close(c.doneCh)
	for {
		c.setState(StateConnecting)
		err := c.connectAndServe()
		if err != nil {
			c.cfg.Logger.Warn("control channel disconnected", "error", err)
		}
		c.setState(StateDisconnected)
		c.assigned.clear()

		if !c.running.Load() {
			return
		}

		select {
		case <-c.ctx.Done():
			return
		case <-time.After(c.cfg.ReconnectInterval):
		}
	}
}

// tlsConfigFor builds the *tls.Config used for a wss:// dial.
func (c *Client) tlsConfigFor(host string) *tls.Config {
	return &tls.Config{
		ServerName:         host,
		InsecureSkipVerify: c.cfg.TLSInsecureSkipVerify,
		RootCAs:            c.cfg.TLSRootCAs,
		MinVersion:         tls.VersionTLS12,
	}
}

// dialWebsocket is overridable in tests to inject a custom net.Dialer/TLS
// dial function without reaching into connectAndServe's internals.
var dialWebsocket = func(ctx context.Context, u relayURL, tlsCfg *tls.Config) (*websocket.Conn, error) {
	target := fmt.Sprintf("%s://%s:%s%s", u.Scheme, u.Host, u.Port, u.Path)

	httpClient := &http.Client{}
	if u.Scheme == "wss" {
		httpClient.Transport = &http.Transport{
			DialContext:     (&net.Dialer{Timeout: 30 * time.Second}).DialContext,
			TLSClientConfig: tlsCfg,
		}
	} else {
		httpClient.Transport = &http.Transport{
			DialContext: (&net.Dialer{Timeout: 30 * time.Second}).DialContext,
		}
	}
	ws, _, err := websocket.Dial(ctx, target, &websocket.DialOptions{HTTPClient: httpClient})
	return ws, err
}
