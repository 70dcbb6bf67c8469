// Package agent wires the control client, the loopback forwarder, and the
// UDP relay manager together into the single owned value spec.md §4.5
// describes as "lifecycle glue."
package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/starbeam-relay/agent/internal/controlclient"
	"github.com/starbeam-relay/agent/internal/forwarder"
	"github.com/starbeam-relay/agent/internal/metrics"
	"github.com/starbeam-relay/agent/internal/udprelay"
)

// Config is the subset of settings the agent needs to construct its
// components. It is deliberately narrower than internal/config.Config —
// this package never depends on the config-loading package, per spec.md
// §3's plain-struct boundary.
type Config struct {
	ServerURL              string
	AuthKey                string
	HostID                 string
	ReconnectInterval      time.Duration
	StreamingHostBasePort  uint16
	StreamingHostHTTPSPort uint16
	StreamingHostRTSPPort  uint16
	Hostname               string
	UniqueID               string
	TLSInsecureSkipVerify  bool
	Logger                *slog.Logger
	Metrics               *metrics.Metrics
}

// Agent is the single owned value a main package constructs: it starts the
// control client, registers handler shims over the forwarder and the UDP
// relay manager, and exposes lifecycle operations mirroring
// [controlclient.Client]'s.
type Agent struct {
	client  *controlclient.Client
	udp     *udprelay.Manager
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New constructs an Agent. It does not start anything until [Agent.Start].
func New(cfg Config) *Agent {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	udpMgr := udprelay.New(cfg.StreamingHostBasePort, logger)

	httpsPort := cfg.StreamingHostHTTPSPort
	if httpsPort == 0 {
		httpsPort = cfg.StreamingHostBasePort
	}
	rtspPort := cfg.StreamingHostRTSPPort
	if rtspPort == 0 {
		rtspPort = cfg.StreamingHostBasePort
	}
	httpFwd := forwarder.HTTP{HTTPPort: cfg.StreamingHostBasePort, HTTPSPort: httpsPort, Metrics: cfg.Metrics}
	rtspFwd := forwarder.RTSP{Port: rtspPort, Metrics: cfg.Metrics}

	if cfg.Metrics != nil {
		udpMgr.SetMetrics(cfg.Metrics)
	}

	client := controlclient.New(controlclient.Config{
		ServerURL:             cfg.ServerURL,
		AuthKey:               cfg.AuthKey,
		HostID:                cfg.HostID,
		ReconnectInterval:     cfg.ReconnectInterval,
		Hostname:              cfg.Hostname,
		UniqueID:              cfg.UniqueID,
		TLSInsecureSkipVerify: cfg.TLSInsecureSkipVerify,
		Logger:                logger,
	})

	client.SetHTTPHandler(httpFwd.Handle)
	client.SetRTSPHandler(rtspFwd.Handle)
	client.SetUDPChannelHandler(udpMgr.HandleChannelSetup)
	client.SetUDPInitHook(udpMgr.Initialize)
	if cfg.Metrics != nil {
		client.SetStateHandler(cfg.Metrics.ObserveState)
	}

	return &Agent{
		client:  client,
		udp:     udpMgr,
		metrics: cfg.Metrics,
		logger:  logger,
	}
}

// Start launches the control client's I/O goroutine. It returns once the
// goroutine has been launched; it does not block until registration
// completes. ctx is accepted for symmetry with the rest of the corpus's
// lifecycle methods but Start itself never blocks on it — use Stop to tear
// the Agent down.
func (a *Agent) Start(ctx context.Context) error {
	a.client.Start()
	return nil
}

// Stop tears lifecycle down in the reverse order of Start: stop the control
// client, then shut down the UDP relay manager.
func (a *Agent) Stop() {
	a.client.Stop()
	a.udp.Shutdown()
}

// Ready reports whether the control channel is registered with the relay.
func (a *Agent) Ready() bool {
	return a.client.IsReady()
}

// SendSessionEnd proxies to the control client, for callers (e.g. the
// local streaming host's own shutdown path) that need to announce a
// session ended without reaching into internal/controlclient directly.
func (a *Agent) SendSessionEnd(sessionID uint64, reason string) {
	a.client.SendSessionEnd(sessionID, reason)
}
