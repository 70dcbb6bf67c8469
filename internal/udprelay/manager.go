// Package udprelay implements the UDP relay manager of spec.md §4.4: one
// bidirectional forwarder per media channel (video, audio, control) between
// the relay server and the local streaming host.
package udprelay

import (
	"fmt"
	"log/slog"
	"net"
	"sync"

	"github.com/starbeam-relay/agent/internal/metrics"
	"github.com/starbeam-relay/agent/internal/protocol"
)

// channelRecord is the state of one open UDP relay channel: its socket, the
// relay endpoint, the streaming host's loopback endpoint (a fixed offset
// from the base port, see [Manager.sunshinePort]), and the forwarder's
// completion signal.
type channelRecord struct {
	running     bool
	socket      *net.UDPConn
	localPort   uint16
	relayAddr   *net.UDPAddr
	localTarget *net.UDPAddr
	done        chan struct{}

	// metrics is captured once at open time rather than read from Manager
	// by the forwarder goroutine, which never takes Manager.mu — see
	// [Manager.SetMetrics].
	metrics *metrics.Metrics
}

// Manager owns zero or more active channel forwarders. The zero value is
// not ready; construct with [New].
type Manager struct {
	basePort uint16

	mu        sync.Mutex
	running   bool
	relayHost string
	ports     protocol.Ports
	channels  map[protocol.Channel]*channelRecord

	logger  *slog.Logger
	metrics *metrics.Metrics
}

// SetMetrics installs m as the destination for per-channel gauges and byte
// counters. Calling it after channels are already open is safe but only
// affects channels opened afterward and the next Shutdown; it is meant to
// be called once, right after [New], the same way handler setters on
// [controlclient.Client] are meant to be called once before Start.
func (m *Manager) SetMetrics(metrics *metrics.Metrics) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metrics = metrics
}

// New constructs a Manager. basePort is the streaming host's configured
// base port (sunshine_port in the original implementation); video, audio,
// and control ports are base+9, base+10, and base+8 respectively.
func New(basePort uint16, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		basePort: basePort,
		channels: make(map[protocol.Channel]*channelRecord),
		logger:   logger,
	}
}

// Initialize points the manager at a relay host and its assigned
// per-channel ports, and marks it running. It is called from the control
// client's udpInit hook on every successful registration. A call on a
// manager that is already running is a no-op: the relay host, ports, and
// open channels from the first call are kept.
func (m *Manager) Initialize(relayHost string, ports protocol.Ports) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	m.relayHost = relayHost
	m.ports = ports
	m.running = true
	m.logger.Info("udp relay manager initialized",
		"relay_host", relayHost, "video_port", ports.Video, "audio_port", ports.Audio, "control_port", ports.Control)
}

func (m *Manager) sunshinePort(ch protocol.Channel) uint16 {
	switch ch {
	case protocol.ChannelVideo:
		return m.basePort + 9
	case protocol.ChannelAudio:
		return m.basePort + 10
	case protocol.ChannelControl:
		return m.basePort + 8
	default:
		return 0
	}
}

func (m *Manager) relayPort(ch protocol.Channel) uint16 {
	return m.ports.ForChannel(ch)
}

// HandleChannelSetup implements spec.md §4.4's handle_channel_setup: it is
// safe to call concurrently and is installed as the control client's
// [controlclient.UDPChannelHandler].
func (m *Manager) HandleChannelSetup(setup protocol.UDPChannelSetupMessage) protocol.UDPChannelAckMessage {
	ack := protocol.UDPChannelAckMessage{SessionID: setup.SessionID, Channel: setup.Channel}

	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return ack
	}

	sunshinePort := m.sunshinePort(setup.Channel)
	if sunshinePort == 0 {
		m.logger.Error("udp channel setup: unknown channel type", "channel", setup.Channel)
		return ack
	}
	relayPort := m.relayPort(setup.Channel)

	if rec, ok := m.channels[setup.Channel]; ok && rec != nil {
		ack.RelayPort = relayPort
		ack.LocalPort = rec.localPort
		return ack
	}

	rec, err := m.openChannel(setup.Channel, sunshinePort, relayPort, m.metrics)
	if err != nil {
		m.logger.Error("udp channel setup failed", "channel", setup.Channel, "error", err)
		return ack
	}

	m.channels[setup.Channel] = rec
	ack.RelayPort = relayPort
	ack.LocalPort = rec.localPort
	m.logger.Info("udp channel opened", "channel", setup.Channel, "local_port", rec.localPort, "relay_port", relayPort)
	m.metrics.SetUDPChannelActive(string(setup.Channel), true)
	return ack
}

func (m *Manager) openChannel(ch protocol.Channel, sunshinePort, relayPort uint16, metricsSink *metrics.Metrics) (*channelRecord, error) {
	socket, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: 0})
	if err != nil {
		return nil, fmt.Errorf("bind local socket: %w", err)
	}

	relayAddr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", m.relayHost, relayPort))
	if err != nil {
		socket.Close()
		return nil, fmt.Errorf("resolve relay endpoint: %w", err)
	}

	rec := &channelRecord{
		running:     true,
		socket:      socket,
		localPort:   uint16(socket.LocalAddr().(*net.UDPAddr).Port),
		relayAddr:   relayAddr,
		localTarget: &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: int(sunshinePort)},
		done:        make(chan struct{}),
		metrics:     metricsSink,
	}

	go m.runForwarder(ch, rec)
	return rec, nil
}

// Shutdown stops every active channel and blocks until their forwarder
// goroutines exit, per spec.md §4.4.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.running = false
	records := m.channels
	m.channels = make(map[protocol.Channel]*channelRecord)
	metricsSink := m.metrics
	m.mu.Unlock()

	for ch, rec := range records {
		rec.running = false
		rec.socket.Close()
		<-rec.done
		metricsSink.SetUDPChannelActive(string(ch), false)
	}
}
