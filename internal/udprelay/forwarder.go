package udprelay

import (
	"errors"
	"net"

	"github.com/starbeam-relay/agent/internal/protocol"
)

// maxDatagramSize is large enough for any RTP/RTCP/control payload this
// agent forwards; matches original_source/udp.cpp's fixed 65535-byte buffer.
const maxDatagramSize = 65535

// runForwarder is the per-channel relay task of spec.md §4.4: it steers each
// datagram by comparing the sender's IP against the relay endpoint resolved
// when the channel was opened. Datagrams from the relay's IP go to the
// streaming host; all others go to the relay.
func (m *Manager) runForwarder(ch protocol.Channel, rec *channelRecord) {
	defer close(rec.done)

	buf := make([]byte, maxDatagramSize)
	for {
		n, senderAddr, err := rec.socket.ReadFromUDP(buf)
		if err != nil {
			if !rec.running || isClosedConnError(err) {
				return
			}
			m.logger.Warn("udp relay receive error", "channel", ch, "error", err)
			return
		}

		dest := rec.relayAddr
		direction := "to_relay"
		if senderAddr.IP.Equal(rec.relayAddr.IP) {
			dest = rec.localTarget
			direction = "to_host"
		}

		if _, err := rec.socket.WriteToUDP(buf[:n], dest); err != nil {
			m.logger.Warn("udp relay send error", "channel", ch, "error", err)
			continue
		}
		rec.metrics.AddUDPBytes(string(ch), direction, n)
	}
}

func isClosedConnError(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
