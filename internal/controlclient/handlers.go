package controlclient

import (
	"sync/atomic"

	"github.com/starbeam-relay/agent/internal/protocol"
)

// HTTPHandler forwards a parsed http_request and returns the response to
// write back. It receives only the request payload — never the client —
// per spec.md §9's cyclic-reference note.
type HTTPHandler func(protocol.HTTPRequestMessage) protocol.HTTPResponseMessage

// RTSPHandler is the RTSP analog of [HTTPHandler].
type RTSPHandler func(protocol.RTSPRequestMessage) protocol.RTSPResponseMessage

// UDPChannelHandler services a udp_channel_setup request.
type UDPChannelHandler func(protocol.UDPChannelSetupMessage) protocol.UDPChannelAckMessage

// SessionStartHandler observes a session_start notification.
type SessionStartHandler func(protocol.SessionStartMessage)

// SessionEndHandler observes a session_end notification's session ID.
type SessionEndHandler func(sessionID uint64)

// handlerSet is the atomically-swappable tuple of handler functions spec.md
// §9 asks for: dispatch loads one snapshot of this struct and invokes the
// handler it names without holding any mutex across the call.
type handlerSet struct {
	http         HTTPHandler
	rtsp         RTSPHandler
	udpChannel   UDPChannelHandler
	sessionStart SessionStartHandler
	sessionEnd   SessionEndHandler
	stateChange  StateChangeHandler
}

type handlerTable struct {
	p atomic.Pointer[handlerSet]
}

func newHandlerTable() *handlerTable {
	t := &handlerTable{}
	t.p.Store(&handlerSet{})
	return t
}

func (t *handlerTable) snapshot() *handlerSet {
	return t.p.Load()
}

// update replaces one field of the handler set via a copy-and-swap so
// concurrent setters never race on a partially-updated struct.
func (t *handlerTable) update(mutate func(*handlerSet)) {
	for {
		cur := t.p.Load()
		next := *cur
		mutate(&next)
		if t.p.CompareAndSwap(cur, &next) {
			return
		}
	}
}
