// Package protocol defines the wire format for the starbeam-agent control
// channel.
//
// Every control-channel frame is a single JSON object carrying a top-level
// "type" field. Types are grouped into messages the agent receives from the
// relay and messages it sends back; see [Type] for the full set. Unknown
// type strings decode without error (see [ParseType]) — dispatch, not
// decoding, is responsible for dropping them.
package protocol

import (
	"encoding/json"
	"log/slog"
)

// Type identifies the shape of a control-channel message.
type Type string

const (
	TypeRegister        Type = "register"
	TypeRegisterAck     Type = "register_ack"
	TypeRegisterError   Type = "register_error"
	TypeHTTPRequest     Type = "http_request"
	TypeHTTPResponse    Type = "http_response"
	TypeRTSPRequest     Type = "rtsp_request"
	TypeRTSPResponse    Type = "rtsp_response"
	TypeUDPChannelSetup Type = "udp_channel_setup"
	TypeUDPChannelAck   Type = "udp_channel_ack"
	TypeUDPChannelClose Type = "udp_channel_close"
	TypeSessionStart    Type = "session_start"
	TypeSessionEnd      Type = "session_end"
	TypePing            Type = "ping"
	TypePong            Type = "pong"
	TypeError           Type = "error"
	TypeUnknown         Type = ""
)

// Channel identifies one of the three UDP media relay channels.
type Channel string

const (
	ChannelVideo   Channel = "video"
	ChannelAudio   Channel = "audio"
	ChannelControl Channel = "control"
)

// Ports is the port assignment the relay hands back in a RegisterAck.
type Ports struct {
	HTTP    uint16 `json:"http"`
	HTTPS   uint16 `json:"https"`
	RTSP    uint16 `json:"rtsp"`
	Video   uint16 `json:"video"`
	Audio   uint16 `json:"audio"`
	Control uint16 `json:"control"`
}

// ForChannel returns the relay-side port for the given UDP channel type,
// or 0 if ch is not one of [ChannelVideo], [ChannelAudio], [ChannelControl].
func (p Ports) ForChannel(ch Channel) uint16 {
	switch ch {
	case ChannelVideo:
		return p.Video
	case ChannelAudio:
		return p.Audio
	case ChannelControl:
		return p.Control
	default:
		return 0
	}
}

// Capabilities describes what the local streaming host can encode. Only
// VideoCodecs and AudioCodecs are ever populated by this agent; the
// Max* fields exist for wire compatibility but are never sent.
type Capabilities struct {
	MaxWidth    *uint32  `json:"max_width,omitempty"`
	MaxHeight   *uint32  `json:"max_height,omitempty"`
	MaxFPS      *uint32  `json:"max_fps,omitempty"`
	VideoCodecs []string `json:"video_codecs"`
	AudioCodecs []string `json:"audio_codecs"`
}

// DefaultCapabilities is the fixed capability set every registration
// advertises. The original implementation never makes this configurable.
var DefaultCapabilities = Capabilities{
	VideoCodecs: []string{"H264", "HEVC", "AV1"},
	AudioCodecs: []string{"opus"},
}

// RegisterMessage is sent by the agent immediately after the control
// WebSocket is established.
type RegisterMessage struct {
	Type         Type         `json:"type"`
	Hostname     string       `json:"hostname"`
	UniqueID     string       `json:"unique_id"`
	AuthKey      string       `json:"auth_key"`
	HostID       string       `json:"host_id,omitempty"`
	Capabilities Capabilities `json:"capabilities"`
}

// LogValue implements slog.LogValuer, redacting AuthKey whenever a
// RegisterMessage is passed as a log attribute, so registration payloads
// never leak the shared secret into logs.
func (m RegisterMessage) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("type", string(m.Type)),
		slog.String("hostname", m.Hostname),
		slog.String("unique_id", m.UniqueID),
		slog.String("host_id", m.HostID),
		slog.String("auth_key", "REDACTED"),
	)
}

// NewRegisterMessage builds the fixed-shape registration message for
// (hostname, uniqueID, authKey, hostID).
func NewRegisterMessage(hostname, uniqueID, authKey, hostID string) RegisterMessage {
	return RegisterMessage{
		Type:         TypeRegister,
		Hostname:     hostname,
		UniqueID:     uniqueID,
		AuthKey:      authKey,
		HostID:       hostID,
		Capabilities: DefaultCapabilities,
	}
}

// RegisterAckMessage is received once the relay has accepted a registration.
type RegisterAckMessage struct {
	Type            Type    `json:"type"`
	HostID          string  `json:"host_id"`
	Ports           Ports   `json:"ports"`
	ExternalAddress *string `json:"external_address,omitempty"`
}

// ErrorMessage is the shared shape of register_error and error frames.
type ErrorMessage struct {
	Type      Type    `json:"type"`
	Code      string  `json:"code"`
	Message   string  `json:"message"`
	RequestID *uint64 `json:"request_id,omitempty"`
}

// HTTPRequestMessage is an ingress HTTP request forwarded by the relay.
type HTTPRequestMessage struct {
	Type       Type              `json:"type"`
	ID         uint64            `json:"id"`
	Method     string            `json:"method"`
	Path       string            `json:"path"`
	Query      string            `json:"query,omitempty"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body,omitempty"`
	IsHTTPS    bool              `json:"is_https"`
	ClientAddr string            `json:"client_addr"`
}

// HTTPResponseMessage is the agent's reply to an [HTTPRequestMessage].
type HTTPResponseMessage struct {
	Type    Type              `json:"type"`
	ID      uint64            `json:"id"`
	Status  uint16            `json:"status"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body,omitempty"`
}

// RTSPRequestMessage is an ingress RTSP request forwarded by the relay.
type RTSPRequestMessage struct {
	Type       Type              `json:"type"`
	ID         uint64            `json:"id"`
	Method     string            `json:"method"`
	URI        string            `json:"uri"`
	Headers    map[string]string `json:"headers"`
	Body       string            `json:"body,omitempty"`
	ClientAddr string            `json:"client_addr"`
}

// RTSPResponseMessage is the agent's reply to an [RTSPRequestMessage].
type RTSPResponseMessage struct {
	Type    Type              `json:"type"`
	ID      uint64            `json:"id"`
	Status  uint16            `json:"status"`
	Reason  string            `json:"reason"`
	Headers map[string]string `json:"headers"`
	Body    string            `json:"body,omitempty"`
}

// UDPChannelSetupMessage requests that the agent open a UDP relay channel.
type UDPChannelSetupMessage struct {
	Type       Type    `json:"type"`
	SessionID  uint64  `json:"session_id"`
	Channel    Channel `json:"channel"`
	ClientAddr string  `json:"client_addr"`
}

// UDPChannelAckMessage is the agent's reply to a channel setup request.
// RelayPort and LocalPort are both 0 to signal failure.
type UDPChannelAckMessage struct {
	Type      Type    `json:"type"`
	SessionID uint64  `json:"session_id"`
	Channel   Channel `json:"channel"`
	RelayPort uint16  `json:"relay_port"`
	LocalPort uint16  `json:"local_port"`
}

// UDPChannelCloseMessage is accepted on the wire but intentionally a no-op;
// see SPEC_FULL.md for why.
type UDPChannelCloseMessage struct {
	Type      Type    `json:"type"`
	SessionID uint64  `json:"session_id"`
	Channel   Channel `json:"channel"`
}

// SessionStartMessage notifies the agent that a remote client began a
// streaming session.
type SessionStartMessage struct {
	Type       Type   `json:"type"`
	SessionID  uint64 `json:"session_id"`
	ClientID   string `json:"client_id"`
	ClientAddr string `json:"client_addr"`
}

// SessionEndMessage notifies (or, when sent, announces) that a session ended.
type SessionEndMessage struct {
	Type      Type   `json:"type"`
	SessionID uint64 `json:"session_id"`
	Reason    string `json:"reason,omitempty"`
}

// PingMessage is received from the relay; the agent echoes TS in a PongMessage.
type PingMessage struct {
	Type Type   `json:"type"`
	TS   uint64 `json:"ts"`
}

// PongMessage is the agent's echo of a PingMessage.
type PongMessage struct {
	Type Type   `json:"type"`
	TS   uint64 `json:"ts"`
}

// Envelope is the minimal shape every incoming frame is first decoded into,
// just enough to read the "type" discriminator and dispatch.
type Envelope struct {
	Type Type `json:"type"`
}

// ParseType extracts the "type" field from a raw frame. A malformed frame
// returns TypeUnknown and a non-nil error. A well-formed frame with an
// unrecognized type string returns that raw string and a nil error —
// spec.md treats unknown types as a dispatch concern, not a decode error.
func ParseType(data []byte) (Type, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return TypeUnknown, err
	}
	return env.Type, nil
}

var knownTypes = map[Type]bool{
	TypeRegister:        true,
	TypeRegisterAck:     true,
	TypeRegisterError:   true,
	TypeHTTPRequest:     true,
	TypeHTTPResponse:    true,
	TypeRTSPRequest:     true,
	TypeRTSPResponse:    true,
	TypeUDPChannelSetup: true,
	TypeUDPChannelAck:   true,
	TypeUDPChannelClose: true,
	TypeSessionStart:    true,
	TypeSessionEnd:      true,
	TypePing:            true,
	TypePong:            true,
	TypeError:           true,
}

// IsKnown reports whether t is one of the fifteen message types spec.md
// §4.1 enumerates (TypeUnknown itself is not "known").
func IsKnown(t Type) bool {
	return knownTypes[t]
}

// Marshal is a thin wrapper over json.Marshal kept here so every outgoing
// message is produced through one call site.
func Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}
