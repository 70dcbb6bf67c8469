package protocol

import (
	"encoding/json"
	"log/slog"
	"strings"
	"testing"
)

func TestParseType(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		want    Type
		wantErr bool
	}{
		{"register_ack", `{"type":"register_ack","host_id":"h1"}`, TypeRegisterAck, false},
		{"unknown type value", `{"type":"never_heard_of_it"}`, "never_heard_of_it", false},
		{"missing type", `{"host_id":"h1"}`, TypeUnknown, false},
		{"malformed json", `{"type":`, TypeUnknown, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseType([]byte(tt.data))
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("type = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestIsKnown(t *testing.T) {
	if !IsKnown(TypePing) {
		t.Error("ping should be known")
	}
	if IsKnown("never_heard_of_it") {
		t.Error("unrecognized type should not be known")
	}
	if IsKnown(TypeUnknown) {
		t.Error("TypeUnknown itself should not be known")
	}
}

func TestRegisterMessageRoundTrip(t *testing.T) {
	msg := NewRegisterMessage("host-a", "host-a_123", "secret", "fixed-id")
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var got RegisterMessage
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.Hostname != msg.Hostname || got.UniqueID != msg.UniqueID || got.AuthKey != msg.AuthKey {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, msg)
	}
	if len(got.Capabilities.VideoCodecs) != 3 || got.Capabilities.VideoCodecs[0] != "H264" {
		t.Errorf("video codecs = %v, want fixed H264/HEVC/AV1 set", got.Capabilities.VideoCodecs)
	}
	if got.Capabilities.MaxWidth != nil {
		t.Error("max_width should never be set")
	}
}

func TestRegisterMessageOmitsOptionalHostID(t *testing.T) {
	msg := NewRegisterMessage("host-a", "host-a_123", "secret", "")
	data, _ := json.Marshal(msg)
	if strings.Contains(string(data), "host_id") {
		t.Errorf("expected host_id to be omitted when empty, got: %s", data)
	}
}

func TestRegisterMessageLogValueRedactsAuthKey(t *testing.T) {
	msg := NewRegisterMessage("host-a", "host-a_123", "top-secret", "")
	lv := msg.LogValue()
	if lv.Kind() != slog.KindGroup {
		t.Fatalf("LogValue().Kind() = %v, want KindGroup", lv.Kind())
	}
	var sawRedacted bool
	for _, attr := range lv.Group() {
		if attr.Key == "auth_key" {
			sawRedacted = attr.Value.String() == "REDACTED"
		}
		if strings.Contains(attr.Value.String(), "top-secret") {
			t.Errorf("auth key leaked into LogValue output via attr %q", attr.Key)
		}
	}
	if !sawRedacted {
		t.Error("auth_key attribute missing or not redacted")
	}
}

func TestPortsForChannel(t *testing.T) {
	p := Ports{Video: 13, Audio: 14, Control: 15}
	tests := []struct {
		ch   Channel
		want uint16
	}{
		{ChannelVideo, 13},
		{ChannelAudio, 14},
		{ChannelControl, 15},
		{Channel("bogus"), 0},
	}
	for _, tt := range tests {
		if got := p.ForChannel(tt.ch); got != tt.want {
			t.Errorf("ForChannel(%q) = %d, want %d", tt.ch, got, tt.want)
		}
	}
}
