package forwarder

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"github.com/starbeam-relay/agent/internal/metrics"
	"github.com/starbeam-relay/agent/internal/protocol"
)

// RTSP forwards requests to the streaming host's RTSP control port. Unlike
// [HTTP] it does no header filtering and returns every reply header, per
// spec.md §4.3. Reply header keys come back in canonical MIME form (e.g.
// "CSeq" becomes "Cseq"), and only the first value of a repeated header is
// kept.
type RTSP struct {
	Port uint16

	// Metrics records per-request status and latency when non-nil.
	Metrics *metrics.Metrics
}

func (h RTSP) Handle(req protocol.RTSPRequestMessage) protocol.RTSPResponseMessage {
	resp := protocol.RTSPResponseMessage{ID: req.ID}
	start := time.Now()

	status, reason, headers, body, err := forwardRTSP(h.Port, req)
	if err != nil {
		resp.Status = 500
		resp.Reason = "Internal Server Error"
		resp.Headers = map[string]string{}
		resp.Body = ""
		h.Metrics.ObserveRTSP(resp.Status, time.Since(start))
		return resp
	}

	resp.Status = status
	resp.Reason = reason
	resp.Headers = headers
	resp.Body = body
	h.Metrics.ObserveRTSP(resp.Status, time.Since(start))
	return resp
}

func forwardRTSP(port uint16, req protocol.RTSPRequestMessage) (status uint16, reason string, headers map[string]string, body string, err error) {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return 0, "", nil, "", fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(dialTimeout))

	if err := writeRTSPRequest(conn, req); err != nil {
		return 0, "", nil, "", err
	}

	return readRTSPResponse(conn)
}

func writeRTSPRequest(w io.Writer, req protocol.RTSPRequestMessage) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s RTSP/1.0\r\n", req.Method, req.URI)

	for key, value := range req.Headers {
		fmt.Fprintf(&b, "%s: %s\r\n", key, value)
	}
	fmt.Fprintf(&b, "X-Starbeam-Client: %s\r\n", req.ClientAddr)

	if req.Body != "" {
		fmt.Fprintf(&b, "Content-Length: %d\r\n", len(req.Body))
	}
	b.WriteString("\r\n")
	if req.Body != "" {
		b.WriteString(req.Body)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func readRTSPResponse(r io.Reader) (status uint16, reason string, headers map[string]string, body string, err error) {
	br := bufio.NewReader(r)
	tp := textproto.NewReader(br)

	statusLine, err := tp.ReadLine()
	if err != nil {
		return 0, "", nil, "", fmt.Errorf("read status line: %w", err)
	}
	parts := strings.SplitN(statusLine, " ", 3)
	if len(parts) < 2 {
		return 0, "", nil, "", fmt.Errorf("malformed status line %q", statusLine)
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, "", nil, "", fmt.Errorf("malformed status code %q", parts[1])
	}
	if len(parts) == 3 {
		reason = parts[2]
	}

	mimeHdr, err := tp.ReadMIMEHeader()
	if err != nil && err != io.EOF {
		return 0, "", nil, "", fmt.Errorf("read headers: %w", err)
	}
	headers = map[string]string{}
	for key := range mimeHdr {
		headers[key] = mimeHdr.Get(key)
	}

	var bodyBytes []byte
	if cl := mimeHdr.Get("Content-Length"); cl != "" {
		n, perr := strconv.Atoi(cl)
		if perr != nil {
			return 0, "", nil, "", fmt.Errorf("malformed content-length %q", cl)
		}
		bodyBytes = make([]byte, n)
		if _, err := io.ReadFull(br, bodyBytes); err != nil {
			return 0, "", nil, "", fmt.Errorf("read body: %w", err)
		}
	} else {
		bodyBytes, err = io.ReadAll(br)
		if err != nil {
			return 0, "", nil, "", fmt.Errorf("read body: %w", err)
		}
	}

	return uint16(code), reason, headers, string(bodyBytes), nil
}
