// Package forwarder implements the loopback HTTP/RTSP forwarder of
// spec.md §4.3: it re-issues relay-ingressed requests against the local
// streaming host over a plain loopback TCP connection and relays the raw
// reply back.
package forwarder

import (
	"bufio"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/starbeam-relay/agent/internal/metrics"
	"github.com/starbeam-relay/agent/internal/protocol"
)

// dialTimeout bounds both the TCP connect and the total round trip to the
// local streaming host; a hung host must not wedge the control client's
// per-request goroutine forever.
const dialTimeout = 10 * time.Second

// skipRequestHeaders is the case-insensitive set of headers the original
// implementation strips before forwarding, because they describe the
// relay-facing connection rather than the one this forwarder opens to the
// local streaming host.
var skipRequestHeaders = map[string]bool{
	"host":              true,
	"connection":        true,
	"transfer-encoding": true,
}

// HTTP forwards req to 127.0.0.1:port and returns the response it reads
// back, translating any transport or parse failure into a synthetic 500 per
// spec.md §4.3.
type HTTP struct {
	// HTTPPort and HTTPSPort select the local streaming host's plain and
	// TLS listeners respectively; which one a request uses is decided by
	// req.IsHTTPS. Per spec.md §4.3 step 1's note, these are caller-supplied
	// by agreement with the streaming host rather than derived from a fixed
	// nvhttp port offset.
	HTTPPort  uint16
	HTTPSPort uint16

	// Metrics records per-request status and latency when non-nil. A nil
	// Metrics (the zero value's default) disables instrumentation entirely.
	Metrics *metrics.Metrics
}

// Handle implements [controlclient.HTTPHandler].
func (h HTTP) Handle(req protocol.HTTPRequestMessage) protocol.HTTPResponseMessage {
	resp := protocol.HTTPResponseMessage{ID: req.ID}
	start := time.Now()

	port := h.HTTPPort
	if req.IsHTTPS {
		port = h.HTTPSPort
	}
	status, contentType, body, err := forwardHTTP(port, req)
	if err != nil {
		resp.Status = 500
		resp.Headers = map[string]string{"Content-Type": "text/plain"}
		resp.Body = "Internal Server Error"
		h.Metrics.ObserveHTTP(resp.Status, time.Since(start))
		return resp
	}

	resp.Status = status
	resp.Headers = map[string]string{}
	if contentType != "" {
		resp.Headers["Content-Type"] = contentType
	}
	resp.Body = body
	h.Metrics.ObserveHTTP(resp.Status, time.Since(start))
	return resp
}

func forwardHTTP(port uint16, req protocol.HTTPRequestMessage) (status uint16, contentType, body string, err error) {
	addr := fmt.Sprintf("127.0.0.1:%d", port)
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return 0, "", "", fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(dialTimeout))

	if err := writeHTTPRequest(conn, addr, req); err != nil {
		return 0, "", "", err
	}

	return readHTTPResponse(conn)
}

func writeHTTPRequest(w io.Writer, hostPort string, req protocol.HTTPRequestMessage) error {
	var b strings.Builder

	target := req.Path
	if req.Query != "" {
		target += "?" + req.Query
	}
	fmt.Fprintf(&b, "%s %s HTTP/1.1\r\n", req.Method, target)
	fmt.Fprintf(&b, "Host: %s\r\n", hostPort)

	for _, key := range sortedKeys(req.Headers) {
		if skipRequestHeaders[strings.ToLower(key)] {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\r\n", key, req.Headers[key])
	}

	fmt.Fprintf(&b, "X-Forwarded-For: %s\r\n", req.ClientAddr)
	fmt.Fprintf(&b, "X-Starbeam-Client: %s\r\n", req.ClientAddr)

	if req.Body != "" {
		fmt.Fprintf(&b, "Content-Length: %d\r\n", len(req.Body))
	}
	b.WriteString("Connection: close\r\n\r\n")
	if req.Body != "" {
		b.WriteString(req.Body)
	}

	_, err := io.WriteString(w, b.String())
	return err
}

// readHTTPResponse parses a raw HTTP/1.x response: status line, headers up
// to the blank line, then a body of exactly Content-Length bytes if present
// or read-to-EOF otherwise, matching original_source/handler.cpp.
func readHTTPResponse(r io.Reader) (status uint16, contentType, body string, err error) {
	br := bufio.NewReader(r)
	tp := textproto.NewReader(br)

	statusLine, err := tp.ReadLine()
	if err != nil {
		return 0, "", "", fmt.Errorf("read status line: %w", err)
	}
	parts := strings.SplitN(statusLine, " ", 3)
	if len(parts) < 2 {
		return 0, "", "", fmt.Errorf("malformed status line %q", statusLine)
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, "", "", fmt.Errorf("malformed status code %q", parts[1])
	}

	hdr, err := tp.ReadMIMEHeader()
	if err != nil && err != io.EOF {
		return 0, "", "", fmt.Errorf("read headers: %w", err)
	}
	contentType = hdr.Get("Content-Type")

	var bodyBytes []byte
	if cl := hdr.Get("Content-Length"); cl != "" {
		n, perr := strconv.Atoi(cl)
		if perr != nil {
			return 0, "", "", fmt.Errorf("malformed content-length %q", cl)
		}
		bodyBytes = make([]byte, n)
		if _, err := io.ReadFull(br, bodyBytes); err != nil {
			return 0, "", "", fmt.Errorf("read body: %w", err)
		}
	} else {
		bodyBytes, err = io.ReadAll(br)
		if err != nil {
			return 0, "", "", fmt.Errorf("read body: %w", err)
		}
	}

	return uint16(code), contentType, string(bodyBytes), nil
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
