package forwarder

import (
	"bufio"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/starbeam-relay/agent/internal/protocol"
)

// startEchoServer listens on loopback and hands each accepted connection's
// parsed request line + headers to observe, then writes back a fixed
// status/body, matching spec.md §8 property 3's "local echo HTTP server".
func startEchoServer(t *testing.T, status int, contentType, body string, observe func(requestLine string, headers map[string]string)) uint16 {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		r := bufio.NewReader(conn)
		requestLine, _ := r.ReadString('\n')
		headers := map[string]string{}
		for {
			line, err := r.ReadString('\n')
			if err != nil || line == "\r\n" || line == "\n" {
				break
			}
			var k, v string
			if n, _ := fmt.Sscanf(line, "%s %s", &k, &v); n == 2 {
				k = k[:len(k)-1] // strip trailing colon
				headers[k] = v
			}
		}
		if observe != nil {
			observe(requestLine, headers)
		}
		fmt.Fprintf(conn, "HTTP/1.1 %d OK\r\nContent-Type: %s\r\nContent-Length: %d\r\n\r\n%s", status, contentType, len(body), body)
	}()

	return uint16(ln.Addr().(*net.TCPAddr).Port)
}

func TestHTTPForwarderFidelity(t *testing.T) {
	var gotLine string
	var gotHeaders map[string]string
	port := startEchoServer(t, 200, "text/plain", "hi", func(line string, headers map[string]string) {
		gotLine = line
		gotHeaders = headers
	})

	fwd := HTTP{HTTPPort: port, HTTPSPort: port}
	resp := fwd.Handle(protocol.HTTPRequestMessage{
		ID:         7,
		Method:     "GET",
		Path:       "/x",
		Query:      "a=1",
		IsHTTPS:    false,
		ClientAddr: "1.2.3.4",
		Headers:    map[string]string{},
	})

	if resp.ID != 7 || resp.Status != 200 || resp.Body != "hi" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.Headers["Content-Type"] != "text/plain" {
		t.Fatalf("content-type not propagated: %+v", resp.Headers)
	}

	time.Sleep(20 * time.Millisecond) // let the server goroutine finish its observe callback
	if gotLine != "GET /x?a=1 HTTP/1.1\r\n" {
		t.Fatalf("unexpected request line %q", gotLine)
	}
	if gotHeaders["X-Forwarded-For"] != "1.2.3.4" {
		t.Fatalf("X-Forwarded-For not injected: %+v", gotHeaders)
	}
	if gotHeaders["X-Starbeam-Client"] != "1.2.3.4" {
		t.Fatalf("X-Starbeam-Client not injected: %+v", gotHeaders)
	}
	if gotHeaders["Connection"] != "close" {
		t.Fatalf("Connection: close not sent: %+v", gotHeaders)
	}
}

func TestHTTPForwarderMapsDialFailureTo500(t *testing.T) {
	// No server listening on this port.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := uint16(ln.Addr().(*net.TCPAddr).Port)
	ln.Close()

	fwd := HTTP{HTTPPort: port, HTTPSPort: port}
	resp := fwd.Handle(protocol.HTTPRequestMessage{ID: 7, Method: "GET", Path: "/x"})

	if resp.Status != 500 || resp.Body != "Internal Server Error" {
		t.Fatalf("unexpected response: %+v", resp)
	}
	if resp.ID != 7 {
		t.Fatalf("id not preserved: %+v", resp)
	}
}

func TestHTTPForwarderStripsHopByHopHeaders(t *testing.T) {
	var gotHeaders map[string]string
	port := startEchoServer(t, 200, "text/plain", "", func(_ string, headers map[string]string) {
		gotHeaders = headers
	})

	fwd := HTTP{HTTPPort: port, HTTPSPort: port}
	fwd.Handle(protocol.HTTPRequestMessage{
		ID:     1,
		Method: "GET",
		Path:   "/",
		Headers: map[string]string{
			"Host":              "evil.example",
			"Connection":        "keep-alive",
			"Transfer-Encoding": "chunked",
			"X-Custom":          "kept",
		},
	})

	time.Sleep(20 * time.Millisecond)
	wantHost := fmt.Sprintf("127.0.0.1:%d", port)
	if gotHeaders["Host"] != wantHost {
		t.Fatalf("caller-supplied Host header should have been replaced by %q: %+v", wantHost, gotHeaders)
	}
	if gotHeaders["X-Custom"] != "kept" {
		t.Fatalf("non-hop-by-hop header should be forwarded: %+v", gotHeaders)
	}
}

func TestHTTPForwarderSelectsHTTPSPort(t *testing.T) {
	var sawRequest bool
	httpsPort := startEchoServer(t, 200, "text/plain", "", func(string, map[string]string) { sawRequest = true })

	// httpPort points nowhere; if the forwarder picked the wrong port this
	// would 500 instead of reaching the HTTPS echo server.
	deadLn, _ := net.Listen("tcp", "127.0.0.1:0")
	httpPort := uint16(deadLn.Addr().(*net.TCPAddr).Port)
	deadLn.Close()

	fwd := HTTP{HTTPPort: httpPort, HTTPSPort: httpsPort}
	resp := fwd.Handle(protocol.HTTPRequestMessage{ID: 1, Method: "GET", Path: "/", IsHTTPS: true})

	time.Sleep(20 * time.Millisecond)
	if !sawRequest {
		t.Fatalf("request did not reach the https echo server")
	}
	if resp.Status != 200 {
		t.Fatalf("unexpected status %d", resp.Status)
	}
}
