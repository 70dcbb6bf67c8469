//go:build e2e

package e2e

import (
	"bufio"
	"fmt"
	"net"
	"testing"
)

// startHTTPStreamingHost stands in for the local streaming host this agent
// forwards requests to. It is the e2e analog of the unit-level echo server
// in internal/forwarder's tests: a minimal loopback HTTP/1.1 server that
// always replies with the given fixed status/contentType/body regardless of
// what it was asked.
func startHTTPStreamingHost(t *testing.T, status int, contentType, body string) uint16 {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("streaming host listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return // listener closed
			}
			go func() {
				defer conn.Close()
				r := bufio.NewReader(conn)
				for {
					line, err := r.ReadString('\n')
					if err != nil || line == "\r\n" || line == "\n" {
						break
					}
				}
				fmt.Fprintf(conn, "HTTP/1.1 %d OK\r\nContent-Type: %s\r\nContent-Length: %d\r\n\r\n%s",
					status, contentType, len(body), body)
			}()
		}
	}()

	return uint16(ln.Addr().(*net.TCPAddr).Port)
}
