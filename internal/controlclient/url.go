package controlclient

import (
	"fmt"
	"net/url"
)

// relayURL is the decomposed form of a parsed server_url, per spec.md §4.2
// step 1.
type relayURL struct {
	Scheme string // "ws" or "wss"
	Host   string
	Port   string
	Path   string
}

// parseServerURL parses raw into a relayURL, applying the port/path
// defaults spec.md §4.2 step 1 specifies: port 443 for wss, 80 for ws;
// path "/" when absent. Any scheme other than ws/wss, or a syntactically
// invalid URL, is an error.
func parseServerURL(raw string) (relayURL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return relayURL{}, fmt.Errorf("parse server_url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	default:
		return relayURL{}, fmt.Errorf("parse server_url: unsupported scheme %q (want ws or wss)", u.Scheme)
	}
	if u.Hostname() == "" {
		return relayURL{}, fmt.Errorf("parse server_url: missing host")
	}

	port := u.Port()
	if port == "" {
		if u.Scheme == "wss" {
			port = "443"
		} else {
			port = "80"
		}
	}

	path := u.Path
	if path == "" {
		path = "/"
	}

	return relayURL{
		Scheme: u.Scheme,
		Host:   u.Hostname(),
		Port:   port,
		Path:   path,
	}, nil
}
