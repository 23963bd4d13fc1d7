package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/pion/stun/v3"
	"github.com/pion/webrtc/v4"
)

const (
	envICEServersJSON = "ICE_SERVERS_JSON"
	envStunURLs       = "STUN_URLS"
	envTurnURLs       = "TURN_URLS"
	envTurnUsername   = "TURN_USERNAME"
	envTurnCredential = "TURN_CREDENTIAL"
)

var (
	errNoURLs             = errors.New("missing urls")
	errTURNNeedsUsername  = errors.New("turn urls require username")
	errTURNNeedsCredential = errors.New("turn urls require credential")
)

// iceSettings holds the raw ICE inputs. JSON wins over the convenience
// variables when both are set.
type iceSettings struct {
	JSON string

	STUNURLs       string
	TURNURLs       string
	TURNUsername   string
	TURNCredential string

	// TURNREST lets TURN entries omit static credentials; /webrtc/ice mints
	// them per request.
	TURNREST bool
}

func (s iceSettings) servers() ([]webrtc.ICEServer, error) {
	if raw := strings.TrimSpace(s.JSON); raw != "" {
		servers, err := ParseICEServersJSON(raw, s.TURNREST)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", envICEServersJSON, err)
		}
		return servers, nil
	}

	var servers []webrtc.ICEServer
	if urls := fields(s.STUNURLs); len(urls) > 0 {
		server := webrtc.ICEServer{URLs: urls}
		if err := checkICEServer(server, false); err != nil {
			return nil, fmt.Errorf("%s: %w", envStunURLs, err)
		}
		servers = append(servers, server)
	}
	if urls := fields(s.TURNURLs); len(urls) > 0 {
		server := iceServer(urls, s.TURNUsername, s.TURNCredential)
		if err := checkICEServer(server, s.TURNREST); err != nil {
			return nil, fmt.Errorf("%s (with %s/%s): %w", envTurnURLs, envTurnUsername, envTurnCredential, err)
		}
		servers = append(servers, server)
	}
	return servers, nil
}

// ParseICEServersJSON parses a browser-style RTCIceServer list. "urls" may be
// a single string or an array.
func ParseICEServersJSON(raw string, turnREST bool) ([]webrtc.ICEServer, error) {
	var entries []struct {
		URLs       json.RawMessage `json:"urls"`
		Username   string          `json:"username"`
		Credential string          `json:"credential"`
	}
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, err
	}

	out := make([]webrtc.ICEServer, 0, len(entries))
	for i, e := range entries {
		urls, err := decodeURLs(e.URLs)
		if err != nil {
			return nil, fmt.Errorf("iceServers[%d].urls: %w", i, err)
		}
		server := iceServer(urls, e.Username, e.Credential)
		if err := checkICEServer(server, turnREST); err != nil {
			return nil, fmt.Errorf("iceServers[%d]: %w", i, err)
		}
		out = append(out, server)
	}
	return out, nil
}

// IsTURN reports whether any of the server's URLs is a turn: or turns: URL.
func IsTURN(server webrtc.ICEServer) bool {
	for _, raw := range server.URLs {
		u, err := stun.ParseURI(strings.ToLower(strings.TrimSpace(raw)))
		if err != nil {
			continue
		}
		if u.Scheme == stun.SchemeTypeTURN || u.Scheme == stun.SchemeTypeTURNS {
			return true
		}
	}
	return false
}

func decodeURLs(raw json.RawMessage) ([]string, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		return fields(one), nil
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(many))
	for _, u := range many {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return out, nil
}

func iceServer(urls []string, username, credential string) webrtc.ICEServer {
	server := webrtc.ICEServer{URLs: urls, Username: strings.TrimSpace(username)}
	// A nil Credential keeps the field out of the JSON handed to browsers.
	if c := strings.TrimSpace(credential); c != "" {
		server.Credential = c
	}
	return server
}

// checkICEServer rejects URLs pion cannot parse and TURN entries without
// static credentials unless TURN REST supplies them.
func checkICEServer(server webrtc.ICEServer, turnREST bool) error {
	if len(server.URLs) == 0 {
		return errNoURLs
	}
	for _, raw := range server.URLs {
		if _, err := stun.ParseURI(raw); err != nil {
			return fmt.Errorf("invalid url %q: %w", raw, err)
		}
	}
	if turnREST || !IsTURN(server) {
		return nil
	}
	if server.Username == "" {
		return errTURNNeedsUsername
	}
	if c, _ := server.Credential.(string); c == "" {
		return errTURNNeedsCredential
	}
	return nil
}

// fields splits a comma-separated list, dropping blanks.
func fields(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
