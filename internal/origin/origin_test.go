package origin

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestNormalizeHeader(t *testing.T) {
	t.Run("normalizes scheme and host", func(t *testing.T) {
		normalized, host, ok := NormalizeHeader("HTTPS://Example.COM:443")
		if !ok {
			t.Fatalf("expected ok=true")
		}
		if normalized != "https://example.com" {
			t.Fatalf("normalized=%q, want %q", normalized, "https://example.com")
		}
		if host != "example.com" {
			t.Fatalf("host=%q, want %q", host, "example.com")
		}
	})

	t.Run("keeps non-default port and trailing slash", func(t *testing.T) {
		normalized, host, ok := NormalizeHeader("http://localhost:5173/")
		if !ok {
			t.Fatalf("expected ok=true")
		}
		if normalized != "http://localhost:5173" || host != "localhost:5173" {
			t.Fatalf("normalized=%q host=%q", normalized, host)
		}
	})

	t.Run("ipv6 literal", func(t *testing.T) {
		normalized, host, ok := NormalizeHeader("http://[::1]:8080")
		if !ok {
			t.Fatalf("expected ok=true")
		}
		if normalized != "http://[::1]:8080" || host != "[::1]:8080" {
			t.Fatalf("normalized=%q host=%q", normalized, host)
		}
	})

	t.Run("allows null origin", func(t *testing.T) {
		normalized, host, ok := NormalizeHeader("null")
		if !ok || normalized != "null" || host != "" {
			t.Fatalf("normalized=%q host=%q ok=%v", normalized, host, ok)
		}
	})

	t.Run("rejects malformed", func(t *testing.T) {
		for _, c := range []string{
			"",
			"   ",
			"example.com",
			"ftp://example.com",
			"https://example.com/path",
			"https://example.com/?q=1",
			"https://example.com?",
			"https://user@example.com",
			"https://example.com/#frag",
			"https://example.com:0",
			"https://example.com:99999",
			"https://example.com:",
			"https://example.com,https://evil.example.com",
		} {
			if _, _, ok := NormalizeHeader(c); ok {
				t.Fatalf("expected ok=false for %q", c)
			}
		}
	})
}

func TestIsAllowed(t *testing.T) {
	cases := []struct {
		name    string
		origin  string
		reqHost string
		allowed []string
		want    bool
	}{
		{name: "same host", origin: "http://localhost:8080", reqHost: "localhost:8080", want: true},
		{name: "same host default port", origin: "https://relay.example.com", reqHost: "relay.example.com:443", want: true},
		{name: "scheme ignored behind proxy", origin: "https://relay.example.com", reqHost: "RELAY.example.com", want: true},
		{name: "different host", origin: "https://evil.example.com", reqHost: "relay.example.com", want: false},
		{name: "different port", origin: "http://localhost:5173", reqHost: "localhost:8080", want: false},
		{name: "null never same host", origin: "null", reqHost: "localhost", want: false},
		{name: "allow list hit", origin: "https://app.example.com", reqHost: "relay.example.com", allowed: []string{"https://app.example.com"}, want: true},
		{name: "allow list miss", origin: "https://relay.example.com", reqHost: "relay.example.com", allowed: []string{"https://app.example.com"}, want: false},
		{name: "wildcard", origin: "null", reqHost: "relay.example.com", allowed: []string{"*"}, want: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			normalized, host, ok := NormalizeHeader(tc.origin)
			if !ok {
				t.Fatalf("NormalizeHeader(%q) failed", tc.origin)
			}
			if got := IsAllowed(normalized, host, tc.reqHost, tc.allowed); got != tc.want {
				t.Fatalf("IsAllowed=%v, want %v", got, tc.want)
			}
		})
	}
}

func TestPolicyCheck(t *testing.T) {
	p := Policy{}

	req := httptest.NewRequest(http.MethodGet, "http://localhost:8080/ws", nil)
	if got, ok := p.Check(req); !ok || got != "" {
		t.Fatalf("no Origin: got=%q ok=%v, want allowed", got, ok)
	}

	req.Header.Set("Origin", "http://LOCALHOST:8080")
	if got, ok := p.Check(req); !ok || got != "http://localhost:8080" {
		t.Fatalf("same origin: got=%q ok=%v", got, ok)
	}

	req.Header.Set("Origin", "https://evil.example.com")
	if _, ok := p.Check(req); ok {
		t.Fatalf("cross origin allowed without allow list")
	}

	req.Header["Origin"] = []string{"http://localhost:8080", "http://localhost:8080"}
	if _, ok := p.Check(req); ok {
		t.Fatalf("multiple Origin headers allowed")
	}

	req.Header.Set("Origin", "not an origin")
	if _, ok := p.Check(req); ok {
		t.Fatalf("malformed Origin allowed")
	}
}

func TestPolicyWildcard(t *testing.T) {
	if (Policy{}).Wildcard() {
		t.Fatalf("empty policy reported wildcard")
	}
	if !(Policy{Allowed: []string{"https://a.example", "*"}}).Wildcard() {
		t.Fatalf("expected wildcard")
	}
}
