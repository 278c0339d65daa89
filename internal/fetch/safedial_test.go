package fetch

import (
	"net"
	"net/http"
	"net/url"
	"testing"
)

func TestIsPrivateIP(t *testing.T) {
	cases := map[string]bool{
		"127.0.0.1":       true,
		"10.1.2.3":        true,
		"172.16.0.5":      true,
		"192.168.1.1":     true,
		"169.254.1.1":     true,
		"::1":             true,
		"fc00::1":         true,
		"fe80::1":         true,
		"8.8.8.8":         false,
		"203.0.113.10":    false,
		"2606:4700:4700::1111": false,
	}
	for raw, want := range cases {
		ip := net.ParseIP(raw)
		if ip == nil {
			t.Fatalf("failed to parse test IP %q", raw)
		}
		if got := isPrivateIP(ip); got != want {
			t.Errorf("isPrivateIP(%s) = %v, want %v", raw, got, want)
		}
	}
}

func TestIsPrivateIPNilIsBlocked(t *testing.T) {
	if !isPrivateIP(nil) {
		t.Fatal("expected a nil IP (failed resolution) to be treated as blocked")
	}
}

func TestSafeCheckRedirectCapsDepth(t *testing.T) {
	u, _ := url.Parse("https://example.invalid/x")
	req := &http.Request{URL: u}
	var via []*http.Request
	for i := 0; i < 10; i++ {
		via = append(via, req)
	}
	if err := safeCheckRedirect(req, via); err == nil {
		t.Fatal("expected redirect depth cap to trigger")
	}
}

func TestSafeCheckRedirectBlocksNonHTTPScheme(t *testing.T) {
	u, _ := url.Parse("file:///etc/passwd")
	req := &http.Request{URL: u}
	if err := safeCheckRedirect(req, nil); err == nil {
		t.Fatal("expected non-http(s) scheme to be blocked")
	}
}

func TestSafeCheckRedirectBlocksLocalhost(t *testing.T) {
	u, _ := url.Parse("http://localhost/internal")
	req := &http.Request{URL: u}
	if err := safeCheckRedirect(req, nil); err == nil {
		t.Fatal("expected localhost redirect to be blocked")
	}
}

func TestSafeCheckRedirectBlocksDotLocal(t *testing.T) {
	u, _ := url.Parse("http://printer.local/config")
	req := &http.Request{URL: u}
	if err := safeCheckRedirect(req, nil); err == nil {
		t.Fatal("expected .local redirect to be blocked")
	}
}
