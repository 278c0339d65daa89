package fetch

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/someflydev/rhof/internal/registry"
)

func TestIsRetryableClassification(t *testing.T) {
	cases := []struct {
		status int
		err    error
		want   bool
	}{
		{0, errors.New("dial timeout"), true},
		{http.StatusRequestTimeout, nil, true},
		{http.StatusTooEarly, nil, true},
		{http.StatusTooManyRequests, nil, true},
		{http.StatusNotImplemented, nil, false},
		{http.StatusInternalServerError, nil, true},
		{http.StatusBadGateway, nil, true},
		{http.StatusOK, nil, false},
		{http.StatusNotFound, nil, false},
		{http.StatusForbidden, nil, false},
	}
	for _, c := range cases {
		if got := isRetryable(c.status, c.err); got != c.want {
			t.Errorf("isRetryable(%d, %v) = %v, want %v", c.status, c.err, got, c.want)
		}
	}
}

func TestExtFromContentType(t *testing.T) {
	cases := map[string]string{
		"text/html; charset=utf-8":        ".html",
		"application/json":                ".json",
		"application/xml":                 ".xml",
		"application/octet-stream":        ".bin",
		"":                                ".bin",
	}
	for ct, want := range cases {
		if got := extFromContentType(ct); got != want {
			t.Errorf("extFromContentType(%q) = %q, want %q", ct, got, want)
		}
	}
}

func TestFetchRejectsPrivateTarget(t *testing.T) {
	f := New(nil)
	_, err := f.Fetch(context.Background(), "src", "http://127.0.0.1:9/unreachable", registry.FetchConfig{MaxRetries: 1})
	if err == nil {
		t.Fatal("expected a fetch against a loopback address to fail via the SSRF-safe dialer")
	}
}
