package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestDefaultKeyFunc_PrefersUserHeader(t *testing.T) {
	fn := DefaultKeyFunc("X-User-Id", false)

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	r.Header.Set("X-User-Id", " farmer-42 ")

	if got := fn(r); got != "user:farmer-42" {
		t.Fatalf("expected user key, got %q", got)
	}
}

func TestDefaultKeyFunc_FallsBackToIPWithoutUser(t *testing.T) {
	fn := DefaultKeyFunc("X-User-Id", false)

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	r.RemoteAddr = "10.0.0.1:1234"

	if got := fn(r); got != "10.0.0.1" {
		t.Fatalf("expected remote host, got %q", got)
	}
}

func TestClientIP(t *testing.T) {
	cases := []struct {
		name   string
		remote string
		header map[string]string
		trust  bool
		want   string
	}{
		{"remote addr", "192.0.2.1:1234", nil, false, "192.0.2.1"},
		{"xff ignored when untrusted", "192.0.2.1:1234", map[string]string{"X-Forwarded-For": "203.0.113.9"}, false, "192.0.2.1"},
		{"xff first hop", "192.0.2.1:1234", map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}, true, "203.0.113.9"},
		{"forwarded wins", "192.0.2.1:1234", map[string]string{"Forwarded": "for=198.51.100.7:8080;proto=https", "X-Forwarded-For": "203.0.113.9"}, true, "198.51.100.7"},
		{"forwarded ipv6", "192.0.2.1:1234", map[string]string{"Forwarded": `for="[2001:db8::1]:4711"`}, true, "2001:db8::1"},
		{"x-real-ip", "192.0.2.1:1234", map[string]string{"X-Real-Ip": "203.0.113.20"}, true, "203.0.113.20"},
		{"remote without port", "192.0.2.1", nil, false, "192.0.2.1"},
		{"empty remote", "", nil, false, "unknown"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
			r.RemoteAddr = tc.remote
			for k, v := range tc.header {
				r.Header.Set(k, v)
			}
			if got := ClientIP(r, tc.trust); got != tc.want {
				t.Fatalf("expected %q, got %q", tc.want, got)
			}
		})
	}
}

func TestHeaderKeyFunc(t *testing.T) {
	fn := HeaderKeyFunc("X-Api-Key")

	r := httptest.NewRequest(http.MethodGet, "http://example/", nil)
	if got := fn(r); got != "" {
		t.Fatalf("expected empty key without header, got %q", got)
	}

	r.Header.Set("X-Api-Key", "k-123")
	if got := fn(r); got != "k-123" {
		t.Fatalf("expected api key, got %q", got)
	}
}
