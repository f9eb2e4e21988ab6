package httpserver

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewCheckOrigin(t *testing.T) {
	allowed := []string{"https://relay.example.com", "http://localhost:3000"}

	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"no origin header", allowed, "", true},
		{"listed origin", allowed, "https://relay.example.com", true},
		{"listed origin different case", allowed, "HTTPS://Relay.Example.com", true},
		{"localhost with port", allowed, "http://localhost:3000", true},
		{"different host", allowed, "https://evil.com", false},
		{"different port", allowed, "https://relay.example.com:9090", false},
		{"http instead of https", allowed, "http://relay.example.com", false},
		{"subdomain", allowed, "https://sub.relay.example.com", false},
		{"empty allow-list allows any", nil, "https://anything.example", true},
		{"wildcard allows any", []string{"*"}, "https://anything.example", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			checker := NewCheckOrigin(tt.allowed)
			r := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				r.Header.Set("Origin", tt.origin)
			}
			assert.Equal(t, tt.want, checker(r))
		})
	}
}

func TestNormalizeOrigin(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"https://example.com/path", "https://example.com"},
		{"https://example.com:8443", "https://example.com:8443"},
		{" http://LOCALHOST:8080 ", "http://localhost:8080"},
		{"", ""},
		{"mailto:user@example.com", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeOrigin(tt.raw), "raw %q", tt.raw)
	}
}
