package webhook

import (
	"context"
	"errors"
	"net/netip"
	"strings"
	"testing"
)

func stubLookup(t *testing.T, addrs map[string][]string) {
	t.Helper()
	orig := lookupHost
	t.Cleanup(func() { lookupHost = orig })

	lookupHost = func(_ context.Context, host string) ([]netip.Addr, error) {
		raw, ok := addrs[host]
		if !ok {
			return nil, errors.New("no such host")
		}
		out := make([]netip.Addr, len(raw))
		for i, s := range raw {
			out[i] = netip.MustParseAddr(s)
		}
		return out, nil
	}
}

func TestValidateTargetURL(t *testing.T) {
	stubLookup(t, map[string][]string{
		"example.com":          {"93.184.216.34"},
		"api.example.com":      {"93.184.216.34", "2606:2800:220:1::"},
		"internal.example.com": {"10.1.2.3"},
		"mixed.example.com":    {"93.184.216.34", "192.168.0.10"},
	})

	tests := []struct {
		name    string
		url     string
		wantErr error
	}{
		{"valid https url", "https://example.com/webhook", nil},
		{"valid https with path", "https://api.example.com/v1/webhooks", nil},
		{"port 443 allowed", "https://example.com:443/webhook", nil},
		{"unresolvable host passes", "https://nxdomain.example.org/hook", nil},
		{"http not allowed", "http://example.com/webhook", ErrInvalidScheme},
		{"localhost blocked", "https://localhost/webhook", ErrLocalhostBlocked},
		{"127.0.0.1 blocked", "https://127.0.0.1/webhook", ErrLocalhostBlocked},
		{".local domain blocked", "https://myserver.local/webhook", ErrLocalhostBlocked},
		{"non-standard port blocked", "https://example.com:8443/webhook", ErrInvalidPort},
		{"empty host", "https:///webhook", ErrEmptyHost},
		{"private literal", "https://10.0.0.8/hook", ErrPrivateIP},
		{"resolves to private", "https://internal.example.com/hook", ErrPrivateIP},
		{"any private answer blocks", "https://mixed.example.com/hook", ErrPrivateIP},
		{"bad url", "https://exa mple.com/%zz", ErrInvalidURL},
		{"too long", "https://example.com/" + strings.Repeat("a", MaxTargetURLLength), ErrURLTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTargetURL(context.Background(), tt.url)
			if err != tt.wantErr {
				t.Errorf("ValidateTargetURL(%q) error = %v, want %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestIsBlockedAddr(t *testing.T) {
	tests := []struct {
		ip      string
		blocked bool
	}{
		{"10.0.0.1", true},
		{"172.16.0.1", true},
		{"192.168.1.1", true},
		{"127.0.0.1", true},
		{"169.254.1.1", true},
		{"100.64.0.1", true},
		{"0.0.0.0", true},
		{"::ffff:10.0.0.1", true},
		{"fd00::1", true},
		{"8.8.8.8", false},
		{"93.184.216.34", false},
		{"2606:4700::1111", false},
	}

	for _, tt := range tests {
		t.Run(tt.ip, func(t *testing.T) {
			if got := isBlockedAddr(netip.MustParseAddr(tt.ip)); got != tt.blocked {
				t.Errorf("isBlockedAddr(%q) = %v, want %v", tt.ip, got, tt.blocked)
			}
		})
	}
}

func TestExtractHost(t *testing.T) {
	tests := []struct {
		url  string
		want string
	}{
		{"https://example.com/webhook?token=abc", "example.com"},
		{"https://api.example.com:443/v1", "api.example.com:443"},
		{"invalid-url", ""},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			if got := ExtractHost(tt.url); got != tt.want {
				t.Errorf("ExtractHost(%q) = %q, want %q", tt.url, got, tt.want)
			}
		})
	}
}
