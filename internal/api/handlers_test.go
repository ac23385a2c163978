package api

import (
	"net/url"
	"testing"

	"github.com/ProjectOpenSea/seaport-gossip-sub000/internal/config"
)

func TestIsOriginAllowed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		origin  string
		cfg     config.APIConfig
		reqHost string
		want    bool
	}{
		{
			name:    "empty origin is allowed",
			origin:  "",
			cfg:     config.APIConfig{},
			reqHost: "localhost:8999",
			want:    true,
		},
		{
			name:    "localhost origin allowed by default",
			origin:  "http://localhost:8999",
			cfg:     config.APIConfig{},
			reqHost: "localhost:8999",
			want:    true,
		},
		{
			name:    "non-local origin denied by default",
			origin:  "https://evil.example",
			cfg:     config.APIConfig{},
			reqHost: "localhost:8999",
			want:    false,
		},
		{
			name:    "allowlist permits exact origin",
			origin:  "https://gossip.example.com",
			cfg:     config.APIConfig{AllowedOrigins: []string{"https://gossip.example.com"}},
			reqHost: "0.0.0.0:8999",
			want:    true,
		},
		{
			name:    "allowlist denies everything else",
			origin:  "https://evil.example",
			cfg:     config.APIConfig{AllowedOrigins: []string{"https://gossip.example.com"}},
			reqHost: "0.0.0.0:8999",
			want:    false,
		},
		{
			name:    "same host allowed when no allowlist",
			origin:  "https://node.internal:8999",
			cfg:     config.APIConfig{},
			reqHost: "node.internal:8999",
			want:    true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := isOriginAllowed(tt.origin, tt.cfg, tt.reqHost); got != tt.want {
				t.Fatalf("isOriginAllowed(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}

func TestParseOrderOptsDefaults(t *testing.T) {
	t.Parallel()
	opts, err := parseOrderOpts(url.Values{})
	if err != nil {
		t.Fatalf("parseOrderOpts: %v", err)
	}
	if opts.Side != 0 || opts.Sort != 0 {
		t.Fatalf("expected zero-value Side/Sort defaults, got %+v", opts)
	}
}

func TestParseOrderOptsRejectsUnknownSide(t *testing.T) {
	t.Parallel()
	_, err := parseOrderOpts(url.Values{"side": {"sideways"}})
	if err == nil {
		t.Fatal("expected an error for an unrecognized side value")
	}
}

func TestParseOrderOptsParsesFlags(t *testing.T) {
	t.Parallel()
	opts, err := parseOrderOpts(url.Values{
		"side":        {"buy"},
		"sort":        {"price_desc"},
		"buy_now":     {"true"},
		"single_item": {"true"},
		"count":       {"25"},
		"offset":      {"50"},
	})
	if err != nil {
		t.Fatalf("parseOrderOpts: %v", err)
	}
	if !opts.BuyNow || !opts.SingleItem {
		t.Fatalf("expected BuyNow and SingleItem set, got %+v", opts)
	}
	if opts.Count != 25 || opts.Offset != 50 {
		t.Fatalf("expected Count=25 Offset=50, got Count=%d Offset=%d", opts.Count, opts.Offset)
	}
}
