package http

import (
	nethttp "net/http"
	"testing"

	"github.com/rescale/chunkvault/internal/config"
)

func TestCreateOptimizedClientDirect(t *testing.T) {
	t.Setenv("DISABLE_HTTP2", "")
	t.Setenv("FORCE_HTTP2", "")

	client, err := CreateOptimizedClient(&config.Config{ProxyMode: "no-proxy"})
	if err != nil {
		t.Fatalf("CreateOptimizedClient: %v", err)
	}
	if client.Timeout != 0 {
		t.Errorf("Timeout = %v, want 0", client.Timeout)
	}
	tr, ok := client.Transport.(*nethttp.Transport)
	if !ok {
		t.Fatalf("Transport = %T, want *http.Transport", client.Transport)
	}
	if !tr.DisableCompression {
		t.Error("compression should be disabled")
	}
	if !tr.ForceAttemptHTTP2 {
		t.Error("HTTP/2 should be attempted without a proxy")
	}
	if tr.Proxy != nil {
		t.Error("no-proxy mode should not set a proxy func")
	}
}

func TestCreateOptimizedClientNilConfig(t *testing.T) {
	t.Setenv("HTTP_PROXY", "")
	t.Setenv("HTTPS_PROXY", "")
	t.Setenv("http_proxy", "")
	t.Setenv("https_proxy", "")

	client, err := CreateOptimizedClient(nil)
	if err != nil {
		t.Fatalf("CreateOptimizedClient(nil): %v", err)
	}
	if _, ok := client.Transport.(*nethttp.Transport); !ok {
		t.Fatalf("Transport = %T", client.Transport)
	}
}

func TestCreateOptimizedClientBasicProxyDisablesHTTP2(t *testing.T) {
	t.Setenv("FORCE_HTTP2", "")

	client, err := CreateOptimizedClient(&config.Config{
		ProxyMode: "basic",
		ProxyHost: "proxy.corp",
		ProxyPort: 3128,
	})
	if err != nil {
		t.Fatalf("CreateOptimizedClient: %v", err)
	}
	tr := client.Transport.(*nethttp.Transport)
	if tr.ForceAttemptHTTP2 {
		t.Error("HTTP/2 should be disabled behind a proxy")
	}
	if tr.TLSNextProto == nil || len(tr.TLSNextProto) != 0 {
		t.Error("TLSNextProto should be an empty map")
	}

	req, _ := nethttp.NewRequest("GET", "https://vault.example.org/v3/upload", nil)
	proxy, err := tr.Proxy(req)
	if err != nil || proxy == nil || proxy.Host != "proxy.corp:3128" {
		t.Errorf("Proxy(req) = %v, %v", proxy, err)
	}
}

func TestCreateOptimizedClientNTLMKeepsNegotiator(t *testing.T) {
	client, err := CreateOptimizedClient(&config.Config{
		ProxyMode: "ntlm",
		ProxyHost: "proxy.corp",
	})
	if err != nil {
		t.Fatalf("CreateOptimizedClient: %v", err)
	}
	if _, ok := client.Transport.(*nethttp.Transport); ok {
		t.Error("ntlm mode should wrap the transport")
	}
	if client.Timeout != 0 {
		t.Errorf("Timeout = %v, want 0", client.Timeout)
	}
}

func TestConfigureHTTPClientUnknownMode(t *testing.T) {
	if _, err := ConfigureHTTPClient(&config.Config{ProxyMode: "socks"}); err == nil {
		t.Error("expected error for unsupported proxy mode")
	}
}

func TestConfigureHTTPClientMissingHostFallsBack(t *testing.T) {
	client, err := ConfigureHTTPClient(&config.Config{ProxyMode: "basic"})
	if err != nil {
		t.Fatalf("ConfigureHTTPClient: %v", err)
	}
	if tr := client.Transport.(*nethttp.Transport); tr.Proxy != nil {
		t.Error("missing host should fall back to a direct connection")
	}
}

func TestBuildProxyURL(t *testing.T) {
	tests := []struct {
		name string
		cfg  config.Config
		want string
	}{
		{"default port", config.Config{ProxyHost: "proxy"}, "http://proxy:8080"},
		{"explicit port", config.Config{ProxyHost: "proxy", ProxyPort: 3128}, "http://proxy:3128"},
		{"user without password", config.Config{ProxyHost: "proxy", ProxyUser: "alice"}, "http://proxy:8080"},
		{"credentials", config.Config{ProxyHost: "proxy", ProxyUser: "alice", ProxyPassword: "pw"}, "http://alice:pw@proxy:8080"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := buildProxyURL(&tt.cfg).String(); got != tt.want {
				t.Errorf("buildProxyURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestNeedsProxyPassword(t *testing.T) {
	tests := []struct {
		cfg  config.Config
		want bool
	}{
		{config.Config{ProxyMode: "no-proxy", ProxyUser: "alice"}, false},
		{config.Config{ProxyMode: "system", ProxyUser: "alice"}, false},
		{config.Config{ProxyMode: "basic", ProxyUser: "alice"}, true},
		{config.Config{ProxyMode: "NTLM", ProxyUser: "alice"}, true},
		{config.Config{ProxyMode: "ntlm", ProxyUser: "alice", ProxyPassword: "pw"}, false},
		{config.Config{ProxyMode: "basic"}, false},
	}
	for _, tt := range tests {
		if got := NeedsProxyPassword(&tt.cfg); got != tt.want {
			t.Errorf("NeedsProxyPassword(%+v) = %v, want %v", tt.cfg, got, tt.want)
		}
	}
}
