package http

import (
	"crypto/tls"
	nethttp "net/http"
	"os"

	"golang.org/x/net/http2"

	"github.com/rescale/chunkvault/internal/config"
	"github.com/rescale/chunkvault/internal/constants"
)

// CreateOptimizedClient creates the HTTP client shared by every chunk
// transport. It layers connection pooling and HTTP/2 settings on top of
// ConfigureHTTPClient.
//
// HTTP/2 is disabled when a proxy is active (proxies often break stream
// multiplexing mid-transfer) unless FORCE_HTTP2=true. DISABLE_HTTP2=true
// forces HTTP/1.1 unconditionally.
//
// If cfg is nil, proxy settings are read from HTTP_PROXY, HTTPS_PROXY and
// NO_PROXY.
func CreateOptimizedClient(cfg *config.Config) (*nethttp.Client, error) {
	if cfg == nil {
		cfg = &config.Config{ProxyMode: "system"}
	}
	baseClient, err := ConfigureHTTPClient(cfg)
	if err != nil {
		return nil, err
	}
	// Per-operation timeouts come from the request context.
	baseClient.Timeout = 0

	tr, ok := baseClient.Transport.(*nethttp.Transport)
	if !ok {
		// NTLM wraps the transport in a negotiator; leave it as configured.
		return baseClient, nil
	}

	tr.MaxIdleConns = 512
	tr.MaxIdleConnsPerHost = 100
	tr.MaxConnsPerHost = 100 // must be >= MaxIdleConnsPerHost
	tr.IdleConnTimeout = constants.HTTPIdleConnTimeout
	tr.TLSHandshakeTimeout = constants.HTTPTLSHandshakeTimeout
	tr.ExpectContinueTimeout = constants.HTTPExpectContinueTimeout

	// Chunks are ciphertext; compression only costs CPU.
	tr.DisableCompression = true
	tr.ForceAttemptHTTP2 = true
	_ = http2.ConfigureTransport(tr)

	if os.Getenv("DISABLE_HTTP2") == "true" || (proxyActive(cfg) && os.Getenv("FORCE_HTTP2") != "true") {
		disableHTTP2(tr)
	}
	return baseClient, nil
}

// proxyActive reports whether requests will go through a proxy. The config
// mode is trusted first; environment variables only matter in system mode.
func proxyActive(cfg *config.Config) bool {
	switch cfg.ProxyMode {
	case "no-proxy", "":
		return false
	case "system":
		return os.Getenv("HTTP_PROXY") != "" || os.Getenv("HTTPS_PROXY") != "" ||
			os.Getenv("http_proxy") != "" || os.Getenv("https_proxy") != ""
	default:
		return true
	}
}

func disableHTTP2(tr *nethttp.Transport) {
	tr.ForceAttemptHTTP2 = false
	tr.TLSNextProto = make(map[string]func(string, *tls.Conn) nethttp.RoundTripper)
}
