package tlsutil

import (
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"time"
)

// ClientConfig returns the TLS settings for outbound connections: TLS 1.2
// or later with AEAD cipher suites only. TLS 1.3 suites are not
// configurable and are always AEAD.
func ClientConfig() *tls.Config {
	return &tls.Config{
		MinVersion: tls.VersionTLS12,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
		},
	}
}

// NewTransport returns a hardened transport. Model providers and the tool
// service are few hosts with many requests each, so idle connections are
// kept per host rather than globally.
func NewTransport() *http.Transport {
	return &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: ClientConfig(),
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   20,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
}

var (
	sharedOnce      sync.Once
	sharedTransport *http.Transport
)

// SharedTransport returns the process-wide outbound transport.
func SharedTransport() *http.Transport {
	sharedOnce.Do(func() { sharedTransport = NewTransport() })
	return sharedTransport
}

// HTTPClient returns a client on the shared transport. timeout bounds the
// whole exchange, including reading a streamed body.
func HTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout, Transport: SharedTransport()}
}
