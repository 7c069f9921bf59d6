package transport

import (
	"crypto/tls"
	"crypto/x509"
	"net"
	"net/http"
	"time"
)

// TLS version constants
const (
	TLS12 = tls.VersionTLS12
	TLS13 = tls.VersionTLS13
)

// Default timeouts
const (
	DefaultConnectTimeout = 30 * time.Second
	DefaultReadTimeout    = 60 * time.Second
)

// DefaultMaxResponseSize caps the response body read from a peer.
const DefaultMaxResponseSize int64 = 16 << 20

// Recommended TLS 1.2 cipher suites for AS4
var RecommendedTLS12CipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
}

// HTTPSConfig contains HTTPS client configuration
type HTTPSConfig struct {
	MinTLSVersion uint16
	MaxTLSVersion uint16
	CipherSuites  []uint16
	// Certificates are presented for TLS client authentication.
	Certificates []tls.Certificate
	RootCAs      *x509.CertPool
	// ConnectTimeout bounds TCP connection establishment and the TLS handshake.
	ConnectTimeout time.Duration
	// ReadTimeout bounds the wait for the response, headers and body,
	// once the request has been handed to the transport.
	ReadTimeout     time.Duration
	IdleConnTimeout time.Duration
	// MaxResponseSize caps the response body in bytes. Zero means
	// DefaultMaxResponseSize.
	MaxResponseSize int64
}

// DefaultHTTPSConfig returns a default HTTPS configuration
func DefaultHTTPSConfig() *HTTPSConfig {
	return &HTTPSConfig{
		MinTLSVersion:   TLS12,
		MaxTLSVersion:   TLS13,
		CipherSuites:    RecommendedTLS12CipherSuites,
		ConnectTimeout:  DefaultConnectTimeout,
		ReadTimeout:     DefaultReadTimeout,
		IdleConnTimeout: 90 * time.Second,
		MaxResponseSize: DefaultMaxResponseSize,
	}
}

// NewHTTPTransport builds the round tripper used by the dispatcher.
func NewHTTPTransport(config *HTTPSConfig) *http.Transport {
	if config == nil {
		config = DefaultHTTPSConfig()
	}
	dialer := &net.Dialer{
		Timeout:   config.ConnectTimeout,
		KeepAlive: 30 * time.Second,
	}
	return &http.Transport{
		Proxy:       http.ProxyFromEnvironment,
		DialContext: dialer.DialContext,
		TLSClientConfig: &tls.Config{
			MinVersion:   config.MinTLSVersion,
			MaxVersion:   config.MaxTLSVersion,
			CipherSuites: config.CipherSuites,
			Certificates: config.Certificates,
			RootCAs:      config.RootCAs,
		},
		TLSHandshakeTimeout: config.ConnectTimeout,
		IdleConnTimeout:     config.IdleConnTimeout,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
	}
}
