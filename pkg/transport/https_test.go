package transport

import (
	"crypto/tls"
	"testing"
	"time"
)

func TestDefaultHTTPSConfig(t *testing.T) {
	config := DefaultHTTPSConfig()

	if config == nil {
		t.Fatal("expected non-nil config")
	}

	if config.MinTLSVersion != TLS12 {
		t.Errorf("expected MinTLSVersion TLS12, got %d", config.MinTLSVersion)
	}
	if config.MaxTLSVersion != TLS13 {
		t.Errorf("expected MaxTLSVersion TLS13, got %d", config.MaxTLSVersion)
	}
	if len(config.CipherSuites) == 0 {
		t.Error("expected CipherSuites to be set")
	}
	if config.ConnectTimeout != 30*time.Second {
		t.Errorf("expected ConnectTimeout 30s, got %v", config.ConnectTimeout)
	}
	if config.ReadTimeout != 60*time.Second {
		t.Errorf("expected ReadTimeout 60s, got %v", config.ReadTimeout)
	}
	if config.IdleConnTimeout != 90*time.Second {
		t.Errorf("expected IdleConnTimeout 90s, got %v", config.IdleConnTimeout)
	}
}

func TestRecommendedTLS12CipherSuites(t *testing.T) {
	if len(RecommendedTLS12CipherSuites) == 0 {
		t.Error("expected recommended cipher suites to be defined")
	}

	for _, suite := range RecommendedTLS12CipherSuites {
		name := tls.CipherSuiteName(suite)
		if name == "" {
			t.Errorf("unknown cipher suite: %d", suite)
		}
	}
}

func TestNewHTTPTransport_NilConfig(t *testing.T) {
	tr := NewHTTPTransport(nil)

	if tr == nil {
		t.Fatal("expected non-nil transport")
	}
	if tr.TLSClientConfig.MinVersion != TLS12 {
		t.Errorf("expected MinVersion TLS12, got %d", tr.TLSClientConfig.MinVersion)
	}
	if tr.TLSHandshakeTimeout != DefaultConnectTimeout {
		t.Errorf("expected handshake timeout %v, got %v", DefaultConnectTimeout, tr.TLSHandshakeTimeout)
	}
}

func TestNewHTTPTransport_CustomConfig(t *testing.T) {
	config := &HTTPSConfig{
		MinTLSVersion:   TLS13,
		MaxTLSVersion:   TLS13,
		ConnectTimeout:  5 * time.Second,
		IdleConnTimeout: 120 * time.Second,
	}

	tr := NewHTTPTransport(config)

	if tr.TLSClientConfig.MinVersion != TLS13 {
		t.Error("expected custom MinVersion")
	}
	if tr.TLSHandshakeTimeout != 5*time.Second {
		t.Error("expected custom handshake timeout")
	}
	if tr.IdleConnTimeout != 120*time.Second {
		t.Error("expected custom idle timeout")
	}
}

func TestTLSConstants(t *testing.T) {
	if TLS12 != tls.VersionTLS12 {
		t.Errorf("TLS12 constant mismatch")
	}
	if TLS13 != tls.VersionTLS13 {
		t.Errorf("TLS13 constant mismatch")
	}
}
