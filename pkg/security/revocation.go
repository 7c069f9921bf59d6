package security

import (
	"bytes"
	"context"
	"crypto"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/crypto/ocsp"
)

// RevocationChecker reports whether a certificate has been revoked by its
// issuer. It returns nil for a good certificate and ErrCertificateRevoked
// for a revoked one.
type RevocationChecker interface {
	CheckRevocation(ctx context.Context, cert, issuer *x509.Certificate) error
}

// OCSPConfig configures OCSP checking behavior
type OCSPConfig struct {
	// HTTPClient for OCSP and CRL requests (optional)
	HTTPClient *http.Client
	// Timeout for a single responder request
	Timeout time.Duration
	// CRLFallback consults the CRL distribution points when OCSP fails
	CRLFallback bool
	// CacheTimeout bounds how long a result is reused
	CacheTimeout time.Duration
	// StrictMode fails when the status cannot be determined
	StrictMode bool
	Logger     *slog.Logger
}

// DefaultOCSPConfig returns default configuration
func DefaultOCSPConfig() *OCSPConfig {
	return &OCSPConfig{
		Timeout:      10 * time.Second,
		CRLFallback:  true,
		CacheTimeout: time.Hour,
	}
}

// OCSPRevocationChecker implements RevocationChecker using OCSP with an
// optional CRL fallback.
type OCSPRevocationChecker struct {
	config *OCSPConfig
	client *http.Client
	logger *slog.Logger
	cache  *resultCache[error]
	crls   *resultCache[*x509.RevocationList]
}

// NewOCSPRevocationChecker creates a new OCSP-based revocation checker
func NewOCSPRevocationChecker(config *OCSPConfig) *OCSPRevocationChecker {
	if config == nil {
		config = DefaultOCSPConfig()
	}
	client := config.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: config.Timeout}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &OCSPRevocationChecker{
		config: config,
		client: client,
		logger: logger,
		cache:  newResultCache[error](config.CacheTimeout),
		crls:   newResultCache[*x509.RevocationList](config.CacheTimeout),
	}
}

// CheckRevocation checks certificate revocation status
func (c *OCSPRevocationChecker) CheckRevocation(ctx context.Context, cert, issuer *x509.Certificate) error {
	if cert == nil || issuer == nil {
		return fmt.Errorf("%w: certificate and issuer are required", ErrInvalidCertificate)
	}

	ocspErr := c.checkOCSP(ctx, cert, issuer)
	if ocspErr == nil || errors.Is(ocspErr, ErrCertificateRevoked) {
		return ocspErr
	}

	if c.config.CRLFallback {
		crlErr := c.checkCRL(ctx, cert)
		if crlErr == nil || errors.Is(crlErr, ErrCertificateRevoked) {
			return crlErr
		}
		ocspErr = fmt.Errorf("OCSP: %v, CRL: %w", ocspErr, crlErr)
	}

	if c.config.StrictMode {
		return fmt.Errorf("revocation check failed: %w", ocspErr)
	}
	c.logger.Warn("revocation status undetermined",
		slog.String("subject", cert.Subject.String()),
		slog.String("error", ocspErr.Error()))
	return nil
}

func (c *OCSPRevocationChecker) checkOCSP(ctx context.Context, cert, issuer *x509.Certificate) error {
	key := "ocsp:" + cert.SerialNumber.String()
	if cached, ok := c.cache.Get(key); ok {
		return cached
	}
	if len(cert.OCSPServer) == 0 {
		return fmt.Errorf("no OCSP server URL in certificate")
	}

	req, err := ocsp.CreateRequest(cert, issuer, &ocsp.RequestOptions{Hash: crypto.SHA256})
	if err != nil {
		return fmt.Errorf("failed to create OCSP request: %w", err)
	}
	raw, err := c.postOCSP(ctx, cert.OCSPServer[0], req)
	if err != nil {
		return err
	}
	resp, err := ocsp.ParseResponseForCert(raw, cert, issuer)
	if err != nil {
		return fmt.Errorf("failed to parse OCSP response: %w", err)
	}

	var result error
	switch resp.Status {
	case ocsp.Good:
	case ocsp.Revoked:
		result = ErrCertificateRevoked
	default:
		return fmt.Errorf("OCSP status unknown")
	}
	c.cache.Set(key, result)
	return result
}

// postOCSP sends the request by POST and falls back to GET.
func (c *OCSPRevocationChecker) postOCSP(ctx context.Context, server string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, server, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/ocsp-request")
	req.Header.Set("Accept", "application/ocsp-response")
	if raw, err := c.fetch(req); err == nil {
		return raw, nil
	}

	get, err := http.NewRequestWithContext(ctx, http.MethodGet,
		server+"/"+url.PathEscape(base64.StdEncoding.EncodeToString(body)), nil)
	if err != nil {
		return nil, err
	}
	get.Header.Set("Accept", "application/ocsp-response")
	return c.fetch(get)
}

func (c *OCSPRevocationChecker) fetch(req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", req.URL.Host, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *OCSPRevocationChecker) checkCRL(ctx context.Context, cert *x509.Certificate) error {
	if len(cert.CRLDistributionPoints) == 0 {
		return fmt.Errorf("no CRL distribution points in certificate")
	}
	var lastErr error
	for _, dp := range cert.CRLDistributionPoints {
		crl, err := c.fetchCRL(ctx, dp)
		if err != nil {
			lastErr = err
			continue
		}
		for _, revoked := range crl.RevokedCertificateEntries {
			if revoked.SerialNumber.Cmp(cert.SerialNumber) == 0 {
				return ErrCertificateRevoked
			}
		}
		return nil
	}
	return fmt.Errorf("failed to check CRL: %w", lastErr)
}

func (c *OCSPRevocationChecker) fetchCRL(ctx context.Context, location string) (*x509.RevocationList, error) {
	if cached, ok := c.crls.Get(location); ok {
		return cached, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, err
	}
	raw, err := c.fetch(req)
	if err != nil {
		return nil, err
	}
	crl, err := x509.ParseRevocationList(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CRL: %w", err)
	}
	c.crls.Set(location, crl)
	return crl, nil
}

// resultCache is a small TTL cache shared by the OCSP and CRL lookups.
type resultCache[T any] struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry[T]
	ttl     time.Duration
}

type cacheEntry[T any] struct {
	value T
	at    time.Time
}

func newResultCache[T any](ttl time.Duration) *resultCache[T] {
	return &resultCache[T]{entries: make(map[string]cacheEntry[T]), ttl: ttl}
}

func (c *resultCache[T]) Get(key string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[key]
	if !ok || time.Since(e.at) > c.ttl {
		var zero T
		return zero, false
	}
	return e.value, true
}

func (c *resultCache[T]) Set(key string, value T) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = cacheEntry[T]{value: value, at: time.Now()}
}
