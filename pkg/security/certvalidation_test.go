package security

import (
	"context"
	"crypto"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ocsp"
)

func TestDefaultCertificateValidator(t *testing.T) {
	ca := newTestCA(t)
	_, leaf := ca.issue(t, "ap.example.com", time.Now().Add(24*time.Hour), "")
	_, selfSigned := newTestKey(t, "rogue.example.com")

	v := NewDefaultCertificateValidator(ca.pool())

	t.Run("trusted", func(t *testing.T) {
		assert.NoError(t, v.ValidateCertificate(context.Background(), leaf, nil, PurposeEncryption))
	})

	t.Run("untrusted", func(t *testing.T) {
		err := v.ValidateCertificate(context.Background(), selfSigned, nil, PurposeEncryption)
		assert.ErrorIs(t, err, ErrCertificateUntrusted)
	})

	t.Run("expired", func(t *testing.T) {
		later := NewDefaultCertificateValidator(ca.pool()).WithClock(func() time.Time { return time.Now().Add(48 * time.Hour) })
		assert.ErrorIs(t, later.ValidateCertificate(context.Background(), leaf, nil, PurposeEncryption), ErrCertificateExpired)
	})

	t.Run("not yet valid", func(t *testing.T) {
		earlier := NewDefaultCertificateValidator(ca.pool()).WithClock(func() time.Time { return time.Now().Add(-48 * time.Hour) })
		assert.ErrorIs(t, earlier.ValidateCertificate(context.Background(), leaf, nil, PurposeEncryption), ErrCertificateNotYetValid)
	})

	t.Run("nil", func(t *testing.T) {
		assert.ErrorIs(t, v.ValidateCertificate(context.Background(), nil, nil, ""), ErrInvalidCertificate)
	})
}

// ocspResponder answers every request with the given status, signed by ca.
func ocspResponder(t *testing.T, ca *testCA, status int, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		req, err := ocsp.ParseRequest(body)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		now := time.Now()
		tmpl := ocsp.Response{
			Status:       status,
			SerialNumber: req.SerialNumber,
			ThisUpdate:   now.Add(-time.Minute),
			NextUpdate:   now.Add(time.Hour),
			IssuerHash:   crypto.SHA256,
		}
		if status == ocsp.Revoked {
			tmpl.RevokedAt = now.Add(-time.Hour)
			tmpl.RevocationReason = ocsp.KeyCompromise
		}
		resp, err := ocsp.CreateResponse(ca.cert, ca.cert, tmpl, ca.key)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/ocsp-response")
		_, _ = w.Write(resp)
	}))
}

func TestRevocationAwareCertValidator(t *testing.T) {
	ca := newTestCA(t)

	t.Run("good", func(t *testing.T) {
		var hits atomic.Int32
		srv := ocspResponder(t, ca, ocsp.Good, &hits)
		defer srv.Close()
		_, leaf := ca.issue(t, "ap.example.com", time.Now().Add(24*time.Hour), srv.URL)

		checker := NewOCSPRevocationChecker(&OCSPConfig{Timeout: time.Second, CacheTimeout: time.Hour, StrictMode: true})
		v := NewRevocationAwareCertValidator(NewDefaultCertificateValidator(ca.pool()), checker)

		require.NoError(t, v.ValidateCertificate(context.Background(), leaf, nil, PurposeEncryption))
		require.NoError(t, v.ValidateCertificate(context.Background(), leaf, nil, PurposeEncryption))
		assert.Equal(t, int32(1), hits.Load(), "second check is served from cache")
	})

	t.Run("revoked", func(t *testing.T) {
		var hits atomic.Int32
		srv := ocspResponder(t, ca, ocsp.Revoked, &hits)
		defer srv.Close()
		_, leaf := ca.issue(t, "ap.example.com", time.Now().Add(24*time.Hour), srv.URL)

		v := NewRevocationAwareCertValidator(NewDefaultCertificateValidator(ca.pool()), NewOCSPRevocationChecker(nil))
		err := v.ValidateCertificate(context.Background(), leaf, nil, PurposeEncryption)
		assert.ErrorIs(t, err, ErrCertificateRevoked)
	})

	t.Run("no responder", func(t *testing.T) {
		_, leaf := ca.issue(t, "ap.example.com", time.Now().Add(24*time.Hour), "")

		lenient := NewRevocationAwareCertValidator(NewDefaultCertificateValidator(ca.pool()),
			NewOCSPRevocationChecker(&OCSPConfig{Timeout: time.Second}))
		assert.NoError(t, lenient.ValidateCertificate(context.Background(), leaf, nil, PurposeEncryption))

		strict := NewRevocationAwareCertValidator(NewDefaultCertificateValidator(ca.pool()),
			NewOCSPRevocationChecker(&OCSPConfig{Timeout: time.Second, StrictMode: true}))
		assert.Error(t, strict.ValidateCertificate(context.Background(), leaf, nil, PurposeEncryption))
	})

	t.Run("chain failure wins", func(t *testing.T) {
		_, rogue := newTestKey(t, "rogue.example.com")
		v := NewRevocationAwareCertValidator(NewDefaultCertificateValidator(ca.pool()), NewOCSPRevocationChecker(nil))
		assert.ErrorIs(t, v.ValidateCertificate(context.Background(), rogue, nil, PurposeEncryption), ErrCertificateUntrusted)
	})
}
