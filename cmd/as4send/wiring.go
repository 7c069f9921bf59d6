package main

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ShowKa/Oxalis-AS4/internal/config"
	"github.com/ShowKa/Oxalis-AS4/internal/keystore"
	"github.com/ShowKa/Oxalis-AS4/internal/metrics"
	"github.com/ShowKa/Oxalis-AS4/pkg/as4"
	"github.com/ShowKa/Oxalis-AS4/pkg/discovery"
	"github.com/ShowKa/Oxalis-AS4/pkg/message"
	"github.com/ShowKa/Oxalis-AS4/pkg/mime"
	"github.com/ShowKa/Oxalis-AS4/pkg/pmode"
	"github.com/ShowKa/Oxalis-AS4/pkg/security"
	"github.com/ShowKa/Oxalis-AS4/pkg/transport"
)

// app holds the wired sender and the resources it owns.
type app struct {
	sender  *as4.Sender
	keys    keystore.Provider
	metrics *http.Server
	logger  *slog.Logger
}

func newLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stderr, opts)
	default:
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return slog.New(handler), nil
}

func newApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	keys, err := keystore.NewProvider(&cfg.Keystore)
	if err != nil {
		return nil, fmt.Errorf("opening keystore: %w", err)
	}
	a := &app{keys: keys, logger: logger}

	secOpts := []security.Option{
		security.WithKeyResolver(keys),
		security.WithSigningKey(cfg.Keystore.Alias, cfg.Keystore.Password),
		security.WithTimestampTTL(time.Duration(cfg.Security.TimestampTTLSeconds) * time.Second),
		security.WithLogger(logger),
	}
	if cfg.Security.Policy != "" {
		secOpts = append(secOpts, security.WithPolicyLoader(pmode.FileLoader{Path: cfg.Security.Policy}))
	}
	validator, err := newCertificateValidator(&cfg.Security, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	if validator != nil {
		secOpts = append(secOpts, security.WithCertificateValidator(validator))
	}

	httpsCfg, err := newHTTPSConfig(&cfg.HTTP)
	if err != nil {
		a.Close()
		return nil, err
	}
	dispOpts := []transport.Option{transport.WithLogger(logger)}
	if cfg.HTTP.UserAgent != "" {
		dispOpts = append(dispOpts, transport.WithUserAgent(cfg.HTTP.UserAgent))
	}

	ids := message.NewUUIDGenerator(cfg.Party.IDDomain)
	senderOpts := []as4.Option{
		as4.WithAttachmentBuilder(mime.NewAttachmentBuilder(mime.WithContentIDGenerator(ids))),
		as4.WithHeaderBuilder(message.NewUserMessageBuilder(message.WithIDGenerator(ids))),
		as4.WithSecurity(security.NewConfigurator(secOpts...)),
		as4.WithDispatcher(transport.NewHTTPDispatcher(httpsCfg, dispOpts...)),
		as4.WithResponseConverter(as4.NewReceiptConverter(as4.RequireSignedReceipt(cfg.Security.RequireSignedReceipt))),
		as4.WithLogger(logger),
	}

	if cfg.Metrics.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		senderOpts = append(senderOpts, as4.WithMetrics(metrics.New(reg)))
		a.metrics = serveMetrics(cfg.Metrics.Metrics.Listen, cfg.Metrics.Metrics.Path, reg, logger)
	}

	a.sender = as4.NewSender(senderOpts...)
	return a, nil
}

// Close shuts down the metrics endpoint and releases the keystore.
func (a *app) Close() error {
	var errs []error
	if a.metrics != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		errs = append(errs, a.metrics.Shutdown(ctx))
	}
	if a.keys != nil {
		errs = append(errs, a.keys.Close())
	}
	return errors.Join(errs...)
}

func serveMetrics(addr, path string, reg *prometheus.Registry, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", slog.String("addr", addr), slog.Any("error", err))
		}
	}()
	return srv
}

func newHTTPSConfig(cfg *config.HTTPConfig) (*transport.HTTPSConfig, error) {
	httpsCfg := transport.DefaultHTTPSConfig()
	httpsCfg.ConnectTimeout = cfg.ConnectTimeout()
	httpsCfg.ReadTimeout = cfg.ReadTimeout()
	httpsCfg.MaxResponseSize = cfg.MaxResponseBytes
	if cfg.TLS.MinVersion == "1.3" {
		httpsCfg.MinTLSVersion = transport.TLS13
	}
	if cfg.TLS.CAFile != "" {
		pool, err := loadCertPool(cfg.TLS.CAFile)
		if err != nil {
			return nil, fmt.Errorf("loading TLS CA bundle: %w", err)
		}
		httpsCfg.RootCAs = pool
	}
	return httpsCfg, nil
}

// newCertificateValidator returns nil when no trust anchors are configured.
func newCertificateValidator(cfg *config.SecurityConfig, logger *slog.Logger) (security.CertificateValidator, error) {
	if cfg.TrustAnchors == "" {
		return nil, nil
	}
	roots, err := loadCertPool(cfg.TrustAnchors)
	if err != nil {
		return nil, fmt.Errorf("loading trust anchors: %w", err)
	}
	base := security.NewDefaultCertificateValidator(roots)
	if !cfg.OCSP.Enabled {
		return base, nil
	}
	checker := security.NewOCSPRevocationChecker(&security.OCSPConfig{
		Timeout:      time.Duration(cfg.OCSP.TimeoutMs) * time.Millisecond,
		CRLFallback:  cfg.OCSP.CRLFallback,
		CacheTimeout: time.Hour,
		StrictMode:   cfg.OCSP.Strict,
		Logger:       logger,
	})
	return security.NewRevocationAwareCertValidator(base, checker), nil
}

func newResolver(cfg *config.DiscoveryConfig, logger *slog.Logger) (*discovery.Resolver, error) {
	opts := []discovery.Option{discovery.WithLogger(logger)}
	if cfg.SMPURL != "" {
		opts = append(opts, discovery.WithSMP(cfg.SMPURL))
	} else {
		opts = append(opts, discovery.WithBDXL(cfg.BDXLDomain, discovery.Environment(cfg.Environment)))
	}
	if cfg.DNSServer != "" {
		opts = append(opts, discovery.WithDNSServer(cfg.DNSServer))
	}
	return discovery.NewResolver(opts...)
}

func loadCertificate(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(data)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, fmt.Errorf("no PEM certificate in %s", path)
	}
	return x509.ParseCertificate(block.Bytes)
}

func loadCertPool(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, fmt.Errorf("no certificates found in %s", path)
	}
	return pool, nil
}
