// Package config handles configuration loading for the AS4 sender.
//
// Configuration is loaded from a YAML file with support for environment
// variable expansion (${VAR} or $VAR syntax). This allows secrets such as
// keystore passwords and HSM PINs to be injected at runtime.
//
// # Configuration Sections
//
//   - http: connect and read timeouts, TLS settings
//   - keystore: signing key source (file or pkcs11), alias and password
//   - security: policy document, trust anchors, OCSP, receipt requirements
//   - party: the local party identifier and the id domain
//   - discovery: BDXL/SMP lookup of receiving endpoints
//   - logging: log level and format
//   - observability: Prometheus metrics endpoint
//
// # Example Configuration
//
//	http:
//	  connectTimeoutMs: 30000
//	  readTimeoutMs: 60000
//	  maxResponseBytes: 16777216
//	  tls:
//	    minVersion: "1.2"
//	    caFile: /etc/as4/peers-ca.pem
//
//	keystore:
//	  type: file
//	  file:
//	    dir: /etc/as4/keys
//	  alias: ap
//	  password: ${AS4_KEY_PASSWORD}
//
//	security:
//	  policy: /etc/as4/policy.xml
//	  requireSignedReceipt: true
//
//	party:
//	  id: "0088:5790000435968"
//	  type: urn:oasis:names:tc:ebcore:partyid-type:iso6523:0088
//
//	discovery:
//	  bdxlDomain: edelivery.tech.ec.europa.eu
//	  environment: acceptance
//
// See [Load] for loading configuration from a file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure
type Config struct {
	HTTP      HTTPConfig      `yaml:"http"`
	Keystore  KeystoreConfig  `yaml:"keystore"`
	Security  SecurityConfig  `yaml:"security"`
	Party     PartyConfig     `yaml:"party"`
	Discovery DiscoveryConfig `yaml:"discovery"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"observability"`
}

// HTTPConfig holds transport settings
type HTTPConfig struct {
	ConnectTimeoutMs int    `yaml:"connectTimeoutMs"`
	ReadTimeoutMs    int    `yaml:"readTimeoutMs"`
	MaxResponseBytes int64  `yaml:"maxResponseBytes"`
	UserAgent        string `yaml:"userAgent"`
	TLS              struct {
		// MinVersion is "1.2" or "1.3"
		MinVersion string `yaml:"minVersion"`
		// CAFile is a PEM bundle of roots for server authentication.
		// The system pool is used when empty.
		CAFile string `yaml:"caFile"`
	} `yaml:"tls"`
}

// ConnectTimeout returns the connect timeout as a duration.
func (h HTTPConfig) ConnectTimeout() time.Duration {
	return time.Duration(h.ConnectTimeoutMs) * time.Millisecond
}

// ReadTimeout returns the read timeout as a duration.
func (h HTTPConfig) ReadTimeout() time.Duration {
	return time.Duration(h.ReadTimeoutMs) * time.Millisecond
}

// KeystoreConfig holds signing key settings
type KeystoreConfig struct {
	// Type determines where the signing key lives
	// - "file": PEM or PKCS#12 files in a directory
	// - "pkcs11": a PKCS#11 token (HSM/smart card)
	Type string `yaml:"type"`

	// Alias names the signing key
	Alias string `yaml:"alias"`
	// Password unlocks the key (PKCS#12 files)
	Password string `yaml:"password"`

	File   FileKeyConfig `yaml:"file"`
	PKCS11 PKCS11Config  `yaml:"pkcs11"`
}

// FileKeyConfig holds file-based key settings
type FileKeyConfig struct {
	// Directory containing {alias}.p12 or {alias}.key + {alias}.crt
	Dir string `yaml:"dir"`
}

// PKCS11Config holds PKCS#11 HSM settings
type PKCS11Config struct {
	// Path to the PKCS#11 library (.so/.dylib/.dll)
	ModulePath string `yaml:"modulePath"`
	// Slot ID or label to use
	SlotID    uint   `yaml:"slotId"`
	SlotLabel string `yaml:"slotLabel"`
	// PIN for authentication (can be env var reference like ${HSM_PIN})
	PIN string `yaml:"pin"`
	// Key label pattern, {alias} is replaced by the key alias
	KeyLabelPattern string `yaml:"keyLabelPattern"`
}

// SecurityConfig holds message security settings
type SecurityConfig struct {
	// Policy is the WS-Policy document. The built-in policy is used when
	// empty.
	Policy string `yaml:"policy"`
	// TrustAnchors is a PEM bundle endpoint certificates must chain to.
	// Endpoint certificates are not validated when empty.
	TrustAnchors string `yaml:"trustAnchors"`
	OCSP         struct {
		Enabled     bool `yaml:"enabled"`
		Strict      bool `yaml:"strict"`
		CRLFallback bool `yaml:"crlFallback"`
		TimeoutMs   int  `yaml:"timeoutMs"`
	} `yaml:"ocsp"`
	RequireSignedReceipt bool `yaml:"requireSignedReceipt"`
	TimestampTTLSeconds  int  `yaml:"timestampTTLSeconds"`
}

// PartyConfig identifies the sending party
type PartyConfig struct {
	ID       string `yaml:"id"`
	Type     string `yaml:"type"`
	IDDomain string `yaml:"idDomain"`
}

// DiscoveryConfig holds dynamic discovery settings. Discovery is used
// when no endpoint is given explicitly.
type DiscoveryConfig struct {
	// BDXLDomain is the U-NAPTR zone of the SML/BDXL provider
	BDXLDomain string `yaml:"bdxlDomain"`
	// Environment is "production", "acceptance" or "test"
	Environment string `yaml:"environment"`
	// DNSServer overrides /etc/resolv.conf ("host:port")
	DNSServer string `yaml:"dnsServer"`
	// SMPURL queries a fixed SMP and skips BDXL
	SMPURL string `yaml:"smpUrl"`
}

// Enabled reports whether a discovery source is configured.
func (d DiscoveryConfig) Enabled() bool {
	return d.BDXLDomain != "" || d.SMPURL != ""
}

// LoggingConfig holds log settings
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig holds observability settings
type MetricsConfig struct {
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Listen  string `yaml:"listen"`
		Path    string `yaml:"path"`
	} `yaml:"metrics"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse reads configuration from YAML bytes
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no file is given
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyDefaults() {
	if c.HTTP.ConnectTimeoutMs == 0 {
		c.HTTP.ConnectTimeoutMs = 30000
	}
	if c.HTTP.ReadTimeoutMs == 0 {
		c.HTTP.ReadTimeoutMs = 60000
	}
	if c.HTTP.MaxResponseBytes == 0 {
		c.HTTP.MaxResponseBytes = 16 << 20
	}
	if c.HTTP.TLS.MinVersion == "" {
		c.HTTP.TLS.MinVersion = "1.2"
	}
	if c.Keystore.Type == "" {
		c.Keystore.Type = "file"
	}
	if c.Keystore.File.Dir == "" {
		c.Keystore.File.Dir = "./keys"
	}
	if c.Keystore.PKCS11.KeyLabelPattern == "" {
		c.Keystore.PKCS11.KeyLabelPattern = "{alias}"
	}
	if c.Security.OCSP.TimeoutMs == 0 {
		c.Security.OCSP.TimeoutMs = 10000
	}
	if c.Security.TimestampTTLSeconds == 0 {
		c.Security.TimestampTTLSeconds = 300
	}
	if c.Discovery.Environment == "" {
		c.Discovery.Environment = "production"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Metrics.Listen == "" {
		c.Metrics.Metrics.Listen = ":9090"
	}
	if c.Metrics.Metrics.Path == "" {
		c.Metrics.Metrics.Path = "/metrics"
	}
}

func (c *Config) validate() error {
	if c.HTTP.ConnectTimeoutMs < 0 || c.HTTP.ReadTimeoutMs < 0 {
		return fmt.Errorf("http timeouts must not be negative")
	}
	if c.HTTP.MaxResponseBytes < 0 {
		return fmt.Errorf("http.maxResponseBytes must not be negative")
	}

	switch c.HTTP.TLS.MinVersion {
	case "1.2", "1.3":
	default:
		return fmt.Errorf("http.tls.minVersion must be '1.2' or '1.3', got '%s'", c.HTTP.TLS.MinVersion)
	}

	switch c.Keystore.Type {
	case "file", "pkcs11":
		// Valid types
	default:
		return fmt.Errorf("keystore.type must be 'file' or 'pkcs11', got '%s'", c.Keystore.Type)
	}

	if c.Keystore.Type == "pkcs11" && c.Keystore.PKCS11.ModulePath == "" {
		return fmt.Errorf("keystore.pkcs11.modulePath is required when type is 'pkcs11'")
	}

	switch c.Discovery.Environment {
	case "production", "acceptance", "test":
	default:
		return fmt.Errorf("discovery.environment must be 'production', 'acceptance' or 'test', got '%s'", c.Discovery.Environment)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be 'text' or 'json', got '%s'", c.Logging.Format)
	}

	return nil
}
