package discovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/ShowKa/Oxalis-AS4/pkg/transmission"
)

// ErrNoLocation is returned by NewResolver when neither a BDXL domain nor
// an SMP URL is configured.
var ErrNoLocation = errors.New("discovery needs a BDXL domain or an SMP URL")

const defaultUserAgent = "oxalis-as4-go-smp/1.0"

// Resolver finds the address and certificate of a receiving access point
// from the receiver's party id, the service and the action.
type Resolver struct {
	domain    string
	env       Environment
	dnsServer string
	smpURL    string
	profiles  []string
	userAgent string

	dns    *dns.Client
	http   *http.Client
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithBDXL locates the SMP through U-NAPTR records under domain.
func WithBDXL(domain string, env Environment) Option {
	return func(r *Resolver) {
		r.domain = domain
		r.env = env
	}
}

// WithDNSServer sets the "host:port" of the resolver used for BDXL.
// /etc/resolv.conf is used otherwise.
func WithDNSServer(addr string) Option {
	return func(r *Resolver) {
		r.dnsServer = addr
	}
}

// WithSMP queries a fixed SMP and skips BDXL.
func WithSMP(baseURL string) Option {
	return func(r *Resolver) {
		r.smpURL = baseURL
	}
}

// WithTransportProfiles sets the accepted transport profiles in order of
// preference.
func WithTransportProfiles(profiles ...string) Option {
	return func(r *Resolver) {
		r.profiles = profiles
	}
}

// WithHTTPClient sets the client used for SMP queries.
func WithHTTPClient(c *http.Client) Option {
	return func(r *Resolver) {
		r.http = c
	}
}

// WithClock sets the time used to check endpoint activation dates.
func WithClock(now func() time.Time) Option {
	return func(r *Resolver) {
		r.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Resolver) {
		r.logger = l
	}
}

// NewResolver creates a Resolver.
func NewResolver(opts ...Option) (*Resolver, error) {
	r := &Resolver{
		env:       EnvProduction,
		profiles:  []string{TransportAS4V2, TransportPeppolAS4, TransportAS4V1},
		userAgent: defaultUserAgent,
		dns:       &dns.Client{Timeout: 5 * time.Second},
		http:      &http.Client{Timeout: 30 * time.Second},
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.domain == "" && r.smpURL == "" {
		return nil, ErrNoLocation
	}
	return r, nil
}

// Participant returns the canonical identifier of a party: the ebCore
// URN for ebCore party types, "type::value" for other typed ids.
func Participant(p transmission.PartyID) string {
	switch {
	case p.Type == "":
		return p.Value
	case strings.HasPrefix(p.Type, ebCorePrefix):
		return p.Type + ":" + p.Value
	default:
		return p.Type + "::" + p.Value
	}
}

// Resolve looks up the endpoint registered for receiver. The action is the
// document type and the service the process.
func (r *Resolver) Resolve(ctx context.Context, receiver transmission.PartyID, service transmission.Service, action string) (*transmission.Endpoint, error) {
	participant := Participant(receiver)
	if participant == "" {
		return nil, ErrEmptyParticipant
	}
	logger := r.logger.With(slog.String("participant", participant))

	smp := r.smpURL
	if smp == "" {
		var err error
		if smp, err = r.locateSMP(ctx, participant); err != nil {
			return nil, fmt.Errorf("BDXL lookup: %w", err)
		}
	}

	procs, err := r.serviceMetadata(ctx, smp, participant, action)
	if err != nil {
		return nil, fmt.Errorf("SMP lookup: %w", err)
	}

	ep, err := r.selectEndpoint(procs, service)
	if err != nil {
		return nil, err
	}
	cert, err := parseCertificate(ep.Certificate)
	if err != nil {
		return nil, err
	}

	logger.Info("endpoint discovered",
		slog.String("smp", smp),
		slog.String("address", ep.Address),
		slog.String("profile", ep.Profile))
	return &transmission.Endpoint{Address: ep.Address, Certificate: cert}, nil
}

func (r *Resolver) selectEndpoint(procs []smpProcess, service transmission.Service) (*smpEndpoint, error) {
	now := r.now()
	var candidates []smpEndpoint
	for _, p := range procs {
		if p.ID != service.Value {
			continue
		}
		if service.Type != "" && p.Scheme != "" && p.Scheme != service.Type {
			continue
		}
		for _, ep := range p.Endpoints {
			if ep.activeAt(now) {
				candidates = append(candidates, ep)
			}
		}
	}
	for _, profile := range r.profiles {
		for i := range candidates {
			if candidates[i].Profile == profile {
				return &candidates[i], nil
			}
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrProcessNotFound, service.Value)
}
