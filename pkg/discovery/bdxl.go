package discovery

import (
	"context"
	"crypto/sha256"
	"encoding/base32"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/miekg/dns"
)

// BDXL errors
var (
	ErrNoRecordsFound   = errors.New("no BDXL records found for participant")
	ErrInvalidNAPTR     = errors.New("invalid NAPTR record")
	ErrNoSMPService     = errors.New("no SMP service in BDXL records")
	ErrEmptyParticipant = errors.New("participant identifier is empty")
)

// Environment selects the BDXL zone.
type Environment string

const (
	EnvProduction Environment = "production"
	EnvAcceptance Environment = "acceptance"
	EnvTest       Environment = "test"
)

// U-NAPTR service names of SMP metadata services
const (
	ServiceSMP1 = "Meta:SMP"
	ServiceSMP2 = "oasis-bdxr-smp-2"
)

const ebCorePrefix = "urn:oasis:names:tc:ebcore:partyid-type:"

// hashParticipant returns the unpadded BASE32 SHA-256 label of a
// participant identifier.
func hashParticipant(participant string) (string, error) {
	if participant == "" {
		return "", ErrEmptyParticipant
	}
	sum := sha256.Sum256([]byte(participant))
	return strings.TrimRight(base32.StdEncoding.EncodeToString(sum[:]), "="), nil
}

// queryName builds <hash>.[<env>.]<domain>.
func queryName(hash string, env Environment, domain string) string {
	if env == "" || env == EnvProduction {
		return dns.Fqdn(hash + "." + domain)
	}
	return dns.Fqdn(hash + "." + string(env) + "." + domain)
}

// locateSMP resolves the SMP base URL of participant through U-NAPTR.
func (r *Resolver) locateSMP(ctx context.Context, participant string) (string, error) {
	hash, err := hashParticipant(participant)
	if err != nil {
		return "", err
	}
	name := queryName(hash, r.env, r.domain)

	server, err := r.nameserver()
	if err != nil {
		return "", err
	}

	msg := new(dns.Msg)
	msg.SetQuestion(name, dns.TypeNAPTR)
	msg.RecursionDesired = true

	resp, _, err := r.dns.ExchangeContext(ctx, msg, server)
	if err != nil {
		return "", fmt.Errorf("DNS lookup of %s: %w", name, err)
	}
	switch resp.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		return "", fmt.Errorf("%w: %s", ErrNoRecordsFound, name)
	default:
		return "", fmt.Errorf("DNS lookup of %s: %s", name, dns.RcodeToString[resp.Rcode])
	}

	var records []*dns.NAPTR
	for _, rr := range resp.Answer {
		if naptr, ok := rr.(*dns.NAPTR); ok {
			records = append(records, naptr)
		}
	}
	if len(records) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNoRecordsFound, name)
	}

	best := selectRecord(records)
	if best == nil {
		return "", ErrNoSMPService
	}
	r.logger.Debug("BDXL record selected",
		"name", name,
		"service", best.Service,
		"regexp", best.Regexp)
	return naptrURL(best.Regexp)
}

func (r *Resolver) nameserver() (string, error) {
	if r.dnsServer != "" {
		return r.dnsServer, nil
	}
	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil {
		return "", fmt.Errorf("reading resolver config: %w", err)
	}
	if len(conf.Servers) == 0 {
		return "", errors.New("no DNS servers configured")
	}
	return conf.Servers[0] + ":" + conf.Port, nil
}

// selectRecord picks the terminal SMP record with the lowest order and
// preference. SMP 2 wins a tie.
func selectRecord(records []*dns.NAPTR) *dns.NAPTR {
	var best *dns.NAPTR
	rank := func(rec *dns.NAPTR) int {
		r := int(rec.Order)<<17 | int(rec.Preference)<<1
		if !strings.EqualFold(rec.Service, ServiceSMP2) {
			r |= 1
		}
		return r
	}
	for _, rec := range records {
		if !strings.EqualFold(rec.Flags, "U") {
			continue
		}
		if !strings.EqualFold(rec.Service, ServiceSMP1) && !strings.EqualFold(rec.Service, ServiceSMP2) {
			continue
		}
		if best == nil || rank(rec) < rank(best) {
			best = rec
		}
	}
	return best
}

// naptrURL extracts the replacement of a "!<pattern>!<url>!" regexp.
func naptrURL(regexp string) (string, error) {
	if len(regexp) < 3 {
		return "", fmt.Errorf("%w: %q", ErrInvalidNAPTR, regexp)
	}
	delim := regexp[:1]
	parts := strings.Split(regexp[1:], delim)
	if len(parts) < 2 || parts[1] == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidNAPTR, regexp)
	}
	u, err := url.Parse(parts[1])
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return "", fmt.Errorf("%w: bad SMP URL %q", ErrInvalidNAPTR, parts[1])
	}
	return parts[1], nil
}
