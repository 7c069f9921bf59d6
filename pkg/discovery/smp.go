package discovery

import (
	"context"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/beevik/etree"
)

// SMP errors
var (
	ErrParticipantNotFound = errors.New("participant not found in SMP")
	ErrProcessNotFound     = errors.New("no endpoint for process")
	ErrTooManyRedirects    = errors.New("too many SMP redirects")
)

// Transport profiles, in default order of preference
const (
	TransportAS4V2     = "bdxr-transport-ebms3-as4-v2p0"
	TransportPeppolAS4 = "peppol-transport-as4-v2_0"
	TransportAS4V1     = "busdox-transport-ebms3-as4-v1p0"
)

const maxRedirects = 1

// smpEndpoint is one ServiceEndpointList/Endpoint entry.
type smpEndpoint struct {
	Profile     string
	Address     string
	Certificate string
	Activation  time.Time
	Expiration  time.Time
}

// smpProcess is one ProcessList/Process entry.
type smpProcess struct {
	Scheme    string
	ID        string
	Endpoints []smpEndpoint
}

func (e smpEndpoint) activeAt(t time.Time) bool {
	if !e.Activation.IsZero() && e.Activation.After(t) {
		return false
	}
	if !e.Expiration.IsZero() && e.Expiration.Before(t) {
		return false
	}
	return true
}

// metadataURL is <smp>/<participant>/services/<document>.
func metadataURL(smp, participant, document string) string {
	return strings.TrimRight(smp, "/") + "/" + url.PathEscape(participant) + "/services/" + url.PathEscape(document)
}

// serviceMetadata fetches the processes registered for document,
// following an SMP 1.0 Redirect once.
func (r *Resolver) serviceMetadata(ctx context.Context, smp, participant, document string) ([]smpProcess, error) {
	target := metadataURL(smp, participant, document)
	for hop := 0; ; hop++ {
		body, err := r.get(ctx, target)
		if err != nil {
			return nil, err
		}
		procs, redirect, err := parseServiceMetadata(body)
		if err != nil {
			return nil, err
		}
		if redirect == "" {
			return procs, nil
		}
		if hop >= maxRedirects {
			return nil, ErrTooManyRedirects
		}
		r.logger.Debug("following SMP redirect", "from", target, "to", redirect)
		target = redirect
	}
}

func (r *Resolver) get(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("creating SMP request: %w", err)
	}
	req.Header.Set("Accept", "application/xml")
	req.Header.Set("User-Agent", r.userAgent)

	resp, err := r.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("SMP request failed: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrParticipantNotFound, target)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("SMP returned status %d for %s", resp.StatusCode, target)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("reading SMP response: %w", err)
	}
	return body, nil
}

// parseServiceMetadata reads an SMP 1.0 SignedServiceMetadata or
// ServiceMetadata document. Elements are matched by local name.
func parseServiceMetadata(data []byte) ([]smpProcess, string, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, "", fmt.Errorf("parsing SMP response: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, "", errors.New("parsing SMP response: empty document")
	}

	if redirect := findLocal(root, "Redirect"); redirect != nil {
		href := redirect.SelectAttrValue("href", "")
		if href == "" {
			return nil, "", errors.New("SMP redirect without href")
		}
		return nil, href, nil
	}

	var procs []smpProcess
	for _, p := range findAllLocal(root, "Process") {
		var proc smpProcess
		if id := firstLocalChild(p, "ProcessIdentifier"); id != nil {
			proc.ID = strings.TrimSpace(id.Text())
			proc.Scheme = id.SelectAttrValue("scheme", "")
		}
		for _, ep := range findAllLocal(p, "Endpoint") {
			proc.Endpoints = append(proc.Endpoints, parseEndpoint(ep))
		}
		procs = append(procs, proc)
	}
	if len(procs) == 0 {
		return nil, "", errors.New("SMP response lists no processes")
	}
	return procs, "", nil
}

func parseEndpoint(ep *etree.Element) smpEndpoint {
	return smpEndpoint{
		Profile:     ep.SelectAttrValue("transportProfile", ""),
		Address:     childText(ep, "EndpointURI"),
		Certificate: childText(ep, "Certificate"),
		Activation:  parseDate(childText(ep, "ServiceActivationDate")),
		Expiration:  parseDate(childText(ep, "ServiceExpirationDate")),
	}
}

// parseCertificate accepts base64 DER, with or without whitespace, or PEM.
func parseCertificate(s string) (*x509.Certificate, error) {
	if block, _ := pem.Decode([]byte(s)); block != nil {
		return x509.ParseCertificate(block.Bytes)
	}
	der, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(s), ""))
	if err != nil {
		return nil, fmt.Errorf("decoding endpoint certificate: %w", err)
	}
	return x509.ParseCertificate(der)
}

func parseDate(s string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func findLocal(e *etree.Element, local string) *etree.Element {
	if e.Tag == local {
		return e
	}
	for _, c := range e.ChildElements() {
		if found := findLocal(c, local); found != nil {
			return found
		}
	}
	return nil
}

func findAllLocal(e *etree.Element, local string) []*etree.Element {
	var out []*etree.Element
	for _, c := range e.ChildElements() {
		if c.Tag == local {
			out = append(out, c)
			continue
		}
		out = append(out, findAllLocal(c, local)...)
	}
	return out
}

func firstLocalChild(e *etree.Element, locals ...string) *etree.Element {
	for _, c := range e.ChildElements() {
		for _, l := range locals {
			if c.Tag == l {
				return c
			}
		}
	}
	return nil
}

func childText(e *etree.Element, locals ...string) string {
	if c := firstLocalChild(e, locals...); c != nil {
		return strings.TrimSpace(c.Text())
	}
	return ""
}
