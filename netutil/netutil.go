// Package netutil normalizes URI authorities (host with optional port) so
// that path reconciliation can compare logically equivalent authorities.
//
// Fold is the default: plain case folding, no network traffic. DNS goes
// further and chases CNAME chains to the canonical host name, so an alias
// and its target compare equal.
package netutil

import (
	"fmt"
	"log/slog"
	"net"
	"strings"

	"github.com/miekg/dns"
)

// Canonicalizer reduces an authority string to its comparable canonical form.
type Canonicalizer interface {
	Canonical(authority string) (string, error)
}

// Fold lowercases the authority and nothing else.
var Fold Canonicalizer = foldCanonicalizer{}

type foldCanonicalizer struct{}

func (foldCanonicalizer) Canonical(authority string) (string, error) {
	return strings.ToLower(authority), nil
}

// DNS resolves the host part of an authority to its canonical DNS name by
// following CNAME records. The port is preserved untouched.
type DNS struct {
	maxHops  int
	log      *slog.Logger
	exchange func(m *dns.Msg) (*dns.Msg, error)
}

// NewDNS returns a canonicalizer querying resolverAddr (host:port, e.g.
// "127.0.0.53:53") for CNAME records.
func NewDNS(resolverAddr string, log *slog.Logger) *DNS {
	c := new(dns.Client)
	return &DNS{
		maxHops: 8,
		log:     log,
		exchange: func(m *dns.Msg) (*dns.Msg, error) {
			in, _, err := c.Exchange(m, resolverAddr)
			return in, err
		},
	}
}

func (d *DNS) Canonical(authority string) (string, error) {
	host, port := splitAuthority(authority)
	if host == "" {
		return strings.ToLower(authority), nil
	}

	canonical, err := d.chase(strings.ToLower(host))
	if err != nil {
		return "", fmt.Errorf("failed to canonicalize host %s: %w", host, err)
	}
	if port == "" {
		return canonical, nil
	}
	return net.JoinHostPort(canonical, port), nil
}

// chase follows the CNAME chain starting at host until a name without a
// CNAME record is reached.
func (d *DNS) chase(host string) (string, error) {
	current := dns.Fqdn(host)
	for hop := 0; ; hop++ {
		if hop >= d.maxHops {
			return "", fmt.Errorf("cname chain for %s exceeds %d hops", host, d.maxHops)
		}

		m := new(dns.Msg)
		m.SetQuestion(current, dns.TypeCNAME)

		in, err := d.exchange(m)
		if err != nil {
			return "", err
		}

		next := ""
		for _, answer := range in.Answer {
			if cname, ok := answer.(*dns.CNAME); ok {
				next = strings.ToLower(cname.Target)
				break
			}
		}
		if next == "" || next == current {
			break
		}
		d.log.Debug("followed cname", slog.String("from", current), slog.String("to", next))
		current = next
	}
	return strings.TrimSuffix(current, "."), nil
}

// splitAuthority separates the optional port. Authorities without a port
// come back with an empty port string.
func splitAuthority(authority string) (host, port string) {
	if h, p, err := net.SplitHostPort(authority); err == nil {
		return h, p
	}
	return authority, ""
}
