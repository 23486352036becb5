// Package enrich gathers external context for extracted observables: DNS
// records, RDAP registration data and threat-feed reputation. Enrichers
// degrade to empty results instead of failing the playbook.
package enrich

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/soarkit/backend/internal/models"
)

// dnsLookup abstracts the resolver so tests can stub lookups.
type dnsLookup interface {
	LookupHost(ctx context.Context, host string) ([]string, error)
	LookupCNAME(ctx context.Context, host string) (string, error)
	LookupMX(ctx context.Context, host string) ([]*net.MX, error)
	LookupNS(ctx context.Context, host string) ([]*net.NS, error)
	LookupTXT(ctx context.Context, host string) ([]string, error)
}

// DNSEnricher resolves the common record types for a domain. Each query is
// independent; a failed query yields an empty list, never an error.
type DNSEnricher struct {
	lookup  dnsLookup
	timeout time.Duration
}

// NewDNSEnricher returns an enricher backed by the system resolver with a
// 3 second budget per query.
func NewDNSEnricher() *DNSEnricher {
	return &DNSEnricher{lookup: net.DefaultResolver, timeout: 3 * time.Second}
}

// Lookup resolves A, AAAA, CNAME, MX, NS and TXT records for the domain.
func (e *DNSEnricher) Lookup(ctx context.Context, domain string) models.Document {
	q := func(fn func(context.Context) []string) []string {
		qctx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()
		res := fn(qctx)
		if res == nil {
			return []string{}
		}
		return res
	}

	return models.Document{
		"domain": domain,
		"A": q(func(ctx context.Context) []string {
			return e.lookupIP(ctx, domain, false)
		}),
		"AAAA": q(func(ctx context.Context) []string {
			return e.lookupIP(ctx, domain, true)
		}),
		"CNAME": q(func(ctx context.Context) []string {
			cname, err := e.lookup.LookupCNAME(ctx, domain)
			if err != nil || cname == "" {
				return nil
			}
			return []string{cname}
		}),
		"MX": q(func(ctx context.Context) []string {
			mxs, err := e.lookup.LookupMX(ctx, domain)
			if err != nil {
				return nil
			}
			var recs []string
			for _, mx := range mxs {
				recs = append(recs, fmt.Sprintf("%d %s", mx.Pref, mx.Host))
			}
			return recs
		}),
		"NS": q(func(ctx context.Context) []string {
			nss, err := e.lookup.LookupNS(ctx, domain)
			if err != nil {
				return nil
			}
			var recs []string
			for _, ns := range nss {
				recs = append(recs, ns.Host)
			}
			return recs
		}),
		"TXT": q(func(ctx context.Context) []string {
			txts, err := e.lookup.LookupTXT(ctx, domain)
			if err != nil {
				return nil
			}
			return txts
		}),
	}
}

func (e *DNSEnricher) lookupIP(ctx context.Context, domain string, v6 bool) []string {
	addrs, err := e.lookup.LookupHost(ctx, domain)
	if err != nil {
		return nil
	}
	var out []string
	for _, a := range addrs {
		if strings.Contains(a, ":") == v6 {
			out = append(out, a)
		}
	}
	return out
}
