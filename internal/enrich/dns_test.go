package enrich

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeLookup struct {
	hosts []string
	cname string
	mx    []*net.MX
	ns    []*net.NS
	txt   []string
	err   error
}

func (f fakeLookup) LookupHost(ctx context.Context, host string) ([]string, error) {
	return f.hosts, f.err
}
func (f fakeLookup) LookupCNAME(ctx context.Context, host string) (string, error) {
	return f.cname, f.err
}
func (f fakeLookup) LookupMX(ctx context.Context, host string) ([]*net.MX, error) {
	return f.mx, f.err
}
func (f fakeLookup) LookupNS(ctx context.Context, host string) ([]*net.NS, error) {
	return f.ns, f.err
}
func (f fakeLookup) LookupTXT(ctx context.Context, host string) ([]string, error) {
	return f.txt, f.err
}

func TestDNSLookup(t *testing.T) {
	e := &DNSEnricher{
		lookup: fakeLookup{
			hosts: []string{"192.0.2.1", "2001:db8::1"},
			cname: "edge.example.net.",
			mx:    []*net.MX{{Host: "mail.example.net.", Pref: 10}},
			ns:    []*net.NS{{Host: "ns1.example.net."}},
			txt:   []string{"v=spf1 -all"},
		},
		timeout: time.Second,
	}

	doc := e.Lookup(context.Background(), "example.net")

	assert.Equal(t, "example.net", doc["domain"])
	assert.Equal(t, []string{"192.0.2.1"}, doc["A"])
	assert.Equal(t, []string{"2001:db8::1"}, doc["AAAA"])
	assert.Equal(t, []string{"edge.example.net."}, doc["CNAME"])
	assert.Equal(t, []string{"10 mail.example.net."}, doc["MX"])
	assert.Equal(t, []string{"ns1.example.net."}, doc["NS"])
	assert.Equal(t, []string{"v=spf1 -all"}, doc["TXT"])
}

func TestDNSLookupFailuresAreEmptyLists(t *testing.T) {
	e := &DNSEnricher{
		lookup:  fakeLookup{err: errors.New("servfail")},
		timeout: time.Second,
	}

	doc := e.Lookup(context.Background(), "dead.example")

	for _, rt := range []string{"A", "AAAA", "CNAME", "MX", "NS", "TXT"} {
		assert.Equal(t, []string{}, doc[rt], rt)
	}
}
