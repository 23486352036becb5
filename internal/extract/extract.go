// Package extract parses typed observables out of raw alert payloads. The
// extractors are pure: no I/O, no errors, malformed fields yield empty
// output lists.
package extract

import (
	"regexp"
	"strings"

	"github.com/soarkit/backend/internal/models"
)

var (
	urlRe    = regexp.MustCompile(`(?i)(https?://[^\s<>'"()\]]+)`)
	domainRe = regexp.MustCompile(`(?i)https?://([^/:\s]+)`)
	emailRe  = regexp.MustCompile(`([a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+)`)
)

// Phishing holds the observables pulled from an email alert.
type Phishing struct {
	URLs    []string
	Domains []string
	Emails  []string
}

// Login holds the observables pulled from an auth alert. Each list is a
// singleton, or empty when the field is absent.
type Login struct {
	Users      []string
	IPs        []string
	UserAgents []string
	Countries  []string
	Cities     []string
}

// Beacon holds the observables pulled from a network alert.
type Beacon struct {
	Domains []string
	IPs     []string
	Hosts   []string
}

// dedupe keeps the first occurrence of each value, preserving order.
func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// FromPhishing extracts URLs from the body, domains from those URLs, and
// email addresses from sender, recipient, body and subject.
func FromPhishing(doc models.Document) Phishing {
	p := models.ParsePhishing(doc)

	urls := dedupe(urlRe.FindAllString(p.Body, -1))

	var domains []string
	for _, u := range urls {
		m := domainRe.FindStringSubmatch(u)
		if m == nil {
			continue
		}
		domains = append(domains, strings.ToLower(m[1]))
	}
	domains = dedupe(domains)

	var emails []string
	for _, field := range []string{p.Sender, p.Recipient, p.Body, p.Subject} {
		emails = append(emails, emailRe.FindAllString(field, -1)...)
	}
	// Keep the verbatim addresses too; the regex can miss quoted forms.
	if strings.Contains(p.Sender, "@") {
		emails = append(emails, p.Sender)
	}
	if strings.Contains(p.Recipient, "@") {
		emails = append(emails, p.Recipient)
	}
	cleaned := make([]string, 0, len(emails))
	for _, e := range emails {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			cleaned = append(cleaned, e)
		}
	}

	return Phishing{URLs: urls, Domains: domains, Emails: dedupe(cleaned)}
}

// FromLogin extracts singleton observables from an auth alert.
func FromLogin(doc models.Document) Login {
	p := models.ParseLogin(doc)

	var out Login
	if user := strings.ToLower(strings.TrimSpace(p.User)); user != "" {
		out.Users = append(out.Users, user)
	}
	if ip := strings.TrimSpace(p.IP); ip != "" {
		out.IPs = append(out.IPs, ip)
	}
	if ua := strings.TrimSpace(p.UserAgent); ua != "" {
		out.UserAgents = append(out.UserAgents, ua)
	}
	if country := strings.TrimSpace(p.Country); country != "" {
		out.Countries = append(out.Countries, country)
	}
	if city := strings.TrimSpace(p.City); city != "" {
		out.Cities = append(out.Cities, city)
	}
	return out
}

// FromBeacon extracts the destination domain, destination IP and contacted
// hosts from a network alert.
func FromBeacon(doc models.Document) Beacon {
	p := models.ParseBeacon(doc)

	var out Beacon
	if d := strings.ToLower(strings.TrimSpace(p.DstDomain)); d != "" {
		out.Domains = append(out.Domains, d)
	}
	if ip := strings.TrimSpace(p.DstIP); ip != "" {
		out.IPs = append(out.IPs, ip)
	}
	var hosts []string
	for _, h := range p.Hosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			hosts = append(hosts, h)
		}
	}
	if len(hosts) > 0 {
		out.Hosts = dedupe(hosts)
	}
	return out
}
