package score

import (
	"strings"

	"github.com/soarkit/backend/internal/enrich"
	"github.com/soarkit/backend/internal/extract"
	"github.com/soarkit/backend/internal/models"
)

var suspiciousTLDs = map[string]struct{}{
	"zip": {}, "top": {}, "click": {}, "xyz": {}, "icu": {}, "kim": {}, "gq": {}, "tk": {},
}

var credentialKeywords = []string{"login", "verify", "password", "mfa", "account", "reset"}

var typosquatBrands = []string{"microsoft", "paypal", "google", "apple", "amazon"}

// looksLikeTyposquat flags domains that mention a well-known brand after
// homoglyph normalization but are not the brand's real .com domain.
func looksLikeTyposquat(domain string) bool {
	d := strings.ToLower(domain)
	norm := strings.NewReplacer("0", "o", "1", "l", "-", "").Replace(d)
	for _, b := range typosquatBrands {
		if strings.Contains(norm, b) && !strings.HasSuffix(d, b+".com") {
			return true
		}
	}
	return false
}

// Phishing scores an email alert. rdap maps each extracted domain to its
// RDAP result document; badDomain consults the domain threat feed.
func Phishing(payload models.Document, ex extract.Phishing, rdap map[string]models.Document, badDomain func(string) bool) Result {
	score := 0
	reasons := []string{}

	body := strings.ToLower(models.ParsePhishing(payload).Body)

	young := false
	for _, d := range ex.Domains {
		if age, ok := enrich.DomainAgeDays(rdap[d]); ok && age >= 0 && age < 7 {
			young = true
			break
		}
	}
	if young {
		score += 20
		reasons = append(reasons, "domain_age_lt_7d")
	}

	for _, d := range ex.Domains {
		idx := strings.LastIndex(d, ".")
		if idx < 0 {
			continue
		}
		if _, ok := suspiciousTLDs[d[idx+1:]]; ok {
			score += 10
			reasons = append(reasons, "suspicious_tld")
			break
		}
	}

	if containsKeyword(body) || anyURLHasKeyword(ex.URLs) {
		score += 15
		reasons = append(reasons, "credential_keywords")
	}

	for _, d := range ex.Domains {
		if looksLikeTyposquat(d) {
			score += 15
			reasons = append(reasons, "typosquat_heuristic")
			break
		}
	}

	for _, d := range ex.Domains {
		if badDomain != nil && badDomain(d) {
			score += 50
			reasons = append(reasons, "threatfeed_match")
			break
		}
	}

	p := models.ParsePhishing(payload)
	sender := strings.ToLower(p.Sender)
	senderDisplay := strings.ToLower(p.SenderDisplay)
	if senderDisplay != "" && strings.Contains(sender, "@") {
		senderDomain := sender[strings.Index(sender, "@")+1:]
		if senderDomain != "" && !strings.Contains(senderDisplay, senderDomain) {
			score += 10
			reasons = append(reasons, "sender_display_mismatch")
		}
	}

	score = clamp(score)
	return Result{
		Score:   score,
		Reasons: reasons,
		Details: models.Document{
			"score":   score,
			"reasons": reasons,
			"domains": ex.Domains,
			"urls":    ex.URLs,
		},
	}
}

func containsKeyword(s string) bool {
	for _, k := range credentialKeywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

func anyURLHasKeyword(urls []string) bool {
	for _, u := range urls {
		if containsKeyword(strings.ToLower(u)) {
			return true
		}
	}
	return false
}
