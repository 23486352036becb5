package playbook

import (
	"context"
	"errors"
	"time"

	"github.com/soarkit/backend/internal/extract"
	"github.com/soarkit/backend/internal/models"
	"github.com/soarkit/backend/internal/score"
	"github.com/soarkit/backend/internal/store"
)

// feedFunc adapts a Feed to the scorer callback, tolerating a nil feed.
func feedFunc(f Feed) func(string) bool {
	if f == nil {
		return func(string) bool { return false }
	}
	return f.Contains
}

func first(list []string) string {
	if len(list) == 0 {
		return ""
	}
	return list[0]
}

func orEmpty(list []string) []string {
	if list == nil {
		return []string{}
	}
	return list
}

// scoreDetails merges severity into the scorer's details document for the
// score timeline event.
func scoreDetails(res score.Result, severity models.Severity) models.Document {
	details := make(models.Document, len(res.Details)+1)
	for k, v := range res.Details {
		details[k] = v
	}
	details["severity"] = string(severity)
	return details
}

func (o *Orchestrator) runPhishing(ctx context.Context, alert *models.Alert, c *models.Case, clock *stamper) (*runOutcome, error) {
	ex := extract.FromPhishing(alert.RawPayload)

	ts := clock.next()
	for _, u := range ex.URLs {
		if err := o.addArtifact(ctx, c.ID, models.ArtifactURL, u, ts); err != nil {
			return nil, err
		}
	}
	for _, d := range ex.Domains {
		if err := o.addArtifact(ctx, c.ID, models.ArtifactDomain, d, ts); err != nil {
			return nil, err
		}
	}
	for _, e := range ex.Emails {
		if err := o.addArtifact(ctx, c.ID, models.ArtifactEmail, e, ts); err != nil {
			return nil, err
		}
	}
	if err := o.addEvent(ctx, c.ID, ts, models.EventExtract, "extracted phishing artifacts", models.Document{
		"urls":    orEmpty(ex.URLs),
		"domains": orEmpty(ex.Domains),
		"emails":  orEmpty(ex.Emails),
	}); err != nil {
		return nil, err
	}

	dnsResults, rdapResults, enrichErrors := o.enrichDomains(ctx, ex.Domains)
	if err := o.addEvent(ctx, c.ID, clock.next(), models.EventEnrich, "phishing enrichment completed", models.Document{
		"dns":    dnsResults,
		"rdap":   docByDomain(rdapResults),
		"errors": enrichErrors,
	}); err != nil {
		return nil, err
	}

	res := score.Phishing(alert.RawPayload, ex, rdapResults, feedFunc(o.domainFeed))

	ts = clock.next()
	severity, err := o.applyScore(ctx, c, res.Score, ts)
	if err != nil {
		return nil, err
	}
	if err := o.addEvent(ctx, c.ID, ts, models.EventScore, "scored phishing case", scoreDetails(res, severity)); err != nil {
		return nil, err
	}

	return &runOutcome{score: res.Score, severity: severity, domains: ex.Domains}, nil
}

func (o *Orchestrator) runLogin(ctx context.Context, alert *models.Alert, c *models.Case, clock *stamper) (*runOutcome, error) {
	ex := extract.FromLogin(alert.RawPayload)
	user := first(ex.Users)
	ip := first(ex.IPs)
	ua := first(ex.UserAgents)
	country := first(ex.Countries)
	city := first(ex.Cities)

	ts := clock.next()
	for _, a := range []struct {
		typ   models.ArtifactType
		value string
	}{
		{models.ArtifactUser, user},
		{models.ArtifactIP, ip},
		{models.ArtifactUserAgent, ua},
		{models.ArtifactCountry, country},
		{models.ArtifactCity, city},
	} {
		if a.value == "" {
			continue
		}
		if err := o.addArtifact(ctx, c.ID, a.typ, a.value, ts); err != nil {
			return nil, err
		}
	}
	if err := o.addEvent(ctx, c.ID, ts, models.EventExtract, "extracted login artifacts", models.Document{
		"user": user, "ip": ip, "user_agent": ua, "country": country, "city": city,
	}); err != nil {
		return nil, err
	}

	badIP := feedFunc(o.ipFeed)
	ipRep := models.Document{"ip": ip, "bad": ip != "" && badIP(ip)}

	prev, err := o.previousLogin(ctx, user)
	if err != nil {
		return nil, err
	}

	if err := o.addEvent(ctx, c.ID, clock.next(), models.EventEnrich, "login enrichment completed", models.Document{
		"ip_reputation":      ipRep,
		"prev_context_found": prev != nil,
	}); err != nil {
		return nil, err
	}

	payload := models.ParseLogin(alert.RawPayload)
	now := o.now()
	res := score.Login(alert.RawPayload, user, ip, country, payload.Succeeded(), prev, badIP, now)

	ts = clock.next()
	severity, err := o.applyScore(ctx, c, res.Score, ts)
	if err != nil {
		return nil, err
	}
	if err := o.addEvent(ctx, c.ID, ts, models.EventScore, "scored login case", scoreDetails(res, severity)); err != nil {
		return nil, err
	}

	loginTS := models.ParseTimestamp(payload.TS)
	if loginTS.IsZero() {
		loginTS = now
	}
	if err := o.addEvent(ctx, c.ID, clock.next(), models.EventLoginContext, "login context saved", models.Document{
		"user":    user,
		"ip":      ip,
		"country": country,
		"city":    city,
		"lat":     alert.RawPayload["lat"],
		"lon":     alert.RawPayload["lon"],
		"ts":      loginTS.Format(time.RFC3339Nano),
	}); err != nil {
		return nil, err
	}

	if user != "" {
		if err := o.store.UpsertLoginState(ctx, &models.LoginState{
			User:      user,
			IP:        ip,
			Country:   country,
			City:      city,
			Lat:       payload.Lat,
			Lon:       payload.Lon,
			TS:        loginTS,
			UpdatedAt: now,
		}); err != nil {
			return nil, err
		}
	}

	return &runOutcome{score: res.Score, severity: severity}, nil
}

func (o *Orchestrator) runBeacon(ctx context.Context, alert *models.Alert, c *models.Case, clock *stamper) (*runOutcome, error) {
	ex := extract.FromBeacon(alert.RawPayload)
	domain := first(ex.Domains)
	ip := first(ex.IPs)

	ts := clock.next()
	if domain != "" {
		if err := o.addArtifact(ctx, c.ID, models.ArtifactDomain, domain, ts); err != nil {
			return nil, err
		}
	}
	if ip != "" {
		if err := o.addArtifact(ctx, c.ID, models.ArtifactIP, ip, ts); err != nil {
			return nil, err
		}
	}
	for _, h := range ex.Hosts {
		if err := o.addArtifact(ctx, c.ID, models.ArtifactHost, h, ts); err != nil {
			return nil, err
		}
	}
	if err := o.addEvent(ctx, c.ID, ts, models.EventExtract, "extracted beacon artifacts", models.Document{
		"dst_domain": domain, "dst_ip": ip, "hosts": orEmpty(ex.Hosts),
	}); err != nil {
		return nil, err
	}

	var domains []string
	if domain != "" {
		domains = []string{domain}
	}
	dnsResults, rdapResults, enrichErrors := o.enrichDomains(ctx, domains)
	if err := o.addEvent(ctx, c.ID, clock.next(), models.EventEnrich, "beacon enrichment completed", models.Document{
		"dns":    dnsResults,
		"rdap":   docByDomain(rdapResults),
		"errors": enrichErrors,
	}); err != nil {
		return nil, err
	}

	res := score.Beacon(alert.RawPayload, ex, rdapResults)

	ts = clock.next()
	severity, err := o.applyScore(ctx, c, res.Score, ts)
	if err != nil {
		return nil, err
	}
	if err := o.addEvent(ctx, c.ID, ts, models.EventScore, "scored beacon case", scoreDetails(res, severity)); err != nil {
		return nil, err
	}

	return &runOutcome{score: res.Score, severity: severity, domains: ex.Domains, ips: ex.IPs}, nil
}

// enrichDomains runs DNS then RDAP over the domains, observing one latency
// sample per enricher. RDAP failures land in the errors list so the enrich
// event records them; scoring proceeds on whatever data arrived.
func (o *Orchestrator) enrichDomains(ctx context.Context, domains []string) (models.Document, map[string]models.Document, []models.Document) {
	dnsResults := models.Document{}
	rdapResults := make(map[string]models.Document, len(domains))
	enrichErrors := []models.Document{}

	if len(domains) == 0 {
		return dnsResults, rdapResults, enrichErrors
	}

	dnsStart := time.Now()
	for _, d := range domains {
		dnsResults[d] = o.dns.Lookup(ctx, d)
	}
	o.metrics.ObserveEnrichment("dns", time.Since(dnsStart))

	rdapStart := time.Now()
	for _, d := range domains {
		doc := o.rdap.Domain(ctx, d)
		rdapResults[d] = doc
		if ok, _ := doc["ok"].(bool); !ok {
			enrichErrors = append(enrichErrors, models.Document{"domain": d, "rdap_error": doc["error"]})
		}
	}
	o.metrics.ObserveEnrichment("rdap", time.Since(rdapStart))

	return dnsResults, rdapResults, enrichErrors
}

func docByDomain(results map[string]models.Document) models.Document {
	out := make(models.Document, len(results))
	for d, doc := range results {
		out[d] = doc
	}
	return out
}

// previousLogin reads the user's last login from the typed state table,
// falling back to a bounded scan of recent login_context events written
// before the table existed. The scan is global across cases on purpose.
func (o *Orchestrator) previousLogin(ctx context.Context, user string) (*score.LoginContext, error) {
	if user == "" {
		return nil, nil
	}

	st, err := o.store.GetLoginState(ctx, user)
	if err == nil {
		return &score.LoginContext{Country: st.Country, TS: st.TS, Lat: st.Lat, Lon: st.Lon}, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	events, err := o.store.RecentLoginContexts(ctx, loginContextScanLimit)
	if err != nil {
		return nil, err
	}
	for _, ev := range events {
		if evUser, _ := ev.Details["user"].(string); evUser != user {
			continue
		}
		prev := &score.LoginContext{}
		if country, ok := ev.Details["country"].(string); ok {
			prev.Country = country
		}
		if tsStr, ok := ev.Details["ts"].(string); ok {
			prev.TS = models.ParseTimestamp(tsStr)
		}
		if lat, ok := ev.Details["lat"].(float64); ok {
			prev.Lat = &lat
		}
		if lon, ok := ev.Details["lon"].(float64); ok {
			prev.Lon = &lon
		}
		return prev, nil
	}
	return nil, nil
}
