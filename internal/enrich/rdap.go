package enrich

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/soarkit/backend/internal/models"
)

// RDAPClient queries the RDAP registry aggregator for domain registration
// data. Lookups never return an error: failures are reported inside the
// result document with ok=false so the scorer can work with partial data.
type RDAPClient struct {
	baseURL string
	httpc   *http.Client
	now     func() time.Time
}

// NewRDAPClient returns a client against the given base URL (typically
// https://rdap.org) with a 5 second request timeout.
func NewRDAPClient(baseURL string) *RDAPClient {
	return &RDAPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   &http.Client{Timeout: 5 * time.Second},
		now:     time.Now,
	}
}

type rdapEvent struct {
	EventAction string `json:"eventAction"`
	EventDate   string `json:"eventDate"`
}

type rdapResponse struct {
	LDHName string      `json:"ldhName"`
	Handle  string      `json:"handle"`
	Status  []string    `json:"status"`
	Events  []rdapEvent `json:"events"`
}

// Domain fetches /domain/<name> and summarizes the registration events,
// including the domain age in whole days when a registration date exists.
func (c *RDAPClient) Domain(ctx context.Context, domain string) models.Document {
	out := models.Document{"domain": domain, "ok": false}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/domain/"+domain, nil)
	if err != nil {
		out["error"] = err.Error()
		return out
	}
	req.Header.Set("Accept", "application/rdap+json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		out["error"] = err.Error()
		return out
	}
	defer resp.Body.Close()

	out["status_code"] = resp.StatusCode
	if resp.StatusCode >= 400 {
		out["error"] = fmt.Sprintf("HTTP %d", resp.StatusCode)
		return out
	}

	var data rdapResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		out["error"] = err.Error()
		return out
	}

	var regDate time.Time
	for _, ev := range data.Events {
		if ev.EventAction == "registration" || ev.EventAction == "registered" {
			regDate = models.ParseTimestamp(ev.EventDate)
			break
		}
	}

	events := data.Events
	if len(events) > 10 {
		events = events[:10]
	}
	summaries := make([]models.Document, 0, len(events))
	for _, ev := range events {
		summaries = append(summaries, models.Document{"action": ev.EventAction, "date": ev.EventDate})
	}

	out["ok"] = true
	out["ldhName"] = data.LDHName
	out["handle"] = data.Handle
	out["status"] = data.Status
	out["registration_date"] = nil
	out["domain_age_days"] = nil
	if !regDate.IsZero() {
		out["registration_date"] = regDate.Format(time.RFC3339)
		out["domain_age_days"] = int(c.now().UTC().Sub(regDate).Seconds()) / 86400
	}
	out["events"] = summaries
	return out
}

// DomainAgeDays reads the domain_age_days field out of an RDAP result
// document, tolerating both int and float encodings. The second return is
// false when the field is absent or null.
func DomainAgeDays(doc models.Document) (int, bool) {
	if doc == nil {
		return 0, false
	}
	switch v := doc["domain_age_days"].(type) {
	case int:
		return v, true
	case float64:
		return int(v), true
	}
	return 0, false
}
