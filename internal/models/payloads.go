package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Raw webhook payloads are free-form JSON. Each source has a typed view
// parsed out of the document; unknown fields are ignored and the original
// document is always retained on the alert for audit.

// PhishingPayload is the typed view of an email alert.
type PhishingPayload struct {
	Subject       string `json:"subject"`
	Sender        string `json:"sender"`
	SenderDisplay string `json:"sender_display"`
	Recipient     string `json:"recipient"`
	Body          string `json:"body"`
}

// LoginPayload is the typed view of an auth alert.
type LoginPayload struct {
	EventType  string   `json:"event_type"`
	User       string   `json:"user"`
	IP         string   `json:"ip"`
	UserAgent  string   `json:"user_agent"`
	Success    *bool    `json:"success"`
	Country    string   `json:"country"`
	City       string   `json:"city"`
	Lat        *float64 `json:"lat"`
	Lon        *float64 `json:"lon"`
	TS         string   `json:"ts"`
	MFAFatigue bool     `json:"mfa_fatigue"`
}

// Succeeded reports the success flag, defaulting to true when absent,
// matching how the login scorer treats missing data.
func (p LoginPayload) Succeeded() bool {
	return p.Success == nil || *p.Success
}

// BeaconPayload is the typed view of a network alert.
type BeaconPayload struct {
	EventType  string    `json:"event_type"`
	DstDomain  string    `json:"dst_domain"`
	DstIP      string    `json:"dst_ip"`
	Hosts      []string  `json:"hosts"`
	Timestamps []string  `json:"timestamps"`
	Intervals  []float64 `json:"intervals"`
	Periodic   *bool     `json:"periodic"`
}

// decodeInto re-marshals a document into a typed payload. Malformed fields
// degrade to zero values; they never fail the playbook.
func decodeInto(doc Document, out interface{}) {
	blob, err := json.Marshal(doc)
	if err != nil {
		return
	}
	_ = json.Unmarshal(blob, out)
}

// ParsePhishing extracts the typed phishing view of a document.
func ParsePhishing(doc Document) PhishingPayload {
	var p PhishingPayload
	decodeInto(doc, &p)
	return p
}

// ParseLogin extracts the typed login view of a document.
func ParseLogin(doc Document) LoginPayload {
	var p LoginPayload
	decodeInto(doc, &p)
	return p
}

// ParseBeacon extracts the typed beacon view of a document. A whole-struct
// decode fails if any interval is non-numeric, so intervals get a tolerant
// second pass keeping whatever numbers survive.
func ParseBeacon(doc Document) BeaconPayload {
	var p BeaconPayload
	decodeInto(doc, &p)
	if p.Intervals == nil {
		if raw, ok := doc["intervals"].([]interface{}); ok {
			for _, v := range raw {
				if f, ok := v.(float64); ok {
					p.Intervals = append(p.Intervals, f)
				}
			}
		}
	}
	return p
}

// ParseTimestamp parses an ISO-8601 instant. A trailing Z is treated as
// +00:00 and naive timestamps are assumed UTC. Returns zero time on failure.
func ParseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{
		time.RFC3339Nano,
		"2006-01-02T15:04:05.999999999",
		"2006-01-02T15:04:05",
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
