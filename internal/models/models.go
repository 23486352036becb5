// Package models holds the persistent entities of the alert pipeline and
// the payload variants parsed out of raw webhook documents.
package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Source identifies the class of sensor an alert came from.
type Source string

const (
	SourceEmail   Source = "email"
	SourceAuth    Source = "auth"
	SourceNetwork Source = "network"
)

// CaseType is derived from the alert source at case creation.
type CaseType string

const (
	CasePhishing CaseType = "phishing"
	CaseLogin    CaseType = "login"
	CaseBeacon   CaseType = "beacon"
	CaseUnknown  CaseType = "unknown"
)

// CaseTypeForSource maps a source to the case type the correlator assigns.
func CaseTypeForSource(s Source) CaseType {
	switch s {
	case SourceEmail:
		return CasePhishing
	case SourceAuth:
		return CaseLogin
	case SourceNetwork:
		return CaseBeacon
	default:
		return CaseUnknown
	}
}

// Severity buckets for a scored case.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// SeverityFromScore derives severity from a 0-100 score. Thresholds are
// inclusive from below: 80 is critical, 60 is high, 30 is medium.
func SeverityFromScore(score int) Severity {
	switch {
	case score >= 80:
		return SeverityCritical
	case score >= 60:
		return SeverityHigh
	case score >= 30:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// Actionable reports whether the auto-response policy fires for a severity.
func (s Severity) Actionable() bool {
	return s == SeverityHigh || s == SeverityCritical
}

// Alert statuses. An alert transitions new -> processed exactly once.
const (
	AlertStatusNew       = "new"
	AlertStatusProcessed = "processed"
)

// Case statuses.
const (
	CaseStatusOpen          = "open"
	CaseStatusInvestigating = "investigating"
	CaseStatusContained     = "contained"
	CaseStatusClosed        = "closed"
)

// Document is a free-form JSON object persisted verbatim (JSONB column).
type Document map[string]interface{}

// Alert is one inbound event before classification.
type Alert struct {
	ID         uuid.UUID  `json:"id"`
	Source     Source     `json:"source"`
	ReceivedAt time.Time  `json:"received_at"`
	RawPayload Document   `json:"raw_payload"`
	DedupHash  string     `json:"dedup_hash"`
	Status     string     `json:"status"`
	CaseID     *uuid.UUID `json:"case_id,omitempty"`
}

// Case is a persistent incident record grouping alerts by dedup fingerprint.
// While status is open, Title (the dedup hash) identifies at most one case.
type Case struct {
	ID        uuid.UUID `json:"id"`
	Title     string    `json:"title"`
	Type      CaseType  `json:"type"`
	Severity  Severity  `json:"severity"`
	Status    string    `json:"status"`
	Score     int       `json:"score"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ArtifactType enumerates the observable kinds extractors produce.
type ArtifactType string

const (
	ArtifactURL       ArtifactType = "url"
	ArtifactDomain    ArtifactType = "domain"
	ArtifactIP        ArtifactType = "ip"
	ArtifactEmail     ArtifactType = "email"
	ArtifactUser      ArtifactType = "user"
	ArtifactUserAgent ArtifactType = "user_agent"
	ArtifactCountry   ArtifactType = "country"
	ArtifactCity      ArtifactType = "city"
	ArtifactHost      ArtifactType = "host"
	ArtifactHash      ArtifactType = "hash"
)

// Artifact is an observable extracted from an alert. Immutable once written.
type Artifact struct {
	ID        uuid.UUID    `json:"id"`
	CaseID    uuid.UUID    `json:"case_id"`
	Type      ArtifactType `json:"type"`
	Value     string       `json:"value"`
	FirstSeen time.Time    `json:"first_seen"`
}

// Timeline event types. Events for a case ordered by ts form its narrative.
const (
	EventIngest       = "ingest"
	EventExtract      = "extract"
	EventEnrich       = "enrich"
	EventScore        = "score"
	EventAction       = "action"
	EventLoginContext = "login_context"
	EventClose        = "close"
	EventReport       = "report"
	EventPlaybook     = "playbook"
)

// TimelineEvent is an append-only audit record attached to a case.
type TimelineEvent struct {
	ID        uuid.UUID `json:"id"`
	CaseID    uuid.UUID `json:"case_id"`
	TS        time.Time `json:"ts"`
	EventType string    `json:"event_type"`
	Message   string    `json:"message"`
	Details   Document  `json:"details"`
}

// ActionType enumerates the closed set of response handlers.
type ActionType string

const (
	ActionBlockDomain  ActionType = "block_domain"
	ActionBlockIP      ActionType = "block_ip"
	ActionNotify       ActionType = "notify"
	ActionCreateTicket ActionType = "create_ticket"
)

// Action is a durable record of a response attempt. Created pending
// (FinishedAt and Success nil) and updated to a terminal state exactly once.
type Action struct {
	ID         uuid.UUID  `json:"id"`
	CaseID     uuid.UUID  `json:"case_id"`
	ActionType ActionType `json:"action_type"`
	Params     Document   `json:"params"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Success    *bool      `json:"success,omitempty"`
	Result     Document   `json:"result"`
}

// Ticket is created by the create_ticket action.
type Ticket struct {
	ID          uuid.UUID `json:"id"`
	CaseID      uuid.UUID `json:"case_id"`
	ExternalRef *string   `json:"external_ref,omitempty"`
	Summary     string    `json:"summary"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// LoginState is the typed previous-login record keyed by user. The
// login_context timeline event remains the audit trail; this table is what
// the login scorer reads. Global on purpose so correlation crosses cases.
type LoginState struct {
	User      string    `json:"user"`
	IP        string    `json:"ip"`
	Country   string    `json:"country"`
	City      string    `json:"city"`
	Lat       *float64  `json:"lat,omitempty"`
	Lon       *float64  `json:"lon,omitempty"`
	TS        time.Time `json:"ts"`
	UpdatedAt time.Time `json:"updated_at"`
}

// DedupHash fingerprints (source, payload) as sha256 over canonical JSON.
// encoding/json writes map keys in sorted order with compact separators, so
// marshalling the wrapper map is canonical under key reordering of the
// original document.
func DedupHash(source Source, payload Document) string {
	blob, err := json.Marshal(map[string]interface{}{
		"source":  string(source),
		"payload": map[string]interface{}(payload),
	})
	if err != nil {
		// A Document decoded from JSON cannot fail to re-encode.
		blob = []byte(string(source))
	}
	sum := sha256.Sum256(blob)
	return hex.EncodeToString(sum[:])
}
