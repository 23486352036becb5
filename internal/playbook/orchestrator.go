package playbook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/soarkit/backend/internal/metrics"
	"github.com/soarkit/backend/internal/models"
	"github.com/soarkit/backend/internal/queue"
	"github.com/soarkit/backend/internal/store"
)

// Playbook names recorded on the playbook_runs_total metric.
const (
	PlaybookPhishing = "phishing_v1"
	PlaybookLogin    = "suspicious_login_v1"
	PlaybookBeacon   = "beacon_v1"
)

// loginContextScanLimit bounds the timeline fallback scan for a user's
// previous login.
const loginContextScanLimit = 200

// DNSLookup resolves DNS records for a domain.
type DNSLookup interface {
	Lookup(ctx context.Context, domain string) models.Document
}

// RDAPLookup fetches registration data for a domain.
type RDAPLookup interface {
	Domain(ctx context.Context, domain string) models.Document
}

// Feed answers membership queries against a threat feed.
type Feed interface {
	Contains(v string) bool
}

// EventSink receives pipeline events for the live feed. May be nil.
type EventSink interface {
	Publish(event string, data models.Document)
}

// Orchestrator executes process_alert: correlation, then the per-source
// playbook, then auto-response fan-out.
type Orchestrator struct {
	store      store.Store
	dns        DNSLookup
	rdap       RDAPLookup
	domainFeed Feed
	ipFeed     Feed
	enqueuer   queue.Enqueuer
	metrics    *metrics.Worker
	sink       EventSink
	logger     *slog.Logger
	now        func() time.Time
}

// NewOrchestrator wires the playbook dependencies. sink may be nil.
func NewOrchestrator(
	st store.Store,
	dns DNSLookup,
	rdap RDAPLookup,
	domainFeed, ipFeed Feed,
	enq queue.Enqueuer,
	m *metrics.Worker,
	sink EventSink,
	logger *slog.Logger,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:      st,
		dns:        dns,
		rdap:       rdap,
		domainFeed: domainFeed,
		ipFeed:     ipFeed,
		enqueuer:   enq,
		metrics:    m,
		sink:       sink,
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// Handler adapts the orchestrator to the task queue.
func (o *Orchestrator) Handler() queue.Handler {
	return func(ctx context.Context, t *queue.Task) (models.Document, error) {
		var args queue.ProcessAlertArgs
		if err := json.Unmarshal(t.Args, &args); err != nil {
			return nil, queue.Permanent(fmt.Errorf("decode process_alert args: %w", err))
		}
		return o.ProcessAlert(ctx, args.AlertID)
	}
}

// stamper hands out strictly increasing timestamps within one task so a
// case's timeline orders ingest < extract < enrich < score.
type stamper struct{ t time.Time }

func (s *stamper) next() time.Time {
	s.t = s.t.Add(time.Microsecond)
	return s.t
}

// ProcessAlert runs the full playbook for one alert.
func (o *Orchestrator) ProcessAlert(ctx context.Context, alertID uuid.UUID) (models.Document, error) {
	alert, err := o.store.GetAlert(ctx, alertID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			o.metrics.RecordPlaybookRun("unknown", "error")
			o.metrics.Push()
			return models.Document{"ok": false, "error": "alert not found"}, queue.Permanent(err)
		}
		return nil, err
	}

	// Redelivered task for an alert that already went through: do nothing
	// rather than re-score (the case may have been closed since).
	if alert.Status == models.AlertStatusProcessed && alert.CaseID != nil {
		return models.Document{"ok": true, "case_id": alert.CaseID.String(), "skipped": true}, nil
	}

	clock := &stamper{t: o.now()}

	c, created, err := o.attachOrCreate(ctx, alert, clock.next())
	if err != nil {
		return nil, err
	}
	if o.sink != nil {
		o.sink.Publish("ingest", models.Document{
			"alert_id": alert.ID.String(),
			"case_id":  c.ID.String(),
			"created":  created,
			"source":   string(alert.Source),
		})
	}

	var run *runOutcome
	playbookName := "unknown"
	switch alert.Source {
	case models.SourceEmail:
		playbookName = PlaybookPhishing
		run, err = o.runPhishing(ctx, alert, c, clock)
	case models.SourceAuth:
		playbookName = PlaybookLogin
		run, err = o.runLogin(ctx, alert, c, clock)
	case models.SourceNetwork:
		playbookName = PlaybookBeacon
		run, err = o.runBeacon(ctx, alert, c, clock)
	default:
		run = &runOutcome{severity: c.Severity}
	}
	if err != nil {
		o.metrics.RecordPlaybookRun(playbookName, "error")
		o.metrics.Push()
		return nil, err
	}

	o.metrics.RecordPlaybookRun(playbookName, "ok")
	o.metrics.Push()
	if o.sink != nil {
		o.sink.Publish("scored", models.Document{
			"case_id":  c.ID.String(),
			"type":     string(c.Type),
			"score":    run.score,
			"severity": string(run.severity),
		})
	}

	if err := o.autoRespond(ctx, c, run); err != nil {
		// Enqueue failures are transient; the task retry replays the
		// playbook, which is idempotent for the same inputs.
		return nil, err
	}

	return models.Document{
		"ok":       true,
		"case_id":  c.ID.String(),
		"created":  created,
		"score":    run.score,
		"severity": string(run.severity),
	}, nil
}

// runOutcome is what the per-source flows report back for auto-response.
type runOutcome struct {
	score    int
	severity models.Severity
	domains  []string
	ips      []string
}

// autoRespond enqueues the response actions the severity policy calls for.
func (o *Orchestrator) autoRespond(ctx context.Context, c *models.Case, run *runOutcome) error {
	if !run.severity.Actionable() {
		return nil
	}

	enqueue := func(actionType models.ActionType, params models.Document) error {
		_, err := o.enqueuer.EnqueueRunAction(ctx, c.ID, actionType, params)
		return err
	}

	switch c.Type {
	case models.CasePhishing:
		for _, d := range run.domains {
			if err := enqueue(models.ActionBlockDomain, models.Document{"domain": d}); err != nil {
				return err
			}
		}
		if err := enqueue(models.ActionCreateTicket, models.Document{}); err != nil {
			return err
		}
		return enqueue(models.ActionNotify, models.Document{
			"message": fmt.Sprintf("Auto-response: phishing case %s severity=%s score=%d", c.ID, run.severity, run.score),
		})

	case models.CaseLogin:
		if err := enqueue(models.ActionCreateTicket, models.Document{}); err != nil {
			return err
		}
		return enqueue(models.ActionNotify, models.Document{
			"message": fmt.Sprintf("Auto-response: suspicious login case %s severity=%s score=%d", c.ID, run.severity, run.score),
		})

	case models.CaseBeacon:
		for _, d := range run.domains {
			if err := enqueue(models.ActionBlockDomain, models.Document{"domain": d}); err != nil {
				return err
			}
		}
		for _, ip := range run.ips {
			if err := enqueue(models.ActionBlockIP, models.Document{"ip": ip}); err != nil {
				return err
			}
		}
		if err := enqueue(models.ActionCreateTicket, models.Document{}); err != nil {
			return err
		}
		return enqueue(models.ActionNotify, models.Document{
			"message": fmt.Sprintf("Auto-response: beacon case %s severity=%s score=%d", c.ID, run.severity, run.score),
		})
	}
	return nil
}

// addArtifact persists one observable.
func (o *Orchestrator) addArtifact(ctx context.Context, caseID uuid.UUID, typ models.ArtifactType, value string, ts time.Time) error {
	return o.store.InsertArtifact(ctx, &models.Artifact{
		ID:        uuid.New(),
		CaseID:    caseID,
		Type:      typ,
		Value:     value,
		FirstSeen: ts,
	})
}

// addEvent appends one timeline event.
func (o *Orchestrator) addEvent(ctx context.Context, caseID uuid.UUID, ts time.Time, eventType, message string, details models.Document) error {
	return o.store.InsertTimelineEvent(ctx, &models.TimelineEvent{
		ID:        uuid.New(),
		CaseID:    caseID,
		TS:        ts,
		EventType: eventType,
		Message:   message,
		Details:   details,
	})
}

// applyScore persists the score and derived severity onto the case.
func (o *Orchestrator) applyScore(ctx context.Context, c *models.Case, score int, ts time.Time) (models.Severity, error) {
	severity := models.SeverityFromScore(score)
	if err := o.store.UpdateCaseScore(ctx, c.ID, score, severity, ts); err != nil {
		return severity, err
	}
	c.Score = score
	c.Severity = severity
	return severity, nil
}
