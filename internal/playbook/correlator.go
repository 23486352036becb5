// Package playbook runs the per-source pipeline for an alert: correlate
// into a case, extract, enrich, score, and fan out response actions.
package playbook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/soarkit/backend/internal/models"
	"github.com/soarkit/backend/internal/store"
)

// correlationAttempts bounds the lookup/insert retry loop. Losing the
// insert race means the winner's case is visible on the next lookup.
const correlationAttempts = 3

// attachOrCreate binds the alert to the open case whose title equals its
// dedup hash, creating the case when none exists. Returns the case and
// whether it was created by this call.
func (o *Orchestrator) attachOrCreate(ctx context.Context, alert *models.Alert, now time.Time) (*models.Case, bool, error) {
	var (
		c       *models.Case
		created bool
	)

	for attempt := 0; attempt < correlationAttempts; attempt++ {
		existing, err := o.store.FindOpenCaseByTitle(ctx, alert.DedupHash)
		if err == nil {
			c = existing
			break
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, false, err
		}

		candidate := &models.Case{
			ID:        uuid.New(),
			Title:     alert.DedupHash,
			Type:      models.CaseTypeForSource(alert.Source),
			Severity:  models.SeverityLow,
			Status:    models.CaseStatusOpen,
			Score:     0,
			CreatedAt: now,
			UpdatedAt: now,
		}
		err = o.store.InsertCase(ctx, candidate)
		if err == nil {
			c = candidate
			created = true
			break
		}
		if !errors.Is(err, store.ErrDuplicateOpenCase) {
			return nil, false, err
		}
		// Lost the race; the next lookup finds the winner.
	}
	if c == nil {
		return nil, false, fmt.Errorf("correlation did not converge for hash %s", alert.DedupHash)
	}

	if err := o.store.BindAlert(ctx, alert.ID, c.ID); err != nil {
		return nil, false, err
	}

	msg := "alert attached to existing case"
	if created {
		msg = "case created"
	}
	ev := &models.TimelineEvent{
		ID:        uuid.New(),
		CaseID:    c.ID,
		TS:        now,
		EventType: models.EventIngest,
		Message:   msg,
		Details: models.Document{
			"alert_id":   alert.ID.String(),
			"dedup_hash": alert.DedupHash,
			"created":    created,
			"source":     string(alert.Source),
		},
	}
	if err := o.store.InsertTimelineEvent(ctx, ev); err != nil {
		return nil, false, err
	}

	if created {
		o.metrics.RecordCaseCreated(string(c.Type))
	}
	return c, created, nil
}
