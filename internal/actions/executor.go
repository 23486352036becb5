// Package actions executes response actions against a case: blocklist
// updates, tickets and notifications. Every run leaves a durable Action row
// and an action timeline event, whether it succeeds or not.
package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/soarkit/backend/internal/blocklist"
	"github.com/soarkit/backend/internal/metrics"
	"github.com/soarkit/backend/internal/models"
	"github.com/soarkit/backend/internal/queue"
	"github.com/soarkit/backend/internal/store"
)

// EventSink receives pipeline events for the live feed. May be nil.
type EventSink interface {
	Publish(event string, data models.Document)
}

// Executor runs one response action at a time against the store and the
// blocklist writer.
type Executor struct {
	store   store.Store
	blocks  *blocklist.Writer
	metrics *metrics.Worker
	sink    EventSink
	logger  *slog.Logger
	now     func() time.Time
}

// NewExecutor wires the executor. sink may be nil.
func NewExecutor(st store.Store, blocks *blocklist.Writer, m *metrics.Worker, sink EventSink, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		store:   st,
		blocks:  blocks,
		metrics: m,
		sink:    sink,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Handler adapts the executor to the task queue.
func (e *Executor) Handler() queue.Handler {
	return func(ctx context.Context, t *queue.Task) (models.Document, error) {
		var args queue.RunActionArgs
		if err := json.Unmarshal(t.Args, &args); err != nil {
			return nil, queue.Permanent(fmt.Errorf("decode run_action args: %w", err))
		}
		return e.Run(ctx, args.CaseID, models.ActionType(args.ActionType), args.Params)
	}
}

// Run executes the action. The returned document is the task result. An
// error return means transient storage failure; action-level failures
// (bad params, unknown type) are recorded on the Action row instead.
func (e *Executor) Run(ctx context.Context, caseID uuid.UUID, actionType models.ActionType, params models.Document) (models.Document, error) {
	if params == nil {
		params = models.Document{}
	}
	now := e.now()

	c, err := e.store.GetCase(ctx, caseID)
	if err != nil {
		e.metrics.RecordActionRun(string(actionType), false)
		e.metrics.Push()
		if errors.Is(err, store.ErrNotFound) {
			return models.Document{"ok": false, "error": "case not found"}, queue.Permanent(err)
		}
		return nil, err
	}

	action := &models.Action{
		ID:         uuid.New(),
		CaseID:     caseID,
		ActionType: actionType,
		Params:     params,
		StartedAt:  now,
		Result:     models.Document{},
	}
	if err := e.store.InsertAction(ctx, action); err != nil {
		return nil, err
	}

	result, runErr := e.execute(ctx, c, actionType, params)
	ok := runErr == nil
	if !ok {
		result = models.Document{"error": runErr.Error(), "params": params}
	}

	finished := e.now()
	if err := e.store.FinishAction(ctx, action.ID, ok, result, finished); err != nil {
		return nil, err
	}

	verb := "failed"
	if ok {
		verb = "succeeded"
	}
	ev := &models.TimelineEvent{
		ID:        uuid.New(),
		CaseID:    caseID,
		TS:        finished,
		EventType: models.EventAction,
		Message:   fmt.Sprintf("action %s %s", actionType, verb),
		Details: models.Document{
			"action_id":   action.ID.String(),
			"action_type": string(actionType),
			"success":     ok,
			"result":      result,
		},
	}
	if err := e.store.InsertTimelineEvent(ctx, ev); err != nil {
		return nil, err
	}

	e.metrics.RecordActionRun(string(actionType), ok)
	e.metrics.Push()
	if e.sink != nil {
		e.sink.Publish("action", ev.Details)
	}
	if !ok {
		e.logger.Warn("action failed",
			"case_id", caseID, "action_type", actionType, "error", runErr)
	}

	return models.Document{"ok": ok, "action_id": action.ID.String(), "result": result}, nil
}

func (e *Executor) execute(ctx context.Context, c *models.Case, actionType models.ActionType, params models.Document) (models.Document, error) {
	switch actionType {
	case models.ActionBlockDomain:
		domain := strings.TrimSpace(stringParam(params, "domain"))
		if domain == "" {
			return nil, fmt.Errorf("missing params.domain")
		}
		return e.blocks.BlockDomain(ctx, domain)

	case models.ActionBlockIP:
		ip := strings.TrimSpace(stringParam(params, "ip"))
		if ip == "" {
			return nil, fmt.Errorf("missing params.ip")
		}
		return e.blocks.BlockIP(ctx, ip)

	case models.ActionNotify:
		msg := strings.TrimSpace(stringParam(params, "message"))
		if msg == "" {
			msg = fmt.Sprintf("Notification for case %s", c.ID)
		}
		return models.Document{
			"notified": true,
			"message":  msg,
			"meta": models.Document{
				"case_id":  c.ID.String(),
				"severity": string(c.Severity),
				"score":    c.Score,
				"type":     string(c.Type),
			},
		}, nil

	case models.ActionCreateTicket:
		summary := strings.TrimSpace(stringParam(params, "summary"))
		if summary == "" {
			summary = fmt.Sprintf("[%s] Case %s (score=%d) requires review",
				strings.ToUpper(string(c.Severity)), c.ID, c.Score)
		}
		ticket := &models.Ticket{
			ID:        uuid.New(),
			CaseID:    c.ID,
			Summary:   summary,
			Status:    "open",
			CreatedAt: e.now(),
		}
		if err := e.store.InsertTicket(ctx, ticket); err != nil {
			return nil, err
		}
		return models.Document{"created": true, "ticket_id": ticket.ID.String(), "summary": summary}, nil

	default:
		return nil, fmt.Errorf("unsupported action_type: %s", actionType)
	}
}

func stringParam(params models.Document, key string) string {
	s, _ := params[key].(string)
	return s
}
