package actions

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soarkit/backend/internal/blocklist"
	"github.com/soarkit/backend/internal/metrics"
	"github.com/soarkit/backend/internal/models"
	"github.com/soarkit/backend/internal/queue"
	"github.com/soarkit/backend/internal/store"
)

func newExecutor(t *testing.T) (*Executor, *store.MemoryStore, *models.Case) {
	t.Helper()
	st := store.NewMemoryStore()
	blocks := blocklist.NewWriter(filepath.Join(t.TempDir(), "blocklist.json"))
	t.Cleanup(blocks.Close)

	c := &models.Case{
		ID:        uuid.New(),
		Title:     "deadbeef",
		Type:      models.CasePhishing,
		Severity:  models.SeverityHigh,
		Status:    models.CaseStatusOpen,
		Score:     65,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.InsertCase(context.Background(), c))

	return NewExecutor(st, blocks, metrics.NewWorker("", nil), nil, nil), st, c
}

func listActions(t *testing.T, st *store.MemoryStore, caseID uuid.UUID) []models.Action {
	t.Helper()
	acts, err := st.ListActions(context.Background(), caseID)
	require.NoError(t, err)
	return acts
}

func TestBlockDomainAction(t *testing.T) {
	e, st, c := newExecutor(t)

	res, err := e.Run(context.Background(), c.ID, models.ActionBlockDomain, models.Document{"domain": "Evil.Example"})
	require.NoError(t, err)
	assert.Equal(t, true, res["ok"])

	acts := listActions(t, st, c.ID)
	require.Len(t, acts, 1)
	require.NotNil(t, acts[0].Success)
	assert.True(t, *acts[0].Success)
	require.NotNil(t, acts[0].FinishedAt)
	assert.Equal(t, "evil.example", acts[0].Result["domain"])

	events, err := st.ListTimeline(context.Background(), c.ID)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, models.EventAction, events[0].EventType)
	assert.Equal(t, "action block_domain succeeded", events[0].Message)
}

func TestBlockDomainMissingParam(t *testing.T) {
	e, st, c := newExecutor(t)

	res, err := e.Run(context.Background(), c.ID, models.ActionBlockDomain, nil)
	require.NoError(t, err, "bad params fail the action, not the task")
	assert.Equal(t, false, res["ok"])

	acts := listActions(t, st, c.ID)
	require.Len(t, acts, 1)
	require.NotNil(t, acts[0].Success)
	assert.False(t, *acts[0].Success)
	assert.Equal(t, "missing params.domain", acts[0].Result["error"])
}

func TestNotifyDefaultsMessage(t *testing.T) {
	e, _, c := newExecutor(t)

	res, err := e.Run(context.Background(), c.ID, models.ActionNotify, models.Document{})
	require.NoError(t, err)

	result := res["result"].(models.Document)
	assert.Equal(t, true, result["notified"])
	assert.Equal(t, "Notification for case "+c.ID.String(), result["message"])
	meta := result["meta"].(models.Document)
	assert.Equal(t, "high", meta["severity"])
	assert.Equal(t, 65, meta["score"])
}

func TestCreateTicket(t *testing.T) {
	e, st, c := newExecutor(t)

	res, err := e.Run(context.Background(), c.ID, models.ActionCreateTicket, nil)
	require.NoError(t, err)
	assert.Equal(t, true, res["ok"])

	tickets, err := st.ListTickets(context.Background(), c.ID)
	require.NoError(t, err)
	require.Len(t, tickets, 1)
	assert.Equal(t, "open", tickets[0].Status)
	assert.Equal(t, "[HIGH] Case "+c.ID.String()+" (score=65) requires review", tickets[0].Summary)
}

func TestUnknownActionType(t *testing.T) {
	e, st, c := newExecutor(t)

	res, err := e.Run(context.Background(), c.ID, models.ActionType("quarantine"), nil)
	require.NoError(t, err)
	assert.Equal(t, false, res["ok"])

	acts := listActions(t, st, c.ID)
	require.Len(t, acts, 1)
	assert.Equal(t, "unsupported action_type: quarantine", acts[0].Result["error"])
}

func TestCaseNotFoundIsPermanent(t *testing.T) {
	e, _, _ := newExecutor(t)

	res, err := e.Run(context.Background(), uuid.New(), models.ActionNotify, nil)
	require.Error(t, err)
	assert.True(t, queue.IsPermanent(err))
	assert.Equal(t, false, res["ok"])
	assert.Equal(t, "case not found", res["error"])
}

func TestEveryFinishedActionHasSuccess(t *testing.T) {
	e, st, c := newExecutor(t)

	for _, at := range []models.ActionType{
		models.ActionBlockDomain, models.ActionBlockIP, models.ActionNotify, models.ActionCreateTicket,
	} {
		_, err := e.Run(context.Background(), c.ID, at, models.Document{"domain": "d.example", "ip": "203.0.113.5"})
		require.NoError(t, err)
	}

	for _, a := range listActions(t, st, c.ID) {
		require.NotNil(t, a.FinishedAt)
		require.NotNil(t, a.Success, "terminal action must carry success")
	}
}
