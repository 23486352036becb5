// Package queue moves tasks from the API to the worker over a Redis list,
// with task results written to a result backend keyed by task ID. An
// in-memory broker backs tests and single-process dev runs.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/soarkit/backend/internal/models"
)

// Task names.
const (
	TaskProcessAlert = "process_alert"
	TaskRunAction    = "run_action"
)

// Task is the wire envelope pushed onto the broker list.
type Task struct {
	ID         string          `json:"id"`
	Name       string          `json:"name"`
	Args       json.RawMessage `json:"args"`
	Attempts   int             `json:"attempts"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
}

// ProcessAlertArgs are the arguments of a process_alert task.
type ProcessAlertArgs struct {
	AlertID uuid.UUID `json:"alert_id"`
}

// RunActionArgs are the arguments of a run_action task.
type RunActionArgs struct {
	CaseID     uuid.UUID       `json:"case_id"`
	ActionType string          `json:"action_type"`
	Params     models.Document `json:"params"`
}

// Result is the terminal record written to the result backend.
type Result struct {
	TaskID     string          `json:"task_id"`
	OK         bool            `json:"ok"`
	Value      models.Document `json:"value,omitempty"`
	Error      string          `json:"error,omitempty"`
	FinishedAt time.Time       `json:"finished_at"`
}

// Broker is the minimal transport surface the client and the pool need.
// Pop returns (nil, nil) when the wait times out with nothing queued.
type Broker interface {
	Push(ctx context.Context, payload []byte) error
	Pop(ctx context.Context, wait time.Duration) ([]byte, error)
	SetResult(ctx context.Context, taskID string, payload []byte, ttl time.Duration) error
	GetResult(ctx context.Context, taskID string) ([]byte, error)
	Close() error
}

// ErrResultNotFound is returned when no result exists for a task ID.
var ErrResultNotFound = errors.New("queue: result not found")

// Enqueuer is the producer surface used by the API and the orchestrator.
type Enqueuer interface {
	EnqueueProcessAlert(ctx context.Context, alertID uuid.UUID) (string, error)
	EnqueueRunAction(ctx context.Context, caseID uuid.UUID, actionType models.ActionType, params models.Document) (string, error)
}

// Client enqueues tasks and reads back results.
type Client struct {
	broker    Broker
	resultTTL time.Duration
}

// NewClient wraps a broker. Results expire after a day.
func NewClient(b Broker) *Client {
	return &Client{broker: b, resultTTL: 24 * time.Hour}
}

func (c *Client) enqueue(ctx context.Context, name string, args interface{}) (string, error) {
	blob, err := json.Marshal(args)
	if err != nil {
		return "", err
	}
	t := Task{
		ID:         uuid.NewString(),
		Name:       name,
		Args:       blob,
		EnqueuedAt: time.Now().UTC(),
	}
	payload, err := json.Marshal(t)
	if err != nil {
		return "", err
	}
	if err := c.broker.Push(ctx, payload); err != nil {
		return "", err
	}
	return t.ID, nil
}

func (c *Client) EnqueueProcessAlert(ctx context.Context, alertID uuid.UUID) (string, error) {
	return c.enqueue(ctx, TaskProcessAlert, ProcessAlertArgs{AlertID: alertID})
}

func (c *Client) EnqueueRunAction(ctx context.Context, caseID uuid.UUID, actionType models.ActionType, params models.Document) (string, error) {
	if params == nil {
		params = models.Document{}
	}
	return c.enqueue(ctx, TaskRunAction, RunActionArgs{
		CaseID:     caseID,
		ActionType: string(actionType),
		Params:     params,
	})
}

// Result fetches a task's terminal record, or ErrResultNotFound while the
// task is still pending.
func (c *Client) Result(ctx context.Context, taskID string) (*Result, error) {
	blob, err := c.broker.GetResult(ctx, taskID)
	if err != nil {
		return nil, err
	}
	var r Result
	if err := json.Unmarshal(blob, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
