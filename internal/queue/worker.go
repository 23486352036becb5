package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/soarkit/backend/internal/models"
)

// Handler executes one task. The returned document is stored as the task
// result; a returned error triggers a bounded requeue unless it is marked
// permanent.
type Handler func(ctx context.Context, t *Task) (models.Document, error)

type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent marks an error as non-retryable, such as a missing entity.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent reports whether err was wrapped by Permanent.
func IsPermanent(err error) bool {
	var pe *permanentError
	return errors.As(err, &pe)
}

// Task deadlines by name. Enrichment-heavy tasks get the longer budget.
var taskDeadlines = map[string]time.Duration{
	TaskProcessAlert: 30 * time.Second,
	TaskRunAction:    15 * time.Second,
}

const (
	popWait     = 2 * time.Second
	maxAttempts = 3
)

// Pool consumes the broker with a fixed set of workers. Delivery is
// at-least-once: a failed task is requeued up to maxAttempts times before a
// failure result is recorded.
type Pool struct {
	broker      Broker
	handlers    map[string]Handler
	concurrency int
	resultTTL   time.Duration
	logger      *slog.Logger
}

// NewPool builds a pool over the broker with the given concurrency.
func NewPool(b Broker, concurrency int, logger *slog.Logger) *Pool {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		broker:      b,
		handlers:    make(map[string]Handler),
		concurrency: concurrency,
		resultTTL:   24 * time.Hour,
		logger:      logger,
	}
}

// Register binds a handler to a task name. Not safe after Run starts.
func (p *Pool) Register(name string, h Handler) {
	p.handlers[name] = h
}

// Run blocks until ctx is cancelled, then drains the workers.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.concurrency; i++ {
		g.Go(func() error { return p.loop(ctx) })
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (p *Pool) loop(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		payload, err := p.broker.Pop(ctx, popWait)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			p.logger.Warn("broker pop failed", "error", err)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		if payload == nil {
			continue
		}

		var t Task
		if err := json.Unmarshal(payload, &t); err != nil {
			p.logger.Error("dropping undecodable task", "error", err)
			continue
		}

		p.dispatch(ctx, &t)
	}
}

func (p *Pool) dispatch(ctx context.Context, t *Task) {
	h, ok := p.handlers[t.Name]
	if !ok {
		p.logger.Error("no handler for task", "task", t.Name, "task_id", t.ID)
		p.storeResult(t.ID, &Result{TaskID: t.ID, OK: false, Error: "unknown task: " + t.Name})
		return
	}

	deadline, ok := taskDeadlines[t.Name]
	if !ok {
		deadline = 30 * time.Second
	}
	tctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	start := time.Now()
	value, err := h(tctx, t)
	if err == nil {
		p.logger.Info("task done", "task", t.Name, "task_id", t.ID, "elapsed", time.Since(start))
		p.storeResult(t.ID, &Result{TaskID: t.ID, OK: true, Value: value})
		return
	}

	t.Attempts++
	if !IsPermanent(err) && t.Attempts < maxAttempts {
		p.logger.Warn("task failed, requeueing",
			"task", t.Name, "task_id", t.ID, "attempt", t.Attempts, "error", err)
		if rerr := p.requeue(t); rerr == nil {
			return
		}
		p.logger.Error("requeue failed", "task_id", t.ID)
	} else {
		p.logger.Error("task failed",
			"task", t.Name, "task_id", t.ID, "attempts", t.Attempts, "error", err)
	}
	p.storeResult(t.ID, &Result{TaskID: t.ID, OK: false, Value: value, Error: err.Error()})
}

func (p *Pool) requeue(t *Task) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return p.broker.Push(ctx, payload)
}

// storeResult writes the terminal record with a fresh context so shutdown
// does not lose results of completed work.
func (p *Pool) storeResult(taskID string, r *Result) {
	r.FinishedAt = time.Now().UTC()
	payload, err := json.Marshal(r)
	if err != nil {
		p.logger.Error("marshal result", "task_id", taskID, "error", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.broker.SetResult(ctx, taskID, payload, p.resultTTL); err != nil {
		p.logger.Warn("store result failed", "task_id", taskID, "error", err)
	}
}
