// Package store persists the pipeline entities. PostgresStore is the
// production implementation; MemoryStore backs tests and broker-less dev
// runs, mirroring how the rest of the stack falls back to in-memory
// adapters when infrastructure is absent.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/soarkit/backend/internal/models"
)

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrDuplicateOpenCase is returned by InsertCase when another open case
	// already holds the same title. The correlator retries its lookup on
	// this error, which resolves the lookup-then-insert race.
	ErrDuplicateOpenCase = errors.New("store: open case with this title already exists")
)

// CaseFilter narrows ListCases. Zero values mean no constraint.
type CaseFilter struct {
	Status   string
	Type     string
	Severity string
	Limit    int
}

// Stats is the aggregate snapshot served by GET /stats.
type Stats struct {
	TotalCases  int                `json:"total_cases"`
	ByStatus    map[string]int     `json:"by_status"`
	ByType      map[string]int     `json:"by_type"`
	BySeverity  map[string]int     `json:"by_severity"`
	LatestCases []models.Case      `json:"latest_cases"`
}

// Store is the persistence surface shared by the API and the worker. Each
// task runs against its own session; no in-memory state is shared through
// this interface.
type Store interface {
	InsertAlert(ctx context.Context, a *models.Alert) error
	GetAlert(ctx context.Context, id uuid.UUID) (*models.Alert, error)
	// BindAlert assigns the alert to a case and marks it processed.
	BindAlert(ctx context.Context, alertID, caseID uuid.UUID) error

	// InsertCase persists a new case and returns ErrDuplicateOpenCase if an
	// open case with the same title exists (partial unique index).
	InsertCase(ctx context.Context, c *models.Case) error
	GetCase(ctx context.Context, id uuid.UUID) (*models.Case, error)
	FindOpenCaseByTitle(ctx context.Context, title string) (*models.Case, error)
	UpdateCaseScore(ctx context.Context, id uuid.UUID, score int, severity models.Severity, at time.Time) error
	UpdateCaseStatus(ctx context.Context, id uuid.UUID, status string, at time.Time) error
	ListCases(ctx context.Context, f CaseFilter) ([]models.Case, error)

	InsertArtifact(ctx context.Context, a *models.Artifact) error
	ListArtifacts(ctx context.Context, caseID uuid.UUID) ([]models.Artifact, error)

	InsertTimelineEvent(ctx context.Context, ev *models.TimelineEvent) error
	ListTimeline(ctx context.Context, caseID uuid.UUID) ([]models.TimelineEvent, error)
	// RecentLoginContexts returns the newest login_context events across all
	// cases, newest first. Correlation is deliberately global.
	RecentLoginContexts(ctx context.Context, limit int) ([]models.TimelineEvent, error)

	InsertAction(ctx context.Context, a *models.Action) error
	// FinishAction applies the single terminal update to a pending action.
	FinishAction(ctx context.Context, id uuid.UUID, success bool, result models.Document, at time.Time) error
	ListActions(ctx context.Context, caseID uuid.UUID) ([]models.Action, error)

	InsertTicket(ctx context.Context, t *models.Ticket) error
	GetTicket(ctx context.Context, id uuid.UUID) (*models.Ticket, error)
	ListTickets(ctx context.Context, caseID uuid.UUID) ([]models.Ticket, error)

	GetLoginState(ctx context.Context, user string) (*models.LoginState, error)
	UpsertLoginState(ctx context.Context, s *models.LoginState) error

	CaseStats(ctx context.Context) (*Stats, error)
	Ping(ctx context.Context) error
}
