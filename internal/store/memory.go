package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/soarkit/backend/internal/models"
)

// MemoryStore is a mutex-guarded in-memory Store. It backs unit tests and
// dev runs without Postgres, and enforces the same open-title uniqueness
// the partial index provides in production.
type MemoryStore struct {
	mu          sync.RWMutex
	alerts      map[uuid.UUID]*models.Alert
	cases       map[uuid.UUID]*models.Case
	artifacts   []models.Artifact
	timeline    []models.TimelineEvent
	actions     map[uuid.UUID]*models.Action
	tickets     map[uuid.UUID]*models.Ticket
	loginStates map[string]*models.LoginState
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		alerts:      make(map[uuid.UUID]*models.Alert),
		cases:       make(map[uuid.UUID]*models.Case),
		actions:     make(map[uuid.UUID]*models.Action),
		tickets:     make(map[uuid.UUID]*models.Ticket),
		loginStates: make(map[string]*models.LoginState),
	}
}

func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

func (s *MemoryStore) InsertAlert(ctx context.Context, a *models.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.alerts[a.ID] = &cp
	return nil
}

func (s *MemoryStore) GetAlert(ctx context.Context, id uuid.UUID) (*models.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) BindAlert(ctx context.Context, alertID, caseID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[alertID]
	if !ok {
		return ErrNotFound
	}
	cid := caseID
	a.CaseID = &cid
	a.Status = models.AlertStatusProcessed
	return nil
}

func (s *MemoryStore) InsertCase(ctx context.Context, c *models.Case) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.Status == models.CaseStatusOpen {
		for _, existing := range s.cases {
			if existing.Status == models.CaseStatusOpen && existing.Title == c.Title {
				return ErrDuplicateOpenCase
			}
		}
	}
	cp := *c
	s.cases[c.ID] = &cp
	return nil
}

func (s *MemoryStore) GetCase(ctx context.Context, id uuid.UUID) (*models.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cases[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) FindOpenCaseByTitle(ctx context.Context, title string) (*models.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.cases {
		if c.Status == models.CaseStatusOpen && c.Title == title {
			cp := *c
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryStore) UpdateCaseScore(ctx context.Context, id uuid.UUID, score int, severity models.Severity, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[id]
	if !ok {
		return ErrNotFound
	}
	c.Score = score
	c.Severity = severity
	c.UpdatedAt = at
	return nil
}

func (s *MemoryStore) UpdateCaseStatus(ctx context.Context, id uuid.UUID, status string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.cases[id]
	if !ok {
		return ErrNotFound
	}
	c.Status = status
	c.UpdatedAt = at
	return nil
}

func (s *MemoryStore) ListCases(ctx context.Context, f CaseFilter) ([]models.Case, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Case
	for _, c := range s.cases {
		if f.Status != "" && c.Status != f.Status {
			continue
		}
		if f.Type != "" && string(c.Type) != f.Type {
			continue
		}
		if f.Severity != "" && string(c.Severity) != f.Severity {
			continue
		}
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *MemoryStore) InsertArtifact(ctx context.Context, a *models.Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts = append(s.artifacts, *a)
	return nil
}

func (s *MemoryStore) ListArtifacts(ctx context.Context, caseID uuid.UUID) ([]models.Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Artifact
	for _, a := range s.artifacts {
		if a.CaseID == caseID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (s *MemoryStore) InsertTimelineEvent(ctx context.Context, ev *models.TimelineEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeline = append(s.timeline, *ev)
	return nil
}

func (s *MemoryStore) ListTimeline(ctx context.Context, caseID uuid.UUID) ([]models.TimelineEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.TimelineEvent
	for _, ev := range s.timeline {
		if ev.CaseID == caseID {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TS.Before(out[j].TS) })
	return out, nil
}

func (s *MemoryStore) RecentLoginContexts(ctx context.Context, limit int) ([]models.TimelineEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.TimelineEvent
	for _, ev := range s.timeline {
		if ev.EventType == models.EventLoginContext {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].TS.After(out[j].TS) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) InsertAction(ctx context.Context, a *models.Action) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.actions[a.ID] = &cp
	return nil
}

func (s *MemoryStore) FinishAction(ctx context.Context, id uuid.UUID, success bool, result models.Document, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.actions[id]
	if !ok || a.FinishedAt != nil {
		return ErrNotFound
	}
	t := at
	a.FinishedAt = &t
	ok2 := success
	a.Success = &ok2
	a.Result = result
	return nil
}

func (s *MemoryStore) ListActions(ctx context.Context, caseID uuid.UUID) ([]models.Action, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Action
	for _, a := range s.actions {
		if a.CaseID == caseID {
			out = append(out, *a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *MemoryStore) InsertTicket(ctx context.Context, t *models.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.tickets[t.ID] = &cp
	return nil
}

func (s *MemoryStore) GetTicket(ctx context.Context, id uuid.UUID) (*models.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) ListTickets(ctx context.Context, caseID uuid.UUID) ([]models.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Ticket
	for _, t := range s.tickets {
		if t.CaseID == caseID {
			out = append(out, *t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) GetLoginState(ctx context.Context, user string) (*models.LoginState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.loginStates[user]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (s *MemoryStore) UpsertLoginState(ctx context.Context, st *models.LoginState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *st
	s.loginStates[st.User] = &cp
	return nil
}

func (s *MemoryStore) CaseStats(ctx context.Context) (*Stats, error) {
	s.mu.RLock()
	stats := &Stats{
		ByStatus:   map[string]int{},
		ByType:     map[string]int{},
		BySeverity: map[string]int{},
	}
	for _, c := range s.cases {
		stats.TotalCases++
		stats.ByStatus[c.Status]++
		stats.ByType[string(c.Type)]++
		stats.BySeverity[string(c.Severity)]++
	}
	s.mu.RUnlock()

	latest, err := s.ListCases(ctx, CaseFilter{Limit: 10})
	if err != nil {
		return nil, err
	}
	stats.LatestCases = latest
	return stats, nil
}
