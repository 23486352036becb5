package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/soarkit/backend/internal/models"
	"github.com/soarkit/backend/internal/store"
)

const (
	defaultCaseLimit = 50
	maxCaseLimit     = 200
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleWebhook accepts a raw JSON payload for the source, persists the
// alert and enqueues processing. The case is created asynchronously, so
// case_id is always null in the response.
func (s *Server) handleWebhook(source models.Source) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var payload models.Document
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload == nil {
			writeError(w, http.StatusBadRequest, "body must be a JSON object")
			return
		}

		s.metrics.RecordAlertReceived(string(source))
		s.metrics.RecordWebhookRequest(string(source))

		alert := &models.Alert{
			ID:         uuid.New(),
			Source:     source,
			ReceivedAt: s.now(),
			RawPayload: payload,
			DedupHash:  models.DedupHash(source, payload),
			Status:     models.AlertStatusNew,
		}

		start := time.Now()
		if err := s.store.InsertAlert(r.Context(), alert); err != nil {
			s.logger.Error("alert insert failed", "source", source, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to store alert")
			return
		}
		s.metrics.ObserveWebhookDBWrite(string(source), time.Since(start))

		if _, err := s.tasks.EnqueueProcessAlert(r.Context(), alert.ID); err != nil {
			s.logger.Error("enqueue process_alert failed", "alert_id", alert.ID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to queue alert")
			return
		}

		writeJSON(w, http.StatusAccepted, map[string]interface{}{
			"alert_id": alert.ID.String(),
			"case_id":  nil,
		})
	}
}

func pathID(r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	return id, err == nil
}

func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusNotFound, "Alert not found")
		return
	}
	alert, err := s.store.GetAlert(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Alert not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var caseID interface{}
	if alert.CaseID != nil {
		caseID = alert.CaseID.String()
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":          alert.ID.String(),
		"source":      alert.Source,
		"received_at": alert.ReceivedAt,
		"dedup_hash":  alert.DedupHash,
		"status":      alert.Status,
		"case_id":     caseID,
		"raw_payload": alert.RawPayload,
	})
}

func (s *Server) handleListCases(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit := defaultCaseLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxCaseLimit {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 200")
			return
		}
		limit = n
	}

	cases, err := s.store.ListCases(r.Context(), store.CaseFilter{
		Status:   q.Get("status"),
		Type:     q.Get("type"),
		Severity: q.Get("severity"),
		Limit:    limit,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if cases == nil {
		cases = []models.Case{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"cases": cases})
}

func (s *Server) handleGetCase(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusNotFound, "Case not found")
		return
	}
	ctx := r.Context()

	c, err := s.store.GetCase(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Case not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	artifacts, err := s.store.ListArtifacts(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	timeline, err := s.store.ListTimeline(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	actions, err := s.store.ListActions(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	tickets, err := s.store.ListTickets(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"case":      c,
		"artifacts": emptyIfNil(artifacts),
		"timeline":  emptyIfNil(timeline),
		"actions":   emptyIfNil(actions),
		"tickets":   emptyIfNil(tickets),
	})
}

func emptyIfNil[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

func (s *Server) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusNotFound, "Ticket not found")
		return
	}
	t, err := s.store.GetTicket(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Ticket not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.CaseStats(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"totals":       map[string]int{"cases": stats.TotalCases},
		"by_status":    stats.ByStatus,
		"by_type":      stats.ByType,
		"by_severity":  stats.BySeverity,
		"latest_cases": emptyIfNil(stats.LatestCases),
	})
}

type actionRequest struct {
	Params models.Document `json:"params"`
}

func (s *Server) handleTriggerAction(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusNotFound, "Case not found")
		return
	}
	actionType := mux.Vars(r)["action_type"]

	var body actionRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	if body.Params == nil {
		body.Params = models.Document{}
	}

	taskID, err := s.tasks.EnqueueRunAction(r.Context(), id, models.ActionType(actionType), body.Params)
	if err != nil {
		s.logger.Error("enqueue run_action failed", "case_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to queue action")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{"queued": true, "task_id": taskID})
}

// handleCloseCase marks the case closed, writes the incident report and
// observes the time-to-contain metric.
func (s *Server) handleCloseCase(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusNotFound, "Case not found")
		return
	}
	ctx := r.Context()

	c, err := s.store.GetCase(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Case not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	now := s.now()
	if err := s.store.UpdateCaseStatus(ctx, id, models.CaseStatusClosed, now); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if err := s.store.InsertTimelineEvent(ctx, &models.TimelineEvent{
		ID:        uuid.New(),
		CaseID:    id,
		TS:        now,
		EventType: models.EventClose,
		Message:   "case closed",
		Details:   models.Document{"closed_at": now.Format(time.RFC3339)},
	}); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out, err := s.reports.Build(ctx, id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "report generation failed: "+err.Error())
		return
	}

	paths := models.Document{"markdown_path": out.MarkdownPath}
	if out.PDFPath != "" {
		paths["pdf_path"] = out.PDFPath
	}
	if err := s.store.InsertTimelineEvent(ctx, &models.TimelineEvent{
		ID:        uuid.New(),
		CaseID:    id,
		TS:        now.Add(time.Microsecond),
		EventType: models.EventReport,
		Message:   "incident report generated",
		Details:   models.Document{"paths": paths},
	}); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	contain := now.Sub(c.CreatedAt)
	if contain < 0 {
		contain = 0
	}
	s.metrics.ObserveTimeToContain(string(c.Type), string(c.Severity), contain)

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"closed":  true,
		"case_id": id.String(),
		"report": map[string]interface{}{
			"markdown_path": out.MarkdownPath,
			"pdf_path":      out.PDFPath,
		},
		"markdown_preview": out.Markdown,
	})
}
