package playbook

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soarkit/backend/internal/metrics"
	"github.com/soarkit/backend/internal/models"
	"github.com/soarkit/backend/internal/queue"
	"github.com/soarkit/backend/internal/store"
)

type fakeDNS struct{ docs map[string]models.Document }

func (f fakeDNS) Lookup(ctx context.Context, d string) models.Document {
	if doc, ok := f.docs[d]; ok {
		return doc
	}
	return models.Document{"domain": d, "A": []string{}}
}

type fakeRDAP struct{ docs map[string]models.Document }

func (f fakeRDAP) Domain(ctx context.Context, d string) models.Document {
	if doc, ok := f.docs[d]; ok {
		return doc
	}
	return models.Document{"domain": d, "ok": true}
}

type fakeFeed map[string]bool

func (f fakeFeed) Contains(v string) bool { return f[v] }

type enqueuedAction struct {
	caseID     uuid.UUID
	actionType models.ActionType
	params     models.Document
}

type captureEnqueuer struct {
	actions []enqueuedAction
}

func (c *captureEnqueuer) EnqueueProcessAlert(ctx context.Context, alertID uuid.UUID) (string, error) {
	return uuid.NewString(), nil
}

func (c *captureEnqueuer) EnqueueRunAction(ctx context.Context, caseID uuid.UUID, actionType models.ActionType, params models.Document) (string, error) {
	c.actions = append(c.actions, enqueuedAction{caseID: caseID, actionType: actionType, params: params})
	return uuid.NewString(), nil
}

func (c *captureEnqueuer) types() []models.ActionType {
	var out []models.ActionType
	for _, a := range c.actions {
		out = append(out, a.actionType)
	}
	return out
}

type fixture struct {
	store *store.MemoryStore
	enq   *captureEnqueuer
	orch  *Orchestrator
}

func newFixture(t *testing.T, opts ...func(*fixture)) *fixture {
	t.Helper()
	f := &fixture{store: store.NewMemoryStore(), enq: &captureEnqueuer{}}
	f.orch = NewOrchestrator(
		f.store, fakeDNS{}, fakeRDAP{}, fakeFeed{}, fakeFeed{},
		f.enq, metrics.NewWorker("", nil), nil, nil,
	)
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func withRDAP(docs map[string]models.Document) func(*fixture) {
	return func(f *fixture) { f.orch.rdap = fakeRDAP{docs: docs} }
}

func withDomainFeed(feed fakeFeed) func(*fixture) {
	return func(f *fixture) { f.orch.domainFeed = feed }
}

func withIPFeed(feed fakeFeed) func(*fixture) {
	return func(f *fixture) { f.orch.ipFeed = feed }
}

func (f *fixture) ingest(t *testing.T, source models.Source, payload models.Document) *models.Alert {
	t.Helper()
	alert := &models.Alert{
		ID:         uuid.New(),
		Source:     source,
		ReceivedAt: time.Now().UTC(),
		RawPayload: payload,
		DedupHash:  models.DedupHash(source, payload),
		Status:     models.AlertStatusNew,
	}
	require.NoError(t, f.store.InsertAlert(context.Background(), alert))
	return alert
}

func (f *fixture) process(t *testing.T, alert *models.Alert) models.Document {
	t.Helper()
	res, err := f.orch.ProcessAlert(context.Background(), alert.ID)
	require.NoError(t, err)
	return res
}

func (f *fixture) timeline(t *testing.T, caseID uuid.UUID) []models.TimelineEvent {
	t.Helper()
	events, err := f.store.ListTimeline(context.Background(), caseID)
	require.NoError(t, err)
	return events
}

func eventTypes(events []models.TimelineEvent) []string {
	out := make([]string, 0, len(events))
	for _, ev := range events {
		out = append(out, ev.EventType)
	}
	return out
}

var phishingPayload = models.Document{
	"subject":   "Verify your account",
	"sender":    "security@micros0ft-support.com",
	"recipient": "u@c.com",
	"body":      "Verify here: https://micros0ft-support.com/login",
}

func TestPhishingPlaybookCriticalFansOut(t *testing.T) {
	f := newFixture(t, withDomainFeed(fakeFeed{"micros0ft-support.com": true}))

	alert := f.ingest(t, models.SourceEmail, phishingPayload)
	res := f.process(t, alert)

	assert.Equal(t, true, res["ok"])
	assert.Equal(t, true, res["created"])
	assert.Equal(t, 80, res["score"])
	assert.Equal(t, "critical", res["severity"])

	caseID := uuid.MustParse(res["case_id"].(string))
	c, err := f.store.GetCase(context.Background(), caseID)
	require.NoError(t, err)
	assert.Equal(t, models.CasePhishing, c.Type)
	assert.Equal(t, models.SeverityCritical, c.Severity)
	assert.Equal(t, alert.DedupHash, c.Title)

	bound, err := f.store.GetAlert(context.Background(), alert.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AlertStatusProcessed, bound.Status)
	require.NotNil(t, bound.CaseID)
	assert.Equal(t, caseID, *bound.CaseID)

	events := f.timeline(t, caseID)
	assert.Equal(t, []string{"ingest", "extract", "enrich", "score"}, eventTypes(events))
	assert.Equal(t, "case created", events[0].Message)
	assert.Equal(t, "extracted phishing artifacts", events[1].Message)
	assert.Equal(t, "phishing enrichment completed", events[2].Message)
	assert.Equal(t, "scored phishing case", events[3].Message)
	assert.Contains(t, events[3].Details["reasons"], "threatfeed_match")

	assert.Equal(t, []models.ActionType{
		models.ActionBlockDomain, models.ActionCreateTicket, models.ActionNotify,
	}, f.enq.types())
	assert.Equal(t, models.Document{"domain": "micros0ft-support.com"}, f.enq.actions[0].params)
	msg := f.enq.actions[2].params["message"].(string)
	assert.Equal(t, "Auto-response: phishing case "+caseID.String()+" severity=critical score=80", msg)

	artifacts, err := f.store.ListArtifacts(context.Background(), caseID)
	require.NoError(t, err)
	byType := map[models.ArtifactType][]string{}
	for _, a := range artifacts {
		byType[a.Type] = append(byType[a.Type], a.Value)
	}
	assert.Equal(t, []string{"https://micros0ft-support.com/login"}, byType[models.ArtifactURL])
	assert.Equal(t, []string{"micros0ft-support.com"}, byType[models.ArtifactDomain])
	assert.ElementsMatch(t, []string{"security@micros0ft-support.com", "u@c.com"}, byType[models.ArtifactEmail])
}

func TestDedupSecondAlertAttaches(t *testing.T) {
	f := newFixture(t)

	first := f.ingest(t, models.SourceEmail, phishingPayload)
	second := f.ingest(t, models.SourceEmail, phishingPayload)

	res1 := f.process(t, first)
	res2 := f.process(t, second)

	assert.Equal(t, true, res1["created"])
	assert.Equal(t, false, res2["created"])
	assert.Equal(t, res1["case_id"], res2["case_id"])

	caseID := uuid.MustParse(res1["case_id"].(string))
	events := f.timeline(t, caseID)
	var ingests []models.TimelineEvent
	for _, ev := range events {
		if ev.EventType == models.EventIngest {
			ingests = append(ingests, ev)
		}
	}
	require.Len(t, ingests, 2)
	assert.Equal(t, "case created", ingests[0].Message)
	assert.Equal(t, true, ingests[0].Details["created"])
	assert.Equal(t, "alert attached to existing case", ingests[1].Message)
	assert.Equal(t, false, ingests[1].Details["created"])

	cases, err := f.store.ListCases(context.Background(), store.CaseFilter{})
	require.NoError(t, err)
	assert.Len(t, cases, 1)
}

func TestDedupHashKeyOrderIndependent(t *testing.T) {
	a := models.Document{"subject": "x", "body": "y"}
	b := models.Document{"body": "y", "subject": "x"}
	assert.Equal(t, models.DedupHash(models.SourceEmail, a), models.DedupHash(models.SourceEmail, b))
	assert.NotEqual(t, models.DedupHash(models.SourceEmail, a), models.DedupHash(models.SourceAuth, a))
}

func loginPayload(ts time.Time, country string, lat, lon float64) models.Document {
	return models.Document{
		"event_type": "login",
		"user":       "neil@company.com",
		"ip":         "198.51.100.23",
		"user_agent": "Mozilla/5.0",
		"success":    true,
		"country":    country,
		"city":       "somewhere",
		"lat":        lat,
		"lon":        lon,
		"ts":         ts.Format(time.RFC3339),
	}
}

func TestImpossibleTravelLogin(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()

	chicago := f.ingest(t, models.SourceAuth, loginPayload(now.Add(-10*time.Minute), "US", 41.88, -87.63))
	f.process(t, chicago)

	st, err := f.store.GetLoginState(context.Background(), "neil@company.com")
	require.NoError(t, err, "first login persists typed state")
	assert.Equal(t, "US", st.Country)

	paris := f.ingest(t, models.SourceAuth, loginPayload(now, "FR", 48.86, 2.35))
	res := f.process(t, paris)

	assert.Equal(t, 70, res["score"])
	assert.Equal(t, "high", res["severity"])

	caseID := uuid.MustParse(res["case_id"].(string))
	events := f.timeline(t, caseID)
	assert.Equal(t, []string{"ingest", "extract", "enrich", "score", "login_context"}, eventTypes(events))
	assert.Equal(t, "login context saved", events[4].Message)

	scoreEv := events[3]
	assert.Contains(t, scoreEv.Details["reasons"], "new_country_success")
	assert.Contains(t, scoreEv.Details["reasons"], "impossible_travel")

	assert.Equal(t, []models.ActionType{models.ActionCreateTicket, models.ActionNotify}, f.enq.types())
}

func TestBenignLoginNoActions(t *testing.T) {
	f := newFixture(t)

	alert := f.ingest(t, models.SourceAuth, loginPayload(time.Now().UTC(), "US", 41.88, -87.63))
	res := f.process(t, alert)

	assert.Equal(t, 0, res["score"])
	assert.Equal(t, "low", res["severity"])
	assert.Empty(t, f.enq.actions)
}

func TestLoginFallsBackToTimelineScan(t *testing.T) {
	f := newFixture(t)
	now := time.Now().UTC()

	// A login_context event from before the typed state table existed.
	caseID := uuid.New()
	require.NoError(t, f.store.InsertCase(context.Background(), &models.Case{
		ID: caseID, Title: "legacy", Type: models.CaseLogin,
		Severity: models.SeverityLow, Status: models.CaseStatusClosed,
		CreatedAt: now.Add(-time.Hour), UpdatedAt: now.Add(-time.Hour),
	}))
	require.NoError(t, f.store.InsertTimelineEvent(context.Background(), &models.TimelineEvent{
		ID: uuid.New(), CaseID: caseID, TS: now.Add(-10 * time.Minute),
		EventType: models.EventLoginContext, Message: "login context saved",
		Details: models.Document{
			"user": "neil@company.com", "ip": "10.1.1.1", "country": "US",
			"lat": 41.88, "lon": -87.63, "ts": now.Add(-10 * time.Minute).Format(time.RFC3339),
		},
	}))

	alert := f.ingest(t, models.SourceAuth, loginPayload(now, "FR", 48.86, 2.35))
	res := f.process(t, alert)

	assert.Equal(t, 70, res["score"], "previous context found via timeline scan")
}

func beaconPayload() models.Document {
	base := time.Now().UTC().Add(-time.Hour)
	var stamps []interface{}
	for i := 0; i < 12; i++ {
		stamps = append(stamps, base.Add(time.Duration(i)*time.Minute).Format(time.RFC3339))
	}
	return models.Document{
		"event_type": "network_beacon",
		"dst_domain": "c2.example.net",
		"dst_ip":     "198.51.100.9",
		"hosts":      []interface{}{"ws-01", "ws-02", "ws-03"},
		"timestamps": stamps,
	}
}

func TestBeaconPlaybookCritical(t *testing.T) {
	f := newFixture(t)

	alert := f.ingest(t, models.SourceNetwork, beaconPayload())
	res := f.process(t, alert)

	assert.Equal(t, 80, res["score"])
	assert.Equal(t, "critical", res["severity"])

	assert.Equal(t, []models.ActionType{
		models.ActionBlockDomain, models.ActionBlockIP, models.ActionCreateTicket, models.ActionNotify,
	}, f.enq.types())
	assert.Equal(t, models.Document{"domain": "c2.example.net"}, f.enq.actions[0].params)
	assert.Equal(t, models.Document{"ip": "198.51.100.9"}, f.enq.actions[1].params)

	caseID := uuid.MustParse(res["case_id"].(string))
	events := f.timeline(t, caseID)
	assert.Equal(t, []string{"ingest", "extract", "enrich", "score"}, eventTypes(events))
	assert.Equal(t, "extracted beacon artifacts", events[1].Message)
	assert.Equal(t, "beacon enrichment completed", events[2].Message)
	assert.Equal(t, "scored beacon case", events[3].Message)
}

func TestRDAPFailureRecordedNotFatal(t *testing.T) {
	f := newFixture(t, withRDAP(map[string]models.Document{
		"micros0ft-support.com": {
			"domain": "micros0ft-support.com", "ok": false,
			"status_code": 500, "error": "HTTP 500",
		},
	}))

	alert := f.ingest(t, models.SourceEmail, phishingPayload)
	res := f.process(t, alert)

	assert.Equal(t, true, res["ok"])
	assert.Equal(t, 30, res["score"], "scores without domain age data")

	caseID := uuid.MustParse(res["case_id"].(string))
	events := f.timeline(t, caseID)
	enrich := events[2]
	errs, ok := enrich.Details["errors"].([]models.Document)
	require.True(t, ok)
	require.Len(t, errs, 1)
	assert.Equal(t, "micros0ft-support.com", errs[0]["domain"])
	assert.Equal(t, "HTTP 500", errs[0]["rdap_error"])
}

func TestProcessedAlertIsSkipped(t *testing.T) {
	f := newFixture(t)

	alert := f.ingest(t, models.SourceEmail, phishingPayload)
	res := f.process(t, alert)
	caseID := res["case_id"].(string)
	eventsBefore := len(f.timeline(t, uuid.MustParse(caseID)))

	res2 := f.process(t, alert)

	assert.Equal(t, true, res2["skipped"])
	assert.Equal(t, caseID, res2["case_id"])
	assert.Len(t, f.timeline(t, uuid.MustParse(caseID)), eventsBefore, "no new events on replay")
}

func TestAlertNotFoundPermanent(t *testing.T) {
	f := newFixture(t)

	res, err := f.orch.ProcessAlert(context.Background(), uuid.New())
	require.Error(t, err)
	assert.True(t, queue.IsPermanent(err))
	assert.Equal(t, false, res["ok"])
	assert.Equal(t, "alert not found", res["error"])
}

func TestBadIPLoginUsesFeed(t *testing.T) {
	f := newFixture(t, withIPFeed(fakeFeed{"198.51.100.23": true}))

	payload := loginPayload(time.Now().UTC(), "US", 41.88, -87.63)
	payload["mfa_fatigue"] = true

	res := f.process(t, f.ingest(t, models.SourceAuth, payload))

	assert.Equal(t, 55, res["score"])
	assert.Equal(t, "medium", res["severity"])
	assert.Empty(t, f.enq.actions, "medium severity does not auto-respond")

	caseID := uuid.MustParse(res["case_id"].(string))
	events := f.timeline(t, caseID)
	rep := events[2].Details["ip_reputation"].(models.Document)
	assert.Equal(t, true, rep["bad"])
}
