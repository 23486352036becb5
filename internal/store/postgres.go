package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/soarkit/backend/internal/models"
)

// PostgresStore implements Store on database/sql with the pq driver.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a connection pool and verifies connectivity.
func NewPostgresStore(connStr string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	return &PostgresStore{db: db}, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database is reachable.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// InitSchema creates the tables if they do not exist. The partial unique
// index on open-case titles is what makes the correlator's attach-or-create
// safe under concurrent processing of duplicate alerts.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS alerts (
		id UUID PRIMARY KEY,
		source VARCHAR(16) NOT NULL,
		received_at TIMESTAMPTZ NOT NULL,
		raw_payload JSONB NOT NULL,
		dedup_hash CHAR(64) NOT NULL,
		status VARCHAR(16) NOT NULL DEFAULT 'new',
		case_id UUID
	);
	CREATE INDEX IF NOT EXISTS idx_alerts_dedup ON alerts(dedup_hash);

	CREATE TABLE IF NOT EXISTS cases (
		id UUID PRIMARY KEY,
		title TEXT NOT NULL,
		type VARCHAR(16) NOT NULL,
		severity VARCHAR(16) NOT NULL,
		status VARCHAR(16) NOT NULL,
		score INT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_cases_open_title
		ON cases(title) WHERE status = 'open';

	CREATE TABLE IF NOT EXISTS artifacts (
		id UUID PRIMARY KEY,
		case_id UUID NOT NULL,
		type VARCHAR(16) NOT NULL,
		value TEXT NOT NULL,
		first_seen TIMESTAMPTZ NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_artifacts_case ON artifacts(case_id);

	CREATE TABLE IF NOT EXISTS timeline_events (
		id UUID PRIMARY KEY,
		case_id UUID NOT NULL,
		ts TIMESTAMPTZ NOT NULL,
		event_type VARCHAR(24) NOT NULL,
		message TEXT NOT NULL,
		details JSONB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_timeline_case_ts ON timeline_events(case_id, ts);
	CREATE INDEX IF NOT EXISTS idx_timeline_type_ts ON timeline_events(event_type, ts DESC);

	CREATE TABLE IF NOT EXISTS actions (
		id UUID PRIMARY KEY,
		case_id UUID NOT NULL,
		action_type VARCHAR(24) NOT NULL,
		params JSONB NOT NULL,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ,
		success BOOLEAN,
		result JSONB NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_actions_case ON actions(case_id);

	CREATE TABLE IF NOT EXISTS tickets (
		id UUID PRIMARY KEY,
		case_id UUID NOT NULL,
		external_ref TEXT,
		summary TEXT NOT NULL,
		status VARCHAR(16) NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	);

	CREATE TABLE IF NOT EXISTS user_login_state (
		username TEXT PRIMARY KEY,
		ip TEXT NOT NULL DEFAULT '',
		country TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL DEFAULT '',
		lat DOUBLE PRECISION,
		lon DOUBLE PRECISION,
		ts TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);`

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("init schema: %w", err)
	}
	return nil
}

func marshalDoc(d models.Document) ([]byte, error) {
	if d == nil {
		d = models.Document{}
	}
	return json.Marshal(d)
}

func unmarshalDoc(raw []byte) models.Document {
	d := models.Document{}
	_ = json.Unmarshal(raw, &d)
	return d
}

// isUniqueViolation reports whether err is Postgres error 23505.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// ---- alerts ----

func (s *PostgresStore) InsertAlert(ctx context.Context, a *models.Alert) error {
	payload, err := marshalDoc(a.RawPayload)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO alerts (id, source, received_at, raw_payload, dedup_hash, status, case_id)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.Source, a.ReceivedAt, payload, a.DedupHash, a.Status, a.CaseID)
	if err != nil {
		return fmt.Errorf("insert alert: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAlert(ctx context.Context, id uuid.UUID) (*models.Alert, error) {
	var (
		a       models.Alert
		payload []byte
		caseID  sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, source, received_at, raw_payload, dedup_hash, status, case_id
		 FROM alerts WHERE id = $1`, id).
		Scan(&a.ID, &a.Source, &a.ReceivedAt, &payload, &a.DedupHash, &a.Status, &caseID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get alert: %w", err)
	}
	a.RawPayload = unmarshalDoc(payload)
	if caseID.Valid {
		cid, err := uuid.Parse(caseID.String)
		if err == nil {
			a.CaseID = &cid
		}
	}
	return &a, nil
}

func (s *PostgresStore) BindAlert(ctx context.Context, alertID, caseID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE alerts SET case_id = $2, status = $3 WHERE id = $1`,
		alertID, caseID, models.AlertStatusProcessed)
	if err != nil {
		return fmt.Errorf("bind alert: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ---- cases ----

func (s *PostgresStore) InsertCase(ctx context.Context, c *models.Case) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cases (id, title, type, severity, status, score, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		c.ID, c.Title, c.Type, c.Severity, c.Status, c.Score, c.CreatedAt, c.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrDuplicateOpenCase
	}
	if err != nil {
		return fmt.Errorf("insert case: %w", err)
	}
	return nil
}

func (s *PostgresStore) scanCase(row *sql.Row) (*models.Case, error) {
	var c models.Case
	err := row.Scan(&c.ID, &c.Title, &c.Type, &c.Severity, &c.Status, &c.Score, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan case: %w", err)
	}
	return &c, nil
}

func (s *PostgresStore) GetCase(ctx context.Context, id uuid.UUID) (*models.Case, error) {
	return s.scanCase(s.db.QueryRowContext(ctx,
		`SELECT id, title, type, severity, status, score, created_at, updated_at
		 FROM cases WHERE id = $1`, id))
}

func (s *PostgresStore) FindOpenCaseByTitle(ctx context.Context, title string) (*models.Case, error) {
	return s.scanCase(s.db.QueryRowContext(ctx,
		`SELECT id, title, type, severity, status, score, created_at, updated_at
		 FROM cases WHERE status = 'open' AND title = $1`, title))
}

func (s *PostgresStore) UpdateCaseScore(ctx context.Context, id uuid.UUID, score int, severity models.Severity, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE cases SET score = $2, severity = $3, updated_at = $4 WHERE id = $1`,
		id, score, severity, at)
	if err != nil {
		return fmt.Errorf("update case score: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) UpdateCaseStatus(ctx context.Context, id uuid.UUID, status string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE cases SET status = $2, updated_at = $3 WHERE id = $1`,
		id, status, at)
	if err != nil {
		return fmt.Errorf("update case status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListCases(ctx context.Context, f CaseFilter) ([]models.Case, error) {
	q := `SELECT id, title, type, severity, status, score, created_at, updated_at FROM cases WHERE 1=1`
	args := []interface{}{}
	if f.Status != "" {
		args = append(args, f.Status)
		q += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if f.Type != "" {
		args = append(args, f.Type)
		q += fmt.Sprintf(" AND type = $%d", len(args))
	}
	if f.Severity != "" {
		args = append(args, f.Severity)
		q += fmt.Sprintf(" AND severity = $%d", len(args))
	}
	q += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	defer rows.Close()

	var out []models.Case
	for rows.Next() {
		var c models.Case
		if err := rows.Scan(&c.ID, &c.Title, &c.Type, &c.Severity, &c.Status, &c.Score, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ---- artifacts ----

func (s *PostgresStore) InsertArtifact(ctx context.Context, a *models.Artifact) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO artifacts (id, case_id, type, value, first_seen) VALUES ($1, $2, $3, $4, $5)`,
		a.ID, a.CaseID, a.Type, a.Value, a.FirstSeen)
	if err != nil {
		return fmt.Errorf("insert artifact: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListArtifacts(ctx context.Context, caseID uuid.UUID) ([]models.Artifact, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, case_id, type, value, first_seen FROM artifacts WHERE case_id = $1 ORDER BY first_seen`, caseID)
	if err != nil {
		return nil, fmt.Errorf("list artifacts: %w", err)
	}
	defer rows.Close()

	var out []models.Artifact
	for rows.Next() {
		var a models.Artifact
		if err := rows.Scan(&a.ID, &a.CaseID, &a.Type, &a.Value, &a.FirstSeen); err != nil {
			return nil, fmt.Errorf("scan artifact: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ---- timeline ----

func (s *PostgresStore) InsertTimelineEvent(ctx context.Context, ev *models.TimelineEvent) error {
	details, err := marshalDoc(ev.Details)
	if err != nil {
		return fmt.Errorf("marshal details: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO timeline_events (id, case_id, ts, event_type, message, details)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.ID, ev.CaseID, ev.TS, ev.EventType, ev.Message, details)
	if err != nil {
		return fmt.Errorf("insert timeline event: %w", err)
	}
	return nil
}

func (s *PostgresStore) scanEvents(rows *sql.Rows) ([]models.TimelineEvent, error) {
	defer rows.Close()
	var out []models.TimelineEvent
	for rows.Next() {
		var (
			ev      models.TimelineEvent
			details []byte
		)
		if err := rows.Scan(&ev.ID, &ev.CaseID, &ev.TS, &ev.EventType, &ev.Message, &details); err != nil {
			return nil, fmt.Errorf("scan timeline event: %w", err)
		}
		ev.Details = unmarshalDoc(details)
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListTimeline(ctx context.Context, caseID uuid.UUID) ([]models.TimelineEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, case_id, ts, event_type, message, details
		 FROM timeline_events WHERE case_id = $1 ORDER BY ts`, caseID)
	if err != nil {
		return nil, fmt.Errorf("list timeline: %w", err)
	}
	return s.scanEvents(rows)
}

func (s *PostgresStore) RecentLoginContexts(ctx context.Context, limit int) ([]models.TimelineEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, case_id, ts, event_type, message, details
		 FROM timeline_events WHERE event_type = $1 ORDER BY ts DESC LIMIT $2`,
		models.EventLoginContext, limit)
	if err != nil {
		return nil, fmt.Errorf("recent login contexts: %w", err)
	}
	return s.scanEvents(rows)
}

// ---- actions ----

func (s *PostgresStore) InsertAction(ctx context.Context, a *models.Action) error {
	params, err := marshalDoc(a.Params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}
	result, err := marshalDoc(a.Result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO actions (id, case_id, action_type, params, started_at, finished_at, success, result)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.CaseID, a.ActionType, params, a.StartedAt, a.FinishedAt, a.Success, result)
	if err != nil {
		return fmt.Errorf("insert action: %w", err)
	}
	return nil
}

func (s *PostgresStore) FinishAction(ctx context.Context, id uuid.UUID, success bool, result models.Document, at time.Time) error {
	blob, err := marshalDoc(result)
	if err != nil {
		return fmt.Errorf("marshal result: %w", err)
	}
	// finished_at IS NULL keeps the terminal update one-shot.
	res, err := s.db.ExecContext(ctx,
		`UPDATE actions SET finished_at = $2, success = $3, result = $4
		 WHERE id = $1 AND finished_at IS NULL`,
		id, at, success, blob)
	if err != nil {
		return fmt.Errorf("finish action: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ListActions(ctx context.Context, caseID uuid.UUID) ([]models.Action, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, case_id, action_type, params, started_at, finished_at, success, result
		 FROM actions WHERE case_id = $1 ORDER BY started_at`, caseID)
	if err != nil {
		return nil, fmt.Errorf("list actions: %w", err)
	}
	defer rows.Close()

	var out []models.Action
	for rows.Next() {
		var (
			a              models.Action
			params, result []byte
			finishedAt     sql.NullTime
			success        sql.NullBool
		)
		if err := rows.Scan(&a.ID, &a.CaseID, &a.ActionType, &params, &a.StartedAt, &finishedAt, &success, &result); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		a.Params = unmarshalDoc(params)
		a.Result = unmarshalDoc(result)
		if finishedAt.Valid {
			t := finishedAt.Time
			a.FinishedAt = &t
		}
		if success.Valid {
			b := success.Bool
			a.Success = &b
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ---- tickets ----

func (s *PostgresStore) InsertTicket(ctx context.Context, t *models.Ticket) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tickets (id, case_id, external_ref, summary, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		t.ID, t.CaseID, t.ExternalRef, t.Summary, t.Status, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert ticket: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTicket(ctx context.Context, id uuid.UUID) (*models.Ticket, error) {
	var (
		t   models.Ticket
		ref sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, case_id, external_ref, summary, status, created_at FROM tickets WHERE id = $1`, id).
		Scan(&t.ID, &t.CaseID, &ref, &t.Summary, &t.Status, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get ticket: %w", err)
	}
	if ref.Valid {
		t.ExternalRef = &ref.String
	}
	return &t, nil
}

func (s *PostgresStore) ListTickets(ctx context.Context, caseID uuid.UUID) ([]models.Ticket, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, case_id, external_ref, summary, status, created_at
		 FROM tickets WHERE case_id = $1 ORDER BY created_at`, caseID)
	if err != nil {
		return nil, fmt.Errorf("list tickets: %w", err)
	}
	defer rows.Close()

	var out []models.Ticket
	for rows.Next() {
		var (
			t   models.Ticket
			ref sql.NullString
		)
		if err := rows.Scan(&t.ID, &t.CaseID, &ref, &t.Summary, &t.Status, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ticket: %w", err)
		}
		if ref.Valid {
			t.ExternalRef = &ref.String
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ---- login state ----

func (s *PostgresStore) GetLoginState(ctx context.Context, user string) (*models.LoginState, error) {
	var (
		st       models.LoginState
		lat, lon sql.NullFloat64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT username, ip, country, city, lat, lon, ts, updated_at
		 FROM user_login_state WHERE username = $1`, user).
		Scan(&st.User, &st.IP, &st.Country, &st.City, &lat, &lon, &st.TS, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get login state: %w", err)
	}
	if lat.Valid {
		st.Lat = &lat.Float64
	}
	if lon.Valid {
		st.Lon = &lon.Float64
	}
	return &st, nil
}

func (s *PostgresStore) UpsertLoginState(ctx context.Context, st *models.LoginState) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user_login_state (username, ip, country, city, lat, lon, ts, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 ON CONFLICT (username) DO UPDATE SET
		   ip = EXCLUDED.ip, country = EXCLUDED.country, city = EXCLUDED.city,
		   lat = EXCLUDED.lat, lon = EXCLUDED.lon, ts = EXCLUDED.ts,
		   updated_at = EXCLUDED.updated_at`,
		st.User, st.IP, st.Country, st.City, st.Lat, st.Lon, st.TS, st.UpdatedAt)
	if err != nil {
		return fmt.Errorf("upsert login state: %w", err)
	}
	return nil
}

// ---- stats ----

func (s *PostgresStore) CaseStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{
		ByStatus:   map[string]int{},
		ByType:     map[string]int{},
		BySeverity: map[string]int{},
	}

	rows, err := s.db.QueryContext(ctx, `SELECT status, type, severity, COUNT(*) FROM cases GROUP BY status, type, severity`)
	if err != nil {
		return nil, fmt.Errorf("case stats: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status, typ, severity string
			n                     int
		)
		if err := rows.Scan(&status, &typ, &severity, &n); err != nil {
			return nil, fmt.Errorf("scan stats: %w", err)
		}
		stats.TotalCases += n
		stats.ByStatus[status] += n
		stats.ByType[typ] += n
		stats.BySeverity[severity] += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	latest, err := s.ListCases(ctx, CaseFilter{Limit: 10})
	if err != nil {
		return nil, err
	}
	stats.LatestCases = latest
	return stats, nil
}
