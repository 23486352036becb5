package report

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soarkit/backend/internal/models"
	"github.com/soarkit/backend/internal/store"
)

func seedCase(t *testing.T, st *store.MemoryStore) *models.Case {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)

	c := &models.Case{
		ID: uuid.New(), Title: "hash", Type: models.CasePhishing,
		Severity: models.SeverityHigh, Status: models.CaseStatusClosed,
		Score: 65, CreatedAt: now, UpdatedAt: now,
	}
	require.NoError(t, st.InsertCase(ctx, c))

	for _, a := range []struct {
		typ   models.ArtifactType
		value string
	}{
		{models.ArtifactURL, "https://evil.example/login"},
		{models.ArtifactDomain, "evil.example"},
		{models.ArtifactEmail, "lure@evil.example"},
	} {
		require.NoError(t, st.InsertArtifact(ctx, &models.Artifact{
			ID: uuid.New(), CaseID: c.ID, Type: a.typ, Value: a.value, FirstSeen: now,
		}))
	}

	require.NoError(t, st.InsertTimelineEvent(ctx, &models.TimelineEvent{
		ID: uuid.New(), CaseID: c.ID, TS: now, EventType: models.EventIngest,
		Message: "case created", Details: models.Document{"created": true},
	}))

	action := &models.Action{
		ID: uuid.New(), CaseID: c.ID, ActionType: models.ActionBlockDomain,
		Params: models.Document{"domain": "evil.example"}, StartedAt: now,
		Result: models.Document{},
	}
	require.NoError(t, st.InsertAction(ctx, action))
	require.NoError(t, st.FinishAction(ctx, action.ID, true, models.Document{"updated": true}, now.Add(time.Second)))

	require.NoError(t, st.InsertTicket(ctx, &models.Ticket{
		ID: uuid.New(), CaseID: c.ID, Summary: "[HIGH] review", Status: "open", CreatedAt: now,
	}))

	return c
}

func TestBuildReport(t *testing.T) {
	st := store.NewMemoryStore()
	c := seedCase(t, st)
	dir := t.TempDir()

	out, err := NewBuilder(st, dir, false).Build(context.Background(), c.ID)
	require.NoError(t, err)

	assert.Equal(t, 3, out.ArtifactCount)
	assert.Equal(t, 1, out.ActionCount)
	assert.Equal(t, 1, out.TimelineCount)
	assert.Equal(t, 1, out.TicketCount)
	assert.Equal(t, filepath.Join(dir, "case_"+c.ID.String()+".md"), out.MarkdownPath)
	assert.Empty(t, out.PDFPath)

	written, err := os.ReadFile(out.MarkdownPath)
	require.NoError(t, err)
	assert.Equal(t, out.Markdown, string(written))

	md := out.Markdown
	assert.True(t, strings.HasPrefix(md, "# Incident Report — Case "+c.ID.String()))
	for _, section := range []string{"## Summary", "## Indicators / Artifacts", "## Actions", "## Tickets", "## Timeline"} {
		assert.Contains(t, md, section)
	}
	assert.Contains(t, md, "- **Severity:** high")
	assert.Contains(t, md, "- **Score:** 65")

	// Each artifact value appears exactly once per type section.
	assert.Equal(t, 1, strings.Count(md, "- `https://evil.example/login`"))
	assert.Equal(t, 1, strings.Count(md, "- `lure@evil.example`"))
	assert.Contains(t, md, "### domain")
	assert.Contains(t, md, "### url")
	assert.Contains(t, md, "### email")

	assert.Contains(t, md, "- **block_domain** | success=true")
	assert.Contains(t, md, "status=open")
	assert.Contains(t, md, "**ingest** — case created")
	assert.True(t, strings.HasSuffix(md, "\n"))
}

func TestBuildReportEmptySections(t *testing.T) {
	st := store.NewMemoryStore()
	c := &models.Case{
		ID: uuid.New(), Title: "h", Type: models.CaseBeacon,
		Severity: models.SeverityLow, Status: models.CaseStatusOpen,
		CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
	}
	require.NoError(t, st.InsertCase(context.Background(), c))

	out, err := NewBuilder(st, t.TempDir(), false).Build(context.Background(), c.ID)
	require.NoError(t, err)

	assert.Contains(t, out.Markdown, "_No artifacts recorded._")
	assert.Contains(t, out.Markdown, "_No actions executed._")
	assert.Contains(t, out.Markdown, "_No tickets created._")
	assert.Contains(t, out.Markdown, "_No timeline events._")
}

func TestBuildReportWithPDF(t *testing.T) {
	st := store.NewMemoryStore()
	c := seedCase(t, st)
	dir := t.TempDir()

	out, err := NewBuilder(st, dir, true).Build(context.Background(), c.ID)
	require.NoError(t, err)
	require.NotEmpty(t, out.PDFPath)

	fi, err := os.Stat(out.PDFPath)
	require.NoError(t, err)
	assert.Greater(t, fi.Size(), int64(0))
}

func TestBuildReportCaseNotFound(t *testing.T) {
	_, err := NewBuilder(store.NewMemoryStore(), t.TempDir(), false).Build(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}
