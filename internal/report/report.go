// Package report renders incident reports for closed cases: a markdown
// file at <dir>/case_<id>.md and, when enabled, a plain-text PDF rendering
// of the same content.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/google/uuid"

	"github.com/soarkit/backend/internal/models"
	"github.com/soarkit/backend/internal/store"
)

// Builder renders and writes incident reports.
type Builder struct {
	store       store.Store
	dir         string
	generatePDF bool
}

// NewBuilder writes reports under dir; generatePDF also emits a PDF copy.
func NewBuilder(st store.Store, dir string, generatePDF bool) *Builder {
	return &Builder{store: st, dir: dir, generatePDF: generatePDF}
}

// Output describes a rendered report.
type Output struct {
	Markdown      string `json:"-"`
	MarkdownPath  string `json:"markdown_path"`
	PDFPath       string `json:"pdf_path,omitempty"`
	ArtifactCount int    `json:"artifacts_count"`
	ActionCount   int    `json:"actions_count"`
	TimelineCount int    `json:"timeline_count"`
	TicketCount   int    `json:"tickets_count"`
}

// Build renders the markdown report and writes it (and optionally the PDF)
// to the report directory.
func (b *Builder) Build(ctx context.Context, caseID uuid.UUID) (*Output, error) {
	c, err := b.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	artifacts, err := b.store.ListArtifacts(ctx, caseID)
	if err != nil {
		return nil, err
	}
	timeline, err := b.store.ListTimeline(ctx, caseID)
	if err != nil {
		return nil, err
	}
	actions, err := b.store.ListActions(ctx, caseID)
	if err != nil {
		return nil, err
	}
	tickets, err := b.store.ListTickets(ctx, caseID)
	if err != nil {
		return nil, err
	}

	md := render(c, artifacts, timeline, actions, tickets)

	out := &Output{
		Markdown:      md,
		ArtifactCount: len(artifacts),
		ActionCount:   len(actions),
		TimelineCount: len(timeline),
		TicketCount:   len(tickets),
	}

	if err := os.MkdirAll(b.dir, 0o755); err != nil {
		return nil, err
	}
	out.MarkdownPath = filepath.Join(b.dir, fmt.Sprintf("case_%s.md", caseID))
	if err := os.WriteFile(out.MarkdownPath, []byte(md), 0o644); err != nil {
		return nil, err
	}

	if b.generatePDF {
		out.PDFPath = filepath.Join(b.dir, fmt.Sprintf("case_%s.pdf", caseID))
		if err := writePDF(md, out.PDFPath); err != nil {
			return nil, err
		}
	}

	return out, nil
}

func ts(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func tsPtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return ts(*t)
}

func compact(doc models.Document) string {
	if len(doc) == 0 {
		return ""
	}
	blob, err := json.Marshal(doc)
	if err != nil {
		return ""
	}
	return string(blob)
}

func render(c *models.Case, artifacts []models.Artifact, timeline []models.TimelineEvent, actions []models.Action, tickets []models.Ticket) string {
	var md []string
	add := func(lines ...string) { md = append(md, lines...) }

	add(fmt.Sprintf("# Incident Report — Case %s", c.ID), "")
	add("## Summary", "")
	add(
		fmt.Sprintf("- **Type:** %s", c.Type),
		fmt.Sprintf("- **Status:** %s", c.Status),
		fmt.Sprintf("- **Severity:** %s", c.Severity),
		fmt.Sprintf("- **Score:** %d", c.Score),
		fmt.Sprintf("- **Created:** %s", ts(c.CreatedAt)),
		fmt.Sprintf("- **Updated:** %s", ts(c.UpdatedAt)),
		"",
	)

	add("## Indicators / Artifacts", "")
	if len(artifacts) == 0 {
		add("_No artifacts recorded._")
	} else {
		byType := map[string][]string{}
		for _, a := range artifacts {
			byType[string(a.Type)] = append(byType[string(a.Type)], a.Value)
		}
		types := make([]string, 0, len(byType))
		for t := range byType {
			types = append(types, t)
		}
		sort.Strings(types)
		for _, t := range types {
			add(fmt.Sprintf("### %s", t))
			for _, v := range sortedUnique(byType[t]) {
				add(fmt.Sprintf("- `%s`", v))
			}
			add("")
		}
	}

	add("## Actions", "")
	if len(actions) == 0 {
		add("_No actions executed._")
	} else {
		for _, a := range actions {
			success := "null"
			if a.Success != nil {
				success = fmt.Sprintf("%t", *a.Success)
			}
			add(fmt.Sprintf("- **%s** | success=%s | started=%s | finished=%s",
				a.ActionType, success, ts(a.StartedAt), tsPtr(a.FinishedAt)))
			if p := compact(a.Params); p != "" {
				add(fmt.Sprintf("  - params: `%s`", p))
			}
			if r := compact(a.Result); r != "" {
				add(fmt.Sprintf("  - result: `%s`", r))
			}
		}
	}
	add("")

	add("## Tickets", "")
	if len(tickets) == 0 {
		add("_No tickets created._")
	} else {
		for _, t := range tickets {
			add(fmt.Sprintf("- **%s** | status=%s | created=%s | summary=%s",
				t.ID, t.Status, ts(t.CreatedAt), t.Summary))
		}
	}
	add("")

	add("## Timeline", "")
	if len(timeline) == 0 {
		add("_No timeline events._")
	} else {
		for _, ev := range timeline {
			add(fmt.Sprintf("- `%s` **%s** — %s", ts(ev.TS), ev.EventType, ev.Message))
			if d := compact(ev.Details); d != "" {
				add(fmt.Sprintf("  - details: `%s`", d))
			}
		}
	}
	add("")

	return strings.TrimSpace(strings.Join(md, "\n")) + "\n"
}

func sortedUnique(in []string) []string {
	set := map[string]struct{}{}
	for _, v := range in {
		set[v] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for v := range set {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// writePDF renders the markdown as wrapped plain text, one page break at a
// time. Not a real markdown renderer; the markdown file is the canonical
// artifact.
func writePDF(markdown, path string) error {
	pdf := fpdf.New("P", "pt", "Letter", "")
	pdf.SetMargins(54, 54, 54)
	pdf.SetAutoPageBreak(true, 54)
	pdf.AddPage()
	pdf.SetFont("Helvetica", "", 10)

	tr := pdf.UnicodeTranslatorFromDescriptor("")
	for _, line := range strings.Split(strings.ReplaceAll(markdown, "\t", "  "), "\n") {
		if line == "" {
			pdf.Ln(12)
			continue
		}
		pdf.MultiCell(0, 12, tr(line), "", "L", false)
	}

	return pdf.OutputFileAndClose(path)
}
