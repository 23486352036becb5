// Package score turns extracted and enriched observables into a 0-100 risk
// score with reason tags. Scorers are pure functions over their inputs.
package score

import (
	"github.com/soarkit/backend/internal/models"
)

// Result carries the clamped score, the reason tags in the order awarded,
// and the details document recorded on the score timeline event.
type Result struct {
	Score   int
	Reasons []string
	Details models.Document
}

// Severity maps the score onto the case severity bands.
func (r Result) Severity() models.Severity {
	return models.SeverityFromScore(r.Score)
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
