package score

import (
	"math"
	"sort"
	"time"

	"github.com/soarkit/backend/internal/enrich"
	"github.com/soarkit/backend/internal/extract"
	"github.com/soarkit/backend/internal/models"
)

const (
	// A series is periodic when its coefficient of variation stays under
	// this bound and the mean interval is at most ten minutes.
	periodicityCVMax      = 0.15
	periodicityMeanMaxSec = 600.0
	periodicityPoints     = 40
)

// periodicity inspects the payload for beaconing cadence. Precedence:
// explicit periodic flag, then intervals (>=4 numbers), then timestamps
// (>=5 parseable instants).
func periodicity(payload models.Document) (int, models.Document) {
	p := models.ParseBeacon(payload)

	if p.Periodic != nil && *p.Periodic {
		return periodicityPoints, models.Document{"method": "flag", "periodic": true}
	}

	if len(p.Intervals) >= 4 {
		mean, cv := meanCV(p.Intervals)
		periodic := cv < periodicityCVMax && mean <= periodicityMeanMaxSec
		pts := 0
		if periodic {
			pts = periodicityPoints
		}
		return pts, models.Document{"method": "intervals", "mean": mean, "cv": cv, "periodic": periodic}
	}

	if len(p.Timestamps) >= 5 {
		var instants []time.Time
		for _, s := range p.Timestamps {
			if t := models.ParseTimestamp(s); !t.IsZero() {
				instants = append(instants, t)
			}
		}
		if len(instants) >= 5 {
			sort.Slice(instants, func(i, j int) bool { return instants[i].Before(instants[j]) })
			intervals := make([]float64, 0, len(instants)-1)
			for i := 1; i < len(instants); i++ {
				intervals = append(intervals, instants[i].Sub(instants[i-1]).Seconds())
			}
			mean, cv := meanCV(intervals)
			periodic := cv < periodicityCVMax && mean <= periodicityMeanMaxSec
			pts := 0
			if periodic {
				pts = periodicityPoints
			}
			return pts, models.Document{"method": "timestamps", "mean": mean, "cv": cv, "periodic": periodic}
		}
	}

	return 0, models.Document{"method": "none", "periodic": false}
}

// meanCV returns the mean and the population coefficient of variation. A
// non-positive mean maps to a sentinel CV that never passes the bound.
func meanCV(vals []float64) (float64, float64) {
	mean := 0.0
	for _, v := range vals {
		mean += v
	}
	mean /= float64(len(vals))

	variance := 0.0
	for _, v := range vals {
		variance += (v - mean) * (v - mean)
	}
	variance /= float64(len(vals))

	if mean <= 0 {
		return mean, 999.0
	}
	return mean, math.Sqrt(variance) / mean
}

// Beacon scores a network alert. rdap maps the destination domain to its
// RDAP result document.
func Beacon(payload models.Document, ex extract.Beacon, rdap map[string]models.Document) Result {
	score := 0
	reasons := []string{}

	pts, periodicityDetails := periodicity(payload)
	if pts > 0 {
		score += pts
		reasons = append(reasons, "periodicity_detected")
	}

	var domain interface{}
	if len(ex.Domains) > 0 {
		d := ex.Domains[0]
		domain = d
		if age, ok := enrich.DomainAgeDays(rdap[d]); ok && age >= 0 && age < 30 {
			score += 20
			reasons = append(reasons, "domain_age_lt_30d")
		}
	}

	if len(ex.Hosts) >= 3 {
		score += 40
		reasons = append(reasons, "multi_host_beacon")
	}

	var dstIP interface{}
	if len(ex.IPs) > 0 {
		dstIP = ex.IPs[0]
	}

	score = clamp(score)
	return Result{
		Score:   score,
		Reasons: reasons,
		Details: models.Document{
			"score":       score,
			"reasons":     reasons,
			"domain":      domain,
			"dst_ip":      dstIP,
			"hosts_count": len(ex.Hosts),
			"periodicity": periodicityDetails,
		},
	}
}
