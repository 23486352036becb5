package score

import (
	"math"
	"time"

	"github.com/soarkit/backend/internal/models"
)

// impossibleTravelKmh is the speed above which two consecutive logins from
// distinct coordinates cannot belong to the same traveler.
const impossibleTravelKmh = 900.0

// LoginContext is the previous login state used for correlation. Lat and
// Lon are nil when the earlier event carried no coordinates.
type LoginContext struct {
	Country string
	TS      time.Time
	Lat     *float64
	Lon     *float64
}

// haversineKm is the great-circle distance between two coordinates.
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const r = 6371.0
	p := math.Pi / 180.0
	dlat := (lat2 - lat1) * p
	dlon := (lon2 - lon1) * p
	a := math.Pow(math.Sin(dlat/2), 2) +
		math.Cos(lat1*p)*math.Cos(lat2*p)*math.Pow(math.Sin(dlon/2), 2)
	return 2 * r * math.Asin(math.Sqrt(a))
}

// Login scores an auth alert. user, ip and country are the extracted
// (normalized) values; prev is the user's previous login context; badIP
// consults the IP threat feed; now anchors travel-speed math when the
// payload carries no timestamp.
func Login(payload models.Document, user, ip, country string, success bool, prev *LoginContext, badIP func(string) bool, now time.Time) Result {
	score := 0
	reasons := []string{}

	p := models.ParseLogin(payload)

	if success && country != "" && prev != nil && prev.Country != "" && country != prev.Country {
		score += 30
		reasons = append(reasons, "new_country_success")
	}

	if prev != nil && !prev.TS.IsZero() && p.Lat != nil && p.Lon != nil && prev.Lat != nil && prev.Lon != nil {
		ts := models.ParseTimestamp(p.TS)
		if ts.IsZero() {
			ts = now
		}
		hours := math.Max(0.001, ts.Sub(prev.TS).Hours())
		dist := haversineKm(*prev.Lat, *prev.Lon, *p.Lat, *p.Lon)
		if dist/hours > impossibleTravelKmh {
			score += 40
			reasons = append(reasons, "impossible_travel")
		}
	}

	if ip != "" && badIP != nil && badIP(ip) {
		score += 30
		reasons = append(reasons, "ip_reputation_bad")
	}

	if p.MFAFatigue {
		score += 25
		reasons = append(reasons, "mfa_fatigue_signals")
	}

	score = clamp(score)

	prevCtx := models.Document{"country": nil, "ts": nil}
	if prev != nil {
		if prev.Country != "" {
			prevCtx["country"] = prev.Country
		}
		if !prev.TS.IsZero() {
			prevCtx["ts"] = prev.TS.UTC().Format(time.RFC3339)
		}
	}

	return Result{
		Score:   score,
		Reasons: reasons,
		Details: models.Document{
			"score":        score,
			"reasons":      reasons,
			"user":         user,
			"ip":           ip,
			"country":      country,
			"success":      success,
			"prev_context": prevCtx,
		},
	}
}
