package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/fire-routing/backend/internal/models"
	"github.com/fire-routing/backend/internal/utils"
)

// Eligibility is the outcome of the rule ladder: a rank-ordered candidate
// list (head first, the rest are alternates), the rotation key whose cursor
// breaks ties, and the audit fields.
type Eligibility struct {
	Candidates   []Candidate
	RotationKey  string
	ReasonCode   string
	Reason       string
	FallbackUsed bool
	Trace        []RuleStep
}

// skillRequirement captures the additive business rules: VIP/Priority tickets
// need the VIP pool, data-change tickets need a chief specialist, non-Russian
// tickets need the matching language skill.
type skillRequirement struct {
	skills    []string
	needChief bool
}

func (r skillRequirement) empty() bool {
	return len(r.skills) == 0 && !r.needChief
}

func requiredSkills(t models.Ticket, an models.TicketAnalytics) skillRequirement {
	var req skillRequirement
	if t.RequiresVIPHandling() {
		req.skills = append(req.skills, "VIP")
	}
	if an.Type == models.TypeDataChange {
		req.needChief = true
	}
	switch strings.ToUpper(strings.TrimSpace(an.Language)) {
	case "KZ":
		req.skills = append(req.skills, "KZ")
	case "ENG":
		req.skills = append(req.skills, "ENG")
	}
	return req
}

func satisfies(m models.Manager, req skillRequirement) bool {
	for _, s := range req.skills {
		if !m.HasSkill(s) {
			return false
		}
	}
	if req.needChief && !m.IsChiefSpecialist() {
		return false
	}
	return true
}

// BuildCandidates evaluates the rule ladder for one ticket. Levels narrow in
// strict order (geo match, then segment/skill pool, then load tie-break); a
// level that would empty the set falls through to the wider set instead of
// failing.
// The returned candidate list is empty only when no active manager exists.
func BuildCandidates(t models.Ticket, an models.TicketAnalytics, offices []models.Office, managers []models.Manager, params Params) Eligibility {
	var elig Eligibility

	active := make([]models.Manager, 0, len(managers))
	for _, m := range managers {
		if m.Active {
			active = append(active, m)
		}
	}
	elig.Trace = append(elig.Trace, RuleStep{Code: "active-managers", Candidates: len(active)})
	if len(active) == 0 {
		return elig
	}

	officeByID := make(map[int64]models.Office, len(offices))
	for _, o := range offices {
		officeByID[o.ID] = o
	}

	distanceTo := func(o models.Office) *float64 {
		if !t.HasCoordinates() || !o.HasLocation() {
			return nil
		}
		d := utils.HaversineKm(*t.Lat, *t.Lon, *o.Lat, *o.Lon)
		return &d
	}

	toCandidates := func(ms []models.Manager) []Candidate {
		out := make([]Candidate, 0, len(ms))
		for _, m := range ms {
			o := officeByID[m.OfficeID]
			out = append(out, Candidate{Manager: m, Office: o, DistanceKm: distanceTo(o)})
		}
		return out
	}

	// Level 1: geo match. Restrict to offices within the service radius,
	// nearest first. An empty result falls through to the full active set.
	hasGeo := t.HasCoordinates()
	var pool []Candidate
	geoPinned := false
	if hasGeo {
		for _, c := range toCandidates(active) {
			if c.DistanceKm != nil && *c.DistanceKm <= params.MaxServiceRadiusKm {
				pool = append(pool, c)
			}
		}
		elig.Trace = append(elig.Trace, RuleStep{Code: ReasonGeoMatch, Candidates: len(pool)})
		geoPinned = len(pool) > 0
	}
	geoExhausted := hasGeo && !geoPinned
	if len(pool) == 0 {
		pool = toCandidates(active)
	}

	// Level 2: segment pool and additive skill/position rules. A zero-member
	// pool falls through to the general pool, relaxing skills before position.
	req := requiredSkills(t, an)
	poolPinned := false
	poolExhausted := false
	if !req.empty() {
		narrowed := filterCandidates(pool, func(c Candidate) bool { return satisfies(c.Manager, req) })
		elig.Trace = append(elig.Trace, RuleStep{Code: ReasonSegmentPool, Candidates: len(narrowed)})
		if len(narrowed) > 0 {
			pool = narrowed
			poolPinned = true
		} else if geoPinned {
			// Widen beyond the geo set before giving up on the requirement.
			widened := filterCandidates(toCandidates(active), func(c Candidate) bool { return satisfies(c.Manager, req) })
			elig.Trace = append(elig.Trace, RuleStep{Code: ReasonSegmentPool, Candidates: len(widened), Note: "widened to all offices"})
			if len(widened) > 0 {
				pool = widened
				poolPinned = true
				geoPinned = false
			} else {
				pool, poolExhausted = relaxRequirement(pool, req, &elig)
			}
		} else {
			pool, poolExhausted = relaxRequirement(pool, req, &elig)
		}
	}

	// Level 3: load-balance tie-break. Nearest office first, then least
	// loaded, then lowest id for determinism; the rotation cursor picks among
	// candidates tied with the head.
	sort.SliceStable(pool, func(i, j int) bool {
		di, dj := pool[i].DistanceKm, pool[j].DistanceKm
		switch {
		case di != nil && dj != nil && *di != *dj:
			return *di < *dj
		case di != nil && dj == nil:
			return true
		case di == nil && dj != nil:
			return false
		}
		if pool[i].Manager.CurrentLoad != pool[j].Manager.CurrentLoad {
			return pool[i].Manager.CurrentLoad < pool[j].Manager.CurrentLoad
		}
		return pool[i].Manager.ID < pool[j].Manager.ID
	})
	elig.Trace = append(elig.Trace, RuleStep{Code: ReasonLoadBalance, Candidates: len(pool)})

	elig.Candidates = pool

	segPool := "general"
	if poolPinned && t.RequiresVIPHandling() {
		segPool = "vip"
	}

	switch {
	case poolExhausted:
		elig.ReasonCode = ReasonFallbackNoPool
		elig.Reason = "no manager pool satisfies the segment/skill requirements; relaxed to general rotation"
		elig.FallbackUsed = true
	case geoExhausted:
		elig.ReasonCode = ReasonFallbackOfficeExhausted
		elig.Reason = fmt.Sprintf("no office within %.0f km service radius; rotating across all offices", params.MaxServiceRadiusKm)
		elig.FallbackUsed = true
	case !hasGeo && !poolPinned:
		elig.ReasonCode = ReasonFallbackNoGeo
		elig.Reason = "no geo match; rotating across all active managers"
		elig.FallbackUsed = true
	case poolPinned:
		// Takes precedence over geo-match: the segment/skill level made the
		// final cut even when a geo level narrowed first.
		elig.ReasonCode = ReasonSegmentPool
		elig.Reason = fmt.Sprintf("%s segment pool (%d managers)", t.Segment, len(pool))
	case geoPinned:
		elig.ReasonCode = ReasonGeoMatch
		head := pool[0]
		if head.DistanceKm != nil {
			elig.Reason = fmt.Sprintf("nearest office: %s (%.1f km)", head.Office.Name, *head.DistanceKm)
		} else {
			elig.Reason = fmt.Sprintf("nearest office: %s", head.Office.Name)
		}
	default:
		elig.ReasonCode = ReasonLoadBalance
		elig.Reason = "load-balanced rotation"
	}

	// Office-scoped keys only when the geo level pinned an office set; a
	// cross-office pool rotates under the fallback key so the key does not
	// drift with the sort order.
	if elig.FallbackUsed || !geoPinned {
		elig.RotationKey = fmt.Sprintf("fallback|seg-%s", segPool)
	} else {
		elig.RotationKey = fmt.Sprintf("office-%d|seg-%s", pool[0].Office.ID, segPool)
	}
	return elig
}

// relaxRequirement is the last resort before fallback rotation: drop the
// skill requirements but keep the position rule when one applies.
func relaxRequirement(pool []Candidate, req skillRequirement, elig *Eligibility) ([]Candidate, bool) {
	if req.needChief {
		chiefs := filterCandidates(pool, func(c Candidate) bool { return c.Manager.IsChiefSpecialist() })
		elig.Trace = append(elig.Trace, RuleStep{Code: ReasonFallbackNoPool, Candidates: len(chiefs), Note: "relaxed skills, kept position"})
		if len(chiefs) > 0 {
			return chiefs, true
		}
	}
	elig.Trace = append(elig.Trace, RuleStep{Code: ReasonFallbackNoPool, Candidates: len(pool), Note: "relaxed all requirements"})
	return pool, true
}

func filterCandidates(in []Candidate, keep func(Candidate) bool) []Candidate {
	out := make([]Candidate, 0, len(in))
	for _, c := range in {
		if keep(c) {
			out = append(out, c)
		}
	}
	return out
}
