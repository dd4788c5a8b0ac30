package risk

import (
	"fmt"
	"math"
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/kalambet/vitalsignal/internal/geo"
	"github.com/kalambet/vitalsignal/internal/profile"
)

// reason is a reasoning line tied to the contribution it explains.
// Zero-weight reasons are data-gap notes.
type reason struct {
	text   string
	weight float64
}

const (
	ageOlderAdults    = "older adults"
	ageYoungChildren  = "young children"
	defaultSeverityAs = SeveritySporadic
)

func (e *Engine) severity(a Alert) (base float64, defaulted bool) {
	s := Severity(strings.ToLower(strings.TrimSpace(string(a.Severity))))
	if v, ok := e.policy.SeverityBase[s]; ok {
		return v, false
	}
	return e.policy.SeverityBase[defaultSeverityAs], true
}

var countPrinter = message.NewPrinter(language.English)

func severityReason(a Alert, disease string, defaulted bool, score float64) []reason {
	where := a.Location.Name
	if where == "" {
		where = "an unspecified location"
	}
	tier := strings.ToLower(string(a.Severity))
	if defaulted {
		tier = string(defaultSeverityAs)
	}
	text := fmt.Sprintf("%s %s activity reported in %s", capitalize(tier), disease, where)
	if a.AffectedPopulation > 0 {
		text += countPrinter.Sprintf(" (about %d people affected)", a.AffectedPopulation)
	}
	out := []reason{{text: text, weight: score}}
	if defaulted {
		out = append(out, reason{
			text: fmt.Sprintf("Alert severity %q was not recognized; assumed %s", a.Severity, defaultSeverityAs),
		})
	}
	return out
}

type factorMatch struct {
	label     string
	effective float64
}

// vulnerability multiplies matching risk-factor weights into an
// accumulator starting at 1 and maps the capped excess into a sub-score.
func (e *Engine) vulnerability(p profile.Profile, entry Entry, base float64) (float64, []factorMatch) {
	var matches []factorMatch

	usedConditions := make(map[string]bool)
	for _, c := range p.HealthConditions {
		m, ok := matchFactor(entry.Conditions, c.Name, usedConditions)
		if !ok {
			continue
		}
		f, ok := e.policy.ConditionFactor[c.Severity]
		if !ok {
			f = 1
		}
		matches = append(matches, factorMatch{label: strings.ToLower(c.Name), effective: 1 + (m-1)*f})
	}
	usedMeds := make(map[string]bool)
	for _, med := range p.Medications {
		if m, ok := matchFactor(entry.Medications, med, usedMeds); ok {
			matches = append(matches, factorMatch{label: strings.ToLower(med) + " use", effective: m})
		}
	}
	usedAllergies := make(map[string]bool)
	for _, al := range p.Allergies {
		if m, ok := matchFactor(entry.Allergies, al, usedAllergies); ok {
			matches = append(matches, factorMatch{label: strings.ToLower(al) + " allergy", effective: m})
		}
	}
	if group := e.ageGroup(p.Age); group != "" && !usedConditions[group] {
		if m, ok := entry.Conditions[group]; ok {
			matches = append(matches, factorMatch{label: fmt.Sprintf("age (%d)", p.Age), effective: m})
		}
	}

	acc := 1.0
	for _, fm := range matches {
		acc *= fm.effective
	}
	acc = math.Min(acc, e.policy.VulnerabilityCap)
	score := clamp(base*(acc-1)*e.policy.VulnerabilityScale, 0, e.policy.VulnerabilityMax)
	return score, matches
}

// ageGroup maps an age to a knowledge-base pseudo-condition. Age 0
// is treated as unknown.
func (e *Engine) ageGroup(age int) string {
	switch {
	case age <= 0:
		return ""
	case age >= e.policy.OlderAdultAge:
		return ageOlderAdults
	case age < e.policy.YoungChildAge:
		return ageYoungChildren
	}
	return ""
}

// matchFactor finds the longest unused multiplier key equal to or
// contained in term and marks it used. Equal-length keys resolve
// alphabetically.
func matchFactor(multipliers map[string]float64, term string, used map[string]bool) (float64, bool) {
	t := geo.Normalize(term)
	if t == "" {
		return 0, false
	}
	best := ""
	if _, ok := multipliers[t]; ok && !used[t] {
		best = t
	} else {
		for k := range multipliers {
			if used[k] || !containsTerm(t, k) {
				continue
			}
			if len(k) > len(best) || (len(k) == len(best) && k < best) {
				best = k
			}
		}
	}
	if best == "" {
		return 0, false
	}
	used[best] = true
	return multipliers[best], true
}

func vulnerabilityReason(matches []factorMatch, entry Entry, disease string, score float64) reason {
	labels := make([]string, 0, len(matches))
	for _, m := range matches {
		if m.effective > 1 {
			labels = append(labels, m.label)
		}
	}
	verb := "increases"
	if len(labels) > 1 {
		verb = "increase"
	}
	text := fmt.Sprintf("Your %s %s vulnerability to %s complications", joinAnd(labels), verb, disease)
	if ctx := diseaseContext(entry); ctx != "" {
		text += " (" + ctx + ")"
	}
	return reason{text: text, weight: score}
}

// diseaseContext describes how the disease spreads and who is most at
// risk, from the knowledge entry.
func diseaseContext(entry Entry) string {
	var parts []string
	if t := strings.TrimSpace(entry.Transmission); t != "" {
		parts = append(parts, "spread by "+t)
	}
	if len(entry.AtRiskGroups) > 0 {
		parts = append(parts, "higher-risk groups: "+joinAnd(entry.AtRiskGroups))
	}
	return strings.Join(parts, "; ")
}

func (e *Engine) geographic(p profile.Profile, a Alert) (float64, geo.Match) {
	m := e.chain.Relevance(p.Location, a.Location)
	return m.Proximity * e.policy.GeoWeight, m
}

func geographicReason(p profile.Profile, a Alert, m geo.Match, score float64) reason {
	var text string
	switch {
	case m.Proximity >= 1:
		text = fmt.Sprintf("You live in %s, the affected area", p.Location.Name)
	case m.Basis == geo.BasisDistance:
		text = fmt.Sprintf("You live about %.0f km from %s", m.DistanceKm, a.Location.Name)
	default:
		text = fmt.Sprintf("You live in %s, near the affected area (%s)", p.Location.Name, a.Location.Name)
	}
	return reason{text: text, weight: score}
}

// family takes the single most exposed relative. Relatives in the same
// place are not summed.
func (e *Engine) family(p profile.Profile, a Alert) (float64, int, geo.Match) {
	bestIdx := -1
	var best geo.Match
	for i, fm := range p.FamilyMembers {
		m := e.chain.Relevance(fm.Location, a.Location)
		if m.Proximity > best.Proximity {
			best, bestIdx = m, i
		}
	}
	return best.Proximity * e.policy.FamilyWeight, bestIdx, best
}

func familyReason(fm profile.FamilyMember, a Alert, disease string, m geo.Match, score float64) reason {
	who := "family member " + fm.Name
	if fm.Relationship != "" {
		who = strings.ToLower(fm.Relationship) + " " + fm.Name
	}
	var text string
	if m.Proximity >= 1 || (m.Basis == geo.BasisText && m.Proximity >= 0.9) {
		text = fmt.Sprintf("Your %s is in %s, where %s is spreading", who, fm.Location.Name, disease)
	} else {
		text = fmt.Sprintf("Your %s in %s is near the %s area (%s)", who, fm.Location.Name, disease, a.Location.Name)
	}
	return reason{text: text, weight: score}
}

type tripRisk struct {
	idx       int
	proximity float64
	temporal  float64
	daysUntil int
}

// travel scores each trip by geographic relevance times how soon it
// starts relative to publication. Trips that ended before publication
// contribute nothing.
func (e *Engine) travel(p profile.Profile, a Alert) (float64, tripRisk) {
	best := tripRisk{idx: -1}
	bestCombined := 0.0
	for i, tp := range p.TravelPlans {
		if tp.EndDate.Before(a.PublishedAt) {
			continue
		}
		m := e.chain.Relevance(tp.Destination, a.Location)
		if m.Proximity == 0 {
			continue
		}
		days := daysBetween(a.PublishedAt, tp.StartDate)
		t := e.temporal(days)
		if combined := m.Proximity * t; combined > bestCombined {
			bestCombined = combined
			best = tripRisk{idx: i, proximity: m.Proximity, temporal: t, daysUntil: days}
		}
	}
	return bestCombined * e.policy.TravelWeight, best
}

func (e *Engine) temporal(daysUntil int) float64 {
	if daysUntil <= 0 {
		return 1
	}
	for _, w := range e.policy.TravelWindows {
		if daysUntil <= w.WithinDays {
			return w.Factor
		}
	}
	return e.policy.TravelBeyond
}

func travelReason(tp profile.TravelPlan, disease string, tr tripRisk, score float64) reason {
	var text string
	switch {
	case tr.daysUntil <= 0:
		text = fmt.Sprintf("You are currently travelling to %s during the %s alert", tp.Destination.Name, disease)
	case tr.daysUntil == 1:
		text = fmt.Sprintf("Your trip to %s starts tomorrow", tp.Destination.Name)
	default:
		text = fmt.Sprintf("Your trip to %s starts in %d days", tp.Destination.Name, tr.daysUntil)
	}
	if tr.proximity < 1 {
		text += " and is near the affected area"
	}
	return reason{text: text, weight: score}
}

// learnedWeight looks up the user's feedback-derived weight by alert
// disease, canonical name, alias, then category.
func learnedWeight(weights map[string]float64, a Alert, entry Entry, found bool) (float64, bool) {
	if len(weights) == 0 {
		return profile.DefaultLearnedWeight, false
	}
	keys := []string{profile.WeightKey(a.Disease)}
	if found {
		keys = append(keys, geo.Normalize(entry.Disease))
		for _, al := range entry.Aliases {
			keys = append(keys, geo.Normalize(al))
		}
		if entry.Category != "" {
			keys = append(keys, entry.Category)
		}
	}
	for _, k := range keys {
		if w, ok := weights[k]; ok {
			return profile.ClampWeight(w), true
		}
	}
	return profile.DefaultLearnedWeight, false
}

func preferenceReason(tol profile.Tolerance, learned float64, hasLearned bool, adj float64) reason {
	var why []string
	if tol != profile.ToleranceMedium {
		why = append(why, fmt.Sprintf("%s risk tolerance", tol))
	}
	if hasLearned && learned != profile.DefaultLearnedWeight {
		why = append(why, "feedback on similar alerts")
	}
	if len(why) == 0 {
		why = append(why, "alert preferences")
	}
	direction := "raise"
	if adj < 0 {
		direction = "lower"
	}
	if len(why) == 1 {
		direction += "s"
	}
	return reason{
		text:   fmt.Sprintf("Your %s %s this assessment", joinAnd(why), direction),
		weight: adj,
	}
}

func daysBetween(from, to time.Time) int {
	return int(math.Ceil(to.Sub(from).Hours() / 24))
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func joinAnd(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	}
	return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
}
