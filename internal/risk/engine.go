package risk

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/language"

	"github.com/kalambet/vitalsignal/internal/geo"
	"github.com/kalambet/vitalsignal/internal/profile"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidationError reports malformed engine input.
type ValidationError struct {
	Subject string
	Err     error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Subject, e.Err)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Engine scores alerts against profiles. It holds only read-only state.
type Engine struct {
	kb     *KnowledgeBase
	policy Policy
	chain  geo.Chain
}

// NewEngine builds an Engine from a knowledge base and policy.
func NewEngine(kb *KnowledgeBase, policy Policy) (*Engine, error) {
	if kb == nil {
		return nil, errors.New("knowledge base is required")
	}
	if err := policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid policy: %w", err)
	}
	return &Engine{
		kb:     kb,
		policy: policy,
		chain:  geo.NewChain(policy.DistanceTiers, policy.TextScores),
	}, nil
}

// Knowledge returns the engine's knowledge base.
func (e *Engine) Knowledge() *KnowledgeBase { return e.kb }

// Assess computes the risk assessment of alert a for profile p.
// Missing reference data lowers confidence instead of failing; only
// malformed input returns an error, as *ValidationError.
func (e *Engine) Assess(p profile.Profile, a Alert) (Assessment, error) {
	if err := validateAlert(a); err != nil {
		return Assessment{}, err
	}
	if strings.TrimSpace(p.ID) == "" {
		return Assessment{}, &ValidationError{Subject: "profile", Err: errors.New("id is blank")}
	}
	if err := profile.Validate(p); err != nil {
		return Assessment{}, &ValidationError{Subject: "profile", Err: err}
	}

	entry, known := e.kb.Lookup(a.Disease)
	disease := strings.ToLower(strings.TrimSpace(a.Disease))
	if known {
		disease = entry.Disease
	}

	var reasons []reason

	base, defaulted := e.severity(a)
	baseScore := base * e.policy.SeverityWeight
	reasons = append(reasons, severityReason(a, disease, defaulted, baseScore)...)

	var vulnScore float64
	if known {
		var matches []factorMatch
		vulnScore, matches = e.vulnerability(p, entry, base)
		if vulnScore > 0 {
			reasons = append(reasons, vulnerabilityReason(matches, entry, disease, vulnScore))
		}
	} else {
		reasons = append(reasons, reason{
			text: fmt.Sprintf("Insufficient medical data on %s to assess how your health profile affects risk", disease),
		})
	}

	geoScore, geoMatch := e.geographic(p, a)
	if geoScore > 0 {
		reasons = append(reasons, geographicReason(p, a, geoMatch, geoScore))
	}

	famScore, famIdx, famMatch := e.family(p, a)
	if famIdx >= 0 {
		reasons = append(reasons, familyReason(p.FamilyMembers[famIdx], a, disease, famMatch, famScore))
	}

	travelScore, trip := e.travel(p, a)
	if trip.idx >= 0 {
		reasons = append(reasons, travelReason(p.TravelPlans[trip.idx], disease, trip, travelScore))
	}

	pre := baseScore + vulnScore + geoScore + famScore + travelScore
	tol := p.Preferences.Tolerance()
	tolMult, ok := e.policy.Tolerance[tol]
	if !ok {
		tolMult = 1
	}
	learned, hasLearned := learnedWeight(p.LearnedWeights, a, entry, known)
	adj := pre * (tolMult*learned - 1)
	if adj != 0 {
		reasons = append(reasons, preferenceReason(tol, learned, hasLearned, adj))
	}

	components := []Component{
		{Name: ComponentBaseSeverity, Score: round(baseScore)},
		{Name: ComponentHealthVulnerability, Score: round(vulnScore)},
		{Name: ComponentGeographicProximity, Score: round(geoScore)},
		{Name: ComponentFamilyExposure, Score: round(famScore)},
		{Name: ComponentTravelRisk, Score: round(travelScore)},
		{Name: ComponentPreferenceAdjustment, Score: round(adj)},
	}

	score := round(clamp(pre+adj, 0, 1))
	level := e.policy.classify(score)

	return Assessment{
		UserID:           p.ID,
		AlertID:          a.ID,
		Level:            level,
		Score:            score,
		Confidence:       e.confidence(p, a, known, defaulted),
		Components:       components,
		Reasoning:        e.orderReasons(reasons),
		Actions:          append([]string(nil), e.policy.Actions[level]...),
		NeedsTranslation: needsTranslation(p, a),
		NeedsImage:       level.AtLeast(LevelHigh),
		Priority:         priority(score),
	}, nil
}

func validateAlert(a Alert) error {
	if strings.TrimSpace(a.ID) == "" {
		return &ValidationError{Subject: "alert", Err: errors.New("id is blank")}
	}
	if err := validate.Struct(a); err != nil {
		return &ValidationError{Subject: "alert", Err: err}
	}
	if strings.TrimSpace(a.Disease) == "" {
		return &ValidationError{Subject: "alert", Err: errors.New("disease is blank")}
	}
	return nil
}

// confidence depends only on which inputs are present, never on the score.
func (e *Engine) confidence(p profile.Profile, a Alert, known, defaulted bool) float64 {
	c := 1.0
	pen := e.policy.Penalties
	if !p.Location.HasCoords() || !a.Location.HasCoords() {
		c -= pen.NoCoordinates
	}
	if !known {
		c -= pen.NoKnowledge
	}
	if len(p.TravelPlans) == 0 {
		c -= pen.NoTravel
	}
	if defaulted {
		c -= pen.DefaultSeverity
	}
	return round(clamp(c, e.policy.ConfidenceFloor, 1))
}

// orderReasons keeps material contributions and data-gap notes, ordered
// by descending absolute contribution. Gap notes sort last.
func (e *Engine) orderReasons(rs []reason) []string {
	kept := make([]reason, 0, len(rs))
	for _, r := range rs {
		if r.weight == 0 || math.Abs(r.weight) >= e.policy.Materiality {
			kept = append(kept, r)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return math.Abs(kept[i].weight) > math.Abs(kept[j].weight)
	})
	out := make([]string, len(kept))
	for i, r := range kept {
		out[i] = r.text
	}
	return out
}

// priority maps score 1.0 to 1 (most urgent) and 0.0 to 10. Halves
// round toward the more urgent value.
func priority(score float64) int {
	p := 11 - int(math.Floor(1+9*score+0.5))
	if p < 1 {
		return 1
	}
	if p > 10 {
		return 10
	}
	return p
}

func needsTranslation(p profile.Profile, a Alert) bool {
	src := a.SourceLanguage()
	if !SameLanguage(p.Preferences.PreferredLanguage(), src) {
		return true
	}
	for _, fm := range p.FamilyMembers {
		if fm.Language != "" && !SameLanguage(fm.Language, src) {
			return true
		}
	}
	return false
}

// SameLanguage compares base language subtags, so "en-US" matches "en".
func SameLanguage(a, b string) bool {
	ta, errA := language.Parse(a)
	tb, errB := language.Parse(b)
	if errA != nil || errB != nil {
		return strings.EqualFold(a, b)
	}
	ba, _ := ta.Base()
	bb, _ := tb.Base()
	return ba == bb
}

// round trims float noise so scores sitting on a threshold classify
// deterministically.
func round(v float64) float64 {
	return math.Round(v*1e9) / 1e9
}
