package risk

import (
	"errors"
	"fmt"
	"sort"

	"github.com/kalambet/vitalsignal/internal/geo"
	"github.com/kalambet/vitalsignal/internal/profile"
)

// Policy holds every tunable constant used by the engine.
type Policy struct {
	SeverityBase   map[Severity]float64 `yaml:"severity_base"`
	SeverityWeight float64              `yaml:"severity_weight"`

	// Vulnerability: accumulator cap, scale applied to
	// base × (accumulator − 1), and the ceiling of the sub-score.
	VulnerabilityCap   float64                               `yaml:"vulnerability_cap"`
	VulnerabilityScale float64                               `yaml:"vulnerability_scale"`
	VulnerabilityMax   float64                               `yaml:"vulnerability_max"`
	ConditionFactor    map[profile.ConditionSeverity]float64 `yaml:"condition_factor"`
	OlderAdultAge      int                                   `yaml:"older_adult_age"`
	YoungChildAge      int                                   `yaml:"young_child_age"`

	GeoWeight     float64                       `yaml:"geo_weight"`
	FamilyWeight  float64                       `yaml:"family_weight"`
	TravelWeight  float64                       `yaml:"travel_weight"`
	DistanceTiers []geo.DistanceTier            `yaml:"distance_tiers"`
	TextScores    geo.TextScores                `yaml:"text_scores"`
	TravelWindows []TravelWindow                `yaml:"travel_windows"`
	TravelBeyond  float64                       `yaml:"travel_beyond"`
	Tolerance     map[profile.Tolerance]float64 `yaml:"tolerance"`

	// Thresholds are the lower bounds of low, medium, high and critical.
	Thresholds  [4]float64 `yaml:"thresholds"`
	Materiality float64    `yaml:"materiality"`

	Penalties       Penalties `yaml:"penalties"`
	ConfidenceFloor float64   `yaml:"confidence_floor"`

	Actions map[Level][]string `yaml:"actions"`
}

// TravelWindow maps days until departure to a temporal factor.
type TravelWindow struct {
	WithinDays int     `yaml:"within_days"`
	Factor     float64 `yaml:"factor"`
}

// Penalties are subtracted from confidence for each missing input.
type Penalties struct {
	NoCoordinates   float64 `yaml:"no_coordinates"`
	NoKnowledge     float64 `yaml:"no_knowledge"`
	NoTravel        float64 `yaml:"no_travel"`
	DefaultSeverity float64 `yaml:"default_severity"`
}

// DefaultPolicy returns the built-in constants.
func DefaultPolicy() Policy {
	return Policy{
		SeverityBase: map[Severity]float64{
			SeveritySporadic: 0.20,
			SeverityCluster:  0.35,
			SeverityOutbreak: 0.50,
			SeverityEpidemic: 0.70,
			SeverityPandemic: 0.90,
		},
		SeverityWeight: 0.4,

		VulnerabilityCap:   3.0,
		VulnerabilityScale: 0.4,
		VulnerabilityMax:   0.3,
		ConditionFactor: map[profile.ConditionSeverity]float64{
			"":                        1.0,
			profile.ConditionMild:     0.5,
			profile.ConditionModerate: 1.0,
			profile.ConditionSevere:   1.25,
		},
		OlderAdultAge: 65,
		YoungChildAge: 5,

		GeoWeight:    0.25,
		FamilyWeight: 0.20,
		TravelWeight: 0.25,
		DistanceTiers: []geo.DistanceTier{
			{WithinKm: 50, Proximity: 0.9},
			{WithinKm: 500, Proximity: 0.6},
			{WithinKm: 2000, Proximity: 0.3},
		},
		TextScores: geo.TextScores{SamePlace: 0.9, Contains: 0.8, SameCountry: 0.5},
		TravelWindows: []TravelWindow{
			{WithinDays: 14, Factor: 1.0},
			{WithinDays: 30, Factor: 0.8},
			{WithinDays: 90, Factor: 0.5},
		},
		TravelBeyond: 0.25,
		Tolerance: map[profile.Tolerance]float64{
			profile.ToleranceLow:    1.15,
			profile.ToleranceMedium: 1.0,
			profile.ToleranceHigh:   0.85,
		},

		Thresholds:  [4]float64{0.2, 0.4, 0.6, 0.8},
		Materiality: 0.05,

		Penalties: Penalties{
			NoCoordinates:   0.25,
			NoKnowledge:     0.35,
			NoTravel:        0.15,
			DefaultSeverity: 0.10,
		},
		ConfidenceFloor: 0.3,

		Actions: map[Level][]string{
			LevelMinimal: {"No action needed", "Stay informed through official channels"},
			LevelLow: {
				"Monitor the situation",
				"Review general prevention guidance",
			},
			LevelMedium: {
				"Take preventive measures recommended for this disease",
				"Check in with family members in the affected area",
				"Review upcoming travel to the affected area",
			},
			LevelHigh: {
				"Consult your healthcare provider about your conditions",
				"Follow prevention guidance strictly",
				"Contact family members in the affected area",
				"Reconsider travel to the affected area",
			},
			LevelCritical: {
				"Seek medical guidance promptly",
				"Avoid travel to the affected area",
				"Contact family members in the affected area now",
				"Follow public health authority instructions",
			},
		},
	}
}

// Validate checks internal consistency of p.
func (p Policy) Validate() error {
	var errs []error
	for _, s := range Severities {
		if _, ok := p.SeverityBase[s]; !ok {
			errs = append(errs, fmt.Errorf("severity_base missing %q", s))
		}
	}
	for i := 1; i < len(Severities); i++ {
		if p.SeverityBase[Severities[i]] < p.SeverityBase[Severities[i-1]] {
			errs = append(errs, fmt.Errorf("severity_base must be non-decreasing: %s < %s", Severities[i], Severities[i-1]))
		}
	}
	for i := 1; i < len(p.Thresholds); i++ {
		if p.Thresholds[i] <= p.Thresholds[i-1] {
			errs = append(errs, errors.New("thresholds must be strictly ascending"))
			break
		}
	}
	if p.Thresholds[0] <= 0 || p.Thresholds[3] > 1 {
		errs = append(errs, errors.New("thresholds must lie in (0, 1]"))
	}
	if !sort.SliceIsSorted(p.DistanceTiers, func(i, j int) bool { return p.DistanceTiers[i].WithinKm < p.DistanceTiers[j].WithinKm }) {
		errs = append(errs, errors.New("distance_tiers must be sorted by within_km"))
	}
	if !sort.SliceIsSorted(p.TravelWindows, func(i, j int) bool { return p.TravelWindows[i].WithinDays < p.TravelWindows[j].WithinDays }) {
		errs = append(errs, errors.New("travel_windows must be sorted by within_days"))
	}
	if p.VulnerabilityCap < 1 {
		errs = append(errs, errors.New("vulnerability_cap must be >= 1"))
	}
	if p.ConfidenceFloor < 0 || p.ConfidenceFloor > 1 {
		errs = append(errs, errors.New("confidence_floor must lie in [0, 1]"))
	}
	for _, l := range Levels {
		if len(p.Actions[l]) == 0 {
			errs = append(errs, fmt.Errorf("actions missing for level %q", l))
		}
	}
	return errors.Join(errs...)
}

// classify maps a score to its level. Thresholds are inclusive lower
// bounds, so a score exactly on a boundary belongs to the higher level.
func (p Policy) classify(score float64) Level {
	for i := len(p.Thresholds) - 1; i >= 0; i-- {
		if score >= p.Thresholds[i] {
			return Levels[i+1]
		}
	}
	return LevelMinimal
}
