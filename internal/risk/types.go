// Package risk turns an outbreak alert and a user profile into a
// personalized risk assessment. Assess is a pure function of its inputs
// and the loaded knowledge base, and is safe for concurrent use.
package risk

import (
	"time"

	"github.com/kalambet/vitalsignal/internal/geo"
)

// Severity is the outbreak tier reported by the alert source.
type Severity string

const (
	SeveritySporadic Severity = "sporadic"
	SeverityCluster  Severity = "cluster"
	SeverityOutbreak Severity = "outbreak"
	SeverityEpidemic Severity = "epidemic"
	SeverityPandemic Severity = "pandemic"
)

// Severities lists the tiers in ascending order.
var Severities = []Severity{
	SeveritySporadic, SeverityCluster, SeverityOutbreak, SeverityEpidemic, SeverityPandemic,
}

// Alert is a disease-outbreak report.
type Alert struct {
	ID                 string       `json:"id"`
	Title              string       `json:"title"`
	Description        string       `json:"description,omitempty"`
	Disease            string       `json:"disease" validate:"required"`
	Location           geo.Location `json:"location"`
	Severity           Severity     `json:"severity"`
	PublishedAt        time.Time    `json:"published_at" validate:"required"`
	Source             string       `json:"source,omitempty"`
	SourceURL          string       `json:"source_url,omitempty" validate:"omitempty,url"`
	Language           string       `json:"language,omitempty" validate:"omitempty,bcp47_language_tag"`
	AffectedPopulation int          `json:"affected_population,omitempty" validate:"gte=0"`
}

// SourceLanguage returns the alert language, defaulting to English.
func (a Alert) SourceLanguage() string {
	if a.Language == "" {
		return "en"
	}
	return a.Language
}

// Level is the discrete risk bucket.
type Level string

const (
	LevelMinimal  Level = "minimal"
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// Levels lists the buckets in ascending order.
var Levels = []Level{LevelMinimal, LevelLow, LevelMedium, LevelHigh, LevelCritical}

// Rank returns the position of l in Levels, or -1 if unknown.
func (l Level) Rank() int {
	for i, v := range Levels {
		if v == l {
			return i
		}
	}
	return -1
}

// AtLeast reports whether l is at or above other.
func (l Level) AtLeast(other Level) bool {
	return l.Rank() >= other.Rank()
}

// ComponentName identifies a sub-score.
type ComponentName string

const (
	ComponentBaseSeverity         ComponentName = "base_severity"
	ComponentHealthVulnerability  ComponentName = "health_vulnerability"
	ComponentGeographicProximity  ComponentName = "geographic_proximity"
	ComponentFamilyExposure       ComponentName = "family_exposure"
	ComponentTravelRisk           ComponentName = "travel_risk"
	ComponentPreferenceAdjustment ComponentName = "preference_adjustment"
)

// Component is one weighted contribution to the risk score.
type Component struct {
	Name  ComponentName `json:"name" yaml:"name"`
	Score float64       `json:"score" yaml:"score"`
}

// Assessment is the engine output for one (user, alert) pair.
type Assessment struct {
	ID               string      `json:"id,omitempty" yaml:"id,omitempty"`
	UserID           string      `json:"user_id" yaml:"user_id"`
	AlertID          string      `json:"alert_id" yaml:"alert_id"`
	Level            Level       `json:"risk_level" yaml:"risk_level"`
	Score            float64     `json:"risk_score" yaml:"risk_score"`
	Confidence       float64     `json:"confidence" yaml:"confidence"`
	Components       []Component `json:"components" yaml:"components"`
	Reasoning        []string    `json:"reasoning" yaml:"reasoning"`
	Actions          []string    `json:"recommended_actions" yaml:"recommended_actions"`
	NeedsTranslation bool        `json:"needs_translation" yaml:"needs_translation"`
	NeedsImage       bool        `json:"needs_image" yaml:"needs_image"`
	Priority         int         `json:"priority" yaml:"priority"`
	AssessedAt       time.Time   `json:"assessed_at,omitzero" yaml:"assessed_at,omitempty"`
}

// Component returns the score of the named component, or 0.
func (a Assessment) Component(name ComponentName) float64 {
	for _, c := range a.Components {
		if c.Name == name {
			return c.Score
		}
	}
	return 0
}
