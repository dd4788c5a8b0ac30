package profile

import (
	"time"

	"github.com/kalambet/vitalsignal/internal/geo"
)

// Profile is everything known about a user that can change how an alert
// affects them: health, family, travel and alerting preferences.
type Profile struct {
	ID               string             `json:"id"`
	Name             string             `json:"name" validate:"required"`
	Age              int                `json:"age" validate:"gte=0,lte=130"`
	Email            string             `json:"email,omitempty" validate:"omitempty,email"`
	Location         geo.Location       `json:"location"`
	HealthConditions []HealthCondition  `json:"health_conditions,omitempty" validate:"dive"`
	Medications      []string           `json:"medications,omitempty"`
	Allergies        []string           `json:"allergies,omitempty"`
	FamilyMembers    []FamilyMember     `json:"family_members,omitempty" validate:"dive"`
	TravelPlans      []TravelPlan       `json:"travel_plans,omitempty" validate:"dive"`
	Preferences      Preferences        `json:"preferences"`
	LearnedWeights   map[string]float64 `json:"learned_weights,omitempty"`
	CreatedAt        time.Time          `json:"created_at"`
	UpdatedAt        time.Time          `json:"updated_at"`
}

// ConditionSeverity grades a health condition. Empty means unspecified.
type ConditionSeverity string

const (
	ConditionMild     ConditionSeverity = "mild"
	ConditionModerate ConditionSeverity = "moderate"
	ConditionSevere   ConditionSeverity = "severe"
)

type HealthCondition struct {
	Name     string            `json:"name" validate:"required"`
	Severity ConditionSeverity `json:"severity,omitempty" validate:"omitempty,oneof=mild moderate severe"`
}

type FamilyMember struct {
	Name         string       `json:"name" validate:"required"`
	Relationship string       `json:"relationship"`
	Location     geo.Location `json:"location"`
	Language     string       `json:"language,omitempty" validate:"omitempty,bcp47_language_tag"`
}

type TravelPlan struct {
	Destination geo.Location `json:"destination"`
	StartDate   time.Time    `json:"start_date" validate:"required"`
	EndDate     time.Time    `json:"end_date" validate:"required,gtefield=StartDate"`
	Purpose     string       `json:"purpose,omitempty"`
}

// Tolerance is how much alerting the user wants.
type Tolerance string

const (
	ToleranceLow    Tolerance = "low"
	ToleranceMedium Tolerance = "medium"
	ToleranceHigh   Tolerance = "high"

	// ToleranceModerate is accepted on input as a synonym for medium.
	ToleranceModerate Tolerance = "moderate"
)

type Preferences struct {
	RiskTolerance  Tolerance `json:"risk_tolerance,omitempty" validate:"omitempty,oneof=low medium moderate high"`
	NotifyChannels []string  `json:"notify_channels,omitempty" validate:"dive,oneof=email sms push webhook"`
	Language       string    `json:"language,omitempty" validate:"omitempty,bcp47_language_tag"`
	// NotificationThreshold is the lowest risk level that triggers an email.
	NotificationThreshold string `json:"notification_threshold,omitempty" validate:"omitempty,oneof=minimal low medium high critical"`
}

// Tolerance returns the normalized tolerance, defaulting to medium.
func (p Preferences) Tolerance() Tolerance {
	switch p.RiskTolerance {
	case ToleranceLow, ToleranceHigh:
		return p.RiskTolerance
	default:
		return ToleranceMedium
	}
}

// PreferredLanguage returns the user's language, defaulting to English.
func (p Preferences) PreferredLanguage() string {
	if p.Language == "" {
		return "en"
	}
	return p.Language
}
