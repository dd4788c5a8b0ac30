package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// AlertRecord is a stored outbreak alert. Data holds the full alert as JSON;
// the other columns exist for filtering.
type AlertRecord struct {
	ID          string
	Disease     string
	Severity    string
	Location    string
	PublishedAt time.Time
	Data        string
	CreatedAt   time.Time
}

// AssessmentRecord is a stored risk assessment. Data holds the full
// assessment as JSON.
type AssessmentRecord struct {
	ID               string
	UserID           string
	AlertID          string
	Level            string
	Score            float64
	Confidence       float64
	Priority         int
	ProcessingTimeMs int64
	Data             string
	CreatedAt        time.Time
}

// AssessmentFilter narrows ListAssessments. Empty fields match everything.
type AssessmentFilter struct {
	UserID  string
	AlertID string
	Limit   int
	Offset  int
}

type Feedback struct {
	ID            string
	UserID        string
	AlertID       string
	Disease       string
	Type          string
	Comment       string
	LearnedWeight float64 // weight after applying this feedback
	CreatedAt     time.Time
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// Metrics aggregates service activity for the metrics endpoint.
type Metrics struct {
	Users            int            `json:"users"`
	Alerts           int            `json:"alerts"`
	Assessments      int            `json:"assessments"`
	Feedback         int            `json:"feedback"`
	ByLevel          map[string]int `json:"assessments_by_level"`
	FeedbackByType   map[string]int `json:"feedback_by_type"`
	AvgProcessingMs  float64        `json:"avg_processing_time_ms"`
	JobsByStatus     map[string]int `json:"jobs_by_status"`
	LastAssessmentAt *time.Time     `json:"last_assessment_at,omitempty"`
}
