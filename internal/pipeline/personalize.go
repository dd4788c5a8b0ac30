// Package pipeline runs the personalization flow around the risk engine:
// profile loading, alert normalization, assessment, persistence and
// dispatch planning.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/vitalsignal/internal/bulletin"
	"github.com/kalambet/vitalsignal/internal/dispatch"
	"github.com/kalambet/vitalsignal/internal/profile"
	"github.com/kalambet/vitalsignal/internal/risk"
	"github.com/kalambet/vitalsignal/internal/storage"
)

// Profiles is the profile access the pipeline needs. Implemented by
// profile.Manager.
type Profiles interface {
	Get(id string) (profile.Profile, error)
	List(limit, offset int) ([]profile.Profile, error)
}

// Store is the persistence the pipeline needs. Implemented by storage.Store.
type Store interface {
	SaveAlert(a storage.AlertRecord) error
	GetAlert(id string) (storage.AlertRecord, error)
	SaveAssessment(a storage.AssessmentRecord) error
	EnqueueJob(job storage.Job) error
}

// Result is the outcome of personalizing one alert for one user.
type Result struct {
	User             profile.Profile `json:"user"`
	Alert            risk.Alert      `json:"alert"`
	Assessment       risk.Assessment `json:"assessment"`
	ProcessingTimeMs int64           `json:"processing_time_ms"`
	Dispatched       []dispatch.Kind `json:"dispatched"`
}

// Personalizer wires the risk engine to profiles, storage and dispatch.
type Personalizer struct {
	engine      *risk.Engine
	profiles    Profiles
	store       Store
	concurrency int
	logger      *slog.Logger
	now         func() time.Time
}

// NewPersonalizer creates a Personalizer. concurrency bounds batch fan-out
// (default 8 if <= 0).
func NewPersonalizer(engine *risk.Engine, profiles Profiles, store Store, concurrency int) *Personalizer {
	if concurrency <= 0 {
		concurrency = 8
	}
	return &Personalizer{
		engine:      engine,
		profiles:    profiles,
		store:       store,
		concurrency: concurrency,
		logger:      slog.Default().With("component", "pipeline"),
		now:         time.Now,
	}
}

// Personalize stores the alert, assesses it for userID, persists the
// assessment and enqueues follow-up dispatch jobs. The alert is stored
// only once the user is known.
func (p *Personalizer) Personalize(ctx context.Context, userID string, alert risk.Alert) (Result, error) {
	user, err := p.profiles.Get(userID)
	if err != nil {
		return Result{}, err
	}

	alert = p.NormalizeAlert(alert)
	if err := p.SaveAlert(alert); err != nil {
		return Result{}, err
	}
	return p.assess(ctx, user, alert)
}

// AssessStored assesses an already stored alert for userID.
func (p *Personalizer) AssessStored(ctx context.Context, userID, alertID string) (Result, error) {
	alert, err := p.LoadAlert(alertID)
	if err != nil {
		return Result{}, err
	}
	user, err := p.profiles.Get(userID)
	if err != nil {
		return Result{}, err
	}
	return p.assess(ctx, user, alert)
}

func (p *Personalizer) assess(ctx context.Context, user profile.Profile, alert risk.Alert) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	start := time.Now()

	a, err := p.engine.Assess(user, alert)
	if err != nil {
		return Result{}, err
	}
	a.ID = uuid.New().String()
	a.AssessedAt = p.now().UTC()

	elapsed := time.Since(start).Milliseconds()
	if err := p.saveAssessment(a, elapsed); err != nil {
		return Result{}, err
	}

	res := Result{
		User:             user,
		Alert:            alert,
		Assessment:       a,
		ProcessingTimeMs: elapsed,
	}
	for _, req := range Plan(user, alert, a) {
		if _, err := dispatch.Enqueue(p.store, req); err != nil {
			p.logger.Warn("dispatch enqueue failed", "assessment_id", a.ID, "kind", req.Kind, "error", err)
			continue
		}
		res.Dispatched = append(res.Dispatched, req.Kind)
	}

	p.logger.Debug("assessment complete",
		"user_id", user.ID,
		"alert_id", alert.ID,
		"risk_level", a.Level,
		"risk_score", a.Score,
		"dispatched", len(res.Dispatched),
		"ms", elapsed,
	)
	return res, nil
}

// NormalizeAlert fills defaults and cleans free text: ID, publication
// time, lowercased severity, and HTML-free description.
func (p *Personalizer) NormalizeAlert(a risk.Alert) risk.Alert {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	if a.PublishedAt.IsZero() {
		a.PublishedAt = p.now().UTC()
	}
	a.Disease = strings.TrimSpace(a.Disease)
	a.Severity = risk.Severity(strings.ToLower(strings.TrimSpace(string(a.Severity))))
	a.Title = bulletin.StripHTML(a.Title)
	a.Description = bulletin.StripHTML(a.Description)
	if a.Title == "" && a.Disease != "" {
		a.Title = fmt.Sprintf("%s alert", a.Disease)
		if a.Location.Name != "" {
			a.Title += " in " + a.Location.Name
		}
	}
	return a
}

// SaveAlert validates and upserts an alert.
func (p *Personalizer) SaveAlert(a risk.Alert) error {
	if strings.TrimSpace(a.Disease) == "" {
		return &risk.ValidationError{Subject: "alert", Err: errors.New("disease is required")}
	}
	b, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshalling alert %s: %w", a.ID, err)
	}
	rec := storage.AlertRecord{
		ID:          a.ID,
		Disease:     a.Disease,
		Severity:    string(a.Severity),
		Location:    a.Location.Name,
		PublishedAt: a.PublishedAt,
		Data:        string(b),
	}
	if err := p.store.SaveAlert(rec); err != nil {
		return fmt.Errorf("storing alert %s: %w", a.ID, err)
	}
	return nil
}

// LoadAlert reads a stored alert.
func (p *Personalizer) LoadAlert(id string) (risk.Alert, error) {
	rec, err := p.store.GetAlert(id)
	if err != nil {
		return risk.Alert{}, fmt.Errorf("loading alert %s: %w", id, err)
	}
	return DecodeAlert(rec)
}

// DecodeAlert unpacks a stored alert record.
func DecodeAlert(rec storage.AlertRecord) (risk.Alert, error) {
	var a risk.Alert
	if err := json.Unmarshal([]byte(rec.Data), &a); err != nil {
		return risk.Alert{}, fmt.Errorf("decoding alert %s: %w", rec.ID, err)
	}
	return a, nil
}

// StoredAssessment is an assessment as persisted, with its timing.
type StoredAssessment struct {
	risk.Assessment
	ProcessingTimeMs int64 `json:"processing_time_ms" yaml:"processing_time_ms"`
}

// DecodeAssessment unpacks a stored assessment record.
func DecodeAssessment(rec storage.AssessmentRecord) (StoredAssessment, error) {
	var a risk.Assessment
	if err := json.Unmarshal([]byte(rec.Data), &a); err != nil {
		return StoredAssessment{}, fmt.Errorf("decoding assessment %s: %w", rec.ID, err)
	}
	return StoredAssessment{Assessment: a, ProcessingTimeMs: rec.ProcessingTimeMs}, nil
}

func (p *Personalizer) saveAssessment(a risk.Assessment, elapsedMs int64) error {
	b, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("marshalling assessment: %w", err)
	}
	rec := storage.AssessmentRecord{
		ID:               a.ID,
		UserID:           a.UserID,
		AlertID:          a.AlertID,
		Level:            string(a.Level),
		Score:            a.Score,
		Confidence:       a.Confidence,
		Priority:         a.Priority,
		ProcessingTimeMs: elapsedMs,
		Data:             string(b),
		CreatedAt:        a.AssessedAt,
	}
	if err := p.store.SaveAssessment(rec); err != nil {
		return fmt.Errorf("storing assessment %s: %w", a.ID, err)
	}
	return nil
}
