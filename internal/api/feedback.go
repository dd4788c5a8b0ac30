package api

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/vitalsignal/internal/pipeline"
	"github.com/kalambet/vitalsignal/internal/profile"
	"github.com/kalambet/vitalsignal/internal/storage"
)

// FeedbackRequest is a user's verdict on an alert's assessment.
type FeedbackRequest struct {
	UserID       string `json:"user_id"`
	AlertID      string `json:"alert_id"`
	AssessmentID string `json:"assessment_id,omitempty"`
	FeedbackType string `json:"feedback_type"`
	Comment      string `json:"comment,omitempty"`
}

// FeedbackResponse reports the learned weight after feedback.
type FeedbackResponse struct {
	ID            string  `json:"id"`
	UserID        string  `json:"user_id"`
	AlertID       string  `json:"alert_id"`
	Disease       string  `json:"disease"`
	FeedbackType  string  `json:"feedback_type"`
	LearnedWeight float64 `json:"learned_weight"`
}

// feedbackRecorder applies feedback to a user's learned weights and
// keeps a record of it.
type feedbackRecorder struct {
	store    *storage.Store
	profiles *profile.Manager
	pipeline *pipeline.Personalizer
}

func (fr feedbackRecorder) record(req FeedbackRequest) (FeedbackResponse, error) {
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		return FeedbackResponse{}, invalidf("user_id is required")
	}
	ft := profile.FeedbackType(req.FeedbackType)
	if !ft.Valid() {
		return FeedbackResponse{}, invalidf("unknown feedback_type %q", req.FeedbackType)
	}

	if req.AlertID == "" && req.AssessmentID != "" {
		rec, err := fr.store.GetAssessment(req.AssessmentID)
		if err != nil {
			return FeedbackResponse{}, err
		}
		req.AlertID = rec.AlertID
	}
	if req.AlertID == "" {
		return FeedbackResponse{}, invalidf("alert_id or assessment_id is required")
	}

	alert, err := fr.pipeline.LoadAlert(req.AlertID)
	if err != nil {
		return FeedbackResponse{}, err
	}

	w, err := fr.profiles.RecordFeedback(req.UserID, alert.Disease, ft)
	if err != nil {
		return FeedbackResponse{}, err
	}

	fb := storage.Feedback{
		ID:            uuid.New().String(),
		UserID:        req.UserID,
		AlertID:       req.AlertID,
		Disease:       alert.Disease,
		Type:          string(ft),
		Comment:       req.Comment,
		LearnedWeight: w,
		CreatedAt:     time.Now().UTC(),
	}
	if err := fr.store.SaveFeedback(fb); err != nil {
		return FeedbackResponse{}, err
	}

	return FeedbackResponse{
		ID:            fb.ID,
		UserID:        fb.UserID,
		AlertID:       fb.AlertID,
		Disease:       fb.Disease,
		FeedbackType:  fb.Type,
		LearnedWeight: w,
	}, nil
}
