package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/kalambet/vitalsignal/internal/pipeline"
	"github.com/kalambet/vitalsignal/internal/profile"
	"github.com/kalambet/vitalsignal/internal/risk"
	"github.com/kalambet/vitalsignal/internal/storage"
)

const defaultAssessTimeout = 10 * time.Second

type AppDeps struct {
	Store    *storage.Store
	Profiles *profile.Manager
	Pipeline *pipeline.Personalizer
	Token    string

	// AssessTimeout bounds personalize and batch assess requests.
	AssessTimeout time.Duration
}

func (d AppDeps) feedback() feedbackRecorder {
	return feedbackRecorder{store: d.Store, profiles: d.Profiles, pipeline: d.Pipeline}
}

func (d AppDeps) assessContext(parent context.Context) (context.Context, context.CancelFunc) {
	t := d.AssessTimeout
	if t <= 0 {
		t = defaultAssessTimeout
	}
	return context.WithTimeout(parent, t)
}

// NewAppHandler returns the REST API. Everything under /v1 requires the
// bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/users", handleListUsers(deps))
		r.Post("/users", handleCreateUser(deps))
		r.Get("/users/{id}", handleGetUser(deps))
		r.Put("/users/{id}", handleUpdateUser(deps))
		r.Delete("/users/{id}", handleDeleteUser(deps))
		r.Get("/users/{id}/feedback", handleListUserFeedback(deps))

		r.Post("/alerts", handleCreateAlert(deps))
		r.Get("/alerts", handleListAlerts(deps))
		r.Get("/alerts/{id}", handleGetAlert(deps))
		r.Post("/alerts/{id}/assess", handleAssessAlert(deps))

		r.Post("/personalize", handlePersonalize(deps))

		r.Get("/assessments", handleListAssessments(deps))
		r.Get("/assessments/{id}", handleGetAssessment(deps))

		r.Post("/feedback", handleFeedback(deps))
		r.Get("/metrics", handleMetrics(deps))
	})

	return r
}

func handleListUsers(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 50, 500)
		offset := parseIntParam(r, "offset", 0, 0)

		users, err := deps.Profiles.List(limit, offset)
		if err != nil {
			writeErr(w, err, "failed to list users")
			return
		}
		writeJSON(w, http.StatusOK, users)
	}
}

func handleCreateUser(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p profile.Profile
		if !decodeBody(w, r, &p) {
			return
		}
		if p.ID != "" {
			if _, err := deps.Profiles.Get(p.ID); err == nil {
				httpError(w, http.StatusConflict, "conflict_error", "user %s already exists", p.ID)
				return
			}
		}

		saved, err := deps.Profiles.Save(p)
		if err != nil {
			writeErr(w, err, "failed to save user")
			return
		}
		writeJSON(w, http.StatusCreated, saved)
	}
}

func handleGetUser(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := deps.Profiles.Get(chi.URLParam(r, "id"))
		if err != nil {
			writeErr(w, err, "failed to get user")
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

// handleUpdateUser replaces a profile. Learned weights are server-owned
// and kept unless the body supplies them.
func handleUpdateUser(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p profile.Profile
		if !decodeBody(w, r, &p) {
			return
		}

		saved, err := deps.Profiles.Replace(chi.URLParam(r, "id"), p)
		if err != nil {
			writeErr(w, err, "failed to save user")
			return
		}
		writeJSON(w, http.StatusOK, saved)
	}
}

func handleDeleteUser(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Profiles.Delete(chi.URLParam(r, "id")); err != nil {
			writeErr(w, err, "failed to delete user")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

func handleListUserFeedback(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := deps.Profiles.Get(id); err != nil {
			writeErr(w, err, "failed to get user")
			return
		}
		items, err := deps.Store.ListFeedback(id, parseIntParam(r, "limit", 50, 500))
		if err != nil {
			writeErr(w, err, "failed to list feedback")
			return
		}
		out := make([]FeedbackResponse, len(items))
		for i, f := range items {
			out[i] = FeedbackResponse{
				ID:            f.ID,
				UserID:        f.UserID,
				AlertID:       f.AlertID,
				Disease:       f.Disease,
				FeedbackType:  f.Type,
				LearnedWeight: f.LearnedWeight,
			}
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleCreateAlert(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var a risk.Alert
		if !decodeBody(w, r, &a) {
			return
		}
		a = deps.Pipeline.NormalizeAlert(a)
		if err := deps.Pipeline.SaveAlert(a); err != nil {
			writeErr(w, err, "failed to save alert")
			return
		}
		writeJSON(w, http.StatusCreated, a)
	}
}

func handleListAlerts(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		recs, err := deps.Store.ListAlerts(limit, offset)
		if err != nil {
			writeErr(w, err, "failed to list alerts")
			return
		}
		alerts := make([]risk.Alert, 0, len(recs))
		for _, rec := range recs {
			a, err := pipeline.DecodeAlert(rec)
			if err != nil {
				writeErr(w, err, "failed to list alerts")
				return
			}
			alerts = append(alerts, a)
		}
		writeJSON(w, http.StatusOK, alerts)
	}
}

func handleGetAlert(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, err := deps.Pipeline.LoadAlert(chi.URLParam(r, "id"))
		if err != nil {
			writeErr(w, err, "failed to get alert")
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

func handleAssessAlert(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := deps.assessContext(r.Context())
		defer cancel()

		batch, err := deps.Pipeline.AssessAlert(ctx, chi.URLParam(r, "id"))
		if err != nil {
			writeErr(w, err, "failed to assess alert")
			return
		}
		writeJSON(w, http.StatusOK, batch)
	}
}

// PersonalizeRequest asks for one user's assessment of an alert.
type PersonalizeRequest struct {
	UserID string     `json:"user_id"`
	Alert  risk.Alert `json:"alert"`
}

func handlePersonalize(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req PersonalizeRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if req.UserID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "user_id is required")
			return
		}

		ctx, cancel := deps.assessContext(r.Context())
		defer cancel()

		res, err := deps.Pipeline.Personalize(ctx, req.UserID, req.Alert)
		if err != nil {
			writeErr(w, err, "failed to personalize alert")
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleListAssessments(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		recs, err := deps.Store.ListAssessments(storage.AssessmentFilter{
			UserID:  q.Get("user_id"),
			AlertID: q.Get("alert_id"),
			Limit:   parseIntParam(r, "limit", 20, 100),
			Offset:  parseIntParam(r, "offset", 0, 0),
		})
		if err != nil {
			writeErr(w, err, "failed to list assessments")
			return
		}
		out := make([]pipeline.StoredAssessment, 0, len(recs))
		for _, rec := range recs {
			a, err := pipeline.DecodeAssessment(rec)
			if err != nil {
				writeErr(w, err, "failed to list assessments")
				return
			}
			out = append(out, a)
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleGetAssessment(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := deps.Store.GetAssessment(chi.URLParam(r, "id"))
		if err != nil {
			writeErr(w, err, "failed to get assessment")
			return
		}
		a, err := pipeline.DecodeAssessment(rec)
		if err != nil {
			writeErr(w, err, "failed to get assessment")
			return
		}
		writeJSON(w, http.StatusOK, a)
	}
}

func handleFeedback(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req FeedbackRequest
		if !decodeBody(w, r, &req) {
			return
		}
		res, err := deps.feedback().record(req)
		if err != nil {
			writeErr(w, err, "failed to record feedback")
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleMetrics(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		m, err := deps.Store.Metrics()
		if err != nil {
			writeErr(w, err, "failed to compute metrics")
			return
		}
		writeJSON(w, http.StatusOK, m)
	}
}
