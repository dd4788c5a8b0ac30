// Package dispatch delivers follow-up actions for assessments:
// translation, image generation and notification emails. Requests are
// queued as jobs in storage and handed to a Sender by a polling Worker.
package dispatch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/kalambet/vitalsignal/internal/storage"
)

// Kind is the follow-up action a Request asks for.
type Kind string

const (
	KindTranslate Kind = "translate"
	KindImage     Kind = "image"
	KindEmail     Kind = "email"
)

// Kinds lists every dispatch kind.
var Kinds = []Kind{KindTranslate, KindImage, KindEmail}

const jobPrefix = "dispatch_"

// JobType is the storage job type that carries requests of kind k.
func (k Kind) JobType() string {
	return jobPrefix + string(k)
}

// JobTypes returns the job types of all kinds.
func JobTypes() []string {
	out := make([]string, len(Kinds))
	for i, k := range Kinds {
		out[i] = k.JobType()
	}
	return out
}

// Request is the payload of a dispatch job.
type Request struct {
	Kind         Kind     `json:"kind"`
	AssessmentID string   `json:"assessment_id"`
	UserID       string   `json:"user_id"`
	AlertID      string   `json:"alert_id"`
	Disease      string   `json:"disease"`
	Location     string   `json:"location,omitempty"`
	Level        string   `json:"risk_level"`
	Score        float64  `json:"risk_score"`
	Priority     int      `json:"priority"`
	Email        string   `json:"email,omitempty"`
	Languages    []string `json:"languages,omitempty"`
	Title        string   `json:"title,omitempty"`
	Reasoning    []string `json:"reasoning,omitempty"`
	Actions      []string `json:"recommended_actions,omitempty"`
}

// JobEnqueuer is the queue operation used to submit requests.
type JobEnqueuer interface {
	EnqueueJob(job storage.Job) error
}

// Enqueue stores r as a pending job and returns the job ID.
func Enqueue(q JobEnqueuer, r Request) (string, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("marshalling %s request: %w", r.Kind, err)
	}
	id := uuid.New().String()
	if err := q.EnqueueJob(storage.Job{ID: id, Type: r.Kind.JobType(), PayloadJSON: string(b)}); err != nil {
		return "", fmt.Errorf("enqueueing %s request: %w", r.Kind, err)
	}
	return id, nil
}

func decodeRequest(job *storage.Job) (Request, error) {
	var r Request
	if err := json.Unmarshal([]byte(job.PayloadJSON), &r); err != nil {
		return Request{}, fmt.Errorf("parsing payload: %w", err)
	}
	if r.Kind == "" {
		r.Kind = Kind(strings.TrimPrefix(job.Type, jobPrefix))
	}
	return r, nil
}
