package pipeline

import (
	"context"
	"errors"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/vitalsignal/internal/profile"
	"github.com/kalambet/vitalsignal/internal/risk"
)

// UserFailure records a user the batch could not assess.
type UserFailure struct {
	UserID string `json:"user_id"`
	Error  string `json:"error"`
}

// BatchResult summarizes assessing one alert against many users.
type BatchResult struct {
	AlertID  string         `json:"alert_id"`
	Assessed int            `json:"assessed"`
	ByLevel  map[string]int `json:"by_level"`
	Results  []Result       `json:"results"`
	Failed   []UserFailure  `json:"failed,omitempty"`
}

// AssessAlert assesses a stored alert against every stored user.
func (p *Personalizer) AssessAlert(ctx context.Context, alertID string) (BatchResult, error) {
	alert, err := p.LoadAlert(alertID)
	if err != nil {
		return BatchResult{}, err
	}
	users, err := p.profiles.List(0, 0)
	if err != nil {
		return BatchResult{}, err
	}
	return p.AssessAll(ctx, alert, users)
}

// AssessAll fans the alert out over users with bounded concurrency.
// A user whose assessment fails is reported in Failed without stopping the
// batch; only context cancellation aborts it. Results are ordered by
// descending risk score.
func (p *Personalizer) AssessAll(ctx context.Context, alert risk.Alert, users []profile.Profile) (BatchResult, error) {
	results := make([]*Result, len(users))
	failures := make([]error, len(users))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for i, u := range users {
		g.Go(func() error {
			res, err := p.assess(gctx, u, alert)
			if err != nil {
				if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
					return err
				}
				failures[i] = err
				return nil
			}
			results[i] = &res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return BatchResult{}, err
	}

	out := BatchResult{AlertID: alert.ID, ByLevel: map[string]int{}, Results: []Result{}}
	for i, r := range results {
		if r == nil {
			if failures[i] != nil {
				p.logger.Warn("batch assessment failed", "user_id", users[i].ID, "alert_id", alert.ID, "error", failures[i])
				out.Failed = append(out.Failed, UserFailure{UserID: users[i].ID, Error: failures[i].Error()})
			}
			continue
		}
		out.Results = append(out.Results, *r)
		out.ByLevel[string(r.Assessment.Level)]++
	}
	out.Assessed = len(out.Results)
	sort.SliceStable(out.Results, func(i, j int) bool {
		return out.Results[i].Assessment.Score > out.Results[j].Assessment.Score
	})

	p.logger.Info("batch assessment complete", "alert_id", alert.ID, "assessed", out.Assessed, "failed", len(out.Failed))
	return out, nil
}
