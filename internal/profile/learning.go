package profile

import (
	"math"
	"strings"

	"github.com/kalambet/vitalsignal/internal/geo"
)

// FeedbackType is a user's verdict on an assessment.
type FeedbackType string

const (
	FeedbackHelpful            FeedbackType = "helpful"
	FeedbackNotHelpful         FeedbackType = "not_helpful"
	FeedbackTooSensitive       FeedbackType = "too_sensitive"
	FeedbackNotSensitiveEnough FeedbackType = "not_sensitive_enough"
	FeedbackFalsePositive      FeedbackType = "false_positive"
)

const (
	DefaultLearnedWeight = 1.0
	MinLearnedWeight     = 0.5
	MaxLearnedWeight     = 1.5
)

var feedbackSteps = map[FeedbackType]float64{
	FeedbackHelpful:            -0.02,
	FeedbackNotHelpful:         -0.05,
	FeedbackTooSensitive:       -0.10,
	FeedbackFalsePositive:      -0.10,
	FeedbackNotSensitiveEnough: 0.10,
}

// Valid reports whether f is a known feedback type.
func (f FeedbackType) Valid() bool {
	_, ok := feedbackSteps[f]
	return ok
}

// WeightKey is the learned-weight key for a disease name.
func WeightKey(disease string) string {
	return geo.Normalize(strings.TrimSpace(disease))
}

// ClampWeight bounds a learned weight to its allowed range.
func ClampWeight(w float64) float64 {
	return math.Max(MinLearnedWeight, math.Min(MaxLearnedWeight, w))
}

// Learn returns a copy of weights with key nudged by feedback f, and the new value.
func Learn(weights map[string]float64, key string, f FeedbackType) (map[string]float64, float64) {
	out := make(map[string]float64, len(weights)+1)
	for k, v := range weights {
		out[k] = v
	}
	cur, ok := out[key]
	if !ok {
		cur = DefaultLearnedWeight
	}
	next := ClampWeight(cur + feedbackSteps[f])
	// Avoid float drift like 0.8999999999 after repeated steps.
	next = math.Round(next*1000) / 1000
	out[key] = next
	return out, next
}
