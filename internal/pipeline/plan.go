package pipeline

import (
	"slices"

	"github.com/kalambet/vitalsignal/internal/dispatch"
	"github.com/kalambet/vitalsignal/internal/profile"
	"github.com/kalambet/vitalsignal/internal/risk"
)

const defaultNotificationThreshold = risk.LevelHigh

// Plan decides which follow-up actions an assessment triggers:
// translation when languages differ, an infographic for high or critical
// risk, and an email when the level reaches the user's notification
// threshold and the user accepts email.
func Plan(u profile.Profile, alert risk.Alert, a risk.Assessment) []dispatch.Request {
	base := dispatch.Request{
		AssessmentID: a.ID,
		UserID:       u.ID,
		AlertID:      alert.ID,
		Disease:      alert.Disease,
		Location:     alert.Location.Name,
		Level:        string(a.Level),
		Score:        a.Score,
		Priority:     a.Priority,
		Title:        alert.Title,
	}

	var out []dispatch.Request
	if a.NeedsTranslation {
		r := base
		r.Kind = dispatch.KindTranslate
		r.Languages = targetLanguages(u, alert)
		r.Reasoning = a.Reasoning
		r.Actions = a.Actions
		out = append(out, r)
	}
	if a.NeedsImage {
		r := base
		r.Kind = dispatch.KindImage
		out = append(out, r)
	}
	if u.Email != "" && wantsEmail(u) && a.Level.AtLeast(notificationThreshold(u)) {
		r := base
		r.Kind = dispatch.KindEmail
		r.Email = u.Email
		r.Languages = []string{u.Preferences.PreferredLanguage()}
		r.Reasoning = a.Reasoning
		r.Actions = a.Actions
		out = append(out, r)
	}
	return out
}

func notificationThreshold(u profile.Profile) risk.Level {
	l := risk.Level(u.Preferences.NotificationThreshold)
	if l.Rank() < 0 {
		return defaultNotificationThreshold
	}
	return l
}

// wantsEmail is true when the user listed no channels or listed email.
func wantsEmail(u profile.Profile) bool {
	ch := u.Preferences.NotifyChannels
	return len(ch) == 0 || slices.Contains(ch, "email")
}

// targetLanguages lists the user's and relatives' languages that differ
// from the alert's, without duplicates.
func targetLanguages(u profile.Profile, alert risk.Alert) []string {
	src := alert.SourceLanguage()
	var out []string
	add := func(lang string) {
		if lang == "" || risk.SameLanguage(lang, src) || slices.Contains(out, lang) {
			return
		}
		out = append(out, lang)
	}
	add(u.Preferences.PreferredLanguage())
	for _, fm := range u.FamilyMembers {
		add(fm.Language)
	}
	return out
}
