package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/kalambet/vitalsignal/internal/pipeline"
	"github.com/kalambet/vitalsignal/internal/profile"
	"github.com/kalambet/vitalsignal/internal/risk"
	"github.com/kalambet/vitalsignal/internal/storage"
)

const (
	formatHuman = "human"
	formatJSON  = "json"
	formatYAML  = "yaml"
)

// render writes v as JSON or YAML, or calls human for the default format.
func render(w io.Writer, v any, human func(io.Writer)) error {
	switch outputFormat {
	case formatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		return writeYAML(w, v)
	default:
		human(w)
		return nil
	}
}

// writeYAML goes through JSON so field names match the API's JSON tags.
func writeYAML(w io.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return err
	}
	out, err := yaml.Marshal(generic)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

func writeIndentedJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	enc.Encode(v)
}

func levelColor(l risk.Level) *color.Color {
	switch l {
	case risk.LevelCritical:
		return color.New(color.FgRed, color.Bold)
	case risk.LevelHigh:
		return color.New(color.FgRed)
	case risk.LevelMedium:
		return color.New(color.FgYellow)
	case risk.LevelLow:
		return color.New(color.FgGreen)
	default:
		return color.New(color.FgWhite)
	}
}

func levelIcon(l risk.Level) string {
	switch l {
	case risk.LevelCritical:
		return "🔴"
	case risk.LevelHigh:
		return "🟠"
	case risk.LevelMedium:
		return "🟡"
	case risk.LevelLow:
		return "🟢"
	default:
		return "⚪"
	}
}

func displayAssessment(w io.Writer, a risk.Assessment, processingMs int64) {
	bold := color.New(color.Bold)
	cyan := color.New(color.FgCyan, color.Bold)

	fmt.Fprintln(w)
	levelColor(a.Level).Fprintf(w, "%s RISK: %s", levelIcon(a.Level), strings.ToUpper(string(a.Level)))
	fmt.Fprintf(w, "  score %.2f  confidence %.2f  priority %d\n\n", a.Score, a.Confidence, a.Priority)

	if len(a.Reasoning) > 0 {
		bold.Fprintln(w, "WHY:")
		for i, r := range a.Reasoning {
			fmt.Fprintf(w, "   %d. %s\n", i+1, r)
		}
		fmt.Fprintln(w)
	}

	if len(a.Actions) > 0 {
		cyan.Fprintln(w, "WHAT TO DO:")
		for _, act := range a.Actions {
			fmt.Fprintf(w, "   • %s\n", act)
		}
		fmt.Fprintln(w)
	}

	if len(a.Components) > 0 {
		bold.Fprintln(w, "COMPONENTS:")
		for _, c := range a.Components {
			fmt.Fprintf(w, "   %-24s %6.3f\n", c.Name, c.Score)
		}
		fmt.Fprintln(w)
	}

	var flags []string
	if a.NeedsTranslation {
		flags = append(flags, "translation")
	}
	if a.NeedsImage {
		flags = append(flags, "infographic")
	}
	if len(flags) > 0 {
		fmt.Fprintf(w, "Follow-ups: %s\n", strings.Join(flags, ", "))
	}
	footer := fmt.Sprintf("assessment %s for user %s, alert %s", a.ID, a.UserID, a.AlertID)
	if processingMs > 0 {
		footer += fmt.Sprintf(" (%d ms)", processingMs)
	}
	fmt.Fprintln(w, color.HiBlackString(footer))
}

func displayResult(w io.Writer, res pipeline.Result) {
	fmt.Fprintf(w, "%s: %s\n", color.New(color.Bold).Sprint(res.User.Name), res.Alert.Title)
	displayAssessment(w, res.Assessment, res.ProcessingTimeMs)
	if len(res.Dispatched) > 0 {
		kinds := make([]string, len(res.Dispatched))
		for i, k := range res.Dispatched {
			kinds[i] = string(k)
		}
		fmt.Fprintf(w, "Queued: %s\n", strings.Join(kinds, ", "))
	}
}

func displayBatch(w io.Writer, b pipeline.BatchResult) {
	fmt.Fprintf(w, "Assessed %d users for alert %s\n\n", b.Assessed, b.AlertID)
	for _, r := range b.Results {
		a := r.Assessment
		levelColor(a.Level).Fprintf(w, "  %s %-9s", levelIcon(a.Level), a.Level)
		fmt.Fprintf(w, " %.2f  %-24s %s\n", a.Score, r.User.Name, r.User.ID)
	}
	if len(b.Failed) > 0 {
		fmt.Fprintln(w)
		color.New(color.FgRed).Fprintf(w, "%d users failed:\n", len(b.Failed))
		for _, f := range b.Failed {
			fmt.Fprintf(w, "  %s: %s\n", f.UserID, f.Error)
		}
	}
}

func displayUsers(w io.Writer, users []profile.Profile) {
	if len(users) == 0 {
		fmt.Fprintln(w, "No users found.")
		return
	}
	for _, u := range users {
		fmt.Fprintf(w, "%s  %-24s %s\n", color.CyanString(u.ID), u.Name, u.Location.Name)
	}
}

func displayAlerts(w io.Writer, alerts []risk.Alert) {
	if len(alerts) == 0 {
		fmt.Fprintln(w, "No alerts found.")
		return
	}
	for _, a := range alerts {
		fmt.Fprintf(w, "%s  %s  %-10s %-14s %s\n",
			color.CyanString(a.ID),
			a.PublishedAt.Format("2006-01-02"),
			a.Severity,
			a.Disease,
			a.Location.Name,
		)
	}
}

func displayAssessments(w io.Writer, items []pipeline.StoredAssessment) {
	if len(items) == 0 {
		fmt.Fprintln(w, "No assessments found.")
		return
	}
	for _, a := range items {
		levelColor(a.Level).Fprintf(w, "%s %-9s", levelIcon(a.Level), a.Level)
		fmt.Fprintf(w, " %.2f  %s  user %s  alert %s\n", a.Score, color.CyanString(a.ID), a.UserID, a.AlertID)
	}
}

func displayMetrics(w io.Writer, m storage.Metrics) {
	bold := color.New(color.Bold)
	fmt.Fprintf(w, "%s %d\n", bold.Sprint("Users:"), m.Users)
	fmt.Fprintf(w, "%s %d\n", bold.Sprint("Alerts:"), m.Alerts)
	fmt.Fprintf(w, "%s %d (avg %.1f ms)\n", bold.Sprint("Assessments:"), m.Assessments, m.AvgProcessingMs)
	for _, l := range risk.Levels {
		if n := m.ByLevel[string(l)]; n > 0 {
			levelColor(l).Fprintf(w, "  %-9s %d\n", l, n)
		}
	}
	fmt.Fprintf(w, "%s %d\n", bold.Sprint("Feedback:"), m.Feedback)
	for _, k := range sortedKeys(m.FeedbackByType) {
		fmt.Fprintf(w, "  %-21s %d\n", k, m.FeedbackByType[k])
	}
	if len(m.JobsByStatus) > 0 {
		fmt.Fprintln(w, bold.Sprint("Dispatch jobs:"))
		for _, k := range sortedKeys(m.JobsByStatus) {
			fmt.Fprintf(w, "  %-9s %d\n", k, m.JobsByStatus[k])
		}
	}
	if m.LastAssessmentAt != nil {
		fmt.Fprintf(w, "%s %s\n", bold.Sprint("Last assessment:"), m.LastAssessmentAt.Format("2006-01-02 15:04:05"))
	}
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
