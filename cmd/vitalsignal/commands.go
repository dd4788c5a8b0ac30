package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kalambet/vitalsignal/internal/api"
	"github.com/kalambet/vitalsignal/internal/bulletin"
	"github.com/kalambet/vitalsignal/internal/config"
	"github.com/kalambet/vitalsignal/internal/geo"
	"github.com/kalambet/vitalsignal/internal/pipeline"
	"github.com/kalambet/vitalsignal/internal/profile"
	"github.com/kalambet/vitalsignal/internal/risk"
	"github.com/kalambet/vitalsignal/internal/storage"
)

// readDocument loads a JSON or YAML file and returns it as JSON.
func readDocument(path string) (json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var v any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
		out, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("converting %s: %w", path, err)
		}
		return out, nil
	default:
		if !json.Valid(data) {
			return nil, fmt.Errorf("parsing %s: invalid JSON", path)
		}
		return data, nil
	}
}

// --- users ---

var usersCmd = &cobra.Command{
	Use:   "users",
	Short: "Manage user health profiles",
}

var usersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List users",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/v1/users?limit=%d", limit))
		if err != nil {
			return err
		}
		var users []profile.Profile
		if err := decodeJSON(resp, &users); err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), users, func(w io.Writer) { displayUsers(w, users) })
	},
}

var usersShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a user profile",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/users/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var p profile.Profile
		if err := decodeJSON(resp, &p); err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), p, func(w io.Writer) { writeIndentedJSON(w, p) })
	},
}

var usersAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add or replace a user from a JSON or YAML profile file",
	Long: `Add a user from a JSON or YAML profile file. If the file has an "id"
that already exists, the stored profile is replaced.

Example:
  vitalsignal users add --file maria.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		file, _ := cmd.Flags().GetString("file")
		if file == "" {
			return fmt.Errorf("--file is required")
		}
		doc, err := readDocument(file)
		if err != nil {
			return err
		}
		var head struct {
			ID string `json:"id"`
		}
		json.Unmarshal(doc, &head)

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var p profile.Profile
		if head.ID != "" {
			resp, err := client.put(cmd.Context(), "/v1/users/"+url.PathEscape(head.ID), doc)
			if err != nil {
				return err
			}
			if resp.StatusCode == 404 {
				resp.Body.Close()
			} else {
				if err := decodeJSON(resp, &p); err != nil {
					return err
				}
				printSuccess("Updated user %s (%s)", p.Name, p.ID)
				return nil
			}
		}

		resp, err := client.post(cmd.Context(), "/v1/users", doc)
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, &p); err != nil {
			return err
		}
		printSuccess("Added user %s (%s)", p.Name, p.ID)
		return nil
	},
}

var usersDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.delete(cmd.Context(), "/v1/users/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		if err := decodeJSON(resp, nil); err != nil {
			return err
		}
		printSuccess("Deleted user %s", args[0])
		return nil
	},
}

func init() {
	usersListCmd.Flags().Int("limit", 50, "maximum number of users to list")
	usersAddCmd.Flags().String("file", "", "profile file (.json, .yaml)")
	usersCmd.AddCommand(usersListCmd, usersShowCmd, usersAddCmd, usersDeleteCmd)
}

// --- alerts ---

var alertsCmd = &cobra.Command{
	Use:   "alerts",
	Short: "Manage outbreak alerts",
}

// alertFromFlags builds an alert from --file, or from individual flags
// with an optional PDF bulletin as the description.
func alertFromFlags(cmd *cobra.Command) (json.RawMessage, error) {
	if file, _ := cmd.Flags().GetString("file"); file != "" {
		return readDocument(file)
	}

	disease, _ := cmd.Flags().GetString("disease")
	if disease == "" {
		return nil, fmt.Errorf("one of --file or --disease is required")
	}
	a := risk.Alert{Disease: disease}
	a.Location = geo.Location{Name: flagString(cmd, "location")}
	a.Severity = risk.Severity(flagString(cmd, "severity"))
	a.Title = flagString(cmd, "title")
	a.Description = flagString(cmd, "description")
	a.Language = flagString(cmd, "language")
	a.Source = flagString(cmd, "source")

	if pdfPath := flagString(cmd, "pdf"); pdfPath != "" {
		data, err := os.ReadFile(pdfPath)
		if err != nil {
			return nil, fmt.Errorf("reading bulletin: %w", err)
		}
		text, err := bulletin.TextFromPDFBytes(data)
		if err != nil {
			return nil, err
		}
		if a.Description != "" {
			text = a.Description + "\n\n" + text
		}
		a.Description = text
	}
	return json.Marshal(a)
}

func flagString(cmd *cobra.Command, name string) string {
	v, _ := cmd.Flags().GetString(name)
	return v
}

var alertsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Store an outbreak alert",
	Long: `Store an outbreak alert from a file or from flags.

Examples:
  vitalsignal alerts add --file dengue.json
  vitalsignal alerts add --disease dengue --location "São Paulo, Brazil" --severity outbreak --language pt
  vitalsignal alerts add --disease cholera --location "Lusaka, Zambia" --pdf bulletin.pdf`,
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := alertFromFlags(cmd)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/alerts", body)
		if err != nil {
			return err
		}
		var a risk.Alert
		if err := decodeJSON(resp, &a); err != nil {
			return err
		}
		printSuccess("Stored alert %s (%s in %s)", a.ID, a.Disease, a.Location.Name)
		return nil
	},
}

var alertsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/v1/alerts?limit=%d", limit))
		if err != nil {
			return err
		}
		var alerts []risk.Alert
		if err := decodeJSON(resp, &alerts); err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), alerts, func(w io.Writer) { displayAlerts(w, alerts) })
	},
}

var alertsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show an alert",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/alerts/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var a risk.Alert
		if err := decodeJSON(resp, &a); err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), a, func(w io.Writer) { writeIndentedJSON(w, a) })
	},
}

var alertsAssessCmd = &cobra.Command{
	Use:   "assess <id>",
	Short: "Assess a stored alert against every user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		s := spinner.New(spinner.CharSets[11], 100*time.Millisecond, spinner.WithWriter(os.Stderr))
		s.Suffix = " Assessing users..."
		if outputFormat == formatHuman {
			s.Start()
		}
		resp, err := client.post(cmd.Context(), "/v1/alerts/"+url.PathEscape(args[0])+"/assess", nil)
		s.Stop()
		if err != nil {
			return err
		}

		var batch pipeline.BatchResult
		if err := decodeJSON(resp, &batch); err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), batch, func(w io.Writer) { displayBatch(w, batch) })
	},
}

func init() {
	alertsAddCmd.Flags().String("file", "", "alert file (.json, .yaml)")
	alertsAddCmd.Flags().String("disease", "", "disease name")
	alertsAddCmd.Flags().String("location", "", "affected location")
	alertsAddCmd.Flags().String("severity", "", "sporadic, cluster, outbreak, epidemic or pandemic")
	alertsAddCmd.Flags().String("title", "", "alert title")
	alertsAddCmd.Flags().String("description", "", "alert description (HTML allowed)")
	alertsAddCmd.Flags().String("language", "", "alert language tag, e.g. pt")
	alertsAddCmd.Flags().String("source", "", "reporting source")
	alertsAddCmd.Flags().String("pdf", "", "PDF bulletin whose text becomes the description")
	alertsListCmd.Flags().Int("limit", 20, "maximum number of alerts to list")
	alertsCmd.AddCommand(alertsAddCmd, alertsListCmd, alertsShowCmd, alertsAssessCmd)
}

// --- personalize ---

var personalizeCmd = &cobra.Command{
	Use:   "personalize",
	Short: "Assess one alert for one user",
	Long: `Assess an alert for a single user and print the personalized risk.

Example:
  vitalsignal personalize --user 7f3c... --alert-file dengue.json`,
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		alertFile, _ := cmd.Flags().GetString("alert-file")
		if userID == "" || alertFile == "" {
			return fmt.Errorf("--user and --alert-file are required")
		}
		alert, err := readDocument(alertFile)
		if err != nil {
			return err
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/personalize", map[string]any{
			"user_id": userID,
			"alert":   alert,
		})
		if err != nil {
			return err
		}
		var res pipeline.Result
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), res, func(w io.Writer) { displayResult(w, res) })
	},
}

func init() {
	personalizeCmd.Flags().String("user", "", "user ID")
	personalizeCmd.Flags().String("alert-file", "", "alert file (.json, .yaml)")
}

// --- feedback ---

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Tell vitalsignal how an assessment landed",
	Long: `Record feedback on an assessment. Feedback nudges how strongly the
alert's disease is weighted for the user in future assessments.

Types: helpful, not_helpful, too_sensitive, not_sensitive_enough, false_positive

Example:
  vitalsignal feedback --user 7f3c... --alert 91ab... --type too_sensitive`,
	RunE: func(cmd *cobra.Command, args []string) error {
		req := api.FeedbackRequest{
			UserID:       flagString(cmd, "user"),
			AlertID:      flagString(cmd, "alert"),
			AssessmentID: flagString(cmd, "assessment"),
			FeedbackType: flagString(cmd, "type"),
			Comment:      flagString(cmd, "comment"),
		}
		if req.UserID == "" || req.FeedbackType == "" {
			return fmt.Errorf("--user and --type are required")
		}
		if req.AlertID == "" && req.AssessmentID == "" {
			return fmt.Errorf("one of --alert or --assessment is required")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/feedback", req)
		if err != nil {
			return err
		}
		var res api.FeedbackResponse
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		printSuccess("Recorded %s; %s weight is now %.2f", res.FeedbackType, res.Disease, res.LearnedWeight)
		return nil
	},
}

func init() {
	feedbackCmd.Flags().String("user", "", "user ID")
	feedbackCmd.Flags().String("alert", "", "alert ID")
	feedbackCmd.Flags().String("assessment", "", "assessment ID (alternative to --alert)")
	feedbackCmd.Flags().String("type", "", "feedback type")
	feedbackCmd.Flags().String("comment", "", "optional comment")
}

// --- assessments ---

var assessmentsCmd = &cobra.Command{
	Use:   "assessments",
	Short: "Browse stored assessments",
}

var assessmentsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List assessments, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		q := url.Values{}
		if v := flagString(cmd, "user"); v != "" {
			q.Set("user_id", v)
		}
		if v := flagString(cmd, "alert"); v != "" {
			q.Set("alert_id", v)
		}
		limit, _ := cmd.Flags().GetInt("limit")
		q.Set("limit", fmt.Sprint(limit))

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/assessments?"+q.Encode())
		if err != nil {
			return err
		}
		var items []pipeline.StoredAssessment
		if err := decodeJSON(resp, &items); err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), items, func(w io.Writer) { displayAssessments(w, items) })
	},
}

var assessmentsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show an assessment with its reasoning",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/assessments/"+url.PathEscape(args[0]))
		if err != nil {
			return err
		}
		var a pipeline.StoredAssessment
		if err := decodeJSON(resp, &a); err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), a, func(w io.Writer) { displayAssessment(w, a.Assessment, a.ProcessingTimeMs) })
	},
}

func init() {
	assessmentsListCmd.Flags().String("user", "", "filter by user ID")
	assessmentsListCmd.Flags().String("alert", "", "filter by alert ID")
	assessmentsListCmd.Flags().Int("limit", 20, "maximum number of assessments")
	assessmentsCmd.AddCommand(assessmentsListCmd, assessmentsShowCmd)
}

// --- metrics ---

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Show assessment and feedback statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/metrics")
		if err != nil {
			return err
		}
		var m storage.Metrics
		if err := decodeJSON(resp, &m); err != nil {
			return err
		}
		return render(cmd.OutOrStdout(), m, func(w io.Writer) { displayMetrics(w, m) })
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		return render(cmd.OutOrStdout(), keys, func(w io.Writer) {
			for _, k := range keys {
				fmt.Fprintf(w, "  %s = %s\n", labelColor.Sprint(k.Key), k.Value)
			}
			fmt.Fprintf(w, "\nConfig file: %s\n", config.ConfigFilePath())
		})
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return fmt.Errorf("%w (valid keys: %s)", err, strings.Join(config.ValidKeys(), ", "))
		}

		printSuccess("Set %s", key)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd)
}
