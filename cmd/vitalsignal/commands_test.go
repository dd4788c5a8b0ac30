package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/kalambet/vitalsignal/internal/pipeline"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

// runCLI executes the root command against ts and returns stdout.
func runCLI(t *testing.T, ts *testServer, args ...string) (string, error) {
	t.Helper()

	orig := newAPIClient
	newAPIClient = func() (*apiClient, error) { return ts.client(), nil }
	outputFormat = formatHuman
	color.NoColor = true

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		newAPIClient = orig
		outputFormat = formatHuman
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
	})

	err := rootCmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const usersJSON = `[
  {"id":"u-1","name":"Maria Silva","location":{"name":"Miami, FL"}},
  {"id":"u-2","name":"Kofi Mensah","location":{"name":"Accra, Ghana"}}
]`

const resultJSON = `{
  "user": {"id":"u-1","name":"Maria Silva","location":{"name":"Miami, FL"}},
  "alert": {"id":"a-1","disease":"dengue","title":"Dengue outbreak","location":{"name":"São Paulo, Brazil"}},
  "assessment": {
    "id":"as-1","user_id":"u-1","alert_id":"a-1",
    "risk_level":"high","risk_score":0.62,"confidence":0.8,
    "components":[{"name":"base_severity","score":0.7}],
    "reasoning":["Your sister lives in São Paulo, where the outbreak is."],
    "recommended_actions":["Check in with family in the affected area"],
    "needs_translation":true,"needs_image":false,"priority":7
  },
  "processing_time_ms": 3,
  "dispatched": ["translation"]
}`

func TestClient_RequestAndAuth(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/feedback": `{"id":"fb-1","feedback_type":"helpful","learned_weight":0.98}`,
	})

	resp, err := ts.client().post(ctx, "/v1/feedback", map[string]string{"user_id": "u-1"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var result map[string]any
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if result["id"] != "fb-1" {
		t.Errorf("id = %v, want fb-1", result["id"])
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Method != "POST" {
		t.Errorf("method = %q, want POST", r.Method)
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}
	if !strings.Contains(r.Body, `"user_id":"u-1"`) {
		t.Errorf("body = %q, want user_id", r.Body)
	}
}

func TestDecodeJSON_ErrorEnvelope(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, err := ts.client().get(ctx, "/v1/users/missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err = decodeJSON(resp, nil)
	if err == nil {
		t.Fatal("expected error for 404")
	}
	if !strings.Contains(err.Error(), "404") || !strings.Contains(err.Error(), "not found") {
		t.Errorf("error = %q, want status and message", err.Error())
	}
}

func TestDecodeJSON_PlainErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(502)
		w.Write([]byte("bad gateway"))
	}))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	err = decodeJSON(resp, nil)
	if err == nil || !strings.Contains(err.Error(), "bad gateway") {
		t.Errorf("error = %v, want raw body in message", err)
	}
}

func TestUsersList_Human(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /v1/users": usersJSON,
	})

	out, err := runCLI(t, ts, "users", "list")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"u-1", "Maria Silva", "Accra, Ghana"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if ts.requests[0].Path != "/v1/users?limit=50" {
		t.Errorf("path = %q, want /v1/users?limit=50", ts.requests[0].Path)
	}
}

func TestUsersList_YAML(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /v1/users": usersJSON,
	})

	out, err := runCLI(t, ts, "users", "list", "-o", "yaml")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var users []map[string]any
	if err := yaml.Unmarshal([]byte(out), &users); err != nil {
		t.Fatalf("output is not YAML: %v\n%s", err, out)
	}
	if len(users) != 2 {
		t.Fatalf("got %d users, want 2", len(users))
	}
	if users[1]["name"] != "Kofi Mensah" {
		t.Errorf("name = %v, want Kofi Mensah", users[1]["name"])
	}
}

func TestPersonalize_JSONOutput(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/personalize": resultJSON,
	})
	alertFile := writeFile(t, "dengue.yaml", `
disease: dengue
title: Dengue outbreak
severity: outbreak
language: pt
location:
  name: São Paulo, Brazil
`)

	out, err := runCLI(t, ts, "personalize", "--user", "u-1", "--alert-file", alertFile, "-o", "json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var res pipeline.Result
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, out)
	}
	if res.Assessment.Level != "high" {
		t.Errorf("level = %q, want high", res.Assessment.Level)
	}

	var sent struct {
		UserID string         `json:"user_id"`
		Alert  map[string]any `json:"alert"`
	}
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &sent); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if sent.UserID != "u-1" {
		t.Errorf("user_id = %q, want u-1", sent.UserID)
	}
	if sent.Alert["disease"] != "dengue" {
		t.Errorf("alert.disease = %v, want dengue", sent.Alert["disease"])
	}
}

func TestPersonalize_Human(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/personalize": resultJSON,
	})
	alertFile := writeFile(t, "dengue.json", `{"disease":"dengue","location":{"name":"São Paulo"}}`)

	out, err := runCLI(t, ts, "personalize", "--user", "u-1", "--alert-file", alertFile)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"RISK: HIGH", "WHY:", "sister lives in São Paulo", "WHAT TO DO:", "Follow-ups: translation", "Queued: translation"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPersonalize_MissingFlags(t *testing.T) {
	ts := newTestServer(t, nil)

	_, err := runCLI(t, ts, "personalize", "--user=", "--alert-file=")
	if err == nil {
		t.Fatal("expected error for missing flags")
	}
	if !strings.Contains(err.Error(), "required") {
		t.Errorf("error = %q, want it to mention 'required'", err.Error())
	}
	if len(ts.requests) != 0 {
		t.Errorf("expected no requests, got %d", len(ts.requests))
	}
}

func TestFeedbackCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/feedback": `{"id":"fb-1","user_id":"u-1","alert_id":"a-1","disease":"dengue","feedback_type":"too_sensitive","learned_weight":0.9}`,
	})

	_, err := runCLI(t, ts, "feedback", "--user", "u-1", "--alert", "a-1", "--assessment=", "--type", "too_sensitive", "--comment", "too many alerts")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var sent map[string]any
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &sent); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if sent["feedback_type"] != "too_sensitive" {
		t.Errorf("feedback_type = %v, want too_sensitive", sent["feedback_type"])
	}
	if sent["alert_id"] != "a-1" {
		t.Errorf("alert_id = %v, want a-1", sent["alert_id"])
	}
	if sent["comment"] != "too many alerts" {
		t.Errorf("comment = %v, want too many alerts", sent["comment"])
	}
}

func TestFeedbackCommand_NeedsAlertOrAssessment(t *testing.T) {
	ts := newTestServer(t, nil)

	_, err := runCLI(t, ts, "feedback", "--user", "u-1", "--type", "helpful", "--alert=", "--assessment=")
	if err == nil {
		t.Fatal("expected error without --alert or --assessment")
	}
	if !strings.Contains(err.Error(), "--alert") {
		t.Errorf("error = %q, want it to mention --alert", err.Error())
	}
}

func TestAlertsAdd_FromFlags(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /v1/alerts": `{"id":"a-9","disease":"cholera","location":{"name":"Lusaka, Zambia"}}`,
	})

	_, err := runCLI(t, ts, "alerts", "add", "--file=", "--disease", "cholera", "--location", "Lusaka, Zambia", "--severity", "cluster")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var sent map[string]any
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &sent); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if sent["disease"] != "cholera" || sent["severity"] != "cluster" {
		t.Errorf("body = %v, want cholera cluster", sent)
	}
	loc, _ := sent["location"].(map[string]any)
	if loc["name"] != "Lusaka, Zambia" {
		t.Errorf("location = %v, want Lusaka, Zambia", sent["location"])
	}
}

func TestAlertsAdd_MissingDisease(t *testing.T) {
	ts := newTestServer(t, nil)

	_, err := runCLI(t, ts, "alerts", "add", "--file=", "--disease=")
	if err == nil {
		t.Fatal("expected error without --file or --disease")
	}
}

func TestMetrics_Human(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /v1/metrics": `{"users":3,"alerts":2,"assessments":5,"feedback":1,
			"assessments_by_level":{"high":2,"low":3},"feedback_by_type":{"helpful":1},
			"avg_processing_time_ms":4.5,"jobs_by_status":{"done":2}}`,
	})

	out, err := runCLI(t, ts, "metrics")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, want := range []string{"Users: 3", "Assessments: 5 (avg 4.5 ms)", "helpful", "Dispatch jobs:"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestUnknownOutputFormat(t *testing.T) {
	ts := newTestServer(t, nil)

	_, err := runCLI(t, ts, "users", "list", "-o", "xml")
	if err == nil {
		t.Fatal("expected error for unknown output format")
	}
	if !strings.Contains(err.Error(), "xml") {
		t.Errorf("error = %q, want it to name the format", err.Error())
	}
}

func TestReadDocument(t *testing.T) {
	yamlPath := writeFile(t, "maria.yml", "name: Maria\nage: 67\nconditions: [diabetes]\n")
	doc, err := readDocument(yamlPath)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var v map[string]any
	if err := json.Unmarshal(doc, &v); err != nil {
		t.Fatalf("not JSON: %v", err)
	}
	if v["name"] != "Maria" || v["age"] != float64(67) {
		t.Errorf("doc = %v", v)
	}

	badPath := writeFile(t, "bad.json", "{not json")
	if _, err := readDocument(badPath); err == nil {
		t.Error("expected error for invalid JSON")
	}

	if _, err := readDocument(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}
