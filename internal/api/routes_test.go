package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/vitalsignal/internal/pipeline"
	"github.com/kalambet/vitalsignal/internal/profile"
	"github.com/kalambet/vitalsignal/internal/risk"
	"github.com/kalambet/vitalsignal/internal/storage"
)

const testToken = "test-token-12345"

const mariaJSON = `{
	"name": "Maria",
	"age": 45,
	"email": "maria@example.com",
	"location": {"name": "New York, USA", "lat": 40.7128, "lon": -74.006},
	"health_conditions": [{"name": "diabetes"}],
	"family_members": [{"name": "Ana", "relationship": "sister", "location": {"name": "São Paulo, Brazil"}, "language": "pt-BR"}]
}`

const dengueAlertJSON = `{
	"title": "Dengue outbreak",
	"description": "<p>Cases rising</p>",
	"disease": "dengue",
	"location": {"name": "São Paulo, Brazil"},
	"severity": "outbreak",
	"published_at": "2026-03-01T00:00:00Z",
	"language": "pt"
}`

type testApp struct {
	h        http.Handler
	store    *storage.Store
	profiles *profile.Manager
	pipeline *pipeline.Personalizer
}

func newTestApp(t *testing.T) testApp {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	kb, policy, err := risk.DefaultKnowledge()
	if err != nil {
		t.Fatalf("DefaultKnowledge: %v", err)
	}
	eng, err := risk.NewEngine(kb, policy)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	mgr := profile.NewManager(store)
	p := pipeline.NewPersonalizer(eng, mgr, store, 4)

	h := NewAppHandler(AppDeps{
		Store:    store,
		Profiles: mgr,
		Pipeline: p,
		Token:    testToken,
	})
	return testApp{h: h, store: store, profiles: mgr, pipeline: p}
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func (a testApp) do(t *testing.T, method, url, body string) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	a.h.ServeHTTP(rr, authReq(method, url, body, testToken))
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding response %q: %v", rr.Body.String(), err)
	}
	return v
}

func errorType(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decoding error body %q: %v", rr.Body.String(), err)
	}
	return body.Error.Type
}

func (a testApp) createUser(t *testing.T, body string) profile.Profile {
	t.Helper()
	rr := a.do(t, http.MethodPost, "/v1/users", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create user status = %d; body = %s", rr.Code, rr.Body.String())
	}
	return decode[profile.Profile](t, rr)
}

func (a testApp) createAlert(t *testing.T, body string) risk.Alert {
	t.Helper()
	rr := a.do(t, http.MethodPost, "/v1/alerts", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create alert status = %d; body = %s", rr.Code, rr.Body.String())
	}
	return decode[risk.Alert](t, rr)
}

func TestHealth_NoAuth(t *testing.T) {
	app := newTestApp(t)
	rr := httptest.NewRecorder()
	app.h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}
}

func TestAuth_Rejects(t *testing.T) {
	app := newTestApp(t)
	for _, token := range []string{"", "wrong"} {
		rr := httptest.NewRecorder()
		app.h.ServeHTTP(rr, authReq(http.MethodGet, "/v1/users", "", token))
		if rr.Code != http.StatusUnauthorized {
			t.Errorf("token %q: status = %d, want 401", token, rr.Code)
		}
		if got := errorType(t, rr); got != "authentication_error" {
			t.Errorf("token %q: error type = %q", token, got)
		}
	}
}

func TestAuth_HeaderForms(t *testing.T) {
	app := newTestApp(t)
	tests := []struct {
		name   string
		header string
		want   int
	}{
		{"lowercase scheme", "bearer " + testToken, http.StatusOK},
		{"padded token", "Bearer  " + testToken + " ", http.StatusOK},
		{"basic scheme", "Basic " + testToken, http.StatusUnauthorized},
		{"scheme only", "Bearer", http.StatusUnauthorized},
		{"token prefix", "Bearer " + testToken[:len(testToken)-1], http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/v1/users", nil)
			req.Header.Set("Authorization", tt.header)
			rr := httptest.NewRecorder()
			app.h.ServeHTTP(rr, req)
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d; body = %s", rr.Code, tt.want, rr.Body.String())
			}
		})
	}
}

func TestUsers_CRUD(t *testing.T) {
	app := newTestApp(t)

	u := app.createUser(t, mariaJSON)
	if u.ID == "" || u.Name != "Maria" {
		t.Fatalf("created user = %+v", u)
	}

	rr := app.do(t, http.MethodGet, "/v1/users/"+u.ID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get status = %d", rr.Code)
	}

	rr = app.do(t, http.MethodPut, "/v1/users/"+u.ID, `{"name":"Maria Silva","age":46,"location":{"name":"Boston, USA"}}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("put status = %d; body = %s", rr.Code, rr.Body.String())
	}
	updated := decode[profile.Profile](t, rr)
	if updated.Name != "Maria Silva" || updated.ID != u.ID || !updated.CreatedAt.Equal(u.CreatedAt) {
		t.Errorf("updated = %+v", updated)
	}

	list := decode[[]profile.Profile](t, app.do(t, http.MethodGet, "/v1/users", ""))
	if len(list) != 1 {
		t.Errorf("listed %d users, want 1", len(list))
	}

	if rr := app.do(t, http.MethodDelete, "/v1/users/"+u.ID, ""); rr.Code != http.StatusOK {
		t.Fatalf("delete status = %d", rr.Code)
	}
	if rr := app.do(t, http.MethodGet, "/v1/users/"+u.ID, ""); rr.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", rr.Code)
	}
}

func TestUsers_Errors(t *testing.T) {
	app := newTestApp(t)

	tests := []struct {
		name     string
		method   string
		url      string
		body     string
		wantCode int
		wantType string
	}{
		{"malformed body", http.MethodPost, "/v1/users", `{`, http.StatusBadRequest, "invalid_request_error"},
		{"missing name", http.MethodPost, "/v1/users", `{"age":30}`, http.StatusBadRequest, "invalid_request_error"},
		{"negative age", http.MethodPost, "/v1/users", `{"name":"X","age":-1}`, http.StatusBadRequest, "invalid_request_error"},
		{"unknown user", http.MethodGet, "/v1/users/ghost", "", http.StatusNotFound, "not_found"},
		{"update unknown", http.MethodPut, "/v1/users/ghost", `{"name":"X"}`, http.StatusNotFound, "not_found"},
		{"delete unknown", http.MethodDelete, "/v1/users/ghost", "", http.StatusNotFound, "not_found"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := app.do(t, tt.method, tt.url, tt.body)
			if rr.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d; body = %s", rr.Code, tt.wantCode, rr.Body.String())
			}
			if got := errorType(t, rr); got != tt.wantType {
				t.Errorf("error type = %q, want %q", got, tt.wantType)
			}
		})
	}
}

func TestUsers_DuplicateID(t *testing.T) {
	app := newTestApp(t)
	u := app.createUser(t, mariaJSON)

	rr := app.do(t, http.MethodPost, "/v1/users", fmt.Sprintf(`{"id":%q,"name":"Other"}`, u.ID))
	if rr.Code != http.StatusConflict {
		t.Errorf("status = %d, want 409", rr.Code)
	}
}

func TestAlerts_CreateListGet(t *testing.T) {
	app := newTestApp(t)

	a := app.createAlert(t, dengueAlertJSON)
	if a.ID == "" {
		t.Fatal("alert ID not assigned")
	}
	if a.Description != "Cases rising" {
		t.Errorf("description = %q, want HTML stripped", a.Description)
	}

	list := decode[[]risk.Alert](t, app.do(t, http.MethodGet, "/v1/alerts", ""))
	if len(list) != 1 || list[0].ID != a.ID {
		t.Errorf("list = %+v", list)
	}

	got := decode[risk.Alert](t, app.do(t, http.MethodGet, "/v1/alerts/"+a.ID, ""))
	if got.Disease != "dengue" {
		t.Errorf("disease = %q", got.Disease)
	}

	if rr := app.do(t, http.MethodGet, "/v1/alerts/missing", ""); rr.Code != http.StatusNotFound {
		t.Errorf("missing alert status = %d, want 404", rr.Code)
	}
	if rr := app.do(t, http.MethodPost, "/v1/alerts", `{"title":"no disease"}`); rr.Code != http.StatusBadRequest {
		t.Errorf("alert without disease status = %d, want 400", rr.Code)
	}
}

func TestPersonalize(t *testing.T) {
	app := newTestApp(t)
	u := app.createUser(t, mariaJSON)

	body := fmt.Sprintf(`{"user_id":%q,"alert":%s}`, u.ID, dengueAlertJSON)
	rr := app.do(t, http.MethodPost, "/v1/personalize", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}

	res := decode[pipeline.Result](t, rr)
	if res.Assessment.Level != risk.LevelHigh {
		t.Errorf("level = %s, want high", res.Assessment.Level)
	}
	if len(res.Assessment.Reasoning) == 0 || len(res.Assessment.Actions) == 0 {
		t.Errorf("assessment missing reasoning or actions: %+v", res.Assessment)
	}
	if !res.Assessment.NeedsTranslation {
		t.Error("expected needs_translation for a Portuguese alert")
	}

	stored := decode[[]pipeline.StoredAssessment](t, app.do(t, http.MethodGet, "/v1/assessments?user_id="+u.ID, ""))
	if len(stored) != 1 || stored[0].ID != res.Assessment.ID {
		t.Fatalf("stored = %+v", stored)
	}

	one := decode[pipeline.StoredAssessment](t, app.do(t, http.MethodGet, "/v1/assessments/"+res.Assessment.ID, ""))
	if one.Score != res.Assessment.Score {
		t.Errorf("score = %v, want %v", one.Score, res.Assessment.Score)
	}
}

func TestPersonalize_Errors(t *testing.T) {
	app := newTestApp(t)
	u := app.createUser(t, mariaJSON)

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"missing user_id", fmt.Sprintf(`{"alert":%s}`, dengueAlertJSON), http.StatusBadRequest},
		{"unknown user", fmt.Sprintf(`{"user_id":"ghost","alert":%s}`, dengueAlertJSON), http.StatusNotFound},
		{"alert without disease", fmt.Sprintf(`{"user_id":%q,"alert":{"title":"x"}}`, u.ID), http.StatusBadRequest},
		{"malformed", `{"user_id":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := app.do(t, http.MethodPost, "/v1/personalize", tt.body)
			if rr.Code != tt.wantCode {
				t.Errorf("status = %d, want %d; body = %s", rr.Code, tt.wantCode, rr.Body.String())
			}
		})
	}
}

func TestAssessAlert_Batch(t *testing.T) {
	app := newTestApp(t)
	app.createUser(t, mariaJSON)
	app.createUser(t, `{"name":"Kenji","age":30,"location":{"name":"Tokyo, Japan","lat":35.6762,"lon":139.6503}}`)
	a := app.createAlert(t, dengueAlertJSON)

	rr := app.do(t, http.MethodPost, "/v1/alerts/"+a.ID+"/assess", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	batch := decode[pipeline.BatchResult](t, rr)
	if batch.Assessed != 2 {
		t.Errorf("assessed = %d, want 2", batch.Assessed)
	}
	if batch.Results[0].User.Name != "Maria" {
		t.Errorf("first result = %s, want Maria", batch.Results[0].User.Name)
	}

	if rr := app.do(t, http.MethodPost, "/v1/alerts/missing/assess", ""); rr.Code != http.StatusNotFound {
		t.Errorf("missing alert status = %d, want 404", rr.Code)
	}
}

func TestFeedback_UpdatesLearnedWeight(t *testing.T) {
	app := newTestApp(t)
	u := app.createUser(t, mariaJSON)
	a := app.createAlert(t, dengueAlertJSON)

	body := fmt.Sprintf(`{"user_id":%q,"alert_id":%q,"feedback_type":"too_sensitive","comment":"I am careful already"}`, u.ID, a.ID)
	rr := app.do(t, http.MethodPost, "/v1/feedback", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	res := decode[FeedbackResponse](t, rr)
	if res.LearnedWeight != 0.9 || res.Disease != "dengue" {
		t.Errorf("response = %+v", res)
	}

	p, err := app.profiles.Get(u.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p.LearnedWeights["dengue"] != 0.9 {
		t.Errorf("learned weights = %v", p.LearnedWeights)
	}

	items := decode[[]FeedbackResponse](t, app.do(t, http.MethodGet, "/v1/users/"+u.ID+"/feedback", ""))
	if len(items) != 1 || items[0].FeedbackType != "too_sensitive" {
		t.Errorf("feedback list = %+v", items)
	}

	m := decode[storage.Metrics](t, app.do(t, http.MethodGet, "/v1/metrics", ""))
	if m.Feedback != 1 || m.Users != 1 || m.Alerts != 1 {
		t.Errorf("metrics = %+v", m)
	}
}

func TestFeedback_ByAssessmentID(t *testing.T) {
	app := newTestApp(t)
	u := app.createUser(t, mariaJSON)

	res := decode[pipeline.Result](t, app.do(t, http.MethodPost, "/v1/personalize",
		fmt.Sprintf(`{"user_id":%q,"alert":%s}`, u.ID, dengueAlertJSON)))

	body := fmt.Sprintf(`{"user_id":%q,"assessment_id":%q,"feedback_type":"not_sensitive_enough"}`, u.ID, res.Assessment.ID)
	rr := app.do(t, http.MethodPost, "/v1/feedback", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d; body = %s", rr.Code, rr.Body.String())
	}
	if got := decode[FeedbackResponse](t, rr); got.LearnedWeight != 1.1 || got.AlertID != res.Alert.ID {
		t.Errorf("response = %+v", got)
	}
}

func TestFeedback_Errors(t *testing.T) {
	app := newTestApp(t)
	u := app.createUser(t, mariaJSON)
	a := app.createAlert(t, dengueAlertJSON)

	tests := []struct {
		name     string
		body     string
		wantCode int
	}{
		{"unknown type", fmt.Sprintf(`{"user_id":%q,"alert_id":%q,"feedback_type":"meh"}`, u.ID, a.ID), http.StatusBadRequest},
		{"missing user", fmt.Sprintf(`{"alert_id":%q,"feedback_type":"helpful"}`, a.ID), http.StatusBadRequest},
		{"missing alert", fmt.Sprintf(`{"user_id":%q,"feedback_type":"helpful"}`, u.ID), http.StatusBadRequest},
		{"unknown alert", fmt.Sprintf(`{"user_id":%q,"alert_id":"nope","feedback_type":"helpful"}`, u.ID), http.StatusNotFound},
		{"unknown user", fmt.Sprintf(`{"user_id":"ghost","alert_id":%q,"feedback_type":"helpful"}`, a.ID), http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := app.do(t, http.MethodPost, "/v1/feedback", tt.body)
			if rr.Code != tt.wantCode {
				t.Errorf("status = %d, want %d; body = %s", rr.Code, tt.wantCode, rr.Body.String())
			}
		})
	}
}

func TestParseIntParam(t *testing.T) {
	tests := []struct {
		query string
		want  int
	}{
		{"", 20},
		{"limit=5", 5},
		{"limit=500", 100},
		{"limit=-3", 20},
		{"limit=abc", 20},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/v1/alerts?"+tt.query, nil)
		if got := parseIntParam(r, "limit", 20, 100); got != tt.want {
			t.Errorf("parseIntParam(%q) = %d, want %d", tt.query, got, tt.want)
		}
	}
}
