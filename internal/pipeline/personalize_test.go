package pipeline

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/kalambet/vitalsignal/internal/dispatch"
	"github.com/kalambet/vitalsignal/internal/geo"
	"github.com/kalambet/vitalsignal/internal/profile"
	"github.com/kalambet/vitalsignal/internal/risk"
	"github.com/kalambet/vitalsignal/internal/storage"
)

type fixture struct {
	store    *storage.Store
	profiles *profile.Manager
	p        *Personalizer
}

func newFixture(t *testing.T) fixture {
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
	return fixture{store: store, profiles: mgr, p: NewPersonalizer(eng, mgr, store, 4)}
}

func (f fixture) addUser(t *testing.T, p profile.Profile) profile.Profile {
	t.Helper()
	saved, err := f.profiles.Save(p)
	if err != nil {
		t.Fatalf("Save(%s): %v", p.Name, err)
	}
	return saved
}

func maria() profile.Profile {
	return profile.Profile{
		Name:             "Maria",
		Age:              45,
		Email:            "maria@example.com",
		Location:         geo.At("New York, USA", 40.7128, -74.0060),
		HealthConditions: []profile.HealthCondition{{Name: "diabetes"}},
		FamilyMembers: []profile.FamilyMember{{
			Name:         "Ana",
			Relationship: "sister",
			Location:     geo.Location{Name: "São Paulo, Brazil"},
			Language:     "pt-BR",
		}},
	}
}

func dengueAlert() risk.Alert {
	return risk.Alert{
		Title:       "<b>Dengue</b> outbreak",
		Description: "<p>Cases rising</p><script>x()</script>",
		Disease:     " dengue ",
		Location:    geo.Location{Name: "São Paulo, Brazil"},
		Severity:    "Outbreak",
		PublishedAt: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestPersonalize_StoresAndDispatches(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, maria())

	res, err := f.p.Personalize(context.Background(), u.ID, dengueAlert())
	if err != nil {
		t.Fatalf("Personalize: %v", err)
	}

	if res.Assessment.ID == "" || res.Alert.ID == "" {
		t.Fatalf("IDs not assigned: %+v", res.Assessment)
	}
	if res.Assessment.Level != risk.LevelHigh {
		t.Errorf("level = %s, want high", res.Assessment.Level)
	}
	if res.Alert.Title != "Dengue outbreak" || res.Alert.Description != "Cases rising" {
		t.Errorf("alert text not cleaned: %q / %q", res.Alert.Title, res.Alert.Description)
	}
	if res.Alert.Severity != risk.SeverityOutbreak || res.Alert.Disease != "dengue" {
		t.Errorf("alert not normalized: %+v", res.Alert)
	}

	want := []dispatch.Kind{dispatch.KindTranslate, dispatch.KindImage, dispatch.KindEmail}
	if !slices.Equal(res.Dispatched, want) {
		t.Errorf("Dispatched = %v, want %v", res.Dispatched, want)
	}

	stored, err := f.store.GetAssessment(res.Assessment.ID)
	if err != nil {
		t.Fatalf("GetAssessment: %v", err)
	}
	got, err := DecodeAssessment(stored)
	if err != nil {
		t.Fatalf("DecodeAssessment: %v", err)
	}
	if got.Score != res.Assessment.Score || got.UserID != u.ID {
		t.Errorf("stored assessment = %+v", got)
	}

	alert, err := f.p.LoadAlert(res.Alert.ID)
	if err != nil {
		t.Fatalf("LoadAlert: %v", err)
	}
	if alert.Disease != "dengue" {
		t.Errorf("stored alert disease = %q", alert.Disease)
	}

	m, err := f.store.Metrics()
	if err != nil {
		t.Fatalf("Metrics: %v", err)
	}
	if m.JobsByStatus[storage.JobPending] != 3 {
		t.Errorf("pending jobs = %d, want 3", m.JobsByStatus[storage.JobPending])
	}
}

func TestPersonalize_UnknownUser(t *testing.T) {
	f := newFixture(t)

	a := dengueAlert()
	a.ID = "alert-for-ghost"
	_, err := f.p.Personalize(context.Background(), "ghost", a)
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}

	if _, err := f.store.GetAlert(a.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("GetAlert after unknown user: err = %v, want ErrNotFound", err)
	}
	alerts, err := f.store.ListAlerts(10, 0)
	if err != nil {
		t.Fatalf("ListAlerts: %v", err)
	}
	if len(alerts) != 0 {
		t.Errorf("stored %d alerts, want 0", len(alerts))
	}
}

func TestPersonalize_RejectsAlertWithoutDisease(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, maria())

	a := dengueAlert()
	a.Disease = "  "
	_, err := f.p.Personalize(context.Background(), u.ID, a)
	var verr *risk.ValidationError
	if !errors.As(err, &verr) {
		t.Errorf("err = %v, want *risk.ValidationError", err)
	}
}

func TestPersonalize_CancelledContext(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, maria())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := f.p.Personalize(ctx, u.ID, dengueAlert()); !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestAssessStored(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, maria())

	a := f.p.NormalizeAlert(dengueAlert())
	if err := f.p.SaveAlert(a); err != nil {
		t.Fatalf("SaveAlert: %v", err)
	}
	res, err := f.p.AssessStored(context.Background(), u.ID, a.ID)
	if err != nil {
		t.Fatalf("AssessStored: %v", err)
	}
	if res.Assessment.AlertID != a.ID {
		t.Errorf("AlertID = %q, want %q", res.Assessment.AlertID, a.ID)
	}

	if _, err := f.p.AssessStored(context.Background(), u.ID, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestNormalizeAlert_Defaults(t *testing.T) {
	f := newFixture(t)
	fixed := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	f.p.now = func() time.Time { return fixed }

	a := f.p.NormalizeAlert(risk.Alert{Disease: "cholera", Location: geo.Location{Name: "Lusaka, Zambia"}})
	if a.ID == "" {
		t.Error("ID not assigned")
	}
	if !a.PublishedAt.Equal(fixed) {
		t.Errorf("PublishedAt = %v, want %v", a.PublishedAt, fixed)
	}
	if a.Title != "cholera alert in Lusaka, Zambia" {
		t.Errorf("Title = %q", a.Title)
	}
}

func TestAssessAlert_FansOutOverUsers(t *testing.T) {
	f := newFixture(t)

	f.addUser(t, maria())
	f.addUser(t, profile.Profile{Name: "Kenji", Age: 30, Location: geo.At("Tokyo, Japan", 35.6762, 139.6503)})
	for i := 0; i < 10; i++ {
		f.addUser(t, profile.Profile{Name: fmt.Sprintf("Filler %d", i), Location: geo.Location{Name: "Oslo, Norway"}})
	}

	a := f.p.NormalizeAlert(dengueAlert())
	if err := f.p.SaveAlert(a); err != nil {
		t.Fatalf("SaveAlert: %v", err)
	}

	batch, err := f.p.AssessAlert(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("AssessAlert: %v", err)
	}
	if batch.Assessed != 12 || len(batch.Failed) != 0 {
		t.Fatalf("assessed=%d failed=%v", batch.Assessed, batch.Failed)
	}
	if batch.Results[0].User.Name != "Maria" {
		t.Errorf("highest risk = %s, want Maria", batch.Results[0].User.Name)
	}
	for i := 1; i < len(batch.Results); i++ {
		if batch.Results[i].Assessment.Score > batch.Results[i-1].Assessment.Score {
			t.Fatalf("results not sorted by score at %d", i)
		}
	}
	if batch.ByLevel[string(risk.LevelHigh)] != 1 {
		t.Errorf("ByLevel = %v", batch.ByLevel)
	}

	stored, err := f.store.ListAssessments(storage.AssessmentFilter{AlertID: a.ID})
	if err != nil {
		t.Fatalf("ListAssessments: %v", err)
	}
	if len(stored) != 12 {
		t.Errorf("stored %d assessments, want 12", len(stored))
	}
}

func TestAssessAll_ReportsPerUserFailures(t *testing.T) {
	f := newFixture(t)
	good := f.addUser(t, maria())
	bad := profile.Profile{ID: "broken", Age: 30} // no name, fails validation

	a := f.p.NormalizeAlert(dengueAlert())
	batch, err := f.p.AssessAll(context.Background(), a, []profile.Profile{good, bad})
	if err != nil {
		t.Fatalf("AssessAll: %v", err)
	}
	if batch.Assessed != 1 {
		t.Errorf("Assessed = %d, want 1", batch.Assessed)
	}
	if len(batch.Failed) != 1 || batch.Failed[0].UserID != "broken" {
		t.Errorf("Failed = %+v", batch.Failed)
	}
}

func TestAssessAll_Cancelled(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, maria())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.p.AssessAll(ctx, f.p.NormalizeAlert(dengueAlert()), []profile.Profile{u})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
