package profile

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ProfileStore defines the storage operations the Manager needs.
// Implemented by storage.Store.
type ProfileStore interface {
	PutUserRecord(id, name, data string) error
	GetUserRecord(id string) (string, error)
	ListUserRecords(limit, offset int) ([]string, error)
	DeleteUserRecord(id string) error
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

type cacheEntry struct {
	profile  *Profile
	cachedAt time.Time
}

// Manager provides cached, validated access to user profiles stored in SQLite.
// Every profile it returns is a deep copy, safe to hand to the risk engine.
type Manager struct {
	store ProfileStore
	clock Clock
	ttl   time.Duration

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

// NewManager creates a Manager with a 60-second cache TTL.
func NewManager(store ProfileStore) *Manager {
	return NewManagerWithClock(store, realClock{}, 60*time.Second)
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store ProfileStore, clock Clock, ttl time.Duration) *Manager {
	return &Manager{
		store: store,
		clock: clock,
		ttl:   ttl,
		cache: make(map[string]cacheEntry),
	}
}

// Get returns the profile for id from cache or storage.
func (m *Manager) Get(id string) (Profile, error) {
	// Fast path: read lock for cache hit.
	m.mu.RLock()
	if e, ok := m.cache[id]; ok && m.fresh(e) {
		p := deepCopyProfile(e.profile)
		m.mu.RUnlock()
		return p, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock.
	if e, ok := m.cache[id]; ok && m.fresh(e) {
		return deepCopyProfile(e.profile), nil
	}

	p, err := m.load(id)
	if err != nil {
		return Profile{}, err
	}
	m.cache[id] = cacheEntry{profile: &p, cachedAt: m.clock.Now()}
	return deepCopyProfile(&p), nil
}

// List returns stored profiles in creation order. Records that fail to
// decode are skipped with a warning.
func (m *Manager) List(limit, offset int) ([]Profile, error) {
	records, err := m.store.ListUserRecords(limit, offset)
	if err != nil {
		return nil, fmt.Errorf("listing user records: %w", err)
	}
	out := make([]Profile, 0, len(records))
	for _, rec := range records {
		var p Profile
		if err := json.Unmarshal([]byte(rec), &p); err != nil {
			slog.Warn("malformed user record, skipping", "error", err)
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

// Save validates and persists p, assigning an ID and timestamps when
// missing, and returns the stored version.
func (m *Manager) Save(p Profile) (Profile, error) {
	if err := Validate(p); err != nil {
		return Profile{}, err
	}

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	m.stamp(&p)

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.put(p); err != nil {
		return Profile{}, err
	}
	delete(m.cache, p.ID)
	return deepCopyProfile(&p), nil
}

// Replace overwrites the stored profile id with p. CreatedAt is kept, and
// so are the learned weights unless p supplies its own. The read and the
// write happen under one lock, so concurrent feedback is not lost.
func (m *Manager) Replace(id string, p Profile) (Profile, error) {
	if err := Validate(p); err != nil {
		return Profile{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, err := m.load(id)
	if err != nil {
		return Profile{}, err
	}
	p.ID = id
	p.CreatedAt = existing.CreatedAt
	if p.LearnedWeights == nil {
		p.LearnedWeights = existing.LearnedWeights
	}
	m.stamp(&p)

	if err := m.put(p); err != nil {
		return Profile{}, err
	}
	delete(m.cache, id)
	return deepCopyProfile(&p), nil
}

func (m *Manager) stamp(p *Profile) {
	now := m.clock.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	if p.Preferences.RiskTolerance == ToleranceModerate {
		p.Preferences.RiskTolerance = ToleranceMedium
	}
}

// Delete removes the profile and drops it from the cache.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.store.DeleteUserRecord(id); err != nil {
		return fmt.Errorf("deleting user %s: %w", id, err)
	}
	delete(m.cache, id)
	return nil
}

// RecordFeedback nudges the user's learned weight for disease according
// to f and persists the result. It returns the new weight.
func (m *Manager) RecordFeedback(id, disease string, f FeedbackType) (float64, error) {
	if !f.Valid() {
		return 0, fmt.Errorf("unknown feedback type %q", f)
	}
	key := WeightKey(disease)
	if key == "" {
		return 0, fmt.Errorf("feedback requires a disease")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	p, err := m.load(id)
	if err != nil {
		return 0, err
	}

	var w float64
	p.LearnedWeights, w = Learn(p.LearnedWeights, key, f)
	p.UpdatedAt = m.clock.Now().UTC()

	if err := m.put(p); err != nil {
		return 0, err
	}
	delete(m.cache, id)

	slog.Debug("learned weight updated", "user_id", id, "key", key, "feedback", f, "weight", w)
	return w, nil
}

func (m *Manager) fresh(e cacheEntry) bool {
	return m.clock.Now().Before(e.cachedAt.Add(m.ttl))
}

func (m *Manager) load(id string) (Profile, error) {
	rec, err := m.store.GetUserRecord(id)
	if err != nil {
		return Profile{}, fmt.Errorf("loading user %s: %w", id, err)
	}
	var p Profile
	if err := json.Unmarshal([]byte(rec), &p); err != nil {
		return Profile{}, fmt.Errorf("decoding user %s: %w", id, err)
	}
	return p, nil
}

func (m *Manager) put(p Profile) error {
	b, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshalling user %s: %w", p.ID, err)
	}
	if err := m.store.PutUserRecord(p.ID, p.Name, string(b)); err != nil {
		return fmt.Errorf("storing user %s: %w", p.ID, err)
	}
	return nil
}

func deepCopyProfile(p *Profile) Profile {
	if p == nil {
		return Profile{}
	}
	cp := *p
	cp.Location = p.Location.Clone()

	if p.HealthConditions != nil {
		cp.HealthConditions = make([]HealthCondition, len(p.HealthConditions))
		copy(cp.HealthConditions, p.HealthConditions)
	}
	if p.Medications != nil {
		cp.Medications = make([]string, len(p.Medications))
		copy(cp.Medications, p.Medications)
	}
	if p.Allergies != nil {
		cp.Allergies = make([]string, len(p.Allergies))
		copy(cp.Allergies, p.Allergies)
	}
	if p.FamilyMembers != nil {
		cp.FamilyMembers = make([]FamilyMember, len(p.FamilyMembers))
		for i, fm := range p.FamilyMembers {
			fm.Location = fm.Location.Clone()
			cp.FamilyMembers[i] = fm
		}
	}
	if p.TravelPlans != nil {
		cp.TravelPlans = make([]TravelPlan, len(p.TravelPlans))
		for i, tp := range p.TravelPlans {
			tp.Destination = tp.Destination.Clone()
			cp.TravelPlans[i] = tp
		}
	}
	if p.Preferences.NotifyChannels != nil {
		cp.Preferences.NotifyChannels = make([]string, len(p.Preferences.NotifyChannels))
		copy(cp.Preferences.NotifyChannels, p.Preferences.NotifyChannels)
	}
	if p.LearnedWeights != nil {
		cp.LearnedWeights = make(map[string]float64, len(p.LearnedWeights))
		for k, v := range p.LearnedWeights {
			cp.LearnedWeights[k] = v
		}
	}
	return cp
}

// Clone returns a deep copy of p.
func Clone(p Profile) Profile {
	return deepCopyProfile(&p)
}
