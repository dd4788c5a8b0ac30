package risk

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kalambet/vitalsignal/internal/geo"
)

//go:embed knowledge.yaml
var defaultKnowledge []byte

// Entry describes how a disease interacts with user risk factors.
// Multiplier maps are keyed by normalized term and must not be mutated.
type Entry struct {
	Disease      string             `yaml:"disease" json:"disease"`
	Aliases      []string           `yaml:"aliases" json:"aliases,omitempty"`
	Category     string             `yaml:"category" json:"category,omitempty"`
	Transmission string             `yaml:"transmission" json:"transmission,omitempty"`
	AtRiskGroups []string           `yaml:"at_risk_groups" json:"at_risk_groups,omitempty"`
	Conditions   map[string]float64 `yaml:"conditions" json:"conditions,omitempty"`
	Medications  map[string]float64 `yaml:"medications" json:"medications,omitempty"`
	Allergies    map[string]float64 `yaml:"allergies" json:"allergies,omitempty"`
}

// KnowledgeBase is an immutable disease lookup table.
type KnowledgeBase struct {
	entries []Entry
	index   map[string]int
	keys    []string
}

type knowledgeFile struct {
	Diseases []Entry   `yaml:"diseases"`
	Policy   yaml.Node `yaml:"policy"`
}

// DefaultKnowledge loads the embedded knowledge base and default policy.
func DefaultKnowledge() (*KnowledgeBase, Policy, error) {
	return ParseKnowledge(defaultKnowledge)
}

// LoadKnowledgeFile reads a knowledge base from a YAML file. An optional
// top-level "policy" block overrides individual DefaultPolicy fields.
func LoadKnowledgeFile(path string) (*KnowledgeBase, Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, Policy{}, fmt.Errorf("reading knowledge file: %w", err)
	}
	return ParseKnowledge(data)
}

// ParseKnowledge decodes a YAML knowledge document.
func ParseKnowledge(data []byte) (*KnowledgeBase, Policy, error) {
	var f knowledgeFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, Policy{}, fmt.Errorf("parsing knowledge yaml: %w", err)
	}

	policy := DefaultPolicy()
	if !f.Policy.IsZero() {
		if err := f.Policy.Decode(&policy); err != nil {
			return nil, Policy{}, fmt.Errorf("parsing policy block: %w", err)
		}
	}
	if err := policy.Validate(); err != nil {
		return nil, Policy{}, fmt.Errorf("invalid policy: %w", err)
	}

	kb, err := NewKnowledgeBase(f.Diseases)
	if err != nil {
		return nil, Policy{}, err
	}
	return kb, policy, nil
}

// NewKnowledgeBase indexes entries by normalized name and alias.
func NewKnowledgeBase(entries []Entry) (*KnowledgeBase, error) {
	kb := &KnowledgeBase{index: make(map[string]int)}
	var errs []error

	for _, e := range entries {
		name := geo.Normalize(e.Disease)
		if name == "" {
			errs = append(errs, errors.New("entry with empty disease name"))
			continue
		}
		e.Conditions = normalizeMultipliers(e.Disease, "conditions", e.Conditions, &errs)
		e.Medications = normalizeMultipliers(e.Disease, "medications", e.Medications, &errs)
		e.Allergies = normalizeMultipliers(e.Disease, "allergies", e.Allergies, &errs)
		e.Category = geo.Normalize(e.Category)

		idx := len(kb.entries)
		kb.entries = append(kb.entries, e)
		for _, key := range append([]string{name}, e.Aliases...) {
			key = geo.Normalize(key)
			if key == "" {
				continue
			}
			if prev, dup := kb.index[key]; dup && prev != idx {
				errs = append(errs, fmt.Errorf("%q is claimed by both %s and %s", key, kb.entries[prev].Disease, e.Disease))
				continue
			}
			kb.index[key] = idx
		}
	}
	if err := errors.Join(errs...); err != nil {
		return nil, fmt.Errorf("invalid knowledge base: %w", err)
	}

	for k := range kb.index {
		kb.keys = append(kb.keys, k)
	}
	sort.Strings(kb.keys)
	return kb, nil
}

func normalizeMultipliers(disease, field string, in map[string]float64, errs *[]error) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		if v <= 0 {
			*errs = append(*errs, fmt.Errorf("%s %s[%s]: multiplier must be positive", disease, field, k))
			continue
		}
		out[geo.Normalize(k)] = v
	}
	return out
}

// Lookup finds the entry for a disease name. Exact name or alias
// matches win; otherwise the longest known key that contains, or is
// contained in, the query is used.
func (kb *KnowledgeBase) Lookup(disease string) (Entry, bool) {
	q := geo.Normalize(disease)
	if q == "" {
		return Entry{}, false
	}
	if i, ok := kb.index[q]; ok {
		return kb.entries[i], true
	}

	best := ""
	for _, k := range kb.keys {
		if len(k) <= len(best) {
			continue
		}
		if containsTerm(q, k) || containsTerm(k, q) {
			best = k
		}
	}
	if best == "" {
		return Entry{}, false
	}
	return kb.entries[kb.index[best]], true
}

// Diseases returns the canonical disease names in load order.
func (kb *KnowledgeBase) Diseases() []string {
	out := make([]string, len(kb.entries))
	for i, e := range kb.entries {
		out[i] = e.Disease
	}
	return out
}

// Len returns the number of entries.
func (kb *KnowledgeBase) Len() int {
	return len(kb.entries)
}

// minTermLen keeps very short queries from matching arbitrary keys.
const minTermLen = 3

func containsTerm(s, term string) bool {
	return len(term) >= minTermLen && strings.Contains(s, term)
}
