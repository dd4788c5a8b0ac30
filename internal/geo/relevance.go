package geo

import "strings"

// Basis names the strategy that produced a Match.
type Basis string

const (
	BasisExact    Basis = "exact"
	BasisDistance Basis = "distance"
	BasisText     Basis = "text"
	BasisNone     Basis = "none"
)

// Match is the outcome of comparing two locations.
type Match struct {
	Proximity  float64 `json:"proximity"`
	Basis      Basis   `json:"basis"`
	DistanceKm float64 `json:"distance_km,omitempty"`
}

// Strategy compares two locations. ok is false when the strategy has
// no signal for the pair and the next strategy should be consulted.
type Strategy interface {
	Match(a, b Location) (m Match, ok bool)
}

// DistanceTier maps a distance band to a proximity value.
type DistanceTier struct {
	WithinKm  float64 `json:"within_km" yaml:"within_km"`
	Proximity float64 `json:"proximity" yaml:"proximity"`
}

// TextScores holds the proximities assigned by textual comparison.
type TextScores struct {
	SamePlace   float64 `json:"same_place" yaml:"same_place"`
	Contains    float64 `json:"contains" yaml:"contains"`
	SameCountry float64 `json:"same_country" yaml:"same_country"`
}

// Chain runs strategies in order and returns the first signal.
type Chain []Strategy

// NewChain builds the standard exact -> distance -> text chain.
func NewChain(tiers []DistanceTier, text TextScores) Chain {
	return Chain{
		Exact{},
		Distance{Tiers: tiers},
		Textual{Scores: text},
	}
}

// Relevance returns the first strategy match, or a zero-proximity match
// with BasisNone when no strategy has a signal.
func (c Chain) Relevance(a, b Location) Match {
	if strings.TrimSpace(a.Name) == "" && !a.HasCoords() {
		return Match{Basis: BasisNone}
	}
	if strings.TrimSpace(b.Name) == "" && !b.HasCoords() {
		return Match{Basis: BasisNone}
	}
	for _, s := range c {
		if m, ok := s.Match(a, b); ok {
			return m
		}
	}
	return Match{Basis: BasisNone}
}

// Exact matches identical normalized names.
type Exact struct{}

func (Exact) Match(a, b Location) (Match, bool) {
	na, nb := Normalize(a.Name), Normalize(b.Name)
	if na == "" || na != nb {
		return Match{}, false
	}
	return Match{Proximity: 1, Basis: BasisExact}, true
}

// Distance scores pairs that both carry coordinates by great-circle
// distance. Tiers must be sorted by ascending WithinKm.
type Distance struct {
	Tiers []DistanceTier
}

func (d Distance) Match(a, b Location) (Match, bool) {
	if !a.HasCoords() || !b.HasCoords() {
		return Match{}, false
	}
	km := DistanceKm(a, b)
	for _, t := range d.Tiers {
		if km < t.WithinKm {
			return Match{Proximity: t.Proximity, Basis: BasisDistance, DistanceKm: km}, true
		}
	}
	return Match{Proximity: 0, Basis: BasisDistance, DistanceKm: km}, true
}

// Textual compares comma-separated place names: the leading component
// is the place, the trailing one the country or region.
type Textual struct {
	Scores TextScores
}

func (t Textual) Match(a, b Location) (Match, bool) {
	na, nb := Normalize(a.Name), Normalize(b.Name)
	if na == "" || nb == "" {
		return Match{}, false
	}
	pa, pb := parts(na), parts(nb)
	if len(pa) == 0 || len(pb) == 0 {
		return Match{}, false
	}

	switch {
	case pa[0] == pb[0]:
		return Match{Proximity: t.Scores.SamePlace, Basis: BasisText}, true
	case containsPlace(na, pb[0]) || containsPlace(nb, pa[0]):
		return Match{Proximity: t.Scores.Contains, Basis: BasisText}, true
	case len(pa) > 1 && len(pb) > 1 && pa[len(pa)-1] == pb[len(pb)-1]:
		return Match{Proximity: t.Scores.SameCountry, Basis: BasisText}, true
	}
	return Match{Proximity: 0, Basis: BasisText}, true
}

// minPlaceLen keeps short fragments like "la" from matching everywhere.
const minPlaceLen = 3

func containsPlace(name, place string) bool {
	return len(place) >= minPlaceLen && strings.Contains(name, place)
}
