package geo

import (
	"math"
	"testing"
)

var testTiers = []DistanceTier{
	{WithinKm: 50, Proximity: 0.9},
	{WithinKm: 500, Proximity: 0.6},
	{WithinKm: 2000, Proximity: 0.3},
}

var testText = TextScores{SamePlace: 0.9, Contains: 0.8, SameCountry: 0.5}

func TestNormalize(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"São Paulo, Brazil", "sao paulo, brazil"},
		{"  NEW   York ", "new york"},
		{"Zürich", "zurich"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := Normalize(tt.in); got != tt.want {
			t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDistanceKm(t *testing.T) {
	sp := At("São Paulo", -23.5505, -46.6333)
	rio := At("Rio de Janeiro", -22.9068, -43.1729)

	d := DistanceKm(sp, rio)
	if d < 340 || d > 380 {
		t.Errorf("DistanceKm(São Paulo, Rio) = %.1f, want ~360", d)
	}
	if got := DistanceKm(sp, sp); got != 0 {
		t.Errorf("DistanceKm(same) = %f, want 0", got)
	}
}

func TestChain_Tiers(t *testing.T) {
	chain := NewChain(testTiers, testText)

	tests := []struct {
		name      string
		a, b      Location
		want      float64
		wantBasis Basis
	}{
		{"exact ignores accents", Location{Name: "Sao Paulo, Brazil"}, Location{Name: "São Paulo, Brazil"}, 1, BasisExact},
		{"nearby coords", At("New York", 40.7128, -74.0060), At("Newark", 40.7357, -74.1724), 0.9, BasisDistance},
		{"regional coords", At("São Paulo", -23.5505, -46.6333), At("Rio de Janeiro", -22.9068, -43.1729), 0.6, BasisDistance},
		{"continental coords", At("New York", 40.7128, -74.0060), At("Chicago", 41.8781, -87.6298), 0.3, BasisDistance},
		{"far coords", At("New York", 40.7128, -74.0060), At("São Paulo", -23.5505, -46.6333), 0, BasisDistance},
		{"same leading place", Location{Name: "São Paulo"}, Location{Name: "Sao Paulo, Brazil"}, 0.9, BasisText},
		{"contained place", Location{Name: "Greater Miami Area"}, Location{Name: "Miami, USA"}, 0.8, BasisText},
		{"same country", Location{Name: "Rio de Janeiro, Brazil"}, Location{Name: "São Paulo, Brazil"}, 0.5, BasisText},
		{"unrelated", Location{Name: "Tokyo, Japan"}, Location{Name: "São Paulo, Brazil"}, 0, BasisText},
		{"missing name", Location{}, Location{Name: "São Paulo, Brazil"}, 0, BasisNone},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := chain.Relevance(tt.a, tt.b)
			if math.Abs(m.Proximity-tt.want) > 1e-9 {
				t.Errorf("Proximity = %v, want %v", m.Proximity, tt.want)
			}
			if m.Basis != tt.wantBasis {
				t.Errorf("Basis = %q, want %q", m.Basis, tt.wantBasis)
			}
		})
	}
}

func TestChain_CoordsOnOneSideFallsBackToText(t *testing.T) {
	chain := NewChain(testTiers, testText)
	m := chain.Relevance(At("Miami, USA", 25.76, -80.19), Location{Name: "Miami, USA "})
	if m.Basis != BasisExact {
		t.Errorf("Basis = %q, want %q", m.Basis, BasisExact)
	}

	m = chain.Relevance(At("Fort Lauderdale, USA", 26.12, -80.14), Location{Name: "Orlando, USA"})
	if m.Basis != BasisText || m.Proximity != 0.5 {
		t.Errorf("got %+v, want text match with proximity 0.5", m)
	}
}

func TestLocation_Clone(t *testing.T) {
	orig := At("Lima", -12.04, -77.04)
	cp := orig.Clone()
	*cp.Lat = 0
	if *orig.Lat != -12.04 {
		t.Error("Clone shares latitude pointer with original")
	}
}
