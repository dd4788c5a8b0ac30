// Package geo resolves how close two named places are to each other.
package geo

import (
	"math"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Location is a named place with optional coordinates.
type Location struct {
	Name string   `json:"name" yaml:"name"`
	Lat  *float64 `json:"lat,omitempty" yaml:"lat,omitempty" validate:"omitempty,latitude"`
	Lon  *float64 `json:"lon,omitempty" yaml:"lon,omitempty" validate:"omitempty,longitude"`
}

// At returns a Location with coordinates set.
func At(name string, lat, lon float64) Location {
	return Location{Name: name, Lat: &lat, Lon: &lon}
}

// HasCoords reports whether both latitude and longitude are present.
func (l Location) HasCoords() bool {
	return l.Lat != nil && l.Lon != nil
}

// Clone returns a copy that shares no pointers with l.
func (l Location) Clone() Location {
	cp := Location{Name: l.Name}
	if l.Lat != nil {
		v := *l.Lat
		cp.Lat = &v
	}
	if l.Lon != nil {
		v := *l.Lon
		cp.Lon = &v
	}
	return cp
}

func (l Location) String() string {
	return l.Name
}

const earthRadiusKm = 6371.0

// DistanceKm returns the great-circle distance between a and b.
// Both locations must carry coordinates.
func DistanceKm(a, b Location) float64 {
	lat1 := *a.Lat * math.Pi / 180
	lat2 := *b.Lat * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (*b.Lon - *a.Lon) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Normalize folds a place or term for comparison: accents stripped,
// lowercased, inner whitespace collapsed.
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.Join(strings.Fields(strings.ToLower(folded)), " ")
}

// parts splits a normalized place name on commas, e.g.
// "sao paulo, brazil" -> ["sao paulo", "brazil"].
func parts(name string) []string {
	raw := strings.Split(name, ",")
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
