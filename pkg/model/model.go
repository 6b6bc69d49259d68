package model

import (
	"fmt"
	"strings"
)

// Session identifies one in-flight generation run.
type Session struct {
	SessionID string `json:"session_id"`
	TourID    string `json:"tour_id"`
	Language  string `json:"language"`
	Voice     string `json:"voice"`
}

// Stop is a single waypoint of a walking tour.
type Stop struct {
	Name    string  `json:"name"`
	PlaceID string  `json:"place_id,omitempty"` // Identity in the place cache, if known
	Lat     float64 `json:"latitude"`
	Lon     float64 `json:"longitude"`

	DwellMinutes            int    `json:"dwell_minutes"`
	WalkMinutesFromPrevious int    `json:"walk_minutes_from_previous"`
	Directions              string `json:"directions,omitempty"`

	// Resolved area (may be empty until reverse geocoded)
	Country      string `json:"country,omitempty"`
	City         string `json:"city,omitempty"`
	Neighborhood string `json:"neighborhood,omitempty"`
}

// Tour is the immutable input of the generation pipeline.
type Tour struct {
	ID                    string `json:"id"`
	Title                 string `json:"title"`
	Theme                 string `json:"theme"`
	Abstract              string `json:"abstract"`
	EstimatedTotalMinutes int    `json:"estimated_total_minutes"`
	Stops                 []Stop `json:"stops"`
}

// Start returns the first stop of the tour, or nil for an empty tour.
func (t *Tour) Start() *Stop {
	if t == nil || len(t.Stops) == 0 {
		return nil
	}
	return &t.Stops[0]
}

// Place is the result of a reverse geocode. Empty fields mean "unknown".
type Place struct {
	Country      string `json:"country,omitempty"`
	City         string `json:"city,omitempty"`
	Neighborhood string `json:"neighborhood,omitempty"`
}

// IsEmpty reports whether no field was resolved.
func (p Place) IsEmpty() bool {
	return p.Country == "" && p.City == "" && p.Neighborhood == ""
}

// CachedPlace is the mutable place-cache entry for a stop identity.
type CachedPlace struct {
	PlaceID      string  `json:"place_id"`
	Name         string  `json:"name"`
	Lat          float64 `json:"lat"`
	Lon          float64 `json:"lon"`
	Country      string  `json:"country,omitempty"`
	City         string  `json:"city,omitempty"`
	Neighborhood string  `json:"neighborhood,omitempty"`
}

// UnknownSegment is used for missing parts of a LocationKey.
const UnknownSegment = "unknown"

// LocationKey is the composite "country:city:neighborhood" key of an area.
type LocationKey string

// NewLocationKey builds a key, substituting UnknownSegment for blank parts.
func NewLocationKey(country, city, neighborhood string) LocationKey {
	seg := func(s string) string {
		s = strings.TrimSpace(s)
		if s == "" {
			return UnknownSegment
		}
		// ':' is the separator
		return strings.ReplaceAll(s, ":", " ")
	}
	return LocationKey(fmt.Sprintf("%s:%s:%s", seg(country), seg(city), seg(neighborhood)))
}

// Parts splits the key back into country, city and neighborhood.
func (k LocationKey) Parts() (country, city, neighborhood string) {
	parts := strings.SplitN(string(k), ":", 3)
	for len(parts) < 3 {
		parts = append(parts, UnknownSegment)
	}
	return parts[0], parts[1], parts[2]
}

// CityKey returns the "country:city" prefix used to cache city summaries.
func (k LocationKey) CityKey() string {
	country, city, _ := k.Parts()
	return country + ":" + city
}

// StopLocationMap relates a stop ordinal to its LocationKey.
type StopLocationMap map[int]LocationKey

// LocationSummary is generated descriptive text for a city or neighborhood.
// A nil Summary with no KeyFacts means "ungenerated".
type LocationSummary struct {
	Summary  *string  `json:"summary"`
	KeyFacts []string `json:"keyFacts"`
}

// HasContent reports whether at least one field was produced.
func (s LocationSummary) HasContent() bool {
	return (s.Summary != nil && strings.TrimSpace(*s.Summary) != "") || len(s.KeyFacts) > 0
}

// AreaContext bundles the city and neighborhood summaries of one LocationKey.
type AreaContext struct {
	City         LocationSummary `json:"city"`
	Neighborhood LocationSummary `json:"neighborhood"`
}
