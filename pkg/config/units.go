package config

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration that also accepts days (d) and weeks (w) in
// YAML, e.g. "30d" or "1w2d".
type Duration time.Duration

// Common durations.
const (
	Day  = 24 * time.Hour
	Week = 7 * Day
)

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	dur, err := ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(dur)
	return nil
}

// MarshalYAML writes whole days as "Nd" and everything else in Go notation.
func (d Duration) MarshalYAML() (interface{}, error) {
	td := time.Duration(d)
	if td > 0 && td%Day == 0 {
		return fmt.Sprintf("%dd", td/Day), nil
	}
	return td.String(), nil
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

var durationTerm = regexp.MustCompile(`^([0-9]+(?:\.[0-9]+)?)([a-zµ]+)`)

var durationUnits = map[string]time.Duration{
	"ns": time.Nanosecond,
	"us": time.Microsecond,
	"µs": time.Microsecond,
	"ms": time.Millisecond,
	"s":  time.Second,
	"m":  time.Minute,
	"h":  time.Hour,
	"d":  Day,
	"w":  Week,
}

// ParseDuration parses a sequence of number+unit terms. Empty means zero.
func ParseDuration(s string) (time.Duration, error) {
	rest := strings.TrimSpace(s)
	if rest == "" {
		return 0, nil
	}
	if !strings.ContainsAny(rest, "dw") {
		return time.ParseDuration(rest)
	}

	var total time.Duration
	for rest != "" {
		m := durationTerm.FindStringSubmatch(rest)
		if m == nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		unit, ok := durationUnits[m[2]]
		if !ok {
			return 0, fmt.Errorf("invalid duration %q: unknown unit %q", s, m[2])
		}
		val, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", s, err)
		}
		total += time.Duration(val * float64(unit))
		rest = rest[len(m[0]):]
	}
	return total, nil
}

// Distance is a length in meters. YAML accepts a bare number or a value
// with a km, m, mi, yd or ft suffix.
type Distance float64

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Distance) UnmarshalYAML(value *yaml.Node) error {
	var f float64
	if value.Tag == "!!int" || value.Tag == "!!float" {
		if err := value.Decode(&f); err != nil {
			return err
		}
		*d = Distance(f)
		return nil
	}

	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	m, err := ParseDistance(s)
	if err != nil {
		return err
	}
	*d = Distance(m)
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (d Distance) MarshalYAML() (interface{}, error) {
	if d >= 1000 && int64(d)%1000 == 0 {
		return fmt.Sprintf("%dkm", int64(d)/1000), nil
	}
	return strconv.FormatFloat(float64(d), 'f', -1, 64) + "m", nil
}

// Meters returns the distance in meters.
func (d Distance) Meters() float64 {
	return float64(d)
}

// Longest suffixes first so "km" is not read as "m".
var distanceUnits = []struct {
	suffix string
	meters float64
}{
	{"km", 1000},
	{"mi", 1609.344},
	{"yd", 0.9144},
	{"ft", 0.3048},
	{"m", 1},
}

// ParseDistance converts "1.5km", "300 ft" or "250" to meters.
func ParseDistance(s string) (float64, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}

	num, mult := s, 1.0
	for _, u := range distanceUnits {
		if strings.HasSuffix(s, u.suffix) {
			num, mult = strings.TrimSuffix(s, u.suffix), u.meters
			break
		}
	}
	val, err := strconv.ParseFloat(strings.TrimSpace(num), 64)
	if err != nil {
		return 0, fmt.Errorf("invalid distance %q", s)
	}
	if val < 0 {
		return 0, fmt.Errorf("invalid distance %q: negative", s)
	}
	return val * mult, nil
}
