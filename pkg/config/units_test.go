package config

import (
	"math"
	"testing"
	"time"

	"gopkg.in/yaml.v3"
)

func TestParseDuration(t *testing.T) {
	tests := []struct {
		input    string
		expected time.Duration
		wantErr  bool
	}{
		{"", 0, false},
		{"500ms", 500 * time.Millisecond, false},
		{"1.5h", 90 * time.Minute, false},
		{"30d", 30 * Day, false},
		{"1w2d", 9 * Day, false},
		{"2d12h", 60 * time.Hour, false},
		{"d", 0, true},
		{"3x", 0, true},
		{"2d 1h", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseDuration(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDuration(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.expected {
			t.Errorf("ParseDuration(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestParseDistance(t *testing.T) {
	tests := []struct {
		input    string
		expected float64
		wantErr  bool
	}{
		{"50m", 50, false},
		{"1.5km", 1500, false},
		{"1 mi", 1609.344, false},
		{"100ft", 30.48, false},
		{"10YD", 9.144, false},
		{"250", 250, false},
		{"-5m", 0, true},
		{"far", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseDistance(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseDistance(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if math.Abs(got-tt.expected) > 1e-9 {
			t.Errorf("ParseDistance(%q) = %v, want %v", tt.input, got, tt.expected)
		}
	}
}

func TestUnitsYAMLRoundTrip(t *testing.T) {
	type block struct {
		TTL    Duration `yaml:"ttl"`
		Poll   Duration `yaml:"poll"`
		Radius Distance `yaml:"radius"`
		Walk   Distance `yaml:"walk"`
	}

	var in block
	if err := yaml.Unmarshal([]byte("ttl: 30d\npoll: 500ms\nradius: 50\nwalk: 2km\n"), &in); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if in.TTL.Std() != 30*Day || in.Poll.Std() != 500*time.Millisecond {
		t.Errorf("unexpected durations: %v %v", in.TTL.Std(), in.Poll.Std())
	}
	if in.Radius.Meters() != 50 || in.Walk.Meters() != 2000 {
		t.Errorf("unexpected distances: %v %v", in.Radius, in.Walk)
	}

	out, err := yaml.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	want := "ttl: 30d\npoll: 500ms\nradius: 50m\nwalk: 2km\n"
	if string(out) != want {
		t.Errorf("Marshal =\n%s\nwant\n%s", out, want)
	}
}
