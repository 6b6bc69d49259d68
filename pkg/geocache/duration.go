package geocache

// Durations are the discrete tour lengths (minutes) cache entries are keyed by.
var Durations = []int{30, 60, 90, 120, 180}

// NormalizeDuration snaps minutes to the nearest member of Durations.
// Ties go to the first-listed member.
func NormalizeDuration(minutes int) int {
	best := Durations[0]
	bestDiff := absInt(minutes - best)
	for _, d := range Durations[1:] {
		if diff := absInt(minutes - d); diff < bestDiff {
			best, bestDiff = d, diff
		}
	}
	return best
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
