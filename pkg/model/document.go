package model

import (
	"sort"
	"time"
)

// UnitStatus is the state of a single script or audio unit.
type UnitStatus string

const (
	UnitPending  UnitStatus = "pending"
	UnitComplete UnitStatus = "complete"
	UnitFailed   UnitStatus = "failed"
)

// IntroIndex is the unit index used for the tour introduction.
const IntroIndex = -1

// UnitKind distinguishes script units from audio units.
type UnitKind string

const (
	UnitScript UnitKind = "script"
	UnitAudio  UnitKind = "audio"
)

// ScriptEntry is one generated script (intro or stop).
type ScriptEntry struct {
	Status    UnitStatus `json:"status"`
	Content   string     `json:"content,omitempty"`
	ModelUsed string     `json:"modelUsed,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// AudioEntry is one synthesized audio file (intro or stop).
type AudioEntry struct {
	Status    UnitStatus `json:"status"`
	URL       string     `json:"url,omitempty"`
	ModelUsed string     `json:"modelUsed,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// Scripts maps the intro and stop indices to their script entries.
// Stops is sparse: only indices that were produced are present.
type Scripts struct {
	Intro *ScriptEntry
	Stops map[int]ScriptEntry
}

// Get returns the entry for idx (IntroIndex for the intro).
func (s Scripts) Get(idx int) (ScriptEntry, bool) {
	if idx == IntroIndex {
		if s.Intro == nil {
			return ScriptEntry{}, false
		}
		return *s.Intro, true
	}
	e, ok := s.Stops[idx]
	return e, ok
}

// Indices returns all present indices, intro first, then stops ascending.
func (s Scripts) Indices() []int {
	var out []int
	if s.Intro != nil {
		out = append(out, IntroIndex)
	}
	return append(out, sortedKeys(s.Stops)...)
}

// AudioFiles maps the intro and stop indices to their audio entries.
type AudioFiles struct {
	Intro *AudioEntry
	Stops map[int]AudioEntry
}

// Get returns the entry for idx (IntroIndex for the intro).
func (a AudioFiles) Get(idx int) (AudioEntry, bool) {
	if idx == IntroIndex {
		if a.Intro == nil {
			return AudioEntry{}, false
		}
		return *a.Intro, true
	}
	e, ok := a.Stops[idx]
	return e, ok
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}

// DocumentStatus is the lifecycle state of a finalized tour document.
type DocumentStatus string

const (
	DocGenerating DocumentStatus = "generating"
	DocComplete   DocumentStatus = "complete"
	DocFailed     DocumentStatus = "failed"
)

// DocumentScripts is the persisted shape of the script map.
type DocumentScripts struct {
	Intro *ScriptEntry   `json:"intro"`
	Stops []*ScriptEntry `json:"stops"`
}

// DocumentAudio is the persisted shape of the audio map.
type DocumentAudio struct {
	Intro *AudioEntry   `json:"intro"`
	Stops []*AudioEntry `json:"stops"`
}

// TourDocument is the durable record the pipeline writes into as work completes.
type TourDocument struct {
	TourID        string          `json:"tourId"`
	SessionID     string          `json:"sessionId,omitempty"`
	Status        DocumentStatus  `json:"status"`
	Title         string          `json:"title"`
	Duration      int             `json:"duration"`
	Language      string          `json:"language"`
	Voice         string          `json:"voice"`
	StartLocation string          `json:"startLocation"` // "lon,lat"
	StopCount     int             `json:"stopCount"`
	Scripts       DocumentScripts `json:"scripts"`
	AudioFiles    DocumentAudio   `json:"audioFiles"`
	CreatedAt     time.Time       `json:"createdAt"`
	CompletedAt   *time.Time      `json:"completedAt,omitempty"`
	FailedAt      *time.Time      `json:"failedAt,omitempty"`
	Error         string          `json:"error,omitempty"`
}
