package pipeline

import (
	"maps"

	"walktour/pkg/model"
)

// Phase is the lifecycle state of a session.
type Phase string

const (
	PhaseCreated         Phase = "created"
	PhaseLoading         Phase = "loading"
	PhaseContextReady    Phase = "context-ready"
	PhaseScriptsInFlight Phase = "scripts-in-flight"
	PhaseScriptsComplete Phase = "scripts-complete"
	PhaseAudioInFlight   Phase = "audio-in-flight"
	PhaseComplete        Phase = "complete"
	PhaseFailed          Phase = "failed"
)

// Terminal reports whether no further transition follows p.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseFailed
}

// State is the record threaded through every node. Nodes never modify it;
// they return an Update that Apply merges in.
type State struct {
	Session model.Session
	Tour    *model.Tour
	Phase   Phase

	Stops         []model.Stop // Stops with resolved area fields
	StopLocations model.StopLocationMap
	Summaries     map[model.LocationKey]model.AreaContext

	Scripts    model.Scripts
	AudioFiles model.AudioFiles

	Error string
}

// NewState returns the initial state of a session.
func NewState(session model.Session, tour *model.Tour) *State {
	return &State{
		Session:    session,
		Tour:       tour,
		Phase:      PhaseCreated,
		Scripts:    model.Scripts{Stops: map[int]model.ScriptEntry{}},
		AudioFiles: model.AudioFiles{Stops: map[int]model.AudioEntry{}},
	}
}

// Area returns the context of the stop at idx. The intro uses the first stop.
func (s *State) Area(idx int) model.AreaContext {
	if idx == model.IntroIndex {
		idx = 0
	}
	key, ok := s.StopLocations[idx]
	if !ok {
		return model.AreaContext{}
	}
	return s.Summaries[key]
}

// ResolvedTour returns the tour with area-resolved stops, if available.
func (s *State) ResolvedTour() *model.Tour {
	if s.Tour == nil || len(s.Stops) != len(s.Tour.Stops) {
		return s.Tour
	}
	t := *s.Tour
	t.Stops = s.Stops
	return &t
}

// Update is a partial state change. Nil fields are absent and leave the
// accumulated value untouched.
type Update struct {
	Phase         *Phase
	Stops         []model.Stop
	StopLocations model.StopLocationMap
	Summaries     map[model.LocationKey]model.AreaContext
	Scripts       model.Scripts
	AudioFiles    model.AudioFiles
	Error         *string
}

// ScriptUpdate is the update of a single script unit.
func ScriptUpdate(idx int, e model.ScriptEntry) Update {
	if idx == model.IntroIndex {
		return Update{Scripts: model.Scripts{Intro: &e}}
	}
	return Update{Scripts: model.Scripts{Stops: map[int]model.ScriptEntry{idx: e}}}
}

// AudioUpdate is the update of a single audio unit.
func AudioUpdate(idx int, e model.AudioEntry) Update {
	if idx == model.IntroIndex {
		return Update{AudioFiles: model.AudioFiles{Intro: &e}}
	}
	return Update{AudioFiles: model.AudioFiles{Stops: map[int]model.AudioEntry{idx: e}}}
}

// PhaseUpdate moves the session to p.
func PhaseUpdate(p Phase) Update {
	return Update{Phase: &p}
}

// Apply merges u into s field by field.
func Apply(s *State, u Update) {
	s.Phase = Last(s.Phase, u.Phase)
	s.Error = Last(s.Error, u.Error)
	if u.Stops != nil {
		s.Stops = u.Stops
	}
	if u.StopLocations != nil {
		s.StopLocations = u.StopLocations
	}
	if u.Summaries != nil {
		s.Summaries = u.Summaries
	}
	s.Scripts = MergeScripts(s.Scripts, u.Scripts)
	s.AudioFiles = MergeAudio(s.AudioFiles, u.AudioFiles)
}

// Last is the scalar reducer: next wins unless it is absent.
func Last[T any](cur T, next *T) T {
	if next == nil {
		return cur
	}
	return *next
}

// MergeScripts replaces the intro if the update carries one and merges
// stops index-wise. acc is not modified.
func MergeScripts(acc, upd model.Scripts) model.Scripts {
	intro, stops := mergeUnits(acc.Intro, acc.Stops, upd.Intro, upd.Stops)
	return model.Scripts{Intro: intro, Stops: stops}
}

// MergeAudio is MergeScripts for audio units.
func MergeAudio(acc, upd model.AudioFiles) model.AudioFiles {
	intro, stops := mergeUnits(acc.Intro, acc.Stops, upd.Intro, upd.Stops)
	return model.AudioFiles{Intro: intro, Stops: stops}
}

func mergeUnits[E any](accIntro *E, accStops map[int]E, updIntro *E, updStops map[int]E) (*E, map[int]E) {
	intro := accIntro
	if updIntro != nil {
		e := *updIntro
		intro = &e
	}
	if len(updStops) == 0 {
		return intro, accStops
	}
	stops := make(map[int]E, len(accStops)+len(updStops))
	maps.Copy(stops, accStops)
	maps.Copy(stops, updStops)
	return intro, stops
}
