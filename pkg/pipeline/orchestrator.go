// Package pipeline runs a tour through context preload, script generation
// and audio synthesis as a graph of steps with two fan-out stages.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"walktour/pkg/areactx"
	"walktour/pkg/cancel"
	"walktour/pkg/geocache"
	"walktour/pkg/model"
	"walktour/pkg/tourdoc"
	"walktour/pkg/worker"
)

// Node names.
const (
	NodeLoad            = "load"
	NodePreloadContext  = "preloadContext"
	NodeFanOutScripts   = "fanOutScripts"
	NodeGenerateScript  = "generateScript"
	NodeFanOutAudio     = "fanOutAudio"
	NodeSynthesizeAudio = "synthesizeAudio"
)

// Documents is the durable sink of a run.
type Documents interface {
	Begin(ctx context.Context, doc *model.TourDocument) error
	Units(ctx context.Context, tourID string) (model.Scripts, model.AudioFiles, error)
	MarkComplete(ctx context.Context, tourID string) error
	MarkFailed(ctx context.Context, tourID, reason string) error
}

// ContextLoader resolves stop areas and their summaries.
type ContextLoader interface {
	Preload(ctx context.Context, tour *model.Tour, language string) (areactx.Result, error)
}

// ScriptRunner runs one script unit.
type ScriptRunner interface {
	Run(ctx context.Context, job worker.ScriptJob) (model.ScriptEntry, error)
}

// AudioRunner runs one audio unit.
type AudioRunner interface {
	Run(ctx context.Context, job worker.AudioJob) (model.AudioEntry, error)
}

// Deps are the collaborators of an Orchestrator. Checkpoints may be nil.
type Deps struct {
	Docs        Documents
	Context     ContextLoader
	Scripts     ScriptRunner
	Audio       AudioRunner
	Cancel      *cancel.Signal
	Checkpoints *Checkpoints
}

// Config tunes an Orchestrator.
type Config struct {
	MaxConcurrency int
}

// Request starts or resumes the generation of one tour.
type Request struct {
	Session model.Session
	Tour    *model.Tour
}

// Result is the terminal state of a run.
type Result struct {
	State    *State
	Failures []*UnitError
}

// Partial joins the unit failures of the run, or returns nil.
func (r *Result) Partial() error {
	if r == nil || len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, len(r.Failures))
	for i, f := range r.Failures {
		errs[i] = f
	}
	return errors.Join(errs...)
}

// Orchestrator runs the generation graph for tour requests.
type Orchestrator struct {
	deps  Deps
	graph *Compiled
}

// New builds and compiles the generation graph.
func New(deps Deps, cfg Config) (*Orchestrator, error) {
	if deps.Docs == nil || deps.Context == nil || deps.Scripts == nil || deps.Audio == nil {
		return nil, errors.New("pipeline: docs, context, scripts and audio are required")
	}
	if deps.Cancel == nil {
		deps.Cancel = cancel.New(nil, 0)
	}
	o := &Orchestrator{deps: deps}

	g := NewGraph().
		AddNode(Node{Name: NodeLoad, Phase: PhaseLoading, Step: o.load}).
		AddNode(Node{Name: NodePreloadContext, Step: o.preloadContext}).
		AddNode(Node{Name: NodeFanOutScripts, Phase: PhaseScriptsInFlight, FanOut: o.fanOutScripts, Target: NodeGenerateScript, Joined: PhaseScriptsComplete}).
		AddNode(Node{Name: NodeGenerateScript, Branch: o.generateScript}).
		AddNode(Node{Name: NodeFanOutAudio, Phase: PhaseAudioInFlight, FanOut: o.fanOutAudio, Target: NodeSynthesizeAudio}).
		AddNode(Node{Name: NodeSynthesizeAudio, Branch: o.synthesizeAudio}).
		AddEdge(NodeLoad, NodePreloadContext).
		AddEdge(NodePreloadContext, NodeFanOutScripts).
		AddEdge(NodeGenerateScript, NodeFanOutAudio).
		AddEdge(NodeSynthesizeAudio, End).
		SetEntry(NodeLoad)

	compiled, err := g.Compile(Options{
		MaxConcurrency: cfg.MaxConcurrency,
		Before:         o.beforeNode,
		After:          o.afterNode,
	})
	if err != nil {
		return nil, err
	}
	o.graph = compiled
	return o, nil
}

// Run executes one session to a terminal state. Per-unit failures are in
// Result.Failures; validation, cancellation and infrastructure failures are
// returned and mark the document failed.
func (o *Orchestrator) Run(ctx context.Context, req Request) (*Result, error) {
	state := NewState(req.Session, req.Tour)
	res := &Result{State: state}

	ctx, stop := o.deps.Cancel.Watch(ctx, req.Session.SessionID)
	defer stop()

	start := time.Now()
	slog.Info("Pipeline: run started", "session", req.Session.SessionID, "tour", req.Session.TourID)

	err := o.graph.Run(ctx, state)
	if err == nil {
		// A cancellation racing the last unit still fails the run
		err = o.deps.Cancel.Check(ctx, req.Session.SessionID)
	}
	final := context.WithoutCancel(ctx)

	if err != nil {
		reached := state.Phase
		reason := failureReason(err)
		Apply(state, Update{Phase: ptr(PhaseFailed), Error: &reason})
		o.deps.Checkpoints.Save(final, o.checkpoint(state, ""))
		if state.Session.TourID != "" {
			if ferr := o.deps.Docs.MarkFailed(final, state.Session.TourID, reason); ferr != nil && !isNotFound(ferr) {
				slog.Error("Pipeline: failed to mark document failed", "tour", state.Session.TourID, "error", ferr)
			}
		}
		slog.Warn("Pipeline: run failed", "session", req.Session.SessionID, "phase_reached", reached, "error", err)
		return res, err
	}

	res.Failures = collectFailures(state)
	Apply(state, PhaseUpdate(PhaseComplete))
	o.deps.Checkpoints.Save(final, o.checkpoint(state, End))
	if err := o.deps.Docs.MarkComplete(final, state.Session.TourID); err != nil {
		return res, fmt.Errorf("pipeline: finalize: %w", err)
	}
	slog.Info("Pipeline: run complete",
		"session", req.Session.SessionID,
		"tour", req.Session.TourID,
		"failed_units", len(res.Failures),
		"took", time.Since(start).Round(time.Millisecond))
	return res, nil
}

// --- hooks ---

func (o *Orchestrator) beforeNode(ctx context.Context, node string, s *State) error {
	slog.Debug("Pipeline: entering node", "node", node, "phase", s.Phase)
	return o.deps.Cancel.Check(ctx, s.Session.SessionID)
}

func (o *Orchestrator) afterNode(ctx context.Context, node string, s *State) error {
	o.deps.Checkpoints.Save(ctx, o.checkpoint(s, node))
	return nil
}

func (o *Orchestrator) checkpoint(s *State, node string) Checkpoint {
	return Checkpoint{SessionID: s.Session.SessionID, TourID: s.Session.TourID, Node: node, Phase: s.Phase, Error: s.Error}
}

// --- nodes ---

// load validates the request, opens the document and pulls in units a
// previous run already completed.
func (o *Orchestrator) load(ctx context.Context, s *State) (Update, error) {
	if err := validate(s.Session, s.Tour); err != nil {
		return Update{}, err
	}

	doc := &model.TourDocument{
		TourID:        s.Session.TourID,
		SessionID:     s.Session.SessionID,
		Title:         s.Tour.Title,
		Duration:      geocache.NormalizeDuration(s.Tour.EstimatedTotalMinutes),
		Language:      s.Session.Language,
		Voice:         s.Session.Voice,
		StartLocation: startLocation(s.Tour),
		StopCount:     len(s.Tour.Stops),
	}
	if err := o.deps.Docs.Begin(ctx, doc); err != nil {
		return Update{}, err
	}

	scripts, audio, err := o.deps.Docs.Units(ctx, s.Session.TourID)
	if err != nil {
		return Update{}, err
	}
	u := Update{Scripts: completedScripts(scripts, len(s.Tour.Stops)), AudioFiles: completedAudio(audio, len(s.Tour.Stops))}
	if n := len(u.Scripts.Indices()); n > 0 {
		slog.Info("Pipeline: resuming with completed units", "tour", s.Session.TourID, "scripts", n, "audio", countAudio(u.AudioFiles))
	}
	return u, nil
}

func (o *Orchestrator) preloadContext(ctx context.Context, s *State) (Update, error) {
	res, err := o.deps.Context.Preload(ctx, s.Tour, s.Session.Language)
	if err != nil {
		return Update{}, err
	}
	phase := PhaseContextReady
	return Update{
		Phase:         &phase,
		Stops:         res.Stops,
		StopLocations: res.StopLocations,
		Summaries:     res.Summaries,
	}, nil
}

func (o *Orchestrator) fanOutScripts(ctx context.Context, s *State) ([]Send, error) {
	tour := s.ResolvedTour()
	var sends []Send
	for _, idx := range unitIndices(len(tour.Stops)) {
		if e, ok := s.Scripts.Get(idx); ok && e.Status == model.UnitComplete {
			continue
		}
		sends = append(sends, Send{Arg: worker.ScriptJob{
			Session: s.Session,
			Tour:    tour,
			Index:   idx,
			Area:    s.Area(idx),
		}})
	}
	slog.Info("Pipeline: dispatching scripts", "tour", s.Session.TourID, "units", len(sends))
	return sends, nil
}

func (o *Orchestrator) generateScript(ctx context.Context, s *State, arg any) (Update, error) {
	job := arg.(worker.ScriptJob)
	e, err := o.deps.Scripts.Run(ctx, job)
	if err != nil {
		return Update{}, err
	}
	return ScriptUpdate(job.Index, e), nil
}

func (o *Orchestrator) fanOutAudio(ctx context.Context, s *State) ([]Send, error) {
	var sends []Send
	for _, idx := range unitIndices(len(s.Tour.Stops)) {
		script, ok := s.Scripts.Get(idx)
		if !ok || script.Status != model.UnitComplete {
			continue
		}
		if e, ok := s.AudioFiles.Get(idx); ok && e.Status == model.UnitComplete {
			continue
		}
		sends = append(sends, Send{Arg: worker.AudioJob{Session: s.Session, Index: idx, Script: script}})
	}
	slog.Info("Pipeline: dispatching audio", "tour", s.Session.TourID, "units", len(sends))
	return sends, nil
}

func (o *Orchestrator) synthesizeAudio(ctx context.Context, s *State, arg any) (Update, error) {
	job := arg.(worker.AudioJob)
	e, err := o.deps.Audio.Run(ctx, job)
	if err != nil {
		return Update{}, err
	}
	return AudioUpdate(job.Index, e), nil
}

// --- helpers ---

func validate(session model.Session, tour *model.Tour) error {
	switch {
	case strings.TrimSpace(session.SessionID) == "":
		return &ValidationError{Field: "session_id", Reason: "is required"}
	case strings.TrimSpace(session.TourID) == "":
		return &ValidationError{Field: "tour_id", Reason: "is required"}
	case strings.TrimSpace(session.Language) == "":
		return &ValidationError{Field: "language", Reason: "is required"}
	case tour == nil:
		return &ValidationError{Field: "tour", Reason: "is required"}
	case len(tour.Stops) == 0:
		return &ValidationError{Field: "tour.stops", Reason: "must not be empty"}
	case tour.ID != "" && tour.ID != session.TourID:
		return &ValidationError{Field: "tour.id", Reason: fmt.Sprintf("%q does not match session tour %q", tour.ID, session.TourID)}
	}
	for i, st := range tour.Stops {
		if strings.TrimSpace(st.Name) == "" {
			return &ValidationError{Field: fmt.Sprintf("tour.stops[%d].name", i), Reason: "is required"}
		}
		if st.Lat < -90 || st.Lat > 90 || st.Lon < -180 || st.Lon > 180 {
			return &ValidationError{Field: fmt.Sprintf("tour.stops[%d]", i), Reason: "has invalid coordinates"}
		}
	}
	return nil
}

// startLocation formats the first stop as "lon,lat".
func startLocation(t *model.Tour) string {
	s := t.Start()
	if s == nil {
		return ""
	}
	return fmt.Sprintf("%.6f,%.6f", s.Lon, s.Lat)
}

// unitIndices lists the intro followed by every stop index.
func unitIndices(stops int) []int {
	out := make([]int, 0, stops+1)
	out = append(out, model.IntroIndex)
	for i := range stops {
		out = append(out, i)
	}
	return out
}

func completedScripts(s model.Scripts, stops int) model.Scripts {
	out := model.Scripts{Stops: map[int]model.ScriptEntry{}}
	for _, idx := range s.Indices() {
		e, _ := s.Get(idx)
		if e.Status != model.UnitComplete || idx >= stops {
			continue
		}
		if idx == model.IntroIndex {
			out.Intro = &e
		} else {
			out.Stops[idx] = e
		}
	}
	return out
}

func completedAudio(a model.AudioFiles, stops int) model.AudioFiles {
	out := model.AudioFiles{Stops: map[int]model.AudioEntry{}}
	if a.Intro != nil && a.Intro.Status == model.UnitComplete {
		e := *a.Intro
		out.Intro = &e
	}
	for idx, e := range a.Stops {
		if e.Status == model.UnitComplete && idx < stops {
			out.Stops[idx] = e
		}
	}
	return out
}

func countAudio(a model.AudioFiles) int {
	n := len(a.Stops)
	if a.Intro != nil {
		n++
	}
	return n
}

func collectFailures(s *State) []*UnitError {
	var out []*UnitError
	for _, idx := range unitIndices(len(s.Tour.Stops)) {
		script, ok := s.Scripts.Get(idx)
		if !ok || script.Status != model.UnitComplete {
			msg := "not generated"
			if ok && script.Error != "" {
				msg = script.Error
			}
			out = append(out, &UnitError{Kind: model.UnitScript, Index: idx, Msg: msg})
			continue
		}
		if audio, ok := s.AudioFiles.Get(idx); !ok || audio.Status != model.UnitComplete {
			msg := "not synthesized"
			if ok && audio.Error != "" {
				msg = audio.Error
			}
			out = append(out, &UnitError{Kind: model.UnitAudio, Index: idx, Msg: msg})
		}
	}
	return out
}

func isNotFound(err error) bool {
	return errors.Is(err, tourdoc.ErrNotFound)
}

func ptr[T any](v T) *T { return &v }
