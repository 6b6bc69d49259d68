package pipeline

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walktour/pkg/areactx"
	"walktour/pkg/blob"
	"walktour/pkg/cancel"
	"walktour/pkg/db"
	"walktour/pkg/llm/failover"
	"walktour/pkg/model"
	"walktour/pkg/prompts"
	"walktour/pkg/retry"
	"walktour/pkg/store"
	"walktour/pkg/tourdoc"
	"walktour/pkg/tts"
	"walktour/pkg/worker"
)

// --- fakes ---

type fakeContext struct {
	calls  atomic.Int32
	during func()
	err    error
}

func (f *fakeContext) Preload(ctx context.Context, tour *model.Tour, language string) (areactx.Result, error) {
	f.calls.Add(1)
	if f.during != nil {
		f.during()
	}
	if f.err != nil {
		return areactx.Result{}, f.err
	}
	summary := "A harbour city."
	res := areactx.Result{
		Stops:         append([]model.Stop(nil), tour.Stops...),
		StopLocations: model.StopLocationMap{},
		Summaries:     map[model.LocationKey]model.AreaContext{},
	}
	for i := range res.Stops {
		res.Stops[i].City = "Valletta"
		key := model.NewLocationKey("Malta", "Valletta", "")
		res.StopLocations[i] = key
		res.Summaries[key] = model.AreaContext{City: model.LocationSummary{Summary: &summary}}
	}
	return res, nil
}

type llmBackend struct {
	model string
	fail  func(call int) error
	calls atomic.Int32
}

func (b *llmBackend) GenerateText(ctx context.Context, profile, prompt string) (string, error) {
	n := int(b.calls.Add(1))
	if b.fail != nil {
		if err := b.fail(n); err != nil {
			return "", err
		}
	}
	first := strings.SplitN(strings.TrimSpace(prompt), "\n", 2)[0]
	return fmt.Sprintf("Script by %s for %d chars: %s", b.model, len(prompt), first), nil
}
func (b *llmBackend) GenerateJSON(ctx context.Context, profile, prompt string, target any) error {
	return errors.New("unused")
}
func (b *llmBackend) ModelName(profile string) string       { return b.model }
func (b *llmBackend) HealthCheck(ctx context.Context) error { return nil }

type ttsBackend struct {
	calls atomic.Int32
	fail  bool
}

func (b *ttsBackend) Synthesize(ctx context.Context, text, voice, language string) ([]byte, error) {
	b.calls.Add(1)
	if b.fail {
		return nil, tts.NewFatalError(503, "unavailable")
	}
	return make([]byte, tts.MinAudioSize*2), nil
}
func (b *ttsBackend) Voices(ctx context.Context) ([]tts.Voice, error) { return nil, nil }

type scriptSpy struct {
	ScriptRunner
	mu      sync.Mutex
	indices []int
}

func (s *scriptSpy) Run(ctx context.Context, job worker.ScriptJob) (model.ScriptEntry, error) {
	s.mu.Lock()
	s.indices = append(s.indices, job.Index)
	s.mu.Unlock()
	return s.ScriptRunner.Run(ctx, job)
}

// --- harness ---

type harness struct {
	docs    *tourdoc.Store
	st      *store.SQLiteStore
	signal  *cancel.Signal
	ctxLoad *fakeContext
	primary *llmBackend
	backup  *llmBackend
	speech  *ttsBackend
	scripts *scriptSpy
	orch    *Orchestrator
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	d, err := db.Init(filepath.Join(t.TempDir(), "pipeline.db"))
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })

	h := &harness{
		docs:    tourdoc.New(d),
		st:      store.NewSQLiteStore(d),
		ctxLoad: &fakeContext{},
		primary: &llmBackend{model: "gemini-2.5-flash"},
		backup:  &llmBackend{model: "gpt-4o-mini"},
		speech:  &ttsBackend{},
	}
	h.signal = cancel.New(h.st, 10*time.Millisecond)

	rc := retry.Config{
		MaxRetries: 3,
		BaseDelay:  time.Millisecond,
		Sleep:      func(ctx context.Context, d time.Duration) error { return nil },
	}
	gen, err := failover.New(
		failover.Backend{Name: "gemini", Provider: h.primary},
		&failover.Backend{Name: "openai", Provider: h.backup},
		rc)
	require.NoError(t, err)
	synth, err := tts.NewFailover(tts.Backend{Name: "edge-tts", Provider: h.speech}, nil, rc)
	require.NoError(t, err)
	blobs, err := blob.NewFileStore(t.TempDir(), "/media")
	require.NoError(t, err)
	pm, err := prompts.Default()
	require.NoError(t, err)

	h.scripts = &scriptSpy{ScriptRunner: worker.NewScriptWorker(gen, pm, h.docs, h.signal, worker.ScriptOptions{})}
	audio := worker.NewAudioWorker(synth, blobs, h.docs, h.signal, 0)

	h.orch, err = New(Deps{
		Docs:        h.docs,
		Context:     h.ctxLoad,
		Scripts:     h.scripts,
		Audio:       audio,
		Cancel:      h.signal,
		Checkpoints: NewCheckpoints(h.st),
	}, Config{MaxConcurrency: 4})
	require.NoError(t, err)
	return h
}

func threeStopTour() *model.Tour {
	return &model.Tour{
		ID:                    "tour-1",
		Title:                 "Grand Harbour",
		Theme:                 "history",
		EstimatedTotalMinutes: 70,
		Stops: []model.Stop{
			{Name: "Upper Barrakka Gardens", Lat: 35.8947, Lon: 14.5126, DwellMinutes: 10},
			{Name: "St John's Co-Cathedral", Lat: 35.8977, Lon: 14.5125, DwellMinutes: 20, WalkMinutesFromPrevious: 5},
			{Name: "Fort St Elmo", Lat: 35.9020, Lon: 14.5190, DwellMinutes: 25, WalkMinutesFromPrevious: 12},
		},
	}
}

func session(id string) model.Session {
	return model.Session{SessionID: id, TourID: "tour-1", Language: "en-GB", Voice: "en-GB-SoniaNeural"}
}

func countComplete(doc *model.TourDocument) (scripts, audio int) {
	all := append([]*model.ScriptEntry{doc.Scripts.Intro}, doc.Scripts.Stops...)
	for _, e := range all {
		if e != nil && e.Status == model.UnitComplete {
			scripts++
		}
	}
	allAudio := append([]*model.AudioEntry{doc.AudioFiles.Intro}, doc.AudioFiles.Stops...)
	for _, e := range allAudio {
		if e != nil && e.Status == model.UnitComplete {
			audio++
		}
	}
	return scripts, audio
}

// --- tests ---

func TestNew_RequiresDeps(t *testing.T) {
	_, err := New(Deps{}, Config{})
	assert.Error(t, err)
}

func TestRun_EndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	res, err := h.orch.Run(ctx, Request{Session: session("s1"), Tour: threeStopTour()})
	require.NoError(t, err)
	assert.NoError(t, res.Partial())
	assert.Equal(t, PhaseComplete, res.State.Phase)
	assert.Len(t, res.State.Scripts.Indices(), 4)

	doc, err := h.docs.Get(ctx, "tour-1")
	require.NoError(t, err)
	assert.Equal(t, model.DocComplete, doc.Status)
	assert.Equal(t, 60, doc.Duration)
	assert.Equal(t, "14.512600,35.894700", doc.StartLocation)
	assert.NotNil(t, doc.CompletedAt)

	scripts, audio := countComplete(doc)
	assert.Equal(t, 4, scripts)
	assert.Equal(t, 4, audio)
	assert.Equal(t, "gemini-2.5-flash", doc.Scripts.Stops[2].ModelUsed)
	assert.Equal(t, "edge-tts", doc.AudioFiles.Intro.ModelUsed)
	assert.Equal(t, "/media/tours/tour-1/en-gb/stop-03.mp3", doc.AudioFiles.Stops[2].URL)

	assert.Equal(t, int32(1), h.ctxLoad.calls.Load())
	assert.Equal(t, int32(4), h.speech.calls.Load())

	cp, ok := NewCheckpoints(h.st).Load(ctx, "s1")
	require.True(t, ok)
	assert.Equal(t, PhaseComplete, cp.Phase)
	assert.Equal(t, End, cp.Node)
}

func TestRun_FallbackProvenance(t *testing.T) {
	h := newHarness(t)
	h.primary.fail = func(int) error {
		return &retry.APIError{Backend: "gemini", StatusCode: 429, Message: "resource exhausted"}
	}

	_, err := h.orch.Run(context.Background(), Request{Session: session("s1"), Tour: threeStopTour()})
	require.NoError(t, err)

	doc, err := h.docs.Get(context.Background(), "tour-1")
	require.NoError(t, err)
	require.NotNil(t, doc.Scripts.Intro)
	assert.Equal(t, "gpt-4o-mini", doc.Scripts.Intro.ModelUsed)
	for i, e := range doc.Scripts.Stops {
		require.NotNil(t, e, "stop %d", i)
		assert.Equal(t, model.UnitComplete, e.Status)
		assert.Equal(t, "gpt-4o-mini", e.ModelUsed)
	}
	// One primary attempt per unit before switching
	assert.Equal(t, int32(4), h.primary.calls.Load())
	assert.LessOrEqual(t, h.primary.calls.Load(), int32(4*3))
}

func TestRun_CancelledBeforeScriptFanOut(t *testing.T) {
	h := newHarness(t)
	h.ctxLoad.during = func() {
		require.NoError(t, h.signal.Cancel(context.Background(), "s1"))
	}

	res, err := h.orch.Run(context.Background(), Request{Session: session("s1"), Tour: threeStopTour()})
	require.Error(t, err)
	assert.True(t, IsCancelled(err))
	assert.Equal(t, PhaseFailed, res.State.Phase)
	assert.Empty(t, h.scripts.indices)

	doc, err := h.docs.Get(context.Background(), "tour-1")
	require.NoError(t, err)
	assert.Equal(t, model.DocFailed, doc.Status)
	assert.True(t, strings.HasPrefix(doc.Error, "cancelled"))
	assert.NotNil(t, doc.FailedAt)
	scripts, audio := countComplete(doc)
	assert.Zero(t, scripts)
	assert.Zero(t, audio)
}

func TestRun_CancelledMidFlight(t *testing.T) {
	h := newHarness(t)
	var once sync.Once
	h.primary.fail = func(call int) error {
		once.Do(func() { _ = h.signal.Cancel(context.Background(), "s1") })
		time.Sleep(50 * time.Millisecond)
		return nil
	}

	_, err := h.orch.Run(context.Background(), Request{Session: session("s1"), Tour: threeStopTour()})
	assert.True(t, IsCancelled(err))
	assert.Zero(t, h.speech.calls.Load(), "audio never starts after cancellation")

	doc, err := h.docs.Get(context.Background(), "tour-1")
	require.NoError(t, err)
	assert.Equal(t, model.DocFailed, doc.Status)
}

func TestRun_PartialFailure(t *testing.T) {
	h := newHarness(t)
	h.scripts.ScriptRunner = failingFor{inner: h.scripts.ScriptRunner, idx: 1, msg: "model refused"}

	res, err := h.orch.Run(context.Background(), Request{Session: session("s1"), Tour: threeStopTour()})
	require.NoError(t, err)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, model.UnitScript, res.Failures[0].Kind)
	assert.Equal(t, 1, res.Failures[0].Index)
	assert.True(t, errors.Is(res.Partial(), ErrPartialGeneration))

	doc, err := h.docs.Get(context.Background(), "tour-1")
	require.NoError(t, err)
	assert.Equal(t, model.DocComplete, doc.Status)
	assert.Equal(t, model.UnitFailed, doc.Scripts.Stops[1].Status)
	assert.Nil(t, doc.AudioFiles.Stops[1], "no audio without a complete script")
	scripts, audio := countComplete(doc)
	assert.Equal(t, 3, scripts)
	assert.Equal(t, 3, audio)
}

// failingFor records a failed entry for one index and delegates the rest.
type failingFor struct {
	inner ScriptRunner
	idx   int
	msg   string
}

func (f failingFor) Run(ctx context.Context, job worker.ScriptJob) (model.ScriptEntry, error) {
	if job.Index == f.idx {
		return model.ScriptEntry{Status: model.UnitFailed, Error: f.msg}, nil
	}
	return f.inner.Run(ctx, job)
}

func TestRun_ResumeSkipsCompletedUnits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// A previous run left the intro and stop 0 complete, stop 1 failed
	prev := session("s1")
	require.NoError(t, h.docs.Begin(ctx, &model.TourDocument{TourID: "tour-1", Language: prev.Language, Voice: prev.Voice, StopCount: 3}))
	require.NoError(t, h.docs.WriteScript(ctx, "tour-1", model.IntroIndex, model.ScriptEntry{Status: model.UnitComplete, Content: "Welcome back.", ModelUsed: "old"}))
	require.NoError(t, h.docs.WriteScript(ctx, "tour-1", 0, model.ScriptEntry{Status: model.UnitComplete, Content: "Gardens.", ModelUsed: "old"}))
	require.NoError(t, h.docs.WriteAudio(ctx, "tour-1", 0, model.AudioEntry{Status: model.UnitComplete, URL: "/media/old.mp3", ModelUsed: "old"}))
	require.NoError(t, h.docs.WriteScript(ctx, "tour-1", 1, model.ScriptEntry{Status: model.UnitFailed, Error: "quota"}))
	require.NoError(t, h.docs.MarkFailed(ctx, "tour-1", "crash"))

	_, err := h.orch.Run(ctx, Request{Session: session("s2"), Tour: threeStopTour()})
	require.NoError(t, err)

	assert.ElementsMatch(t, []int{1, 2}, h.scripts.indices)
	assert.Equal(t, int32(3), h.speech.calls.Load(), "intro, stop 1 and stop 2")

	doc, err := h.docs.Get(ctx, "tour-1")
	require.NoError(t, err)
	assert.Equal(t, model.DocComplete, doc.Status)
	assert.Equal(t, "Welcome back.", doc.Scripts.Intro.Content)
	assert.Equal(t, "/media/old.mp3", doc.AudioFiles.Stops[0].URL)
	scripts, audio := countComplete(doc)
	assert.Equal(t, 4, scripts)
	assert.Equal(t, 4, audio)
}

func TestRun_LanguageChangeRegeneratesUnits(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.Run(ctx, Request{Session: session("s1"), Tour: threeStopTour()})
	require.NoError(t, err)
	firstLLM := h.primary.calls.Load()
	require.Equal(t, int32(4), h.speech.calls.Load())

	german := session("s2")
	german.Language = "de-DE"
	german.Voice = "de-DE-KatjaNeural"
	_, err = h.orch.Run(ctx, Request{Session: german, Tour: threeStopTour()})
	require.NoError(t, err)

	assert.Equal(t, int32(4), h.primary.calls.Load()-firstLLM, "every script is written again")
	assert.Equal(t, int32(8), h.speech.calls.Load(), "every unit is spoken again")

	doc, err := h.docs.Get(ctx, "tour-1")
	require.NoError(t, err)
	assert.Equal(t, model.DocComplete, doc.Status)
	assert.Equal(t, "de-DE", doc.Language)
	require.NotNil(t, doc.AudioFiles.Stops[0])
	assert.Contains(t, doc.AudioFiles.Stops[0].URL, "/de-de/")
	assert.NotContains(t, doc.AudioFiles.Stops[0].URL, "/en-gb/")
}

func TestRun_Validation(t *testing.T) {
	tests := []struct {
		name  string
		req   Request
		field string
	}{
		{"NoSession", Request{Session: model.Session{TourID: "tour-1", Language: "en"}, Tour: threeStopTour()}, "session_id"},
		{"NoLanguage", Request{Session: model.Session{SessionID: "s", TourID: "tour-1"}, Tour: threeStopTour()}, "language"},
		{"NoTour", Request{Session: session("s1")}, "tour"},
		{"NoStops", Request{Session: session("s1"), Tour: &model.Tour{ID: "tour-1"}}, "tour.stops"},
		{"MismatchedTour", Request{Session: session("s1"), Tour: &model.Tour{ID: "other", Stops: threeStopTour().Stops}}, "tour.id"},
		{"BadCoordinates", Request{Session: session("s1"), Tour: &model.Tour{Stops: []model.Stop{{Name: "x", Lat: 120}}}}, "tour.stops[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			_, err := h.orch.Run(context.Background(), tt.req)
			var ve *ValidationError
			require.True(t, errors.As(err, &ve), "got %v", err)
			assert.Equal(t, tt.field, ve.Field)
			assert.Zero(t, h.ctxLoad.calls.Load(), "fails before any work")

			_, err = h.docs.Get(context.Background(), "tour-1")
			assert.True(t, errors.Is(err, tourdoc.ErrNotFound))
		})
	}
}

func TestRun_PreloadFailureFailsDocument(t *testing.T) {
	h := newHarness(t)
	h.ctxLoad.err = errors.New("database is locked")

	_, err := h.orch.Run(context.Background(), Request{Session: session("s1"), Tour: threeStopTour()})
	require.Error(t, err)
	assert.False(t, IsCancelled(err))

	doc, err := h.docs.Get(context.Background(), "tour-1")
	require.NoError(t, err)
	assert.Equal(t, model.DocFailed, doc.Status)
	assert.Contains(t, doc.Error, "database is locked")
}

func TestRun_AudioFailureIsPartial(t *testing.T) {
	h := newHarness(t)
	h.speech.fail = true

	res, err := h.orch.Run(context.Background(), Request{Session: session("s1"), Tour: threeStopTour()})
	require.NoError(t, err)
	assert.Len(t, res.Failures, 4)
	for _, f := range res.Failures {
		assert.Equal(t, model.UnitAudio, f.Kind)
	}
}
