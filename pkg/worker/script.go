package worker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"walktour/pkg/llm"
	"walktour/pkg/model"
	"walktour/pkg/prompts"
)

// ScriptJob is one script unit.
type ScriptJob struct {
	Session model.Session
	Tour    *model.Tour
	Index   int // model.IntroIndex for the intro
	Area    model.AreaContext
}

// ScriptOptions sets the requested script lengths in words.
type ScriptOptions struct {
	IntroWords int
	StopWords  int
}

// ScriptWorker generates one script per job.
type ScriptWorker struct {
	gen     TextGenerator
	prompts *prompts.Manager
	docs    UnitWriter
	cancel  CancelChecker
	opts    ScriptOptions
}

// NewScriptWorker creates a script worker. docs and cancel may be nil.
func NewScriptWorker(gen TextGenerator, pm *prompts.Manager, docs UnitWriter, c CancelChecker, opts ScriptOptions) *ScriptWorker {
	if opts.IntroWords <= 0 {
		opts.IntroWords = 150
	}
	if opts.StopWords <= 0 {
		opts.StopWords = 250
	}
	return &ScriptWorker{gen: gen, prompts: pm, docs: docs, cancel: c, opts: opts}
}

// Run generates and persists the script for job. A failed generation is
// recorded in the returned entry; only cancellation and persistence
// failures are returned as errors.
func (w *ScriptWorker) Run(ctx context.Context, job ScriptJob) (model.ScriptEntry, error) {
	if err := checkCancel(ctx, w.cancel, job.Session.SessionID); err != nil {
		return model.ScriptEntry{}, err
	}

	start := time.Now()
	entry, err := w.generate(ctx, job)
	if err != nil {
		if aborts(err) {
			return model.ScriptEntry{}, err
		}
		slog.Warn("ScriptWorker: unit failed", "tour", job.Tour.ID, "unit", UnitName(job.Index), "error", err)
		entry = model.ScriptEntry{Status: model.UnitFailed, Error: err.Error()}
	} else {
		slog.Info("ScriptWorker: unit complete",
			"tour", job.Tour.ID,
			"unit", UnitName(job.Index),
			"model", entry.ModelUsed,
			"words", len(strings.Fields(entry.Content)),
			"took", time.Since(start).Round(time.Millisecond))
	}

	if w.docs != nil {
		// Completed work is kept even if the session is being cancelled
		if err := w.docs.WriteScript(context.WithoutCancel(ctx), job.Tour.ID, job.Index, entry); err != nil {
			return entry, err
		}
	}
	return entry, nil
}

func (w *ScriptWorker) generate(ctx context.Context, job ScriptJob) (model.ScriptEntry, error) {
	prompt, err := w.render(job)
	if err != nil {
		return model.ScriptEntry{}, fmt.Errorf("render prompt: %w", err)
	}

	res, err := w.gen.Generate(ctx, llm.ProfileScript, prompt)
	if err != nil {
		return model.ScriptEntry{}, err
	}
	text := strings.TrimSpace(res.Text)
	if text == "" {
		return model.ScriptEntry{}, fmt.Errorf("empty script from %s", res.Model)
	}
	return model.ScriptEntry{Status: model.UnitComplete, Content: text, ModelUsed: res.Model}, nil
}

func (w *ScriptWorker) render(job ScriptJob) (string, error) {
	if job.Index == model.IntroIndex {
		return w.prompts.Render(prompts.ScriptIntro, prompts.IntroData{
			Tour:     job.Tour,
			Language: job.Session.Language,
			Words:    w.opts.IntroWords,
			Area:     job.Area,
		})
	}

	if job.Index < 0 || job.Index >= len(job.Tour.Stops) {
		return "", fmt.Errorf("stop index %d out of range", job.Index)
	}
	data := prompts.StopData{
		Tour:     job.Tour,
		Stop:     job.Tour.Stops[job.Index],
		Index:    job.Index,
		Total:    len(job.Tour.Stops),
		Language: job.Session.Language,
		Words:    w.opts.StopWords,
		Area:     job.Area,
	}
	if job.Index+1 < len(job.Tour.Stops) {
		next := job.Tour.Stops[job.Index+1]
		data.Next = &next
	}
	return w.prompts.Render(prompts.ScriptStop, data)
}
