package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dustin/go-humanize"

	"walktour/pkg/model"
	"walktour/pkg/tts"
)

// AudioJob is one audio unit, produced from a complete script.
type AudioJob struct {
	Session model.Session
	Index   int
	Script  model.ScriptEntry
}

// AudioWorker synthesizes and publishes one clip per job.
type AudioWorker struct {
	tts       Synthesizer
	blobs     BlobStore
	docs      UnitWriter
	cancel    CancelChecker
	byteLimit int
}

// NewAudioWorker creates an audio worker. docs and cancel may be nil.
func NewAudioWorker(s Synthesizer, blobs BlobStore, docs UnitWriter, c CancelChecker, byteLimit int) *AudioWorker {
	if byteLimit <= 0 {
		byteLimit = tts.MaxInputBytes
	}
	return &AudioWorker{tts: s, blobs: blobs, docs: docs, cancel: c, byteLimit: byteLimit}
}

// AudioKey is the blob key of a unit's clip.
func AudioKey(tourID, language string, idx int) string {
	lang := strings.ToLower(language)
	if lang == "" {
		lang = "und"
	}
	return fmt.Sprintf("tours/%s/%s/%s.mp3", tourID, lang, UnitName(idx))
}

// SpeechText reduces a script to what is sent to the speech backend and
// reports whether it had to be truncated.
func SpeechText(script string, byteLimit int) (string, bool) {
	text := tts.StripSpeakerLabels(tts.PlainText(script))
	return tts.FitToByteLimit(text, byteLimit)
}

// Run synthesizes and persists the audio for job. Failures are recorded
// in the returned entry; only cancellation and persistence failures are
// returned as errors.
func (w *AudioWorker) Run(ctx context.Context, job AudioJob) (model.AudioEntry, error) {
	if err := checkCancel(ctx, w.cancel, job.Session.SessionID); err != nil {
		return model.AudioEntry{}, err
	}

	entry, err := w.synthesize(ctx, job)
	if err != nil {
		if aborts(err) {
			return model.AudioEntry{}, err
		}
		slog.Warn("AudioWorker: unit failed", "tour", job.Session.TourID, "unit", UnitName(job.Index), "error", err)
		entry = model.AudioEntry{Status: model.UnitFailed, Error: err.Error()}
	}

	if w.docs != nil {
		// Completed work is kept even if the session is being cancelled
		if err := w.docs.WriteAudio(context.WithoutCancel(ctx), job.Session.TourID, job.Index, entry); err != nil {
			return entry, err
		}
	}
	return entry, nil
}

func (w *AudioWorker) synthesize(ctx context.Context, job AudioJob) (model.AudioEntry, error) {
	if job.Script.Status != model.UnitComplete {
		return model.AudioEntry{}, errors.New("script not complete")
	}

	text, truncated := SpeechText(job.Script.Content, w.byteLimit)
	if strings.TrimSpace(strings.TrimSuffix(text, tts.TruncationMarker)) == "" {
		return model.AudioEntry{}, errors.New("script has no speakable text")
	}
	if truncated {
		slog.Warn("AudioWorker: script truncated for synthesis",
			"unit", UnitName(job.Index),
			"original", humanize.Bytes(uint64(len(job.Script.Content))),
			"sent", humanize.Bytes(uint64(len(text))))
	}

	syn, err := w.tts.Render(ctx, text, job.Session.Voice, job.Session.Language)
	if err != nil {
		return model.AudioEntry{}, err
	}

	key := AudioKey(job.Session.TourID, job.Session.Language, job.Index)
	url, err := w.blobs.Store(ctx, key, syn.Audio)
	if err != nil {
		return model.AudioEntry{}, fmt.Errorf("store audio: %w", err)
	}

	slog.Info("AudioWorker: unit complete",
		"tour", job.Session.TourID,
		"unit", UnitName(job.Index),
		"backend", syn.Backend,
		"size", humanize.Bytes(uint64(len(syn.Audio))))
	return model.AudioEntry{Status: model.UnitComplete, URL: url, ModelUsed: syn.Backend}, nil
}
