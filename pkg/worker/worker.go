// Package worker holds the single-unit tasks the pipeline fans out: one
// script generation per stop (plus the intro) and one audio synthesis per
// produced script.
package worker

import (
	"context"
	"errors"
	"fmt"

	"walktour/pkg/cancel"
	"walktour/pkg/llm"
	"walktour/pkg/model"
	"walktour/pkg/retry"
	"walktour/pkg/tts"
)

// TextGenerator produces script text with provenance.
type TextGenerator interface {
	Generate(ctx context.Context, profile, prompt string) (llm.Result, error)
}

// Synthesizer renders speech and names the backend that served it.
type Synthesizer interface {
	Render(ctx context.Context, text, voice, language string) (tts.Synthesis, error)
}

// BlobStore publishes audio.
type BlobStore interface {
	Store(ctx context.Context, key string, data []byte) (string, error)
}

// UnitWriter persists one completed or failed unit of a tour document.
type UnitWriter interface {
	WriteScript(ctx context.Context, tourID string, idx int, e model.ScriptEntry) error
	WriteAudio(ctx context.Context, tourID string, idx int, e model.AudioEntry) error
}

// CancelChecker is the point-check of a session's cancellation flag.
type CancelChecker interface {
	Check(ctx context.Context, sessionID string) error
}

// UnitName is "intro" or "stop-NN" (1-based).
func UnitName(idx int) string {
	if idx == model.IntroIndex {
		return "intro"
	}
	return fmt.Sprintf("stop-%02d", idx+1)
}

// aborts reports whether err must stop the whole run instead of failing one unit.
func aborts(err error) bool {
	return errors.Is(err, cancel.ErrCancelled) || retry.IsCancellation(err)
}

func checkCancel(ctx context.Context, c CancelChecker, sessionID string) error {
	if c != nil {
		if err := c.Check(ctx, sessionID); err != nil {
			return err
		}
	}
	if ctx.Err() != nil {
		return context.Cause(ctx)
	}
	return nil
}
