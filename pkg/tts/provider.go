package tts

import (
	"context"
	"errors"
	"fmt"
)

const (
	// MinAudioSize is the minimum size of a synthesized clip (1KB).
	// Anything smaller is likely a failed synthesis.
	MinAudioSize = 1024

	// MaxInputBytes is the largest UTF-8 text accepted by the speech backends.
	MaxInputBytes = 5000
)

// Provider defines the interface for Text-To-Speech engines.
type Provider interface {
	// Synthesize renders text with the given voice and returns mp3 bytes.
	Synthesize(ctx context.Context, text, voice, language string) ([]byte, error)

	// Voices returns a list of available voices for the provider.
	Voices(ctx context.Context) ([]Voice, error)
}

// Voice represents an available TTS voice.
type Voice struct {
	ID       string
	Name     string
	Language string
	IsNeural bool
}

// FatalError is a backend rejection that should move the call to the fallback.
// Examples: rate limits (429), server errors (5xx), auth failures (401/403).
type FatalError struct {
	StatusCode int
	Message    string
}

func (e *FatalError) Error() string {
	return e.Message
}

// APIStatus exposes the status code for error classification.
func (e *FatalError) APIStatus() int { return e.StatusCode }

// NewFatalError creates a new FatalError with the given status code and message.
func NewFatalError(statusCode int, message string) *FatalError {
	return &FatalError{StatusCode: statusCode, Message: message}
}

// IsFatalError checks if err wraps a FatalError.
func IsFatalError(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// VerifyAudio rejects clips too small to be real speech.
func VerifyAudio(data []byte) error {
	if len(data) < MinAudioSize {
		return fmt.Errorf("audio too small (%d bytes), likely failed synthesis", len(data))
	}
	return nil
}
