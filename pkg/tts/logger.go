package tts

import (
	"walktour/pkg/logging"
)

// Log records a synthesis request to the TTS log.
func Log(provider, text string, size int, err error) {
	if err != nil {
		logging.TTSLogger.Warn("synthesis failed", "provider", provider, "chars", len([]rune(text)), "error", err)
		return
	}
	logging.TTSLogger.Info("synthesis", "provider", provider, "bytes", size, "text", text)
}
