package llm

import (
	"strings"

	"walktour/pkg/logging"
)

// LogExchange records one prompt/response pair to the LLM log.
func LogExchange(backend, profile, prompt, response string, err error) {
	if err != nil {
		logging.LLMLogger.Warn("generation failed",
			"backend", backend,
			"profile", profile,
			"error", err)
		return
	}
	logging.LLMLogger.Info("generation",
		"backend", backend,
		"profile", profile,
		"prompt", TruncateLines(prompt, 80),
		"response", WordWrap(strings.TrimSpace(response), 80))
}
