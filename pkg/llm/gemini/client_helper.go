package gemini

import (
	"log/slog"

	"google.golang.org/genai"
)

// logGoogleSearchUsage logs the usage of the Google Search tool. Nil-safe.
func logGoogleSearchUsage(profile string, meta *genai.GroundingMetadata) {
	used := false
	query := ""
	snippets := 0

	if meta != nil {
		snippets = len(meta.GroundingChunks)
		if len(meta.WebSearchQueries) > 0 {
			used = true
			query = meta.WebSearchQueries[0]
		}
		if meta.SearchEntryPoint != nil {
			used = true
			if query == "" {
				query = "[embedded in RenderedContent]"
			}
		}
		if snippets > 0 {
			used = true
		}
	}

	if used {
		slog.Debug("Gemini: Google Search used",
			"profile", profile,
			"snippets", snippets,
			"search_query", query)
	}
}
