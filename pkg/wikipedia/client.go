// Package wikipedia fetches plain-text article extracts used as background
// for area summaries.
package wikipedia

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"walktour/pkg/request"
)

// ErrNotFound is returned when none of the candidate titles exists.
var ErrNotFound = errors.New("article not found")

// DefaultMaxChars caps an extract handed to a prompt.
const DefaultMaxChars = 2000

// Client handles Wikipedia API interactions.
type Client struct {
	request     *request.Client
	APIEndpoint string // Optional override for testing
	MaxChars    int
}

// NewClient creates a new Wikipedia client.
func NewClient(r *request.Client) *Client {
	return &Client{request: r, MaxChars: DefaultMaxChars}
}

// Extract returns the lead section of the first existing article among
// titles, in the wiki of the given BCP 47 language.
func (c *Client) Extract(ctx context.Context, language string, titles ...string) (string, error) {
	lang := wikiLang(language)
	for _, title := range titles {
		if strings.TrimSpace(title) == "" {
			continue
		}
		text, err := c.intro(ctx, title, lang)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return "", err
		}
		return truncate(text, c.MaxChars), nil
	}
	return "", ErrNotFound
}

func (c *Client) intro(ctx context.Context, title, lang string) (string, error) {
	endpoint := c.APIEndpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.wikipedia.org/w/api.php", lang)
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Add("action", "query")
	q.Add("prop", "extracts")
	q.Add("exintro", "1")
	q.Add("explaintext", "1")
	q.Add("titles", title)
	q.Add("format", "json")
	q.Add("redirects", "1")
	u.RawQuery = q.Encode()

	body, err := c.request.Get(ctx, u.String(), "wiki:"+lang+":"+title)
	if err != nil {
		return "", err
	}

	var apiResp response
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return "", fmt.Errorf("failed to decode json: %w", err)
	}
	for _, page := range apiResp.Query.Pages {
		if page.Missing != nil || strings.TrimSpace(page.Extract) == "" {
			continue
		}
		return strings.TrimSpace(page.Extract), nil
	}
	return "", fmt.Errorf("%w: %s", ErrNotFound, title)
}

type response struct {
	Query struct {
		Pages map[string]struct {
			Title   string  `json:"title"`
			Extract string  `json:"extract"`
			Missing *string `json:"missing,omitempty"`
		} `json:"pages"`
	} `json:"query"`
}

// wikiLang maps "de-AT" to "de".
func wikiLang(language string) string {
	base, _, _ := strings.Cut(strings.ToLower(strings.TrimSpace(language)), "-")
	if base == "" {
		return "en"
	}
	return base
}

// truncate cuts text at the last sentence end before max runes.
func truncate(text string, max int) string {
	if max <= 0 || utf8.RuneCountInString(text) <= max {
		return text
	}
	runes := []rune(text)
	cut := string(runes[:max])
	if i := strings.LastIndex(cut, ". "); i >= max/3 {
		return cut[:i+1]
	}
	return cut
}
