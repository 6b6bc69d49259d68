package tts

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/net/html"
)

// TruncationMarker is appended to text cut down by FitToByteLimit.
const TruncationMarker = "…"

var speakerLabelRegex = regexp.MustCompile(`(?m)^[A-Za-z]+(\s*\([^)]+\))?:\s*`)

// StripSpeakerLabels removes speaker labels like "Luna:" or "Aria (female):" from scripts.
func StripSpeakerLabels(script string) string {
	return speakerLabelRegex.ReplaceAllString(script, "")
}

var (
	mdEmphasis = regexp.MustCompile("(\\*\\*|__|\\*|`)([^*`\n]+)(\\*\\*|__|\\*|`)")
	mdHeading  = regexp.MustCompile(`(?m)^[ \t]{0,3}#{1,6}[ \t]*`)
	mdBullet   = regexp.MustCompile(`(?m)^[ \t]*[-*+][ \t]+`)
	blankRuns  = regexp.MustCompile(`\n{3,}`)
)

// PlainText reduces generated markup (HTML tags, markdown emphasis,
// headings, bullets) to speakable text.
func PlainText(s string) string {
	if strings.ContainsAny(s, "<&") {
		s = htmlText(s)
	}
	s = mdHeading.ReplaceAllString(s, "")
	s = mdBullet.ReplaceAllString(s, "")
	s = mdEmphasis.ReplaceAllString(s, "$2")
	s = blankRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

func htmlText(s string) string {
	z := html.NewTokenizer(strings.NewReader(s))
	var sb strings.Builder
	skip := 0
	for {
		switch z.Next() {
		case html.ErrorToken:
			return sb.String()
		case html.TextToken:
			if skip == 0 {
				sb.Write(z.Text())
			}
		case html.StartTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style":
				skip++
			case "p", "br", "div", "li":
				sb.WriteString("\n")
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			switch string(name) {
			case "script", "style":
				if skip > 0 {
					skip--
				}
			case "p", "div":
				sb.WriteString("\n")
			}
		case html.SelfClosingTagToken:
			if name, _ := z.TagName(); string(name) == "br" {
				sb.WriteString("\n")
			}
		}
	}
}

// FitToByteLimit returns text unchanged if its UTF-8 encoding fits in limit
// bytes. Otherwise it drops 10% of the remaining runes per step until the
// prefix plus TruncationMarker fits, and reports true.
func FitToByteLimit(text string, limit int) (string, bool) {
	if len(text) <= limit {
		return text, false
	}
	if limit < len(TruncationMarker) {
		return "", true
	}

	runes := []rune(text)
	n := len(runes)
	size := 0
	for _, r := range runes {
		size += utf8.RuneLen(r)
	}
	budget := limit - len(TruncationMarker)
	for n > 0 && size > budget {
		step := n / 10
		if step < 1 {
			step = 1
		}
		for _, r := range runes[n-step : n] {
			size -= utf8.RuneLen(r)
		}
		n -= step
	}

	prefix := strings.TrimRightFunc(string(runes[:n]), unicode.IsSpace)
	return prefix + TruncationMarker, true
}
