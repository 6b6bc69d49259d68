package llm

import (
	"testing"
)

func TestWordWrap(t *testing.T) {
	tests := []struct {
		name  string
		input string
		width int
		want  string
	}{
		{
			name:  "No wrap needed",
			input: "Hello World",
			width: 20,
			want:  "Hello World",
		},
		{
			name:  "Simple wrap",
			input: "Hello World",
			width: 5,
			want:  "Hello\nWorld",
		},
		{
			name:  "Long word preserved",
			input: "Hello Superextralongword World",
			width: 10,
			want:  "Hello\nSuperextralongword\nWorld",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WordWrap(tt.input, tt.width); got != tt.want {
				t.Errorf("WordWrap() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestCleanJSONBlock(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "Markdown json block",
			input: "```json\n{\"key\": \"value\"}\n```",
			want:  `{"key": "value"}`,
		},
		{
			name:  "Generic block",
			input: "Here you go:\n```\n{\"a\": 1}\n```",
			want:  `{"a": 1}`,
		},
		{
			name:  "Bare JSON",
			input: "  {\"a\": 1}  ",
			want:  `{"a": 1}`,
		},
		{
			name:  "Prose around object",
			input: "Sure! Here is the summary: {\"summary\": \"x\"} Hope it helps.",
			want:  `{"summary": "x"}`,
		},
		{
			name:  "Array",
			input: "Facts: [\"a\", \"b\"]",
			want:  `["a", "b"]`,
		},
		{
			name:  "Upper-case fence",
			input: "```JSON\n[1]\n```\nDone.",
			want:  `[1]`,
		},
		{
			name:  "Plain text",
			input: "  no json here ",
			want:  "no json here",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CleanJSONBlock(tt.input)
			if got != tt.want {
				t.Errorf("CleanJSONBlock() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTruncateLines(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		maxLen int
		want   string
	}{
		{"Empty", "", 10, ""},
		{"Short lines kept", "a\nb", 10, "a\nb"},
		{"Blank lines dropped", "a\n\n  \nb", 10, "a\nb"},
		{"Long line cut", "abcdefghijkl", 5, "abcde..."},
		{"Runes not bytes", "ñññññññ", 3, "ñññ..."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TruncateLines(tt.input, tt.maxLen); got != tt.want {
				t.Errorf("TruncateLines() = %q, want %q", got, tt.want)
			}
		})
	}
}
