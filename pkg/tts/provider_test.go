package tts

import (
	"errors"
	"fmt"
	"testing"
)

func TestIsFatalError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{
			name:     "FatalError 429",
			err:      NewFatalError(429, "Too Many Requests"),
			expected: true,
		},
		{
			name:     "FatalError 500",
			err:      NewFatalError(500, "Internal Server Error"),
			expected: true,
		},
		{
			name:     "Wrapped FatalError",
			err:      fmt.Errorf("polly: %w", NewFatalError(403, "denied")),
			expected: true,
		},
		{
			name:     "Standard Error",
			err:      errors.New("some regular error"),
			expected: false,
		},
		{
			name:     "Nil Error",
			err:      nil,
			expected: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFatalError(tt.err); got != tt.expected {
				t.Errorf("IsFatalError() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestFatalError_APIStatus(t *testing.T) {
	fe := NewFatalError(429, "slow down")
	if fe.APIStatus() != 429 {
		t.Errorf("APIStatus() = %d, want 429", fe.APIStatus())
	}
	if fe.Error() != "slow down" {
		t.Errorf("Error() = %q", fe.Error())
	}
}
