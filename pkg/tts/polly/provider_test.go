package polly

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	pollysdk "github.com/aws/aws-sdk-go-v2/service/polly"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walktour/pkg/config"
	"walktour/pkg/retry"
	"walktour/pkg/tts"
)

type fakePollyClient struct {
	audio []byte
	err   error
	input *pollysdk.SynthesizeSpeechInput
}

func (f *fakePollyClient) SynthesizeSpeech(ctx context.Context, params *pollysdk.SynthesizeSpeechInput, optFns ...func(*pollysdk.Options)) (*pollysdk.SynthesizeSpeechOutput, error) {
	f.input = params
	if f.err != nil {
		return nil, f.err
	}
	return &pollysdk.SynthesizeSpeechOutput{AudioStream: io.NopCloser(bytes.NewReader(f.audio))}, nil
}

func TestSynthesize(t *testing.T) {
	audio := bytes.Repeat([]byte{0xAB}, tts.MinAudioSize)
	fc := &fakePollyClient{audio: audio}
	p := newWithClient(config.PollyConfig{VoiceID: "Matthew"}, fc)

	got, err := p.Synthesize(context.Background(), "Guide: The cathedral took two centuries.", "en-US-AvaMultilingualNeural", "en-US")
	require.NoError(t, err)
	assert.Equal(t, audio, got)

	require.NotNil(t, fc.input)
	assert.Equal(t, "Matthew", string(fc.input.VoiceId))
	assert.Equal(t, "The cathedral took two centuries.", *fc.input.Text)
	assert.Equal(t, "neural", string(fc.input.Engine))
}

func TestSynthesize_PollyVoicePassesThrough(t *testing.T) {
	fc := &fakePollyClient{audio: make([]byte, tts.MinAudioSize)}
	p := newWithClient(config.PollyConfig{}, fc)

	_, err := p.Synthesize(context.Background(), "Hola", "Lucia", "es-ES")
	require.NoError(t, err)
	assert.Equal(t, "Lucia", string(fc.input.VoiceId))
}

func TestSynthesize_Errors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		fatal     bool
		permanent bool
	}{
		{"Throttled", &smithy.GenericAPIError{Code: "ThrottlingException", Message: "slow down"}, true, false},
		{"TooManyRequests", &smithy.GenericAPIError{Code: "TooManyRequestsException", Message: "busy"}, true, false},
		{"AccessDenied", &smithy.GenericAPIError{Code: "AccessDeniedException", Message: "no"}, true, false},
		{"ServerFault", &smithy.GenericAPIError{Code: "ServiceFailureException", Message: "boom", Fault: smithy.FaultServer}, true, false},
		{"TextTooLong", &smithy.GenericAPIError{Code: "TextLengthExceededException", Message: "too long"}, false, true},
		{"Transport", errors.New("dial tcp: connection refused"), false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newWithClient(config.PollyConfig{}, &fakePollyClient{err: tt.err})
			_, err := p.Synthesize(context.Background(), "hello", "", "en-US")
			require.Error(t, err)
			assert.Equal(t, tt.fatal, tts.IsFatalError(err))
			if tt.fatal {
				assert.True(t, retry.IsAPIError(err))
			}
			if tt.permanent {
				// A permanent error is never retried by the invoker.
				calls := 0
				_, derr := retry.Do(context.Background(), retry.Config{MaxRetries: 3}, retry.Backend[int]{
					Name: "polly",
					Call: func(ctx context.Context) (int, error) { calls++; return 0, err },
				}, nil)
				assert.Error(t, derr)
				assert.Equal(t, 1, calls)
			}
		})
	}
}

func TestSynthesize_TooSmall(t *testing.T) {
	p := newWithClient(config.PollyConfig{}, &fakePollyClient{audio: []byte("mp3")})
	_, err := p.Synthesize(context.Background(), "hello", "", "en-US")
	assert.Error(t, err)
}

func TestSynthesize_Cancelled(t *testing.T) {
	p := newWithClient(config.PollyConfig{}, &fakePollyClient{err: context.Canceled})
	_, err := p.Synthesize(context.Background(), "hello", "", "en-US")
	assert.True(t, errors.Is(err, context.Canceled))
}
