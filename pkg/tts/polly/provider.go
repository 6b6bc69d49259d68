package polly

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/polly"
	pollytypes "github.com/aws/aws-sdk-go-v2/service/polly/types"
	"github.com/aws/smithy-go"

	"walktour/pkg/config"
	"walktour/pkg/retry"
	"walktour/pkg/tts"
)

const name = "polly"

type synthClient interface {
	SynthesizeSpeech(ctx context.Context, params *polly.SynthesizeSpeechInput, optFns ...func(*polly.Options)) (*polly.SynthesizeSpeechOutput, error)
}

// Provider implements tts.Provider for Amazon Polly.
type Provider struct {
	mu     sync.Mutex
	client synthClient
	cfg    config.PollyConfig
}

// NewProvider creates a Polly provider. The AWS client is built lazily from
// the default credential chain on first use.
func NewProvider(cfg config.PollyConfig) *Provider {
	return newWithClient(cfg, nil)
}

func newWithClient(cfg config.PollyConfig, client synthClient) *Provider {
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = "us-east-1"
	}
	if strings.TrimSpace(cfg.VoiceID) == "" {
		cfg.VoiceID = "Joanna"
	}
	if strings.TrimSpace(cfg.Engine) == "" {
		cfg.Engine = "neural"
	}
	return &Provider{client: client, cfg: cfg}
}

// Synthesize renders text to mp3. Voices in Edge notation ("en-US-...Neural")
// are not Polly voices and fall back to the configured one.
func (p *Provider) Synthesize(ctx context.Context, text, voice, language string) ([]byte, error) {
	client, err := p.resolveClient(ctx)
	if err != nil {
		return nil, err
	}

	if voice == "" || strings.Contains(voice, "-") {
		voice = p.cfg.VoiceID
	}
	engine := pollytypes.EngineStandard
	if strings.EqualFold(p.cfg.Engine, "neural") {
		engine = pollytypes.EngineNeural
	}

	text = tts.StripSpeakerLabels(text)
	out, err := client.SynthesizeSpeech(ctx, &polly.SynthesizeSpeechInput{
		Engine:       engine,
		OutputFormat: pollytypes.OutputFormatMp3,
		Text:         &text,
		TextType:     pollytypes.TextTypeText,
		VoiceId:      pollytypes.VoiceId(voice),
	})
	if err != nil {
		err = normalizeError(err)
		tts.Log(name, text, 0, err)
		return nil, err
	}
	if out == nil || out.AudioStream == nil {
		return nil, errors.New("polly: empty audio stream")
	}
	defer out.AudioStream.Close()

	data, err := io.ReadAll(out.AudioStream)
	if err != nil {
		return nil, fmt.Errorf("polly: read audio: %w", err)
	}
	if err := tts.VerifyAudio(data); err != nil {
		return nil, fmt.Errorf("polly: %w", err)
	}

	tts.Log(name, text, len(data), nil)
	return data, nil
}

// normalizeError maps Polly faults onto the shared error vocabulary:
// throttling and server faults become FatalErrors, malformed input is permanent.
func normalizeError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("polly: %w", err)
	}
	switch apiErr.ErrorCode() {
	case "TooManyRequestsException", "ThrottlingException":
		return fmt.Errorf("polly: %w", tts.NewFatalError(http.StatusTooManyRequests, apiErr.Error()))
	case "UnrecognizedClientException", "AccessDeniedException", "InvalidSignatureException":
		return fmt.Errorf("polly: %w", tts.NewFatalError(http.StatusForbidden, apiErr.Error()))
	case "InvalidSsmlException", "TextLengthExceededException", "LexiconNotFoundException",
		"MarksNotSupportedForFormatException", "InvalidSampleRateException":
		return retry.Permanent(fmt.Errorf("polly: %w", err))
	}
	if apiErr.ErrorFault() == smithy.FaultServer {
		return fmt.Errorf("polly: %w", tts.NewFatalError(http.StatusInternalServerError, apiErr.Error()))
	}
	return fmt.Errorf("polly: %w", err)
}

func (p *Provider) resolveClient(ctx context.Context) (synthClient, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.client != nil {
		return p.client, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(p.cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	p.client = polly.NewFromConfig(awsCfg)
	return p.client, nil
}

// Voices returns a small curated set of neural voices.
func (p *Provider) Voices(ctx context.Context) ([]tts.Voice, error) {
	return []tts.Voice{
		{ID: "Joanna", Name: "Joanna (US)", Language: "en-US", IsNeural: true},
		{ID: "Matthew", Name: "Matthew (US)", Language: "en-US", IsNeural: true},
		{ID: "Amy", Name: "Amy (UK)", Language: "en-GB", IsNeural: true},
		{ID: "Lucia", Name: "Lucia (Spain)", Language: "es-ES", IsNeural: true},
		{ID: "Lea", Name: "Lea (France)", Language: "fr-FR", IsNeural: true},
		{ID: "Vicki", Name: "Vicki (Germany)", Language: "de-DE", IsNeural: true},
	}, nil
}
