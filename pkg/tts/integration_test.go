package tts_test

import (
	"context"
	"os"
	"testing"

	"github.com/caarlos0/env/v11"

	"walktour/pkg/config"
	"walktour/pkg/tts"
	"walktour/pkg/tts/edgetts"
)

func TestOnline_EdgeTTS(t *testing.T) {
	if os.Getenv("TEST_TTS") == "" {
		t.Skip("Set TEST_TTS=1 to run Edge TTS integration test")
	}

	cfg := config.DefaultConfig()
	if err := env.Parse(cfg); err != nil {
		t.Fatalf("env: %v", err)
	}
	p := edgetts.NewProvider(cfg.TTS.EdgeTTS)

	audio, err := p.Synthesize(context.Background(), "This is an Edge TTS online test.", "", "en-US")
	if err != nil {
		t.Fatalf("Edge TTS synthesis failed: %v", err)
	}
	if err := tts.VerifyAudio(audio); err != nil {
		t.Error(err)
	}
}
