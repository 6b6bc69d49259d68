package edgetts

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"walktour/pkg/config"
	"walktour/pkg/tts"
)

const name = "edge-tts"

// Provider implements tts.Provider for Microsoft Edge TTS.
type Provider struct {
	cfg    config.EdgeTTSConfig
	dialer *websocket.Dialer
	now    func() time.Time
}

// NewProvider creates a new Edge TTS provider.
func NewProvider(cfg config.EdgeTTSConfig) *Provider {
	return &Provider{
		cfg:    cfg,
		dialer: websocket.DefaultDialer,
		now:    time.Now,
	}
}

// Synthesize renders text to mp3 over the Edge websocket.
func (p *Provider) Synthesize(ctx context.Context, text, voice, language string) ([]byte, error) {
	if voice == "" {
		voice = p.cfg.VoiceID
	}
	if voice == "" {
		return nil, errors.New("edge-tts: voice ID is required")
	}

	text = tts.StripSpeakerLabels(text)

	conn, err := p.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := p.sendConfig(conn); err != nil {
		return nil, err
	}

	requestID := strings.ReplaceAll(uuid.New().String(), "-", "")
	if err := p.sendSSML(conn, voice, language, text, requestID); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := p.consumeResponses(ctx, conn, &buf); err != nil {
		tts.Log(name, text, 0, err)
		return nil, err
	}
	if err := tts.VerifyAudio(buf.Bytes()); err != nil {
		tts.Log(name, text, buf.Len(), err)
		return nil, fmt.Errorf("edge-tts: %w", err)
	}

	tts.Log(name, text, buf.Len(), nil)
	return buf.Bytes(), nil
}

func (p *Provider) dial(ctx context.Context) (*websocket.Conn, error) {
	if p.cfg.WSSURL == "" || p.cfg.TrustedToken == "" {
		return nil, errors.New("edge-tts: wss_url and trusted_token are required")
	}

	header := http.Header{}
	if p.cfg.Origin != "" {
		header.Set("Origin", p.cfg.Origin)
	}
	header.Set("Pragma", "no-cache")
	header.Set("Cache-Control", "no-cache")
	if p.cfg.UserAgent != "" {
		header.Set("User-Agent", p.cfg.UserAgent)
	}
	header.Set("Accept-Language", "en-US,en;q=0.9")

	muid := strings.ReplaceAll(uuid.New().String(), "-", "")
	header.Set("Cookie", fmt.Sprintf("muid=%s", muid))

	url := fmt.Sprintf("%s?TrustedClientToken=%s&Sec-MS-GEC=%s&Sec-MS-GEC-Version=%s",
		p.cfg.WSSURL, p.cfg.TrustedToken, p.generateSecMSGec(), p.cfg.GecVersion)

	var dialErr error
	for i := 0; i < 3; i++ {
		conn, resp, err := p.dialer.DialContext(ctx, url, header)
		if err == nil {
			return conn, nil
		}
		dialErr = err
		if resp != nil {
			slog.Warn("EdgeTTS: handshake failure", "status", resp.Status)
			if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests {
				return nil, tts.NewFatalError(resp.StatusCode, fmt.Sprintf("edge-tts handshake rejected: %s", resp.Status))
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return nil, fmt.Errorf("websocket dial failed after retries: %w", dialErr)
}

// generateSecMSGec derives the rolling token from the trusted client token:
// Windows file-time ticks rounded down to five minutes, hashed with the token.
func (p *Provider) generateSecMSGec() string {
	ticks := p.now().Unix() + 11644473600
	ticks -= ticks % 300
	strToHash := fmt.Sprintf("%d%s", ticks*10_000_000, p.cfg.TrustedToken)

	hash := sha256.Sum256([]byte(strToHash))
	return strings.ToUpper(hex.EncodeToString(hash[:]))
}

func (p *Provider) sendConfig(conn *websocket.Conn) error {
	configMsg := "Content-Type:application/json; charset=utf-8\r\nPath:speech.config\r\n\r\n{\"context\":{\"synthesis\":{\"audio\":{\"metadataoptions\":{\"sentenceBoundaryEnabled\":\"false\",\"wordBoundaryEnabled\":\"false\"},\"outputFormat\":\"audio-24khz-48kbitrate-mono-mp3\"}}}}"
	if err := conn.WriteMessage(websocket.TextMessage, []byte(configMsg)); err != nil {
		return fmt.Errorf("failed to send speech.config: %w", err)
	}
	return nil
}

func (p *Provider) sendSSML(conn *websocket.Conn, voice, language, text, requestID string) error {
	ssml := buildSSML(voice, language, text)
	ssmlMsg := fmt.Sprintf("X-RequestId:%s\r\nContent-Type:application/ssml+xml\r\nPath:ssml\r\n\r\n%s", requestID, ssml)
	if err := conn.WriteMessage(websocket.TextMessage, []byte(ssmlMsg)); err != nil {
		return fmt.Errorf("failed to send ssml: %w", err)
	}
	return nil
}

func buildSSML(voice, language, text string) string {
	replacer := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"\"", "&quot;",
		"'", "&apos;",
	)
	lang := language
	if lang == "" {
		lang = "en-US"
	}
	return fmt.Sprintf("<speak version='1.0' xmlns='http://www.w3.org/2001/10/synthesis' xml:lang='%s'><voice name='%s'>%s</voice></speak>",
		replacer.Replace(lang), replacer.Replace(voice), replacer.Replace(text))
}

func (p *Provider) consumeResponses(ctx context.Context, conn *websocket.Conn, buf *bytes.Buffer) error {
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetReadDeadline(time.Now())
	})
	defer stop()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read message failed: %w", err)
		}

		switch msgType {
		case websocket.TextMessage:
			if strings.Contains(string(data), "Path:turn.end") {
				return nil
			}
		case websocket.BinaryMessage:
			handleBinaryMessage(data, buf)
		}
	}
}

// handleBinaryMessage strips the 2-byte length-prefixed header from an audio frame.
func handleBinaryMessage(data []byte, buf *bytes.Buffer) {
	if len(data) < 2 {
		return
	}
	headerLength := int(uint16(data[0])<<8 | uint16(data[1]))
	if len(data) < 2+headerLength {
		return
	}
	buf.Write(data[2+headerLength:])
}

// Voices returns a list of high-quality neural voices.
func (p *Provider) Voices(ctx context.Context) ([]tts.Voice, error) {
	return []tts.Voice{
		{ID: "en-US-AvaMultilingualNeural", Name: "Ava (Multilingual)", Language: "en-US", IsNeural: true},
		{ID: "en-US-AndrewMultilingualNeural", Name: "Andrew (Multilingual)", Language: "en-US", IsNeural: true},
		{ID: "en-GB-SoniaNeural", Name: "Sonia (UK)", Language: "en-GB", IsNeural: true},
		{ID: "es-ES-ElviraNeural", Name: "Elvira (Spain)", Language: "es-ES", IsNeural: true},
		{ID: "fr-FR-VivienneMultilingualNeural", Name: "Vivienne (France)", Language: "fr-FR", IsNeural: true},
		{ID: "de-DE-SeraphinaMultilingualNeural", Name: "Seraphina (Germany)", Language: "de-DE", IsNeural: true},
	}, nil
}
