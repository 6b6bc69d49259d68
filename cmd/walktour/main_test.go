package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"walktour/pkg/cancel"
	"walktour/pkg/config"
	"walktour/pkg/db"
	"walktour/pkg/llm/failover"
	"walktour/pkg/model"
	"walktour/pkg/store"
	"walktour/pkg/tts"
)

// writeTestConfig keeps every path of the app inside dir.
func writeTestConfig(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "walktour.yaml")
	content := fmt.Sprintf(`
log:
    server:
        path: %[1]s/logs/server.log
        level: debug
    requests:
        path: %[1]s/logs/requests.log
    llm:
        path: %[1]s/logs/llm.log
    tts:
        path: %[1]s/logs/tts.log
db:
    path: %[1]s/walktour.db
cache:
    places_file: %[1]s/places.csv
blob:
    root: %[1]s/audio
    base_url: http://localhost:0/audio
`, filepath.ToSlash(dir))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestInitConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "configs", "walktour.yaml")
	out, err := execute(t, "init-config", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, path)

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "gemini", cfg.LLM.Primary)
	assert.Equal(t, "edge-tts", cfg.TTS.Primary)
}

func TestCancelCommand(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir)

	out, err := execute(t, "cancel", "sess-42", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "sess-42")

	d, err := db.Init(filepath.Join(dir, "walktour.db"))
	require.NoError(t, err)
	defer d.Close()
	sig := cancel.New(store.NewSQLiteStore(d), 0)
	assert.True(t, sig.IsCancelled(context.Background(), "sess-42"))
	assert.False(t, sig.IsCancelled(context.Background(), "sess-43"))
}

func TestCancelCommand_RequiresSession(t *testing.T) {
	_, err := execute(t, "cancel", "--config", writeTestConfig(t, t.TempDir()))
	assert.Error(t, err)
}

func TestPruneCommand(t *testing.T) {
	dir := t.TempDir()
	path := writeTestConfig(t, dir)
	csv := "PlaceID,Name,Latitude,Longitude,Country,City,Neighborhood,Pinned\n" +
		"sagrada,Sagrada Família,41.4036,2.1744,Spain,Barcelona,Eixample,true\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "places.csv"), []byte(csv), 0o644))

	out, err := execute(t, "prune", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "places imported:     1")
	assert.Contains(t, out, "1 pinned")
}

func TestReadTourFile(t *testing.T) {
	dir := t.TempDir()
	bare := filepath.Join(dir, "bare.json")
	wrapped := filepath.Join(dir, "wrapped.json")
	require.NoError(t, os.WriteFile(bare, []byte(`{"id":"t1","title":"Old Town","stops":[{"name":"Cathedral","latitude":41.384,"longitude":2.176}]}`), 0o644))
	require.NoError(t, os.WriteFile(wrapped, []byte(`{"session_id":"s1","language":"ca-ES","tour":{"id":"t2","stops":[{"name":"Port"}]}}`), 0o644))

	tests := []struct {
		name     string
		path     string
		stdin    string
		wantID   string
		wantLang string
		wantErr  bool
	}{
		{name: "Bare", path: bare, wantID: "t1"},
		{name: "Wrapped", path: wrapped, wantID: "t2", wantLang: "ca-ES"},
		{name: "Stdin", path: "-", stdin: `{"id":"t3","stops":[]}`, wantID: "t3"},
		{name: "Missing", path: filepath.Join(dir, "nope.json"), wantErr: true},
		{name: "Malformed", path: "-", stdin: `{"id":`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tf, err := readTourFile(tt.path, strings.NewReader(tt.stdin))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.NotNil(t, tf.Tour)
			assert.Equal(t, tt.wantID, tf.Tour.ID)
			assert.Equal(t, tt.wantLang, tf.Language)
		})
	}
}

func TestFirstNonEmpty(t *testing.T) {
	assert.Equal(t, "b", firstNonEmpty("", "  ", "b", "c"))
	assert.Equal(t, "", firstNonEmpty("", ""))
}

func TestNewBackends(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.LLM.Primary = "openai"
	cfg.LLM.Fallback = "openai"
	cfg.TTS.Fallback = ""

	set, err := newBackends(cfg, nil)
	require.Error(t, err, "openai needs a request client")

	cfg.LLM.Primary = "gemini"
	cfg.LLM.Fallback = ""
	cfg.LLM.Gemini.Key = ""
	set, err = newBackends(cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, set.llmFallback)
	assert.Nil(t, set.ttsFallback)
	assert.Equal(t, map[string]string{"llm": "gemini", "tts": "edge-tts"}, set.describe())
	assert.Len(t, set.probes(), 2)
}

func TestBackendSet_Probes(t *testing.T) {
	set := backendSet{
		llmPrimary:  failover.Backend{Name: "gemini"},
		llmFallback: &failover.Backend{Name: "openai"},
		ttsPrimary:  tts.Backend{Name: "edge-tts"},
		ttsFallback: &tts.Backend{Name: "polly"},
	}
	assert.Equal(t, map[string]string{"llm": "gemini -> openai", "tts": "edge-tts -> polly"}, set.describe())

	probes := set.probes()
	require.Len(t, probes, 4)
	var critical []string
	for _, p := range probes {
		if p.Critical {
			critical = append(critical, p.Name)
		}
	}
	assert.Equal(t, []string{"llm/gemini"}, critical)
}

func TestPrintDocument(t *testing.T) {
	doc := &model.TourDocument{
		TourID:    "t1",
		Status:    model.DocComplete,
		StopCount: 2,
		Scripts: model.DocumentScripts{
			Intro: &model.ScriptEntry{Status: model.UnitComplete, Content: "Welcome to the old town", ModelUsed: "gemini-2.5-flash"},
			Stops: []*model.ScriptEntry{
				{Status: model.UnitComplete, Content: "The cathedral", ModelUsed: "gpt-4o-mini"},
				{Status: model.UnitFailed, Error: "quota"},
			},
		},
		AudioFiles: model.DocumentAudio{
			Stops: []*model.AudioEntry{{Status: model.UnitComplete, URL: "/audio/tours/t1/en-us/stop-01.mp3"}, nil},
		},
	}
	var out bytes.Buffer
	printDocument(&out, doc)

	s := out.String()
	assert.Contains(t, s, "Tour t1: complete")
	assert.Contains(t, s, "script=complete (gemini-2.5-flash)")
	assert.Contains(t, s, "audio=/audio/tours/t1/en-us/stop-01.mp3")
	assert.Contains(t, s, "script=failed: quota")
	assert.Contains(t, s, "7 words of narration")
}
