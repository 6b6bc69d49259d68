package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"walktour/pkg/model"
	"walktour/pkg/pipeline"
	"walktour/pkg/probe"
)

// tourFile is the input of `walktour generate`: either a bare tour or a
// tour wrapped with session settings.
type tourFile struct {
	SessionID string      `json:"session_id"`
	Language  string      `json:"language"`
	Voice     string      `json:"voice"`
	Tour      *model.Tour `json:"tour"`
}

type generateOptions struct {
	tourPath  string
	sessionID string
	language  string
	voice     string
	probe     bool
}

func newGenerateCmd(configPath *string) *cobra.Command {
	var opts generateOptions
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate scripts and audio for a tour file",
		Example: `  walktour generate --tour tours/old-town.json
  walktour generate --tour - --language de-DE < tour.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return generate(cmd.Context(), *configPath, opts, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&opts.tourPath, "tour", "t", "", "tour JSON file, or - for stdin")
	cmd.Flags().StringVar(&opts.sessionID, "session", "", "session id (default: random)")
	cmd.Flags().StringVar(&opts.language, "language", "", "narration language (default from config)")
	cmd.Flags().StringVar(&opts.voice, "voice", "", "voice id (default from config)")
	cmd.Flags().BoolVar(&opts.probe, "probe", false, "check the backends before generating")
	_ = cmd.MarkFlagRequired("tour")
	return cmd
}

func readTourFile(path string, stdin io.Reader) (tourFile, error) {
	var data []byte
	var err error
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return tourFile{}, fmt.Errorf("read tour: %w", err)
	}

	var tf tourFile
	if err := json.Unmarshal(data, &tf); err != nil {
		return tourFile{}, fmt.Errorf("parse tour: %w", err)
	}
	if tf.Tour == nil {
		var bare model.Tour
		if err := json.Unmarshal(data, &bare); err != nil {
			return tourFile{}, fmt.Errorf("parse tour: %w", err)
		}
		tf.Tour = &bare
	}
	return tf, nil
}

func generate(ctx context.Context, configPath string, opts generateOptions, out io.Writer) error {
	tf, err := readTourFile(opts.tourPath, os.Stdin)
	if err != nil {
		return err
	}

	a, err := openApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.close()
	if err := a.withPipeline(ctx); err != nil {
		return err
	}
	if opts.probe {
		if err := probe.AnalyzeResults(probe.Run(ctx, a.backends.probes())); err != nil {
			return fmt.Errorf("startup checks failed: %w", err)
		}
	}

	session := model.Session{
		SessionID: firstNonEmpty(opts.sessionID, tf.SessionID, uuid.NewString()),
		TourID:    tf.Tour.ID,
		Language:  firstNonEmpty(opts.language, tf.Language, a.cfg.Pipeline.DefaultLanguage),
		Voice:     firstNonEmpty(opts.voice, tf.Voice, a.settings.DefaultVoice(ctx)),
	}

	// Ctrl-C raises the session flag so the document records a cancellation
	runCtx := context.WithoutCancel(ctx)
	stop := context.AfterFunc(ctx, func() {
		_ = a.signal.Cancel(runCtx, session.SessionID)
	})
	defer stop()

	start := time.Now()
	fmt.Fprintf(out, "Generating %q (%d stops), session %s\n", tf.Tour.Title, len(tf.Tour.Stops), session.SessionID)
	res, runErr := a.orchestrator.Run(runCtx, pipeline.Request{Session: session, Tour: tf.Tour})

	if session.TourID != "" {
		if doc, err := a.docs.Get(runCtx, session.TourID); err == nil {
			printDocument(out, doc)
		}
	}
	if runErr != nil {
		return runErr
	}
	fmt.Fprintf(out, "Done in %s\n", time.Since(start).Round(time.Millisecond))
	if err := res.Partial(); err != nil {
		return fmt.Errorf("%d unit(s) failed: %w", len(res.Failures), errors.Join(pipeline.ErrPartialGeneration, err))
	}
	return nil
}

func printDocument(out io.Writer, doc *model.TourDocument) {
	fmt.Fprintf(out, "Tour %s: %s\n", doc.TourID, doc.Status)
	if doc.Error != "" {
		fmt.Fprintf(out, "  error: %s\n", doc.Error)
	}

	var words int
	line := func(name string, s *model.ScriptEntry, a *model.AudioEntry) {
		script, audio := "-", "-"
		if s != nil {
			script = string(s.Status)
			if s.Status == model.UnitComplete {
				words += len(strings.Fields(s.Content))
				script += " (" + s.ModelUsed + ")"
			} else if s.Error != "" {
				script += ": " + s.Error
			}
		}
		if a != nil {
			audio = string(a.Status)
			if a.Status == model.UnitComplete {
				audio = a.URL
			} else if a.Error != "" {
				audio += ": " + a.Error
			}
		}
		fmt.Fprintf(out, "  %-8s script=%s audio=%s\n", name, script, audio)
	}

	line("intro", doc.Scripts.Intro, doc.AudioFiles.Intro)
	for i := range doc.StopCount {
		var s *model.ScriptEntry
		var a *model.AudioEntry
		if i < len(doc.Scripts.Stops) {
			s = doc.Scripts.Stops[i]
		}
		if i < len(doc.AudioFiles.Stops) {
			a = doc.AudioFiles.Stops[i]
		}
		line(fmt.Sprintf("stop %d", i+1), s, a)
	}
	fmt.Fprintf(out, "  %s words of narration\n", humanize.Comma(int64(words)))
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
