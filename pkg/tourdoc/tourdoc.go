package tourdoc

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"walktour/pkg/db"
	"walktour/pkg/model"
)

// ErrNotFound is returned when no document exists for a tour.
var ErrNotFound = errors.New("tourdoc: not found")

// Store persists tour documents and their per-unit results.
// Each unit is its own row keyed by (tour, kind, index), so concurrent
// workers never overwrite each other's output.
type Store struct {
	db  *db.DB
	now func() time.Time
}

// New creates a document store.
func New(d *db.DB) *Store {
	return &Store{db: d, now: time.Now}
}

// Begin creates or resets the document header to "generating".
// Existing unit rows are kept so a rerun can resume, unless the language,
// voice or stop count changed since they were written. Then they are
// discarded and every unit is generated again.
func (s *Store) Begin(ctx context.Context, doc *model.TourDocument) error {
	if doc.TourID == "" {
		return errors.New("tourdoc: empty tour id")
	}
	created := doc.CreatedAt
	if created.IsZero() {
		created = s.now()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("tourdoc: begin %s: %w", doc.TourID, err)
	}
	defer func() { _ = tx.Rollback() }()

	var (
		lang, voice sql.NullString
		stops       int
	)
	err = tx.QueryRowContext(ctx, `SELECT language, voice, stop_count FROM tour_documents WHERE tour_id = ?`, doc.TourID).
		Scan(&lang, &voice, &stops)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("tourdoc: begin %s: %w", doc.TourID, err)
	case !sameInputs(doc, lang.String, voice.String, stops):
		if _, err := tx.ExecContext(ctx, `DELETE FROM tour_units WHERE tour_id = ?`, doc.TourID); err != nil {
			return fmt.Errorf("tourdoc: reset units of %s: %w", doc.TourID, err)
		}
		slog.Info("TourDoc: inputs changed, discarding previous units",
			"tour", doc.TourID,
			"language", lang.String+" -> "+doc.Language,
			"voice", voice.String+" -> "+doc.Voice,
			"stops", fmt.Sprintf("%d -> %d", stops, doc.StopCount))
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO tour_documents (tour_id, session_id, status, title, duration, language, voice, start_location, stop_count, error, created_at, completed_at, failed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, '', ?, NULL, NULL)
		ON CONFLICT(tour_id) DO UPDATE SET
			session_id = excluded.session_id,
			status = excluded.status,
			title = excluded.title,
			duration = excluded.duration,
			language = excluded.language,
			voice = excluded.voice,
			start_location = excluded.start_location,
			stop_count = excluded.stop_count,
			error = '',
			completed_at = NULL,
			failed_at = NULL`,
		doc.TourID, doc.SessionID, model.DocGenerating, doc.Title, doc.Duration, doc.Language, doc.Voice,
		doc.StartLocation, doc.StopCount, created.UnixMilli())
	if err != nil {
		return fmt.Errorf("tourdoc: begin %s: %w", doc.TourID, err)
	}
	return tx.Commit()
}

// sameInputs reports whether units written under the stored header can be
// reused for doc.
func sameInputs(doc *model.TourDocument, language, voice string, stops int) bool {
	return strings.EqualFold(doc.Language, language) &&
		strings.EqualFold(doc.Voice, voice) &&
		doc.StopCount == stops
}

// WriteScript records one script unit (idx = model.IntroIndex for the intro).
func (s *Store) WriteScript(ctx context.Context, tourID string, idx int, e model.ScriptEntry) error {
	return s.writeUnit(ctx, tourID, model.UnitScript, idx, e.Status, e.Content, e.ModelUsed, e.Error)
}

// WriteAudio records one audio unit.
func (s *Store) WriteAudio(ctx context.Context, tourID string, idx int, e model.AudioEntry) error {
	return s.writeUnit(ctx, tourID, model.UnitAudio, idx, e.Status, e.URL, e.ModelUsed, e.Error)
}

func (s *Store) writeUnit(ctx context.Context, tourID string, kind model.UnitKind, idx int, status model.UnitStatus, content, modelUsed, errMsg string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tour_units (tour_id, kind, idx, status, content, model_used, error, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(tour_id, kind, idx) DO UPDATE SET
			status = excluded.status,
			content = excluded.content,
			model_used = excluded.model_used,
			error = excluded.error,
			updated_at = excluded.updated_at`,
		tourID, kind, idx, status, content, modelUsed, errMsg, s.now().UnixMilli())
	if err != nil {
		return fmt.Errorf("tourdoc: write %s %d of %s: %w", kind, idx, tourID, err)
	}
	return nil
}

// MarkComplete finalizes the document.
func (s *Store) MarkComplete(ctx context.Context, tourID string) error {
	return s.finish(ctx, tourID, `UPDATE tour_documents SET status = ?, completed_at = ?, error = '' WHERE tour_id = ?`,
		model.DocComplete, s.now().UnixMilli(), tourID)
}

// MarkFailed records a pipeline-level failure.
func (s *Store) MarkFailed(ctx context.Context, tourID, reason string) error {
	return s.finish(ctx, tourID, `UPDATE tour_documents SET status = ?, failed_at = ?, error = ? WHERE tour_id = ?`,
		model.DocFailed, s.now().UnixMilli(), reason, tourID)
}

func (s *Store) finish(ctx context.Context, tourID, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("tourdoc: finalize %s: %w", tourID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, tourID)
	}
	return nil
}

// Units returns every persisted unit of a tour.
func (s *Store) Units(ctx context.Context, tourID string) (model.Scripts, model.AudioFiles, error) {
	scripts := model.Scripts{Stops: make(map[int]model.ScriptEntry)}
	audio := model.AudioFiles{Stops: make(map[int]model.AudioEntry)}

	rows, err := s.db.QueryContext(ctx, `SELECT kind, idx, status, content, model_used, error FROM tour_units WHERE tour_id = ? ORDER BY kind, idx`, tourID)
	if err != nil {
		return scripts, audio, fmt.Errorf("tourdoc: units %s: %w", tourID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			kind                       model.UnitKind
			idx                        int
			status                     model.UnitStatus
			content, modelUsed, errMsg sql.NullString
		)
		if err := rows.Scan(&kind, &idx, &status, &content, &modelUsed, &errMsg); err != nil {
			return scripts, audio, err
		}
		switch kind {
		case model.UnitScript:
			e := model.ScriptEntry{Status: status, Content: content.String, ModelUsed: modelUsed.String, Error: errMsg.String}
			if idx == model.IntroIndex {
				scripts.Intro = &e
			} else {
				scripts.Stops[idx] = e
			}
		case model.UnitAudio:
			e := model.AudioEntry{Status: status, URL: content.String, ModelUsed: modelUsed.String, Error: errMsg.String}
			if idx == model.IntroIndex {
				audio.Intro = &e
			} else {
				audio.Stops[idx] = e
			}
		}
	}
	return scripts, audio, rows.Err()
}

// Get assembles the full document.
func (s *Store) Get(ctx context.Context, tourID string) (*model.TourDocument, error) {
	var (
		doc                model.TourDocument
		created            int64
		completed, failed  sql.NullInt64
		session, errMsg    sql.NullString
		title, lang, voice sql.NullString
		start              sql.NullString
		duration           sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT tour_id, session_id, status, title, duration, language, voice, start_location, stop_count, error, created_at, completed_at, failed_at
		FROM tour_documents WHERE tour_id = ?`, tourID).Scan(
		&doc.TourID, &session, &doc.Status, &title, &duration, &lang, &voice, &start, &doc.StopCount, &errMsg,
		&created, &completed, &failed)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, tourID)
	}
	if err != nil {
		return nil, fmt.Errorf("tourdoc: get %s: %w", tourID, err)
	}
	doc.SessionID = session.String
	doc.Title = title.String
	doc.Duration = int(duration.Int64)
	doc.Language = lang.String
	doc.Voice = voice.String
	doc.StartLocation = start.String
	doc.Error = errMsg.String
	doc.CreatedAt = time.UnixMilli(created)
	if completed.Valid {
		t := time.UnixMilli(completed.Int64)
		doc.CompletedAt = &t
	}
	if failed.Valid {
		t := time.UnixMilli(failed.Int64)
		doc.FailedAt = &t
	}

	scripts, audio, err := s.Units(ctx, tourID)
	if err != nil {
		return nil, err
	}
	doc.Scripts = toDocumentScripts(scripts, doc.StopCount)
	doc.AudioFiles = toDocumentAudio(audio, doc.StopCount)
	return &doc, nil
}

func toDocumentScripts(s model.Scripts, n int) model.DocumentScripts {
	out := model.DocumentScripts{Intro: s.Intro, Stops: make([]*model.ScriptEntry, n)}
	for idx, e := range s.Stops {
		if idx >= 0 && idx < n {
			e := e
			out.Stops[idx] = &e
		}
	}
	return out
}

func toDocumentAudio(a model.AudioFiles, n int) model.DocumentAudio {
	out := model.DocumentAudio{Intro: a.Intro, Stops: make([]*model.AudioEntry, n)}
	for idx, e := range a.Stops {
		if idx >= 0 && idx < n {
			e := e
			out.Stops[idx] = &e
		}
	}
	return out
}

// Summary is a compact listing row.
type Summary struct {
	TourID    string               `json:"tourId"`
	Title     string               `json:"title"`
	Status    model.DocumentStatus `json:"status"`
	CreatedAt time.Time            `json:"createdAt"`
}

// List returns the most recently created documents.
func (s *Store) List(ctx context.Context, limit int) ([]Summary, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `SELECT tour_id, coalesce(title, ''), status, created_at FROM tour_documents ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("tourdoc: list: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var (
			sum     Summary
			created int64
		)
		if err := rows.Scan(&sum.TourID, &sum.Title, &sum.Status, &created); err != nil {
			return nil, err
		}
		sum.CreatedAt = time.UnixMilli(created)
		out = append(out, sum)
	}
	return out, rows.Err()
}
