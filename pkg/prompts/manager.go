package prompts

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"math/rand"
	"os"
	"path"
	"strings"
	"text/template"
)

//go:embed templates
var embedded embed.FS

// Template names.
const (
	ScriptIntro      = "script/intro.tmpl"
	ScriptStop       = "script/stop.tmpl"
	AreaCity         = "area/city.tmpl"
	AreaNeighborhood = "area/neighborhood.tmpl"
)

// Manager handles loading and rendering of prompt templates.
type Manager struct {
	root *template.Template
}

// NewManager loads templates from dir. An empty dir or a missing
// directory selects the built-in templates.
func NewManager(dir string) (*Manager, error) {
	if dir != "" {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return NewManagerFS(os.DirFS(dir))
		}
	}
	return Default()
}

// Default returns a manager over the built-in templates.
func Default() (*Manager, error) {
	sub, err := fs.Sub(embedded, "templates")
	if err != nil {
		return nil, err
	}
	return NewManagerFS(sub)
}

// NewManagerFS loads every .tmpl file in fsys. Files under common/ are parsed
// into the shared root so their {{define}} blocks are visible everywhere.
func NewManagerFS(fsys fs.FS) (*Manager, error) {
	m := &Manager{}
	m.root = template.New("root").Funcs(template.FuncMap{
		"theme":  m.themeFunc,
		"facts":  factsFunc,
		"maybe":  maybeFunc,
		"pick":   pickFunc,
		"deref":  derefFunc,
		"inc":    func(i int) int { return i + 1 },
		"orElse": orElseFunc,
	})

	if err := m.loadCommon(fsys); err != nil {
		return nil, fmt.Errorf("loading common templates: %w", err)
	}
	if err := m.loadTemplates(fsys); err != nil {
		return nil, fmt.Errorf("loading templates: %w", err)
	}
	return m, nil
}

func (m *Manager) loadCommon(fsys fs.FS) error {
	err := fs.WalkDir(fsys, "common", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, ".tmpl") {
			return nil
		}
		content, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		if _, err = m.root.Parse(string(content)); err != nil {
			return fmt.Errorf("parsing %s: %w", p, err)
		}
		return nil
	})
	if err != nil && !isNotExist(err) {
		return err
	}
	return nil
}

func (m *Manager) loadTemplates(fsys fs.FS) error {
	return fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(p, ".tmpl") || strings.HasPrefix(p, "common/") {
			return nil
		}
		content, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		if _, err = m.root.New(path.Clean(p)).Parse(string(content)); err != nil {
			return fmt.Errorf("parsing %s: %w", p, err)
		}
		return nil
	})
}

func isNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}

// Has reports whether a template is loaded.
func (m *Manager) Has(name string) bool {
	return m.root.Lookup(name) != nil
}

// Render executes the named template with the provided data.
func (m *Manager) Render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := m.root.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

// themeFunc renders "theme/<name>.tmpl" if present.
func (m *Manager) themeFunc(name string, data any) (string, error) {
	if name == "" {
		return "", nil
	}
	t := m.root.Lookup("theme/" + strings.ToLower(strings.TrimSpace(name)) + ".tmpl")
	if t == nil {
		return "", nil
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// factsFunc renders a bullet list, "" for none.
func factsFunc(facts []string) string {
	var sb strings.Builder
	for _, f := range facts {
		f = strings.TrimSpace(f)
		if f == "" {
			continue
		}
		sb.WriteString("- ")
		sb.WriteString(f)
		sb.WriteString("\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// maybeFunc includes content with a given probability (0-100).
// Usage: {{maybe 50 "This text appears 50% of the time"}}
func maybeFunc(percent int, content string) string {
	if percent <= 0 {
		return ""
	}
	if percent >= 100 {
		return content
	}
	if rand.Intn(100) < percent {
		return content
	}
	return ""
}

// pickFunc selects one random option from a list separated by "|||".
// Usage: {{pick "Option A|||Option B|||Option C"}}
func pickFunc(options string) string {
	parts := strings.Split(options, "|||")
	for i, p := range parts {
		parts[i] = strings.TrimSpace(p)
	}
	return parts[rand.Intn(len(parts))]
}

func derefFunc(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func orElseFunc(fallback, s string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
