// Package prompt renders the dialog prompt sent to the text generator.
//
// A Renderer holds one parsed text/template. The embedded default is used
// unless a template file is configured, in which case Watch reloads it when
// the file changes on disk. Render is safe for concurrent use with reloads.
package prompt

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"text/template"

	"github.com/fsnotify/fsnotify"
)

//go:embed templates/dialog.tmpl
var defaultTemplate string

// Agent is the character the prompt describes.
type Agent struct {
	Name        string
	Description string
	Motivation  string
	Knowledge   []string
}

// Turn is one line of prior conversation.
type Turn struct {
	Speaker   string
	Utterance string
}

// Data is everything a dialog template can reference.
type Data struct {
	Agent     Agent
	History   []Turn
	UserName  string
	UserQuery string
}

// Renderer renders Data through the current template.
type Renderer struct {
	tmpl atomic.Pointer[template.Template]
	path string
}

// NewDefault returns a Renderer for the embedded template.
func NewDefault() *Renderer {
	r := &Renderer{}
	r.tmpl.Store(template.Must(parse("dialog", defaultTemplate)))
	return r
}

// Load returns a Renderer for the template at path. An empty path selects
// the embedded template.
func Load(path string) (*Renderer, error) {
	if strings.TrimSpace(path) == "" {
		return NewDefault(), nil
	}
	r := &Renderer{path: path}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// New parses text as a dialog template.
func New(text string) (*Renderer, error) {
	t, err := parse("dialog", text)
	if err != nil {
		return nil, err
	}
	r := &Renderer{}
	r.tmpl.Store(t)
	return r, nil
}

func parse(name, text string) (*template.Template, error) {
	t, err := template.New(name).Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse prompt template: %w", err)
	}
	return t, nil
}

// Render executes the template. Leading and trailing whitespace is trimmed.
func (r *Renderer) Render(data Data) (string, error) {
	var buf bytes.Buffer
	if err := r.tmpl.Load().Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render prompt: %w", err)
	}
	return strings.TrimSpace(buf.String()), nil
}

func (r *Renderer) reload() error {
	raw, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read prompt template: %w", err)
	}
	t, err := parse(filepath.Base(r.path), string(raw))
	if err != nil {
		return err
	}
	r.tmpl.Store(t)
	return nil
}

// Watch reloads the template whenever its file is written or replaced, until
// ctx is done. A template that fails to parse is logged and the previous one
// stays active. Watch returns immediately for the embedded template.
func (r *Renderer) Watch(ctx context.Context) error {
	if r.path == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("prompt watcher: %w", err)
	}
	defer w.Close()

	// Watch the directory so atomic rename-over saves are seen.
	dir := filepath.Dir(r.path)
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("prompt watcher: add %s: %w", dir, err)
	}
	target := filepath.Clean(r.path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			if err := r.reload(); err != nil {
				slog.Warn("prompt template reload failed", "path", r.path, "err", err)
				continue
			}
			slog.Info("prompt template reloaded", "path", r.path)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				_ = r.reload()
				continue
			}
			slog.Warn("prompt watcher error", "err", err)
		}
	}
}
