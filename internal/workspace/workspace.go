// Package workspace keeps a local copy of every run's bundle under
// {dir}/{run-id}/, laid out exactly as it is published.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/dgallion1/pdfdrop/internal/bundle"
	"github.com/dgallion1/pdfdrop/internal/publish"
)

var (
	ErrNotFound          = errors.New("bundle not found")
	ErrInvalidStructured = errors.New("structured data must be a JSON object")
)

var assetName = regexp.MustCompile(`^[0-9]+\.(csv|png)$`)

// NewRunID returns a fresh run id.
func NewRunID() string {
	return uuid.NewString()
}

// Workspace is the on-disk store of bundles.
type Workspace struct {
	store     publish.DirStore
	publisher *publish.Publisher
}

func New(dir string, log *slog.Logger) *Workspace {
	store := publish.DirStore{Root: dir}
	return &Workspace{
		store:     store,
		publisher: publish.NewPublisher(store, log, 4, 30*time.Second),
	}
}

// Dir returns the directory of a run.
func (w *Workspace) Dir(runID string) string {
	return w.store.Resolve("/" + runID)
}

// Save writes b under runID, replacing files of the same name.
func (w *Workspace) Save(ctx context.Context, runID string, b *bundle.Bundle) error {
	if !validRunID(runID) {
		return fmt.Errorf("save: invalid run id %q", runID)
	}
	m, err := w.publisher.Publish(ctx, b, "/"+runID)
	if err != nil {
		return fmt.Errorf("save: %w", err)
	}
	if len(m.Failures) > 0 {
		errs := make([]error, len(m.Failures))
		for i, f := range m.Failures {
			errs[i] = fmt.Errorf("%s: %s", f.LogicalName, f.Reason)
		}
		return fmt.Errorf("save: %w", errors.Join(errs...))
	}
	if err := w.writeIndex(ctx, runID, b); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	return nil
}

// Load reads a saved bundle back, including edits to its text and
// structured data. Table and figure files stay attached to the manifest
// element they were saved for, so a manifest edit that drops or reorders
// elements keeps the remaining pairs intact. Elements with no saved files
// are left out.
func (w *Workspace) Load(runID string) (*bundle.Bundle, error) {
	data, err := w.read(runID, bundle.ManifestFile)
	if err != nil {
		return nil, err
	}
	m, err := bundle.ParseManifest(data)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", runID, err)
	}

	text, err := w.Text(runID)
	if err != nil {
		return nil, err
	}

	refs, err := w.readIndex(runID)
	if errors.Is(err, ErrNotFound) {
		return w.loadByOrdinal(runID, text, m), nil
	}
	if err != nil {
		return nil, err
	}

	var tables []bundle.TableArtifact
	var figures []bundle.FigureArtifact
	for _, el := range m.Elements() {
		ref, ok := refs.take(el)
		if !ok {
			continue
		}
		switch el.Kind() {
		case bundle.KindTable:
			csv := w.asset(runID, bundle.TableFile(ref.ID, ".csv"))
			png := w.asset(runID, bundle.TableFile(ref.ID, ".png"))
			if csv == nil && png == nil {
				continue
			}
			tables = append(tables, bundle.TableArtifact{ID: ref.ID, ElementIndex: el.Index, CSV: csv, PNG: png})
		case bundle.KindFigure:
			png := w.asset(runID, bundle.FigureFile(ref.ID))
			if png == nil {
				continue
			}
			figures = append(figures, bundle.FigureArtifact{ID: ref.ID, ElementIndex: el.Index, PNG: png})
		}
	}
	return bundle.New(text, m, tables, figures), nil
}

// loadByOrdinal serves runs saved without an artifact index: files are
// matched to elements by position.
func (w *Workspace) loadByOrdinal(runID, text string, m *bundle.Manifest) *bundle.Bundle {
	b := bundle.Assemble(text, m, func(el bundle.Element, id, ext string) []byte {
		switch el.Kind() {
		case bundle.KindTable:
			return w.asset(runID, bundle.TableFile(id, ext))
		case bundle.KindFigure:
			if ext == ".png" {
				return w.asset(runID, bundle.FigureFile(id))
			}
		}
		return nil
	})
	tables := slices.DeleteFunc(b.Tables(), func(t bundle.TableArtifact) bool { return t.CSV == nil && t.PNG == nil })
	figures := slices.DeleteFunc(b.Figures(), func(f bundle.FigureArtifact) bool { return f.PNG == nil })
	return bundle.New(text, m, tables, figures)
}

func (w *Workspace) asset(runID, name string) []byte {
	data, err := w.read(runID, name)
	if err != nil {
		return nil
	}
	return data
}

// Text returns the run's text; a run without text yields "".
func (w *Workspace) Text(runID string) (string, error) {
	if err := w.exists(runID); err != nil {
		return "", err
	}
	data, err := w.read(runID, bundle.TextFile)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return string(data), err
}

func (w *Workspace) ReplaceText(ctx context.Context, runID, text string) error {
	if err := w.exists(runID); err != nil {
		return err
	}
	return w.store.Upload(ctx, "/"+runID+"/"+bundle.TextFile, []byte(text))
}

// Structured returns the run's structuredData.json as stored.
func (w *Workspace) Structured(runID string) ([]byte, error) {
	return w.read(runID, bundle.ManifestFile)
}

// ReplaceStructured validates data and stores it re-indented.
func (w *Workspace) ReplaceStructured(ctx context.Context, runID string, data []byte) error {
	if err := w.exists(runID); err != nil {
		return err
	}
	m, err := bundle.ParseManifest(data)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidStructured, err)
	}
	return w.store.Upload(ctx, "/"+runID+"/"+bundle.ManifestFile, m.Indented())
}

// AssetPath resolves a table or figure file such as ("tables", "0.csv").
func (w *Workspace) AssetPath(runID, dir, name string) (string, error) {
	if dir != bundle.TablesDir && dir != bundle.FiguresDir {
		return "", ErrNotFound
	}
	if !assetName.MatchString(name) || (dir == bundle.FiguresDir && filepath.Ext(name) != ".png") {
		return "", ErrNotFound
	}
	if !validRunID(runID) {
		return "", ErrNotFound
	}
	p := w.store.Resolve("/" + runID + "/" + dir + "/" + name)
	if _, err := os.Stat(p); err != nil {
		return "", ErrNotFound
	}
	return p, nil
}

func (w *Workspace) exists(runID string) error {
	if !validRunID(runID) {
		return ErrNotFound
	}
	info, err := os.Stat(w.Dir(runID))
	if err != nil || !info.IsDir() {
		return ErrNotFound
	}
	return nil
}

func (w *Workspace) read(runID, name string) ([]byte, error) {
	if !validRunID(runID) {
		return nil, ErrNotFound
	}
	data, err := os.ReadFile(w.store.Resolve("/" + runID + "/" + name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", runID, name, err)
	}
	return data, nil
}

func validRunID(runID string) bool {
	_, err := uuid.Parse(runID)
	return err == nil && len(runID) == 36
}
