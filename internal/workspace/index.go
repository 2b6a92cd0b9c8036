package workspace

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/dgallion1/pdfdrop/internal/bundle"
)

// indexFile records which manifest element each saved table and figure
// belongs to. It is not part of the published layout.
const indexFile = ".artifacts.json"

type artifactRef struct {
	Kind         bundle.ElementKind `json:"kind"`
	ID           string             `json:"id"`
	Path         string             `json:"path"`
	ElementIndex int                `json:"element_index"`
}

// artifactIndex hands out saved artifacts per (kind, path). Elements that
// share a path are matched in document order.
type artifactIndex map[string][]artifactRef

func indexKey(kind bundle.ElementKind, path string) string {
	return string(kind) + "\x00" + path
}

// take returns the saved artifact for el and removes it from the index.
func (x artifactIndex) take(el bundle.Element) (artifactRef, bool) {
	kind := el.Kind()
	if kind == bundle.KindOther {
		return artifactRef{}, false
	}
	key := indexKey(kind, el.Path())
	queue := x[key]
	if len(queue) == 0 {
		return artifactRef{}, false
	}
	x[key] = queue[1:]
	return queue[0], true
}

func (w *Workspace) writeIndex(ctx context.Context, runID string, b *bundle.Bundle) error {
	paths := make(map[int]string)
	for _, el := range b.Manifest().Elements() {
		paths[el.Index] = el.Path()
	}

	refs := []artifactRef{}
	for _, t := range b.Tables() {
		refs = append(refs, artifactRef{Kind: bundle.KindTable, ID: t.ID, Path: paths[t.ElementIndex], ElementIndex: t.ElementIndex})
	}
	for _, f := range b.Figures() {
		refs = append(refs, artifactRef{Kind: bundle.KindFigure, ID: f.ID, Path: paths[f.ElementIndex], ElementIndex: f.ElementIndex})
	}

	data, err := json.MarshalIndent(refs, "", "  ")
	if err != nil {
		return fmt.Errorf("encode artifact index: %w", err)
	}
	return w.store.Upload(ctx, "/"+runID+"/"+indexFile, data)
}

func (w *Workspace) readIndex(runID string) (artifactIndex, error) {
	data, err := w.read(runID, indexFile)
	if err != nil {
		return nil, err
	}
	var refs []artifactRef
	if err := json.Unmarshal(data, &refs); err != nil {
		return nil, fmt.Errorf("decode artifact index of %s: %w", runID, err)
	}
	x := make(artifactIndex)
	for _, r := range refs {
		key := indexKey(r.Kind, r.Path)
		x[key] = append(x[key], r)
	}
	return x, nil
}
