// Package bundle turns the extraction service's output archive into a
// normalized bundle of text, structured data and table/figure renditions.
package bundle

import (
	"slices"
	"strconv"

	"github.com/dgallion1/pdfdrop/internal/extract"
)

// File names of the bundle layout, relative to the bundle root.
const (
	TextFile     = "text.txt"
	ManifestFile = "structuredData.json"
	TablesDir    = "tables"
	FiguresDir   = "figures"
)

// TableFile is the layout name of a table rendition, e.g. "tables/0.csv".
func TableFile(id, ext string) string { return TablesDir + "/" + id + ext }

// FigureFile is the layout name of a figure rendition.
func FigureFile(id string) string { return FiguresDir + "/" + id + ".png" }

// TableArtifact is one table element. CSV or PNG is nil when the archive
// did not carry that rendition.
type TableArtifact struct {
	ID           string `json:"id"`
	ElementIndex int    `json:"element_index"`
	CSV          []byte `json:"-"`
	PNG          []byte `json:"-"`
}

// FigureArtifact is one figure element.
type FigureArtifact struct {
	ID           string `json:"id"`
	ElementIndex int    `json:"element_index"`
	PNG          []byte `json:"-"`
}

// Bundle is the normalized result of one extraction. It is not modified
// after construction; callers must not write to the returned byte slices.
type Bundle struct {
	text     string
	manifest *Manifest
	tables   []TableArtifact
	figures  []FigureArtifact
}

func New(text string, m *Manifest, tables []TableArtifact, figures []FigureArtifact) *Bundle {
	return &Bundle{
		text:     text,
		manifest: m,
		tables:   slices.Clone(tables),
		figures:  slices.Clone(figures),
	}
}

func (b *Bundle) Text() string { return b.text }

func (b *Bundle) Manifest() *Manifest { return b.manifest }

func (b *Bundle) Tables() []TableArtifact { return slices.Clone(b.tables) }

func (b *Bundle) Figures() []FigureArtifact { return slices.Clone(b.figures) }

// Restrict returns a bundle holding only the parts whose capability is
// listed. The structured manifest is always kept.
func (b *Bundle) Restrict(caps ...extract.Capability) *Bundle {
	out := &Bundle{manifest: b.manifest}
	if slices.Contains(caps, extract.Text) {
		out.text = b.text
	}
	if slices.Contains(caps, extract.Tables) {
		out.tables = slices.Clone(b.tables)
	}
	if slices.Contains(caps, extract.Figures) {
		out.figures = slices.Clone(b.figures)
	}
	return out
}

// File is one entry of the bundle layout.
type File struct {
	Name string
	Data []byte
}

// Files lists the bundle's present parts in layout order: text, manifest,
// then each table's CSV and PNG, then each figure.
func (b *Bundle) Files() []File {
	var files []File
	if b.text != "" {
		files = append(files, File{Name: TextFile, Data: []byte(b.text)})
	}
	if b.manifest != nil {
		files = append(files, File{Name: ManifestFile, Data: b.manifest.Indented()})
	}
	for _, t := range b.tables {
		if t.CSV != nil {
			files = append(files, File{Name: TableFile(t.ID, ".csv"), Data: t.CSV})
		}
		if t.PNG != nil {
			files = append(files, File{Name: TableFile(t.ID, ".png"), Data: t.PNG})
		}
	}
	for _, f := range b.figures {
		if f.PNG != nil {
			files = append(files, File{Name: FigureFile(f.ID), Data: f.PNG})
		}
	}
	return files
}

// RenditionFunc returns the rendition with extension ext (".csv", ".png")
// of the table or figure id, or nil when there is none.
type RenditionFunc func(el Element, id, ext string) []byte

// Assemble walks the manifest's elements and builds a bundle with the given
// text. Tables and figures are numbered in element order within their kind.
func Assemble(text string, m *Manifest, rendition RenditionFunc) *Bundle {
	b := &Bundle{text: text, manifest: m}
	for _, el := range m.Elements() {
		switch el.Kind() {
		case KindTable:
			id := strconv.Itoa(len(b.tables))
			b.tables = append(b.tables, TableArtifact{
				ID:           id,
				ElementIndex: el.Index,
				CSV:          rendition(el, id, ".csv"),
				PNG:          rendition(el, id, ".png"),
			})
		case KindFigure:
			id := strconv.Itoa(len(b.figures))
			b.figures = append(b.figures, FigureArtifact{
				ID:           id,
				ElementIndex: el.Index,
				PNG:          rendition(el, id, ".png"),
			})
		}
	}
	return b
}
