package fixture

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"slices"
)

// File is one archive entry.
type File struct {
	Name string
	Data []byte
}

// Names of the entries in SampleArchive.
const (
	ManifestName = "structuredData.json"
	TableCSVName = "tables/fileoutpart0.csv"
	TablePNGName = "tables/fileoutpart1.png"
	FigureName   = "figures/fileoutpart2.png"
)

// TableCSV is the CSV rendition of the sample table.
const TableCSV = "Region,Revenue\nNorth,120\nSouth,95\n"

// Zip packs files into a ZIP archive in the given order.
func Zip(files ...File) []byte {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		w, err := zw.Create(f.Name)
		if err != nil {
			panic(err)
		}
		if _, err := w.Write(f.Data); err != nil {
			panic(err)
		}
	}
	if err := zw.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// PNG returns a small solid-color image encoded as PNG.
func PNG(c color.Color) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := range 4 {
		for x := range 4 {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

// Manifest marshals elements into a manifest document with the surrounding
// metadata the service emits.
func Manifest(elements ...map[string]any) []byte {
	if elements == nil {
		elements = []map[string]any{}
	}
	doc := map[string]any{
		"version": map[string]any{
			"json_export":       "161",
			"page_segmentation": "1",
			"schema":            "1.1.0",
			"structure":         "1.1036.0",
			"table_structure":   "1",
		},
		"extended_metadata": map[string]any{
			"ID_instance":  "8C 9A 01 5E",
			"has_acroform": false,
			"is_encrypted": false,
			"page_count":   1,
			"pdf_version":  "1.4",
			"language":     "en",
		},
		"elements": elements,
		"pages": []map[string]any{
			{"page_number": 0, "width": 612, "height": 792, "rotation": 0, "is_scanned": false},
		},
	}
	data, err := json.Marshal(doc)
	if err != nil {
		panic(err)
	}
	return data
}

// SampleElements describes a one-page report with a heading, a paragraph,
// one table with a cell and one figure.
func SampleElements() []map[string]any {
	return []map[string]any{
		{"Path": "//Document/H1", "Page": 0, "Text": "Quarterly Report ", "TextSize": 24, "Bounds": []float64{72, 700, 320, 730}},
		{"Path": "//Document/P", "Page": 0, "Text": "Revenue grew in every region.", "TextSize": 12},
		{"Path": "//Document/Table", "Page": 0, "attributes": map[string]any{"NumCol": 2, "NumRow": 3}, "filePaths": []string{TableCSVName, TablePNGName}},
		{"Path": "//Document/Table/TR/TD/P", "Page": 0, "Text": "Region "},
		{"Path": "//Document/Figure", "Page": 0, "attributes": map[string]any{"BBox": []float64{72, 300, 540, 600}}, "filePaths": []string{FigureName}},
		{"Path": "//Document/P[2]", "Page": 0, "Text": "   "},
	}
}

// SampleFiles returns the entries of SampleArchive so tests can drop or
// replace some of them.
func SampleFiles() []File {
	return []File{
		{Name: ManifestName, Data: Manifest(SampleElements()...)},
		{Name: TableCSVName, Data: []byte(TableCSV)},
		{Name: TablePNGName, Data: PNG(color.RGBA{R: 200, A: 255})},
		{Name: FigureName, Data: PNG(color.RGBA{B: 200, A: 255})},
	}
}

// SampleArchive is an extraction archive with text, one table and one figure.
func SampleArchive() []byte {
	return Zip(SampleFiles()...)
}

// Without returns files minus the named entries.
func Without(files []File, names ...string) []File {
	return slices.DeleteFunc(slices.Clone(files), func(f File) bool {
		return slices.Contains(names, f.Name)
	})
}
