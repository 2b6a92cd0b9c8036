package bundle

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"
)

// ElementKind is the classification the manifest declares for an element.
type ElementKind string

const (
	KindOther  ElementKind = ""
	KindTable  ElementKind = "Table"
	KindFigure ElementKind = "Figure"
)

// Manifest is the extraction service's structuredData.json held as an opaque
// tree. The original bytes are kept so fields this package does not know
// about survive re-serialization.
type Manifest struct {
	raw  []byte
	tree map[string]any
}

// ParseManifest decodes data, which must hold exactly one JSON object.
// Failures wrap ErrMalformedManifest.
func ParseManifest(data []byte) (*Manifest, error) {
	m, err := decodeManifest(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedManifest, err)
	}
	return m, nil
}

func decodeManifest(data []byte) (*Manifest, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("trailing data after top-level value")
	}

	tree, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("top-level value is %s, not an object", jsonType(v))
	}
	return &Manifest{raw: slices.Clone(data), tree: tree}, nil
}

func jsonType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "an array"
	case string:
		return "a string"
	case json.Number:
		return "a number"
	case bool:
		return "a boolean"
	}
	return fmt.Sprintf("%T", v)
}

// Raw returns a copy of the manifest bytes as received.
func (m *Manifest) Raw() []byte { return slices.Clone(m.raw) }

// Indented returns the manifest re-indented with two spaces. Key order and
// unknown fields are preserved.
func (m *Manifest) Indented() []byte {
	var buf bytes.Buffer
	if err := json.Indent(&buf, m.raw, "", "  "); err != nil {
		// Unreachable: raw was validated by ParseManifest.
		return m.Raw()
	}
	// Indent keeps trailing whitespace of its input.
	out := bytes.TrimRight(buf.Bytes(), " \t\r\n")
	return append(out, '\n')
}

// Lookup returns a top-level field.
func (m *Manifest) Lookup(key string) (any, bool) {
	v, ok := m.tree[key]
	return v, ok
}

// PageCount returns extended_metadata.page_count when the service
// reported it.
func (m *Manifest) PageCount() (int, bool) {
	v, _ := m.Lookup("extended_metadata")
	meta, ok := v.(map[string]any)
	if !ok {
		return 0, false
	}
	n, ok := meta["page_count"].(json.Number)
	if !ok {
		return 0, false
	}
	i, err := n.Int64()
	return int(i), err == nil
}

// Elements returns the manifest's element list in document order. Entries
// that are not objects are skipped but keep their index slot.
func (m *Manifest) Elements() []Element {
	list, _ := m.tree["elements"].([]any)
	out := make([]Element, 0, len(list))
	for i, item := range list {
		fields, ok := item.(map[string]any)
		if !ok {
			continue
		}
		out = append(out, Element{Index: i, fields: fields})
	}
	return out
}

// Text joins the trimmed, non-blank Text values of all elements with
// newlines.
func (m *Manifest) Text() string {
	var lines []string
	for _, el := range m.Elements() {
		if t, ok := el.Text(); ok {
			lines = append(lines, t)
		}
	}
	return strings.Join(lines, "\n")
}

// Element is one entry of the manifest's element list.
type Element struct {
	Index  int
	fields map[string]any
}

// Path is the element's structure path, e.g. "//Document/Table[2]".
func (e Element) Path() string {
	s, _ := e.fields["Path"].(string)
	return s
}

// Kind classifies the element by the last segment of its path with any
// index suffix removed.
func (e Element) Kind() ElementKind {
	p := e.Path()
	last := p[strings.LastIndex(p, "/")+1:]
	if i := strings.IndexByte(last, '['); i >= 0 {
		last = last[:i]
	}
	switch ElementKind(last) {
	case KindTable:
		return KindTable
	case KindFigure:
		return KindFigure
	}
	return KindOther
}

// Text returns the element's trimmed text, and false when it has none.
func (e Element) Text() (string, bool) {
	s, ok := e.fields["Text"].(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

// FilePaths lists the archive entries holding the element's renditions.
func (e Element) FilePaths() []string {
	list, _ := e.fields["filePaths"].([]any)
	var out []string
	for _, v := range list {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Page returns the zero-based page number when the element carries one.
func (e Element) Page() (int, bool) {
	n, ok := e.fields["Page"].(json.Number)
	if !ok {
		return 0, false
	}
	i, err := n.Int64()
	return int(i), err == nil
}
