// Package pdfcheck inspects uploaded files before they are sent for
// extraction.
package pdfcheck

import (
	"bytes"
	"errors"

	pdflib "github.com/ledongthuc/pdf"
)

// ErrNotPDF is returned for content without a PDF header.
var ErrNotPDF = errors.New("invalid PDF file format")

var header = []byte("%PDF")

// Info describes a PDF that passed the header check.
type Info struct {
	Version string `json:"version,omitempty"`
	// Pages is 0 when the document structure could not be read.
	Pages int `json:"pages"`
}

// Inspect requires data to start with the PDF header and counts pages on a
// best-effort basis. A document the local reader cannot parse is still
// accepted; the extraction service has the final word.
func Inspect(data []byte) (Info, error) {
	if !bytes.HasPrefix(data, header) {
		return Info{}, ErrNotPDF
	}
	return Info{Version: version(data), Pages: pageCount(data)}, nil
}

// version reads "1.7" out of a "%PDF-1.7" header line.
func version(data []byte) string {
	rest, ok := bytes.CutPrefix(data, []byte("%PDF-"))
	if !ok {
		return ""
	}
	end := bytes.IndexAny(rest, "\r\n \t")
	if end < 0 || end > 8 {
		end = min(len(rest), 8)
	}
	return string(rest[:end])
}

func pageCount(data []byte) (n int) {
	// The reader panics on some malformed cross-reference tables.
	defer func() {
		if recover() != nil {
			n = 0
		}
	}()
	r, err := pdflib.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0
	}
	return r.NumPage()
}
