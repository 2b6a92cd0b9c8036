package render

import (
	"fmt"
	"io"
	"strings"

	"github.com/fumiama/go-docx"
)

// WriteDOCX writes text as a Word document: a heading with title, then
// one paragraph per non-blank line.
func WriteDOCX(w io.Writer, title, text string) error {
	doc := docx.New().WithDefaultTheme()
	if title != "" {
		doc.AddParagraph().Style("Heading1").AddText(title)
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		doc.AddParagraph().AddText(line)
	}
	if _, err := doc.WriteTo(w); err != nil {
		return fmt.Errorf("write docx: %w", err)
	}
	return nil
}
