// Package pdf renders an assembled note document into a PDF artifact.
package pdf

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jung-kurt/gofpdf/v2"
)

type Renderer struct{}

func NewRenderer() *Renderer {
	return &Renderer{}
}

// Render writes the note markdown as a PDF at outPath. The markdown is
// interpreted line by line: headings map to font sizes, list items and
// quotes get their markers, everything else flows as body text. Notes are
// mostly Cyrillic, so text goes through the cp1251 translator.
func (r *Renderer) Render(title, markdown, outPath string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("ensure pdf directory: %w", err)
	}

	doc := gofpdf.New("P", "mm", "A4", "")
	doc.SetTitle(title, true)
	doc.AddPage()
	tr := doc.UnicodeTranslatorFromDescriptor("cp1251")

	for _, line := range strings.Split(markdown, "\n") {
		line = strings.TrimRight(line, " \t")
		switch {
		case line == "":
			doc.Ln(3)
		case line == "---":
			doc.Ln(2)
			x, y := doc.GetXY()
			doc.Line(x, y, 200, y)
			doc.Ln(4)
		case strings.HasPrefix(line, "### "):
			doc.SetFont("Helvetica", "B", 13)
			doc.MultiCell(0, 7, tr(plain(strings.TrimPrefix(line, "### "))), "", "L", false)
			doc.Ln(1)
		case strings.HasPrefix(line, "## "):
			doc.SetFont("Helvetica", "B", 15)
			doc.MultiCell(0, 8, tr(plain(strings.TrimPrefix(line, "## "))), "", "L", false)
			doc.Ln(2)
		case strings.HasPrefix(line, "# "):
			doc.SetFont("Helvetica", "B", 18)
			doc.MultiCell(0, 10, tr(plain(strings.TrimPrefix(line, "# "))), "", "L", false)
			doc.Ln(3)
		case strings.HasPrefix(line, "- "):
			doc.SetFont("Helvetica", "", 11)
			doc.MultiCell(0, 6, tr("• "+plain(strings.TrimPrefix(line, "- "))), "", "L", false)
		case strings.HasPrefix(line, "> "):
			doc.SetFont("Helvetica", "I", 11)
			doc.MultiCell(0, 6, tr(plain(strings.TrimPrefix(line, "> "))), "", "L", false)
		default:
			doc.SetFont("Helvetica", "", 11)
			doc.MultiCell(0, 6, tr(plain(line)), "", "L", false)
		}
	}

	if err := doc.OutputFileAndClose(outPath); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

var markerStripper = strings.NewReplacer(
	"**", "",
	`\#`, "#",
	`\|`, "|",
	`\*`, "*",
	`\_`, "_",
	`\[`, "[",
	`\]`, "]",
)

// plain drops inline markdown markers that carry no meaning in a PDF.
func plain(s string) string {
	return markerStripper.Replace(s)
}
