// Package notes renders the final markdown document from structuring output.
// Assembly is pure: no I/O, no persistence, just text.
package notes

import (
	"fmt"
	"strings"

	"transcript-bot/structure"
	"transcript-bot/transcribe"
)

var classLabels = map[string]string{
	structure.ClassMeeting: "Встреча",
	structure.ClassCourse:  "Курс",
	structure.ClassOther:   "Запись",
}

// Assemble renders a Note from job metadata and a validated structuring
// result. Model-originated text that lands inside structural markdown
// (headings, list markers) is neutralized first so a stray '#' or '|' in a
// section title cannot corrupt the document.
func Assemble(meta structure.Meta, result structure.Result) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", escape(meta.Title))
	b.WriteString("## Метаданные\n")
	if meta.Author != "" {
		fmt.Fprintf(&b, "- **Автор:** %s\n", escape(meta.Author))
	}
	fmt.Fprintf(&b, "- **Тип:** %s\n", classLabel(result.ContentType))
	fmt.Fprintf(&b, "- **Длительность:** %s\n", transcribe.FormatTimestamp(meta.Duration))
	if meta.Date != "" {
		fmt.Fprintf(&b, "- **Дата обработки:** %s\n", meta.Date)
	}
	if meta.Link != "" {
		fmt.Fprintf(&b, "- **Ссылка:** %s\n", meta.Link)
	}
	b.WriteString("\n---\n\n")

	if len(result.Sections) > 0 {
		b.WriteString("## Содержание\n\n")
		for i, sec := range result.Sections {
			fmt.Fprintf(&b, "### %d. %s\n", i+1, escape(sec.Title))
			fmt.Fprintf(&b, "**%s–%s**\n\n",
				transcribe.FormatTimestamp(sec.StartSec),
				transcribe.FormatTimestamp(sec.EndSec))
			if desc := strings.TrimSpace(sec.Description); desc != "" {
				b.WriteString(desc)
				b.WriteString("\n\n")
			}
		}
	}

	if len(result.KeyPoints) > 0 {
		b.WriteString("## Ключевые мысли\n")
		for _, p := range result.KeyPoints {
			fmt.Fprintf(&b, "- %s\n", strings.TrimSpace(p))
		}
		b.WriteString("\n")
	}

	if len(result.Quotes) > 0 {
		b.WriteString("## Цитаты\n")
		for _, q := range result.Quotes {
			fmt.Fprintf(&b, "> %s\n\n", strings.TrimSpace(q))
		}
	}

	if summary := strings.TrimSpace(result.Summary); summary != "" {
		b.WriteString("## Резюме\n")
		b.WriteString(summary)
		b.WriteString("\n")
	}

	return b.String()
}

func classLabel(contentType string) string {
	if label, ok := classLabels[contentType]; ok {
		return label
	}
	return contentType
}

var escaper = strings.NewReplacer(
	"#", `\#`,
	"|", `\|`,
	"`", "'",
	"*", `\*`,
	"_", `\_`,
	"[", `\[`,
	"]", `\]`,
	"\n", " ",
)

// escape neutralizes markdown-significant characters in text that ends up
// inside headings or table cells.
func escape(s string) string {
	return escaper.Replace(strings.TrimSpace(s))
}
