// Package convert turns uploaded files into Markdown document bodies.
package convert

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
)

// ErrUnsupported is returned for file types that cannot be converted.
var ErrUnsupported = errors.New("unsupported file type")

// Output formats.
const (
	FormatMarkdown = "markdown"
	FormatText     = "text"
)

// Converted is the result of converting an uploaded file.
type Converted struct {
	Title   string
	Content string
	Format  string
}

// Convert dispatches on the file extension, falling back to the MIME type
// when the name has no recognised extension.
func Convert(name, mime string, data []byte) (Converted, error) {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		ext = extFromMIME(mime)
	}

	var (
		out Converted
		err error
	)
	switch ext {
	case ".pdf":
		out, err = convertPDF(data)
	case ".html", ".htm":
		out, err = convertHTML(data)
	case ".md", ".markdown":
		out, err = convertText(data, FormatMarkdown)
	case ".txt":
		out, err = convertText(data, FormatText)
	case ".json":
		out, err = convertJSON(data)
	case ".csv":
		out, err = convertCSV(data)
	default:
		if strings.HasPrefix(mime, "text/") && utf8.Valid(data) {
			out, err = convertText(data, FormatText)
		} else {
			return Converted{}, fmt.Errorf("%w: %s", ErrUnsupported, name)
		}
	}
	if err != nil {
		return Converted{}, err
	}
	if out.Title == "" {
		out.Title = base
	}
	return out, nil
}

func extFromMIME(mime string) string {
	mime, _, _ = strings.Cut(mime, ";")
	switch strings.TrimSpace(strings.ToLower(mime)) {
	case "application/pdf":
		return ".pdf"
	case "text/html":
		return ".html"
	case "text/markdown":
		return ".md"
	case "text/plain":
		return ".txt"
	case "application/json":
		return ".json"
	case "text/csv":
		return ".csv"
	}
	return ""
}

func convertPDF(data []byte) (Converted, error) {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Converted{}, fmt.Errorf("open pdf: %w", err)
	}
	var pages []string
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			// Skip unreadable pages rather than failing the whole document.
			continue
		}
		if text = normalizeText(text); text != "" {
			pages = append(pages, text)
		}
	}
	if len(pages) == 0 {
		return Converted{}, fmt.Errorf("no text extracted from PDF")
	}
	return Converted{Content: strings.Join(pages, "\n\n"), Format: FormatText}, nil
}

func convertText(data []byte, format string) (Converted, error) {
	if !utf8.Valid(data) {
		return Converted{}, fmt.Errorf("%w: not valid UTF-8 text", ErrUnsupported)
	}
	content := strings.ReplaceAll(string(data), "\r\n", "\n")
	return Converted{Title: firstHeading(content), Content: content, Format: format}, nil
}

func firstHeading(md string) string {
	for _, line := range strings.Split(md, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			return strings.TrimSpace(strings.TrimLeft(line, "#"))
		}
	}
	return ""
}

func convertJSON(data []byte) (Converted, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return Converted{}, fmt.Errorf("parse json: %w", err)
	}
	return Converted{Content: "```json\n" + buf.String() + "\n```", Format: FormatMarkdown}, nil
}

func convertCSV(data []byte) (Converted, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return Converted{}, fmt.Errorf("parse csv: %w", err)
	}
	if len(rows) == 0 {
		return Converted{Format: FormatMarkdown}, nil
	}

	width := 0
	for _, row := range rows {
		width = max(width, len(row))
	}
	var sb strings.Builder
	writeRow := func(cells []string) {
		sb.WriteString("|")
		for i := range width {
			cell := ""
			if i < len(cells) {
				cell = strings.ReplaceAll(strings.TrimSpace(cells[i]), "|", `\|`)
			}
			sb.WriteString(" " + cell + " |")
		}
		sb.WriteString("\n")
	}
	writeRow(rows[0])
	sb.WriteString("|" + strings.Repeat(" --- |", width) + "\n")
	for _, row := range rows[1:] {
		writeRow(row)
	}
	return Converted{Content: strings.TrimRight(sb.String(), "\n"), Format: FormatMarkdown}, nil
}

func normalizeText(text string) string {
	text = strings.ReplaceAll(text, "\x00", " ")
	text = strings.ToValidUTF8(text, "")
	return strings.Join(strings.Fields(text), " ")
}
