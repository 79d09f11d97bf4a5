// Package export renders documents for download.
package export

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/kalambet/nodebench/internal/storage"
)

// Formats accepted by Export.
const (
	Markdown = "markdown"
	JSON     = "json"
	Text     = "text"
)

// File is a rendered export ready to be served as an attachment.
type File struct {
	Data        []byte
	ContentType string
	FileName    string
}

type jsonDoc struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Export renders doc in the requested format. An empty format means Markdown.
func Export(doc storage.Document, format string) (File, error) {
	slug := Slug(doc.Title)
	switch strings.ToLower(format) {
	case "", Markdown, "md":
		body := "# " + doc.Title + "\n\n" + doc.Content
		return File{Data: []byte(body), ContentType: "text/markdown; charset=utf-8", FileName: slug + ".md"}, nil
	case JSON:
		b, err := json.MarshalIndent(jsonDoc{
			ID: doc.ID, Title: doc.Title, Content: doc.Content,
			CreatedAt: doc.CreatedAt, UpdatedAt: doc.UpdatedAt,
		}, "", "  ")
		if err != nil {
			return File{}, err
		}
		return File{Data: b, ContentType: "application/json", FileName: slug + ".json"}, nil
	case Text, "txt":
		body := doc.Title + "\n\n" + StripMarkdown(doc.Content)
		return File{Data: []byte(body), ContentType: "text/plain; charset=utf-8", FileName: slug + ".txt"}, nil
	}
	return File{}, fmt.Errorf("unknown export format %q", format)
}

var slugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

// Slug makes a filesystem-safe file name stem from a title.
func Slug(title string) string {
	s := strings.Trim(slugInvalid.ReplaceAllString(strings.ToLower(title), "-"), "-")
	if len(s) > 80 {
		s = strings.TrimRight(s[:80], "-")
	}
	if s == "" {
		return "untitled"
	}
	return s
}

var (
	mdImage    = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	mdLink     = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	mdBold     = regexp.MustCompile(`(\*\*|__)(.+?)(\*\*|__)`)
	mdItalic   = regexp.MustCompile(`(^|[^*\w])[*_]([^*_\n]+)[*_]`)
	mdCode     = regexp.MustCompile("`([^`]+)`")
	mdHeading  = regexp.MustCompile(`(?m)^#{1,6}\s+`)
	mdQuote    = regexp.MustCompile(`(?m)^>\s?`)
	mdStrike   = regexp.MustCompile(`~~(.+?)~~`)
	blankLines = regexp.MustCompile(`\n{3,}`)
)

// StripMarkdown reduces Markdown to plain text: headings, emphasis and link
// syntax are removed, code fence markers are dropped and their bodies kept.
func StripMarkdown(md string) string {
	var lines []string
	for _, line := range strings.Split(md, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		lines = append(lines, line)
	}
	s := strings.Join(lines, "\n")
	s = mdImage.ReplaceAllString(s, "$1")
	s = mdLink.ReplaceAllString(s, "$1")
	s = mdBold.ReplaceAllString(s, "$2")
	s = mdStrike.ReplaceAllString(s, "$1")
	s = mdItalic.ReplaceAllString(s, "$1$2")
	s = mdCode.ReplaceAllString(s, "$1")
	s = mdHeading.ReplaceAllString(s, "")
	s = mdQuote.ReplaceAllString(s, "")
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
