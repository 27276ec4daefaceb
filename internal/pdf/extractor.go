// Package pdfutil builds short text previews of uploaded PDF files.
package pdfutil

import (
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	pdf "github.com/ledongthuc/pdf"
)

// MimeType is the sniffed content type previews are built for.
const MimeType = "application/pdf"

// maxPages bounds how much of a document is parsed for a preview.
const maxPages = 3

// Preview extracts up to limit runes of plain text from the first pages of
// the PDF in r. Whitespace runs are collapsed. Malformed documents make the
// parser panic; that is reported as an error.
func Preview(r io.ReaderAt, size int64, limit int) (preview string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			preview, err = "", fmt.Errorf("parse pdf: %v", rec)
		}
	}()
	doc, err := pdf.NewReader(r, size)
	if err != nil {
		return "", fmt.Errorf("new pdf reader: %w", err)
	}
	var builder strings.Builder
	total := doc.NumPage()
	for page := 1; page <= total && page <= maxPages; page++ {
		p := doc.Page(page)
		if p.V.IsNull() {
			continue
		}
		content, err := p.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("page %d: %w", page, err)
		}
		builder.WriteString(content)
		builder.WriteString(" ")
		if utf8.RuneCountInString(builder.String()) > limit*2 {
			break
		}
	}
	return Truncate(strings.Join(strings.Fields(builder.String()), " "), limit), nil
}

// Truncate cuts s to at most limit runes.
func Truncate(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
