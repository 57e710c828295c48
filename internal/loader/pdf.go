package loader

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"lawbot/internal/domain"
	"lawbot/internal/logger"
)

// pageSeparator joins pages so that paragraph-aware chunking sees page breaks.
const pageSeparator = "\n\n"

// extractPDF reads a PDF page by page in reading order and records where
// each page starts in the joined text.
func extractPDF(path string) (string, []domain.PageSpan, error) {
	f, r, err := pdf.Open(path)
	if err != nil {
		return "", nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	var b strings.Builder
	var pages []domain.PageSpan
	offset := 0
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			logger.Warn("failed to extract pdf page", "path", path, "page", i, "error", err)
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString(pageSeparator)
			offset += utf8.RuneCountInString(pageSeparator)
		}
		n := utf8.RuneCountInString(text)
		pages = append(pages, domain.PageSpan{Number: i, Offset: offset, Length: n})
		b.WriteString(text)
		offset += n
	}
	if b.Len() == 0 {
		return "", nil, errNoText
	}
	return b.String(), pages, nil
}
