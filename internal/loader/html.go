package loader

import (
	"os"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"lawbot/internal/domain"
)

var blankLines = regexp.MustCompile(`\n\s*\n+`)

func extractHTML(path string) (string, []domain.PageSpan, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", nil, err
	}
	defer f.Close()

	doc, err := goquery.NewDocumentFromReader(f)
	if err != nil {
		return "", nil, err
	}
	doc.Find("script, style, noscript").Remove()
	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	var parts []string
	body.Find("h1, h2, h3, h4, h5, h6, p, li, td, pre, blockquote").Each(func(_ int, s *goquery.Selection) {
		if t := strings.TrimSpace(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	text := strings.Join(parts, "\n\n")
	if text == "" {
		text = strings.TrimSpace(blankLines.ReplaceAllString(body.Text(), "\n\n"))
	}
	if text == "" {
		return "", nil, errNoText
	}
	return text, nil, nil
}
