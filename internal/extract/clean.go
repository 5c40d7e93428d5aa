package extract

import (
	"bytes"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// DefaultMaxCleanBytes bounds cleaned HTML handed to the extraction service.
const DefaultMaxCleanBytes = 50_000

var (
	hiddenStyle = regexp.MustCompile(`display\s*:\s*none`)
	whitespace  = regexp.MustCompile(`\s+`)
)

// CleanHTML strips non-content markup (scripts, styles, hidden nodes, head)
// and collapses whitespace so the extraction service sees as little noise as
// possible. Output longer than maxBytes is truncated with a marker.
func CleanHTML(raw []byte, maxBytes int) []byte {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxCleanBytes
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(raw))
	if err != nil {
		return truncate(raw, maxBytes)
	}

	doc.Find("script, style, noscript, svg, path, meta, link, head").Remove()
	doc.Find("[style]").Each(func(_ int, s *goquery.Selection) {
		if hiddenStyle.MatchString(s.AttrOr("style", "")) {
			s.Remove()
		}
	})

	cleaned, err := doc.Find("body").Html()
	if err != nil || strings.TrimSpace(cleaned) == "" {
		if cleaned, err = doc.Html(); err != nil {
			return truncate(raw, maxBytes)
		}
	}
	cleaned = whitespace.ReplaceAllString(cleaned, " ")
	return truncate([]byte(cleaned), maxBytes)
}

func truncate(b []byte, maxBytes int) []byte {
	if len(b) <= maxBytes {
		return b
	}
	out := make([]byte, 0, maxBytes+16)
	out = append(out, b[:maxBytes]...)
	return append(out, []byte("... [TRUNCATED]")...)
}
