package selector

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/career-page-crawler/internal/crawl"
)

// Apply extracts postings from html using a cached pattern. An empty result
// is not an error: the caller treats it as a cache miss and falls back to
// full extraction.
func Apply(pattern crawl.Pattern, html []byte, baseURL string) ([]crawl.PostingFields, error) {
	if pattern.Empty() {
		return nil, nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse page: %w", err)
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	domain := strings.ToLower(base.Hostname())

	var postings []crawl.PostingFields
	doc.Find(pattern.JobList).Each(func(_ int, card *goquery.Selection) {
		title := selectText(card, pattern.Title)
		if title == "" {
			return
		}
		company := selectText(card, pattern.Company)
		if company == "" {
			company = domain
		}

		postings = append(postings, crawl.PostingFields{
			SourceSite:  domain,
			SourceURL:   resolveHref(base, selectHref(card, pattern.URL)),
			Title:       title,
			Company:     company,
			Location:    selectText(card, pattern.Location),
			SalaryRange: selectText(card, pattern.Salary),
		})
	})
	return postings, nil
}

func selectText(card *goquery.Selection, sel string) string {
	if sel == "" {
		return ""
	}
	return strings.TrimSpace(card.Find(sel).First().Text())
}

func selectHref(card *goquery.Selection, sel string) string {
	if sel == "" {
		return ""
	}
	return card.Find(sel).First().AttrOr("href", "")
}

func resolveHref(base *url.URL, href string) string {
	if href == "" {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	return base.ResolveReference(ref).String()
}
