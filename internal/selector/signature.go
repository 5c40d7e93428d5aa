// Package selector caches per-site extraction patterns keyed by a structural
// page signature, so repeated crawls of stable templates skip the expensive
// external extraction call.
package selector

import (
	"bytes"
	"crypto/md5" //nolint:gosec // cache key, not a security boundary
	"encoding/hex"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// signatureElementLimit bounds how many DOM elements feed the signature; the
// template shape shows in the first couple hundred nodes.
const signatureElementLimit = 200

// Signature fingerprints a page's layout: the normalized domain plus a hash
// of the first elements' tag names and class sets. Content changes that keep
// the template intact produce the same signature.
func Signature(domain string, html []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return "", err
	}

	var parts []string
	doc.Find("*").EachWithBreak(func(i int, s *goquery.Selection) bool {
		if i >= signatureElementLimit {
			return false
		}
		tag := goquery.NodeName(s)
		classes := strings.Fields(s.AttrOr("class", ""))
		sort.Strings(classes)
		parts = append(parts, tag+":"+strings.Join(classes, "."))
		return true
	})

	sum := md5.Sum([]byte(strings.Join(parts, "|"))) //nolint:gosec
	return strings.ToLower(domain) + ":" + hex.EncodeToString(sum[:]), nil
}
