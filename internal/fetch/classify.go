package fetch

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/JakeFAU/career-page-crawler/internal/crawl"
)

// challengeMarkers appear in anti-bot interstitials served with 2xx statuses.
var challengeMarkers = [][]byte{
	[]byte("cf-browser-verification"),
	[]byte("__cf_chl_"),
	[]byte("just a moment..."),
	[]byte("attention required! | cloudflare"),
	[]byte("g-recaptcha"),
	[]byte("h-captcha"),
	[]byte("incapsula incident"),
	[]byte("px-captcha"),
	[]byte("datadome"),
}

// challengeScanLimit bounds how much of the body is scanned for markers;
// interstitials are small and front-loaded.
const challengeScanLimit = 16 * 1024

// Classify maps a transport response to a fetch outcome. Status codes win
// over transport errors so an HTTP 403 surfaced as an error still counts as
// Blocked.
func Classify(status int, body []byte, err error) crawl.Outcome {
	switch status {
	case http.StatusForbidden, http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return crawl.OutcomeBlocked
	}

	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return crawl.OutcomeTimeout
		}
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return crawl.OutcomeTimeout
		}
		return crawl.OutcomeNetworkError
	}

	if status >= 400 {
		return crawl.OutcomeNetworkError
	}

	if isChallenge(body) {
		return crawl.OutcomeBlocked
	}
	return crawl.OutcomeSuccess
}

func isChallenge(body []byte) bool {
	if len(body) == 0 {
		return false
	}
	scan := body
	if len(scan) > challengeScanLimit {
		scan = scan[:challengeScanLimit]
	}
	scan = bytes.ToLower(scan)
	for _, marker := range challengeMarkers {
		if bytes.Contains(scan, marker) {
			return true
		}
	}
	return false
}
