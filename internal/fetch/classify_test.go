package fetch

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/career-page-crawler/internal/crawl"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status int
		body   string
		err    error
		want   crawl.Outcome
	}{
		{name: "ok", status: http.StatusOK, body: "<html>jobs</html>", want: crawl.OutcomeSuccess},
		{name: "forbidden", status: http.StatusForbidden, want: crawl.OutcomeBlocked},
		{name: "rate limited", status: http.StatusTooManyRequests, want: crawl.OutcomeBlocked},
		{name: "unavailable", status: http.StatusServiceUnavailable, want: crawl.OutcomeBlocked},
		{
			name:   "forbidden reported as transport error",
			status: http.StatusForbidden,
			err:    errors.New("Forbidden"),
			want:   crawl.OutcomeBlocked,
		},
		{name: "server error", status: http.StatusInternalServerError, want: crawl.OutcomeNetworkError},
		{name: "not found", status: http.StatusNotFound, want: crawl.OutcomeNetworkError},
		{name: "deadline exceeded", err: context.DeadlineExceeded, want: crawl.OutcomeTimeout},
		{name: "canceled", err: context.Canceled, want: crawl.OutcomeTimeout},
		{name: "net timeout", err: timeoutErr{}, want: crawl.OutcomeTimeout},
		{name: "connection refused", err: errors.New("connection refused"), want: crawl.OutcomeNetworkError},
		{
			name:   "cloudflare interstitial",
			status: http.StatusOK,
			body:   "<html><title>Just a moment...</title></html>",
			want:   crawl.OutcomeBlocked,
		},
		{
			name:   "captcha page",
			status: http.StatusOK,
			body:   `<div class="g-recaptcha"></div>`,
			want:   crawl.OutcomeBlocked,
		},
		{
			name:   "marker beyond scan limit ignored",
			status: http.StatusOK,
			body:   string(make([]byte, challengeScanLimit)) + "g-recaptcha",
			want:   crawl.OutcomeSuccess,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, Classify(tc.status, []byte(tc.body), tc.err))
		})
	}
}

func TestOutcomeFailed(t *testing.T) {
	t.Parallel()

	require.False(t, crawl.OutcomeSuccess.Failed())
	require.True(t, crawl.OutcomeBlocked.Failed())
	require.True(t, crawl.OutcomeTimeout.Failed())
	require.True(t, crawl.OutcomeNetworkError.Failed())
}
