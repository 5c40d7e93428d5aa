package fetch

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/career-page-crawler/internal/breaker"
	"github.com/JakeFAU/career-page-crawler/internal/crawl"
	"github.com/JakeFAU/career-page-crawler/internal/identity"
	"github.com/JakeFAU/career-page-crawler/internal/throttle"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeTransport struct {
	mu      sync.Mutex
	resp    Response
	err     error
	calls   int
	lastID  crawl.Identity
	lastURL string
}

func (f *fakeTransport) Do(_ context.Context, url string, id crawl.Identity) (Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.lastID = id
	f.lastURL = url
	return f.resp, f.err
}

func newTestFetcher(static, rendered Transport) (*Fetcher, *breaker.Breaker, *identity.Rotator) {
	clk := &fakeClock{now: time.Unix(1000, 0)}
	throttleCtl := throttle.New(throttle.Config{
		MinDelay: time.Millisecond,
		MaxDelay: time.Millisecond,
	}, clk, nil)
	circuits := breaker.New(breaker.Config{Threshold: 3, Cooldown: time.Minute}, clk, nil)
	rotator := identity.New(identity.Config{
		UserAgents: []string{"ua-one", "ua-two"},
		Proxies:    []string{"http://p1:8080", "http://p2:8080"},
	}, 7, nil)
	return New(static, rendered, throttleCtl, circuits, rotator, clk, nil), circuits, rotator
}

func TestFetchSuccess(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{resp: Response{
		StatusCode: http.StatusOK,
		Body:       []byte("<html>postings</html>"),
		FinalURL:   "https://example.com/careers?page=1",
	}}
	f, _, _ := newTestFetcher(transport, nil)

	result, err := f.Fetch(context.Background(), crawl.FetchRequest{URL: "https://example.com/careers"})
	require.NoError(t, err)
	require.Equal(t, crawl.OutcomeSuccess, result.Outcome)
	require.Equal(t, []byte("<html>postings</html>"), result.Body)
	require.Equal(t, "https://example.com/careers?page=1", result.URL)
	require.Equal(t, 1, transport.calls)
	require.NotEmpty(t, transport.lastID.UserAgent)
}

func TestFetchRejectsUnusableURL(t *testing.T) {
	t.Parallel()

	f, _, _ := newTestFetcher(&fakeTransport{}, nil)
	_, err := f.Fetch(context.Background(), crawl.FetchRequest{URL: "::bad::"})
	require.Error(t, err)
}

func TestFetchRenderWithoutRendererFails(t *testing.T) {
	t.Parallel()

	f, _, _ := newTestFetcher(&fakeTransport{}, nil)
	_, err := f.Fetch(context.Background(), crawl.FetchRequest{URL: "https://example.com", Render: true})
	require.ErrorIs(t, err, ErrNoRenderer)
}

func TestFetchRoutesRenderedRequests(t *testing.T) {
	t.Parallel()

	static := &fakeTransport{resp: Response{StatusCode: http.StatusOK}}
	rendered := &fakeTransport{resp: Response{StatusCode: http.StatusOK}}
	f, _, _ := newTestFetcher(static, rendered)

	_, err := f.Fetch(context.Background(), crawl.FetchRequest{URL: "https://example.com", Render: true})
	require.NoError(t, err)
	require.Zero(t, static.calls)
	require.Equal(t, 1, rendered.calls)
}

func TestFetchShortCircuitsOpenBreaker(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{resp: Response{StatusCode: http.StatusServiceUnavailable}}
	f, circuits, _ := newTestFetcher(transport, nil)

	for i := 0; i < 3; i++ {
		result, err := f.Fetch(context.Background(), crawl.FetchRequest{URL: "https://example.com/jobs"})
		require.NoError(t, err)
		require.Equal(t, crawl.OutcomeBlocked, result.Outcome)
	}
	require.Equal(t, breaker.StateOpen, circuits.Status("example.com"))

	_, err := f.Fetch(context.Background(), crawl.FetchRequest{URL: "https://example.com/jobs"})
	require.ErrorIs(t, err, ErrCircuitOpen)
	require.Equal(t, 3, transport.calls, "no request while the circuit is open")
}

func TestBlockedOutcomeRotatesIdentityAndDropsProxy(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{resp: Response{StatusCode: http.StatusForbidden}}
	f, _, rotator := newTestFetcher(transport, nil)

	result, err := f.Fetch(context.Background(), crawl.FetchRequest{URL: "https://example.com/jobs"})
	require.NoError(t, err)
	require.Equal(t, crawl.OutcomeBlocked, result.Outcome)
	require.NotEmpty(t, result.Identity.Proxy)

	next := rotator.IdentityFor("example.com")
	require.NotEqual(t, result.Identity.UserAgent, next.UserAgent)
	require.NotEqual(t, result.Identity.Proxy, next.Proxy)
}

func TestFailedOutcomeOmitsBody(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{resp: Response{
		StatusCode: http.StatusInternalServerError,
		Body:       []byte("oops"),
	}}
	f, _, _ := newTestFetcher(transport, nil)

	result, err := f.Fetch(context.Background(), crawl.FetchRequest{URL: "https://example.com/jobs"})
	require.NoError(t, err)
	require.Equal(t, crawl.OutcomeNetworkError, result.Outcome)
	require.Nil(t, result.Body)
}

func TestCancelledProbeFetchFreesTheProbeSlot(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{resp: Response{StatusCode: http.StatusForbidden}}
	clk := &fakeClock{now: time.Unix(1000, 0)}
	throttleCtl := throttle.New(throttle.Config{
		MinDelay: 20 * time.Second,
		MaxDelay: 20 * time.Second,
	}, clk, nil)
	circuits := breaker.New(breaker.Config{Threshold: 2, Cooldown: time.Minute}, clk, nil)
	rotator := identity.New(identity.Config{}, 7, nil)
	f := New(transport, nil, throttleCtl, circuits, rotator, clk, nil)

	// Two blocked fetches open the circuit.
	_, err := f.Fetch(context.Background(), crawl.FetchRequest{URL: "https://example.com/jobs"})
	require.NoError(t, err)
	clk.Advance(50 * time.Second)
	_, err = f.Fetch(context.Background(), crawl.FetchRequest{URL: "https://example.com/jobs"})
	require.NoError(t, err)
	require.Equal(t, breaker.StateOpen, circuits.Status("example.com"))

	// Cooldown elapses; the admitted probe is cancelled while still pacing.
	clk.Advance(time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.Fetch(ctx, crawl.FetchRequest{URL: "https://example.com/jobs"})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 2, transport.calls, "cancelled probe never reached the transport")

	// The abandoned slot must not strand the circuit: the next attempt gets
	// a fresh probe instead of an open-circuit rejection.
	require.Equal(t, breaker.StateHalfOpen, circuits.Status("example.com"))
	transport.mu.Lock()
	transport.resp = Response{StatusCode: http.StatusOK, Body: []byte("<html>jobs</html>")}
	transport.mu.Unlock()

	clk.Advance(30 * time.Second)
	result, err := f.Fetch(context.Background(), crawl.FetchRequest{URL: "https://example.com/jobs"})
	require.NoError(t, err)
	require.Equal(t, crawl.OutcomeSuccess, result.Outcome)
	require.Equal(t, breaker.StateClosed, circuits.Status("example.com"))
}

func TestCancellationDuringPacingReturnsError(t *testing.T) {
	t.Parallel()

	transport := &fakeTransport{resp: Response{StatusCode: http.StatusOK}}
	clk := &fakeClock{now: time.Unix(1000, 0)}
	throttleCtl := throttle.New(throttle.Config{
		MinDelay: 10 * time.Second,
		MaxDelay: 10 * time.Second,
	}, clk, nil)
	circuits := breaker.New(breaker.Config{}, clk, nil)
	rotator := identity.New(identity.Config{}, 7, nil)
	f := New(transport, nil, throttleCtl, circuits, rotator, clk, nil)

	// Prime the domain so the next fetch has a full pacing floor to wait out.
	require.NoError(t, throttleCtl.Wait(context.Background(), "example.com"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := f.Fetch(ctx, crawl.FetchRequest{URL: "https://example.com/jobs"})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	require.Zero(t, transport.calls)
}
