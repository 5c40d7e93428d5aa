// Package headless implements the rendered fetch transport using chromedp.
package headless

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"github.com/JakeFAU/career-page-crawler/internal/crawl"
	"github.com/JakeFAU/career-page-crawler/internal/fetch"
)

// Config controls the behavior of the rendered transport.
type Config struct {
	MaxParallel       int
	NavigationTimeout time.Duration
	// SettleDelay is how long to wait after body-ready for dynamic job
	// lists to populate.
	SettleDelay time.Duration
}

// Transport renders pages in headless Chrome and returns the final DOM.
type Transport struct {
	cfg         Config
	limiter     chan struct{}
	allocator   context.Context
	allocCancel context.CancelFunc
}

// New creates a rendered transport backed by chromedp.
func New(cfg Config) (*Transport, error) {
	if cfg.MaxParallel < 0 {
		return nil, fmt.Errorf("max parallel must be >= 0")
	}
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = 45 * time.Second
	}
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = 2 * time.Second
	}
	var limiter chan struct{}
	if cfg.MaxParallel > 0 {
		limiter = make(chan struct{}, cfg.MaxParallel)
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), allocatorOptions("")...)

	return &Transport{
		cfg:         cfg,
		limiter:     limiter,
		allocator:   allocCtx,
		allocCancel: allocCancel,
	}, nil
}

// Close cancels the allocator context.
func (t *Transport) Close() {
	t.allocCancel()
}

func allocatorOptions(proxy string) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("enable-automation", false),
	)
	if proxy != "" {
		opts = append(opts, chromedp.ProxyServer(proxy))
	}
	return opts
}

// Do navigates with a headless browser under the given identity and returns
// the fully rendered DOM. Proxied identities get a dedicated allocator since
// the proxy is fixed at browser launch.
func (t *Transport) Do(ctx context.Context, url string, id crawl.Identity) (fetch.Response, error) {
	if err := t.acquire(ctx); err != nil {
		return fetch.Response{}, err
	}
	defer t.release()

	allocator := t.allocator
	if id.Proxy != "" {
		var cancel context.CancelFunc
		allocator, cancel = chromedp.NewExecAllocator(context.Background(), allocatorOptions(id.Proxy)...)
		defer cancel()
	}

	taskCtx, taskCancel := chromedp.NewContext(allocator)
	defer taskCancel()

	taskCtx, cancel := context.WithTimeout(taskCtx, t.cfg.NavigationTimeout)
	defer cancel()

	// Tie browser lifetime to the caller's context as well.
	go func() {
		select {
		case <-ctx.Done():
			taskCancel()
		case <-taskCtx.Done():
		}
	}()

	meta := newResponseMeta()
	chromedp.ListenTarget(taskCtx, meta.captureEvent)

	html, finalURL, err := t.run(taskCtx, url, id)
	if err != nil {
		if ctx.Err() != nil {
			return fetch.Response{}, fmt.Errorf("rendered fetch canceled: %w", ctx.Err())
		}
		return fetch.Response{}, err
	}

	status, responseURL := meta.snapshotWithFallbacks(url, finalURL)
	return fetch.Response{
		StatusCode: status,
		Body:       []byte(html),
		FinalURL:   responseURL,
	}, nil
}

func (t *Transport) run(ctx context.Context, url string, id crawl.Identity) (string, string, error) {
	var (
		html     string
		finalURL string
	)
	actions := []chromedp.Action{
		t.sessionSetupAction(id),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Sleep(t.cfg.SettleDelay),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(ctx, actions...); err != nil {
		return "", "", fmt.Errorf("chromedp run: %w", err)
	}
	return html, finalURL, nil
}

func (t *Transport) sessionSetupAction(id crawl.Identity) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return fmt.Errorf("enable network domain: %w", err)
		}
		if id.UserAgent != "" {
			if err := emulation.SetUserAgentOverride(id.UserAgent).Do(ctx); err != nil {
				return fmt.Errorf("set user-agent: %w", err)
			}
		}
		if id.Viewport.Width > 0 && id.Viewport.Height > 0 {
			err := emulation.SetDeviceMetricsOverride(
				int64(id.Viewport.Width),
				int64(id.Viewport.Height),
				1.0,
				false,
			).Do(ctx)
			if err != nil {
				return fmt.Errorf("set viewport: %w", err)
			}
		}
		if len(id.Headers) > 0 {
			headers := network.Headers{}
			for key, values := range id.Headers {
				if len(values) == 1 {
					headers[key] = values[0]
				} else if len(values) > 1 {
					headers[key] = append([]string(nil), values...)
				}
			}
			if err := network.SetExtraHTTPHeaders(headers).Do(ctx); err != nil {
				return fmt.Errorf("set extra headers: %w", err)
			}
		}
		return nil
	})
}

func (t *Transport) acquire(ctx context.Context) error {
	if t.limiter == nil {
		return nil
	}
	select {
	case t.limiter <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("render slot wait canceled: %w", ctx.Err())
	}
}

func (t *Transport) release() {
	if t.limiter == nil {
		return
	}
	select {
	case <-t.limiter:
	default:
	}
}
