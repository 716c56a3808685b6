package scrape

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/emulation"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog/log"
)

// Renderer drives a shared headless Chrome instance and produces fully
// rendered DOM content for one URL per call. Each fetch gets its own tab
// with a fresh fingerprint; the browser process is reused across fetches.
type Renderer struct {
	timeout time.Duration
	proxy   *ProxySelector

	setupOnce   sync.Once
	cleanupOnce sync.Once
	allocCtx    context.Context
	allocStop   context.CancelFunc
	browserCtx  context.Context
	browserStop context.CancelFunc
	mu          sync.Mutex
}

// RenderResult is the outcome of a successful render.
type RenderResult struct {
	HTML         string
	EffectiveURL string
}

// NewRenderer creates a renderer; the browser launches lazily on first use.
func NewRenderer(timeout time.Duration, proxy *ProxySelector) *Renderer {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Renderer{timeout: timeout, proxy: proxy}
}

func (r *Renderer) setup() {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.DisableGPU,
		chromedp.NoDefaultBrowserCheck,
		chromedp.NoFirstRun,
		chromedp.Headless,
		chromedp.NoSandbox,
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-setuid-sandbox", true),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("no-zygote", true),
		chromedp.Flag("ignore-certificate-errors", true),
		chromedp.WindowSize(1920, 1080),
	)
	if r.proxy != nil {
		if server := r.proxy.Server(); server != "" {
			opts = append(opts, chromedp.ProxyServer(server))
		}
	}

	r.allocCtx, r.allocStop = chromedp.NewExecAllocator(context.Background(), opts...)
	r.browserCtx, r.browserStop = chromedp.NewContext(r.allocCtx)

	if err := chromedp.Run(r.browserCtx); err != nil {
		log.Error().Err(err).Msg("failed to start headless browser")
	}
}

// Render fetches url through the acquired ticket's platform slot, returning
// the rendered DOM. The ticket outcome is NOT reported here; callers (or
// FetchWithRetry) close that loop once extraction has been attempted.
func (r *Renderer) Render(ctx context.Context, url string) (*RenderResult, error) {
	r.setupOnce.Do(r.setup)

	fp := RandomFingerprint()

	r.mu.Lock()
	tabCtx, cancelTab := chromedp.NewContext(r.browserCtx)
	r.mu.Unlock()
	defer cancelTab()

	tabCtx, cancel := context.WithTimeout(tabCtx, r.timeout)
	defer cancel()

	// Propagate caller cancellation into the tab.
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-tabCtx.Done():
		}
	}()

	var html, effectiveURL string
	err := chromedp.Run(tabCtx,
		fetch.Enable().WithPatterns([]*fetch.RequestPattern{
			{URLPattern: "*", RequestStage: fetch.RequestStageRequest},
		}),
		abortStaticAssets(),
		network.SetExtraHTTPHeaders(network.Headers{
			"Accept-Language": fp.Locale + ",en;q=0.9",
		}),
		chromedp.EmulateViewport(fp.Width, fp.Height),
		chromedp.ActionFunc(func(ctx context.Context) error {
			_, err := page.AddScriptToEvaluateOnNewDocument(stealthScript).Do(ctx)
			return err
		}),
		setUserAgent(fp.UserAgent),
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&effectiveURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", ErrFetchTimeout, url)
		}
		return nil, fmt.Errorf("render %s: %w", url, err)
	}

	return &RenderResult{HTML: html, EffectiveURL: effectiveURL}, nil
}

// Close tears the browser down; safe to call more than once.
func (r *Renderer) Close() {
	r.cleanupOnce.Do(func() {
		if r.browserStop != nil {
			r.browserStop()
		}
		if r.allocStop != nil {
			r.allocStop()
		}
	})
}

func setUserAgent(ua string) chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		return emulation.SetUserAgentOverride(ua).Do(ctx)
	})
}

// abortStaticAssets fails image/font/icon requests at the fetch layer to
// cut time-to-content.
func abortStaticAssets() chromedp.Action {
	return chromedp.ActionFunc(func(ctx context.Context) error {
		chromedp.ListenTarget(ctx, func(ev interface{}) {
			req, ok := ev.(*fetch.EventRequestPaused)
			if !ok {
				return
			}
			go func() {
				cdpCtx := cdp.WithExecutor(ctx, chromedp.FromContext(ctx).Target)
				switch req.ResourceType {
				case network.ResourceTypeImage, network.ResourceTypeFont, network.ResourceTypeMedia:
					_ = fetch.FailRequest(req.RequestID, network.ErrorReasonAborted).Do(cdpCtx)
				default:
					_ = fetch.ContinueRequest(req.RequestID).Do(cdpCtx)
				}
			}()
		})
		return nil
	})
}

