package fetch

import (
	"context"
	"math/rand/v2"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/leadore/distill/internal/model"
)

// Fingerprint is the client identity presented to target sites.
type Fingerprint struct {
	UserAgent      string
	AcceptLanguage string
	Platform       string
	ViewportWidth  int
	ViewportHeight int
	Timezone       string
}

// defaultFingerprints are realistic desktop identities; one is picked per
// session so a recycled browser does not reuse the previous identity.
var defaultFingerprints = []Fingerprint{
	{
		UserAgent:      "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		AcceptLanguage: "en-US,en;q=0.9",
		Platform:       "Win32",
		ViewportWidth:  1920, ViewportHeight: 1080,
		Timezone: "America/New_York",
	},
	{
		UserAgent:      "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
		AcceptLanguage: "en-US,en;q=0.8",
		Platform:       "MacIntel",
		ViewportWidth:  1680, ViewportHeight: 1050,
		Timezone: "America/Chicago",
	},
	{
		UserAgent:      "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/130.0.0.0 Safari/537.36",
		AcceptLanguage: "en-GB,en;q=0.9",
		Platform:       "Linux x86_64",
		ViewportWidth:  1536, ViewportHeight: 864,
		Timezone: "Europe/London",
	},
}

// BrowserConfig configures the stealth browser fetcher.
type BrowserConfig struct {
	// Headless runs Chrome without a display. Default true.
	Headless bool

	// Proxies is the rotation pool; empty means direct connections.
	Proxies []string

	// RotateAfter is the consecutive-failure threshold before rotating
	// to the next proxy. Default 3.
	RotateAfter int

	// BaseDelay is the center of the jittered human-like pause applied
	// before navigation and after load. Default 800ms.
	BaseDelay time.Duration
}

func (c BrowserConfig) withDefaults() BrowserConfig {
	if c.BaseDelay <= 0 {
		c.BaseDelay = 800 * time.Millisecond
	}
	if c.RotateAfter <= 0 {
		c.RotateAfter = 3
	}
	return c
}

// BrowserFetcher drives a stealth Chrome session. One browser process is
// shared; each Fetch opens its own page. The browser is relaunched when the
// proxy pool rotates, since Chrome pins its proxy at launch.
type BrowserFetcher struct {
	cfg   BrowserConfig
	pool  *ProxyPool
	md    *converter.Converter
	newID func() string

	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	fp      Fingerprint
	closed  bool
}

// NewBrowserFetcher creates a BrowserFetcher. The browser launches lazily on
// the first Fetch.
func NewBrowserFetcher(cfg BrowserConfig) *BrowserFetcher {
	cfg = cfg.withDefaults()
	return &BrowserFetcher{
		cfg:  cfg,
		pool: NewProxyPool(cfg.Proxies, cfg.RotateAfter),
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		),
	}
}

func (b *BrowserFetcher) Name() string { return "browser" }
func (b *BrowserFetcher) Supports(_ string) bool { return true }

// Fetch navigates to the URL with anti-detection applied and returns the
// settled page content. On a block or navigation failure it rotates the
// proxy once the pool's threshold is hit and retries a single time.
func (b *BrowserFetcher) Fetch(ctx context.Context, url string, opts Options) (*Result, error) {
	opts = opts.withDefaults()

	result, err := b.fetchOnce(ctx, url, opts)
	if err == nil {
		b.pool.RecordSuccess()
		return result, nil
	}
	if ctx.Err() != nil {
		return nil, err
	}

	if b.pool.RecordFailure() {
		if b.pool.Exhausted() {
			return nil, fetchErr(model.FetchProxyExhausted, url, eris.New("all proxies exhausted"))
		}
		// New proxy requires a fresh Chrome process.
		b.recycle()
		zap.L().Warn("fetch: retrying after proxy rotation", zap.String("url", url))
		result, retryErr := b.fetchOnce(ctx, url, opts)
		if retryErr == nil {
			b.pool.RecordSuccess()
			return result, nil
		}
		return nil, retryErr
	}
	return nil, err
}

func (b *BrowserFetcher) fetchOnce(ctx context.Context, url string, opts Options) (*Result, error) {
	start := time.Now()

	browser, fp, err := b.ensureBrowser()
	if err != nil {
		return nil, fetchErr(model.FetchNavigation, url, err)
	}

	page, err := stealth.Page(browser)
	if err != nil {
		return nil, fetchErr(model.FetchNavigation, url, eris.Wrap(err, "create stealth page"))
	}
	// Close on every exit path, including cancellation.
	defer page.Close() //nolint:errcheck

	if err := applyFingerprint(page, fp); err != nil {
		zap.L().Warn("fetch: fingerprint setup failed", zap.Error(err))
	}

	navCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()
	p := page.Context(navCtx)

	// Humans do not navigate instantly after opening a tab.
	if err := humanDelay(navCtx, b.cfg.BaseDelay); err != nil {
		return nil, fetchErr(model.FetchTimeout, url, err)
	}

	if err := p.Navigate(url); err != nil {
		if navCtx.Err() != nil {
			return nil, fetchErr(model.FetchTimeout, url, err)
		}
		return nil, fetchErr(model.FetchNavigation, url, err)
	}
	if err := p.WaitLoad(); err != nil && navCtx.Err() != nil {
		return nil, fetchErr(model.FetchTimeout, url, err)
	}

	// Let late-rendering content settle, with jitter.
	if err := humanDelay(navCtx, opts.SettleDelay); err != nil {
		return nil, fetchErr(model.FetchTimeout, url, err)
	}

	html, status, err := readPage(p)
	if err != nil {
		if navCtx.Err() != nil {
			return nil, fetchErr(model.FetchTimeout, url, err)
		}
		return nil, fetchErr(model.FetchNavigation, url, err)
	}

	if blocked, blockType := DetectBlock(status, html); blocked {
		return nil, fetchErr(model.FetchBlocked, url, eris.Errorf("anti-bot block: %s", blockType))
	}

	cleaned := b.htmlToMarkdown(html, url)
	return &Result{
		URL:         url,
		StatusCode:  status,
		RawHTML:     html,
		CleanedText: cleaned,
		Meta:        extractMeta(html),
		Regions:     IdentifyHighValueRegions(html),
		Elapsed:     time.Since(start),
		Fetcher:     b.Name(),
	}, nil
}

// ensureBrowser launches Chrome on first use and returns the shared handle.
func (b *BrowserFetcher) ensureBrowser() (*rod.Browser, Fingerprint, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, Fingerprint{}, eris.New("fetch: browser fetcher is closed")
	}
	if b.browser != nil {
		return b.browser, b.fp, nil
	}

	b.fp = defaultFingerprints[rand.IntN(len(defaultFingerprints))]

	l := launcher.New().
		Headless(b.cfg.Headless).
		Set("disable-blink-features", "AutomationControlled")
	if proxy := b.pool.Current(); proxy != "" {
		l = l.Proxy(proxy)
	}

	wsURL, err := l.Launch()
	if err != nil {
		return nil, Fingerprint{}, eris.Wrap(err, "launch chrome")
	}

	browser := rod.New().ControlURL(wsURL)
	if err := browser.Connect(); err != nil {
		l.Cleanup()
		return nil, Fingerprint{}, eris.Wrap(err, "connect chrome")
	}

	b.browser = browser
	b.lnch = l
	zap.L().Info("fetch: launched browser",
		zap.Bool("headless", b.cfg.Headless),
		zap.String("timezone", b.fp.Timezone),
	)
	return browser, b.fp, nil
}

// recycle tears down the current Chrome so the next fetch relaunches with
// the active proxy and a fresh fingerprint.
func (b *BrowserFetcher) recycle() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.teardownLocked()
}

// Close shuts down Chrome. The fetcher cannot be reused afterwards.
func (b *BrowserFetcher) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.teardownLocked()
	return nil
}

func (b *BrowserFetcher) teardownLocked() {
	if b.browser != nil {
		b.browser.Close() //nolint:errcheck
		b.browser = nil
	}
	if b.lnch != nil {
		b.lnch.Cleanup()
		b.lnch = nil
	}
}

func (b *BrowserFetcher) htmlToMarkdown(html, url string) string {
	out, err := b.md.ConvertString(html, converter.WithDomain(url))
	if err != nil || strings.TrimSpace(out) == "" {
		// Fall back to tag stripping; extraction still needs text.
		return strings.TrimSpace(tagRe.ReplaceAllString(html, " "))
	}
	return strings.TrimSpace(out)
}

// applyFingerprint overrides the automation-default identity with a
// realistic one: user agent, platform, language, viewport, timezone.
func applyFingerprint(page *rod.Page, fp Fingerprint) error {
	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent:      fp.UserAgent,
		AcceptLanguage: fp.AcceptLanguage,
		Platform:       fp.Platform,
	}); err != nil {
		return eris.Wrap(err, "set user agent")
	}
	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             fp.ViewportWidth,
		Height:            fp.ViewportHeight,
		DeviceScaleFactor: 1,
	}); err != nil {
		return eris.Wrap(err, "set viewport")
	}
	err := proto.EmulationSetTimezoneOverride{TimezoneID: fp.Timezone}.Call(page)
	return eris.Wrap(err, "set timezone")
}

// readPage serialises the DOM and reads the navigation status code.
func readPage(p *rod.Page) (html string, status int, err error) {
	res, err := p.Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return "", 0, eris.Wrap(err, "read DOM")
	}
	html = res.Value.Str()

	status = 200
	if sres, serr := p.Eval(`() => {
		const nav = performance.getEntriesByType('navigation')[0];
		return (nav && nav.responseStatus) || 200;
	}`); serr == nil {
		status = sres.Value.Int()
	}
	return html, status, nil
}

// humanDelay sleeps a jittered interval around base (±50%), honouring
// cancellation. Fixed intervals are a detection signal.
func humanDelay(ctx context.Context, base time.Duration) error {
	jitter := 0.5 + rand.Float64() // [0.5, 1.5)
	d := time.Duration(float64(base) * jitter)
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var (
	titleRe    = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)
	metaDescRe = regexp.MustCompile(`(?i)<meta[^>]+name=["']description["'][^>]+content=["']([^"']*)["']`)
	metaKeysRe = regexp.MustCompile(`(?i)<meta[^>]+name=["']keywords["'][^>]+content=["']([^"']*)["']`)
)

// extractMeta pulls title, description and keywords out of raw HTML.
func extractMeta(html string) model.CaptureMeta {
	meta := model.CaptureMeta{}
	if m := titleRe.FindStringSubmatch(html); m != nil {
		meta.Title = strings.TrimSpace(m[1])
	}
	if m := metaDescRe.FindStringSubmatch(html); m != nil {
		meta.Description = strings.TrimSpace(m[1])
	}
	if m := metaKeysRe.FindStringSubmatch(html); m != nil {
		for _, kw := range strings.Split(m[1], ",") {
			if kw = strings.TrimSpace(kw); kw != "" {
				meta.Keywords = append(meta.Keywords, kw)
			}
		}
	}
	return meta
}
