package fetch

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/rotisserie/eris"

	"github.com/leadore/distill/internal/model"
)

// maxBodyBytes caps the response body read for plain HTTP fetches.
const maxBodyBytes = 2 * 1024 * 1024

// HTTPFetcher fetches via net/http. Cheap and fast, no browser process; the
// orchestrator tries it for unguarded sources and falls back to the browser
// fetcher when a block is detected.
type HTTPFetcher struct {
	client *http.Client
	md     *converter.Converter
}

// NewHTTPFetcher creates an HTTPFetcher with sensible transport defaults.
func NewHTTPFetcher() *HTTPFetcher {
	return &HTTPFetcher{
		client: &http.Client{
			Timeout: 15 * time.Second,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: 10 * time.Second,
				}).DialContext,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		md: converter.NewConverter(
			converter.WithPlugins(
				base.NewBasePlugin(),
				commonmark.NewCommonmarkPlugin(),
			),
		),
	}
}

func (h *HTTPFetcher) Name() string { return "http" }
func (h *HTTPFetcher) Supports(_ string) bool { return true }

// Fetch performs a plain GET, detects blocks, and converts the body to
// markdown text.
func (h *HTTPFetcher) Fetch(ctx context.Context, url string, opts Options) (*Result, error) {
	opts = opts.withDefaults()
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, opts.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fetchErr(model.FetchNavigation, url, eris.Wrap(err, "create request"))
	}
	req.Header.Set("User-Agent", defaultFingerprints[0].UserAgent)
	req.Header.Set("Accept-Language", defaultFingerprints[0].AcceptLanguage)

	resp, err := h.client.Do(req)
	if err != nil {
		if reqCtx.Err() != nil {
			return nil, fetchErr(model.FetchTimeout, url, err)
		}
		return nil, fetchErr(model.FetchNavigation, url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fetchErr(model.FetchNavigation, url, eris.Wrap(err, "read body"))
	}
	html := string(body)

	if blocked, blockType := DetectBlock(resp.StatusCode, html); blocked {
		return nil, fetchErr(model.FetchBlocked, url, eris.Errorf("anti-bot block: %s", blockType))
	}
	if resp.StatusCode >= 400 {
		return nil, fetchErr(model.FetchNavigation, url, eris.Errorf("status %d", resp.StatusCode))
	}

	cleaned := html
	if out, cerr := h.md.ConvertString(html, converter.WithDomain(url)); cerr == nil && strings.TrimSpace(out) != "" {
		cleaned = strings.TrimSpace(out)
	} else {
		cleaned = strings.TrimSpace(tagRe.ReplaceAllString(html, " "))
	}

	return &Result{
		URL:         url,
		StatusCode:  resp.StatusCode,
		RawHTML:     html,
		CleanedText: cleaned,
		Meta:        extractMeta(html),
		Regions:     IdentifyHighValueRegions(html),
		Elapsed:     time.Since(start),
		Fetcher:     h.Name(),
	}, nil
}
