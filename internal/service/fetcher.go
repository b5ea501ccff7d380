package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/Strob0t/EventForge/internal/adapter/otel"
	"github.com/Strob0t/EventForge/internal/domain/budget"
	"github.com/Strob0t/EventForge/internal/domain/record"
	"github.com/Strob0t/EventForge/internal/port/cache"
)

// ErrEmptyPage is reported when a page yields no readable text.
var ErrEmptyPage = errors.New("page has no readable text")

// PageDownloader fetches raw page bytes.
type PageDownloader interface {
	Download(ctx context.Context, url string) ([]byte, error)
}

// TextExtractor converts a downloaded document to plain text of at most
// maxLen characters.
type TextExtractor interface {
	ExtractText(html []byte, pageURL string, maxLen int) (string, error)
}

// EventScraper reads structured event data from a specialized source.
type EventScraper interface {
	Scrape(ctx context.Context, url string) (*record.Record, error)
}

// PageFetcher is what the agent needs from the content fetcher.
type PageFetcher interface {
	Fetch(ctx context.Context, url string) Page
}

// Page is the outcome of fetching one URL. Err is set instead of
// returning an error so a failed page never aborts a run.
type Page struct {
	URL         string
	Text        string
	Prefill     *record.Record
	Err         error
	Specialized bool
	Cached      bool
}

// FetcherConfig configures a ContentFetcher.
type FetcherConfig struct {
	Timeout             time.Duration
	PerPageChars        int
	CacheTTL            time.Duration
	SpecializedPatterns []string
}

// ContentFetcher turns a URL into normalized text, using the specialized
// scraper for matching sources and the generic download path otherwise.
type ContentFetcher struct {
	downloader PageDownloader
	extractor  TextExtractor
	scraper    EventScraper
	cache      cache.Cache
	metrics    *otel.Metrics

	patterns []*regexp.Regexp
	timeout  time.Duration
	cacheTTL time.Duration
	perPage  int

	group singleflight.Group
}

// NewContentFetcher creates a ContentFetcher. scraper and c may be nil.
func NewContentFetcher(dl PageDownloader, ex TextExtractor, scraper EventScraper, c cache.Cache, cfg FetcherConfig) (*ContentFetcher, error) {
	f := &ContentFetcher{
		downloader: dl,
		extractor:  ex,
		scraper:    scraper,
		cache:      c,
		timeout:    cfg.Timeout,
		cacheTTL:   cfg.CacheTTL,
		perPage:    cfg.PerPageChars,
	}
	for _, p := range cfg.SpecializedPatterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("specialized pattern %q: %w", p, err)
		}
		f.patterns = append(f.patterns, re)
	}
	return f, nil
}

// SetMetrics attaches metric instruments.
func (f *ContentFetcher) SetMetrics(m *otel.Metrics) {
	f.metrics = m
}

// Fetch retrieves url. Specialized sources that fail fall back to the
// generic path.
func (f *ContentFetcher) Fetch(ctx context.Context, url string) Page {
	ctx, span := otel.StartFetchSpan(ctx, url)

	if f.isSpecialized(url) {
		if page, ok := f.fetchSpecialized(ctx, url); ok {
			f.metrics.PageFetched(ctx, "ok", true)
			otel.EndSpan(span, nil)
			return page
		}
	}

	text, cached, err := f.fetchGeneric(ctx, url)
	page := Page{URL: url, Text: text, Err: err, Cached: cached}
	switch {
	case err != nil:
		f.metrics.PageFetched(ctx, "error", false)
		slog.WarnContext(ctx, "page fetch failed", "url", url, "error", err)
	case cached:
		f.metrics.PageFetched(ctx, "cached", false)
	default:
		f.metrics.PageFetched(ctx, "ok", false)
	}
	otel.EndSpan(span, err)
	return page
}

func (f *ContentFetcher) isSpecialized(url string) bool {
	if f.scraper == nil {
		return false
	}
	for _, re := range f.patterns {
		if re.MatchString(url) {
			return true
		}
	}
	return false
}

func (f *ContentFetcher) fetchSpecialized(ctx context.Context, url string) (Page, bool) {
	sctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	rec, err := f.scraper.Scrape(sctx, url)
	if err != nil || rec == nil {
		slog.InfoContext(ctx, "specialized scrape failed, using generic fetch", "url", url, "error", err)
		return Page{}, false
	}
	text, err := prefillText(url, rec)
	if err != nil {
		return Page{}, false
	}
	return Page{
		URL:         url,
		Text:        budget.Truncate(text, f.perPage),
		Prefill:     rec,
		Specialized: true,
	}, true
}

// fetchGeneric consults the cache, then downloads. Concurrent fetches of
// one URL across runs share a single download; the download runs on a
// detached context with its own timeout so one caller leaving does not
// fail the others.
func (f *ContentFetcher) fetchGeneric(ctx context.Context, url string) (string, bool, error) {
	key := "page:" + url
	if f.cache != nil {
		data, ok, err := f.cache.Get(ctx, key)
		if err != nil {
			slog.WarnContext(ctx, "page cache get failed", "url", url, "error", err)
		} else if ok {
			return string(data), true, nil
		}
	}

	ch := f.group.DoChan(url, func() (any, error) {
		dctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
		defer cancel()

		body, err := f.downloader.Download(dctx, url)
		if err != nil {
			return "", err
		}
		text, err := f.extractor.ExtractText(body, url, f.perPage)
		if err != nil {
			return "", fmt.Errorf("extract %s: %w", url, err)
		}
		if text == "" {
			return "", fmt.Errorf("%s: %w", url, ErrEmptyPage)
		}
		if f.cache != nil {
			if err := f.cache.Set(dctx, key, []byte(text), f.cacheTTL); err != nil {
				slog.WarnContext(ctx, "page cache set failed", "url", url, "error", err)
			}
		}
		return text, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", false, res.Err
		}
		return res.Val.(string), false, nil //nolint:forcetypeassert // the group only stores strings
	case <-ctx.Done():
		return "", false, ctx.Err()
	}
}

// prefillText renders a scraped record as readable context for the backend.
func prefillText(url string, rec *record.Record) (string, error) {
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Structured event data published by %s (schema.org Event):\n%s", url, data), nil
}
