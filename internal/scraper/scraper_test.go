package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/insights-collector/internal/archive"
	"github.com/JakeFAU/insights-collector/internal/collector"
	collyfetcher "github.com/JakeFAU/insights-collector/internal/fetcher/colly"
	"github.com/JakeFAU/insights-collector/internal/hash/sha256"
	"github.com/JakeFAU/insights-collector/internal/policy/ratelimit"
	"github.com/JakeFAU/insights-collector/internal/storage/memory"
)

type fakeFetcher struct {
	mu       sync.Mutex
	pages    map[string]string
	fail     map[string]int
	inFlight atomic.Int32
	peak     atomic.Int32
	headers  []http.Header
	delay    time.Duration
}

func (f *fakeFetcher) Fetch(_ context.Context, url string, header http.Header) (collyfetcher.Page, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(f.delay)
	f.mu.Lock()
	f.headers = append(f.headers, header)
	f.mu.Unlock()
	if code, ok := f.fail[url]; ok {
		return collyfetcher.Page{URL: url, StatusCode: code}, errors.New(http.StatusText(code))
	}
	return collyfetcher.Page{URL: url, StatusCode: http.StatusOK, Body: []byte(f.pages[url])}, nil
}

func decode(t *testing.T, data json.RawMessage) Manifest {
	t.Helper()
	var m Manifest
	require.NoError(t, json.Unmarshal(data, &m))
	return m
}

func TestScrapeArchivesPagesAndReportsFailures(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{
		pages: map[string]string{"https://www.trustpilot.com/review/acme.com": "<html>5 stars</html>"},
		fail:  map[string]int{"https://www.trustpilot.com/review/acme.com?page=2": http.StatusForbidden},
	}
	blobs := memory.NewBlobStore()
	archiver, err := archive.New(blobs, sha256.New(), archive.Config{Prefix: "raw"})
	require.NoError(t, err)
	s := New(fetcher, archiver, ratelimit.New(ratelimit.Config{}), Config{}, nil)

	data, err := s.Scrape(context.Background(), collector.Task{
		JobID: "job-1",
		Source: collector.SourceConfig{
			Type:      collector.SourceTrustpilot,
			URLs:      []string{"https://www.trustpilot.com/review/acme.com"},
			Countries: []string{"es"},
			Identifiers: []string{
				"https://www.trustpilot.com/review/acme.com?page=2",
				"acme",
			},
		},
	})
	require.NoError(t, err)

	m := decode(t, data)
	require.Equal(t, collector.SourceTrustpilot, m.Source)
	require.Equal(t, 1, m.Fetched)
	require.Equal(t, 1, m.Failed)
	require.Len(t, m.Pages, 2)
	require.Regexp(t, `^memory://raw/job-1/trustpilot/[0-9a-f]{64}\.json$`, m.Pages[0].URI)
	require.Equal(t, http.StatusForbidden, m.Pages[1].Status)
	require.NotEmpty(t, m.Pages[1].Error)
	require.Equal(t, 1, blobs.Len())
	for _, h := range fetcher.headers {
		require.Equal(t, "es", h.Get("Accept-Language"))
	}
}

func TestScrapeFailsWhenNothingFetched(t *testing.T) {
	t.Parallel()

	s := New(&fakeFetcher{fail: map[string]int{"https://g.example/a": http.StatusBadGateway}}, nil, nil, Config{}, nil)

	_, err := s.Scrape(context.Background(), collector.Task{Source: collector.SourceConfig{
		Type: collector.SourceGoogle, URLs: []string{"https://g.example/a"},
	}})
	require.ErrorContains(t, err, "all 1 page(s) failed")

	_, err = s.Scrape(context.Background(), collector.Task{Source: collector.SourceConfig{
		Type: collector.SourceGoogle, Identifiers: []string{"place-123"},
	}})
	require.ErrorIs(t, err, ErrNoTargets)
}

func TestScrapeBoundsParallelism(t *testing.T) {
	t.Parallel()

	fetcher := &fakeFetcher{pages: map[string]string{}, delay: 10 * time.Millisecond}
	urls := make([]string, 0, 12)
	for i := 0; i < 12; i++ {
		urls = append(urls, "https://d.example/p/"+string(rune('a'+i)))
	}
	s := New(fetcher, nil, nil, Config{Parallelism: 3, MaxPages: 10}, nil)

	data, err := s.Scrape(context.Background(), collector.Task{Source: collector.SourceConfig{
		Type: collector.SourceDruni, URLs: urls,
	}})
	require.NoError(t, err)
	require.Equal(t, 10, decode(t, data).Fetched)
	require.LessOrEqual(t, fetcher.peak.Load(), int32(3))
}

func TestTargetsDeduplicatesAndFilters(t *testing.T) {
	t.Parallel()

	got := Targets(collector.SourceConfig{
		URLs:        []string{" https://a.example/x ", "ftp://a.example/y"},
		Identifiers: []string{"https://a.example/x", "B0ABCDEFGH", "http://b.example"},
	})
	require.Equal(t, []string{"https://a.example/x", "http://b.example"}, got)
}

func TestTargetsNormalizeEquivalentURLs(t *testing.T) {
	t.Parallel()

	got := Targets(collector.SourceConfig{
		URLs: []string{
			"HTTPS://Shop.Example:443/p?b=2&a=1#reviews",
			"https://shop.example/p?a=1&b=2",
			"http://shop.example:80/",
			"mailto:someone@example.com",
		},
	})
	require.Equal(t, []string{"https://shop.example/p?a=1&b=2", "http://shop.example/"}, got)
}
