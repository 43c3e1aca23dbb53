package services

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moises-m-limon/mangalytics/internal/domain"
	"github.com/moises-m-limon/mangalytics/internal/platform/apierr"
	"github.com/moises-m-limon/mangalytics/internal/platform/gcp"
	"github.com/moises-m-limon/mangalytics/internal/platform/logger"
)

func TestBuildSearchURL(t *testing.T) {
	u := BuildSearchURL(domain.SearchParams{}.WithDefaults("quantum computing"))
	require.True(t, strings.HasPrefix(u, "https://arxiv.org/search/advanced?advanced=1&terms-0-term=quantum+computing&terms-0-operator=AND&terms-0-field=title&"))
	require.True(t, strings.HasSuffix(u, "&date-date_type=submitted_date&abstracts=show&size=50&order=-submitted_date"))

	keys := []string{}
	for _, kv := range strings.Split(strings.SplitN(u, "?", 2)[1], "&") {
		keys = append(keys, strings.SplitN(kv, "=", 2)[0])
	}
	require.Equal(t, []string{
		"advanced", "terms-0-term", "terms-0-operator", "terms-0-field",
		"classification-physics_archives", "classification-include_cross_list",
		"date-filter_by", "date-year", "date-from_date", "date-to_date",
		"date-date_type", "abstracts", "size", "order",
	}, keys)
}

func TestFilterPDFLinks(t *testing.T) {
	got := FilterPDFLinks([]string{
		"https://arxiv.org/abs/2401.00001",
		"https://arxiv.org/pdf/2401.00001",
		"https://example.com/paper.pdf",
		"https://example.com/pdfs.html",
		"https://arxiv.org/pdf/2401.00002v2",
	})
	require.Equal(t, []string{
		"https://arxiv.org/pdf/2401.00001",
		"https://example.com/paper.pdf",
		"https://arxiv.org/pdf/2401.00002v2",
	}, got)
}

func TestPaperID(t *testing.T) {
	require.Equal(t, "2401.00001", PaperID("https://arxiv.org/pdf/2401.00001", 1))
	require.Equal(t, "2401.00001v2", PaperID("https://arxiv.org/pdf/2401.00001v2.pdf", 1))
	require.Equal(t, "paper_3", PaperID("https://arxiv.org/pdf/", 3))
}

func newTestScraper(t *testing.T, fc *fakeFirecrawl, cache *fakeLinkCache, pdfs *fakeFetcher) (Scraper, *testStore) {
	t.Helper()
	store := newTestStore(t)
	var s Scraper
	if cache != nil {
		s = NewScraper(logger.NewNop(), fc, cache, pdfs, store.gateway)
	} else {
		s = NewScraper(logger.NewNop(), fc, nil, pdfs, store.gateway)
	}
	return s, store
}

func TestScrapeAndUploadPartialFailure(t *testing.T) {
	links := []string{
		"https://arxiv.org/abs/1",
		"https://arxiv.org/pdf/1",
		"https://arxiv.org/pdf/2",
		"https://arxiv.org/pdf/3",
		"https://arxiv.org/pdf/4",
		"https://arxiv.org/pdf/5",
		"https://arxiv.org/pdf/6",
	}
	fc := &fakeFirecrawl{links: links}
	pdfs := &fakeFetcher{data: map[string][]byte{
		"https://arxiv.org/pdf/1": []byte("%PDF-1"),
		"https://arxiv.org/pdf/3": []byte("%PDF-3"),
		"https://arxiv.org/pdf/4": []byte("%PDF-4"),
		"https://arxiv.org/pdf/5": []byte("%PDF-5"),
		"https://arxiv.org/pdf/6": []byte("%PDF-6"),
	}}
	s, store := newTestScraper(t, fc, nil, pdfs)

	// an object left by an earlier run is kept and still counted
	store.put(t, gcp.BucketCategoryDocuments, "u@x.io/ml/01_02_2026/4.pdf", []byte("old"))

	res, err := s.ScrapeAndUpload(context.Background(), "u@x.io", "ml", domain.SearchParams{}.WithDefaults("ml"), "01_02_2026")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, 4, res.UploadedCount)
	require.Equal(t, []string{
		"u@x.io/ml/01_02_2026/1.pdf",
		"u@x.io/ml/01_02_2026/3.pdf",
		"u@x.io/ml/01_02_2026/4.pdf",
		"u@x.io/ml/01_02_2026/5.pdf",
	}, res.Files)
	require.Len(t, res.Errors, 1)
	require.True(t, strings.HasPrefix(res.Errors[0], "Failed to process https://arxiv.org/pdf/2: "))

	// only the first five PDF links are attempted
	require.NotContains(t, pdfs.calls, "https://arxiv.org/pdf/6")

	data, err := store.gateway.Download(context.Background(), gcp.BucketCategoryDocuments, "u@x.io/ml/01_02_2026/4.pdf")
	require.NoError(t, err)
	require.Equal(t, []byte("old"), data)
}

func TestScrapeAndUploadNoPDFLinks(t *testing.T) {
	s, _ := newTestScraper(t, &fakeFirecrawl{links: []string{"https://arxiv.org/abs/1"}}, nil, &fakeFetcher{})
	_, err := s.ScrapeAndUpload(context.Background(), "u", "ml", domain.SearchParams{}.WithDefaults("ml"), "01_02_2026")
	require.Error(t, err)
	require.True(t, apierr.IsNotFound(err))
	require.Contains(t, err.Error(), "No PDF links found")
}

func TestScrapeAndUploadFirecrawlFailure(t *testing.T) {
	s, _ := newTestScraper(t, &fakeFirecrawl{err: errors.New("rate limited")}, nil, &fakeFetcher{})
	_, err := s.ScrapeAndUpload(context.Background(), "u", "ml", domain.SearchParams{}.WithDefaults("ml"), "01_02_2026")
	require.Error(t, err)
	_, code := apierr.StatusOf(err)
	require.Equal(t, apierr.CodeUpstream, code)
}

func TestPreviewUsesLinkCache(t *testing.T) {
	links := []string{
		"https://arxiv.org/pdf/1", "https://arxiv.org/pdf/2", "https://arxiv.org/pdf/3",
		"https://arxiv.org/pdf/4", "https://arxiv.org/pdf/5", "https://arxiv.org/pdf/6",
		"https://arxiv.org/abs/6",
	}
	fc := &fakeFirecrawl{links: links}
	cache := &fakeLinkCache{}
	s, _ := newTestScraper(t, fc, cache, &fakeFetcher{})
	params := domain.SearchParams{}.WithDefaults("ml")

	p, err := s.Preview(context.Background(), params)
	require.NoError(t, err)
	require.Equal(t, BuildSearchURL(params), p.SearchURL)
	require.Equal(t, 6, p.TotalPDFsFound)
	require.Equal(t, links[:5], p.First5PDFs)

	_, err = s.Preview(context.Background(), params)
	require.NoError(t, err)
	require.Equal(t, 1, fc.calls)
}

func TestPreviewNoLinksIsNotAnError(t *testing.T) {
	s, _ := newTestScraper(t, &fakeFirecrawl{}, nil, &fakeFetcher{})
	p, err := s.Preview(context.Background(), domain.SearchParams{}.WithDefaults("ml"))
	require.NoError(t, err)
	require.Equal(t, 0, p.TotalPDFsFound)
	require.Empty(t, p.First5PDFs)
}
