package services

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/moises-m-limon/mangalytics/internal/domain"
	"github.com/moises-m-limon/mangalytics/internal/observability"
	"github.com/moises-m-limon/mangalytics/internal/platform/apierr"
	"github.com/moises-m-limon/mangalytics/internal/platform/firecrawl"
	"github.com/moises-m-limon/mangalytics/internal/platform/gcp"
	"github.com/moises-m-limon/mangalytics/internal/platform/logger"
	"github.com/moises-m-limon/mangalytics/internal/platform/rediscache"
)

const (
	arxivSearchURL = "https://arxiv.org/search/advanced"
	maxScrapedPDFs = 5
)

type SearchPreview struct {
	SearchURL      string   `json:"search_url"`
	TotalPDFsFound int      `json:"total_pdfs_found"`
	First5PDFs     []string `json:"first_5_pdfs"`
}

type ScrapeResult struct {
	Success       bool     `json:"success"`
	UploadedCount int      `json:"uploaded_count"`
	Files         []string `json:"files"`
	Errors        []string `json:"errors,omitempty"`
}

type Scraper interface {
	Preview(ctx context.Context, params domain.SearchParams) (*SearchPreview, error)
	ScrapeAndUpload(ctx context.Context, email, topic string, params domain.SearchParams, date string) (*ScrapeResult, error)
}

type scraper struct {
	log       *logger.Logger
	firecrawl firecrawl.Client
	links     rediscache.LinkCache
	pdfs      Fetcher
	storage   StorageGateway
}

// NewScraper wires the search scraper. links may be nil to disable caching.
func NewScraper(
	baseLog *logger.Logger,
	fc firecrawl.Client,
	links rediscache.LinkCache,
	pdfs Fetcher,
	storage StorageGateway,
) Scraper {
	return &scraper{
		log:       baseLog.With("service", "Scraper"),
		firecrawl: fc,
		links:     links,
		pdfs:      pdfs,
		storage:   storage,
	}
}

// BuildSearchURL renders the arXiv advanced search URL. Parameter order is
// fixed so the URL doubles as a cache key.
func BuildSearchURL(p domain.SearchParams) string {
	pairs := [][2]string{
		{"advanced", "1"},
		{"terms-0-term", p.Terms},
		{"terms-0-operator", p.Operator},
		{"terms-0-field", p.Field},
		{"classification-physics_archives", "all"},
		{"classification-include_cross_list", "include"},
		{"date-filter_by", "all_dates"},
		{"date-year", ""},
		{"date-from_date", ""},
		{"date-to_date", ""},
		{"date-date_type", "submitted_date"},
		{"abstracts", p.Abstracts},
		{"size", strconv.Itoa(p.Size)},
		{"order", p.Order},
	}
	var b strings.Builder
	b.WriteString(arxivSearchURL)
	for i, kv := range pairs {
		if i == 0 {
			b.WriteByte('?')
		} else {
			b.WriteByte('&')
		}
		b.WriteString(kv[0])
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(kv[1]))
	}
	return b.String()
}

// FilterPDFLinks keeps links that point at a PDF, in page order.
func FilterPDFLinks(links []string) []string {
	out := []string{}
	for _, l := range links {
		if strings.Contains(l, "/pdf/") || strings.HasSuffix(l, ".pdf") {
			out = append(out, l)
		}
	}
	return out
}

// PaperID derives the object name for a PDF link; idx is 1-based.
func PaperID(link string, idx int) string {
	seg := link
	if i := strings.LastIndex(link, "/"); i >= 0 {
		seg = link[i+1:]
	}
	id := strings.ReplaceAll(seg, ".pdf", "")
	if id == "" {
		return fmt.Sprintf("paper_%d", idx)
	}
	return id
}

func (s *scraper) Preview(ctx context.Context, params domain.SearchParams) (*SearchPreview, error) {
	searchURL := BuildSearchURL(params)
	pdfs, err := s.pdfLinks(ctx, searchURL)
	if err != nil {
		return nil, err
	}
	first := pdfs
	if len(first) > maxScrapedPDFs {
		first = first[:maxScrapedPDFs]
	}
	return &SearchPreview{SearchURL: searchURL, TotalPDFsFound: len(pdfs), First5PDFs: first}, nil
}

func (s *scraper) ScrapeAndUpload(ctx context.Context, email, topic string, params domain.SearchParams, date string) (*ScrapeResult, error) {
	searchURL := BuildSearchURL(params)
	s.log.Info("Scraping search page", "url", searchURL, "email", email, "topic", topic)

	pdfs, err := s.pdfLinks(ctx, searchURL)
	if err != nil {
		return nil, err
	}
	if len(pdfs) == 0 {
		return nil, apierr.NotFound("No PDF links found")
	}
	if len(pdfs) > maxScrapedPDFs {
		pdfs = pdfs[:maxScrapedPDFs]
	}

	folder := DateFolder(email, topic, date)
	batch := &domain.BatchResult{}
	files := []string{}
	for idx, link := range pdfs {
		path := folder + "/" + PaperID(link, idx+1) + ".pdf"
		if err := s.uploadOne(ctx, link, path); err != nil {
			s.log.Warn("PDF upload failed", "url", link, "error", err)
			batch.Fail(link, err)
			observability.Current().IncStageItem("scrape", string(domain.ItemFailed))
			continue
		}
		batch.OK(path)
		observability.Current().IncStageItem("scrape", string(domain.ItemOK))
		files = append(files, path)
	}

	res := &ScrapeResult{
		Success:       len(files) > 0,
		UploadedCount: len(files),
		Files:         files,
	}
	for _, it := range batch.Items {
		if it.Status == domain.ItemFailed {
			res.Errors = append(res.Errors, fmt.Sprintf("Failed to process %s: %v", it.Item, it.Err))
		}
	}
	return res, nil
}

func (s *scraper) uploadOne(ctx context.Context, link, path string) error {
	pdf, err := s.pdfs.Fetch(ctx, link)
	if err != nil {
		return err
	}
	reused, err := s.storage.UploadOrReuse(ctx, gcp.BucketCategoryDocuments, path, pdf, "application/pdf")
	if err != nil {
		return err
	}
	if reused {
		s.log.Info("PDF already exists, keeping it", "path", path)
	} else {
		s.log.Info("Uploaded PDF", "path", path, "bytes", len(pdf))
	}
	return nil
}

func (s *scraper) pdfLinks(ctx context.Context, searchURL string) ([]string, error) {
	links, err := s.scrapeLinks(ctx, searchURL)
	if err != nil {
		return nil, err
	}
	return FilterPDFLinks(links), nil
}

func (s *scraper) scrapeLinks(ctx context.Context, searchURL string) ([]string, error) {
	if s.links != nil {
		links, ok, err := s.links.Get(ctx, searchURL)
		if err != nil {
			s.log.Warn("Link cache read failed", "error", err)
		} else if ok {
			s.log.Debug("Link cache hit", "url", searchURL, "links", len(links))
			return links, nil
		}
	}
	links, err := s.firecrawl.ScrapeLinks(ctx, searchURL)
	if err != nil {
		return nil, apierr.Upstream("firecrawl", fmt.Errorf("failed to scrape links from arXiv: %w", err))
	}
	if s.links != nil && len(links) > 0 {
		if err := s.links.Set(ctx, searchURL, links); err != nil {
			s.log.Warn("Link cache write failed", "error", err)
		}
	}
	return links, nil
}
