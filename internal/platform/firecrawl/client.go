package firecrawl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/moises-m-limon/mangalytics/internal/observability"
	"github.com/moises-m-limon/mangalytics/internal/platform/envutil"
	"github.com/moises-m-limon/mangalytics/internal/platform/httpx"
	"github.com/moises-m-limon/mangalytics/internal/platform/logger"
)

// Client scrapes a page through the Firecrawl API and returns its links.
type Client interface {
	ScrapeLinks(ctx context.Context, pageURL string) ([]string, error)
}

type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

func ConfigFromEnv() Config {
	return Config{
		APIKey:  envutil.String("FIRECRAWL_API_KEY", ""),
		BaseURL: envutil.String("FIRECRAWL_BASE_URL", "https://api.firecrawl.dev"),
		Timeout: envutil.Duration("FIRECRAWL_TIMEOUT_SECONDS", 90*time.Second),
	}
}

type client struct {
	log        *logger.Logger
	cfg        Config
	httpClient *http.Client
}

func New(log *logger.Logger, cfg Config) (Client, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("missing FIRECRAWL_API_KEY")
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.firecrawl.dev"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 90 * time.Second
	}
	return &client{
		log:        log.With("client", "FirecrawlClient"),
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type scrapeRequest struct {
	URL     string   `json:"url"`
	Formats []string `json:"formats"`
}

type scrapeResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
	Data    struct {
		Links []string `json:"links"`
	} `json:"data"`
}

func (c *client) ScrapeLinks(ctx context.Context, pageURL string) ([]string, error) {
	start := time.Now()
	links, err := c.scrape(ctx, pageURL)
	observability.Current().ObserveUpstream("firecrawl", "scrape", observability.StatusLabel(err), time.Since(start))
	return links, err
}

func (c *client) scrape(ctx context.Context, pageURL string) ([]string, error) {
	payload, err := json.Marshal(scrapeRequest{URL: pageURL, Formats: []string{"links"}})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/scrape", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &httpx.StatusError{Service: "firecrawl", Status: resp.StatusCode, Body: string(raw)}
	}

	var out scrapeResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("firecrawl decode error: %w", err)
	}
	if !out.Success {
		msg := strings.TrimSpace(out.Error)
		if msg == "" {
			msg = "scrape unsuccessful"
		}
		return nil, errors.New("firecrawl: " + msg)
	}
	c.log.Debug("Scraped page", "url", pageURL, "links", len(out.Data.Links))
	return out.Data.Links, nil
}
