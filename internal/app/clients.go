package app

import (
	"errors"
	"fmt"
	"strings"

	"github.com/moises-m-limon/mangalytics/internal/platform/firecrawl"
	"github.com/moises-m-limon/mangalytics/internal/platform/gcp"
	"github.com/moises-m-limon/mangalytics/internal/platform/logger"
	"github.com/moises-m-limon/mangalytics/internal/platform/openai"
	"github.com/moises-m-limon/mangalytics/internal/platform/rediscache"
	"github.com/moises-m-limon/mangalytics/internal/platform/reducto"
	"github.com/moises-m-limon/mangalytics/internal/platform/sendgrid"
	"github.com/moises-m-limon/mangalytics/internal/services"
)

type Clients struct {
	Buckets   gcp.BucketService
	Firecrawl firecrawl.Client
	LinkCache rediscache.LinkCache
	Parser    services.DocumentParser
	OpenAI    openai.Client
	SendGrid  sendgrid.Client

	// closers run in reverse order on Close.
	closers []func() error
}

func wireClients(log *logger.Logger, cfg Config) (Clients, error) {
	log.Info("Wiring clients...")
	var c Clients

	buckets, err := resolveBucketService(log, cfg)
	if err != nil {
		return c, err
	}
	c.Buckets = buckets
	c.closers = append(c.closers, buckets.Close)

	if c.Firecrawl, err = firecrawl.New(log, cfg.Firecrawl); err != nil {
		c.Close()
		return Clients{}, fmt.Errorf("init firecrawl: %w", err)
	}

	// Redis
	if addr := strings.TrimSpace(cfg.RedisAddr); addr != "" {
		cache, err := rediscache.NewLinkCache(log, addr, cfg.ScrapeCacheTTL)
		if err != nil {
			// The cache only saves repeat scrapes; run without it.
			log.Warn("Scrape cache unavailable, continuing without it", "addr", addr, "error", err)
		} else {
			c.LinkCache = cache
			c.closers = append(c.closers, cache.Close)
		}
	}

	switch cfg.ExtractorBackend {
	case ExtractorDocumentAI:
		doc, err := gcp.NewDocument(log, cfg.DocumentAI)
		if err != nil {
			c.Close()
			return Clients{}, fmt.Errorf("init document ai: %w", err)
		}
		c.Parser = doc
		c.closers = append(c.closers, doc.Close)
	default:
		rc, err := reducto.New(log, cfg.Reducto)
		if err != nil {
			c.Close()
			return Clients{}, fmt.Errorf("init reducto: %w", err)
		}
		c.Parser = rc
	}

	if c.OpenAI, err = openai.NewClient(log, cfg.OpenAI); err != nil {
		c.Close()
		return Clients{}, fmt.Errorf("init openai: %w", err)
	}
	if c.SendGrid, err = sendgrid.New(log, cfg.SendGrid); err != nil {
		c.Close()
		return Clients{}, fmt.Errorf("init sendgrid: %w", err)
	}
	return c, nil
}

func (c *Clients) Close() error {
	var errs []error
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	c.closers = nil
	return errors.Join(errs...)
}
