package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/moises-m-limon/mangalytics/internal/data/db"
	httpapi "github.com/moises-m-limon/mangalytics/internal/http"
	httpH "github.com/moises-m-limon/mangalytics/internal/http/handlers"
	httpMW "github.com/moises-m-limon/mangalytics/internal/http/middleware"
	"github.com/moises-m-limon/mangalytics/internal/observability"
	"github.com/moises-m-limon/mangalytics/internal/platform/logger"
	"github.com/moises-m-limon/mangalytics/internal/services"
)

const (
	ServiceName = "mangalytics"
	Version     = "2.0.0"
)

type Services struct {
	Storage   services.StorageGateway
	Scraper   services.Scraper
	Extractor services.Extractor
	Narrator  services.NarrativeGenerator
	Renderer  services.PanelRenderer
	Mailer    services.DigestMailer
	Pipeline  services.Pipeline
}

type App struct {
	Log      *logger.Logger
	Cfg      Config
	DB       *db.Service
	Clients  Clients
	Repos    Repos
	Services Services
	Server   *httpapi.Server

	otelShutdown func(context.Context) error
}

// New validates cfg and wires every dependency. The caller owns Close.
func New(ctx context.Context, cfg Config, log *logger.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	metrics := observability.Init(log)
	otelShutdown := observability.InitOTel(ctx, log, observability.OtelConfig{
		ServiceName: ServiceName,
		Environment: cfg.Environment,
		Version:     Version,
	})

	dbs, err := db.Open(log, cfg.DB)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	clients, err := wireClients(log, cfg)
	if err != nil {
		_ = dbs.Close()
		return nil, err
	}

	reposet := wireRepos(dbs.DB(), log)

	serviceset, err := wireServices(log, cfg, clients, reposet)
	if err != nil {
		_ = clients.Close()
		_ = dbs.Close()
		return nil, err
	}

	server := httpapi.NewServer(httpapi.RouterConfig{
		Log:             log,
		ServiceName:     ServiceName,
		Metrics:         metrics,
		Limiter:         httpMW.NewLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
		CORSOrigins:     cfg.CORSOrigins,
		HealthHandler:   httpH.NewHealthHandler(),
		PipelineHandler: httpH.NewPipelineHandler(log, serviceset.Pipeline),
	}, ":"+cfg.Port)

	return &App{
		Log:          log,
		Cfg:          cfg,
		DB:           dbs,
		Clients:      clients,
		Repos:        reposet,
		Services:     serviceset,
		Server:       server,
		otelShutdown: otelShutdown,
	}, nil
}

func wireServices(log *logger.Logger, cfg Config, c Clients, r Repos) (Services, error) {
	log.Info("Wiring services...")

	guide, err := services.LoadGuide(log, cfg.GuideAvatarPath)
	if err != nil {
		return Services{}, fmt.Errorf("load guide: %w", err)
	}

	pdfs := services.NewFetcher(log, "pdf", cfg.PDFDownloadTimeout, cfg.PDFDownloadAttempts)
	images := services.NewFetcher(log, "image", cfg.ImageDownloadTimeout, 1)

	storage := services.NewStorageGateway(log, c.Buckets, r.RecommendationRequest)
	scraper := services.NewScraper(log, c.Firecrawl, c.LinkCache, pdfs, storage)
	extractor := services.NewExtractor(log, cfg.ExtractorBackend, c.Parser, images)
	narrator := services.NewNarrativeGenerator(log, c.OpenAI, guide)
	renderer := services.NewPanelRenderer(log, services.PanelRendererConfig{
		Mode:     cfg.PanelRenderMode,
		FontPath: cfg.PanelFontPath,
	}, guide, c.OpenAI)
	mailer := services.NewDigestMailer(log, services.DigestMailerConfig{
		FromEmail: cfg.SendGrid.DefaultFromEmail,
		FromName:  cfg.SendGrid.DefaultFromName,
	}, c.SendGrid, guide)

	pipeline := services.NewPipeline(log, services.PipelineConfig{
		MaxConcurrentRuns: cfg.MaxConcurrentRuns,
	}, storage, scraper, extractor, narrator, renderer, mailer)

	return Services{
		Storage:   storage,
		Scraper:   scraper,
		Extractor: extractor,
		Narrator:  narrator,
		Renderer:  renderer,
		Mailer:    mailer,
		Pipeline:  pipeline,
	}, nil
}

// Run serves HTTP until ctx is cancelled or SIGINT/SIGTERM arrives.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ln, err := net.Listen("tcp", ":"+a.Cfg.Port)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.Cfg.Port, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return a.Server.Serve(gctx, ln, a.Cfg.ShutdownTimeout)
	})
	g.Go(func() error {
		<-gctx.Done()
		a.Log.Info("Shutdown signal received")
		return nil
	})
	return g.Wait()
}

func (a *App) Close() error {
	var errs []error
	if err := a.Clients.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close clients: %w", err))
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	if a.otelShutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), a.Cfg.ShutdownTimeout)
		defer cancel()
		if err := a.otelShutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown tracing: %w", err))
		}
	}
	a.Log.Sync()
	return errors.Join(errs...)
}
