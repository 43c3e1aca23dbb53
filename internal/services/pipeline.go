package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"
	"gorm.io/datatypes"

	"github.com/moises-m-limon/mangalytics/internal/domain"
	"github.com/moises-m-limon/mangalytics/internal/observability"
	"github.com/moises-m-limon/mangalytics/internal/platform/apierr"
	"github.com/moises-m-limon/mangalytics/internal/platform/gcp"
	"github.com/moises-m-limon/mangalytics/internal/platform/logger"
)

const (
	StageScrape  = "scrape"
	StageExtract = "extract"
	StageNarrate = "narrate"

	maxEmailFigures = 5
)

type ScrapeInput struct {
	Email  string
	Topic  string
	Params domain.SearchParams
	// Date is the MM_DD_YYYY folder; empty means today.
	Date string
}

type ExtractInput struct {
	Email    string `json:"email" binding:"required"`
	Topic    string `json:"topic" binding:"required"`
	Date     string `json:"date" binding:"required"`
	MaxFiles int    `json:"max_files"`
}

type NarrateInput struct {
	Email      string  `json:"email" binding:"required"`
	Topic      string  `json:"topic" binding:"required"`
	Date       string  `json:"date" binding:"required"`
	MaxFiles   int     `json:"max_files"`
	PaperTitle *string `json:"paper_title"`
}

type PairingView struct {
	FigureContent string `json:"figure_content"`
	ImageURL      string `json:"image_url"`
}

type ProcessedFile struct {
	FileName  string        `json:"file_name"`
	CreatedAt time.Time     `json:"created_at"`
	Pairings  []PairingView `json:"pairings"`
}

type ExtractResult struct {
	Email               string          `json:"email"`
	Topic               string          `json:"topic"`
	Date                string          `json:"date"`
	TotalFilesProcessed int             `json:"total_files_processed"`
	Files               []ProcessedFile `json:"files"`
	Errors              []string        `json:"errors,omitempty"`
}

// FigureCount is the number of pairings stored across all files.
func (r *ExtractResult) FigureCount() int {
	n := 0
	for _, f := range r.Files {
		n += len(f.Pairings)
	}
	return n
}

type NarrateResult struct {
	Email       string                 `json:"email"`
	Topic       string                 `json:"topic"`
	Narrative   string                 `json:"narrative"`
	Panels      []domain.PanelRecord   `json:"panels"`
	PanelImages []domain.RenderedPanel `json:"panel_images,omitempty"`
	BundlePath  string                 `json:"bundle_path,omitempty"`
	FiguresUsed int                    `json:"figures_used"`
	EmailSent   bool                   `json:"email_sent"`
	EmailID     *string                `json:"email_id"`
}

type StepScraping struct {
	Status       string   `json:"status"`
	PDFsUploaded int      `json:"pdfs_uploaded"`
	Files        []string `json:"files"`
}

type StepProcessing struct {
	Status           string `json:"status"`
	FilesProcessed   int    `json:"files_processed"`
	FiguresExtracted int    `json:"figures_extracted"`
}

type StepManga struct {
	Status          string  `json:"status"`
	EmailSent       bool    `json:"email_sent"`
	EmailID         *string `json:"email_id"`
	PanelsGenerated int     `json:"panels_generated"`
	Error           string  `json:"error,omitempty"`
}

type PipelineSummary struct {
	Scraping   StepScraping   `json:"step_1_scraping"`
	Processing StepProcessing `json:"step_2_processing"`
	Manga      StepManga      `json:"step_3_manga"`
}

type SubscribeResult struct {
	Success bool            `json:"success"`
	Email   string          `json:"email"`
	Topic   string          `json:"topic"`
	Date    string          `json:"date"`
	Summary PipelineSummary `json:"pipeline_summary"`
	Message string          `json:"message"`
}

type Pipeline interface {
	Preview(ctx context.Context, params domain.SearchParams) (*SearchPreview, error)
	Scrape(ctx context.Context, in ScrapeInput) (*ScrapeResult, error)
	Extract(ctx context.Context, in ExtractInput) (*ExtractResult, error)
	Narrate(ctx context.Context, in NarrateInput) (*NarrateResult, error)
	Subscribe(ctx context.Context, email, topic string) (*SubscribeResult, error)
}

type PipelineConfig struct {
	MaxConcurrentRuns int
}

type pipeline struct {
	log       *logger.Logger
	storage   StorageGateway
	scraper   Scraper
	extractor Extractor
	narrator  NarrativeGenerator
	renderer  PanelRenderer
	mailer    DigestMailer
	runs      *semaphore.Weighted
	now       func() time.Time
}

func NewPipeline(
	baseLog *logger.Logger,
	cfg PipelineConfig,
	storage StorageGateway,
	scraper Scraper,
	extractor Extractor,
	narrator NarrativeGenerator,
	renderer PanelRenderer,
	mailer DigestMailer,
) Pipeline {
	if cfg.MaxConcurrentRuns <= 0 {
		cfg.MaxConcurrentRuns = 4
	}
	return &pipeline{
		log:       baseLog.With("service", "Pipeline"),
		storage:   storage,
		scraper:   scraper,
		extractor: extractor,
		narrator:  narrator,
		renderer:  renderer,
		mailer:    mailer,
		runs:      semaphore.NewWeighted(int64(cfg.MaxConcurrentRuns)),
		now:       time.Now,
	}
}

// admit blocks until a run slot is free. The returned func releases it.
func (p *pipeline) admit(ctx context.Context) (func(), error) {
	if err := p.runs.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	m := observability.Current()
	m.RunsInflightInc()
	return func() {
		m.RunsInflightDec()
		p.runs.Release(1)
	}, nil
}

func observeStage(stage string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	observability.Current().ObserveStage(stage, outcome, time.Since(start))
}

func (p *pipeline) Preview(ctx context.Context, params domain.SearchParams) (*SearchPreview, error) {
	return p.scraper.Preview(ctx, params)
}

func (p *pipeline) Scrape(ctx context.Context, in ScrapeInput) (*ScrapeResult, error) {
	release, err := p.admit(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return p.scrape(ctx, in)
}

func (p *pipeline) scrape(ctx context.Context, in ScrapeInput) (res *ScrapeResult, err error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "pipeline.scrape", attribute.String("topic", in.Topic))
	defer func() {
		observeStage(StageScrape, start, err)
		observability.EndSpan(span, err)
	}()

	date := in.Date
	if date == "" {
		date = p.now().Format(domain.DateLayout)
	}
	return p.scraper.ScrapeAndUpload(ctx, in.Email, in.Topic, in.Params.WithDefaults(in.Topic), date)
}

func (p *pipeline) Extract(ctx context.Context, in ExtractInput) (*ExtractResult, error) {
	release, err := p.admit(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return p.extract(ctx, in)
}

func (p *pipeline) extract(ctx context.Context, in ExtractInput) (res *ExtractResult, err error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "pipeline.extract",
		attribute.String("topic", in.Topic),
		attribute.String("date", in.Date),
	)
	defer func() {
		observeStage(StageExtract, start, err)
		observability.EndSpan(span, err)
	}()

	folder := DateFolder(in.Email, in.Topic, in.Date)
	files, err := p.storage.ListFiles(ctx, gcp.BucketCategoryDocuments, folder, ".pdf")
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, apierr.NotFound("No PDF files found in path: %s", folder)
	}
	maxFiles := in.MaxFiles
	if maxFiles <= 0 {
		maxFiles = 1
	}
	if len(files) > maxFiles {
		files = files[:maxFiles]
	}

	res = &ExtractResult{Email: in.Email, Topic: in.Topic, Date: in.Date, Files: []ProcessedFile{}}
	batch := &domain.BatchResult{}
	figureCounter := 1

	for _, file := range files {
		pf, status, ferr := p.extractFile(ctx, in, folder, file, &figureCounter)
		switch status {
		case domain.ItemOK:
			batch.OK(file)
			res.Files = append(res.Files, *pf)
		case domain.ItemSkipped:
			batch.Skip(file, ferr)
		default:
			batch.Fail(file, ferr)
		}
		observability.Current().IncStageItem(StageExtract, string(status))
	}

	res.TotalFilesProcessed = len(res.Files)
	res.Errors = batch.Errors()
	p.log.Info("Extract stage finished",
		"email", in.Email,
		"topic", in.Topic,
		"processed", batch.Count(domain.ItemOK),
		"skipped", batch.Count(domain.ItemSkipped),
		"failed", batch.Count(domain.ItemFailed),
	)
	if res.TotalFilesProcessed == 0 {
		return nil, apierr.Internal("No files were successfully processed: %s", strings.Join(res.Errors, "; "))
	}
	return res, nil
}

// extractFile processes one PDF. counter is the run-wide figure number and
// advances once per extracted figure whether or not its upload succeeds.
func (p *pipeline) extractFile(ctx context.Context, in ExtractInput, folder, file string, counter *int) (*ProcessedFile, domain.ItemStatus, error) {
	log := p.log.With("file", file)

	exists, err := p.storage.CheckAlreadyProcessed(ctx, in.Email, in.Topic, file)
	if err != nil {
		return nil, domain.ItemFailed, fmt.Errorf("check existing: %w", err)
	}
	if exists {
		if err := p.storage.DeleteExisting(ctx, in.Email, in.Topic, file); err != nil {
			return nil, domain.ItemFailed, err
		}
	}

	pdf, err := p.storage.Download(ctx, gcp.BucketCategoryDocuments, file)
	if err != nil {
		log.Warn("PDF download failed", "error", err)
		return nil, domain.ItemFailed, fmt.Errorf("download: %w", err)
	}

	ext, err := p.extractor.Extract(ctx, pdf, file)
	if err != nil {
		log.Warn("Extraction failed", "error", err)
		return nil, domain.ItemFailed, err
	}
	if len(ext.Pairings) == 0 {
		log.Info("No figures extracted, skipping")
		return nil, domain.ItemSkipped, fmt.Errorf("no figures extracted")
	}

	req := &domain.RecommendationRequest{
		Email:    in.Email,
		Topic:    in.Topic,
		FileName: file,
		Title:    optionalString(ext.Title),
		Authors:  optionalString(ext.Authors),
	}

	rows := make([]*domain.RecommendationPairing, 0, len(ext.Pairings))
	views := make([]PairingView, 0, len(ext.Pairings))
	for _, fig := range ext.Pairings {
		imagePath := fmt.Sprintf("%s/figure_%d.png", folder, *counter)
		*counter++
		if _, err := p.storage.UploadOrReuse(ctx, gcp.BucketCategoryFigures, imagePath, fig.ImageData, "image/png"); err != nil {
			log.Warn("Figure upload failed, skipping", "path", imagePath, "error", err)
			continue
		}
		rows = append(rows, &domain.RecommendationPairing{
			FigureContent: fig.FigureContent,
			ImagePath:     imagePath,
			ReductoData:   datatypes.JSON(fig.SourceBlock),
		})
		views = append(views, PairingView{
			FigureContent: fig.FigureContent,
			ImageURL:      p.storage.PublicURL(gcp.BucketCategoryFigures, imagePath),
		})
	}

	stored, err := p.storage.StoreRecommendation(ctx, req, rows)
	if err != nil {
		log.Error("Storing recommendation failed", "error", err)
		return nil, domain.ItemFailed, err
	}
	return &ProcessedFile{FileName: file, CreatedAt: stored.CreatedAt, Pairings: views}, domain.ItemOK, nil
}

func (p *pipeline) Narrate(ctx context.Context, in NarrateInput) (*NarrateResult, error) {
	release, err := p.admit(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	return p.narrate(ctx, in)
}

func (p *pipeline) narrate(ctx context.Context, in NarrateInput) (res *NarrateResult, err error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "pipeline.narrate",
		attribute.String("topic", in.Topic),
		attribute.String("date", in.Date),
	)
	defer func() {
		observeStage(StageNarrate, start, err)
		observability.EndSpan(span, err)
	}()

	maxFiles := in.MaxFiles
	if maxFiles <= 0 {
		maxFiles = 1
	}
	stored, err := p.storage.PairingsForPath(ctx, in.Email, in.Topic, in.Date, maxFiles)
	if err != nil {
		return nil, err
	}
	if len(stored.Figures) == 0 {
		return nil, apierr.NotFound("No figures found for %s", DateFolder(in.Email, in.Topic, in.Date))
	}

	paperTitle := in.Topic + " Research"
	if t := stored.FirstTitle(); t != "" {
		paperTitle = t
	}
	if in.PaperTitle != nil && strings.TrimSpace(*in.PaperTitle) != "" {
		paperTitle = strings.TrimSpace(*in.PaperTitle)
	}

	story, err := p.narrator.Generate(ctx, stored.Figures, paperTitle, in.Topic)
	if err != nil {
		return nil, err
	}
	if len(story.Panels) == 0 {
		return nil, apierr.Upstream("openai", errors.New("narrative contained no panels"))
	}

	folder := DateFolder(in.Email, in.Topic, in.Date)
	now := p.now()
	res = &NarrateResult{
		Email:       in.Email,
		Topic:       in.Topic,
		Narrative:   story.Text,
		Panels:      story.Panels,
		FiguresUsed: len(stored.Figures),
	}

	bundle, err := json.Marshal(domain.NarrativeBundle{
		Email:       in.Email,
		Topic:       in.Topic,
		Date:        in.Date,
		PaperTitle:  paperTitle,
		GeneratedAt: now.UTC(),
		Narrative:   story.Text,
		Panels:      story.Panels,
		FiguresUsed: len(stored.Figures),
	})
	if err == nil {
		bundlePath := fmt.Sprintf("%s/manga_panels_%s.json", folder, now.Format("20060102_150405"))
		if _, err := p.storage.UploadOrReuse(ctx, gcp.BucketCategoryPanels, bundlePath, bundle, "application/json"); err != nil {
			p.log.Warn("Narrative bundle upload failed", "path", bundlePath, "error", err)
		} else {
			res.BundlePath = bundlePath
		}
	}

	for _, rp := range p.renderer.Render(ctx, story.Panels) {
		panelPath := fmt.Sprintf("%s/panel_%d.png", folder, rp.Index)
		if _, err := p.storage.UploadOrReuse(ctx, gcp.BucketCategoryPanels, panelPath, rp.Image, "image/png"); err != nil {
			p.log.Warn("Panel upload failed", "path", panelPath, "error", err)
			continue
		}
		rp.URL = p.storage.PublicURL(gcp.BucketCategoryPanels, panelPath)
		res.PanelImages = append(res.PanelImages, rp)
	}

	figures := make([][]byte, 0, maxEmailFigures)
	for _, f := range stored.Figures {
		if len(figures) == maxEmailFigures {
			break
		}
		figures = append(figures, f.ImageData)
	}
	sent := p.mailer.Send(ctx, domain.Digest{
		ToEmail:   in.Email,
		Topic:     in.Topic,
		Narrative: story.Text,
		Panels:    story.Panels,
		Figures:   figures,
		Rendered:  res.PanelImages,
	})
	res.EmailSent = sent.Success
	if sent.Success && sent.EmailID != "" {
		id := sent.EmailID
		res.EmailID = &id
	}
	if !sent.Success {
		p.log.Warn("Digest email not sent", "email", in.Email, "error", sent.Error)
	}
	return res, nil
}

func (p *pipeline) Subscribe(ctx context.Context, email, topic string) (*SubscribeResult, error) {
	release, err := p.admit(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	date := p.now().Format(domain.DateLayout)
	log := p.log.With("email", email, "topic", topic, "date", date)
	log.Info("Subscription pipeline started")

	scraped, err := p.scrape(ctx, ScrapeInput{Email: email, Topic: topic, Date: date})
	if err != nil {
		return nil, apierr.Internal("PDF scraping failed: %v", err)
	}
	if !scraped.Success || scraped.UploadedCount == 0 {
		return nil, apierr.Internal("PDF scraping failed: Failed to upload PDFs: %s", strings.Join(scraped.Errors, "; "))
	}

	extracted, err := p.extract(ctx, ExtractInput{Email: email, Topic: topic, Date: date, MaxFiles: 1})
	if err != nil {
		return nil, apierr.Internal("Document processing failed: %v", err)
	}

	out := &SubscribeResult{
		Success: true,
		Email:   email,
		Topic:   topic,
		Date:    date,
		Summary: PipelineSummary{
			Scraping: StepScraping{
				Status:       "completed",
				PDFsUploaded: scraped.UploadedCount,
				Files:        scraped.Files,
			},
			Processing: StepProcessing{
				Status:           "completed",
				FilesProcessed:   extracted.TotalFilesProcessed,
				FiguresExtracted: extracted.FigureCount(),
			},
			Manga: StepManga{Status: "failed"},
		},
		Message: fmt.Sprintf("Subscription processed! Check %s for your manga digest.", email),
	}

	manga, err := p.narrate(ctx, NarrateInput{Email: email, Topic: topic, Date: date, MaxFiles: 1})
	if err != nil {
		// Documents are already stored; a failed digest does not fail the run.
		log.Warn("Manga stage failed", "error", err)
		out.Summary.Manga.Error = err.Error()
		return out, nil
	}
	out.Summary.Manga.EmailSent = manga.EmailSent
	out.Summary.Manga.EmailID = manga.EmailID
	out.Summary.Manga.PanelsGenerated = len(manga.Panels)
	if manga.EmailSent {
		out.Summary.Manga.Status = "completed"
	}
	log.Info("Subscription pipeline complete", "email_sent", manga.EmailSent)
	return out, nil
}

func optionalString(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
