package app

import (
	"strings"
	"time"

	"github.com/moises-m-limon/mangalytics/internal/data/db"
	"github.com/moises-m-limon/mangalytics/internal/platform/apierr"
	"github.com/moises-m-limon/mangalytics/internal/platform/envutil"
	"github.com/moises-m-limon/mangalytics/internal/platform/firecrawl"
	"github.com/moises-m-limon/mangalytics/internal/platform/gcp"
	"github.com/moises-m-limon/mangalytics/internal/platform/openai"
	"github.com/moises-m-limon/mangalytics/internal/platform/reducto"
	"github.com/moises-m-limon/mangalytics/internal/platform/sendgrid"
	"github.com/moises-m-limon/mangalytics/internal/services"
)

const (
	ExtractorReducto    = "reducto"
	ExtractorDocumentAI = "documentai"
)

type Config struct {
	Port            string
	LogMode         string
	Environment     string
	ShutdownTimeout time.Duration

	DB db.Config

	ObjectStorageMode         string
	StorageEmulatorHost       string
	StorageModeCompatFallback bool
	Buckets                   gcp.BucketNames

	Firecrawl  firecrawl.Config
	Reducto    reducto.Config
	DocumentAI gcp.DocumentConfig
	OpenAI     openai.Config
	SendGrid   sendgrid.Config

	ExtractorBackend string
	RedisAddr        string
	ScrapeCacheTTL   time.Duration

	PDFDownloadTimeout   time.Duration
	PDFDownloadAttempts  int
	ImageDownloadTimeout time.Duration

	PanelRenderMode   string
	PanelFontPath     string
	GuideAvatarPath   string
	MaxConcurrentRuns int

	RateLimitRPS   float64
	RateLimitBurst int
	CORSOrigins    []string
}

// LoadConfig reads the process environment. Call Validate before wiring.
func LoadConfig() Config {
	cfg := Config{
		Port:            envutil.String("PORT", "8000"),
		LogMode:         envutil.String("LOG_MODE", "development"),
		Environment:     envutil.String("APP_ENV", "development"),
		ShutdownTimeout: envutil.Duration("SHUTDOWN_TIMEOUT", 30*time.Second),

		DB: db.ConfigFromEnv(),

		ObjectStorageMode:   strings.ToLower(envutil.String("OBJECT_STORAGE_MODE", "")),
		StorageEmulatorHost: envutil.String("STORAGE_EMULATOR_HOST", ""),
		Buckets:             gcp.BucketNamesFromEnv(),

		Firecrawl:  firecrawl.ConfigFromEnv(),
		Reducto:    reducto.ConfigFromEnv(),
		DocumentAI: gcp.DocumentConfigFromEnv(),
		OpenAI:     openai.ConfigFromEnv(),
		SendGrid:   sendgrid.ConfigFromEnv(),

		ExtractorBackend: strings.ToLower(envutil.String("EXTRACTOR_BACKEND", ExtractorReducto)),
		RedisAddr:        envutil.String("REDIS_ADDR", ""),
		ScrapeCacheTTL:   envutil.Duration("SCRAPE_CACHE_TTL", 15*time.Minute),

		PDFDownloadTimeout:   envutil.Duration("PDF_DOWNLOAD_TIMEOUT", 60*time.Second),
		PDFDownloadAttempts:  envutil.Int("PDF_DOWNLOAD_ATTEMPTS", 3),
		ImageDownloadTimeout: envutil.Duration("IMAGE_DOWNLOAD_TIMEOUT", 30*time.Second),

		PanelRenderMode:   strings.ToLower(envutil.String("PANEL_RENDER_MODE", services.RenderModeProcedural)),
		PanelFontPath:     envutil.String("PANEL_FONT_PATH", ""),
		GuideAvatarPath:   envutil.String("GUIDE_AVATAR_PATH", ""),
		MaxConcurrentRuns: envutil.Int("MAX_CONCURRENT_RUNS", 4),

		RateLimitRPS:   envutil.Float("RATE_LIMIT_RPS", 0),
		RateLimitBurst: envutil.Int("RATE_LIMIT_BURST", 5),
		CORSOrigins:    splitList(envutil.String("CORS_ALLOWED_ORIGINS", "")),
	}

	// An emulator host without an explicit mode keeps older deployments
	// pointed at the emulator.
	if cfg.ObjectStorageMode == "" {
		if strings.TrimSpace(cfg.StorageEmulatorHost) != "" {
			cfg.ObjectStorageMode = string(gcp.ObjectStorageModeGCSEmulator)
			cfg.StorageModeCompatFallback = true
		} else {
			cfg.ObjectStorageMode = string(gcp.ObjectStorageModeGCS)
		}
	}
	return cfg
}

// Validate reports every missing or malformed setting in one error.
func (c Config) Validate() error {
	var missing, invalid []string
	need := func(name, value string) {
		if strings.TrimSpace(value) == "" {
			missing = append(missing, name)
		}
	}

	need("FIRECRAWL_API_KEY", c.Firecrawl.APIKey)
	need("OPENAI_API_KEY", c.OpenAI.APIKey)
	need("SENDGRID_API_KEY", c.SendGrid.APIKey)
	need("SENDGRID_FROM_EMAIL", c.SendGrid.DefaultFromEmail)
	need("DOCUMENTS_BUCKET", c.Buckets.Documents)
	need("FIGURES_BUCKET", c.Buckets.Figures)
	need("PANELS_BUCKET", c.Buckets.Panels)

	switch c.ExtractorBackend {
	case ExtractorReducto:
		need("REDUCTO_API_KEY", c.Reducto.APIKey)
	case ExtractorDocumentAI:
		need("DOCUMENTAI_PROJECT_ID", c.DocumentAI.ProjectID)
		need("DOCUMENTAI_PROCESSOR_ID", c.DocumentAI.ProcessorID)
	default:
		invalid = append(invalid, "EXTRACTOR_BACKEND="+c.ExtractorBackend)
	}

	switch c.PanelRenderMode {
	case services.RenderModeProcedural, services.RenderModeGenerative:
	default:
		invalid = append(invalid, "PANEL_RENDER_MODE="+c.PanelRenderMode)
	}
	if !gcp.IsSupportedObjectStorageMode(gcp.ObjectStorageMode(c.ObjectStorageMode)) {
		invalid = append(invalid, "OBJECT_STORAGE_MODE="+c.ObjectStorageMode)
	}
	if c.MaxConcurrentRuns <= 0 {
		invalid = append(invalid, "MAX_CONCURRENT_RUNS must be positive")
	}

	if len(missing) == 0 && len(invalid) == 0 {
		return nil
	}
	var parts []string
	if len(missing) > 0 {
		parts = append(parts, "missing required configuration: "+strings.Join(missing, ", "))
	}
	if len(invalid) > 0 {
		parts = append(parts, "invalid configuration: "+strings.Join(invalid, ", "))
	}
	return apierr.Validation("%s", strings.Join(parts, "; "))
}

func (c Config) storageConfig() gcp.ObjectStorageConfig {
	return gcp.ObjectStorageConfig{
		Mode:                  gcp.ObjectStorageMode(strings.TrimSpace(c.ObjectStorageMode)),
		EmulatorHost:          strings.TrimSpace(c.StorageEmulatorHost),
		CompatibilityFallback: c.StorageModeCompatFallback,
		Buckets:               c.Buckets,
	}
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
