package http

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/time/rate"

	httpH "github.com/moises-m-limon/mangalytics/internal/http/handlers"
	httpMW "github.com/moises-m-limon/mangalytics/internal/http/middleware"
	"github.com/moises-m-limon/mangalytics/internal/observability"
	"github.com/moises-m-limon/mangalytics/internal/platform/logger"
)

const metricsPath = "/metrics"

type RouterConfig struct {
	Log         *logger.Logger
	ServiceName string
	Metrics     *observability.Metrics
	Limiter     *rate.Limiter
	CORSOrigins []string

	HealthHandler   *httpH.HealthHandler
	PipelineHandler *httpH.PipelineHandler
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.ServiceName != "" {
		r.Use(otelgin.Middleware(cfg.ServiceName))
	}
	r.Use(httpMW.AttachTraceContext())
	r.Use(httpMW.RequestLogger(cfg.Log))
	r.Use(httpMW.Metrics(cfg.Metrics, metricsPath))
	r.Use(httpMW.CORS(cfg.CORSOrigins))

	// Health
	if cfg.HealthHandler != nil {
		r.GET("/", cfg.HealthHandler.Root)
		r.GET("/healthz", cfg.HealthHandler.HealthCheck)
	}
	if cfg.Metrics != nil {
		r.GET(metricsPath, gin.WrapH(cfg.Metrics.Handler()))
	}

	api := r.Group("/")
	api.Use(httpMW.RateLimit(cfg.Limiter))
	{
		if cfg.PipelineHandler != nil {
			api.POST("/scraper/scrape-and-upload", cfg.PipelineHandler.ScrapeAndUpload)
			api.GET("/scraper/search-preview", cfg.PipelineHandler.SearchPreview)
			api.POST("/recommendations", cfg.PipelineHandler.Recommendations)
			api.POST("/manga", cfg.PipelineHandler.Manga)
			api.POST("/subscribe", cfg.PipelineHandler.Subscribe)
		}
	}

	return r
}
