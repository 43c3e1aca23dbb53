package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/moises-m-limon/mangalytics/internal/domain"
	"github.com/moises-m-limon/mangalytics/internal/http/response"
	"github.com/moises-m-limon/mangalytics/internal/platform/apierr"
	"github.com/moises-m-limon/mangalytics/internal/platform/logger"
	"github.com/moises-m-limon/mangalytics/internal/services"
)

type PipelineHandler struct {
	log      *logger.Logger
	pipeline services.Pipeline
}

func NewPipelineHandler(log *logger.Logger, pipeline services.Pipeline) *PipelineHandler {
	return &PipelineHandler{
		log:      log.With("handler", "PipelineHandler"),
		pipeline: pipeline,
	}
}

type scrapeRequest struct {
	Email string `json:"email" form:"email" binding:"required"`
	Topic string `json:"topic" form:"topic" binding:"required"`
	domain.SearchParams
}

type previewRequest struct {
	Topic string `form:"topic"`
	domain.SearchParams
}

type subscribeRequest struct {
	Email string `json:"email" binding:"required"`
	Topic string `json:"topic" binding:"required"`
}

func (h *PipelineHandler) fail(c *gin.Context, op string, err error) {
	status, _ := apierr.StatusOf(err)
	if status >= 500 {
		h.log.Error("Request failed", "op", op, "error", err)
	}
	_ = c.Error(err)
	response.RespondAPIError(c, err)
}

func invalidRequest(err error) error {
	return apierr.Validation("invalid request: %v", err)
}

// POST /scraper/scrape-and-upload
// body: { "email", "topic", "terms"?, "field"?, "operator"?, "abstracts"?, "size"?, "order"? }
func (h *PipelineHandler) ScrapeAndUpload(c *gin.Context) {
	var req scrapeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, "scrape", invalidRequest(err))
		return
	}
	res, err := h.pipeline.Scrape(c.Request.Context(), services.ScrapeInput{
		Email:  strings.TrimSpace(req.Email),
		Topic:  strings.TrimSpace(req.Topic),
		Params: req.SearchParams,
	})
	if err != nil {
		h.fail(c, "scrape", err)
		return
	}
	response.RespondOK(c, res)
}

// GET /scraper/search-preview?topic=...&terms=...&size=...
func (h *PipelineHandler) SearchPreview(c *gin.Context) {
	var req previewRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.fail(c, "preview", invalidRequest(err))
		return
	}
	topic := strings.TrimSpace(req.Topic)
	if topic == "" && strings.TrimSpace(req.Terms) == "" {
		h.fail(c, "preview", apierr.Validation("topic or terms is required"))
		return
	}
	res, err := h.pipeline.Preview(c.Request.Context(), req.SearchParams.WithDefaults(topic))
	if err != nil {
		h.fail(c, "preview", err)
		return
	}
	response.RespondOK(c, res)
}

// POST /recommendations
// body: { "email", "topic", "date", "max_files"? }
func (h *PipelineHandler) Recommendations(c *gin.Context) {
	var req services.ExtractInput
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, "recommendations", invalidRequest(err))
		return
	}
	res, err := h.pipeline.Extract(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "recommendations", err)
		return
	}
	response.RespondOK(c, res)
}

// POST /manga
// body: { "email", "topic", "date", "max_files"?, "paper_title"? }
func (h *PipelineHandler) Manga(c *gin.Context) {
	var req services.NarrateInput
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, "manga", invalidRequest(err))
		return
	}
	res, err := h.pipeline.Narrate(c.Request.Context(), req)
	if err != nil {
		h.fail(c, "manga", err)
		return
	}
	response.RespondOK(c, res)
}

// POST /subscribe
// body: { "email", "topic" }
func (h *PipelineHandler) Subscribe(c *gin.Context) {
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, "subscribe", invalidRequest(err))
		return
	}
	res, err := h.pipeline.Subscribe(c.Request.Context(), strings.TrimSpace(req.Email), strings.TrimSpace(req.Topic))
	if err != nil {
		h.fail(c, "subscribe", err)
		return
	}
	response.RespondOK(c, res)
}
