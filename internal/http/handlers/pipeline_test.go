package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/moises-m-limon/mangalytics/internal/domain"
	"github.com/moises-m-limon/mangalytics/internal/platform/apierr"
	"github.com/moises-m-limon/mangalytics/internal/platform/logger"
	"github.com/moises-m-limon/mangalytics/internal/services"
)

type fakePipeline struct {
	preview   domain.SearchParams
	scrape    services.ScrapeInput
	extract   services.ExtractInput
	narrate   services.NarrateInput
	subscribe [2]string
	err       error
}

func (f *fakePipeline) Preview(_ context.Context, p domain.SearchParams) (*services.SearchPreview, error) {
	f.preview = p
	if f.err != nil {
		return nil, f.err
	}
	return &services.SearchPreview{SearchURL: services.BuildSearchURL(p), First5PDFs: []string{}}, nil
}

func (f *fakePipeline) Scrape(_ context.Context, in services.ScrapeInput) (*services.ScrapeResult, error) {
	f.scrape = in
	if f.err != nil {
		return nil, f.err
	}
	return &services.ScrapeResult{Success: true, UploadedCount: 1, Files: []string{"a/b/c/1.pdf"}}, nil
}

func (f *fakePipeline) Extract(_ context.Context, in services.ExtractInput) (*services.ExtractResult, error) {
	f.extract = in
	if f.err != nil {
		return nil, f.err
	}
	return &services.ExtractResult{Email: in.Email, Topic: in.Topic, Date: in.Date, TotalFilesProcessed: 1}, nil
}

func (f *fakePipeline) Narrate(_ context.Context, in services.NarrateInput) (*services.NarrateResult, error) {
	f.narrate = in
	if f.err != nil {
		return nil, f.err
	}
	return &services.NarrateResult{Email: in.Email, Topic: in.Topic, Narrative: "[PANEL 1]"}, nil
}

func (f *fakePipeline) Subscribe(_ context.Context, email, topic string) (*services.SubscribeResult, error) {
	f.subscribe = [2]string{email, topic}
	if f.err != nil {
		return nil, f.err
	}
	return &services.SubscribeResult{Success: true, Email: email, Topic: topic}, nil
}

func newTestEngine(p services.Pipeline) *gin.Engine {
	gin.SetMode(gin.TestMode)
	h := NewPipelineHandler(logger.NewNop(), p)
	health := NewHealthHandler()
	r := gin.New()
	r.GET("/", health.Root)
	r.GET("/healthz", health.HealthCheck)
	r.POST("/scraper/scrape-and-upload", h.ScrapeAndUpload)
	r.GET("/scraper/search-preview", h.SearchPreview)
	r.POST("/recommendations", h.Recommendations)
	r.POST("/manga", h.Manga)
	r.POST("/subscribe", h.Subscribe)
	return r
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) (string, string) {
	t.Helper()
	var env struct {
		Error struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	return env.Error.Message, env.Error.Code
}

func TestRootReportsStatus(t *testing.T) {
	rec := do(newTestEngine(&fakePipeline{}), http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"message":"Mangalytics API is running","status":"healthy","version":"2.0.0"}`, rec.Body.String())

	rec = do(newTestEngine(&fakePipeline{}), http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestScrapeAndUploadBindsSearchParams(t *testing.T) {
	fp := &fakePipeline{}
	rec := do(newTestEngine(fp), http.MethodPost, "/scraper/scrape-and-upload",
		`{"email":" u@x.io ","topic":"graph nets","size":25,"order":"-announced_date_first"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "u@x.io", fp.scrape.Email)
	require.Equal(t, "graph nets", fp.scrape.Topic)
	require.Equal(t, 25, fp.scrape.Params.Size)
	require.Equal(t, "-announced_date_first", fp.scrape.Params.Order)

	var res services.ScrapeResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Equal(t, 1, res.UploadedCount)
}

func TestScrapeAndUploadMissingEmail(t *testing.T) {
	rec := do(newTestEngine(&fakePipeline{}), http.MethodPost, "/scraper/scrape-and-upload", `{"topic":"ml"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	_, code := decodeError(t, rec)
	require.Equal(t, apierr.CodeValidation, code)
}

func TestSearchPreviewAppliesDefaults(t *testing.T) {
	fp := &fakePipeline{}
	rec := do(newTestEngine(fp), http.MethodGet, "/scraper/search-preview?topic=quantum&size=10", "")

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "quantum", fp.preview.Terms)
	require.Equal(t, 10, fp.preview.Size)
	require.Equal(t, "title", fp.preview.Field)

	rec = do(newTestEngine(fp), http.MethodGet, "/scraper/search-preview", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRecommendationsMapsNotFound(t *testing.T) {
	fp := &fakePipeline{err: apierr.NotFound("No PDF files found in u/ml/01_02_2026/")}
	rec := do(newTestEngine(fp), http.MethodPost, "/recommendations",
		`{"email":"u","topic":"ml","date":"01_02_2026","max_files":2}`)

	require.Equal(t, http.StatusNotFound, rec.Code)
	msg, code := decodeError(t, rec)
	require.Equal(t, apierr.CodeNotFound, code)
	require.Contains(t, msg, "No PDF files found")
	require.Equal(t, 2, fp.extract.MaxFiles)
}

func TestMangaPassesPaperTitle(t *testing.T) {
	fp := &fakePipeline{}
	rec := do(newTestEngine(fp), http.MethodPost, "/manga",
		`{"email":"u","topic":"ml","date":"01_02_2026","paper_title":"Given"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, fp.narrate.PaperTitle)
	require.Equal(t, "Given", *fp.narrate.PaperTitle)
}

func TestMangaRequiresDate(t *testing.T) {
	rec := do(newTestEngine(&fakePipeline{}), http.MethodPost, "/manga", `{"email":"u","topic":"ml"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubscribeUpstreamFailure(t *testing.T) {
	fp := &fakePipeline{err: apierr.Upstream("firecrawl", errors.New("rate limited"))}
	rec := do(newTestEngine(fp), http.MethodPost, "/subscribe", `{"email":"u@x.io","topic":"ml"}`)

	require.Equal(t, http.StatusBadGateway, rec.Code)
	_, code := decodeError(t, rec)
	require.Equal(t, apierr.CodeUpstream, code)
	require.Equal(t, [2]string{"u@x.io", "ml"}, fp.subscribe)
}

func TestSubscribeUnclassifiedErrorIs500(t *testing.T) {
	fp := &fakePipeline{err: errors.New("boom")}
	rec := do(newTestEngine(fp), http.MethodPost, "/subscribe", `{"email":"u@x.io","topic":"ml"}`)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	msg, code := decodeError(t, rec)
	require.Equal(t, apierr.CodeInternal, code)
	require.Equal(t, "boom", msg)
}
