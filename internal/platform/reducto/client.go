package reducto

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/moises-m-limon/mangalytics/internal/domain"
	"github.com/moises-m-limon/mangalytics/internal/observability"
	"github.com/moises-m-limon/mangalytics/internal/platform/envutil"
	"github.com/moises-m-limon/mangalytics/internal/platform/httpx"
	"github.com/moises-m-limon/mangalytics/internal/platform/logger"
)

// ErrParseIncomplete is returned when polling ends without any usable result.
var ErrParseIncomplete = errors.New("reducto: parse did not complete")

const (
	statusProcessing = "processing"
	statusCompleted  = "completed"
	statusFailed     = "failed"
)

// Client parses PDFs into typed blocks through the Reducto platform.
type Client interface {
	ParseDocument(ctx context.Context, fileName string, pdf []byte) (*domain.ParsedDocument, error)
}

type Config struct {
	APIKey       string
	BaseURL      string
	PageStart    int
	PageEnd      int
	PollAttempts int
	PollInterval time.Duration
	Timeout      time.Duration
}

func ConfigFromEnv() Config {
	return Config{
		APIKey:       envutil.String("REDUCTO_API_KEY", ""),
		BaseURL:      envutil.String("REDUCTO_BASE_URL", "https://platform.reducto.ai"),
		PageStart:    1,
		PageEnd:      envutil.Int("REDUCTO_MAX_PAGES", 5),
		PollAttempts: envutil.Int("REDUCTO_POLL_ATTEMPTS", 30),
		PollInterval: envutil.Duration("REDUCTO_POLL_INTERVAL", 2*time.Second),
		Timeout:      envutil.Duration("REDUCTO_TIMEOUT_SECONDS", 15*time.Minute),
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
		return nil, fmt.Errorf("missing REDUCTO_API_KEY")
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://platform.reducto.ai"
	}
	if cfg.PageStart <= 0 {
		cfg.PageStart = 1
	}
	if cfg.PageEnd < cfg.PageStart {
		cfg.PageEnd = cfg.PageStart + 4
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = 30
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Minute
	}
	return &client{
		log:        log.With("client", "ReductoClient"),
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// ---- wire types ----

type uploadResponse struct {
	FileID string `json:"file_id"`
}

type parseResponse struct {
	Status string       `json:"status,omitempty"`
	JobID  string       `json:"job_id,omitempty"`
	Result *parseResult `json:"result,omitempty"`
}

type parseResult struct {
	Chunks []struct {
		Blocks []json.RawMessage `json:"blocks"`
	} `json:"chunks"`
}

type wireBlock struct {
	Type     string `json:"type"`
	Content  string `json:"content"`
	ImageURL string `json:"image_url"`
}

// ParseDocument uploads pdf, submits a parse job and waits for its result.
func (c *client) ParseDocument(ctx context.Context, fileName string, pdf []byte) (*domain.ParsedDocument, error) {
	fileID, err := c.upload(ctx, fileName, pdf)
	if err != nil {
		return nil, fmt.Errorf("reducto upload: %w", err)
	}

	resp, err := c.parse(ctx, fileID)
	if err != nil {
		return nil, fmt.Errorf("reducto parse: %w", err)
	}

	if resp.Status == statusProcessing {
		resp, err = c.poll(ctx, resp)
		if err != nil {
			return nil, err
		}
	}
	return toDocument(resp)
}

func (c *client) upload(ctx context.Context, fileName string, pdf []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", fileName)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(pdf); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	var out uploadResponse
	if err := c.do(ctx, "upload", http.MethodPost, "/upload", mw.FormDataContentType(), &body, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.FileID) == "" {
		return "", errors.New("no file_id in upload response")
	}
	return out.FileID, nil
}

func (c *client) parse(ctx context.Context, fileID string) (*parseResponse, error) {
	payload, err := json.Marshal(c.buildParseRequest(fileID))
	if err != nil {
		return nil, err
	}
	var out parseResponse
	if err := c.do(ctx, "parse", http.MethodPost, "/parse", "application/json", bytes.NewReader(payload), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *client) status(ctx context.Context, jobID string) (*parseResponse, error) {
	var out parseResponse
	if err := c.do(ctx, "status", http.MethodGet, "/status/"+jobID, "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// poll checks the job on a fixed interval. When attempts run out the last
// observed response is used if it carries a result; otherwise the document
// fails with ErrParseIncomplete.
func (c *client) poll(ctx context.Context, initial *parseResponse) (*parseResponse, error) {
	jobID := strings.TrimSpace(initial.JobID)
	if jobID == "" {
		return nil, errors.New("reducto: processing response without job_id")
	}
	last := initial

	err := retry.Do(
		func() error {
			st, err := c.status(ctx, jobID)
			if err != nil {
				return err
			}
			last = st
			switch st.Status {
			case statusCompleted:
				return nil
			case statusFailed:
				return retry.Unrecoverable(fmt.Errorf("reducto job %s failed", jobID))
			default:
				return fmt.Errorf("reducto job %s still %s", jobID, st.Status)
			}
		},
		retry.Context(ctx),
		retry.Attempts(uint(c.cfg.PollAttempts)),
		retry.Delay(c.cfg.PollInterval),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			c.log.Debug("Reducto job pending", "job_id", jobID, "attempt", n+1)
		}),
	)
	if err == nil {
		return last, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if last.Result != nil && len(last.Result.Chunks) > 0 {
		c.log.Warn("Reducto polling exhausted, using last observed result", "job_id", jobID, "error", err)
		return last, nil
	}
	return nil, fmt.Errorf("%w: job %s: %v", ErrParseIncomplete, jobID, err)
}

func toDocument(resp *parseResponse) (*domain.ParsedDocument, error) {
	doc := &domain.ParsedDocument{JobID: resp.JobID}
	if resp.Result == nil {
		return doc, nil
	}
	for _, ch := range resp.Result.Chunks {
		chunk := domain.ParsedChunk{Blocks: make([]domain.ParsedBlock, 0, len(ch.Blocks))}
		for _, raw := range ch.Blocks {
			var wb wireBlock
			if err := json.Unmarshal(raw, &wb); err != nil {
				return nil, fmt.Errorf("reducto: decode block: %w", err)
			}
			chunk.Blocks = append(chunk.Blocks, domain.ParsedBlock{
				Type:     wb.Type,
				Content:  wb.Content,
				ImageURL: wb.ImageURL,
				Raw:      append(json.RawMessage(nil), raw...),
			})
		}
		doc.Chunks = append(doc.Chunks, chunk)
	}
	return doc, nil
}

func (c *client) do(ctx context.Context, op, method, path, contentType string, body io.Reader, out any) error {
	start := time.Now()
	err := c.doOnce(ctx, method, path, contentType, body, out)
	observability.Current().ObserveUpstream("reducto", op, observability.StatusLabel(err), time.Since(start))
	return err
}

func (c *client) doOnce(ctx context.Context, method, path, contentType string, body io.Reader, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &httpx.StatusError{Service: "reducto", Status: resp.StatusCode, Body: string(raw)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("reducto decode error: %w", err)
	}
	return nil
}
