package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/avast/retry-go/v4"

	"github.com/moises-m-limon/mangalytics/internal/observability"
	"github.com/moises-m-limon/mangalytics/internal/platform/httpx"
	"github.com/moises-m-limon/mangalytics/internal/platform/logger"
)

// Fetcher downloads the body behind a URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

type httpFetcher struct {
	log      *logger.Logger
	client   *http.Client
	name     string
	attempts uint
	delay    time.Duration
	maxBytes int64
}

// NewFetcher returns a Fetcher that makes up to attempts requests, retrying
// only transient failures. name labels the upstream metric.
func NewFetcher(baseLog *logger.Logger, name string, timeout time.Duration, attempts int) Fetcher {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if attempts < 1 {
		attempts = 1
	}
	return &httpFetcher{
		log:      baseLog.With("service", "Fetcher", "upstream", name),
		client:   &http.Client{Timeout: timeout},
		name:     name,
		attempts: uint(attempts),
		delay:    time.Second,
		maxBytes: 100 << 20,
	}
}

func (f *httpFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	var body []byte
	start := time.Now()
	err := retry.Do(
		func() error {
			b, err := f.fetchOnce(ctx, url)
			if err != nil {
				return err
			}
			body = b
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(f.attempts),
		retry.Delay(f.delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(httpx.IsRetryableError),
		retry.OnRetry(func(n uint, err error) {
			f.log.Debug("Download retry", "url", url, "attempt", n+1, "error", err)
		}),
	)
	observability.Current().ObserveUpstream(f.name, "download", observability.StatusLabel(err), time.Since(start))
	if err != nil {
		return nil, err
	}
	return body, nil
}

func (f *httpFetcher) fetchOnce(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, retry.Unrecoverable(fmt.Errorf("build request: %w", err))
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return nil, &httpx.StatusError{Service: f.name, Status: resp.StatusCode, Body: string(msg)}
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if int64(len(b)) > f.maxBytes {
		return nil, retry.Unrecoverable(fmt.Errorf("body exceeds limit of %d bytes", f.maxBytes))
	}
	return b, nil
}
