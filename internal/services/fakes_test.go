package services

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/moises-m-limon/mangalytics/internal/data/repos"
	"github.com/moises-m-limon/mangalytics/internal/data/repos/testutil"
	"github.com/moises-m-limon/mangalytics/internal/domain"
	"github.com/moises-m-limon/mangalytics/internal/platform/gcp"
	"github.com/moises-m-limon/mangalytics/internal/platform/logger"
	"github.com/moises-m-limon/mangalytics/internal/platform/openai"
	"github.com/moises-m-limon/mangalytics/internal/platform/sendgrid"
)

const testPublicBase = "http://cdn.test"

func strPtr(s string) *string { return &s }

func testPNG(t *testing.T, w, h int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func testGuide(t *testing.T) *Guide {
	t.Helper()
	g, err := LoadGuide(logger.NewNop(), "")
	require.NoError(t, err)
	return g
}

type testStore struct {
	gateway  StorageGateway
	buckets  *gcp.MemoryBucketService
	requests repos.RecommendationRequestRepo
}

func newTestStore(t *testing.T) *testStore {
	t.Helper()
	log := logger.NewNop()
	db := testutil.DB(t)
	buckets := gcp.NewMemoryBucketService(gcp.BucketNames{
		Documents: "documents",
		Figures:   "reducto-images",
		Panels:    "panels",
	}, testPublicBase)
	requests := repos.NewRecommendationRequestRepo(db, log)
	return &testStore{
		gateway:  NewStorageGateway(log, buckets, requests),
		buckets:  buckets,
		requests: requests,
	}
}

func (s *testStore) put(t *testing.T, bucket gcp.BucketCategory, path string, data []byte) {
	t.Helper()
	_, err := s.gateway.Upload(context.Background(), bucket, path, data, "")
	require.NoError(t, err)
}

// fakeParser returns a canned document per file name.
type fakeParser struct {
	mu    sync.Mutex
	docs  map[string]*domain.ParsedDocument
	errs  map[string]error
	calls []string
}

func (f *fakeParser) ParseDocument(ctx context.Context, fileName string, pdf []byte) (*domain.ParsedDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fileName)
	if err := f.errs[fileName]; err != nil {
		return nil, err
	}
	if doc, ok := f.docs[fileName]; ok {
		return doc, nil
	}
	return &domain.ParsedDocument{}, nil
}

type fakeFetcher struct {
	mu    sync.Mutex
	data  map[string][]byte
	calls []string
}

func (f *fakeFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	if b, ok := f.data[url]; ok {
		return b, nil
	}
	return nil, fmt.Errorf("GET %s: 404", url)
}

type fakeOpenAI struct {
	mu         sync.Mutex
	text       string
	textErr    error
	image      []byte
	imageErr   error
	lastSystem string
	lastUser   string
	lastImages []openai.ImageInput
	imageCalls int
}

func (f *fakeOpenAI) GenerateText(ctx context.Context, system, user string) (string, error) {
	return f.GenerateTextWithImages(ctx, system, user, nil)
}

func (f *fakeOpenAI) GenerateTextWithImages(ctx context.Context, system, user string, images []openai.ImageInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSystem, f.lastUser, f.lastImages = system, user, images
	if f.textErr != nil {
		return "", f.textErr
	}
	return f.text, nil
}

func (f *fakeOpenAI) GenerateImage(ctx context.Context, prompt string) (openai.ImageGeneration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.imageCalls++
	if f.imageErr != nil {
		return openai.ImageGeneration{}, f.imageErr
	}
	return openai.ImageGeneration{Bytes: f.image, MimeType: "image/png"}, nil
}

type fakeSendgrid struct {
	mu   sync.Mutex
	err  error
	sent []sendgrid.SendEmailRequest
}

func (f *fakeSendgrid) Send(ctx context.Context, req sendgrid.SendEmailRequest) (*sendgrid.SendEmailResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, req)
	if f.err != nil {
		return nil, f.err
	}
	return &sendgrid.SendEmailResult{StatusCode: 202, MessageID: fmt.Sprintf("msg-%d", len(f.sent))}, nil
}

type fakeFirecrawl struct {
	links []string
	err   error
	calls int
}

func (f *fakeFirecrawl) ScrapeLinks(ctx context.Context, pageURL string) ([]string, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.links, nil
}

type fakeLinkCache struct {
	links map[string][]string
}

func (f *fakeLinkCache) Get(ctx context.Context, pageURL string) ([]string, bool, error) {
	l, ok := f.links[pageURL]
	return l, ok, nil
}

func (f *fakeLinkCache) Set(ctx context.Context, pageURL string, links []string) error {
	if f.links == nil {
		f.links = map[string][]string{}
	}
	f.links[pageURL] = links
	return nil
}

func (f *fakeLinkCache) Close() error { return nil }

// figureDoc builds a parsed document with a title, an author line and one
// figure per caption, each served from url prefix + index.
func figureDoc(title, authors, urlPrefix string, captions ...string) *domain.ParsedDocument {
	blocks := []domain.ParsedBlock{
		{Type: domain.BlockTitle, Content: title},
		{Type: domain.BlockText, Content: authors},
	}
	for i, c := range captions {
		blocks = append(blocks, domain.ParsedBlock{
			Type:     domain.BlockFigure,
			Content:  c,
			ImageURL: fmt.Sprintf("%s%d.png", urlPrefix, i+1),
		})
	}
	return &domain.ParsedDocument{Chunks: []domain.ParsedChunk{{Blocks: blocks}}}
}
