package services

import (
	"context"
	"encoding/json"
	"errors"
	"image/color"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/moises-m-limon/mangalytics/internal/domain"
	"github.com/moises-m-limon/mangalytics/internal/platform/apierr"
	"github.com/moises-m-limon/mangalytics/internal/platform/dbctx"
	"github.com/moises-m-limon/mangalytics/internal/platform/gcp"
	"github.com/moises-m-limon/mangalytics/internal/platform/logger"
)

const fourPanels = `Here is your story!

[PANEL 1]
Title: The Problem
Description: The corgi looks at a tangled graph.
Dialogue: Graphs are everywhere!

[PANEL 2]
Title: The Method
Description: The corgi points at figure 1.
Dialogue: They pass messages between nodes.

[PANEL 3]
Title: The Results
Description: The corgi jumps for joy.

[PANEL 4]
Title: The Impact
Dialogue: This changes everything!
`

var fixedNow = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

type pipelineHarness struct {
	store    *testStore
	firecr   *fakeFirecrawl
	pdfs     *fakeFetcher
	images   *fakeFetcher
	parser   *fakeParser
	ai       *fakeOpenAI
	sendgrid *fakeSendgrid
	p        *pipeline
}

func newPipelineHarness(t *testing.T) *pipelineHarness {
	t.Helper()
	log := logger.NewNop()
	h := &pipelineHarness{
		store:    newTestStore(t),
		firecr:   &fakeFirecrawl{},
		pdfs:     &fakeFetcher{data: map[string][]byte{}},
		images:   &fakeFetcher{data: map[string][]byte{}},
		parser:   &fakeParser{docs: map[string]*domain.ParsedDocument{}, errs: map[string]error{}},
		ai:       &fakeOpenAI{text: fourPanels},
		sendgrid: &fakeSendgrid{},
	}
	guide := testGuide(t)
	p := NewPipeline(log, PipelineConfig{MaxConcurrentRuns: 2},
		h.store.gateway,
		NewScraper(log, h.firecr, nil, h.pdfs, h.store.gateway),
		NewExtractor(log, "reducto", h.parser, h.images),
		NewNarrativeGenerator(log, h.ai, guide),
		NewPanelRenderer(log, PanelRendererConfig{}, guide, nil),
		NewDigestMailer(log, DigestMailerConfig{FromEmail: "bot@x.io"}, h.sendgrid, guide),
	).(*pipeline)
	p.now = func() time.Time { return fixedNow }
	h.p = p
	return h
}

// seedPaper stores a PDF under folder and registers its parsed form.
func (h *pipelineHarness) seedPaper(t *testing.T, path, title, imgPrefix string, captions ...string) {
	t.Helper()
	h.store.put(t, gcp.BucketCategoryDocuments, path, []byte("%PDF "+path))
	h.parser.docs[path] = figureDoc(title, "Some Authors", imgPrefix, captions...)
	for i := range captions {
		h.images.data[imgPrefix+string(rune('1'+i))+".png"] = testPNG(t, 2, 2, color.Black)
	}
}

func TestExtractContinuesPastFailedDocument(t *testing.T) {
	h := newPipelineHarness(t)
	folder := DateFolder("u@x.io", "ml", "01_02_2026")
	h.seedPaper(t, folder+"/a.pdf", "Paper A", "https://img.test/a", "A one", "A two")
	h.seedPaper(t, folder+"/b.pdf", "Paper B", "https://img.test/b", "B one")
	h.seedPaper(t, folder+"/c.pdf", "Paper C", "https://img.test/c", "C one")
	h.parser.errs[folder+"/b.pdf"] = errors.New("parser exploded")

	res, err := h.p.Extract(context.Background(), ExtractInput{Email: "u@x.io", Topic: "ml", Date: "01_02_2026", MaxFiles: 3})
	require.NoError(t, err)
	require.Equal(t, 2, res.TotalFilesProcessed)
	require.Equal(t, folder+"/a.pdf", res.Files[0].FileName)
	require.Equal(t, folder+"/c.pdf", res.Files[1].FileName)
	require.Len(t, res.Errors, 1)
	require.Contains(t, res.Errors[0], "parser exploded")
	require.Equal(t, 3, res.FigureCount())

	// figure numbers run across the whole batch
	require.Equal(t, []string{
		folder + "/figure_1.png",
		folder + "/figure_2.png",
		folder + "/figure_3.png",
	}, h.store.buckets.Keys(gcp.BucketCategoryFigures))
	require.Equal(t, testPublicBase+"/reducto-images/"+folder+"/figure_3.png", res.Files[1].Pairings[0].ImageURL)
	require.Equal(t, "C one", res.Files[1].Pairings[0].FigureContent)
}

func TestExtractDefaultsToOneFile(t *testing.T) {
	h := newPipelineHarness(t)
	folder := DateFolder("u", "ml", "01_02_2026")
	h.seedPaper(t, folder+"/a.pdf", "Paper A", "https://img.test/a", "A one")
	h.seedPaper(t, folder+"/b.pdf", "Paper B", "https://img.test/b", "B one")

	res, err := h.p.Extract(context.Background(), ExtractInput{Email: "u", Topic: "ml", Date: "01_02_2026"})
	require.NoError(t, err)
	require.Equal(t, 1, res.TotalFilesProcessed)
	require.Equal(t, []string{folder + "/a.pdf"}, h.parser.calls)
}

func TestExtractReprocessingKeepsOneRecord(t *testing.T) {
	h := newPipelineHarness(t)
	folder := DateFolder("u", "ml", "01_02_2026")
	h.seedPaper(t, folder+"/a.pdf", "Paper A", "https://img.test/a", "A one", "A two")
	in := ExtractInput{Email: "u", Topic: "ml", Date: "01_02_2026"}

	_, err := h.p.Extract(context.Background(), in)
	require.NoError(t, err)
	_, err = h.p.Extract(context.Background(), in)
	require.NoError(t, err)

	reqs, err := h.store.requests.ListByPathPrefix(dbctx.New(context.Background()), "u", "ml", folder+"/", 0)
	require.NoError(t, err)
	require.Len(t, reqs, 1)
	require.Len(t, reqs[0].Pairings, 2)
	require.Equal(t, "Paper A", *reqs[0].Title)
	require.Equal(t, "Some Authors", *reqs[0].Authors)
}

func TestExtractErrors(t *testing.T) {
	h := newPipelineHarness(t)
	_, err := h.p.Extract(context.Background(), ExtractInput{Email: "u", Topic: "ml", Date: "01_02_2026"})
	require.True(t, apierr.IsNotFound(err))
	require.Contains(t, err.Error(), "No PDF files found in path: u/ml/01_02_2026")

	// a document without figures is skipped, leaving nothing processed
	folder := DateFolder("u", "ml", "01_02_2026")
	h.seedPaper(t, folder+"/a.pdf", "Paper A", "https://img.test/a")
	_, err = h.p.Extract(context.Background(), ExtractInput{Email: "u", Topic: "ml", Date: "01_02_2026"})
	require.Error(t, err)
	status, _ := apierr.StatusOf(err)
	require.Equal(t, 500, status)
}

func TestNarrateUploadsAndSends(t *testing.T) {
	h := newPipelineHarness(t)
	folder := DateFolder("u@x.io", "ml", "01_02_2026")
	h.seedPaper(t, folder+"/a.pdf", "Stored Title", "https://img.test/a", "A one", "A two")
	_, err := h.p.Extract(context.Background(), ExtractInput{Email: "u@x.io", Topic: "ml", Date: "01_02_2026"})
	require.NoError(t, err)

	// an existing panel object is reused and still linked
	h.store.put(t, gcp.BucketCategoryPanels, folder+"/panel_1.png", []byte("old panel"))

	res, err := h.p.Narrate(context.Background(), NarrateInput{Email: "u@x.io", Topic: "ml", Date: "01_02_2026"})
	require.NoError(t, err)
	require.Len(t, res.Panels, 4)
	require.Equal(t, 2, res.FiguresUsed)
	require.True(t, res.EmailSent)
	require.NotNil(t, res.EmailID)
	require.Equal(t, "msg-1", *res.EmailID)

	require.Contains(t, h.ai.lastUser, "Paper: Stored Title\n")

	require.Len(t, res.PanelImages, 4)
	for i, rp := range res.PanelImages {
		require.Equal(t, i+1, rp.Index)
		require.NotEmpty(t, rp.URL)
	}
	require.Equal(t, testPublicBase+"/panels/"+folder+"/panel_1.png", res.PanelImages[0].URL)

	bundlePath := folder + "/manga_panels_20260102_030405.json"
	require.Equal(t, bundlePath, res.BundlePath)
	raw, err := h.store.gateway.Download(context.Background(), gcp.BucketCategoryPanels, bundlePath)
	require.NoError(t, err)
	var bundle domain.NarrativeBundle
	require.NoError(t, json.Unmarshal(raw, &bundle))
	require.Equal(t, "Stored Title", bundle.PaperTitle)
	require.Len(t, bundle.Panels, 4)

	require.Len(t, h.sendgrid.sent, 1)
	// avatar plus both figures
	require.Len(t, h.sendgrid.sent[0].Attachments, 3)
}

func TestNarrateTitlePrecedence(t *testing.T) {
	h := newPipelineHarness(t)
	folder := DateFolder("u", "ml", "01_02_2026")
	h.seedPaper(t, folder+"/a.pdf", "", "https://img.test/a", "A one")
	_, err := h.p.Extract(context.Background(), ExtractInput{Email: "u", Topic: "ml", Date: "01_02_2026"})
	require.NoError(t, err)

	_, err = h.p.Narrate(context.Background(), NarrateInput{Email: "u", Topic: "ml", Date: "01_02_2026"})
	require.NoError(t, err)
	require.Contains(t, h.ai.lastUser, "Paper: ml Research\n")

	_, err = h.p.Narrate(context.Background(), NarrateInput{Email: "u", Topic: "ml", Date: "01_02_2026", PaperTitle: strPtr("Given")})
	require.NoError(t, err)
	require.Contains(t, h.ai.lastUser, "Paper: Given\n")
}

func TestNarrateEmailFailureIsReported(t *testing.T) {
	h := newPipelineHarness(t)
	folder := DateFolder("u", "ml", "01_02_2026")
	h.seedPaper(t, folder+"/a.pdf", "T", "https://img.test/a", "A one")
	_, err := h.p.Extract(context.Background(), ExtractInput{Email: "u", Topic: "ml", Date: "01_02_2026"})
	require.NoError(t, err)

	h.sendgrid.err = errors.New("rejected")
	res, err := h.p.Narrate(context.Background(), NarrateInput{Email: "u", Topic: "ml", Date: "01_02_2026"})
	require.NoError(t, err)
	require.False(t, res.EmailSent)
	require.Nil(t, res.EmailID)
}

func TestNarrateWithoutFigures(t *testing.T) {
	h := newPipelineHarness(t)
	_, err := h.p.Narrate(context.Background(), NarrateInput{Email: "u", Topic: "ml", Date: "01_02_2026"})
	require.True(t, apierr.IsNotFound(err))
}

func TestNarrateWithoutPanelsFails(t *testing.T) {
	h := newPipelineHarness(t)
	folder := DateFolder("u", "ml", "01_02_2026")
	h.seedPaper(t, folder+"/a.pdf", "T", "https://img.test/a", "A one")
	_, err := h.p.Extract(context.Background(), ExtractInput{Email: "u", Topic: "ml", Date: "01_02_2026"})
	require.NoError(t, err)

	h.ai.text = "I cannot help with that request."
	_, err = h.p.Narrate(context.Background(), NarrateInput{Email: "u", Topic: "ml", Date: "01_02_2026"})
	require.Error(t, err)
	status, code := apierr.StatusOf(err)
	require.Equal(t, 502, status)
	require.Equal(t, apierr.CodeUpstream, code)
	require.Empty(t, h.sendgrid.sent)

	keys, err := h.store.gateway.ListFiles(context.Background(), gcp.BucketCategoryPanels, folder+"/", "")
	require.NoError(t, err)
	require.Empty(t, keys)
}

func TestSubscribeRunsAllStages(t *testing.T) {
	h := newPipelineHarness(t)
	h.firecr.links = []string{"https://arxiv.org/abs/2401.1", "https://arxiv.org/pdf/2401.1"}
	h.pdfs.data["https://arxiv.org/pdf/2401.1"] = []byte("%PDF")
	path := "u@x.io/ml/01_02_2026/2401.1.pdf"
	h.parser.docs[path] = figureDoc("Paper", "Authors", "https://img.test/s", "S one", "S two")
	h.images.data["https://img.test/s1.png"] = testPNG(t, 2, 2, color.Black)
	h.images.data["https://img.test/s2.png"] = testPNG(t, 2, 2, color.Black)

	res, err := h.p.Subscribe(context.Background(), "u@x.io", "ml")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, "01_02_2026", res.Date)
	require.Equal(t, "Subscription processed! Check u@x.io for your manga digest.", res.Message)

	s := res.Summary
	require.Equal(t, "completed", s.Scraping.Status)
	require.Equal(t, 1, s.Scraping.PDFsUploaded)
	require.Equal(t, []string{path}, s.Scraping.Files)
	require.Equal(t, "completed", s.Processing.Status)
	require.Equal(t, 1, s.Processing.FilesProcessed)
	require.Equal(t, 2, s.Processing.FiguresExtracted)
	require.Equal(t, "completed", s.Manga.Status)
	require.True(t, s.Manga.EmailSent)
	require.Equal(t, 4, s.Manga.PanelsGenerated)
}

func TestSubscribeScrapeFailure(t *testing.T) {
	h := newPipelineHarness(t)
	h.firecr.err = errors.New("down")

	_, err := h.p.Subscribe(context.Background(), "u", "ml")
	require.Error(t, err)
	status, _ := apierr.StatusOf(err)
	require.Equal(t, 500, status)
	require.Contains(t, err.Error(), "PDF scraping failed")
}

func TestSubscribeMangaFailureStillSucceeds(t *testing.T) {
	h := newPipelineHarness(t)
	h.firecr.links = []string{"https://arxiv.org/pdf/9"}
	h.pdfs.data["https://arxiv.org/pdf/9"] = []byte("%PDF")
	h.parser.docs["u/ml/01_02_2026/9.pdf"] = figureDoc("Paper", "", "https://img.test/n", "N one")
	h.images.data["https://img.test/n1.png"] = []byte("png")
	h.ai.textErr = errors.New("model overloaded")

	res, err := h.p.Subscribe(context.Background(), "u", "ml")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, "failed", res.Summary.Manga.Status)
	require.Contains(t, res.Summary.Manga.Error, "model overloaded")
	require.False(t, res.Summary.Manga.EmailSent)
	require.Nil(t, res.Summary.Manga.EmailID)
}

func TestSubscribeNarrativeWithoutPanels(t *testing.T) {
	h := newPipelineHarness(t)
	h.firecr.links = []string{"https://arxiv.org/pdf/9"}
	h.pdfs.data["https://arxiv.org/pdf/9"] = []byte("%PDF")
	h.parser.docs["u/ml/01_02_2026/9.pdf"] = figureDoc("Paper", "", "https://img.test/n", "N one")
	h.images.data["https://img.test/n1.png"] = testPNG(t, 2, 2, color.Black)
	h.ai.text = "No story today."

	res, err := h.p.Subscribe(context.Background(), "u", "ml")
	require.NoError(t, err)
	require.True(t, res.Success)
	require.Equal(t, "completed", res.Summary.Processing.Status)
	require.Equal(t, "failed", res.Summary.Manga.Status)
	require.Contains(t, res.Summary.Manga.Error, "no panels")
	require.Zero(t, res.Summary.Manga.PanelsGenerated)
	require.Empty(t, h.sendgrid.sent)
}

func TestAdmitWaitsForFreeSlot(t *testing.T) {
	h := newPipelineHarness(t)
	ctx := context.Background()

	rel1, err := h.p.admit(ctx)
	require.NoError(t, err)
	rel2, err := h.p.admit(ctx)
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = h.p.admit(waitCtx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	rel1()
	rel3, err := h.p.admit(ctx)
	require.NoError(t, err)
	rel2()
	rel3()
}
