package gcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"math"
	"strings"
	"time"

	documentai "cloud.google.com/go/documentai/apiv1"
	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"golang.org/x/image/draw"
	"google.golang.org/api/option"

	"github.com/moises-m-limon/mangalytics/internal/domain"
	"github.com/moises-m-limon/mangalytics/internal/observability"
	"github.com/moises-m-limon/mangalytics/internal/platform/envutil"
	"github.com/moises-m-limon/mangalytics/internal/platform/logger"
)

// Document parses PDFs with a Document AI processor and returns the same
// block structure the Reducto client produces.
type Document interface {
	ParseDocument(ctx context.Context, fileName string, pdf []byte) (*domain.ParsedDocument, error)
	Close() error
}

type DocumentConfig struct {
	ProjectID        string
	Location         string
	ProcessorID      string
	ProcessorVersion string
	Timeout          time.Duration
}

func DocumentConfigFromEnv() DocumentConfig {
	return DocumentConfig{
		ProjectID:        envutil.String("DOCUMENTAI_PROJECT_ID", ""),
		Location:         envutil.String("DOCUMENTAI_LOCATION", "us"),
		ProcessorID:      envutil.String("DOCUMENTAI_PROCESSOR_ID", ""),
		ProcessorVersion: envutil.String("DOCUMENTAI_PROCESSOR_VERSION", ""),
		Timeout:          envutil.Duration("DOCUMENTAI_TIMEOUT", 3*time.Minute),
	}
}

type documentService struct {
	log       *logger.Logger
	docClient *documentai.DocumentProcessorClient
	processor string
	timeout   time.Duration
}

func NewDocument(log *logger.Logger, cfg DocumentConfig) (Document, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	name := processorName(cfg.ProjectID, cfg.Location, cfg.ProcessorID, cfg.ProcessorVersion)
	if name == "" {
		return nil, fmt.Errorf("missing DOCUMENTAI_PROJECT_ID or DOCUMENTAI_PROCESSOR_ID")
	}
	slog := log.With("service", "gcp.Document")

	// Document AI needs a regional endpoint.
	endpoint := fmt.Sprintf("%s-documentai.googleapis.com:443", cfg.Location)
	docOpts := append([]option.ClientOption{option.WithEndpoint(endpoint)}, ClientOptionsFromEnv()...)
	c, err := documentai.NewDocumentProcessorClient(context.Background(), docOpts...)
	if err != nil {
		return nil, fmt.Errorf("documentai client: %w", err)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	slog.Info("Document AI initialized", "endpoint", endpoint, "processor", name)
	return &documentService{log: slog, docClient: c, processor: name, timeout: timeout}, nil
}

func (s *documentService) Close() error {
	if s == nil || s.docClient == nil {
		return nil
	}
	return s.docClient.Close()
}

func (s *documentService) ParseDocument(ctx context.Context, fileName string, pdf []byte) (*domain.ParsedDocument, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	resp, err := s.docClient.ProcessDocument(ctx, &documentaipb.ProcessRequest{
		Name: s.processor,
		Source: &documentaipb.ProcessRequest_RawDocument{
			RawDocument: &documentaipb.RawDocument{
				Content:     pdf,
				MimeType:    "application/pdf",
				DisplayName: fileName,
			},
		},
	})
	observability.Current().ObserveUpstream("documentai", "process", observability.StatusLabel(err), time.Since(start))
	if err != nil {
		return nil, fmt.Errorf("documentai ProcessDocument: %w", err)
	}
	if resp == nil || resp.Document == nil {
		return &domain.ParsedDocument{}, nil
	}
	doc, warnings := documentFromProto(resp.Document)
	for _, w := range warnings {
		s.log.Warn("Document AI figure skipped", "file", fileName, "reason", w)
	}
	return doc, nil
}

type blockSource struct {
	Provider string    `json:"provider"`
	Page     int       `json:"page"`
	Type     string    `json:"type"`
	BBox     []float64 `json:"bbox,omitempty"`
}

// documentFromProto maps one chunk per page. The first paragraph of the first
// page becomes the title, visual elements become figure blocks cropped out of
// the rendered page image.
func documentFromProto(doc *documentaipb.Document) (*domain.ParsedDocument, []string) {
	out := &domain.ParsedDocument{}
	var warnings []string
	titled := false

	for _, p := range doc.GetPages() {
		pageNum := int(p.GetPageNumber())
		chunk := domain.ParsedChunk{}

		type para struct {
			text string
			top  float64
		}
		paras := []para{}
		for _, pg := range p.GetParagraphs() {
			t := collapseWhitespace(textFromAnchor(doc.GetText(), pg.GetLayout().GetTextAnchor()))
			if t == "" {
				continue
			}
			top, _, _, _ := normalizedBounds(pg.GetLayout().GetBoundingPoly())
			paras = append(paras, para{text: t, top: top})
		}

		for _, pg := range paras {
			typ := domain.BlockText
			if !titled {
				typ = domain.BlockTitle
				titled = true
			}
			raw, _ := json.Marshal(blockSource{Provider: "gcp_documentai", Page: pageNum, Type: typ})
			chunk.Blocks = append(chunk.Blocks, domain.ParsedBlock{Type: typ, Content: pg.text, Raw: raw})
		}

		var pageImg image.Image
		for _, ve := range p.GetVisualElements() {
			if !isFigureElement(ve.GetType()) {
				continue
			}
			if pageImg == nil {
				img, err := decodePageImage(p.GetImage())
				if err != nil {
					warnings = append(warnings, fmt.Sprintf("page %d: %v", pageNum, err))
					break
				}
				pageImg = img
			}
			top, left, bottom, right := normalizedBounds(ve.GetLayout().GetBoundingPoly())
			data, err := cropPNG(pageImg, top, left, bottom, right)
			if err != nil {
				warnings = append(warnings, fmt.Sprintf("page %d: %v", pageNum, err))
				continue
			}
			caption := ""
			for _, pg := range paras {
				if pg.top >= bottom && isCaption(pg.text) {
					caption = pg.text
					break
				}
			}
			raw, _ := json.Marshal(blockSource{
				Provider: "gcp_documentai",
				Page:     pageNum,
				Type:     domain.BlockFigure,
				BBox:     []float64{left, top, right, bottom},
			})
			chunk.Blocks = append(chunk.Blocks, domain.ParsedBlock{
				Type:      domain.BlockFigure,
				Content:   caption,
				ImageData: data,
				Raw:       raw,
			})
		}

		if len(chunk.Blocks) > 0 {
			out.Chunks = append(out.Chunks, chunk)
		}
	}
	return out, warnings
}

func isFigureElement(t string) bool {
	t = strings.ToLower(t)
	return strings.Contains(t, "figure") || strings.Contains(t, "image") || strings.Contains(t, "picture")
}

func isCaption(s string) bool {
	l := strings.ToLower(s)
	return strings.HasPrefix(l, "figure") || strings.HasPrefix(l, "fig.")
}

func decodePageImage(pi *documentaipb.Document_Page_Image) (image.Image, error) {
	if pi == nil || len(pi.GetContent()) == 0 {
		return nil, fmt.Errorf("page image missing")
	}
	img, _, err := image.Decode(bytes.NewReader(pi.GetContent()))
	if err != nil {
		return nil, fmt.Errorf("decode page image: %w", err)
	}
	return img, nil
}

// normalizedBounds returns top, left, bottom, right in [0,1].
func normalizedBounds(poly *documentaipb.BoundingPoly) (top, left, bottom, right float64) {
	vs := poly.GetNormalizedVertices()
	if len(vs) == 0 {
		return 0, 0, 0, 0
	}
	top, left = math.MaxFloat64, math.MaxFloat64
	for _, v := range vs {
		x, y := float64(v.GetX()), float64(v.GetY())
		left = math.Min(left, x)
		right = math.Max(right, x)
		top = math.Min(top, y)
		bottom = math.Max(bottom, y)
	}
	return top, left, bottom, right
}

func cropPNG(src image.Image, top, left, bottom, right float64) ([]byte, error) {
	b := src.Bounds()
	w, h := float64(b.Dx()), float64(b.Dy())
	rect := image.Rect(
		b.Min.X+int(left*w), b.Min.Y+int(top*h),
		b.Min.X+int(math.Ceil(right*w)), b.Min.Y+int(math.Ceil(bottom*h)),
	).Intersect(b)
	if rect.Empty() {
		return nil, fmt.Errorf("empty figure region")
	}
	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Draw(dst, dst.Bounds(), src, rect.Min, draw.Src)
	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, fmt.Errorf("encode figure: %w", err)
	}
	return buf.Bytes(), nil
}

func textFromAnchor(full string, anchor *documentaipb.Document_TextAnchor) string {
	if anchor == nil || len(anchor.TextSegments) == 0 || full == "" {
		return ""
	}
	var b strings.Builder
	for _, seg := range anchor.TextSegments {
		if seg == nil {
			continue
		}
		start := int(seg.StartIndex)
		end := int(seg.EndIndex)
		if start < 0 {
			start = 0
		}
		if end > len(full) {
			end = len(full)
		}
		if start >= end {
			continue
		}
		b.WriteString(full[start:end])
	}
	return b.String()
}

func processorName(project, location, processorID, version string) string {
	project = strings.TrimSpace(project)
	location = strings.TrimSpace(location)
	processorID = strings.TrimSpace(processorID)
	version = strings.TrimSpace(version)

	if project == "" || location == "" || processorID == "" {
		return ""
	}
	base := fmt.Sprintf("projects/%s/locations/%s/processors/%s", project, location, processorID)
	if version != "" {
		return base + "/processorVersions/" + version
	}
	return base
}
