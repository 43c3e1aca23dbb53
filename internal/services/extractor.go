package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/moises-m-limon/mangalytics/internal/domain"
	"github.com/moises-m-limon/mangalytics/internal/platform/logger"
)

// DocumentParser turns a PDF into typed blocks. Reducto and Document AI both
// implement it.
type DocumentParser interface {
	ParseDocument(ctx context.Context, fileName string, pdf []byte) (*domain.ParsedDocument, error)
}

type Extractor interface {
	Extract(ctx context.Context, pdf []byte, fileName string) (*domain.Extraction, error)
}

type extractor struct {
	log     *logger.Logger
	parser  DocumentParser
	images  Fetcher
	backend string
}

// NewExtractor builds an Extractor. images downloads figure images that the
// parser only returns by URL.
func NewExtractor(baseLog *logger.Logger, backend string, parser DocumentParser, images Fetcher) Extractor {
	return &extractor{
		log:     baseLog.With("service", "Extractor", "backend", backend),
		parser:  parser,
		images:  images,
		backend: backend,
	}
}

func (e *extractor) Extract(ctx context.Context, pdf []byte, fileName string) (*domain.Extraction, error) {
	doc, err := e.parser.ParseDocument(ctx, fileName, pdf)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", fileName, err)
	}
	if doc == nil {
		return &domain.Extraction{}, nil
	}

	out := &domain.Extraction{}
	out.Title, out.Authors = titleAndAuthors(doc)

	figureNum := 1
	for _, chunk := range doc.Chunks {
		for _, block := range chunk.Blocks {
			if block.Type != domain.BlockFigure {
				continue
			}
			data := block.ImageData
			if len(data) == 0 {
				if block.ImageURL == "" {
					continue
				}
				data, err = e.images.Fetch(ctx, block.ImageURL)
				if err != nil {
					e.log.Warn("Figure image download failed, skipping", "file", fileName, "url", block.ImageURL, "error", err)
					continue
				}
			}
			content := strings.TrimSpace(block.Content)
			if content == "" {
				content = fmt.Sprintf("Figure %d", figureNum)
			}
			out.Pairings = append(out.Pairings, domain.FigurePairing{
				FigureContent: content,
				ImageData:     data,
				SourceBlock:   sourceBlock(block),
			})
			figureNum++
		}
	}

	e.log.Info("Extracted document",
		"file", fileName,
		"title", out.Title,
		"figures", len(out.Pairings),
	)
	return out, nil
}

// titleAndAuthors takes the first Title block; the authors are the Text block
// right after it in the same chunk, when there is one.
func titleAndAuthors(doc *domain.ParsedDocument) (string, string) {
	for _, chunk := range doc.Chunks {
		for i, block := range chunk.Blocks {
			if block.Type != domain.BlockTitle {
				continue
			}
			title := strings.TrimSpace(block.Content)
			if title == "" {
				continue
			}
			authors := ""
			if i+1 < len(chunk.Blocks) && chunk.Blocks[i+1].Type == domain.BlockText {
				authors = strings.TrimSpace(chunk.Blocks[i+1].Content)
			}
			return title, authors
		}
	}
	return "", ""
}

func sourceBlock(b domain.ParsedBlock) json.RawMessage {
	if len(b.Raw) > 0 {
		return b.Raw
	}
	raw, err := json.Marshal(struct {
		Type     string `json:"type"`
		Content  string `json:"content"`
		ImageURL string `json:"image_url,omitempty"`
	}{b.Type, b.Content, b.ImageURL})
	if err != nil {
		return nil
	}
	return raw
}
