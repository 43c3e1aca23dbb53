package services

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"os"
	"strings"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/font/gofont/goregular"

	"github.com/moises-m-limon/mangalytics/internal/domain"
	"github.com/moises-m-limon/mangalytics/internal/platform/logger"
	"github.com/moises-m-limon/mangalytics/internal/platform/openai"
)

const (
	RenderModeProcedural = "procedural"
	RenderModeGenerative = "generative"
)

const (
	panelWidth       = 1200
	panelHeight      = 800
	panelMargin      = 40
	panelBorderWidth = 8
	avatarThumbSize  = 200

	descriptionWrap     = 80
	descriptionMaxLines = 8
	descriptionStep     = 40

	dialogueWrap    = 70
	dialogueStep    = 35
	dialoguePadding = 60
	dialogueBorder  = 4
)

var (
	colorBackground   = hexColor("#FFFFFF", color.NRGBA{A: 0xFF})
	colorBorder       = hexColor("#000000", color.NRGBA{A: 0xFF})
	colorPanelNumber  = hexColor("#95A5A6", color.NRGBA{A: 0xFF})
	colorTitle        = hexColor("#E74C3C", color.NRGBA{A: 0xFF})
	colorDivider      = hexColor("#3498DB", color.NRGBA{A: 0xFF})
	colorText         = hexColor("#2C3E50", color.NRGBA{A: 0xFF})
	colorDialogueFill = hexColor("#FFF3CD", color.NRGBA{A: 0xFF})
	colorDialogueLine = hexColor("#FFC107", color.NRGBA{A: 0xFF})
	colorDialogueText = hexColor("#856404", color.NRGBA{A: 0xFF})
)

type PanelRenderer interface {
	Render(ctx context.Context, panels []domain.PanelRecord) []domain.RenderedPanel
}

type PanelRendererConfig struct {
	Mode     string
	FontPath string
}

type panelFonts struct {
	title    font.Face
	header   font.Face
	text     font.Face
	dialogue font.Face
}

type panelRenderer struct {
	log   *logger.Logger
	cfg   PanelRendererConfig
	guide *Guide
	ai    openai.Client
	fonts panelFonts
	thumb image.Image
}

// NewPanelRenderer builds a renderer. ai is only used in generative mode and
// may be nil otherwise. An unreadable font falls back to Go Regular.
func NewPanelRenderer(baseLog *logger.Logger, cfg PanelRendererConfig, guide *Guide, ai openai.Client) PanelRenderer {
	log := baseLog.With("service", "PanelRenderer")
	if cfg.Mode == "" {
		cfg.Mode = RenderModeProcedural
	}
	fonts, err := loadPanelFonts(cfg.FontPath)
	if err != nil {
		log.Warn("Panel font unavailable, using Go Regular", "font", cfg.FontPath, "error", err)
		fonts = defaultPanelFonts()
	}
	var thumb image.Image
	if src := guide.AvatarImage(); src != nil {
		dst := image.NewNRGBA(image.Rect(0, 0, avatarThumbSize, avatarThumbSize))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)
		thumb = dst
	}
	return &panelRenderer{log: log, cfg: cfg, guide: guide, ai: ai, fonts: fonts, thumb: thumb}
}

func (r *panelRenderer) Render(ctx context.Context, panels []domain.PanelRecord) []domain.RenderedPanel {
	out := make([]domain.RenderedPanel, 0, len(panels))
	for i, p := range panels {
		idx := i + 1
		title := ""
		if p.Title != nil {
			title = *p.Title
		}

		if r.cfg.Mode == RenderModeGenerative && r.ai != nil {
			img, err := r.generate(ctx, p)
			if err == nil {
				out = append(out, domain.RenderedPanel{Index: idx, Title: title, Image: img, Generated: true})
				continue
			}
			r.log.Warn("Panel artwork generation failed, drawing instead", "panel", idx, "error", err)
		}

		img, err := r.renderOne(LayoutPanel(p, idx))
		if err != nil {
			r.log.Warn("Panel render failed, skipping", "panel", idx, "error", err)
			continue
		}
		out = append(out, domain.RenderedPanel{Index: idx, Title: title, Image: img})
	}
	return out
}

func (r *panelRenderer) generate(ctx context.Context, p domain.PanelRecord) ([]byte, error) {
	var b strings.Builder
	b.WriteString(strings.TrimSpace(r.guide.ArtStyle))
	if p.Title != nil {
		fmt.Fprintf(&b, "\nTitle: %s", *p.Title)
	}
	if p.Description != nil {
		fmt.Fprintf(&b, "\nScene: %s", *p.Description)
	}
	if p.Dialogue != nil && *p.Dialogue != "" {
		fmt.Fprintf(&b, "\nSpeech bubble from the %s: %q", r.guide.Name, *p.Dialogue)
	}
	gen, err := r.ai.GenerateImage(ctx, b.String())
	if err != nil {
		return nil, err
	}
	if len(gen.Bytes) == 0 {
		return nil, fmt.Errorf("empty image")
	}
	return gen.Bytes, nil
}

// PanelLayout is the text placement for one panel, computed before drawing.
type PanelLayout struct {
	Number      string
	Title       string
	Description []string

	HasDialogue    bool
	Dialogue       []string
	DialogueBoxY   float64
	DialogueHeight float64
}

// LayoutPanel resolves defaults and wraps text for panel idx (1-based).
func LayoutPanel(p domain.PanelRecord, idx int) PanelLayout {
	l := PanelLayout{
		Number: p.PanelNumber,
		Title:  fmt.Sprintf("Panel %d", idx),
	}
	if l.Number == "" {
		l.Number = fmt.Sprintf("[PANEL %d]", idx)
	}
	if p.Title != nil {
		l.Title = *p.Title
	}
	desc := ""
	if p.Description != nil {
		desc = *p.Description
	}
	l.Description = wrapText(desc, descriptionWrap)
	if len(l.Description) > descriptionMaxLines {
		l.Description = l.Description[:descriptionMaxLines]
	}

	y := float64(panelMargin) + 60 + 80 + 30
	y += float64(len(l.Description) * descriptionStep)

	if p.Dialogue != nil && *p.Dialogue != "" {
		l.HasDialogue = true
		l.Dialogue = wrapText(*p.Dialogue, dialogueWrap)
		l.DialogueBoxY = y + 20
		l.DialogueHeight = float64(len(l.Dialogue)*dialogueStep + dialoguePadding)
	}
	return l
}

func (r *panelRenderer) renderOne(l PanelLayout) (data []byte, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("render panic: %v", rec)
		}
	}()

	const w, h = float64(panelWidth), float64(panelHeight)
	const m = float64(panelMargin)
	dc := gg.NewContext(panelWidth, panelHeight)

	dc.SetColor(colorBackground)
	dc.Clear()

	inset := float64(panelBorderWidth) / 2
	dc.SetColor(colorBorder)
	dc.SetLineWidth(panelBorderWidth)
	dc.DrawRectangle(inset, inset, w-panelBorderWidth, h-panelBorderWidth)
	dc.Stroke()

	y := m
	drawText(dc, r.fonts.header, colorPanelNumber, l.Number, m, y)
	y += 60

	drawText(dc, r.fonts.title, colorTitle, strings.ToUpper(l.Title), m, y)
	y += 80

	dc.SetColor(colorDivider)
	dc.DrawRectangle(m, y, w-2*m, 3)
	dc.Fill()
	y += 30

	if r.thumb != nil {
		dc.DrawImage(r.thumb, panelWidth-avatarThumbSize-panelMargin, panelMargin)
	}

	for _, line := range l.Description {
		drawText(dc, r.fonts.text, colorText, line, m, y)
		y += descriptionStep
	}

	if l.HasDialogue {
		boxY := l.DialogueBoxY
		dc.SetColor(colorDialogueFill)
		dc.DrawRectangle(m, boxY, w-2*m, l.DialogueHeight)
		dc.Fill()
		dc.SetColor(colorDialogueLine)
		dc.SetLineWidth(dialogueBorder)
		dc.DrawRectangle(m, boxY, w-2*m, l.DialogueHeight)
		dc.Stroke()

		drawText(dc, r.fonts.header, colorDialogueText, r.guide.SaysLabel, m+20, boxY+15)
		ly := boxY + 55
		for _, line := range l.Dialogue {
			drawText(dc, r.fonts.dialogue, colorDialogueText, line, m+20, ly)
			ly += dialogueStep
		}
	}

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return nil, fmt.Errorf("encode panel: %w", err)
	}
	return buf.Bytes(), nil
}

// drawText places s with its top-left corner at (x, y).
func drawText(dc *gg.Context, face font.Face, c color.Color, s string, x, y float64) {
	dc.SetFontFace(face)
	dc.SetColor(c)
	dc.DrawStringAnchored(s, x, y, 0, 1)
}

// wrapText breaks s into lines of at most width runes on whitespace. Words
// longer than width are split across lines.
func wrapText(s string, width int) []string {
	lines := []string{}
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			lines = append(lines, string(cur))
			cur = cur[:0]
		}
	}
	for _, word := range strings.Fields(s) {
		rw := []rune(word)
		for len(rw) > 0 {
			sep := 0
			if len(cur) > 0 {
				sep = 1
			}
			if len(cur)+sep+len(rw) <= width {
				if sep == 1 {
					cur = append(cur, ' ')
				}
				cur = append(cur, rw...)
				break
			}
			if len(rw) > width {
				room := width - len(cur) - sep
				if room > 0 {
					if sep == 1 {
						cur = append(cur, ' ')
					}
					cur = append(cur, rw[:room]...)
					rw = rw[room:]
				}
			}
			flush()
		}
	}
	flush()
	return lines
}

func loadPanelFonts(path string) (panelFonts, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return panelFonts{}, fmt.Errorf("no font configured")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return panelFonts{}, fmt.Errorf("read font file: %w", err)
	}
	return parsePanelFonts(raw)
}

func parsePanelFonts(raw []byte) (panelFonts, error) {
	parsed, err := truetype.Parse(raw)
	if err != nil {
		return panelFonts{}, fmt.Errorf("parse TTF: %w", err)
	}
	face := func(size float64) font.Face {
		return truetype.NewFace(parsed, &truetype.Options{Size: size, DPI: 72, Hinting: font.HintingNone})
	}
	return panelFonts{
		title:    face(48),
		header:   face(32),
		text:     face(28),
		dialogue: face(26),
	}, nil
}

// defaultPanelFonts uses Go Regular at the layout sizes. The fixed 7x13
// bitmap face is only a last resort.
func defaultPanelFonts() panelFonts {
	if fonts, err := parsePanelFonts(goregular.TTF); err == nil {
		return fonts
	}
	return panelFonts{
		title:    basicfont.Face7x13,
		header:   basicfont.Face7x13,
		text:     basicfont.Face7x13,
		dialogue: basicfont.Face7x13,
	}
}
