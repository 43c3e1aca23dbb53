package services

import (
	"bytes"
	_ "embed"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"

	"github.com/fogleman/gg"
	"golang.org/x/image/draw"
	"gopkg.in/yaml.v3"

	"github.com/moises-m-limon/mangalytics/internal/platform/logger"
)

//go:embed assets/guide.yaml
var defaultGuideYAML []byte

const guideAvatarSize = 400

// Guide is the narrator character that appears in prompts, panels and emails.
type Guide struct {
	Name      string      `yaml:"name"`
	SaysLabel string      `yaml:"says_label"`
	Caption   string      `yaml:"caption"`
	Persona   string      `yaml:"persona"`
	Rules     []string    `yaml:"rules"`
	Beats     []string    `yaml:"beats"`
	ArtStyle  string      `yaml:"art_style"`
	Colors    guideColors `yaml:"avatar"`
	AvatarPNG []byte      `yaml:"-"`
	avatarImg image.Image
}

type guideColors struct {
	Background string `yaml:"background"`
	Fur        string `yaml:"fur"`
	Muzzle     string `yaml:"muzzle"`
	Ink        string `yaml:"ink"`
}

// ParseGuide reads a guide definition. Missing labels get defaults.
func ParseGuide(data []byte) (*Guide, error) {
	g := &Guide{}
	if err := yaml.Unmarshal(data, g); err != nil {
		return nil, fmt.Errorf("parse guide: %w", err)
	}
	if strings.TrimSpace(g.Name) == "" {
		return nil, fmt.Errorf("guide name required")
	}
	if g.SaysLabel == "" {
		g.SaysLabel = strings.ToUpper(g.Name) + " SAYS:"
	}
	if len(g.Beats) == 0 {
		return nil, fmt.Errorf("guide %q has no story beats", g.Name)
	}
	return g, nil
}

// LoadGuide loads the embedded guide and its avatar. avatarPath, when set,
// points at an image that replaces the drawn avatar.
func LoadGuide(log *logger.Logger, avatarPath string) (*Guide, error) {
	g, err := ParseGuide(defaultGuideYAML)
	if err != nil {
		return nil, err
	}
	avatarPath = strings.TrimSpace(avatarPath)
	if avatarPath != "" {
		raw, err := os.ReadFile(avatarPath)
		if err == nil {
			err = g.SetAvatar(raw)
		}
		if err == nil {
			log.Info("Loaded guide avatar", "path", avatarPath)
			return g, nil
		}
		log.Warn("Guide avatar unavailable, drawing default", "path", avatarPath, "error", err)
	}
	if err := g.drawAvatar(); err != nil {
		return nil, err
	}
	return g, nil
}

// SetAvatar replaces the avatar with raw, center-cropped to a square.
func (g *Guide) SetAvatar(raw []byte) error {
	img, data, err := squareAvatar(raw, guideAvatarSize)
	if err != nil {
		return err
	}
	g.avatarImg = img
	g.AvatarPNG = data
	return nil
}

// AvatarImage returns the decoded avatar, or nil if none is loaded.
func (g *Guide) AvatarImage() image.Image {
	if g == nil {
		return nil
	}
	return g.avatarImg
}

func squareAvatar(raw []byte, size int) (image.Image, []byte, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, nil, fmt.Errorf("decode image: %w", err)
	}

	b := img.Bounds()
	side := b.Dx()
	if b.Dy() < side {
		side = b.Dy()
	}
	x0 := b.Min.X + (b.Dx()-side)/2
	y0 := b.Min.Y + (b.Dy()-side)/2

	dst := image.NewNRGBA(image.Rect(0, 0, size, size))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, image.Rect(x0, y0, x0+side, y0+side), draw.Over, nil)

	var out bytes.Buffer
	dc := gg.NewContextForImage(dst)
	if err := dc.EncodePNG(&out); err != nil {
		return nil, nil, fmt.Errorf("encode png: %w", err)
	}
	return dst, out.Bytes(), nil
}

// drawAvatar paints a simple corgi face inside a circle.
func (g *Guide) drawAvatar() error {
	const size = guideAvatarSize
	s := float64(size)
	dc := gg.NewContext(size, size)

	dc.DrawCircle(s/2, s/2, s/2)
	dc.Clip()
	dc.SetColor(hexColor(g.Colors.Background, color.NRGBA{R: 0xF6, G: 0xC2, B: 0x8B, A: 0xFF}))
	dc.DrawRectangle(0, 0, s, s)
	dc.Fill()

	fur := hexColor(g.Colors.Fur, color.NRGBA{R: 0xE4, G: 0x8A, B: 0x3C, A: 0xFF})
	muzzle := hexColor(g.Colors.Muzzle, color.NRGBA{R: 0xFF, G: 0xFF, B: 0xFF, A: 0xFF})
	ink := hexColor(g.Colors.Ink, color.NRGBA{R: 0x2C, G: 0x3E, B: 0x50, A: 0xFF})

	// ears
	dc.SetColor(fur)
	dc.MoveTo(s*0.18, s*0.45)
	dc.LineTo(s*0.25, s*0.08)
	dc.LineTo(s*0.45, s*0.30)
	dc.ClosePath()
	dc.Fill()
	dc.MoveTo(s*0.82, s*0.45)
	dc.LineTo(s*0.75, s*0.08)
	dc.LineTo(s*0.55, s*0.30)
	dc.ClosePath()
	dc.Fill()

	dc.DrawEllipse(s/2, s*0.55, s*0.33, s*0.30)
	dc.Fill()

	dc.SetColor(muzzle)
	dc.DrawEllipse(s/2, s*0.68, s*0.17, s*0.14)
	dc.Fill()
	dc.DrawEllipse(s/2, s*0.45, s*0.05, s*0.12)
	dc.Fill()

	dc.SetColor(ink)
	dc.DrawCircle(s*0.38, s*0.50, s*0.035)
	dc.DrawCircle(s*0.62, s*0.50, s*0.035)
	dc.Fill()
	dc.DrawEllipse(s/2, s*0.62, s*0.05, s*0.035)
	dc.Fill()
	dc.SetLineWidth(s * 0.012)
	dc.DrawArc(s*0.46, s*0.70, s*0.04, 0, gg.Radians(180))
	dc.Stroke()
	dc.DrawArc(s*0.54, s*0.70, s*0.04, 0, gg.Radians(180))
	dc.Stroke()

	var buf bytes.Buffer
	if err := dc.EncodePNG(&buf); err != nil {
		return fmt.Errorf("encode guide avatar: %w", err)
	}
	g.avatarImg = dc.Image()
	g.AvatarPNG = buf.Bytes()
	return nil
}

func hexColor(s string, fallback color.NRGBA) color.NRGBA {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return fallback
	}
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 3 {
		return fallback
	}
	return color.NRGBA{R: raw[0], G: raw[1], B: raw[2], A: 0xFF}
}
