package services

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/moises-m-limon/mangalytics/internal/domain"
	"github.com/moises-m-limon/mangalytics/internal/platform/apierr"
	"github.com/moises-m-limon/mangalytics/internal/platform/logger"
	"github.com/moises-m-limon/mangalytics/internal/platform/openai"
)

type NarrativeGenerator interface {
	Generate(ctx context.Context, figures []domain.FigurePairing, paperTitle, topic string) (*domain.Narrative, error)
}

type narrativeGenerator struct {
	log   *logger.Logger
	ai    openai.Client
	guide *Guide
}

func NewNarrativeGenerator(baseLog *logger.Logger, ai openai.Client, guide *Guide) NarrativeGenerator {
	return &narrativeGenerator{
		log:   baseLog.With("service", "NarrativeGenerator"),
		ai:    ai,
		guide: guide,
	}
}

func (n *narrativeGenerator) Generate(ctx context.Context, figures []domain.FigurePairing, paperTitle, topic string) (*domain.Narrative, error) {
	system, user := BuildNarrativePrompt(n.guide, figures, paperTitle, topic)

	images := make([]openai.ImageInput, 0, len(figures)+1)
	if len(n.guide.AvatarPNG) > 0 {
		images = append(images, openai.ImageInput{ImageURL: openai.DataURL("image/png", n.guide.AvatarPNG), Detail: "low"})
	}
	for _, f := range figures {
		if len(f.ImageData) == 0 {
			continue
		}
		images = append(images, openai.ImageInput{ImageURL: openai.DataURL(http.DetectContentType(f.ImageData), f.ImageData)})
	}

	text, err := n.ai.GenerateTextWithImages(ctx, system, user, images)
	if err != nil {
		return nil, apierr.Upstream("openai", fmt.Errorf("generate narrative: %w", err))
	}

	panels := ParsePanels(text)
	n.log.Info("Generated narrative", "topic", topic, "figures", len(figures), "panels", len(panels))
	return &domain.Narrative{Text: text, Panels: panels}, nil
}

// BuildNarrativePrompt returns the system and user prompts for a narrative.
// Images follow the user prompt in order: the guide avatar first when
// present, then one per figure that has image data.
func BuildNarrativePrompt(g *Guide, figures []domain.FigurePairing, paperTitle, topic string) (string, string) {
	var sys strings.Builder
	sys.WriteString("You are creating a manga-style visual narrative from academic research figures.\n\n")
	sys.WriteString("IMPORTANT: ")
	sys.WriteString(strings.TrimSpace(g.Persona))
	sys.WriteString("\n")

	name := strings.ToUpper(g.Name)
	var b strings.Builder
	if len(g.AvatarPNG) > 0 {
		fmt.Fprintf(&b, "The first attached image is the %s character that will be your narrator/guide.\n\n", g.Name)
	}
	fmt.Fprintf(&b, "Research Topic: %s\n", topic)
	fmt.Fprintf(&b, "Paper: %s\n\n", paperTitle)
	fmt.Fprintf(&b, "Create a %d-panel manga story where the %s CHARACTER explains the research:\n", len(g.Beats), name)
	for i, r := range g.Rules {
		fmt.Fprintf(&b, "%d. %s\n", i+1, r)
	}
	b.WriteString("\nStory structure:\n")
	for i, beat := range g.Beats {
		fmt.Fprintf(&b, "- Panel %d: %s\n", i+1, beat)
	}
	fmt.Fprintf(&b, "\nAnalyze these research figures and create the manga narrative with the %s as narrator:\n\n", g.Name)

	for i, f := range figures {
		content := strings.TrimSpace(f.FigureContent)
		if content == "" {
			content = "Research figure"
		}
		fmt.Fprintf(&b, "\n--- Figure %d ---\n", i+1)
		fmt.Fprintf(&b, "Description: %s\n", content)
	}

	fmt.Fprintf(&b, "\n\nNow generate the %d-panel manga narrative with the %s as the main character/narrator.\n", len(g.Beats), name)
	b.WriteString("Format each panel like this:\n\n")
	b.WriteString("[PANEL 1]\n")
	b.WriteString("Title: [Short, punchy title]\n")
	fmt.Fprintf(&b, "Description: [Visual scene description with the %s character present and active]\n", g.Name)
	fmt.Fprintf(&b, "Dialogue: [What the %s says - make it enthusiastic, friendly, and educational]\n\n", g.Name)
	fmt.Fprintf(&b, "Remember: The %s is the star! Every panel should feature the %s explaining, pointing, gesturing, or reacting to the research.\n", g.Name, g.Name)
	fmt.Fprintf(&b, "The %s's dialogue should be conversational, excited, and break down complex ideas.\n\n", g.Name)
	fmt.Fprintf(&b, "Generate all %d panels now:", len(g.Beats))
	return sys.String(), b.String()
}

const (
	panelMarker       = "[PANEL"
	titlePrefix       = "Title:"
	descriptionPrefix = "Description:"
	dialoguePrefix    = "Dialogue:"
)

type parseState int

const (
	stateSeeking parseState = iota
	stateInPanel
)

// ParsePanels splits generated text into panel records, one per line that
// starts with "[PANEL", in order. Field lines set the field on the open
// record; anything else, including field lines before the first marker, is
// ignored. It never fails.
func ParsePanels(text string) []domain.PanelRecord {
	out := []domain.PanelRecord{}
	state := stateSeeking
	var cur domain.PanelRecord

	for _, raw := range strings.Split(text, "\n") {
		line := strings.TrimSpace(raw)

		if strings.HasPrefix(line, panelMarker) {
			if state == stateInPanel {
				out = append(out, cur)
			}
			cur = domain.PanelRecord{PanelNumber: line}
			state = stateInPanel
			continue
		}
		if state != stateInPanel {
			continue
		}

		switch {
		case strings.HasPrefix(line, titlePrefix):
			cur.Title = fieldValue(line, titlePrefix)
		case strings.HasPrefix(line, descriptionPrefix):
			cur.Description = fieldValue(line, descriptionPrefix)
		case strings.HasPrefix(line, dialoguePrefix):
			cur.Dialogue = fieldValue(line, dialoguePrefix)
		}
	}
	if state == stateInPanel {
		out = append(out, cur)
	}
	return out
}

func fieldValue(line, prefix string) *string {
	v := strings.TrimSpace(strings.TrimPrefix(line, prefix))
	return &v
}
