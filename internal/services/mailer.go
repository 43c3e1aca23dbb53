package services

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/base64"
	"fmt"
	"html/template"

	"github.com/moises-m-limon/mangalytics/internal/domain"
	"github.com/moises-m-limon/mangalytics/internal/platform/logger"
	"github.com/moises-m-limon/mangalytics/internal/platform/sendgrid"
)

//go:embed assets/digest.html.tmpl
var digestTemplateSource string

var digestTemplate = template.Must(template.New("digest").Parse(digestTemplateSource))

const maxDigestFigures = 5

type DigestMailer interface {
	// Send never returns an error; failures are reported in the result.
	Send(ctx context.Context, d domain.Digest) domain.DigestResult
}

type DigestMailerConfig struct {
	FromEmail string
	FromName  string
	Credits   []string
}

type digestMailer struct {
	log   *logger.Logger
	cfg   DigestMailerConfig
	email sendgrid.Client
	guide *Guide
}

func NewDigestMailer(baseLog *logger.Logger, cfg DigestMailerConfig, email sendgrid.Client, guide *Guide) DigestMailer {
	if len(cfg.Credits) == 0 {
		cfg.Credits = []string{"firecrawl", "reducto", "openai", "sendgrid"}
	}
	return &digestMailer{
		log:   baseLog.With("service", "DigestMailer"),
		cfg:   cfg,
		email: email,
		guide: guide,
	}
}

type digestImage struct {
	Index int
	Src   template.URL
}

type digestCard struct {
	Index       int
	Title       string
	Description string
	Dialogue    string
}

type digestView struct {
	Topic        string
	GuideName    string
	GuideCaption string
	AvatarSrc    template.URL
	Images       []digestImage
	Cards        []digestCard
	Credits      []string
}

func (m *digestMailer) Send(ctx context.Context, d domain.Digest) domain.DigestResult {
	html, err := m.renderHTML(d)
	if err != nil {
		m.log.Error("Digest render failed", "error", err)
		return domain.DigestResult{Success: false, Error: err.Error()}
	}

	var attachments []sendgrid.Attachment
	if len(m.guide.AvatarPNG) > 0 {
		attachments = append(attachments, sendgrid.Attachment{
			Filename: m.guide.Name + "_avatar.png",
			MIMEType: "image/png",
			Content:  m.guide.AvatarPNG,
		})
	}
	for i, fig := range d.Figures {
		if i >= maxDigestFigures {
			break
		}
		attachments = append(attachments, sendgrid.Attachment{
			Filename: fmt.Sprintf("figure_%d.png", i+1),
			MIMEType: "image/png",
			Content:  fig,
		})
	}

	res, err := m.email.Send(ctx, sendgrid.SendEmailRequest{
		From:        sendgrid.EmailAddress{Email: m.cfg.FromEmail, Name: m.cfg.FromName},
		To:          []sendgrid.EmailAddress{{Email: d.ToEmail}},
		Subject:     "your manga research digest: " + d.Topic,
		HTML:        html,
		Categories:  []string{"manga-digest"},
		Attachments: attachments,
	})
	if err != nil {
		m.log.Error("Digest send failed", "to", d.ToEmail, "error", err)
		return domain.DigestResult{Success: false, Error: err.Error()}
	}

	m.log.Info("Digest sent", "to", d.ToEmail, "topic", d.Topic, "message_id", res.MessageID)
	return domain.DigestResult{Success: true, EmailID: res.MessageID}
}

func (m *digestMailer) renderHTML(d domain.Digest) (string, error) {
	v := digestView{
		Topic:        d.Topic,
		GuideName:    m.guide.Name,
		GuideCaption: m.guide.Caption,
		Credits:      m.cfg.Credits,
	}
	if len(m.guide.AvatarPNG) > 0 {
		v.AvatarSrc = template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(m.guide.AvatarPNG))
	}

	for i, rp := range d.Rendered {
		src := rp.URL
		if src == "" && len(rp.Image) > 0 {
			src = "data:image/png;base64," + base64.StdEncoding.EncodeToString(rp.Image)
		}
		if src == "" {
			continue
		}
		v.Images = append(v.Images, digestImage{Index: i + 1, Src: template.URL(src)})
	}

	if len(v.Images) == 0 {
		for i, p := range d.Panels {
			card := digestCard{Index: i + 1, Title: fmt.Sprintf("Panel %d", i+1)}
			if p.Title != nil {
				card.Title = *p.Title
			}
			if p.Description != nil {
				card.Description = *p.Description
			}
			if p.Dialogue != nil {
				card.Dialogue = *p.Dialogue
			}
			v.Cards = append(v.Cards, card)
		}
	}

	var buf bytes.Buffer
	if err := digestTemplate.Execute(&buf, v); err != nil {
		return "", fmt.Errorf("render digest: %w", err)
	}
	return buf.String(), nil
}
