package domain

import (
	"encoding/json"
	"time"
)

// DateLayout is the folder format used for the {date} path segment.
const DateLayout = "01_02_2006"

// SearchParams drives the arXiv advanced search.
type SearchParams struct {
	Terms     string `json:"terms" form:"terms"`
	Field     string `json:"field" form:"field"`
	Operator  string `json:"operator" form:"operator"`
	Abstracts string `json:"abstracts" form:"abstracts"`
	Size      int    `json:"size" form:"size"`
	Order     string `json:"order" form:"order"`
}

// WithDefaults fills unset search parameters.
func (p SearchParams) WithDefaults(topic string) SearchParams {
	if p.Terms == "" {
		p.Terms = topic
	}
	if p.Field == "" {
		p.Field = "title"
	}
	if p.Operator == "" {
		p.Operator = "AND"
	}
	if p.Abstracts == "" {
		p.Abstracts = "show"
	}
	if p.Size <= 0 {
		p.Size = 50
	}
	if p.Order == "" {
		p.Order = "-submitted_date"
	}
	return p
}

// ---- document parsing ----

// ParsedDocument is the normalized block structure returned by a document parser.
type ParsedDocument struct {
	JobID  string        `json:"job_id,omitempty"`
	Chunks []ParsedChunk `json:"chunks"`
}

type ParsedChunk struct {
	Blocks []ParsedBlock `json:"blocks"`
}

const (
	BlockTitle  = "Title"
	BlockText   = "Text"
	BlockFigure = "Figure"
)

type ParsedBlock struct {
	Type     string `json:"type"`
	Content  string `json:"content"`
	ImageURL string `json:"image_url,omitempty"`
	// ImageData is set by parsers that return figure pixels inline.
	ImageData []byte          `json:"-"`
	Raw       json.RawMessage `json:"-"`
}

// FigurePairing is one extracted figure ready to be stored.
type FigurePairing struct {
	FigureContent string
	ImageData     []byte
	SourceBlock   json.RawMessage
}

// Extraction is the result of processing one PDF.
type Extraction struct {
	Title    string
	Authors  string
	Pairings []FigurePairing
}

// ---- narrative ----

// PanelRecord is one narrative beat. Nil fields were absent from the text.
type PanelRecord struct {
	PanelNumber string  `json:"panel_number"`
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Dialogue    *string `json:"dialogue,omitempty"`
}

type Narrative struct {
	Text   string        `json:"narrative"`
	Panels []PanelRecord `json:"panels"`
}

// RenderedPanel is a PNG for the panel at Index (1-based) of the narrative.
type RenderedPanel struct {
	Index     int    `json:"panel_number"`
	Title     string `json:"title,omitempty"`
	Image     []byte `json:"-"`
	URL       string `json:"image_url,omitempty"`
	Generated bool   `json:"generated,omitempty"`
}

// NarrativeBundle is the JSON document stored next to the rendered panels.
type NarrativeBundle struct {
	Email       string        `json:"email"`
	Topic       string        `json:"topic"`
	Date        string        `json:"date"`
	PaperTitle  string        `json:"paper_title"`
	GeneratedAt time.Time     `json:"generated_at"`
	Narrative   string        `json:"narrative"`
	Panels      []PanelRecord `json:"panels"`
	FiguresUsed int           `json:"figures_used"`
}

// ---- digest ----

type Digest struct {
	ToEmail   string
	Topic     string
	Narrative string
	Panels    []PanelRecord
	Figures   [][]byte
	Rendered  []RenderedPanel
}

type DigestResult struct {
	Success bool   `json:"success"`
	EmailID string `json:"email_id,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ---- batch results ----

type ItemStatus string

const (
	ItemOK      ItemStatus = "ok"
	ItemSkipped ItemStatus = "skipped"
	ItemFailed  ItemStatus = "failed"
)

// ItemResult is the outcome for one unit of work inside a stage.
type ItemResult struct {
	Item   string
	Status ItemStatus
	Err    error
}

// BatchResult aggregates per-item outcomes for one stage run.
type BatchResult struct {
	Items []ItemResult
}

func (b *BatchResult) OK(item string) {
	b.Items = append(b.Items, ItemResult{Item: item, Status: ItemOK})
}

func (b *BatchResult) Skip(item string, err error) {
	b.Items = append(b.Items, ItemResult{Item: item, Status: ItemSkipped, Err: err})
}

func (b *BatchResult) Fail(item string, err error) {
	b.Items = append(b.Items, ItemResult{Item: item, Status: ItemFailed, Err: err})
}

func (b *BatchResult) Count(status ItemStatus) int {
	n := 0
	for _, it := range b.Items {
		if it.Status == status {
			n++
		}
	}
	return n
}

// Errors renders failed items as "item: error" lines.
func (b *BatchResult) Errors() []string {
	var out []string
	for _, it := range b.Items {
		if it.Status == ItemFailed && it.Err != nil {
			out = append(out, it.Item+": "+it.Err.Error())
		}
	}
	return out
}
