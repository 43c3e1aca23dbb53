package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// RecommendationRequest is one processed source document for an
// (email, topic) subscription. FileName is the full storage path of the PDF.
type RecommendationRequest struct {
	ID       uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	Email    string    `gorm:"column:email;not null;index:idx_recommendation_request_key,priority:1" json:"email"`
	Topic    string    `gorm:"column:topic;not null;index:idx_recommendation_request_key,priority:2" json:"topic"`
	FileName string    `gorm:"column:file_name;not null;index:idx_recommendation_request_key,priority:3" json:"file_name"`
	Title    *string   `gorm:"column:title" json:"title,omitempty"`
	Authors  *string   `gorm:"column:authors" json:"authors,omitempty"`

	Pairings []RecommendationPairing `gorm:"foreignKey:RequestID;references:ID;constraint:OnDelete:CASCADE" json:"pairings,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime;index" json:"created_at"`
}

func (RecommendationRequest) TableName() string { return "recommendation_requests" }

func (r *RecommendationRequest) BeforeCreate(tx *gorm.DB) error {
	if r.ID == uuid.Nil {
		r.ID = uuid.New()
	}
	return nil
}

// RecommendationPairing is one extracted figure: its caption, the storage
// path of its image and the raw parser block it came from.
type RecommendationPairing struct {
	ID            uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	RequestID     uuid.UUID      `gorm:"type:uuid;not null;index" json:"request_id"`
	Position      int            `gorm:"column:position;not null;default:0" json:"position"`
	FigureContent string         `gorm:"column:figure_content;type:text" json:"figure_content"`
	ImagePath     string         `gorm:"column:image_path;not null" json:"image_path"`
	ReductoData   datatypes.JSON `gorm:"column:reducto_data" json:"reducto_data,omitempty"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"created_at"`
}

func (RecommendationPairing) TableName() string { return "recommendation_pairings" }

func (p *RecommendationPairing) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}
