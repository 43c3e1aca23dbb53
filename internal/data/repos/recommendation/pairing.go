package recommendation

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/moises-m-limon/mangalytics/internal/domain"
	"github.com/moises-m-limon/mangalytics/internal/platform/dbctx"
	"github.com/moises-m-limon/mangalytics/internal/platform/logger"
)

type RecommendationPairingRepo interface {
	CreateBatch(dbc dbctx.Context, pairings []*domain.RecommendationPairing) ([]*domain.RecommendationPairing, error)
	ListByRequestIDs(dbc dbctx.Context, requestIDs []uuid.UUID) ([]*domain.RecommendationPairing, error)
	CountByRequestIDs(dbc dbctx.Context, requestIDs []uuid.UUID) (int64, error)
}

type recommendationPairingRepo struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewRecommendationPairingRepo(db *gorm.DB, baseLog *logger.Logger) RecommendationPairingRepo {
	return &recommendationPairingRepo{
		db:  db,
		log: baseLog.With("repo", "RecommendationPairingRepo"),
	}
}

func (r *recommendationPairingRepo) CreateBatch(dbc dbctx.Context, pairings []*domain.RecommendationPairing) ([]*domain.RecommendationPairing, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(pairings) == 0 {
		return []*domain.RecommendationPairing{}, nil
	}
	if err := transaction.WithContext(dbc.Ctx).Create(&pairings).Error; err != nil {
		return nil, err
	}
	return pairings, nil
}

func (r *recommendationPairingRepo) ListByRequestIDs(dbc dbctx.Context, requestIDs []uuid.UUID) ([]*domain.RecommendationPairing, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*domain.RecommendationPairing
	if len(requestIDs) == 0 {
		return out, nil
	}
	if err := transaction.WithContext(dbc.Ctx).
		Where("request_id IN ?", requestIDs).
		Order("request_id ASC").
		Order("position ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *recommendationPairingRepo) CountByRequestIDs(dbc dbctx.Context, requestIDs []uuid.UUID) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	if len(requestIDs) == 0 {
		return 0, nil
	}
	var count int64
	if err := transaction.WithContext(dbc.Ctx).
		Model(&domain.RecommendationPairing{}).
		Where("request_id IN ?", requestIDs).
		Count(&count).Error; err != nil {
		return 0, err
	}
	return count, nil
}
