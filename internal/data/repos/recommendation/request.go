package recommendation

import (
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/moises-m-limon/mangalytics/internal/domain"
	"github.com/moises-m-limon/mangalytics/internal/platform/dbctx"
	"github.com/moises-m-limon/mangalytics/internal/platform/logger"
)

type RecommendationRequestRepo interface {
	// CreateWithPairings inserts the request and its pairings atomically.
	CreateWithPairings(dbc dbctx.Context, req *domain.RecommendationRequest, pairings []*domain.RecommendationPairing) (*domain.RecommendationRequest, error)
	GetByKey(dbc dbctx.Context, email, topic, fileName string) (*domain.RecommendationRequest, error)
	ExistsByKey(dbc dbctx.Context, email, topic, fileName string) (bool, error)
	// DeleteByKey removes every request for the key together with its pairings
	// and returns the number of requests removed.
	DeleteByKey(dbc dbctx.Context, email, topic, fileName string) (int64, error)
	// ListByPathPrefix returns requests whose file_name starts with prefix,
	// oldest first, with pairings preloaded in position order.
	ListByPathPrefix(dbc dbctx.Context, email, topic, prefix string, limit int) ([]*domain.RecommendationRequest, error)
}

type recommendationRequestRepo struct {
	db       *gorm.DB
	log      *logger.Logger
	pairings RecommendationPairingRepo
}

func NewRecommendationRequestRepo(db *gorm.DB, baseLog *logger.Logger) RecommendationRequestRepo {
	return &recommendationRequestRepo{
		db:       db,
		log:      baseLog.With("repo", "RecommendationRequestRepo"),
		pairings: NewRecommendationPairingRepo(db, baseLog),
	}
}

func (r *recommendationRequestRepo) CreateWithPairings(dbc dbctx.Context, req *domain.RecommendationRequest, pairings []*domain.RecommendationPairing) (*domain.RecommendationRequest, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		req.Pairings = nil
		if err := txx.Create(req).Error; err != nil {
			return err
		}
		for i, p := range pairings {
			p.RequestID = req.ID
			p.Position = i
		}
		_, err := r.pairings.CreateBatch(dbctx.Context{Ctx: dbc.Ctx, Tx: txx}, pairings)
		return err
	})
	if err != nil {
		return nil, err
	}
	req.Pairings = make([]domain.RecommendationPairing, 0, len(pairings))
	for _, p := range pairings {
		req.Pairings = append(req.Pairings, *p)
	}
	return req, nil
}

func (r *recommendationRequestRepo) GetByKey(dbc dbctx.Context, email, topic, fileName string) (*domain.RecommendationRequest, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var req domain.RecommendationRequest
	err := transaction.WithContext(dbc.Ctx).
		Where("email = ? AND topic = ? AND file_name = ?", email, topic, fileName).
		Order("created_at DESC").
		Limit(1).
		Find(&req).Error
	if err != nil {
		return nil, err
	}
	if req.ID == uuid.Nil {
		return nil, nil
	}
	return &req, nil
}

func (r *recommendationRequestRepo) ExistsByKey(dbc dbctx.Context, email, topic, fileName string) (bool, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var count int64
	if err := transaction.WithContext(dbc.Ctx).
		Model(&domain.RecommendationRequest{}).
		Where("email = ? AND topic = ? AND file_name = ?", email, topic, fileName).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

func (r *recommendationRequestRepo) DeleteByKey(dbc dbctx.Context, email, topic, fileName string) (int64, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var deleted int64
	err := transaction.WithContext(dbc.Ctx).Transaction(func(txx *gorm.DB) error {
		var ids []uuid.UUID
		if err := txx.Model(&domain.RecommendationRequest{}).
			Where("email = ? AND topic = ? AND file_name = ?", email, topic, fileName).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		// Foreign keys are not created at migration time, so children go first.
		if err := txx.Where("request_id IN ?", ids).Delete(&domain.RecommendationPairing{}).Error; err != nil {
			return err
		}
		res := txx.Where("id IN ?", ids).Delete(&domain.RecommendationRequest{})
		if res.Error != nil {
			return res.Error
		}
		deleted = res.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

func (r *recommendationRequestRepo) ListByPathPrefix(dbc dbctx.Context, email, topic, prefix string, limit int) ([]*domain.RecommendationRequest, error) {
	transaction := dbc.Tx
	if transaction == nil {
		transaction = r.db
	}
	var out []*domain.RecommendationRequest
	q := transaction.WithContext(dbc.Ctx).
		Preload("Pairings", func(db *gorm.DB) *gorm.DB {
			return db.Order("position ASC")
		}).
		Where("email = ? AND topic = ? AND file_name LIKE ? ESCAPE '\\'", email, topic, escapeLike(prefix)+"%").
		Order("created_at ASC").
		Order("id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// escapeLike neutralises LIKE wildcards that may appear in emails or topics.
func escapeLike(s string) string {
	var b []byte
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '%', '_':
			b = append(b, '\\')
		}
		b = append(b, s[i])
	}
	return string(b)
}
