package repos

import (
	"gorm.io/gorm"

	"github.com/moises-m-limon/mangalytics/internal/data/repos/recommendation"
	"github.com/moises-m-limon/mangalytics/internal/platform/logger"
)

type RecommendationRequestRepo = recommendation.RecommendationRequestRepo
type RecommendationPairingRepo = recommendation.RecommendationPairingRepo

func NewRecommendationRequestRepo(db *gorm.DB, baseLog *logger.Logger) RecommendationRequestRepo {
	return recommendation.NewRecommendationRequestRepo(db, baseLog)
}
func NewRecommendationPairingRepo(db *gorm.DB, baseLog *logger.Logger) RecommendationPairingRepo {
	return recommendation.NewRecommendationPairingRepo(db, baseLog)
}
