package app

import (
	"gorm.io/gorm"

	"github.com/moises-m-limon/mangalytics/internal/data/repos"
	"github.com/moises-m-limon/mangalytics/internal/platform/logger"
)

type Repos struct {
	RecommendationRequest repos.RecommendationRequestRepo
	RecommendationPairing repos.RecommendationPairingRepo
}

func wireRepos(db *gorm.DB, log *logger.Logger) Repos {
	log.Info("Wiring repos...")
	return Repos{
		RecommendationRequest: repos.NewRecommendationRequestRepo(db, log),
		RecommendationPairing: repos.NewRecommendationPairingRepo(db, log),
	}
}
