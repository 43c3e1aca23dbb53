package db

import (
	"gorm.io/gorm"

	"github.com/moises-m-limon/mangalytics/internal/domain"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(
		&domain.RecommendationRequest{},
		&domain.RecommendationPairing{},
	)
}
