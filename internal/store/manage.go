package store

import (
	"github.com/tsalonen/cinetl/internal/errors"
	"gorm.io/gorm"
)

// performAutoMigration creates or upgrades the schema: movies, genres,
// movie_genres and ratings, plus the optional enrichment cache.
func performAutoMigration(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&Movie{},
		&Genre{},
		&MovieGenre{},
		&Rating{},
		&EnrichmentCache{},
	); err != nil {
		return errors.New(err).
			Component("store").
			Category(errors.CategoryDatabase).
			Context("operation", "auto_migration").
			Build()
	}
	return nil
}
