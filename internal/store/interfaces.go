// interfaces.go: this code defines the interface for the store operations
package store

import (
	"github.com/tsalonen/cinetl/internal/conf"
	"github.com/tsalonen/cinetl/internal/errors"
	"gorm.io/gorm"
)

// TxStore is the subset of store operations that is valid both on the open
// store and inside a transaction. The reconciler reads through it, the
// loader writes through it.
type TxStore interface {
	MovieByID(id uint) (*Movie, error)
	MovieByTitleYear(title string, year *int) (*Movie, error)
	MovieExists(id uint) (bool, error)
	GenreByName(name string) (*Genre, error)
	LinkExists(movieID, genreID uint) (bool, error)
	RatingExists(userID, movieID uint, timestamp int64) (bool, error)

	InsertMovie(m *Movie) error
	UpdateMovie(id uint, fields map[string]any) error
	InsertGenre(g *Genre) error
	InsertLink(l *MovieGenre) error
	InsertRating(r *Rating) error

	GetEnrichmentCache(key string) (*EnrichmentCache, error)
	SaveEnrichmentCache(entry *EnrichmentCache) error
	GetAllEnrichmentCaches() ([]EnrichmentCache, error)
}

// Interface abstracts the underlying database implementation.
type Interface interface {
	TxStore
	Open() error
	Close() error
	Transaction(fn func(tx TxStore) error) error
}

// DataStore implements TxStore using a GORM database.
type DataStore struct {
	DB *gorm.DB // GORM database instance
}

// New creates a new store instance based on the provided configuration.
func New(settings *conf.Settings) Interface {
	switch {
	case settings.Output.SQLite.Enabled:
		return &SQLiteStore{
			Settings: settings,
		}
	default:
		return nil
	}
}

// Transaction runs fn inside a database transaction. The TxStore passed to
// fn shares the transaction; an error from fn rolls everything back.
func (ds *DataStore) Transaction(fn func(tx TxStore) error) error {
	return ds.DB.Transaction(func(tx *gorm.DB) error {
		return fn(&DataStore{DB: tx})
	})
}

// MovieByID retrieves a movie by its surrogate id, or nil when absent.
func (ds *DataStore) MovieByID(id uint) (*Movie, error) {
	var movie Movie
	err := ds.DB.Where("movie_id = ?", id).First(&movie).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError(err, "get_movie_by_id")
	}
	return &movie, nil
}

// MovieByTitleYear retrieves a movie by its natural key, or nil when absent.
// A nil year matches only rows whose year is NULL.
func (ds *DataStore) MovieByTitleYear(title string, year *int) (*Movie, error) {
	var movie Movie
	query := ds.DB.Where("title = ?", title)
	if year != nil {
		query = query.Where("year = ?", *year)
	} else {
		query = query.Where("year IS NULL")
	}
	err := query.First(&movie).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError(err, "get_movie_by_natural_key")
	}
	return &movie, nil
}

// MovieExists reports whether a movie row with the given id exists.
func (ds *DataStore) MovieExists(id uint) (bool, error) {
	var count int64
	if err := ds.DB.Model(&Movie{}).Where("movie_id = ?", id).Count(&count).Error; err != nil {
		return false, dbError(err, "movie_exists")
	}
	return count > 0, nil
}

// GenreByName retrieves a genre by name, case-insensitively, or nil when
// absent. The stored row keeps its original casing.
func (ds *DataStore) GenreByName(name string) (*Genre, error) {
	var genre Genre
	err := ds.DB.Where("LOWER(name) = LOWER(?)", name).First(&genre).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError(err, "get_genre_by_name")
	}
	return &genre, nil
}

// LinkExists reports whether the (movie, genre) pair is already linked.
func (ds *DataStore) LinkExists(movieID, genreID uint) (bool, error) {
	var count int64
	err := ds.DB.Model(&MovieGenre{}).
		Where("movie_id = ? AND genre_id = ?", movieID, genreID).
		Count(&count).Error
	if err != nil {
		return false, dbError(err, "link_exists")
	}
	return count > 0, nil
}

// RatingExists reports whether a rating with the given natural key exists.
func (ds *DataStore) RatingExists(userID, movieID uint, timestamp int64) (bool, error) {
	var count int64
	err := ds.DB.Model(&Rating{}).
		Where("user_id = ? AND movie_id = ? AND timestamp = ?", userID, movieID, timestamp).
		Count(&count).Error
	if err != nil {
		return false, dbError(err, "rating_exists")
	}
	return count > 0, nil
}

// InsertMovie inserts a movie row. A zero MovieID lets SQLite allocate the
// next id; the assigned id is written back to m.
func (ds *DataStore) InsertMovie(m *Movie) error {
	if err := ds.DB.Create(m).Error; err != nil {
		return dbError(err, "insert_movie")
	}
	return nil
}

// UpdateMovie applies a column-to-value map to one movie row.
func (ds *DataStore) UpdateMovie(id uint, fields map[string]any) error {
	if len(fields) == 0 {
		return nil
	}
	err := ds.DB.Model(&Movie{}).Where("movie_id = ?", id).Updates(fields).Error
	if err != nil {
		return dbError(err, "update_movie")
	}
	return nil
}

// InsertGenre inserts a genre row and writes the assigned id back to g.
func (ds *DataStore) InsertGenre(g *Genre) error {
	if err := ds.DB.Create(g).Error; err != nil {
		return dbError(err, "insert_genre")
	}
	return nil
}

// InsertLink inserts a movie-genre link row.
func (ds *DataStore) InsertLink(l *MovieGenre) error {
	if err := ds.DB.Create(l).Error; err != nil {
		return dbError(err, "insert_link")
	}
	return nil
}

// InsertRating inserts a rating row.
func (ds *DataStore) InsertRating(r *Rating) error {
	if err := ds.DB.Create(r).Error; err != nil {
		return dbError(err, "insert_rating")
	}
	return nil
}

// GetEnrichmentCache retrieves a cached enrichment entry, or nil when absent.
func (ds *DataStore) GetEnrichmentCache(key string) (*EnrichmentCache, error) {
	var entry EnrichmentCache
	err := ds.DB.Where("cache_key = ?", key).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, dbError(err, "get_enrichment_cache")
	}
	return &entry, nil
}

// SaveEnrichmentCache inserts or replaces a cached enrichment entry by key.
func (ds *DataStore) SaveEnrichmentCache(entry *EnrichmentCache) error {
	existing, err := ds.GetEnrichmentCache(entry.CacheKey)
	if err != nil {
		return err
	}
	if existing != nil {
		entry.ID = existing.ID
	}
	if err := ds.DB.Save(entry).Error; err != nil {
		return dbError(err, "save_enrichment_cache")
	}
	return nil
}

// GetAllEnrichmentCaches retrieves all cached enrichment entries.
func (ds *DataStore) GetAllEnrichmentCaches() ([]EnrichmentCache, error) {
	var entries []EnrichmentCache
	if err := ds.DB.Find(&entries).Error; err != nil {
		return nil, dbError(err, "get_all_enrichment_caches")
	}
	return entries, nil
}

// IsDuplicateKey reports whether err is a unique or primary key violation.
// TranslateError is enabled on the gorm connection so driver errors arrive
// as gorm.ErrDuplicatedKey.
func IsDuplicateKey(err error) bool {
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

func dbError(err error, operation string) error {
	return errors.New(err).
		Component("store").
		Category(errors.CategoryDatabase).
		Context("operation", operation).
		Build()
}
