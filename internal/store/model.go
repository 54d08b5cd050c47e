// model.go defines the relational data model for the merged movie dataset.
package store

import "time"

// Movie is one row of the movies table. MovieID is taken from the source
// file when one is present, otherwise SQLite allocates the next id. Director,
// plot and box office stay NULL until enrichment fills them.
type Movie struct {
	MovieID   uint    `gorm:"column:movie_id;primaryKey"`
	Title     string  `gorm:"not null;index:idx_movies_title_year"`
	Year      *int    `gorm:"index:idx_movies_title_year"`
	Director  *string
	Plot      *string
	BoxOffice *string `gorm:"column:box_office"`
}

func (Movie) TableName() string { return "movies" }

// Genre is one row of the genres table. Name uniqueness is case-insensitive,
// enforced by lookups through GenreByName; the unique index is the backstop.
type Genre struct {
	GenreID uint   `gorm:"column:genre_id;primaryKey;autoIncrement"`
	Name    string `gorm:"uniqueIndex;not null"`
}

func (Genre) TableName() string { return "genres" }

// MovieGenre links a movie to a genre. The composite primary key makes
// duplicate pairs impossible to insert.
type MovieGenre struct {
	MovieID uint   `gorm:"column:movie_id;primaryKey;autoIncrement:false"`
	GenreID uint   `gorm:"column:genre_id;primaryKey;autoIncrement:false"`
	Movie   *Movie `gorm:"foreignKey:MovieID;references:MovieID;constraint:OnDelete:CASCADE"`
	Genre   *Genre `gorm:"foreignKey:GenreID;references:GenreID;constraint:OnDelete:CASCADE"`
}

func (MovieGenre) TableName() string { return "movie_genres" }

// Rating is one row of the ratings table. RatingID is the surrogate key;
// (user_id, movie_id, timestamp) is the natural dedup key.
type Rating struct {
	RatingID  uint    `gorm:"column:rating_id;primaryKey;autoIncrement"`
	UserID    uint    `gorm:"column:user_id;not null;uniqueIndex:idx_ratings_natural_key"`
	MovieID   uint    `gorm:"column:movie_id;not null;uniqueIndex:idx_ratings_natural_key"`
	Rating    float64 `gorm:"not null"`
	Timestamp int64   `gorm:"not null;uniqueIndex:idx_ratings_natural_key"`
	Movie     *Movie  `gorm:"foreignKey:MovieID;references:MovieID;constraint:OnDelete:CASCADE"`
}

func (Rating) TableName() string { return "ratings" }

// EnrichmentCache persists enrichment results between runs when the
// persistent cache is enabled. Terminal failures are cached too so a known
// missing title is not refetched on every run.
type EnrichmentCache struct {
	ID            uint   `gorm:"primaryKey"`
	CacheKey      string `gorm:"column:cache_key;uniqueIndex;not null"`
	Title         string
	Year          *int
	Found         bool
	Director      *string
	Plot          *string
	BoxOffice     *string `gorm:"column:box_office"`
	FailureReason string
	CachedAt      time.Time
}

func (EnrichmentCache) TableName() string { return "enrichment_caches" }
