// Package normalize turns raw file rows into typed records: type coercion,
// title cleaning, year extraction and genre splitting.
package normalize

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/tsalonen/cinetl/internal/errors"
	"github.com/tsalonen/cinetl/internal/reader"
)

// MovieRecord is a normalized movie ready for enrichment and reconciliation.
type MovieRecord struct {
	SourceID    uint    // id from the movies file, 0 when absent or unusable
	Title       string  // title as stored, including any year suffix
	LookupTitle string  // cleaned title used for enrichment lookups
	Year        *int    // extracted from a trailing parenthetical, nil when absent
	Genres      []string // deduplicated, first-seen casing preserved

	// Filled by enrichment, nil until then.
	Director  *string
	Plot      *string
	BoxOffice *string
}

// RatingRecord is a normalized rating event.
type RatingRecord struct {
	UserID    uint
	MovieID   uint
	Rating    float64
	Timestamp int64 // epoch seconds
}

// Rating bounds follow the source dataset convention: half-star steps from
// 0.5 to 5.0.
const (
	ratingMin  = 0.5
	ratingMax  = 5.0
	ratingStep = 0.5
)

var (
	yearSuffixRe = regexp.MustCompile(`\((\d{4})\)\s*$`)
	akaRe        = regexp.MustCompile(`(?i)\(a\.k\.a\.[^)]*\)`)
	parenRe      = regexp.MustCompile(`\([^)]*\)`)
)

// manualLookupTitles overrides cleaned titles whose catalog form never
// matches the metadata provider's records.
var manualLookupTitles = map[string]string{
	"Lawnmower Man 2: Beyond Cyberspace": "Lawnmower Man 2",
	"In the Bleak Midwinter":             "A Midwinter's Tale",
	"Misérables, Les":                    "Les Misérables",
}

// noGenresSentinel marks rows whose source has no genre information.
const noGenresSentinel = "(no genres listed)"

// Normalizer cleans raw rows into records. genreSep is the separator inside
// the genres column, usually "|".
type Normalizer struct {
	genreSep string
}

// New creates a Normalizer splitting genres on the given separator.
func New(genreSep string) *Normalizer {
	if genreSep == "" {
		genreSep = "|"
	}
	return &Normalizer{genreSep: genreSep}
}

// Movie normalizes one raw movie row. A missing year is not an error: the
// record proceeds and enrichment is keyed on title alone.
func (n *Normalizer) Movie(raw reader.RawMovie) (MovieRecord, error) {
	rec := MovieRecord{
		Title:  strings.TrimSpace(raw.Title),
		Genres: n.splitGenres(raw.Genres),
	}
	if rec.Title == "" {
		return MovieRecord{}, invalidRecord("movie has an empty title", raw.Line)
	}

	if raw.ID != "" {
		id, err := strconv.ParseUint(raw.ID, 10, 32)
		if err != nil {
			return MovieRecord{}, invalidRecord("movie id is not numeric", raw.Line)
		}
		rec.SourceID = uint(id)
	}

	if m := yearSuffixRe.FindStringSubmatch(rec.Title); m != nil {
		year, err := strconv.Atoi(m[1])
		if err == nil {
			rec.Year = &year
		}
	}

	rec.LookupTitle = CleanTitle(rec.Title)
	if override, ok := manualLookupTitles[rec.LookupTitle]; ok {
		rec.LookupTitle = override
	}
	return rec, nil
}

// Rating normalizes one raw rating row, rejecting values outside the valid
// range as InvalidRating.
func (n *Normalizer) Rating(raw reader.RawRating) (RatingRecord, error) {
	userID, err := strconv.ParseUint(raw.UserID, 10, 32)
	if err != nil {
		return RatingRecord{}, invalidRecord("user id is not numeric", raw.Line)
	}
	movieID, err := strconv.ParseUint(raw.MovieID, 10, 32)
	if err != nil {
		return RatingRecord{}, invalidRecord("movie id is not numeric", raw.Line)
	}
	value, err := strconv.ParseFloat(raw.Rating, 64)
	if err != nil {
		return RatingRecord{}, invalidRecord("rating is not numeric", raw.Line)
	}
	if value < ratingMin || value > ratingMax || !isHalfStep(value) {
		return RatingRecord{}, errors.Newf("invalid rating %v, valid range is %v-%v in %v steps", value, ratingMin, ratingMax, ratingStep).
			Component("normalize").
			Category(errors.CategoryValidation).
			Context("line", raw.Line).
			Build()
	}
	timestamp, err := strconv.ParseInt(raw.Timestamp, 10, 64)
	if err != nil {
		return RatingRecord{}, invalidRecord("timestamp is not numeric", raw.Line)
	}

	return RatingRecord{
		UserID:    uint(userID),
		MovieID:   uint(movieID),
		Rating:    value,
		Timestamp: timestamp,
	}, nil
}

// CleanTitle prepares a catalog title for external lookup: drops a.k.a.
// notes and other parentheticals (including the year suffix) and moves a
// trailing article back to the front, so "Matrix, The (1999)" becomes
// "The Matrix".
func CleanTitle(title string) string {
	title = akaRe.ReplaceAllString(title, "")
	title = parenRe.ReplaceAllString(title, "")
	title = strings.TrimSpace(title)
	return transposeArticle(title)
}

func transposeArticle(title string) string {
	for _, article := range []string{"The", "A", "An"} {
		suffix := ", " + article
		if strings.HasSuffix(title, suffix) {
			return article + " " + strings.TrimSuffix(title, suffix)
		}
	}
	return title
}

// GenreKey returns the case-normalized dedup key for a genre name.
func GenreKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// splitGenres splits the raw genre column, trims tokens, drops empties and
// the no-genres sentinel, and dedups case-insensitively keeping the
// first-seen casing as the canonical display form.
func (n *Normalizer) splitGenres(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	seen := make(map[string]struct{})
	var genres []string
	for _, token := range strings.Split(raw, n.genreSep) {
		token = strings.TrimSpace(token)
		if token == "" || strings.EqualFold(token, noGenresSentinel) {
			continue
		}
		key := GenreKey(token)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		genres = append(genres, token)
	}
	return genres
}

func isHalfStep(value float64) bool {
	scaled := value / ratingStep
	return math.Abs(scaled-math.Round(scaled)) < 1e-9
}

func invalidRecord(msg string, line int) error {
	return errors.Newf("%s", msg).
		Component("normalize").
		Category(errors.CategoryValidation).
		Context("line", line).
		Build()
}
