// Package reconcile computes the minimal write set that brings the store in
// line with an incoming record without duplication. Write sets are plain
// values: given the same record and the same store state, the same set
// comes out, and nothing is written until the loader applies it.
package reconcile

import (
	"github.com/tsalonen/cinetl/internal/errors"
	"github.com/tsalonen/cinetl/internal/normalize"
	"github.com/tsalonen/cinetl/internal/store"
)

// StateReader is the slice of the store the reconciler reads. The store's
// DataStore satisfies it both outside and inside transactions.
type StateReader interface {
	MovieByTitleYear(title string, year *int) (*store.Movie, error)
	MovieExists(id uint) (bool, error)
	GenreByName(name string) (*store.Genre, error)
	LinkExists(movieID, genreID uint) (bool, error)
	RatingExists(userID, movieID uint, timestamp int64) (bool, error)
}

// GenreWrite stages creation of a genre that does not exist yet.
type GenreWrite struct {
	Name string // canonical display form, first-seen casing
}

// LinkWrite stages one movie-genre link. GenreID is zero when the genre is
// created in the same write set; the loader resolves it by name at apply
// time.
type LinkWrite struct {
	GenreName string
	GenreID   uint
}

// WriteSet is the staged writes for one movie record.
type WriteSet struct {
	Insert  bool           // stage a movie insert rather than an update
	Movie   store.Movie    // full row for insert
	MovieID uint           // resolved id for updates, 0 for inserts without a source id
	Updates map[string]any // column -> value diff, only changed non-null fields
	Genres  []GenreWrite
	Links   []LinkWrite
}

// Empty reports whether applying the set would write nothing.
func (ws *WriteSet) Empty() bool {
	return !ws.Insert && len(ws.Updates) == 0 && len(ws.Genres) == 0 && len(ws.Links) == 0
}

// RatingWrite is the staged outcome for one rating record.
type RatingWrite struct {
	Duplicate bool // natural key already present, nothing to write
	Rating    store.Rating
}

// Reconciler resolves records against current store state.
type Reconciler struct {
	state StateReader
}

// New creates a Reconciler reading through the given state.
func New(state StateReader) *Reconciler {
	return &Reconciler{state: state}
}

// MovieWrites resolves one movie record by natural key (title, year) and
// stages the minimal writes: an insert when the movie is new, otherwise a
// field-level diff where only changed, non-null incoming fields overwrite.
func (r *Reconciler) MovieWrites(rec *normalize.MovieRecord) (*WriteSet, error) {
	existing, err := r.state.MovieByTitleYear(rec.Title, rec.Year)
	if err != nil {
		return nil, err
	}

	ws := &WriteSet{}
	if existing == nil {
		ws.Insert = true
		ws.Movie = store.Movie{
			MovieID:   rec.SourceID,
			Title:     rec.Title,
			Year:      rec.Year,
			Director:  rec.Director,
			Plot:      rec.Plot,
			BoxOffice: rec.BoxOffice,
		}
		if rec.SourceID != 0 {
			// The source id is reused as the surrogate key unless another
			// movie already took it; then SQLite allocates one instead.
			taken, err := r.state.MovieExists(rec.SourceID)
			if err != nil {
				return nil, err
			}
			if taken {
				ws.Movie.MovieID = 0
			}
		}
	} else {
		ws.MovieID = existing.MovieID
		ws.Updates = diffMovie(existing, rec)
	}

	if err := r.stageGenres(ws, existing, rec.Genres); err != nil {
		return nil, err
	}
	return ws, nil
}

// stageGenres resolves each genre name and stages creates for unseen genres
// and links for missing pairs. Staging the same pair twice collapses.
func (r *Reconciler) stageGenres(ws *WriteSet, existing *store.Movie, genres []string) error {
	staged := make(map[string]struct{})
	for _, name := range genres {
		key := normalize.GenreKey(name)
		if _, dup := staged[key]; dup {
			continue
		}
		staged[key] = struct{}{}

		genre, err := r.state.GenreByName(name)
		if err != nil {
			return err
		}
		if genre == nil {
			ws.Genres = append(ws.Genres, GenreWrite{Name: name})
			ws.Links = append(ws.Links, LinkWrite{GenreName: name})
			continue
		}
		if existing != nil {
			linked, err := r.state.LinkExists(existing.MovieID, genre.GenreID)
			if err != nil {
				return err
			}
			if linked {
				continue
			}
		}
		ws.Links = append(ws.Links, LinkWrite{GenreName: name, GenreID: genre.GenreID})
	}
	return nil
}

// diffMovie computes the update map. An existing value is never nulled out
// by a missing incoming one.
func diffMovie(existing *store.Movie, rec *normalize.MovieRecord) map[string]any {
	updates := make(map[string]any)
	stageField(updates, "director", existing.Director, rec.Director)
	stageField(updates, "plot", existing.Plot, rec.Plot)
	stageField(updates, "box_office", existing.BoxOffice, rec.BoxOffice)
	if len(updates) == 0 {
		return nil
	}
	return updates
}

func stageField(updates map[string]any, column string, existing, incoming *string) {
	if incoming == nil {
		return
	}
	if existing != nil && *existing == *incoming {
		return
	}
	updates[column] = *incoming
}

// RatingWrites resolves one rating record. A rating referencing a movie the
// store has never seen is rejected; a natural-key duplicate is a silent
// skip so re-running the ratings file is a no-op.
func (r *Reconciler) RatingWrites(rec *normalize.RatingRecord) (*RatingWrite, error) {
	exists, err := r.state.MovieExists(rec.MovieID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errors.Newf("rating references unknown movie %d", rec.MovieID).
			Component("reconcile").
			Category(errors.CategoryValidation).
			Context("user_id", rec.UserID).
			Context("movie_id", rec.MovieID).
			Build()
	}

	duplicate, err := r.state.RatingExists(rec.UserID, rec.MovieID, rec.Timestamp)
	if err != nil {
		return nil, err
	}
	if duplicate {
		return &RatingWrite{Duplicate: true}, nil
	}

	return &RatingWrite{
		Rating: store.Rating{
			UserID:    rec.UserID,
			MovieID:   rec.MovieID,
			Rating:    rec.Rating,
			Timestamp: rec.Timestamp,
		},
	}, nil
}
