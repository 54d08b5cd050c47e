// Package loader applies reconciled write sets to the store. One movie
// record's writes - the movie row, new genres, new links - go through a
// single transaction, so a failure rolls the whole record back and leaves
// no dangling foreign keys.
package loader

import (
	"context"
	"log/slog"

	"github.com/tsalonen/cinetl/internal/errors"
	"github.com/tsalonen/cinetl/internal/logging"
	"github.com/tsalonen/cinetl/internal/normalize"
	"github.com/tsalonen/cinetl/internal/reconcile"
	"github.com/tsalonen/cinetl/internal/store"
)

// Outcome describes what applying a write set did.
type Outcome int

const (
	OutcomeUnchanged Outcome = iota // empty write set, store already in line
	OutcomeInserted
	OutcomeUpdated
)

// Loader executes write sets transactionally.
type Loader struct {
	store      store.Interface
	reconciler *reconcile.Reconciler
	logger     *slog.Logger
}

// New creates a Loader writing through st and re-resolving conflicts
// through rec.
func New(st store.Interface, rec *reconcile.Reconciler) *Loader {
	return &Loader{
		store:      st,
		reconciler: rec,
		logger:     logging.ForService("loader"),
	}
}

// ApplyMovie applies one movie write set. A constraint violation - a
// race-created duplicate key - triggers one re-resolution of the record
// against fresh store state and one retry before surfacing a conflict.
func (l *Loader) ApplyMovie(ctx context.Context, rec *normalize.MovieRecord, ws *reconcile.WriteSet) (Outcome, error) {
	outcome, err := l.applyMovieOnce(ctx, ws)
	if err == nil || !store.IsDuplicateKey(err) {
		return outcome, err
	}

	l.logger.Warn("constraint violation, re-resolving record",
		"title", rec.Title,
		"error", err)

	fresh, rerr := l.reconciler.MovieWrites(rec)
	if rerr != nil {
		return OutcomeUnchanged, rerr
	}
	outcome, err = l.applyMovieOnce(ctx, fresh)
	if err != nil && store.IsDuplicateKey(err) {
		return OutcomeUnchanged, errors.New(err).
			Component("loader").
			Category(errors.CategoryConflict).
			Context("title", rec.Title).
			Build()
	}
	return outcome, err
}

func (l *Loader) applyMovieOnce(ctx context.Context, ws *reconcile.WriteSet) (Outcome, error) {
	if ws.Empty() {
		return OutcomeUnchanged, nil
	}
	if err := ctx.Err(); err != nil {
		return OutcomeUnchanged, errors.New(err).
			Component("loader").
			Category(errors.CategoryCancellation).
			Build()
	}

	err := l.store.Transaction(func(tx store.TxStore) error {
		movieID := ws.MovieID
		if ws.Insert {
			movie := ws.Movie
			if err := tx.InsertMovie(&movie); err != nil {
				return err
			}
			movieID = movie.MovieID
		} else if len(ws.Updates) > 0 {
			if err := tx.UpdateMovie(movieID, ws.Updates); err != nil {
				return err
			}
		}

		created := make(map[string]uint, len(ws.Genres))
		for _, gw := range ws.Genres {
			genre := store.Genre{Name: gw.Name}
			if err := tx.InsertGenre(&genre); err != nil {
				return err
			}
			created[normalize.GenreKey(gw.Name)] = genre.GenreID
		}

		for _, lw := range ws.Links {
			genreID := lw.GenreID
			if genreID == 0 {
				genreID = created[normalize.GenreKey(lw.GenreName)]
			}
			if err := tx.InsertLink(&store.MovieGenre{MovieID: movieID, GenreID: genreID}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return OutcomeUnchanged, err
	}

	if ws.Insert {
		return OutcomeInserted, nil
	}
	return OutcomeUpdated, nil
}

// ApplyRatings inserts a batch of staged ratings in one transaction and
// returns how many rows landed. A constraint violation - a race-created
// duplicate natural key - triggers one re-resolution of the batch against
// fresh store state, dropping now-duplicate rows, and one retry before
// surfacing a conflict.
func (l *Loader) ApplyRatings(ctx context.Context, batch []store.Rating) (int, error) {
	err := l.applyRatingsOnce(ctx, batch)
	if err == nil {
		return len(batch), nil
	}
	if !store.IsDuplicateKey(err) {
		return 0, err
	}

	l.logger.Warn("constraint violation, re-resolving ratings batch",
		"batch_size", len(batch),
		"error", err)

	fresh, rerr := l.reresolveRatings(batch)
	if rerr != nil {
		return 0, rerr
	}
	err = l.applyRatingsOnce(ctx, fresh)
	if err != nil {
		if store.IsDuplicateKey(err) {
			return 0, errors.New(err).
				Component("loader").
				Category(errors.CategoryConflict).
				Context("batch_size", len(batch)).
				Build()
		}
		return 0, err
	}
	return len(fresh), nil
}

func (l *Loader) applyRatingsOnce(ctx context.Context, batch []store.Rating) error {
	if len(batch) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return errors.New(err).
			Component("loader").
			Category(errors.CategoryCancellation).
			Build()
	}

	return l.store.Transaction(func(tx store.TxStore) error {
		for i := range batch {
			if err := tx.InsertRating(&batch[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// reresolveRatings re-stages a batch against fresh store state. Rows whose
// natural key is now present are dropped; the rest are rebuilt so the retry
// starts from clean rows.
func (l *Loader) reresolveRatings(batch []store.Rating) ([]store.Rating, error) {
	fresh := make([]store.Rating, 0, len(batch))
	for i := range batch {
		r := batch[i]
		rw, err := l.reconciler.RatingWrites(&normalize.RatingRecord{
			UserID:    r.UserID,
			MovieID:   r.MovieID,
			Rating:    r.Rating,
			Timestamp: r.Timestamp,
		})
		if err != nil {
			return nil, err
		}
		if rw.Duplicate {
			continue
		}
		fresh = append(fresh, rw.Rating)
	}
	return fresh, nil
}
