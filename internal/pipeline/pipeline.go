// Package pipeline sequences reader, normalizer, enrichment, reconciler and
// loader into one run. Enrichment is the only concurrent stage; every write
// goes through a single writer goroutine, so all operations for one natural
// key are totally ordered.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tsalonen/cinetl/internal/conf"
	"github.com/tsalonen/cinetl/internal/enrich"
	"github.com/tsalonen/cinetl/internal/errors"
	"github.com/tsalonen/cinetl/internal/loader"
	"github.com/tsalonen/cinetl/internal/logging"
	"github.com/tsalonen/cinetl/internal/normalize"
	"github.com/tsalonen/cinetl/internal/reader"
	"github.com/tsalonen/cinetl/internal/reconcile"
	"github.com/tsalonen/cinetl/internal/store"
	"golang.org/x/sync/errgroup"
)

// Pipeline wires the run. Construct with New, run once with Run.
type Pipeline struct {
	settings   *conf.Settings
	reader     *reader.Reader
	normalizer *normalize.Normalizer
	enricher   *enrich.Client // nil when enrichment is disabled
	store      store.Interface
	reconciler *reconcile.Reconciler
	loader     *loader.Loader
	logger     *slog.Logger
}

// New creates a Pipeline over an opened store. enricher may be nil to load
// without external metadata.
func New(settings *conf.Settings, st store.Interface, enricher *enrich.Client) *Pipeline {
	reconciler := reconcile.New(st)
	return &Pipeline{
		settings:   settings,
		reader:     reader.New(settings),
		normalizer: normalize.New(settings.Input.GenreSeparator),
		enricher:   enricher,
		store:      st,
		reconciler: reconciler,
		loader:     loader.New(st, reconciler),
		logger:     logging.ForService("pipeline"),
	}
}

// Run executes one full pass: movies first so ratings can resolve their
// foreign keys, then ratings. The report is always returned, also alongside
// a fatal error.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	if timeout := p.settings.Pipeline.RunTimeout; timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	report := &Report{}

	if err := p.runMovies(ctx, report); err != nil {
		return report, err
	}
	if err := p.runRatings(ctx, report); err != nil {
		return report, err
	}

	p.logger.Info("run complete", "report", report)
	return report, nil
}

// runMovies streams movie rows through normalization, a bounded enrichment
// worker pool and the single writer.
func (p *Pipeline) runMovies(ctx context.Context, report *Report) error {
	workers := p.settings.Enrichment.Workers
	if workers < 1 || p.enricher == nil {
		workers = 1
	}

	jobs := make(chan *normalize.MovieRecord)
	staged := make(chan *normalize.MovieRecord, workers)

	g, gctx := errgroup.WithContext(ctx)

	// Producer: read and normalize. Only an unreadable source is fatal.
	g.Go(func() error {
		defer close(jobs)
		for raw, err := range p.reader.Movies(p.settings.Input.MoviesFile) {
			if err != nil {
				if errors.HasCategory(err, errors.CategoryFileIO) {
					return err
				}
				report.rejectedInvalid.Add(1)
				report.addFailure(recordID("movies", err), err.Error())
				continue
			}
			report.moviesRead.Add(1)
			rec, nerr := p.normalizer.Movie(raw)
			if nerr != nil {
				report.rejectedInvalid.Add(1)
				report.addFailure(raw.Title, nerr.Error())
				continue
			}
			select {
			case jobs <- &rec:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	// Enrichment workers: the only suspension points in the run.
	var workersWG sync.WaitGroup
	for range workers {
		workersWG.Add(1)
		g.Go(func() error {
			defer workersWG.Done()
			for rec := range jobs {
				p.enrichRecord(gctx, rec, report)
				select {
				case staged <- rec:
				case <-gctx.Done():
					return gctx.Err()
				}
			}
			return nil
		})
	}
	go func() {
		workersWG.Wait()
		close(staged)
	}()

	// Single writer: resolution and apply are totally ordered per key. On
	// cancellation it stops picking up new records but lets the in-flight
	// transaction finish.
	g.Go(func() error {
		for rec := range staged {
			if gctx.Err() != nil {
				continue // drain without writing
			}
			p.applyMovie(gctx, rec, report)
		}
		return nil
	})

	return g.Wait()
}

// enrichRecord fetches metadata for one record. Any enrichment failure
// degrades to loading the movie unenriched; it never stops the record.
func (p *Pipeline) enrichRecord(ctx context.Context, rec *normalize.MovieRecord, report *Report) {
	if p.enricher == nil {
		return
	}
	result, err := p.enricher.Fetch(ctx, rec.LookupTitle, rec.Year)
	if err != nil {
		if errors.HasCategory(err, errors.CategoryCancellation) {
			return
		}
		report.enrichmentFailed.Add(1)
		report.addFailure(rec.Title, err.Error())
		return
	}
	rec.Director = result.Director
	rec.Plot = result.Plot
	rec.BoxOffice = result.BoxOffice
}

func (p *Pipeline) applyMovie(ctx context.Context, rec *normalize.MovieRecord, report *Report) {
	ws, err := p.reconciler.MovieWrites(rec)
	if err != nil {
		report.loadFailed.Add(1)
		report.addFailure(rec.Title, err.Error())
		return
	}
	if ws.Empty() {
		report.skippedDuplicate.Add(1)
		return
	}
	outcome, err := p.loader.ApplyMovie(ctx, rec, ws)
	if err != nil {
		report.loadFailed.Add(1)
		report.addFailure(rec.Title, err.Error())
		return
	}
	switch outcome {
	case loader.OutcomeInserted:
		report.inserted.Add(1)
	case loader.OutcomeUpdated:
		report.updated.Add(1)
	default:
		report.skippedDuplicate.Add(1)
	}
}

// ratingKey is the natural dedup key for ratings staged in this run but not
// yet visible in the store.
type ratingKey struct {
	userID    uint
	movieID   uint
	timestamp int64
}

// runRatings streams rating rows through normalization and reconciliation
// and applies staged inserts in batches. No enrichment is involved, so the
// stage is synchronous.
func (p *Pipeline) runRatings(ctx context.Context, report *Report) error {
	batchSize := p.settings.Output.BatchSize
	if batchSize < 1 {
		batchSize = 1
	}

	stagedKeys := make(map[ratingKey]struct{})
	batch := make([]store.Rating, 0, batchSize)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		inserted, err := p.loader.ApplyRatings(ctx, batch)
		if err != nil {
			report.loadFailed.Add(int64(len(batch)))
			report.addFailure(fmt.Sprintf("ratings batch (%d rows)", len(batch)), err.Error())
		} else {
			report.inserted.Add(int64(inserted))
			// Rows dropped at re-resolution were created by a concurrent
			// writer, they count as duplicates, not failures.
			if dropped := len(batch) - inserted; dropped > 0 {
				report.skippedDuplicate.Add(int64(dropped))
			}
		}
		batch = batch[:0]
	}

	for raw, err := range p.reader.Ratings(p.settings.Input.RatingsFile) {
		if cerr := ctx.Err(); cerr != nil {
			flush()
			return cerr
		}
		if err != nil {
			if errors.HasCategory(err, errors.CategoryFileIO) {
				flush()
				return err
			}
			report.rejectedInvalid.Add(1)
			report.addFailure(recordID("ratings", err), err.Error())
			continue
		}
		report.ratingsRead.Add(1)

		rec, nerr := p.normalizer.Rating(raw)
		if nerr != nil {
			report.rejectedInvalid.Add(1)
			report.addFailure(fmt.Sprintf("ratings line %d", raw.Line), nerr.Error())
			continue
		}

		key := ratingKey{userID: rec.UserID, movieID: rec.MovieID, timestamp: rec.Timestamp}
		if _, dup := stagedKeys[key]; dup {
			report.skippedDuplicate.Add(1)
			continue
		}

		rw, rerr := p.reconciler.RatingWrites(&rec)
		if rerr != nil {
			if errors.HasCategory(rerr, errors.CategoryValidation) {
				report.rejectedInvalid.Add(1)
			} else {
				report.loadFailed.Add(1)
			}
			report.addFailure(fmt.Sprintf("ratings line %d", raw.Line), rerr.Error())
			continue
		}
		if rw.Duplicate {
			report.skippedDuplicate.Add(1)
			continue
		}

		stagedKeys[key] = struct{}{}
		batch = append(batch, rw.Rating)
		if len(batch) >= batchSize {
			flush()
		}
	}

	flush()
	return nil
}

// recordID builds a failure identifier from the error's source context.
func recordID(source string, err error) string {
	var ee *errors.EnhancedError
	if errors.As(err, &ee) {
		if line, ok := ee.Context["line"]; ok {
			return fmt.Sprintf("%s line %v", source, line)
		}
	}
	return source
}
