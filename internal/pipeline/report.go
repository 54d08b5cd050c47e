package pipeline

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Report aggregates per-record outcomes for one run. Counters are atomic so
// enrichment workers and the writer can update them concurrently.
type Report struct {
	moviesRead       atomic.Int64
	ratingsRead      atomic.Int64
	inserted         atomic.Int64
	updated          atomic.Int64
	skippedDuplicate atomic.Int64
	enrichmentFailed atomic.Int64
	rejectedInvalid  atomic.Int64
	loadFailed       atomic.Int64

	mu       sync.Mutex
	failures []Failure
}

// Failure identifies one rejected or failed record so an operator can
// inspect or re-run without re-deriving state.
type Failure struct {
	Record string // record identifier, e.g. a title or file line
	Reason string
}

// MoviesRead returns the number of movie rows read from the source.
func (r *Report) MoviesRead() int64 { return r.moviesRead.Load() }

// RatingsRead returns the number of rating rows read from the source.
func (r *Report) RatingsRead() int64 { return r.ratingsRead.Load() }

// Inserted returns the number of records inserted (movies and ratings).
func (r *Report) Inserted() int64 { return r.inserted.Load() }

// Updated returns the number of movie records updated in place.
func (r *Report) Updated() int64 { return r.updated.Load() }

// SkippedDuplicate returns the number of records skipped as already present.
func (r *Report) SkippedDuplicate() int64 { return r.skippedDuplicate.Load() }

// EnrichmentFailed returns the number of movies loaded without metadata.
func (r *Report) EnrichmentFailed() int64 { return r.enrichmentFailed.Load() }

// RejectedInvalid returns the number of records rejected as invalid.
func (r *Report) RejectedInvalid() int64 { return r.rejectedInvalid.Load() }

// LoadFailed returns the number of records whose writes failed.
func (r *Report) LoadFailed() int64 { return r.loadFailed.Load() }

// Failures returns a copy of the failed record list.
func (r *Report) Failures() []Failure {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Failure, len(r.failures))
	copy(out, r.failures)
	return out
}

func (r *Report) addFailure(record, reason string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures = append(r.failures, Failure{Record: record, Reason: reason})
}

// LogValue implements slog.LogValuer for structured logging.
func (r *Report) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("movies_read", r.MoviesRead()),
		slog.Int64("ratings_read", r.RatingsRead()),
		slog.Int64("inserted", r.Inserted()),
		slog.Int64("updated", r.Updated()),
		slog.Int64("skipped_duplicate", r.SkippedDuplicate()),
		slog.Int64("enrichment_failed", r.EnrichmentFailed()),
		slog.Int64("rejected_invalid", r.RejectedInvalid()),
		slog.Int64("load_failed", r.LoadFailed()),
	)
}
