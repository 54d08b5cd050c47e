package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsalonen/cinetl/internal/conf"
	"github.com/tsalonen/cinetl/internal/enrich"
	"github.com/tsalonen/cinetl/internal/errors"
	"github.com/tsalonen/cinetl/internal/store"
)

// stubProvider serves canned metadata keyed by lookup title.
type stubProvider struct {
	mu      sync.Mutex
	calls   int
	results map[string]enrich.Result
}

func (s *stubProvider) Lookup(ctx context.Context, title string, year *int) (enrich.Result, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if result, ok := s.results[title]; ok {
		return result, nil
	}
	return enrich.Result{}, errors.Newf("movie not found").
		Component("enrich").
		Category(errors.CategoryNotFound).
		Build()
}

func writeSourceFiles(t *testing.T, movies, ratings string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	moviesPath := filepath.Join(dir, "movies.csv")
	ratingsPath := filepath.Join(dir, "ratings.csv")
	require.NoError(t, os.WriteFile(moviesPath, []byte(movies), 0o644))
	require.NoError(t, os.WriteFile(ratingsPath, []byte(ratings), 0o644))
	return moviesPath, ratingsPath
}

func testSettings(t *testing.T, moviesPath, ratingsPath string) *conf.Settings {
	t.Helper()
	settings := &conf.Settings{}
	settings.Input.MoviesFile = moviesPath
	settings.Input.RatingsFile = ratingsPath
	settings.Input.Delimiter = ","
	settings.Input.GenreSeparator = "|"
	settings.Enrichment.Enabled = true
	settings.Enrichment.Workers = 2
	settings.Enrichment.CacheTTL = time.Minute
	settings.Enrichment.OMDb.RequestsPerSecond = 1000
	settings.Enrichment.OMDb.Burst = 10
	settings.Enrichment.OMDb.MaxRetries = 1
	settings.Enrichment.OMDb.MaxWait = time.Second
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = filepath.Join(t.TempDir(), "movies.db")
	settings.Output.BatchSize = 50
	return settings
}

func openStore(t *testing.T, settings *conf.Settings) store.Interface {
	t.Helper()
	st := store.New(settings)
	require.NoError(t, st.Open())
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func strPtr(s string) *string { return &s }

func TestRunEndToEnd(t *testing.T) {
	moviesPath, ratingsPath := writeSourceFiles(t,
		"movieId,title,genres\n"+
			"1,Inception (2010),Action|Sci-Fi\n",
		"userId,movieId,rating,timestamp\n"+
			"7,1,4.5,100\n"+
			"7,1,5.0,200\n"+
			"7,1,4.5,100\n"+
			"8,99,3.0,300\n")

	settings := testSettings(t, moviesPath, ratingsPath)
	st := openStore(t, settings)

	provider := &stubProvider{results: map[string]enrich.Result{
		"Inception": {
			Found:     true,
			Director:  strPtr("Christopher Nolan"),
			Plot:      strPtr("A thief who steals corporate secrets."),
			BoxOffice: strPtr("$292,587,330"),
		},
	}}
	enricher := enrich.New(settings, provider, nil)

	report, err := New(settings, st, enricher).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), report.MoviesRead())
	assert.Equal(t, int64(4), report.RatingsRead())
	// One movie and two distinct ratings inserted.
	assert.Equal(t, int64(3), report.Inserted())
	// The repeated natural key is skipped in-run.
	assert.Equal(t, int64(1), report.SkippedDuplicate())
	// The rating referencing an unknown movie is rejected.
	assert.Equal(t, int64(1), report.RejectedInvalid())
	assert.Equal(t, int64(0), report.LoadFailed())

	movie, err := st.MovieByID(1)
	require.NoError(t, err)
	require.NotNil(t, movie)
	assert.Equal(t, "Inception (2010)", movie.Title)
	require.NotNil(t, movie.Year)
	assert.Equal(t, 2010, *movie.Year)
	require.NotNil(t, movie.Director)
	assert.Equal(t, "Christopher Nolan", *movie.Director)

	for _, name := range []string{"Action", "Sci-Fi"} {
		genre, err := st.GenreByName(name)
		require.NoError(t, err)
		require.NotNil(t, genre, name)
		linked, err := st.LinkExists(1, genre.GenreID)
		require.NoError(t, err)
		assert.True(t, linked, name)
	}

	for _, ts := range []int64{100, 200} {
		exists, err := st.RatingExists(7, 1, ts)
		require.NoError(t, err)
		assert.True(t, exists)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	moviesPath, ratingsPath := writeSourceFiles(t,
		"movieId,title,genres\n"+
			"1,Inception (2010),Action|Sci-Fi\n",
		"userId,movieId,rating,timestamp\n"+
			"7,1,4.5,100\n"+
			"7,1,5.0,200\n")

	settings := testSettings(t, moviesPath, ratingsPath)
	st := openStore(t, settings)

	provider := &stubProvider{results: map[string]enrich.Result{
		"Inception": {Found: true, Director: strPtr("Christopher Nolan")},
	}}
	enricher := enrich.New(settings, provider, nil)

	first, err := New(settings, st, enricher).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(3), first.Inserted())

	second, err := New(settings, st, enricher).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(0), second.Inserted())
	assert.Equal(t, int64(0), second.Updated())
	// Movie plus both ratings resolve as already present.
	assert.Equal(t, int64(3), second.SkippedDuplicate())
	assert.Equal(t, int64(0), second.LoadFailed())
}

func TestRunDegradesWhenEnrichmentFails(t *testing.T) {
	moviesPath, ratingsPath := writeSourceFiles(t,
		"movieId,title,genres\n"+
			"1,Totally Unknown (2011),Drama\n",
		"userId,movieId,rating,timestamp\n")

	settings := testSettings(t, moviesPath, ratingsPath)
	st := openStore(t, settings)

	provider := &stubProvider{results: map[string]enrich.Result{}}
	enricher := enrich.New(settings, provider, nil)

	report, err := New(settings, st, enricher).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), report.EnrichmentFailed())
	assert.Equal(t, int64(1), report.Inserted())

	// The movie lands without metadata rather than being dropped.
	movie, lookupErr := st.MovieByID(1)
	require.NoError(t, lookupErr)
	require.NotNil(t, movie)
	assert.Nil(t, movie.Director)
	assert.Nil(t, movie.Plot)

	failures := report.Failures()
	require.Len(t, failures, 1)
	assert.Contains(t, failures[0].Reason, "not found")
}

func TestRunWithoutEnrichment(t *testing.T) {
	moviesPath, ratingsPath := writeSourceFiles(t,
		"movieId,title,genres\n"+
			"1,Heat (1995),Action|Crime\n",
		"userId,movieId,rating,timestamp\n"+
			"7,1,4.0,100\n")

	settings := testSettings(t, moviesPath, ratingsPath)
	settings.Enrichment.Enabled = false
	st := openStore(t, settings)

	report, err := New(settings, st, nil).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(2), report.Inserted())
	assert.Equal(t, int64(0), report.EnrichmentFailed())
}

func TestRunMissingMoviesFileIsFatal(t *testing.T) {
	_, ratingsPath := writeSourceFiles(t, "", "")
	settings := testSettings(t, filepath.Join(t.TempDir(), "missing.csv"), ratingsPath)
	st := openStore(t, settings)

	report, err := New(settings, st, nil).Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryFileIO))
	require.NotNil(t, report, "report is returned even on fatal errors")
}

func TestRunInvalidRowsAreCounted(t *testing.T) {
	moviesPath, ratingsPath := writeSourceFiles(t,
		"movieId,title,genres\n"+
			"1,Heat (1995),Action\n"+
			"abc,Bad Id (2000),Drama\n",
		"userId,movieId,rating,timestamp\n"+
			"7,1,9.5,100\n"+
			"7,1,4.0,100\n")

	settings := testSettings(t, moviesPath, ratingsPath)
	settings.Enrichment.Enabled = false
	st := openStore(t, settings)

	report, err := New(settings, st, nil).Run(context.Background())
	require.NoError(t, err)

	// Non-numeric movie id and out-of-range rating are rejected, the valid
	// rows still land.
	assert.Equal(t, int64(2), report.RejectedInvalid())
	assert.Equal(t, int64(2), report.Inserted())

	exists, lookupErr := st.RatingExists(7, 1, 100)
	require.NoError(t, lookupErr)
	assert.True(t, exists)
}
