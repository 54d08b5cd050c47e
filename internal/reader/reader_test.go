package reader

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsalonen/cinetl/internal/conf"
	"github.com/tsalonen/cinetl/internal/errors"
)

func newTestReader() *Reader {
	settings := &conf.Settings{}
	settings.Input.Delimiter = ","
	settings.Input.Encoding = "utf-8"
	return New(settings)
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestMoviesHeaderAndQuoting(t *testing.T) {
	path := writeFile(t, "movies.csv",
		"movieId,title,genres\n"+
			"1,Inception (2010),Action|Sci-Fi\n"+
			"2,\"American President, The (1995)\",Comedy|Drama|Romance\n")

	r := newTestReader()
	var movies []RawMovie
	for raw, err := range r.Movies(path) {
		require.NoError(t, err)
		movies = append(movies, raw)
	}

	require.Len(t, movies, 2)
	assert.Equal(t, 2, movies[0].Line)
	assert.Equal(t, "1", movies[0].ID)
	assert.Equal(t, "Inception (2010)", movies[0].Title)
	assert.Equal(t, "Action|Sci-Fi", movies[0].Genres)
	assert.Equal(t, "American President, The (1995)", movies[1].Title)
}

func TestMoviesMalformedRowsAreNotFatal(t *testing.T) {
	path := writeFile(t, "movies.csv",
		"movieId,title,genres\n"+
			"1,Inception (2010),Action\n"+
			"2\n"+
			"3,,Drama\n"+
			"4,Heat (1995),Action\n")

	r := newTestReader()
	var movies []RawMovie
	var rowErrs []error
	for raw, err := range r.Movies(path) {
		if err != nil {
			rowErrs = append(rowErrs, err)
			continue
		}
		movies = append(movies, raw)
	}

	// Short row and empty title are counted, reading continues past them.
	require.Len(t, movies, 2)
	require.Len(t, rowErrs, 2)
	for _, err := range rowErrs {
		assert.True(t, errors.HasCategory(err, errors.CategoryFileParsing))
	}
	assert.Equal(t, "4", movies[1].ID)
}

func TestMoviesSequenceIsRestartable(t *testing.T) {
	path := writeFile(t, "movies.csv",
		"movieId,title,genres\n"+
			"1,Inception (2010),Action\n")

	r := newTestReader()
	seq := r.Movies(path)

	for range 2 {
		var count int
		for raw, err := range seq {
			require.NoError(t, err)
			assert.Equal(t, "Inception (2010)", raw.Title)
			count++
		}
		assert.Equal(t, 1, count)
	}
}

func TestMoviesMissingFileIsFatal(t *testing.T) {
	r := newTestReader()

	var errs []error
	for _, err := range r.Movies(filepath.Join(t.TempDir(), "nope.csv")) {
		errs = append(errs, err)
	}

	require.Len(t, errs, 1)
	assert.True(t, errors.HasCategory(errs[0], errors.CategoryFileIO))
}

func TestRatingsRows(t *testing.T) {
	path := writeFile(t, "ratings.csv",
		"userId,movieId,rating,timestamp\n"+
			"7,1,4.5,100\n"+
			"7,1\n"+
			"8,2,3.0,200\n")

	r := newTestReader()
	var ratings []RawRating
	var rowErrs []error
	for raw, err := range r.Ratings(path) {
		if err != nil {
			rowErrs = append(rowErrs, err)
			continue
		}
		ratings = append(ratings, raw)
	}

	require.Len(t, ratings, 2)
	require.Len(t, rowErrs, 1)
	assert.Equal(t, "7", ratings[0].UserID)
	assert.Equal(t, "1", ratings[0].MovieID)
	assert.Equal(t, "4.5", ratings[0].Rating)
	assert.Equal(t, "100", ratings[0].Timestamp)
}

func TestLineNumbersTrackPhysicalLines(t *testing.T) {
	// The quoted title spans two physical lines; records after it must
	// still report where they start in the file.
	path := writeFile(t, "movies.csv",
		"movieId,title,genres\n"+
			"1,\"Spanning\nTitle (2000)\",Drama\n"+
			"2,Heat (1995),Action\n")

	r := newTestReader()
	var movies []RawMovie
	for raw, err := range r.Movies(path) {
		require.NoError(t, err)
		movies = append(movies, raw)
	}

	require.Len(t, movies, 2)
	assert.Equal(t, 2, movies[0].Line)
	assert.Equal(t, "Spanning\nTitle (2000)", movies[0].Title)
	assert.Equal(t, 4, movies[1].Line)
	assert.Equal(t, "Heat (1995)", movies[1].Title)
}

func TestAlternateDelimiter(t *testing.T) {
	path := writeFile(t, "movies.dat",
		"1;Inception (2010);Action|Sci-Fi\n")

	settings := &conf.Settings{}
	settings.Input.Delimiter = ";"
	r := New(settings)

	var movies []RawMovie
	for raw, err := range r.Movies(path) {
		require.NoError(t, err)
		movies = append(movies, raw)
	}

	require.Len(t, movies, 1)
	assert.Equal(t, "Inception (2010)", movies[0].Title)
}
