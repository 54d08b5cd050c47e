package enrich

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsalonen/cinetl/internal/conf"
	"github.com/tsalonen/cinetl/internal/errors"
)

const testEndpoint = "https://omdb.test/"

func newTestProvider(t *testing.T) *OMDbProvider {
	t.Helper()
	provider := NewOMDbProvider(conf.OMDbSettings{
		APIKey:   "test-key",
		Endpoint: testEndpoint,
		Timeout:  time.Second,
	})
	httpmock.ActivateNonDefault(provider.client)
	t.Cleanup(httpmock.DeactivateAndReset)
	return provider
}

const inceptionDetail = `{
	"Response": "True",
	"Title": "Inception",
	"Year": "2010",
	"Director": "Christopher Nolan",
	"Plot": "A thief who steals corporate secrets.",
	"BoxOffice": "$292,587,330"
}`

const notFoundBody = `{"Response": "False", "Error": "Movie not found!"}`

func TestOMDbExactLookup(t *testing.T) {
	provider := newTestProvider(t)

	httpmock.RegisterResponder(http.MethodGet, testEndpoint,
		func(req *http.Request) (*http.Response, error) {
			q := req.URL.Query()
			assert.Equal(t, "test-key", q.Get("apikey"))
			if q.Get("t") == "Inception" && q.Get("y") == "2010" {
				return httpmock.NewStringResponse(http.StatusOK, inceptionDetail), nil
			}
			return httpmock.NewStringResponse(http.StatusOK, notFoundBody), nil
		})

	year := 2010
	result, err := provider.Lookup(context.Background(), "Inception", &year)
	require.NoError(t, err)
	assert.True(t, result.Found)
	require.NotNil(t, result.Director)
	assert.Equal(t, "Christopher Nolan", *result.Director)
	require.NotNil(t, result.BoxOffice)
	assert.Equal(t, "$292,587,330", *result.BoxOffice)
}

func TestOMDbMapsNAToNil(t *testing.T) {
	provider := newTestProvider(t)

	body := `{"Response": "True", "Title": "Obscure Short", "Director": "N/A", "Plot": "N/A", "BoxOffice": "N/A"}`
	httpmock.RegisterResponder(http.MethodGet, testEndpoint,
		httpmock.NewStringResponder(http.StatusOK, body))

	result, err := provider.Lookup(context.Background(), "Obscure Short", nil)
	require.NoError(t, err)
	assert.True(t, result.Found)
	assert.Nil(t, result.Director)
	assert.Nil(t, result.Plot)
	assert.Nil(t, result.BoxOffice)
}

func TestOMDbSearchFallback(t *testing.T) {
	provider := newTestProvider(t)

	searchBody := `{
		"Response": "True",
		"Search": [
			{"Title": "Se7en", "Year": "1995", "imdbID": "tt0114369"},
			{"Title": "Completely Unrelated", "Year": "2003", "imdbID": "tt9999999"}
		]
	}`
	detailBody := `{"Response": "True", "Title": "Se7en", "Director": "David Fincher", "Plot": "Two detectives.", "BoxOffice": "$100,125,643"}`

	httpmock.RegisterResponder(http.MethodGet, testEndpoint,
		func(req *http.Request) (*http.Response, error) {
			q := req.URL.Query()
			switch {
			case q.Get("i") == "tt0114369":
				return httpmock.NewStringResponse(http.StatusOK, detailBody), nil
			case q.Get("s") != "":
				return httpmock.NewStringResponse(http.StatusOK, searchBody), nil
			default:
				return httpmock.NewStringResponse(http.StatusOK, notFoundBody), nil
			}
		})

	result, err := provider.Lookup(context.Background(), "Se7en", nil)
	require.NoError(t, err)
	assert.True(t, result.Found)
	require.NotNil(t, result.Director)
	assert.Equal(t, "David Fincher", *result.Director)
}

func TestOMDbNotFound(t *testing.T) {
	provider := newTestProvider(t)

	httpmock.RegisterResponder(http.MethodGet, testEndpoint,
		httpmock.NewStringResponder(http.StatusOK, notFoundBody))

	_, err := provider.Lookup(context.Background(), "No Such Movie", nil)
	require.Error(t, err)
	assert.True(t, errors.HasCategory(err, errors.CategoryNotFound))
	assert.Contains(t, err.Error(), "Movie not found!")
}

func TestOMDbStatusClassification(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		category errors.ErrorCategory
	}{
		{"unauthorized is terminal", http.StatusUnauthorized, errors.CategoryConfiguration},
		{"server error is transient", http.StatusInternalServerError, errors.CategoryNetwork},
		{"too many requests is transient", http.StatusTooManyRequests, errors.CategoryNetwork},
		{"teapot is terminal", http.StatusTeapot, errors.CategoryEnrichment},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := newTestProvider(t)
			httpmock.RegisterResponder(http.MethodGet, testEndpoint,
				httpmock.NewStringResponder(tt.status, ""))

			_, err := provider.Lookup(context.Background(), "Anything", nil)
			require.Error(t, err)
			assert.True(t, errors.HasCategory(err, tt.category), "got %v", err)
		})
	}
}

func TestTokenSortRatio(t *testing.T) {
	assert.Greater(t, tokenSortRatio("The Matrix", "Matrix, The"), minSimilarity)
	assert.Greater(t, tokenSortRatio("Misérables, Les", "Les Misérables"), minSimilarity)
	assert.Less(t, tokenSortRatio("Heat", "Completely Unrelated"), minSimilarity)
}

func TestBestCandidateBar(t *testing.T) {
	candidates := []omdbCandidate{
		{Title: "Nothing Alike Whatsoever", ImdbID: "tt1"},
	}
	best, _ := bestCandidate("Inception", candidates)
	assert.Nil(t, best)

	candidates = append(candidates, omdbCandidate{Title: "Inception", ImdbID: "tt2"})
	best, score := bestCandidate("Inception", candidates)
	require.NotNil(t, best)
	assert.Equal(t, "tt2", best.ImdbID)
	assert.InDelta(t, 1.0, score, 0.001)
}
