// omdb.go: OMDb metadata provider. One lookup is an exact title query,
// falling back to a title search with fuzzy candidate matching, then a
// details fetch by IMDb id.
package enrich

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"
	"github.com/tsalonen/cinetl/internal/conf"
	"github.com/tsalonen/cinetl/internal/errors"
	"github.com/tsalonen/cinetl/internal/logging"
)

const omdbProviderName = "omdb"

// minSimilarity is the token-sort similarity a search candidate must reach
// to be accepted as a fuzzy match.
const minSimilarity = 0.8

// OMDbProvider implements Provider against the OMDb HTTP API.
type OMDbProvider struct {
	endpoint string
	apiKey   string
	client   *http.Client
	logger   *slog.Logger
}

// NewOMDbProvider creates a provider from the OMDb settings.
func NewOMDbProvider(settings conf.OMDbSettings) *OMDbProvider {
	timeout := settings.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &OMDbProvider{
		endpoint: settings.Endpoint,
		apiKey:   settings.APIKey,
		client:   &http.Client{Timeout: timeout},
		logger:   logging.ForService("enrich").With("provider", omdbProviderName),
	}
}

// omdbPayload covers both detail and search responses.
type omdbPayload struct {
	Response  string          `json:"Response"`
	Error     string          `json:"Error"`
	Title     string          `json:"Title"`
	Year      string          `json:"Year"`
	Director  string          `json:"Director"`
	Plot      string          `json:"Plot"`
	BoxOffice string          `json:"BoxOffice"`
	Search    []omdbCandidate `json:"Search"`
}

type omdbCandidate struct {
	Title  string `json:"Title"`
	Year   string `json:"Year"`
	ImdbID string `json:"imdbID"`
}

// Lookup queries OMDb by title and optional year. When the exact query
// misses, it searches and accepts the best candidate above the similarity
// bar, mirroring how a cataloged title like "Se7en" still resolves.
func (p *OMDbProvider) Lookup(ctx context.Context, title string, year *int) (Result, error) {
	reqID := uuid.New().String()[:8]
	logger := p.logger.With("request_id", reqID, "title", title)

	exact := url.Values{"t": {title}}
	if year != nil {
		exact.Set("y", strconv.Itoa(*year))
	}
	payload, err := p.get(ctx, reqID, exact)
	if err != nil {
		return Result{}, err
	}
	if payload.Response == "True" {
		return toResult(payload), nil
	}

	// Exact miss: search and pick the closest candidate.
	search := url.Values{"s": {title}}
	if year != nil {
		search.Set("y", strconv.Itoa(*year))
	}
	searchPayload, err := p.get(ctx, reqID, search)
	if err != nil {
		return Result{}, err
	}

	if searchPayload.Response == "True" {
		if best, score := bestCandidate(title, searchPayload.Search); best != nil {
			logger.Info("fuzzy match found",
				"matched_title", best.Title,
				"similarity", score,
				"imdb_id", best.ImdbID)
			details, err := p.get(ctx, reqID, url.Values{"i": {best.ImdbID}})
			if err != nil {
				return Result{}, err
			}
			if details.Response == "True" {
				return toResult(details), nil
			}
		}
	}

	reason := payload.Error
	if reason == "" {
		reason = "movie not found"
	}
	return Result{}, errors.Newf("%s", reason).
		Component("enrich").
		Category(errors.CategoryNotFound).
		Context("provider", omdbProviderName).
		Context("request_id", reqID).
		Context("title", title).
		Build()
}

// get performs one GET against the OMDb endpoint and decodes the payload.
// The API key is appended here and never logged.
func (p *OMDbProvider) get(ctx context.Context, reqID string, params url.Values) (*omdbPayload, error) {
	loggedQuery := params.Encode()
	params.Set("apikey", p.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"?"+params.Encode(), http.NoBody)
	if err != nil {
		return nil, errors.New(err).
			Component("enrich").
			Category(errors.CategoryNetwork).
			Context("provider", omdbProviderName).
			Context("request_id", reqID).
			Build()
	}

	resp, err := p.client.Do(req)
	if err != nil {
		category := errors.CategoryNetwork
		if ctx.Err() != nil || isTimeout(err) {
			category = errors.CategoryTimeout
		}
		return nil, errors.New(err).
			Component("enrich").
			Category(category).
			Context("provider", omdbProviderName).
			Context("request_id", reqID).
			Context("query", loggedQuery).
			Build()
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		// fall through to decoding
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, errors.Newf("request rejected with status %d, check the API key", resp.StatusCode).
			Component("enrich").
			Category(errors.CategoryConfiguration).
			Context("provider", omdbProviderName).
			Context("request_id", reqID).
			Context("status_code", resp.StatusCode).
			Build()
	case resp.StatusCode == http.StatusTooManyRequests ||
		resp.StatusCode == http.StatusRequestTimeout ||
		resp.StatusCode >= http.StatusInternalServerError:
		return nil, errors.Newf("transient upstream failure, status %d", resp.StatusCode).
			Component("enrich").
			Category(errors.CategoryNetwork).
			Context("provider", omdbProviderName).
			Context("request_id", reqID).
			Context("status_code", resp.StatusCode).
			Context("query", loggedQuery).
			Build()
	default:
		return nil, errors.Newf("unexpected status %d", resp.StatusCode).
			Component("enrich").
			Category(errors.CategoryEnrichment).
			Context("provider", omdbProviderName).
			Context("request_id", reqID).
			Context("status_code", resp.StatusCode).
			Build()
	}

	var payload omdbPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, errors.New(err).
			Component("enrich").
			Category(errors.CategoryEnrichment).
			Context("provider", omdbProviderName).
			Context("request_id", reqID).
			Context("operation", "decode_response").
			Build()
	}
	return &payload, nil
}

// toResult maps a detail payload to a Result, treating OMDb's "N/A"
// placeholders as missing fields.
func toResult(payload *omdbPayload) Result {
	return Result{
		Found:     true,
		Director:  naPtr(payload.Director),
		Plot:      naPtr(payload.Plot),
		BoxOffice: naPtr(payload.BoxOffice),
	}
}

func naPtr(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" || s == "N/A" {
		return nil
	}
	return &s
}

// bestCandidate returns the search candidate with the highest token-sort
// similarity to the queried title, or nil when none reaches the bar.
func bestCandidate(title string, candidates []omdbCandidate) (*omdbCandidate, float64) {
	var best *omdbCandidate
	bestScore := 0.0
	for i := range candidates {
		score := tokenSortRatio(title, candidates[i].Title)
		if score > bestScore {
			best = &candidates[i]
			bestScore = score
		}
	}
	if bestScore <= minSimilarity {
		return nil, bestScore
	}
	return best, bestScore
}

// tokenSortRatio compares two titles with word order removed, so
// "Misérables, Les" and "Les Misérables" score as near-identical.
func tokenSortRatio(a, b string) float64 {
	sa, sb := tokenSort(a), tokenSort(b)
	if sa == sb {
		return 1.0
	}
	longest := max(len([]rune(sa)), len([]rune(sb)))
	if longest == 0 {
		return 0
	}
	distance := levenshtein.ComputeDistance(sa, sb)
	return 1.0 - float64(distance)/float64(longest)
}

func tokenSort(s string) string {
	tokens := strings.Fields(strings.ToLower(s))
	sort.Strings(tokens)
	return strings.Join(tokens, " ")
}

// isTimeout reports whether a transport error is a timeout.
func isTimeout(err error) bool {
	var timeoutErr interface{ Timeout() bool }
	return errors.As(err, &timeoutErr) && timeoutErr.Timeout()
}
