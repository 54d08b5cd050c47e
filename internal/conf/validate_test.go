package conf

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tsalonen/cinetl/internal/errors"
)

func validSettings() *Settings {
	s := &Settings{}
	s.Input.MoviesFile = "data/movies.csv"
	s.Input.RatingsFile = "data/ratings.csv"
	s.Input.Delimiter = ","
	s.Input.GenreSeparator = "|"
	s.Output.SQLite.Enabled = true
	s.Output.SQLite.Path = "movies.db"
	s.Output.BatchSize = 200
	s.Enrichment.Enabled = true
	s.Enrichment.Workers = 4
	s.Enrichment.CacheTTL = 14 * 24 * time.Hour
	s.Enrichment.OMDb.APIKey = "test-key"
	s.Enrichment.OMDb.RequestsPerSecond = 3.0
	return s
}

func TestValidateAcceptsDefaults(t *testing.T) {
	require.NoError(t, validSettings().Validate())
}

func TestValidateRejectsBrokenSettings(t *testing.T) {
	tests := []struct {
		name  string
		mutate func(*Settings)
	}{
		{"missing movies file", func(s *Settings) { s.Input.MoviesFile = "" }},
		{"missing ratings file", func(s *Settings) { s.Input.RatingsFile = "" }},
		{"multi-character delimiter", func(s *Settings) { s.Input.Delimiter = ",," }},
		{"no output store", func(s *Settings) { s.Output.SQLite.Enabled = false }},
		{"zero batch size", func(s *Settings) { s.Output.BatchSize = 0 }},
		{"enrichment without api key", func(s *Settings) { s.Enrichment.OMDb.APIKey = "" }},
		{"zero workers", func(s *Settings) { s.Enrichment.Workers = 0 }},
		{"negative rate", func(s *Settings) { s.Enrichment.OMDb.RequestsPerSecond = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := validSettings()
			tt.mutate(s)
			err := s.Validate()
			require.Error(t, err)
			assert.True(t, errors.HasCategory(err, errors.CategoryConfiguration))
		})
	}
}

func TestValidateAPIKeyNotRequiredWhenDisabled(t *testing.T) {
	s := validSettings()
	s.Enrichment.Enabled = false
	s.Enrichment.OMDb.APIKey = ""
	require.NoError(t, s.Validate())
}

func TestValidateErrorNeverContainsKey(t *testing.T) {
	s := validSettings()
	s.Enrichment.OMDb.APIKey = ""
	err := s.Validate()
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "test-key")
}
