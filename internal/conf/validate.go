package conf

import (
	"github.com/tsalonen/cinetl/internal/errors"
)

// Validate checks that the settings describe a runnable pipeline.
func (s *Settings) Validate() error {
	if s.Input.MoviesFile == "" {
		return errors.Newf("input.moviesfile is not set").
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if s.Input.RatingsFile == "" {
		return errors.Newf("input.ratingsfile is not set").
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if len([]rune(s.Input.Delimiter)) != 1 {
		return errors.Newf("input.delimiter must be a single character, got %q", s.Input.Delimiter).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if s.Input.GenreSeparator == "" {
		return errors.Newf("input.genreseparator is not set").
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if !s.Output.SQLite.Enabled {
		return errors.Newf("no output store enabled").
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if s.Output.SQLite.Path == "" {
		return errors.Newf("output.sqlite.path is not set").
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if s.Output.BatchSize < 1 {
		return errors.Newf("output.batchsize must be at least 1, got %d", s.Output.BatchSize).
			Component("conf").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if s.Enrichment.Enabled {
		if s.Enrichment.OMDb.APIKey == "" {
			// The key is a secret, it is reported absent but never logged.
			return errors.Newf("enrichment is enabled but no OMDb API key is configured").
				Component("conf").
				Category(errors.CategoryConfiguration).
				Context("hint", "set enrichment.omdb.apikey or CINETL_ENRICHMENT_OMDB_APIKEY").
				Build()
		}
		if s.Enrichment.OMDb.RequestsPerSecond <= 0 {
			return errors.Newf("enrichment.omdb.requestspersecond must be positive, got %v", s.Enrichment.OMDb.RequestsPerSecond).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Build()
		}
		if s.Enrichment.Workers < 1 {
			return errors.Newf("enrichment.workers must be at least 1, got %d", s.Enrichment.Workers).
				Component("conf").
				Category(errors.CategoryConfiguration).
				Build()
		}
	}
	return nil
}
