// config.go: settings struct and loading for the cinetl pipeline.
package conf

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// LogConfig contains settings for a rotating log file.
type LogConfig struct {
	Enabled bool   // true to write a run log file
	Path    string // path to the log file
}

// MainSettings contains process-wide settings.
type MainSettings struct {
	Name string    // name of the node running the pipeline
	Log  LogConfig // run log settings
}

// InputSettings describes the two source files.
type InputSettings struct {
	MoviesFile     string // path to the movies file
	RatingsFile    string // path to the ratings file
	Delimiter      string // CSV field delimiter, single character
	GenreSeparator string // separator inside the genres column
	Encoding       string // IANA encoding name of the source files
}

// OMDbSettings contains settings for the OMDb metadata API.
type OMDbSettings struct {
	APIKey            string        // API key, from config or CINETL_ENRICHMENT_OMDB_APIKEY
	Endpoint          string        // API endpoint URL
	RequestsPerSecond float64       // rate limit ceiling
	Burst             int           // rate limiter burst size
	MaxWait           time.Duration // maximum time to wait on the limiter before abandoning a call
	MaxRetries        int           // attempts for transient failures
	Timeout           time.Duration // per-request HTTP timeout
}

// EnrichmentSettings contains settings for the metadata enrichment stage.
type EnrichmentSettings struct {
	Enabled      bool          // false to load without external metadata
	Debug        bool          // true to enable debug logging
	Workers      int           // bounded enrichment worker pool size
	CachePersist bool          // true to persist cache entries to the store
	CacheTTL     time.Duration // freshness window for cached results
	OMDb         OMDbSettings  // OMDb provider settings
}

// SQLiteSettings contains settings for the SQLite output store.
type SQLiteSettings struct {
	Enabled bool   // true to enable SQLite output
	Path    string // path to the database file
}

// OutputSettings describes the relational store.
type OutputSettings struct {
	SQLite    SQLiteSettings
	BatchSize int // ratings are applied in transactions of this size
}

// PipelineSettings contains run-level settings.
type PipelineSettings struct {
	RunTimeout time.Duration // zero means no timeout
}

// Settings is the top-level configuration for the pipeline.
type Settings struct {
	Debug bool // true to enable debug behavior

	Main       MainSettings
	Input      InputSettings
	Enrichment EnrichmentSettings
	Output     OutputSettings
	Pipeline   PipelineSettings
}

// Load reads the configuration from config file, environment and defaults.
func Load() (*Settings, error) {
	setDefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("$HOME/.config/cinetl")

	viper.SetEnvPrefix("CINETL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		// A missing config file is fine, defaults plus env carry the run.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return settings, nil
}
