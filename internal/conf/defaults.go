// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("debug", false)

	viper.SetDefault("main.name", "cinetl")
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "logs/cinetl.log")

	viper.SetDefault("input.moviesfile", "data/movies.csv")
	viper.SetDefault("input.ratingsfile", "data/ratings.csv")
	viper.SetDefault("input.delimiter", ",")
	viper.SetDefault("input.genreseparator", "|")
	viper.SetDefault("input.encoding", "utf-8")

	viper.SetDefault("enrichment.enabled", true)
	viper.SetDefault("enrichment.debug", false)
	viper.SetDefault("enrichment.workers", 4)
	viper.SetDefault("enrichment.cachepersist", false)
	viper.SetDefault("enrichment.cachettl", 14*24*time.Hour)
	viper.SetDefault("enrichment.omdb.apikey", "")
	viper.SetDefault("enrichment.omdb.endpoint", "https://www.omdbapi.com/")
	viper.SetDefault("enrichment.omdb.requestspersecond", 3.0)
	viper.SetDefault("enrichment.omdb.burst", 1)
	viper.SetDefault("enrichment.omdb.maxwait", 30*time.Second)
	viper.SetDefault("enrichment.omdb.maxretries", 3)
	viper.SetDefault("enrichment.omdb.timeout", 5*time.Second)

	viper.SetDefault("output.sqlite.enabled", true)
	viper.SetDefault("output.sqlite.path", "movies.db")
	viper.SetDefault("output.batchsize", 200)

	viper.SetDefault("pipeline.runtimeout", time.Duration(0))
}
