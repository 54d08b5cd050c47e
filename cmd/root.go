package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/tsalonen/cinetl/cmd/load"
	"github.com/tsalonen/cinetl/cmd/migrate"
	"github.com/tsalonen/cinetl/internal/conf"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "cinetl",
		Short: "cinetl movie catalog ETL",
	}

	// Set up the global flags for the root command.
	if err := setupFlags(rootCmd, settings); err != nil {
		cobra.CheckErr(err)
	}

	subcommands := []*cobra.Command{
		load.Command(settings),
		migrate.Command(settings),
	}

	rootCmd.AddCommand(subcommands...)

	// Flags are bound to viper, validate after cobra has parsed them.
	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		return settings.Validate()
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) error {
	rootCmd.PersistentFlags().BoolVarP(&settings.Debug, "debug", "d", viper.GetBool("debug"), "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.Input.MoviesFile, "movies", viper.GetString("input.moviesfile"), "Path to the movies source file")
	rootCmd.PersistentFlags().StringVar(&settings.Input.RatingsFile, "ratings", viper.GetString("input.ratingsfile"), "Path to the ratings source file")
	rootCmd.PersistentFlags().StringVar(&settings.Output.SQLite.Path, "db", viper.GetString("output.sqlite.path"), "Path to the SQLite database file")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		return fmt.Errorf("error binding flags: %v", err)
	}

	return nil
}
