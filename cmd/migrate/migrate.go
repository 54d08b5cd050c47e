// Package migrate implements the migrate subcommand, which creates or
// upgrades the store schema without running a load.
package migrate

import (
	"github.com/spf13/cobra"
	"github.com/tsalonen/cinetl/internal/conf"
	"github.com/tsalonen/cinetl/internal/logging"
	"github.com/tsalonen/cinetl/internal/store"
)

func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(settings)
		},
	}
}

func runMigrate(settings *conf.Settings) error {
	st := store.New(settings)
	if err := st.Open(); err != nil {
		return err
	}
	if err := st.Close(); err != nil {
		return err
	}
	logging.Info("schema migration complete", "path", settings.Output.SQLite.Path)
	return nil
}
