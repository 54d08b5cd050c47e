// Package load implements the load subcommand, one full ETL run from the
// source files into the store.
package load

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tsalonen/cinetl/internal/conf"
	"github.com/tsalonen/cinetl/internal/enrich"
	"github.com/tsalonen/cinetl/internal/logging"
	"github.com/tsalonen/cinetl/internal/pipeline"
	"github.com/tsalonen/cinetl/internal/store"
)

func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "load",
		Short: "Load movies and ratings into the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoad(settings)
		},
	}
}

func runLoad(settings *conf.Settings) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := logging.ForService("load")
	var closeFileLogger func() error
	if settings.Main.Log.Enabled {
		fileLogger, closeLogger, err := logging.NewFileLogger(settings.Main.Log.Path, "load", slog.LevelInfo)
		if err != nil {
			return fmt.Errorf("opening run log: %w", err)
		}
		logger = fileLogger
		closeFileLogger = closeLogger
	}
	if closeFileLogger != nil {
		defer func() {
			if err := closeFileLogger(); err != nil {
				logging.Error("closing run log", "error", err)
			}
		}()
	}

	st := store.New(settings)
	if err := st.Open(); err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			logger.Error("closing store", "error", err)
		}
	}()

	var enricher *enrich.Client
	if settings.Enrichment.Enabled {
		provider := enrich.NewOMDbProvider(settings.Enrichment.OMDb)
		enricher = enrich.New(settings, provider, st)
	}

	logger.Info("starting run",
		"movies", settings.Input.MoviesFile,
		"ratings", settings.Input.RatingsFile,
		"enrichment", settings.Enrichment.Enabled)

	report, err := pipeline.New(settings, st, enricher).Run(ctx)
	logReport(logger, report)
	if err != nil {
		return fmt.Errorf("run aborted: %w", err)
	}
	return nil
}

// logReport writes the run summary and one line per failed record.
func logReport(logger *slog.Logger, report *pipeline.Report) {
	logger.Info("run report", "report", report)
	for _, failure := range report.Failures() {
		logger.Warn("record failed", "record", failure.Record, "reason", failure.Reason)
	}
}
