package main

import (
	"os"

	"github.com/tsalonen/cinetl/cmd"
	"github.com/tsalonen/cinetl/internal/conf"
	"github.com/tsalonen/cinetl/internal/logging"
)

func main() {
	logging.Init()

	settings, err := conf.Load()
	if err != nil {
		logging.Fatal("loading configuration", "error", err)
	}

	if err := cmd.RootCommand(settings).Execute(); err != nil {
		logging.Error("command failed", "error", err)
		os.Exit(1)
	}
}
