package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/hbomb79/Iris/internal"
	"github.com/hbomb79/Iris/pkg/logger"
	"github.com/mitchellh/go-homedir"
)

var log = logger.Get("Main")

// main is the entry point to the program. Configuration is loaded from
// the users config directory (overridable via the -config flag), an
// Iris instance is constructed, and one scheduler invocation is run to
// completion or budget expiry.
func main() {
	configPath := flag.String("config", "~/.config/iris/config.yaml", "path to the YAML configuration file")
	flag.Parse()

	path, err := homedir.Expand(*configPath)
	if err != nil {
		log.Emit(logger.FATAL, "Failed to expand config path %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	config := internal.IrisConfig{}
	if err := config.LoadFromFile(filepath.Clean(path)); err != nil {
		log.Emit(logger.FATAL, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	summary, err := internal.New(config).Run(ctx)
	if err != nil {
		log.Emit(logger.FATAL, "Iris run failed: %v\n", err)
		os.Exit(1)
	}

	log.Emit(logger.SUCCESS, "Run %s complete: processed=%d skipped=%d failed=%d elapsed=%s\n",
		summary.RunID, summary.Processed, summary.Skipped, summary.Failed, summary.Elapsed)
}
