package internal

import (
	"context"
	"fmt"
	"time"

	"github.com/hbomb79/Iris/internal/catalog"
	"github.com/hbomb79/Iris/internal/database"
	"github.com/hbomb79/Iris/internal/geocode"
	"github.com/hbomb79/Iris/internal/library"
	"github.com/hbomb79/Iris/internal/scheduler"
	"github.com/hbomb79/Iris/internal/vision"
	"github.com/hbomb79/Iris/pkg/logger"
	"github.com/hbomb79/Iris/pkg/retry"
)

var log = logger.Get("Core")

const IRIS_USER_DIR_SUFFIX = "iris"

// Iris represents the top-level object for the enrichment pipeline,
// responsible for initialising the checkpoint database, the library
// source, the remote adapters and the scheduler that drives them.
type irisImpl struct {
	config IrisConfig
	db     database.Manager
}

func New(config IrisConfig) *irisImpl {
	log.Emit(logger.DEBUG, "Bootstrapping Iris services using config: %#v\n", config)
	return &irisImpl{
		config: config,
		db:     database.New(),
	}
}

// Run connects to the checkpoint database, wires the pipeline together
// and performs a single budget-bound scheduler invocation. Repeated
// short invocations of this method are how the library is enriched at
// scale; each one resumes from wherever the last stopped.
func (iris *irisImpl) Run(ctx context.Context) (*scheduler.Summary, error) {
	log.Emit(logger.NEW, "Connecting to checkpoint database...\n")
	if err := iris.db.Connect(database.DatabaseConfig{Path: iris.config.DefaultDatabasePath()}); err != nil {
		return nil, err
	}
	defer iris.db.Close()

	log.Emit(logger.NEW, "Initialising library source...\n")
	source, err := library.New(ctx, iris.config.Library)
	if err != nil {
		return nil, fmt.Errorf("failed to construct library source: %w", err)
	}

	policy := retry.Policy{
		MaxAttempts:  iris.config.Retry.MaxAttempts,
		InitialDelay: time.Duration(iris.config.Retry.InitialDelayMs) * time.Millisecond,
		MaxDelay:     time.Duration(iris.config.Retry.MaxDelayMs) * time.Millisecond,
	}

	catalogClient := catalog.NewClient(iris.config.Catalog)
	service := scheduler.New(
		iris.config.Scheduler,
		iris.config.Catalog.TemplateKey,
		iris.db,
		scheduler.NewStore(),
		source,
		catalogClient,
		catalog.NewSyncer(catalogClient, iris.config.Catalog.TemplateKey, policy),
		vision.NewClient(iris.config.Vision, policy),
		geocode.NewClient(iris.config.Geocode, policy),
	)

	log.Emit(logger.SUCCESS, "Iris services initialised; starting scheduler invocation\n")
	return service.RunOnce(ctx)
}
