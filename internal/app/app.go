package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/cozy-creator/lineage-server/internal/config"
	"github.com/cozy-creator/lineage-server/internal/db"
	"github.com/cozy-creator/lineage-server/internal/db/drivers"
	"github.com/cozy-creator/lineage-server/internal/db/migrations"
	"github.com/cozy-creator/lineage-server/internal/db/repository"
	"github.com/cozy-creator/lineage-server/internal/events"
	"github.com/cozy-creator/lineage-server/internal/mq"
	"github.com/cozy-creator/lineage-server/internal/services/assist"
	"github.com/cozy-creator/lineage-server/internal/services/batch"
	"github.com/cozy-creator/lineage-server/internal/services/ethicalfilter"
	"github.com/cozy-creator/lineage-server/internal/services/filestorage"
	"github.com/cozy-creator/lineage-server/internal/services/fileuploader"
	"github.com/cozy-creator/lineage-server/internal/services/pipeline"
	"github.com/cozy-creator/lineage-server/internal/services/transform"
	"github.com/cozy-creator/lineage-server/pkg/logger"

	"github.com/uptrace/bun"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

type App struct {
	mq           mq.MQ
	db           *bun.DB
	driver       drivers.Driver
	config       *config.Config
	ctx          context.Context
	cancelFunc   context.CancelFunc
	storage      filestorage.FileStorage
	fileuploader *fileuploader.Uploader
	transformer  transform.Transformer

	Logger *zap.Logger

	Repository repository.ILineageRepository
	Events     events.Publisher
	Screener   ethicalfilter.Screener
	Assistant  *assist.Assistant
	Pipelines  *pipeline.Service
	Batch      *batch.Runner
}

// Option funcs used to initialize the App struct
type OptionFunc func(app *App) error

func WithLogger(logger *zap.Logger) OptionFunc {
	return func(app *App) error {
		app.Logger = logger
		return nil
	}
}

func WithFileStorage() OptionFunc {
	return func(app *App) error {
		storage, err := filestorage.NewFileStorage(app.ctx, app.config, app.Logger)
		if err != nil {
			return err
		}

		app.storage = storage
		return nil
	}
}

// WithStorage injects a ready blob store, mostly for tests.
func WithStorage(storage filestorage.FileStorage) OptionFunc {
	return func(app *App) error {
		app.storage = storage
		return nil
	}
}

func WithDB(driver drivers.Driver) OptionFunc {
	return func(app *App) error {
		app.driver = driver
		app.db = driver.GetDB()
		app.Repository = repository.NewLineageRepository(app.db, app.Logger)
		return nil
	}
}

// WithLineageStore opens the configured lineage store. The database store
// gets its tables created if missing; the memory store is optionally
// rebuilt from the blob names already in storage.
func WithLineageStore() OptionFunc {
	return func(app *App) error {
		if app.config.LineageStore == config.LineageStoreMemory {
			return app.initMemoryStore()
		}

		driver, err := db.NewConnection(app.ctx, app.config)
		if err != nil {
			return err
		}
		if err := migrations.CreateSchema(app.ctx, driver.GetDB()); err != nil {
			driver.Close()
			return err
		}

		return WithDB(driver)(app)
	}
}

func (app *App) initMemoryStore() error {
	repo := repository.NewMemoryLineageRepository()
	app.Repository = repo

	if app.config.RecoverUser == "" {
		return nil
	}
	if app.storage == nil {
		return errors.New("file storage must be initialized before rebuilding the memory store")
	}

	report, err := repository.RebuildIndex(app.ctx, repo, app.storage, repository.RebuildOptions{UserID: app.config.RecoverUser})
	if err != nil {
		return fmt.Errorf("failed to rebuild lineage index: %w", err)
	}

	app.Logger.Info("lineage index rebuilt from storage",
		zap.Int("pipelines", report.Pipelines),
		zap.Int("versions", report.Versions),
		zap.Int("skipped", len(report.Skipped)))
	return nil
}

func WithMQ() OptionFunc {
	return func(app *App) error {
		queue, err := mq.NewMQ(app.config, app.Logger)
		if err != nil {
			return err
		}

		app.mq = queue
		app.Events = events.NewMQPublisher(queue, app.EventsTopic(), app.Logger)
		return nil
	}
}

func WithFileUploader() OptionFunc {
	return func(app *App) error {
		app.fileuploader = fileuploader.NewFileUploader(app.config.Upload.MaxWorkers)
		return nil
	}
}

// WithTransformer injects the AI client, mostly for tests. Without it the
// fal client is built from config.
func WithTransformer(transformer transform.Transformer) OptionFunc {
	return func(app *App) error {
		app.transformer = transformer
		return nil
	}
}

// WithSafetyFilter enables prompt screening when it is switched on and an
// OpenAI key is present.
func WithSafetyFilter() OptionFunc {
	return func(app *App) error {
		if app.config.OpenAI == nil || !app.config.OpenAI.ScreenPrompts {
			return nil
		}

		screener, err := ethicalfilter.NewOpenAIScreener(app.config.OpenAI, app.Logger)
		if err != nil {
			return fmt.Errorf("openai api key is not set, cannot enable prompt screening: %w", err)
		}

		app.Screener = screener
		return nil
	}
}

func WithPromptAssist() OptionFunc {
	return func(app *App) error {
		assistant, err := assist.NewAssistant(app.config.OpenAI, app.Logger)
		if errors.Is(err, assist.ErrNotConfigured) {
			app.Logger.Info("prompt assist disabled, no openai api key configured")
			return nil
		}
		if err != nil {
			return err
		}

		app.Assistant = assistant
		return nil
	}
}

// WithPipelineService wires the pipeline service from whatever the earlier
// options set up. It must come after the storage and store options.
func WithPipelineService() OptionFunc {
	return func(app *App) error {
		if app.storage == nil || app.Repository == nil {
			return errors.New("pipeline service needs file storage and a lineage store")
		}

		cfg := app.config.Transform
		transformer := app.transformer
		if transformer == nil {
			transformer = transform.NewFalClient(app.config.Fal, app.Logger, transform.WithFetchPolicy(transform.FetchPolicy{
				Attempts:  cfg.FetchAttempts,
				BaseDelay: cfg.FetchBaseDelay,
				Timeout:   cfg.FetchTimeout,
			}))
		}
		transformer = transform.WithRetry(transformer, transform.RetryPolicyFromConfig(cfg), app.Logger)

		opts := []pipeline.Option{
			pipeline.WithTransformTimeout(cfg.Timeout),
			pipeline.WithMaxInputSide(cfg.MaxInputSide),
		}
		if app.fileuploader != nil {
			opts = append(opts, pipeline.WithUploader(app.fileuploader))
		}
		if app.Events != nil {
			opts = append(opts, pipeline.WithEvents(app.Events))
		}
		if app.Screener != nil {
			opts = append(opts, pipeline.WithScreener(app.Screener))
		}

		app.Pipelines = pipeline.NewService(app.Repository, app.storage, transformer, app.Logger, opts...)
		app.Batch = batch.NewRunner(app.Pipelines, app.config.Batch.Delay, app.Logger)
		return nil
	}
}

// DefaultOptions is the full server wiring in dependency order.
func DefaultOptions() []OptionFunc {
	return []OptionFunc{
		WithFileStorage(),
		WithLineageStore(),
		WithMQ(),
		WithFileUploader(),
		WithSafetyFilter(),
		WithPromptAssist(),
		WithPipelineService(),
	}
}

func NewApp(config *config.Config, options ...OptionFunc) (*App, error) {
	logger, err := logger.InitLogger(config)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())

	app := &App{
		ctx:        ctx,
		config:     config,
		Logger:     logger,
		Events:     events.NopPublisher{},
		cancelFunc: cancel,
	}

	for _, opt := range options {
		if err := opt(app); err != nil {
			app.Close()
			return nil, err
		}
	}

	return app, nil
}

func (app *App) Close() {
	app.cancelFunc()

	var errs error
	if app.fileuploader != nil {
		app.fileuploader.Stop()
	}
	if app.mq != nil {
		errs = multierr.Append(errs, app.mq.Close())
	}
	if closer, ok := app.storage.(interface{ Close() error }); ok {
		errs = multierr.Append(errs, closer.Close())
	}
	if app.driver != nil {
		errs = multierr.Append(errs, app.driver.Close())
	}

	if errs != nil {
		app.Logger.Warn("errors while shutting down", zap.Error(errs))
	}
	app.Logger.Sync() //nolint:errcheck
}

func (app *App) Config() *config.Config {
	return app.config
}

func (app *App) Context() context.Context {
	return app.ctx
}

func (app *App) MQ() mq.MQ {
	return app.mq
}

func (app *App) DB() *bun.DB {
	return app.db
}

func (app *App) Storage() filestorage.FileStorage {
	return app.storage
}

func (app *App) Uploader() *fileuploader.Uploader {
	return app.fileuploader
}

func (app *App) EventsTopic() string {
	if app.config.Pulsar != nil && app.config.Pulsar.Topic != "" {
		return app.config.Pulsar.Topic
	}

	return config.DefaultEventsTopic
}
