package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/lcalmbach/open-data-insights-sub000/internal/due"
	"github.com/lcalmbach/open-data-insights-sub000/internal/external/llm"
	"github.com/lcalmbach/open-data-insights-sub000/internal/external/ods"
	"github.com/lcalmbach/open-data-insights-sub000/internal/storage"
	"github.com/lcalmbach/open-data-insights-sub000/internal/story"
	"github.com/lcalmbach/open-data-insights-sub000/internal/sync"
	"github.com/lcalmbach/open-data-insights-sub000/pkg/config"
	"github.com/lcalmbach/open-data-insights-sub000/pkg/database"
	"github.com/lcalmbach/open-data-insights-sub000/pkg/httputil"
	"github.com/lcalmbach/open-data-insights-sub000/pkg/logger"
)

// app bundles the shared dependencies every command needs.
type app struct {
	cfg *config.Config
	log *logger.Logger
	db  *database.DB
}

// initApp loads configuration, builds the logger, and connects to the
// database.
func initApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	level := cfg.LogLevel
	if verbose {
		level = "debug"
	}
	log := logger.New(level, cfg.LogFormat)

	db, err := database.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	return &app{cfg: cfg, log: log, db: db}, nil
}

// Close releases the database pool.
func (a *app) Close() {
	a.db.Close()
}

// odsClient creates the rate-limited source client.
func (a *app) odsClient() *ods.Client {
	httpClient := httputil.New(a.log, a.cfg.ODS.RequestTimeout).
		WithRateLimit(a.cfg.ODS.RatePerSecond)
	return ods.NewClient(httpClient, a.log, a.cfg.CacheDir, a.cfg.ODS.Timezone)
}

// syncRunner wires the dataset synchronization batch runner.
func (a *app) syncRunner() (*sync.Runner, error) {
	tz, err := time.LoadLocation(a.cfg.ODS.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %s: %w", a.cfg.ODS.Timezone, err)
	}

	warehouse := storage.NewWarehouseRepository(a.db)
	cfgStore := storage.NewConfigRepository(a.db)
	engine := sync.NewEngine(a.odsClient(), warehouse, cfgStore, tz, a.log)
	return sync.NewRunner(engine, cfgStore, a.log), nil
}

// storyRunner wires the story generation batch runner. It fails early
// when no text generator is configured.
func (a *app) storyRunner() (*story.Runner, error) {
	if err := a.cfg.RequireAI(); err != nil {
		return nil, err
	}

	httpClient := httputil.New(a.log, a.cfg.AI.Timeout)
	generator := llm.NewClient(httpClient, a.log, a.cfg.AI.APIKey, a.cfg.AI.BaseURL, a.cfg.AI.DefaultModel)

	warehouse := storage.NewWarehouseRepository(a.db)
	cfgStore := storage.NewConfigRepository(a.db)
	stories := storage.NewStoryRepository(a.db)
	checker := due.NewChecker(stories, warehouse, a.log)

	assembler := story.NewAssembler(cfgStore, stories, warehouse, generator, checker, a.log)
	return story.NewRunner(assembler, cfgStore, a.log), nil
}
