package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/lysyi3m/wire-comb/app/cfg"
	"github.com/lysyi3m/wire-comb/app/database"
	"github.com/lysyi3m/wire-comb/app/fetch"
	"github.com/lysyi3m/wire-comb/app/news"
	"github.com/lysyi3m/wire-comb/app/provider"
	"github.com/lysyi3m/wire-comb/app/state"
	"github.com/lysyi3m/wire-comb/app/tasks"
)

// application holds the wired components shared by all commands.
type application struct {
	cfg          *cfg.Cfg
	db           *database.DB
	articles     *database.ArticleRepo
	runs         *database.RunRepo
	marks        tasks.WatermarkStore
	client       *provider.Client
	orchestrator *fetch.Orchestrator
	closers      []func() error
}

func bootstrap(opts *cfg.Options) (*application, error) {
	config, err := cfg.Load(opts)
	if err != nil {
		return nil, err
	}

	if dir := filepath.Dir(config.DBPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := database.NewConnection(config.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	app := &application{
		cfg:      config,
		db:       db,
		articles: database.NewArticleRepo(db),
		runs:     database.NewRunRepo(db),
		closers:  []func() error{db.Close},
	}

	if config.StateFile != "" {
		store, err := state.OpenBoltStore(config.StateFile)
		if err != nil {
			app.Close()
			return nil, fmt.Errorf("failed to open state file: %w", err)
		}
		app.marks = store
		app.closers = append(app.closers, store.Close)
	} else {
		app.marks = database.NewWatermarkRepo(db)
	}

	var source provider.Provider
	switch config.Provider {
	case "rss":
		source = provider.NewFeedProvider(config.Profile.Feeds, config.UserAgent)
	default:
		source = provider.NewHTTPProvider(provider.HTTPSettings{
			BaseURL:   config.ProviderURL,
			APIKey:    config.ProviderKey,
			UserAgent: config.UserAgent,
		})
	}

	app.client = provider.NewClient(source, provider.Settings{
		Timeout:        config.Timeout,
		MaxRetries:     config.MaxRetries,
		RateLimitDelay: config.RateLimitDelay,
		MaxBackoff:     config.MaxBackoff,
		NotReadyDelay:  config.NotReadyDelay,
		MinInterval:    config.MinInterval,
	})

	normalizer, err := news.NewNormalizer(config.Profile.Rules, nil)
	if err != nil {
		app.Close()
		return nil, err
	}

	settings := fetch.DefaultSettings()
	settings.PageSize = config.PageSize
	settings.MaxCount = config.MaxCount
	settings.MaxFailedPages = config.MaxFailedPages
	settings.MaxPages = config.MaxPages
	settings.Duplicates = config.Profile.Rules.Duplicates

	app.orchestrator = fetch.NewOrchestrator(app.client, normalizer, app.articles, app.runs, settings)

	slog.Debug("Application ready",
		"version", config.Version,
		"db", config.DBPath,
		"provider", app.client.Name(),
		"categories", len(config.Profile.Categories))

	return app, nil
}

func (a *application) scheduler() *tasks.Scheduler {
	c := a.cfg

	return tasks.NewScheduler(a.marks, c.ShutdownGrace, c.JobTimeout,
		tasks.NewLatestJob(a.orchestrator, c.LatestInterval, c.InitialLookback, c.LatestCount, ""),
		tasks.NewDailyJob(a.orchestrator, c.Profile.Categories, c.DailyCheckInterval, c.DailyHour, c.CatchUpDays, c.CategoryPause, c.FetchBodies),
		tasks.NewMaintenanceJob(a.articles, a.runs, c.MaintenanceCheckInterval, c.MaintenancePeriod, c.RetentionDays),
		tasks.NewHealthJob(a.db, a.runs, c.HealthInterval, c.StaleAfter),
	)
}

func (a *application) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	if err := errors.Join(errs...); err != nil {
		slog.Warn("Failed to close resources", "error", err)
	}
}
