package main

import (
	"net/http"
	"time"

	"volcal/internal/config"
	appLog "volcal/internal/log"
	"volcal/internal/repository"
	"volcal/internal/source"
)

// loadConfig reads the YAML config and applies CLI overrides.
func loadConfig(flags *rootFlags) (*config.Config, error) {
	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return nil, err
	}
	if flags.listen != "" {
		cfg.Listen = flags.listen
	}
	if flags.logLevel != "" {
		cfg.LogLevel = flags.logLevel
	}
	appLog.SetLevel(appLog.ParseLevel(cfg.LogLevel))

	appLog.Info("effective config",
		"listen", cfg.Listen,
		"timezone", cfg.Timezone,
		"render_mode", cfg.RenderMode,
		"months_ahead", cfg.MonthsAhead,
		"source", cfg.Source.Kind,
		"fallback", cfg.UseFallbackDates,
		"refresh", cfg.RefreshCron,
	)
	return cfg, nil
}

func buildSource(cfg *config.Config) source.Source {
	fetcher := source.NewFetcher(&http.Client{Timeout: cfg.FetchTimeoutDuration()}, cfg.CacheDir)
	switch cfg.Source.Kind {
	case config.SourceDirectus:
		return source.NewDirectus(cfg.Source.URL, cfg.Source.Collection, cfg.Source.AccessToken, fetcher)
	case config.SourceICS:
		horizon := time.Duration(cfg.MonthsAhead+1) * 31 * 24 * time.Hour
		return source.NewICSFeed(cfg.Source.URL, cfg.Location(), horizon, fetcher)
	default:
		return nil
	}
}

func buildRepository(cfg *config.Config, src source.Source) *repository.Repository {
	return repository.New(repository.Options{
		MonthsAhead:      cfg.MonthsAhead,
		MaxCapacity:      cfg.MaxCapacity,
		UseFallbackDates: cfg.UseFallbackDates,
		MergeFallback:    cfg.MergeFallback,
		FetchTimeout:     cfg.FetchTimeoutDuration(),
		Location:         cfg.Location(),
	}, src, nil)
}
