package application

import (
	"fmt"
	"log/slog"

	"github.com/psds-microservice/helpdesk-service/internal/config"
	"github.com/psds-microservice/helpdesk-service/internal/contentstore"
	"github.com/psds-microservice/helpdesk-service/internal/database"
	"github.com/psds-microservice/helpdesk-service/internal/repository"
)

// OpenStore собирает хранилище тикетов по STORE_BACKEND. Вторым значением идёт close:
// закрывает соединения postgres, для остальных бэкендов ничего не делает.
func OpenStore(cfg *config.Config, log *slog.Logger) (repository.Store, func() error, error) {
	noop := func() error { return nil }
	switch cfg.StoreBackend {
	case config.BackendGitHub:
		gh, err := contentstore.NewGitHub(contentstore.GitHubConfig{
			Token:       cfg.GitHub.Token,
			Owner:       cfg.GitHub.Owner,
			Repo:        cfg.GitHub.Repo,
			Branch:      cfg.GitHub.Branch,
			APIURL:      cfg.GitHub.APIURL,
			Timeout:     cfg.StoreTimeout,
			ReadRetries: cfg.GitHub.ReadRetries,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewContentStore(gh, log), noop, nil
	case config.BackendFS:
		dir, err := contentstore.NewDir(cfg.StoreDir)
		if err != nil {
			return nil, nil, err
		}
		return repository.NewContentStore(dir, log), noop, nil
	case config.BackendMemory:
		log.Warn("memory store: tickets are lost on restart")
		return repository.NewContentStore(contentstore.NewMemory(), log), noop, nil
	case config.BackendPostgres:
		if err := database.MigrateUp(cfg.DatabaseURL()); err != nil {
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
		db, err := database.Open(cfg.DSN())
		if err != nil {
			return nil, nil, fmt.Errorf("database: %w", err)
		}
		sqlDB, err := db.DB()
		if err != nil {
			return nil, nil, fmt.Errorf("database: %w", err)
		}
		return repository.NewGormStore(db, log), sqlDB.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}
