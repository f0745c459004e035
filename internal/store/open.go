package store

import (
	"context"
	"fmt"
	"log"

	"github.com/zhouzirui/serenity/backend/internal/config"
)

// Open returns the Repository selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Repository, error) {
	if cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()
	}

	switch cfg.Driver {
	case config.StoreMemory, "":
		log.Printf("[store] using in-memory repository")
		return NewMemoryStore(), nil
	case config.StoreSQLite:
		log.Printf("[store] using sqlite repository at %s", cfg.DSN)
		repo, err := OpenSQLite(cfg.DSN)
		if err != nil {
			return nil, err
		}
		return repo, nil
	case config.StoreMySQL:
		log.Printf("[store] using mysql repository")
		repo, err := OpenMySQL(cfg.DSN)
		if err != nil {
			return nil, err
		}
		return repo, nil
	case config.StoreMongo:
		log.Printf("[store] using mongo repository, database=%s", cfg.MongoDatabase)
		repo, err := OpenMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
		if err != nil {
			return nil, err
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", cfg.Driver)
	}
}
