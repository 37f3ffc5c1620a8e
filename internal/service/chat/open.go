package chat

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/NicolasHurtado/Voice-gpt-agent/internal/config"
)

// Open builds the store selected by cfg.Driver.
func Open(cfg config.StoreConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Driver {
	case config.StoreMemory, "":
		return NewMemoryStore(), nil
	case config.StoreSQLite:
		return OpenSQLite(cfg.DSN, logger)
	case config.StorePostgres:
		return OpenPostgres(cfg.DSN, logger)
	case config.StoreRedis:
		return NewRedisStore(cfg.Redis, logger)
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.Driver)
	}
}
