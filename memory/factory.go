package memory

import (
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/isdmx/edabox/config"
)

// Backend names accepted in memory.backend
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendSQLite = "sqlite"
)

// NewFromConfig builds the store selected by cfg.Memory.Backend
func NewFromConfig(logger *zap.Logger, cfg *config.Config) (*Store, error) {
	mc := cfg.Memory

	var backend Backend
	switch mc.Backend {
	case BackendMemory:
		backend = NewMemoryBackend()
	case BackendFile:
		b, err := NewFileBackend(mc.Dir)
		if err != nil {
			return nil, err
		}
		backend = b
	case BackendRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     mc.Redis.Addr,
			Password: mc.Redis.Password,
			DB:       mc.Redis.DB,
		})
		backend = NewRedisBackend(client, mc.Redis.KeyPrefix)
	case BackendSQLite:
		b, err := NewSQLiteBackend(mc.SQLitePath)
		if err != nil {
			return nil, err
		}
		backend = b
	default:
		return nil, fmt.Errorf("unsupported memory backend: %s", mc.Backend)
	}

	logger.Info("Memory store initialized", zap.String("backend", mc.Backend))
	return NewStore(logger, backend,
		WithMaxTurns(mc.MaxTurns),
		WithCodePreviewLen(mc.CodePreviewLen),
	), nil
}
