// Package storage provides the durable key/value backends behind the
// reactive store. Exactly one is selected from configuration at startup.
package storage

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/dkeye/omnio/internal/config"
	"github.com/dkeye/omnio/internal/store"
	"github.com/rs/zerolog/log"
)

const (
	DriverBolt   = "bolt"
	DriverSQLite = "sqlite"
	DriverFile   = "file"
	DriverRedis  = "redis"
	DriverMemory = "memory"
)

var ErrUnknownDriver = errors.New("storage: unknown driver")

// Open builds the backend named by cfg.Driver.
func Open(cfg config.StorageConfig) (store.Backend, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	log.Info().Str("module", "storage").Str("driver", driver).Str("path", cfg.Path).Msg("opening backend")

	switch driver {
	case DriverBolt, "":
		return OpenBolt(cfg.Path)
	case DriverSQLite:
		return OpenSQLite(cfg.Path)
	case DriverFile:
		return OpenFile(cfg.Path)
	case DriverRedis:
		return OpenRedis(cfg.RedisAddr, cfg.Namespace)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}
}

// sanitizeKey keeps keys usable as file names and bucket keys.
func sanitizeKey(key string) string {
	key = filepath.Base(key)
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		default:
			return '_'
		}
	}, key)
}
