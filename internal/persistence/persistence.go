// Package persistence mirrors the active-song table to durable storage.
// A store is read once at startup and written once at shutdown.
package persistence

import (
	"fmt"

	"github.com/a-essam23/setlist-sync/pkg/config"
	"github.com/a-essam23/setlist-sync/pkg/state"
)

func Open(cfg config.PersistenceConfig) (state.SnapshotStore, error) {
	switch cfg.Driver {
	case config.DriverJSON:
		return NewJSONFile(cfg.Path), nil
	case config.DriverSQLite:
		return OpenSQLite(cfg.Path)
	case config.DriverRedis:
		return NewRedis(cfg.RedisAddr, cfg.RedisKey), nil
	default:
		return nil, fmt.Errorf("unknown persistence driver %q", cfg.Driver)
	}
}
