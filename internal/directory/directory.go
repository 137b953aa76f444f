// Package directory provides the read-only user, group and song lookups
// consumed by the dispatcher.
package directory

import (
	"fmt"

	"github.com/a-essam23/setlist-sync/pkg/config"
	"github.com/a-essam23/setlist-sync/pkg/state"
)

type Closer interface {
	state.Directory
	Close() error
}

func Open(cfg config.DirectoryConfig) (Closer, error) {
	switch cfg.Driver {
	case config.DriverStatic:
		return NewStatic(cfg), nil
	case config.DriverSQLite:
		return OpenSQLite(cfg.Path)
	default:
		return nil, fmt.Errorf("unknown directory driver %q", cfg.Driver)
	}
}
