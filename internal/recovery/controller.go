package recovery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/a-essam23/setlist-sync/pkg/state"
)

const defaultFlushTimeout = 3 * time.Second

// Controller mirrors the active-song store to durable storage: it restores
// the store before the server accepts connections and writes it back when
// the process stops.
type Controller struct {
	logger       *slog.Logger
	store        state.SnapshotStore
	songs        state.ActiveSongStore
	flushTimeout time.Duration
}

func NewController(logger *slog.Logger, store state.SnapshotStore, songs state.ActiveSongStore, flushTimeout time.Duration) *Controller {
	if flushTimeout <= 0 {
		flushTimeout = defaultFlushTimeout
	}
	return &Controller{
		logger:       logger.With(slog.String("component", "recovery")),
		store:        store,
		songs:        songs,
		flushTimeout: flushTimeout,
	}
}

// Load restores the snapshot verbatim. A read failure is logged and the
// store starts empty.
func (c *Controller) Load(ctx context.Context) {
	entries, err := c.store.LoadActiveSongs(ctx)
	if err != nil {
		c.logger.Error("Failed to load active songs, starting empty", slog.Any("error", err))
		c.songs.Replace(nil)
		return
	}
	c.songs.Replace(entries)
	c.logger.Info("Active songs restored", slog.Int("groups", len(entries)))
}

// Flush writes the current store contents and gives up after the flush
// timeout. Failures are logged and returned; callers treat them as non-fatal.
func (c *Controller) Flush(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.flushTimeout)
	defer cancel()

	snapshot := c.songs.Snapshot()
	done := make(chan error, 1)
	go func() {
		done <- c.store.FlushActiveSongs(ctx, snapshot)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}
	if err != nil {
		err = fmt.Errorf("flush active songs: %w", err)
		c.logger.Error("Active songs were not persisted", slog.Any("error", err))
		return err
	}
	c.logger.Info("Active songs persisted", slog.Int("groups", len(snapshot)))
	return nil
}

// FlushOnPanic is deferred on the run path. It persists the store and then
// re-panics.
func (c *Controller) FlushOnPanic() {
	if r := recover(); r != nil {
		c.logger.Error("Fatal panic, flushing active songs before exit", slog.Any("panic", r))
		c.Flush(context.Background())
		panic(r)
	}
}

func (c *Controller) Close() error {
	return c.store.Close()
}
