package app

import (
	"context"
	"fmt"

	"github.com/nerrad567/hubrelay/internal/bridges/hub"
	"github.com/nerrad567/hubrelay/internal/infrastructure/cache"
	"github.com/nerrad567/hubrelay/internal/infrastructure/config"
	"github.com/nerrad567/hubrelay/internal/infrastructure/logging"
	"github.com/nerrad567/hubrelay/internal/state"
)

// Core is the cache-backed state layer.
type Core struct {
	Config *config.Config
	Logger *logging.Logger
	Cache  *cache.RedisStore
	Hub    *hub.Client
	State  *state.Manager
}

// OpenCore connects to the cache and prepares the hub REST client. The
// hub itself is not contacted.
func OpenCore(ctx context.Context, cfg *config.Config, log *logging.Logger) (*Core, error) {
	store, err := cache.NewRedisStore(ctx, cfg.Cache)
	if err != nil {
		return nil, fmt.Errorf("connecting to cache: %w", err)
	}
	log.Info("cache connected", "addr", cfg.Cache.Addr, "db", cfg.Cache.DB)

	client, err := hub.NewClient(cfg.Hub.URL, cfg.Hub.Token, cfg.GetRequestTimeout())
	if err != nil {
		store.Close() //nolint:errcheck // already failing
		return nil, fmt.Errorf("creating hub client: %w", err)
	}
	client.SetLogger(log)

	mgr := state.NewManager(store, client, state.Config{
		StateTTL:      cfg.GetStateTTL(),
		RegisteredTTL: cfg.GetRegisteredTTL(),
		LockTTL:       cfg.GetLockTTL(),
		LockWait:      cfg.GetLockWait(),
	})
	mgr.SetLogger(log)

	return &Core{Config: cfg, Logger: log, Cache: store, Hub: client, State: mgr}, nil
}

// Sync pulls the hub's full state into the cache once.
func (c *Core) Sync(ctx context.Context) (int, error) {
	return c.State.SyncAll(ctx)
}

// Close releases the cache connection.
func (c *Core) Close() error {
	if c == nil || c.Cache == nil {
		return nil
	}
	return c.Cache.Close()
}
