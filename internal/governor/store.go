package governor

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/tokenlink/internal/models"
)

// Store persists one LockoutState. Load returns an empty state when nothing
// has been saved yet.
type Store interface {
	Load(ctx context.Context) (*models.LockoutState, error)
	Save(ctx context.Context, state *models.LockoutState) error
}

// KeyedStore persists one LockoutState per key.
type KeyedStore interface {
	LoadKey(ctx context.Context, key string) (*models.LockoutState, error)
	SaveKey(ctx context.Context, key string, state *models.LockoutState) error
	Close() error
}

// Bind narrows a KeyedStore to a single key.
func Bind(store KeyedStore, key string) Store {
	return boundStore{store: store, key: key}
}

type boundStore struct {
	store KeyedStore
	key   string
}

func (b boundStore) Load(ctx context.Context) (*models.LockoutState, error) {
	return b.store.LoadKey(ctx, b.key)
}

func (b boundStore) Save(ctx context.Context, state *models.LockoutState) error {
	return b.store.SaveKey(ctx, b.key, state)
}

// Driver identifiers.
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// StoreConfig selects and configures a KeyedStore.
type StoreConfig struct {
	Driver string
	Path   string // file and sqlite
	Redis  *RedisConfig
	// Retention bounds how long an idle state is kept where the backend
	// supports expiry.
	Retention time.Duration
}

// RedisConfig configures the redis driver.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

// NewStore creates the KeyedStore named by cfg.Driver.
func NewStore(ctx context.Context, cfg StoreConfig) (KeyedStore, error) {
	driver := cfg.Driver
	if driver == "" {
		driver = DriverMemory
	}

	switch driver {
	case DriverMemory:
		return NewMemoryStore(), nil
	case DriverFile:
		if cfg.Path == "" {
			return nil, fmt.Errorf("file lockout store requires a path")
		}
		return NewFileStore(cfg.Path), nil
	case DriverSQLite:
		if cfg.Path == "" {
			return nil, fmt.Errorf("sqlite lockout store requires a path")
		}
		return OpenSQLiteStore(ctx, cfg.Path)
	case DriverRedis:
		return NewRedisStore(ctx, cfg.Redis, cfg.Retention)
	default:
		return nil, fmt.Errorf("unsupported lockout store driver: %s", driver)
	}
}
