// Package storage selects and opens a LedgerStore adapter by driver name.
package storage

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	interfaces "github.com/sheikh-saqib/account-ledger/internal/interfaces"
	"github.com/sheikh-saqib/account-ledger/internal/logging"
	"github.com/sheikh-saqib/account-ledger/internal/models"
	"github.com/sheikh-saqib/account-ledger/internal/storage/memory"
	"github.com/sheikh-saqib/account-ledger/internal/storage/mongo"
	"github.com/sheikh-saqib/account-ledger/internal/storage/neo4j"
	"github.com/sheikh-saqib/account-ledger/internal/storage/postgres"
)

const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverMongo    = "mongo"
	DriverNeo4j    = "neo4j"
)

var Drivers = []string{DriverMemory, DriverPostgres, DriverMongo, DriverNeo4j}

type Config struct {
	Driver       string
	EnsureSchema bool

	Postgres postgres.Config
	Mongo    mongo.Config
	Neo4j    neo4j.Config
}

func DefaultConfig() Config {
	return Config{
		Driver:       DriverMemory,
		EnsureSchema: true,
		Postgres:     postgres.DefaultConfig(),
		Mongo:        mongo.DefaultConfig(),
		Neo4j:        neo4j.DefaultConfig(),
	}
}

// ValidDriver reports whether name is one of Drivers
func ValidDriver(name string) bool {
	for _, d := range Drivers {
		if d == name {
			return true
		}
	}
	return false
}

type schemaEnsurer interface {
	EnsureSchema(ctx context.Context) error
}

// Open connects the configured adapter and, when asked, creates its schema.
// The caller owns the returned store and must Close it.
func Open(ctx context.Context, cfg Config, logger *logging.Logger) (interfaces.LedgerStore, error) {
	if logger == nil {
		logger = logging.NewNoOpLogger()
	}
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	log := logger.Named("storage").With(zap.String("driver", driver))

	var (
		store interfaces.LedgerStore
		err   error
	)
	switch driver {
	case DriverMemory, "":
		store = memory.NewMemoryLedgerStore()
	case DriverPostgres:
		store, err = postgres.Open(ctx, cfg.Postgres)
	case DriverMongo:
		store, err = mongo.Open(ctx, cfg.Mongo)
	case DriverNeo4j:
		store, err = neo4j.Open(ctx, cfg.Neo4j)
	default:
		return nil, fmt.Errorf("unknown store driver %q: %w", cfg.Driver, models.ErrStoreUnavailable)
	}
	if err != nil {
		log.Error("failed to open store", zap.Error(err))
		return nil, err
	}

	if ensurer, ok := store.(schemaEnsurer); ok && cfg.EnsureSchema {
		if err := ensurer.EnsureSchema(ctx); err != nil {
			log.Error("failed to ensure schema", zap.Error(err))
			_ = store.Close(context.WithoutCancel(ctx))
			return nil, err
		}
		log.Debug("schema ensured")
	}

	log.Info("store opened")
	return store, nil
}
