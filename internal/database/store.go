package database

import (
	"context"
	"fmt"

	"github.com/jmerrifield20/authgate/internal/config"
	"github.com/jmerrifield20/authgate/internal/users"
	"go.uber.org/zap"
)

// Store is an opened user repository and the function that releases it.
type Store struct {
	Users users.Repository
	close func()
}

// Close releases the underlying connection, if any.
func (s *Store) Close() {
	if s.close != nil {
		s.close()
	}
}

// OpenStore opens the repository selected by cfg.Driver.
func OpenStore(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*Store, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		db, err := Open(ctx, cfg.URL)
		if err != nil {
			return nil, err
		}
		logger.Info("connected to postgres")
		return &Store{Users: users.NewPostgresRepository(db), close: db.Close}, nil

	case config.DriverSQLite:
		repo, err := users.OpenSQLite(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		logger.Info("opened sqlite store", zap.String("path", cfg.SQLitePath))
		return &Store{Users: repo, close: func() {
			if err := repo.Close(); err != nil {
				logger.Warn("close sqlite store", zap.Error(err))
			}
		}}, nil

	case config.DriverMemory:
		logger.Warn("using in-memory store; records are lost on exit")
		return &Store{Users: users.NewMemoryRepository()}, nil

	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
