package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"github.com/Jason198341/seatcon-sub001/internal/room"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type PostgresStore struct {
	db       *sql.DB
	logger   *zap.Logger
	messages *messageRepo
}

func NewPostgresStore(ctx context.Context, dbURL string, logger *zap.Logger) (*PostgresStore, error) {
	if dbURL == "" {
		return nil, fmt.Errorf("db url is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("pgx", dbURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return &PostgresStore{
		db:       db,
		logger:   logger.Named("storage"),
		messages: &messageRepo{db: db},
	}, nil
}

func (s *PostgresStore) Close(ctx context.Context) error {
	_ = ctx
	return s.db.Close()
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	migrator := NewMigrator(s.db, migrationsFS, s.logger)
	_, err := migrator.Up(ctx)
	return err
}

func (s *PostgresStore) Messages() room.Repository {
	return s.messages
}
