package storage

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func startPostgres(t *testing.T) (string, func()) {
	t.Helper()
	if testing.Short() {
		t.Skip("postgres integration test skipped in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "seatcon",
			"POSTGRES_PASSWORD": "seatcon",
			"POSTGRES_DB":       "seatcon",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("postgres host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("postgres port: %v", err)
	}
	conn := fmt.Sprintf("postgres://seatcon:seatcon@%s:%s/seatcon?sslmode=disable", host, port.Port())
	return conn, func() { _ = container.Terminate(context.Background()) }
}

func setupPostgresDB(t *testing.T) (*sql.DB, func()) {
	t.Helper()
	conn, terminate := startPostgres(t)

	db, err := sql.Open("pgx", conn)
	if err != nil {
		terminate()
		t.Fatalf("open db: %v", err)
	}
	if err := db.PingContext(context.Background()); err != nil {
		_ = db.Close()
		terminate()
		t.Fatalf("ping db: %v", err)
	}

	cleanup := func() {
		_ = db.Close()
		terminate()
	}
	return db, cleanup
}

func TestMigratorUpIsIdempotent(t *testing.T) {
	db, cleanup := setupPostgresDB(t)
	defer cleanup()

	ctx := context.Background()
	m := NewMigrator(db, migrationsFS, nil)

	applied, err := m.Up(ctx)
	if err != nil {
		t.Fatalf("Up() error = %v", err)
	}
	if len(applied) == 0 {
		t.Fatal("expected migrations to be applied on an empty database")
	}

	again, err := m.Up(ctx)
	if err != nil {
		t.Fatalf("second Up() error = %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("second Up() applied %v", again)
	}

	var appliedAt time.Time
	row := db.QueryRowContext(ctx, `SELECT applied_at FROM schema_migrations WHERE id = $1`, applied[0])
	if err := row.Scan(&appliedAt); err != nil {
		t.Fatalf("scan schema_migrations: %v", err)
	}
	if appliedAt.IsZero() {
		t.Fatal("expected applied_at to be set")
	}
}
