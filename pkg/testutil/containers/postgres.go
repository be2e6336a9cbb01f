//go:build integration

package containers

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"profilegate/internal/platform/database"
	id "profilegate/pkg/domain"
)

// PostgresContainer wraps a testcontainers Postgres instance.
type PostgresContainer struct {
	Container testcontainers.Container
	DSN       string
	DB        *sql.DB
}

// NewPostgresContainer starts Postgres and applies the embedded migrations
// through the same migrator the server runs at startup.
func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()

	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:18-alpine",
		postgres.WithDatabase("profilegate_test"),
		postgres.WithUsername("profilegate"),
		postgres.WithPassword("profilegate_test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	if err != nil {
		t.Fatalf("failed to start postgres container: %v", err)
	}

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to get postgres connection string: %v", err)
	}

	if err := database.RunMigrations(dsn); err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to run migrations: %v", err)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Fatalf("failed to connect to postgres: %v", err)
	}

	// Shared across suites by the Manager; Ryuk removes the container when
	// the test process exits.
	return &PostgresContainer{Container: container, DSN: dsn, DB: db}
}

// TruncateProfiles clears the profiles table between tests.
func (p *PostgresContainer) TruncateProfiles(ctx context.Context) error {
	if _, err := p.DB.ExecContext(ctx, "TRUNCATE TABLE profiles"); err != nil {
		return fmt.Errorf("truncate profiles: %w", err)
	}
	return nil
}

// ProfileRow is a raw profiles row for fixtures. Empty strings are stored as
// NULL to mimic rows written by older onboarding flows.
type ProfileRow struct {
	ID        uuid.UUID
	FullName  string
	FirstName string
	LastName  string
	Company   string
}

// InsertProfile inserts row for userID and returns its id.
func (p *PostgresContainer) InsertProfile(ctx context.Context, t testing.TB, userID id.UserID, row ProfileRow) uuid.UUID {
	t.Helper()
	if row.ID == uuid.Nil {
		row.ID = uuid.New()
	}
	_, err := p.DB.ExecContext(ctx, `
		INSERT INTO profiles (id, user_id, full_name, first_name, last_name, company)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, row.ID, uuid.UUID(userID), nullable(row.FullName), nullable(row.FirstName), nullable(row.LastName), nullable(row.Company))
	if err != nil {
		t.Fatalf("InsertProfile: %v", err)
	}
	return row.ID
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
