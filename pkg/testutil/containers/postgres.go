//go:build integration

package containers

import (
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"consentledger/migrations"
)

// ledgerTables lists every table the migrations create, children first.
var ledgerTables = []string{"consent_audit_events", "consents"}

// PostgresContainer is a Postgres instance with the consent schema migrated.
type PostgresContainer struct {
	Container testcontainers.Container
	DSN       string
	DB        *sql.DB
}

func NewPostgresContainer(t *testing.T) *PostgresContainer {
	t.Helper()
	ctx := context.Background()

	pg, err := postgres.Run(ctx, "postgres:18-alpine",
		postgres.WithDatabase("consentledger_test"),
		postgres.WithUsername("consentledger"),
		postgres.WithPassword("consentledger"),
		// Postgres logs readiness once for the init server and once for the
		// real one.
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(time.Minute),
		),
	)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	fail := func(step string, err error) {
		_ = pg.Terminate(ctx)
		t.Fatalf("postgres %s: %v", step, err)
	}

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		fail("dsn", err)
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		fail("open", err)
	}
	if err := migrations.Up(ctx, db); err != nil {
		_ = db.Close()
		fail("migrate", err)
	}
	return &PostgresContainer{Container: pg, DSN: dsn, DB: db}
}

// TruncateAll empties every consentledger table in one statement.
func (p *PostgresContainer) TruncateAll(ctx context.Context) error {
	_, err := p.DB.ExecContext(ctx, "TRUNCATE TABLE "+strings.Join(ledgerTables, ", ")+" RESTART IDENTITY CASCADE")
	return err
}
