package repository

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/qr_order/internal/persistence"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresBackend stores cart records in the table_carts table.
type PostgresBackend struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresBackend(db *sql.DB) *PostgresBackend {
	return &PostgresBackend{db: db, now: time.Now}
}

func (r *PostgresBackend) RunMigrations() error {
	driver, err := postgres.WithInstance(r.db, &postgres.Config{
		MigrationsTable: "qr_order_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("could not open migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}
	return nil
}

func (r *PostgresBackend) Get(ctx context.Context, key string) ([]byte, error) {
	query := `SELECT payload FROM table_carts
	          WHERE cart_key = $1 AND (expires_at IS NULL OR expires_at > $2)`

	var payload []byte
	err := r.db.QueryRowContext(ctx, query, key, r.now()).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cart record: %w", err)
	}
	return payload, nil
}

func (r *PostgresBackend) Set(ctx context.Context, key string, data []byte, ttl time.Duration) error {
	now := r.now()
	var expiresAt sql.NullTime
	if ttl > 0 {
		expiresAt = sql.NullTime{Time: now.Add(ttl), Valid: true}
	}

	query := `INSERT INTO table_carts (cart_key, payload, saved_at, expires_at)
	          VALUES ($1, $2, $3, $4)
	          ON CONFLICT (cart_key) DO UPDATE
	          SET payload = EXCLUDED.payload, saved_at = EXCLUDED.saved_at, expires_at = EXCLUDED.expires_at`

	if _, err := r.db.ExecContext(ctx, query, key, data, now, expiresAt); err != nil {
		return fmt.Errorf("failed to upsert cart record: %w", err)
	}
	return nil
}

func (r *PostgresBackend) Delete(ctx context.Context, key string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM table_carts WHERE cart_key = $1`, key); err != nil {
		return fmt.Errorf("failed to delete cart record: %w", err)
	}
	return nil
}

// PurgeExpired removes rows past their expiry and returns how many went.
func (r *PostgresBackend) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM table_carts WHERE expires_at IS NOT NULL AND expires_at <= $1`, r.now())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired carts: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count purged carts: %w", err)
	}
	return n, nil
}

func (r *PostgresBackend) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *PostgresBackend) Close() error {
	return r.db.Close()
}
