// Package postgres provides the sqlx-backed store.Driver with OTEL
// instrumentation and embedded goose migrations.
package postgres

import (
	"context"
	"embed"
	"fmt"
	"io"

	"github.com/XSAM/otelsql"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
	"github.com/pressly/goose/v3"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/jensholdgaard/auction-house/internal/clock"
	"github.com/jensholdgaard/auction-house/internal/config"
	"github.com/jensholdgaard/auction-house/internal/store"
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

func init() {
	store.Register("postgres", openPostgres)
}

// openPostgres is the store.Driver for the "postgres" backend.
func openPostgres(ctx context.Context, cfg config.DatabaseConfig, clk clock.Clock) (*store.Repositories, error) {
	db, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &store.Repositories{
		Auctions: NewAuctionRepo(db, clk),
		Bids:     NewBidRepo(db, clk),
		Offers:   NewOfferRepo(db, clk),
		Events:   NewEventStore(db),
		Closer:   io.Closer(db),
		Ping:     db.PingContext,
	}, nil
}

// Connect opens and verifies a Postgres connection with OTEL instrumentation.
func Connect(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	dsn := cfg.DSN()

	// Register the OTel-instrumented driver wrapping lib/pq.
	driverName, err := otelsql.Register("postgres",
		otelsql.WithAttributes(semconv.DBSystemPostgreSQL),
	)
	if err != nil {
		return nil, fmt.Errorf("registering otel driver: %w", err)
	}

	db, err := sqlx.ConnectContext(ctx, driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return db, nil
}

// Migrate applies the embedded goose migrations.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	goose.SetBaseFS(embedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, db.DB, "migrations"); err != nil {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}
