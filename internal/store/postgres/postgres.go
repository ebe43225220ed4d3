// Package postgres implements the store.Store interface backed by PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "github.com/lib/pq"

	"github.com/alfredjeanlab/atlasgrid/internal/model"
	"github.com/alfredjeanlab/atlasgrid/internal/store"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore implements store.Store backed by a PostgreSQL database.
type PostgresStore struct {
	db *sql.DB
}

// Compile-time check that PostgresStore implements store.Store.
var _ store.Store = (*PostgresStore)(nil)

// New opens a connection to the PostgreSQL database at the given URL,
// configures the connection pool, and runs any pending migrations.
func New(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// One writer plus dashboard readers; a small pool is plenty.
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewWithDB wraps an already open database without running migrations.
func NewWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func runMigrations(db *sql.DB) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(db, &postgres.Config{MigrationsTable: "atlasgrid_schema_migrations"})
	if err != nil {
		return fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("apply migrations: %w", err)
	}

	return nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) EnsureSpaces(ctx context.Context, zones []model.Zone) error {
	return queryEnsureSpaces(ctx, s.db, zones)
}

func (s *PostgresStore) GetCurrentStatus(ctx context.Context, spaceID string) (model.Status, error) {
	return queryGetCurrentStatus(ctx, s.db, spaceID)
}

func (s *PostgresStore) GetSpaceState(ctx context.Context, spaceID string) (*model.SpaceState, error) {
	return queryGetSpaceState(ctx, s.db, spaceID)
}

func (s *PostgresStore) ListSpaceStates(ctx context.Context) ([]*model.SpaceState, error) {
	return queryListSpaceStates(ctx, s.db)
}

func (s *PostgresStore) SaveSpaceState(ctx context.Context, state *model.SpaceState) error {
	return querySaveSpaceState(ctx, s.db, state)
}

// OpenInterval runs in its own transaction so the open-interval check and
// the insert see the same snapshot.
func (s *PostgresStore) OpenInterval(ctx context.Context, spaceID string, entry time.Time, isVehicle bool) (string, error) {
	var id string
	err := s.RunInTransaction(ctx, func(tx store.Store) error {
		var err error
		id, err = tx.OpenInterval(ctx, spaceID, entry, isVehicle)
		return err
	})
	return id, err
}

func (s *PostgresStore) CloseInterval(ctx context.Context, id string, departure time.Time) error {
	return s.RunInTransaction(ctx, func(tx store.Store) error {
		return tx.CloseInterval(ctx, id, departure)
	})
}

func (s *PostgresStore) GetInterval(ctx context.Context, id string) (*model.OccupancyInterval, error) {
	return queryGetInterval(ctx, s.db, id)
}

func (s *PostgresStore) GetOpenInterval(ctx context.Context, spaceID string) (*model.OccupancyInterval, error) {
	return queryGetOpenInterval(ctx, s.db, spaceID, false)
}

func (s *PostgresStore) ListIntervals(ctx context.Context, filter model.IntervalFilter) ([]*model.OccupancyInterval, error) {
	return queryListIntervals(ctx, s.db, filter)
}

func (s *PostgresStore) HourlyEntries(ctx context.Context, from, to time.Time, loc *time.Location) (map[int]int, error) {
	return queryHourlyEntries(ctx, s.db, from, to, loc)
}

// RunInTransaction begins a database transaction, creates a txStore that
// delegates to it, calls fn, and commits on success or rolls back on error.
func (s *PostgresStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	txS := &txStore{tx: tx}
	if err := fn(txS); err != nil {
		_ = tx.Rollback()
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// txStore implements store.Store using a *sql.Tx.
type txStore struct {
	tx *sql.Tx
}

// Compile-time check that txStore implements store.Store.
var _ store.Store = (*txStore)(nil)

func (s *txStore) EnsureSpaces(ctx context.Context, zones []model.Zone) error {
	return queryEnsureSpaces(ctx, s.tx, zones)
}

func (s *txStore) GetCurrentStatus(ctx context.Context, spaceID string) (model.Status, error) {
	return queryGetCurrentStatus(ctx, s.tx, spaceID)
}

func (s *txStore) GetSpaceState(ctx context.Context, spaceID string) (*model.SpaceState, error) {
	return queryGetSpaceState(ctx, s.tx, spaceID)
}

func (s *txStore) ListSpaceStates(ctx context.Context) ([]*model.SpaceState, error) {
	return queryListSpaceStates(ctx, s.tx)
}

func (s *txStore) SaveSpaceState(ctx context.Context, state *model.SpaceState) error {
	return querySaveSpaceState(ctx, s.tx, state)
}

func (s *txStore) OpenInterval(ctx context.Context, spaceID string, entry time.Time, isVehicle bool) (string, error) {
	return queryOpenInterval(ctx, s.tx, spaceID, entry, isVehicle)
}

func (s *txStore) CloseInterval(ctx context.Context, id string, departure time.Time) error {
	return queryCloseInterval(ctx, s.tx, id, departure)
}

func (s *txStore) GetInterval(ctx context.Context, id string) (*model.OccupancyInterval, error) {
	return queryGetInterval(ctx, s.tx, id)
}

func (s *txStore) GetOpenInterval(ctx context.Context, spaceID string) (*model.OccupancyInterval, error) {
	return queryGetOpenInterval(ctx, s.tx, spaceID, false)
}

func (s *txStore) ListIntervals(ctx context.Context, filter model.IntervalFilter) ([]*model.OccupancyInterval, error) {
	return queryListIntervals(ctx, s.tx, filter)
}

func (s *txStore) HourlyEntries(ctx context.Context, from, to time.Time, loc *time.Location) (map[int]int, error) {
	return queryHourlyEntries(ctx, s.tx, from, to, loc)
}

// RunInTransaction on a txStore reuses the existing transaction (no nesting).
func (s *txStore) RunInTransaction(ctx context.Context, fn func(tx store.Store) error) error {
	return fn(s)
}

// Close is a no-op for a transaction store; the parent store owns the connection.
func (s *txStore) Close() error {
	return nil
}
