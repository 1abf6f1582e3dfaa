// Copyright 2025 Certen Protocol

package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"sort"
	"strings"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// DB represents a pooled Postgres connection shared by the deposit and
// redemption repositories.
type DB struct {
	db     *sql.DB
	logger *log.Logger
}

// DBOption is a functional option for configuring DB.
type DBOption func(*DB)

// WithLogger sets a custom logger for the client.
func WithLogger(logger *log.Logger) DBOption {
	return func(c *DB) { c.logger = logger }
}

// PoolConfig holds the pool parameters NewDB needs; the process-wide
// config.Config carries the concrete values.
type PoolConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxIdleTime time.Duration
	ConnMaxLifetime time.Duration
}

// NewDB opens a connection pool and verifies connectivity.
func NewDB(cfg PoolConfig, opts ...DBOption) (*DB, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("store: database URL cannot be empty")
	}

	client := &DB{
		logger: log.New(log.Writer(), "[Store] ", log.LstdFlags),
	}
	for _, opt := range opts {
		opt(client)
	}

	sqlDB, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("store: failed to open database: %w", err)
	}

	maxOpen := cfg.MaxOpenConns
	if maxOpen == 0 {
		maxOpen = 25
	}
	maxIdle := cfg.MaxIdleConns
	if maxIdle == 0 {
		maxIdle = 5
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxIdle)
	if cfg.ConnMaxIdleTime > 0 {
		sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)
	}
	if cfg.ConnMaxLifetime > 0 {
		sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	client.db = sqlDB

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("store: failed to ping database: %w", err)
	}

	client.logger.Printf("Connected to database (max_open=%d, max_idle=%d)", maxOpen, maxIdle)
	return client, nil
}

// Close closes the underlying pool.
func (c *DB) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Ping verifies the connection is alive.
func (c *DB) Ping(ctx context.Context) error {
	return c.db.PingContext(ctx)
}

// ============================================================================
// MIGRATIONS
// ============================================================================

// Migration represents a single embedded migration file.
type Migration struct {
	Version string
	SQL     string
}

// MigrateUp applies all pending migrations in version order.
func (c *DB) MigrateUp(ctx context.Context) error {
	migrations, err := c.readMigrations()
	if err != nil {
		return fmt.Errorf("store: failed to read migrations: %w", err)
	}

	applied, err := c.appliedMigrations(ctx)
	if err != nil {
		if !strings.Contains(err.Error(), "does not exist") {
			return fmt.Errorf("store: failed to read applied migrations: %w", err)
		}
		applied = make(map[string]bool)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}
		c.logger.Printf("applying migration %s", m.Version)
		if err := c.applyMigration(ctx, m); err != nil {
			return fmt.Errorf("store: failed to apply migration %s: %w", m.Version, err)
		}
	}
	return nil
}

func (c *DB) readMigrations() ([]Migration, error) {
	var migrations []Migration
	err := fs.WalkDir(migrationsFS, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".sql") {
			return nil
		}
		content, err := migrationsFS.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}
		version := strings.TrimSuffix(d.Name(), ".sql")
		migrations = append(migrations, Migration{Version: version, SQL: string(content)})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

func (c *DB) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var version string
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func (c *DB) applyMigration(ctx context.Context, m Migration) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, m.SQL); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}
	return tx.Commit()
}

// ============================================================================
// DEPOSIT REPOSITORY
// ============================================================================

// PostgresDepositStore is the Postgres-backed DepositStore.
type PostgresDepositStore struct {
	db *DB
}

// NewPostgresDepositStore wraps db as a DepositStore.
func NewPostgresDepositStore(db *DB) *PostgresDepositStore {
	return &PostgresDepositStore{db: db}
}

func (s *PostgresDepositStore) Create(ctx context.Context, d *Deposit) error {
	payload, err := marshalDeposit(d)
	if err != nil {
		return fmt.Errorf("store: marshal deposit: %w", err)
	}
	_, err = s.db.db.ExecContext(ctx, `
		INSERT INTO deposits (id, chain_name, status, last_activity_at, payload)
		VALUES ($1, $2, $3, $4, $5)
	`, d.ID, d.ChainName, string(d.Status), d.Dates.LastActivityAt, payload)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrAlreadyExists
		}
		return fmt.Errorf("store: create deposit: %w", err)
	}
	return nil
}

func (s *PostgresDepositStore) GetByID(ctx context.Context, id string) (*Deposit, error) {
	var payload []byte
	err := s.db.db.QueryRowContext(ctx, `SELECT payload FROM deposits WHERE id = $1`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get deposit: %w", err)
	}
	return unmarshalDeposit(payload)
}

func (s *PostgresDepositStore) GetByStatus(ctx context.Context, status DepositStatus, chainName string) ([]*Deposit, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT payload FROM deposits WHERE status = $1 AND ($2 = '' OR chain_name = $2)
	`, string(status), chainName)
	if err != nil {
		return nil, fmt.Errorf("store: get deposits by status: %w", err)
	}
	defer rows.Close()

	var out []*Deposit
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("store: scan deposit: %w", err)
		}
		d, err := unmarshalDeposit(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresDepositStore) Update(ctx context.Context, d *Deposit) error {
	payload, err := marshalDeposit(d)
	if err != nil {
		return fmt.Errorf("store: marshal deposit: %w", err)
	}
	res, err := s.db.db.ExecContext(ctx, `
		UPDATE deposits SET status = $2, last_activity_at = $3, payload = $4
		WHERE id = $1
	`, d.ID, string(d.Status), d.Dates.LastActivityAt, payload)
	if err != nil {
		return fmt.Errorf("store: update deposit: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: update deposit rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func marshalDeposit(d *Deposit) ([]byte, error) {
	return json.Marshal(d)
}

func unmarshalDeposit(payload []byte) (*Deposit, error) {
	var d Deposit
	if err := json.Unmarshal(payload, &d); err != nil {
		return nil, fmt.Errorf("store: unmarshal deposit: %w", err)
	}
	return &d, nil
}

// ============================================================================
// REDEMPTION REPOSITORY
// ============================================================================

// PostgresRedemptionStore is the Postgres-backed RedemptionStore.
type PostgresRedemptionStore struct {
	db *DB
}

// NewPostgresRedemptionStore wraps db as a RedemptionStore.
func NewPostgresRedemptionStore(db *DB) *PostgresRedemptionStore {
	return &PostgresRedemptionStore{db: db}
}

func (s *PostgresRedemptionStore) Create(ctx context.Context, r *Redemption) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("store: marshal redemption: %w", err)
	}
	_, err = s.db.db.ExecContext(ctx, `
		INSERT INTO redemptions (id, chain_name, status, payload)
		VALUES ($1, $2, $3, $4)
	`, r.ID, r.ChainName, string(r.Status), payload)
	if err != nil {
		if strings.Contains(err.Error(), "duplicate key") {
			return ErrAlreadyExists
		}
		return fmt.Errorf("store: create redemption: %w", err)
	}
	return nil
}

func (s *PostgresRedemptionStore) GetByID(ctx context.Context, id string) (*Redemption, error) {
	var payload []byte
	err := s.db.db.QueryRowContext(ctx, `SELECT payload FROM redemptions WHERE id = $1`, id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get redemption: %w", err)
	}
	var r Redemption
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, fmt.Errorf("store: unmarshal redemption: %w", err)
	}
	return &r, nil
}

func (s *PostgresRedemptionStore) GetByStatus(ctx context.Context, status RedemptionStatus, chainName string) ([]*Redemption, error) {
	rows, err := s.db.db.QueryContext(ctx, `
		SELECT payload FROM redemptions WHERE status = $1 AND ($2 = '' OR chain_name = $2)
	`, string(status), chainName)
	if err != nil {
		return nil, fmt.Errorf("store: get redemptions by status: %w", err)
	}
	defer rows.Close()

	var out []*Redemption
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("store: scan redemption: %w", err)
		}
		var r Redemption
		if err := json.Unmarshal(payload, &r); err != nil {
			return nil, fmt.Errorf("store: unmarshal redemption: %w", err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *PostgresRedemptionStore) Update(ctx context.Context, r *Redemption) error {
	payload, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("store: marshal redemption: %w", err)
	}
	res, err := s.db.db.ExecContext(ctx, `
		UPDATE redemptions SET status = $2, payload = $3 WHERE id = $1
	`, r.ID, string(r.Status), payload)
	if err != nil {
		return fmt.Errorf("store: update redemption: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: update redemption rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DecodeVaaHex decodes a hex-encoded VAA as stored in the database
// column form, per spec §3's "opaque bytes (hex-encoded in storage)".
func DecodeVaaHex(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}
