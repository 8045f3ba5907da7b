package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"

	"jobmail-hq/governor/pkg/config"
)

// Supported database/sql driver names.
const (
	DriverModernc = "sqlite"  // modernc.org/sqlite, pure Go
	DriverCGO     = "sqlite3" // github.com/mattn/go-sqlite3
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout stores times as fixed-width UTC text so they sort lexically
// and round-trip identically under both drivers.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// DB is an open governor database with migrations applied.
type DB struct {
	db     *sql.DB
	driver string
	path   string
	logger *slog.Logger
}

// Open opens the database described by cfg and applies pending migrations.
func Open(ctx context.Context, cfg config.SQLiteConfig, logger *slog.Logger) (*DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "storage")

	driver := cfg.Driver
	if driver == "" {
		driver = DriverModernc
	}
	if cfg.Path == "" {
		return nil, newError("open", fmt.Errorf("database path is required"))
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn, err := buildDSN(driver, cfg)
	if err != nil {
		return nil, newError("open", err)
	}
	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, newError("open", err)
	}

	// An in-memory database lives in a single connection.
	maxOpen := cfg.MaxOpenConns
	if maxOpen <= 0 || cfg.Path == MemoryPath {
		maxOpen = 1
	}
	sqlDB.SetMaxOpenConns(maxOpen)
	sqlDB.SetMaxIdleConns(maxOpen)
	sqlDB.SetConnMaxLifetime(0)

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, newError("ping", err)
	}
	if _, err := sqlDB.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		_ = sqlDB.Close()
		return nil, newError("enable_foreign_keys", err)
	}

	d := &DB{db: sqlDB, driver: driver, path: cfg.Path, logger: logger}
	applied, err := d.migrate(ctx)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	logger.Info("database opened",
		"driver", driver,
		"path", cfg.Path,
		"wal_mode", cfg.WALMode && cfg.Path != MemoryPath,
		"max_open_conns", maxOpen,
		"migrations_applied", applied,
	)
	return d, nil
}

// OpenMemory opens an in-memory database with the pure Go driver. Used by
// tests and the "memory" storage backend.
func OpenMemory(ctx context.Context) (*DB, error) {
	return Open(ctx, config.SQLiteConfig{Path: MemoryPath, Driver: DriverModernc}, nil)
}

// buildDSN appends per-connection pragmas in the syntax each driver
// understands.
func buildDSN(driver string, cfg config.SQLiteConfig) (string, error) {
	busy := cfg.BusyTimeout.Milliseconds()
	wal := cfg.WALMode && cfg.Path != MemoryPath

	var params []string
	switch driver {
	case DriverModernc:
		params = append(params,
			fmt.Sprintf("_pragma=busy_timeout(%d)", busy),
			"_pragma=foreign_keys(1)",
		)
		if wal {
			params = append(params, "_pragma=journal_mode(WAL)")
		}
	case DriverCGO:
		params = append(params,
			fmt.Sprintf("_busy_timeout=%d", busy),
			"_foreign_keys=1",
		)
		if wal {
			params = append(params, "_journal_mode=WAL")
		}
	default:
		return "", fmt.Errorf("unsupported driver %q (want %q or %q)", driver, DriverModernc, DriverCGO)
	}
	return cfg.Path + "?" + strings.Join(params, "&"), nil
}

// migrate applies embedded migrations in file name order, recording each in
// schema_migrations. It returns the number applied.
func (d *DB) migrate(ctx context.Context) (int, error) {
	_, err := d.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
  version    TEXT PRIMARY KEY,
  applied_at TEXT NOT NULL
)`)
	if err != nil {
		return 0, newError("create_schema_migrations", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return 0, newError("read_migrations", err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	now := time.Now().UTC().Format(timeLayout)
	applied := 0
	for _, name := range files {
		version := strings.TrimSuffix(name, ".sql")
		contents, err := migrationsFS.ReadFile(path.Join("migrations", name))
		if err != nil {
			return applied, newError("read_migrations", err)
		}

		ok, err := d.applyMigration(ctx, version, string(contents), now)
		if err != nil {
			return applied, newError("migrate", fmt.Errorf("%s: %w", version, err))
		}
		if ok {
			applied++
			d.logger.Debug("migration applied", "version", version)
		}
	}
	return applied, nil
}

func (d *DB) applyMigration(ctx context.Context, version, contents, now string) (bool, error) {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?) ON CONFLICT(version) DO NOTHING`,
		version, now)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	if _, err := tx.ExecContext(ctx, contents); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// SchemaVersion returns the most recently applied migration.
func (d *DB) SchemaVersion(ctx context.Context) (string, error) {
	var v sql.NullString
	if err := d.db.QueryRowContext(ctx, `SELECT MAX(version) FROM schema_migrations`).Scan(&v); err != nil {
		return "", newError("schema_version", err)
	}
	return v.String, nil
}

// SQL returns the underlying handle.
func (d *DB) SQL() *sql.DB {
	return d.db
}

// Driver returns the database/sql driver name in use.
func (d *DB) Driver() string {
	return d.driver
}

// PingContext verifies the database is reachable. It satisfies the health
// package's Pinger.
func (d *DB) PingContext(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// Close closes the database.
func (d *DB) Close() error {
	return d.db.Close()
}

// WithTx runs fn in a transaction, committing when fn returns nil.
func (d *DB) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Rows written by hand may use plain RFC 3339.
		return time.Parse(time.RFC3339Nano, s)
	}
	return t, nil
}

func parseTimePtr(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
