package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"

	"github.com/italolelis/syncbox/internal/storage"
)

// schemaVersion is the number of migrations a usable database has applied.
var schemaVersion = len(migrations)

var migrations = []string{
	`CREATE TABLE IF NOT EXISTS records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		oc_id TEXT NOT NULL UNIQUE,
		account TEXT NOT NULL,
		server_url TEXT NOT NULL,
		file_name TEXT NOT NULL,
		status TEXT NOT NULL,
		session_selector TEXT NOT NULL,
		chunk INTEGER NOT NULL DEFAULT 0,
		size INTEGER NOT NULL DEFAULT 0,
		etag TEXT NOT NULL DEFAULT '',
		creation_date INTEGER NOT NULL DEFAULT 0,
		modification_date INTEGER NOT NULL DEFAULT 0,
		asset_id TEXT NOT NULL DEFAULT '',
		local_path TEXT NOT NULL DEFAULT '',
		live_photo INTEGER NOT NULL DEFAULT 0,
		live_group TEXT NOT NULL DEFAULT '',
		destination TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		error_code INTEGER NOT NULL DEFAULT 0,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_records_account_status ON records(account, status);`,

	`CREATE TABLE IF NOT EXISTS known_assets (
		account TEXT NOT NULL,
		asset_id TEXT NOT NULL,
		remembered_at INTEGER NOT NULL,
		PRIMARY KEY (account, asset_id)
	);`,

	`CREATE TABLE IF NOT EXISTS pass_leases (
		account TEXT PRIMARY KEY,
		holder TEXT NOT NULL,
		acquired_at INTEGER NOT NULL
	);`,

	`ALTER TABLE records ADD COLUMN failed_action TEXT NOT NULL DEFAULT '';`,
}

func dsn(path string) string {
	return fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate", path)
}

// InitDB opens the SQLite database at path and applies pending migrations.
func InitDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dsn(path))
	if err != nil {
		return nil, err
	}

	if err := migrate(context.Background(), db); err != nil {
		db.Close()

		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return db, nil
}

// Open opens an existing database without migrating it. Using the result
// fails with storage.ErrStoreUnavailable until InitDB has run.
func Open(path string) (*sql.DB, error) {
	return sql.Open("sqlite3", dsn(path))
}

func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return err
	}

	current, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}

	for i := current; i < len(migrations); i++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, migrations[i]); err != nil {
			tx.Rollback()

			return fmt.Errorf("migration %d: %w", i+1, err)
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM schema_version`); err != nil {
			tx.Rollback()

			return err
		}

		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, i+1); err != nil {
			tx.Rollback()

			return err
		}

		if err := tx.Commit(); err != nil {
			return err
		}
	}

	return nil
}

func currentVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version int

	err := db.QueryRowContext(ctx, `SELECT version FROM schema_version`).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}

	return version, err
}

// checkReady reports ErrStoreUnavailable unless db is reachable and migrated.
func checkReady(ctx context.Context, db *sql.DB) error {
	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", storage.ErrStoreUnavailable, err)
	}

	version, err := currentVersion(ctx, db)
	if err != nil {
		return fmt.Errorf("%w: %v", storage.ErrStoreUnavailable, err)
	}

	if version < schemaVersion {
		return fmt.Errorf("%w: schema version %d, want %d", storage.ErrStoreUnavailable, version, schemaVersion)
	}

	return nil
}
