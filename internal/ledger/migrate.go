package ledger

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"
)

//go:embed migrations/*/*.sql
var migrationsFS embed.FS

type DBDriver string

const (
	DBSQLite   DBDriver = "sqlite"
	DBPostgres DBDriver = "postgres"
	DBMemory   DBDriver = "memory"
)

// ParseDriver maps a configured driver name to a DBDriver.
func ParseDriver(name string) (DBDriver, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "sqlite", "sqlite3":
		return DBSQLite, nil
	case "postgres", "postgresql", "pg":
		return DBPostgres, nil
	case "memory", "mem":
		return DBMemory, nil
	default:
		return "", fmt.Errorf("unsupported db driver: %s", name)
	}
}

// Migrate applies the embedded schema files for driver in lexical order.
// Each file runs in its own transaction together with its version row, so a
// failed file leaves no trace and re-running is a no-op.
func Migrate(ctx context.Context, db *sql.DB, driver DBDriver) error {
	if db == nil {
		return fmt.Errorf("missing db")
	}
	dir, table, err := migrationConfig(driver)
	if err != nil {
		return err
	}
	if err := ensureMigrationsTable(ctx, db, driver, table); err != nil {
		return err
	}

	files, err := listMigrationFiles(dir)
	if err != nil {
		return err
	}
	for _, file := range files {
		if err := applyMigration(ctx, db, driver, table, file); err != nil {
			return err
		}
	}
	return nil
}

func applyMigration(ctx context.Context, db *sql.DB, driver DBDriver, table, file string) error {
	version := strings.TrimSuffix(path.Base(file), ".sql")
	contents, err := migrationsFS.ReadFile(file)
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	applied, err := tryInsertMigration(ctx, tx, driver, table, version, time.Now().UTC())
	if err != nil {
		return err
	}
	if !applied {
		return nil
	}
	if _, err := tx.ExecContext(ctx, string(contents)); err != nil {
		return fmt.Errorf("apply migration %s: %w", version, err)
	}
	return tx.Commit()
}

func migrationConfig(driver DBDriver) (dir string, table string, err error) {
	switch driver {
	case DBSQLite:
		return "migrations/sqlite", "schema_migrations", nil
	case DBPostgres:
		return "migrations/postgres", "riskledger_schema_migrations", nil
	default:
		return "", "", fmt.Errorf("unsupported db driver: %s", driver)
	}
}

func ensureMigrationsTable(ctx context.Context, db *sql.DB, driver DBDriver, table string) error {
	var column string
	switch driver {
	case DBSQLite:
		column = "TEXT"
	case DBPostgres:
		column = "TIMESTAMPTZ"
	default:
		return fmt.Errorf("unsupported db driver: %s", driver)
	}
	_, err := db.ExecContext(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  version TEXT PRIMARY KEY,
  applied_at %s NOT NULL
)`, table, column))
	return err
}

func tryInsertMigration(ctx context.Context, tx *sql.Tx, driver DBDriver, table string, version string, now time.Time) (bool, error) {
	var (
		res sql.Result
		err error
	)
	switch driver {
	case DBSQLite:
		res, err = tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s(version, applied_at) VALUES(?, ?) ON CONFLICT(version) DO NOTHING`, table), version, now.Format(time.RFC3339))
	case DBPostgres:
		res, err = tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s(version, applied_at) VALUES($1, $2) ON CONFLICT(version) DO NOTHING`, table), version, now)
	default:
		return false, fmt.Errorf("unsupported db driver: %s", driver)
	}
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func listMigrationFiles(dir string) ([]string, error) {
	entries, err := migrationsFS.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".sql") {
			continue
		}
		out = append(out, path.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}
