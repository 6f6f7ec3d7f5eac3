package ledger

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	_ "modernc.org/sqlite"
)

func openMigratedSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", "file:"+strings.ReplaceAll(t.Name(), "/", "_")+"?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	ctx := context.Background()
	if err := Migrate(ctx, db, DBSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if err := Migrate(ctx, db, DBSQLite); err != nil {
		t.Fatalf("migrate second: %v", err)
	}
	return db
}

func TestMigrateSQLiteIdempotent(t *testing.T) {
	db := openMigratedSQLite(t)

	var name string
	if err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type='table' AND name='decision_logs'`).Scan(&name); err != nil {
		t.Fatalf("expected decision_logs table: %v", err)
	}

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("count migrations: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 migration applied, got %d", count)
	}
}

func TestMigratedSchemaIsAppendOnly(t *testing.T) {
	db := openMigratedSQLite(t)

	_, err := db.Exec(`INSERT INTO decision_logs(decision_id, ts_utc, order_id, customer_id, input_json, score, thresholds_json, decision, rule_version, data_version, actor_sys, prev_hash, row_hash)
VALUES('dec-a', '2025-01-01T00:00:00Z', 'O-1', 'C-1', '{}', 50, '{}', 'ALLOW', 'rules_v1.2', 'dv1.0', 'credit_decision_api', '', 'h1')`)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}

	if _, err := db.Exec(`UPDATE decision_logs SET score = 10`); err == nil || !strings.Contains(err.Error(), "immutable log") {
		t.Fatalf("expected update to be rejected, got %v", err)
	}
	if _, err := db.Exec(`DELETE FROM decision_logs`); err == nil || !strings.Contains(err.Error(), "immutable log") {
		t.Fatalf("expected delete to be rejected, got %v", err)
	}
	_, err = db.Exec(`INSERT INTO decision_logs(decision_id, ts_utc, order_id, customer_id, input_json, score, thresholds_json, decision, rule_version, data_version, actor_sys, prev_hash, row_hash)
VALUES('dec-a', '2025-01-01T00:00:01Z', 'O-1', 'C-1', '{}', 50, '{}', 'ALLOW', 'rules_v1.2', 'dv1.0', 'credit_decision_api', 'h1', 'h2')`)
	if err == nil {
		t.Fatalf("expected second base record for the same identity to be rejected")
	}
}

func TestMigrationHelpers(t *testing.T) {
	if _, _, err := migrationConfig(DBPostgres); err != nil {
		t.Fatalf("expected postgres config, got %v", err)
	}
	if _, _, err := migrationConfig(DBDriver("nope")); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
	if err := ensureMigrationsTable(context.Background(), &sql.DB{}, DBDriver("nope"), "t"); err == nil {
		t.Fatalf("expected error for unsupported driver")
	}
	for _, dir := range []string{"migrations/sqlite", "migrations/postgres"} {
		files, err := listMigrationFiles(dir)
		if err != nil || len(files) == 0 {
			t.Fatalf("list %s: files=%v err=%v", dir, files, err)
		}
	}
}

func TestParseDriver(t *testing.T) {
	cases := map[string]DBDriver{"sqlite": DBSQLite, "SQLite3": DBSQLite, "postgresql": DBPostgres, "memory": DBMemory}
	for in, want := range cases {
		got, err := ParseDriver(in)
		if err != nil || got != want {
			t.Fatalf("parse %q: got %q err=%v", in, got, err)
		}
	}
	if _, err := ParseDriver("oracle"); err == nil {
		t.Fatalf("expected error for unknown driver")
	}
}
