package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/davidahmann/riskledger/internal/ledger"
	"github.com/davidahmann/riskledger/pkg/types"
)

const (
	selectRecords = `SELECT ` + ledger.RecordColumns + ` FROM decision_logs`
	insertRecord  = `INSERT INTO decision_logs(` + ledger.InsertColumns + `) VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	queryBase     = selectRecords + ` WHERE decision_id = ? AND overridden = 0`
	queryOverride = selectRecords + ` WHERE decision_id = ? AND overridden = 1 ORDER BY id DESC LIMIT 1`
	queryHasDup   = `SELECT 1 FROM decision_logs WHERE decision_id = ? AND overridden = 1 AND decision = ? AND override_reason = ? LIMIT 1`
	queryTail     = `SELECT row_hash, ts_utc FROM decision_logs ORDER BY id DESC LIMIT 1`
)

type Store struct {
	db *sql.DB
}

// OpenSQLite opens dsn with immediate write transactions and a busy timeout
// unless the DSN already sets them. Immediate transactions take the database
// write lock at BEGIN, which serializes appends across processes.
func OpenSQLite(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", withDefaults(dsn))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return New(db), nil
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	wrapped := &Tx{ctx: ctx, tx: tx}
	if err := fn(wrapped); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func (s *Store) GetBase(ctx context.Context, decisionID string) (ledger.Record, bool, error) {
	return scanOne(s.db.QueryRowContext(ctx, queryBase, decisionID))
}

func (s *Store) GetLatestOverride(ctx context.Context, decisionID string) (ledger.Record, bool, error) {
	return scanOne(s.db.QueryRowContext(ctx, queryOverride, decisionID))
}

func (s *Store) HasOverride(ctx context.Context, decisionID string, verdict types.Verdict, reason string) (bool, error) {
	return exists(s.db.QueryRowContext(ctx, queryHasDup, decisionID, string(verdict), reason))
}

func (s *Store) ListRecords(ctx context.Context, filter ledger.ListFilter) ([]ledger.Record, error) {
	query := selectRecords
	var (
		where []string
		args  []any
	)
	if filter.From != "" {
		where = append(where, "ts_utc >= ?")
		args = append(args, filter.From)
	}
	if filter.To != "" {
		where = append(where, "ts_utc <= ?")
		args = append(args, filter.To)
	}
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []ledger.Record{}
	for rows.Next() {
		rec, err := ledger.ScanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type Tx struct {
	ctx context.Context
	tx  *sql.Tx
}

func (t *Tx) Tail() (string, string, error) {
	var hash, ts string
	err := t.tx.QueryRowContext(t.ctx, queryTail).Scan(&hash, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", nil
	}
	return hash, ts, err
}

func (t *Tx) GetBase(decisionID string) (ledger.Record, bool, error) {
	return scanOne(t.tx.QueryRowContext(t.ctx, queryBase, decisionID))
}

func (t *Tx) GetLatestOverride(decisionID string) (ledger.Record, bool, error) {
	return scanOne(t.tx.QueryRowContext(t.ctx, queryOverride, decisionID))
}

func (t *Tx) HasOverride(decisionID string, verdict types.Verdict, reason string) (bool, error) {
	return exists(t.tx.QueryRowContext(t.ctx, queryHasDup, decisionID, string(verdict), reason))
}

func (t *Tx) Insert(rec ledger.Record) (int64, error) {
	res, err := t.tx.ExecContext(t.ctx, insertRecord, ledger.InsertArgs(rec)...)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, ledger.ErrDuplicateBase
		}
		return 0, err
	}
	return res.LastInsertId()
}

func scanOne(row *sql.Row) (ledger.Record, bool, error) {
	rec, err := ledger.ScanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Record{}, false, nil
	}
	if err != nil {
		return ledger.Record{}, false, err
	}
	return rec, true, nil
}

func exists(row *sql.Row) (bool, error) {
	var one int
	err := row.Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return err == nil, err
}

func isUniqueViolation(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		if se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
			return true
		}
		// Primary result code only when extended codes are off.
		return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "UNIQUE")
	}
	return false
}

func withDefaults(dsn string) string {
	var params []string
	if !strings.Contains(dsn, "_txlock=") {
		params = append(params, "_txlock=immediate")
	}
	if !strings.Contains(dsn, "busy_timeout") {
		params = append(params, "_pragma=busy_timeout(5000)")
	}
	if len(params) == 0 {
		return dsn
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}
