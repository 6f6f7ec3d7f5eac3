package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/davidahmann/riskledger/internal/ledger"
	"github.com/davidahmann/riskledger/pkg/types"
)

// appendLockKey names the advisory lock every append transaction holds.
const appendLockKey int64 = 0x7269736b6c6467

const (
	selectRecords = `SELECT ` + ledger.RecordColumns + ` FROM decision_logs`
	insertRecord  = `INSERT INTO decision_logs(` + ledger.InsertColumns + `) VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17) RETURNING id`

	queryBase     = selectRecords + ` WHERE decision_id = $1 AND overridden = 0`
	queryOverride = selectRecords + ` WHERE decision_id = $1 AND overridden = 1 ORDER BY id DESC LIMIT 1`
	queryHasDup   = `SELECT 1 FROM decision_logs WHERE decision_id = $1 AND overridden = 1 AND decision = $2 AND override_reason = $3 LIMIT 1`
	queryTail     = `SELECT row_hash, ts_utc FROM decision_logs ORDER BY id DESC LIMIT 1`
	lockAppend    = `SELECT pg_advisory_xact_lock($1)`
)

const uniqueViolation = "23505"

type Store struct {
	db *sql.DB
}

func OpenPostgres(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
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

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// WithTx takes the append advisory lock before running fn, so the tail read
// and insert of concurrent writers never interleave. The lock is released
// at commit or rollback.
func (s *Store) WithTx(ctx context.Context, fn func(ledger.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, lockAppend, appendLockKey); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("acquire append lock: %w", err)
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
		args = append(args, filter.From)
		where = append(where, fmt.Sprintf("ts_utc >= $%d", len(args)))
	}
	if filter.To != "" {
		args = append(args, filter.To)
		where = append(where, fmt.Sprintf("ts_utc <= $%d", len(args)))
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
	var id int64
	err := t.tx.QueryRowContext(t.ctx, insertRecord, ledger.InsertArgs(rec)...).Scan(&id)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return 0, ledger.ErrDuplicateBase
		}
		return 0, err
	}
	return id, nil
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
