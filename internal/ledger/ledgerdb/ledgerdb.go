// Package ledgerdb opens a ledger backend by driver name and applies its schema.
package ledgerdb

import (
	"context"
	"io"

	"github.com/davidahmann/riskledger/internal/ledger"
	"github.com/davidahmann/riskledger/internal/ledger/pgstore"
	"github.com/davidahmann/riskledger/internal/ledger/sqlstore"
)

// Handle is a migrated store that owns its connection.
type Handle interface {
	ledger.Store
	io.Closer
}

func Open(ctx context.Context, driver, dsn string) (Handle, error) {
	d, err := ledger.ParseDriver(driver)
	if err != nil {
		return nil, err
	}

	switch d {
	case ledger.DBMemory:
		return ledger.NewInMemoryStore(), nil
	case ledger.DBPostgres:
		s, err := pgstore.OpenPostgres(dsn)
		if err != nil {
			return nil, err
		}
		if err := ledger.Migrate(ctx, s.DB(), ledger.DBPostgres); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	default:
		s, err := sqlstore.OpenSQLite(dsn)
		if err != nil {
			return nil, err
		}
		if err := ledger.Migrate(ctx, s.DB(), ledger.DBSQLite); err != nil {
			_ = s.Close()
			return nil, err
		}
		return s, nil
	}
}
