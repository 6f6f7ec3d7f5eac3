package sqlstore

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/davidahmann/riskledger/internal/ledger"
	"github.com/davidahmann/riskledger/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	return openDSN(t, dsn)
}

func openDSN(t *testing.T, dsn string) *Store {
	t.Helper()
	s, err := OpenSQLite(dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := ledger.Migrate(context.Background(), s.DB(), ledger.DBSQLite); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func base(id, ts string) ledger.Record {
	return ledger.Record{
		DecisionID:     id,
		TSUTC:          ts,
		OrderID:        "O-1",
		CustomerID:     "C-1",
		InputJSON:      `{"order_id":"O-1"}`,
		Score:          65,
		ThresholdsJSON: `{"allow_max":59,"block_min":80,"review_range":[60,79]}`,
		Decision:       types.VerdictReview,
		RuleVersion:    "rules_v1.2",
		DataVersion:    "dv1.0",
		ActorSys:       "credit_decision_api",
	}
}

func override(rec ledger.Record, ts, reason string) ledger.Record {
	actor := "reviewer@demo"
	rec.TSUTC = ts
	rec.Decision = types.VerdictAllow
	rec.ActorSys = "credit_override_api"
	rec.ActorUX = &actor
	rec.Overridden = true
	rec.OverrideReason = &reason
	return rec
}

func TestLedgerOnSQLite(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	l := ledger.New(s)

	first, appended, err := l.AppendBase(ctx, base("dec-a", "2025-01-01T00:00:00Z"))
	if err != nil || !appended {
		t.Fatalf("append base: appended=%v err=%v", appended, err)
	}
	if first.Seq != 1 || first.PrevHash != "" {
		t.Fatalf("unexpected first record: %+v", first)
	}
	if first.RowHash != "feaf6a1630ae5351541162350a5207cad2eb2baff50949122303803250a32df2" {
		t.Fatalf("unexpected row hash: %s", first.RowHash)
	}

	again, appended, err := l.AppendBase(ctx, base("dec-a", "2025-02-01T00:00:00Z"))
	if err != nil || appended || again.RowHash != first.RowHash {
		t.Fatalf("replay: appended=%v err=%v rec=%+v", appended, err, again)
	}

	ov, err := l.AppendOverride(ctx, override(first, "2025-01-01T00:00:05Z", "Customer prepaid half the order"), nil)
	if err != nil {
		t.Fatalf("append override: %v", err)
	}
	if ov.Seq != 2 || ov.PrevHash != first.RowHash {
		t.Fatalf("override not chained: %+v", ov)
	}

	cur, ok, err := l.Current(ctx, "dec-a")
	if err != nil || !ok || cur.RowHash != ov.RowHash {
		t.Fatalf("current: ok=%v err=%v rec=%+v", ok, err, cur)
	}
	if cur.ActorUX == nil || *cur.ActorUX != "reviewer@demo" {
		t.Fatalf("actor_ux did not round trip: %+v", cur)
	}

	stored, ok, err := s.GetBase(ctx, "dec-a")
	if err != nil || !ok || stored.ActorUX != nil || stored.OverrideReason != nil {
		t.Fatalf("base nullable columns: ok=%v err=%v rec=%+v", ok, err, stored)
	}

	dup, err := s.HasOverride(ctx, "dec-a", types.VerdictAllow, "Customer prepaid half the order")
	if err != nil || !dup {
		t.Fatalf("has override: dup=%v err=%v", dup, err)
	}
	dup, err = s.HasOverride(ctx, "dec-a", types.VerdictBlock, "Customer prepaid half the order")
	if err != nil || dup {
		t.Fatalf("different verdict is not a duplicate: dup=%v err=%v", dup, err)
	}

	n, err := l.Verify(ctx)
	if err != nil || n != 2 {
		t.Fatalf("verify: n=%d err=%v", n, err)
	}
}

func TestInsertDuplicateBase(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	rec := base("dec-a", "2025-01-01T00:00:00Z")
	rec.RowHash = "h"

	if err := s.WithTx(ctx, func(tx ledger.Tx) error { _, err := tx.Insert(rec); return err }); err != nil {
		t.Fatalf("insert: %v", err)
	}
	err := s.WithTx(ctx, func(tx ledger.Tx) error { _, err := tx.Insert(rec); return err })
	if err != ledger.ErrDuplicateBase {
		t.Fatalf("expected ErrDuplicateBase, got %v", err)
	}
}

func TestListRecordsFilter(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	l := ledger.New(s)
	for i, ts := range []string{"2025-01-01T00:00:00Z", "2025-01-02T00:00:00Z", "2025-01-03T00:00:00Z"} {
		if _, _, err := l.AppendBase(ctx, base(fmt.Sprintf("dec-%d", i), ts)); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	got, err := s.ListRecords(ctx, ledger.ListFilter{From: "2025-01-02T00:00:00Z"})
	if err != nil || len(got) != 2 {
		t.Fatalf("from filter: len=%d err=%v", len(got), err)
	}
	got, err = s.ListRecords(ctx, ledger.ListFilter{From: "2025-01-02T00:00:00Z", To: "2025-01-02T23:59:59Z"})
	if err != nil || len(got) != 1 || got[0].DecisionID != "dec-1" {
		t.Fatalf("range filter: %+v err=%v", got, err)
	}
}

// Two ledgers over separate connections to the same file stand in for two
// processes; the store lock has to keep the chain linear.
func TestConcurrentAppendsAcrossConnections(t *testing.T) {
	ctx := context.Background()
	dsn := "file:" + filepath.Join(t.TempDir(), "ledger.db")
	a := ledger.New(openDSN(t, dsn))
	b := ledger.New(openDSN(t, dsn))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l := a
			if i%2 == 1 {
				l = b
			}
			if _, _, err := l.AppendBase(ctx, base(fmt.Sprintf("dec-%02d", i), "2025-01-01T00:00:00Z")); err != nil {
				t.Errorf("append %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	n, err := a.Verify(ctx)
	if err != nil || n != 20 {
		t.Fatalf("verify: n=%d err=%v", n, err)
	}
}

func TestWithDefaults(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"file:x.db", "file:x.db?_txlock=immediate&_pragma=busy_timeout(5000)"},
		{"file:x.db?mode=memory", "file:x.db?mode=memory&_txlock=immediate&_pragma=busy_timeout(5000)"},
		{"file:x.db?_txlock=immediate", "file:x.db?_txlock=immediate&_pragma=busy_timeout(5000)"},
		{"x.db?_txlock=exclusive&_pragma=busy_timeout(1)", "x.db?_txlock=exclusive&_pragma=busy_timeout(1)"},
	}
	for _, tc := range cases {
		if got := withDefaults(tc.in); got != tc.want {
			t.Fatalf("withDefaults(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
