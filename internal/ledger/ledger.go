package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/davidahmann/riskledger/pkg/types"
)

// Ledger serializes appends so that reading the chain tail, computing the
// row hash and inserting happen as one step per process. The store adds the
// cross-process lock.
type Ledger struct {
	mu    sync.Mutex
	store Store
	now   func() time.Time
}

// TimestampLayout is the ts_utc format: UTC at second precision.
const TimestampLayout = "2006-01-02T15:04:05Z"

func FormatTimestamp(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(TimestampLayout)
}

type Option func(*Ledger)

// WithClock sets the clock used to stamp ts_utc on appended records.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// Guard runs inside the append transaction before an override is sealed.
// Returning an error aborts the append.
type Guard func(tx Tx) error

func New(store Store, opts ...Option) *Ledger {
	l := &Ledger{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *Ledger) Store() Store {
	return l.store
}

// AppendBase stores rec as the base record for its decision identity. If a
// base already exists it is returned unchanged with appended=false.
//
// An empty ts_utc is stamped from the ledger clock inside the append
// section. A ts_utc earlier than the chain tail is raised to the tail's, so
// ts_utc never decreases along seq.
func (l *Ledger) AppendBase(ctx context.Context, rec Record) (Record, bool, error) {
	if err := validateBase(rec); err != nil {
		return Record{}, false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var (
		out      Record
		appended bool
	)
	err := l.store.WithTx(ctx, func(tx Tx) error {
		existing, ok, err := tx.GetBase(rec.DecisionID)
		if err != nil {
			return err
		}
		if ok {
			out = existing
			return nil
		}
		sealed, err := l.sealAndInsert(tx, rec)
		if err != nil {
			return err
		}
		out, appended = sealed, true
		return nil
	})
	if errors.Is(err, ErrDuplicateBase) {
		// Another process inserted the same identity between our read and insert.
		existing, ok, gerr := l.store.GetBase(ctx, rec.DecisionID)
		if gerr != nil {
			return Record{}, false, gerr
		}
		if ok {
			return existing, false, nil
		}
	}
	if err != nil {
		return Record{}, false, err
	}
	return out, appended, nil
}

// AppendOverride seals and stores an override record after guard accepts it.
func (l *Ledger) AppendOverride(ctx context.Context, rec Record, guard Guard) (Record, error) {
	if err := validateOverride(rec); err != nil {
		return Record{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var out Record
	err := l.store.WithTx(ctx, func(tx Tx) error {
		if guard != nil {
			if err := guard(tx); err != nil {
				return err
			}
		}
		sealed, err := l.sealAndInsert(tx, rec)
		if err != nil {
			return err
		}
		out = sealed
		return nil
	})
	if err != nil {
		return Record{}, err
	}
	return out, nil
}

func (l *Ledger) FetchActiveBase(ctx context.Context, decisionID string) (Record, bool, error) {
	return l.store.GetBase(ctx, decisionID)
}

func (l *Ledger) FindDuplicateOverride(ctx context.Context, decisionID string, verdict types.Verdict, reason string) (bool, error) {
	return l.store.HasOverride(ctx, decisionID, verdict, reason)
}

// Current returns the latest override for decisionID, or its base record
// when no override exists.
func (l *Ledger) Current(ctx context.Context, decisionID string) (Record, bool, error) {
	rec, ok, err := l.store.GetLatestOverride(ctx, decisionID)
	if err != nil || ok {
		return rec, ok, err
	}
	return l.store.GetBase(ctx, decisionID)
}

func (l *Ledger) Records(ctx context.Context, filter ListFilter) ([]Record, error) {
	return l.store.ListRecords(ctx, filter)
}

// Verify recomputes the full chain held by the store.
func (l *Ledger) Verify(ctx context.Context) (int, error) {
	records, err := l.store.ListRecords(ctx, ListFilter{})
	if err != nil {
		return 0, err
	}
	return VerifyChain(records, VerifyOptions{})
}

func (l *Ledger) Ping(ctx context.Context) error {
	return l.store.Ping(ctx)
}

func (l *Ledger) sealAndInsert(tx Tx, rec Record) (Record, error) {
	prev, tailTS, err := tx.Tail()
	if err != nil {
		return Record{}, err
	}
	if rec.TSUTC == "" {
		rec.TSUTC = FormatTimestamp(l.now())
	}
	if rec.TSUTC < tailTS {
		rec.TSUTC = tailTS
	}
	sealed, err := Seal(prev, rec)
	if err != nil {
		return Record{}, err
	}
	seq, err := tx.Insert(sealed)
	if err != nil {
		return Record{}, err
	}
	sealed.Seq = seq
	return sealed, nil
}

func validateCommon(rec Record) error {
	if rec.DecisionID == "" {
		return fmt.Errorf("%w: missing decision_id", ErrInvalidRecord)
	}
	if rec.TSUTC != "" {
		if _, err := time.Parse(TimestampLayout, rec.TSUTC); err != nil {
			return fmt.Errorf("%w: ts_utc %q is not %s", ErrInvalidRecord, rec.TSUTC, TimestampLayout)
		}
	}
	if !rec.Decision.Valid() {
		return fmt.Errorf("%w: unknown decision %q", ErrInvalidRecord, rec.Decision)
	}
	// encoding/csv reads a quoted CR LF back as LF, so a CR would not
	// survive an export.
	for name, v := range textColumns(rec) {
		if strings.ContainsRune(v, '\r') {
			return fmt.Errorf("%w: %s contains a carriage return", ErrInvalidRecord, name)
		}
	}
	return nil
}

func textColumns(rec Record) map[string]string {
	cols := map[string]string{
		"decision_id":     rec.DecisionID,
		"order_id":        rec.OrderID,
		"customer_id":     rec.CustomerID,
		"input_json":      rec.InputJSON,
		"thresholds_json": rec.ThresholdsJSON,
		"rule_version":    rec.RuleVersion,
		"data_version":    rec.DataVersion,
		"actor_sys":       rec.ActorSys,
	}
	if rec.ActorUX != nil {
		cols["actor_ux"] = *rec.ActorUX
	}
	if rec.OverrideReason != nil {
		cols["override_reason"] = *rec.OverrideReason
	}
	return cols
}

func validateBase(rec Record) error {
	if err := validateCommon(rec); err != nil {
		return err
	}
	if rec.Overridden || rec.OverrideReason != nil || rec.SecondApproval {
		return fmt.Errorf("%w: base record carries override fields", ErrInvalidRecord)
	}
	return nil
}

func validateOverride(rec Record) error {
	if err := validateCommon(rec); err != nil {
		return err
	}
	if !rec.Overridden {
		return fmt.Errorf("%w: override record not flagged overridden", ErrInvalidRecord)
	}
	if rec.OverrideReason == nil || *rec.OverrideReason == "" {
		return fmt.Errorf("%w: override record missing reason", ErrInvalidRecord)
	}
	if rec.ActorUX == nil || *rec.ActorUX == "" {
		return fmt.Errorf("%w: override record missing actor", ErrInvalidRecord)
	}
	return nil
}
